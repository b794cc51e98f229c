// Package cascade coordinates cross-document ripple effects. Closing one
// document can close its parents, whose own parents may close in turn; the
// walker guarantees each document is visited once even when chains share
// ancestors or loop.
package cascade

// Walker is a breadth-first worklist with a visited set.
type Walker struct {
	visited map[string]bool
	queue   []string
}

// NewWalker seeds the worklist.
func NewWalker(seed ...string) *Walker {
	w := &Walker{visited: make(map[string]bool)}
	for _, id := range seed {
		w.Enqueue(id)
	}
	return w
}

// Enqueue schedules a document unless it was already visited or scheduled.
func (w *Walker) Enqueue(id string) {
	if id == "" || w.visited[id] {
		return
	}
	w.visited[id] = true
	w.queue = append(w.queue, id)
}

// Next pops the next document to visit.
func (w *Walker) Next() (string, bool) {
	if len(w.queue) == 0 {
		return "", false
	}
	id := w.queue[0]
	w.queue = w.queue[1:]
	return id, true
}

// Visited reports whether the document was already scheduled.
func (w *Walker) Visited(id string) bool {
	return w.visited[id]
}
