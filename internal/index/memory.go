package index

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store used by tests.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]Document
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]Document)}
}

// Upsert replaces the stored projection.
func (s *MemoryStore) Upsert(_ context.Context, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc
	return nil
}

// Delete removes the projection.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	return nil
}

// Get returns the stored projection, if any.
func (s *MemoryStore) Get(id string) (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	return doc, ok
}

// Search applies the same filter semantics as PGStore over the in-memory map.
func (s *MemoryStore) Search(_ context.Context, q Query) (Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	size := normalizePageSize(q.PageSize)
	cursorAt, cursorID, err := decodeCursor(q.Cursor)
	if err != nil {
		return Page{}, err
	}

	var matches []Document
	for _, doc := range s.docs {
		if !s.matches(doc, q) {
			continue
		}
		matches = append(matches, doc)
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].UpdatedAt.Equal(matches[j].UpdatedAt) {
			return matches[i].UpdatedAt.After(matches[j].UpdatedAt)
		}
		return matches[i].ID > matches[j].ID
	})

	var page Page
	for _, doc := range matches {
		if !cursorAt.IsZero() {
			if doc.UpdatedAt.After(cursorAt) || (doc.UpdatedAt.Equal(cursorAt) && doc.ID >= cursorID) {
				continue
			}
		}
		page.Documents = append(page.Documents, doc)
		if len(page.Documents) > size {
			break
		}
	}
	if len(page.Documents) > size {
		page.Documents = page.Documents[:size]
		last := page.Documents[len(page.Documents)-1]
		page.NextCursor = encodeCursor(last.UpdatedAt, last.ID)
	}
	page.Total = len(page.Documents)
	return page, nil
}

func (s *MemoryStore) matches(doc Document, q Query) bool {
	if q.Siret != "" && !contains(doc.Sirets, q.Siret) {
		return false
	}
	if q.Tab != "" && q.Siret != "" && !contains(doc.Tabs[q.Tab], q.Siret) {
		return false
	}
	if len(q.Types) > 0 {
		found := false
		for _, t := range q.Types {
			if doc.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.Text != "" && !strings.Contains(searchText(doc), Fold(q.Text)) {
		return false
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
