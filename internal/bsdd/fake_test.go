package bsdd

import (
	"context"
	"sort"
	"sync"

	"github.com/wastetrack/wastetrack/internal/bsd"
	"github.com/wastetrack/wastetrack/internal/events"
	"github.com/wastetrack/wastetrack/internal/shared"
)

// fakeRepo is an in-memory RepositoryPort used by the service tests.
type fakeRepo struct {
	mu       sync.Mutex
	forms    map[string]Form
	segments map[string]TransportSegment
	grouping map[string][]GroupingLink
	events   []events.Event
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		forms:    make(map[string]Form),
		segments: make(map[string]TransportSegment),
		grouping: make(map[string][]GroupingLink),
	}
}

func (r *fakeRepo) put(f Form) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forms[f.ID] = f
}

func (r *fakeRepo) get(id string) Form {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.forms[id]
}

func (r *fakeRepo) FindForm(ctx context.Context, id string) (Form, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(id)
}

func (r *fakeRepo) findLocked(id string) (Form, error) {
	f, ok := r.forms[id]
	if !ok {
		for _, candidate := range r.forms {
			if candidate.ReadableID == id {
				f, ok = candidate, true
				break
			}
		}
	}
	if !ok || f.IsDeleted {
		return Form{}, shared.ErrNotFound
	}
	f.Segments = nil
	for _, seg := range r.segments {
		if seg.FormID == f.ID {
			f.Segments = append(f.Segments, seg)
		}
	}
	sort.Slice(f.Segments, func(i, j int) bool { return f.Segments[i].SegmentNumber < f.Segments[j].SegmentNumber })
	f.Grouping = append([]GroupingLink(nil), r.grouping[f.ID]...)
	if f.ForwardedInID != "" {
		if suite, ok := r.forms[f.ForwardedInID]; ok && !suite.IsDeleted {
			f.ForwardedIn = &suite
		}
	}
	return f, nil
}

func (r *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &fakeTx{repo: r}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for _, cb := range tx.after {
		cb()
	}
	return nil
}

type fakeTx struct {
	repo  *fakeRepo
	after []func()
}

func (t *fakeTx) FindForm(ctx context.Context, id string) (Form, error) {
	return t.repo.FindForm(ctx, id)
}

func (t *fakeTx) CreateForm(_ context.Context, f Form) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	if len(f.Grouping) > 0 {
		t.repo.grouping[f.ID] = append([]GroupingLink(nil), f.Grouping...)
	}
	f.Segments, f.Grouping, f.ForwardedIn = nil, nil, nil
	t.repo.forms[f.ID] = f
	return nil
}

func (t *fakeTx) UpdateForm(_ context.Context, f Form) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	if _, ok := t.repo.forms[f.ID]; !ok {
		return shared.ErrNotFound
	}
	f.Segments, f.Grouping, f.ForwardedIn = nil, nil, nil
	t.repo.forms[f.ID] = f
	return nil
}

func (t *fakeTx) AppendEvent(_ context.Context, evt events.Event) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	t.repo.events = append(t.repo.events, evt)
	return nil
}

func (t *fakeTx) AllocatedQuantity(_ context.Context, parentID, excludeChildID string) (float64, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	var total float64
	for childID, links := range t.repo.grouping {
		if childID == excludeChildID {
			continue
		}
		for _, link := range links {
			if link.ParentID == parentID {
				total += link.Quantity
			}
		}
	}
	return total, nil
}

func (t *fakeTx) SetGrouping(_ context.Context, childID string, links []GroupingLink) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	if len(links) == 0 {
		delete(t.repo.grouping, childID)
		return nil
	}
	t.repo.grouping[childID] = append([]GroupingLink(nil), links...)
	return nil
}

func (t *fakeTx) RemoveGrouping(_ context.Context, childID string) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	delete(t.repo.grouping, childID)
	return nil
}

func (t *fakeTx) FindGroupingParents(_ context.Context, childID string) ([]Form, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	var parents []Form
	for _, link := range t.repo.grouping[childID] {
		if parent, err := t.repo.findLocked(link.ParentID); err == nil {
			parents = append(parents, parent)
		}
	}
	return parents, nil
}

func (t *fakeTx) CreateSegment(_ context.Context, seg TransportSegment) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	t.repo.segments[seg.ID] = seg
	return nil
}

func (t *fakeTx) UpdateSegment(_ context.Context, seg TransportSegment) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	if _, ok := t.repo.segments[seg.ID]; !ok {
		return shared.ErrNotFound
	}
	t.repo.segments[seg.ID] = seg
	return nil
}

func (t *fakeTx) FindSegment(_ context.Context, id string) (TransportSegment, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	seg, ok := t.repo.segments[id]
	if !ok {
		return TransportSegment{}, shared.ErrNotFound
	}
	return seg, nil
}

func (t *fakeTx) DeleteStaleSegments(_ context.Context, formID string) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	for id, seg := range t.repo.segments {
		if seg.FormID == formID && seg.TakenOverAt.IsZero() {
			delete(t.repo.segments, id)
		}
	}
	return nil
}

func (t *fakeTx) AfterCommit(fn func()) {
	t.after = append(t.after, fn)
}

// fakeMembers grants the SIRETs listed per user.
type fakeMembers struct {
	sirets map[string][]string
}

func (m *fakeMembers) ActsFor(_ context.Context, userID, siret string) (bool, error) {
	for _, s := range m.sirets[userID] {
		if s == siret {
			return true, nil
		}
	}
	return false, nil
}

// fakeReindexer records scheduled projection refreshes.
type fakeReindexer struct {
	mu  sync.Mutex
	ids []string
}

func (r *fakeReindexer) Enqueue(_ context.Context, _ bsd.Type, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}
