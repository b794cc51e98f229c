package bsda

import (
	"context"
	"sync"

	"github.com/wastetrack/wastetrack/internal/bsd"
	"github.com/wastetrack/wastetrack/internal/events"
	"github.com/wastetrack/wastetrack/internal/shared"
)

type fakeRepo struct {
	mu     sync.Mutex
	docs   map[string]Bsda
	events []events.Event
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{docs: make(map[string]Bsda)}
}

func (r *fakeRepo) put(b Bsda) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[b.ID] = b
}

func (r *fakeRepo) get(id string) Bsda {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.docs[id]
}

func (r *fakeRepo) Find(_ context.Context, id string) (Bsda, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.docs[id]
	if !ok || b.IsDeleted {
		return Bsda{}, shared.ErrNotFound
	}
	return b, nil
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

func (t *fakeTx) Find(ctx context.Context, id string) (Bsda, error) {
	return t.repo.Find(ctx, id)
}

func (t *fakeTx) Create(_ context.Context, b Bsda) error {
	t.repo.put(b)
	return nil
}

func (t *fakeTx) Update(_ context.Context, b Bsda) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	if _, ok := t.repo.docs[b.ID]; !ok {
		return shared.ErrNotFound
	}
	t.repo.docs[b.ID] = b
	return nil
}

func (t *fakeTx) AppendEvent(_ context.Context, evt events.Event) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	t.repo.events = append(t.repo.events, evt)
	return nil
}

func (t *fakeTx) AfterCommit(fn func()) {
	t.after = append(t.after, fn)
}

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
