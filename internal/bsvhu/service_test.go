package bsvhu

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wastetrack/wastetrack/internal/bsd"
	"github.com/wastetrack/wastetrack/internal/events"
	"github.com/wastetrack/wastetrack/internal/shared"
)

const (
	emitterSiret     = "11111111111111"
	transporterSiret = "22222222222222"
	destinationSiret = "33333333333333"
)

type fakeRepo struct {
	mu     sync.Mutex
	docs   map[string]Bsvhu
	events []events.Event
}

func newFakeRepo() *fakeRepo { return &fakeRepo{docs: make(map[string]Bsvhu)} }

func (r *fakeRepo) Find(_ context.Context, id string) (Bsvhu, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.docs[id]
	if !ok || b.IsDeleted {
		return Bsvhu{}, shared.ErrNotFound
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

func (t *fakeTx) Find(ctx context.Context, id string) (Bsvhu, error) { return t.repo.Find(ctx, id) }

func (t *fakeTx) Create(_ context.Context, b Bsvhu) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	t.repo.docs[b.ID] = b
	return nil
}

func (t *fakeTx) Update(_ context.Context, b Bsvhu) error {
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

func (t *fakeTx) AfterCommit(fn func()) { t.after = append(t.after, fn) }

type fakeMembers struct{ sirets []string }

func (m *fakeMembers) ActsFor(_ context.Context, _ string, siret string) (bool, error) {
	for _, s := range m.sirets {
		if s == siret {
			return true, nil
		}
	}
	return false, nil
}

type nopReindexer struct{}

func (nopReindexer) Enqueue(context.Context, bsd.Type, string) error { return nil }

func newTestService(repo *fakeRepo) *Service {
	members := &fakeMembers{sirets: []string{emitterSiret, transporterSiret, destinationSiret}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, members, nopReindexer{}, logger)
}

func baseInput() CreateInput {
	return CreateInput{
		EmitterCompanyName:      "Casse Auto",
		EmitterCompanySiret:     emitterSiret,
		TransporterCompanyName:  "Remorquage Plus",
		TransporterCompanySiret: transporterSiret,
		DestinationCompanyName:  "Broyeur Agréé",
		DestinationCompanySiret: destinationSiret,
		WasteCode:               "16 01 04*",
		VehicleCount:            3,
		IdentType:               "NUMERO_ORDRE_REGISTRE_POLICE",
		IdentNumbers:            []string{"A1", "A2", "A3"},
	}
}

func TestLifecycle(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	b, err := svc.Create(ctx, "user-1", baseInput(), false)
	require.NoError(t, err)
	require.Equal(t, StatusInitial, b.Status)

	b, err = svc.Sign(ctx, "user-1", b.ID, SignInput{Step: SignEmission, Author: "Jane"})
	require.NoError(t, err)
	require.Equal(t, StatusSignedByProducer, b.Status)

	b, err = svc.Sign(ctx, "user-1", b.ID, SignInput{Step: SignTransport, Author: "Bob"})
	require.NoError(t, err)
	require.Equal(t, StatusSent, b.Status)

	b, err = svc.Sign(ctx, "user-1", b.ID, SignInput{
		Step: SignOperation, Author: "Eve",
		Acceptation: bsd.AcceptationAccepted, OperationCode: "R 4", Weight: 2.8,
	})
	require.NoError(t, err)
	require.Equal(t, StatusProcessed, b.Status)
}

func TestRefusalIsTerminal(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	b, err := svc.Create(ctx, "user-1", baseInput(), false)
	require.NoError(t, err)
	_, err = svc.Sign(ctx, "user-1", b.ID, SignInput{Step: SignEmission, Author: "Jane"})
	require.NoError(t, err)
	_, err = svc.Sign(ctx, "user-1", b.ID, SignInput{Step: SignTransport, Author: "Bob"})
	require.NoError(t, err)

	b, err = svc.Sign(ctx, "user-1", b.ID, SignInput{
		Step: SignOperation, Author: "Eve", Acceptation: bsd.AcceptationRefused,
	})
	require.NoError(t, err)
	require.Equal(t, StatusRefused, b.Status)

	_, err = svc.Sign(ctx, "user-1", b.ID, SignInput{Step: SignOperation, Author: "Eve"})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestIrregularSituationTransporterOpens(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	in := baseInput()
	in.EmitterIrregularSituation = true
	b, err := svc.Create(ctx, "user-1", in, false)
	require.NoError(t, err)

	_, err = svc.Sign(ctx, "user-1", b.ID, SignInput{Step: SignEmission, Author: "Jane"})
	require.ErrorIs(t, err, shared.ErrForbidden)

	b, err = svc.Sign(ctx, "user-1", b.ID, SignInput{Step: SignTransport, Author: "Bob"})
	require.NoError(t, err)
	require.Equal(t, StatusSent, b.Status)
}

func TestTabs(t *testing.T) {
	b := Bsvhu{
		Status:                  StatusSignedByProducer,
		EmitterCompanySiret:     emitterSiret,
		TransporterCompanySiret: transporterSiret,
		DestinationCompanySiret: destinationSiret,
	}
	tabs := SiretsByTab(&b)
	require.Contains(t, tabs[bsd.TabToCollect], transporterSiret)
	require.Contains(t, tabs[bsd.TabFollow], emitterSiret)

	b.Status = StatusSent
	tabs = SiretsByTab(&b)
	require.Contains(t, tabs[bsd.TabForAction], destinationSiret)
	require.Contains(t, tabs[bsd.TabCollected], transporterSiret)

	b.Status = StatusInitial
	b.EmitterIrregularSituation = true
	tabs = SiretsByTab(&b)
	require.Contains(t, tabs[bsd.TabToCollect], transporterSiret,
		"paper emission hands the opening move to the transporter")
}
