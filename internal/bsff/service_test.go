package bsff

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
	operatorSiret    = "11111111111111"
	transporterSiret = "22222222222222"
	ttrSiret         = "33333333333333"
	finalSiret       = "44444444444444"
	detenteurSiret   = "55555555555555"
)

type fakeRepo struct {
	mu         sync.Mutex
	docs       map[string]Bsff
	packagings map[string]Packaging
	events     []events.Event
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{docs: make(map[string]Bsff), packagings: make(map[string]Packaging)}
}

func (r *fakeRepo) findLocked(id string) (Bsff, error) {
	b, ok := r.docs[id]
	if !ok || b.IsDeleted {
		return Bsff{}, shared.ErrNotFound
	}
	b.Packagings = nil
	for _, p := range r.packagings {
		if p.BsffID == b.ID {
			b.Packagings = append(b.Packagings, p)
		}
	}
	return b, nil
}

func (r *fakeRepo) Find(_ context.Context, id string) (Bsff, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(id)
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

func (t *fakeTx) Find(_ context.Context, id string) (Bsff, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	return t.repo.findLocked(id)
}

func (t *fakeTx) Create(_ context.Context, b Bsff) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	for _, p := range b.Packagings {
		t.repo.packagings[p.ID] = p
	}
	b.Packagings = nil
	t.repo.docs[b.ID] = b
	return nil
}

func (t *fakeTx) Update(_ context.Context, b Bsff) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	if _, ok := t.repo.docs[b.ID]; !ok {
		return shared.ErrNotFound
	}
	b.Packagings = nil
	t.repo.docs[b.ID] = b
	return nil
}

func (t *fakeTx) FindPackaging(_ context.Context, id string) (Packaging, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	p, ok := t.repo.packagings[id]
	if !ok {
		return Packaging{}, shared.ErrNotFound
	}
	return p, nil
}

func (t *fakeTx) UpdatePackaging(_ context.Context, p Packaging) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	if _, ok := t.repo.packagings[p.ID]; !ok {
		return shared.ErrNotFound
	}
	t.repo.packagings[p.ID] = p
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

type fakeReindexer struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeReindexer) Enqueue(_ context.Context, _ bsd.Type, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	return nil
}

func newTestService(repo *fakeRepo) *Service {
	members := &fakeMembers{sirets: []string{operatorSiret, transporterSiret, ttrSiret, finalSiret}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, members, &fakeReindexer{}, logger)
}

func baseInput(destination string, packagings ...PackagingInput) CreateInput {
	if len(packagings) == 0 {
		packagings = []PackagingInput{{Numero: "B-1", Weight: 1}}
	}
	return CreateInput{
		EmitterCompanyName:      "Clim Services",
		EmitterCompanySiret:     operatorSiret,
		TransporterCompanyName:  "Frigo Express",
		TransporterCompanySiret: transporterSiret,
		DestinationCompanyName:  "Centre de Traitement",
		DestinationCompanySiret: destination,
		WasteCode:               "14 06 01*",
		WasteDescription:        "R410A",
		Packagings:              packagings,
	}
}

func receive(t *testing.T, svc *Service, id string) Bsff {
	t.Helper()
	ctx := context.Background()
	_, err := svc.Sign(ctx, "user-1", id, SignInput{Step: SignEmission, Author: "Jane"})
	require.NoError(t, err)
	_, err = svc.Sign(ctx, "user-1", id, SignInput{Step: SignTransport, Author: "Bob"})
	require.NoError(t, err)
	b, err := svc.Sign(ctx, "user-1", id, SignInput{Step: SignReception, Author: "Eve"})
	require.NoError(t, err)
	require.Equal(t, StatusReceived, b.Status)
	return b
}

func TestContainerVerdictsDriveStatus(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	b, err := svc.Create(ctx, "user-1", baseInput(finalSiret,
		PackagingInput{Numero: "B-1", Weight: 10},
		PackagingInput{Numero: "B-2", Weight: 5},
	), false)
	require.NoError(t, err)
	b = receive(t, svc, b.ID)

	b, err = svc.UpdatePackagingAcceptation(ctx, "user-1", b.ID, b.Packagings[0].ID, AcceptationInput{
		Author: "Eve", Acceptation: bsd.AcceptationAccepted, Weight: 9.8,
	})
	require.NoError(t, err)
	require.Equal(t, StatusReceived, b.Status, "one container still awaits its verdict")

	b, err = svc.UpdatePackagingAcceptation(ctx, "user-1", b.ID, b.Packagings[1].ID, AcceptationInput{
		Author: "Eve", Acceptation: bsd.AcceptationRefused, RefusalReason: "contaminated",
	})
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyRefused, b.Status)

	b, err = svc.UpdatePackagingOperation(ctx, "user-1", b.ID, b.Packagings[0].ID, OperationInput{
		Author: "Eve", OperationCode: "D 10",
	})
	require.NoError(t, err)
	require.Equal(t, StatusProcessed, b.Status, "the refused container does not block closure")
}

func TestAllContainersRefused(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	b, err := svc.Create(ctx, "user-1", baseInput(finalSiret), false)
	require.NoError(t, err)
	b = receive(t, svc, b.ID)

	b, err = svc.UpdatePackagingAcceptation(ctx, "user-1", b.ID, b.Packagings[0].ID, AcceptationInput{
		Author: "Eve", Acceptation: bsd.AcceptationRefused, RefusalReason: "leaking valve",
	})
	require.NoError(t, err)
	require.Equal(t, StatusRefused, b.Status)
}

func TestGroupingOperationParksIntermediate(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	b, err := svc.Create(ctx, "user-1", baseInput(ttrSiret), false)
	require.NoError(t, err)
	b = receive(t, svc, b.ID)

	b, err = svc.UpdatePackagingAcceptation(ctx, "user-1", b.ID, b.Packagings[0].ID, AcceptationInput{
		Author: "Eve", Acceptation: bsd.AcceptationAccepted, Weight: 1,
	})
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, b.Status)

	b, err = svc.UpdatePackagingOperation(ctx, "user-1", b.ID, b.Packagings[0].ID, OperationInput{
		Author: "Eve", OperationCode: "R 12",
	})
	require.NoError(t, err)
	require.Equal(t, StatusIntermediatelyProcessed, b.Status,
		"a regrouping code leaves the document open until the next one closes")
}

func TestOperationRequiresAcceptedContainer(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	b, err := svc.Create(ctx, "user-1", baseInput(finalSiret), false)
	require.NoError(t, err)
	b = receive(t, svc, b.ID)

	_, err = svc.UpdatePackagingOperation(ctx, "user-1", b.ID, b.Packagings[0].ID, OperationInput{
		Author: "Eve", OperationCode: "D 10",
	})
	require.ErrorIs(t, err, shared.ErrConflict)
}

// prepareIntermediate drives a document through reception, acceptance and a
// regrouping operation, returning it parked at INTERMEDIATELY_PROCESSED.
func prepareIntermediate(t *testing.T, svc *Service, destination string) Bsff {
	t.Helper()
	ctx := context.Background()
	b, err := svc.Create(ctx, "user-1", baseInput(destination), false)
	require.NoError(t, err)
	b = receive(t, svc, b.ID)
	b, err = svc.UpdatePackagingAcceptation(ctx, "user-1", b.ID, b.Packagings[0].ID, AcceptationInput{
		Author: "Eve", Acceptation: bsd.AcceptationAccepted, Weight: 1,
	})
	require.NoError(t, err)
	b, err = svc.UpdatePackagingOperation(ctx, "user-1", b.ID, b.Packagings[0].ID, OperationInput{
		Author: "Eve", OperationCode: "R 12",
	})
	require.NoError(t, err)
	require.Equal(t, StatusIntermediatelyProcessed, b.Status)
	return b
}

func TestFinalTreatmentSettlesAncestorChain(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	grandParent := prepareIntermediate(t, svc, ttrSiret)
	parent, err := svc.Create(ctx, "user-1", CreateInput{
		EmitterCompanyName:      "Premier TTR",
		EmitterCompanySiret:     ttrSiret,
		TransporterCompanySiret: transporterSiret,
		DestinationCompanySiret: ttrSiret,
		WasteCode:               "14 06 01*",
		Packagings: []PackagingInput{{
			Numero: "C-1", Weight: 1,
			PreviousPackagingIDs: []string{grandParent.Packagings[0].ID},
		}},
	}, false)
	require.NoError(t, err)
	parent = receive(t, svc, parent.ID)
	parent, err = svc.UpdatePackagingAcceptation(ctx, "user-1", parent.ID, parent.Packagings[0].ID, AcceptationInput{
		Author: "Eve", Acceptation: bsd.AcceptationAccepted, Weight: 1,
	})
	require.NoError(t, err)
	parent, err = svc.UpdatePackagingOperation(ctx, "user-1", parent.ID, parent.Packagings[0].ID, OperationInput{
		Author: "Eve", OperationCode: "R 12",
	})
	require.NoError(t, err)
	require.Equal(t, StatusIntermediatelyProcessed, parent.Status)

	child, err := svc.Create(ctx, "user-1", CreateInput{
		EmitterCompanyName:      "Second TTR",
		EmitterCompanySiret:     ttrSiret,
		TransporterCompanySiret: transporterSiret,
		DestinationCompanySiret: finalSiret,
		WasteCode:               "14 06 01*",
		Packagings: []PackagingInput{{
			Numero: "D-1", Weight: 1,
			PreviousPackagingIDs: []string{parent.Packagings[0].ID},
		}},
	}, false)
	require.NoError(t, err)
	child = receive(t, svc, child.ID)
	child, err = svc.UpdatePackagingAcceptation(ctx, "user-1", child.ID, child.Packagings[0].ID, AcceptationInput{
		Author: "Eve", Acceptation: bsd.AcceptationAccepted, Weight: 1,
	})
	require.NoError(t, err)
	child, err = svc.UpdatePackagingOperation(ctx, "user-1", child.ID, child.Packagings[0].ID, OperationInput{
		Author: "Eve", OperationCode: "D 10",
	})
	require.NoError(t, err)
	require.Equal(t, StatusProcessed, child.Status)

	parent, err = svc.Get(ctx, "user-1", parent.ID)
	require.NoError(t, err)
	require.Equal(t, StatusProcessed, parent.Status, "the final treatment ripples one level up")

	grandParent, err = svc.Get(ctx, "user-1", grandParent.ID)
	require.NoError(t, err)
	require.Equal(t, StatusProcessed, grandParent.Status, "and keeps rippling to the origin")
	require.True(t, grandParent.Packagings[0].NextSettled)
}

func TestRefusalRipplesUpAncestorChain(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	grandParent := prepareIntermediate(t, svc, ttrSiret)
	parent, err := svc.Create(ctx, "user-1", CreateInput{
		EmitterCompanyName:      "Premier TTR",
		EmitterCompanySiret:     ttrSiret,
		TransporterCompanySiret: transporterSiret,
		DestinationCompanySiret: ttrSiret,
		WasteCode:               "14 06 01*",
		Packagings: []PackagingInput{{
			Numero: "C-1", Weight: 1,
			PreviousPackagingIDs: []string{grandParent.Packagings[0].ID},
		}},
	}, false)
	require.NoError(t, err)
	parent = receive(t, svc, parent.ID)
	parent, err = svc.UpdatePackagingAcceptation(ctx, "user-1", parent.ID, parent.Packagings[0].ID, AcceptationInput{
		Author: "Eve", Acceptation: bsd.AcceptationAccepted, Weight: 1,
	})
	require.NoError(t, err)
	parent, err = svc.UpdatePackagingOperation(ctx, "user-1", parent.ID, parent.Packagings[0].ID, OperationInput{
		Author: "Eve", OperationCode: "R 12",
	})
	require.NoError(t, err)
	require.Equal(t, StatusIntermediatelyProcessed, parent.Status)

	child, err := svc.Create(ctx, "user-1", CreateInput{
		EmitterCompanyName:      "Second TTR",
		EmitterCompanySiret:     ttrSiret,
		TransporterCompanySiret: transporterSiret,
		DestinationCompanySiret: finalSiret,
		WasteCode:               "14 06 01*",
		Packagings: []PackagingInput{{
			Numero: "D-1", Weight: 1,
			PreviousPackagingIDs: []string{parent.Packagings[0].ID},
		}},
	}, false)
	require.NoError(t, err)
	child = receive(t, svc, child.ID)
	child, err = svc.UpdatePackagingAcceptation(ctx, "user-1", child.ID, child.Packagings[0].ID, AcceptationInput{
		Author: "Eve", Acceptation: bsd.AcceptationRefused, RefusalReason: "unknown fluid",
	})
	require.NoError(t, err)
	require.Equal(t, StatusRefused, child.Status)

	parent, err = svc.Get(ctx, "user-1", parent.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRefused, parent.Status, "the refusal ripples one level up")

	grandParent, err = svc.Get(ctx, "user-1", grandParent.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRefused, grandParent.Status, "and keeps rippling to the origin")
	require.True(t, grandParent.Packagings[0].NextSettled)
}

func TestRegroupingRequiresTreatedContainers(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	origin, err := svc.Create(ctx, "user-1", baseInput(ttrSiret), false)
	require.NoError(t, err)
	origin = receive(t, svc, origin.ID)

	_, err = svc.Create(ctx, "user-1", CreateInput{
		EmitterCompanySiret:     ttrSiret,
		DestinationCompanySiret: finalSiret,
		Packagings: []PackagingInput{{
			Numero: "C-1", Weight: 1,
			PreviousPackagingIDs: []string{origin.Packagings[0].ID},
		}},
	}, false)
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestContainerCannotMoveIntoTwoDocuments(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	origin := prepareIntermediate(t, svc, ttrSiret)
	next := CreateInput{
		EmitterCompanySiret:     ttrSiret,
		DestinationCompanySiret: finalSiret,
		Packagings: []PackagingInput{{
			Numero: "C-1", Weight: 1,
			PreviousPackagingIDs: []string{origin.Packagings[0].ID},
		}},
	}
	_, err := svc.Create(ctx, "user-1", next, false)
	require.NoError(t, err)

	next.Packagings[0].Numero = "C-2"
	_, err = svc.Create(ctx, "user-1", next, false)
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestDraftCannotBeSigned(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	b, err := svc.Create(ctx, "user-1", baseInput(finalSiret), true)
	require.NoError(t, err)

	_, err = svc.Sign(ctx, "user-1", b.ID, SignInput{Step: SignEmission, Author: "Jane"})
	require.ErrorIs(t, err, shared.ErrConflict)

	b, err = svc.Publish(ctx, "user-1", b.ID)
	require.NoError(t, err)
	require.False(t, b.IsDraft)

	_, err = svc.Sign(ctx, "user-1", b.ID, SignInput{Step: SignEmission, Author: "Jane"})
	require.NoError(t, err)
}

func TestDetenteursFollowOnly(t *testing.T) {
	b := Bsff{
		Status:                  StatusSent,
		EmitterCompanySiret:     operatorSiret,
		TransporterCompanySiret: transporterSiret,
		DestinationCompanySiret: finalSiret,
		FicheInterventions: []FicheIntervention{
			{Numero: "FI-1", DetenteurSiret: detenteurSiret},
		},
	}
	tabs := SiretsByTab(&b)
	require.Contains(t, tabs[bsd.TabForAction], finalSiret)
	require.Contains(t, tabs[bsd.TabCollected], transporterSiret)
	require.Contains(t, tabs[bsd.TabFollow], detenteurSiret)

	b.Status = StatusProcessed
	tabs = SiretsByTab(&b)
	require.Contains(t, tabs[bsd.TabArchived], detenteurSiret)
}
