package revision

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wastetrack/wastetrack/internal/bsd"
	"github.com/wastetrack/wastetrack/internal/events"
	"github.com/wastetrack/wastetrack/internal/shared"
)

const (
	producerSiret    = "11111111111111"
	transporterSiret = "22222222222222"
	recipientSiret   = "33333333333333"
)

type docKey struct {
	t  bsd.Type
	id string
}

type fakeRepo struct {
	mu        sync.Mutex
	revisions map[string]Revision
	docs      map[docKey]Document
	events    []events.Event
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{revisions: make(map[string]Revision), docs: make(map[docKey]Document)}
}

func (r *fakeRepo) putDoc(doc Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[docKey{doc.Type, doc.ID}] = doc
}

func (r *fakeRepo) doc(t bsd.Type, id string) Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.docs[docKey{t, id}]
}

func (r *fakeRepo) eventTypes(streamID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, evt := range r.events {
		if evt.StreamID == streamID {
			out = append(out, evt.Type)
		}
	}
	return out
}

func (r *fakeRepo) Find(_ context.Context, id string) (Revision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rev, ok := r.revisions[id]
	if !ok {
		return Revision{}, shared.ErrNotFound
	}
	return rev, nil
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

func (t *fakeTx) Find(ctx context.Context, id string) (Revision, error) { return t.repo.Find(ctx, id) }

func (t *fakeTx) Create(_ context.Context, rev Revision) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	t.repo.revisions[rev.ID] = rev
	return nil
}

func (t *fakeTx) Update(_ context.Context, rev Revision) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	if _, ok := t.repo.revisions[rev.ID]; !ok {
		return shared.ErrNotFound
	}
	t.repo.revisions[rev.ID] = rev
	return nil
}

func (t *fakeTx) HasPending(_ context.Context, bt bsd.Type, bsdID string) (bool, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	for _, rev := range t.repo.revisions {
		if rev.BsdType == bt && rev.BsdID == bsdID && rev.Status == StatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (t *fakeTx) FindDocument(_ context.Context, bt bsd.Type, id string) (Document, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	doc, ok := t.repo.docs[docKey{bt, id}]
	if !ok {
		return Document{}, shared.ErrNotFound
	}
	copied := make(map[string]any, len(doc.Data))
	for k, v := range doc.Data {
		copied[k] = v
	}
	doc.Data = copied
	return doc, nil
}

func (t *fakeTx) UpdateDocument(_ context.Context, doc Document) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	key := docKey{doc.Type, doc.ID}
	if _, ok := t.repo.docs[key]; !ok {
		return shared.ErrNotFound
	}
	doc.Data["status"] = string(doc.Status)
	t.repo.docs[key] = doc
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

func newTestService(repo *fakeRepo) (*Service, *fakeReindexer) {
	members := &fakeMembers{sirets: []string{producerSiret, transporterSiret, recipientSiret}}
	reindex := &fakeReindexer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, members, reindex, DefaultAdapters(), logger), reindex
}

func processedForm(id string) Document {
	return Document{
		Type:   bsd.TypeBSDD,
		ID:     id,
		Status: "PROCESSED",
		Data: map[string]any{
			"id":                      id,
			"status":                  "PROCESSED",
			"emitterCompanySiret":     producerSiret,
			"transporterCompanySiret": transporterSiret,
			"recipientCompanySiret":   recipientSiret,
			"emittedAt":               time.Now().UTC().Format(time.RFC3339Nano),
			"wasteDetailsCode":        "06 01 01*",
			"processingOperationDone": "D 10",
		},
	}
}

func createRequest(t *testing.T, svc *Service, content Diff) Revision {
	t.Helper()
	rev, err := svc.Create(context.Background(), "user-1", CreateInput{
		BsdType:     bsd.TypeBSDD,
		BsdID:       "BSD-1",
		AuthorSiret: producerSiret,
		Comment:     "wrong waste code on the paper form",
		Content:     content,
	})
	require.NoError(t, err)
	return rev
}

func TestUnanimousAcceptanceAppliesDiff(t *testing.T) {
	repo := newFakeRepo()
	svc, reindex := newTestService(repo)
	ctx := context.Background()
	repo.putDoc(processedForm("BSD-1"))

	rev := createRequest(t, svc, Diff{"wasteDetailsCode": "06 01 02*"})
	require.Equal(t, StatusPending, rev.Status)
	require.Len(t, rev.Approvals, 2)

	rev, err := svc.Accept(ctx, "user-2", rev.ID, transporterSiret)
	require.NoError(t, err)
	require.Equal(t, StatusPending, rev.Status, "one vote is not unanimity")
	require.Equal(t, "06 01 01*", repo.doc(bsd.TypeBSDD, "BSD-1").Data["wasteDetailsCode"])

	rev, err = svc.Accept(ctx, "user-3", rev.ID, recipientSiret)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, rev.Status)
	require.Equal(t, "06 01 02*", repo.doc(bsd.TypeBSDD, "BSD-1").Data["wasteDetailsCode"])
	require.Contains(t, repo.eventTypes("BSD-1"), "RevisionApplied")
	require.Contains(t, reindex.ids, "BSD-1")
}

func TestRefusalSettlesRequest(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	repo.putDoc(processedForm("BSD-1"))

	rev := createRequest(t, svc, Diff{"wasteDetailsCode": "06 01 02*"})

	rev, err := svc.Accept(ctx, "user-2", rev.ID, transporterSiret)
	require.NoError(t, err)

	rev, err = svc.Refuse(ctx, "user-3", rev.ID, recipientSiret)
	require.NoError(t, err)
	require.Equal(t, StatusRefused, rev.Status)
	require.Equal(t, StatusAccepted, rev.approval(transporterSiret).Status,
		"a settled vote is not reverted by another actor's refusal")
	require.Equal(t, StatusRefused, rev.approval(recipientSiret).Status)
	require.Equal(t, "06 01 01*", repo.doc(bsd.TypeBSDD, "BSD-1").Data["wasteDetailsCode"])
	require.NotContains(t, repo.eventTypes("BSD-1"), "RevisionApplied")

	_, err = svc.Accept(ctx, "user-2", rev.ID, transporterSiret)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestRefusalCancelsRemainingApprovals(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	repo.putDoc(processedForm("BSD-1"))

	rev := createRequest(t, svc, Diff{"quantityReceived": 12.5})

	rev, err := svc.Refuse(ctx, "user-2", rev.ID, transporterSiret)
	require.NoError(t, err)
	require.Equal(t, StatusRefused, rev.Status)
	require.Equal(t, StatusCanceled, rev.approval(recipientSiret).Status)
}

func TestOperationCodeRevisionReopensProcessed(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	repo.putDoc(processedForm("BSD-1"))

	rev := createRequest(t, svc, Diff{"processingOperationDone": "R 12"})
	rev, err := svc.Accept(ctx, "user-2", rev.ID, transporterSiret)
	require.NoError(t, err)
	_, err = svc.Accept(ctx, "user-3", rev.ID, recipientSiret)
	require.NoError(t, err)

	require.Equal(t, bsd.Status("AWAITING_GROUP"), repo.doc(bsd.TypeBSDD, "BSD-1").Status,
		"a regrouping code reopens a processed document")
}

func TestNoTraceabilityExemptionOnReopen(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	repo.putDoc(processedForm("BSD-1"))

	rev := createRequest(t, svc, Diff{"processingOperationDone": "D 13", "noTraceability": true})
	_, err := svc.Accept(ctx, "user-2", rev.ID, transporterSiret)
	require.NoError(t, err)
	_, err = svc.Accept(ctx, "user-3", rev.ID, recipientSiret)
	require.NoError(t, err)

	require.Equal(t, bsd.Status("NO_TRACEABILITY"), repo.doc(bsd.TypeBSDD, "BSD-1").Status)
}

func TestFinalCodeClosesParkedDocument(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	doc := processedForm("BSD-1")
	doc.Status = "AWAITING_GROUP"
	doc.Data["status"] = "AWAITING_GROUP"
	doc.Data["processingOperationDone"] = "D 13"
	repo.putDoc(doc)

	rev := createRequest(t, svc, Diff{"processingOperationDone": "D 10"})
	_, err := svc.Accept(ctx, "user-2", rev.ID, transporterSiret)
	require.NoError(t, err)
	_, err = svc.Accept(ctx, "user-3", rev.ID, recipientSiret)
	require.NoError(t, err)

	require.Equal(t, bsd.Status("PROCESSED"), repo.doc(bsd.TypeBSDD, "BSD-1").Status)
}

func TestOperationCodeReversalRoundTrip(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	repo.putDoc(processedForm("BSD-1"))

	approveAll := func(rev Revision) {
		t.Helper()
		_, err := svc.Accept(ctx, "user-2", rev.ID, transporterSiret)
		require.NoError(t, err)
		_, err = svc.Accept(ctx, "user-3", rev.ID, recipientSiret)
		require.NoError(t, err)
	}

	approveAll(createRequest(t, svc, Diff{"processingOperationDone": "R 12"}))
	require.Equal(t, bsd.Status("AWAITING_GROUP"), repo.doc(bsd.TypeBSDD, "BSD-1").Status)

	approveAll(createRequest(t, svc, Diff{"processingOperationDone": "D 10"}))
	require.Equal(t, bsd.Status("PROCESSED"), repo.doc(bsd.TypeBSDD, "BSD-1").Status,
		"a final code closes the document again")

	approveAll(createRequest(t, svc, Diff{"processingOperationDone": "R 13"}))
	require.Equal(t, bsd.Status("AWAITING_GROUP"), repo.doc(bsd.TypeBSDD, "BSD-1").Status,
		"successive corrections keep flipping the status with the latest code")
}

func TestSinglePendingRevisionPerDocument(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	repo.putDoc(processedForm("BSD-1"))

	createRequest(t, svc, Diff{"wasteDetailsCode": "06 01 02*"})
	_, err := svc.Create(context.Background(), "user-1", CreateInput{
		BsdType:     bsd.TypeBSDD,
		BsdID:       "BSD-1",
		AuthorSiret: transporterSiret,
		Comment:     "quantity typo",
		Content:     Diff{"quantityReceived": 3.2},
	})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestUnsignedDocumentCannotBeRevised(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	doc := processedForm("BSD-1")
	doc.Status = "SEALED"
	doc.Data["status"] = "SEALED"
	delete(doc.Data, "emittedAt")
	repo.putDoc(doc)

	_, err := svc.Create(context.Background(), "user-1", CreateInput{
		BsdType:     bsd.TypeBSDD,
		BsdID:       "BSD-1",
		AuthorSiret: producerSiret,
		Comment:     "early fix",
		Content:     Diff{"wasteDetailsCode": "06 01 02*"},
	})
	require.ErrorIs(t, err, shared.ErrConflict, "an unsigned document is edited directly")
}

func TestNonRevisableFieldRejected(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	repo.putDoc(processedForm("BSD-1"))

	_, err := svc.Create(context.Background(), "user-1", CreateInput{
		BsdType:     bsd.TypeBSDD,
		BsdID:       "BSD-1",
		AuthorSiret: producerSiret,
		Comment:     "swap the recipient",
		Content:     Diff{"recipientCompanySiret": "99999999999999"},
	})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestAuthorAloneAppliesImmediately(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	doc := processedForm("BSD-1")
	doc.Data["transporterCompanySiret"] = producerSiret
	doc.Data["recipientCompanySiret"] = producerSiret
	repo.putDoc(doc)

	rev := createRequest(t, svc, Diff{"wasteDetailsCode": "06 01 02*"})
	require.Equal(t, StatusAccepted, rev.Status)
	require.Equal(t, "06 01 02*", repo.doc(bsd.TypeBSDD, "BSD-1").Data["wasteDetailsCode"])
}

func TestCancelOnlyBeforeVotes(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	repo.putDoc(processedForm("BSD-1"))

	rev := createRequest(t, svc, Diff{"wasteDetailsCode": "06 01 02*"})
	rev, err := svc.Cancel(ctx, "user-1", rev.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCanceled, rev.Status)

	rev = createRequest(t, svc, Diff{"wasteDetailsCode": "06 01 02*"})
	_, err = svc.Accept(ctx, "user-2", rev.ID, transporterSiret)
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, "user-1", rev.ID)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestOutsiderCannotVote(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	repo.putDoc(processedForm("BSD-1"))

	rev := createRequest(t, svc, Diff{"wasteDetailsCode": "06 01 02*"})
	_, err := svc.Accept(context.Background(), "user-9", rev.ID, "99999999999999")
	require.ErrorIs(t, err, shared.ErrForbidden)
}
