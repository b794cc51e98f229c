package revision

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/wastetrack/wastetrack/internal/bsd"
	"github.com/wastetrack/wastetrack/internal/events"
	"github.com/wastetrack/wastetrack/internal/shared"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// RepositoryPort describes the persistence operations the service relies on.
type RepositoryPort interface {
	Find(ctx context.Context, id string) (Revision, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository spans the revision rows and the live documents so the final
// approval applies the diff in the same transaction as the vote.
type TxRepository interface {
	Find(ctx context.Context, id string) (Revision, error)
	Create(ctx context.Context, r Revision) error
	Update(ctx context.Context, r Revision) error
	HasPending(ctx context.Context, t bsd.Type, bsdID string) (bool, error)
	FindDocument(ctx context.Context, t bsd.Type, id string) (Document, error)
	UpdateDocument(ctx context.Context, doc Document) error
	AppendEvent(ctx context.Context, evt events.Event) error
	AfterCommit(fn func())
}

// Memberships answers "may this user act for this SIRET".
type Memberships interface {
	ActsFor(ctx context.Context, userID, siret string) (bool, error)
}

// Reindexer schedules the dashboard projection refresh for a document.
type Reindexer interface {
	Enqueue(ctx context.Context, t bsd.Type, id string) error
}

// Service carries the revision use cases.
type Service struct {
	repo     RepositoryPort
	members  Memberships
	reindex  Reindexer
	adapters map[bsd.Type]DocumentAdapter
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, members Memberships, reindex Reindexer, adapters map[bsd.Type]DocumentAdapter, logger *slog.Logger) *Service {
	return &Service{repo: repo, members: members, reindex: reindex, adapters: adapters, logger: logger, now: time.Now}
}

// CreateInput opens a revision request.
type CreateInput struct {
	BsdType     bsd.Type `json:"bsdType" validate:"required"`
	BsdID       string   `json:"bsdId" validate:"required"`
	AuthorSiret string   `json:"authoringCompanySiret" validate:"required,len=14,numeric"`
	Comment     string   `json:"comment" validate:"required"`
	Content     Diff     `json:"content" validate:"required"`
}

// Get returns one revision request.
func (s *Service) Get(ctx context.Context, id string) (Revision, error) {
	return s.repo.Find(ctx, id)
}

// Create opens a revision request against a signed document. The approver
// set is the document's distinct actor SIRETs minus the authoring company;
// when that set is empty the diff applies immediately.
func (s *Service) Create(ctx context.Context, userID string, input CreateInput) (Revision, error) {
	if err := validateInput(input); err != nil {
		return Revision{}, err
	}
	adapter, ok := s.adapters[input.BsdType]
	if !ok {
		return Revision{}, shared.NewValidationError("document type " + string(input.BsdType) + " does not support revisions")
	}
	if len(input.Content) == 0 {
		return Revision{}, shared.NewValidationError("revision content is empty")
	}
	var bad []string
	for key := range input.Content {
		if !adapter.RevisableFields[key] {
			bad = append(bad, "field "+key+" is not revisable")
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return Revision{}, shared.NewValidationError(bad...)
	}
	if err := s.actsFor(ctx, userID, input.AuthorSiret); err != nil {
		return Revision{}, err
	}

	var out Revision
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.FindDocument(ctx, input.BsdType, input.BsdID)
		if err != nil {
			return err
		}
		if doc.Status == "REFUSED" {
			return shared.Conflictf("a refused document cannot be revised")
		}
		if !doc.HasBlockingSignature() {
			return shared.Conflictf("document %s has no signature yet, edit it directly", doc.ID)
		}
		pending, err := tx.HasPending(ctx, input.BsdType, doc.ID)
		if err != nil {
			return err
		}
		if pending {
			return shared.Conflictf("a revision is already pending on document %s", doc.ID)
		}

		actors := doc.ActorSirets()
		authorOnDocument := false
		var approvals []Approval
		for _, siret := range actors {
			if siret == input.AuthorSiret {
				authorOnDocument = true
				continue
			}
			approvals = append(approvals, Approval{Siret: siret, Status: StatusPending})
		}
		if !authorOnDocument {
			return shared.Forbiddenf("company %s is not an actor on document %s", input.AuthorSiret, doc.ID)
		}

		now := s.now()
		rev := Revision{
			ID:          uuid.NewString(),
			BsdType:     input.BsdType,
			BsdID:       doc.ID,
			AuthorSiret: input.AuthorSiret,
			Comment:     input.Comment,
			Content:     input.Content,
			Status:      StatusPending,
			Approvals:   approvals,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if len(approvals) == 0 {
			rev.Status = StatusAccepted
		}
		if err := tx.Create(ctx, rev); err != nil {
			return err
		}
		data := map[string]any{"revisionId": rev.ID, "authorSiret": rev.AuthorSiret}
		if err := tx.AppendEvent(ctx, events.New(doc.ID, userID, "RevisionRequested", data)); err != nil {
			return err
		}
		if rev.Status == StatusAccepted {
			if err := s.apply(ctx, tx, userID, &rev, adapter); err != nil {
				return err
			}
			if err := tx.Update(ctx, rev); err != nil {
				return err
			}
		}
		out = rev
		return nil
	})
	if err != nil {
		return Revision{}, err
	}
	return out, nil
}

// Accept records one approver's acceptance. The last acceptance merges the
// diff into the live document atomically with the vote.
func (s *Service) Accept(ctx context.Context, userID, revisionID, approverSiret string) (Revision, error) {
	return s.vote(ctx, userID, revisionID, approverSiret, func(tx TxRepository, rev *Revision, approval *Approval) error {
		approval.Status = StatusAccepted
		approval.DecidedAt = s.now()
		if !rev.allAccepted() {
			return nil
		}
		rev.Status = StatusAccepted
		return s.apply(ctx, tx, userID, rev, s.adapters[rev.BsdType])
	})
}

// Refuse records one approver's refusal. A single refusal settles the whole
// request: remaining PENDING approvals are canceled, settled ones keep their
// value, and the document is left untouched.
func (s *Service) Refuse(ctx context.Context, userID, revisionID, approverSiret string) (Revision, error) {
	return s.vote(ctx, userID, revisionID, approverSiret, func(tx TxRepository, rev *Revision, approval *Approval) error {
		approval.Status = StatusRefused
		approval.DecidedAt = s.now()
		for i := range rev.Approvals {
			if rev.Approvals[i].Status == StatusPending {
				rev.Approvals[i].Status = StatusCanceled
			}
		}
		rev.Status = StatusRefused
		data := map[string]any{"revisionId": rev.ID, "refusedBy": approval.Siret}
		return tx.AppendEvent(ctx, events.New(rev.BsdID, userID, "RevisionRefused", data))
	})
}

// Cancel withdraws a pending request. Only the authoring company may cancel,
// and only while no approver has voted.
func (s *Service) Cancel(ctx context.Context, userID, revisionID string) (Revision, error) {
	var out Revision
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rev, err := tx.Find(ctx, revisionID)
		if err != nil {
			return err
		}
		if err := s.actsFor(ctx, userID, rev.AuthorSiret); err != nil {
			return err
		}
		if rev.Settled() {
			return shared.Conflictf("revision %s is already settled", rev.ID)
		}
		for _, a := range rev.Approvals {
			if a.Status != StatusPending {
				return shared.Conflictf("revision %s already collected votes", rev.ID)
			}
		}
		for i := range rev.Approvals {
			rev.Approvals[i].Status = StatusCanceled
		}
		rev.Status = StatusCanceled
		rev.UpdatedAt = s.now()
		if err := tx.Update(ctx, rev); err != nil {
			return err
		}
		out = rev
		return nil
	})
	return out, err
}

func (s *Service) vote(ctx context.Context, userID, revisionID, approverSiret string, decide func(TxRepository, *Revision, *Approval) error) (Revision, error) {
	if err := s.actsFor(ctx, userID, approverSiret); err != nil {
		return Revision{}, err
	}
	var out Revision
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rev, err := tx.Find(ctx, revisionID)
		if err != nil {
			return err
		}
		if rev.Settled() {
			return shared.Conflictf("revision %s is already settled", rev.ID)
		}
		approval := rev.approval(approverSiret)
		if approval == nil {
			return shared.Forbiddenf("company %s is not an approver on revision %s", approverSiret, rev.ID)
		}
		if approval.Status != StatusPending {
			return shared.Conflictf("company %s already voted on revision %s", approverSiret, rev.ID)
		}
		if err := decide(tx, &rev, approval); err != nil {
			return err
		}
		rev.UpdatedAt = s.now()
		if err := tx.Update(ctx, rev); err != nil {
			return err
		}
		out = rev
		return nil
	})
	if err != nil {
		return Revision{}, err
	}
	return out, nil
}

// apply merges the diff into the live document, recomputes the status an
// operation-code change implies and appends the applied event.
func (s *Service) apply(ctx context.Context, tx TxRepository, userID string, rev *Revision, adapter DocumentAdapter) error {
	doc, err := tx.FindDocument(ctx, rev.BsdType, rev.BsdID)
	if err != nil {
		return err
	}
	for key, value := range rev.Content {
		doc.Data[key] = value
	}
	from := doc.Status
	doc.Status = adapter.RecomputeStatus(&doc)
	doc.UpdatedAt = s.now()
	if err := tx.UpdateDocument(ctx, doc); err != nil {
		return err
	}
	data := map[string]any{"revisionId": rev.ID}
	if doc.Status != from {
		data["from"] = string(from)
		data["to"] = string(doc.Status)
	}
	if err := tx.AppendEvent(ctx, events.New(doc.ID, userID, "RevisionApplied", data)); err != nil {
		return err
	}
	t, id := rev.BsdType, rev.BsdID
	tx.AfterCommit(func() {
		if err := s.reindex.Enqueue(context.Background(), t, id); err != nil {
			s.logger.Error("failed to enqueue reindex", "bsd_id", id, "error", err)
		}
	})
	return nil
}

func (s *Service) actsFor(ctx context.Context, userID, siret string) error {
	ok, err := s.members.ActsFor(ctx, userID, siret)
	if err != nil {
		return err
	}
	if !ok {
		return shared.Forbiddenf("user is not allowed to act for %s", siret)
	}
	return nil
}

func validateInput(input any) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fe.Field()+" failed validation on "+fe.Tag())
	}
	return shared.NewValidationError(msgs...)
}
