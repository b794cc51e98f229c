package bsda

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/wastetrack/wastetrack/internal/bsd"
	"github.com/wastetrack/wastetrack/internal/cascade"
	"github.com/wastetrack/wastetrack/internal/events"
	"github.com/wastetrack/wastetrack/internal/shared"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Memberships answers "may this user act for this SIRET".
type Memberships interface {
	ActsFor(ctx context.Context, userID, siret string) (bool, error)
}

// Reindexer schedules the dashboard projection refresh for a document.
type Reindexer interface {
	Enqueue(ctx context.Context, t bsd.Type, id string) error
}

// Service carries the BSDA use cases.
type Service struct {
	repo    RepositoryPort
	members Memberships
	reindex Reindexer
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, members Memberships, reindex Reindexer, logger *slog.Logger) *Service {
	return &Service{repo: repo, members: members, reindex: reindex, logger: logger, now: time.Now}
}

// CreateInput is the writable surface of a BSDA.
type CreateInput struct {
	Type BsdaType `json:"type" validate:"required,oneof=COLLECTION_2710 OTHER_COLLECTIONS GATHERING RESHIPMENT"`

	EmitterIsPrivateIndividual bool   `json:"emitterIsPrivateIndividual"`
	EmitterCompanyName         string `json:"emitterCompanyName"`
	EmitterCompanySiret        string `json:"emitterCompanySiret" validate:"omitempty,len=14,numeric"`
	EmitterPaperSignature      bool   `json:"emitterPaperSignature"`

	WorkerIsDisabled   bool   `json:"workerIsDisabled"`
	WorkerCompanyName  string `json:"workerCompanyName"`
	WorkerCompanySiret string `json:"workerCompanySiret" validate:"omitempty,len=14,numeric"`

	TransporterCompanyName      string `json:"transporterCompanyName"`
	TransporterCompanySiret     string `json:"transporterCompanySiret" validate:"omitempty,len=14,numeric"`
	TransporterCompanyVatNumber string `json:"transporterCompanyVatNumber"`

	DestinationCompanyName  string `json:"destinationCompanyName"`
	DestinationCompanySiret string `json:"destinationCompanySiret" validate:"required,len=14,numeric"`

	BrokerCompanySiret string `json:"brokerCompanySiret" validate:"omitempty,len=14,numeric"`

	WasteCode string `json:"wasteCode"`
	WasteName string `json:"wasteMaterialName"`

	Grouping     []string `json:"grouping"`
	ForwardingID string   `json:"forwardingId"`
}

// SignInput is one signature on the document.
type SignInput struct {
	Step   bsd.EventType `json:"type" validate:"required,oneof=EMISSION WORK TRANSPORT OPERATION"`
	Author string        `json:"author" validate:"required"`

	// Operation step only.
	Acceptation   bsd.WasteAcceptation `json:"acceptationStatus" validate:"omitempty,oneof=ACCEPTED REFUSED PARTIALLY_REFUSED"`
	OperationCode string               `json:"operationCode"`
	Weight        float64              `json:"weight" validate:"gte=0"`
	Date          time.Time            `json:"date"`
}

// Get returns a document visible to the user.
func (s *Service) Get(ctx context.Context, userID, id string) (Bsda, error) {
	b, err := s.repo.Find(ctx, id)
	if err != nil {
		return Bsda{}, err
	}
	if err := s.authorizeAny(ctx, userID, b.ActorSirets()...); err != nil {
		return Bsda{}, err
	}
	return b, nil
}

// Create registers a new BSDA, as a draft or published directly.
func (s *Service) Create(ctx context.Context, userID string, input CreateInput, draft bool) (Bsda, error) {
	if err := validateInput(input); err != nil {
		return Bsda{}, err
	}
	now := s.now()
	b := input.toBsda()
	b.ID = bsd.ReadableID(bsd.TypeBSDA, now)
	b.Status = StatusInitial
	b.IsDraft = draft
	b.OwnerID = userID
	b.CreatedAt = now
	b.UpdatedAt = now

	if err := s.authorizeAny(ctx, userID, b.ActorSirets()...); err != nil {
		return Bsda{}, err
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := linkParents(ctx, tx, s, &b); err != nil {
			return err
		}
		if err := tx.Create(ctx, b); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, events.New(b.ID, userID, "BsdaCreated", nil)); err != nil {
			return err
		}
		s.scheduleReindex(tx, b.ID)
		return nil
	})
	if err != nil {
		return Bsda{}, err
	}
	return b, nil
}

// Publish turns a draft into a document the classifier shows on real tabs.
func (s *Service) Publish(ctx context.Context, userID, id string) (Bsda, error) {
	var out Bsda
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.Find(ctx, id)
		if err != nil {
			return err
		}
		if err := s.authorizeAny(ctx, userID, b.ActorSirets()...); err != nil {
			return err
		}
		if !b.IsDraft {
			return shared.Conflictf("bsda %s is already published", b.ID)
		}
		b.IsDraft = false
		b.UpdatedAt = s.now()
		if err := tx.Update(ctx, b); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, events.New(b.ID, userID, "BsdaPublished", nil)); err != nil {
			return err
		}
		s.scheduleReindex(tx, b.ID)
		out = b
		return nil
	})
	return out, err
}

// Update modifies an unsigned document.
func (s *Service) Update(ctx context.Context, userID, id string, input CreateInput) (Bsda, error) {
	if err := validateInput(input); err != nil {
		return Bsda{}, err
	}
	var out Bsda
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.Find(ctx, id)
		if err != nil {
			return err
		}
		if err := s.authorizeAny(ctx, userID, b.ActorSirets()...); err != nil {
			return err
		}
		if b.HasBlockingSignature() {
			return shared.Forbiddenf("bsda %s is signed and can only change through a revision request", b.ID)
		}
		updated := input.applyTo(b)
		updated.UpdatedAt = s.now()
		if err := linkParents(ctx, tx, s, &updated); err != nil {
			return err
		}
		if err := tx.Update(ctx, updated); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, events.New(updated.ID, userID, "BsdaUpdated", nil)); err != nil {
			return err
		}
		s.scheduleReindex(tx, updated.ID)
		out = updated
		return nil
	})
	return out, err
}

// Delete soft-deletes an unsigned document.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.Find(ctx, id)
		if err != nil {
			return err
		}
		if err := s.authorizeAny(ctx, userID, b.ActorSirets()...); err != nil {
			return err
		}
		if b.HasBlockingSignature() {
			return shared.Forbiddenf("bsda %s is signed and cannot be deleted", b.ID)
		}
		b.IsDeleted = true
		b.UpdatedAt = s.now()
		if err := tx.Update(ctx, b); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, events.New(b.ID, userID, "BsdaDeleted", nil)); err != nil {
			return err
		}
		s.scheduleReindex(tx, b.ID)
		return nil
	})
}

// Sign applies one signature step. Shortcuts are guarded here: the machine
// says which jumps exist, the document says who may take them.
func (s *Service) Sign(ctx context.Context, userID, id string, input SignInput) (Bsda, error) {
	if err := validateInput(input); err != nil {
		return Bsda{}, err
	}
	var out Bsda
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.Find(ctx, id)
		if err != nil {
			return err
		}
		if b.IsDraft {
			return shared.Conflictf("bsda %s is a draft and cannot be signed", b.ID)
		}
		from := b.Status
		payload := bsd.Payload{Acceptation: input.Acceptation, OperationCode: input.OperationCode}
		next, err := Machine.Transition(b.Status, input.Step, payload)
		if err != nil {
			return err
		}
		if err := s.applySignature(ctx, &b, userID, input, from); err != nil {
			return err
		}
		b.Status = next
		b.UpdatedAt = s.now()
		if err := tx.Update(ctx, b); err != nil {
			return err
		}
		data := map[string]any{"step": string(input.Step), "from": string(from), "to": string(next)}
		if err := tx.AppendEvent(ctx, events.New(b.ID, userID, "BsdaSigned", data)); err != nil {
			return err
		}
		s.scheduleReindex(tx, b.ID)
		if input.Step == SignOperation && next == StatusProcessed {
			if err := s.settleParents(ctx, tx, userID, &b); err != nil {
				return err
			}
		}
		out = b
		return nil
	})
	return out, err
}

func (s *Service) applySignature(ctx context.Context, b *Bsda, userID string, input SignInput, from bsd.Status) error {
	sig := &bsd.Signature{Author: input.Author, Date: s.now()}
	switch input.Step {
	case SignEmission:
		if b.EmitterIsPrivateIndividual {
			return shared.Forbiddenf("a private individual cannot sign electronically; the worker signs first")
		}
		if err := s.authorizeAny(ctx, userID, b.EmitterCompanySiret); err != nil {
			return err
		}
		b.EmissionSignature = sig
	case SignWork:
		if from == StatusInitial && !b.EmitterIsPrivateIndividual && !b.EmitterPaperSignature {
			return shared.Conflictf("the producer must sign before the worker")
		}
		if err := s.authorizeAny(ctx, userID, b.WorkerCompanySiret); err != nil {
			return err
		}
		b.WorkSignature = sig
	case SignTransport:
		if workerExpected(b, from) {
			return shared.Conflictf("the worker must sign before the transporter")
		}
		if from == StatusInitial && !b.EmitterIsPrivateIndividual && !b.EmitterPaperSignature {
			return shared.Conflictf("the producer must sign before the transporter")
		}
		if err := s.authorizeAny(ctx, userID, b.TransporterCompanySiret, b.TransporterCompanyVatNumber); err != nil {
			return err
		}
		b.TransportSignature = sig
	case SignOperation:
		if from == StatusInitial && b.Type != TypeCollection2710 {
			return shared.Conflictf("only a collection centre can sign the operation directly")
		}
		if err := s.authorizeAny(ctx, userID, b.DestinationCompanySiret); err != nil {
			return err
		}
		b.OperationSignature = sig
		b.DestinationAcceptation = input.Acceptation
		b.DestinationOperationCode = input.OperationCode
		b.DestinationReceptionWeight = input.Weight
		if input.Date.IsZero() {
			input.Date = s.now()
		}
		b.DestinationReceptionDate = input.Date
		b.DestinationOperationDate = input.Date
	}
	return nil
}

func workerExpected(b *Bsda, from bsd.Status) bool {
	if from != StatusInitial && from != StatusSignedByProducer {
		return false
	}
	return b.WorkerCompanySiret != "" && !b.WorkerIsDisabled && b.WorkSignature == nil &&
		b.Type != TypeGathering && b.Type != TypeReshipment
}

// settleParents closes the AWAITING_CHILD ancestors once the child that
// consumed them reaches final treatment. Shared ancestors are visited once.
func (s *Service) settleParents(ctx context.Context, tx TxRepository, userID string, child *Bsda) error {
	walker := cascade.NewWalker(child.ForwardingID)
	for _, parentID := range child.Grouping {
		walker.Enqueue(parentID)
	}
	for id, ok := walker.Next(); ok; id, ok = walker.Next() {
		parent, err := tx.Find(ctx, id)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				continue
			}
			return err
		}
		if parent.Status != StatusAwaitingChild {
			continue
		}
		parent.Status = StatusProcessed
		parent.DestinationOperationDate = child.DestinationOperationDate
		parent.UpdatedAt = s.now()
		if err := tx.Update(ctx, parent); err != nil {
			return err
		}
		data := map[string]any{"childId": child.ID}
		if err := tx.AppendEvent(ctx, events.New(parent.ID, userID, "BsdaSigned", data)); err != nil {
			return err
		}
		s.scheduleReindex(tx, parent.ID)
		walker.Enqueue(parent.ForwardingID)
		for _, grandParentID := range parent.Grouping {
			walker.Enqueue(grandParentID)
		}
	}
	return nil
}

// linkParents stamps the child's id on the parents it consumes.
func linkParents(ctx context.Context, tx TxRepository, s *Service, child *Bsda) error {
	for _, parentID := range child.Grouping {
		parent, err := tx.Find(ctx, parentID)
		if err != nil {
			return err
		}
		if parent.Status != StatusAwaitingChild {
			return shared.NewValidationError("bsda " + parentID + " is not awaiting a child")
		}
		if parent.GroupedInID != "" && parent.GroupedInID != child.ID {
			return shared.NewValidationError("bsda " + parentID + " is already grouped in another document")
		}
		parent.GroupedInID = child.ID
		parent.UpdatedAt = s.now()
		if err := tx.Update(ctx, parent); err != nil {
			return err
		}
	}
	if child.ForwardingID != "" {
		parent, err := tx.Find(ctx, child.ForwardingID)
		if err != nil {
			return err
		}
		if parent.Status != StatusAwaitingChild {
			return shared.NewValidationError("bsda " + child.ForwardingID + " is not awaiting a child")
		}
		parent.ForwardedInID = child.ID
		parent.UpdatedAt = s.now()
		if err := tx.Update(ctx, parent); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) scheduleReindex(tx TxRepository, id string) {
	tx.AfterCommit(func() {
		if err := s.reindex.Enqueue(context.Background(), bsd.TypeBSDA, id); err != nil {
			s.logger.Error("failed to enqueue reindex", "bsd_id", id, "error", err)
		}
	})
}

func (s *Service) authorizeAny(ctx context.Context, userID string, sirets ...string) error {
	for _, siret := range sirets {
		if siret == "" {
			continue
		}
		ok, err := s.members.ActsFor(ctx, userID, siret)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return shared.Forbiddenf("user is not allowed to act on this document")
}

func (in CreateInput) toBsda() Bsda {
	return in.applyTo(Bsda{})
}

func (in CreateInput) applyTo(b Bsda) Bsda {
	b.Type = in.Type
	b.EmitterIsPrivateIndividual = in.EmitterIsPrivateIndividual
	b.EmitterCompanyName = in.EmitterCompanyName
	b.EmitterCompanySiret = in.EmitterCompanySiret
	b.EmitterPaperSignature = in.EmitterPaperSignature
	b.WorkerIsDisabled = in.WorkerIsDisabled
	b.WorkerCompanyName = in.WorkerCompanyName
	b.WorkerCompanySiret = in.WorkerCompanySiret
	b.TransporterCompanyName = in.TransporterCompanyName
	b.TransporterCompanySiret = in.TransporterCompanySiret
	b.TransporterCompanyVatNumber = in.TransporterCompanyVatNumber
	b.DestinationCompanyName = in.DestinationCompanyName
	b.DestinationCompanySiret = in.DestinationCompanySiret
	b.BrokerCompanySiret = in.BrokerCompanySiret
	b.WasteCode = in.WasteCode
	b.WasteName = in.WasteName
	b.Grouping = in.Grouping
	b.ForwardingID = in.ForwardingID
	return b
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
