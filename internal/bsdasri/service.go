package bsdasri

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

// Service carries the BSDASRI use cases.
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

// CreateInput is the writable surface of a BSDASRI.
type CreateInput struct {
	Type DasriType `json:"type" validate:"required,oneof=SIMPLE GROUPING SYNTHESIS"`

	EmitterCompanyName          string `json:"emitterCompanyName"`
	EmitterCompanySiret         string `json:"emitterCompanySiret" validate:"omitempty,len=14,numeric"`
	EmitterAllowsDirectTakeOver bool   `json:"isEmissionDirectTakenOver"`

	TransporterCompanyName      string `json:"transporterCompanyName"`
	TransporterCompanySiret     string `json:"transporterCompanySiret" validate:"omitempty,len=14,numeric"`
	TransporterCompanyVatNumber string `json:"transporterCompanyVatNumber"`

	DestinationCompanyName  string `json:"destinationCompanyName"`
	DestinationCompanySiret string `json:"destinationCompanySiret" validate:"required,len=14,numeric"`

	EcoOrganismeSiret string `json:"ecoOrganismeSiret" validate:"omitempty,len=14,numeric"`

	WasteCode string `json:"wasteCode"`

	Grouping     []string `json:"grouping"`
	Synthesizing []string `json:"synthesizing"`
}

// SignInput is one signature on the document.
type SignInput struct {
	Step   bsd.EventType `json:"type" validate:"required,oneof=EMISSION TRANSPORT RECEPTION OPERATION"`
	Author string        `json:"author" validate:"required"`

	Acceptation   bsd.WasteAcceptation `json:"acceptationStatus" validate:"omitempty,oneof=ACCEPTED REFUSED PARTIALLY_REFUSED"`
	OperationCode string               `json:"operationCode"`
	Weight        float64              `json:"weight" validate:"gte=0"`
}

// Get returns a document visible to the user.
func (s *Service) Get(ctx context.Context, userID, id string) (Bsdasri, error) {
	b, err := s.repo.Find(ctx, id)
	if err != nil {
		return Bsdasri{}, err
	}
	if err := s.authorizeAny(ctx, userID, b.ActorSirets()...); err != nil {
		return Bsdasri{}, err
	}
	return b, nil
}

// Create registers a new document, as a draft or published directly.
func (s *Service) Create(ctx context.Context, userID string, input CreateInput, draft bool) (Bsdasri, error) {
	if err := validateInput(input); err != nil {
		return Bsdasri{}, err
	}
	if input.Type != TypeGrouping && len(input.Grouping) > 0 {
		return Bsdasri{}, shared.NewValidationError("only a GROUPING bsdasri can group others")
	}
	if input.Type != TypeSynthesis && len(input.Synthesizing) > 0 {
		return Bsdasri{}, shared.NewValidationError("only a SYNTHESIS bsdasri can synthesize others")
	}
	if input.Type == TypeSynthesis && draft {
		return Bsdasri{}, shared.NewValidationError("a SYNTHESIS bsdasri cannot be a draft")
	}

	now := s.now()
	b := input.apply(Bsdasri{})
	b.ID = bsd.ReadableID(bsd.TypeBSDASRI, now)
	b.Status = StatusInitial
	b.IsDraft = draft
	b.OwnerID = userID
	b.CreatedAt = now
	b.UpdatedAt = now

	if err := s.authorizeAny(ctx, userID, b.ActorSirets()...); err != nil {
		return Bsdasri{}, err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.linkAssociated(ctx, tx, &b); err != nil {
			return err
		}
		if err := tx.Create(ctx, b); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, events.New(b.ID, userID, "BsdasriCreated", nil)); err != nil {
			return err
		}
		s.scheduleReindex(tx, b.ID)
		return nil
	})
	if err != nil {
		return Bsdasri{}, err
	}
	return b, nil
}

// Publish turns a draft into a live document.
func (s *Service) Publish(ctx context.Context, userID, id string) (Bsdasri, error) {
	var out Bsdasri
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.Find(ctx, id)
		if err != nil {
			return err
		}
		if err := s.authorizeAny(ctx, userID, b.ActorSirets()...); err != nil {
			return err
		}
		if !b.IsDraft {
			return shared.Conflictf("bsdasri %s is already published", b.ID)
		}
		b.IsDraft = false
		b.UpdatedAt = s.now()
		if err := tx.Update(ctx, b); err != nil {
			return err
		}
		s.scheduleReindex(tx, b.ID)
		out = b
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
			return shared.Forbiddenf("bsdasri %s is signed and cannot be deleted", b.ID)
		}
		b.IsDeleted = true
		b.UpdatedAt = s.now()
		if err := tx.Update(ctx, b); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, events.New(b.ID, userID, "BsdasriDeleted", nil)); err != nil {
			return err
		}
		s.scheduleReindex(tx, b.ID)
		return nil
	})
}

// Sign applies one signature step and propagates the outcome to grouped or
// synthesized documents.
func (s *Service) Sign(ctx context.Context, userID, id string, input SignInput) (Bsdasri, error) {
	if err := validateInput(input); err != nil {
		return Bsdasri{}, err
	}
	var out Bsdasri
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.Find(ctx, id)
		if err != nil {
			return err
		}
		if b.IsDraft {
			return shared.Conflictf("bsdasri %s is a draft and cannot be signed", b.ID)
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
		if err := tx.AppendEvent(ctx, events.New(b.ID, userID, "BsdasriSigned", data)); err != nil {
			return err
		}
		s.scheduleReindex(tx, b.ID)

		if b.Type == TypeSynthesis && (input.Step == SignReception || input.Step == SignOperation) {
			if err := s.propagateToSynthesized(ctx, tx, userID, &b); err != nil {
				return err
			}
		}
		if input.Step == SignOperation && next == StatusProcessed {
			if err := s.settleGroupedParents(ctx, tx, userID, &b); err != nil {
				return err
			}
		}
		out = b
		return nil
	})
	return out, err
}

func (s *Service) applySignature(ctx context.Context, b *Bsdasri, userID string, input SignInput, from bsd.Status) error {
	sig := &bsd.Signature{Author: input.Author, Date: s.now()}
	switch input.Step {
	case SignEmission:
		if err := s.authorizeAny(ctx, userID, b.EmitterCompanySiret, b.EcoOrganismeSiret); err != nil {
			return err
		}
		b.EmissionSignature = sig
	case SignTransport:
		if from == StatusInitial && b.Type != TypeSynthesis && !b.EmitterAllowsDirectTakeOver {
			return shared.Conflictf("direct take-over is not allowed by the producer")
		}
		if err := s.authorizeAny(ctx, userID, b.TransporterCompanySiret, b.TransporterCompanyVatNumber); err != nil {
			return err
		}
		b.TransportSignature = sig
	case SignReception:
		if err := s.authorizeAny(ctx, userID, b.DestinationCompanySiret); err != nil {
			return err
		}
		b.ReceptionSignature = sig
		b.DestinationAcceptation = input.Acceptation
		b.DestinationReceptionWeight = input.Weight
		b.DestinationReceptionDate = s.now()
	case SignOperation:
		if err := s.authorizeAny(ctx, userID, b.DestinationCompanySiret); err != nil {
			return err
		}
		b.OperationSignature = sig
		b.DestinationOperationCode = input.OperationCode
		b.DestinationOperationDate = s.now()
	}
	return nil
}

// propagateToSynthesized mirrors the synthesis status onto the documents it
// carries: they arrive and are treated together.
func (s *Service) propagateToSynthesized(ctx context.Context, tx TxRepository, userID string, synthesis *Bsdasri) error {
	for _, id := range synthesis.Synthesizing {
		carried, err := tx.Find(ctx, id)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				continue
			}
			return err
		}
		carried.Status = synthesis.Status
		carried.DestinationOperationCode = synthesis.DestinationOperationCode
		carried.DestinationOperationDate = synthesis.DestinationOperationDate
		carried.UpdatedAt = s.now()
		if err := tx.Update(ctx, carried); err != nil {
			return err
		}
		data := map[string]any{"synthesisId": synthesis.ID}
		if err := tx.AppendEvent(ctx, events.New(carried.ID, userID, "BsdasriSigned", data)); err != nil {
			return err
		}
		s.scheduleReindex(tx, carried.ID)
	}
	return nil
}

// settleGroupedParents closes AWAITING_GROUP ancestors once the grouping
// child reaches final treatment.
func (s *Service) settleGroupedParents(ctx context.Context, tx TxRepository, userID string, child *Bsdasri) error {
	walker := cascade.NewWalker(child.Grouping...)
	for id, ok := walker.Next(); ok; id, ok = walker.Next() {
		parent, err := tx.Find(ctx, id)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				continue
			}
			return err
		}
		if parent.Status != StatusAwaitingGroup {
			continue
		}
		parent.Status = StatusProcessed
		parent.DestinationOperationDate = child.DestinationOperationDate
		parent.UpdatedAt = s.now()
		if err := tx.Update(ctx, parent); err != nil {
			return err
		}
		data := map[string]any{"childId": child.ID}
		if err := tx.AppendEvent(ctx, events.New(parent.ID, userID, "BsdasriSigned", data)); err != nil {
			return err
		}
		s.scheduleReindex(tx, parent.ID)
		for _, grandParentID := range parent.Grouping {
			walker.Enqueue(grandParentID)
		}
	}
	return nil
}

// linkAssociated stamps the child's id on grouped and synthesized documents.
func (s *Service) linkAssociated(ctx context.Context, tx TxRepository, child *Bsdasri) error {
	for _, id := range child.Grouping {
		parent, err := tx.Find(ctx, id)
		if err != nil {
			return err
		}
		if parent.Status != StatusAwaitingGroup {
			return shared.NewValidationError("bsdasri " + id + " is not awaiting grouping")
		}
		if parent.GroupedInID != "" && parent.GroupedInID != child.ID {
			return shared.NewValidationError("bsdasri " + id + " is already grouped in another document")
		}
		parent.GroupedInID = child.ID
		parent.UpdatedAt = s.now()
		if err := tx.Update(ctx, parent); err != nil {
			return err
		}
	}
	for _, id := range child.Synthesizing {
		carried, err := tx.Find(ctx, id)
		if err != nil {
			return err
		}
		if carried.Status != StatusSent {
			return shared.NewValidationError("bsdasri " + id + " is not on the road and cannot be synthesized")
		}
		if carried.TransporterCompanySiret != child.TransporterCompanySiret {
			return shared.NewValidationError("bsdasri " + id + " is carried by another transporter")
		}
		if carried.SynthesizedInID != "" && carried.SynthesizedInID != child.ID {
			return shared.NewValidationError("bsdasri " + id + " is already synthesized in another document")
		}
		carried.SynthesizedInID = child.ID
		carried.UpdatedAt = s.now()
		if err := tx.Update(ctx, carried); err != nil {
			return err
		}
		s.scheduleReindex(tx, carried.ID)
	}
	return nil
}

func (s *Service) scheduleReindex(tx TxRepository, id string) {
	tx.AfterCommit(func() {
		if err := s.reindex.Enqueue(context.Background(), bsd.TypeBSDASRI, id); err != nil {
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

func (in CreateInput) apply(b Bsdasri) Bsdasri {
	b.Type = in.Type
	b.EmitterCompanyName = in.EmitterCompanyName
	b.EmitterCompanySiret = in.EmitterCompanySiret
	b.EmitterAllowsDirectTakeOver = in.EmitterAllowsDirectTakeOver
	b.TransporterCompanyName = in.TransporterCompanyName
	b.TransporterCompanySiret = in.TransporterCompanySiret
	b.TransporterCompanyVatNumber = in.TransporterCompanyVatNumber
	b.DestinationCompanyName = in.DestinationCompanyName
	b.DestinationCompanySiret = in.DestinationCompanySiret
	b.EcoOrganismeSiret = in.EcoOrganismeSiret
	b.WasteCode = in.WasteCode
	b.Grouping = in.Grouping
	b.Synthesizing = in.Synthesizing
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
