package bsvhu

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/wastetrack/wastetrack/internal/bsd"
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

// Service carries the BSVHU use cases.
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

// CreateInput is the writable surface of a BSVHU.
type CreateInput struct {
	EmitterCompanyName        string `json:"emitterCompanyName"`
	EmitterCompanySiret       string `json:"emitterCompanySiret" validate:"omitempty,len=14,numeric"`
	EmitterIrregularSituation bool   `json:"emitterIrregularSituation"`

	TransporterCompanyName      string `json:"transporterCompanyName"`
	TransporterCompanySiret     string `json:"transporterCompanySiret" validate:"omitempty,len=14,numeric"`
	TransporterCompanyVatNumber string `json:"transporterCompanyVatNumber"`

	DestinationCompanyName  string `json:"destinationCompanyName"`
	DestinationCompanySiret string `json:"destinationCompanySiret" validate:"required,len=14,numeric"`

	WasteCode    string   `json:"wasteCode"`
	VehicleCount int      `json:"quantity" validate:"gte=0"`
	IdentType    string   `json:"identificationType"`
	IdentNumbers []string `json:"identificationNumbers"`
}

// SignInput is one signature on the batch.
type SignInput struct {
	Step   bsd.EventType `json:"type" validate:"required,oneof=EMISSION TRANSPORT OPERATION"`
	Author string        `json:"author" validate:"required"`

	Acceptation   bsd.WasteAcceptation `json:"acceptationStatus" validate:"omitempty,oneof=ACCEPTED REFUSED PARTIALLY_REFUSED"`
	OperationCode string               `json:"operationCode"`
	Weight        float64              `json:"weight" validate:"gte=0"`
}

// Get returns a batch visible to the user.
func (s *Service) Get(ctx context.Context, userID, id string) (Bsvhu, error) {
	b, err := s.repo.Find(ctx, id)
	if err != nil {
		return Bsvhu{}, err
	}
	if err := s.authorizeAny(ctx, userID, b.ActorSirets()...); err != nil {
		return Bsvhu{}, err
	}
	return b, nil
}

// Create registers a new batch, as a draft or published directly.
func (s *Service) Create(ctx context.Context, userID string, input CreateInput, draft bool) (Bsvhu, error) {
	if err := validateInput(input); err != nil {
		return Bsvhu{}, err
	}
	now := s.now()
	b := input.apply(Bsvhu{})
	b.ID = bsd.ReadableID(bsd.TypeBSVHU, now)
	b.Status = StatusInitial
	b.IsDraft = draft
	b.OwnerID = userID
	b.CreatedAt = now
	b.UpdatedAt = now

	if err := s.authorizeAny(ctx, userID, b.ActorSirets()...); err != nil {
		return Bsvhu{}, err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.Create(ctx, b); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, events.New(b.ID, userID, "BsvhuCreated", nil)); err != nil {
			return err
		}
		s.scheduleReindex(tx, b.ID)
		return nil
	})
	if err != nil {
		return Bsvhu{}, err
	}
	return b, nil
}

// Publish turns a draft into a live document.
func (s *Service) Publish(ctx context.Context, userID, id string) (Bsvhu, error) {
	var out Bsvhu
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.Find(ctx, id)
		if err != nil {
			return err
		}
		if err := s.authorizeAny(ctx, userID, b.ActorSirets()...); err != nil {
			return err
		}
		if !b.IsDraft {
			return shared.Conflictf("bsvhu %s is already published", b.ID)
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

// Update modifies an unsigned batch.
func (s *Service) Update(ctx context.Context, userID, id string, input CreateInput) (Bsvhu, error) {
	if err := validateInput(input); err != nil {
		return Bsvhu{}, err
	}
	var out Bsvhu
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.Find(ctx, id)
		if err != nil {
			return err
		}
		if err := s.authorizeAny(ctx, userID, b.ActorSirets()...); err != nil {
			return err
		}
		if b.HasBlockingSignature() {
			return shared.Forbiddenf("bsvhu %s is signed and cannot change", b.ID)
		}
		updated := input.apply(b)
		updated.UpdatedAt = s.now()
		if err := tx.Update(ctx, updated); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, events.New(updated.ID, userID, "BsvhuUpdated", nil)); err != nil {
			return err
		}
		s.scheduleReindex(tx, updated.ID)
		out = updated
		return nil
	})
	return out, err
}

// Delete soft-deletes an unsigned batch.
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
			return shared.Forbiddenf("bsvhu %s is signed and cannot be deleted", b.ID)
		}
		b.IsDeleted = true
		b.UpdatedAt = s.now()
		if err := tx.Update(ctx, b); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, events.New(b.ID, userID, "BsvhuDeleted", nil)); err != nil {
			return err
		}
		s.scheduleReindex(tx, b.ID)
		return nil
	})
}

// Sign applies one signature step.
func (s *Service) Sign(ctx context.Context, userID, id string, input SignInput) (Bsvhu, error) {
	if err := validateInput(input); err != nil {
		return Bsvhu{}, err
	}
	var out Bsvhu
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.Find(ctx, id)
		if err != nil {
			return err
		}
		if b.IsDraft {
			return shared.Conflictf("bsvhu %s is a draft and cannot be signed", b.ID)
		}
		from := b.Status
		payload := bsd.Payload{Acceptation: input.Acceptation, OperationCode: input.OperationCode}
		next, err := Machine.Transition(b.Status, input.Step, payload)
		if err != nil {
			return err
		}
		sig := &bsd.Signature{Author: input.Author, Date: s.now()}
		switch input.Step {
		case SignEmission:
			if b.EmitterIrregularSituation {
				return shared.Forbiddenf("an irregular-situation emitter signs on paper; the transporter signs first")
			}
			if err := s.authorizeAny(ctx, userID, b.EmitterCompanySiret); err != nil {
				return err
			}
			b.EmissionSignature = sig
		case SignTransport:
			if from == StatusInitial && !b.EmitterIrregularSituation {
				return shared.Conflictf("the producer must sign before the transporter")
			}
			if err := s.authorizeAny(ctx, userID, b.TransporterCompanySiret, b.TransporterCompanyVatNumber); err != nil {
				return err
			}
			b.TransportSignature = sig
		case SignOperation:
			if err := s.authorizeAny(ctx, userID, b.DestinationCompanySiret); err != nil {
				return err
			}
			b.OperationSignature = sig
			b.DestinationAcceptation = input.Acceptation
			b.DestinationOperationCode = input.OperationCode
			b.DestinationReceptionWeight = input.Weight
			b.DestinationReceptionDate = s.now()
			b.DestinationOperationDate = s.now()
		}
		b.Status = next
		b.UpdatedAt = s.now()
		if err := tx.Update(ctx, b); err != nil {
			return err
		}
		data := map[string]any{"step": string(input.Step), "from": string(from), "to": string(next)}
		if err := tx.AppendEvent(ctx, events.New(b.ID, userID, "BsvhuSigned", data)); err != nil {
			return err
		}
		s.scheduleReindex(tx, b.ID)
		out = b
		return nil
	})
	return out, err
}

func (s *Service) scheduleReindex(tx TxRepository, id string) {
	tx.AfterCommit(func() {
		if err := s.reindex.Enqueue(context.Background(), bsd.TypeBSVHU, id); err != nil {
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
	return shared.Forbiddenf("user is not allowed to act on this batch")
}

func (in CreateInput) apply(b Bsvhu) Bsvhu {
	b.EmitterCompanyName = in.EmitterCompanyName
	b.EmitterCompanySiret = in.EmitterCompanySiret
	b.EmitterIrregularSituation = in.EmitterIrregularSituation
	b.TransporterCompanyName = in.TransporterCompanyName
	b.TransporterCompanySiret = in.TransporterCompanySiret
	b.TransporterCompanyVatNumber = in.TransporterCompanyVatNumber
	b.DestinationCompanyName = in.DestinationCompanyName
	b.DestinationCompanySiret = in.DestinationCompanySiret
	b.WasteCode = in.WasteCode
	b.VehicleCount = in.VehicleCount
	b.IdentType = in.IdentType
	b.IdentNumbers = in.IdentNumbers
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
