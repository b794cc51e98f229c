package bsff

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

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

// Service carries the BSFF use cases.
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

// PackagingInput declares one container on creation.
type PackagingInput struct {
	Numero string  `json:"numero" validate:"required"`
	Weight float64 `json:"weight" validate:"gt=0"`
	// PreviousPackagingIDs lists the containers this one consumes when the
	// document regroups previously treated waste.
	PreviousPackagingIDs []string `json:"previousPackagings"`
}

// CreateInput is the writable surface of a BSFF.
type CreateInput struct {
	EmitterCompanyName  string `json:"emitterCompanyName"`
	EmitterCompanySiret string `json:"emitterCompanySiret" validate:"required,len=14,numeric"`

	TransporterCompanyName      string `json:"transporterCompanyName"`
	TransporterCompanySiret     string `json:"transporterCompanySiret" validate:"omitempty,len=14,numeric"`
	TransporterCompanyVatNumber string `json:"transporterCompanyVatNumber"`

	DestinationCompanyName  string `json:"destinationCompanyName"`
	DestinationCompanySiret string `json:"destinationCompanySiret" validate:"required,len=14,numeric"`

	WasteCode        string `json:"wasteCode"`
	WasteDescription string `json:"wasteDescription"`

	FicheInterventions []FicheIntervention `json:"ficheInterventions" validate:"dive"`
	Packagings         []PackagingInput    `json:"packagings" validate:"min=1,dive"`
}

// SignInput is one signature on the document.
type SignInput struct {
	Step   bsd.EventType `json:"type" validate:"required,oneof=EMISSION TRANSPORT RECEPTION"`
	Author string        `json:"author" validate:"required"`
}

// AcceptationInput is the verdict on one container.
type AcceptationInput struct {
	Author        string               `json:"author" validate:"required"`
	Acceptation   bsd.WasteAcceptation `json:"status" validate:"required,oneof=ACCEPTED REFUSED"`
	Weight        float64              `json:"weight" validate:"gte=0"`
	RefusalReason string               `json:"refusalReason"`
}

// OperationInput is the treatment applied to one container.
type OperationInput struct {
	Author        string `json:"author" validate:"required"`
	OperationCode string `json:"code" validate:"required"`
}

// Get returns a document visible to the user.
func (s *Service) Get(ctx context.Context, userID, id string) (Bsff, error) {
	b, err := s.repo.Find(ctx, id)
	if err != nil {
		return Bsff{}, err
	}
	if err := s.authorizeAny(ctx, userID, b.ActorSirets()...); err != nil {
		return Bsff{}, err
	}
	return b, nil
}

// Create registers a new document. Containers consuming previously treated
// ones wire the regrouping chain both ways.
func (s *Service) Create(ctx context.Context, userID string, input CreateInput, draft bool) (Bsff, error) {
	if err := validateInput(input); err != nil {
		return Bsff{}, err
	}
	now := s.now()
	b := Bsff{
		ID:                          bsd.ReadableID(bsd.TypeBSFF, now),
		Status:                      StatusInitial,
		IsDraft:                     draft,
		OwnerID:                     userID,
		CreatedAt:                   now,
		UpdatedAt:                   now,
		EmitterCompanyName:          input.EmitterCompanyName,
		EmitterCompanySiret:         input.EmitterCompanySiret,
		TransporterCompanyName:      input.TransporterCompanyName,
		TransporterCompanySiret:     input.TransporterCompanySiret,
		TransporterCompanyVatNumber: input.TransporterCompanyVatNumber,
		DestinationCompanyName:      input.DestinationCompanyName,
		DestinationCompanySiret:     input.DestinationCompanySiret,
		WasteCode:                   input.WasteCode,
		WasteDescription:            input.WasteDescription,
		FicheInterventions:          input.FicheInterventions,
	}
	for _, pi := range input.Packagings {
		b.Packagings = append(b.Packagings, Packaging{
			ID:                   uuid.NewString(),
			BsffID:               b.ID,
			Numero:               pi.Numero,
			Weight:               pi.Weight,
			PreviousPackagingIDs: pi.PreviousPackagingIDs,
		})
	}

	if err := s.authorizeAny(ctx, userID, b.ActorSirets()...); err != nil {
		return Bsff{}, err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, p := range b.Packagings {
			for _, prevID := range p.PreviousPackagingIDs {
				prev, err := tx.FindPackaging(ctx, prevID)
				if err != nil {
					return err
				}
				if !bsd.IsGroupingOperation(prev.OperationCode) {
					return shared.NewValidationError("packaging " + prev.Numero + " did not go through a regrouping operation")
				}
				if prev.NextBsffID != "" && prev.NextBsffID != b.ID {
					return shared.NewValidationError("packaging " + prev.Numero + " already moved into another document")
				}
				prev.NextBsffID = b.ID
				if err := tx.UpdatePackaging(ctx, prev); err != nil {
					return err
				}
			}
		}
		if err := tx.Create(ctx, b); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, events.New(b.ID, userID, "BsffCreated", nil)); err != nil {
			return err
		}
		s.scheduleReindex(tx, b.ID)
		return nil
	})
	if err != nil {
		return Bsff{}, err
	}
	return b, nil
}

// Publish turns a draft into a live document.
func (s *Service) Publish(ctx context.Context, userID, id string) (Bsff, error) {
	var out Bsff
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.Find(ctx, id)
		if err != nil {
			return err
		}
		if err := s.authorizeAny(ctx, userID, b.ActorSirets()...); err != nil {
			return err
		}
		if !b.IsDraft {
			return shared.Conflictf("bsff %s is already published", b.ID)
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
			return shared.Forbiddenf("bsff %s is signed and cannot be deleted", b.ID)
		}
		b.IsDeleted = true
		b.UpdatedAt = s.now()
		if err := tx.Update(ctx, b); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, events.New(b.ID, userID, "BsffDeleted", nil)); err != nil {
			return err
		}
		s.scheduleReindex(tx, b.ID)
		return nil
	})
}

// Sign applies one signature step up to reception.
func (s *Service) Sign(ctx context.Context, userID, id string, input SignInput) (Bsff, error) {
	if err := validateInput(input); err != nil {
		return Bsff{}, err
	}
	var out Bsff
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.Find(ctx, id)
		if err != nil {
			return err
		}
		if b.IsDraft {
			return shared.Conflictf("bsff %s is a draft and cannot be signed", b.ID)
		}
		from := b.Status
		next, err := Machine.Transition(b.Status, input.Step, bsd.Payload{})
		if err != nil {
			return err
		}
		sig := &bsd.Signature{Author: input.Author, Date: s.now()}
		switch input.Step {
		case SignEmission:
			if err := s.authorizeAny(ctx, userID, b.EmitterCompanySiret); err != nil {
				return err
			}
			b.EmissionSignature = sig
		case SignTransport:
			if err := s.authorizeAny(ctx, userID, b.TransporterCompanySiret, b.TransporterCompanyVatNumber); err != nil {
				return err
			}
			b.TransportSignature = sig
		case SignReception:
			if err := s.authorizeAny(ctx, userID, b.DestinationCompanySiret); err != nil {
				return err
			}
			b.ReceptionSignature = sig
			b.ReceptionDate = sig.Date
		}
		b.Status = next
		b.UpdatedAt = s.now()
		if err := tx.Update(ctx, b); err != nil {
			return err
		}
		data := map[string]any{"step": string(input.Step), "from": string(from), "to": string(next)}
		if err := tx.AppendEvent(ctx, events.New(b.ID, userID, "BsffSigned", data)); err != nil {
			return err
		}
		s.scheduleReindex(tx, b.ID)
		out = b
		return nil
	})
	return out, err
}

// UpdatePackagingAcceptation records the destination's verdict on one
// container and re-derives the document status.
func (s *Service) UpdatePackagingAcceptation(ctx context.Context, userID, bsffID, packagingID string, input AcceptationInput) (Bsff, error) {
	if err := validateInput(input); err != nil {
		return Bsff{}, err
	}
	return s.updatePackaging(ctx, userID, bsffID, packagingID, func(b *Bsff, p *Packaging) error {
		if b.ReceptionSignature == nil {
			return shared.Conflictf("bsff %s has not been received", b.ID)
		}
		if p.OperationCode != "" {
			return shared.Conflictf("packaging %s is already treated", p.Numero)
		}
		p.Acceptation = input.Acceptation
		p.AcceptationDate = s.now()
		p.RefusalReason = input.RefusalReason
		if input.Acceptation == bsd.AcceptationRefused {
			p.AcceptationWeight = 0
		} else {
			p.AcceptationWeight = input.Weight
		}
		return nil
	})
}

// UpdatePackagingOperation records the treatment of one container,
// re-derives the document status and, when the document closes, settles the
// regrouping ancestors.
func (s *Service) UpdatePackagingOperation(ctx context.Context, userID, bsffID, packagingID string, input OperationInput) (Bsff, error) {
	if err := validateInput(input); err != nil {
		return Bsff{}, err
	}
	return s.updatePackaging(ctx, userID, bsffID, packagingID, func(b *Bsff, p *Packaging) error {
		if !p.Decided() || p.Refused() {
			return shared.Conflictf("packaging %s was not accepted", p.Numero)
		}
		p.OperationCode = input.OperationCode
		p.OperationDate = s.now()
		return nil
	})
}

func (s *Service) updatePackaging(ctx context.Context, userID, bsffID, packagingID string, mutate func(*Bsff, *Packaging) error) (Bsff, error) {
	var out Bsff
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.Find(ctx, bsffID)
		if err != nil {
			return err
		}
		if err := s.authorizeAny(ctx, userID, b.DestinationCompanySiret); err != nil {
			return err
		}
		var target *Packaging
		for i := range b.Packagings {
			if b.Packagings[i].ID == packagingID {
				target = &b.Packagings[i]
				break
			}
		}
		if target == nil {
			return shared.ErrNotFound
		}
		if err := mutate(&b, target); err != nil {
			return err
		}
		if err := tx.UpdatePackaging(ctx, *target); err != nil {
			return err
		}
		if err := s.applyDerivedStatus(ctx, tx, userID, &b); err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// applyDerivedStatus persists the packaging-derived status and ripples a
// final outcome up the regrouping chain: PROCESSED settles the ancestors,
// REFUSED marks every one of them refused in turn.
func (s *Service) applyDerivedStatus(ctx context.Context, tx TxRepository, userID string, b *Bsff) error {
	next := DeriveStatus(b)
	if next == b.Status {
		return nil
	}
	from := b.Status
	b.Status = next
	b.UpdatedAt = s.now()
	if err := tx.Update(ctx, *b); err != nil {
		return err
	}
	data := map[string]any{"from": string(from), "to": string(next)}
	if err := tx.AppendEvent(ctx, events.New(b.ID, userID, "BsffStatusUpdated", data)); err != nil {
		return err
	}
	s.scheduleReindex(tx, b.ID)
	if next != StatusProcessed && next != StatusRefused {
		return nil
	}

	walker := cascade.NewWalker()
	stampParents := func(doc *Bsff) error {
		for _, p := range doc.Packagings {
			for _, prevID := range p.PreviousPackagingIDs {
				prev, err := tx.FindPackaging(ctx, prevID)
				if err != nil {
					if errors.Is(err, shared.ErrNotFound) {
						continue
					}
					return err
				}
				prev.NextSettled = true
				if err := tx.UpdatePackaging(ctx, prev); err != nil {
					return err
				}
				walker.Enqueue(prev.BsffID)
			}
		}
		return nil
	}
	if err := stampParents(b); err != nil {
		return err
	}
	for id, ok := walker.Next(); ok; id, ok = walker.Next() {
		ancestor, err := tx.Find(ctx, id)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				continue
			}
			return err
		}
		// A refusal overrides whatever the ancestor's own packagings say:
		// the waste it handed over no longer has a lawful destination.
		derived := StatusRefused
		if next == StatusProcessed {
			derived = DeriveStatus(&ancestor)
		}
		if derived == ancestor.Status {
			continue
		}
		ancestorFrom := ancestor.Status
		ancestor.Status = derived
		ancestor.UpdatedAt = s.now()
		if err := tx.Update(ctx, ancestor); err != nil {
			return err
		}
		data := map[string]any{"from": string(ancestorFrom), "to": string(derived), "descendantId": b.ID}
		if err := tx.AppendEvent(ctx, events.New(ancestor.ID, userID, "BsffStatusUpdated", data)); err != nil {
			return err
		}
		s.scheduleReindex(tx, ancestor.ID)
		if derived == StatusProcessed || derived == StatusRefused {
			if err := stampParents(&ancestor); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) scheduleReindex(tx TxRepository, id string) {
	tx.AfterCommit(func() {
		if err := s.reindex.Enqueue(context.Background(), bsd.TypeBSFF, id); err != nil {
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
