package bsdd

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wastetrack/wastetrack/internal/bsd"
	"github.com/wastetrack/wastetrack/internal/events"
	"github.com/wastetrack/wastetrack/internal/shared"
)

// Memberships answers "may this user act for this SIRET".
type Memberships interface {
	ActsFor(ctx context.Context, userID, siret string) (bool, error)
}

// Reindexer schedules the dashboard projection refresh for a document. It is
// called after commit, so failures only delay the projection.
type Reindexer interface {
	Enqueue(ctx context.Context, t bsd.Type, id string) error
}

// Service carries the BSDD use cases.
type Service struct {
	repo    RepositoryPort
	members Memberships
	reindex Reindexer
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, members Memberships, reindex Reindexer, logger *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		members: members,
		reindex: reindex,
		logger:  logger,
		now:     time.Now,
	}
}

// SignatureInput identifies the signing party.
type SignatureInput struct {
	Author string `json:"author" validate:"required"`
}

// ReceptionInput carries the destination's reception statement.
type ReceptionInput struct {
	Signature        SignatureInput       `json:"signature"`
	ReceivedAt       time.Time            `json:"receivedAt" validate:"required"`
	QuantityReceived float64              `json:"quantityReceived" validate:"gte=0"`
	Acceptation      bsd.WasteAcceptation `json:"wasteAcceptationStatus" validate:"omitempty,oneof=ACCEPTED REFUSED PARTIALLY_REFUSED"`
	RefusalReason    string               `json:"wasteRefusalReason"`
}

// ProcessingInput carries the final treatment statement.
type ProcessingInput struct {
	Signature      SignatureInput `json:"signature"`
	ProcessedAt    time.Time      `json:"processedAt" validate:"required"`
	OperationCode  string         `json:"processingOperationDone" validate:"required"`
	NoTraceability bool           `json:"noTraceability"`
}

// Get returns a form visible to the user.
func (s *Service) Get(ctx context.Context, userID, id string) (Form, error) {
	f, err := s.repo.FindForm(ctx, id)
	if err != nil {
		return Form{}, err
	}
	if err := s.authorizeAny(ctx, userID, f.ActorSirets()...); err != nil {
		return Form{}, err
	}
	return f, nil
}

// Create registers a new draft form.
func (s *Service) Create(ctx context.Context, userID string, input CreateFormInput) (Form, error) {
	if err := validateInput(input); err != nil {
		return Form{}, err
	}

	now := s.now()
	f := input.toForm()
	f.ID = uuid.NewString()
	f.ReadableID = bsd.ReadableID(bsd.TypeBSDD, now)
	f.Status = StatusDraft
	f.OwnerID = userID
	f.CreatedAt = now
	f.UpdatedAt = now

	if err := s.authorizeAny(ctx, userID, f.ActorSirets()...); err != nil {
		return Form{}, err
	}
	if f.EmitterType != EmitterAppendix2 && len(f.Grouping) > 0 {
		return Form{}, shared.NewValidationError("grouping is only allowed on appendix 2 emitters")
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if len(f.Grouping) > 0 {
			if err := checkAllocations(ctx, tx, f.ID, f.Grouping); err != nil {
				return err
			}
		}
		if err := tx.CreateForm(ctx, f); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, s.event(f, userID, "BsddCreated", nil)); err != nil {
			return err
		}
		s.scheduleReindex(tx, f.ID)
		return nil
	})
	if err != nil {
		return Form{}, err
	}
	return f, nil
}

// Update modifies a form. Fields frozen by a signature cannot change anymore.
func (s *Service) Update(ctx context.Context, userID, id string, input CreateFormInput) (Form, error) {
	if err := validateInput(input); err != nil {
		return Form{}, err
	}
	var out Form
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		f, err := tx.FindForm(ctx, id)
		if err != nil {
			return err
		}
		if err := s.authorizeAny(ctx, userID, f.ActorSirets()...); err != nil {
			return err
		}
		if f.HasBlockingSignature() {
			return shared.Forbiddenf("form %s is signed and can only change through a revision request", f.ReadableID)
		}

		updated := input.applyTo(f)
		updated.UpdatedAt = s.now()
		if len(updated.Grouping) > 0 {
			if updated.EmitterType != EmitterAppendix2 {
				return shared.NewValidationError("grouping is only allowed on appendix 2 emitters")
			}
			if err := checkAllocations(ctx, tx, updated.ID, updated.Grouping); err != nil {
				return err
			}
		}
		if err := tx.SetGrouping(ctx, updated.ID, updated.Grouping); err != nil {
			return err
		}
		if err := tx.UpdateForm(ctx, updated); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, s.event(updated, userID, "BsddUpdated", nil)); err != nil {
			return err
		}
		s.scheduleReindex(tx, updated.ID)
		out = updated
		return nil
	})
	return out, err
}

// Delete soft-deletes a form and frees its appendix-2 allocations.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		f, err := tx.FindForm(ctx, id)
		if err != nil {
			return err
		}
		if err := s.authorizeAny(ctx, userID, f.ActorSirets()...); err != nil {
			return err
		}
		if f.HasBlockingSignature() {
			return shared.Forbiddenf("form %s is signed and cannot be deleted", f.ReadableID)
		}
		if err := releaseParents(ctx, tx, s, userID, &f); err != nil {
			return err
		}
		f.IsDeleted = true
		f.UpdatedAt = s.now()
		if err := tx.UpdateForm(ctx, f); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, s.event(f, userID, "BsddDeleted", nil)); err != nil {
			return err
		}
		s.scheduleReindex(tx, f.ID)
		return nil
	})
}

// MarkAsSealed validates the complete form and gives it legal existence.
// Appendix-2 parents fully consumed by sealed children move to GROUPED.
func (s *Service) MarkAsSealed(ctx context.Context, userID, id string) (Form, error) {
	return s.transition(ctx, userID, id, EventMarkAsSealed, bsd.Payload{}, func(ctx context.Context, tx TxRepository, f *Form) error {
		if err := validateSealed(f); err != nil {
			return err
		}
		if err := s.authorizeAny(ctx, userID, f.ActorSirets()...); err != nil {
			return err
		}
		return settleParentsOnSeal(ctx, tx, s, userID, f)
	})
}

// SignEmission records the producer (or eco-organisme) signature.
func (s *Service) SignEmission(ctx context.Context, userID, id string, sig SignatureInput) (Form, error) {
	if err := validateInput(sig); err != nil {
		return Form{}, err
	}
	return s.transition(ctx, userID, id, EventSignedByProducer, bsd.Payload{}, func(ctx context.Context, tx TxRepository, f *Form) error {
		if err := s.authorizeAny(ctx, userID, f.EmitterCompanySiret, f.EcoOrganismeSiret); err != nil {
			return err
		}
		f.EmittedAt = s.now()
		f.EmittedBy = sig.Author
		return nil
	})
}

// MarkAsSent records the joint emitter and transporter hand-over in one
// step, skipping the split signature flow.
func (s *Service) MarkAsSent(ctx context.Context, userID, id string, sig SignatureInput) (Form, error) {
	if err := validateInput(sig); err != nil {
		return Form{}, err
	}
	return s.transition(ctx, userID, id, EventMarkAsSent, bsd.Payload{}, func(ctx context.Context, tx TxRepository, f *Form) error {
		if err := s.authorizeAny(ctx, userID, f.EmitterCompanySiret, f.EcoOrganismeSiret, f.RecipientCompanySiret); err != nil {
			return err
		}
		now := s.now()
		if f.EmittedAt.IsZero() {
			f.EmittedAt = now
			f.EmittedBy = sig.Author
		}
		f.SentAt = now
		f.SentBy = sig.Author
		f.CurrentTransporterSiret = f.TransporterCompanySiret
		return nil
	})
}

// SignTransport records the transporter takeover, sending the waste on the
// road.
func (s *Service) SignTransport(ctx context.Context, userID, id string, sig SignatureInput) (Form, error) {
	if err := validateInput(sig); err != nil {
		return Form{}, err
	}
	return s.transition(ctx, userID, id, EventSignedByTransporter, bsd.Payload{}, func(ctx context.Context, tx TxRepository, f *Form) error {
		if f.Status == StatusSignedByTempStorer {
			if f.ForwardedIn == nil {
				return shared.Conflictf("form %s has no forwarding document", f.ReadableID)
			}
			if err := s.authorizeAny(ctx, userID, f.ForwardedIn.TransporterCompanySiret); err != nil {
				return err
			}
			f.ForwardedIn.SentAt = s.now()
			f.ForwardedIn.SentBy = sig.Author
			f.ForwardedIn.Status = StatusSent
			f.ForwardedIn.UpdatedAt = s.now()
			return tx.UpdateForm(ctx, *f.ForwardedIn)
		}
		if err := s.authorizeAny(ctx, userID, f.TransporterCompanySiret, f.TransporterCompanyVatNumber); err != nil {
			return err
		}
		f.SentAt = s.now()
		f.SentBy = sig.Author
		f.CurrentTransporterSiret = f.TransporterCompanySiret
		return nil
	})
}

// MarkAsReceived records arrival at the destination. Refusal is terminal and
// releases any appendix-2 parents back to AWAITING_GROUP. Transport segments
// never taken over are dropped on reception.
func (s *Service) MarkAsReceived(ctx context.Context, userID, id string, input ReceptionInput) (Form, error) {
	if err := validateInput(input); err != nil {
		return Form{}, err
	}
	payload := bsd.Payload{Acceptation: input.Acceptation}
	return s.transition(ctx, userID, id, EventMarkAsReceived, payload, func(ctx context.Context, tx TxRepository, f *Form) error {
		destination := f.RecipientCompanySiret
		if f.Status == StatusResent && f.ForwardedIn != nil {
			destination = f.ForwardedIn.RecipientCompanySiret
		}
		if err := s.authorizeAny(ctx, userID, destination); err != nil {
			return err
		}
		applyReception(f, input, s.now())
		if err := tx.DeleteStaleSegments(ctx, f.ID); err != nil {
			return err
		}
		f.Segments = takenOverSegments(f.Segments)
		if input.Acceptation == bsd.AcceptationRefused {
			return releaseParents(ctx, tx, s, userID, f)
		}
		return nil
	})
}

// MarkAsAccepted records the acceptation verdict when it was not given at
// reception time.
func (s *Service) MarkAsAccepted(ctx context.Context, userID, id string, input ReceptionInput) (Form, error) {
	if err := validateInput(input); err != nil {
		return Form{}, err
	}
	if input.Acceptation == "" {
		return Form{}, shared.NewValidationError("wasteAcceptationStatus is required")
	}
	payload := bsd.Payload{Acceptation: input.Acceptation}
	return s.transition(ctx, userID, id, EventMarkAsAccepted, payload, func(ctx context.Context, tx TxRepository, f *Form) error {
		if err := s.authorizeAny(ctx, userID, f.RecipientCompanySiret); err != nil {
			return err
		}
		f.WasteAcceptationStatus = input.Acceptation
		f.WasteRefusalReason = input.RefusalReason
		if input.QuantityReceived > 0 {
			f.QuantityReceived = input.QuantityReceived
		}
		if input.Acceptation == bsd.AcceptationRefused {
			f.QuantityReceived = 0
			return releaseParents(ctx, tx, s, userID, f)
		}
		return nil
	})
}

// MarkAsProcessed records the final treatment. Grouping codes park the form
// in AWAITING_GROUP; otherwise parents consumed by this form are processed
// along with it.
func (s *Service) MarkAsProcessed(ctx context.Context, userID, id string, input ProcessingInput) (Form, error) {
	if err := validateInput(input); err != nil {
		return Form{}, err
	}
	payload := bsd.Payload{OperationCode: input.OperationCode, NoTraceability: input.NoTraceability}
	return s.transition(ctx, userID, id, EventMarkAsProcessed, payload, func(ctx context.Context, tx TxRepository, f *Form) error {
		destination := f.RecipientCompanySiret
		if f.RecipientIsTempStorage && f.ForwardedIn != nil {
			destination = f.ForwardedIn.RecipientCompanySiret
		}
		if err := s.authorizeAny(ctx, userID, destination, f.RecipientCompanySiret); err != nil {
			return err
		}
		f.ProcessedAt = input.ProcessedAt
		f.ProcessedBy = input.Signature.Author
		f.ProcessingOperationDone = input.OperationCode
		f.NoTraceability = input.NoTraceability
		if !bsd.IsGroupingOperation(input.OperationCode) {
			return settleParentsOnProcess(ctx, tx, s, userID, f)
		}
		return nil
	})
}

// MarkAsTempStored records arrival at the temporary storage site.
func (s *Service) MarkAsTempStored(ctx context.Context, userID, id string, input ReceptionInput) (Form, error) {
	if err := validateInput(input); err != nil {
		return Form{}, err
	}
	payload := bsd.Payload{Acceptation: input.Acceptation}
	return s.transition(ctx, userID, id, EventMarkAsTempStored, payload, func(ctx context.Context, tx TxRepository, f *Form) error {
		if !f.RecipientIsTempStorage {
			return shared.Conflictf("form %s destination is not a temporary storage site", f.ReadableID)
		}
		if err := s.authorizeAny(ctx, userID, f.RecipientCompanySiret); err != nil {
			return err
		}
		applyReception(f, input, s.now())
		if err := tx.DeleteStaleSegments(ctx, f.ID); err != nil {
			return err
		}
		f.Segments = takenOverSegments(f.Segments)
		if input.Acceptation == bsd.AcceptationRefused {
			return releaseParents(ctx, tx, s, userID, f)
		}
		return nil
	})
}

// MarkAsResealed completes the forwarding leg and creates the document the
// temporary storer re-emits towards the final destination.
func (s *Service) MarkAsResealed(ctx context.Context, userID, id string, input ResealInput) (Form, error) {
	if err := validateInput(input); err != nil {
		return Form{}, err
	}
	return s.transition(ctx, userID, id, EventMarkAsResealed, bsd.Payload{}, func(ctx context.Context, tx TxRepository, f *Form) error {
		if err := s.authorizeAny(ctx, userID, f.RecipientCompanySiret); err != nil {
			return err
		}
		if f.ForwardedInID != "" {
			return nil
		}
		now := s.now()
		suite := input.toForwardedForm(f)
		suite.ID = uuid.NewString()
		suite.ReadableID = f.ReadableID + "-suite"
		suite.Status = StatusSealed
		suite.OwnerID = f.OwnerID
		suite.CreatedAt = now
		suite.UpdatedAt = now
		if err := tx.CreateForm(ctx, suite); err != nil {
			return err
		}
		f.ForwardedInID = suite.ID
		f.ForwardedIn = &suite
		return nil
	})
}

// SignedByTempStorer records the temporary storer's re-emission signature.
func (s *Service) SignedByTempStorer(ctx context.Context, userID, id string, sig SignatureInput) (Form, error) {
	if err := validateInput(sig); err != nil {
		return Form{}, err
	}
	return s.transition(ctx, userID, id, EventSignedByTempStorer, bsd.Payload{}, func(ctx context.Context, tx TxRepository, f *Form) error {
		if err := s.authorizeAny(ctx, userID, f.RecipientCompanySiret); err != nil {
			return err
		}
		if f.ForwardedIn != nil {
			f.ForwardedIn.EmittedAt = s.now()
			f.ForwardedIn.EmittedBy = sig.Author
			f.ForwardedIn.UpdatedAt = s.now()
			return tx.UpdateForm(ctx, *f.ForwardedIn)
		}
		return nil
	})
}

// transition runs the common shape of every lifecycle operation: load, apply
// the per-operation mutation, resolve the next status through the machine,
// persist, journal and schedule the projection refresh.
func (s *Service) transition(ctx context.Context, userID, id string, evt bsd.EventType, payload bsd.Payload, apply func(context.Context, TxRepository, *Form) error) (Form, error) {
	var out Form
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		f, err := tx.FindForm(ctx, id)
		if err != nil {
			return err
		}
		from := f.Status
		next, err := Machine.Transition(f.Status, evt, payload)
		if err != nil {
			return err
		}
		if apply != nil {
			if err := apply(ctx, tx, &f); err != nil {
				return err
			}
		}
		f.Status = next
		f.UpdatedAt = s.now()
		if err := tx.UpdateForm(ctx, f); err != nil {
			return err
		}
		data := map[string]any{"event": string(evt), "from": string(from), "to": string(next)}
		if err := tx.AppendEvent(ctx, s.event(f, userID, "BsddSigned", data)); err != nil {
			return err
		}
		s.scheduleReindex(tx, f.ID)
		if f.ForwardedInID != "" {
			s.scheduleReindex(tx, f.ForwardedInID)
		}
		out = f
		return nil
	})
	return out, err
}

func (s *Service) event(f Form, userID, eventType string, data map[string]any) events.Event {
	return events.New(f.ID, userID, eventType, data)
}

func (s *Service) scheduleReindex(tx TxRepository, id string) {
	tx.AfterCommit(func() {
		if err := s.reindex.Enqueue(context.Background(), bsd.TypeBSDD, id); err != nil {
			s.logger.Error("failed to enqueue reindex", "bsd_id", id, "error", err)
		}
	})
}

// authorizeAny grants access when the user acts for at least one of the given
// SIRETs. Empty entries are skipped.
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
	return shared.Forbiddenf("user is not allowed to act on this form")
}

func applyReception(f *Form, input ReceptionInput, now time.Time) {
	f.ReceivedAt = input.ReceivedAt
	f.ReceivedBy = input.Signature.Author
	f.WasteAcceptationStatus = input.Acceptation
	f.WasteRefusalReason = input.RefusalReason
	f.QuantityReceived = input.QuantityReceived
	if input.Acceptation == bsd.AcceptationRefused {
		f.QuantityReceived = 0
	}
}
