package bsdd

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wastetrack/wastetrack/internal/shared"
)

// SegmentInput is the writable surface of a transport segment.
type SegmentInput struct {
	Mode                           string `json:"mode" validate:"omitempty,oneof=ROAD RAIL AIR RIVER SEA"`
	TransporterCompanySiret        string `json:"transporterCompanySiret" validate:"required,len=14,numeric"`
	TransporterCompanyName         string `json:"transporterCompanyName"`
	TransporterCompanyAddress      string `json:"transporterCompanyAddress"`
	TransporterCompanyContact      string `json:"transporterCompanyContact"`
	TransporterCompanyPhone        string `json:"transporterCompanyPhone"`
	TransporterCompanyMail         string `json:"transporterCompanyMail" validate:"omitempty,email"`
	TransporterIsExemptedOfReceipt bool   `json:"transporterIsExemptedOfReceipt"`
	TransporterReceipt             string `json:"transporterReceipt"`
}

// TakeOverInput is the signature of the next transporter taking the waste
// over.
type TakeOverInput struct {
	TakenOverAt time.Time `json:"takenOverAt" validate:"required"`
	TakenOverBy string    `json:"takenOverBy" validate:"required"`
}

// PrepareSegment announces the next leg of a multi-modal chain: the owner
// plans ahead on a draft, the current transporter extends the chain while the
// waste is on the road. Only one unconsumed segment may exist at a time. The
// segment has no effect on dashboards until it is marked ready to take over.
func (s *Service) PrepareSegment(ctx context.Context, userID, formID string, input SegmentInput) (TransportSegment, error) {
	if err := validateInput(input); err != nil {
		return TransportSegment{}, err
	}
	var out TransportSegment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		f, err := tx.FindForm(ctx, formID)
		if err != nil {
			return err
		}
		switch f.Status {
		case StatusDraft:
			if f.OwnerID != userID {
				return shared.Forbiddenf("only the form owner can prepare segments on a draft")
			}
		case StatusSent:
			if err := s.authorizeAny(ctx, userID, f.CurrentTransporterSiret); err != nil {
				return err
			}
		default:
			return shared.Conflictf("segments can only be prepared on a draft or while the waste is on the road")
		}
		if n := len(f.Segments); n > 0 && f.Segments[n-1].TakenOverAt.IsZero() {
			return shared.Conflictf("segment %d has not been taken over yet", f.Segments[n-1].SegmentNumber)
		}

		previousSiret := f.CurrentTransporterSiret
		if previousSiret == "" {
			previousSiret = f.TransporterCompanySiret
		}
		seg := TransportSegment{
			ID:                             uuid.NewString(),
			FormID:                         f.ID,
			SegmentNumber:                  len(f.Segments) + 1,
			Mode:                           input.Mode,
			TransporterCompanySiret:        input.TransporterCompanySiret,
			TransporterCompanyName:         input.TransporterCompanyName,
			TransporterCompanyAddress:      input.TransporterCompanyAddress,
			TransporterCompanyContact:      input.TransporterCompanyContact,
			TransporterCompanyPhone:        input.TransporterCompanyPhone,
			TransporterCompanyMail:         input.TransporterCompanyMail,
			TransporterIsExemptedOfReceipt: input.TransporterIsExemptedOfReceipt,
			TransporterReceipt:             input.TransporterReceipt,
			PreviousTransporterSiret:       previousSiret,
		}
		if err := tx.CreateSegment(ctx, seg); err != nil {
			return err
		}
		f.NextTransporterSiret = input.TransporterCompanySiret
		f.UpdatedAt = s.now()
		if err := tx.UpdateForm(ctx, f); err != nil {
			return err
		}
		s.scheduleReindex(tx, f.ID)
		out = seg
		return nil
	})
	return out, err
}

// MarkSegmentAsReadyToTakeOver seals the segment. Required transporter
// details are checked all at once so the caller sees every gap in one reply.
func (s *Service) MarkSegmentAsReadyToTakeOver(ctx context.Context, userID, formID, segmentID string) (TransportSegment, error) {
	var out TransportSegment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		f, err := tx.FindForm(ctx, formID)
		if err != nil {
			return err
		}
		seg, err := tx.FindSegment(ctx, segmentID)
		if err != nil {
			return err
		}
		if seg.FormID != f.ID {
			return shared.ErrNotFound
		}
		if err := s.authorizeAny(ctx, userID, seg.PreviousTransporterSiret); err != nil {
			return err
		}
		if seg.ReadyToTakeOver {
			return shared.Conflictf("segment %d is already ready to take over", seg.SegmentNumber)
		}
		if err := validateSegmentComplete(seg); err != nil {
			return err
		}
		seg.ReadyToTakeOver = true
		if err := tx.UpdateSegment(ctx, seg); err != nil {
			return err
		}
		s.scheduleReindex(tx, f.ID)
		out = seg
		return nil
	})
	return out, err
}

// TakeOverSegment records the hand-over: the segment transporter becomes the
// current one and the form moves to its dashboard.
func (s *Service) TakeOverSegment(ctx context.Context, userID, formID, segmentID string, input TakeOverInput) (TransportSegment, error) {
	if err := validateInput(input); err != nil {
		return TransportSegment{}, err
	}
	var out TransportSegment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		f, err := tx.FindForm(ctx, formID)
		if err != nil {
			return err
		}
		seg, err := tx.FindSegment(ctx, segmentID)
		if err != nil {
			return err
		}
		if seg.FormID != f.ID {
			return shared.ErrNotFound
		}
		if err := s.authorizeAny(ctx, userID, seg.TransporterCompanySiret); err != nil {
			return err
		}
		if !seg.ReadyToTakeOver {
			return shared.Conflictf("segment %d is not ready to take over", seg.SegmentNumber)
		}
		if !seg.TakenOverAt.IsZero() {
			return shared.Conflictf("segment %d has already been taken over", seg.SegmentNumber)
		}
		seg.TakenOverAt = input.TakenOverAt
		seg.TakenOverBy = input.TakenOverBy
		if err := tx.UpdateSegment(ctx, seg); err != nil {
			return err
		}
		f.CurrentTransporterSiret = seg.TransporterCompanySiret
		f.NextTransporterSiret = ""
		f.UpdatedAt = s.now()
		if err := tx.UpdateForm(ctx, f); err != nil {
			return err
		}
		s.scheduleReindex(tx, f.ID)
		out = seg
		return nil
	})
	return out, err
}

func validateSegmentComplete(seg TransportSegment) error {
	var msgs []string
	if seg.TransporterCompanySiret == "" {
		msgs = append(msgs, "transporter SIRET is required")
	}
	if seg.TransporterCompanyName == "" {
		msgs = append(msgs, "transporter name is required")
	}
	if seg.TransporterCompanyAddress == "" {
		msgs = append(msgs, "transporter address is required")
	}
	if seg.TransporterCompanyContact == "" {
		msgs = append(msgs, "transporter contact is required")
	}
	if seg.TransporterCompanyPhone == "" {
		msgs = append(msgs, "transporter phone is required")
	}
	if seg.TransporterCompanyMail == "" {
		msgs = append(msgs, "transporter email is required")
	}
	if !seg.TransporterIsExemptedOfReceipt && seg.TransporterReceipt == "" {
		msgs = append(msgs, "transporter receipt is required unless exempted")
	}
	if len(msgs) > 0 {
		return shared.NewValidationError(msgs...)
	}
	return nil
}

// takenOverSegments keeps only the segments whose hand-over was signed.
func takenOverSegments(segs []TransportSegment) []TransportSegment {
	var kept []TransportSegment
	for _, seg := range segs {
		if !seg.TakenOverAt.IsZero() {
			kept = append(kept, seg)
		}
	}
	return kept
}
