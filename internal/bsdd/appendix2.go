package bsdd

import (
	"context"
	"math"
	"strconv"

	"github.com/wastetrack/wastetrack/internal/bsd"
	"github.com/wastetrack/wastetrack/internal/shared"
)

// checkAllocations verifies each grouping link against the quantity still
// available on its parent. The remaining quantity is recomputed inside the
// enclosing transaction, so two concurrent children cannot both consume the
// same tonnage.
func checkAllocations(ctx context.Context, tx TxRepository, childID string, links []GroupingLink) error {
	for _, link := range links {
		parent, err := tx.FindForm(ctx, link.ParentID)
		if err != nil {
			return err
		}
		if parent.Status != StatusAwaitingGroup && parent.Status != StatusGrouped {
			return shared.NewValidationError("form " + parent.ReadableID + " is not awaiting grouping")
		}
		allocated, err := tx.AllocatedQuantity(ctx, link.ParentID, childID)
		if err != nil {
			return err
		}
		remaining := roundQuantity(parent.QuantityReceived - allocated)
		if link.Quantity <= 0 || link.Quantity > remaining {
			return shared.NewValidationError(
				"quantity exceeds what is available on " + parent.ReadableID +
					": remaining quantity " + formatQuantity(remaining) +
					", attempted " + formatQuantity(link.Quantity))
		}
	}
	return nil
}

// settleParentsOnSeal moves fully consumed parents from AWAITING_GROUP to
// GROUPED once the child that consumes them gains legal existence.
func settleParentsOnSeal(ctx context.Context, tx TxRepository, s *Service, userID string, child *Form) error {
	for _, link := range child.Grouping {
		parent, err := tx.FindForm(ctx, link.ParentID)
		if err != nil {
			return err
		}
		if parent.Status != StatusAwaitingGroup {
			continue
		}
		allocated, err := tx.AllocatedQuantity(ctx, link.ParentID, "")
		if err != nil {
			return err
		}
		if roundQuantity(allocated) < roundQuantity(parent.QuantityReceived) {
			continue
		}
		next, err := Machine.Transition(parent.Status, EventMarkAsGrouped, bsd.Payload{})
		if err != nil {
			return err
		}
		parent.Status = next
		parent.UpdatedAt = s.now()
		if err := tx.UpdateForm(ctx, parent); err != nil {
			return err
		}
		data := map[string]any{"event": string(EventMarkAsGrouped), "childId": child.ID}
		if err := tx.AppendEvent(ctx, s.event(parent, userID, "BsddSigned", data)); err != nil {
			return err
		}
		s.scheduleReindex(tx, parent.ID)
	}
	return nil
}

// settleParentsOnProcess closes the grouped parents together with the child
// that carried their waste to final treatment.
func settleParentsOnProcess(ctx context.Context, tx TxRepository, s *Service, userID string, child *Form) error {
	for _, link := range child.Grouping {
		parent, err := tx.FindForm(ctx, link.ParentID)
		if err != nil {
			return err
		}
		if parent.Status != StatusGrouped {
			continue
		}
		next, err := Machine.Transition(parent.Status, EventMarkAsProcessed, bsd.Payload{})
		if err != nil {
			return err
		}
		parent.Status = next
		parent.ProcessedAt = child.ProcessedAt
		parent.ProcessingOperationDone = child.ProcessingOperationDone
		parent.UpdatedAt = s.now()
		if err := tx.UpdateForm(ctx, parent); err != nil {
			return err
		}
		data := map[string]any{"event": string(EventMarkAsProcessed), "childId": child.ID}
		if err := tx.AppendEvent(ctx, s.event(parent, userID, "BsddSigned", data)); err != nil {
			return err
		}
		s.scheduleReindex(tx, parent.ID)
	}
	return nil
}

// releaseParents detaches the child from its parents and reopens them for
// grouping. Called when a grouping child is refused or deleted.
func releaseParents(ctx context.Context, tx TxRepository, s *Service, userID string, child *Form) error {
	if len(child.Grouping) == 0 {
		return nil
	}
	parents, err := tx.FindGroupingParents(ctx, child.ID)
	if err != nil {
		return err
	}
	for _, parent := range parents {
		if parent.Status != StatusGrouped {
			continue
		}
		// GROUPED only reflects the child's claim on the waste; dropping
		// the claim reopens the parent
		parent.Status = StatusAwaitingGroup
		parent.UpdatedAt = s.now()
		if err := tx.UpdateForm(ctx, parent); err != nil {
			return err
		}
		data := map[string]any{"event": "GROUPING_RELEASED", "childId": child.ID}
		if err := tx.AppendEvent(ctx, s.event(parent, userID, "BsddSigned", data)); err != nil {
			return err
		}
		s.scheduleReindex(tx, parent.ID)
	}
	child.Grouping = nil
	return tx.RemoveGrouping(ctx, child.ID)
}

func formatQuantity(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

// roundQuantity keeps tonnage arithmetic at the kilogram scale so binary
// float noise never shows up in capacity checks or error messages.
func roundQuantity(q float64) float64 {
	return math.Round(q*1e6) / 1e6
}
