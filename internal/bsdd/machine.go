package bsdd

import "github.com/wastetrack/wastetrack/internal/bsd"

// receptionOutcome resolves the post-reception status from the destination's
// acceptation verdict. A reception signed without a verdict stays RECEIVED
// until acceptation is signed separately.
func receptionOutcome(p bsd.Payload) bsd.Status {
	switch p.Acceptation {
	case bsd.AcceptationAccepted, bsd.AcceptationPartiallyRefused:
		return StatusAccepted
	case bsd.AcceptationRefused:
		return StatusRefused
	default:
		return StatusReceived
	}
}

func tempStorageOutcome(p bsd.Payload) bsd.Status {
	switch p.Acceptation {
	case bsd.AcceptationAccepted, bsd.AcceptationPartiallyRefused:
		return StatusTempStorerAccepted
	case bsd.AcceptationRefused:
		return StatusRefused
	default:
		return StatusTempStored
	}
}

// processedOutcome is table-driven off the operation code: regroupement and
// transit codes park the form in AWAITING_GROUP instead of PROCESSED, and the
// no-traceability exemption short-circuits both.
func processedOutcome(p bsd.Payload) bsd.Status {
	if p.NoTraceability {
		return StatusNoTraceability
	}
	if bsd.IsGroupingOperation(p.OperationCode) {
		return StatusAwaitingGroup
	}
	return StatusProcessed
}

func acceptationOutcome(p bsd.Payload) bsd.Status {
	if p.Acceptation == bsd.AcceptationRefused {
		return StatusRefused
	}
	return StatusAccepted
}

// Machine is the BSDD status machine, including the temporary storage
// sub-chain.
var Machine = bsd.Machine{
	Transitions: map[bsd.Status]map[bsd.EventType]bsd.Outcome{
		StatusDraft: {
			EventMarkAsSealed: bsd.To(StatusSealed),
		},
		StatusSealed: {
			EventSignedByProducer: bsd.To(StatusSignedByProducer),
			EventMarkAsSent:       bsd.To(StatusSent),
		},
		StatusSignedByProducer: {
			EventSignedByTransporter: bsd.To(StatusSent),
		},
		StatusSent: {
			EventMarkAsReceived:   receptionOutcome,
			EventMarkAsTempStored: tempStorageOutcome,
			EventMarkAsRefused:    bsd.To(StatusRefused),
		},
		StatusReceived: {
			EventMarkAsAccepted: acceptationOutcome,
			EventMarkAsRefused:  bsd.To(StatusRefused),
		},
		StatusAccepted: {
			EventMarkAsProcessed: processedOutcome,
		},
		StatusTempStored: {
			EventMarkAsTempStorerAccepted: tempStorageOutcome,
			EventMarkAsRefused:            bsd.To(StatusRefused),
		},
		StatusTempStorerAccepted: {
			EventMarkAsResealed: bsd.To(StatusResealed),
			// the temporary storer may decide on final treatment instead
			// of re-shipping
			EventMarkAsProcessed: processedOutcome,
		},
		StatusResealed: {
			EventSignedByTempStorer: bsd.To(StatusSignedByTempStorer),
			EventMarkAsResent:       bsd.To(StatusResent),
		},
		StatusSignedByTempStorer: {
			EventSignedByTransporter: bsd.To(StatusResent),
		},
		StatusResent: {
			EventMarkAsReceived: receptionOutcome,
		},
		StatusAwaitingGroup: {
			EventMarkAsGrouped: bsd.To(StatusGrouped),
		},
		StatusGrouped: {
			EventMarkAsProcessed: bsd.To(StatusProcessed),
		},
	},
	Terminal: map[bsd.Status]bool{
		StatusProcessed:         true,
		StatusRefused:           true,
		StatusNoTraceability:    true,
		StatusFollowedWithPnttd: true,
	},
}
