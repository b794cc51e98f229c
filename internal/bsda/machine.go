package bsda

import "github.com/wastetrack/wastetrack/internal/bsd"

// operationOutcome resolves the destination's signature: refusal is terminal,
// a grouping code parks the document until a child takes the waste over.
func operationOutcome(p bsd.Payload) bsd.Status {
	if p.Acceptation == bsd.AcceptationRefused {
		return StatusRefused
	}
	if bsd.IsGroupingOperation(p.OperationCode) {
		return StatusAwaitingChild
	}
	return StatusProcessed
}

// Machine is the BSDA signature machine. Which shortcut applies (collection
// centre, private individual, disabled worker, paper signature) is decided by
// the service; the machine only states which jumps exist.
var Machine = bsd.Machine{
	Transitions: map[bsd.Status]map[bsd.EventType]bsd.Outcome{
		StatusInitial: {
			SignEmission:  bsd.To(StatusSignedByProducer),
			SignWork:      bsd.To(StatusSignedByWorker),
			SignTransport: bsd.To(StatusSent),
			SignOperation: operationOutcome,
		},
		StatusSignedByProducer: {
			SignWork:      bsd.To(StatusSignedByWorker),
			SignTransport: bsd.To(StatusSent),
		},
		StatusSignedByWorker: {
			SignTransport: bsd.To(StatusSent),
		},
		StatusSent: {
			SignOperation: operationOutcome,
		},
		StatusAwaitingChild: {
			SignOperation: operationOutcome,
		},
	},
	Terminal: map[bsd.Status]bool{
		StatusProcessed: true,
		StatusRefused:   true,
		StatusCanceled:  true,
	},
}
