package bsdasri

import "github.com/wastetrack/wastetrack/internal/bsd"

func receptionOutcome(p bsd.Payload) bsd.Status {
	if p.Acceptation == bsd.AcceptationRefused {
		return StatusRefused
	}
	return StatusReceived
}

func operationOutcome(p bsd.Payload) bsd.Status {
	if bsd.IsGroupingOperation(p.OperationCode) {
		return StatusAwaitingGroup
	}
	return StatusProcessed
}

// Machine is the BSDASRI signature machine. Direct take-over and synthesis
// both let the transporter sign from INITIAL; the service checks which one
// applies.
var Machine = bsd.Machine{
	Transitions: map[bsd.Status]map[bsd.EventType]bsd.Outcome{
		StatusInitial: {
			SignEmission:  bsd.To(StatusSignedByProducer),
			SignTransport: bsd.To(StatusSent),
		},
		StatusSignedByProducer: {
			SignTransport: bsd.To(StatusSent),
		},
		StatusSent: {
			SignReception: receptionOutcome,
		},
		StatusReceived: {
			SignOperation: operationOutcome,
		},
		StatusAwaitingGroup: {
			SignOperation: operationOutcome,
		},
	},
	Terminal: map[bsd.Status]bool{
		StatusProcessed: true,
		StatusRefused:   true,
	},
}
