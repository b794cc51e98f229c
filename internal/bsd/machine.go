package bsd

import (
	"fmt"

	"github.com/wastetrack/wastetrack/internal/shared"
)

// WasteAcceptation is the destination's verdict on received waste.
type WasteAcceptation string

const (
	AcceptationAccepted         WasteAcceptation = "ACCEPTED"
	AcceptationRefused          WasteAcceptation = "REFUSED"
	AcceptationPartiallyRefused WasteAcceptation = "PARTIALLY_REFUSED"
)

// Payload carries the event data a transition outcome may depend on.
type Payload struct {
	Acceptation    WasteAcceptation
	OperationCode  string
	NoTraceability bool
}

// Outcome resolves the next status for an event, possibly from the payload.
type Outcome func(Payload) Status

// To returns a constant outcome.
func To(s Status) Outcome {
	return func(Payload) Status { return s }
}

// Machine is a per-type transition table. It is pure and total: unknown
// (status, event) pairs are rejected, they never mutate anything.
type Machine struct {
	Transitions map[Status]map[EventType]Outcome
	Terminal    map[Status]bool
}

// IsTerminal reports whether no event can leave the given status.
func (m Machine) IsTerminal(s Status) bool {
	return m.Terminal[s]
}

// Transition computes the next status for an event. A terminal current status
// yields a conflict; an event the current status does not accept yields a
// sequencing conflict naming both.
func (m Machine) Transition(current Status, event EventType, payload Payload) (Status, error) {
	if m.Terminal[current] {
		return "", shared.Conflictf("no transition out of terminal status %s", current)
	}
	events, ok := m.Transitions[current]
	if !ok {
		return "", shared.Conflictf("unknown status %s", current)
	}
	outcome, ok := events[event]
	if !ok {
		return "", shared.Conflictf("event %s cannot be applied in status %s", event, current)
	}
	next := outcome(payload)
	if next == "" {
		return "", fmt.Errorf("%w: outcome for %s/%s resolved to empty status", shared.ErrConflict, current, event)
	}
	return next, nil
}

// GroupingOperationCodes are the processing operation codes that classify an
// operation as regroupement/transit rather than final treatment. A document
// processed with one of these waits for a later grouping document instead of
// reaching its final state.
var GroupingOperationCodes = map[string]bool{
	"D 13": true,
	"D 14": true,
	"D 15": true,
	"R 12": true,
	"R 13": true,
}

// IsGroupingOperation reports whether code is a regroupement/transit code.
func IsGroupingOperation(code string) bool {
	return GroupingOperationCodes[code]
}
