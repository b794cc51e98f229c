// Package bsd holds the engine shared by the five waste tracking document
// types: the status machine, the dashboard tab classifier and the common
// vocabulary (statuses, signature events, actor fields).
package bsd

import "time"

// Type identifies one of the five legally distinct document types.
type Type string

const (
	TypeBSDD    Type = "BSDD"
	TypeBSDA    Type = "BSDA"
	TypeBSDASRI Type = "BSDASRI"
	TypeBSFF    Type = "BSFF"
	TypeBSVHU   Type = "BSVHU"
)

// Status is a document lifecycle status. Each type defines its own subset.
type Status string

// EventType names a signature or transition trigger.
type EventType string

// Tab is one of the six mutually exclusive dashboard buckets an actor sees a
// document under.
type Tab string

const (
	TabDraft     Tab = "isDraftFor"
	TabForAction Tab = "isForActionFor"
	TabFollow    Tab = "isFollowFor"
	TabArchived  Tab = "isArchivedFor"
	TabToCollect Tab = "isToCollectFor"
	TabCollected Tab = "isCollectedFor"
)

// Tabs lists every bucket in a stable order.
func Tabs() []Tab {
	return []Tab{TabDraft, TabForAction, TabFollow, TabArchived, TabToCollect, TabCollected}
}

// ActorField keys an actor slot on a document. Repeated physical SIRETs keep
// distinct keys (transport segment ids, numbered intermediaries) so the same
// company appearing under two roles is not conflated.
type ActorField string

const (
	FieldEmitter                  ActorField = "emitterCompanySiret"
	FieldRecipient                ActorField = "recipientCompanySiret"
	FieldDestination              ActorField = "destinationCompanySiret"
	FieldTransporter              ActorField = "transporterCompanySiret"
	FieldTransporterVat           ActorField = "transporterCompanyVatNumber"
	FieldWorker                   ActorField = "workerCompanySiret"
	FieldTrader                   ActorField = "traderCompanySiret"
	FieldBroker                   ActorField = "brokerCompanySiret"
	FieldEcoOrganisme             ActorField = "ecoOrganismeSiret"
	FieldNextDestination          ActorField = "destinationOperationNextDestinationCompanySiret"
	FieldForwardedInDestination   ActorField = "forwardedInDestinationCompanySiret"
	FieldForwardedInTransporter   ActorField = "forwardedInTransporterCompanySiret"
)

// Signature records one actor's signature on a document.
type Signature struct {
	Author string    `json:"author"`
	Date   time.Time `json:"date"`
}

// Signed reports whether the signature has been recorded.
func (s Signature) Signed() bool {
	return !s.Date.IsZero()
}
