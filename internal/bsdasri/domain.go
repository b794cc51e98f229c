// Package bsdasri implements the infectious medical waste tracking form.
// Beyond the simple chain it supports grouping at a collection site and
// synthesis documents a transporter emits to consolidate its own pickups.
package bsdasri

import (
	"time"

	"github.com/wastetrack/wastetrack/internal/bsd"
)

// Statuses of a BSDASRI.
const (
	StatusInitial          bsd.Status = "INITIAL"
	StatusSignedByProducer bsd.Status = "SIGNED_BY_PRODUCER"
	StatusSent             bsd.Status = "SENT"
	StatusReceived         bsd.Status = "RECEIVED"
	StatusProcessed        bsd.Status = "PROCESSED"
	StatusAwaitingGroup    bsd.Status = "AWAITING_GROUP"
	StatusRefused          bsd.Status = "REFUSED"
)

// Signature steps.
const (
	SignEmission  bsd.EventType = "EMISSION"
	SignTransport bsd.EventType = "TRANSPORT"
	SignReception bsd.EventType = "RECEPTION"
	SignOperation bsd.EventType = "OPERATION"
)

// DasriType distinguishes consolidation circuits.
type DasriType string

const (
	TypeSimple DasriType = "SIMPLE"
	// TypeGrouping consolidates received waste at a collection site.
	TypeGrouping DasriType = "GROUPING"
	// TypeSynthesis is emitted by a transporter to consolidate bsdasris it
	// already carries; the originals travel inside it.
	TypeSynthesis DasriType = "SYNTHESIS"
)

// Bsdasri is a medical waste tracking document.
type Bsdasri struct {
	ID        string     `json:"id"`
	Status    bsd.Status `json:"status"`
	IsDraft   bool       `json:"isDraft"`
	IsDeleted bool       `json:"isDeleted"`
	OwnerID   string     `json:"ownerId"`
	Type      DasriType  `json:"type"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`

	EmitterCompanyName  string `json:"emitterCompanyName"`
	EmitterCompanySiret string `json:"emitterCompanySiret"`
	// The producer may allow direct take-over without an electronic
	// emission signature.
	EmitterAllowsDirectTakeOver bool `json:"isEmissionDirectTakenOver"`

	TransporterCompanyName      string `json:"transporterCompanyName"`
	TransporterCompanySiret     string `json:"transporterCompanySiret"`
	TransporterCompanyVatNumber string `json:"transporterCompanyVatNumber"`

	DestinationCompanyName  string `json:"destinationCompanyName"`
	DestinationCompanySiret string `json:"destinationCompanySiret"`

	EcoOrganismeSiret string `json:"ecoOrganismeSiret"`

	WasteCode string `json:"wasteCode"`

	EmissionSignature  *bsd.Signature `json:"emissionSignature,omitempty"`
	TransportSignature *bsd.Signature `json:"transportSignature,omitempty"`
	ReceptionSignature *bsd.Signature `json:"receptionSignature,omitempty"`
	OperationSignature *bsd.Signature `json:"operationSignature,omitempty"`

	DestinationReceptionWeight float64              `json:"destinationReceptionWasteWeightValue"`
	DestinationReceptionDate   time.Time            `json:"destinationReceptionDate"`
	DestinationAcceptation     bsd.WasteAcceptation `json:"destinationReceptionAcceptationStatus"`
	DestinationOperationCode   string               `json:"destinationOperationCode"`
	DestinationOperationDate   time.Time            `json:"destinationOperationDate"`

	// Grouping lists the AWAITING_GROUP parents a GROUPING document
	// consumes; GroupedInID points back at the child.
	Grouping    []string `json:"grouping"`
	GroupedInID string   `json:"groupedInId"`
	// Synthesizing lists the SENT documents a SYNTHESIS one carries;
	// SynthesizedInID points back at the synthesis.
	Synthesizing    []string `json:"synthesizing"`
	SynthesizedInID string   `json:"synthesizedInId"`
}

// ActorSirets returns the distinct non-empty SIRETs present on the document.
func (b *Bsdasri) ActorSirets() []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range []string{
		b.EmitterCompanySiret, b.TransporterCompanySiret, b.TransporterCompanyVatNumber,
		b.DestinationCompanySiret, b.EcoOrganismeSiret,
	} {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// HasBlockingSignature reports whether any signature has been recorded.
func (b *Bsdasri) HasBlockingSignature() bool {
	return b.EmissionSignature != nil || b.TransportSignature != nil ||
		b.ReceptionSignature != nil || b.OperationSignature != nil
}
