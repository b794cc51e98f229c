// Package bsff implements the fluorinated gas tracking form. Containers are
// tracked individually: each packaging carries its own acceptation and
// treatment, and the document status is derived bottom-up from them.
package bsff

import (
	"time"

	"github.com/wastetrack/wastetrack/internal/bsd"
)

// Statuses of a BSFF.
const (
	StatusInitial         bsd.Status = "INITIAL"
	StatusSignedByEmitter bsd.Status = "SIGNED_BY_EMITTER"
	StatusSent            bsd.Status = "SENT"
	StatusReceived        bsd.Status = "RECEIVED"
	StatusAccepted        bsd.Status = "ACCEPTED"
	// StatusPartiallyRefused means at least one container was refused
	// while others continue through treatment.
	StatusPartiallyRefused bsd.Status = "PARTIALLY_REFUSED"
	// StatusIntermediatelyProcessed means every container was treated but
	// at least one went through a regrouping operation and awaits its
	// next document.
	StatusIntermediatelyProcessed bsd.Status = "INTERMEDIATELY_PROCESSED"
	StatusProcessed               bsd.Status = "PROCESSED"
	StatusRefused                 bsd.Status = "REFUSED"
)

// Signature steps.
const (
	SignEmission  bsd.EventType = "EMISSION"
	SignTransport bsd.EventType = "TRANSPORT"
	SignReception bsd.EventType = "RECEPTION"
)

// FicheIntervention records a detenteur whose equipment the fluid was
// drained from. Detenteurs follow the document but never act on it.
type FicheIntervention struct {
	Numero         string `json:"numero"`
	DetenteurSiret string `json:"detenteurCompanySiret"`
	DetenteurName  string `json:"detenteurCompanyName"`
}

// Packaging is one tracked container.
type Packaging struct {
	ID     string  `json:"id"`
	BsffID string  `json:"bsffId"`
	Numero string  `json:"numero"`
	Weight float64 `json:"weight"`

	Acceptation       bsd.WasteAcceptation `json:"acceptationStatus"`
	AcceptationWeight float64              `json:"acceptationWeight"`
	AcceptationDate   time.Time            `json:"acceptationDate"`
	RefusalReason     string               `json:"acceptationRefusalReason"`

	OperationCode string    `json:"operationCode"`
	OperationDate time.Time `json:"operationDate"`

	// NextBsffID is the document this container moved into after a
	// regrouping operation; PreviousPackagingIDs are the containers it
	// consumed. NextSettled is stamped when the descendant chain reached
	// final treatment.
	NextBsffID           string   `json:"nextBsffId"`
	PreviousPackagingIDs []string `json:"previousPackagings"`
	NextSettled          bool     `json:"nextSettled"`
}

// Decided reports whether the destination gave a verdict on this container.
func (p *Packaging) Decided() bool {
	return p.Acceptation != ""
}

// Refused reports a refused container.
func (p *Packaging) Refused() bool {
	return p.Acceptation == bsd.AcceptationRefused
}

// Resolved reports whether the container reached final treatment, either
// directly or through its descendant chain.
func (p *Packaging) Resolved() bool {
	if p.OperationCode == "" {
		return false
	}
	if !bsd.IsGroupingOperation(p.OperationCode) {
		return true
	}
	return p.NextSettled
}

// Bsff is a fluorinated gas tracking document.
type Bsff struct {
	ID        string     `json:"id"`
	Status    bsd.Status `json:"status"`
	IsDraft   bool       `json:"isDraft"`
	IsDeleted bool       `json:"isDeleted"`
	OwnerID   string     `json:"ownerId"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`

	EmitterCompanyName  string `json:"emitterCompanyName"`
	EmitterCompanySiret string `json:"emitterCompanySiret"`

	TransporterCompanyName      string `json:"transporterCompanyName"`
	TransporterCompanySiret     string `json:"transporterCompanySiret"`
	TransporterCompanyVatNumber string `json:"transporterCompanyVatNumber"`

	DestinationCompanyName  string `json:"destinationCompanyName"`
	DestinationCompanySiret string `json:"destinationCompanySiret"`

	WasteCode        string `json:"wasteCode"`
	WasteDescription string `json:"wasteDescription"`

	EmissionSignature  *bsd.Signature `json:"emissionSignature,omitempty"`
	TransportSignature *bsd.Signature `json:"transportSignature,omitempty"`
	ReceptionSignature *bsd.Signature `json:"receptionSignature,omitempty"`
	ReceptionDate      time.Time      `json:"destinationReceptionDate"`

	FicheInterventions []FicheIntervention `json:"ficheInterventions"`
	Packagings         []Packaging         `json:"packagings"`
}

// ActorSirets returns the distinct non-empty SIRETs present on the document,
// detenteurs included.
func (b *Bsff) ActorSirets() []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	add(b.EmitterCompanySiret)
	add(b.TransporterCompanySiret)
	add(b.TransporterCompanyVatNumber)
	add(b.DestinationCompanySiret)
	for _, fi := range b.FicheInterventions {
		add(fi.DetenteurSiret)
	}
	return out
}

// HasBlockingSignature reports whether any signature has been recorded.
func (b *Bsff) HasBlockingSignature() bool {
	return b.EmissionSignature != nil || b.TransportSignature != nil || b.ReceptionSignature != nil
}

// Machine covers the signature-driven half of the lifecycle. Everything past
// reception is derived from the packagings, not signed as a whole.
var Machine = bsd.Machine{
	Transitions: map[bsd.Status]map[bsd.EventType]bsd.Outcome{
		StatusInitial: {
			SignEmission: bsd.To(StatusSignedByEmitter),
		},
		StatusSignedByEmitter: {
			SignTransport: bsd.To(StatusSent),
		},
		StatusSent: {
			SignReception: bsd.To(StatusReceived),
		},
	},
	Terminal: map[bsd.Status]bool{
		StatusProcessed: true,
		StatusRefused:   true,
	},
}
