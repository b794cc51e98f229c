// Package bsda implements the asbestos waste tracking form. The lifecycle is
// signature-driven: producer, worker, transporter then destination each sign
// in turn, with shortcuts for waste collection centres and private
// individuals.
package bsda

import (
	"time"

	"github.com/wastetrack/wastetrack/internal/bsd"
)

// Statuses of a BSDA.
const (
	StatusInitial          bsd.Status = "INITIAL"
	StatusSignedByProducer bsd.Status = "SIGNED_BY_PRODUCER"
	StatusSignedByWorker   bsd.Status = "SIGNED_BY_WORKER"
	StatusSent             bsd.Status = "SENT"
	StatusProcessed        bsd.Status = "PROCESSED"
	StatusRefused          bsd.Status = "REFUSED"
	StatusAwaitingChild    bsd.Status = "AWAITING_CHILD"
	StatusCanceled         bsd.Status = "CANCELED"
)

// Signature steps.
const (
	SignEmission  bsd.EventType = "EMISSION"
	SignWork      bsd.EventType = "WORK"
	SignTransport bsd.EventType = "TRANSPORT"
	SignOperation bsd.EventType = "OPERATION"
)

// BsdaType distinguishes collection circuits.
type BsdaType string

const (
	// TypeCollection2710 is waste dropped at a collection centre: no
	// transporter, the destination signs alone.
	TypeCollection2710   BsdaType = "COLLECTION_2710"
	TypeOtherCollections BsdaType = "OTHER_COLLECTIONS"
	TypeGathering        BsdaType = "GATHERING"
	TypeReshipment       BsdaType = "RESHIPMENT"
)

// Bsda is an asbestos tracking document.
type Bsda struct {
	ID        string     `json:"id"`
	Status    bsd.Status `json:"status"`
	IsDraft   bool       `json:"isDraft"`
	IsDeleted bool       `json:"isDeleted"`
	OwnerID   string     `json:"ownerId"`
	Type      BsdaType   `json:"type"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`

	EmitterIsPrivateIndividual bool   `json:"emitterIsPrivateIndividual"`
	EmitterCompanyName         string `json:"emitterCompanyName"`
	EmitterCompanySiret        string `json:"emitterCompanySiret"`
	// The producer may sign on paper; the worker then opens the
	// electronic trail.
	EmitterPaperSignature bool `json:"emitterPaperSignature"`

	WorkerIsDisabled   bool   `json:"workerIsDisabled"`
	WorkerCompanyName  string `json:"workerCompanyName"`
	WorkerCompanySiret string `json:"workerCompanySiret"`

	TransporterCompanyName      string `json:"transporterCompanyName"`
	TransporterCompanySiret     string `json:"transporterCompanySiret"`
	TransporterCompanyVatNumber string `json:"transporterCompanyVatNumber"`

	DestinationCompanyName  string `json:"destinationCompanyName"`
	DestinationCompanySiret string `json:"destinationCompanySiret"`

	BrokerCompanySiret string `json:"brokerCompanySiret"`

	WasteCode string `json:"wasteCode"`
	WasteName string `json:"wasteMaterialName"`

	EmissionSignature  *bsd.Signature `json:"emissionSignature,omitempty"`
	WorkSignature      *bsd.Signature `json:"workSignature,omitempty"`
	TransportSignature *bsd.Signature `json:"transportSignature,omitempty"`
	OperationSignature *bsd.Signature `json:"operationSignature,omitempty"`

	DestinationReceptionWeight float64              `json:"destinationReceptionWeight"`
	DestinationReceptionDate   time.Time            `json:"destinationReceptionDate"`
	DestinationAcceptation     bsd.WasteAcceptation `json:"destinationReceptionAcceptationStatus"`
	DestinationOperationCode   string               `json:"destinationOperationCode"`
	DestinationOperationDate   time.Time            `json:"destinationOperationDate"`

	// GroupedIn and ForwardedIn point at the child consuming this document.
	GroupedInID   string `json:"groupedInId"`
	ForwardedInID string `json:"forwardedInId"`
	// Grouping lists the parents this document consumes.
	Grouping []string `json:"grouping"`
	// ForwardingID is the single parent re-shipped by this document.
	ForwardingID string `json:"forwardingId"`
}

// ActorSirets returns the distinct non-empty SIRETs present on the document.
func (b *Bsda) ActorSirets() []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range []string{
		b.EmitterCompanySiret, b.WorkerCompanySiret, b.TransporterCompanySiret,
		b.TransporterCompanyVatNumber, b.DestinationCompanySiret, b.BrokerCompanySiret,
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
func (b *Bsda) HasBlockingSignature() bool {
	return b.EmissionSignature != nil || b.WorkSignature != nil ||
		b.TransportSignature != nil || b.OperationSignature != nil
}
