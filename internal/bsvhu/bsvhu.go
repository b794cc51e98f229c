// Package bsvhu implements the end-of-life vehicle tracking form. The chain
// is the short one: producer, transporter, destination.
package bsvhu

import (
	"time"

	"github.com/wastetrack/wastetrack/internal/bsd"
	"github.com/wastetrack/wastetrack/internal/index"
)

// Statuses of a BSVHU.
const (
	StatusInitial          bsd.Status = "INITIAL"
	StatusSignedByProducer bsd.Status = "SIGNED_BY_PRODUCER"
	StatusSent             bsd.Status = "SENT"
	StatusProcessed        bsd.Status = "PROCESSED"
	StatusRefused          bsd.Status = "REFUSED"
)

// Signature steps.
const (
	SignEmission  bsd.EventType = "EMISSION"
	SignTransport bsd.EventType = "TRANSPORT"
	SignOperation bsd.EventType = "OPERATION"
)

// Bsvhu is an end-of-life vehicle batch.
type Bsvhu struct {
	ID        string     `json:"id"`
	Status    bsd.Status `json:"status"`
	IsDraft   bool       `json:"isDraft"`
	IsDeleted bool       `json:"isDeleted"`
	OwnerID   string     `json:"ownerId"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`

	EmitterCompanyName  string `json:"emitterCompanyName"`
	EmitterCompanySiret string `json:"emitterCompanySiret"`
	// Vehicle depollution centres without an agreement sign on paper.
	EmitterIrregularSituation bool `json:"emitterIrregularSituation"`

	TransporterCompanyName      string `json:"transporterCompanyName"`
	TransporterCompanySiret     string `json:"transporterCompanySiret"`
	TransporterCompanyVatNumber string `json:"transporterCompanyVatNumber"`

	DestinationCompanyName  string `json:"destinationCompanyName"`
	DestinationCompanySiret string `json:"destinationCompanySiret"`

	WasteCode    string   `json:"wasteCode"`
	VehicleCount int      `json:"quantity"`
	IdentType    string   `json:"identificationType"`
	IdentNumbers []string `json:"identificationNumbers"`

	EmissionSignature  *bsd.Signature `json:"emissionSignature,omitempty"`
	TransportSignature *bsd.Signature `json:"transportSignature,omitempty"`
	OperationSignature *bsd.Signature `json:"operationSignature,omitempty"`

	DestinationReceptionWeight float64              `json:"destinationReceptionWeight"`
	DestinationReceptionDate   time.Time            `json:"destinationReceptionDate"`
	DestinationAcceptation     bsd.WasteAcceptation `json:"destinationReceptionAcceptationStatus"`
	DestinationOperationCode   string               `json:"destinationOperationCode"`
	DestinationOperationDate   time.Time            `json:"destinationOperationDate"`
}

// ActorSirets returns the distinct non-empty SIRETs present on the batch.
func (b *Bsvhu) ActorSirets() []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range []string{
		b.EmitterCompanySiret, b.TransporterCompanySiret,
		b.TransporterCompanyVatNumber, b.DestinationCompanySiret,
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
func (b *Bsvhu) HasBlockingSignature() bool {
	return b.EmissionSignature != nil || b.TransportSignature != nil || b.OperationSignature != nil
}

func operationOutcome(p bsd.Payload) bsd.Status {
	if p.Acceptation == bsd.AcceptationRefused {
		return StatusRefused
	}
	return StatusProcessed
}

// Machine is the BSVHU signature machine. Irregular-situation emitters have
// no account, so the transporter may open the electronic trail.
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
			SignOperation: operationOutcome,
		},
	},
	Terminal: map[bsd.Status]bool{
		StatusProcessed: true,
		StatusRefused:   true,
	},
}

var tabOverrides = map[bsd.Status]map[bsd.ActorField]bsd.Tab{
	StatusInitial: {
		bsd.FieldEmitter: bsd.TabForAction,
	},
	StatusSignedByProducer: {
		bsd.FieldTransporter:    bsd.TabToCollect,
		bsd.FieldTransporterVat: bsd.TabToCollect,
	},
	StatusSent: {
		bsd.FieldDestination:    bsd.TabForAction,
		bsd.FieldTransporter:    bsd.TabCollected,
		bsd.FieldTransporterVat: bsd.TabCollected,
	},
}

var archivedStatuses = map[bsd.Status]bool{
	StatusProcessed: true,
	StatusRefused:   true,
}

// SiretsByTab computes the dashboard classification.
func SiretsByTab(b *Bsvhu) bsd.Classification {
	fields := []bsd.Field{
		{Key: bsd.FieldEmitter, Siret: b.EmitterCompanySiret},
		{Key: bsd.FieldTransporter, Siret: b.TransporterCompanySiret},
		{Key: bsd.FieldTransporterVat, Siret: b.TransporterCompanyVatNumber},
		{Key: bsd.FieldDestination, Siret: b.DestinationCompanySiret},
	}
	cfg := bsd.ClassifierConfig{
		Overrides: tabOverrides,
		Archived:  archivedStatuses,
		Hook: func(fs *bsd.FieldSet) {
			if b.Status == StatusInitial && b.EmitterIrregularSituation {
				fs.Set(bsd.FieldEmitter, bsd.TabFollow)
				fs.Set(bsd.FieldTransporter, bsd.TabToCollect)
				fs.Set(bsd.FieldTransporterVat, bsd.TabToCollect)
			}
		},
	}
	return bsd.Classify(fields, b.Status, b.IsDraft, cfg)
}

// ToIndexDocument flattens the batch into its dashboard projection.
func ToIndexDocument(b *Bsvhu) index.Document {
	tabs := SiretsByTab(b)
	doc := index.Document{
		Type:                       bsd.TypeBSVHU,
		ID:                         b.ID,
		ReadableID:                 b.ID,
		CreatedAt:                  b.CreatedAt,
		UpdatedAt:                  b.UpdatedAt,
		EmitterCompanyName:         b.EmitterCompanyName,
		EmitterCompanySiret:        b.EmitterCompanySiret,
		TransporterCompanyName:     b.TransporterCompanyName,
		TransporterCompanySiret:    b.TransporterCompanySiret,
		DestinationCompanyName:     b.DestinationCompanyName,
		DestinationCompanySiret:    b.DestinationCompanySiret,
		WasteCode:                  b.WasteCode,
		DestinationReceptionDate:   b.DestinationReceptionDate,
		DestinationReceptionWeight: b.DestinationReceptionWeight,
		DestinationOperationCode:   b.DestinationOperationCode,
		DestinationOperationDate:   b.DestinationOperationDate,
		Tabs:                       tabs,
		Sirets:                     tabs.Sirets(),
		RawBsd:                     b,
	}
	if b.TransportSignature != nil {
		doc.TransporterTakenOverAt = b.TransportSignature.Date
	}
	return doc
}
