package bsda

import (
	"github.com/wastetrack/wastetrack/internal/bsd"
	"github.com/wastetrack/wastetrack/internal/index"
)

var tabOverrides = map[bsd.Status]map[bsd.ActorField]bsd.Tab{
	StatusInitial: {
		bsd.FieldEmitter: bsd.TabForAction,
	},
	StatusSignedByProducer: {
		bsd.FieldWorker: bsd.TabForAction,
	},
	StatusSignedByWorker: {
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
	StatusCanceled:  true,
}

func actorFields(b *Bsda) []bsd.Field {
	return []bsd.Field{
		{Key: bsd.FieldEmitter, Siret: b.EmitterCompanySiret},
		{Key: bsd.FieldWorker, Siret: b.WorkerCompanySiret},
		{Key: bsd.FieldTransporter, Siret: b.TransporterCompanySiret},
		{Key: bsd.FieldTransporterVat, Siret: b.TransporterCompanyVatNumber},
		{Key: bsd.FieldDestination, Siret: b.DestinationCompanySiret},
		{Key: bsd.FieldBroker, Siret: b.BrokerCompanySiret},
	}
}

// SiretsByTab computes the dashboard classification. The collection centre,
// private individual and disabled worker circuits each move the first
// signature to a different actor.
func SiretsByTab(b *Bsda) bsd.Classification {
	cfg := bsd.ClassifierConfig{
		Overrides: tabOverrides,
		Archived:  archivedStatuses,
		Hook: func(fs *bsd.FieldSet) {
			switch b.Status {
			case StatusInitial:
				if b.Type == TypeCollection2710 {
					fs.Set(bsd.FieldEmitter, bsd.TabFollow)
					fs.Set(bsd.FieldDestination, bsd.TabForAction)
					break
				}
				if b.EmitterIsPrivateIndividual || b.EmitterPaperSignature {
					fs.Set(bsd.FieldEmitter, bsd.TabFollow)
					if b.WorkerIsDisabled || b.WorkerCompanySiret == "" {
						fs.Set(bsd.FieldTransporter, bsd.TabToCollect)
						fs.Set(bsd.FieldTransporterVat, bsd.TabToCollect)
					} else {
						fs.Set(bsd.FieldWorker, bsd.TabForAction)
					}
				}
			case StatusSignedByProducer:
				if b.WorkerIsDisabled || b.WorkerCompanySiret == "" {
					fs.Set(bsd.FieldWorker, bsd.TabFollow)
					fs.Set(bsd.FieldTransporter, bsd.TabToCollect)
					fs.Set(bsd.FieldTransporterVat, bsd.TabToCollect)
				}
			}
		},
	}
	return bsd.Classify(actorFields(b), b.Status, b.IsDraft, cfg)
}

// ToIndexDocument flattens the document into its dashboard projection.
func ToIndexDocument(b *Bsda) index.Document {
	tabs := SiretsByTab(b)
	doc := index.Document{
		Type:                       bsd.TypeBSDA,
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
		WasteDescription:           b.WasteName,
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
