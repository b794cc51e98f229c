package bsdasri

import (
	"github.com/wastetrack/wastetrack/internal/bsd"
	"github.com/wastetrack/wastetrack/internal/index"
)

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
	StatusReceived: {
		bsd.FieldDestination: bsd.TabForAction,
	},
}

var archivedStatuses = map[bsd.Status]bool{
	StatusProcessed: true,
	StatusRefused:   true,
}

// SiretsByTab computes the dashboard classification. A document carried
// inside a synthesis stays on everyone's follow tab: the synthesis is the one
// moving through the chain.
func SiretsByTab(b *Bsdasri) bsd.Classification {
	fields := []bsd.Field{
		{Key: bsd.FieldEmitter, Siret: b.EmitterCompanySiret},
		{Key: bsd.FieldTransporter, Siret: b.TransporterCompanySiret},
		{Key: bsd.FieldTransporterVat, Siret: b.TransporterCompanyVatNumber},
		{Key: bsd.FieldDestination, Siret: b.DestinationCompanySiret},
		{Key: bsd.FieldEcoOrganisme, Siret: b.EcoOrganismeSiret},
	}
	cfg := bsd.ClassifierConfig{
		Overrides: tabOverrides,
		Archived:  archivedStatuses,
		Hook: func(fs *bsd.FieldSet) {
			if b.SynthesizedInID != "" && !archivedStatuses[b.Status] {
				fs.SetAll(bsd.TabFollow)
				return
			}
			if b.Status == StatusInitial && b.Type == TypeSynthesis {
				fs.Set(bsd.FieldEmitter, bsd.TabFollow)
				fs.Set(bsd.FieldTransporter, bsd.TabToCollect)
				fs.Set(bsd.FieldTransporterVat, bsd.TabToCollect)
			}
		},
	}
	return bsd.Classify(fields, b.Status, b.IsDraft, cfg)
}

// ToIndexDocument flattens the document into its dashboard projection.
func ToIndexDocument(b *Bsdasri) index.Document {
	tabs := SiretsByTab(b)
	doc := index.Document{
		Type:                       bsd.TypeBSDASRI,
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
