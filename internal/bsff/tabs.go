package bsff

import (
	"github.com/wastetrack/wastetrack/internal/bsd"
	"github.com/wastetrack/wastetrack/internal/index"
)

var tabOverrides = map[bsd.Status]map[bsd.ActorField]bsd.Tab{
	StatusInitial: {
		bsd.FieldEmitter: bsd.TabForAction,
	},
	StatusSignedByEmitter: {
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
	StatusAccepted: {
		bsd.FieldDestination: bsd.TabForAction,
	},
	StatusPartiallyRefused: {
		bsd.FieldDestination: bsd.TabForAction,
	},
}

var archivedStatuses = map[bsd.Status]bool{
	StatusProcessed: true,
	StatusRefused:   true,
}

func detenteurField(fi FicheIntervention) bsd.ActorField {
	return bsd.ActorField("detenteurSiret:" + fi.DetenteurSiret)
}

// SiretsByTab computes the dashboard classification. Detenteurs only ever
// follow. A document awaiting its next regrouping stays on follow for the
// destination.
func SiretsByTab(b *Bsff) bsd.Classification {
	fields := []bsd.Field{
		{Key: bsd.FieldEmitter, Siret: b.EmitterCompanySiret},
		{Key: bsd.FieldTransporter, Siret: b.TransporterCompanySiret},
		{Key: bsd.FieldTransporterVat, Siret: b.TransporterCompanyVatNumber},
		{Key: bsd.FieldDestination, Siret: b.DestinationCompanySiret},
	}
	for _, fi := range b.FicheInterventions {
		fields = append(fields, bsd.Field{Key: detenteurField(fi), Siret: fi.DetenteurSiret})
	}
	cfg := bsd.ClassifierConfig{
		Overrides: tabOverrides,
		Archived:  archivedStatuses,
	}
	return bsd.Classify(fields, b.Status, b.IsDraft, cfg)
}

// ToIndexDocument flattens the document into its dashboard projection.
func ToIndexDocument(b *Bsff) index.Document {
	tabs := SiretsByTab(b)
	var weight float64
	var opCode string
	for _, p := range b.Packagings {
		weight += p.AcceptationWeight
		if opCode == "" && p.OperationCode != "" {
			opCode = p.OperationCode
		}
	}
	doc := index.Document{
		Type:                       bsd.TypeBSFF,
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
		WasteDescription:           b.WasteDescription,
		DestinationReceptionDate:   b.ReceptionDate,
		DestinationReceptionWeight: weight,
		DestinationOperationCode:   opCode,
		Tabs:                       tabs,
		Sirets:                     tabs.Sirets(),
		RawBsd:                     b,
	}
	if b.TransportSignature != nil {
		doc.TransporterTakenOverAt = b.TransportSignature.Date
	}
	return doc
}
