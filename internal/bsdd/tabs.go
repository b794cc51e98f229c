package bsdd

import (
	"github.com/wastetrack/wastetrack/internal/bsd"
	"github.com/wastetrack/wastetrack/internal/index"
)

// tabOverrides is the authoritative "whose turn is it" table for BSDD.
// Statuses absent from the table leave every actor on the follow tab.
var tabOverrides = map[bsd.Status]map[bsd.ActorField]bsd.Tab{
	StatusSealed: {
		bsd.FieldEmitter:        bsd.TabForAction,
		bsd.FieldEcoOrganisme:   bsd.TabForAction,
		bsd.FieldTransporter:    bsd.TabToCollect,
		bsd.FieldTransporterVat: bsd.TabToCollect,
	},
	StatusSignedByProducer: {
		bsd.FieldTransporter:    bsd.TabToCollect,
		bsd.FieldTransporterVat: bsd.TabToCollect,
	},
	StatusSent: {
		bsd.FieldRecipient: bsd.TabForAction,
	},
	StatusTempStored: {
		bsd.FieldRecipient: bsd.TabForAction,
	},
	StatusTempStorerAccepted: {
		bsd.FieldRecipient: bsd.TabForAction,
	},
	StatusResealed: {
		bsd.FieldRecipient:              bsd.TabForAction,
		bsd.FieldForwardedInTransporter: bsd.TabToCollect,
	},
	StatusSignedByTempStorer: {
		bsd.FieldForwardedInTransporter: bsd.TabToCollect,
	},
	StatusResent: {
		bsd.FieldForwardedInTransporter: bsd.TabCollected,
	},
}

// archivedStatuses send every present actor to the archive tab.
var archivedStatuses = map[bsd.Status]bool{
	StatusAwaitingGroup:     true,
	StatusGrouped:           true,
	StatusRefused:           true,
	StatusProcessed:         true,
	StatusFollowedWithPnttd: true,
	StatusNoTraceability:    true,
}

func segmentField(s TransportSegment) bsd.ActorField {
	return bsd.ActorField("segment:" + s.ID)
}

func intermediaryField(i Intermediary) bsd.ActorField {
	return bsd.ActorField("intermediarySiret:" + i.Siret)
}

func actorFields(f *Form) []bsd.Field {
	fields := []bsd.Field{
		{Key: bsd.FieldEmitter, Siret: f.EmitterCompanySiret},
		{Key: bsd.FieldRecipient, Siret: f.RecipientCompanySiret},
		{Key: bsd.FieldTrader, Siret: f.TraderCompanySiret},
		{Key: bsd.FieldBroker, Siret: f.BrokerCompanySiret},
		{Key: bsd.FieldEcoOrganisme, Siret: f.EcoOrganismeSiret},
		{Key: bsd.FieldTransporter, Siret: f.TransporterCompanySiret},
		{Key: bsd.FieldTransporterVat, Siret: f.TransporterCompanyVatNumber},
	}
	if f.ForwardedIn != nil {
		fields = append(fields,
			bsd.Field{Key: bsd.FieldForwardedInDestination, Siret: f.ForwardedIn.RecipientCompanySiret},
			bsd.Field{Key: bsd.FieldForwardedInTransporter, Siret: f.ForwardedIn.TransporterCompanySiret},
		)
	}
	for _, s := range f.Segments {
		fields = append(fields, bsd.Field{Key: segmentField(s), Siret: s.TransporterCompanySiret})
	}
	for _, i := range f.Intermediaries {
		fields = append(fields, bsd.Field{Key: intermediaryField(i), Siret: i.Siret})
	}
	return fields
}

// SiretsByTab computes which SIRET sees the form under which dashboard tab.
func SiretsByTab(f *Form) bsd.Classification {
	cfg := bsd.ClassifierConfig{
		Overrides: tabOverrides,
		Archived:  archivedStatuses,
		Hook: func(fs *bsd.FieldSet) {
			switch f.Status {
			case StatusSent:
				// multi-modal: each sealed segment tracks its own
				// transporter; the initial transporter stays in
				// "collected" until a segment takes over
				handedOver := false
				for _, s := range f.Segments {
					if !s.ReadyToTakeOver {
						continue
					}
					if !s.TakenOverAt.IsZero() {
						handedOver = true
						fs.Set(segmentField(s), bsd.TabCollected)
					} else {
						fs.Set(segmentField(s), bsd.TabToCollect)
					}
				}
				if !handedOver {
					fs.Set(bsd.FieldTransporter, bsd.TabCollected)
					fs.Set(bsd.FieldTransporterVat, bsd.TabCollected)
				}
			case StatusResent, StatusReceived, StatusAccepted:
				if f.RecipientIsTempStorage {
					fs.Set(bsd.FieldForwardedInDestination, bsd.TabForAction)
				} else {
					fs.Set(bsd.FieldRecipient, bsd.TabForAction)
				}
			}
		},
	}
	return bsd.Classify(actorFields(f), f.Status, f.IsDraft(), cfg)
}

// SupersededByForwarding reports whether the temporary storage suite has
// taken over: the predecessor then disappears from every dashboard tab and
// the suite carries the live classification.
func SupersededByForwarding(f *Form) bool {
	return f.ForwardedInID != "" && f.Status == StatusResent
}

// ToIndexDocument flattens the form into its dashboard index projection.
func ToIndexDocument(f *Form) index.Document {
	// access control keeps the live siret union even when the dashboard
	// tabs are nulled for a superseded predecessor
	live := SiretsByTab(f)
	tabs := live
	if SupersededByForwarding(f) {
		tabs = bsd.Empty()
	}

	destinationName, destinationSiret := f.RecipientCompanyName, f.RecipientCompanySiret
	if f.ForwardedIn != nil && !f.ForwardedIn.EmittedAt.IsZero() {
		destinationName, destinationSiret = f.ForwardedIn.RecipientCompanyName, f.ForwardedIn.RecipientCompanySiret
	}

	return index.Document{
		Type:                       bsd.TypeBSDD,
		ID:                         f.ID,
		ReadableID:                 f.ReadableID,
		CustomID:                   f.CustomID,
		CreatedAt:                  f.CreatedAt,
		UpdatedAt:                  f.UpdatedAt,
		EmitterCompanyName:         f.EmitterCompanyName,
		EmitterCompanySiret:        f.EmitterCompanySiret,
		TransporterCompanyName:     f.TransporterCompanyName,
		TransporterCompanySiret:    f.TransporterCompanySiret,
		DestinationCompanyName:     destinationName,
		DestinationCompanySiret:    destinationSiret,
		WasteCode:                  f.WasteCode,
		WasteDescription:           f.WasteDescription,
		TransporterTakenOverAt:     f.SentAt,
		DestinationReceptionDate:   f.ReceivedAt,
		DestinationReceptionWeight: f.QuantityReceived,
		DestinationOperationCode:   f.ProcessingOperationDone,
		DestinationOperationDate:   f.ProcessedAt,
		Tabs:                       tabs,
		Sirets:                     live.Sirets(),
		RawBsd:                     f,
	}
}
