package revision

import "github.com/wastetrack/wastetrack/internal/bsd"

// DocumentAdapter binds the engine to one document type: where it is stored,
// which of its fields may be revised, and how an operation-code change moves
// its status.
type DocumentAdapter struct {
	// Table is the PostgreSQL table holding the documents.
	Table string
	// RevisableFields is the closed set of diff keys a request may carry.
	RevisableFields map[string]bool
	// OperationField is the diff key carrying the treatment code, empty
	// when the type has no operation to revise.
	OperationField string
	// ParkedStatus is where a regrouping code parks the document. Empty
	// when the type does not support grouping.
	ParkedStatus bsd.Status
	// NoTraceabilityStatus is the status for a regrouping code under the
	// traceability exemption flag. Empty when unsupported.
	NoTraceabilityStatus bsd.Status
}

// settledStatuses are the post-treatment statuses an operation-code revision
// may move between. Anything earlier is untouched by the recompute.
func (a DocumentAdapter) settledStatuses() map[bsd.Status]bool {
	s := map[bsd.Status]bool{"PROCESSED": true}
	if a.ParkedStatus != "" {
		s[a.ParkedStatus] = true
	}
	if a.NoTraceabilityStatus != "" {
		s[a.NoTraceabilityStatus] = true
	}
	return s
}

// RecomputeStatus derives the status implied by the document's operation
// code after a diff was merged. A regrouping code reopens a PROCESSED
// document; a final code closes a parked one.
func (a DocumentAdapter) RecomputeStatus(doc *Document) bsd.Status {
	if a.OperationField == "" || !a.settledStatuses()[doc.Status] {
		return doc.Status
	}
	code, _ := doc.Data[a.OperationField].(string)
	if code == "" {
		return doc.Status
	}
	if bsd.IsGroupingOperation(code) {
		if a.NoTraceabilityStatus != "" {
			if noTrace, _ := doc.Data["noTraceability"].(bool); noTrace {
				return a.NoTraceabilityStatus
			}
		}
		if a.ParkedStatus != "" {
			return a.ParkedStatus
		}
		return doc.Status
	}
	return "PROCESSED"
}

// DefaultAdapters wires the three revisable document types. BSFF amendments
// happen at packaging granularity and BSVHU documents have no post-signature
// amendment surface, so neither is revisable.
func DefaultAdapters() map[bsd.Type]DocumentAdapter {
	return map[bsd.Type]DocumentAdapter{
		bsd.TypeBSDD: {
			Table: "bsdd_forms",
			RevisableFields: map[string]bool{
				"customId":                true,
				"wasteDetailsCode":        true,
				"wasteDetailsName":        true,
				"quantityReceived":        true,
				"processingOperationDone": true,
				"noTraceability":          true,
			},
			OperationField:       "processingOperationDone",
			ParkedStatus:         "AWAITING_GROUP",
			NoTraceabilityStatus: "NO_TRACEABILITY",
		},
		bsd.TypeBSDA: {
			Table: "bsdas",
			RevisableFields: map[string]bool{
				"wasteCode":                  true,
				"wasteMaterialName":          true,
				"destinationReceptionWeight": true,
				"destinationOperationCode":   true,
			},
			OperationField: "destinationOperationCode",
			ParkedStatus:   "AWAITING_CHILD",
		},
		bsd.TypeBSDASRI: {
			Table: "bsdasris",
			RevisableFields: map[string]bool{
				"wasteCode":                            true,
				"destinationReceptionWasteWeightValue": true,
				"destinationOperationCode":             true,
			},
			OperationField: "destinationOperationCode",
			ParkedStatus:   "AWAITING_GROUP",
		},
	}
}
