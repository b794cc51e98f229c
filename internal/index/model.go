// Package index models the external dashboard index: a flattened, filterable
// projection of every document, keyed by document id.
package index

import (
	"time"

	"github.com/wastetrack/wastetrack/internal/bsd"
)

// Document is the flattened projection upserted into the index after every
// committed mutation.
type Document struct {
	Type       bsd.Type  `json:"type"`
	ID         string    `json:"id"`
	ReadableID string    `json:"readableId"`
	CustomID   string    `json:"customId"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`

	EmitterCompanyName      string `json:"emitterCompanyName"`
	EmitterCompanySiret     string `json:"emitterCompanySiret"`
	TransporterCompanyName  string `json:"transporterCompanyName"`
	TransporterCompanySiret string `json:"transporterCompanySiret"`
	DestinationCompanyName  string `json:"destinationCompanyName"`
	DestinationCompanySiret string `json:"destinationCompanySiret"`

	WasteCode        string `json:"wasteCode"`
	WasteDescription string `json:"wasteDescription"`

	TransporterTakenOverAt     time.Time `json:"transporterTakenOverAt"`
	DestinationReceptionDate   time.Time `json:"destinationReceptionDate"`
	DestinationReceptionWeight float64   `json:"destinationReceptionWeight"`
	DestinationOperationCode   string    `json:"destinationOperationCode"`
	DestinationOperationDate   time.Time `json:"destinationOperationDate"`

	// Tabs assigns every present actor SIRET to exactly one dashboard tab.
	Tabs bsd.Classification `json:"tabs"`
	// Sirets is the union of all tab lists, used for access control.
	Sirets []string `json:"sirets"`

	// RawBsd carries the full source payload for later rehydration.
	RawBsd any `json:"rawBsd"`
}

// Query filters and paginates a dashboard search.
type Query struct {
	// Siret restricts results to documents the company contributes to.
	Siret string
	// Tab, when set, restricts to documents classified under that tab for
	// Siret.
	Tab bsd.Tab
	// Text matches waste code/description, readable id and company names,
	// folding case and diacritics.
	Text string
	// Types restricts to the given document types; empty means all.
	Types []bsd.Type
	// Cursor is the opaque cursor returned by a previous page.
	Cursor string
	// PageSize defaults to 50, capped at 500.
	PageSize int
}

// Page is one page of search results.
type Page struct {
	Documents  []Document
	NextCursor string
	Total      int
}
