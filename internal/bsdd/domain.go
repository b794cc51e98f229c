// Package bsdd implements the general dangerous-waste tracking form: the full
// chain-of-custody lifecycle including temporary storage, appendix-2 grouping
// and multi-modal transport segments.
package bsdd

import (
	"time"

	"github.com/wastetrack/wastetrack/internal/bsd"
)

// Statuses of a BSDD form.
const (
	StatusDraft              bsd.Status = "DRAFT"
	StatusSealed             bsd.Status = "SEALED"
	StatusSignedByProducer   bsd.Status = "SIGNED_BY_PRODUCER"
	StatusSent               bsd.Status = "SENT"
	StatusReceived           bsd.Status = "RECEIVED"
	StatusAccepted           bsd.Status = "ACCEPTED"
	StatusProcessed          bsd.Status = "PROCESSED"
	StatusAwaitingGroup      bsd.Status = "AWAITING_GROUP"
	StatusGrouped            bsd.Status = "GROUPED"
	StatusNoTraceability     bsd.Status = "NO_TRACEABILITY"
	StatusRefused            bsd.Status = "REFUSED"
	StatusTempStored         bsd.Status = "TEMP_STORED"
	StatusTempStorerAccepted bsd.Status = "TEMP_STORER_ACCEPTED"
	StatusResealed           bsd.Status = "RESEALED"
	StatusSignedByTempStorer bsd.Status = "SIGNED_BY_TEMP_STORER"
	StatusResent             bsd.Status = "RESENT"
	StatusFollowedWithPnttd  bsd.Status = "FOLLOWED_WITH_PNTTD"
)

// Transition events.
const (
	EventMarkAsSealed             bsd.EventType = "MARK_AS_SEALED"
	EventSignedByProducer         bsd.EventType = "SIGNED_BY_PRODUCER"
	EventSignedByTransporter      bsd.EventType = "SIGNED_BY_TRANSPORTER"
	EventMarkAsSent               bsd.EventType = "MARK_AS_SENT"
	EventMarkAsReceived           bsd.EventType = "MARK_AS_RECEIVED"
	EventMarkAsAccepted           bsd.EventType = "MARK_AS_ACCEPTED"
	EventMarkAsProcessed          bsd.EventType = "MARK_AS_PROCESSED"
	EventMarkAsRefused            bsd.EventType = "MARK_AS_REFUSED"
	EventMarkAsTempStored         bsd.EventType = "MARK_AS_TEMP_STORED"
	EventMarkAsTempStorerAccepted bsd.EventType = "MARK_AS_TEMP_STORER_ACCEPTED"
	EventMarkAsResealed           bsd.EventType = "MARK_AS_RESEALED"
	EventSignedByTempStorer       bsd.EventType = "SIGNED_BY_TEMP_STORER"
	EventMarkAsResent             bsd.EventType = "MARK_AS_RESENT"
	EventMarkAsGrouped            bsd.EventType = "MARK_AS_GROUPED"
)

// EmitterType qualifies who emits the waste.
type EmitterType string

const (
	EmitterProducer  EmitterType = "PRODUCER"
	EmitterAppendix2 EmitterType = "APPENDIX2"
	EmitterOther     EmitterType = "OTHER"
)

// Intermediary is a numbered intermediary company on the form.
type Intermediary struct {
	Siret string `json:"siret"`
	Name  string `json:"name"`
}

// GroupingLink allocates a fraction of a parent form's received quantity to
// a grouping child.
type GroupingLink struct {
	ParentID string  `json:"parentId"`
	Quantity float64 `json:"quantity"`
}

// TransportSegment is one leg of a multi-modal transport chain.
type TransportSegment struct {
	ID                             string    `json:"id"`
	FormID                         string    `json:"formId"`
	SegmentNumber                  int       `json:"segmentNumber"`
	Mode                           string    `json:"mode"`
	TransporterCompanySiret        string    `json:"transporterCompanySiret"`
	TransporterCompanyName         string    `json:"transporterCompanyName"`
	TransporterCompanyAddress      string    `json:"transporterCompanyAddress"`
	TransporterCompanyContact      string    `json:"transporterCompanyContact"`
	TransporterCompanyPhone        string    `json:"transporterCompanyPhone"`
	TransporterCompanyMail         string    `json:"transporterCompanyMail"`
	TransporterIsExemptedOfReceipt bool      `json:"transporterIsExemptedOfReceipt"`
	TransporterReceipt             string    `json:"transporterReceipt"`
	PreviousTransporterSiret       string    `json:"previousTransporterCompanySiret"`
	ReadyToTakeOver                bool      `json:"readyToTakeOver"`
	TakenOverAt                    time.Time `json:"takenOverAt"`
	TakenOverBy                    string    `json:"takenOverBy"`
}

// Form is a BSDD document.
type Form struct {
	ID         string     `json:"id"`
	ReadableID string     `json:"readableId"`
	CustomID   string     `json:"customId"`
	Status     bsd.Status `json:"status"`
	IsDeleted  bool       `json:"isDeleted"`
	OwnerID    string     `json:"ownerId"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`

	EmitterType         EmitterType `json:"emitterType"`
	EmitterCompanyName  string      `json:"emitterCompanyName"`
	EmitterCompanySiret string      `json:"emitterCompanySiret"`

	RecipientCompanyName   string `json:"recipientCompanyName"`
	RecipientCompanySiret  string `json:"recipientCompanySiret"`
	RecipientIsTempStorage bool   `json:"recipientIsTempStorage"`

	TransporterCompanyName      string `json:"transporterCompanyName"`
	TransporterCompanySiret     string `json:"transporterCompanySiret"`
	TransporterCompanyVatNumber string `json:"transporterCompanyVatNumber"`
	TransporterNumberPlate      string `json:"transporterNumberPlate"`

	TraderCompanySiret string         `json:"traderCompanySiret"`
	BrokerCompanySiret string         `json:"brokerCompanySiret"`
	EcoOrganismeSiret  string         `json:"ecoOrganismeSiret"`
	Intermediaries     []Intermediary `json:"intermediaries"`

	WasteCode        string `json:"wasteDetailsCode"`
	WasteDescription string `json:"wasteDetailsName"`

	// Signature trail. A zero time means not signed yet.
	EmittedAt   time.Time `json:"emittedAt"`
	EmittedBy   string    `json:"emittedBy"`
	SentAt      time.Time `json:"sentAt"`
	SentBy      string    `json:"sentBy"`
	ReceivedAt  time.Time `json:"receivedAt"`
	ReceivedBy  string    `json:"receivedBy"`
	ProcessedAt time.Time `json:"processedAt"`
	ProcessedBy string    `json:"processedBy"`

	QuantityReceived        float64              `json:"quantityReceived"`
	WasteAcceptationStatus  bsd.WasteAcceptation `json:"wasteAcceptationStatus"`
	WasteRefusalReason      string               `json:"wasteRefusalReason"`
	ProcessingOperationDone string               `json:"processingOperationDone"`
	NoTraceability          bool                 `json:"noTraceability"`

	// Multi-modal transport chain.
	CurrentTransporterSiret string             `json:"currentTransporterSiret"`
	NextTransporterSiret    string             `json:"nextTransporterSiret"`
	Segments                []TransportSegment `json:"transportSegments"`

	// Appendix-2 grouping: the parents this form consumes.
	Grouping []GroupingLink `json:"grouping"`

	// Temporary storage chain: ForwardedIn is the document re-emitted by
	// the temporary storage site under a new identity.
	ForwardedInID string `json:"forwardedInId"`
	ForwardedIn   *Form  `json:"forwardedIn,omitempty"`
}

// IsDraft reports whether the form still has no legal value.
func (f *Form) IsDraft() bool {
	return f.Status == StatusDraft
}

// ActorSirets returns the distinct non-empty SIRETs present on the form.
func (f *Form) ActorSirets() []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	add(f.EmitterCompanySiret)
	add(f.RecipientCompanySiret)
	add(f.TransporterCompanySiret)
	add(f.TransporterCompanyVatNumber)
	add(f.TraderCompanySiret)
	add(f.BrokerCompanySiret)
	add(f.EcoOrganismeSiret)
	for _, i := range f.Intermediaries {
		add(i.Siret)
	}
	for _, s := range f.Segments {
		add(s.TransporterCompanySiret)
	}
	if f.ForwardedIn != nil {
		add(f.ForwardedIn.RecipientCompanySiret)
		add(f.ForwardedIn.TransporterCompanySiret)
	}
	return out
}

// HasBlockingSignature reports whether a signature with legal value has been
// recorded, freezing the fields that signature covers.
func (f *Form) HasBlockingSignature() bool {
	return f.Status != StatusDraft && f.Status != StatusSealed
}
