// Package revision implements post-signature amendments. A revision request
// carries a field diff and needs a unanimous vote from every concerned actor
// before the diff is merged into the live document.
package revision

import (
	"strings"
	"time"

	"github.com/wastetrack/wastetrack/internal/bsd"
)

// ApprovalStatus applies both to individual approvals and to the request as
// a whole.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "PENDING"
	StatusAccepted ApprovalStatus = "ACCEPTED"
	StatusRefused  ApprovalStatus = "REFUSED"
	StatusCanceled ApprovalStatus = "CANCELED"
)

// Diff maps document field names to their proposed new values.
type Diff map[string]any

// Approval is one actor's pending or settled vote.
type Approval struct {
	Siret     string         `json:"approverSiret"`
	Status    ApprovalStatus `json:"status"`
	DecidedAt time.Time      `json:"decidedAt"`
}

// Revision is one amendment request against a signed document.
type Revision struct {
	ID          string         `json:"id"`
	BsdType     bsd.Type       `json:"bsdType"`
	BsdID       string         `json:"bsdId"`
	AuthorSiret string         `json:"authoringCompanySiret"`
	Comment     string         `json:"comment"`
	Content     Diff           `json:"content"`
	Status      ApprovalStatus `json:"status"`
	Approvals   []Approval     `json:"approvals"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Settled reports whether the request reached a final state.
func (r *Revision) Settled() bool {
	return r.Status != StatusPending
}

func (r *Revision) approval(siret string) *Approval {
	for i := range r.Approvals {
		if r.Approvals[i].Siret == siret {
			return &r.Approvals[i]
		}
	}
	return nil
}

func (r *Revision) allAccepted() bool {
	for _, a := range r.Approvals {
		if a.Status != StatusAccepted {
			return false
		}
	}
	return true
}

// Document is the type-agnostic view of a live document the engine works on.
// Data holds the full decoded payload; Status mirrors data["status"].
type Document struct {
	Type      bsd.Type
	ID        string
	Status    bsd.Status
	Data      map[string]any
	UpdatedAt time.Time
}

// ActorSirets collects the distinct company identifiers present on the
// document: every top-level field named like a SIRET or VAT slot plus the
// intermediary list.
func (d *Document) ActorSirets() []string {
	seen := map[string]bool{}
	var out []string
	add := func(v any) {
		s, ok := v.(string)
		if !ok || s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	for key, v := range d.Data {
		if strings.HasSuffix(key, "Siret") || strings.HasSuffix(key, "VatNumber") {
			add(v)
		}
	}
	if list, ok := d.Data["intermediaries"].([]any); ok {
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				add(m["siret"])
			}
		}
	}
	return out
}

// HasBlockingSignature reports whether any signature has been recorded, in
// either representation the document types use: a non-null object under a
// "*Signature" key, or a non-zero "emittedAt"/"sentAt" timestamp.
func (d *Document) HasBlockingSignature() bool {
	for key, v := range d.Data {
		if strings.HasSuffix(key, "Signature") && v != nil {
			return true
		}
	}
	for _, key := range []string{"emittedAt", "sentAt"} {
		if ts, ok := d.Data[key].(string); ok && ts != "" && !strings.HasPrefix(ts, "0001-") {
			return true
		}
	}
	return false
}
