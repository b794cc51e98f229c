package bsff

import "github.com/wastetrack/wastetrack/internal/bsd"

// DeriveStatus computes the document status implied by its packagings.
// It only applies once the destination signed the reception; before that the
// signature machine rules.
//
// The aggregation is bottom-up:
//   - no verdict on some containers yet: the document stays RECEIVED
//   - every container refused: REFUSED
//   - some refused: PARTIALLY_REFUSED until the rest is treated
//   - every kept container treated with a final code: PROCESSED
//   - every kept container treated but some await their next document:
//     INTERMEDIATELY_PROCESSED
func DeriveStatus(b *Bsff) bsd.Status {
	if len(b.Packagings) == 0 {
		return b.Status
	}
	refused, kept := 0, 0
	for i := range b.Packagings {
		p := &b.Packagings[i]
		if !p.Decided() {
			return StatusReceived
		}
		if p.Refused() {
			refused++
		} else {
			kept++
		}
	}
	if kept == 0 {
		return StatusRefused
	}

	treated, resolved := 0, 0
	for i := range b.Packagings {
		p := &b.Packagings[i]
		if p.Refused() {
			continue
		}
		if p.OperationCode != "" {
			treated++
		}
		if p.Resolved() {
			resolved++
		}
	}
	switch {
	case treated < kept:
		if refused > 0 {
			return StatusPartiallyRefused
		}
		return StatusAccepted
	case resolved == kept:
		return StatusProcessed
	default:
		return StatusIntermediatelyProcessed
	}
}
