package bsd

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// base32 alphabet without ambiguous characters, matching the readable-id
// convention <PREFIX>-<yyyyMMdd>-<9 chars>.
const readableIDCharset = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// ReadableID generates a human readable identifier for a document.
func ReadableID(t Type, now time.Time) string {
	return fmt.Sprintf("%s-%s-%s", t, now.Format("20060102"), randomSuffix(9))
}

func randomSuffix(n int) string {
	raw := uuid.New()
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(readableIDCharset[int(raw[i])%len(readableIDCharset)])
	}
	return b.String()
}
