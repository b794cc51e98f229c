package index

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Store is the port to the external document index.
type Store interface {
	// Upsert writes the projection for a document, replacing any previous
	// version. Upserts are idempotent; the newest committed state wins.
	Upsert(ctx context.Context, doc Document) error
	// Delete removes a document from the index.
	Delete(ctx context.Context, id string) error
	// Search returns a stable, cursor-paginated result set. Ordering is
	// updatedAt descending with the document id as tiebreak.
	Search(ctx context.Context, q Query) (Page, error)
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func normalizePageSize(n int) int {
	if n <= 0 {
		return defaultPageSize
	}
	if n > maxPageSize {
		return maxPageSize
	}
	return n
}

// Fold lowercases and strips diacritics so "Déchets" matches "dechets".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// cursor encodes the keyset position (updatedAt, id) of the last row served.
func encodeCursor(updatedAt time.Time, id string) string {
	raw := fmt.Sprintf("%d|%s", updatedAt.UnixNano(), id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	if cursor == "" {
		return time.Time{}, "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("index: bad cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("index: bad cursor")
	}
	var nanos int64
	if _, err := fmt.Sscanf(parts[0], "%d", &nanos); err != nil {
		return time.Time{}, "", fmt.Errorf("index: bad cursor: %w", err)
	}
	return time.Unix(0, nanos), parts[1], nil
}
