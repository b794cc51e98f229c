// Package projection keeps the external dashboard index in sync with
// committed document state. The consumer is handed nothing but a document id;
// it always re-reads current state before writing, so a stale or re-delivered
// job can never overwrite a newer projection.
package projection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wastetrack/wastetrack/internal/bsd"
	"github.com/wastetrack/wastetrack/internal/index"
	"github.com/wastetrack/wastetrack/internal/shared"
)

// Source loads the flattened projection of one document from committed
// state. It returns shared.ErrNotFound for documents that no longer exist,
// soft-deleted ones included.
type Source func(ctx context.Context, id string) (index.Document, error)

// Projector recomputes and writes one document's projection at a time.
type Projector struct {
	sources map[bsd.Type]Source
	store   index.Store
	logger  *slog.Logger
}

// NewProjector constructs a Projector over the per-type sources.
func NewProjector(sources map[bsd.Type]Source, store index.Store, logger *slog.Logger) *Projector {
	return &Projector{sources: sources, store: store, logger: logger}
}

// Reindex refreshes one document in the index. A vanished document is
// removed. Errors are returned to the caller so the queue can retry with
// backoff; the operation is idempotent under re-delivery.
func (p *Projector) Reindex(ctx context.Context, t bsd.Type, id string) error {
	src, ok := p.sources[t]
	if !ok {
		return fmt.Errorf("projection: no source for type %s", t)
	}
	doc, err := src(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		p.logger.Info("removing vanished document from index", "bsd_id", id, "bsd_type", t)
		return p.store.Delete(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("projection: load %s %s: %w", t, id, err)
	}
	return p.store.Upsert(ctx, doc)
}
