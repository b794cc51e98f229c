package projection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wastetrack/wastetrack/internal/bsd"
	"github.com/wastetrack/wastetrack/internal/index"
	"github.com/wastetrack/wastetrack/internal/shared"
)

func newProjector(sources map[bsd.Type]Source, store index.Store) *Projector {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewProjector(sources, store, logger)
}

func TestReindexUpsertsCurrentState(t *testing.T) {
	store := index.NewMemoryStore()
	loads := 0
	sources := map[bsd.Type]Source{
		bsd.TypeBSDD: func(_ context.Context, id string) (index.Document, error) {
			loads++
			return index.Document{Type: bsd.TypeBSDD, ID: id, WasteCode: "06 01 01*"}, nil
		},
	}
	p := newProjector(sources, store)

	require.NoError(t, p.Reindex(context.Background(), bsd.TypeBSDD, "BSD-1"))
	require.Equal(t, 1, loads, "the consumer re-reads committed state, never the queue payload")

	doc, ok := store.Get("BSD-1")
	require.True(t, ok)
	require.Equal(t, "06 01 01*", doc.WasteCode)

	// re-delivery converges on the same state
	require.NoError(t, p.Reindex(context.Background(), bsd.TypeBSDD, "BSD-1"))
	require.Equal(t, 2, loads)
}

func TestReindexRemovesVanishedDocument(t *testing.T) {
	store := index.NewMemoryStore()
	require.NoError(t, store.Upsert(context.Background(), index.Document{Type: bsd.TypeBSDA, ID: "BSD-2"}))

	sources := map[bsd.Type]Source{
		bsd.TypeBSDA: func(context.Context, string) (index.Document, error) {
			return index.Document{}, shared.ErrNotFound
		},
	}
	p := newProjector(sources, store)

	require.NoError(t, p.Reindex(context.Background(), bsd.TypeBSDA, "BSD-2"))
	_, ok := store.Get("BSD-2")
	require.False(t, ok)
}

func TestReindexPropagatesLoadFailure(t *testing.T) {
	store := index.NewMemoryStore()
	sources := map[bsd.Type]Source{
		bsd.TypeBSVHU: func(context.Context, string) (index.Document, error) {
			return index.Document{}, errors.New("database down")
		},
	}
	p := newProjector(sources, store)

	err := p.Reindex(context.Background(), bsd.TypeBSVHU, "BSD-3")
	require.Error(t, err, "transient failures bubble up so the queue retries")
}

func TestReindexUnknownType(t *testing.T) {
	p := newProjector(nil, index.NewMemoryStore())
	require.Error(t, p.Reindex(context.Background(), bsd.TypeBSFF, "BSD-4"))
}
