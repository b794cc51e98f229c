package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreAppendAndStream(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := New("BSDD-1", "user-1", "BsddSealed", map[string]any{"status": "SEALED"})
	second := New("BSDD-1", "user-2", "BsddSigned", map[string]any{"status": "SENT"})
	second.CreatedAt = first.CreatedAt.Add(time.Minute)
	other := New("BSDD-2", "user-1", "BsddSealed", nil)

	require.NoError(t, store.Append(ctx, first, second, other))

	stream, err := store.Stream(ctx, "BSDD-1", time.Time{})
	require.NoError(t, err)
	require.Len(t, stream, 2)
	require.Equal(t, "BsddSealed", stream[0].Type)
	require.Equal(t, "BsddSigned", stream[1].Type)
}

func TestMemoryStoreSwallowsDuplicates(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	evt := New("BSDD-1", "user-1", "BsddSealed", nil)
	require.NoError(t, store.Append(ctx, evt))
	require.NoError(t, store.Append(ctx, evt))

	stream, err := store.Stream(ctx, "BSDD-1", time.Time{})
	require.NoError(t, err)
	require.Len(t, stream, 1)
}

func TestMemoryStoreAsOfBound(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	early := New("BSDD-1", "user-1", "BsddSealed", nil)
	late := New("BSDD-1", "user-1", "BsddSigned", nil)
	late.CreatedAt = early.CreatedAt.Add(time.Hour)
	require.NoError(t, store.Append(ctx, early, late))

	stream, err := store.Stream(ctx, "BSDD-1", early.CreatedAt.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, stream, 1)
	require.Equal(t, "BsddSealed", stream[0].Type)
}
