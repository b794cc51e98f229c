// Package events persists the append-only audit log. Every status transition
// traces back to exactly one event in a document's stream.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Event is one immutable audit record, keyed by the document stream it
// belongs to.
type Event struct {
	ID        string
	StreamID  string
	Actor     string
	Type      string
	Data      map[string]any
	Metadata  map[string]any
	CreatedAt time.Time
}

// Store appends and reads event streams.
type Store interface {
	// Append writes events. Re-delivered events (duplicate ids) are
	// harmless and silently skipped.
	Append(ctx context.Context, evts ...Event) error
	// Stream returns a document's events ordered by time. A non-zero asOf
	// bounds the stream for point-in-time reconstruction.
	Stream(ctx context.Context, streamID string, asOf time.Time) ([]Event, error)
}

// New builds an event with a fresh id and timestamp.
func New(streamID, actor, eventType string, data map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		StreamID:  streamID,
		Actor:     actor,
		Type:      eventType,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
}

// PGStore is the PostgreSQL-backed store.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const uniqueViolation = "23505"

// Append inserts the events one by one. A duplicate key means an idempotent
// retry already wrote the event; it is swallowed.
func (s *PGStore) Append(ctx context.Context, evts ...Event) error {
	for _, evt := range evts {
		if evt.StreamID == "" || evt.Type == "" {
			return errors.New("events: stream id and type required")
		}
		data, err := json.Marshal(evt.Data)
		if err != nil {
			return fmt.Errorf("events: marshal data: %w", err)
		}
		metadata, err := json.Marshal(evt.Metadata)
		if err != nil {
			return fmt.Errorf("events: marshal metadata: %w", err)
		}
		_, err = s.pool.Exec(ctx, `INSERT INTO events (id, stream_id, actor, type, data, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`,
			evt.ID, evt.StreamID, evt.Actor, evt.Type, data, metadata, evt.CreatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				continue
			}
			return fmt.Errorf("events: append: %w", err)
		}
	}
	return nil
}

// AppendTx appends a single event inside an open transaction so the event
// commits atomically with the mutation it traces.
func AppendTx(ctx context.Context, tx pgx.Tx, evt Event) error {
	data, err := json.Marshal(evt.Data)
	if err != nil {
		return fmt.Errorf("events: marshal data: %w", err)
	}
	metadata, err := json.Marshal(evt.Metadata)
	if err != nil {
		return fmt.Errorf("events: marshal metadata: %w", err)
	}
	_, err = tx.Exec(ctx, `INSERT INTO events (id, stream_id, actor, type, data, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`,
		evt.ID, evt.StreamID, evt.Actor, evt.Type, data, metadata, evt.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil
		}
		return fmt.Errorf("events: append: %w", err)
	}
	return nil
}

// Stream reads a stream ordered by creation time.
func (s *PGStore) Stream(ctx context.Context, streamID string, asOf time.Time) ([]Event, error) {
	query := `SELECT id, stream_id, actor, type, data, metadata, created_at FROM events WHERE stream_id = $1`
	args := []any{streamID}
	if !asOf.IsZero() {
		query += ` AND created_at <= $2`
		args = append(args, asOf)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("events: stream: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var evt Event
		var data, metadata []byte
		if err := rows.Scan(&evt.ID, &evt.StreamID, &evt.Actor, &evt.Type, &data, &metadata, &evt.CreatedAt); err != nil {
			return nil, fmt.Errorf("events: scan: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &evt.Data); err != nil {
				return nil, fmt.Errorf("events: unmarshal data: %w", err)
			}
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &evt.Metadata); err != nil {
				return nil, fmt.Errorf("events: unmarshal metadata: %w", err)
			}
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

// MemoryStore keeps events in memory. Used by tests and as a safe default
// when no database is wired.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
	seen   map[string]bool
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]bool)}
}

// Append stores events, skipping duplicates by id.
func (s *MemoryStore) Append(_ context.Context, evts ...Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range evts {
		if evt.StreamID == "" || evt.Type == "" {
			return errors.New("events: stream id and type required")
		}
		if s.seen[evt.ID] {
			continue
		}
		s.seen[evt.ID] = true
		s.events = append(s.events, evt)
	}
	return nil
}

// Stream filters stored events by stream and optional time bound.
func (s *MemoryStore) Stream(_ context.Context, streamID string, asOf time.Time) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, evt := range s.events {
		if evt.StreamID != streamID {
			continue
		}
		if !asOf.IsZero() && evt.CreatedAt.After(asOf) {
			continue
		}
		out = append(out, evt)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
