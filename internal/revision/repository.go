package revision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wastetrack/wastetrack/internal/bsd"
	"github.com/wastetrack/wastetrack/internal/events"
	"github.com/wastetrack/wastetrack/internal/platform/db"
	"github.com/wastetrack/wastetrack/internal/shared"
)

// Repository is the PostgreSQL-backed implementation. Revision rows live in
// one table; document reads and writes go through the per-type tables named
// by the adapters.
type Repository struct {
	pool     *pgxpool.Pool
	adapters map[bsd.Type]DocumentAdapter
	logger   *slog.Logger
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool, adapters map[bsd.Type]DocumentAdapter, logger *slog.Logger) *Repository {
	return &Repository{pool: pool, adapters: adapters, logger: logger}
}

func (r *Repository) Find(ctx context.Context, id string) (Revision, error) {
	return findRevision(ctx, r.pool, id)
}

func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, r.logger, func(tx pgx.Tx, after *db.Callbacks) error {
		return fn(ctx, &txRepo{tx: tx, adapters: r.adapters, after: after})
	})
}

type rowQueryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func findRevision(ctx context.Context, q rowQueryer, id string) (Revision, error) {
	var data []byte
	err := q.QueryRow(ctx, `SELECT data FROM revisions WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Revision{}, shared.ErrNotFound
		}
		return Revision{}, fmt.Errorf("revision: find: %w", err)
	}
	var rev Revision
	if err := json.Unmarshal(data, &rev); err != nil {
		return Revision{}, fmt.Errorf("revision: decode: %w", err)
	}
	return rev, nil
}

type txRepo struct {
	tx       pgx.Tx
	adapters map[bsd.Type]DocumentAdapter
	after    *db.Callbacks
}

func (t *txRepo) Find(ctx context.Context, id string) (Revision, error) {
	return findRevision(ctx, t.tx, id)
}

func (t *txRepo) Create(ctx context.Context, rev Revision) error {
	data, err := json.Marshal(rev)
	if err != nil {
		return fmt.Errorf("revision: encode: %w", err)
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO revisions (id, bsd_type, bsd_id, status, created_at, updated_at, data) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rev.ID, rev.BsdType, rev.BsdID, rev.Status, rev.CreatedAt, rev.UpdatedAt, data)
	if err != nil {
		return fmt.Errorf("revision: create: %w", err)
	}
	return nil
}

func (t *txRepo) Update(ctx context.Context, rev Revision) error {
	data, err := json.Marshal(rev)
	if err != nil {
		return fmt.Errorf("revision: encode: %w", err)
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE revisions SET status = $2, updated_at = $3, data = $4 WHERE id = $1`,
		rev.ID, rev.Status, rev.UpdatedAt, data)
	if err != nil {
		return fmt.Errorf("revision: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) HasPending(ctx context.Context, bt bsd.Type, bsdID string) (bool, error) {
	var count int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM revisions WHERE bsd_type = $1 AND bsd_id = $2 AND status = $3`,
		bt, bsdID, StatusPending).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("revision: count pending: %w", err)
	}
	return count > 0, nil
}

func (t *txRepo) FindDocument(ctx context.Context, bt bsd.Type, id string) (Document, error) {
	adapter, ok := t.adapters[bt]
	if !ok {
		return Document{}, shared.ErrNotFound
	}
	var raw []byte
	err := t.tx.QueryRow(ctx,
		`SELECT data FROM `+adapter.Table+` WHERE id = $1 AND is_deleted = FALSE`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, shared.ErrNotFound
		}
		return Document{}, fmt.Errorf("revision: find document: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return Document{}, fmt.Errorf("revision: decode document: %w", err)
	}
	status, _ := data["status"].(string)
	return Document{Type: bt, ID: id, Status: bsd.Status(status), Data: data}, nil
}

func (t *txRepo) UpdateDocument(ctx context.Context, doc Document) error {
	adapter, ok := t.adapters[doc.Type]
	if !ok {
		return shared.ErrNotFound
	}
	doc.Data["status"] = string(doc.Status)
	doc.Data["updatedAt"] = doc.UpdatedAt.UTC().Format(time.RFC3339Nano)
	raw, err := json.Marshal(doc.Data)
	if err != nil {
		return fmt.Errorf("revision: encode document: %w", err)
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE `+adapter.Table+` SET status = $2, updated_at = $3, data = $4 WHERE id = $1`,
		doc.ID, doc.Status, doc.UpdatedAt, raw)
	if err != nil {
		return fmt.Errorf("revision: update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) AppendEvent(ctx context.Context, evt events.Event) error {
	return events.AppendTx(ctx, t.tx, evt)
}

func (t *txRepo) AfterCommit(fn func()) {
	t.after.Register(fn)
}
