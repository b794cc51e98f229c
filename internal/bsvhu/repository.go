package bsvhu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wastetrack/wastetrack/internal/events"
	"github.com/wastetrack/wastetrack/internal/platform/db"
	"github.com/wastetrack/wastetrack/internal/shared"
)

// RepositoryPort describes the persistence operations the service relies on.
type RepositoryPort interface {
	Find(ctx context.Context, id string) (Bsvhu, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Find(ctx context.Context, id string) (Bsvhu, error)
	Create(ctx context.Context, b Bsvhu) error
	Update(ctx context.Context, b Bsvhu) error
	AppendEvent(ctx context.Context, evt events.Event) error
	AfterCommit(fn func())
}

// Repository is the PostgreSQL-backed implementation.
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool, logger *slog.Logger) *Repository {
	return &Repository{pool: pool, logger: logger}
}

func (r *Repository) Find(ctx context.Context, id string) (Bsvhu, error) {
	return find(ctx, r.pool, id)
}

func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, r.logger, func(tx pgx.Tx, after *db.Callbacks) error {
		return fn(ctx, &txRepo{tx: tx, after: after})
	})
}

type rowQueryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func find(ctx context.Context, q rowQueryer, id string) (Bsvhu, error) {
	var data []byte
	err := q.QueryRow(ctx,
		`SELECT data FROM bsvhus WHERE id = $1 AND is_deleted = FALSE`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bsvhu{}, shared.ErrNotFound
		}
		return Bsvhu{}, fmt.Errorf("bsvhu: find: %w", err)
	}
	var b Bsvhu
	if err := json.Unmarshal(data, &b); err != nil {
		return Bsvhu{}, fmt.Errorf("bsvhu: decode: %w", err)
	}
	return b, nil
}

type txRepo struct {
	tx    pgx.Tx
	after *db.Callbacks
}

func (t *txRepo) Find(ctx context.Context, id string) (Bsvhu, error) {
	return find(ctx, t.tx, id)
}

func (t *txRepo) Create(ctx context.Context, b Bsvhu) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("bsvhu: encode: %w", err)
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO bsvhus (id, status, is_deleted, created_at, updated_at, data) VALUES ($1, $2, $3, $4, $5, $6)`,
		b.ID, b.Status, b.IsDeleted, b.CreatedAt, b.UpdatedAt, data)
	if err != nil {
		return fmt.Errorf("bsvhu: create: %w", err)
	}
	return nil
}

func (t *txRepo) Update(ctx context.Context, b Bsvhu) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("bsvhu: encode: %w", err)
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE bsvhus SET status = $2, is_deleted = $3, updated_at = $4, data = $5 WHERE id = $1`,
		b.ID, b.Status, b.IsDeleted, b.UpdatedAt, data)
	if err != nil {
		return fmt.Errorf("bsvhu: update: %w", err)
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
