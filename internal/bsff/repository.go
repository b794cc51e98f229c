package bsff

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
	Find(ctx context.Context, id string) (Bsff, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional operations. Packagings live in their
// own table because regrouping chains reference containers across documents.
type TxRepository interface {
	Find(ctx context.Context, id string) (Bsff, error)
	Create(ctx context.Context, b Bsff) error
	Update(ctx context.Context, b Bsff) error
	FindPackaging(ctx context.Context, id string) (Packaging, error)
	UpdatePackaging(ctx context.Context, p Packaging) error
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

func (r *Repository) Find(ctx context.Context, id string) (Bsff, error) {
	return find(ctx, r.pool, id)
}

func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, r.logger, func(tx pgx.Tx, after *db.Callbacks) error {
		return fn(ctx, &txRepo{tx: tx, after: after})
	})
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func find(ctx context.Context, q queryer, id string) (Bsff, error) {
	var data []byte
	err := q.QueryRow(ctx,
		`SELECT data FROM bsffs WHERE id = $1 AND is_deleted = FALSE`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bsff{}, shared.ErrNotFound
		}
		return Bsff{}, fmt.Errorf("bsff: find: %w", err)
	}
	var b Bsff
	if err := json.Unmarshal(data, &b); err != nil {
		return Bsff{}, fmt.Errorf("bsff: decode: %w", err)
	}

	rows, err := q.Query(ctx,
		`SELECT data FROM bsff_packagings WHERE bsff_id = $1 ORDER BY numero ASC`, b.ID)
	if err != nil {
		return Bsff{}, fmt.Errorf("bsff: load packagings: %w", err)
	}
	defer rows.Close()
	b.Packagings = nil
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return Bsff{}, fmt.Errorf("bsff: scan packaging: %w", err)
		}
		var p Packaging
		if err := json.Unmarshal(raw, &p); err != nil {
			return Bsff{}, fmt.Errorf("bsff: decode packaging: %w", err)
		}
		b.Packagings = append(b.Packagings, p)
	}
	return b, rows.Err()
}

type txRepo struct {
	tx    pgx.Tx
	after *db.Callbacks
}

func (t *txRepo) Find(ctx context.Context, id string) (Bsff, error) {
	return find(ctx, t.tx, id)
}

func (t *txRepo) Create(ctx context.Context, b Bsff) error {
	packagings := b.Packagings
	b.Packagings = nil
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("bsff: encode: %w", err)
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO bsffs (id, status, is_deleted, created_at, updated_at, data) VALUES ($1, $2, $3, $4, $5, $6)`,
		b.ID, b.Status, b.IsDeleted, b.CreatedAt, b.UpdatedAt, data)
	if err != nil {
		return fmt.Errorf("bsff: create: %w", err)
	}
	for _, p := range packagings {
		if err := t.insertPackaging(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) insertPackaging(ctx context.Context, p Packaging) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("bsff: encode packaging: %w", err)
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO bsff_packagings (id, bsff_id, numero, data) VALUES ($1, $2, $3, $4)`,
		p.ID, p.BsffID, p.Numero, data)
	if err != nil {
		return fmt.Errorf("bsff: create packaging: %w", err)
	}
	return nil
}

func (t *txRepo) Update(ctx context.Context, b Bsff) error {
	b.Packagings = nil
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("bsff: encode: %w", err)
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE bsffs SET status = $2, is_deleted = $3, updated_at = $4, data = $5 WHERE id = $1`,
		b.ID, b.Status, b.IsDeleted, b.UpdatedAt, data)
	if err != nil {
		return fmt.Errorf("bsff: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) FindPackaging(ctx context.Context, id string) (Packaging, error) {
	var raw []byte
	err := t.tx.QueryRow(ctx, `SELECT data FROM bsff_packagings WHERE id = $1`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Packaging{}, shared.ErrNotFound
		}
		return Packaging{}, fmt.Errorf("bsff: find packaging: %w", err)
	}
	var p Packaging
	if err := json.Unmarshal(raw, &p); err != nil {
		return Packaging{}, fmt.Errorf("bsff: decode packaging: %w", err)
	}
	return p, nil
}

func (t *txRepo) UpdatePackaging(ctx context.Context, p Packaging) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("bsff: encode packaging: %w", err)
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE bsff_packagings SET data = $2 WHERE id = $1`, p.ID, data)
	if err != nil {
		return fmt.Errorf("bsff: update packaging: %w", err)
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
