package bsdd

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
	FindForm(ctx context.Context, id string) (Form, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional operations. Every mutation of a form and
// its related rows runs through one of these inside a single serializable
// transaction.
type TxRepository interface {
	FindForm(ctx context.Context, id string) (Form, error)
	CreateForm(ctx context.Context, f Form) error
	UpdateForm(ctx context.Context, f Form) error
	AppendEvent(ctx context.Context, evt events.Event) error

	// Appendix-2 grouping.
	AllocatedQuantity(ctx context.Context, parentID, excludeChildID string) (float64, error)
	SetGrouping(ctx context.Context, childID string, links []GroupingLink) error
	RemoveGrouping(ctx context.Context, childID string) error
	FindGroupingParents(ctx context.Context, childID string) ([]Form, error)

	// Transport segments.
	CreateSegment(ctx context.Context, seg TransportSegment) error
	UpdateSegment(ctx context.Context, seg TransportSegment) error
	FindSegment(ctx context.Context, id string) (TransportSegment, error)
	DeleteStaleSegments(ctx context.Context, formID string) error

	// AfterCommit registers a best-effort callback fired once the
	// enclosing transaction commits.
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

// WithTx wraps fn in a serializable transaction with after-commit callbacks.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, r.logger, func(tx pgx.Tx, after *db.Callbacks) error {
		return fn(ctx, &txRepo{tx: tx, after: after})
	})
}

// FindForm loads a committed form outside any transaction.
func (r *Repository) FindForm(ctx context.Context, id string) (Form, error) {
	return findForm(ctx, r.pool, id)
}

// rowQueryer is satisfied by both pgxpool.Pool and pgx.Tx so form loading
// works inside and outside a transaction.
type rowQueryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func findForm(ctx context.Context, q rowQueryer, id string) (Form, error) {
	var data []byte
	err := q.QueryRow(ctx,
		`SELECT data FROM bsdd_forms WHERE (id = $1 OR readable_id = $1) AND is_deleted = FALSE`,
		id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Form{}, shared.ErrNotFound
		}
		return Form{}, fmt.Errorf("bsdd: find form: %w", err)
	}
	var f Form
	if err := json.Unmarshal(data, &f); err != nil {
		return Form{}, fmt.Errorf("bsdd: decode form: %w", err)
	}
	if err := loadRelations(ctx, q, &f); err != nil {
		return Form{}, err
	}
	return f, nil
}

func loadRelations(ctx context.Context, q rowQueryer, f *Form) error {
	rows, err := q.Query(ctx,
		`SELECT data FROM bsdd_segments WHERE form_id = $1 ORDER BY segment_number ASC`, f.ID)
	if err != nil {
		return fmt.Errorf("bsdd: load segments: %w", err)
	}
	defer rows.Close()
	f.Segments = nil
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("bsdd: scan segment: %w", err)
		}
		var seg TransportSegment
		if err := json.Unmarshal(raw, &seg); err != nil {
			return fmt.Errorf("bsdd: decode segment: %w", err)
		}
		f.Segments = append(f.Segments, seg)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	links, err := q.Query(ctx,
		`SELECT parent_id, quantity FROM bsdd_grouping WHERE child_id = $1`, f.ID)
	if err != nil {
		return fmt.Errorf("bsdd: load grouping: %w", err)
	}
	defer links.Close()
	f.Grouping = nil
	for links.Next() {
		var link GroupingLink
		if err := links.Scan(&link.ParentID, &link.Quantity); err != nil {
			return fmt.Errorf("bsdd: scan grouping: %w", err)
		}
		f.Grouping = append(f.Grouping, link)
	}
	if err := links.Err(); err != nil {
		return err
	}

	if f.ForwardedInID != "" && f.ForwardedIn == nil {
		var data []byte
		err := q.QueryRow(ctx,
			`SELECT data FROM bsdd_forms WHERE id = $1 AND is_deleted = FALSE`,
			f.ForwardedInID).Scan(&data)
		if err == nil {
			var suite Form
			if err := json.Unmarshal(data, &suite); err != nil {
				return fmt.Errorf("bsdd: decode forwarded in: %w", err)
			}
			f.ForwardedIn = &suite
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("bsdd: load forwarded in: %w", err)
		}
	}
	return nil
}

type txRepo struct {
	tx    pgx.Tx
	after *db.Callbacks
}

func (t *txRepo) FindForm(ctx context.Context, id string) (Form, error) {
	return findForm(ctx, t.tx, id)
}

func (t *txRepo) CreateForm(ctx context.Context, f Form) error {
	data, err := json.Marshal(stripRelations(f))
	if err != nil {
		return fmt.Errorf("bsdd: encode form: %w", err)
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO bsdd_forms (
  id, readable_id, custom_id, status, is_deleted, owner_id,
  emitter_siret, recipient_siret, transporter_siret, forwarded_in_id,
  created_at, updated_at, data
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11, $12, $13)`,
		f.ID, f.ReadableID, f.CustomID, f.Status, f.IsDeleted, f.OwnerID,
		f.EmitterCompanySiret, f.RecipientCompanySiret, f.TransporterCompanySiret,
		f.ForwardedInID, f.CreatedAt, f.UpdatedAt, data)
	if err != nil {
		return fmt.Errorf("bsdd: create form: %w", err)
	}
	if len(f.Grouping) > 0 {
		if err := t.SetGrouping(ctx, f.ID, f.Grouping); err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) UpdateForm(ctx context.Context, f Form) error {
	data, err := json.Marshal(stripRelations(f))
	if err != nil {
		return fmt.Errorf("bsdd: encode form: %w", err)
	}
	tag, err := t.tx.Exec(ctx, `UPDATE bsdd_forms SET
  custom_id = $2, status = $3, is_deleted = $4,
  emitter_siret = $5, recipient_siret = $6, transporter_siret = $7,
  forwarded_in_id = NULLIF($8, ''), updated_at = $9, data = $10
WHERE id = $1`,
		f.ID, f.CustomID, f.Status, f.IsDeleted,
		f.EmitterCompanySiret, f.RecipientCompanySiret, f.TransporterCompanySiret,
		f.ForwardedInID, f.UpdatedAt, data)
	if err != nil {
		return fmt.Errorf("bsdd: update form: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) AppendEvent(ctx context.Context, evt events.Event) error {
	return events.AppendTx(ctx, t.tx, evt)
}

func (t *txRepo) AllocatedQuantity(ctx context.Context, parentID, excludeChildID string) (float64, error) {
	var total float64
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM bsdd_grouping WHERE parent_id = $1 AND child_id <> $2`,
		parentID, excludeChildID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("bsdd: allocated quantity: %w", err)
	}
	return total, nil
}

func (t *txRepo) SetGrouping(ctx context.Context, childID string, links []GroupingLink) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM bsdd_grouping WHERE child_id = $1`, childID); err != nil {
		return fmt.Errorf("bsdd: clear grouping: %w", err)
	}
	for _, link := range links {
		_, err := t.tx.Exec(ctx,
			`INSERT INTO bsdd_grouping (child_id, parent_id, quantity) VALUES ($1, $2, $3)`,
			childID, link.ParentID, link.Quantity)
		if err != nil {
			return fmt.Errorf("bsdd: insert grouping: %w", err)
		}
	}
	return nil
}

func (t *txRepo) RemoveGrouping(ctx context.Context, childID string) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM bsdd_grouping WHERE child_id = $1`, childID); err != nil {
		return fmt.Errorf("bsdd: remove grouping: %w", err)
	}
	return nil
}

func (t *txRepo) FindGroupingParents(ctx context.Context, childID string) ([]Form, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT parent_id FROM bsdd_grouping WHERE child_id = $1`, childID)
	if err != nil {
		return nil, fmt.Errorf("bsdd: find grouping parents: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var parents []Form
	for _, id := range ids {
		parent, err := findForm(ctx, t.tx, id)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				continue
			}
			return nil, err
		}
		parents = append(parents, parent)
	}
	return parents, nil
}

func (t *txRepo) CreateSegment(ctx context.Context, seg TransportSegment) error {
	data, err := json.Marshal(seg)
	if err != nil {
		return fmt.Errorf("bsdd: encode segment: %w", err)
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO bsdd_segments (id, form_id, segment_number, data) VALUES ($1, $2, $3, $4)`,
		seg.ID, seg.FormID, seg.SegmentNumber, data)
	if err != nil {
		return fmt.Errorf("bsdd: create segment: %w", err)
	}
	return nil
}

func (t *txRepo) UpdateSegment(ctx context.Context, seg TransportSegment) error {
	data, err := json.Marshal(seg)
	if err != nil {
		return fmt.Errorf("bsdd: encode segment: %w", err)
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE bsdd_segments SET data = $2 WHERE id = $1`, seg.ID, data)
	if err != nil {
		return fmt.Errorf("bsdd: update segment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) FindSegment(ctx context.Context, id string) (TransportSegment, error) {
	var raw []byte
	err := t.tx.QueryRow(ctx, `SELECT data FROM bsdd_segments WHERE id = $1`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TransportSegment{}, shared.ErrNotFound
		}
		return TransportSegment{}, fmt.Errorf("bsdd: find segment: %w", err)
	}
	var seg TransportSegment
	if err := json.Unmarshal(raw, &seg); err != nil {
		return TransportSegment{}, fmt.Errorf("bsdd: decode segment: %w", err)
	}
	return seg, nil
}

func (t *txRepo) DeleteStaleSegments(ctx context.Context, formID string) error {
	_, err := t.tx.Exec(ctx,
		`DELETE FROM bsdd_segments WHERE form_id = $1 AND (data->>'takenOverAt' IS NULL OR data->>'takenOverAt' = '0001-01-01T00:00:00Z')`,
		formID)
	if err != nil {
		return fmt.Errorf("bsdd: delete stale segments: %w", err)
	}
	return nil
}

func (t *txRepo) AfterCommit(fn func()) {
	t.after.Register(fn)
}

// stripRelations drops rows persisted in their own tables before encoding
// the form payload.
func stripRelations(f Form) Form {
	f.Segments = nil
	f.Grouping = nil
	f.ForwardedIn = nil
	return f
}
