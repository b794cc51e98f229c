package index

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wastetrack/wastetrack/internal/bsd"
)

// PGStore persists projections in a flattened bsd_index table with array
// columns for tab membership so queries filter without unpacking JSON.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Upsert writes one projection row, replacing the previous version.
func (s *PGStore) Upsert(ctx context.Context, doc Document) error {
	raw, err := json.Marshal(doc.RawBsd)
	if err != nil {
		return fmt.Errorf("index: marshal raw bsd: %w", err)
	}
	tabs, err := json.Marshal(doc.Tabs)
	if err != nil {
		return fmt.Errorf("index: marshal tabs: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO bsd_index (
  id, type, readable_id, custom_id, created_at, updated_at,
  emitter_name, emitter_siret, transporter_name, transporter_siret,
  destination_name, destination_siret, waste_code, waste_description,
  taken_over_at, reception_date, reception_weight, operation_code, operation_date,
  is_draft_for, is_for_action_for, is_follow_for, is_archived_for,
  is_to_collect_for, is_collected_for, sirets, tabs, raw_bsd, search_text
) VALUES (
  $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
  $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29
)
ON CONFLICT (id) DO UPDATE SET
  type = EXCLUDED.type, readable_id = EXCLUDED.readable_id,
  custom_id = EXCLUDED.custom_id, updated_at = EXCLUDED.updated_at,
  emitter_name = EXCLUDED.emitter_name, emitter_siret = EXCLUDED.emitter_siret,
  transporter_name = EXCLUDED.transporter_name, transporter_siret = EXCLUDED.transporter_siret,
  destination_name = EXCLUDED.destination_name, destination_siret = EXCLUDED.destination_siret,
  waste_code = EXCLUDED.waste_code, waste_description = EXCLUDED.waste_description,
  taken_over_at = EXCLUDED.taken_over_at, reception_date = EXCLUDED.reception_date,
  reception_weight = EXCLUDED.reception_weight, operation_code = EXCLUDED.operation_code,
  operation_date = EXCLUDED.operation_date,
  is_draft_for = EXCLUDED.is_draft_for, is_for_action_for = EXCLUDED.is_for_action_for,
  is_follow_for = EXCLUDED.is_follow_for, is_archived_for = EXCLUDED.is_archived_for,
  is_to_collect_for = EXCLUDED.is_to_collect_for, is_collected_for = EXCLUDED.is_collected_for,
  sirets = EXCLUDED.sirets, tabs = EXCLUDED.tabs, raw_bsd = EXCLUDED.raw_bsd,
  search_text = EXCLUDED.search_text`,
		doc.ID, doc.Type, doc.ReadableID, doc.CustomID, doc.CreatedAt, doc.UpdatedAt,
		doc.EmitterCompanyName, doc.EmitterCompanySiret,
		doc.TransporterCompanyName, doc.TransporterCompanySiret,
		doc.DestinationCompanyName, doc.DestinationCompanySiret,
		doc.WasteCode, doc.WasteDescription,
		nullTime(doc.TransporterTakenOverAt), nullTime(doc.DestinationReceptionDate),
		doc.DestinationReceptionWeight, doc.DestinationOperationCode, nullTime(doc.DestinationOperationDate),
		doc.Tabs[bsd.TabDraft], doc.Tabs[bsd.TabForAction], doc.Tabs[bsd.TabFollow],
		doc.Tabs[bsd.TabArchived], doc.Tabs[bsd.TabToCollect], doc.Tabs[bsd.TabCollected],
		doc.Sirets, tabs, raw, searchText(doc))
	if err != nil {
		return fmt.Errorf("index: upsert: %w", err)
	}
	return nil
}

// Delete removes a projection row.
func (s *PGStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM bsd_index WHERE id = $1`, id); err != nil {
		return fmt.Errorf("index: delete: %w", err)
	}
	return nil
}

// Search filters by siret membership, tab, type and folded free text, with
// keyset pagination on (updated_at DESC, id DESC).
func (s *PGStore) Search(ctx context.Context, q Query) (Page, error) {
	size := normalizePageSize(q.PageSize)
	cursorAt, cursorID, err := decodeCursor(q.Cursor)
	if err != nil {
		return Page{}, err
	}

	query := `SELECT id, type, readable_id, custom_id, created_at, updated_at,
  emitter_name, emitter_siret, transporter_name, transporter_siret,
  destination_name, destination_siret, waste_code, waste_description, tabs, sirets
FROM bsd_index WHERE TRUE`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.Siret != "" {
		query += ` AND ` + arg(q.Siret) + ` = ANY(sirets)`
	}
	if q.Tab != "" && q.Siret != "" {
		column, ok := tabColumns[q.Tab]
		if !ok {
			return Page{}, fmt.Errorf("index: unknown tab %q", q.Tab)
		}
		query += ` AND ` + arg(q.Siret) + ` = ANY(` + column + `)`
	}
	if len(q.Types) > 0 {
		types := make([]string, len(q.Types))
		for i, t := range q.Types {
			types[i] = string(t)
		}
		query += ` AND type = ANY(` + arg(types) + `)`
	}
	if q.Text != "" {
		query += ` AND search_text LIKE ` + arg("%"+Fold(q.Text)+"%")
	}
	if !cursorAt.IsZero() {
		query += ` AND (updated_at, id) < (` + arg(cursorAt) + `, ` + arg(cursorID) + `)`
	}
	query += ` ORDER BY updated_at DESC, id DESC LIMIT ` + arg(size+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return Page{}, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var page Page
	for rows.Next() {
		var doc Document
		var tabs []byte
		if err := rows.Scan(&doc.ID, &doc.Type, &doc.ReadableID, &doc.CustomID,
			&doc.CreatedAt, &doc.UpdatedAt,
			&doc.EmitterCompanyName, &doc.EmitterCompanySiret,
			&doc.TransporterCompanyName, &doc.TransporterCompanySiret,
			&doc.DestinationCompanyName, &doc.DestinationCompanySiret,
			&doc.WasteCode, &doc.WasteDescription, &tabs, &doc.Sirets); err != nil {
			return Page{}, fmt.Errorf("index: scan: %w", err)
		}
		if len(tabs) > 0 {
			if err := json.Unmarshal(tabs, &doc.Tabs); err != nil {
				return Page{}, fmt.Errorf("index: unmarshal tabs: %w", err)
			}
		}
		page.Documents = append(page.Documents, doc)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("index: search rows: %w", err)
	}

	if len(page.Documents) > size {
		page.Documents = page.Documents[:size]
		last := page.Documents[len(page.Documents)-1]
		page.NextCursor = encodeCursor(last.UpdatedAt, last.ID)
	}
	page.Total = len(page.Documents)
	return page, nil
}

var tabColumns = map[bsd.Tab]string{
	bsd.TabDraft:     "is_draft_for",
	bsd.TabForAction: "is_for_action_for",
	bsd.TabFollow:    "is_follow_for",
	bsd.TabArchived:  "is_archived_for",
	bsd.TabToCollect: "is_to_collect_for",
	bsd.TabCollected: "is_collected_for",
}

func searchText(doc Document) string {
	return Fold(doc.ReadableID + " " + doc.CustomID + " " + doc.WasteCode + " " +
		doc.WasteDescription + " " + doc.EmitterCompanyName + " " +
		doc.TransporterCompanyName + " " + doc.DestinationCompanyName)
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
