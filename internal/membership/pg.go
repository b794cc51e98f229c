package membership

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGLoader reads memberships from the company_associations table.
type PGLoader struct {
	pool *pgxpool.Pool
}

// NewPGLoader constructs a PGLoader.
func NewPGLoader(pool *pgxpool.Pool) *PGLoader {
	return &PGLoader{pool: pool}
}

// SiretsOf returns every SIRET the user is associated with.
func (l *PGLoader) SiretsOf(ctx context.Context, userID string) ([]string, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT siret FROM company_associations WHERE user_id = $1 ORDER BY siret ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("membership: query: %w", err)
	}
	defer rows.Close()

	var sirets []string
	for rows.Next() {
		var siret string
		if err := rows.Scan(&siret); err != nil {
			return nil, fmt.Errorf("membership: scan: %w", err)
		}
		sirets = append(sirets, siret)
	}
	return sirets, rows.Err()
}
