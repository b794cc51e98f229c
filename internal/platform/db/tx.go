package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Callbacks collects post-commit side effects registered during a
// transaction. They fire only after a successful commit and are best-effort:
// a failing callback is logged, never propagated.
type Callbacks struct {
	fns []func()
}

// Register queues a callback to run after commit.
func (c *Callbacks) Register(fn func()) {
	if fn == nil {
		return
	}
	c.fns = append(c.fns, fn)
}

// Fire runs the queued callbacks, recovering from panics.
func (c *Callbacks) Fire(logger *slog.Logger) {
	for _, fn := range c.fns {
		func() {
			defer func() {
				if r := recover(); r != nil && logger != nil {
					logger.Error("after-commit callback panic", slog.Any("panic", r))
				}
			}()
			fn()
		}()
	}
	c.fns = nil
}

// WithTx executes fn inside a SERIALIZABLE transaction. All mutations to one
// document and its directly related rows go through here so status and
// quantity invariants commit atomically. Callbacks registered by fn fire
// after a successful commit.
func WithTx(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger, fn func(tx pgx.Tx, after *Callbacks) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	after := &Callbacks{}
	if err := fn(tx, after); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	after.Fire(logger)
	return nil
}
