package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// resetTables are truncated by Reset, dependents first.
var resetTables = []string{"list_members", "contacts", "lists", "tags", "companies", "import_runs"}

// Reset truncates every table the profiles write. It is destructive.
func (s *Store) Reset(ctx context.Context) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		for _, table := range resetTables {
			if _, err := tx.Exec(ctx, "TRUNCATE "+pgx.Identifier{table}.Sanitize()+" RESTART IDENTITY CASCADE"); err != nil {
				return fmt.Errorf("reset %s: %w", table, err)
			}
		}
		s.logger.Warn("tables reset", "tables", len(resetTables))
		return nil
	})
}
