// Package repo persists the Account (C2) and Post (C3) aggregates and
// the Site tenant registry (C4) to MySQL, applying each aggregate's
// pulled domain events transactionally with its own row update and
// publishing them to the event bus strictly after commit (spec.md
// §4.1, §4.2, §9).
package repo

import (
	"context"
	"database/sql"
	"fmt"
)

// doInTx wraps fn in a single database transaction, rolling back on
// any error or panic. Mirrors the teacher's services.doInTx.
func doInTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repo: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err = fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("repo: commit tx: %w", err)
	}
	return nil
}
