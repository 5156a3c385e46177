package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Tx is one unit of work. All reads and writes inside WithTx go through it.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a transaction. It commits when fn returns nil and
// rolls back otherwise, returning fn's error unchanged so callers can still
// match typed errors. A panic in fn rolls back and re-panics.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("Rollback failed", "error", rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
