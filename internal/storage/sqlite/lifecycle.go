package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/untoldecay/space/internal/types"
)

// softDelete marks a row deleted. label is the human-readable form used
// in error messages, e.g. "decision d/a1b2c3d4".
func (s *Store) softDelete(ctx context.Context, table, id, label string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		q := fmt.Sprintf(`UPDATE %s SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, table)
		res, err := tx.ExecContext(ctx, q, now(), id)
		if err != nil {
			return fmt.Errorf("failed to delete %s: %w", label, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.Statef("%s is already deleted", label)
		}
		return nil
	})
}

// setArchived flips the archived flag on a row that has the opposite
// state, so double-archive and double-restore fail loudly.
func (s *Store) setArchived(ctx context.Context, table, id, label string, archived bool) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			res sql.Result
			err error
		)
		if archived {
			q := fmt.Sprintf(`UPDATE %s SET archived_at = ? WHERE id = ? AND archived_at IS NULL AND deleted_at IS NULL`, table)
			res, err = tx.ExecContext(ctx, q, now(), id)
		} else {
			q := fmt.Sprintf(`UPDATE %s SET archived_at = NULL WHERE id = ? AND archived_at IS NOT NULL AND deleted_at IS NULL`, table)
			res, err = tx.ExecContext(ctx, q, id)
		}
		if err != nil {
			return fmt.Errorf("failed to update %s: %w", label, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if archived {
				return types.Statef("%s is already archived", label)
			}
			return types.Statef("%s is not archived", label)
		}
		return nil
	})
}
