package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/untoldecay/space/internal/types"
)

const maxIDAttempts = 5

// newRowID generates an id whose 8-hex short form is not yet used in
// table. The unique substr index backstops the residual race between
// concurrent transactions.
func newRowID(ctx context.Context, tx *sql.Tx, table string) (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := types.NewID()
		var exists bool
		q := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE substr(id, 1, 8) = ?)`, table)
		if err := tx.QueryRowContext(ctx, q, id[:8]).Scan(&exists); err != nil {
			return "", fmt.Errorf("failed to probe short id collision: %w", err)
		}
		if !exists {
			return id, nil
		}
	}
	return "", fmt.Errorf("failed to generate a collision-free id for %s after %d attempts", table, maxIDAttempts)
}
