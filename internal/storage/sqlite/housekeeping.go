package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/untoldecay/space/internal/types"
)

// PruneStaleStatusInsights soft-deletes status-domain insights created
// before the cutoff that nothing cites. Returns the number pruned.
func (s *Store) PruneStaleStatusInsights(ctx context.Context, cutoff time.Time) (int, error) {
	pruned := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE insights SET deleted_at = ?
			WHERE domain = ? AND deleted_at IS NULL
			  AND datetime(created_at) <= datetime(?)
			  AND NOT EXISTS (
				SELECT 1 FROM citations c
				WHERE c.target_type = 'insight' AND c.target_short_id = substr(insights.id, 1, 8))`,
			now(), types.DomainStatus, cutoff)
		if err != nil {
			return fmt.Errorf("failed to prune status insights: %w", err)
		}
		n, _ := res.RowsAffected()
		pruned = int(n)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return pruned, nil
}

// StaleDecisions lists proposed decisions older than the cutoff that
// nothing cites, candidates for cleanup.
func (s *Store) StaleDecisions(ctx context.Context, cutoff time.Time) ([]*types.Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+decisionColumns+` FROM decisions
		WHERE committed_at IS NULL AND deleted_at IS NULL AND archived_at IS NULL
		  AND datetime(created_at) <= datetime(?)
		  AND NOT EXISTS (
			SELECT 1 FROM citations c
			WHERE c.target_type = 'decision' AND c.target_short_id = substr(decisions.id, 1, 8))
		ORDER BY created_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale decisions: %w", err)
	}
	defer rows.Close()

	var out []*types.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate decisions: %w", err)
	}
	return out, nil
}
