package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/untoldecay/space/internal/types"
)

// Stats snapshots ledger-wide counts for the public stats file and the
// status command.
func (s *Store) Stats(ctx context.Context) (*types.Stats, error) {
	st := &types.Stats{
		Provenance:  make(map[string]int),
		GeneratedAt: now(),
	}

	counts := []struct {
		dest  *int
		query string
	}{
		{&st.Agents, `SELECT COUNT(*) FROM agents WHERE archived_at IS NULL`},
		{&st.Projects, `SELECT COUNT(*) FROM projects WHERE archived_at IS NULL`},
		{&st.Decisions, `SELECT COUNT(*) FROM decisions WHERE deleted_at IS NULL`},
		{&st.Insights, `SELECT COUNT(*) FROM insights WHERE deleted_at IS NULL`},
		{&st.Tasks, `SELECT COUNT(*) FROM tasks WHERE deleted_at IS NULL`},
		{&st.Replies, `SELECT COUNT(*) FROM replies WHERE deleted_at IS NULL`},
		{&st.Citations, `SELECT COUNT(*) FROM citations`},
		{&st.OpenQuestions, `SELECT COUNT(*) FROM insights WHERE open = 1 AND deleted_at IS NULL`},
		{&st.ActiveSpawns, `SELECT COUNT(*) FROM spawns WHERE status = 'active' AND deleted_at IS NULL`},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to count for stats: %w", err)
		}
	}

	midnight := time.Now().Truncate(24 * time.Hour)
	today, err := s.SpawnsSince(ctx, midnight.UTC())
	if err != nil {
		return nil, err
	}
	st.SpawnsToday = today

	rows, err := s.db.QueryContext(ctx, `
		SELECT provenance, COUNT(*) FROM insights
		WHERE deleted_at IS NULL GROUP BY provenance`)
	if err != nil {
		return nil, fmt.Errorf("failed to count provenance: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p string
		var n int
		if err := rows.Scan(&p, &n); err != nil {
			return nil, fmt.Errorf("failed to scan provenance count: %w", err)
		}
		st.Provenance[p] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate provenance counts: %w", err)
	}
	return st, nil
}
