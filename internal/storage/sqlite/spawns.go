package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/untoldecay/space/internal/types"
)

const spawnColumns = `id, agent_id, caller_spawn_id, status, mode, pid, session_id, summary,
	error, trace_hash, resume_count, created_at, last_active_at, deleted_at`

// GetOrCreateSovereign returns the agent's unique active sovereign spawn,
// creating it when none exists. The uniqueness is enforced by a partial
// unique index and an upsert-do-nothing, so there is no window where two
// launchers can both create one. The bool reports whether this call
// created the row.
func (s *Store) GetOrCreateSovereign(ctx context.Context, agentID types.AgentID, callerSpawnID *types.SpawnID) (*types.Spawn, bool, error) {
	var (
		spawn   *types.Spawn
		created bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		id, err := newRowID(ctx, tx, "spawns")
		if err != nil {
			return err
		}
		createdAt := now()
		var caller any
		if callerSpawnID != nil {
			caller = string(*callerSpawnID)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO spawns (id, agent_id, caller_spawn_id, status, mode, created_at)
			VALUES (?, ?, ?, 'active', 'sovereign', ?)
			ON CONFLICT DO NOTHING`,
			id, string(agentID), caller, createdAt)
		if err != nil {
			return fmt.Errorf("failed to upsert sovereign spawn: %w", err)
		}

		if n, _ := res.RowsAffected(); n == 1 {
			created = true
			spawn = &types.Spawn{
				ID:            types.SpawnID(id),
				AgentID:       agentID,
				CallerSpawnID: callerSpawnID,
				Status:        types.SpawnActive,
				Mode:          types.ModeSovereign,
				CreatedAt:     createdAt,
			}
			return nil
		}

		row := tx.QueryRowContext(ctx, `
			SELECT `+spawnColumns+` FROM spawns
			WHERE agent_id = ? AND status = 'active' AND mode = 'sovereign' AND deleted_at IS NULL`,
			string(agentID))
		existing, err := scanSpawn(row)
		if err == sql.ErrNoRows {
			return fmt.Errorf("sovereign spawn for agent %s vanished after upsert", agentID.Short())
		}
		if err != nil {
			return fmt.Errorf("failed to read back sovereign spawn: %w", err)
		}
		spawn = existing
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return spawn, created, nil
}

// CreateDirectedSpawn records a new directed-mode spawn. Directed spawns
// are not subject to the one-active-sovereign rule.
func (s *Store) CreateDirectedSpawn(ctx context.Context, agentID types.AgentID, callerSpawnID *types.SpawnID) (*types.Spawn, error) {
	var spawn *types.Spawn
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		id, err := newRowID(ctx, tx, "spawns")
		if err != nil {
			return err
		}
		createdAt := now()
		var caller any
		if callerSpawnID != nil {
			caller = string(*callerSpawnID)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO spawns (id, agent_id, caller_spawn_id, status, mode, created_at)
			VALUES (?, ?, ?, 'active', 'directed', ?)`,
			id, string(agentID), caller, createdAt); err != nil {
			return fmt.Errorf("failed to insert directed spawn: %w", err)
		}
		spawn = &types.Spawn{
			ID:            types.SpawnID(id),
			AgentID:       agentID,
			CallerSpawnID: callerSpawnID,
			Status:        types.SpawnActive,
			Mode:          types.ModeDirected,
			CreatedAt:     createdAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return spawn, nil
}

// GetSpawn fetches a spawn by id or id prefix.
func (s *Store) GetSpawn(ctx context.Context, ref string) (*types.Spawn, error) {
	id, err := s.ResolveSpawn(ctx, ref)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+spawnColumns+` FROM spawns WHERE id = ?`, string(id))
	sp, err := scanSpawn(row)
	if err == sql.ErrNoRows {
		return nil, types.NotFoundf("spawn %s not found", id.Short())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get spawn: %w", err)
	}
	return sp, nil
}

// FetchSpawns lists spawns matching the filter, newest first.
func (s *Store) FetchSpawns(ctx context.Context, filter types.SpawnFilter) ([]*types.Spawn, error) {
	q := newQuery("spawns", spawnColumns).
		WhereIf("agent_id = ?", (*string)(filter.AgentID)).
		WhereIf("status = ?", (*string)(filter.Status)).
		WhereIf("mode = ?", (*string)(filter.Mode)).
		OrderBy("created_at DESC").
		Limit(filter.Limit)
	if !filter.IncludeDeleted {
		q.NotDeleted()
	}

	query, args := q.SQL()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query spawns: %w", err)
	}
	defer rows.Close()
	return collectSpawns(rows)
}

// ReactivateSpawn flips a spawn back to active for a relaunch, clearing
// the previous error and pid. asResume additionally counts the attempt
// against the single-retry budget.
func (s *Store) ReactivateSpawn(ctx context.Context, id types.SpawnID, asResume bool) error {
	bump := 0
	if asResume {
		bump = 1
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE spawns SET status = 'active', error = NULL, pid = NULL,
				resume_count = resume_count + ?
			WHERE id = ? AND deleted_at IS NULL`,
			bump, string(id))
		if err != nil {
			return fmt.Errorf("failed to reactivate spawn: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.NotFoundf("spawn %s not found", id.Short())
		}
		return nil
	})
}

// BindPID claims process ownership of the spawn row: the pid is set only
// when currently null, and the rowcount decides who won.
func (s *Store) BindPID(ctx context.Context, id types.SpawnID, pid int) (bool, error) {
	var won bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE spawns SET pid = ? WHERE id = ? AND pid IS NULL`, pid, string(id))
		if err != nil {
			return fmt.Errorf("failed to bind pid: %w", err)
		}
		n, _ := res.RowsAffected()
		won = n == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return won, nil
}

// CaptureSession persists the vendor session id. The first captured value
// sticks; repeats are no-ops, and a differing value replaces it.
func (s *Store) CaptureSession(ctx context.Context, id types.SpawnID, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE spawns SET session_id = ?1
		WHERE id = ?2 AND (session_id IS NULL OR session_id <> ?1)`,
		sessionID, string(id))
	if err != nil {
		return fmt.Errorf("failed to capture session: %w", err)
	}
	return nil
}

// ClearSession drops a stale vendor session id, after the vendor reported
// it unknown.
func (s *Store) ClearSession(ctx context.Context, id types.SpawnID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE spawns SET session_id = NULL WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// TouchSpawnActive bumps last_active_at, only while the spawn is active.
func (s *Store) TouchSpawnActive(ctx context.Context, id types.SpawnID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE spawns SET last_active_at = ? WHERE id = ? AND status = 'active'`,
		now(), string(id))
	if err != nil {
		return fmt.Errorf("failed to touch spawn: %w", err)
	}
	return nil
}

// SetSpawnSummary records the agent-authored summary on its active spawn.
func (s *Store) SetSpawnSummary(ctx context.Context, id types.SpawnID, summary string) error {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return types.Validationf("summary cannot be empty")
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE spawns SET summary = ? WHERE id = ? AND status = 'active'`,
			summary, string(id))
		if err != nil {
			return fmt.Errorf("failed to set summary: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.Statef("spawn s/%s is not active", id.Short())
		}
		return nil
	})
}

// FinishSpawn transitions an active spawn to done. A summary passed here
// overrides one set earlier; with neither a summary nor an error the row
// gets error="no summary" so a done spawn always explains itself. The
// transition is conditional on the row still being active, so a racing
// terminate or reap cannot be clobbered; the bool reports whether this
// call performed the transition.
func (s *Store) FinishSpawn(ctx context.Context, id types.SpawnID, summary, errMsg string) (bool, error) {
	summary = strings.TrimSpace(summary)
	var applied bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var existing sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT summary FROM spawns WHERE id = ?`, string(id)).Scan(&existing)
		if err == sql.ErrNoRows {
			return types.NotFoundf("spawn %s not found", id.Short())
		}
		if err != nil {
			return fmt.Errorf("failed to read spawn: %w", err)
		}

		effective := summary
		if effective == "" {
			effective = strings.TrimSpace(existing.String)
		}
		if effective == "" && errMsg == "" {
			errMsg = "no summary"
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE spawns SET status = 'done', summary = ?, error = ?, pid = NULL, last_active_at = ?
			WHERE id = ? AND status = 'active'`,
			strOrNull(effective), strOrNull(errMsg), now(), string(id))
		if err != nil {
			return fmt.Errorf("failed to finish spawn: %w", err)
		}
		n, _ := res.RowsAffected()
		applied = n == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// SetTraceHash persists the finalized trace hash chain head.
func (s *Store) SetTraceHash(ctx context.Context, id types.SpawnID, hash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE spawns SET trace_hash = ? WHERE id = ?`, strOrNull(hash), string(id))
	if err != nil {
		return fmt.Errorf("failed to set trace hash: %w", err)
	}
	return nil
}

// ReapCandidates lists active spawns created before the cutoff. The
// caller decides which are actually dead.
func (s *Store) ReapCandidates(ctx context.Context, cutoff time.Time) ([]*types.Spawn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+spawnColumns+` FROM spawns
		WHERE status = 'active' AND deleted_at IS NULL AND datetime(created_at) <= datetime(?)
		ORDER BY created_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query reap candidates: %w", err)
	}
	defer rows.Close()
	return collectSpawns(rows)
}

// LeakedSpawns lists done spawns that still carry a pid.
func (s *Store) LeakedSpawns(ctx context.Context) ([]*types.Spawn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+spawnColumns+` FROM spawns
		WHERE status = 'done' AND pid IS NOT NULL AND deleted_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaked spawns: %w", err)
	}
	defer rows.Close()
	return collectSpawns(rows)
}

// ClearPID nulls the pid field after the process is confirmed gone.
func (s *Store) ClearPID(ctx context.Context, id types.SpawnID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE spawns SET pid = NULL WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("failed to clear pid: %w", err)
	}
	return nil
}

// ActiveSovereignCount counts live sovereign spawns, the scheduler's
// occupancy measure.
func (s *Store) ActiveSovereignCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM spawns
		WHERE status = 'active' AND mode = 'sovereign' AND deleted_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active sovereigns: %w", err)
	}
	return n, nil
}

// AgentHasActiveSpawn reports whether the agent has any live spawn.
func (s *Store) AgentHasActiveSpawn(ctx context.Context, agentID types.AgentID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM spawns
			WHERE agent_id = ? AND status = 'active' AND deleted_at IS NULL
		)`, string(agentID)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check active spawn: %w", err)
	}
	return exists, nil
}

// ResumableSpawns lists done sovereign spawns that crashed with one of
// the recognized errors, still hold a session, have not used their single
// retry, and whose agent is not currently active. Newest first.
func (s *Store) ResumableSpawns(ctx context.Context, errorSet []string, limit int) ([]*types.Spawn, error) {
	q := newQuery("spawns", spawnColumns).
		Where("status = 'done'").
		Where("mode = 'sovereign'").
		Where("session_id IS NOT NULL AND session_id <> ''").
		Where("resume_count < 1").
		Where(`NOT EXISTS (
			SELECT 1 FROM spawns live
			WHERE live.agent_id = spawns.agent_id AND live.status = 'active' AND live.deleted_at IS NULL
		)`).
		WhereIn("error", errorSet).
		NotDeleted().
		OrderBy("created_at DESC").
		Limit(limit)

	query, args := q.SQL()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query resumable spawns: %w", err)
	}
	defer rows.Close()
	return collectSpawns(rows)
}

// SpawnsSince counts spawns created at or after t, for swarm limit
// enforcement.
func (s *Store) SpawnsSince(ctx context.Context, t time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM spawns
		WHERE deleted_at IS NULL AND datetime(created_at) >= datetime(?)`, t).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count spawns: %w", err)
	}
	return n, nil
}

// SpawnCountsSince returns per-agent spawn counts since t, for the
// scheduler's fairness weight.
func (s *Store) SpawnCountsSince(ctx context.Context, t time.Time) (map[types.AgentID]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, COUNT(*) FROM spawns
		WHERE deleted_at IS NULL AND datetime(created_at) >= datetime(?)
		GROUP BY agent_id`, t)
	if err != nil {
		return nil, fmt.Errorf("failed to count spawns by agent: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.AgentID]int)
	for rows.Next() {
		var agentID string
		var n int
		if err := rows.Scan(&agentID, &n); err != nil {
			return nil, fmt.Errorf("failed to scan spawn count: %w", err)
		}
		counts[types.AgentID(agentID)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate spawn counts: %w", err)
	}
	return counts, nil
}

// LastFinishedAgent names the agent whose spawn completed most recently,
// for the scheduler's anti-ping-pong exclusion. Returns "" when no spawn
// has finished yet.
func (s *Store) LastFinishedAgent(ctx context.Context) (types.AgentID, error) {
	var agentID string
	err := s.db.QueryRowContext(ctx, `
		SELECT agent_id FROM spawns
		WHERE status = 'done' AND deleted_at IS NULL AND last_active_at IS NOT NULL
		ORDER BY last_active_at DESC LIMIT 1`).Scan(&agentID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find last finished agent: %w", err)
	}
	return types.AgentID(agentID), nil
}

// RecentSummaries returns the agent's latest non-empty spawn summaries,
// newest first.
func (s *Store) RecentSummaries(ctx context.Context, agentID types.AgentID, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT summary FROM spawns
		WHERE agent_id = ? AND status = 'done' AND deleted_at IS NULL
		  AND summary IS NOT NULL AND summary <> ''
		ORDER BY created_at DESC LIMIT ?`, string(agentID), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var summary string
		if err := rows.Scan(&summary); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate summaries: %w", err)
	}
	return out, nil
}

// ClearInertiaSummaries blanks done-spawn summaries containing any of the
// no-work phrases, so stale "nothing to do" text stops echoing into later
// wake contexts. Matching is case-insensitive. Returns the number of
// summaries cleared.
func (s *Store) ClearInertiaSummaries(ctx context.Context, phrases []string) (int, error) {
	if len(phrases) == 0 {
		return 0, nil
	}
	cleared := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, summary FROM spawns
			WHERE status = 'done' AND deleted_at IS NULL AND summary IS NOT NULL AND summary <> ''`)
		if err != nil {
			return fmt.Errorf("failed to query summaries: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id, summary string
			if err := rows.Scan(&id, &summary); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan summary: %w", err)
			}
			lower := strings.ToLower(summary)
			for _, phrase := range phrases {
				if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
					ids = append(ids, id)
					break
				}
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to iterate summaries: %w", err)
		}

		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`UPDATE spawns SET summary = '' WHERE id = ?`, id); err != nil {
				return fmt.Errorf("failed to clear summary: %w", err)
			}
			cleared++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return cleared, nil
}

// DeleteSpawn soft-deletes a spawn row.
func (s *Store) DeleteSpawn(ctx context.Context, ref string) error {
	id, err := s.ResolveSpawn(ctx, ref)
	if err != nil {
		return err
	}
	return s.softDelete(ctx, "spawns", string(id), "spawn s/"+id.Short())
}

func collectSpawns(rows *sql.Rows) ([]*types.Spawn, error) {
	var out []*types.Spawn
	for rows.Next() {
		sp, err := scanSpawn(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan spawn: %w", err)
		}
		out = append(out, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate spawns: %w", err)
	}
	return out, nil
}

func scanSpawn(row rowScanner) (*types.Spawn, error) {
	var (
		sp           types.Spawn
		id           string
		caller       sql.NullString
		pid          sql.NullInt64
		sessionID    sql.NullString
		summary      sql.NullString
		errMsg       sql.NullString
		traceHash    sql.NullString
		lastActiveAt sql.NullTime
		deletedAt    sql.NullTime
	)
	err := row.Scan(&id, &sp.AgentID, &caller, &sp.Status, &sp.Mode, &pid, &sessionID, &summary,
		&errMsg, &traceHash, &sp.ResumeCount, &sp.CreatedAt, &lastActiveAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	sp.ID = types.SpawnID(id)
	if caller.Valid {
		v := types.SpawnID(caller.String)
		sp.CallerSpawnID = &v
	}
	if pid.Valid {
		v := int(pid.Int64)
		sp.PID = &v
	}
	sp.SessionID = sessionID.String
	sp.Summary = summary.String
	sp.Error = errMsg.String
	sp.TraceHash = traceHash.String
	sp.LastActiveAt = timePtr(lastActiveAt)
	sp.DeletedAt = timePtr(deletedAt)
	return &sp, nil
}
