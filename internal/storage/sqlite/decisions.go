package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/untoldecay/space/internal/types"
)

const decisionColumns = `id, project_id, agent_id, spawn_id, content, rationale, reversible,
	committed_at, actioned_at, rejected_at, outcome, refs, archived_at, deleted_at, created_at`

// CreateDecisionArgs carries the fields for a new decision. Callers
// resolve project and agent references first.
type CreateDecisionArgs struct {
	ProjectID  types.ProjectID
	AgentID    types.AgentID
	SpawnID    *types.SpawnID
	Content    string
	Rationale  string
	Reversible *bool
	Refs       string
}

// CreateDecision records a proposed decision. Rationale is mandatory,
// duplicates by (project, content) are rejected, and citations found in
// the text are extracted in the same transaction.
func (s *Store) CreateDecision(ctx context.Context, args CreateDecisionArgs) (*types.Decision, error) {
	args.Content = strings.TrimSpace(args.Content)
	args.Rationale = strings.TrimSpace(args.Rationale)
	if args.Content == "" {
		return nil, types.Validationf("decision content cannot be empty")
	}
	if args.Rationale == "" {
		return nil, types.Validationf("decision rationale cannot be empty")
	}

	var decision *types.Decision
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM decisions
			WHERE project_id = ? AND content = ? AND deleted_at IS NULL`,
			string(args.ProjectID), args.Content).Scan(&existing)
		if err == nil {
			return types.Conflictf("duplicate of decision d/%s", types.ShortID(existing))
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("failed to check for duplicate decision: %w", err)
		}

		id, err := newRowID(ctx, tx, "decisions")
		if err != nil {
			return err
		}
		createdAt := now()
		var spawnID any
		if args.SpawnID != nil {
			spawnID = string(*args.SpawnID)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO decisions (id, project_id, agent_id, spawn_id, content, rationale, reversible, refs, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, string(args.ProjectID), string(args.AgentID), spawnID,
			args.Content, args.Rationale, args.Reversible, strOrNull(args.Refs), createdAt); err != nil {
			return fmt.Errorf("failed to insert decision: %w", err)
		}

		text := args.Content + "\n" + args.Rationale + "\n" + args.Refs
		if err := storeCitations(ctx, tx, types.ArtifactDecision, id, text); err != nil {
			return err
		}

		decision = &types.Decision{
			ID:         types.DecisionID(id),
			ProjectID:  args.ProjectID,
			AgentID:    args.AgentID,
			SpawnID:    args.SpawnID,
			Content:    args.Content,
			Rationale:  args.Rationale,
			Reversible: args.Reversible,
			Refs:       args.Refs,
			CreatedAt:  createdAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decision, nil
}

// GetDecision fetches a decision by id or id prefix.
func (s *Store) GetDecision(ctx context.Context, ref string) (*types.Decision, error) {
	id, err := s.ResolveDecision(ctx, ref)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE id = ?`, string(id))
	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, types.NotFoundf("decision %s not found", id.Short())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}
	return d, nil
}

// FetchDecisions lists decisions matching the filter, newest first.
func (s *Store) FetchDecisions(ctx context.Context, filter types.DecisionFilter) ([]*types.Decision, error) {
	q := newQuery("decisions", decisionColumns).
		WhereIf("project_id = ?", (*string)(filter.ProjectID)).
		WhereIf("agent_id = ?", (*string)(filter.AgentID)).
		OrderBy("created_at DESC").
		Limit(filter.Limit)
	if filter.Status != nil {
		q.Where(decisionStatusCond(*filter.Status))
	}
	if !filter.IncludeArchived {
		q.NotArchived()
	}
	if !filter.IncludeDeleted {
		q.NotDeleted()
	}

	query, args := q.SQL()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
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

// decisionStatusCond maps a derived status onto the timestamp columns.
func decisionStatusCond(st types.DecisionStatus) string {
	switch st {
	case types.DecisionProposed:
		return "committed_at IS NULL"
	case types.DecisionCommitted:
		return "committed_at IS NOT NULL AND actioned_at IS NULL AND rejected_at IS NULL"
	case types.DecisionActioned:
		return "actioned_at IS NOT NULL"
	case types.DecisionRejected:
		return "rejected_at IS NOT NULL"
	}
	return "1 = 1"
}

// Decision transitions are guarded in SQL, not by read-then-write: the
// WHERE clause names the only legal source state, and a zero rowcount
// means the transition was illegal. The follow-up read is solely for the
// error message.

// CommitDecision moves a proposed decision to committed.
func (s *Store) CommitDecision(ctx context.Context, ref string) error {
	return s.transitionDecision(ctx, ref, "commit", `
		UPDATE decisions SET committed_at = ?1
		WHERE id = ?2 AND committed_at IS NULL AND deleted_at IS NULL`)
}

// ActionDecision marks a committed decision as acted on, with an optional
// outcome note.
func (s *Store) ActionDecision(ctx context.Context, ref, outcome string) error {
	id, err := s.ResolveDecision(ctx, ref)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE decisions SET actioned_at = ?, outcome = ?
			WHERE id = ? AND committed_at IS NOT NULL AND actioned_at IS NULL AND rejected_at IS NULL
			  AND deleted_at IS NULL`,
			now(), strOrNull(outcome), string(id))
		if err != nil {
			return fmt.Errorf("failed to action decision: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return decisionTransitionError(ctx, tx, id, "action")
		}
		return nil
	})
}

// RejectDecision marks a committed decision as rejected.
func (s *Store) RejectDecision(ctx context.Context, ref string) error {
	return s.transitionDecision(ctx, ref, "reject", `
		UPDATE decisions SET rejected_at = ?1
		WHERE id = ?2 AND committed_at IS NOT NULL AND actioned_at IS NULL AND rejected_at IS NULL
		  AND deleted_at IS NULL`)
}

// UncommitDecision returns a committed decision to proposed.
func (s *Store) UncommitDecision(ctx context.Context, ref string) error {
	id, err := s.ResolveDecision(ctx, ref)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE decisions SET committed_at = NULL
			WHERE id = ? AND committed_at IS NOT NULL AND actioned_at IS NULL AND rejected_at IS NULL
			  AND deleted_at IS NULL`,
			string(id))
		if err != nil {
			return fmt.Errorf("failed to uncommit decision: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return decisionTransitionError(ctx, tx, id, "uncommit")
		}
		return nil
	})
}

func (s *Store) transitionDecision(ctx context.Context, ref, verb, update string) error {
	id, err := s.ResolveDecision(ctx, ref)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, update, now(), string(id))
		if err != nil {
			return fmt.Errorf("failed to %s decision: %w", verb, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return decisionTransitionError(ctx, tx, id, verb)
		}
		return nil
	})
}

func decisionTransitionError(ctx context.Context, tx *sql.Tx, id types.DecisionID, verb string) error {
	d, err := getDecisionTx(ctx, tx, id)
	if err != nil {
		return err
	}
	return types.Statef("cannot %s decision d/%s while %s", verb, id.Short(), d.Status())
}

// DecayHumanBlocked uncommits decisions that mention @human, have been
// committed for at least the given number of hours, and were never
// actioned or rejected. Returns the short ids of the decayed decisions.
func (s *Store) DecayHumanBlocked(ctx context.Context, hours int) ([]string, error) {
	cutoff := now().Add(-time.Duration(hours) * time.Hour)
	var decayed []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, content FROM decisions
			WHERE committed_at IS NOT NULL AND actioned_at IS NULL AND rejected_at IS NULL
			  AND deleted_at IS NULL
			  AND datetime(committed_at) <= datetime(?)`, cutoff)
		if err != nil {
			return fmt.Errorf("failed to query blocked decisions: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id, content string
			if err := rows.Scan(&id, &content); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan decision: %w", err)
			}
			if types.MentionsHuman(content) {
				ids = append(ids, id)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to iterate decisions: %w", err)
		}

		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`UPDATE decisions SET committed_at = NULL WHERE id = ?`, id); err != nil {
				return fmt.Errorf("failed to decay decision: %w", err)
			}
			decayed = append(decayed, types.ShortID(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decayed, nil
}

// DeleteDecision soft-deletes a decision.
func (s *Store) DeleteDecision(ctx context.Context, ref string) error {
	id, err := s.ResolveDecision(ctx, ref)
	if err != nil {
		return err
	}
	return s.softDelete(ctx, "decisions", string(id), "decision d/"+id.Short())
}

// ArchiveDecision archives a decision.
func (s *Store) ArchiveDecision(ctx context.Context, ref string) error {
	id, err := s.ResolveDecision(ctx, ref)
	if err != nil {
		return err
	}
	return s.setArchived(ctx, "decisions", string(id), "decision d/"+id.Short(), true)
}

// UnarchiveDecision restores an archived decision.
func (s *Store) UnarchiveDecision(ctx context.Context, ref string) error {
	id, err := s.ResolveDecision(ctx, ref)
	if err != nil {
		return err
	}
	return s.setArchived(ctx, "decisions", string(id), "decision d/"+id.Short(), false)
}

func getDecisionTx(ctx context.Context, tx *sql.Tx, id types.DecisionID) (*types.Decision, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE id = ? AND deleted_at IS NULL`, string(id))
	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, types.NotFoundf("decision %s not found", id.Short())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}
	return d, nil
}

func scanDecision(row rowScanner) (*types.Decision, error) {
	var (
		d           types.Decision
		id          string
		spawnID     sql.NullString
		reversible  sql.NullBool
		committedAt sql.NullTime
		actionedAt  sql.NullTime
		rejectedAt  sql.NullTime
		outcome     sql.NullString
		refs        sql.NullString
		archivedAt  sql.NullTime
		deletedAt   sql.NullTime
	)
	err := row.Scan(&id, &d.ProjectID, &d.AgentID, &spawnID, &d.Content, &d.Rationale, &reversible,
		&committedAt, &actionedAt, &rejectedAt, &outcome, &refs, &archivedAt, &deletedAt, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.ID = types.DecisionID(id)
	if spawnID.Valid {
		v := types.SpawnID(spawnID.String)
		d.SpawnID = &v
	}
	if reversible.Valid {
		v := reversible.Bool
		d.Reversible = &v
	}
	d.CommittedAt = timePtr(committedAt)
	d.ActionedAt = timePtr(actionedAt)
	d.RejectedAt = timePtr(rejectedAt)
	d.Outcome = outcome.String
	d.Refs = refs.String
	d.ArchivedAt = timePtr(archivedAt)
	d.DeletedAt = timePtr(deletedAt)
	return &d, nil
}
