package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/untoldecay/space/internal/types"
)

const agentColumns = `id, handle, type, model, identity_name, archived_at, merged_into, created_at, last_spawned_at`

var handleRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,31}$`)

// CreateAgent registers a new agent. Handles are unique across the whole
// ledger, including archived agents; "human" is reserved because @human
// mentions expand to every human agent.
func (s *Store) CreateAgent(ctx context.Context, handle string, typ types.AgentType, model, identityName string) (*types.Agent, error) {
	handle = strings.TrimSpace(handle)
	if !handleRe.MatchString(handle) {
		return nil, types.Validationf("invalid handle %q: use letters, digits, _ or -, up to 32 chars", handle)
	}
	if handle == types.HumanMention {
		return nil, types.Validationf("handle %q is reserved", handle)
	}
	if typ == types.AgentAI && model == "" {
		return nil, types.Validationf("ai agent %q needs a model", handle)
	}

	var agent *types.Agent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM agents WHERE handle = ?)`, handle).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check handle: %w", err)
		}
		if exists {
			return types.Conflictf("agent %q already exists", handle)
		}

		id, err := newRowID(ctx, tx, "agents")
		if err != nil {
			return err
		}
		createdAt := now()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO agents (id, handle, type, model, identity_name, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, handle, string(typ), strOrNull(model), strOrNull(identityName), createdAt); err != nil {
			return fmt.Errorf("failed to insert agent: %w", err)
		}
		agent = &types.Agent{
			ID:           types.AgentID(id),
			Handle:       handle,
			Type:         typ,
			Model:        model,
			IdentityName: identityName,
			CreatedAt:    createdAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// GetAgent fetches an agent by id, id prefix, or handle.
func (s *Store) GetAgent(ctx context.Context, ref string) (*types.Agent, error) {
	id, err := s.ResolveAgent(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.getAgentByID(ctx, id)
}

func (s *Store) getAgentByID(ctx context.Context, id types.AgentID) (*types.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`, string(id))
	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, types.NotFoundf("agent %s not found", id.Short())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return agent, nil
}

// GetAgentByHandle fetches an agent by its exact handle.
func (s *Store) GetAgentByHandle(ctx context.Context, handle string) (*types.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE handle = ?`, handle)
	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, types.NotFoundf("agent %q not found", handle)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return agent, nil
}

// FetchAgents lists agents matching the filter, oldest first. Archived
// agents are excluded unless the filter includes them.
func (s *Store) FetchAgents(ctx context.Context, filter types.AgentFilter) ([]*types.Agent, error) {
	q := newQuery("agents", agentColumns).
		WhereIf("type = ?", filter.Type).
		OrderBy("created_at")
	if !filter.IncludeArchived {
		q.NotArchived()
	}

	query, args := q.SQL()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	var out []*types.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		out = append(out, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate agents: %w", err)
	}
	return out, nil
}

// ArchiveAgent retires an agent. Archived agents keep their handle and
// history but stop being eligible for spawning and mention expansion.
func (s *Store) ArchiveAgent(ctx context.Context, ref string) error {
	id, err := s.ResolveAgent(ctx, ref)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE agents SET archived_at = ? WHERE id = ? AND archived_at IS NULL`,
			now(), string(id))
		if err != nil {
			return fmt.Errorf("failed to archive agent: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.Statef("agent %s is already archived", id.Short())
		}
		return nil
	})
}

// UnarchiveAgent restores an archived agent. Merged agents stay archived;
// their identity now lives elsewhere.
func (s *Store) UnarchiveAgent(ctx context.Context, ref string) error {
	id, err := s.ResolveAgent(ctx, ref)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE agents SET archived_at = NULL WHERE id = ? AND archived_at IS NOT NULL AND merged_into IS NULL`,
			string(id))
		if err != nil {
			return fmt.Errorf("failed to unarchive agent: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.Statef("agent %s is not archived or was merged", id.Short())
		}
		return nil
	})
}

// MergeAgents archives the first agent with a pointer to the second. The
// merged agent's artifacts stay under its id; the pointer records where
// the identity went.
func (s *Store) MergeAgents(ctx context.Context, fromRef, intoRef string) error {
	fromID, err := s.ResolveAgent(ctx, fromRef)
	if err != nil {
		return err
	}
	intoID, err := s.ResolveAgent(ctx, intoRef)
	if err != nil {
		return err
	}
	if fromID == intoID {
		return types.Validationf("cannot merge agent %s into itself", fromID.Short())
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var archived sql.NullTime
		if err := tx.QueryRowContext(ctx,
			`SELECT archived_at FROM agents WHERE id = ?`, string(intoID)).Scan(&archived); err != nil {
			return fmt.Errorf("failed to check merge target: %w", err)
		}
		if archived.Valid {
			return types.Statef("cannot merge into archived agent %s", intoID.Short())
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE agents SET archived_at = ?, merged_into = ? WHERE id = ? AND archived_at IS NULL`,
			now(), string(intoID), string(fromID))
		if err != nil {
			return fmt.Errorf("failed to merge agent: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.Statef("agent %s is already archived", fromID.Short())
		}
		return nil
	})
}

// SetAgentModel changes an agent's provider model.
func (s *Store) SetAgentModel(ctx context.Context, ref, model string) error {
	id, err := s.ResolveAgent(ctx, ref)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		agent, err := s.getAgentTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if agent.Type == types.AgentAI && model == "" {
			return types.Validationf("ai agent %s needs a model", agent.Handle)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE agents SET model = ? WHERE id = ?`, strOrNull(model), string(id)); err != nil {
			return fmt.Errorf("failed to update agent model: %w", err)
		}
		return nil
	})
}

// SetAgentIdentity sets the display name injected into spawn prompts.
func (s *Store) SetAgentIdentity(ctx context.Context, ref, identityName string) error {
	id, err := s.ResolveAgent(ctx, ref)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE agents SET identity_name = ? WHERE id = ?`, strOrNull(identityName), string(id))
		if err != nil {
			return fmt.Errorf("failed to update agent identity: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.NotFoundf("agent %s not found", id.Short())
		}
		return nil
	})
}

// TouchLastSpawned records that the agent was just spawned, for the
// scheduler's recency penalty.
func (s *Store) TouchLastSpawned(ctx context.Context, id types.AgentID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agents SET last_spawned_at = ? WHERE id = ?`, now(), string(id))
	if err != nil {
		return fmt.Errorf("failed to touch last_spawned_at: %w", err)
	}
	return nil
}

func (s *Store) getAgentTx(ctx context.Context, tx *sql.Tx, id types.AgentID) (*types.Agent, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`, string(id))
	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, types.NotFoundf("agent %s not found", id.Short())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return agent, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*types.Agent, error) {
	var (
		a            types.Agent
		id           string
		model        sql.NullString
		identityName sql.NullString
		archivedAt   sql.NullTime
		mergedInto   sql.NullString
		lastSpawned  sql.NullTime
	)
	err := row.Scan(&id, &a.Handle, &a.Type, &model, &identityName, &archivedAt, &mergedInto, &a.CreatedAt, &lastSpawned)
	if err != nil {
		return nil, err
	}
	a.ID = types.AgentID(id)
	a.Model = model.String
	a.IdentityName = identityName.String
	a.ArchivedAt = timePtr(archivedAt)
	if mergedInto.Valid {
		v := types.AgentID(mergedInto.String)
		a.MergedInto = &v
	}
	a.LastSpawnedAt = timePtr(lastSpawned)
	return &a, nil
}
