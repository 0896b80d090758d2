package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/untoldecay/space/internal/types"
)

const insightColumns = `id, project_id, agent_id, spawn_id, decision_id, domain, content, open,
	mentions, provenance, counterfactual, archived_at, deleted_at, created_at`

// CreateInsightArgs carries the fields for a new insight.
type CreateInsightArgs struct {
	ProjectID  types.ProjectID
	AgentID    types.AgentID
	SpawnID    *types.SpawnID
	DecisionID *types.DecisionID
	Domain     string
	Content    string
	Open       bool
}

// CreateInsight records a short observation. Content is capped at 280
// characters. Provenance is derived from how many cited artifacts belong
// to other agents; mentions are expanded against the known handles. Open
// insights are questions and surface in mentioned agents' inboxes until
// closed.
func (s *Store) CreateInsight(ctx context.Context, args CreateInsightArgs) (*types.Insight, error) {
	args.Content = strings.TrimSpace(args.Content)
	if args.Content == "" {
		return nil, types.Validationf("insight content cannot be empty")
	}
	if n := utf8.RuneCountInString(args.Content); n > types.MaxInsightLen {
		return nil, types.Validationf("insight content is %d chars, max %d", n, types.MaxInsightLen)
	}
	if args.Domain == "" {
		args.Domain = "general"
	}

	var insight *types.Insight
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		id, err := newRowID(ctx, tx, "insights")
		if err != nil {
			return err
		}

		refs := types.ExtractCitations(args.Content)
		crossRefs, err := crossAgentRefs(ctx, tx, refs, args.AgentID)
		if err != nil {
			return err
		}
		provenance := provenanceFor(crossRefs)

		mentions, err := expandMentions(ctx, tx, args.Content)
		if err != nil {
			return err
		}

		createdAt := now()
		var spawnID, decisionID any
		if args.SpawnID != nil {
			spawnID = string(*args.SpawnID)
		}
		if args.DecisionID != nil {
			decisionID = string(*args.DecisionID)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO insights (id, project_id, agent_id, spawn_id, decision_id, domain, content, open, mentions, provenance, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, string(args.ProjectID), string(args.AgentID), spawnID, decisionID,
			args.Domain, args.Content, args.Open, stringListJSON(mentions), string(provenance), createdAt); err != nil {
			return fmt.Errorf("failed to insert insight: %w", err)
		}

		if err := storeCitations(ctx, tx, types.ArtifactInsight, id, args.Content); err != nil {
			return err
		}

		insight = &types.Insight{
			ID:         types.InsightID(id),
			ProjectID:  args.ProjectID,
			AgentID:    args.AgentID,
			SpawnID:    args.SpawnID,
			DecisionID: args.DecisionID,
			Domain:     args.Domain,
			Content:    args.Content,
			Open:       args.Open,
			Mentions:   mentions,
			Provenance: provenance,
			CreatedAt:  createdAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return insight, nil
}

// GetInsight fetches an insight by id or id prefix.
func (s *Store) GetInsight(ctx context.Context, ref string) (*types.Insight, error) {
	id, err := s.ResolveInsight(ctx, ref)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+insightColumns+` FROM insights WHERE id = ?`, string(id))
	in, err := scanInsight(row)
	if err == sql.ErrNoRows {
		return nil, types.NotFoundf("insight %s not found", id.Short())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get insight: %w", err)
	}
	return in, nil
}

// FetchInsights lists insights matching the filter, newest first.
func (s *Store) FetchInsights(ctx context.Context, filter types.InsightFilter) ([]*types.Insight, error) {
	q := newQuery("insights", insightColumns).
		WhereIf("project_id = ?", (*string)(filter.ProjectID)).
		WhereIf("agent_id = ?", (*string)(filter.AgentID)).
		WhereIf("domain = ?", filter.Domain).
		WhereIf("open = ?", filter.Open).
		OrderBy("created_at DESC").
		Limit(filter.Limit)
	if !filter.IncludeArchived {
		q.NotArchived()
	}
	if !filter.IncludeDeleted {
		q.NotDeleted()
	}

	query, args := q.SQL()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query insights: %w", err)
	}
	defer rows.Close()

	var out []*types.Insight
	for rows.Next() {
		in, err := scanInsight(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan insight: %w", err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate insights: %w", err)
	}
	return out, nil
}

// CloseInsight resolves an open insight. counterfactual, when given,
// records whether a single agent could plausibly have reached the answer
// alone.
func (s *Store) CloseInsight(ctx context.Context, ref string, counterfactual *bool) error {
	id, err := s.ResolveInsight(ctx, ref)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE insights SET open = 0, counterfactual = ?
			WHERE id = ? AND open = 1 AND deleted_at IS NULL`,
			counterfactual, string(id))
		if err != nil {
			return fmt.Errorf("failed to close insight: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.Statef("insight i/%s is not open", id.Short())
		}
		return nil
	})
}

// DeleteInsight soft-deletes an insight.
func (s *Store) DeleteInsight(ctx context.Context, ref string) error {
	id, err := s.ResolveInsight(ctx, ref)
	if err != nil {
		return err
	}
	return s.softDelete(ctx, "insights", string(id), "insight i/"+id.Short())
}

// ArchiveInsight archives an insight.
func (s *Store) ArchiveInsight(ctx context.Context, ref string) error {
	id, err := s.ResolveInsight(ctx, ref)
	if err != nil {
		return err
	}
	return s.setArchived(ctx, "insights", string(id), "insight i/"+id.Short(), true)
}

// UnarchiveInsight restores an archived insight.
func (s *Store) UnarchiveInsight(ctx context.Context, ref string) error {
	id, err := s.ResolveInsight(ctx, ref)
	if err != nil {
		return err
	}
	return s.setArchived(ctx, "insights", string(id), "insight i/"+id.Short(), false)
}

func scanInsight(row rowScanner) (*types.Insight, error) {
	var (
		i              types.Insight
		id             string
		spawnID        sql.NullString
		decisionID     sql.NullString
		mentions       string
		counterfactual sql.NullBool
		archivedAt     sql.NullTime
		deletedAt      sql.NullTime
	)
	err := row.Scan(&id, &i.ProjectID, &i.AgentID, &spawnID, &decisionID, &i.Domain, &i.Content, &i.Open,
		&mentions, &i.Provenance, &counterfactual, &archivedAt, &deletedAt, &i.CreatedAt)
	if err != nil {
		return nil, err
	}
	i.ID = types.InsightID(id)
	if spawnID.Valid {
		v := types.SpawnID(spawnID.String)
		i.SpawnID = &v
	}
	if decisionID.Valid {
		v := types.DecisionID(decisionID.String)
		i.DecisionID = &v
	}
	i.Mentions = parseStringList(mentions)
	if counterfactual.Valid {
		v := counterfactual.Bool
		i.Counterfactual = &v
	}
	i.ArchivedAt = timePtr(archivedAt)
	i.DeletedAt = timePtr(deletedAt)
	return &i, nil
}
