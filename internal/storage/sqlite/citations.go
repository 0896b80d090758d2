package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/untoldecay/space/internal/types"
)

// storeCitations records the citation edges found in text, attributed to
// the source artifact. Runs inside the caller's transaction so the edges
// land atomically with the content that cites them.
func storeCitations(ctx context.Context, tx *sql.Tx, sourceType types.ArtifactType, sourceID, text string) error {
	for _, ref := range types.ExtractCitations(text) {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO citations (source_type, source_id, target_type, target_short_id, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			string(sourceType), sourceID, string(ref.Type), ref.Short, now()); err != nil {
			return fmt.Errorf("failed to store citation %s: %w", ref, err)
		}
	}
	return nil
}

// RefsForTarget returns all citation edges pointing at the target.
func (s *Store) RefsForTarget(ctx context.Context, targetType types.ArtifactType, shortID string) ([]types.Citation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_type, source_id, target_type, target_short_id, created_at
		FROM citations
		WHERE target_type = ? AND target_short_id = ?
		ORDER BY created_at`,
		string(targetType), shortID)
	if err != nil {
		return nil, fmt.Errorf("failed to query citations: %w", err)
	}
	defer rows.Close()

	var out []types.Citation
	for rows.Next() {
		var c types.Citation
		if err := rows.Scan(&c.SourceType, &c.SourceID, &c.TargetType, &c.TargetShortID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan citation: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate citations: %w", err)
	}
	return out, nil
}

// CitationCount returns how many sources cite the target.
func (s *Store) CitationCount(ctx context.Context, targetType types.ArtifactType, shortID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM citations WHERE target_type = ? AND target_short_id = ?`,
		string(targetType), shortID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count citations: %w", err)
	}
	return n, nil
}

// crossAgentRefs counts how many of the cited targets belong to an agent
// other than author. Targets that resolve to nothing are skipped; a dangling
// citation carries no provenance weight.
func crossAgentRefs(ctx context.Context, tx *sql.Tx, refs []types.Ref, author types.AgentID) (int, error) {
	count := 0
	for _, ref := range refs {
		var table string
		switch ref.Type {
		case types.ArtifactInsight:
			table = "insights"
		case types.ArtifactDecision:
			table = "decisions"
		default:
			continue
		}
		var agentID string
		q := fmt.Sprintf(`SELECT agent_id FROM %s WHERE substr(id, 1, 8) = ?`, table)
		err := tx.QueryRowContext(ctx, q, ref.Short).Scan(&agentID)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("failed to look up citation target %s: %w", ref, err)
		}
		if types.AgentID(agentID) != author {
			count++
		}
	}
	return count, nil
}

// provenanceFor classifies an insight's origin by its cross-agent
// citation count: none is solo work, one is collaborative, more is
// synthesis.
func provenanceFor(crossRefs int) types.Provenance {
	switch {
	case crossRefs >= 2:
		return types.ProvenanceSynthesis
	case crossRefs == 1:
		return types.ProvenanceCollaborative
	default:
		return types.ProvenanceSolo
	}
}

// expandMentions parses @handle mentions from text, keeps only handles of
// known unarchived agents, and expands @human to every human agent's
// handle.
func expandMentions(ctx context.Context, tx *sql.Tx, text string) ([]string, error) {
	raw := types.ExtractMentions(text)
	if len(raw) == 0 {
		return nil, nil
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT handle, type FROM agents WHERE archived_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent handles: %w", err)
	}
	defer rows.Close()

	known := make(map[string]types.AgentType)
	var humans []string
	for rows.Next() {
		var handle, typ string
		if err := rows.Scan(&handle, &typ); err != nil {
			return nil, fmt.Errorf("failed to scan agent handle: %w", err)
		}
		known[handle] = types.AgentType(typ)
		if types.AgentType(typ) == types.AgentHuman {
			humans = append(humans, handle)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate agent handles: %w", err)
	}

	seen := make(map[string]bool)
	var out []string
	add := func(h string) {
		if !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	for _, m := range raw {
		if m == types.HumanMention {
			for _, h := range humans {
				add(h)
			}
			continue
		}
		if _, ok := known[m]; ok {
			add(m)
		}
	}
	return out, nil
}

// stringListJSON serializes handles for the mentions columns.
func stringListJSON(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func parseStringList(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
