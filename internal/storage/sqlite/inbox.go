package sqlite

import (
	"context"
	"fmt"
	"sort"

	"github.com/untoldecay/space/internal/types"
)

// Inbox derives the agent's open items: mentions of its handle in replies
// and insights, tasks assigned to it that are still pending or active,
// and open questions from other agents. Items the agent has marked read
// and artifacts resolved by a human are suppressed. Newest first; limit 0
// means no cap.
func (s *Store) Inbox(ctx context.Context, agentID types.AgentID, limit int) ([]*types.InboxItem, error) {
	agent, err := s.getAgentByID(ctx, agentID)
	if err != nil {
		return nil, err
	}

	var items []*types.InboxItem
	seen := make(map[string]bool)
	add := func(batch []*types.InboxItem) {
		for _, it := range batch {
			key := string(it.Type) + ":" + it.ID
			if !seen[key] {
				seen[key] = true
				items = append(items, it)
			}
		}
	}

	replyMentions, err := s.inboxQuery(ctx, "mention", types.ArtifactReply, `
		SELECT r.id, r.content, a.handle, COALESCE(p.name, ''), r.created_at
		FROM replies r
		JOIN agents a ON a.id = r.author_id
		LEFT JOIN projects p ON p.id = r.project_id
		WHERE r.deleted_at IS NULL
		  AND r.author_id <> ?2
		  AND instr(r.mentions, '"' || ?1 || '"') > 0
		  AND NOT EXISTS (
			SELECT 1 FROM artifact_reads ar
			WHERE ar.agent_id = ?2 AND ar.artifact_type = 'reply' AND ar.artifact_id = r.id)
		  AND NOT EXISTS (
			SELECT 1 FROM artifact_resolutions res
			WHERE res.artifact_type = 'reply' AND res.artifact_id = r.id)`,
		agent.Handle, string(agentID))
	if err != nil {
		return nil, err
	}
	add(replyMentions)

	insightMentions, err := s.inboxQuery(ctx, "mention", types.ArtifactInsight, `
		SELECT i.id, i.content, a.handle, p.name, i.created_at
		FROM insights i
		JOIN agents a ON a.id = i.agent_id
		JOIN projects p ON p.id = i.project_id
		WHERE i.deleted_at IS NULL AND i.archived_at IS NULL
		  AND i.agent_id <> ?2
		  AND instr(i.mentions, '"' || ?1 || '"') > 0
		  AND NOT EXISTS (
			SELECT 1 FROM artifact_reads ar
			WHERE ar.agent_id = ?2 AND ar.artifact_type = 'insight' AND ar.artifact_id = i.id)
		  AND NOT EXISTS (
			SELECT 1 FROM artifact_resolutions res
			WHERE res.artifact_type = 'insight' AND res.artifact_id = i.id)`,
		agent.Handle, string(agentID))
	if err != nil {
		return nil, err
	}
	add(insightMentions)

	tasks, err := s.inboxQuery(ctx, "task", types.ArtifactTask, `
		SELECT t.id, t.content, a.handle, p.name, t.created_at
		FROM tasks t
		JOIN agents a ON a.id = t.creator_id
		JOIN projects p ON p.id = t.project_id
		WHERE t.deleted_at IS NULL
		  AND t.assignee_id = ?1
		  AND t.status IN ('pending', 'active')
		  AND NOT EXISTS (
			SELECT 1 FROM artifact_reads ar
			WHERE ar.agent_id = ?1 AND ar.artifact_type = 'task' AND ar.artifact_id = t.id)
		  AND NOT EXISTS (
			SELECT 1 FROM artifact_resolutions res
			WHERE res.artifact_type = 'task' AND res.artifact_id = t.id)`,
		string(agentID))
	if err != nil {
		return nil, err
	}
	add(tasks)

	questions, err := s.inboxQuery(ctx, "question", types.ArtifactInsight, `
		SELECT i.id, i.content, a.handle, p.name, i.created_at
		FROM insights i
		JOIN agents a ON a.id = i.agent_id
		JOIN projects p ON p.id = i.project_id
		WHERE i.deleted_at IS NULL AND i.archived_at IS NULL
		  AND i.open = 1
		  AND i.agent_id <> ?1
		  AND NOT EXISTS (
			SELECT 1 FROM artifact_reads ar
			WHERE ar.agent_id = ?1 AND ar.artifact_type = 'insight' AND ar.artifact_id = i.id)
		  AND NOT EXISTS (
			SELECT 1 FROM artifact_resolutions res
			WHERE res.artifact_type = 'insight' AND res.artifact_id = i.id)`,
		string(agentID))
	if err != nil {
		return nil, err
	}
	add(questions)

	sort.SliceStable(items, func(a, b int) bool {
		return items[a].CreatedAt.After(items[b].CreatedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) inboxQuery(ctx context.Context, kind string, typ types.ArtifactType, query string, args ...any) ([]*types.InboxItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query inbox %ss: %w", kind, err)
	}
	defer rows.Close()

	var out []*types.InboxItem
	for rows.Next() {
		it := &types.InboxItem{Kind: kind, Type: typ}
		var content string
		if err := rows.Scan(&it.ID, &content, &it.FromHandle, &it.Project, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan inbox item: %w", err)
		}
		it.Preview = preview(content, 80)
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate inbox items: %w", err)
	}
	return out, nil
}

// InboxCount reports how many open inbox items the agent has.
func (s *Store) InboxCount(ctx context.Context, agentID types.AgentID) (int, error) {
	items, err := s.Inbox(ctx, agentID, 0)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// MarkRead upserts the agent's read mark on an artifact; repeat calls
// only refresh read_at.
func (s *Store) MarkRead(ctx context.Context, agentID types.AgentID, typ types.ArtifactType, artifactID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifact_reads (agent_id, artifact_type, artifact_id, read_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (agent_id, artifact_type, artifact_id) DO UPDATE SET read_at = excluded.read_at`,
		string(agentID), string(typ), artifactID, now())
	if err != nil {
		return fmt.Errorf("failed to mark read: %w", err)
	}
	return nil
}

// ResolveArtifact records a human resolution mark, removing the artifact
// from every agent's inbox.
func (s *Store) ResolveArtifact(ctx context.Context, typ types.ArtifactType, artifactID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifact_resolutions (artifact_type, artifact_id, resolved_at)
		VALUES (?, ?, ?)
		ON CONFLICT (artifact_type, artifact_id) DO UPDATE SET resolved_at = excluded.resolved_at`,
		string(typ), artifactID, now())
	if err != nil {
		return fmt.Errorf("failed to resolve artifact: %w", err)
	}
	return nil
}

// preview clips content for one-line listings.
func preview(content string, max int) string {
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max-1]) + "…"
}
