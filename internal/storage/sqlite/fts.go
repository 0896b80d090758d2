package sqlite

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/untoldecay/space/internal/types"
)

// ftsIndexes pairs each searchable table with its FTS5 index and the
// column naming its author, in the order search results merge.
var ftsIndexes = []struct {
	table  string
	fts    string
	author string
	typ    types.ArtifactType
}{
	{"decisions", "decisions_fts", "agent_id", types.ArtifactDecision},
	{"insights", "insights_fts", "agent_id", types.ArtifactInsight},
	{"tasks", "tasks_fts", "creator_id", types.ArtifactTask},
	{"replies", "replies_fts", "author_id", types.ArtifactReply},
}

// RepairFTS integrity-checks each FTS index and rebuilds the corrupted
// ones from their content tables. Returns the names of rebuilt indexes.
func (s *Store) RepairFTS(ctx context.Context) ([]string, error) {
	var rebuilt []string
	for _, idx := range ftsIndexes {
		check := fmt.Sprintf(`INSERT INTO %s(%s) VALUES('integrity-check')`, idx.fts, idx.fts)
		if _, err := s.db.ExecContext(ctx, check); err == nil {
			continue
		}
		s.logger.Warn("rebuilding corrupted fts index", "index", idx.fts)
		rebuild := fmt.Sprintf(`INSERT INTO %s(%s) VALUES('rebuild')`, idx.fts, idx.fts)
		if _, err := s.db.ExecContext(ctx, rebuild); err != nil {
			return rebuilt, fmt.Errorf("failed to rebuild %s: %w", idx.fts, err)
		}
		rebuilt = append(rebuilt, idx.fts)
	}
	return rebuilt, nil
}

// Search runs a bm25-ranked full-text query across decisions, insights,
// tasks, and replies. A bare word is treated as a prefix match.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]types.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, types.Validationf("search query cannot be empty")
	}
	if limit <= 0 {
		limit = 20
	}
	match := query
	if !strings.ContainsAny(match, ` "*:()`) {
		match += "*"
	}

	var results []types.SearchResult
	for _, idx := range ftsIndexes {
		q := fmt.Sprintf(`
			SELECT t.id, a.handle, COALESCE(p.name, ''),
			       snippet(%[1]s, -1, '[', ']', '…', 16), bm25(%[1]s)
			FROM %[1]s
			JOIN %[2]s t ON %[1]s.rowid = t.rowid
			JOIN agents a ON a.id = t.%[3]s
			LEFT JOIN projects p ON p.id = t.project_id
			WHERE %[1]s MATCH ? AND t.deleted_at IS NULL
			ORDER BY bm25(%[1]s)
			LIMIT ?`, idx.fts, idx.table, idx.author)

		rows, err := s.db.QueryContext(ctx, q, match, limit)
		if err != nil {
			return nil, types.Validationf("invalid search query %q: %v", query, err)
		}
		for rows.Next() {
			r := types.SearchResult{Type: idx.typ}
			if err := rows.Scan(&r.ID, &r.Agent, &r.Project, &r.Snippet, &r.Score); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan search result: %w", err)
			}
			results = append(results, r)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to iterate search results: %w", err)
		}
		rows.Close()
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score < results[b].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
