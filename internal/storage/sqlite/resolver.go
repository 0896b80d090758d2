package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/untoldecay/space/internal/types"
)

// resolverSpec describes how one table resolves external references: by
// full id, by 8+ hex prefix, and optionally by an alternate unique key
// (agent handle, project name).
type resolverSpec struct {
	noun   string
	altKey string
}

func (s *Store) registerResolvers() {
	s.resolvers = map[string]resolverSpec{
		"agents":    {noun: "agent", altKey: "handle"},
		"projects":  {noun: "project", altKey: "name"},
		"spawns":    {noun: "spawn"},
		"decisions": {noun: "decision"},
		"insights":  {noun: "insight"},
		"tasks":     {noun: "task"},
		"replies":   {noun: "reply"},
	}
}

// Resolve maps ref to the full id it names in table. Accepts a full
// 32-hex id, a hex prefix of at least 8 chars, or the table's alternate
// key. A prefix matching two or more rows with no exact match fails with
// AmbiguousError.
func (s *Store) Resolve(ctx context.Context, table, ref string) (string, error) {
	spec, ok := s.resolvers[table]
	if !ok {
		return "", fmt.Errorf("no resolver registered for table %q", table)
	}
	if ref == "" {
		return "", types.Validationf("empty %s reference", spec.noun)
	}

	if types.IsHexRef(ref) {
		id, err := s.resolveHex(ctx, table, spec, ref)
		if err == nil {
			return id, nil
		}
		// A hex-looking handle or name is still legal; fall through to
		// the alternate key only on a clean miss.
		if spec.altKey == "" || types.KindOf(err) != types.KindNotFound {
			return "", err
		}
	}

	if spec.altKey != "" {
		var id string
		q := fmt.Sprintf(`SELECT id FROM %s WHERE %s = ?`, table, spec.altKey)
		err := s.db.QueryRowContext(ctx, q, ref).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("failed to resolve %s %q: %w", spec.noun, ref, err)
		}
	}
	return "", types.NotFoundf("%s %q not found", spec.noun, ref)
}

func (s *Store) resolveHex(ctx context.Context, table string, spec resolverSpec, ref string) (string, error) {
	if len(ref) == 32 {
		var id string
		q := fmt.Sprintf(`SELECT id FROM %s WHERE id = ?`, table)
		err := s.db.QueryRowContext(ctx, q, ref).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return "", types.NotFoundf("%s %q not found", spec.noun, ref)
		}
		if err != nil {
			return "", fmt.Errorf("failed to resolve %s %q: %w", spec.noun, ref, err)
		}
		return id, nil
	}

	var count int
	countQ := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE id LIKE ? || '%%'`, table)
	if err := s.db.QueryRowContext(ctx, countQ, ref).Scan(&count); err != nil {
		return "", fmt.Errorf("failed to count %s matches for %q: %w", spec.noun, ref, err)
	}
	switch {
	case count == 0:
		return "", types.NotFoundf("%s %q not found", spec.noun, ref)
	case count == 1:
		var id string
		q := fmt.Sprintf(`SELECT id FROM %s WHERE id LIKE ? || '%%'`, table)
		if err := s.db.QueryRowContext(ctx, q, ref).Scan(&id); err != nil {
			return "", fmt.Errorf("failed to resolve %s %q: %w", spec.noun, ref, err)
		}
		return id, nil
	}

	samplesQ := fmt.Sprintf(`SELECT substr(id, 1, 8) FROM %s WHERE id LIKE ? || '%%' ORDER BY id LIMIT 4`, table)
	rows, err := s.db.QueryContext(ctx, samplesQ, ref)
	if err != nil {
		return "", fmt.Errorf("failed to sample %s matches for %q: %w", spec.noun, ref, err)
	}
	defer rows.Close()
	var samples []string
	for rows.Next() {
		var short string
		if err := rows.Scan(&short); err != nil {
			return "", fmt.Errorf("failed to scan sample id: %w", err)
		}
		samples = append(samples, short)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("failed to iterate sample ids: %w", err)
	}
	return "", &types.AmbiguousError{Ref: ref, Count: count, Samples: samples}
}

// Typed resolver fronts. Each returns the id in its wrapper type.

func (s *Store) ResolveAgent(ctx context.Context, ref string) (types.AgentID, error) {
	id, err := s.Resolve(ctx, "agents", ref)
	return types.AgentID(id), err
}

func (s *Store) ResolveProject(ctx context.Context, ref string) (types.ProjectID, error) {
	id, err := s.Resolve(ctx, "projects", ref)
	return types.ProjectID(id), err
}

func (s *Store) ResolveSpawn(ctx context.Context, ref string) (types.SpawnID, error) {
	id, err := s.Resolve(ctx, "spawns", ref)
	return types.SpawnID(id), err
}

func (s *Store) ResolveDecision(ctx context.Context, ref string) (types.DecisionID, error) {
	id, err := s.Resolve(ctx, "decisions", ref)
	return types.DecisionID(id), err
}

func (s *Store) ResolveInsight(ctx context.Context, ref string) (types.InsightID, error) {
	id, err := s.Resolve(ctx, "insights", ref)
	return types.InsightID(id), err
}

func (s *Store) ResolveTask(ctx context.Context, ref string) (types.TaskID, error) {
	id, err := s.Resolve(ctx, "tasks", ref)
	return types.TaskID(id), err
}

func (s *Store) ResolveReply(ctx context.Context, ref string) (types.ReplyID, error) {
	id, err := s.Resolve(ctx, "replies", ref)
	return types.ReplyID(id), err
}

// ResolveRef resolves a parsed short reference to its full id.
func (s *Store) ResolveRef(ctx context.Context, ref types.Ref) (string, error) {
	switch ref.Type {
	case types.ArtifactInsight:
		return s.Resolve(ctx, "insights", ref.Short)
	case types.ArtifactDecision:
		return s.Resolve(ctx, "decisions", ref.Short)
	case types.ArtifactTask:
		return s.Resolve(ctx, "tasks", ref.Short)
	case types.ArtifactSpawn:
		return s.Resolve(ctx, "spawns", ref.Short)
	case types.ArtifactReply:
		return s.Resolve(ctx, "replies", ref.Short)
	}
	return "", types.Validationf("unresolvable reference type %q", ref.Type)
}
