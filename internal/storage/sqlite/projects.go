package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/untoldecay/space/internal/types"
)

const projectColumns = `id, name, type, repo_path, tags, archived_at, created_at`

// CreateProject adds a project. Names are unique; repo paths are unique
// when set. Leading underscores are reserved for sentinel projects like
// _global.
func (s *Store) CreateProject(ctx context.Context, name string, typ types.ProjectType, repoPath string, tags []string) (*types.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, types.Validationf("project name cannot be empty")
	}
	if strings.HasPrefix(name, "_") {
		return nil, types.Validationf("project names starting with _ are reserved")
	}
	if repoPath != "" {
		repoPath = filepath.Clean(repoPath)
	}

	var project *types.Project
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM projects WHERE name = ?)`, name).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check project name: %w", err)
		}
		if exists {
			return types.Conflictf("project %q already exists", name)
		}
		if repoPath != "" {
			var other string
			err := tx.QueryRowContext(ctx,
				`SELECT name FROM projects WHERE repo_path = ?`, repoPath).Scan(&other)
			if err == nil {
				return types.Conflictf("repo path %s is already bound to project %q", repoPath, other)
			}
			if err != sql.ErrNoRows {
				return fmt.Errorf("failed to check repo path: %w", err)
			}
		}

		id, err := newRowID(ctx, tx, "projects")
		if err != nil {
			return err
		}
		createdAt := now()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projects (id, name, type, repo_path, tags, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, name, string(typ), strOrNull(repoPath), stringListJSON(tags), createdAt); err != nil {
			return fmt.Errorf("failed to insert project: %w", err)
		}
		project = &types.Project{
			ID:        types.ProjectID(id),
			Name:      name,
			Type:      typ,
			RepoPath:  repoPath,
			Tags:      tags,
			CreatedAt: createdAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

// GetProject fetches a project by id, id prefix, or name.
func (s *Store) GetProject(ctx context.Context, ref string) (*types.Project, error) {
	id, err := s.ResolveProject(ctx, ref)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = ?`, string(id))
	project, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, types.NotFoundf("project %s not found", id.Short())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return project, nil
}

// GetProjectByRepoPath finds the project bound to the given repository
// path, used to infer the project from a working directory.
func (s *Store) GetProjectByRepoPath(ctx context.Context, path string) (*types.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE repo_path = ?`, filepath.Clean(path))
	project, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, types.NotFoundf("no project bound to %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return project, nil
}

// FetchProjects lists projects matching the filter, oldest first.
func (s *Store) FetchProjects(ctx context.Context, filter types.ProjectFilter) ([]*types.Project, error) {
	q := newQuery("projects", projectColumns).
		WhereIf("type = ?", filter.Type).
		OrderBy("created_at")
	if !filter.IncludeArchived {
		q.NotArchived()
	}

	query, args := q.SQL()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var out []*types.Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		out = append(out, project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate projects: %w", err)
	}
	return out, nil
}

// ArchiveProject archives a project. The _global sentinel is protected.
func (s *Store) ArchiveProject(ctx context.Context, ref string) error {
	project, err := s.GetProject(ctx, ref)
	if err != nil {
		return err
	}
	if project.Name == types.GlobalProject {
		return types.Permissionf("the %s project cannot be archived", types.GlobalProject)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE projects SET archived_at = ? WHERE id = ? AND archived_at IS NULL`,
			now(), string(project.ID))
		if err != nil {
			return fmt.Errorf("failed to archive project: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.Statef("project %q is already archived", project.Name)
		}
		return nil
	})
}

// UnarchiveProject restores an archived project.
func (s *Store) UnarchiveProject(ctx context.Context, ref string) error {
	id, err := s.ResolveProject(ctx, ref)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE projects SET archived_at = NULL WHERE id = ? AND archived_at IS NOT NULL`,
			string(id))
		if err != nil {
			return fmt.Errorf("failed to unarchive project: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.Statef("project %s is not archived", id.Short())
		}
		return nil
	})
}

// SetProjectRepoPath binds (or clears, with an empty path) the repository
// path of a project.
func (s *Store) SetProjectRepoPath(ctx context.Context, ref, path string) error {
	id, err := s.ResolveProject(ctx, ref)
	if err != nil {
		return err
	}
	if path != "" {
		path = filepath.Clean(path)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if path != "" {
			var other string
			err := tx.QueryRowContext(ctx,
				`SELECT name FROM projects WHERE repo_path = ? AND id <> ?`, path, string(id)).Scan(&other)
			if err == nil {
				return types.Conflictf("repo path %s is already bound to project %q", path, other)
			}
			if err != sql.ErrNoRows {
				return fmt.Errorf("failed to check repo path: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE projects SET repo_path = ? WHERE id = ?`, strOrNull(path), string(id)); err != nil {
			return fmt.Errorf("failed to update repo path: %w", err)
		}
		return nil
	})
}

// SetProjectTags replaces the tag list of a project.
func (s *Store) SetProjectTags(ctx context.Context, ref string, tags []string) error {
	id, err := s.ResolveProject(ctx, ref)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE projects SET tags = ? WHERE id = ?`, stringListJSON(tags), string(id))
	if err != nil {
		return fmt.Errorf("failed to update tags: %w", err)
	}
	return nil
}

// ProjectActivity lists visible projects with their artifact counts,
// most recently active first. Projects that never accumulated an
// artifact sort last, oldest first.
func (s *Store) ProjectActivity(ctx context.Context) ([]types.ProjectActivity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectColumns+`,
			(SELECT COUNT(*) FROM decisions WHERE project_id = projects.id AND deleted_at IS NULL)
			+ (SELECT COUNT(*) FROM insights WHERE project_id = projects.id AND deleted_at IS NULL)
			+ (SELECT COUNT(*) FROM tasks WHERE project_id = projects.id AND deleted_at IS NULL)
			AS artifacts,
			(SELECT MAX(ts) FROM (
				SELECT MAX(created_at) AS ts FROM decisions WHERE project_id = projects.id AND deleted_at IS NULL
				UNION ALL
				SELECT MAX(created_at) FROM insights WHERE project_id = projects.id AND deleted_at IS NULL
				UNION ALL
				SELECT MAX(created_at) FROM tasks WHERE project_id = projects.id AND deleted_at IS NULL
			)) AS last_activity
		FROM projects
		WHERE archived_at IS NULL
		ORDER BY last_activity IS NULL, last_activity DESC, created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query project activity: %w", err)
	}
	defer rows.Close()

	var out []types.ProjectActivity
	for rows.Next() {
		var (
			p            types.Project
			id           string
			repoPath     sql.NullString
			tags         string
			archivedAt   sql.NullTime
			lastActivity sql.NullTime
			activity     types.ProjectActivity
		)
		if err := rows.Scan(&id, &p.Name, &p.Type, &repoPath, &tags, &archivedAt, &p.CreatedAt,
			&activity.Artifacts, &lastActivity); err != nil {
			return nil, fmt.Errorf("failed to scan project activity: %w", err)
		}
		p.ID = types.ProjectID(id)
		p.RepoPath = repoPath.String
		p.Tags = parseStringList(tags)
		p.ArchivedAt = timePtr(archivedAt)
		activity.Project = &p
		activity.LastActivity = timePtr(lastActivity)
		out = append(out, activity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate project activity: %w", err)
	}
	return out, nil
}

func scanProject(row rowScanner) (*types.Project, error) {
	var (
		p          types.Project
		id         string
		repoPath   sql.NullString
		tags       string
		archivedAt sql.NullTime
	)
	err := row.Scan(&id, &p.Name, &p.Type, &repoPath, &tags, &archivedAt, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.ID = types.ProjectID(id)
	p.RepoPath = repoPath.String
	p.Tags = parseStringList(tags)
	p.ArchivedAt = timePtr(archivedAt)
	return &p, nil
}
