package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/untoldecay/space/internal/types"
)

const taskColumns = `id, project_id, creator_id, assignee_id, decision_id, spawn_id, content,
	status, result, deleted_at, created_at, updated_at`

// CreateTaskArgs carries the fields for a new task.
type CreateTaskArgs struct {
	ProjectID  types.ProjectID
	CreatorID  types.AgentID
	AssigneeID *types.AgentID
	DecisionID *types.DecisionID
	SpawnID    *types.SpawnID
	Content    string
}

// CreateTask records a pending task. Citations in the content are
// extracted in the same transaction.
func (s *Store) CreateTask(ctx context.Context, args CreateTaskArgs) (*types.Task, error) {
	args.Content = strings.TrimSpace(args.Content)
	if args.Content == "" {
		return nil, types.Validationf("task content cannot be empty")
	}

	var task *types.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := insertTask(ctx, tx, args, types.TaskPending)
		if err != nil {
			return err
		}
		task = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func insertTask(ctx context.Context, tx *sql.Tx, args CreateTaskArgs, status types.TaskStatus) (*types.Task, error) {
	id, err := newRowID(ctx, tx, "tasks")
	if err != nil {
		return nil, err
	}
	createdAt := now()
	var assigneeID, decisionID, spawnID any
	if args.AssigneeID != nil {
		assigneeID = string(*args.AssigneeID)
	}
	if args.DecisionID != nil {
		decisionID = string(*args.DecisionID)
	}
	if args.SpawnID != nil {
		spawnID = string(*args.SpawnID)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (id, project_id, creator_id, assignee_id, decision_id, spawn_id, content, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, string(args.ProjectID), string(args.CreatorID), assigneeID, decisionID, spawnID,
		args.Content, string(status), createdAt, createdAt); err != nil {
		return nil, fmt.Errorf("failed to insert task: %w", err)
	}
	if err := storeCitations(ctx, tx, types.ArtifactTask, id, args.Content); err != nil {
		return nil, err
	}
	return &types.Task{
		ID:         types.TaskID(id),
		ProjectID:  args.ProjectID,
		CreatorID:  args.CreatorID,
		AssigneeID: args.AssigneeID,
		DecisionID: args.DecisionID,
		SpawnID:    args.SpawnID,
		Content:    args.Content,
		Status:     status,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}, nil
}

// GetTask fetches a task by id or id prefix.
func (s *Store) GetTask(ctx context.Context, ref string) (*types.Task, error) {
	id, err := s.ResolveTask(ctx, ref)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, string(id))
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, types.NotFoundf("task %s not found", id.Short())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// FetchTasks lists tasks matching the filter, newest first.
func (s *Store) FetchTasks(ctx context.Context, filter types.TaskFilter) ([]*types.Task, error) {
	q := newQuery("tasks", taskColumns).
		WhereIf("project_id = ?", (*string)(filter.ProjectID)).
		WhereIf("assignee_id = ?", (*string)(filter.AssigneeID)).
		WhereIf("creator_id = ?", (*string)(filter.CreatorID)).
		WhereIf("status = ?", (*string)(filter.Status)).
		OrderBy("created_at DESC").
		Limit(filter.Limit)
	if !filter.IncludeDeleted {
		q.NotDeleted()
	}

	query, args := q.SQL()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var out []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return out, nil
}

// SetTaskStatus moves a task through the transition table. result is
// stored when the task lands on done.
func (s *Store) SetTaskStatus(ctx context.Context, ref string, to types.TaskStatus, result string) error {
	id, err := s.ResolveTask(ctx, ref)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := getTaskTx(ctx, tx, id)
		if err != nil {
			return err
		}
		return setTaskStatusTx(ctx, tx, t, to, result)
	})
}

func setTaskStatusTx(ctx context.Context, tx *sql.Tx, t *types.Task, to types.TaskStatus, result string) error {
	if !t.Status.CanTransition(to) {
		return types.Statef("task t/%s cannot move from %s to %s", t.ID.Short(), t.Status, to)
	}
	var res any
	if to == types.TaskDone {
		res = strOrNull(result)
	} else {
		res = nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = ?, result = ?, updated_at = ? WHERE id = ?`,
		string(to), res, now(), string(t.ID)); err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	return nil
}

// ClaimTask activates a pending task for the given agent. A task already
// assigned to someone else cannot be claimed.
func (s *Store) ClaimTask(ctx context.Context, ref string, agentID types.AgentID) error {
	id, err := s.ResolveTask(ctx, ref)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := getTaskTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.Status != types.TaskPending {
			return types.Statef("task t/%s is %s, not pending", id.Short(), t.Status)
		}
		if t.AssigneeID != nil && *t.AssigneeID != agentID {
			return types.Conflictf("task t/%s is assigned to another agent", id.Short())
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, assignee_id = ?, updated_at = ? WHERE id = ?`,
			string(types.TaskActive), string(agentID), now(), string(id)); err != nil {
			return fmt.Errorf("failed to claim task: %w", err)
		}
		return nil
	})
}

// ReleaseTask returns the agent's active task to the pending pool and
// clears the assignment.
func (s *Store) ReleaseTask(ctx context.Context, ref string, agentID types.AgentID) error {
	id, err := s.ResolveTask(ctx, ref)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := getTaskTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.Status != types.TaskActive {
			return types.Statef("task t/%s is %s, not active", id.Short(), t.Status)
		}
		if t.AssigneeID == nil || *t.AssigneeID != agentID {
			return types.Permissionf("task t/%s is not assigned to this agent", id.Short())
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, assignee_id = NULL, updated_at = ? WHERE id = ?`,
			string(types.TaskPending), now(), string(id)); err != nil {
			return fmt.Errorf("failed to release task: %w", err)
		}
		return nil
	})
}

// SwitchTaskArgs carries the fields for SwitchTask.
type SwitchTaskArgs struct {
	AgentID   types.AgentID
	ProjectID types.ProjectID
	SpawnID   *types.SpawnID
	Content   string
	Result    string
}

// SwitchTask atomically completes the agent's current active task (if
// any) and opens a new active task assigned to the same agent. Result
// lands on the task being closed.
func (s *Store) SwitchTask(ctx context.Context, args SwitchTaskArgs) (*types.Task, error) {
	args.Content = strings.TrimSpace(args.Content)
	if args.Content == "" {
		return nil, types.Validationf("task content cannot be empty")
	}

	var task *types.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT `+taskColumns+` FROM tasks
			WHERE assignee_id = ? AND status = 'active' AND deleted_at IS NULL
			ORDER BY updated_at DESC LIMIT 1`, string(args.AgentID))
		current, err := scanTask(row)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("failed to find active task: %w", err)
		}
		if err == nil {
			if err := setTaskStatusTx(ctx, tx, current, types.TaskDone, args.Result); err != nil {
				return err
			}
		}

		t, err := insertTask(ctx, tx, CreateTaskArgs{
			ProjectID:  args.ProjectID,
			CreatorID:  args.AgentID,
			AssigneeID: &args.AgentID,
			SpawnID:    args.SpawnID,
			Content:    args.Content,
		}, types.TaskActive)
		if err != nil {
			return err
		}
		task = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// UpdateTaskArgs is a partial update: zero-value fields are left alone,
// Null clears, Set writes.
type UpdateTaskArgs struct {
	Content    types.Optional[string]
	AssigneeID types.Optional[types.AgentID]
	DecisionID types.Optional[types.DecisionID]
}

// UpdateTask applies a partial update to a task.
func (s *Store) UpdateTask(ctx context.Context, ref string, args UpdateTaskArgs) error {
	id, err := s.ResolveTask(ctx, ref)
	if err != nil {
		return err
	}

	var sets []string
	var binds []any
	if args.Content.IsSet() {
		v := args.Content.Value()
		if v == nil || strings.TrimSpace(*v) == "" {
			return types.Validationf("task content cannot be cleared")
		}
		sets = append(sets, "content = ?")
		binds = append(binds, strings.TrimSpace(*v))
	}
	if args.AssigneeID.IsSet() {
		sets = append(sets, "assignee_id = ?")
		if v := args.AssigneeID.Value(); v != nil {
			binds = append(binds, string(*v))
		} else {
			binds = append(binds, nil)
		}
	}
	if args.DecisionID.IsSet() {
		sets = append(sets, "decision_id = ?")
		if v := args.DecisionID.Value(); v != nil {
			binds = append(binds, string(*v))
		} else {
			binds = append(binds, nil)
		}
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	binds = append(binds, now(), string(id))

	return s.withTx(ctx, func(tx *sql.Tx) error {
		q := fmt.Sprintf(`UPDATE tasks SET %s WHERE id = ? AND deleted_at IS NULL`, strings.Join(sets, ", "))
		res, err := tx.ExecContext(ctx, q, binds...)
		if err != nil {
			return fmt.Errorf("failed to update task: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.NotFoundf("task %s not found", id.Short())
		}
		return nil
	})
}

// DeleteTask soft-deletes a task.
func (s *Store) DeleteTask(ctx context.Context, ref string) error {
	id, err := s.ResolveTask(ctx, ref)
	if err != nil {
		return err
	}
	return s.softDelete(ctx, "tasks", string(id), "task t/"+id.Short())
}

func getTaskTx(ctx context.Context, tx *sql.Tx, id types.TaskID) (*types.Task, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND deleted_at IS NULL`, string(id))
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, types.NotFoundf("task %s not found", id.Short())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

func scanTask(row rowScanner) (*types.Task, error) {
	var (
		t          types.Task
		id         string
		assigneeID sql.NullString
		decisionID sql.NullString
		spawnID    sql.NullString
		result     sql.NullString
		deletedAt  sql.NullTime
	)
	err := row.Scan(&id, &t.ProjectID, &t.CreatorID, &assigneeID, &decisionID, &spawnID, &t.Content,
		&t.Status, &result, &deletedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.ID = types.TaskID(id)
	if assigneeID.Valid {
		v := types.AgentID(assigneeID.String)
		t.AssigneeID = &v
	}
	if decisionID.Valid {
		v := types.DecisionID(decisionID.String)
		t.DecisionID = &v
	}
	if spawnID.Valid {
		v := types.SpawnID(spawnID.String)
		t.SpawnID = &v
	}
	t.Result = result.String
	t.DeletedAt = timePtr(deletedAt)
	return &t, nil
}
