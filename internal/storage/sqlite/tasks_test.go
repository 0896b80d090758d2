package sqlite

import (
	"testing"

	"github.com/untoldecay/space/internal/types"
)

func TestTaskStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	agent := env.CreateAgent("ada")
	project := env.Global()

	tests := []struct {
		name string
		path []types.TaskStatus
		fail types.TaskStatus
	}{
		{"pending to active", []types.TaskStatus{types.TaskActive}, ""},
		{"active back to pending", []types.TaskStatus{types.TaskActive, types.TaskPending}, ""},
		{"done is terminal", []types.TaskStatus{types.TaskActive, types.TaskDone}, types.TaskActive},
		{"cancelled is terminal", []types.TaskStatus{types.TaskCancelled}, types.TaskPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := env.CreateTask(project, agent, "transition case: "+tt.name)
			for _, st := range tt.path {
				if err := env.Store.SetTaskStatus(env.Ctx, task.ID.Short(), st, ""); err != nil {
					t.Fatalf("move to %s failed: %v", st, err)
				}
			}
			if tt.fail != "" {
				err := env.Store.SetTaskStatus(env.Ctx, task.ID.Short(), tt.fail, "")
				if types.KindOf(err) != types.KindState {
					t.Errorf("move to %s: KindOf = %v, want KindState", tt.fail, types.KindOf(err))
				}
			}
		})
	}
}

func TestTaskResultOnlyOnDone(t *testing.T) {
	env := newTestEnv(t)
	agent := env.CreateAgent("ada")
	task := env.CreateTask(env.Global(), agent, "write the report")

	if err := env.Store.SetTaskStatus(env.Ctx, task.ID.Short(), types.TaskDone, "report shipped"); err != nil {
		t.Fatalf("move to done failed: %v", err)
	}
	got, err := env.Store.GetTask(env.Ctx, task.ID.Short())
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Result != "report shipped" {
		t.Errorf("result = %q, want the closing note", got.Result)
	}

	// A result passed on a non-terminal move is dropped.
	other := env.CreateTask(env.Global(), agent, "another unit of work")
	if err := env.Store.SetTaskStatus(env.Ctx, other.ID.Short(), types.TaskActive, "premature result"); err != nil {
		t.Fatalf("move to active failed: %v", err)
	}
	got, err = env.Store.GetTask(env.Ctx, other.ID.Short())
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Result != "" {
		t.Errorf("result = %q, want empty on active", got.Result)
	}
}

func TestClaimAndReleaseTask(t *testing.T) {
	env := newTestEnv(t)
	ada := env.CreateAgent("ada")
	grace := env.CreateAgent("grace")
	task := env.CreateTask(env.Global(), ada, "investigate the flaky probe")

	if err := env.Store.ClaimTask(env.Ctx, task.ID.Short(), grace.ID); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	got, err := env.Store.GetTask(env.Ctx, task.ID.Short())
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != types.TaskActive {
		t.Errorf("status = %s, want active", got.Status)
	}
	if got.AssigneeID == nil || *got.AssigneeID != grace.ID {
		t.Errorf("assignee = %v, want grace", got.AssigneeID)
	}

	// The claim ended pending; claiming again is a state error.
	if err := env.Store.ClaimTask(env.Ctx, task.ID.Short(), ada.ID); types.KindOf(err) != types.KindState {
		t.Errorf("claim active: KindOf = %v, want KindState", types.KindOf(err))
	}

	// Only the assignee may release.
	if err := env.Store.ReleaseTask(env.Ctx, task.ID.Short(), ada.ID); types.KindOf(err) != types.KindPermission {
		t.Errorf("foreign release: KindOf = %v, want KindPermission", types.KindOf(err))
	}
	if err := env.Store.ReleaseTask(env.Ctx, task.ID.Short(), grace.ID); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	got, err = env.Store.GetTask(env.Ctx, task.ID.Short())
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != types.TaskPending {
		t.Errorf("status = %s, want pending after release", got.Status)
	}
	if got.AssigneeID != nil {
		t.Errorf("assignee = %v, want cleared", got.AssigneeID)
	}

	// Releasing a pending task is a state error.
	if err := env.Store.ReleaseTask(env.Ctx, task.ID.Short(), grace.ID); types.KindOf(err) != types.KindState {
		t.Errorf("release pending: KindOf = %v, want KindState", types.KindOf(err))
	}
}

func TestClaimPreAssignedTask(t *testing.T) {
	env := newTestEnv(t)
	ada := env.CreateAgent("ada")
	grace := env.CreateAgent("grace")

	task, err := env.Store.CreateTask(env.Ctx, CreateTaskArgs{
		ProjectID:  env.Global().ID,
		CreatorID:  ada.ID,
		AssigneeID: &grace.ID,
		Content:    "pre-assigned to grace",
	})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	// Someone else cannot take an assigned task, even while pending.
	if err := env.Store.ClaimTask(env.Ctx, task.ID.Short(), ada.ID); types.KindOf(err) != types.KindConflict {
		t.Errorf("steal claim: KindOf = %v, want KindConflict", types.KindOf(err))
	}
	// The assignee can.
	if err := env.Store.ClaimTask(env.Ctx, task.ID.Short(), grace.ID); err != nil {
		t.Errorf("own claim failed: %v", err)
	}
}

func TestSwitchTask(t *testing.T) {
	env := newTestEnv(t)
	agent := env.CreateAgent("ada")
	project := env.Global()

	first := env.CreateTask(project, agent, "first assignment")
	if err := env.Store.ClaimTask(env.Ctx, first.ID.Short(), agent.ID); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	next, err := env.Store.SwitchTask(env.Ctx, SwitchTaskArgs{
		AgentID:   agent.ID,
		ProjectID: project.ID,
		Content:   "second assignment",
		Result:    "first one wrapped up",
	})
	if err != nil {
		t.Fatalf("SwitchTask failed: %v", err)
	}
	if next.Status != types.TaskActive {
		t.Errorf("new task status = %s, want active", next.Status)
	}
	if next.AssigneeID == nil || *next.AssigneeID != agent.ID {
		t.Errorf("new task assignee = %v, want the switching agent", next.AssigneeID)
	}

	closed, err := env.Store.GetTask(env.Ctx, first.ID.Short())
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if closed.Status != types.TaskDone {
		t.Errorf("previous task status = %s, want done", closed.Status)
	}
	if closed.Result != "first one wrapped up" {
		t.Errorf("previous task result = %q", closed.Result)
	}
}

func TestSwitchTaskWithoutCurrent(t *testing.T) {
	env := newTestEnv(t)
	agent := env.CreateAgent("ada")

	task, err := env.Store.SwitchTask(env.Ctx, SwitchTaskArgs{
		AgentID:   agent.ID,
		ProjectID: env.Global().ID,
		Content:   "fresh start",
	})
	if err != nil {
		t.Fatalf("SwitchTask failed: %v", err)
	}
	if task.Status != types.TaskActive {
		t.Errorf("status = %s, want active", task.Status)
	}

	list, err := env.Store.FetchTasks(env.Ctx, types.TaskFilter{AssigneeID: &agent.ID})
	if err != nil {
		t.Fatalf("FetchTasks failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("agent has %d tasks, want 1", len(list))
	}
}

func TestUpdateTaskPartial(t *testing.T) {
	env := newTestEnv(t)
	ada := env.CreateAgent("ada")
	grace := env.CreateAgent("grace")
	d := env.CreateDecision(env.Global(), ada, "back the task updater")

	task, err := env.Store.CreateTask(env.Ctx, CreateTaskArgs{
		ProjectID:  env.Global().ID,
		CreatorID:  ada.ID,
		AssigneeID: &grace.ID,
		Content:    "original wording",
	})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	// Updating content alone leaves the assignment in place.
	err = env.Store.UpdateTask(env.Ctx, task.ID.Short(), UpdateTaskArgs{
		Content: types.Set("sharper wording"),
	})
	if err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	got, err := env.Store.GetTask(env.Ctx, task.ID.Short())
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Content != "sharper wording" {
		t.Errorf("content = %q", got.Content)
	}
	if got.AssigneeID == nil || *got.AssigneeID != grace.ID {
		t.Errorf("assignee = %v, want untouched", got.AssigneeID)
	}

	// Null clears the assignment and links the decision in one call.
	err = env.Store.UpdateTask(env.Ctx, task.ID.Short(), UpdateTaskArgs{
		AssigneeID: types.Null[types.AgentID](),
		DecisionID: types.Set(d.ID),
	})
	if err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	got, err = env.Store.GetTask(env.Ctx, task.ID.Short())
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.AssigneeID != nil {
		t.Errorf("assignee = %v, want cleared", got.AssigneeID)
	}
	if got.DecisionID == nil || *got.DecisionID != d.ID {
		t.Errorf("decision = %v, want %s", got.DecisionID, d.ID.Short())
	}

	// Content cannot be nulled or blanked.
	err = env.Store.UpdateTask(env.Ctx, task.ID.Short(), UpdateTaskArgs{Content: types.Null[string]()})
	if types.KindOf(err) != types.KindValidation {
		t.Errorf("null content: KindOf = %v, want KindValidation", types.KindOf(err))
	}
	err = env.Store.UpdateTask(env.Ctx, task.ID.Short(), UpdateTaskArgs{Content: types.Set("  ")})
	if types.KindOf(err) != types.KindValidation {
		t.Errorf("blank content: KindOf = %v, want KindValidation", types.KindOf(err))
	}

	// An all-zero update is a no-op, not an error.
	if err := env.Store.UpdateTask(env.Ctx, task.ID.Short(), UpdateTaskArgs{}); err != nil {
		t.Errorf("empty update: %v", err)
	}
}
