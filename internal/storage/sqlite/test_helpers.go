package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/untoldecay/space/internal/types"
)

// testEnv provides a test environment with common setup and helpers.
// Use newTestEnv(t) to create a test environment with automatic cleanup.
type testEnv struct {
	t     *testing.T
	Store *Store
	Ctx   context.Context
}

// newTestEnv creates a store on a temp-dir database, cleaned up with the
// test.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "space.db")
	ctx := context.Background()
	store, err := New(ctx, dbPath)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Fatalf("failed to close test database: %v", cerr)
		}
	})
	return &testEnv{t: t, Store: store, Ctx: ctx}
}

// CreateAgent creates an ai agent with a default model.
func (e *testEnv) CreateAgent(handle string) *types.Agent {
	e.t.Helper()
	agent, err := e.Store.CreateAgent(e.Ctx, handle, types.AgentAI, "claude-sonnet-4-20250514", "")
	if err != nil {
		e.t.Fatalf("CreateAgent(%q) failed: %v", handle, err)
	}
	return agent
}

// CreateHuman creates a human agent.
func (e *testEnv) CreateHuman(handle string) *types.Agent {
	e.t.Helper()
	agent, err := e.Store.CreateAgent(e.Ctx, handle, types.AgentHuman, "", "")
	if err != nil {
		e.t.Fatalf("CreateAgent(%q) failed: %v", handle, err)
	}
	return agent
}

// CreateProject creates a standard project.
func (e *testEnv) CreateProject(name string) *types.Project {
	e.t.Helper()
	project, err := e.Store.CreateProject(e.Ctx, name, types.ProjectStandard, "", nil)
	if err != nil {
		e.t.Fatalf("CreateProject(%q) failed: %v", name, err)
	}
	return project
}

// CreateDecision creates a decision with a boilerplate rationale.
func (e *testEnv) CreateDecision(project *types.Project, agent *types.Agent, content string) *types.Decision {
	e.t.Helper()
	d, err := e.Store.CreateDecision(e.Ctx, CreateDecisionArgs{
		ProjectID: project.ID,
		AgentID:   agent.ID,
		Content:   content,
		Rationale: "because the tests say so",
	})
	if err != nil {
		e.t.Fatalf("CreateDecision(%q) failed: %v", content, err)
	}
	return d
}

// CreateInsight creates a closed general-domain insight.
func (e *testEnv) CreateInsight(project *types.Project, agent *types.Agent, content string) *types.Insight {
	e.t.Helper()
	in, err := e.Store.CreateInsight(e.Ctx, CreateInsightArgs{
		ProjectID: project.ID,
		AgentID:   agent.ID,
		Content:   content,
	})
	if err != nil {
		e.t.Fatalf("CreateInsight(%q) failed: %v", content, err)
	}
	return in
}

// CreateQuestion creates an open insight.
func (e *testEnv) CreateQuestion(project *types.Project, agent *types.Agent, content string) *types.Insight {
	e.t.Helper()
	in, err := e.Store.CreateInsight(e.Ctx, CreateInsightArgs{
		ProjectID: project.ID,
		AgentID:   agent.ID,
		Content:   content,
		Open:      true,
	})
	if err != nil {
		e.t.Fatalf("CreateInsight(%q) failed: %v", content, err)
	}
	return in
}

// CreateTask creates a pending unassigned task.
func (e *testEnv) CreateTask(project *types.Project, creator *types.Agent, content string) *types.Task {
	e.t.Helper()
	task, err := e.Store.CreateTask(e.Ctx, CreateTaskArgs{
		ProjectID: project.ID,
		CreatorID: creator.ID,
		Content:   content,
	})
	if err != nil {
		e.t.Fatalf("CreateTask(%q) failed: %v", content, err)
	}
	return task
}

// Sovereign returns the agent's active sovereign spawn, creating it if
// needed.
func (e *testEnv) Sovereign(agent *types.Agent) *types.Spawn {
	e.t.Helper()
	spawn, _, err := e.Store.GetOrCreateSovereign(e.Ctx, agent.ID, nil)
	if err != nil {
		e.t.Fatalf("GetOrCreateSovereign(%s) failed: %v", agent.Handle, err)
	}
	return spawn
}

// Finish completes a spawn and fails the test if the transition did not
// apply.
func (e *testEnv) Finish(spawn *types.Spawn, summary, errMsg string) {
	e.t.Helper()
	applied, err := e.Store.FinishSpawn(e.Ctx, spawn.ID, summary, errMsg)
	if err != nil {
		e.t.Fatalf("FinishSpawn(%s) failed: %v", spawn.ID.Short(), err)
	}
	if !applied {
		e.t.Fatalf("FinishSpawn(%s) did not transition the row", spawn.ID.Short())
	}
}

// Global returns the sentinel project seeded by the migrations.
func (e *testEnv) Global() *types.Project {
	e.t.Helper()
	project, err := e.Store.GetProject(e.Ctx, types.GlobalProject)
	if err != nil {
		e.t.Fatalf("GetProject(_global) failed: %v", err)
	}
	return project
}
