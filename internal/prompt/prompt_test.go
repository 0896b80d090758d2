package prompt

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/untoldecay/space/internal/storage/sqlite"
	"github.com/untoldecay/space/internal/types"
)

type promptEnv struct {
	t       *testing.T
	ctx     context.Context
	store   *sqlite.Store
	builder *Builder
}

func newPromptEnv(t *testing.T) *promptEnv {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "space.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Fatalf("failed to close store: %v", cerr)
		}
	})
	builder, err := NewBuilder(store)
	if err != nil {
		t.Fatalf("failed to build prompt builder: %v", err)
	}
	return &promptEnv{t: t, ctx: ctx, store: store, builder: builder}
}

func (e *promptEnv) createAgent(handle string) *types.Agent {
	e.t.Helper()
	agent, err := e.store.CreateAgent(e.ctx, handle, types.AgentAI, "claude-sonnet-4-5", "")
	if err != nil {
		e.t.Fatalf("failed to create agent %s: %v", handle, err)
	}
	return agent
}

func (e *promptEnv) finishSpawn(agentID types.AgentID, summary string) {
	e.t.Helper()
	spawn, _, err := e.store.GetOrCreateSovereign(e.ctx, agentID, nil)
	if err != nil {
		e.t.Fatalf("failed to create spawn: %v", err)
	}
	if _, err := e.store.FinishSpawn(e.ctx, spawn.ID, summary, ""); err != nil {
		e.t.Fatalf("failed to finish spawn: %v", err)
	}
}

func TestWakeOnEmptyLedger(t *testing.T) {
	env := newPromptEnv(t)
	agent := env.createAgent("ada")

	got, err := env.builder.Wake(env.ctx, agent, "", nil)
	if err != nil {
		t.Fatalf("Wake failed: %v", err)
	}

	if !strings.Contains(got, "You are ada") {
		t.Errorf("prompt does not address the agent:\n%s", got)
	}
	// The global sentinel project always exists, so the projects block
	// is present even on a fresh ledger.
	if !strings.Contains(got, "# projects") {
		t.Errorf("missing projects block:\n%s", got)
	}
	if !strings.Contains(got, "- _global (standard): 0 artifacts") {
		t.Errorf("missing global project line:\n%s", got)
	}
	for _, absent := range []string{"# me", "# routines", "# skills", "# instruction"} {
		if strings.Contains(got, absent) {
			t.Errorf("empty block %q should be omitted:\n%s", absent, got)
		}
	}
}

func TestWakeFullBlocks(t *testing.T) {
	env := newPromptEnv(t)
	agent := env.createAgent("ada")
	peer := env.createAgent("grace")

	project, err := env.store.CreateProject(env.ctx, "web", types.ProjectStandard, "/srv/repos/web", nil)
	if err != nil {
		t.Fatalf("failed to create project: %v", err)
	}

	insight, err := env.store.CreateInsight(env.ctx, sqlite.CreateInsightArgs{
		ProjectID: project.ID,
		AgentID:   agent.ID,
		Content:   "the staging deploy is flaky on cold caches",
	})
	if err != nil {
		t.Fatalf("failed to create insight: %v", err)
	}

	decision, err := env.store.CreateDecision(env.ctx, sqlite.CreateDecisionArgs{
		ProjectID: project.ID,
		AgentID:   agent.ID,
		Content:   "serve static assets from the CDN",
		Rationale: "origin latency dominates page load",
	})
	if err != nil {
		t.Fatalf("failed to create decision: %v", err)
	}
	if err := env.store.CommitDecision(env.ctx, string(decision.ID)); err != nil {
		t.Fatalf("failed to commit decision: %v", err)
	}

	global, err := env.store.GetProject(env.ctx, types.GlobalProject)
	if err != nil {
		t.Fatalf("failed to get global project: %v", err)
	}
	if _, err := env.store.CreateInsight(env.ctx, sqlite.CreateInsightArgs{
		ProjectID: global.ID,
		AgentID:   peer.ID,
		Domain:    "routine",
		Content:   "check the inbox before starting new work",
		Open:      true,
	}); err != nil {
		t.Fatalf("failed to create routine: %v", err)
	}

	for _, summary := range []string{"first run", "second run", "third run", "fourth run"} {
		env.finishSpawn(agent.ID, summary)
	}

	got, err := env.builder.Wake(env.ctx, agent, "focus on the deploy pipeline", []string{"You can read internal dashboards at /dash."})
	if err != nil {
		t.Fatalf("Wake failed: %v", err)
	}

	webAt := strings.Index(got, "- web (standard):")
	globalAt := strings.Index(got, "- _global (standard):")
	if webAt < 0 || globalAt < 0 {
		t.Fatalf("missing project lines:\n%s", got)
	}
	if webAt > globalAt {
		t.Errorf("active project should sort before idle sentinel:\n%s", got)
	}
	if !strings.Contains(got, "repo /srv/repos/web") {
		t.Errorf("missing repo path:\n%s", got)
	}

	if !strings.Contains(got, "# me") {
		t.Fatalf("missing me block:\n%s", got)
	}
	for _, want := range []string{"- fourth run", "- third run", "- second run"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing summary %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "- first run") {
		t.Errorf("summary history should keep only the last three:\n%s", got)
	}
	if !strings.Contains(got, "- i/"+insight.ID.Short()+": the staging deploy is flaky on cold caches") {
		t.Errorf("missing insight line:\n%s", got)
	}
	if !strings.Contains(got, "- d/"+decision.ID.Short()+" [committed]: serve static assets from the CDN") {
		t.Errorf("missing decision line with status tag:\n%s", got)
	}

	if !strings.Contains(got, "# routines") || !strings.Contains(got, "- check the inbox before starting new work") {
		t.Errorf("missing routines block:\n%s", got)
	}
	if !strings.Contains(got, "# skills") || !strings.Contains(got, "internal dashboards") {
		t.Errorf("missing skills block:\n%s", got)
	}
	if !strings.Contains(got, "# instruction") || !strings.Contains(got, "focus on the deploy pipeline") {
		t.Errorf("missing instruction block:\n%s", got)
	}
}

func TestWakeRoutinesOnlyWhenOpen(t *testing.T) {
	env := newPromptEnv(t)
	agent := env.createAgent("ada")
	global, err := env.store.GetProject(env.ctx, types.GlobalProject)
	if err != nil {
		t.Fatalf("failed to get global project: %v", err)
	}
	routine, err := env.store.CreateInsight(env.ctx, sqlite.CreateInsightArgs{
		ProjectID: global.ID,
		AgentID:   agent.ID,
		Domain:    "routine",
		Content:   "rotate the signing keys",
		Open:      true,
	})
	if err != nil {
		t.Fatalf("failed to create routine: %v", err)
	}
	if err := env.store.CloseInsight(env.ctx, string(routine.ID), nil); err != nil {
		t.Fatalf("failed to close routine: %v", err)
	}

	got, err := env.builder.Wake(env.ctx, agent, "", nil)
	if err != nil {
		t.Fatalf("Wake failed: %v", err)
	}
	if strings.Contains(got, "# routines") {
		t.Errorf("closed routines should not produce a block:\n%s", got)
	}
}

func TestResumeFraming(t *testing.T) {
	tests := []struct {
		name        string
		instruction string
		want        string
	}{
		{"explicit", "fix the failing importer test", "fix the failing importer test"},
		{"blank", "", "continue"},
		{"whitespace", "   ", "continue"},
		{"zero", "0", "continue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resume(tt.instruction)
			if !strings.HasPrefix(got, "<system-reminder>") {
				t.Errorf("resume prompt must open with the reminder framing:\n%s", got)
			}
			if !strings.HasSuffix(got, "\n\n"+tt.want) {
				t.Errorf("resume prompt should end with %q:\n%s", tt.want, got)
			}
		})
	}
}

func TestProjectLine(t *testing.T) {
	repo := types.Project{Name: "web", Type: types.ProjectCustomer, RepoPath: "/srv/web"}
	bare := types.Project{Name: "scratch", Type: types.ProjectProto}

	if got := projectLine(types.ProjectActivity{Project: &repo, Artifacts: 7}); got != "- web (customer): 7 artifacts, repo /srv/web" {
		t.Errorf("projectLine = %q", got)
	}
	if got := projectLine(types.ProjectActivity{Project: &bare}); got != "- scratch (proto): 0 artifacts" {
		t.Errorf("projectLine = %q", got)
	}
}
