package sqlite

import (
	"strings"
	"testing"

	"github.com/untoldecay/space/internal/types"
)

func TestCreateAgentValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		handle string
		typ    types.AgentType
		model  string
		kind   types.Kind
	}{
		{"ai without model", "ada", types.AgentAI, "", types.KindValidation},
		{"reserved handle", "human", types.AgentHuman, "", types.KindValidation},
		{"bad characters", "not a handle", types.AgentAI, "m", types.KindValidation},
		{"leading dash", "-ada", types.AgentAI, "m", types.KindValidation},
		{"too long", strings.Repeat("a", 33), types.AgentAI, "m", types.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.Store.CreateAgent(env.Ctx, tt.handle, tt.typ, tt.model, "")
			if types.KindOf(err) != tt.kind {
				t.Errorf("KindOf = %v, want %v (err: %v)", types.KindOf(err), tt.kind, err)
			}
		})
	}

	// Humans carry no model.
	if _, err := env.Store.CreateAgent(env.Ctx, "sam", types.AgentHuman, "", ""); err != nil {
		t.Errorf("human without model rejected: %v", err)
	}
}

func TestCreateAgentHandleConflict(t *testing.T) {
	env := newTestEnv(t)
	env.CreateAgent("ada")

	_, err := env.Store.CreateAgent(env.Ctx, "ada", types.AgentAI, "some-model", "")
	if types.KindOf(err) != types.KindConflict {
		t.Fatalf("KindOf = %v, want KindConflict", types.KindOf(err))
	}

	// Archiving does not free the handle; archived agents keep their
	// history.
	if err := env.Store.ArchiveAgent(env.Ctx, "ada"); err != nil {
		t.Fatalf("archive failed: %v", err)
	}
	_, err = env.Store.CreateAgent(env.Ctx, "ada", types.AgentAI, "some-model", "")
	if types.KindOf(err) != types.KindConflict {
		t.Errorf("archived handle reuse: KindOf = %v, want KindConflict", types.KindOf(err))
	}
}

func TestGetAgentByHandleOrPrefix(t *testing.T) {
	env := newTestEnv(t)
	agent := env.CreateAgent("ada")

	byHandle, err := env.Store.GetAgent(env.Ctx, "ada")
	if err != nil {
		t.Fatalf("get by handle failed: %v", err)
	}
	byPrefix, err := env.Store.GetAgent(env.Ctx, agent.ID.Short())
	if err != nil {
		t.Fatalf("get by prefix failed: %v", err)
	}
	if byHandle.ID != agent.ID || byPrefix.ID != agent.ID {
		t.Errorf("lookups disagree: %s vs %s vs %s", agent.ID, byHandle.ID, byPrefix.ID)
	}
}

func TestFetchAgentsFilters(t *testing.T) {
	env := newTestEnv(t)
	env.CreateAgent("ada")
	env.CreateAgent("grace")
	env.CreateHuman("sam")
	if err := env.Store.ArchiveAgent(env.Ctx, "grace"); err != nil {
		t.Fatalf("archive failed: %v", err)
	}

	list, err := env.Store.FetchAgents(env.Ctx, types.AgentFilter{})
	if err != nil {
		t.Fatalf("FetchAgents failed: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("default fetch = %d agents, want 2", len(list))
	}
	// Oldest first.
	if len(list) == 2 && list[0].Handle != "ada" {
		t.Errorf("order = [%s, %s], want ada first", list[0].Handle, list[1].Handle)
	}

	list, err = env.Store.FetchAgents(env.Ctx, types.AgentFilter{IncludeArchived: true})
	if err != nil {
		t.Fatalf("FetchAgents failed: %v", err)
	}
	if len(list) != 3 {
		t.Errorf("archived fetch = %d agents, want 3", len(list))
	}

	ai := types.AgentAI
	list, err = env.Store.FetchAgents(env.Ctx, types.AgentFilter{Type: &ai})
	if err != nil {
		t.Fatalf("FetchAgents failed: %v", err)
	}
	if len(list) != 1 || list[0].Handle != "ada" {
		t.Errorf("type filter = %d agents", len(list))
	}
}

func TestMergeAgents(t *testing.T) {
	env := newTestEnv(t)
	dup := env.CreateAgent("ada2")
	canonical := env.CreateAgent("ada")

	if err := env.Store.MergeAgents(env.Ctx, "ada2", "ada"); err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	got, err := env.Store.GetAgent(env.Ctx, "ada2")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if got.ArchivedAt == nil {
		t.Errorf("merged agent not archived")
	}
	if got.MergedInto == nil || *got.MergedInto != canonical.ID {
		t.Errorf("merged_into = %v, want %s", got.MergedInto, canonical.ID.Short())
	}

	// A merged agent stays archived; unarchive refuses to resurrect it.
	if err := env.Store.UnarchiveAgent(env.Ctx, "ada2"); types.KindOf(err) != types.KindState {
		t.Errorf("unarchive merged: KindOf = %v, want KindState", types.KindOf(err))
	}

	// Self-merge and merging into an archived target are rejected.
	if err := env.Store.MergeAgents(env.Ctx, "ada", "ada"); types.KindOf(err) != types.KindValidation {
		t.Errorf("self merge: KindOf = %v, want KindValidation", types.KindOf(err))
	}
	if err := env.Store.MergeAgents(env.Ctx, "ada", "ada2"); types.KindOf(err) != types.KindState {
		t.Errorf("merge into archived: KindOf = %v, want KindState", types.KindOf(err))
	}
	_ = dup
}

func TestSetAgentModelAndIdentity(t *testing.T) {
	env := newTestEnv(t)
	env.CreateAgent("ada")

	if err := env.Store.SetAgentModel(env.Ctx, "ada", "claude-opus-4-20250514"); err != nil {
		t.Fatalf("SetAgentModel failed: %v", err)
	}
	if err := env.Store.SetAgentIdentity(env.Ctx, "ada", "Ada, systems archaeologist"); err != nil {
		t.Fatalf("SetAgentIdentity failed: %v", err)
	}

	got, err := env.Store.GetAgent(env.Ctx, "ada")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if got.Model != "claude-opus-4-20250514" {
		t.Errorf("model = %q", got.Model)
	}
	if got.IdentityName != "Ada, systems archaeologist" {
		t.Errorf("identity = %q", got.IdentityName)
	}
}

func TestTouchLastSpawned(t *testing.T) {
	env := newTestEnv(t)
	agent := env.CreateAgent("ada")

	if agent.LastSpawnedAt != nil {
		t.Fatalf("fresh agent already has last_spawned_at")
	}
	if err := env.Store.TouchLastSpawned(env.Ctx, agent.ID); err != nil {
		t.Fatalf("TouchLastSpawned failed: %v", err)
	}
	got, err := env.Store.GetAgent(env.Ctx, "ada")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if got.LastSpawnedAt == nil {
		t.Errorf("last_spawned_at still unset")
	}
}
