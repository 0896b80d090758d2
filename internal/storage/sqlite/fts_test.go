package sqlite

import (
	"strings"
	"testing"

	"github.com/untoldecay/space/internal/types"
)

func TestSearchAcrossTables(t *testing.T) {
	env := newTestEnv(t)
	agent := env.CreateAgent("ada")
	project := env.CreateProject("kernel")

	d := env.CreateDecision(project, agent, "adopt write-ahead logging for the ledger")
	in := env.CreateInsight(project, agent, "the ledger compacts poorly under churn")
	task := env.CreateTask(project, agent, "benchmark ledger checkpoint intervals")

	results, err := env.Store.Search(env.Ctx, "ledger", 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	found := make(map[types.ArtifactType]bool)
	for _, r := range results {
		found[r.Type] = true
		if r.Agent != "ada" {
			t.Errorf("result agent = %q, want ada", r.Agent)
		}
		if r.Project != "kernel" {
			t.Errorf("result project = %q, want kernel", r.Project)
		}
		if !strings.Contains(r.Snippet, "[ledger]") {
			t.Errorf("snippet %q does not highlight the match", r.Snippet)
		}
	}
	for _, typ := range []types.ArtifactType{types.ArtifactDecision, types.ArtifactInsight, types.ArtifactTask} {
		if !found[typ] {
			t.Errorf("no result of type %s", typ)
		}
	}
	_, _, _ = d, in, task
}

func TestSearchPrefixOnBareWord(t *testing.T) {
	env := newTestEnv(t)
	agent := env.CreateAgent("ada")
	env.CreateInsight(env.Global(), agent, "checkpointing stalls the writers")

	results, err := env.Store.Search(env.Ctx, "checkpoint", 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("prefix search found %d results, want 1", len(results))
	}

	// Quoted terms are taken literally, no prefix expansion.
	results, err = env.Store.Search(env.Ctx, `"checkpoint"`, 0)
	if err != nil {
		t.Fatalf("quoted search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("quoted search found %d results, want 0", len(results))
	}
}

func TestSearchSkipsDeleted(t *testing.T) {
	env := newTestEnv(t)
	agent := env.CreateAgent("ada")
	in := env.CreateInsight(env.Global(), agent, "ephemeral observation")

	if err := env.Store.DeleteInsight(env.Ctx, string(in.ID)); err != nil {
		t.Fatalf("DeleteInsight failed: %v", err)
	}
	results, err := env.Store.Search(env.Ctx, "ephemeral", 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("deleted insight still searchable")
	}
}

func TestSearchValidation(t *testing.T) {
	env := newTestEnv(t)
	env.CreateAgent("ada")

	_, err := env.Store.Search(env.Ctx, "", 0)
	if types.KindOf(err) != types.KindValidation {
		t.Errorf("empty query: KindOf = %v, want KindValidation", types.KindOf(err))
	}

	_, err = env.Store.Search(env.Ctx, "broken AND (", 0)
	if types.KindOf(err) != types.KindValidation {
		t.Errorf("malformed query: KindOf = %v, want KindValidation (err: %v)", types.KindOf(err), err)
	}
}

func TestSearchLimit(t *testing.T) {
	env := newTestEnv(t)
	agent := env.CreateAgent("ada")
	project := env.Global()

	for _, content := range []string{
		"pipeline stage one report",
		"pipeline stage two report",
		"pipeline stage three report",
	} {
		env.CreateInsight(project, agent, content)
	}

	results, err := env.Store.Search(env.Ctx, "pipeline", 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want the limit of 2", len(results))
	}
}

func TestRepairFTSHealthy(t *testing.T) {
	env := newTestEnv(t)
	agent := env.CreateAgent("ada")
	env.CreateInsight(env.Global(), agent, "nothing wrong with this index")

	rebuilt, err := env.Store.RepairFTS(env.Ctx)
	if err != nil {
		t.Fatalf("RepairFTS failed: %v", err)
	}
	if len(rebuilt) != 0 {
		t.Errorf("healthy indexes rebuilt: %v", rebuilt)
	}

	// Search still works afterwards.
	results, err := env.Store.Search(env.Ctx, "index", 0)
	if err != nil {
		t.Fatalf("Search after repair failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("got %d results, want 1", len(results))
	}
}
