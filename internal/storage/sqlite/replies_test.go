package sqlite

import (
	"reflect"
	"testing"

	"github.com/untoldecay/space/internal/types"
)

func TestCreateReply(t *testing.T) {
	env := newTestEnv(t)
	ada := env.CreateAgent("ada")
	grace := env.CreateAgent("grace")
	project := env.CreateProject("kernel")
	d := env.CreateDecision(project, ada, "serialize the wake prompts")

	reply, err := env.Store.CreateReply(env.Ctx, CreateReplyArgs{
		ParentType: types.ArtifactDecision,
		ParentRef:  d.ID.Short(),
		AuthorID:   grace.ID,
		Content:    "@ada this conflicts with the batching work",
	})
	if err != nil {
		t.Fatalf("CreateReply failed: %v", err)
	}
	if reply.ParentID != string(d.ID) {
		t.Errorf("parent = %s, want %s", reply.ParentID, d.ID)
	}
	// The reply inherits the parent's project.
	if reply.ProjectID == nil || *reply.ProjectID != project.ID {
		t.Errorf("project = %v, want inherited %s", reply.ProjectID, project.ID.Short())
	}
	if !reflect.DeepEqual(reply.Mentions, []string{"ada"}) {
		t.Errorf("mentions = %v, want [ada]", reply.Mentions)
	}
}

func TestCreateReplyValidation(t *testing.T) {
	env := newTestEnv(t)
	ada := env.CreateAgent("ada")
	d := env.CreateDecision(env.Global(), ada, "serialize the wake prompts")

	// Spawns and replies are not reply parents.
	_, err := env.Store.CreateReply(env.Ctx, CreateReplyArgs{
		ParentType: types.ArtifactSpawn,
		ParentRef:  "whatever",
		AuthorID:   ada.ID,
		Content:    "should not land",
	})
	if types.KindOf(err) != types.KindValidation {
		t.Errorf("spawn parent: KindOf = %v, want KindValidation", types.KindOf(err))
	}

	// Deleted parents refuse new replies.
	if err := env.Store.DeleteDecision(env.Ctx, string(d.ID)); err != nil {
		t.Fatalf("DeleteDecision failed: %v", err)
	}
	_, err = env.Store.CreateReply(env.Ctx, CreateReplyArgs{
		ParentType: types.ArtifactDecision,
		ParentRef:  d.ID.Short(),
		AuthorID:   ada.ID,
		Content:    "too late",
	})
	if types.KindOf(err) != types.KindState {
		t.Errorf("deleted parent: KindOf = %v, want KindState", types.KindOf(err))
	}

	// Unknown parent refs surface as not found.
	_, err = env.Store.CreateReply(env.Ctx, CreateReplyArgs{
		ParentType: types.ArtifactTask,
		ParentRef:  "deadbeef",
		AuthorID:   ada.ID,
		Content:    "orphan",
	})
	if types.KindOf(err) != types.KindNotFound {
		t.Errorf("missing parent: KindOf = %v, want KindNotFound", types.KindOf(err))
	}
}

func TestRepliesThread(t *testing.T) {
	env := newTestEnv(t)
	ada := env.CreateAgent("ada")
	grace := env.CreateAgent("grace")
	in := env.CreateInsight(env.Global(), ada, "the reconciler double-fires on resume")

	for _, c := range []struct {
		author  *types.Agent
		content string
	}{
		{grace, "can reproduce, happens after SIGTERM"},
		{ada, "narrowed it to the monitor rebind"},
		{grace, "fix landed, closing"},
	} {
		if _, err := env.Store.CreateReply(env.Ctx, CreateReplyArgs{
			ParentType: types.ArtifactInsight,
			ParentRef:  in.ID.Short(),
			AuthorID:   c.author.ID,
			Content:    c.content,
		}); err != nil {
			t.Fatalf("CreateReply failed: %v", err)
		}
	}

	thread, err := env.Store.RepliesFor(env.Ctx, types.ArtifactInsight, string(in.ID))
	if err != nil {
		t.Fatalf("RepliesFor failed: %v", err)
	}
	if len(thread) != 3 {
		t.Fatalf("thread = %d replies, want 3", len(thread))
	}
	// Oldest first, reading order.
	if thread[0].Content != "can reproduce, happens after SIGTERM" {
		t.Errorf("thread[0] = %q", thread[0].Content)
	}
	if thread[2].AuthorID != grace.ID {
		t.Errorf("thread[2] author = %s, want grace", thread[2].AuthorID)
	}
}

func TestReplyCitations(t *testing.T) {
	env := newTestEnv(t)
	ada := env.CreateAgent("ada")
	grace := env.CreateAgent("grace")
	d := env.CreateDecision(env.Global(), grace, "pin the container image digest")
	in := env.CreateInsight(env.Global(), ada, "builds got reproducible")

	if _, err := env.Store.CreateReply(env.Ctx, CreateReplyArgs{
		ParentType: types.ArtifactInsight,
		ParentRef:  in.ID.Short(),
		AuthorID:   ada.ID,
		Content:    "thanks to d/" + d.ID.Short(),
	}); err != nil {
		t.Fatalf("CreateReply failed: %v", err)
	}

	n, err := env.Store.CitationCount(env.Ctx, types.ArtifactDecision, d.ID.Short())
	if err != nil {
		t.Fatalf("CitationCount failed: %v", err)
	}
	if n != 1 {
		t.Errorf("CitationCount = %d, want 1", n)
	}
}
