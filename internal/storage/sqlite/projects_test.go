package sqlite

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/untoldecay/space/internal/types"
)

func TestCreateProjectValidation(t *testing.T) {
	env := newTestEnv(t)

	// Leading underscore is reserved for sentinel projects.
	_, err := env.Store.CreateProject(env.Ctx, "_mine", types.ProjectStandard, "", nil)
	if types.KindOf(err) != types.KindValidation {
		t.Errorf("reserved name: KindOf = %v, want KindValidation", types.KindOf(err))
	}

	_, err = env.Store.CreateProject(env.Ctx, "", types.ProjectStandard, "", nil)
	if types.KindOf(err) != types.KindValidation {
		t.Errorf("empty name: KindOf = %v, want KindValidation", types.KindOf(err))
	}
}

func TestCreateProjectConflicts(t *testing.T) {
	env := newTestEnv(t)
	repo := filepath.Join(t.TempDir(), "repo")

	if _, err := env.Store.CreateProject(env.Ctx, "kernel", types.ProjectStandard, repo, nil); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	_, err := env.Store.CreateProject(env.Ctx, "kernel", types.ProjectStandard, "", nil)
	if types.KindOf(err) != types.KindConflict {
		t.Errorf("duplicate name: KindOf = %v, want KindConflict", types.KindOf(err))
	}

	_, err = env.Store.CreateProject(env.Ctx, "other", types.ProjectStandard, repo, nil)
	if types.KindOf(err) != types.KindConflict {
		t.Errorf("duplicate repo path: KindOf = %v, want KindConflict", types.KindOf(err))
	}
}

func TestProjectRepoPathLookup(t *testing.T) {
	env := newTestEnv(t)
	repo := filepath.Join(t.TempDir(), "repo")

	project, err := env.Store.CreateProject(env.Ctx, "kernel", types.ProjectStandard, repo, nil)
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	got, err := env.Store.GetProjectByRepoPath(env.Ctx, repo)
	if err != nil {
		t.Fatalf("GetProjectByRepoPath failed: %v", err)
	}
	if got.ID != project.ID {
		t.Errorf("lookup returned %s, want %s", got.ID.Short(), project.ID.Short())
	}

	// A trailing slash resolves to the same project.
	got, err = env.Store.GetProjectByRepoPath(env.Ctx, repo+string(filepath.Separator))
	if err != nil {
		t.Fatalf("GetProjectByRepoPath with trailing slash failed: %v", err)
	}
	if got.ID != project.ID {
		t.Errorf("unclean path lookup returned %s", got.ID.Short())
	}
}

func TestArchiveProjectProtectsGlobal(t *testing.T) {
	env := newTestEnv(t)

	err := env.Store.ArchiveProject(env.Ctx, types.GlobalProject)
	if types.KindOf(err) != types.KindPermission {
		t.Errorf("archive _global: KindOf = %v, want KindPermission", types.KindOf(err))
	}

	project := env.CreateProject("kernel")
	if err := env.Store.ArchiveProject(env.Ctx, project.Name); err != nil {
		t.Fatalf("archive failed: %v", err)
	}
	list, err := env.Store.FetchProjects(env.Ctx, types.ProjectFilter{})
	if err != nil {
		t.Fatalf("FetchProjects failed: %v", err)
	}
	for _, p := range list {
		if p.ID == project.ID {
			t.Errorf("archived project still listed")
		}
	}
}

func TestSetProjectRepoPath(t *testing.T) {
	env := newTestEnv(t)
	base := t.TempDir()
	first := env.CreateProject("first")
	second := env.CreateProject("second")

	repo := filepath.Join(base, "shared")
	if err := env.Store.SetProjectRepoPath(env.Ctx, first.Name, repo); err != nil {
		t.Fatalf("SetProjectRepoPath failed: %v", err)
	}
	// Re-setting a project's own path is fine; taking another's is not.
	if err := env.Store.SetProjectRepoPath(env.Ctx, first.Name, repo); err != nil {
		t.Errorf("idempotent set failed: %v", err)
	}
	err := env.Store.SetProjectRepoPath(env.Ctx, second.Name, repo)
	if types.KindOf(err) != types.KindConflict {
		t.Errorf("stealing path: KindOf = %v, want KindConflict", types.KindOf(err))
	}
}

func TestSetProjectTags(t *testing.T) {
	env := newTestEnv(t)
	project := env.CreateProject("kernel")

	tags := []string{"infra", "hot-path"}
	if err := env.Store.SetProjectTags(env.Ctx, project.Name, tags); err != nil {
		t.Fatalf("SetProjectTags failed: %v", err)
	}
	got, err := env.Store.GetProject(env.Ctx, project.Name)
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if !reflect.DeepEqual(got.Tags, tags) {
		t.Errorf("tags = %v, want %v", got.Tags, tags)
	}

	if err := env.Store.SetProjectTags(env.Ctx, project.Name, nil); err != nil {
		t.Fatalf("clearing tags failed: %v", err)
	}
	got, err = env.Store.GetProject(env.Ctx, project.Name)
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if len(got.Tags) != 0 {
		t.Errorf("tags = %v, want empty", got.Tags)
	}
}
