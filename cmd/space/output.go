package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/untoldecay/space/internal/types"
	"github.com/untoldecay/space/internal/utils"
)

// outputJSON prints v as indented JSON to stdout.
func outputJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, `{"error": %q}`+"\n", err.Error())
		return
	}
	fmt.Println(string(data))
}

// resolveActor returns the agent the command acts as: --as first, then
// the SPACE_AGENT the engine exports into every child, then the
// configured identity chain. Merged and archived agents cannot author
// new work.
func resolveActor() (*types.Agent, error) {
	handle := asAgent
	if handle == "" {
		handle = os.Getenv("SPACE_AGENT")
	}
	if handle == "" {
		handle = cfgSvc.Identity("")
	}
	if handle == "" {
		return nil, types.Validationf("no acting agent: pass --as <handle> or run inside a spawn")
	}
	agent, err := store.GetAgent(rootCtx, handle)
	if err != nil {
		if types.KindOf(err) == types.KindNotFound {
			return nil, types.NotFoundf("acting agent %q not found; pass --as <handle> or register it with 'space agent create'", handle)
		}
		return nil, err
	}
	if agent.MergedInto != nil {
		if into, err := store.GetAgent(rootCtx, string(*agent.MergedInto)); err == nil {
			return nil, types.Statef("agent %q was merged into %q; act as that handle", agent.Handle, into.Handle)
		}
		return nil, types.Statef("agent %q was merged away", agent.Handle)
	}
	if agent.Archived() {
		return nil, types.Statef("agent %q is archived", agent.Handle)
	}
	return agent, nil
}

// callerSpawnID returns the spawn this command runs inside, when the
// engine's SPACE_SPAWN_ID export is present.
func callerSpawnID() *types.SpawnID {
	v := strings.TrimSpace(os.Getenv("SPACE_SPAWN_ID"))
	if v == "" {
		return nil
	}
	id := types.SpawnID(v)
	return &id
}

// resolveProject maps the --project flag to a row, falling back to the
// configured swarm project and then the _global sentinel.
func resolveProject(flagValue string) (*types.Project, error) {
	name := strings.TrimSpace(flagValue)
	if name == "" {
		name = cfgSvc.Current().Swarm.Project
	}
	if name == "" {
		name = types.GlobalProject
	}
	return store.GetProject(rootCtx, name)
}

// formatAge renders a compact relative age like "3m" or "2d".
func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// truncate clips s to max runes with an ellipsis.
func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 1 {
		return string(r[:max])
	}
	return string(r[:max-1]) + "…"
}

// refFor renders the short reference (d/a1b2c3d4) for an artifact id.
func refFor(t types.ArtifactType, id string) string {
	return t.RefPrefix() + "/" + types.ShortID(id)
}

// refArg accepts both the prefixed (d/4f2a91c8) and bare forms of a
// reference argument, checking the prefix names the expected type.
func refArg(arg string, want types.ArtifactType) (string, error) {
	if !strings.Contains(arg, "/") {
		return arg, nil
	}
	ref, err := types.ParseRef(arg)
	if err != nil {
		return "", err
	}
	if ref.Type != want {
		return "", types.Validationf("%q is a %s reference, want %s/", arg, ref.Type, want.RefPrefix())
	}
	return ref.Short, nil
}

// hintNear upgrades a not-found error with a did-you-mean suggestion
// when something registered is close to what was typed.
func hintNear(err error, noun, ref string, candidates []string) error {
	if types.KindOf(err) != types.KindNotFound {
		return err
	}
	if hint, ok := utils.Closest(ref, candidates); ok {
		return types.NotFoundf("%s %q not found (did you mean %q?)", noun, ref, hint)
	}
	return err
}

func agentHandles() []string {
	agents, err := store.FetchAgents(rootCtx, types.AgentFilter{})
	if err != nil {
		return nil
	}
	handles := make([]string, 0, len(agents))
	for _, a := range agents {
		handles = append(handles, a.Handle)
	}
	return handles
}

func projectNames() []string {
	projects, err := store.FetchProjects(rootCtx, types.ProjectFilter{})
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(projects))
	for _, p := range projects {
		names = append(names, p.Name)
	}
	return names
}

// dash substitutes a placeholder for empty cells.
func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// joinHandles renders a mention list after a leading @.
func joinHandles(handles []string) string {
	return strings.Join(handles, ", @")
}
