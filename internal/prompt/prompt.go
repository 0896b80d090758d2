// Package prompt assembles the context a vendor CLI receives at launch:
// the wake prompt for fresh spawns and the system-reminder framing for
// resumed sessions.
package prompt

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/untoldecay/space/internal/storage/sqlite"
	"github.com/untoldecay/space/internal/types"
)

const (
	summaryHistory = 3
	artifactLimit  = 5
)

const wakeTemplate = `You are {{.Handle}}, an autonomous agent sharing a ledger with your peers.
This is a scheduled wake-up. Review the state below, choose the most useful piece of work, and do it.
Record what you learn with the space CLI. When you are finished, run ` + "`space sleep -m \"<one line>\"`" + ` with a short summary of the session.
{{if .Projects}}
# projects
{{range .Projects}}{{.}}
{{end}}{{end}}{{if .Me}}
# me
{{range .Me}}{{.}}
{{end}}{{end}}{{if .Routines}}
# routines
{{range .Routines}}{{.}}
{{end}}{{end}}{{if .Skills}}
# skills
{{range .Skills}}{{.}}
{{end}}{{end}}{{if .Instruction}}
# instruction
{{.Instruction}}
{{end}}`

const resumeTemplate = `<system-reminder>
Your previous session ended before you could report back. The transcript
above this message is your own earlier work in the same session; trust
it and pick up where it stops.
</system-reminder>

%s`

type wakeView struct {
	Handle      string
	Projects    []string
	Me          []string
	Routines    []string
	Skills      []string
	Instruction string
}

// Builder renders spawn context from the ledger.
type Builder struct {
	store *sqlite.Store
	tmpl  *template.Template
}

// NewBuilder parses the wake template against the given store.
func NewBuilder(store *sqlite.Store) (*Builder, error) {
	tmpl, err := template.New("wake").Parse(wakeTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse wake template: %w", err)
	}
	return &Builder{store: store, tmpl: tmpl}, nil
}

// Wake builds the fresh-spawn context for agent: the projects block in
// recent-activity order, the agent's own recent history, open routines,
// then any caller-requested skills and instruction. Blocks with nothing
// to say are omitted.
func (b *Builder) Wake(ctx context.Context, agent *types.Agent, instruction string, skills []string) (string, error) {
	view := wakeView{
		Handle:      agent.Handle,
		Skills:      skills,
		Instruction: strings.TrimSpace(instruction),
	}

	activity, err := b.store.ProjectActivity(ctx)
	if err != nil {
		return "", err
	}
	for _, a := range activity {
		view.Projects = append(view.Projects, projectLine(a))
	}

	me, err := b.meBlock(ctx, agent)
	if err != nil {
		return "", err
	}
	view.Me = me

	open := true
	domain := "routine"
	routines, err := b.store.FetchInsights(ctx, types.InsightFilter{Domain: &domain, Open: &open})
	if err != nil {
		return "", err
	}
	for _, r := range routines {
		view.Routines = append(view.Routines, "- "+r.Content)
	}

	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("failed to render wake prompt: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

func (b *Builder) meBlock(ctx context.Context, agent *types.Agent) ([]string, error) {
	var me []string

	summaries, err := b.store.RecentSummaries(ctx, agent.ID, summaryHistory)
	if err != nil {
		return nil, err
	}
	if len(summaries) > 0 {
		me = append(me, "Previous sessions:")
		for _, s := range summaries {
			me = append(me, "- "+s)
		}
	}

	insights, err := b.store.FetchInsights(ctx, types.InsightFilter{AgentID: &agent.ID, Limit: artifactLimit})
	if err != nil {
		return nil, err
	}
	if len(insights) > 0 {
		if len(me) > 0 {
			me = append(me, "")
		}
		me = append(me, "Your recent insights:")
		for _, in := range insights {
			me = append(me, fmt.Sprintf("- i/%s: %s", in.ID.Short(), in.Content))
		}
	}

	decisions, err := b.store.FetchDecisions(ctx, types.DecisionFilter{AgentID: &agent.ID, Limit: artifactLimit})
	if err != nil {
		return nil, err
	}
	if len(decisions) > 0 {
		if len(me) > 0 {
			me = append(me, "")
		}
		me = append(me, "Your recent decisions:")
		for _, d := range decisions {
			me = append(me, fmt.Sprintf("- d/%s [%s]: %s", d.ID.Short(), d.Status(), d.Content))
		}
	}
	return me, nil
}

func projectLine(a types.ProjectActivity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- %s (%s): %d artifacts", a.Project.Name, a.Project.Type, a.Artifacts)
	if a.Project.RepoPath != "" {
		fmt.Fprintf(&b, ", repo %s", a.Project.RepoPath)
	}
	if a.LastActivity != nil {
		fmt.Fprintf(&b, ", last active %s", a.LastActivity.UTC().Format("2006-01-02"))
	}
	return b.String()
}

// Resume wraps instruction in the fixed framing used when reviving a
// crashed session. A blank or "0" instruction becomes "continue".
func Resume(instruction string) string {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" || instruction == "0" {
		instruction = "continue"
	}
	return fmt.Sprintf(resumeTemplate, instruction)
}
