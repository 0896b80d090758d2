package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/space/internal/daemon"
	"github.com/untoldecay/space/internal/types"
	"github.com/untoldecay/space/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the fleet at a glance",
	Long: `Show the whole substrate at a glance: ledger counts, swarm and
daemon state, provider cooldowns, active spawns, and the latest spawn
summaries.

Examples:
  space status
  space status --json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var statusSummaries int

func init() {
	statusCmd.Flags().IntVar(&statusSummaries, "summaries", 3, "Recent spawn summaries to show")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	stats, err := store.Stats(rootCtx)
	if err != nil {
		return err
	}
	agents, err := store.FetchAgents(rootCtx, types.AgentFilter{})
	if err != nil {
		return err
	}
	cooldowns, err := stateSvc.ActiveCooldowns()
	if err != nil {
		return err
	}
	snap := cfgSvc.Current()
	daemonPID, daemonUp := daemon.Running(paths)

	if jsonOutput {
		outputJSON(map[string]any{
			"stats":      stats,
			"swarm":      snap.Swarm,
			"daemon_pid": daemonPID,
			"daemon_up":  daemonUp,
			"cooldowns":  cooldowns,
		})
		return nil
	}

	fmt.Println(ui.RenderBold("space") + ui.RenderMuted("  "+paths.Root))
	fmt.Println()

	fmt.Printf("  Ledger:  %d decisions, %d insights (%d open), %d tasks, %d replies\n",
		stats.Decisions, stats.Insights, stats.OpenQuestions, stats.Tasks, stats.Replies)
	if daemonUp {
		fmt.Printf("  Daemon:  %s (pid %d)\n", ui.RenderPass("running"), daemonPID)
	} else {
		fmt.Printf("  Daemon:  %s\n", ui.RenderMuted("not running"))
	}
	if snap.Swarm.Enabled {
		fmt.Printf("  Swarm:   %s, concurrency %d, %d spawns today\n",
			ui.RenderPass("on"), snap.Swarm.Concurrency, stats.SpawnsToday)
	} else {
		fmt.Printf("  Swarm:   %s, %d spawns today\n", ui.RenderMuted("off"), stats.SpawnsToday)
	}
	for name, until := range cooldowns {
		fmt.Printf("  %s\n", ui.RenderWarn(fmt.Sprintf("%s cooling down until %s", name, until.Local().Format(time.Kitchen))))
	}
	fmt.Println()

	printAgentsOverview(agents)
	return printRecentSummaries()
}

func printAgentsOverview(agents []*types.Agent) {
	if len(agents) == 0 {
		fmt.Println("  No agents. Create one with: space agent create <handle> --model <model>")
		return
	}

	active, _ := store.FetchSpawns(rootCtx, types.SpawnFilter{Status: activeStatus()})
	activeByAgent := map[types.AgentID]types.SpawnID{}
	for _, sp := range active {
		activeByAgent[sp.AgentID] = sp.ID
	}

	tbl := ui.NewTable(ui.GetWidth())
	tbl.Headers("Agent", "Model", "Last spawned", "Now")
	for _, a := range agents {
		last := "-"
		if a.LastSpawnedAt != nil {
			last = formatAge(*a.LastSpawnedAt) + " ago"
		}
		now := ui.RenderMuted("idle")
		if id, ok := activeByAgent[a.ID]; ok {
			now = ui.RenderAccent("s/" + id.Short())
		}
		tbl.Row(a.Handle, dash(a.Model), last, now)
	}
	fmt.Println(tbl.Render())
}

// printRecentSummaries renders the latest done-spawn summaries as
// markdown when on a terminal.
func printRecentSummaries() error {
	if statusSummaries <= 0 {
		return nil
	}
	spawns, err := store.FetchSpawns(rootCtx, types.SpawnFilter{Limit: statusSummaries * 3})
	if err != nil {
		return err
	}

	shown := 0
	for _, sp := range spawns {
		if sp.Status != types.SpawnDone || sp.Summary == "" {
			continue
		}
		if shown == 0 {
			fmt.Println(ui.RenderBold("Recent summaries"))
		}
		header := fmt.Sprintf("%s %s, %s ago", agentHandle(sp.AgentID),
			ui.RenderMuted("s/"+sp.ID.Short()), formatAge(sp.CreatedAt))
		fmt.Printf("  %s\n", header)
		if ui.IsTerminal() {
			fmt.Println(ui.RenderMarkdown(sp.Summary, ui.GetWidth()-4))
		} else {
			fmt.Printf("    %s\n", truncate(sp.Summary, 200))
		}
		shown++
		if shown >= statusSummaries {
			break
		}
	}
	return nil
}

func activeStatus() *types.SpawnStatus {
	s := types.SpawnActive
	return &s
}
