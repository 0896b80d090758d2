package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/space/internal/spawn"
	"github.com/untoldecay/space/internal/trace"
	"github.com/untoldecay/space/internal/types"
	"github.com/untoldecay/space/internal/ui"
)

var spawnCmd = &cobra.Command{
	Use:   "spawn",
	Short: "Launch and inspect agent spawns",
	Long: `Launch agents as child processes of their vendor CLIs and inspect
the resulting spawns: row state, traces, and hash chains.

'launch' runs a directed spawn and blocks until the session ends.
Sovereign wakes scheduled by the daemon go through the same machinery;
directed spawns just never count against swarm fairness.

Examples:
  space spawn launch ada -i "Review the open questions in your inbox"
  space spawn list --active --tree
  space spawn tail s/2211aa48 -f
  space spawn verify s/2211aa48`,
}

var spawnLaunchCmd = &cobra.Command{
	Use:   "launch <agent>",
	Short: "Run a directed spawn and wait for it",
	Long: `Run a directed spawn for an agent and block until the session ends.

The agent wakes with its standard context (identity, inbox, active
task) plus the instruction, works until it sleeps or exits, and the
row settles with a summary or an error.

Examples:
  space spawn launch ada -i "Close out i/9c01d2aa"
  space spawn launch ada -i "Try the failing migration" --model claude-opus-4-1
  space spawn launch rex -i "Look at this trace" --image shot.png --timeout 10m`,
	Args: cobra.ExactArgs(1),
	RunE: runSpawnLaunch,
}

var spawnListCmd = &cobra.Command{
	Use:   "list",
	Short: "List spawns",
	Args:  cobra.NoArgs,
	RunE:  runSpawnList,
}

var spawnShowCmd = &cobra.Command{
	Use:   "show <ref>",
	Short: "Show a spawn's row and token usage",
	Args:  cobra.ExactArgs(1),
	RunE:  runSpawnShow,
}

var spawnKillCmd = &cobra.Command{
	Use:   "kill <ref>",
	Short: "Terminate a running spawn",
	Args:  cobra.ExactArgs(1),
	RunE:  runSpawnKill,
}

var spawnTailCmd = &cobra.Command{
	Use:   "tail <ref>",
	Short: "Print a spawn's trace",
	Long: `Print the spawn's trace events. With -f, keep following the file
until the spawn finishes, the way the daemon's monitor does.

Examples:
  space spawn tail s/2211aa48
  space spawn tail s/2211aa48 -f`,
	Args: cobra.ExactArgs(1),
	RunE: runSpawnTail,
}

var spawnVerifyCmd = &cobra.Command{
	Use:   "verify <ref>",
	Short: "Recompute and check a spawn's trace hash chain",
	Args:  cobra.ExactArgs(1),
	RunE:  runSpawnVerify,
}

var (
	spawnInstruction string
	spawnModel       string
	spawnDir         string
	spawnTimeout     time.Duration
	spawnSkills      []string
	spawnImages      []string
	spawnListAgent   string
	spawnListActive  bool
	spawnListTree    bool
	spawnListLimit   int
	spawnTailFollow  bool
)

func init() {
	spawnLaunchCmd.Flags().StringVarP(&spawnInstruction, "instruction", "i", "", "Extra framing for the wake context")
	spawnLaunchCmd.Flags().StringVar(&spawnModel, "model", "", "Override the agent's model")
	spawnLaunchCmd.Flags().StringVar(&spawnDir, "dir", "", "Working directory (default: the agent's dir)")
	spawnLaunchCmd.Flags().DurationVar(&spawnTimeout, "timeout", 0, "Override the spawn timeout")
	spawnLaunchCmd.Flags().StringSliceVar(&spawnSkills, "skill", nil, "Skill to surface in the wake context (repeatable)")
	spawnLaunchCmd.Flags().StringSliceVar(&spawnImages, "image", nil, "Image attached to the opening message (repeatable)")

	spawnListCmd.Flags().StringVar(&spawnListAgent, "agent", "", "Filter by agent")
	spawnListCmd.Flags().BoolVar(&spawnListActive, "active", false, "Only active spawns")
	spawnListCmd.Flags().BoolVar(&spawnListTree, "tree", false, "Nest spawns under their callers")
	spawnListCmd.Flags().IntVar(&spawnListLimit, "limit", 30, "Max rows")
	spawnTailCmd.Flags().BoolVarP(&spawnTailFollow, "follow", "f", false, "Keep following until the spawn finishes")

	spawnCmd.AddCommand(spawnLaunchCmd)
	spawnCmd.AddCommand(spawnListCmd)
	spawnCmd.AddCommand(spawnShowCmd)
	spawnCmd.AddCommand(spawnKillCmd)
	spawnCmd.AddCommand(spawnTailCmd)
	spawnCmd.AddCommand(spawnVerifyCmd)
	rootCmd.AddCommand(spawnCmd)
}

// newEngine builds the one-shot engine CLI commands coordinate through.
func newEngine() (*spawn.Engine, error) {
	return spawn.New(store, cfgSvc, routes, bus, registry, cliLogger)
}

func runSpawnLaunch(cmd *cobra.Command, args []string) error {
	engine, err := newEngine()
	if err != nil {
		return err
	}
	sp, err := engine.Launch(rootCtx, spawn.LaunchRequest{
		AgentRef:      args[0],
		Mode:          types.ModeDirected,
		CallerSpawnID: callerSpawnID(),
		Instruction:   spawnInstruction,
		Skills:        spawnSkills,
		Images:        spawnImages,
		Dir:           spawnDir,
		Model:         spawnModel,
		Timeout:       spawnTimeout,
	})
	if err != nil {
		return err
	}
	if !jsonOutput {
		fmt.Printf("Spawned %s (pid %s); waiting...\n",
			ui.RenderAccent(refFor(types.ArtifactSpawn, string(sp.ID))), renderPID(sp.PID))
	}

	engine.Wait()
	done, err := store.GetSpawn(rootCtx, string(sp.ID))
	if err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(done)
		return nil
	}
	if done.Error != "" {
		fmt.Printf("%s %s\n", ui.RenderFail(ui.IconFail), done.Error)
	}
	if done.Summary != "" {
		fmt.Printf("%s %s\n", ui.RenderPass(ui.IconPass), done.Summary)
	}
	return nil
}

func runSpawnList(cmd *cobra.Command, args []string) error {
	filter := types.SpawnFilter{Limit: spawnListLimit}
	if spawnListAgent != "" {
		agent, err := store.GetAgent(rootCtx, spawnListAgent)
		if err != nil {
			return err
		}
		filter.AgentID = &agent.ID
	}
	if spawnListActive {
		active := types.SpawnActive
		filter.Status = &active
	}

	spawns, err := store.FetchSpawns(rootCtx, filter)
	if err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(spawns)
		return nil
	}
	if len(spawns) == 0 {
		fmt.Println("No spawns.")
		return nil
	}

	if spawnListTree {
		nodes := make([]ui.SpawnNode, 0, len(spawns))
		for _, sp := range spawns {
			node := ui.SpawnNode{
				Ref:   sp.ID.Short(),
				Label: fmt.Sprintf("%s %s %s", agentHandle(sp.AgentID), sp.Status, ui.RenderMuted(truncate(sp.Summary, 40))),
			}
			if sp.CallerSpawnID != nil {
				node.Parent = sp.CallerSpawnID.Short()
			}
			nodes = append(nodes, node)
		}
		if tr := ui.BuildSpawnTree(nodes); tr != nil {
			fmt.Println(tr.String())
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REF\tAGENT\tMODE\tSTATUS\tPID\tAGE\tSUMMARY/ERROR")
	for _, sp := range spawns {
		tail := sp.Summary
		if sp.Error != "" {
			tail = ui.RenderWarn(sp.Error)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			refFor(types.ArtifactSpawn, string(sp.ID)), agentHandle(sp.AgentID), sp.Mode,
			renderSpawnStatus(sp), renderPID(sp.PID), formatAge(sp.CreatedAt), truncate(tail, 45))
	}
	return w.Flush()
}

func runSpawnShow(cmd *cobra.Command, args []string) error {
	ref, err := refArg(args[0], types.ArtifactSpawn)
	if err != nil {
		return err
	}
	sp, err := store.GetSpawn(rootCtx, ref)
	if err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(sp)
		return nil
	}

	fmt.Printf("%s  %s\n", ui.RenderBold(refFor(types.ArtifactSpawn, string(sp.ID))), renderSpawnStatus(sp))
	fmt.Printf("  Agent:   %s\n", agentHandle(sp.AgentID))
	fmt.Printf("  Mode:    %s\n", sp.Mode)
	if sp.CallerSpawnID != nil {
		fmt.Printf("  Caller:  %s\n", refFor(types.ArtifactSpawn, string(*sp.CallerSpawnID)))
	}
	if sp.PID != nil {
		fmt.Printf("  PID:     %d\n", *sp.PID)
	}
	if sp.SessionID != "" {
		fmt.Printf("  Session: %s (resumed %d times)\n", sp.SessionID, sp.ResumeCount)
	}
	if sp.Summary != "" {
		fmt.Printf("  Summary: %s\n", sp.Summary)
	}
	if sp.Error != "" {
		fmt.Printf("  Error:   %s\n", ui.RenderWarn(sp.Error))
	}
	if sp.TraceHash != "" {
		fmt.Printf("  Trace:   %s\n", ui.RenderMuted(sp.TraceHash))
	}
	fmt.Printf("  Created: %s ago\n", formatAge(sp.CreatedAt))
	if sp.LastActiveAt != nil {
		fmt.Printf("  Active:  %s ago\n", formatAge(*sp.LastActiveAt))
	}

	printSpawnUsage(sp)
	return nil
}

// printSpawnUsage sums token usage off the trace when both the file and
// the agent's adapter are reachable.
func printSpawnUsage(sp *types.Spawn) {
	agent, err := store.GetAgent(rootCtx, string(sp.AgentID))
	if err != nil || agent.Model == "" {
		return
	}
	adapter, err := registry.ForModel(agent.Model)
	if err != nil {
		return
	}
	locator := trace.NewLocator(paths)
	path, ok := locator.Find(string(sp.ID))
	if !ok {
		return
	}
	usage, err := adapter.ParseUsage(path)
	if err != nil || (usage.InputTokens == 0 && usage.OutputTokens == 0) {
		return
	}
	fmt.Printf("  Tokens:  %d in / %d out\n", usage.InputTokens, usage.OutputTokens)
}

func runSpawnKill(cmd *cobra.Command, args []string) error {
	ref, err := refArg(args[0], types.ArtifactSpawn)
	if err != nil {
		return err
	}
	engine, err := newEngine()
	if err != nil {
		return err
	}
	sp, err := engine.Terminate(rootCtx, ref)
	if err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(sp)
		return nil
	}
	fmt.Printf("Terminated %s\n", refFor(types.ArtifactSpawn, string(sp.ID)))
	return nil
}

func runSpawnTail(cmd *cobra.Command, args []string) error {
	ref, err := refArg(args[0], types.ArtifactSpawn)
	if err != nil {
		return err
	}
	sp, err := store.GetSpawn(rootCtx, ref)
	if err != nil {
		return err
	}
	locator := trace.NewLocator(paths)
	path, ok := locator.Find(string(sp.ID))
	if !ok {
		return types.NotFoundf("no trace for spawn s/%s", sp.ID.Short())
	}

	tailer := trace.NewTailer(path)
	for {
		lines, err := tailer.Next()
		if err != nil {
			return fmt.Errorf("failed to read trace: %w", err)
		}
		for _, line := range lines {
			fmt.Println(string(line))
		}
		if !spawnTailFollow {
			return nil
		}

		fresh, err := store.GetSpawn(rootCtx, string(sp.ID))
		if err != nil {
			return err
		}
		if fresh.Status == types.SpawnDone && len(lines) == 0 {
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func runSpawnVerify(cmd *cobra.Command, args []string) error {
	ref, err := refArg(args[0], types.ArtifactSpawn)
	if err != nil {
		return err
	}
	sp, err := store.GetSpawn(rootCtx, ref)
	if err != nil {
		return err
	}
	if sp.TraceHash == "" {
		return types.Statef("spawn s/%s has no sealed trace hash yet", sp.ID.Short())
	}
	locator := trace.NewLocator(paths)
	path, ok := locator.Find(string(sp.ID))
	if !ok {
		return types.NotFoundf("no trace for spawn s/%s", sp.ID.Short())
	}

	if err := trace.VerifyFile(path, sp.TraceHash); err != nil {
		if jsonOutput {
			outputJSON(map[string]any{"spawn": string(sp.ID), "verified": false, "error": err.Error()})
		}
		return err
	}
	if jsonOutput {
		outputJSON(map[string]any{"spawn": string(sp.ID), "verified": true, "hash": sp.TraceHash})
		return nil
	}
	fmt.Printf("%s trace intact (%s)\n", ui.RenderPass(ui.IconPass), ui.RenderMuted(sp.TraceHash))
	return nil
}

func renderSpawnStatus(sp *types.Spawn) string {
	if sp.Status == types.SpawnActive {
		return ui.RenderAccent(string(sp.Status))
	}
	if sp.Error != "" {
		return ui.RenderWarn(string(sp.Status))
	}
	return ui.RenderPass(string(sp.Status))
}

func renderPID(pid *int) string {
	if pid == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *pid)
}

// agentHandle renders an agent id as its handle, falling back to the id.
func agentHandle(id types.AgentID) string {
	if a, err := store.GetAgent(rootCtx, string(id)); err == nil {
		return a.Handle
	}
	return types.ShortID(string(id))
}
