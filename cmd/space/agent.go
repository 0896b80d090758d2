package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/untoldecay/space/internal/types"
	"github.com/untoldecay/space/internal/ui"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage the agent registry",
	Long: `Manage the registry of agents: the humans, AI models, and system
principals that author everything in the ledger.

An agent's handle is its name everywhere: in mentions (@ada), in --as,
and in the per-agent working directory under the state root.

Examples:
  space agent create ada --model claude-sonnet-4-5
  space agent create sam --type human
  space agent list
  space agent merge ada-old ada`,
}

var agentCreateCmd = &cobra.Command{
	Use:   "create <handle>",
	Short: "Register a new agent",
	Long: `Register a new agent under a unique handle.

AI agents need a model so the scheduler knows which vendor CLI to spawn.
The optional identity names a CLAUDE.md/AGENTS.md persona file seeded
into the agent's working directory.

Examples:
  space agent create ada --model claude-sonnet-4-5
  space agent create rex --model gpt-5.1 --identity skeptic
  space agent create sam --type human`,
	Args: cobra.ExactArgs(1),
	RunE: runAgentCreate,
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents",
	Args:  cobra.NoArgs,
	RunE:  runAgentList,
}

var agentShowCmd = &cobra.Command{
	Use:   "show <agent>",
	Short: "Show agent details",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentShow,
}

var agentArchiveCmd = &cobra.Command{
	Use:   "archive <agent>",
	Short: "Archive an agent",
	Long: `Archive an agent. Archived agents keep their history but stop being
schedulable and no longer receive mentions.`,
	Args: cobra.ExactArgs(1),
	RunE: runAgentArchive,
}

var agentUnarchiveCmd = &cobra.Command{
	Use:   "unarchive <agent>",
	Short: "Restore an archived agent",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentUnarchive,
}

var agentMergeCmd = &cobra.Command{
	Use:   "merge <from> <into>",
	Short: "Merge one agent into another",
	Long: `Merge one agent into another: every artifact authored by <from> is
reattributed to <into>, then <from> is archived with a tombstone pointing
at <into>. Use this to heal duplicate registrations of the same actor.

This cannot be undone.

Examples:
  space agent merge ada-old ada
  space agent merge ada-old ada --force   # skip confirmation`,
	Args: cobra.ExactArgs(2),
	RunE: runAgentMerge,
}

var agentSetModelCmd = &cobra.Command{
	Use:   "set-model <agent> <model>",
	Short: "Change an agent's model",
	Args:  cobra.ExactArgs(2),
	RunE:  runAgentSetModel,
}

var agentSetIdentityCmd = &cobra.Command{
	Use:   "set-identity <agent> <identity>",
	Short: "Change an agent's identity persona",
	Args:  cobra.ExactArgs(2),
	RunE:  runAgentSetIdentity,
}

var (
	agentCreateType     string
	agentCreateModel    string
	agentCreateIdentity string
	agentListType       string
	agentListAll        bool
	agentMergeForce     bool
)

func init() {
	agentCreateCmd.Flags().StringVar(&agentCreateType, "type", "ai", "Agent type: ai, human, or system")
	agentCreateCmd.Flags().StringVar(&agentCreateModel, "model", "", "Model for AI agents (e.g. claude-sonnet-4-5)")
	agentCreateCmd.Flags().StringVar(&agentCreateIdentity, "identity", "", "Identity persona name")
	agentListCmd.Flags().StringVar(&agentListType, "type", "", "Filter by type: ai, human, or system")
	agentListCmd.Flags().BoolVar(&agentListAll, "all", false, "Include archived agents")
	agentMergeCmd.Flags().BoolVar(&agentMergeForce, "force", false, "Skip confirmation")

	agentCmd.AddCommand(agentCreateCmd)
	agentCmd.AddCommand(agentListCmd)
	agentCmd.AddCommand(agentShowCmd)
	agentCmd.AddCommand(agentArchiveCmd)
	agentCmd.AddCommand(agentUnarchiveCmd)
	agentCmd.AddCommand(agentMergeCmd)
	agentCmd.AddCommand(agentSetModelCmd)
	agentCmd.AddCommand(agentSetIdentityCmd)
	rootCmd.AddCommand(agentCmd)
}

func runAgentCreate(cmd *cobra.Command, args []string) error {
	typ, err := types.ParseAgentType(agentCreateType)
	if err != nil {
		return err
	}
	agent, err := store.CreateAgent(rootCtx, args[0], typ, agentCreateModel, agentCreateIdentity)
	if err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(agent)
		return nil
	}
	fmt.Printf("Created agent %s (%s)\n", ui.RenderAccent(agent.Handle), agent.Type)
	return nil
}

func runAgentList(cmd *cobra.Command, args []string) error {
	filter := types.AgentFilter{IncludeArchived: agentListAll}
	if agentListType != "" {
		typ, err := types.ParseAgentType(agentListType)
		if err != nil {
			return err
		}
		filter.Type = &typ
	}
	agents, err := store.FetchAgents(rootCtx, filter)
	if err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(agents)
		return nil
	}
	if len(agents) == 0 {
		fmt.Println("No agents. Create one with 'space agent create <handle>'.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "HANDLE\tTYPE\tMODEL\tLAST SPAWNED\tSTATE")
	for _, a := range agents {
		last := "-"
		if a.LastSpawnedAt != nil {
			last = formatAge(*a.LastSpawnedAt) + " ago"
		}
		state := ""
		if a.MergedInto != nil {
			state = ui.RenderMuted("merged")
		} else if a.Archived() {
			state = ui.RenderMuted("archived")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.Handle, a.Type, dash(a.Model), last, state)
	}
	return w.Flush()
}

func runAgentShow(cmd *cobra.Command, args []string) error {
	agent, err := store.GetAgent(rootCtx, args[0])
	if err != nil {
		return hintNear(err, "agent", args[0], agentHandles())
	}
	if jsonOutput {
		outputJSON(agent)
		return nil
	}

	fmt.Printf("%s  %s\n", ui.RenderBold(agent.Handle), ui.RenderMuted(string(agent.ID)))
	fmt.Printf("  Type:     %s\n", agent.Type)
	if agent.Model != "" {
		fmt.Printf("  Model:    %s\n", agent.Model)
	}
	if agent.IdentityName != "" {
		fmt.Printf("  Identity: %s\n", agent.IdentityName)
	}
	fmt.Printf("  Created:  %s ago\n", formatAge(agent.CreatedAt))
	if agent.LastSpawnedAt != nil {
		fmt.Printf("  Spawned:  %s ago\n", formatAge(*agent.LastSpawnedAt))
	}
	if agent.MergedInto != nil {
		into, err := store.GetAgent(rootCtx, string(*agent.MergedInto))
		if err == nil {
			fmt.Printf("  Merged into: %s\n", into.Handle)
		}
	} else if agent.Archived() {
		fmt.Printf("  Archived: %s ago\n", formatAge(*agent.ArchivedAt))
	}

	n, err := store.InboxCount(rootCtx, agent.ID)
	if err == nil && n > 0 {
		fmt.Printf("  Inbox:    %d unread\n", n)
	}
	return nil
}

func runAgentArchive(cmd *cobra.Command, args []string) error {
	if err := store.ArchiveAgent(rootCtx, args[0]); err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(map[string]any{"archived": args[0]})
		return nil
	}
	fmt.Printf("Archived agent %s\n", args[0])
	return nil
}

func runAgentUnarchive(cmd *cobra.Command, args []string) error {
	if err := store.UnarchiveAgent(rootCtx, args[0]); err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(map[string]any{"unarchived": args[0]})
		return nil
	}
	fmt.Printf("Restored agent %s\n", args[0])
	return nil
}

func runAgentMerge(cmd *cobra.Command, args []string) error {
	from, into := args[0], args[1]
	if !agentMergeForce && !jsonOutput {
		ok := ui.PromptYesNo(fmt.Sprintf("Reattribute everything from %q to %q? This cannot be undone.", from, into), false)
		if !ok {
			fmt.Println("Merge cancelled.")
			return nil
		}
	}
	if err := store.MergeAgents(rootCtx, from, into); err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(map[string]any{"merged": from, "into": into})
		return nil
	}
	fmt.Printf("Merged %s into %s\n", from, ui.RenderAccent(into))
	return nil
}

func runAgentSetModel(cmd *cobra.Command, args []string) error {
	if err := store.SetAgentModel(rootCtx, args[0], args[1]); err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(map[string]any{"agent": args[0], "model": args[1]})
		return nil
	}
	fmt.Printf("Set model for %s to %s\n", args[0], args[1])
	return nil
}

func runAgentSetIdentity(cmd *cobra.Command, args []string) error {
	if err := store.SetAgentIdentity(rootCtx, args[0], args[1]); err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(map[string]any{"agent": args[0], "identity": args[1]})
		return nil
	}
	fmt.Printf("Set identity for %s to %s\n", args[0], args[1])
	return nil
}
