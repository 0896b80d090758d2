package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/untoldecay/space/internal/storage/sqlite"
	"github.com/untoldecay/space/internal/types"
	"github.com/untoldecay/space/internal/ui"
)

var decisionCmd = &cobra.Command{
	Use:     "decision",
	Aliases: []string{"d"},
	Short:   "Record and move decisions",
	Long: `Record decisions and walk them through their lifecycle:
proposed -> committed -> actioned | rejected.

Every decision needs a rationale. Duplicate content within a project is
rejected. Other artifacts cite decisions as d/<shortid>.

Examples:
  space decision create -m "Use SQLite WAL" -r "single writer, many readers" --as ada
  space decision commit d/4f2a91c8
  space decision action d/4f2a91c8 --outcome "landed in r/2211aa48"
  space decision list --status proposed`,
}

var decisionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Propose a decision",
	Long: `Propose a decision with its required rationale.

Citations (i/xxxxxxxx, d/xxxxxxxx) in the content or rationale become
edges other agents can follow.

Examples:
  space decision create -m "Adopt trace hash chains" -r "tamper evidence, see i/9c01d2aa"
  space decision create -m "Ship v2 schema" -r "migration tested" --irreversible`,
	RunE: runDecisionCreate,
}

var decisionCommitCmd = &cobra.Command{
	Use:   "commit <ref>",
	Short: "Commit a proposed decision",
	Args:  cobra.ExactArgs(1),
	RunE:  transitionRunner("commit", "Committed"),
}

var decisionActionCmd = &cobra.Command{
	Use:   "action <ref>",
	Short: "Mark a committed decision as acted on",
	Args:  cobra.ExactArgs(1),
	RunE:  runDecisionAction,
}

var decisionRejectCmd = &cobra.Command{
	Use:   "reject <ref>",
	Short: "Reject a committed decision",
	Args:  cobra.ExactArgs(1),
	RunE:  transitionRunner("reject", "Rejected"),
}

var decisionUncommitCmd = &cobra.Command{
	Use:   "uncommit <ref>",
	Short: "Send a committed decision back to proposed",
	Args:  cobra.ExactArgs(1),
	RunE:  transitionRunner("uncommit", "Uncommitted"),
}

var decisionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List decisions",
	Args:  cobra.NoArgs,
	RunE:  runDecisionList,
}

var decisionShowCmd = &cobra.Command{
	Use:   "show <ref>",
	Short: "Show a decision with its replies",
	Args:  cobra.ExactArgs(1),
	RunE:  runDecisionShow,
}

var (
	decisionContent      string
	decisionRationale    string
	decisionProject      string
	decisionRefs         string
	decisionReversible   bool
	decisionIrreversible bool
	decisionOutcome      string
	decisionListStatus   string
	decisionListProject  string
	decisionListLimit    int
)

func init() {
	decisionCreateCmd.Flags().StringVarP(&decisionContent, "message", "m", "", "Decision content (required)")
	decisionCreateCmd.Flags().StringVarP(&decisionRationale, "rationale", "r", "", "Why this choice (required)")
	decisionCreateCmd.Flags().StringVar(&decisionProject, "project", "", "Project name (default: configured or _global)")
	decisionCreateCmd.Flags().StringVar(&decisionRefs, "refs", "", "Free-form pointers (URLs, files)")
	decisionCreateCmd.Flags().BoolVar(&decisionReversible, "reversible", false, "Mark as reversible")
	decisionCreateCmd.Flags().BoolVar(&decisionIrreversible, "irreversible", false, "Mark as irreversible")
	_ = decisionCreateCmd.MarkFlagRequired("message")
	_ = decisionCreateCmd.MarkFlagRequired("rationale")

	decisionActionCmd.Flags().StringVar(&decisionOutcome, "outcome", "", "What actually happened")
	decisionListCmd.Flags().StringVar(&decisionListStatus, "status", "", "Filter: proposed, committed, actioned, rejected")
	decisionListCmd.Flags().StringVar(&decisionListProject, "project", "", "Filter by project")
	decisionListCmd.Flags().IntVar(&decisionListLimit, "limit", 50, "Max rows")

	decisionCmd.AddCommand(decisionCreateCmd)
	decisionCmd.AddCommand(decisionCommitCmd)
	decisionCmd.AddCommand(decisionActionCmd)
	decisionCmd.AddCommand(decisionRejectCmd)
	decisionCmd.AddCommand(decisionUncommitCmd)
	decisionCmd.AddCommand(decisionListCmd)
	decisionCmd.AddCommand(decisionShowCmd)
	rootCmd.AddCommand(decisionCmd)
}

func runDecisionCreate(cmd *cobra.Command, args []string) error {
	actor, err := resolveActor()
	if err != nil {
		return err
	}
	project, err := resolveProject(decisionProject)
	if err != nil {
		return err
	}
	if decisionReversible && decisionIrreversible {
		return types.Validationf("--reversible and --irreversible are mutually exclusive")
	}
	var reversible *bool
	if decisionReversible || decisionIrreversible {
		v := decisionReversible
		reversible = &v
	}

	d, err := store.CreateDecision(rootCtx, sqlite.CreateDecisionArgs{
		ProjectID:  project.ID,
		AgentID:    actor.ID,
		SpawnID:    callerSpawnID(),
		Content:    decisionContent,
		Rationale:  decisionRationale,
		Reversible: reversible,
		Refs:       decisionRefs,
	})
	if err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(d)
		return nil
	}
	fmt.Printf("Proposed %s\n", ui.RenderAccent(refFor(types.ArtifactDecision, string(d.ID))))
	return nil
}

// transitionRunner builds the RunE for the bare state transitions.
func transitionRunner(verb, pastTense string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ref, err := refArg(args[0], types.ArtifactDecision)
		if err != nil {
			return err
		}
		switch verb {
		case "commit":
			err = store.CommitDecision(rootCtx, ref)
		case "reject":
			err = store.RejectDecision(rootCtx, ref)
		case "uncommit":
			err = store.UncommitDecision(rootCtx, ref)
		}
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]any{verb: ref})
			return nil
		}
		fmt.Printf("%s %s\n", pastTense, args[0])
		return nil
	}
}

func runDecisionAction(cmd *cobra.Command, args []string) error {
	ref, err := refArg(args[0], types.ArtifactDecision)
	if err != nil {
		return err
	}
	if err := store.ActionDecision(rootCtx, ref, decisionOutcome); err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(map[string]any{"action": args[0], "outcome": decisionOutcome})
		return nil
	}
	fmt.Printf("Actioned %s\n", args[0])
	return nil
}

func runDecisionList(cmd *cobra.Command, args []string) error {
	filter := types.DecisionFilter{Limit: decisionListLimit}
	if decisionListStatus != "" {
		st := types.DecisionStatus(decisionListStatus)
		switch st {
		case types.DecisionProposed, types.DecisionCommitted, types.DecisionActioned, types.DecisionRejected:
		default:
			return types.Validationf("invalid decision status %q", decisionListStatus)
		}
		filter.Status = &st
	}
	if decisionListProject != "" {
		project, err := store.GetProject(rootCtx, decisionListProject)
		if err != nil {
			return err
		}
		filter.ProjectID = &project.ID
	}

	decisions, err := store.FetchDecisions(rootCtx, filter)
	if err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(decisions)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REF\tSTATUS\tAGE\tCONTENT")
	for _, d := range decisions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			refFor(types.ArtifactDecision, string(d.ID)),
			renderDecisionStatus(d.Status()),
			formatAge(d.CreatedAt),
			truncate(d.Content, 60))
	}
	return w.Flush()
}

func runDecisionShow(cmd *cobra.Command, args []string) error {
	ref, err := refArg(args[0], types.ArtifactDecision)
	if err != nil {
		return err
	}
	d, err := store.GetDecision(rootCtx, ref)
	if err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(d)
		return nil
	}

	fmt.Printf("%s  %s\n", ui.RenderBold(refFor(types.ArtifactDecision, string(d.ID))), renderDecisionStatus(d.Status()))
	fmt.Printf("  %s\n", d.Content)
	fmt.Printf("  Rationale: %s\n", d.Rationale)
	if d.Reversible != nil {
		if *d.Reversible {
			fmt.Printf("  Reversible: yes\n")
		} else {
			fmt.Printf("  Reversible: %s\n", ui.RenderWarn("no"))
		}
	}
	if d.Outcome != "" {
		fmt.Printf("  Outcome: %s\n", d.Outcome)
	}
	if d.Refs != "" {
		fmt.Printf("  Refs: %s\n", d.Refs)
	}
	fmt.Printf("  Created: %s ago\n", formatAge(d.CreatedAt))

	printReplies(types.ArtifactDecision, string(d.ID))
	return nil
}

func renderDecisionStatus(s types.DecisionStatus) string {
	switch s {
	case types.DecisionProposed:
		return ui.RenderMuted(string(s))
	case types.DecisionCommitted:
		return ui.RenderAccent(string(s))
	case types.DecisionActioned:
		return ui.RenderPass(string(s))
	case types.DecisionRejected:
		return ui.RenderWarn(string(s))
	}
	return string(s)
}
