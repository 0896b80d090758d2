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

var insightCmd = &cobra.Command{
	Use:     "insight",
	Aliases: []string{"i"},
	Short:   "Record and browse insights",
	Long: `Record insights: observations of at most 280 characters that other
artifacts cite as i/<shortid>.

An insight created with --open is a question; it lands in the inbox of
every mentioned agent until someone closes it. Provenance (solo,
collaborative, synthesis) is derived from how many other agents' work
the insight cites at creation time.

Examples:
  space insight create -m "FTS rebuild fixes the integrity error" --domain storage
  space insight create -m "@rex does the probe handle 529s?" --open
  space insight close i/9c01d2aa
  space insight list --open`,
}

var insightCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Record an insight",
	RunE:  runInsightCreate,
}

var insightCloseCmd = &cobra.Command{
	Use:   "close <ref>",
	Short: "Close an open insight",
	Long: `Close an open insight. Pass --counterfactual when the answer
disproved the premise, or --confirmed when it held up.`,
	Args: cobra.ExactArgs(1),
	RunE: runInsightClose,
}

var insightListCmd = &cobra.Command{
	Use:   "list",
	Short: "List insights",
	Args:  cobra.NoArgs,
	RunE:  runInsightList,
}

var insightShowCmd = &cobra.Command{
	Use:   "show <ref>",
	Short: "Show an insight with its replies",
	Args:  cobra.ExactArgs(1),
	RunE:  runInsightShow,
}

var (
	insightContent        string
	insightDomain         string
	insightProject        string
	insightDecision       string
	insightOpen           bool
	insightCounterfactual bool
	insightConfirmed      bool
	insightListDomain     string
	insightListOpen       bool
	insightListProject    string
	insightListLimit      int
)

func init() {
	insightCreateCmd.Flags().StringVarP(&insightContent, "message", "m", "", "Insight content, max 280 chars (required)")
	insightCreateCmd.Flags().StringVar(&insightDomain, "domain", "", "Domain tag (e.g. storage, scheduling, status)")
	insightCreateCmd.Flags().StringVar(&insightProject, "project", "", "Project name (default: configured or _global)")
	insightCreateCmd.Flags().StringVar(&insightDecision, "decision", "", "Decision this insight informs (d/<shortid>)")
	insightCreateCmd.Flags().BoolVar(&insightOpen, "open", false, "Mark as an open question")
	_ = insightCreateCmd.MarkFlagRequired("message")

	insightCloseCmd.Flags().BoolVar(&insightCounterfactual, "counterfactual", false, "The premise was disproved")
	insightCloseCmd.Flags().BoolVar(&insightConfirmed, "confirmed", false, "The premise held up")

	insightListCmd.Flags().StringVar(&insightListDomain, "domain", "", "Filter by domain")
	insightListCmd.Flags().BoolVar(&insightListOpen, "open", false, "Only open questions")
	insightListCmd.Flags().StringVar(&insightListProject, "project", "", "Filter by project")
	insightListCmd.Flags().IntVar(&insightListLimit, "limit", 50, "Max rows")

	insightCmd.AddCommand(insightCreateCmd)
	insightCmd.AddCommand(insightCloseCmd)
	insightCmd.AddCommand(insightListCmd)
	insightCmd.AddCommand(insightShowCmd)
	rootCmd.AddCommand(insightCmd)
}

func runInsightCreate(cmd *cobra.Command, args []string) error {
	actor, err := resolveActor()
	if err != nil {
		return err
	}
	project, err := resolveProject(insightProject)
	if err != nil {
		return err
	}

	createArgs := sqlite.CreateInsightArgs{
		ProjectID: project.ID,
		AgentID:   actor.ID,
		SpawnID:   callerSpawnID(),
		Domain:    insightDomain,
		Content:   insightContent,
		Open:      insightOpen,
	}
	if insightDecision != "" {
		dref, err := refArg(insightDecision, types.ArtifactDecision)
		if err != nil {
			return err
		}
		d, err := store.GetDecision(rootCtx, dref)
		if err != nil {
			return err
		}
		createArgs.DecisionID = &d.ID
	}

	in, err := store.CreateInsight(rootCtx, createArgs)
	if err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(in)
		return nil
	}
	label := "Recorded"
	if in.Open {
		label = "Asked"
	}
	fmt.Printf("%s %s (%s)\n", label, ui.RenderAccent(refFor(types.ArtifactInsight, string(in.ID))), in.Provenance)
	return nil
}

func runInsightClose(cmd *cobra.Command, args []string) error {
	if insightCounterfactual && insightConfirmed {
		return types.Validationf("--counterfactual and --confirmed are mutually exclusive")
	}
	var counterfactual *bool
	if insightCounterfactual || insightConfirmed {
		v := insightCounterfactual
		counterfactual = &v
	}
	ref, err := refArg(args[0], types.ArtifactInsight)
	if err != nil {
		return err
	}
	if err := store.CloseInsight(rootCtx, ref, counterfactual); err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(map[string]any{"closed": args[0]})
		return nil
	}
	fmt.Printf("Closed %s\n", args[0])
	return nil
}

func runInsightList(cmd *cobra.Command, args []string) error {
	filter := types.InsightFilter{Limit: insightListLimit}
	if insightListDomain != "" {
		filter.Domain = &insightListDomain
	}
	if insightListOpen {
		open := true
		filter.Open = &open
	}
	if insightListProject != "" {
		project, err := store.GetProject(rootCtx, insightListProject)
		if err != nil {
			return err
		}
		filter.ProjectID = &project.ID
	}

	insights, err := store.FetchInsights(rootCtx, filter)
	if err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(insights)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REF\tDOMAIN\tPROV\tAGE\tCONTENT")
	for _, in := range insights {
		content := truncate(in.Content, 60)
		if in.Open {
			content = ui.RenderWarn("? ") + content
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			refFor(types.ArtifactInsight, string(in.ID)),
			dash(in.Domain), in.Provenance, formatAge(in.CreatedAt), content)
	}
	return w.Flush()
}

func runInsightShow(cmd *cobra.Command, args []string) error {
	ref, err := refArg(args[0], types.ArtifactInsight)
	if err != nil {
		return err
	}
	in, err := store.GetInsight(rootCtx, ref)
	if err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(in)
		return nil
	}

	state := "closed"
	if in.Open {
		state = ui.RenderWarn("open question")
	}
	fmt.Printf("%s  %s\n", ui.RenderBold(refFor(types.ArtifactInsight, string(in.ID))), state)
	fmt.Printf("  %s\n", in.Content)
	fmt.Printf("  Domain: %s  Provenance: %s\n", dash(in.Domain), in.Provenance)
	if in.Counterfactual != nil {
		if *in.Counterfactual {
			fmt.Printf("  Resolution: %s\n", ui.RenderWarn("counterfactual"))
		} else {
			fmt.Printf("  Resolution: %s\n", ui.RenderPass("confirmed"))
		}
	}
	if len(in.Mentions) > 0 {
		fmt.Printf("  Mentions: @%s\n", joinHandles(in.Mentions))
	}
	fmt.Printf("  Created: %s ago\n", formatAge(in.CreatedAt))

	printReplies(types.ArtifactInsight, string(in.ID))
	return nil
}
