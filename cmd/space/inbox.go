package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/untoldecay/space/internal/types"
	"github.com/untoldecay/space/internal/ui"
)

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Show the acting agent's unread items",
	Long: `Show the acting agent's inbox: unanswered mentions, open questions
aimed at them, and tasks assigned to them, oldest first.

The inbox is derived from the ledger, not stored; items leave it when
marked read or when the underlying artifact resolves.

Examples:
  space inbox --as ada
  space inbox --limit 5 --as ada
  space mark-read i/9c01d2aa --as ada`,
	Args: cobra.NoArgs,
	RunE: runInbox,
}

var markReadCmd = &cobra.Command{
	Use:   "mark-read <ref>",
	Short: "Mark an inbox item as read",
	Args:  cobra.ExactArgs(1),
	RunE:  runMarkRead,
}

var inboxLimit int

func init() {
	inboxCmd.Flags().IntVar(&inboxLimit, "limit", 20, "Max items")
	rootCmd.AddCommand(inboxCmd)
	rootCmd.AddCommand(markReadCmd)
}

func runInbox(cmd *cobra.Command, args []string) error {
	actor, err := resolveActor()
	if err != nil {
		return err
	}
	items, err := store.Inbox(rootCtx, actor.ID, inboxLimit)
	if err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(items)
		return nil
	}
	if len(items) == 0 {
		fmt.Printf("Inbox empty for %s.\n", actor.Handle)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REF\tKIND\tFROM\tAGE\tPREVIEW")
	for _, it := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			it.Ref(), renderInboxKind(it.Kind), dash(it.FromHandle),
			formatAge(it.CreatedAt), truncate(it.Preview, 55))
	}
	return w.Flush()
}

func runMarkRead(cmd *cobra.Command, args []string) error {
	actor, err := resolveActor()
	if err != nil {
		return err
	}
	ref, err := types.ParseRef(args[0])
	if err != nil {
		return err
	}
	id, err := store.ResolveRef(rootCtx, ref)
	if err != nil {
		return err
	}
	if err := store.MarkRead(rootCtx, actor.ID, ref.Type, id); err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(map[string]any{"read": args[0]})
		return nil
	}
	fmt.Printf("Marked %s read\n", args[0])
	return nil
}

func renderInboxKind(kind string) string {
	switch kind {
	case "question":
		return ui.RenderWarn(kind)
	case "task":
		return ui.RenderAccent(kind)
	}
	return kind
}
