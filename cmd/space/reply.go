package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/space/internal/storage/sqlite"
	"github.com/untoldecay/space/internal/types"
	"github.com/untoldecay/space/internal/ui"
)

var replyCmd = &cobra.Command{
	Use:   "reply <parent-ref>",
	Short: "Reply to an insight, decision, or task",
	Long: `Thread a reply under an insight, decision, or task, named by its
short reference. Mentions (@handle) land in that agent's inbox; @human
fans out to every human agent.

Examples:
  space reply i/9c01d2aa -m "Confirmed on the staging ledger" --as rex
  space reply d/4f2a91c8 -m "@ada this conflicts with d/77aa21b0"`,
	Args: cobra.ExactArgs(1),
	RunE: runReply,
}

var replyContent string

func init() {
	replyCmd.Flags().StringVarP(&replyContent, "message", "m", "", "Reply content (required)")
	_ = replyCmd.MarkFlagRequired("message")
	rootCmd.AddCommand(replyCmd)
}

func runReply(cmd *cobra.Command, args []string) error {
	actor, err := resolveActor()
	if err != nil {
		return err
	}
	ref, err := types.ParseRef(args[0])
	if err != nil {
		return err
	}
	if _, err := types.ParseParentType(string(ref.Type)); err != nil {
		return types.Validationf("cannot reply to %s references", ref.Type)
	}

	reply, err := store.CreateReply(rootCtx, sqlite.CreateReplyArgs{
		ParentType: ref.Type,
		ParentRef:  ref.Short,
		AuthorID:   actor.ID,
		SpawnID:    callerSpawnID(),
		Content:    replyContent,
	})
	if err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(reply)
		return nil
	}
	fmt.Printf("Replied %s under %s\n", ui.RenderAccent(refFor(types.ArtifactReply, string(reply.ID))), args[0])
	return nil
}

// printReplies renders the thread under a parent in show commands.
func printReplies(parentType types.ArtifactType, parentID string) {
	replies, err := store.RepliesFor(rootCtx, parentType, parentID)
	if err != nil || len(replies) == 0 {
		return
	}
	fmt.Printf("\n  Replies:\n")
	for _, r := range replies {
		author := string(r.AuthorID)
		if a, err := store.GetAgent(rootCtx, author); err == nil {
			author = a.Handle
		}
		fmt.Printf("    %s %s %s\n      %s\n",
			ui.RenderMuted(formatAge(r.CreatedAt)+" ago"),
			ui.RenderAccent("@"+author),
			ui.RenderMuted(refFor(types.ArtifactReply, string(r.ID))),
			r.Content)
	}
}
