package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/space/internal/types"
)

var sleepCmd = &cobra.Command{
	Use:   "sleep",
	Short: "Sign off the current spawn with a session summary",
	Long: `Record the session summary on the spawn this command runs inside.

The engine exports SPACE_SPAWN_ID into every child it launches; sleep
reads it and writes the summary onto the still-active row, so it
survives even if the process dies before a clean exit. Sessions that
never sleep get their summary auto-filled from the last trace text.

Examples:
  space sleep -m "Wired the capacity probe; opened t/7b3c21f0 for the retry path"`,
	Args: cobra.NoArgs,
	RunE: runSleep,
}

var sleepSummary string

func init() {
	sleepCmd.Flags().StringVarP(&sleepSummary, "message", "m", "", "Session summary (required)")
	_ = sleepCmd.MarkFlagRequired("message")
	rootCmd.AddCommand(sleepCmd)
}

func runSleep(cmd *cobra.Command, args []string) error {
	id := callerSpawnID()
	if id == nil {
		return types.Statef("sleep only works inside a spawn (SPACE_SPAWN_ID is not set)")
	}
	if err := store.SetSpawnSummary(rootCtx, *id, sleepSummary); err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(map[string]any{"spawn": string(*id), "summary": sleepSummary})
		return nil
	}
	fmt.Printf("Summary recorded for spawn %s\n", types.ShortID(string(*id)))
	return nil
}
