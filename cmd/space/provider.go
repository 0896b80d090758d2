package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/space/internal/provider"
	"github.com/untoldecay/space/internal/timeparsing"
	"github.com/untoldecay/space/internal/types"
	"github.com/untoldecay/space/internal/ui"
)

var providerCmd = &cobra.Command{
	Use:   "provider",
	Short: "Inspect and override vendor cooldowns",
	Long: `Inspect the vendor CLIs the engine spawns through, and manage their
cooldowns. The daemon blocks a provider automatically when it reports
quota exhaustion; block and unblock let a human do the same by hand.

Examples:
  space provider status
  space provider block claude --until "+2h"
  space provider block codex --until "tomorrow 9am"
  space provider unblock claude`,
}

var providerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show provider CLIs and cooldowns",
	Args:  cobra.NoArgs,
	RunE:  runProviderStatus,
}

var providerBlockCmd = &cobra.Command{
	Use:   "block <provider>",
	Short: "Put a provider on cooldown",
	Args:  cobra.ExactArgs(1),
	RunE:  runProviderBlock,
}

var providerUnblockCmd = &cobra.Command{
	Use:   "unblock <provider>",
	Short: "Clear a provider's cooldown",
	Args:  cobra.ExactArgs(1),
	RunE:  runProviderUnblock,
}

var providerBlockUntil string

func init() {
	providerBlockCmd.Flags().StringVar(&providerBlockUntil, "until", "", "When the cooldown lifts (\"+2h\", \"tomorrow 9am\", RFC3339)")
	_ = providerBlockCmd.MarkFlagRequired("until")

	providerCmd.AddCommand(providerStatusCmd)
	providerCmd.AddCommand(providerBlockCmd)
	providerCmd.AddCommand(providerUnblockCmd)
	rootCmd.AddCommand(providerCmd)
}

type providerStatusRow struct {
	Provider   string     `json:"provider"`
	CLIVersion string     `json:"cli_version,omitempty"`
	MinVersion string     `json:"min_version,omitempty"`
	CLIOk      bool       `json:"cli_ok"`
	Cooldown   *time.Time `json:"cooldown_until,omitempty"`
}

func runProviderStatus(cmd *cobra.Command, args []string) error {
	cooldowns, err := stateSvc.ActiveCooldowns()
	if err != nil {
		return err
	}

	rows := make([]providerStatusRow, 0, len(types.Providers()))
	for _, name := range types.Providers() {
		row := providerStatusRow{Provider: name}
		row.CLIVersion, row.CLIOk = provider.VerifyCLI(rootCtx, name)
		row.MinVersion, _ = provider.MinCLIVersion(name)
		if until, ok := cooldowns[name]; ok {
			u := until
			row.Cooldown = &u
		}
		rows = append(rows, row)
	}

	if jsonOutput {
		outputJSON(rows)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tCLI\tMIN\tCOOLDOWN")
	for _, row := range rows {
		cli := ui.RenderFail(ui.IconFail + " missing")
		if row.CLIVersion != "" {
			if row.CLIOk {
				cli = ui.RenderPass(ui.IconPass+" ") + row.CLIVersion
			} else {
				cli = ui.RenderWarn(ui.IconWarn+" ") + row.CLIVersion
			}
		}
		cooldown := "-"
		if row.Cooldown != nil {
			cooldown = ui.RenderWarn("until " + row.Cooldown.Local().Format("Jan 2 15:04"))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", row.Provider, cli, dash(row.MinVersion), cooldown)
	}
	return w.Flush()
}

func runProviderBlock(cmd *cobra.Command, args []string) error {
	name := args[0]
	if _, err := registry.ForName(name); err != nil {
		return err
	}
	until, err := timeparsing.ParseRelativeTime(providerBlockUntil, time.Now())
	if err != nil {
		return types.Validationf("cannot parse --until %q: %v", providerBlockUntil, err)
	}
	if !until.After(time.Now()) {
		return types.Validationf("--until %q is in the past", providerBlockUntil)
	}

	if err := stateSvc.BlockProvider(name, until); err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(map[string]any{"provider": name, "blocked_until": until})
		return nil
	}
	fmt.Printf("%s %s blocked until %s\n", ui.RenderPass(ui.IconPass), name, until.Local().Format("Jan 2 15:04"))
	return nil
}

func runProviderUnblock(cmd *cobra.Command, args []string) error {
	name := args[0]
	if _, err := registry.ForName(name); err != nil {
		return err
	}
	if err := stateSvc.UnblockProvider(name); err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(map[string]any{"provider": name, "blocked_until": nil})
		return nil
	}
	fmt.Printf("%s %s cooldown cleared\n", ui.RenderPass(ui.IconPass), name)
	return nil
}
