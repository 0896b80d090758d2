package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/untoldecay/space/internal/config"
	"github.com/untoldecay/space/internal/eventbus"
	"github.com/untoldecay/space/internal/provider"
	"github.com/untoldecay/space/internal/router"
	"github.com/untoldecay/space/internal/state"
	"github.com/untoldecay/space/internal/storage/sqlite"
	"github.com/untoldecay/space/internal/types"
	"github.com/untoldecay/space/internal/ui"
)

// Shared services, opened by the root PersistentPreRunE and reachable
// from every subcommand. CLI runs are one-shots; the daemon worker is
// the only long-lived holder of these.
var (
	rootCtx  context.Context
	paths    config.Paths
	store    *sqlite.Store
	cfgSvc   *config.Service
	stateSvc *state.Service
	registry *provider.Registry
	routes   *router.Router
	bus      *eventbus.Bus

	cliLogger *slog.Logger

	jsonOutput bool
	asAgent    string
)

var rootCmd = &cobra.Command{
	Use:   "space",
	Short: "Shared ledger and scheduler for a fleet of AI agents",
	Long: `space is the substrate a fleet of coding agents lives on: a SQLite
ledger of agents, projects, decisions, insights, tasks, and replies, plus
a daemon that wakes agents as child processes of vendor CLIs and records
every session as a tamper-evident trace.

State lives under ~/.space (override with SPACE_DOT_SPACE). The daemon is
optional: every command works against the ledger directly.

Examples:
  space agent create ada --model claude-sonnet-4-5
  space decision create --agent ada -m "Use SQLite WAL" -r "single writer"
  space swarm on --limit 50
  space daemon start
  space status`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if skipsServices(cmd) {
			return nil
		}
		return openServices()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeServices()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&asAgent, "as", "", "Act as this agent (default: $SPACE_AGENT)")
}

// skipsServices lists the commands that must not touch the state root:
// version and shell plumbing.
func skipsServices(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "version", "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
		return true
	}
	return false
}

func openServices() error {
	root, err := config.DefaultRoot()
	if err != nil {
		return fmt.Errorf("failed to locate state root: %w", err)
	}
	paths = config.Paths{Root: root}
	if err := paths.EnsureLayout(); err != nil {
		return fmt.Errorf("failed to prepare state root: %w", err)
	}

	cliLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	store, err = sqlite.New(rootCtx, paths.Database(),
		sqlite.WithLogger(cliLogger), sqlite.WithSnapshotDir(paths.BackupsDir()))
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	cfgSvc, err = config.New(paths, cliLogger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	registry, err = provider.NewRegistry()
	if err != nil {
		return fmt.Errorf("failed to load model catalog: %w", err)
	}
	stateSvc = state.New(paths.StateYAML(), cliLogger)
	routes = router.New(store, stateSvc, cfgSvc, registry, cliLogger)
	bus = eventbus.New()
	return nil
}

func closeServices() {
	if cfgSvc != nil {
		_ = cfgSvc.Close()
		cfgSvc = nil
	}
	if store != nil {
		_ = store.Close()
		store = nil
	}
}

// exitCodeFor maps the error taxonomy to stable exit codes so scripts
// and agents can dispatch without parsing messages.
func exitCodeFor(err error) int {
	switch types.KindOf(err) {
	case types.KindValidation:
		return 2
	case types.KindPermission:
		return 3
	case types.KindNotFound:
		return 4
	case types.KindConflict, types.KindState:
		return 9
	case types.KindAmbiguous:
		return 10
	}
	return 1
}

func printError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	var ae *types.AmbiguousError
	if errors.As(err, &ae) && len(ae.Samples) > 0 {
		fmt.Fprintf(os.Stderr, "  %s\n", ui.RenderMuted("Matches:"))
		for _, s := range ae.Samples {
			fmt.Fprintf(os.Stderr, "    %s\n", s)
		}
	}
}

func main() {
	var cancel context.CancelFunc
	rootCtx, cancel = context.WithCancel(context.Background())
	defer cancel()

	ui.ConfigureColor()

	if err := rootCmd.Execute(); err != nil {
		printError(err)
		closeServices()
		os.Exit(exitCodeFor(err))
	}
}
