package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/untoldecay/space/internal/daemon"
	"github.com/untoldecay/space/internal/provider"
	"github.com/untoldecay/space/internal/types"
	"github.com/untoldecay/space/internal/ui"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose the installation",
	Long: `Check the state root, the ledger, the search index, the daemon, the
vendor CLIs, and the swarm roster, and say what to fix.

Examples:
  space doctor
  space doctor --json`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	rep := ui.DoctorReport{}
	check := func(name string, ok bool, detail string) {
		rep.Checks = append(rep.Checks, ui.DoctorCheck{Name: name, OK: ok, Detail: detail})
	}

	// State root. openServices already ensured the layout, so a failure
	// here means something removed it since.
	missing := missingLayoutDirs()
	check("state root", len(missing) == 0, paths.Root)
	if len(missing) > 0 {
		rep.Issues = append(rep.Issues, "missing directories: "+strings.Join(missing, ", "))
		rep.NextSteps = append(rep.NextSteps, "run any space command to recreate the layout")
	}

	// Ledger.
	stats, err := store.Stats(rootCtx)
	if err != nil {
		check("ledger", false, err.Error())
		rep.NextSteps = append(rep.NextSteps, "inspect "+paths.Database())
	} else {
		check("ledger", true, fmt.Sprintf("%d agents, %d decisions, %d insights, %d tasks",
			stats.Agents, stats.Decisions, stats.Insights, stats.Tasks))
	}

	// Search index. RepairFTS rebuilds corrupt tables as a side effect.
	rebuilt, err := store.RepairFTS(rootCtx)
	switch {
	case err != nil:
		check("search index", false, err.Error())
	case len(rebuilt) > 0:
		check("search index", true, "rebuilt "+strings.Join(rebuilt, ", "))
	default:
		check("search index", true, "intact")
	}

	// Daemon.
	if pid, ok := daemon.Running(paths); ok {
		check("daemon", true, fmt.Sprintf("running (pid %d)", pid))
	} else {
		check("daemon", true, "not running")
		rep.NextSteps = append(rep.NextSteps, "start the scheduler with: space daemon start")
	}

	// Vendor CLIs. Missing CLIs only matter for providers the roster's
	// models actually resolve to, but report all three.
	for _, name := range rosterProviders() {
		version, ok := provider.VerifyCLI(rootCtx, name)
		minVer, _ := provider.MinCLIVersion(name)
		switch {
		case version == "":
			check(name+" CLI", false, "not found on PATH")
			rep.NextSteps = append(rep.NextSteps, "install the "+name+" CLI or remove its models from the roster")
		case !ok:
			check(name+" CLI", false, fmt.Sprintf("%s (need >= %s)", version, minVer))
			rep.NextSteps = append(rep.NextSteps, "upgrade the "+name+" CLI")
		default:
			check(name+" CLI", true, version)
		}
	}

	// Swarm roster handles must exist in the ledger.
	snap := cfgSvc.Current()
	var unknown []string
	for _, handle := range snap.Swarm.Agents {
		if _, err := store.GetAgent(rootCtx, handle); err != nil {
			unknown = append(unknown, handle)
		}
	}
	check("swarm roster", len(unknown) == 0, fmt.Sprintf("%d agents", len(snap.Swarm.Agents)))
	if len(unknown) > 0 {
		rep.Issues = append(rep.Issues, "roster handles with no agent: "+strings.Join(unknown, ", "))
		rep.NextSteps = append(rep.NextSteps, "create them with: space agent create <handle> --model <model>")
	}

	rep.Details = [][]string{
		{"state root", paths.Root},
		{"database", paths.Database()},
		{"config", paths.ConfigYAML()},
		{"daemon log", paths.DaemonLog()},
		{"version", Version},
	}

	if jsonOutput {
		outputJSON(rep)
		return nil
	}
	fmt.Println(ui.RenderDoctorReport(rep, ui.GetWidth()))
	if !rep.Healthy() {
		os.Exit(1)
	}
	return nil
}

func missingLayoutDirs() []string {
	var missing []string
	for _, dir := range []string{paths.Root, paths.LogsDir(), paths.LegacySpawnsDir()} {
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			missing = append(missing, dir)
		}
	}
	return missing
}

// rosterProviders returns the providers the roster's models resolve to,
// or every known provider when the roster is empty.
func rosterProviders() []string {
	snap := cfgSvc.Current()
	seen := map[string]bool{}
	var names []string
	for _, handle := range snap.Swarm.Agents {
		agent, err := store.GetAgent(rootCtx, handle)
		if err != nil || agent.Model == "" {
			continue
		}
		name, err := registry.ProviderFor(agent.Model)
		if err != nil || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	if len(names) == 0 {
		return types.Providers()
	}
	return names
}
