package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/space/internal/daemon"
	"github.com/untoldecay/space/internal/scheduler"
	"github.com/untoldecay/space/internal/spawn"
	"github.com/untoldecay/space/internal/types"
	"github.com/untoldecay/space/internal/ui"
)

const daemonStartTimeout = 5 * time.Second

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the background scheduler",
	Long: `Manage the daemon that reconciles spawn rows, reaps orphans, runs
housekeeping, and (with swarm on) schedules agents.

The daemon is a supervisor process that respawns its worker on crash
with exponential backoff. Its logs rotate under logs/daemon.log.

Examples:
  space daemon start
  space daemon status
  space daemon logs -n 100
  space daemon stop`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStatus,
}

var daemonLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print the daemon log",
	Args:  cobra.NoArgs,
	RunE:  runDaemonLogs,
}

// daemonSuperviseCmd is the re-exec target for 'daemon start': it holds
// the lock file and respawns the worker. Not meant to be run by hand.
var daemonSuperviseCmd = &cobra.Command{
	Use:    "supervise",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return superviseDaemon()
	},
}

// daemonRunCmd is the worker the supervisor re-execs. Its stderr is the
// supervisor's rolling log file.
var daemonRunCmd = &cobra.Command{
	Use:    "run",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runDaemonWorker,
}

var (
	daemonForeground bool
	daemonLogLines   int
)

func init() {
	daemonStartCmd.Flags().BoolVar(&daemonForeground, "foreground", false, "Run the supervisor in this terminal instead of detaching")
	daemonLogsCmd.Flags().IntVarP(&daemonLogLines, "lines", "n", 50, "Number of trailing lines to print")

	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonLogsCmd)
	daemonCmd.AddCommand(daemonSuperviseCmd)
	daemonCmd.AddCommand(daemonRunCmd)
	rootCmd.AddCommand(daemonCmd)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	if pid, ok := daemon.Running(paths); ok {
		if jsonOutput {
			outputJSON(map[string]any{"running": true, "pid": pid})
			return nil
		}
		fmt.Printf("Daemon already running (pid %d)\n", pid)
		return nil
	}

	if daemonForeground {
		fmt.Fprintf(os.Stderr, "Running daemon in foreground (Ctrl-C to stop)\n")
		return superviseDaemon()
	}

	if _, err := daemon.Detach([]string{"daemon", "supervise"}); err != nil {
		return fmt.Errorf("failed to launch daemon: %w", err)
	}
	pid, ok := daemon.WaitRunning(paths, daemonStartTimeout)
	if !ok {
		return types.Statef("daemon did not come up within %s; check %s", daemonStartTimeout, paths.DaemonLog())
	}
	if jsonOutput {
		outputJSON(map[string]any{"running": true, "pid": pid})
		return nil
	}
	fmt.Printf("%s Daemon started (pid %d)\n", ui.RenderPass(ui.IconPass), pid)
	return nil
}

// superviseDaemon runs the supervisor loop in this process. The rolling
// writer doubles as the worker's stderr.
func superviseDaemon() error {
	out := daemon.RollingWriter(paths)
	defer out.Close()

	logger := daemon.NewLogger(out, cfgSvc.Current().SlogLevel())
	sup := daemon.NewSupervisor(paths, []string{"daemon", "run"}, out, logger)
	if err := sup.Run(rootCtx); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			return types.Conflictf("another daemon already holds %s", paths.DaemonLock())
		}
		return err
	}
	return nil
}

func runDaemonWorker(cmd *cobra.Command, args []string) error {
	logger := daemon.NewLogger(os.Stderr, cfgSvc.Current().SlogLevel())

	engine, err := spawn.New(store, cfgSvc, routes, bus, registry, logger)
	if err != nil {
		return err
	}
	sched := scheduler.New(store, cfgSvc, stateSvc, routes, engine, registry, logger)
	worker := daemon.NewWorker(store, cfgSvc, stateSvc, engine, sched, logger)
	return worker.Run(rootCtx)
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	pid, wasRunning, err := daemon.Stop(paths)
	if err != nil {
		return err
	}
	if !wasRunning {
		if jsonOutput {
			outputJSON(map[string]any{"running": false})
			return nil
		}
		fmt.Println("Daemon is not running.")
		return nil
	}

	deadline := time.Now().Add(daemonStartTimeout + time.Second)
	for time.Now().Before(deadline) {
		if _, ok := daemon.Running(paths); !ok {
			if jsonOutput {
				outputJSON(map[string]any{"running": false, "stopped_pid": pid})
				return nil
			}
			fmt.Printf("%s Daemon stopped (pid %d)\n", ui.RenderPass(ui.IconPass), pid)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return types.Statef("daemon (pid %d) did not exit after SIGTERM", pid)
}

type daemonStatusReport struct {
	Running       bool    `json:"running"`
	PID           int     `json:"pid,omitempty"`
	Started       string  `json:"started,omitempty"`
	UptimeSeconds float64 `json:"uptime_seconds,omitempty"`
	LogPath       string  `json:"log_path"`
	StateRoot     string  `json:"state_root"`
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	report := daemonStatusReport{
		LogPath:   paths.DaemonLog(),
		StateRoot: paths.Root,
	}
	if pid, ok := daemon.Running(paths); ok {
		report.Running = true
		report.PID = pid
		// The pid file is written once at supervisor start, so its
		// mtime is the start time.
		if fi, err := os.Stat(paths.DaemonPID()); err == nil {
			report.Started = fi.ModTime().UTC().Format(time.RFC3339)
			report.UptimeSeconds = time.Since(fi.ModTime()).Seconds()
		}
	}

	if jsonOutput {
		outputJSON(report)
		return nil
	}

	if !report.Running {
		fmt.Printf("%s daemon not running\n", ui.RenderMuted("○"))
		fmt.Printf("  Start it with: space daemon start\n")
		return nil
	}
	fmt.Printf("%s daemon running (pid %d)\n", ui.RenderPass(ui.IconPass), report.PID)
	if report.UptimeSeconds > 0 {
		fmt.Printf("  Uptime: %s\n", time.Duration(report.UptimeSeconds*float64(time.Second)).Round(time.Second))
	}
	fmt.Printf("  Logs:   %s\n", ui.RenderMuted(report.LogPath))
	fmt.Printf("  Root:   %s\n", ui.RenderMuted(report.StateRoot))
	return nil
}

func runDaemonLogs(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(paths.DaemonLog())
	if os.IsNotExist(err) {
		fmt.Println("No daemon log yet.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read daemon log: %w", err)
	}

	lines := bytes.Split(bytes.TrimRight(data, "\n"), []byte("\n"))
	if daemonLogLines > 0 && len(lines) > daemonLogLines {
		lines = lines[len(lines)-daemonLogLines:]
	}
	for _, line := range lines {
		fmt.Println(string(line))
	}
	return nil
}
