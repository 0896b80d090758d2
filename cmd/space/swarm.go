package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/space/internal/daemon"
	"github.com/untoldecay/space/internal/types"
	"github.com/untoldecay/space/internal/ui"
)

var swarmCmd = &cobra.Command{
	Use:   "swarm",
	Short: "Turn autonomous scheduling on or off",
	Long: `Control swarm mode: when on, the daemon picks agents by weighted
fairness each tick and wakes them without human instruction, up to the
configured concurrency and the optional spawn limit.

Turning swarm off never kills running spawns; it only stops launching
new ones.

Examples:
  space swarm on --limit 50
  space swarm status
  space swarm off`,
}

var swarmOnCmd = &cobra.Command{
	Use:   "on",
	Short: "Enable swarm mode",
	Args:  cobra.NoArgs,
	RunE:  runSwarmOn,
}

var swarmOffCmd = &cobra.Command{
	Use:   "off",
	Short: "Disable swarm mode",
	Args:  cobra.NoArgs,
	RunE:  runSwarmOff,
}

var swarmStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show swarm state and scheduling pressure",
	Args:  cobra.NoArgs,
	RunE:  runSwarmStatus,
}

var (
	swarmLimit int
	swarmForce bool
)

func init() {
	swarmOnCmd.Flags().IntVar(&swarmLimit, "limit", 0, "Stop after this many spawns (0 = unlimited)")
	swarmOffCmd.Flags().BoolVar(&swarmForce, "force", false, "Skip confirmation when spawns are active")

	swarmCmd.AddCommand(swarmOnCmd)
	swarmCmd.AddCommand(swarmOffCmd)
	swarmCmd.AddCommand(swarmStatusCmd)
	rootCmd.AddCommand(swarmCmd)
}

func runSwarmOn(cmd *cobra.Command, args []string) error {
	snap := cfgSvc.Current()
	if len(snap.Swarm.Agents) == 0 {
		return types.Validationf("no agents in the swarm roster; add handles under swarm.agents in %s", paths.ConfigYAML())
	}
	if err := cfgSvc.SetSwarmEnabled(true, swarmLimit); err != nil {
		return err
	}

	snap = cfgSvc.Current()
	if jsonOutput {
		outputJSON(snap.Swarm)
		return nil
	}
	fmt.Printf("%s Swarm on: %d agents, concurrency %d", ui.RenderPass(ui.IconPass), len(snap.Swarm.Agents), snap.Swarm.Concurrency)
	if snap.Swarm.Limit > 0 {
		fmt.Printf(", limit %d spawns", snap.Swarm.Limit)
	}
	fmt.Println()
	if _, ok := daemon.Running(paths); !ok {
		fmt.Printf("  %s\n", ui.RenderWarn("The daemon is not running; nothing will be scheduled until 'space daemon start'."))
	}
	return nil
}

func runSwarmOff(cmd *cobra.Command, args []string) error {
	active, err := activeSpawnCount()
	if err != nil {
		return err
	}
	if active > 0 && !swarmForce {
		ok := ui.PromptYesNo(fmt.Sprintf("%d spawns are still active; turn swarm off anyway?", active), false)
		if !ok {
			fmt.Println("Swarm left on.")
			return nil
		}
	}
	if err := cfgSvc.SetSwarmEnabled(false, 0); err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(cfgSvc.Current().Swarm)
		return nil
	}
	fmt.Printf("%s Swarm off", ui.RenderPass(ui.IconPass))
	if active > 0 {
		fmt.Printf(" (%d active spawns will finish on their own)", active)
	}
	fmt.Println()
	return nil
}

func runSwarmStatus(cmd *cobra.Command, args []string) error {
	snap := cfgSvc.Current()
	active, err := activeSpawnCount()
	if err != nil {
		return err
	}

	var launched int
	if !snap.Swarm.EnabledAt.IsZero() {
		launched, err = store.SpawnsSince(rootCtx, snap.Swarm.EnabledAt)
		if err != nil {
			return err
		}
	}
	cooldowns, err := stateSvc.ActiveCooldowns()
	if err != nil {
		return err
	}

	if jsonOutput {
		outputJSON(map[string]any{
			"enabled":       snap.Swarm.Enabled,
			"limit":         snap.Swarm.Limit,
			"concurrency":   snap.Swarm.Concurrency,
			"enabled_at":    snap.Swarm.EnabledAt,
			"agents":        snap.Swarm.Agents,
			"spawns":        launched,
			"active_spawns": active,
			"cooldowns":     cooldowns,
		})
		return nil
	}

	if snap.Swarm.Enabled {
		fmt.Printf("%s swarm on since %s\n", ui.RenderPass(ui.IconPass), formatAge(snap.Swarm.EnabledAt))
	} else {
		fmt.Printf("%s swarm off\n", ui.RenderMuted("○"))
	}
	fmt.Printf("  Roster:      %s\n", dash(joinHandles(snap.Swarm.Agents)))
	fmt.Printf("  Concurrency: %d\n", snap.Swarm.Concurrency)
	if snap.Swarm.Enabled {
		if snap.Swarm.Limit > 0 {
			fmt.Printf("  Spawns:      %d of %d\n", launched, snap.Swarm.Limit)
		} else {
			fmt.Printf("  Spawns:      %d (no limit)\n", launched)
		}
	}
	fmt.Printf("  Active now:  %d\n", active)
	for name, until := range cooldowns {
		fmt.Printf("  %s\n", ui.RenderWarn(fmt.Sprintf("%s cooling down until %s", name, until.Local().Format(time.Kitchen))))
	}
	return nil
}

func activeSpawnCount() (int, error) {
	active := types.SpawnActive
	spawns, err := store.FetchSpawns(rootCtx, types.SpawnFilter{Status: &active})
	if err != nil {
		return 0, err
	}
	return len(spawns), nil
}
