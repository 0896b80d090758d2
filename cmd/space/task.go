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

var taskCmd = &cobra.Command{
	Use:     "task",
	Aliases: []string{"t"},
	Short:   "Manage tasks",
	Long: `Manage tasks: assignable work items referenced as t/<shortid>.

pending and active flip freely; done and cancelled are terminal. An
agent holds at most one active task, which is what 'switch' rotates.

Examples:
  space task create -m "Wire the capacity probe" --assignee rex
  space task claim t/7b3c21f0 --as rex
  space task done t/7b3c21f0 --result "probe live" --as rex
  space task switch -m "Next: cooldown parsing" --result "probe live" --as rex`,
}

var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a task",
	RunE:  runTaskCreate,
}

var taskClaimCmd = &cobra.Command{
	Use:   "claim <ref>",
	Short: "Claim a pending task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskClaim,
}

var taskReleaseCmd = &cobra.Command{
	Use:   "release <ref>",
	Short: "Release a claimed task back to pending",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskRelease,
}

var taskDoneCmd = &cobra.Command{
	Use:   "done <ref>",
	Short: "Complete a task",
	Args:  cobra.ExactArgs(1),
	RunE:  statusRunner(types.TaskDone, "Completed"),
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <ref>",
	Short: "Cancel a task",
	Args:  cobra.ExactArgs(1),
	RunE:  statusRunner(types.TaskCancelled, "Cancelled"),
}

var taskSwitchCmd = &cobra.Command{
	Use:   "switch",
	Short: "Finish the current task and start the next",
	Long: `Atomically complete the acting agent's active task (recording the
result on it) and open a new active task in its place.

Examples:
  space task switch -m "Next: cooldown parsing" --result "probe live" --as rex`,
	RunE: runTaskSwitch,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Args:  cobra.NoArgs,
	RunE:  runTaskList,
}

var (
	taskContent      string
	taskAssignee     string
	taskProject      string
	taskDecision     string
	taskResult       string
	taskListStatus   string
	taskListAssignee string
	taskListProject  string
	taskListLimit    int
)

func init() {
	taskCreateCmd.Flags().StringVarP(&taskContent, "message", "m", "", "Task content (required)")
	taskCreateCmd.Flags().StringVar(&taskAssignee, "assignee", "", "Agent to assign")
	taskCreateCmd.Flags().StringVar(&taskProject, "project", "", "Project name (default: configured or _global)")
	taskCreateCmd.Flags().StringVar(&taskDecision, "decision", "", "Decision this task implements (d/<shortid>)")
	_ = taskCreateCmd.MarkFlagRequired("message")

	taskDoneCmd.Flags().StringVar(&taskResult, "result", "", "What was produced")
	taskCancelCmd.Flags().StringVar(&taskResult, "result", "", "Why it was cancelled")
	taskSwitchCmd.Flags().StringVarP(&taskContent, "message", "m", "", "Content of the next task (required)")
	taskSwitchCmd.Flags().StringVar(&taskResult, "result", "", "Result for the task being closed")
	taskSwitchCmd.Flags().StringVar(&taskProject, "project", "", "Project for the next task")
	_ = taskSwitchCmd.MarkFlagRequired("message")

	taskListCmd.Flags().StringVar(&taskListStatus, "status", "", "Filter: pending, active, done, cancelled")
	taskListCmd.Flags().StringVar(&taskListAssignee, "assignee", "", "Filter by assignee")
	taskListCmd.Flags().StringVar(&taskListProject, "project", "", "Filter by project")
	taskListCmd.Flags().IntVar(&taskListLimit, "limit", 50, "Max rows")

	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskClaimCmd)
	taskCmd.AddCommand(taskReleaseCmd)
	taskCmd.AddCommand(taskDoneCmd)
	taskCmd.AddCommand(taskCancelCmd)
	taskCmd.AddCommand(taskSwitchCmd)
	taskCmd.AddCommand(taskListCmd)
	rootCmd.AddCommand(taskCmd)
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	actor, err := resolveActor()
	if err != nil {
		return err
	}
	project, err := resolveProject(taskProject)
	if err != nil {
		return err
	}

	createArgs := sqlite.CreateTaskArgs{
		ProjectID: project.ID,
		CreatorID: actor.ID,
		SpawnID:   callerSpawnID(),
		Content:   taskContent,
	}
	if taskAssignee != "" {
		assignee, err := store.GetAgent(rootCtx, taskAssignee)
		if err != nil {
			return err
		}
		createArgs.AssigneeID = &assignee.ID
	}
	if taskDecision != "" {
		d, err := store.GetDecision(rootCtx, taskDecision)
		if err != nil {
			return err
		}
		createArgs.DecisionID = &d.ID
	}

	task, err := store.CreateTask(rootCtx, createArgs)
	if err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(task)
		return nil
	}
	fmt.Printf("Created %s\n", ui.RenderAccent(refFor(types.ArtifactTask, string(task.ID))))
	return nil
}

func runTaskClaim(cmd *cobra.Command, args []string) error {
	actor, err := resolveActor()
	if err != nil {
		return err
	}
	ref, err := refArg(args[0], types.ArtifactTask)
	if err != nil {
		return err
	}
	if err := store.ClaimTask(rootCtx, ref, actor.ID); err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(map[string]any{"claimed": args[0], "by": actor.Handle})
		return nil
	}
	fmt.Printf("Claimed %s for %s\n", args[0], actor.Handle)
	return nil
}

func runTaskRelease(cmd *cobra.Command, args []string) error {
	actor, err := resolveActor()
	if err != nil {
		return err
	}
	ref, err := refArg(args[0], types.ArtifactTask)
	if err != nil {
		return err
	}
	if err := store.ReleaseTask(rootCtx, ref, actor.ID); err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(map[string]any{"released": args[0]})
		return nil
	}
	fmt.Printf("Released %s\n", args[0])
	return nil
}

// statusRunner builds the RunE for the terminal transitions.
func statusRunner(to types.TaskStatus, pastTense string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ref, err := refArg(args[0], types.ArtifactTask)
		if err != nil {
			return err
		}
		if err := store.SetTaskStatus(rootCtx, ref, to, taskResult); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]any{"task": args[0], "status": string(to)})
			return nil
		}
		fmt.Printf("%s %s\n", pastTense, args[0])
		return nil
	}
}

func runTaskSwitch(cmd *cobra.Command, args []string) error {
	actor, err := resolveActor()
	if err != nil {
		return err
	}
	project, err := resolveProject(taskProject)
	if err != nil {
		return err
	}
	next, err := store.SwitchTask(rootCtx, sqlite.SwitchTaskArgs{
		AgentID:   actor.ID,
		ProjectID: project.ID,
		SpawnID:   callerSpawnID(),
		Content:   taskContent,
		Result:    taskResult,
	})
	if err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(next)
		return nil
	}
	fmt.Printf("Switched to %s\n", ui.RenderAccent(refFor(types.ArtifactTask, string(next.ID))))
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	filter := types.TaskFilter{Limit: taskListLimit}
	if taskListStatus != "" {
		st, err := types.ParseTaskStatus(taskListStatus)
		if err != nil {
			return err
		}
		filter.Status = &st
	}
	if taskListAssignee != "" {
		assignee, err := store.GetAgent(rootCtx, taskListAssignee)
		if err != nil {
			return err
		}
		filter.AssigneeID = &assignee.ID
	}
	if taskListProject != "" {
		project, err := store.GetProject(rootCtx, taskListProject)
		if err != nil {
			return err
		}
		filter.ProjectID = &project.ID
	}

	tasks, err := store.FetchTasks(rootCtx, filter)
	if err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(tasks)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REF\tSTATUS\tASSIGNEE\tAGE\tCONTENT")
	for _, task := range tasks {
		assignee := "-"
		if task.AssigneeID != nil {
			if a, err := store.GetAgent(rootCtx, string(*task.AssigneeID)); err == nil {
				assignee = a.Handle
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			refFor(types.ArtifactTask, string(task.ID)),
			renderTaskStatus(task.Status), assignee,
			formatAge(task.CreatedAt), truncate(task.Content, 55))
	}
	return w.Flush()
}

func renderTaskStatus(s types.TaskStatus) string {
	switch s {
	case types.TaskPending:
		return ui.RenderMuted(string(s))
	case types.TaskActive:
		return ui.RenderAccent(string(s))
	case types.TaskDone:
		return ui.RenderPass(string(s))
	case types.TaskCancelled:
		return ui.RenderWarn(string(s))
	}
	return string(s)
}
