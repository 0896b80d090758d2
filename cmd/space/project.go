package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/untoldecay/space/internal/types"
	"github.com/untoldecay/space/internal/ui"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
	Long: `Manage projects, the grouping unit for decisions, insights, and tasks.

The _global sentinel project always exists and catches artifacts that
name no project.

Examples:
  space project create orbiter --repo ~/code/orbiter
  space project create lab-notes --type proto
  space project list`,
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectCreate,
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	Args:  cobra.NoArgs,
	RunE:  runProjectList,
}

var projectShowCmd = &cobra.Command{
	Use:   "show <project>",
	Short: "Show project details",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectShow,
}

var projectArchiveCmd = &cobra.Command{
	Use:   "archive <project>",
	Short: "Archive a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectArchive,
}

var (
	projectCreateType string
	projectCreateRepo string
	projectCreateTags []string
	projectListAll    bool
)

func init() {
	projectCreateCmd.Flags().StringVar(&projectCreateType, "type", "standard", "Project type: standard, proto, or customer")
	projectCreateCmd.Flags().StringVar(&projectCreateRepo, "repo", "", "Repository path agents work in")
	projectCreateCmd.Flags().StringSliceVar(&projectCreateTags, "tag", nil, "Tags (repeatable)")
	projectListCmd.Flags().BoolVar(&projectListAll, "all", false, "Include archived projects")

	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectShowCmd)
	projectCmd.AddCommand(projectArchiveCmd)
	rootCmd.AddCommand(projectCmd)
}

func runProjectCreate(cmd *cobra.Command, args []string) error {
	typ, err := types.ParseProjectType(projectCreateType)
	if err != nil {
		return err
	}
	project, err := store.CreateProject(rootCtx, args[0], typ, projectCreateRepo, projectCreateTags)
	if err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(project)
		return nil
	}
	fmt.Printf("Created project %s (%s)\n", ui.RenderAccent(project.Name), project.Type)
	return nil
}

func runProjectList(cmd *cobra.Command, args []string) error {
	projects, err := store.FetchProjects(rootCtx, types.ProjectFilter{IncludeArchived: projectListAll})
	if err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(projects)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tREPO\tTAGS\tAGE")
	for _, p := range projects {
		state := formatAge(p.CreatedAt)
		if p.ArchivedAt != nil {
			state = "archived"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			p.Name, p.Type, dash(p.RepoPath), dash(strings.Join(p.Tags, ",")), state)
	}
	return w.Flush()
}

func runProjectShow(cmd *cobra.Command, args []string) error {
	project, err := store.GetProject(rootCtx, args[0])
	if err != nil {
		return hintNear(err, "project", args[0], projectNames())
	}
	if jsonOutput {
		outputJSON(project)
		return nil
	}

	fmt.Printf("%s  %s\n", ui.RenderBold(project.Name), ui.RenderMuted(string(project.ID)))
	fmt.Printf("  Type:    %s\n", project.Type)
	if project.RepoPath != "" {
		fmt.Printf("  Repo:    %s\n", project.RepoPath)
	}
	if len(project.Tags) > 0 {
		fmt.Printf("  Tags:    %s\n", strings.Join(project.Tags, ", "))
	}
	fmt.Printf("  Created: %s ago\n", formatAge(project.CreatedAt))
	if project.ArchivedAt != nil {
		fmt.Printf("  Archived: %s ago\n", formatAge(*project.ArchivedAt))
	}
	return nil
}

func runProjectArchive(cmd *cobra.Command, args []string) error {
	if err := store.ArchiveProject(rootCtx, args[0]); err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(map[string]any{"archived": args[0]})
		return nil
	}
	fmt.Printf("Archived project %s\n", args[0])
	return nil
}
