package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/hoist/internal/models"
	"github.com/joescharf/hoist/internal/output"
	"github.com/joescharf/hoist/internal/pipeline"
	"github.com/joescharf/hoist/internal/store"
)

var (
	historyHost  string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:     "history",
	Aliases: []string{"runs"},
	Short:   "List recorded deployment runs",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyListRun(cmd)
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run and its stage results",
	Long:  "Show a run and its stage results. A unique ID prefix is enough.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyShowRun(cmd, args[0])
	},
}

var historyRemoveCmd = &cobra.Command{
	Use:     "remove <run-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a run from history",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyRemoveRun(cmd, args[0])
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyHost, "host", "", "Only show runs against this host")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "Maximum number of runs")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyRemoveCmd)
	rootCmd.AddCommand(historyCmd)
}

func historyListRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	runs, err := s.ListRuns(cmd.Context(), historyLimit, historyHost)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		ui.Info("No runs recorded. Use 'hoist deploy' to get started.")
		return nil
	}

	table := ui.Table([]string{"ID", "Started", "Host", "Branch", "Method", "Status", "Duration"})
	for _, r := range runs {
		table.Append([]string{
			shortID(r.ID),
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.Host,
			r.Branch,
			string(r.Method),
			output.StatusColor(string(r.Status)),
			runDuration(r),
		})
	}
	table.Render()
	return nil
}

func historyShowRun(cmd *cobra.Command, id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	run, err := lookupRun(cmd, s, id)
	if err != nil {
		return err
	}
	stages, err := s.ListStageResults(ctx, run.ID)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(run.ID), output.StatusColor(string(run.Status)))
	fmt.Fprintf(ui.Out, "  Repository: %s\n", run.RepoURL)
	fmt.Fprintf(ui.Out, "  Branch:     %s\n", run.Branch)
	if run.Commit != "" {
		fmt.Fprintf(ui.Out, "  Commit:     %s\n", run.Commit)
	}
	fmt.Fprintf(ui.Out, "  Target:     %s@%s\n", run.SSHUser, run.Host)
	fmt.Fprintf(ui.Out, "  App:        %s on port %d\n", run.AppName, run.AppPort)
	if run.Method != "" {
		fmt.Fprintf(ui.Out, "  Method:     %s\n", run.Method)
	}
	fmt.Fprintf(ui.Out, "  Started:    %s\n", run.StartedAt.Local().Format(time.RFC1123))
	fmt.Fprintf(ui.Out, "  Duration:   %s\n", runDuration(run))
	if run.LogPath != "" {
		fmt.Fprintf(ui.Out, "  Log:        %s\n", run.LogPath)
	}
	if run.FailedStage != "" {
		fmt.Fprintf(ui.Out, "  Failed at:  %s\n", pipeline.Title(run.FailedStage))
	}
	if run.Error != "" {
		fmt.Fprintf(ui.Out, "  Error:      %s\n", output.Red(run.Error))
	}

	if len(stages) == 0 {
		return nil
	}
	fmt.Fprintln(ui.Out)
	table := ui.Table([]string{"Stage", "Status", "Duration", "Detail"})
	for _, st := range stages {
		table.Append([]string{
			pipeline.Title(st.Stage),
			output.StatusColor(string(st.Status)),
			output.FormatDuration(st.Duration()),
			st.Detail,
		})
	}
	table.Render()
	return nil
}

func historyRemoveRun(cmd *cobra.Command, id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	run, err := lookupRun(cmd, s, id)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would delete run %s", run.ID)
		return nil
	}
	if err := s.DeleteRun(cmd.Context(), run.ID); err != nil {
		return err
	}
	ui.Success("Deleted run %s", run.ID)
	return nil
}

// lookupRun resolves a full ID or unique prefix with friendlier errors.
func lookupRun(cmd *cobra.Command, s store.Store, id string) (*models.Run, error) {
	run, err := s.GetRun(cmd.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("no run matches %q", id)
	case errors.Is(err, store.ErrAmbiguous):
		return nil, fmt.Errorf("run id %q is ambiguous, give more characters", id)
	case err != nil:
		return nil, err
	}
	return run, nil
}

func runDuration(r *models.Run) string {
	if r.EndedAt == nil {
		return "-"
	}
	return output.FormatDuration(r.EndedAt.Sub(r.StartedAt))
}
