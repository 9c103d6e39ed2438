package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/hoist/internal/llm"
	"github.com/joescharf/hoist/internal/models"
	"github.com/joescharf/hoist/internal/output"
	"github.com/joescharf/hoist/internal/runlog"
)

const diagnoseLogLines = 50

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose <run-id>",
	Short: "Ask Claude why a recorded run failed",
	Long: `Send the stage results and the tail of the run log of a recorded run to
Claude and print a summary, the likely cause and next steps.

Requires HOIST_ANTHROPIC_API_KEY (or anthropic.api_key in the config file).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return diagnoseRun(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(diagnoseCmd)
}

func diagnoseRun(cmd *cobra.Command, id string) error {
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		return fmt.Errorf("anthropic.api_key is not set (export HOIST_ANTHROPIC_API_KEY)")
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	run, err := lookupRun(cmd, s, id)
	if err != nil {
		return err
	}
	if run.Status == models.RunStatusSucceeded {
		ui.Info("Run %s succeeded; nothing to diagnose", shortID(run.ID))
		return nil
	}

	stages, err := s.ListStageResults(ctx, run.ID)
	if err != nil {
		return err
	}

	var tail string
	if run.LogPath != "" {
		tail, err = runlog.Tail(run.LogPath, diagnoseLogLines)
		if err != nil {
			ui.Warning("Could not read run log: %v", err)
		}
	}

	if dryRun {
		ui.DryRunMsg("Would send run %s (%d stages, %d log bytes) to %s",
			shortID(run.ID), len(stages), len(tail), viper.GetString("anthropic.model"))
		return nil
	}

	ui.Info("Asking %s about run %s...", viper.GetString("anthropic.model"), shortID(run.ID))
	client := llm.NewClient(apiKey, viper.GetString("anthropic.model"))
	d, err := client.Diagnose(ctx, llm.DiagnoseInput{Run: run, Stages: stages, LogTail: tail})
	if err != nil {
		return err
	}

	fmt.Fprintln(ui.Out)
	fmt.Fprintf(ui.Out, "%s %s\n", output.Cyan("Summary:"), d.Summary)
	fmt.Fprintf(ui.Out, "%s %s\n", output.Cyan("Likely cause:"), d.LikelyCause)
	if len(d.NextSteps) > 0 {
		fmt.Fprintln(ui.Out, output.Cyan("Next steps:"))
		for i, step := range d.NextSteps {
			fmt.Fprintf(ui.Out, "  %d. %s\n", i+1, step)
		}
	}
	return nil
}
