package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/hoist/internal/detect"
	"github.com/joescharf/hoist/internal/output"
	"github.com/joescharf/hoist/internal/transfer"
)

var detectCmd = &cobra.Command{
	Use:   "detect [dir]",
	Short: "Show which deployment method a directory would use",
	Long: `Show which deployment method a working tree would use.

A compose file (docker-compose.yml, docker-compose.yaml, compose.yml,
compose.yaml) takes precedence over a Dockerfile. The transfer ignore list
is printed too.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}
		return detectRun(dir)
	},
}

func init() {
	rootCmd.AddCommand(detectCmd)
}

func detectRun(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	d, err := detect.Detect(abs)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s\n", output.Cyan(abs))
	fmt.Fprintf(ui.Out, "  Method:  %s\n", d.Method)
	fmt.Fprintf(ui.Out, "  File:    %s\n", d.File)

	ign, err := transfer.LoadIgnore(abs, viper.GetStringSlice("transfer.ignore"))
	if err != nil {
		return err
	}
	fmt.Fprintf(ui.Out, "  Ignore:  %v\n", ign.Patterns())
	return nil
}
