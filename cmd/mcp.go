package cmd

import (
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/hoist/internal/mcp"
	"github.com/joescharf/hoist/internal/store"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for Claude Code integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets Claude Code query hoist run history and preview deployments.
Configure in Claude Code with:

  {
    "mcpServers": {
      "hoist": { "command": "hoist", "args": ["mcp"] }
    }
  }

Available tools: hoist_list_runs, hoist_show_run, hoist_detect_method,
hoist_render_proxy`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun(cmd)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals()...)
	defer stop()

	var s store.Store
	if viper.GetBool("history.enabled") {
		var err error
		if s, err = getStore(); err != nil {
			return err
		}
	}

	// stdout belongs to the protocol; diagnostics go to stderr.
	ui.Out = ui.ErrOut
	return mcp.NewServer(s, buildVersion).ServeStdio(ctx)
}
