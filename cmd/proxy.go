package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/hoist/internal/input"
	"github.com/joescharf/hoist/internal/proxy"
)

var (
	proxyPort       string
	proxyServerName string
	proxyPlan       bool
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Inspect the Nginx reverse proxy configuration",
}

var proxyRenderCmd = &cobra.Command{
	Use:   "render",
	Short: "Print the Nginx site hoist would install",
	Long: `Print the Nginx server block that forwards port 80 to the application.

With --plan the remote commands used to install it are printed instead.`,
	Example: `  hoist proxy render --port 8080
  hoist proxy render --port 3000 --server-name example.com --plan`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return proxyRenderRun()
	},
}

func init() {
	proxyRenderCmd.Flags().StringVar(&proxyPort, "port", "", "Application port (default app.port or 3000)")
	proxyRenderCmd.Flags().StringVar(&proxyServerName, "server-name", "", "Nginx server_name (default nginx.server_name)")
	proxyRenderCmd.Flags().BoolVar(&proxyPlan, "plan", false, "Print the install commands")
	proxyCmd.AddCommand(proxyRenderCmd)
	rootCmd.AddCommand(proxyCmd)
}

func proxyRenderRun() error {
	raw := proxyPort
	if raw == "" {
		raw = viper.GetString("app.port")
	}
	if raw == "" {
		raw = "3000"
	}
	port, err := input.ParsePort(raw)
	if err != nil {
		return err
	}

	serverName := proxyServerName
	if serverName == "" {
		serverName = viper.GetString("nginx.server_name")
	}

	if proxyPlan {
		sitePath := viper.GetString("nginx.site_path")
		if sitePath == "" {
			sitePath = proxy.SitePathFor(viper.GetString("bootstrap.package_manager"))
		}
		c := &proxy.Configurator{SitePath: sitePath, ServerName: serverName}
		cmds, err := c.Plan(port)
		if err != nil {
			return err
		}
		fmt.Fprintln(ui.Out, strings.Join(cmds, "\n\n"))
		return nil
	}

	site, err := proxy.Render(port, serverName)
	if err != nil {
		return err
	}
	fmt.Fprint(ui.Out, site)
	return nil
}
