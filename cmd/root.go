package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/hoist/internal/deploy"
	"github.com/joescharf/hoist/internal/output"
	"github.com/joescharf/hoist/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "hoist",
	Short: "Deploy a git repository to a VPS behind Nginx",
	Long: `hoist deploys a git repository to a single Linux host over SSH.

It syncs the repository locally, installs Docker, Docker Compose and Nginx
on the host when missing, copies the working tree, starts the application
with docker-compose or a Dockerfile, points Nginx on port 80 at it and
checks that it answers.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/hoist/config.yaml)")
}

func initConfig() {
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// .env never overrides variables already set in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: .env: %v\n", err)
	}

	viper.SetEnvPrefix("HOIST")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func setDefaults() {
	dir, _ := configDirFunc()

	viper.SetDefault("state_dir", dir)
	viper.SetDefault("db_path", filepath.Join(dir, "hoist.db"))
	viper.SetDefault("log_dir", ".")
	viper.SetDefault("workspace_dir", ".")

	viper.SetDefault("repo", "")
	viper.SetDefault("token", "")
	viper.SetDefault("branch", "")
	viper.SetDefault("git.depth", 1)
	viper.SetDefault("git.username", "x-access-token")

	viper.SetDefault("ssh.user", "")
	viper.SetDefault("ssh.host", "")
	viper.SetDefault("ssh.port", 22)
	viper.SetDefault("ssh.key", "")
	viper.SetDefault("ssh.key_passphrase", "")
	viper.SetDefault("ssh.connect_timeout", "5s")
	viper.SetDefault("ssh.strict_host_key_checking", false)
	viper.SetDefault("ssh.known_hosts", "")

	viper.SetDefault("app.port", "")
	viper.SetDefault("app.name", "")
	viper.SetDefault("app.remote_dir", "~/app")

	viper.SetDefault("bootstrap.package_manager", "auto")
	viper.SetDefault("bootstrap.skip", false)
	viper.SetDefault("docker.sudo", true)
	viper.SetDefault("docker.compose_command", deploy.ComposeAuto)
	viper.SetDefault("transfer.ignore", []string{".git"})
	viper.SetDefault("nginx.site_path", "")
	viper.SetDefault("nginx.server_name", "_")
	viper.SetDefault("validate.accept_codes", []int{200})
	viper.SetDefault("validate.attempts", 1)
	viper.SetDefault("validate.interval", "3s")
	viper.SetDefault("remote.command_timeout", "15m")

	viper.SetDefault("history.enabled", true)
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// The store is opened lazily so config/version run without a db.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	s, err := store.NewSQLiteStore(viper.GetString("db_path"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}
