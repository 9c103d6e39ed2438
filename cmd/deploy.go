package cmd

import (
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/hoist/internal/bootstrap"
	"github.com/joescharf/hoist/internal/deploy"
	"github.com/joescharf/hoist/internal/git"
	"github.com/joescharf/hoist/internal/input"
	"github.com/joescharf/hoist/internal/lock"
	"github.com/joescharf/hoist/internal/models"
	"github.com/joescharf/hoist/internal/pipeline"
	"github.com/joescharf/hoist/internal/proxy"
	"github.com/joescharf/hoist/internal/remote"
	"github.com/joescharf/hoist/internal/runlog"
	"github.com/joescharf/hoist/internal/validate"
)

var deployYes bool

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a repository to a remote host",
	Long: `Deploy a git repository to a remote host.

Values not given by flags, the config file, HOIST_* environment variables
or a .env file are prompted for in this order: repository URL, access
token, branch, SSH user, server address, SSH key path, application port.
With --yes (or without a terminal) missing values are an error.

Stages: repository sync, method detection, connectivity probe, host
bootstrap, artifact transfer, application deployment, reverse proxy
configuration, validation. The first failing stage ends the run.`,
	Example: `  hoist deploy
  hoist deploy --repo https://github.com/acme/shop.git --host 203.0.113.10 --user deploy --key ~/.ssh/id_ed25519
  HOIST_TOKEN=ghp_xxx hoist deploy --yes --app-port 8080 --dry-run`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return deployRun(cmd)
	},
}

func init() {
	f := deployCmd.Flags()
	f.String("repo", "", "Git repository URL")
	f.StringP("branch", "b", "", "Branch to deploy (default main)")
	f.StringP("user", "u", "", "SSH user")
	f.StringP("host", "H", "", "Server address")
	f.IntP("port", "p", 22, "SSH port")
	f.StringP("key", "i", "", "SSH private key path")
	f.String("app-port", "", "Port the application listens on (default 3000)")
	f.String("app-name", "", "Container and image name (default derived from the repository)")
	f.String("remote-dir", "~/app", "Directory on the host that receives the working tree")
	f.String("workspace", ".", "Local directory the repository is cloned into")
	f.Bool("skip-bootstrap", false, "Do not install or start packages on the host")
	f.BoolVarP(&deployYes, "yes", "y", false, "Never prompt; fail on missing values")

	for key, flag := range map[string]string{
		"repo":           "repo",
		"branch":         "branch",
		"ssh.user":       "user",
		"ssh.host":       "host",
		"ssh.port":       "port",
		"ssh.key":        "key",
		"app.port":       "app-port",
		"app.name":       "app-name",
		"app.remote_dir": "remote-dir",
		"workspace_dir":  "workspace",
		"bootstrap.skip": "skip-bootstrap",
	} {
		_ = viper.BindPFlag(key, f.Lookup(flag))
	}

	rootCmd.AddCommand(deployCmd)
}

// valuesFromConfig gathers what flags, config, env and .env already supply.
func valuesFromConfig() input.Values {
	return input.Values{
		RepoURL:       viper.GetString("repo"),
		Token:         viper.GetString("token"),
		Branch:        viper.GetString("branch"),
		SSHUser:       viper.GetString("ssh.user"),
		Host:          viper.GetString("ssh.host"),
		KeyPath:       viper.GetString("ssh.key"),
		AppPort:       viper.GetString("app.port"),
		SSHPort:       viper.GetInt("ssh.port"),
		KeyPassphrase: viper.GetString("ssh.key_passphrase"),
		AppName:       viper.GetString("app.name"),
		RemoteDir:     viper.GetString("app.remote_dir"),
	}
}

func deployRun(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals()...)
	defer stop()

	log, err := runlog.New(ui, viper.GetString("log_dir"), time.Now())
	if err != nil {
		return err
	}
	defer log.Close()
	log.Info("Log file: %s", log.Path)

	collector := &input.Collector{Log: log}
	if !deployYes && input.IsInteractive() {
		collector.Prompter = input.NewTermPrompter()
	}
	req, err := collector.Collect(valuesFromConfig())
	if err != nil {
		log.Error("%v", err)
		return err
	}

	lk, err := lock.Acquire(filepath.Join(viper.GetString("state_dir"), "locks"), req.Addr())
	if err != nil {
		log.Error("%v", err)
		return err
	}
	defer func() { _ = lk.Release() }()

	p, err := newPipeline(req, log)
	if err != nil {
		log.Error("%v", err)
		return err
	}

	run, err := p.Run(ctx, req)
	if err != nil {
		if run.ID != "" && run.Status == models.RunStatusFailed {
			log.Info("Run %s recorded; 'hoist diagnose %s' suggests a fix", run.ID, shortID(run.ID))
		}
		return err
	}

	if dryRun {
		log.Success("Dry run complete; nothing was changed on %s", req.Host)
		return nil
	}
	log.Success("Deployment complete: http://%s/", req.Host)
	return nil
}

// newPipeline wires the stage implementations from configuration.
func newPipeline(req models.Request, log *runlog.Logger) (*pipeline.Pipeline, error) {
	pm, err := bootstrap.ParsePackageManager(viper.GetString("bootstrap.package_manager"))
	if err != nil {
		return nil, err
	}

	dialer := remote.NewSSHDialer()
	dialer.ConnectTimeout = viper.GetDuration("ssh.connect_timeout")
	dialer.CommandTimeout = viper.GetDuration("remote.command_timeout")
	dialer.StrictHostKeys = viper.GetBool("ssh.strict_host_key_checking")
	dialer.KnownHosts = viper.GetString("ssh.known_hosts")

	gc := git.NewClient(git.TokenCredentials{
		Username: viper.GetString("git.username"),
		Token:    req.Token,
	})
	if verbose {
		gc.Progress = log.UI().Out
	}

	compose := viper.GetString("docker.compose_command")

	p := &pipeline.Pipeline{
		Git:           gc,
		Workspace:     viper.GetString("workspace_dir"),
		Depth:         viper.GetInt("git.depth"),
		Dialer:        dialer,
		Bootstrap:     &bootstrap.Bootstrapper{PackageManager: pm, ComposeCommand: compose},
		SkipBootstrap: viper.GetBool("bootstrap.skip"),
		Ignore:        viper.GetStringSlice("transfer.ignore"),
		Deploy: &deploy.Executor{Options: deploy.Options{
			Sudo:           viper.GetBool("docker.sudo"),
			ComposeCommand: compose,
		}},
		Proxy: &proxy.Configurator{
			SitePath:   viper.GetString("nginx.site_path"),
			ServerName: viper.GetString("nginx.server_name"),
		},
		Validate: &validate.Validator{
			AcceptCodes: viper.GetIntSlice("validate.accept_codes"),
			Attempts:    viper.GetInt("validate.attempts"),
			Interval:    viper.GetDuration("validate.interval"),
		},
		Log:    log,
		DryRun: dryRun,
	}

	if viper.GetBool("history.enabled") && !dryRun {
		s, err := getStore()
		if err != nil {
			log.Warning("Run history disabled: %v", err)
		} else {
			p.Store = s
		}
	}
	return p, nil
}

func shortID(id string) string {
	if len(id) > 10 {
		return id[:10]
	}
	return id
}
