package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "hoist"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage hoist configuration.

Values are resolved from flags, HOIST_* environment variables (a .env file
in the working directory is loaded first), the config file and defaults.
Running bare 'hoist config' is the same as 'hoist config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
// Secrets are deliberately left out; use HOIST_TOKEN and friends or .env.
const configTemplate = `# hoist configuration
# See: hoist config show (for effective values and sources)

# State directory for locks and run history (default: ~/.config/hoist)
# state_dir: {{ .StateDir }}

# SQLite run history (default: ~/.config/hoist/hoist.db)
# db_path: {{ .DBPath }}

# Where hoist_YYYYMMDD_HHMMSS.log files are written
log_dir: "{{ .LogDir }}"

# Where repositories are cloned
workspace_dir: "{{ .WorkspaceDir }}"

# Repository to deploy; prompted for when empty
repo: "{{ .Repo }}"
branch: "{{ .Branch }}"

git:
  # Shallow clone depth, 0 for full history
  depth: {{ .GitDepth }}
  # Username sent with the access token (HOIST_TOKEN)
  username: "{{ .GitUsername }}"

ssh:
  user: "{{ .SSHUser }}"
  host: "{{ .SSHHost }}"
  port: {{ .SSHPort }}
  key: "{{ .SSHKey }}"
  connect_timeout: "{{ .SSHConnectTimeout }}"
  # Verify host keys against known_hosts (default: false)
  strict_host_key_checking: {{ .SSHStrict }}
  # known_hosts: ~/.ssh/known_hosts

app:
  # Port the application listens on inside the host
  port: "{{ .AppPort }}"
  # Container and image name for Dockerfile deployments (default: repo name)
  name: "{{ .AppName }}"
  remote_dir: "{{ .RemoteDir }}"

bootstrap:
  # auto, apt, dnf or yum
  package_manager: "{{ .PackageManager }}"
  skip: {{ .BootstrapSkip }}

docker:
  sudo: {{ .DockerSudo }}
  # auto uses docker-compose when installed, else the docker compose plugin
  compose_command: "{{ .ComposeCommand }}"

transfer:
  # gitignore-style patterns never copied to the host; .hoistignore adds more
  ignore:
{{- range .TransferIgnore }}
    - "{{ . }}"
{{- end }}

nginx:
  # Empty uses sites-available/default on apt hosts and conf.d/default.conf
  # on dnf/yum hosts
  site_path: "{{ .NginxSitePath }}"
  server_name: "{{ .NginxServerName }}"

validate:
  accept_codes: [{{ join .AcceptCodes }}]
  attempts: {{ .ValidateAttempts }}
  interval: "{{ .ValidateInterval }}"

remote:
  command_timeout: "{{ .CommandTimeout }}"

history:
  enabled: {{ .HistoryEnabled }}

anthropic:
  # api_key is read from HOIST_ANTHROPIC_API_KEY
  model: "{{ .AnthropicModel }}"
`

type configTemplateData struct {
	StateDir          string
	DBPath            string
	LogDir            string
	WorkspaceDir      string
	Repo              string
	Branch            string
	GitDepth          int
	GitUsername       string
	SSHUser           string
	SSHHost           string
	SSHPort           int
	SSHKey            string
	SSHConnectTimeout string
	SSHStrict         bool
	AppPort           string
	AppName           string
	RemoteDir         string
	PackageManager    string
	BootstrapSkip     bool
	DockerSudo        bool
	ComposeCommand    string
	TransferIgnore    []string
	NginxSitePath     string
	NginxServerName   string
	AcceptCodes       []int
	ValidateAttempts  int
	ValidateInterval  string
	CommandTimeout    string
	HistoryEnabled    bool
	AnthropicModel    string
}

var templateFuncs = template.FuncMap{
	"join": func(codes []int) string {
		parts := make([]string, len(codes))
		for i, c := range codes {
			parts[i] = fmt.Sprint(c)
		}
		return strings.Join(parts, ", ")
	},
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func currentTemplateData() configTemplateData {
	return configTemplateData{
		StateDir:          viper.GetString("state_dir"),
		DBPath:            viper.GetString("db_path"),
		LogDir:            viper.GetString("log_dir"),
		WorkspaceDir:      viper.GetString("workspace_dir"),
		Repo:              viper.GetString("repo"),
		Branch:            viper.GetString("branch"),
		GitDepth:          viper.GetInt("git.depth"),
		GitUsername:       viper.GetString("git.username"),
		SSHUser:           viper.GetString("ssh.user"),
		SSHHost:           viper.GetString("ssh.host"),
		SSHPort:           viper.GetInt("ssh.port"),
		SSHKey:            viper.GetString("ssh.key"),
		SSHConnectTimeout: viper.GetString("ssh.connect_timeout"),
		SSHStrict:         viper.GetBool("ssh.strict_host_key_checking"),
		AppPort:           viper.GetString("app.port"),
		AppName:           viper.GetString("app.name"),
		RemoteDir:         viper.GetString("app.remote_dir"),
		PackageManager:    viper.GetString("bootstrap.package_manager"),
		BootstrapSkip:     viper.GetBool("bootstrap.skip"),
		DockerSudo:        viper.GetBool("docker.sudo"),
		ComposeCommand:    viper.GetString("docker.compose_command"),
		TransferIgnore:    viper.GetStringSlice("transfer.ignore"),
		NginxSitePath:     viper.GetString("nginx.site_path"),
		NginxServerName:   viper.GetString("nginx.server_name"),
		AcceptCodes:       viper.GetIntSlice("validate.accept_codes"),
		ValidateAttempts:  viper.GetInt("validate.attempts"),
		ValidateInterval:  viper.GetString("validate.interval"),
		CommandTimeout:    viper.GetString("remote.command_timeout"),
		HistoryEnabled:    viper.GetBool("history.enabled"),
		AnthropicModel:    viper.GetString("anthropic.model"),
	}
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	tmpl, err := template.New("config").Funcs(templateFuncs).Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, currentTemplateData()); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
	Secret bool
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "HOIST_STATE_DIR"},
	{Key: "db_path", EnvVar: "HOIST_DB_PATH"},
	{Key: "log_dir", EnvVar: "HOIST_LOG_DIR"},
	{Key: "workspace_dir", EnvVar: "HOIST_WORKSPACE_DIR"},
	{Key: "repo", EnvVar: "HOIST_REPO"},
	{Key: "token", EnvVar: "HOIST_TOKEN", Secret: true},
	{Key: "branch", EnvVar: "HOIST_BRANCH"},
	{Key: "git.depth", EnvVar: "HOIST_GIT_DEPTH"},
	{Key: "git.username", EnvVar: "HOIST_GIT_USERNAME"},
	{Key: "ssh.user", EnvVar: "HOIST_SSH_USER"},
	{Key: "ssh.host", EnvVar: "HOIST_SSH_HOST"},
	{Key: "ssh.port", EnvVar: "HOIST_SSH_PORT"},
	{Key: "ssh.key", EnvVar: "HOIST_SSH_KEY"},
	{Key: "ssh.key_passphrase", EnvVar: "HOIST_SSH_KEY_PASSPHRASE", Secret: true},
	{Key: "ssh.connect_timeout", EnvVar: "HOIST_SSH_CONNECT_TIMEOUT"},
	{Key: "ssh.strict_host_key_checking", EnvVar: "HOIST_SSH_STRICT_HOST_KEY_CHECKING"},
	{Key: "ssh.known_hosts", EnvVar: "HOIST_SSH_KNOWN_HOSTS"},
	{Key: "app.port", EnvVar: "HOIST_APP_PORT"},
	{Key: "app.name", EnvVar: "HOIST_APP_NAME"},
	{Key: "app.remote_dir", EnvVar: "HOIST_APP_REMOTE_DIR"},
	{Key: "bootstrap.package_manager", EnvVar: "HOIST_BOOTSTRAP_PACKAGE_MANAGER"},
	{Key: "bootstrap.skip", EnvVar: "HOIST_BOOTSTRAP_SKIP"},
	{Key: "docker.sudo", EnvVar: "HOIST_DOCKER_SUDO"},
	{Key: "docker.compose_command", EnvVar: "HOIST_DOCKER_COMPOSE_COMMAND"},
	{Key: "transfer.ignore", EnvVar: "HOIST_TRANSFER_IGNORE"},
	{Key: "nginx.site_path", EnvVar: "HOIST_NGINX_SITE_PATH"},
	{Key: "nginx.server_name", EnvVar: "HOIST_NGINX_SERVER_NAME"},
	{Key: "validate.accept_codes", EnvVar: "HOIST_VALIDATE_ACCEPT_CODES"},
	{Key: "validate.attempts", EnvVar: "HOIST_VALIDATE_ATTEMPTS"},
	{Key: "validate.interval", EnvVar: "HOIST_VALIDATE_INTERVAL"},
	{Key: "remote.command_timeout", EnvVar: "HOIST_REMOTE_COMMAND_TIMEOUT"},
	{Key: "history.enabled", EnvVar: "HOIST_HISTORY_ENABLED"},
	{Key: "anthropic.api_key", EnvVar: "HOIST_ANTHROPIC_API_KEY", Secret: true},
	{Key: "anthropic.model", EnvVar: "HOIST_ANTHROPIC_MODEL"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if k.Secret {
			val = maskSecret(viper.GetString(k.Key))
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-32s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// maskSecret hides all but the last four characters.
func maskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "****"
	default:
		return "****" + s[len(s)-4:]
	}
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set, e.g. export EDITOR=vim")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'hoist config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
