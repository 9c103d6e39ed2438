// Package input collects and validates the values a deployment needs before
// anything touches the network.
package input

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joescharf/hoist/internal/git"
	"github.com/joescharf/hoist/internal/models"
)

var (
	ErrMissingInput  = errors.New("missing required input")
	ErrInvalidPort   = errors.New("invalid port")
	ErrKeyNotFound   = errors.New("ssh key not found")
	ErrKeyUnreadable = errors.New("ssh key not readable")
)

// Values are answers supplied up front by flags, config, env or .env.
// Empty fields are prompted for when a Prompter is available.
type Values struct {
	RepoURL string
	Token   string
	Branch  string
	SSHUser string
	Host    string
	KeyPath string
	AppPort string

	SSHPort       int
	KeyPassphrase string
	AppName       string
	RemoteDir     string
}

// Logger receives the echo of collected values.
type Logger interface {
	Info(format string, a ...any)
}

// Collector gathers a Request. A nil Prompter means non-interactive.
type Collector struct {
	Prompter Prompter
	Log      Logger
}

type field struct {
	label    string
	value    *string
	def      string
	secret   bool
	required bool
}

// Collect prompts for missing values in fixed order and validates each answer
// as soon as it is given.
func (c *Collector) Collect(v Values) (models.Request, error) {
	fields := []field{
		{label: "Repository URL", value: &v.RepoURL, required: true},
		{label: "Access token", value: &v.Token, secret: true, required: true},
		{label: "Branch", value: &v.Branch, def: models.DefaultBranch},
		{label: "SSH username", value: &v.SSHUser, required: true},
		{label: "Server address", value: &v.Host, required: true},
		{label: "SSH key path", value: &v.KeyPath, required: true},
		{label: "Application port", value: &v.AppPort, def: strconv.Itoa(models.DefaultAppPort)},
	}

	for _, f := range fields {
		if strings.TrimSpace(*f.value) == "" && c.Prompter != nil {
			var answer string
			var err error
			if f.secret {
				answer, err = c.Prompter.AskSecret(f.label)
			} else {
				answer, err = c.Prompter.Ask(f.label, f.def)
			}
			if err != nil {
				return models.Request{}, err
			}
			*f.value = answer
		}
		*f.value = strings.TrimSpace(*f.value)
		if *f.value == "" {
			if f.required {
				return models.Request{}, fmt.Errorf("%w: %s", ErrMissingInput, strings.ToLower(f.label))
			}
			*f.value = f.def
		}
	}

	req, err := Build(v)
	if err != nil {
		return models.Request{}, err
	}
	c.echo(req)
	return req, nil
}

// Build validates v and applies defaults without prompting.
func Build(v Values) (models.Request, error) {
	req := models.Request{
		RepoURL:       strings.TrimSpace(v.RepoURL),
		Token:         strings.TrimSpace(v.Token),
		Branch:        strings.TrimSpace(v.Branch),
		SSHUser:       strings.TrimSpace(v.SSHUser),
		Host:          strings.TrimSpace(v.Host),
		SSHPort:       v.SSHPort,
		KeyPassphrase: v.KeyPassphrase,
		AppName:       strings.TrimSpace(v.AppName),
		RemoteDir:     strings.TrimSpace(v.RemoteDir),
	}

	required := []struct {
		name  string
		value string
	}{
		{"repository url", req.RepoURL},
		{"access token", req.Token},
		{"ssh username", req.SSHUser},
		{"server address", req.Host},
		{"ssh key path", v.KeyPath},
	}
	for _, r := range required {
		if r.value == "" {
			return models.Request{}, fmt.Errorf("%w: %s", ErrMissingInput, r.name)
		}
	}

	if req.Branch == "" {
		req.Branch = models.DefaultBranch
	}
	port, err := ParsePort(v.AppPort)
	if err != nil {
		return models.Request{}, err
	}
	req.AppPort = port

	if req.SSHPort == 0 {
		req.SSHPort = models.DefaultSSHPort
	}
	if req.SSHPort < 1 || req.SSHPort > 65535 {
		return models.Request{}, fmt.Errorf("%w: ssh port %d", ErrInvalidPort, req.SSHPort)
	}
	if req.RemoteDir == "" {
		req.RemoteDir = models.DefaultRemoteDir
	}
	if req.AppName == "" {
		req.AppName = DefaultAppName(req.RepoURL)
	}

	keyPath, err := ResolveKeyPath(v.KeyPath)
	if err != nil {
		return models.Request{}, err
	}
	req.KeyPath = keyPath

	return req, nil
}

// ParsePort returns the application port, defaulting an empty value to 3000.
func ParsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return models.DefaultAppPort, nil
	}
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPort, s)
	}
	return port, nil
}

// ResolveKeyPath expands ~, makes the path absolute and checks that it is a
// readable regular file.
func ResolveKeyPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", fmt.Errorf("%w: ssh key path", ErrMissingInput)
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve key path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrKeyNotFound, abs)
		}
		return "", fmt.Errorf("%w: %s: %v", ErrKeyUnreadable, abs, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a regular file", ErrKeyUnreadable, abs)
	}

	f, err := os.Open(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrKeyUnreadable, abs)
	}
	_ = f.Close()
	return abs, nil
}

var invalidNameChars = regexp.MustCompile(`[^a-z0-9_.-]+`)

// DefaultAppName derives a container/image name from the repository URL.
func DefaultAppName(repoURL string) string {
	name := strings.ToLower(git.RepoName(repoURL))
	name = invalidNameChars.ReplaceAllString(name, "-")
	name = strings.TrimLeft(name, "_.-")
	if name == "" {
		return models.DefaultAppName
	}
	return name
}

func (c *Collector) echo(req models.Request) {
	if c.Log == nil {
		return
	}
	c.Log.Info("Repository: %s", git.RedactURL(req.RepoURL))
	c.Log.Info("Branch: %s", req.Branch)
	c.Log.Info("SSH target: %s@%s", req.SSHUser, req.Addr())
	c.Log.Info("SSH key: %s", req.KeyPath)
	c.Log.Info("Application port: %d", req.AppPort)
	c.Log.Info("Application name: %s", req.AppName)
	c.Log.Info("Remote directory: %s", req.RemoteDir)
}
