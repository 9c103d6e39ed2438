// Package deploy builds and runs the remote commands that start the
// application, one strategy per deployment method.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/joescharf/hoist/internal/models"
	"github.com/joescharf/hoist/internal/remote"
)

// ComposeAuto picks docker-compose when the host has it and the docker
// compose plugin otherwise.
const ComposeAuto = "auto"

// ComposeCommands are the compose front-ends ComposeAuto chooses from, in
// order of preference.
var ComposeCommands = []string{"docker-compose", "docker compose"}

const composeVar = "HOIST_COMPOSE"

var (
	ErrInvalidAppName    = errors.New("invalid app name")
	ErrUnsupportedMethod = errors.New("unsupported deployment method")
)

// Docker only accepts lowercase names for images.
var appNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

// Options tune the generated commands.
type Options struct {
	Sudo           bool
	ComposeCommand string
}

// Strategy builds the deployment command for one method.
type Strategy interface {
	Method() models.Method
	Validate(req models.Request) error
	Command(req models.Request) string
}

// StrategyFor returns the strategy for method.
func StrategyFor(method models.Method, opts Options) (Strategy, error) {
	switch method {
	case models.MethodCompose:
		return &composeStrategy{opts: opts}, nil
	case models.MethodDockerfile:
		return &dockerfileStrategy{opts: opts}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
}

type composeStrategy struct{ opts Options }

func (s *composeStrategy) Method() models.Method { return models.MethodCompose }

func (s *composeStrategy) Validate(req models.Request) error {
	if req.RemoteDir == "" {
		return errors.New("remote dir is empty")
	}
	return nil
}

func (s *composeStrategy) Command(req models.Request) string {
	dir := remote.QuotePath(req.RemoteDir)
	c := s.opts.ComposeCommand
	if c == "" || c == ComposeAuto {
		// Unquoted so "docker compose" splits into two words.
		c = prefix(s.opts.Sudo) + "$" + composeVar
		return fmt.Sprintf("cd %s && %s && %s down && %s up -d", dir, composeSelect(), c, c)
	}
	c = prefix(s.opts.Sudo) + c
	return fmt.Sprintf("cd %s && %s down && %s up -d", dir, c, c)
}

// composeSelect sets composeVar to the first available ComposeCommands entry.
func composeSelect() string {
	var b strings.Builder
	last := len(ComposeCommands) - 1
	for i, c := range ComposeCommands[:last] {
		if i == 0 {
			b.WriteString("if ")
		} else {
			b.WriteString("elif ")
		}
		fmt.Fprintf(&b, "%s; then %s=%s; ", ComposeAvailable(c), composeVar, remote.Quote(c))
	}
	fmt.Fprintf(&b, "else %s=%s; fi", composeVar, remote.Quote(ComposeCommands[last]))
	return b.String()
}

// ComposeAvailable returns a shell test that succeeds when the compose
// front-end c can run on the host.
func ComposeAvailable(c string) string {
	if strings.Contains(c, " ") {
		return c + " version >/dev/null 2>&1"
	}
	return "command -v " + c + " >/dev/null 2>&1"
}

// ComposeCheck returns the shell test for the front-end the compose strategy
// uses with command, which may be empty or ComposeAuto.
func ComposeCheck(command string) string {
	if command != "" && command != ComposeAuto {
		return ComposeAvailable(command)
	}
	checks := make([]string, len(ComposeCommands))
	for i, c := range ComposeCommands {
		checks[i] = ComposeAvailable(c)
	}
	return strings.Join(checks, " || ")
}

type dockerfileStrategy struct{ opts Options }

func (s *dockerfileStrategy) Method() models.Method { return models.MethodDockerfile }

func (s *dockerfileStrategy) Validate(req models.Request) error {
	if req.RemoteDir == "" {
		return errors.New("remote dir is empty")
	}
	if !appNameRe.MatchString(req.AppName) {
		return fmt.Errorf("%w: %q", ErrInvalidAppName, req.AppName)
	}
	if req.AppPort < 1 || req.AppPort > 65535 {
		return fmt.Errorf("invalid app port %d", req.AppPort)
	}
	return nil
}

func (s *dockerfileStrategy) Command(req models.Request) string {
	d := prefix(s.opts.Sudo) + "docker"
	n := req.AppName
	return fmt.Sprintf(
		"cd %s && %s build -t %s . && (%s stop %s || true) && (%s rm %s || true) && %s run -d --name %s --restart unless-stopped -p %d:%d %s",
		remote.QuotePath(req.RemoteDir), d, n, d, n, d, n, d, n, req.AppPort, req.AppPort, n,
	)
}

func prefix(sudo bool) string {
	if sudo {
		return "sudo "
	}
	return ""
}

// Executor runs the strategy's command on the host.
type Executor struct {
	Options Options
}

// Plan returns the command that Deploy would run.
func (e *Executor) Plan(method models.Method, req models.Request) (string, error) {
	s, err := StrategyFor(method, e.Options)
	if err != nil {
		return "", err
	}
	if err := s.Validate(req); err != nil {
		return "", fmt.Errorf("validate %s deployment: %w", method, err)
	}
	return s.Command(req), nil
}

// Deploy starts the application. Any non-zero exit is returned as a
// *remote.CommandError.
func (e *Executor) Deploy(ctx context.Context, r remote.Runner, method models.Method, req models.Request) (string, error) {
	cmd, err := e.Plan(method, req)
	if err != nil {
		return "", err
	}
	out, err := r.Run(ctx, cmd)
	if err != nil {
		return out, fmt.Errorf("deploy with %s: %w", method, err)
	}
	return out, nil
}
