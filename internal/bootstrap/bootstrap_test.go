package bootstrap

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/hoist/internal/deploy"
	"github.com/joescharf/hoist/internal/remote"
)

// mockRunner answers commands by prefix and records what ran.
type mockRunner struct {
	responses map[string]string
	failOn    string
	ran       []string
}

func (m *mockRunner) Run(_ context.Context, cmd string) (string, error) {
	m.ran = append(m.ran, cmd)
	if m.failOn != "" && strings.Contains(cmd, m.failOn) {
		return "E: boom", &remote.CommandError{Cmd: cmd, ExitStatus: 100, Output: "E: boom"}
	}
	for prefix, out := range m.responses {
		if strings.HasPrefix(cmd, prefix) {
			return out, nil
		}
	}
	return "", nil
}

func TestParsePackageManager(t *testing.T) {
	for in, want := range map[string]PackageManager{"": Auto, "auto": Auto, "APT": Apt, "dnf": Dnf, " yum ": Yum} {
		pm, err := ParsePackageManager(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, pm, in)
	}

	_, err := ParsePackageManager("pacman")
	assert.ErrorIs(t, err, ErrUnsupportedPackageManager)
}

func TestScript_Apt(t *testing.T) {
	s, err := Script(Apt, "deploy", "")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(s), "\n")
	assert.Equal(t, "set -e", lines[0])
	assert.Equal(t, "sudo apt-get update -y", lines[1])
	assert.Contains(t, s, "command -v docker >/dev/null 2>&1 || sudo DEBIAN_FRONTEND=noninteractive apt-get install -y docker.io")
	assert.Contains(t, s, "docker compose version >/dev/null 2>&1 || sudo DEBIAN_FRONTEND=noninteractive apt-get install -y docker-compose")
	assert.Contains(t, s, "command -v nginx >/dev/null 2>&1 ||")
	assert.Contains(t, s, "id -nG deploy | grep -qw docker || sudo usermod -aG docker deploy")
	assert.Contains(t, s, "sudo systemctl enable --now docker")
	assert.Contains(t, s, "sudo systemctl enable --now nginx")
}

func TestScript_ComposeCheckMatchesDeployCommand(t *testing.T) {
	for _, compose := range []string{"", deploy.ComposeAuto, "docker-compose", "docker compose"} {
		s, err := Script(Apt, "deploy", compose)
		require.NoError(t, err)
		assert.Contains(t, s, deploy.ComposeCheck(compose)+" || sudo DEBIAN_FRONTEND=noninteractive apt-get install -y docker-compose", compose)
	}

	// Auto accepts every front-end the compose strategy can pick.
	s, err := Script(Apt, "deploy", deploy.ComposeAuto)
	require.NoError(t, err)
	for _, c := range deploy.ComposeCommands {
		assert.Contains(t, s, deploy.ComposeAvailable(c))
	}

	// An explicit docker-compose must not be satisfied by the plugin.
	s, err = Script(Apt, "deploy", "docker-compose")
	require.NoError(t, err)
	assert.NotContains(t, s, "docker compose version")
}

func TestScript_Dnf(t *testing.T) {
	s, err := Script(Dnf, "deploy", "")
	require.NoError(t, err)
	assert.Contains(t, s, "sudo dnf install -y moby-engine")
	assert.NotContains(t, s, "apt-get")
}

func TestScript_QuotesUser(t *testing.T) {
	s, err := Script(Apt, "bad user", "")
	require.NoError(t, err)
	assert.Contains(t, s, "usermod -aG docker 'bad user'")
}

func TestScript_Unknown(t *testing.T) {
	_, err := Script(Auto, "deploy", "")
	assert.ErrorIs(t, err, ErrUnsupportedPackageManager)
}

func TestBootstrap_DetectsManager(t *testing.T) {
	r := &mockRunner{responses: map[string]string{"if command -v apt-get": "dnf\n"}}
	b := &Bootstrapper{PackageManager: Auto}

	pm, err := b.Bootstrap(context.Background(), r, "deploy")
	require.NoError(t, err)
	assert.Equal(t, Dnf, pm)
	require.Len(t, r.ran, 2)
	assert.Contains(t, r.ran[1], "moby-engine")
}

func TestBootstrap_NoManager(t *testing.T) {
	r := &mockRunner{}
	b := &Bootstrapper{}

	_, err := b.Bootstrap(context.Background(), r, "deploy")
	assert.ErrorIs(t, err, ErrUnsupportedPackageManager)
	assert.Len(t, r.ran, 1)
}

func TestBootstrap_ScriptFailure(t *testing.T) {
	r := &mockRunner{failOn: "set -e"}
	b := &Bootstrapper{PackageManager: Apt}

	_, err := b.Bootstrap(context.Background(), r, "deploy")
	require.Error(t, err)
	var cmdErr *remote.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 100, cmdErr.ExitStatus)
	assert.Len(t, r.ran, 1)
}
