// Package bootstrap provisions the target host with Docker, Docker Compose
// and Nginx. The generated script is idempotent.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/joescharf/hoist/internal/deploy"
	"github.com/joescharf/hoist/internal/remote"
)

// ErrUnsupportedPackageManager is returned for unknown or undetectable
// package managers.
var ErrUnsupportedPackageManager = errors.New("unsupported package manager")

// PackageManager names the host's package tool.
type PackageManager string

const (
	Auto PackageManager = "auto"
	Apt  PackageManager = "apt"
	Dnf  PackageManager = "dnf"
	Yum  PackageManager = "yum"
)

type packages struct {
	update  string
	install string
	docker  string
	compose string
}

var managers = map[PackageManager]packages{
	Apt: {
		update:  "sudo apt-get update -y",
		install: "sudo DEBIAN_FRONTEND=noninteractive apt-get install -y",
		docker:  "docker.io",
		compose: "docker-compose",
	},
	Dnf: {
		update:  "sudo dnf makecache -y",
		install: "sudo dnf install -y",
		docker:  "moby-engine",
		compose: "docker-compose",
	},
	Yum: {
		update:  "sudo yum makecache -y",
		install: "sudo yum install -y",
		docker:  "docker",
		compose: "docker-compose",
	},
}

// ParsePackageManager validates a configured value. Empty means auto.
func ParsePackageManager(s string) (PackageManager, error) {
	pm := PackageManager(strings.ToLower(strings.TrimSpace(s)))
	if pm == "" || pm == Auto {
		return Auto, nil
	}
	if _, ok := managers[pm]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedPackageManager, s)
	}
	return pm, nil
}

const detectCmd = `if command -v apt-get >/dev/null 2>&1; then echo apt; ` +
	`elif command -v dnf >/dev/null 2>&1; then echo dnf; ` +
	`elif command -v yum >/dev/null 2>&1; then echo yum; fi`

// Detect asks the host which package manager it has.
func Detect(ctx context.Context, r remote.Runner) (PackageManager, error) {
	out, err := r.Run(ctx, detectCmd)
	if err != nil {
		return "", fmt.Errorf("detect package manager: %w", err)
	}
	pm := PackageManager(strings.TrimSpace(out))
	if _, ok := managers[pm]; !ok {
		return "", fmt.Errorf("%w: none of apt-get, dnf or yum found", ErrUnsupportedPackageManager)
	}
	return pm, nil
}

// Script renders the provisioning script for pm. user is added to the
// docker group. compose is the deploy compose command; the package is only
// installed when that command cannot run.
func Script(pm PackageManager, user, compose string) (string, error) {
	p, ok := managers[pm]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedPackageManager, pm)
	}
	u := remote.Quote(user)

	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format+"\n", args...)
	}
	line("set -e")
	line("%s", p.update)
	line("command -v docker >/dev/null 2>&1 || %s %s", p.install, p.docker)
	line("%s || %s %s", deploy.ComposeCheck(compose), p.install, p.compose)
	line("command -v nginx >/dev/null 2>&1 || %s nginx", p.install)
	line("command -v curl >/dev/null 2>&1 || %s curl", p.install)
	line("id -nG %s | grep -qw docker || sudo usermod -aG docker %s", u, u)
	line("sudo systemctl enable --now docker")
	line("sudo systemctl enable --now nginx")
	return b.String(), nil
}

// Bootstrapper runs the provisioning script on a host.
type Bootstrapper struct {
	PackageManager PackageManager
	// ComposeCommand must match deploy.Options.ComposeCommand.
	ComposeCommand string
}

// Bootstrap provisions the host and returns the package manager used.
func (b *Bootstrapper) Bootstrap(ctx context.Context, r remote.Runner, user string) (PackageManager, error) {
	pm := b.PackageManager
	if pm == "" || pm == Auto {
		var err error
		if pm, err = Detect(ctx, r); err != nil {
			return "", err
		}
	}

	script, err := Script(pm, user, b.ComposeCommand)
	if err != nil {
		return "", err
	}
	if _, err := r.Run(ctx, script); err != nil {
		return pm, fmt.Errorf("bootstrap host (%s): %w", pm, err)
	}
	return pm, nil
}
