// Package remote runs commands on and copies files to the target host over
// a single SSH connection.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/joescharf/hoist/internal/transfer"
)

// ErrUnreachable is returned when the connectivity probe fails.
var ErrUnreachable = errors.New("host unreachable")

// Target identifies the host and the credentials used to reach it.
type Target struct {
	Host       string
	Port       int
	User       string
	KeyPath    string
	Passphrase string
}

// Addr returns host:port.
func (t Target) Addr() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

func (t Target) String() string {
	return t.User + "@" + t.Addr()
}

// Runner executes a shell command on the remote host and returns its
// combined output.
type Runner interface {
	Run(ctx context.Context, cmd string) (string, error)
}

// Host is a connected target.
type Host interface {
	Runner
	Sync(ctx context.Context, localDir, remoteDir string, ign *transfer.Ignore) (*transfer.Stats, error)
	Close() error
}

// Dialer connects to a target and proves it answers commands.
type Dialer interface {
	Dial(ctx context.Context, t Target) (Host, error)
}

// CommandError is returned when a remote command exits non-zero.
type CommandError struct {
	Cmd        string
	ExitStatus int
	Output     string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("remote command %q exited with status %d", summarize(e.Cmd), e.ExitStatus)
	if tail := lastLines(e.Output, 3); tail != "" {
		msg += ": " + tail
	}
	return msg
}

// summarize keeps the first line of multi-line commands readable in errors.
func summarize(cmd string) string {
	first, _, more := strings.Cut(cmd, "\n")
	if len(first) > 80 {
		first = first[:77] + "..."
		more = false
	}
	if more {
		first += " ..."
	}
	return first
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, " | "))
}
