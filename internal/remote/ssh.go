package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/joescharf/hoist/internal/transfer"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultCommandTimeout = 15 * time.Minute
)

// SSHDialer connects with x/crypto/ssh using public key authentication.
type SSHDialer struct {
	ConnectTimeout time.Duration
	// CommandTimeout bounds every remote command. Zero means no limit.
	CommandTimeout time.Duration
	StrictHostKeys bool
	KnownHosts     string
}

// NewSSHDialer returns a dialer with the default timeouts and no host key
// verification.
func NewSSHDialer() *SSHDialer {
	return &SSHDialer{
		ConnectTimeout: DefaultConnectTimeout,
		CommandTimeout: DefaultCommandTimeout,
	}
}

// Dial opens the connection and runs a no-op command on it. Any failure
// of either step is reported as ErrUnreachable.
func (d *SSHDialer) Dial(ctx context.Context, t Target) (Host, error) {
	signer, err := LoadSigner(t.KeyPath, t.Passphrase)
	if err != nil {
		return nil, err
	}
	hostKeys, err := HostKeyCallback(d.StrictHostKeys, d.KnownHosts)
	if err != nil {
		return nil, err
	}

	timeout := d.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	cfg := &ssh.ClientConfig{
		User:            t.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeys,
		Timeout:         timeout,
	}

	addr := t.Addr()
	nd := net.Dialer{Timeout: timeout}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreachable, addr, err)
	}
	_ = conn.SetDeadline(time.Now().Add(timeout))
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreachable, t, err)
	}
	_ = conn.SetDeadline(time.Time{})

	h := &sshHost{client: ssh.NewClient(c, chans, reqs), timeout: d.CommandTimeout}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := h.Run(probeCtx, "true"); err != nil {
		h.Close()
		return nil, fmt.Errorf("%w: %s: probe: %w", ErrUnreachable, t, err)
	}
	return h, nil
}

type sshHost struct {
	client  *ssh.Client
	timeout time.Duration
}

// Run executes cmd in its own session. Cancelling ctx kills the session.
func (h *sshHost) Run(ctx context.Context, cmd string) (string, error) {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	sess, err := h.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	var out lockedBuffer
	sess.Stdout = &out
	sess.Stderr = &out
	if err := sess.Start(cmd); err != nil {
		return "", fmt.Errorf("start %q: %w", summarize(cmd), err)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	select {
	case err := <-done:
		output := out.String()
		if err == nil {
			return output, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return output, &CommandError{Cmd: cmd, ExitStatus: exitErr.ExitStatus(), Output: output}
		}
		return output, fmt.Errorf("run %q: %w", summarize(cmd), err)
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		_ = sess.Close()
		return out.String(), fmt.Errorf("run %q: %w", summarize(cmd), ctx.Err())
	}
}

// Sync copies localDir into remoteDir over SFTP on the same connection.
func (h *sshHost) Sync(ctx context.Context, localDir, remoteDir string, ign *transfer.Ignore) (*transfer.Stats, error) {
	c, err := sftp.NewClient(h.client)
	if err != nil {
		return nil, fmt.Errorf("%w: start sftp: %w", transfer.ErrTransferFailed, err)
	}
	defer c.Close()

	home, err := c.Getwd()
	if err != nil {
		return nil, fmt.Errorf("%w: resolve home: %w", transfer.ErrTransferFailed, err)
	}
	return transfer.Sync(ctx, &sftpFS{c: c}, localDir, ResolveRemoteDir(home, remoteDir), ign)
}

func (h *sshHost) Close() error {
	return h.client.Close()
}

// lockedBuffer lets stdout and stderr share one buffer; the session copies
// them from separate goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
