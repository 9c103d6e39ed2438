package remote

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "''"},
		{"myapp", "myapp"},
		{"/etc/nginx/sites-available/default", "/etc/nginx/sites-available/default"},
		{"has space", "'has space'"},
		{"it's", `'it'\''s'`},
		{"$(rm -rf /)", "'$(rm -rf /)'"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Quote(tt.in), tt.in)
	}
}

func TestQuotePath(t *testing.T) {
	assert.Equal(t, "~/app", QuotePath("~/app"))
	assert.Equal(t, "~/'my app'", QuotePath("~/my app"))
	assert.Equal(t, "~", QuotePath("~"))
	assert.Equal(t, "/srv/app", QuotePath("/srv/app"))
	assert.Equal(t, "'~user/app'", QuotePath("~user/app"))
}

func TestResolveRemoteDir(t *testing.T) {
	assert.Equal(t, "/home/deploy/app", ResolveRemoteDir("/home/deploy", "~/app"))
	assert.Equal(t, "/home/deploy", ResolveRemoteDir("/home/deploy/", "~"))
	assert.Equal(t, "/srv/app", ResolveRemoteDir("/home/deploy", "/srv/app"))
	assert.Equal(t, "/home/deploy/app", ResolveRemoteDir("/home/deploy", "app"))
}

func TestTarget(t *testing.T) {
	tgt := Target{Host: "203.0.113.10", User: "deploy"}
	assert.Equal(t, "203.0.113.10:22", tgt.Addr())
	assert.Equal(t, "deploy@203.0.113.10:22", tgt.String())

	tgt.Port = 2222
	tgt.Host = "2001:db8::1"
	assert.Equal(t, "[2001:db8::1]:2222", tgt.Addr())
}

func TestCommandError(t *testing.T) {
	err := &CommandError{
		Cmd:        "set -e\nsudo apt-get update -y",
		ExitStatus: 100,
		Output:     "line1\nline2\nline3\nE: Could not get lock\n",
	}
	msg := err.Error()
	assert.Contains(t, msg, `"set -e ..."`)
	assert.Contains(t, msg, "status 100")
	assert.Contains(t, msg, "E: Could not get lock")
	assert.NotContains(t, msg, "line1")
}

func writeKey(t *testing.T, passphrase string) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	var block *pem.Block
	if passphrase == "" {
		block, err = ssh.MarshalPrivateKey(priv, "")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte(passphrase))
	}
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

func TestLoadSigner(t *testing.T) {
	signer, err := LoadSigner(writeKey(t, ""), "")
	require.NoError(t, err)
	assert.Equal(t, ssh.KeyAlgoED25519, signer.PublicKey().Type())
}

func TestLoadSigner_Encrypted(t *testing.T) {
	path := writeKey(t, "s3cret")

	_, err := LoadSigner(path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HOIST_SSH_KEY_PASSPHRASE")

	signer, err := LoadSigner(path, "s3cret")
	require.NoError(t, err)
	assert.NotNil(t, signer)
}

func TestLoadSigner_Garbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(path, []byte("not a key"), 0o600))

	_, err := LoadSigner(path, "")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "parse key"))
}

func TestHostKeyCallback(t *testing.T) {
	cb, err := HostKeyCallback(false, "")
	require.NoError(t, err)
	assert.NotNil(t, cb)

	_, err = HostKeyCallback(true, filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	known := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(known, nil, 0o600))
	cb, err = HostKeyCallback(true, known)
	require.NoError(t, err)
	assert.NotNil(t, cb)
}

func TestSSHDialer_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	d := NewSSHDialer()
	d.ConnectTimeout = time.Second
	_, err = d.Dial(context.Background(), Target{
		Host:    "127.0.0.1",
		Port:    addr.Port,
		User:    "deploy",
		KeyPath: writeKey(t, ""),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestSSHDialer_NotSSH(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_, _ = conn.Write([]byte("HTTP/1.1 400 Bad Request\r\n\r\n"))
		conn.Close()
	}()

	d := NewSSHDialer()
	d.ConnectTimeout = time.Second
	_, err = d.Dial(context.Background(), Target{
		Host:    "127.0.0.1",
		Port:    ln.Addr().(*net.TCPAddr).Port,
		User:    "deploy",
		KeyPath: writeKey(t, ""),
	})
	assert.ErrorIs(t, err, ErrUnreachable)
}
