package models

import (
	"net"
	"strconv"
)

// Default values applied to an empty prompt answer.
const (
	DefaultBranch    = "main"
	DefaultAppPort   = 3000
	DefaultSSHPort   = 22
	DefaultRemoteDir = "~/app"
	DefaultAppName   = "myapp"
)

// Request holds everything one deployment run needs. It is built once by the
// input package and passed by value to every stage.
type Request struct {
	RepoURL string
	Token   string
	Branch  string

	SSHUser       string
	Host          string
	SSHPort       int
	KeyPath       string
	KeyPassphrase string

	AppPort   int
	AppName   string
	RemoteDir string
}

// Addr returns the host:port the SSH client dials.
func (r Request) Addr() string {
	port := r.SSHPort
	if port == 0 {
		port = DefaultSSHPort
	}
	return net.JoinHostPort(r.Host, strconv.Itoa(port))
}

// Method is the strategy used to start the application on the remote host.
type Method string

const (
	MethodCompose    Method = "compose"
	MethodDockerfile Method = "dockerfile"
)

func (m Method) String() string { return string(m) }
