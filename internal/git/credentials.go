package git

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

type authMethod = transport.AuthMethod

// DefaultTokenUsername is sent as the basic-auth user alongside a token.
// GitHub and GitLab accept any non-empty user name for personal tokens.
const DefaultTokenUsername = "x-access-token"

// CredentialProvider supplies the auth method for a repository URL. The token
// travels in the request header and never becomes part of the URL.
type CredentialProvider interface {
	Auth(repoURL string) (transport.AuthMethod, error)
}

// TokenCredentials authenticates HTTP(S) remotes with a static token.
type TokenCredentials struct {
	Username string
	Token    string
}

func (c TokenCredentials) Auth(repoURL string) (transport.AuthMethod, error) {
	return basicAuth(repoURL, c.Username, c.Token)
}

func basicAuth(repoURL, username, token string) (transport.AuthMethod, error) {
	if token == "" || !isHTTP(repoURL) {
		return nil, nil
	}
	if username == "" {
		username = DefaultTokenUsername
	}
	return &http.BasicAuth{Username: username, Password: token}, nil
}

func isHTTP(repoURL string) bool {
	u, err := url.Parse(repoURL)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

func authFor(p CredentialProvider, repoURL string) (transport.AuthMethod, error) {
	if p == nil {
		return nil, nil
	}
	auth, err := p.Auth(repoURL)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}
	return auth, nil
}
