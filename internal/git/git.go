package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
)

const remoteName = "origin"

var (
	ErrBranchNotFound = errors.New("branch not found")
	ErrPullFailed     = errors.New("pull failed")
	ErrCloneFailed    = errors.New("clone failed")
)

// SyncRequest describes which branch of which repository to materialize in Dir.
type SyncRequest struct {
	RepoURL string
	Branch  string
	Dir     string
	// Depth limits the history of a fresh clone; 0 fetches everything.
	// Pulls into an existing clone always fetch the full gap to the tip.
	Depth int
}

// SyncResult reports what Sync did to the local working tree.
type SyncResult struct {
	Dir     string
	Cloned  bool
	OldHash plumbing.Hash
	NewHash plumbing.Hash
}

// Changed reports whether the working tree moved to a different commit.
func (r *SyncResult) Changed() bool {
	return r.Cloned || r.OldHash != r.NewHash
}

// Client produces a local working tree for a branch.
type Client interface {
	Sync(ctx context.Context, req SyncRequest) (*SyncResult, error)
}

// RealClient implements Client with go-git.
type RealClient struct {
	Credentials CredentialProvider
	Progress    io.Writer
}

// NewClient returns a go-git backed client. creds may be nil for public repos.
func NewClient(creds CredentialProvider) *RealClient {
	return &RealClient{Credentials: creds}
}

// Sync clones the branch when Dir is absent, otherwise checks it out and pulls.
func (c *RealClient) Sync(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	if _, err := os.Stat(req.Dir); err == nil {
		return c.update(ctx, req)
	}
	return c.clone(ctx, req)
}

func (c *RealClient) clone(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	auth, err := authFor(c.Credentials, req.RepoURL)
	if err != nil {
		return nil, err
	}

	repo, err := gogit.PlainCloneContext(ctx, req.Dir, false, &gogit.CloneOptions{
		URL:           req.RepoURL,
		Auth:          auth,
		RemoteName:    remoteName,
		ReferenceName: plumbing.NewBranchReferenceName(req.Branch),
		SingleBranch:  true,
		Depth:         req.Depth,
		Progress:      c.Progress,
	})
	if err != nil {
		_ = os.RemoveAll(req.Dir)
		return nil, fmt.Errorf("%w: %s (branch %s): %w", ErrCloneFailed, RedactURL(req.RepoURL), req.Branch, err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("read HEAD: %w", err)
	}
	return &SyncResult{Dir: req.Dir, Cloned: true, NewHash: head.Hash()}, nil
}

func (c *RealClient) update(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	repo, err := gogit.PlainOpen(req.Dir)
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", req.Dir, err)
	}
	auth, err := authFor(c.Credentials, req.RepoURL)
	if err != nil {
		return nil, err
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	if err := checkout(ctx, repo, wt, req, auth); err != nil {
		return nil, err
	}

	result := &SyncResult{Dir: req.Dir}
	if head, err := repo.Head(); err == nil {
		result.OldHash = head.Hash()
	}

	// A depth-limited pull leaves holes between the shallow boundary and the
	// new tip, and the fast-forward check then fails with "object not found".
	err = wt.PullContext(ctx, &gogit.PullOptions{
		RemoteName:    remoteName,
		ReferenceName: plumbing.NewBranchReferenceName(req.Branch),
		SingleBranch:  true,
		Auth:          auth,
		Progress:      c.Progress,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return nil, fmt.Errorf("%w: %s: %w", ErrPullFailed, req.Branch, err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("read HEAD: %w", err)
	}
	result.NewHash = head.Hash()
	return result, nil
}

// checkout switches the worktree to req.Branch, creating the local branch
// from origin when only the remote one exists.
func checkout(ctx context.Context, repo *gogit.Repository, wt *gogit.Worktree, req SyncRequest, auth authMethod) error {
	local := plumbing.NewBranchReferenceName(req.Branch)

	if head, err := repo.Head(); err == nil && head.Name() == local {
		return nil
	}
	if _, err := repo.Reference(local, false); err == nil {
		if err := wt.Checkout(&gogit.CheckoutOptions{Branch: local}); err != nil {
			return fmt.Errorf("checkout %s: %w", req.Branch, err)
		}
		return nil
	}

	tracking := plumbing.NewRemoteReferenceName(remoteName, req.Branch)
	ref, err := repo.Reference(tracking, true)
	if err != nil {
		// Single-branch clones only track the branch they were cloned with.
		spec := config.RefSpec(fmt.Sprintf("+%s:%s", local, tracking))
		ferr := repo.FetchContext(ctx, &gogit.FetchOptions{
			RemoteName: remoteName,
			RefSpecs:   []config.RefSpec{spec},
			Depth:      req.Depth,
			Auth:       auth,
		})
		if ferr != nil && !errors.Is(ferr, gogit.NoErrAlreadyUpToDate) {
			return fmt.Errorf("%w: %s: %w", ErrBranchNotFound, req.Branch, ferr)
		}
		if ref, err = repo.Reference(tracking, true); err != nil {
			return fmt.Errorf("%w: %s", ErrBranchNotFound, req.Branch)
		}
	}

	err = wt.Checkout(&gogit.CheckoutOptions{Branch: local, Hash: ref.Hash(), Create: true})
	if err != nil {
		return fmt.Errorf("checkout %s: %w", req.Branch, err)
	}
	return nil
}

// RepoName returns the last path element of a repository URL without ".git".
// It handles https and scp-like (git@host:org/repo.git) forms.
func RepoName(repoURL string) string {
	s := strings.TrimSpace(repoURL)
	s = strings.TrimRight(s, "/")
	s = strings.TrimSuffix(s, ".git")
	if i := strings.LastIndexAny(s, "/:"); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// RedactURL hides any password embedded in a URL so it is safe to log.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}

// LocalDir returns the checkout directory for repoURL under workspace.
func LocalDir(workspace, repoURL string) string {
	name := RepoName(repoURL)
	if name == "" {
		name = "repo"
	}
	return filepath.Join(workspace, name)
}
