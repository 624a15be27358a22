// Package fetch materializes repository sources into local trees.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// ErrInvalidSource indicates a source that is neither a readable local
// directory nor a recognizable remote URL.
var ErrInvalidSource = errors.New("invalid repository source")

// Checkout is a materialized repository: a local tree ready for
// extraction.
type Checkout struct {
	// Name is the repository name derived from the source.
	Name string
	// Path is the local tree to extract.
	Path string
	// IsRemote is true when the source was cloned.
	IsRemote bool
}

// Fetcher turns sources (local paths or remote URLs) into local trees.
// Remote sources are cloned under reposDir and pulled on re-use.
type Fetcher struct {
	reposDir string
	token    string
	gh       *github.Client
	logger   *zap.Logger
}

// NewFetcher creates a Fetcher. token is optional; when set it is used
// for GitHub API resolution and authenticated clones of private
// repositories.
func NewFetcher(reposDir, token string, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}

	var gh *github.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		gh = github.NewClient(oauth2.NewClient(context.Background(), ts))
	} else {
		gh = github.NewClient(nil)
	}

	return &Fetcher{
		reposDir: reposDir,
		token:    token,
		gh:       gh,
		logger:   logger,
	}
}

// IsRemoteSource reports whether source is a URL rather than a local
// path.
func IsRemoteSource(source string) bool {
	return strings.HasPrefix(source, "http://") ||
		strings.HasPrefix(source, "https://") ||
		strings.HasPrefix(source, "git@")
}

// RepoNameFromSource derives the repository name from a source:
// the last path segment, with any .git suffix stripped.
func RepoNameFromSource(source string) string {
	s := strings.TrimSuffix(source, "/")
	if strings.HasPrefix(s, "git@") {
		// git@github.com:owner/repo.git
		if idx := strings.LastIndex(s, ":"); idx >= 0 {
			s = s[idx+1:]
		}
	}
	var base string
	if IsRemoteSource(source) {
		base = path.Base(s)
	} else {
		base = filepath.Base(s)
	}
	return strings.TrimSuffix(base, ".git")
}

// Materialize resolves source into a local tree. Local paths are
// validated in place; remote URLs are cloned (or pulled if already
// cloned) under the fetcher's repos directory.
func (f *Fetcher) Materialize(ctx context.Context, source string) (Checkout, error) {
	if !IsRemoteSource(source) {
		return f.materializeLocal(source)
	}
	return f.materializeRemote(ctx, source)
}

func (f *Fetcher) materializeLocal(source string) (Checkout, error) {
	abs, err := filepath.Abs(source)
	if err != nil {
		return Checkout{}, fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Checkout{}, fmt.Errorf("%w: %s: %v", ErrInvalidSource, source, err)
	}
	if !info.IsDir() {
		return Checkout{}, fmt.Errorf("%w: %s is not a directory", ErrInvalidSource, source)
	}
	return Checkout{
		Name:     RepoNameFromSource(abs),
		Path:     abs,
		IsRemote: false,
	}, nil
}

func (f *Fetcher) materializeRemote(ctx context.Context, source string) (Checkout, error) {
	cloneURL := source
	if owner, repo, ok := parseGitHubRepo(source); ok {
		resolved, err := f.resolveGitHubCloneURL(ctx, owner, repo)
		if err != nil {
			f.logger.Debug("github API resolution failed, cloning source URL directly",
				zap.String("source", source), zap.Error(err))
		} else {
			cloneURL = resolved
		}
	}

	name := RepoNameFromSource(source)
	if name == "" || name == "." || name == "/" {
		return Checkout{}, fmt.Errorf("%w: cannot derive name from %s", ErrInvalidSource, source)
	}
	dest := filepath.Join(f.reposDir, name)

	if err := os.MkdirAll(f.reposDir, 0o755); err != nil {
		return Checkout{}, fmt.Errorf("creating repos directory: %w", err)
	}

	if _, err := os.Stat(filepath.Join(dest, ".git")); err == nil {
		if err := f.pull(ctx, dest); err != nil {
			return Checkout{}, err
		}
	} else {
		if err := f.clone(ctx, cloneURL, dest); err != nil {
			return Checkout{}, err
		}
	}

	return Checkout{Name: name, Path: dest, IsRemote: true}, nil
}

// auth returns HTTP basic auth for authenticated clones, nil without a
// token.
func (f *Fetcher) auth() *githttp.BasicAuth {
	if f.token == "" {
		return nil
	}
	// GitHub accepts any non-empty username with a token password.
	return &githttp.BasicAuth{Username: "oauth2", Password: f.token}
}

func (f *Fetcher) clone(ctx context.Context, cloneURL, dest string) error {
	f.logger.Info("cloning repository", zap.String("url", cloneURL), zap.String("dest", dest))

	_, err := git.PlainCloneContext(ctx, dest, false, &git.CloneOptions{
		URL:   cloneURL,
		Depth: 1,
		Auth:  f.auth(),
	})
	if err != nil {
		// Leave no partial clone behind.
		_ = os.RemoveAll(dest)
		return fmt.Errorf("cloning %s: %w", cloneURL, err)
	}
	return nil
}

func (f *Fetcher) pull(ctx context.Context, dest string) error {
	repo, err := git.PlainOpen(dest)
	if err != nil {
		return fmt.Errorf("opening existing clone %s: %w", dest, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree of %s: %w", dest, err)
	}

	err = wt.PullContext(ctx, &git.PullOptions{
		RemoteName: "origin",
		Auth:       f.auth(),
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		f.logger.Warn("pull failed, indexing existing checkout",
			zap.String("dest", dest), zap.Error(err))
	}
	return nil
}

// resolveGitHubCloneURL asks the GitHub API for the canonical clone URL.
// This also verifies access to private repositories before cloning.
func (f *Fetcher) resolveGitHubCloneURL(ctx context.Context, owner, repo string) (string, error) {
	r, _, err := f.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return "", err
	}
	if r.GetCloneURL() == "" {
		return "", fmt.Errorf("no clone URL for %s/%s", owner, repo)
	}
	return r.GetCloneURL(), nil
}

// parseGitHubRepo extracts owner and repo from a github.com URL.
func parseGitHubRepo(source string) (owner, repo string, ok bool) {
	if strings.HasPrefix(source, "git@github.com:") {
		rest := strings.TrimPrefix(source, "git@github.com:")
		return splitOwnerRepo(rest)
	}

	u, err := url.Parse(source)
	if err != nil || u.Host != "github.com" {
		return "", "", false
	}
	return splitOwnerRepo(strings.TrimPrefix(u.Path, "/"))
}

func splitOwnerRepo(p string) (string, string, bool) {
	p = strings.TrimSuffix(strings.TrimSuffix(p, "/"), ".git")
	parts := strings.Split(p, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
