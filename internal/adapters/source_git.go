package adapters

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/rs/zerolog/log"

	"partcad/internal/ports"
	"partcad/internal/shared"
	"partcad/internal/types"
)

const (
	gitSentinelName = "partcad.updated"
	gitRefreshAge   = 24 * time.Hour
)

// GitSource clones imported repositories into CacheDir/<hash>, where the
// hash covers the URL and the pinned revision.
type GitSource struct {
	CacheDir    string
	ForceUpdate bool
	MaxAge      time.Duration
	Now         func() time.Time
}

var _ ports.SourcePort = GitSource{}

func NewGitSource(cacheDir string, forceUpdate bool) GitSource {
	return GitSource{
		CacheDir:    cacheDir,
		ForceUpdate: forceUpdate,
		MaxAge:      gitRefreshAge,
		Now:         time.Now,
	}
}

func (s GitSource) Acquire(ctx context.Context, entry types.ImportEntry, _ string) (string, error) {
	if entry.URL == "" {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("package %q: git import requires url", entry.Name))
	}
	repoPath := s.RepoPath(entry)
	logger := log.Ctx(ctx).With().Str("package", entry.Name).Str("url", entry.URL).Logger()

	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		logger.Info().Str("path", repoPath).Msg("cloning")
		if err := s.clone(ctx, entry, repoPath); err != nil {
			return "", err
		}
	} else if s.stale(repoPath) {
		logger.Debug().Msg("refreshing cached clone")
		if err := s.refresh(ctx, repo, entry); err != nil {
			logger.Warn().Err(err).Msg("failed to update repository, using cached copy")
		} else if err := shared.TouchSentinel(s.sentinelPath(repoPath), s.now()); err != nil {
			logger.Warn().Err(err).Msg("failed to record update time")
		}
	}

	dir, err := anchor(repoPath, entry.RelPath)
	if err != nil {
		return "", err
	}
	return ensureManifest(entry, dir)
}

// RepoPath is the content-addressed clone directory for an import.
func (s GitSource) RepoPath(entry types.ImportEntry) string {
	return filepath.Join(s.CacheDir, shared.HashKey(entry.URL, entry.Revision))
}

func (s GitSource) clone(ctx context.Context, entry types.ImportEntry, repoPath string) error {
	if err := os.MkdirAll(filepath.Dir(repoPath), 0755); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create git cache directory").
			WithCause(err)
	}
	repo, err := git.PlainCloneContext(ctx, repoPath, false, &git.CloneOptions{
		URL:  entry.URL,
		Auth: authFor(entry),
	})
	if err != nil {
		_ = os.RemoveAll(repoPath)
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to clone %s", entry.URL)).
			WithCause(err)
	}
	if entry.Revision != "" {
		if err := checkoutRevision(repo, entry.Revision); err != nil {
			_ = os.RemoveAll(repoPath)
			return err
		}
	}
	if err := shared.TouchSentinel(s.sentinelPath(repoPath), s.now()); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to record clone time").
			WithCause(err)
	}
	return nil
}

func (s GitSource) refresh(ctx context.Context, repo *git.Repository, entry types.ImportEntry) error {
	auth := authFor(entry)
	if entry.Revision != "" {
		err := repo.FetchContext(ctx, &git.FetchOptions{
			RemoteName: git.DefaultRemoteName,
			Auth:       auth,
			Tags:       git.AllTags,
			Force:      true,
		})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return fmt.Errorf("fetch: %w", err)
		}
		return checkoutRevision(repo, entry.Revision)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}
	err = worktree.PullContext(ctx, &git.PullOptions{
		RemoteName: git.DefaultRemoteName,
		Auth:       auth,
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("pull: %w", err)
	}
	return nil
}

func checkoutRevision(repo *git.Repository, revision string) error {
	hash, err := repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		hash, err = repo.ResolveRevision(plumbing.Revision(git.DefaultRemoteName + "/" + revision))
	}
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("revision %q not found", revision)).
			WithCause(err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to open worktree").
			WithCause(err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to checkout %s", revision)).
			WithCause(err)
	}
	return nil
}

func (s GitSource) stale(repoPath string) bool {
	if s.ForceUpdate {
		return true
	}
	updated, ok := shared.SentinelTime(s.sentinelPath(repoPath))
	if !ok {
		return true
	}
	return s.now().Sub(updated) > s.maxAge()
}

// The sentinel lives inside .git so checkouts never see it as a change.
func (s GitSource) sentinelPath(repoPath string) string {
	return filepath.Join(repoPath, git.GitDirName, gitSentinelName)
}

func (s GitSource) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s GitSource) maxAge() time.Duration {
	if s.MaxAge <= 0 {
		return gitRefreshAge
	}
	return s.MaxAge
}

func authFor(entry types.ImportEntry) transport.AuthMethod {
	if entry.Username == "" && entry.Password == "" {
		return nil
	}
	return &http.BasicAuth{Username: entry.Username, Password: entry.Password}
}
