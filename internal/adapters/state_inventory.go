package adapters

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/go-git/go-git/v5"

	"partcad/internal/ports"
	"partcad/internal/shared"
	"partcad/internal/types"
)

// StateInventory lists what the per-user state directory caches.
type StateInventory struct{}

var _ ports.StatePort = StateInventory{}

func NewStateInventory() StateInventory {
	return StateInventory{}
}

func (s StateInventory) Inventory(_ context.Context, cfg types.UserConfig) ([]types.StateEntry, error) {
	var entries []types.StateEntry
	sections := []struct {
		kind     string
		dir      string
		describe func(path string) (string, time.Time, bool)
	}{
		{kind: "git", dir: cfg.GitCacheDir(), describe: describeGitCache},
		{kind: "tar", dir: cfg.TarCacheDir(), describe: describeTarCache},
		{kind: "runtime", dir: cfg.RuntimeDir(), describe: describeRuntime},
	}
	for _, section := range sections {
		children, err := os.ReadDir(section.dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to read " + section.dir).
				WithCause(err)
		}
		for _, child := range children {
			if !child.IsDir() {
				continue
			}
			path := filepath.Join(section.dir, child.Name())
			name, updated, ok := section.describe(path)
			entry := types.StateEntry{Kind: section.kind, Name: name, Path: path}
			if ok {
				entry.Updated = updated.UTC().Format(time.RFC3339)
			}
			entries = append(entries, entry)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Kind != entries[j].Kind {
			return entries[i].Kind < entries[j].Kind
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

func describeGitCache(path string) (string, time.Time, bool) {
	name := filepath.Base(path)
	if repo, err := git.PlainOpen(path); err == nil {
		if remote, err := repo.Remote(git.DefaultRemoteName); err == nil && len(remote.Config().URLs) > 0 {
			name = remote.Config().URLs[0]
		}
	}
	updated, ok := shared.SentinelTime(filepath.Join(path, git.GitDirName, gitSentinelName))
	return name, updated, ok
}

func describeTarCache(path string) (string, time.Time, bool) {
	updated, ok := shared.SentinelTime(filepath.Join(path, tarSentinelName))
	return filepath.Base(path), updated, ok
}

// describeRuntime reports the newest install sentinel of an environment.
func describeRuntime(path string) (string, time.Time, bool) {
	var newest time.Time
	found := false
	children, _ := os.ReadDir(path)
	for _, child := range children {
		if child.IsDir() || !strings.HasPrefix(child.Name(), ".partcad.") {
			continue
		}
		updated, ok := shared.SentinelTime(filepath.Join(path, child.Name()))
		if ok && updated.After(newest) {
			newest = updated
			found = true
		}
	}
	return filepath.Base(path), newest, found
}
