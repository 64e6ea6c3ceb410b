package adapters

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partcad/internal/shared"
	"partcad/internal/types"
)

func TestStateInventory(t *testing.T) {
	cfg := types.DefaultUserConfig()
	cfg.StateDir = t.TempDir()
	stamp := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	tarDir := filepath.Join(cfg.TarCacheDir(), "abc")
	require.NoError(t, os.MkdirAll(tarDir, 0755))
	require.NoError(t, shared.TouchSentinel(filepath.Join(tarDir, tarSentinelName), stamp))

	envDir := filepath.Join(cfg.RuntimeDir(), "partcad-python-none-3.11")
	require.NoError(t, os.MkdirAll(envDir, 0755))
	require.NoError(t, shared.TouchSentinel(filepath.Join(envDir, installedSentinelPrefix+"msgpack"), stamp.Add(-time.Hour)))
	require.NoError(t, shared.TouchSentinel(filepath.Join(envDir, installedSentinelPrefix+"cadquery"), stamp))

	source := NewGitSource(cfg.GitCacheDir(), false)
	entry := types.ImportEntry{Name: "remote", URL: "https://example.com/parts.git"}
	initRepo(t, source.RepoPath(entry), map[string]string{types.ManifestFileYAML: "desc: x\n"})

	entries, err := NewStateInventory().Inventory(t.Context(), cfg)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "git", entries[0].Kind)
	assert.Empty(t, entries[0].Updated, "a clone without sentinel has no update time")

	assert.Equal(t, "runtime", entries[1].Kind)
	assert.Equal(t, "partcad-python-none-3.11", entries[1].Name)
	assert.Equal(t, "2026-03-04T05:06:07Z", entries[1].Updated)

	assert.Equal(t, types.StateEntry{Kind: "tar", Name: "abc", Path: tarDir, Updated: "2026-03-04T05:06:07Z"}, entries[2])
}

func TestStateInventoryEmpty(t *testing.T) {
	cfg := types.DefaultUserConfig()
	cfg.StateDir = filepath.Join(t.TempDir(), "missing")
	entries, err := NewStateInventory().Inventory(t.Context(), cfg)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
