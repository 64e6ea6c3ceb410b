package adapters

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"partcad/internal/ports"
	"partcad/internal/types"
)

type LocalSource struct{}

var _ ports.SourcePort = LocalSource{}

func NewLocalSource() LocalSource {
	return LocalSource{}
}

func (s LocalSource) Acquire(_ context.Context, entry types.ImportEntry, baseDir string) (string, error) {
	path := entry.Path
	if path == "" {
		path = entry.Name
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	path = filepath.Clean(path)
	info, err := os.Stat(path)
	if err != nil {
		if entry.MaybeEmpty {
			return path, nil
		}
		return "", errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("package %q: path %s does not exist", entry.Name, path)).
			WithCause(err)
	}
	if !info.IsDir() {
		return filepath.Dir(path), nil
	}
	return ensureManifest(entry, path)
}

// ensureManifest enforces that an acquired directory holds a manifest
// unless the import is allowed to be empty.
func ensureManifest(entry types.ImportEntry, dir string) (string, error) {
	if entry.MaybeEmpty || HasManifest(dir) {
		return dir, nil
	}
	return "", errbuilder.New().
		WithCode(errbuilder.CodeNotFound).
		WithMsg(fmt.Sprintf("package %q: no manifest in %s", entry.Name, dir))
}

// anchor joins an optional relative sub-path onto an acquired root.
func anchor(root string, relPath string) (string, error) {
	if relPath == "" {
		return root, nil
	}
	joined := filepath.Join(root, relPath)
	rel, err := filepath.Rel(root, joined)
	if err != nil || rel == ".." || filepath.IsAbs(rel) || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator) {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("relPath %q escapes the package root", relPath))
	}
	return joined, nil
}
