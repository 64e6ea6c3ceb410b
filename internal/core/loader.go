package core

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	assert "github.com/ZanzyTHEbar/assert-lib"
	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"partcad/internal/types"
)

// loader walks imports depth first. loading holds the canonical source
// directories on the current path, so revisiting one is a cycle.
type loader struct {
	c       *Context
	loading map[string]string
	stack   []string
}

func newLoader(c *Context) *loader {
	return &loader{c: c, loading: map[string]string{}}
}

func (l *loader) load(ctx context.Context, name string, dir string, maybeEmpty bool) {
	if l.c.Package(name) != nil {
		return
	}
	canonical := canonicalDir(dir)
	if owner, ok := l.loading[canonical]; ok {
		chain := append(append([]string(nil), l.stack...), name)
		l.c.Record(ctx, types.ErrImportCycle, name, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("import cycle %s (already loading %s)", strings.Join(chain, " -> "), owner)))
		return
	}
	l.loading[canonical] = name
	l.stack = append(l.stack, name)
	defer func() {
		delete(l.loading, canonical)
		l.stack = l.stack[:len(l.stack)-1]
	}()

	manifest, ok := l.manifest(ctx, name, dir, maybeEmpty)
	if !ok {
		return
	}
	assert.NotEmpty(ctx, name, "package name must be set")
	assert.NotEmpty(ctx, manifest.Dir, "package directory must be set")
	pkg := newPackage(l.c, name, manifest)
	if !l.c.addPackage(pkg) {
		return
	}
	log.Ctx(ctx).Debug().Str("package", name).Str("dir", manifest.Dir).Msg("loading package")
	pkg.register(ctx)

	for _, entry := range manifest.Imports {
		child := path.Join(name, entry.Name)
		if l.c.Package(child) != nil {
			continue
		}
		source, ok := l.c.ports.Sources[entry.Type]
		if !ok || source == nil {
			l.c.Record(ctx, types.ErrFetchFailed, child, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("no acquirer for import type %q", entry.Type)))
			continue
		}
		childDir, err := source.Acquire(ctx, entry, manifest.Dir)
		if err != nil {
			kind := types.ErrFetchFailed
			if errbuilder.CodeOf(err) == errbuilder.CodeNotFound {
				kind = types.ErrMissingFile
			}
			l.c.Record(ctx, kind, child, err)
			continue
		}
		l.load(ctx, child, childDir, entry.MaybeEmpty)
	}
}

func (l *loader) manifest(ctx context.Context, name string, dir string, maybeEmpty bool) (types.Manifest, bool) {
	if maybeEmpty && !hasManifest(dir) {
		return types.Manifest{Dir: dir, PackageName: name}, true
	}
	manifest, err := l.c.ports.Manifests.Load(ctx, dir, types.ManifestOptions{
		PackageName:  name,
		IncludePaths: l.c.options.IncludePaths,
	})
	if err != nil {
		kind := types.ErrManifestParse
		switch errbuilder.CodeOf(err) {
		case errbuilder.CodeFailedPrecondition:
			kind = types.ErrToolVersionMismatch
		case errbuilder.CodeNotFound:
			kind = types.ErrMissingFile
		}
		l.c.Record(ctx, kind, name, err)
		return types.Manifest{}, false
	}
	if manifest.Dir == "" {
		manifest.Dir = dir
	}
	return manifest, true
}

func canonicalDir(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return filepath.Clean(dir)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}
