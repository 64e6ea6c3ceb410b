package app

import (
	"context"
	"maps"
	"runtime"

	"github.com/rs/zerolog/log"

	"partcad/internal/adapters"
	"partcad/internal/types"
)

func (s Service) Info(ctx context.Context, target Target) (InfoResult, error) {
	c, err := s.open(ctx, target)
	if err != nil {
		return InfoResult{}, err
	}
	pkg, err := selected(c, target)
	if err != nil {
		return InfoResult{}, err
	}
	manifest := pkg.Manifest
	result := InfoResult{
		Name:          pkg.Name,
		Dir:           pkg.Dir,
		Desc:          pkg.Desc(),
		URL:           manifest.URL,
		POC:           manifest.POC,
		ToolSpec:      manifest.ToolSpec,
		PythonVersion: manifest.PythonVersion,
		Counts:        map[types.ShapeKind]int{},
		Interfaces:    len(pkg.Interfaces()),
		Providers:     len(pkg.Providers()),
		Problems:      c.Problems(),
	}
	for _, entry := range manifest.Imports {
		result.Imports = append(result.Imports, entry.Name)
	}
	for _, kind := range []types.ShapeKind{types.ShapeKindPart, types.ShapeKindSketch, types.ShapeKindAssembly} {
		result.Counts[kind] = len(pkg.Shapes(kind))
	}
	return result, nil
}

// Install loads the tree and everything it imports, which fetches any
// source not yet cached. Force refreshes cached git and tar sources.
func (s Service) Install(ctx context.Context, req InstallRequest) (InstallResult, error) {
	if req.Force {
		s = s.forceUpdate()
	}
	c, err := s.open(ctx, req.Target)
	if err != nil {
		return InstallResult{}, err
	}
	result := InstallResult{Packages: c.PackageOrder(), Problems: c.Problems()}
	log.Ctx(ctx).Info().
		Int("packages", len(result.Packages)).
		Int("problems", len(result.Problems)).
		Bool("force", req.Force).
		Msg("packages installed")
	return result, nil
}

func (s Service) forceUpdate() Service {
	s.Config.ForceUpdate = true
	sources := maps.Clone(s.Sources)
	if git, ok := sources[types.SourceTypeGit].(adapters.GitSource); ok {
		git.ForceUpdate = true
		sources[types.SourceTypeGit] = git
	}
	s.Sources = sources
	return s
}

func (s Service) Status(ctx context.Context) (StatusResult, error) {
	entries, err := s.State.Inventory(ctx, s.Config)
	if err != nil {
		return StatusResult{}, err
	}
	return StatusResult{StateDir: s.Config.StateDir, Entries: entries}, nil
}

func (s Service) Version() VersionResult {
	return VersionResult{
		Tool:      types.ToolVersion,
		GoVersion: runtime.Version(),
		Python:    s.Config.PythonVersion,
	}
}
