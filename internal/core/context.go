// Package core holds the package graph, the shape registry and everything
// that composes shapes: interfaces, mates, assemblies and supplier carts.
package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"partcad/internal/ports"
	"partcad/internal/types"
)

// Ports bundles the adapters the core reaches out through.
type Ports struct {
	Manifests ports.ManifestPort
	Templates ports.TemplatePort
	Sources   map[types.SourceType]ports.SourcePort
	Runner    ports.ScriptRunnerPort
	Files     ports.ShapeFilePort
	OpenSCAD  ports.OpenSCADPort
	Generator ports.ScriptGeneratorPort
}

type ContextOptions struct {
	// SearchRoot walks up from the start directory while parents hold a
	// manifest and loads the topmost one as the root package.
	SearchRoot   bool
	IncludePaths []string
}

// Problem is one failure recorded while loading or building.
type Problem struct {
	Kind    types.ErrorKind
	Subject string
	Err     error
}

func (p Problem) Error() string {
	return fmt.Sprintf("%s: %s: %v", p.Kind, p.Subject, p.Err)
}

// Context owns the package forest of one invocation.
type Context struct {
	Config      types.UserConfig
	RootDir     string
	CurrentName string

	ports   Ports
	options ContextOptions

	mu       sync.RWMutex
	packages map[string]*Package
	order    []string

	problemsMu sync.Mutex
	problems   []Problem

	ifaceMu sync.Mutex
	mates   *MatingGraph
}

// NewContext loads the package at path and everything it imports. Load
// problems in imported packages are recorded, not returned; an error is
// returned only when the root package itself cannot be loaded.
func NewContext(ctx context.Context, path string, cfg types.UserConfig, p Ports, opts ContextOptions) (*Context, error) {
	start, err := packageDir(path)
	if err != nil {
		return nil, err
	}
	root := start
	if opts.SearchRoot {
		root = searchRoot(start)
	}
	current := types.RootPackageName
	if rel, err := filepath.Rel(root, start); err == nil && rel != "." {
		current = JoinPackage(types.RootPackageName, filepath.ToSlash(rel))
	}

	c := &Context{
		Config:      cfg,
		RootDir:     root,
		CurrentName: current,
		ports:       p,
		options:     opts,
		packages:    map[string]*Package{},
		mates:       NewMatingGraph(),
	}
	loader := newLoader(c)
	loader.load(ctx, types.RootPackageName, root, false)
	if c.Package(types.RootPackageName) == nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("failed to load package at %s", root)).
			WithCause(c.firstProblem())
	}
	if current != types.RootPackageName && c.Package(current) == nil {
		loader.load(ctx, current, start, false)
	}
	c.registerMates(ctx)

	log.Ctx(ctx).Debug().
		Str("root", root).
		Str("current", current).
		Int("packages", len(c.order)).
		Int("problems", len(c.Problems())).
		Msg("context loaded")
	return c, nil
}

func packageDir(path string) (string, error) {
	if path == "" {
		path = "."
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid package path %q", path)).
			WithCause(err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("package path %s does not exist", abs)).
			WithCause(err)
	}
	if !info.IsDir() {
		abs = filepath.Dir(abs)
	}
	return abs, nil
}

func searchRoot(start string) string {
	root := start
	for dir := filepath.Dir(start); dir != root && hasManifest(dir); dir = filepath.Dir(dir) {
		root = dir
	}
	return root
}

func hasManifest(dir string) bool {
	for _, name := range []string{types.ManifestFileYAML, types.ManifestFileJSON} {
		if info, err := os.Stat(filepath.Join(dir, name)); err == nil && !info.IsDir() {
			return true
		}
	}
	return false
}

// Package returns a loaded package by absolute name; "." is the current
// package.
func (c *Context) Package(name string) *Package {
	if name == types.CurrentPackage {
		name = c.CurrentName
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.packages[name]
}

// Packages lists packages in load order.
func (c *Context) Packages() []*Package {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Package, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.packages[name])
	}
	return out
}

// PackageOrder is the depth-first order packages were loaded in.
func (c *Context) PackageOrder() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// PackagesMatching returns loaded packages matching a resolved pattern.
func (c *Context) PackagesMatching(pattern string) []*Package {
	var out []*Package
	for _, pkg := range c.Packages() {
		if MatchPackage(pattern, pkg.Name) {
			out = append(out, pkg)
		}
	}
	return out
}

func (c *Context) addPackage(pkg *Package) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.packages[pkg.Name]; ok {
		return false
	}
	c.packages[pkg.Name] = pkg
	c.order = append(c.order, pkg.Name)
	return true
}

// Record logs a problem at error level and keeps it for HadErrors.
func (c *Context) Record(ctx context.Context, kind types.ErrorKind, subject string, err error) Problem {
	problem := Problem{Kind: kind, Subject: subject, Err: err}
	c.problemsMu.Lock()
	c.problems = append(c.problems, problem)
	c.problemsMu.Unlock()
	log.Ctx(ctx).Error().Str("kind", string(kind)).Str("subject", subject).Err(err).Msg("problem recorded")
	return problem
}

func (c *Context) Problems() []Problem {
	c.problemsMu.Lock()
	defer c.problemsMu.Unlock()
	return append([]Problem(nil), c.problems...)
}

func (c *Context) HadErrors() bool {
	c.problemsMu.Lock()
	defer c.problemsMu.Unlock()
	return len(c.problems) > 0
}

func (c *Context) firstProblem() error {
	problems := c.Problems()
	if len(problems) == 0 {
		return nil
	}
	return problems[0]
}

// Mates is the mating graph built from every loaded package.
func (c *Context) Mates() *MatingGraph {
	return c.mates
}
