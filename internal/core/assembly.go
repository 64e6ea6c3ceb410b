package core

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"partcad/internal/kernel"
	"partcad/internal/types"
)

// AssemblyChild is a part or sub-assembly placed inside an assembly.
type AssemblyChild struct {
	Shape    *Shape
	Name     string
	Location types.Location
}

// assemblyState holds the expanded links of an assembly. Expansion runs
// once per shape; a failed expansion is retried on the next request.
type assemblyState struct {
	mu       sync.Mutex
	expanded bool
	children []AssemblyChild
}

// AssemblyFactory composes an assembly from a `.assy` file or from `links`
// given inline in the manifest.
type AssemblyFactory struct {
	path  string
	links []any
	pkg   *Package
}

func newAssemblyFactory(pkg *Package, name string, cfg types.ItemConfig) (*AssemblyFactory, error) {
	if links, ok := cfg["links"].([]any); ok {
		return &AssemblyFactory{links: links, pkg: pkg}, nil
	}
	return &AssemblyFactory{path: anchoredPath(pkg, name, cfg, types.FactoryTypeAssy), pkg: pkg}, nil
}

func (f *AssemblyFactory) Type() types.FactoryType { return types.FactoryTypeAssy }
func (f *AssemblyFactory) Extension() string       { return types.FactoryTypeAssy.Extension() }
func (f *AssemblyFactory) SourcePath() string      { return f.path }

type assemblyStackKey struct{}

func assemblyStack(ctx context.Context) []*Shape {
	stack, _ := ctx.Value(assemblyStackKey{}).([]*Shape)
	return stack
}

// Materialize builds every child and returns them as one compound. Children
// whose geometry fails are left out; their failure is recorded on them.
func (f *AssemblyFactory) Materialize(ctx context.Context, s *Shape) (*kernel.Shape, error) {
	children, err := f.expand(ctx, s)
	if err != nil {
		return nil, err
	}
	stack := append(append([]*Shape(nil), assemblyStack(ctx)...), s)
	ctx = context.WithValue(ctx, assemblyStackKey{}, stack)

	shapes := make([]*kernel.Shape, len(children))
	var group errgroup.Group
	group.SetLimit(max(1, f.pkg.c.Config.ThreadsMax))
	for i, child := range children {
		target := child.Shape.resolvedTarget()
		if lo.Contains(stack, target) {
			s.attach(ctx, types.ErrMissingDependency, errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg(fmt.Sprintf("%s contains itself through %s", s.FullName(), target.FullName())))
			continue
		}
		group.Go(func() error {
			geometry, err := child.Shape.GetShape(ctx)
			if err != nil {
				log.Ctx(ctx).Warn().Str("child", child.Shape.FullName()).Err(err).Msg("omitting child without geometry")
				return nil
			}
			shapes[i] = geometry
			return nil
		})
	}
	_ = group.Wait()

	located := make([]kernel.Located, 0, len(children))
	for i, child := range children {
		if shapes[i] == nil {
			continue
		}
		located = append(located, kernel.Located{Shape: shapes[i], Name: child.Name, Location: child.Location})
	}
	return kernel.Compound(located...), nil
}

// expand resolves the links into children and counts each placement.
func (f *AssemblyFactory) expand(ctx context.Context, s *Shape) ([]AssemblyChild, error) {
	state := &s.assy
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.expanded {
		return state.children, nil
	}
	nodes, err := f.nodes(s)
	if err != nil {
		return nil, err
	}
	children, err := f.compose(ctx, s, nodes, types.IdentityLocation())
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		child.Shape.resolvedTarget().count.Add(1)
	}
	state.children = children
	state.expanded = true
	log.Ctx(ctx).Debug().Str("assembly", s.FullName()).Int("children", len(children)).Msg("expanded assembly")
	return children, nil
}

func (f *AssemblyFactory) nodes(s *Shape) ([]any, error) {
	if f.links != nil {
		return f.links, nil
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, failure(types.ErrMissingFile, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("failed to read %s", f.path)).
			WithCause(err))
	}
	text := string(data)
	if templates := f.pkg.c.ports.Templates; templates != nil {
		vars := map[string]string{
			"package_name":  f.pkg.Name,
			"assembly_name": s.Name,
		}
		for name, value := range s.ParameterValues() {
			vars[name] = fmt.Sprint(value)
		}
		includeDirs := append([]string{f.pkg.Dir}, f.pkg.c.options.IncludePaths...)
		text, err = templates.Expand(text, vars, includeDirs)
		if err != nil {
			return nil, failure(types.ErrManifestParse, err)
		}
	}
	var doc any
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return nil, failure(types.ErrManifestParse, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("failed to parse %s", f.path)).
			WithCause(err))
	}
	switch typed := doc.(type) {
	case nil:
		return nil, nil
	case []any:
		return typed, nil
	case map[string]any:
		links, _ := typed["links"].([]any)
		return links, nil
	default:
		return nil, failure(types.ErrManifestParse, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("%s: expected links, got %T", f.path, doc)))
	}
}

// compose walks groups depth first, composing group locations onto their
// children. A child that cannot be found is recorded and left out; a
// malformed location fails the whole assembly.
func (f *AssemblyFactory) compose(ctx context.Context, s *Shape, nodes []any, parent types.Location) ([]AssemblyChild, error) {
	var out []AssemblyChild
	for i, raw := range nodes {
		node, ok := raw.(map[string]any)
		if !ok {
			s.attach(ctx, types.ErrManifestParse, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("link %d is not a mapping", i)))
			continue
		}
		loc, err := types.ParseLocation(node["location"])
		if err != nil {
			return nil, failure(types.ErrManifestParse, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("%s link %d", s.FullName(), i)).
				WithCause(err))
		}
		loc = parent.Compose(loc)
		label, _ := node["name"].(string)

		if links, ok := node["links"].([]any); ok {
			nested, err := f.compose(ctx, s, links, loc)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
			continue
		}
		child, err := f.resolveChild(ctx, node)
		if err != nil {
			s.attach(ctx, types.ErrMissingDependency, err)
			continue
		}
		out = append(out, AssemblyChild{Shape: child, Name: label, Location: loc})
	}
	return out, nil
}

func (f *AssemblyFactory) resolveChild(ctx context.Context, node map[string]any) (*Shape, error) {
	pkgRef, _ := node["package"].(string)
	pkgName := JoinPackage(f.pkg.Name, pkgRef)
	overrides, _ := node["params"].(map[string]any)
	if name, ok := node["assembly"].(string); ok && name != "" {
		return f.pkg.c.GetAssembly(ctx, name, pkgName, overrides)
	}
	name, _ := node["part"].(string)
	if strings.TrimSpace(name) == "" {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("link names neither a part nor an assembly")
	}
	part, err := f.pkg.c.GetPart(ctx, name, pkgName, overrides)
	if err == nil {
		return part, nil
	}
	if assembly, assyErr := f.pkg.c.GetAssembly(ctx, name, pkgName, overrides); assyErr == nil {
		return assembly, nil
	}
	return nil, err
}

// resolvedTarget follows settled aliases to the shape that owns the
// geometry.
func (s *Shape) resolvedTarget() *Shape {
	for {
		alias, ok := s.Factory().(*AliasFactory)
		if !ok || alias.target == nil {
			return s
		}
		s = alias.target
	}
}

// Children expands an assembly without building any geometry. Other
// shapes have no children.
func (s *Shape) Children(ctx context.Context) ([]AssemblyChild, error) {
	if err := s.pkg.c.settle(ctx, s); err != nil {
		return nil, err
	}
	target := s.resolvedTarget()
	factory, ok := target.Factory().(*AssemblyFactory)
	if !ok {
		return nil, nil
	}
	return factory.expand(ctx, target)
}

// BOM flattens an assembly into leaf parts with the number of times each
// is placed, multiplying through sub-assemblies.
func (s *Shape) BOM(ctx context.Context) ([]types.BOMEntry, error) {
	lines, err := s.bomLines(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Map(lines, func(line bomLine, _ int) types.BOMEntry {
		return types.BOMEntry{Part: line.part.FullName(), Count: line.count}
	}), nil
}

// bomLine keeps the leaf itself so callers never re-parse its name.
type bomLine struct {
	part  *Shape
	count int
}

func (s *Shape) bomLines(ctx context.Context) ([]bomLine, error) {
	lines := map[string]*bomLine{}
	if err := s.collectBOM(ctx, 1, lines, nil); err != nil {
		return nil, err
	}
	out := make([]bomLine, 0, len(lines))
	for _, name := range sortedKeys(lines) {
		out = append(out, *lines[name])
	}
	return out, nil
}

func (s *Shape) collectBOM(ctx context.Context, multiplier int, lines map[string]*bomLine, path []*Shape) error {
	self := s.resolvedTarget()
	children, err := s.Children(ctx)
	if err != nil {
		return err
	}
	path = append(path, self)
	for _, child := range children {
		target := child.Shape.resolvedTarget()
		if target.Kind != types.ShapeKindAssembly {
			line, ok := lines[target.FullName()]
			if !ok {
				line = &bomLine{part: target}
				lines[target.FullName()] = line
			}
			line.count += multiplier
			continue
		}
		if lo.Contains(path, target) {
			return failure(types.ErrMissingDependency, errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg(fmt.Sprintf("%s contains itself", target.FullName())))
		}
		if err := target.collectBOM(ctx, multiplier, lines, path); err != nil {
			return err
		}
	}
	return nil
}
