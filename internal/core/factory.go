package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"partcad/internal/kernel"
	"partcad/internal/shared"
	"partcad/internal/types"
)

// Factory materializes one shape. There is one implementation per `type`
// tag; factories are created at load time and do no work until asked.
type Factory interface {
	Type() types.FactoryType
	Extension() string
	Materialize(ctx context.Context, s *Shape) (*kernel.Shape, error)
}

var (
	_ Factory = (*ScriptFactory)(nil)
	_ Factory = (*OpenSCADFactory)(nil)
	_ Factory = (*FileFactory)(nil)
	_ Factory = (*BasicFactory)(nil)
	_ Factory = (*ExtrudeFactory)(nil)
	_ Factory = (*AliasFactory)(nil)
	_ Factory = (*EnrichFactory)(nil)
	_ Factory = (*AIFactory)(nil)
	_ Factory = (*AssemblyFactory)(nil)
)

func newFactory(pkg *Package, kind types.ShapeKind, name string, cfg types.ItemConfig) (Factory, error) {
	typ := cfg.Type()
	switch {
	case typ == types.FactoryTypeCadQuery || typ == types.FactoryTypeBuild123d:
		return &ScriptFactory{kind: typ, path: anchoredPath(pkg, name, cfg, typ), pkg: pkg}, nil
	case typ == types.FactoryTypeOpenSCAD:
		return &OpenSCADFactory{path: anchoredPath(pkg, name, cfg, typ), pkg: pkg}, nil
	case typ.IsFileBacked():
		return &FileFactory{kind: typ, path: anchoredPath(pkg, name, cfg, typ), pkg: pkg}, nil
	case typ == types.FactoryTypeBasic:
		return newBasicFactory(pkg, cfg)
	case typ == types.FactoryTypeExtrude:
		return newExtrudeFactory(pkg, cfg)
	case typ == types.FactoryTypeAlias:
		source := cfg.String("source")
		if source == "" {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("alias %s has no source", name))
		}
		return &AliasFactory{Source: source}, nil
	case typ == types.FactoryTypeEnrich:
		source := cfg.String("source")
		if source == "" {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("enrich %s has no source", name))
		}
		return &EnrichFactory{Source: source, With: cfg.Map("with"), Overrides: cfg}, nil
	case typ.IsAI():
		prompt := cfg.String("prompt")
		if prompt == "" {
			prompt = cfg.String("desc")
		}
		return &AIFactory{kind: typ, path: anchoredPath(pkg, name, cfg, typ), prompt: prompt, pkg: pkg}, nil
	case typ == types.FactoryTypeAssy:
		return newAssemblyFactory(pkg, name, cfg)
	default:
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("%s %s: unknown type %q", kind, name, typ))
	}
}

// anchoredPath is the item's `path`, or `<name>.<ext>`, relative to the
// package directory.
func anchoredPath(pkg *Package, name string, cfg types.ItemConfig, typ types.FactoryType) string {
	path := cfg.String("path")
	if path == "" {
		path = name + "." + typ.Extension()
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(pkg.Dir, path)
}

func requireFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return failure(types.ErrMissingFile, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("%s does not exist", path)).
			WithCause(err))
	}
	return nil
}

// ScriptFactory runs a cadquery or build123d script in the sandbox.
type ScriptFactory struct {
	kind types.FactoryType
	path string
	pkg  *Package
}

func (f *ScriptFactory) Type() types.FactoryType { return f.kind }
func (f *ScriptFactory) Extension() string       { return f.kind.Extension() }
func (f *ScriptFactory) SourcePath() string      { return f.path }

func (f *ScriptFactory) Materialize(ctx context.Context, s *Shape) (*kernel.Shape, error) {
	if err := requireFile(f.path); err != nil {
		return nil, err
	}
	return runKernelScript(ctx, s, f.pkg, f.kind, f.path, nil)
}

func runKernelScript(ctx context.Context, s *Shape, pkg *Package, kernelType types.FactoryType, path string, inputs []types.ShapePayload) (*kernel.Shape, error) {
	runner := pkg.c.ports.Runner
	if runner == nil {
		return nil, failure(types.ErrSandboxSpawnFailed, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("no kernel runtime configured"))
	}
	result, err := runner.RunShapeScript(ctx, types.ShapeScriptRequest{
		Runtime:         pkg.runtimeSpec(),
		Kernel:          kernelType,
		ScriptPath:      path,
		Cwd:             pkg.Dir,
		Subject:         s.FullName(),
		BuildParameters: s.ParameterValues(),
		Patch:           patchOf(s.Config()),
		Inputs:          inputs,
	})
	s.addDiagnostic(result.Stderr)
	if err != nil {
		return nil, failure(types.ErrSandboxSpawnFailed, err)
	}
	if !result.Success {
		kind := result.Kind
		if kind == "" {
			kind = types.ErrKernelException
		}
		return nil, failure(kind, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("%s: %s", filepath.Base(path), result.Exception)))
	}
	return kernel.FromPayloads(result.Shapes), nil
}

func patchOf(cfg types.ItemConfig) map[string]string {
	raw := cfg.Map("patch")
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for pattern, replacement := range raw {
		out[pattern] = fmt.Sprint(replacement)
	}
	return out
}

// OpenSCADFactory renders a .scad file.
type OpenSCADFactory struct {
	path string
	pkg  *Package
}

func (f *OpenSCADFactory) Type() types.FactoryType { return types.FactoryTypeOpenSCAD }
func (f *OpenSCADFactory) Extension() string       { return types.FactoryTypeOpenSCAD.Extension() }
func (f *OpenSCADFactory) SourcePath() string      { return f.path }

func (f *OpenSCADFactory) Materialize(ctx context.Context, s *Shape) (*kernel.Shape, error) {
	if err := requireFile(f.path); err != nil {
		return nil, err
	}
	return renderOpenSCAD(ctx, f.pkg, f.path, s)
}

func renderOpenSCAD(ctx context.Context, pkg *Package, path string, s *Shape) (*kernel.Shape, error) {
	port := pkg.c.ports.OpenSCAD
	if port == nil {
		return nil, failure(types.ErrSandboxSpawnFailed, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("openscad is not configured"))
	}
	shape, err := port.Render(ctx, path, s.ParameterValues())
	if err != nil {
		kind := types.ErrKernelException
		if errbuilder.CodeOf(err) == errbuilder.CodeFailedPrecondition {
			kind = types.ErrSandboxSpawnFailed
		}
		return nil, failure(kind, err)
	}
	return shape, nil
}

// FileFactory reads STEP, STL, 3MF, BREP, DXF or SVG without running a
// kernel.
type FileFactory struct {
	kind types.FactoryType
	path string
	pkg  *Package
}

func (f *FileFactory) Type() types.FactoryType { return f.kind }
func (f *FileFactory) Extension() string       { return f.kind.Extension() }
func (f *FileFactory) SourcePath() string      { return f.path }

func (f *FileFactory) Materialize(ctx context.Context, _ *Shape) (*kernel.Shape, error) {
	if err := requireFile(f.path); err != nil {
		return nil, err
	}
	files := f.pkg.c.ports.Files
	if files == nil {
		return nil, failure(types.ErrMissingDependency, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("no shape file reader configured"))
	}
	shape, err := files.ReadShapeFile(ctx, f.kind, f.path)
	if err != nil {
		return nil, failure(types.ErrKernelException, err)
	}
	return shape, nil
}

// basicPrimitives maps a primitive onto its dimensions and the CadQuery
// expression that builds it.
var basicPrimitives = map[string]struct {
	dims []string
	expr string
}{
	"box":      {dims: []string{"length", "width", "height"}, expr: `cq.Workplane("XY").box(length, width, height, centered=(True, True, False))`},
	"cylinder": {dims: []string{"radius", "height"}, expr: `cq.Workplane("XY").cylinder(height, radius, centered=(True, True, False))`},
	"sphere":   {dims: []string{"radius"}, expr: `cq.Workplane("XY").sphere(radius)`},
	"cone":     {dims: []string{"radius1", "radius2", "height"}, expr: `cq.Solid.makeCone(radius1, radius2, height)`},
}

// BasicFactory builds a primitive solid from dimensions in the manifest,
// for example `{type: basic, cylinder: {radius: 5, height: 10}}`.
// Parameters with a dimension's name override it.
type BasicFactory struct {
	Primitive string
	Dims      map[string]float64
	pkg       *Package
}

func newBasicFactory(pkg *Package, cfg types.ItemConfig) (*BasicFactory, error) {
	names := make([]string, 0, len(basicPrimitives))
	for name := range basicPrimitives {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		raw := cfg.Map(name)
		if raw == nil {
			continue
		}
		dims := map[string]float64{}
		for _, dim := range basicPrimitives[name].dims {
			value, ok := types.ToFloat(raw[dim])
			if !ok {
				return nil, errbuilder.New().
					WithCode(errbuilder.CodeInvalidArgument).
					WithMsg(fmt.Sprintf("basic %s requires numeric %q", name, dim))
			}
			dims[dim] = value
		}
		return &BasicFactory{Primitive: name, Dims: dims, pkg: pkg}, nil
	}
	return nil, errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(fmt.Sprintf("basic shape needs one of %s", strings.Join(names, ", ")))
}

func (f *BasicFactory) Type() types.FactoryType { return types.FactoryTypeBasic }
func (f *BasicFactory) Extension() string       { return types.FactoryTypeBasic.Extension() }

// Script is the generated CadQuery source.
func (f *BasicFactory) Script() string {
	primitive := basicPrimitives[f.Primitive]
	var b strings.Builder
	b.WriteString("import cadquery as cq\n\n")
	for _, dim := range primitive.dims {
		fmt.Fprintf(&b, "%s = %s\n", dim, formatFloat(f.Dims[dim]))
	}
	fmt.Fprintf(&b, "\nshow_object(%s)\n", primitive.expr)
	return b.String()
}

func (f *BasicFactory) Materialize(ctx context.Context, s *Shape) (*kernel.Shape, error) {
	path, err := writeGenerated(f.pkg.c.Config.StateDir, f.Script())
	if err != nil {
		return nil, failure(types.ErrSandboxSpawnFailed, err)
	}
	return runKernelScript(ctx, s, f.pkg, types.FactoryTypeBasic, path, nil)
}

// ExtrudeFactory sweeps a sketch along +Z.
type ExtrudeFactory struct {
	Sketch string
	Depth  float64
	pkg    *Package
}

func newExtrudeFactory(pkg *Package, cfg types.ItemConfig) (*ExtrudeFactory, error) {
	sketch := cfg.String("sketch")
	if sketch == "" {
		sketch = cfg.String("source")
	}
	if sketch == "" {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("extrude requires a sketch")
	}
	depth, ok := types.ToFloat(cfg["depth"])
	if !ok || depth == 0 {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("extrude requires a non-zero depth")
	}
	return &ExtrudeFactory{Sketch: sketch, Depth: depth, pkg: pkg}, nil
}

func (f *ExtrudeFactory) Type() types.FactoryType { return types.FactoryTypeExtrude }
func (f *ExtrudeFactory) Extension() string       { return types.FactoryTypeExtrude.Extension() }

func (f *ExtrudeFactory) Script() string {
	return "from OCP.BRepPrimAPI import BRepPrimAPI_MakePrism\n" +
		"from OCP.gp import gp_Vec\n\n" +
		"depth = " + formatFloat(f.Depth) + "\n\n" +
		"for face in inputs:\n" +
		"    show_object(BRepPrimAPI_MakePrism(face, gp_Vec(0, 0, depth)).Shape())\n"
}

func (f *ExtrudeFactory) Materialize(ctx context.Context, s *Shape) (*kernel.Shape, error) {
	sketch, err := f.pkg.c.GetSketch(ctx, f.Sketch, f.pkg.Name, nil)
	if err != nil {
		return nil, failure(types.ErrMissingDependency, err)
	}
	profile, err := sketch.GetShape(ctx)
	if err != nil {
		return nil, failure(types.ErrMissingDependency, err)
	}
	path, err := writeGenerated(f.pkg.c.Config.StateDir, f.Script())
	if err != nil {
		return nil, failure(types.ErrSandboxSpawnFailed, err)
	}
	return runKernelScript(ctx, s, f.pkg, types.FactoryTypeExtrude, path, locatedInputs(profile))
}

// locatedInputs sends every leaf of a profile with its placement.
func locatedInputs(profile *kernel.Shape) []types.ShapePayload {
	var inputs []types.ShapePayload
	for _, leaf := range profile.Leaves() {
		input := leaf.Shape.Payload()
		if !leaf.Location.IsIdentity() {
			input.Location = leaf.Location.List()
		}
		inputs = append(inputs, input)
	}
	return inputs
}

// AliasFactory hands out its target's geometry.
type AliasFactory struct {
	Source string
	target *Shape
}

func (f *AliasFactory) Type() types.FactoryType { return types.FactoryTypeAlias }
func (f *AliasFactory) Extension() string       { return "" }

// Target is the shape the alias resolved to, once settled.
func (f *AliasFactory) Target() *Shape { return f.target }

func (f *AliasFactory) Materialize(ctx context.Context, _ *Shape) (*kernel.Shape, error) {
	if f.target == nil {
		return nil, failure(types.ErrMissingDependency, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("alias of %s is unresolved", f.Source)))
	}
	return f.target.GetShape(ctx)
}

// EnrichFactory is replaced by the target's factory when the shape is
// settled; it never builds anything itself.
type EnrichFactory struct {
	Source    string
	With      map[string]any
	Overrides types.ItemConfig
}

func (f *EnrichFactory) Type() types.FactoryType { return types.FactoryTypeEnrich }
func (f *EnrichFactory) Extension() string       { return "" }

func (f *EnrichFactory) Materialize(context.Context, *Shape) (*kernel.Shape, error) {
	return nil, failure(types.ErrMissingDependency, errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg(fmt.Sprintf("enrich of %s is unresolved", f.Source)))
}

// AIFactory generates its script on first use when the file is missing,
// then builds it like the matching script factory.
type AIFactory struct {
	kind   types.FactoryType
	path   string
	prompt string
	pkg    *Package
}

func (f *AIFactory) Type() types.FactoryType { return f.kind }
func (f *AIFactory) Extension() string       { return f.kind.Extension() }
func (f *AIFactory) SourcePath() string      { return f.path }

func (f *AIFactory) Materialize(ctx context.Context, s *Shape) (*kernel.Shape, error) {
	if _, err := os.Stat(f.path); err != nil {
		generator := f.pkg.c.ports.Generator
		if generator == nil {
			return nil, failure(types.ErrMissingDependency, errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg(fmt.Sprintf("%s is missing and no script generator is configured", f.path)))
		}
		if _, err := generator.Generate(ctx, types.GenerateRequest{
			Language:   f.kind.ScriptLanguage(),
			Prompt:     f.prompt,
			Parameters: s.Parameters(),
			OutputPath: f.path,
		}); err != nil {
			return nil, failure(types.ErrMissingDependency, err)
		}
	}
	language := f.kind.ScriptLanguage()
	if language == types.FactoryTypeOpenSCAD {
		return renderOpenSCAD(ctx, f.pkg, f.path, s)
	}
	return runKernelScript(ctx, s, f.pkg, language, f.path, nil)
}

// writeGenerated stores generated source under the state directory, named
// by its content so equal scripts share a file.
func writeGenerated(stateDir string, script string) (string, error) {
	dir := filepath.Join(stateDir, "generated")
	path := filepath.Join(dir, shared.HashKey(script)[:16]+".py")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create generated script directory").
			WithCause(err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(script), 0644); err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write generated script").
			WithCause(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write generated script").
			WithCause(err)
	}
	return path, nil
}

func formatFloat(value float64) string {
	text := fmt.Sprintf("%g", value)
	if !strings.ContainsAny(text, ".eE") {
		text += ".0"
	}
	return text
}
