package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"partcad/internal/types"
)

var shapeKinds = []types.ShapeKind{types.ShapeKindSketch, types.ShapeKindPart, types.ShapeKindAssembly}

// Package is one loaded manifest. Registries are filled during load and
// only parameterised variants are added afterwards.
type Package struct {
	Name     string
	Dir      string
	Manifest types.Manifest

	c *Context

	mu         sync.RWMutex
	shapes     map[types.ShapeKind]map[string]*Shape
	listed     map[types.ShapeKind][]string
	interfaces map[string]*Interface
	ifaceOrder []string
	providers  map[string]*Provider
	provOrder  []string
}

func newPackage(c *Context, name string, manifest types.Manifest) *Package {
	pkg := &Package{
		Name:       name,
		Dir:        manifest.Dir,
		Manifest:   manifest,
		c:          c,
		shapes:     map[types.ShapeKind]map[string]*Shape{},
		listed:     map[types.ShapeKind][]string{},
		interfaces: map[string]*Interface{},
		providers:  map[string]*Provider{},
	}
	for _, kind := range shapeKinds {
		pkg.shapes[kind] = map[string]*Shape{}
	}
	return pkg
}

func (p *Package) Desc() string {
	return p.Manifest.Desc
}

func (p *Package) Context() *Context {
	return p.c
}

func (p *Package) runtimeSpec() types.RuntimeSpec {
	return types.RuntimeSpec{
		PythonVersion:    p.Manifest.PythonVersion,
		Requirements:     p.Manifest.PythonRequirements,
		RequirementsFile: p.Manifest.RequirementsFile,
	}
}

func (p *Package) register(ctx context.Context) {
	for _, kind := range shapeKinds {
		for _, item := range p.Manifest.Items(kind) {
			shape, err := newShape(p, kind, item.Name, item.Config)
			if err != nil {
				p.c.Record(ctx, types.ErrUnknownFactoryType, FormatResource(p.Name, item.Name), err)
				continue
			}
			if !p.addShape(ctx, shape) {
				continue
			}
			for _, alias := range item.Config.Strings("aliases") {
				aliasShape := &Shape{
					Name:        alias,
					Kind:        kind,
					PackageName: p.Name,
					pkg:         p,
					config:      types.ItemConfig{"type": string(types.FactoryTypeAlias), "source": item.Name},
					params:      map[string]types.Parameter{},
					factory:     &AliasFactory{Source: item.Name},
				}
				p.addShape(ctx, aliasShape)
			}
		}
	}
	for _, item := range p.Manifest.Interfaces {
		iface, err := newInterface(p, item.Name, item.Config)
		if err != nil {
			p.c.Record(ctx, types.ErrManifestParse, FormatResource(p.Name, item.Name), err)
			continue
		}
		p.mu.Lock()
		p.interfaces[item.Name] = iface
		p.ifaceOrder = append(p.ifaceOrder, item.Name)
		p.mu.Unlock()
	}
	for _, item := range p.Manifest.Providers {
		provider, err := newProvider(p, item.Name, item.Config)
		if err != nil {
			p.c.Record(ctx, types.ErrManifestParse, FormatResource(p.Name, item.Name), err)
			continue
		}
		p.mu.Lock()
		p.providers[item.Name] = provider
		p.provOrder = append(p.provOrder, item.Name)
		p.mu.Unlock()
	}
	log.Ctx(ctx).Debug().
		Str("package", p.Name).
		Int("parts", len(p.listed[types.ShapeKindPart])).
		Int("sketches", len(p.listed[types.ShapeKindSketch])).
		Int("assemblies", len(p.listed[types.ShapeKindAssembly])).
		Int("interfaces", len(p.ifaceOrder)).
		Int("providers", len(p.provOrder)).
		Msg("registered items")
}

// addShape registers a declared shape; names are write-once.
func (p *Package) addShape(ctx context.Context, shape *Shape) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.shapes[shape.Kind][shape.Name]; exists {
		p.c.Record(ctx, types.ErrManifestParse, shape.FullName(), errbuilder.New().
			WithCode(errbuilder.CodeAlreadyExists).
			WithMsg(fmt.Sprintf("%s %s is declared twice", shape.Kind, shape.Name)))
		return false
	}
	p.shapes[shape.Kind][shape.Name] = shape
	p.listed[shape.Kind] = append(p.listed[shape.Kind], shape.Name)
	return true
}

// addVariant registers a parameterised copy unless an equal one exists,
// in which case the existing copy is returned.
func (p *Package) addVariant(kind types.ShapeKind, shape *Shape) *Shape {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.shapes[kind][shape.Name]; ok {
		return existing
	}
	p.shapes[kind][shape.Name] = shape
	return shape
}

func (p *Package) Shape(kind types.ShapeKind, name string) *Shape {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.shapes[kind][name]
}

// Shapes returns declared shapes of a kind in manifest order.
func (p *Package) Shapes(kind types.ShapeKind) []*Shape {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Shape, 0, len(p.listed[kind]))
	for _, name := range p.listed[kind] {
		out = append(out, p.shapes[kind][name])
	}
	return out
}

func (p *Package) Interface(name string) *Interface {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.interfaces[name]
}

func (p *Package) Interfaces() []*Interface {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Interface, 0, len(p.ifaceOrder))
	for _, name := range p.ifaceOrder {
		out = append(out, p.interfaces[name])
	}
	return out
}

func (p *Package) Provider(name string) *Provider {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.providers[name]
}

func (p *Package) Providers() []*Provider {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Provider, 0, len(p.provOrder))
	for _, name := range p.provOrder {
		out = append(out, p.providers[name])
	}
	return out
}
