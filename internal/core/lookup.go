package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"partcad/internal/policies"
	"partcad/internal/types"
)

// enrichReserved keys are never copied from an enrich item onto its target.
var enrichReserved = map[string]bool{
	"type":      true,
	"path":      true,
	"orig_name": true,
	"source":    true,
	"project":   true,
	"with":      true,
}

func (c *Context) GetPart(ctx context.Context, name string, pkg string, overrides map[string]any) (*Shape, error) {
	return c.GetShape(ctx, types.ShapeKindPart, name, pkg, overrides)
}

func (c *Context) GetSketch(ctx context.Context, name string, pkg string, overrides map[string]any) (*Shape, error) {
	return c.GetShape(ctx, types.ShapeKindSketch, name, pkg, overrides)
}

func (c *Context) GetAssembly(ctx context.Context, name string, pkg string, overrides map[string]any) (*Shape, error) {
	return c.GetShape(ctx, types.ShapeKindAssembly, name, pkg, overrides)
}

// GetShape finds a shape by name. name may be a full `package:item`
// reference, in which case pkg is the package it is relative to. Alias and
// enrich items come back with their target settled. With overrides, a
// parameterised copy is registered once per distinct set of values.
func (c *Context) GetShape(ctx context.Context, kind types.ShapeKind, name string, pkg string, overrides map[string]any) (*Shape, error) {
	shape, err := c.find(kind, name, pkg)
	if err != nil {
		return nil, err
	}
	if err := c.settle(ctx, shape); err != nil {
		return nil, err
	}
	if len(overrides) == 0 {
		return shape, nil
	}
	if alias, ok := shape.Factory().(*AliasFactory); ok && alias.target != nil {
		shape = alias.target
	}
	params, unknown, err := policies.ApplyOverrides(shape.Parameters(), overrides)
	if err != nil {
		return nil, err
	}
	if len(unknown) == len(overrides) {
		return shape, nil
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		log.Ctx(ctx).Debug().Str("shape", shape.FullName()).Strs("unknown", unknown).Msg("ignoring unknown parameters")
	}
	key := parameterisedName(shape.Name, params, overrides)
	clone := shape.clone(key, params)
	return shape.pkg.addVariant(kind, clone), nil
}

// find looks a shape up without settling it.
func (c *Context) find(kind types.ShapeKind, name string, pkg string) (*Shape, error) {
	pkgName := JoinPackage(c.CurrentName, pkg)
	item := name
	if strings.Contains(name, ":") {
		var err error
		pkgName, item, err = ResolveResource(pkgName, name)
		if err != nil {
			return nil, failure(types.ErrMalformedResource, err)
		}
	}
	owner := c.Package(pkgName)
	if owner == nil {
		return nil, failure(types.ErrMissingDependency, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("package %s not found", pkgName)))
	}
	shape := owner.Shape(kind, item)
	if shape == nil {
		return nil, failure(types.ErrMissingDependency, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("%s %s not found", kind, FormatResource(pkgName, item))))
	}
	return shape, nil
}

// settle resolves alias and enrich indirection once. Chains are followed
// with a visited set, so cycles fail instead of recursing.
func (c *Context) settle(ctx context.Context, s *Shape) error {
	return c.settleVisiting(ctx, s, map[*Shape]bool{})
}

func (c *Context) settleVisiting(ctx context.Context, s *Shape, visiting map[*Shape]bool) error {
	s.cfgMu.RLock()
	done := s.resolved
	factory := s.factory
	s.cfgMu.RUnlock()
	if done {
		return nil
	}
	if visiting[s] {
		return failure(types.ErrMissingDependency, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("reference cycle through %s", s.FullName())))
	}
	visiting[s] = true

	var source string
	switch f := factory.(type) {
	case *AliasFactory:
		source = f.Source
	case *EnrichFactory:
		source = f.Source
	default:
		return nil
	}
	target, err := c.find(s.Kind, source, s.PackageName)
	if err != nil {
		return err
	}
	if err := c.settleVisiting(ctx, target, visiting); err != nil {
		return err
	}
	if alias, ok := target.Factory().(*AliasFactory); ok && alias.target != nil {
		target = alias.target
	}

	switch f := factory.(type) {
	case *AliasFactory:
		s.cfgMu.Lock()
		if !s.resolved {
			s.factory = &AliasFactory{Source: f.Source, target: target}
			s.params = target.Parameters()
			s.resolved = true
		}
		s.cfgMu.Unlock()
	case *EnrichFactory:
		merged, inner, err := enrichConfig(s, target, f)
		if err != nil {
			return err
		}
		s.cfgMu.Lock()
		first := !s.resolved
		if first {
			s.config = merged
			s.params = types.ParseParameters(merged)
			s.factory = inner
			s.resolved = true
		}
		s.cfgMu.Unlock()
		if unknown := unknownWith(target, f); first && len(unknown) > 0 {
			c.Record(ctx, types.ErrManifestParse, s.FullName(), errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("%s has no parameters %s", target.FullName(), strings.Join(unknown, ", "))))
		}
	}
	log.Ctx(ctx).Debug().Str("shape", s.FullName()).Str("target", target.FullName()).Msg("resolved reference")
	return nil
}

// enrichConfig clones the target's configuration, patches parameter
// defaults from `with`, and shallow-overrides the remaining keys.
func enrichConfig(s *Shape, target *Shape, f *EnrichFactory) (types.ItemConfig, Factory, error) {
	merged := target.Config().Clone()
	delete(merged, "aliases")
	params, _ := merged["parameters"].(map[string]any)
	for name, value := range f.With {
		entry, ok := params[name].(map[string]any)
		if !ok {
			continue
		}
		param := types.ParseParameters(types.ItemConfig{"parameters": map[string]any{name: entry}})[name]
		coerced, err := policies.CoerceParameter(param, value)
		if err != nil {
			return nil, nil, failure(types.ErrManifestParse, err)
		}
		entry["default"] = coerced
	}
	for key, value := range f.Overrides {
		if enrichReserved[key] {
			continue
		}
		merged[key] = value
	}
	merged["orig_name"] = target.Name
	inner, err := newFactory(target.pkg, s.Kind, target.Name, merged)
	if err != nil {
		return nil, nil, failure(types.ErrUnknownFactoryType, err)
	}
	if sourced, ok := inner.(interface{ SourcePath() string }); ok && sourced.SourcePath() != "" {
		merged["path"] = sourced.SourcePath()
	}
	return merged, inner, nil
}

// unknownWith lists `with` keys the target does not declare.
func unknownWith(target *Shape, f *EnrichFactory) []string {
	params := target.Parameters()
	var unknown []string
	for _, name := range sortedKeys(f.With) {
		if _, ok := params[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// parameterisedName is `name;k=v,...` over the overridden parameters.
func parameterisedName(name string, params map[string]types.Parameter, overrides map[string]any) string {
	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		if _, ok := params[key]; ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", key, params[key].Default))
	}
	return name + ";" + strings.Join(parts, ",")
}
