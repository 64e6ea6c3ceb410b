package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"partcad/internal/types"
)

type InterfacePort struct {
	Name     string
	Sketch   string
	Location types.Location
}

// InterfaceParameter is a degree of freedom of a port: a slide along or a
// turn about Axis.
type InterfaceParameter struct {
	Name    string
	Type    types.InterfaceParamType
	Axis    types.Vec3
	Min     float64
	Max     float64
	Default float64
}

// Transforms returns the rigid motion for value v. Values outside
// [Min, Max] are logged and still applied.
func (p InterfaceParameter) Transforms(ctx context.Context, v float64) []types.Location {
	if p.Min < p.Max && (v < p.Min || v > p.Max) {
		log.Ctx(ctx).Warn().
			Str("parameter", p.Name).
			Float64("value", v).
			Float64("min", p.Min).
			Float64("max", p.Max).
			Msg("parameter value out of range")
	}
	switch p.Type {
	case types.InterfaceParamRotate:
		return []types.Location{{Axis: p.Axis.Normalize(), Angle: v}}
	default:
		return []types.Location{{Translation: p.Axis.Normalize().Scale(v), Axis: types.Vec3{0, 0, 1}}}
	}
}

type InterfaceInstance struct {
	Name     string
	Location types.Location
}

// Inheritance is one `inherits` entry as declared.
type Inheritance struct {
	Parent    string
	Instances []InterfaceInstance
}

// Interface is a named set of ports that parts expose and that mates
// connect.
type Interface struct {
	Name        string
	PackageName string
	Desc        string
	Abstract    bool
	LeadPort    string
	Inherits    []Inheritance
	Implements  []string

	pkg       *Package
	ownPorts  []InterfacePort
	ownParams []InterfaceParameter
	mates     map[string]map[string]any

	// Guarded by the context's ifaceMu.
	flattened  bool
	flatErr    error
	ports      []InterfacePort
	params     []InterfaceParameter
	compatible []string
}

func newInterface(pkg *Package, name string, cfg types.ItemConfig) (*Interface, error) {
	iface := &Interface{
		Name:        name,
		PackageName: pkg.Name,
		Desc:        cfg.String("desc"),
		Abstract:    cfg.Bool("abstract"),
		LeadPort:    cfg.String("leadPort"),
		Implements:  cfg.Strings("implements"),
		pkg:         pkg,
		mates:       mateTargets(cfg["mates"]),
	}
	if iface.LeadPort == "" {
		iface.LeadPort = cfg.String("lead_port")
	}
	ports := cfg.Map("ports")
	for _, portName := range sortedKeys(ports) {
		entry, _ := ports[portName].(map[string]any)
		loc, err := types.ParseLocation(entry["location"])
		if err != nil {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("interface %s port %s", name, portName)).
				WithCause(err)
		}
		sketch, _ := entry["sketch"].(string)
		iface.ownPorts = append(iface.ownPorts, InterfacePort{Name: portName, Sketch: sketch, Location: loc})
	}
	params := cfg.Map("parameters")
	for _, paramName := range sortedKeys(params) {
		param, err := parseInterfaceParameter(paramName, params[paramName])
		if err != nil {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("interface %s", name)).
				WithCause(err)
		}
		iface.ownParams = append(iface.ownParams, param)
	}
	inherits, err := parseInherits(cfg["inherits"])
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("interface %s inherits", name)).
			WithCause(err)
	}
	iface.Inherits = inherits
	return iface, nil
}

func parseInterfaceParameter(name string, raw any) (InterfaceParameter, error) {
	entry, _ := raw.(map[string]any)
	param := InterfaceParameter{Name: name, Type: types.InterfaceParamTranslate, Axis: types.Vec3{0, 0, 1}}
	if typ, ok := entry["type"].(string); ok {
		switch types.InterfaceParamType(typ) {
		case types.InterfaceParamTranslate, types.InterfaceParamRotate:
			param.Type = types.InterfaceParamType(typ)
		default:
			return param, fmt.Errorf("parameter %s: unknown type %q", name, typ)
		}
	}
	if axis, ok := entry["axis"].([]any); ok {
		if len(axis) != 3 {
			return param, fmt.Errorf("parameter %s: axis must have 3 components", name)
		}
		for i, component := range axis {
			value, ok := types.ToFloat(component)
			if !ok {
				return param, fmt.Errorf("parameter %s: axis component %d is not numeric", name, i)
			}
			param.Axis[i] = value
		}
	}
	param.Min, _ = types.ToFloat(entry["min"])
	param.Max, _ = types.ToFloat(entry["max"])
	param.Default, _ = types.ToFloat(entry["default"])
	return param, nil
}

// parseInherits accepts `parent`, `[parents]` or
// `{parent: {instance: location} | [instances] | instance | null}`.
func parseInherits(raw any) ([]Inheritance, error) {
	single := []InterfaceInstance{{Location: types.IdentityLocation()}}
	switch typed := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return []Inheritance{{Parent: typed, Instances: single}}, nil
	case []any:
		out := make([]Inheritance, 0, len(typed))
		for _, item := range typed {
			parent, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected a parent name, got %T", item)
			}
			out = append(out, Inheritance{Parent: parent, Instances: single})
		}
		return out, nil
	case map[string]any:
		out := make([]Inheritance, 0, len(typed))
		for _, parent := range sortedKeys(typed) {
			instances, err := parseInstances(typed[parent])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", parent, err)
			}
			out = append(out, Inheritance{Parent: parent, Instances: instances})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected %T", raw)
	}
}

func parseInstances(raw any) ([]InterfaceInstance, error) {
	switch typed := raw.(type) {
	case nil:
		return []InterfaceInstance{{Location: types.IdentityLocation()}}, nil
	case string:
		return []InterfaceInstance{{Name: typed, Location: types.IdentityLocation()}}, nil
	case []any:
		out := make([]InterfaceInstance, 0, len(typed))
		for _, item := range typed {
			name, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected an instance name, got %T", item)
			}
			out = append(out, InterfaceInstance{Name: name, Location: types.IdentityLocation()})
		}
		return out, nil
	case map[string]any:
		out := make([]InterfaceInstance, 0, len(typed))
		for _, name := range sortedKeys(typed) {
			loc, err := types.ParseLocation(typed[name])
			if err != nil {
				return nil, fmt.Errorf("instance %s: %w", name, err)
			}
			out = append(out, InterfaceInstance{Name: name, Location: loc})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected instances %T", raw)
	}
}

func (i *Interface) FullName() string {
	return FormatResource(i.PackageName, i.Name)
}

// Ports returns own and inherited ports. Ports of abstract parents are not
// included.
func (i *Interface) Ports(ctx context.Context) ([]InterfacePort, error) {
	c := i.pkg.c
	c.ifaceMu.Lock()
	defer c.ifaceMu.Unlock()
	if err := i.flattenLocked(ctx, map[*Interface]bool{}); err != nil {
		return nil, err
	}
	return append([]InterfacePort(nil), i.ports...), nil
}

func (i *Interface) Parameters(ctx context.Context) ([]InterfaceParameter, error) {
	c := i.pkg.c
	c.ifaceMu.Lock()
	defer c.ifaceMu.Unlock()
	if err := i.flattenLocked(ctx, map[*Interface]bool{}); err != nil {
		return nil, err
	}
	return append([]InterfaceParameter(nil), i.params...), nil
}

// CompatibleWith lists the full names of interfaces this one can stand in
// for: the sole parent when it is inherited once, repeated up the chain,
// plus everything named in `implements`.
func (i *Interface) CompatibleWith(ctx context.Context) ([]string, error) {
	c := i.pkg.c
	c.ifaceMu.Lock()
	defer c.ifaceMu.Unlock()
	if err := i.flattenLocked(ctx, map[*Interface]bool{}); err != nil {
		return nil, err
	}
	return append([]string(nil), i.compatible...), nil
}

// IsCompatibleWith reports whether the interface is, or stands in for,
// the named one.
func (i *Interface) IsCompatibleWith(ctx context.Context, fullName string) bool {
	if i.FullName() == fullName {
		return true
	}
	compatible, err := i.CompatibleWith(ctx)
	if err != nil {
		return false
	}
	return lo.Contains(compatible, fullName)
}

// flattenLocked expects the context's ifaceMu to be held.
func (i *Interface) flattenLocked(ctx context.Context, visiting map[*Interface]bool) error {
	if i.flattened {
		return i.flatErr
	}
	if visiting[i] {
		err := failure(types.ErrManifestParse, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("interface %s inherits itself", i.FullName())))
		i.pkg.c.Record(ctx, types.ErrManifestParse, i.FullName(), err)
		return err
	}
	visiting[i] = true
	inherited, err := i.doFlatten(ctx, visiting)
	i.flattened = true
	i.flatErr = err
	// A parent's failure was recorded where it happened.
	if err != nil && !inherited {
		i.pkg.c.Record(ctx, KindOfOr(err, types.ErrManifestParse), i.FullName(), err)
	}
	return err
}

// doFlatten reports whether a returned error came from a parent.
func (i *Interface) doFlatten(ctx context.Context, visiting map[*Interface]bool) (bool, error) {
	ports := append([]InterfacePort(nil), i.ownPorts...)
	params := append([]InterfaceParameter(nil), i.ownParams...)
	taken := map[string]bool{}
	for _, port := range ports {
		taken[port.Name] = true
	}
	compatible := map[string]bool{}

	for _, inherit := range i.Inherits {
		parent, err := i.pkg.c.findInterface(inherit.Parent, i.PackageName)
		if err != nil {
			return false, err
		}
		if err := parent.flattenLocked(ctx, visiting); err != nil {
			return true, err
		}
		if len(i.Inherits) == 1 && len(inherit.Instances) == 1 {
			compatible[parent.FullName()] = true
			for _, name := range parent.compatible {
				compatible[name] = true
			}
		}
		for _, name := range parent.implementsResolved() {
			compatible[name] = true
		}
		if parent.Abstract {
			continue
		}
		for _, instance := range inherit.Instances {
			for _, port := range parent.ports {
				name := inheritedName(instance.Name, port.Name)
				if taken[name] {
					return false, failure(types.ErrManifestParse, errbuilder.New().
						WithCode(errbuilder.CodeAlreadyExists).
						WithMsg(fmt.Sprintf("interface %s: port %s inherited twice", i.FullName(), name)))
				}
				taken[name] = true
				ports = append(ports, InterfacePort{
					Name:     name,
					Sketch:   port.Sketch,
					Location: instance.Location.Compose(port.Location),
				})
			}
			for _, param := range parent.params {
				param.Name = inheritedName(instance.Name, param.Name)
				params = append(params, param)
			}
		}
	}
	for _, name := range i.implementsResolved() {
		compatible[name] = true
	}
	delete(compatible, i.FullName())

	i.ports = ports
	i.params = params
	i.compatible = sortedKeys(compatible)
	return false, nil
}

func (i *Interface) implementsResolved() []string {
	out := make([]string, 0, len(i.Implements))
	for _, ref := range i.Implements {
		pkg, item, err := ResolveResource(i.PackageName, qualify(ref))
		if err != nil {
			continue
		}
		out = append(out, FormatResource(pkg, item))
	}
	return out
}

func inheritedName(instance string, port string) string {
	if instance == "" {
		return port
	}
	return instance + "-" + port
}

// qualify turns a bare item name into a reference to the current package.
func qualify(ref string) string {
	if strings.Contains(ref, ":") {
		return ref
	}
	return ":" + ref
}

// GetInterface looks an interface up by name relative to pkg.
func (c *Context) GetInterface(ctx context.Context, name string, pkg string) (*Interface, error) {
	iface, err := c.findInterface(name, JoinPackage(c.CurrentName, pkg))
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Debug().Str("interface", iface.FullName()).Msg("found interface")
	return iface, nil
}

func (c *Context) findInterface(ref string, pkgName string) (*Interface, error) {
	owner, item, err := ResolveResource(pkgName, qualify(ref))
	if err != nil {
		return nil, failure(types.ErrMalformedResource, err)
	}
	pkg := c.Package(owner)
	if pkg == nil {
		return nil, failure(types.ErrUnknownInterface, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("package %s not found", owner)))
	}
	iface := pkg.Interface(item)
	if iface == nil {
		return nil, failure(types.ErrUnknownInterface, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("interface %s not found", FormatResource(owner, item))))
	}
	return iface, nil
}

// ImplementingParts lists parts that declare the interface, or an
// interface compatible with it, under `interfaces`.
func (c *Context) ImplementingParts(ctx context.Context, name string, pkg string) ([]*Shape, error) {
	target, err := c.GetInterface(ctx, name, pkg)
	if err != nil {
		return nil, err
	}
	want := target.FullName()
	var out []*Shape
	for _, p := range c.Packages() {
		for _, part := range p.Shapes(types.ShapeKindPart) {
			declared := part.Config().Map("interfaces")
			for _, ref := range sortedKeys(declared) {
				iface, err := c.findInterface(ref, p.Name)
				if err != nil {
					log.Ctx(ctx).Debug().Str("part", part.FullName()).Str("interface", ref).Msg("skipping unknown interface")
					continue
				}
				if iface.IsCompatibleWith(ctx, want) {
					out = append(out, part)
					break
				}
			}
		}
	}
	return out, nil
}

// KindOfOr is KindOf with a fallback for untagged errors.
func KindOfOr(err error, fallback types.ErrorKind) types.ErrorKind {
	if kind := KindOf(err); kind != "" {
		return kind
	}
	return fallback
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
