package app

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/samber/lo"

	"partcad/internal/core"
	"partcad/internal/types"
)

var (
	allListKinds   = []ListKind{ListParts, ListSketches, ListAssemblies, ListInterfaces, ListProviders}
	validListKinds = append(allListKinds[:len(allListKinds):len(allListKinds)], ListPackages)
)

// List enumerates items of the selected package, or of the package and
// everything under it when Recursive is set. Entries follow package load
// order, then manifest order.
func (s Service) List(ctx context.Context, req ListRequest) (ListResult, error) {
	kinds := req.Kinds
	if len(kinds) == 0 {
		kinds = allListKinds
	}
	for _, kind := range kinds {
		if !lo.Contains(validListKinds, kind) {
			return ListResult{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("unknown list kind %q", kind))
		}
	}
	c, err := s.open(ctx, req.Target)
	if err != nil {
		return ListResult{}, err
	}
	root, err := selected(c, req.Target)
	if err != nil {
		return ListResult{}, err
	}
	packages := []*core.Package{root}
	if req.Recursive {
		packages = c.PackagesMatching(subtreePattern(root.Name))
	}

	var entries []ListEntry
	for _, kind := range kinds {
		if kind == ListPackages {
			for _, pkg := range packages {
				entries = append(entries, ListEntry{Kind: kind, Package: pkg.Name, Name: pkg.Name, Desc: pkg.Desc()})
			}
			continue
		}
		for _, pkg := range packages {
			entries = append(entries, listPackage(pkg, kind)...)
		}
	}
	return ListResult{Entries: entries, Problems: c.Problems()}, nil
}

func subtreePattern(name string) string {
	if name == types.RootPackageName {
		return "/" + core.Wildcard
	}
	return name + "/" + core.Wildcard
}

func listPackage(pkg *core.Package, kind ListKind) []ListEntry {
	switch kind {
	case ListInterfaces:
		return lo.Map(pkg.Interfaces(), func(iface *core.Interface, _ int) ListEntry {
			typ := ""
			if iface.Abstract {
				typ = "abstract"
			}
			return ListEntry{Kind: kind, Package: pkg.Name, Name: iface.Name, Type: typ, Desc: iface.Desc}
		})
	case ListProviders:
		return lo.Map(pkg.Providers(), func(provider *core.Provider, _ int) ListEntry {
			return ListEntry{Kind: kind, Package: pkg.Name, Name: provider.Name, Type: string(provider.Type), Desc: provider.Desc}
		})
	default:
		return lo.Map(pkg.Shapes(types.ShapeKind(kind)), func(shape *core.Shape, _ int) ListEntry {
			return ListEntry{
				Kind:    kind,
				Package: pkg.Name,
				Name:    shape.Name,
				Type:    string(shape.Factory().Type()),
				Desc:    shape.Desc(),
				Usage:   shape.Count(),
			}
		})
	}
}

func (s Service) ListMates(ctx context.Context, req ListMatesRequest) (ListMatesResult, error) {
	c, err := s.open(ctx, req.Target)
	if err != nil {
		return ListMatesResult{}, err
	}
	mates := c.Mates().All()
	if req.Interface != "" {
		iface, err := c.GetInterface(ctx, req.Interface, req.Package)
		if err != nil {
			return ListMatesResult{}, err
		}
		mates = c.Mates().Of(iface.FullName())
	}
	return ListMatesResult{
		Mates: lo.Map(mates, func(m core.Mating, _ int) MateEntry {
			return MateEntry{
				Source:     m.Source,
				Target:     m.Target,
				SourcePort: m.SourcePort,
				TargetPort: m.TargetPort,
				Desc:       m.Desc,
				Reverse:    m.Reverse,
				Count:      m.Count(),
			}
		}),
		Problems: c.Problems(),
	}, nil
}
