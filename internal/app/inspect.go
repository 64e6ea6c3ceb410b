package app

import (
	"context"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"partcad/internal/shared"
	"partcad/internal/types"
)

// Inspect materializes one shape and reports what the kernel produced.
// Assemblies additionally report their children and bill of materials.
func (s Service) Inspect(ctx context.Context, req InspectRequest) (InspectResult, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return InspectResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("shape name is required")
	}
	kind := req.Kind
	if kind == "" {
		kind = types.ShapeKindPart
	}
	if req.BOMOut != "" && kind != types.ShapeKindAssembly {
		return InspectResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("a bill of materials can only be written for an assembly")
	}
	ctx, process := shared.WithProcess(ctx, "inspect "+name)
	c, err := s.open(ctx, req.Target)
	if err != nil {
		process.Done(err)
		return InspectResult{}, err
	}
	shape, err := c.GetShape(ctx, kind, name, req.Package, req.Params)
	if err != nil {
		process.Done(err)
		return InspectResult{}, err
	}
	geometry, err := shape.GetShape(ctx)
	process.Done(err)
	if err != nil {
		return InspectResult{}, err
	}

	result := InspectResult{
		FullName:    shape.FullName(),
		Type:        shape.Factory().Type(),
		Solids:      geometry.SolidCount(),
		Box:         geometry.Box,
		Diagnostics: shape.Diagnostics(),
		Problems:    shape.Problems(),
	}
	if kind == types.ShapeKindAssembly {
		children, err := shape.Children(ctx)
		if err != nil {
			return InspectResult{}, err
		}
		for _, child := range children {
			label := child.Shape.FullName()
			if child.Name != "" {
				label = child.Name + " (" + label + ")"
			}
			result.Children = append(result.Children, label)
		}
		if result.BOM, err = shape.BOM(ctx); err != nil {
			return InspectResult{}, err
		}
		if req.BOMOut != "" {
			report := types.BOMReport{Assembly: result.FullName, Entries: result.BOM}
			if err := s.Reports.WriteBOM(req.BOMOut, report); err != nil {
				return InspectResult{}, err
			}
			result.BOMPath = req.BOMOut
		}
	}
	log.Ctx(ctx).Debug().Str("shape", result.FullName).Int("solids", result.Solids).Msg("inspected")
	return result, nil
}
