package ports

import (
	"context"

	"partcad/internal/kernel"
	"partcad/internal/types"
)

type ShapeFilePort interface {
	ReadShapeFile(ctx context.Context, kind types.FactoryType, path string) (*kernel.Shape, error)
}

type OpenSCADPort interface {
	Render(ctx context.Context, scriptPath string, params map[string]any) (*kernel.Shape, error)
}
