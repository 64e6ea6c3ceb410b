package ports

import (
	"context"

	"partcad/internal/types"
)

type StatePort interface {
	Inventory(ctx context.Context, cfg types.UserConfig) ([]types.StateEntry, error)
}
