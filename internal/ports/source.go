package ports

import (
	"context"

	"partcad/internal/types"
)

// SourcePort obtains a local directory for an imported package. baseDir is
// the directory of the importing manifest; relative paths anchor there.
type SourcePort interface {
	Acquire(ctx context.Context, entry types.ImportEntry, baseDir string) (string, error)
}
