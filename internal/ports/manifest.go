package ports

import (
	"context"

	"partcad/internal/types"
)

type ManifestPort interface {
	Load(ctx context.Context, path string, opts types.ManifestOptions) (types.Manifest, error)
}

// TemplatePort expands `{{ name }}` variables and `{{ include "path" }}`
// directives in manifest and assembly text.
type TemplatePort interface {
	Expand(text string, vars map[string]string, includeDirs []string) (string, error)
}

type ManifestEditorPort interface {
	Init(dir string, desc string, private bool) (string, error)
	AddImport(manifestPath string, entry types.ImportEntry) error
	AddItem(manifestPath string, kind types.ShapeKind, name string, cfg types.ItemConfig) error
}
