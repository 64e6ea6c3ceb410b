package ports

import (
	"context"

	"partcad/internal/types"
)

// ScriptRunnerPort executes kernel and provider scripts inside a sandboxed
// interpreter. A script that reports an exception is not an error: the
// exception is returned in the result.
type ScriptRunnerPort interface {
	RunShapeScript(ctx context.Context, req types.ShapeScriptRequest) (types.ShapeScriptResult, error)
	RunProviderScript(ctx context.Context, req types.ProviderScriptRequest) (types.ProviderScriptResult, error)
}

type ScriptGeneratorPort interface {
	Generate(ctx context.Context, req types.GenerateRequest) (string, error)
}
