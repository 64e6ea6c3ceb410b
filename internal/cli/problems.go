package cli

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"

	"partcad/internal/app"
	"partcad/internal/core"
)

// reportProblems logs every recorded problem at error level, so the run
// exits non-zero, and prints advice for the kinds seen.
func reportProblems(ctx context.Context, problems []core.Problem) {
	logger := log.Ctx(ctx)
	for _, problem := range problems {
		logger.Error().
			Str("kind", string(problem.Kind)).
			Str("subject", problem.Subject).
			Err(problem.Err).
			Msg("problem")
	}
	app.EmitHints(os.Stderr, app.Hints(problems))
}
