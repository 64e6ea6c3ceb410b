package app

import (
	"fmt"
	"io"

	"partcad/internal/core"
	"partcad/internal/types"
)

// problemHint pairs an error kind with the advice printed once per run
// when a problem of that kind was recorded.
type problemHint struct {
	Kind   types.ErrorKind
	Advice string
}

var problemHints = []problemHint{
	{types.ErrFetchFailed, "check network access and credentials, then rerun `partcad install`"},
	{types.ErrMissingDependency, "an item refers to something not loaded; run `partcad list-all -r` to see what is available"},
	{types.ErrToolVersionMismatch, "a package needs a different tool version; upgrade partcad or pin an older package revision"},
	{types.ErrSandboxSpawnFailed, "the script sandbox did not start; check `python.sandbox` and that the interpreter is installed"},
	{types.ErrImportCycle, "two packages import each other; remove one of the imports"},
	{types.ErrUnknownInterface, "an interface name is misspelled or its package is not imported"},
}

// Hints returns one line of advice per distinct problem kind that has
// any, in a stable order.
func Hints(problems []core.Problem) []string {
	seen := map[types.ErrorKind]bool{}
	for _, problem := range problems {
		seen[problem.Kind] = true
	}
	var hints []string
	for _, h := range problemHints {
		if seen[h.Kind] {
			hints = append(hints, fmt.Sprintf("hint: %s: %s", h.Kind, h.Advice))
		}
	}
	return hints
}

// EmitHints writes hint lines to w.
func EmitHints(w io.Writer, hints []string) {
	for _, h := range hints {
		fmt.Fprintln(w, h)
	}
}
