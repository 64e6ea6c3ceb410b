package adapters

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"partcad/internal/kernel"
	"partcad/internal/ports"
	"partcad/internal/shared"
	"partcad/internal/types"
)

// OpenSCADAdapter renders .scad sources to STL with the openscad binary.
type OpenSCADAdapter struct {
	Binary string
	Run    CommandRunner
	Files  ShapeFileAdapter
}

var _ ports.OpenSCADPort = OpenSCADAdapter{}

func NewOpenSCADAdapter(binary string) OpenSCADAdapter {
	if binary == "" {
		binary = "openscad"
	}
	return OpenSCADAdapter{Binary: binary, Run: ExecCommand, Files: NewShapeFileAdapter()}
}

func (a OpenSCADAdapter) Render(ctx context.Context, scriptPath string, params map[string]any) (*kernel.Shape, error) {
	run := a.Run
	if run == nil {
		run = ExecCommand
	}

	tmp, err := os.MkdirTemp("", "partcad-openscad-")
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create openscad output directory").
			WithCause(err)
	}
	defer os.RemoveAll(tmp)
	output := filepath.Join(tmp, "out.stl")

	args := []string{"--export-format", "binstl", "-o", output}
	names := lo.Keys(params)
	sort.Strings(names)
	for _, name := range names {
		args = append(args, "-D", name+"="+scadLiteral(params[name]))
	}
	args = append(args, scriptPath)

	log.Ctx(ctx).Debug().Str("script", scriptPath).Strs("args", args).Msg("rendering openscad")
	out, err := run(ctx, CommandSpec{Name: a.Binary, Args: args, Dir: filepath.Dir(scriptPath)})
	if errors.Is(err, exec.ErrNotFound) {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("%s is not installed", a.Binary)).
			WithCause(err)
	}
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("openscad failed on %s", scriptPath)).
			WithCause(shared.CommandError(out.Stderr, err))
	}
	return a.Files.ReadShapeFile(ctx, types.FactoryTypeStl, output)
}

func scadLiteral(value any) string {
	switch v := value.(type) {
	case string:
		return strconv.Quote(v)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return "undef"
	default:
		if f, ok := types.ToFloat(v); ok {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
		return strconv.Quote(fmt.Sprint(v))
	}
}
