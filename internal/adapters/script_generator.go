package adapters

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"partcad/internal/ports"
	"partcad/internal/shared"
	"partcad/internal/types"
)

// CommandScriptGenerator delegates ai-* script generation to an external
// command. The command receives a prompt on stdin and prints the script.
type CommandScriptGenerator struct {
	Command []string
	Run     CommandRunner
}

var _ ports.ScriptGeneratorPort = CommandScriptGenerator{}

func NewCommandScriptGenerator(command []string) CommandScriptGenerator {
	return CommandScriptGenerator{Command: command, Run: ExecCommand}
}

func (g CommandScriptGenerator) Generate(ctx context.Context, req types.GenerateRequest) (string, error) {
	if len(g.Command) == 0 {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("cannot generate %s: no ai command configured", req.OutputPath))
	}
	run := g.Run
	if run == nil {
		run = ExecCommand
	}
	log.Ctx(ctx).Info().Str("language", string(req.Language)).Str("output", req.OutputPath).Msg("generating script")
	out, err := run(ctx, CommandSpec{
		Name:  g.Command[0],
		Args:  g.Command[1:],
		Dir:   filepath.Dir(req.OutputPath),
		Stdin: []byte(GenerationPrompt(req)),
	})
	if err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("script generation failed").
			WithCause(shared.CommandError(out.Stderr, err))
	}
	script := stripFences(string(out.Stdout))
	if strings.TrimSpace(script) == "" {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("script generation returned nothing")
	}
	if err := os.WriteFile(req.OutputPath, []byte(script), 0644); err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write generated script").
			WithCause(err)
	}
	return req.OutputPath, nil
}

// GenerationPrompt renders the request as plain text.
func GenerationPrompt(req types.GenerateRequest) string {
	var b strings.Builder
	switch req.Language {
	case types.FactoryTypeOpenSCAD:
		b.WriteString("Write an OpenSCAD script.\n")
	case types.FactoryTypeBuild123d:
		b.WriteString("Write a Python build123d script that calls show() on the result.\n")
	default:
		b.WriteString("Write a Python CadQuery script that calls show_object() on the result.\n")
	}
	b.WriteString(strings.TrimSpace(req.Prompt))
	b.WriteString("\n")
	names := types.SortedParameterNames(req.Parameters)
	if len(names) > 0 {
		b.WriteString("Parameters (declare each as a top-level variable):\n")
		for _, name := range names {
			param := req.Parameters[name]
			fmt.Fprintf(&b, "- %s (%s) = %v", name, param.Type, param.Default)
			if param.Desc != "" {
				fmt.Fprintf(&b, ": %s", param.Desc)
			}
			b.WriteString("\n")
		}
	}
	b.WriteString("Output only the script.\n")
	return b.String()
}

func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return text
	}
	lines := strings.Split(trimmed, "\n")
	lines = lines[1:]
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n") + "\n"
}
