package adapters

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/valyala/fasttemplate"

	"partcad/internal/ports"
)

const (
	templateStartTag   = "{{"
	templateEndTag     = "}}"
	maxIncludeDepth    = 8
	includeDirectiveKw = "include"
)

// TemplateEngine implements the small template subset used by manifests and
// assembly files: `{{ name }}` substitution and `{{ include "file" }}`.
// Tags that name neither a variable nor a directive are left untouched.
type TemplateEngine struct{}

var _ ports.TemplatePort = TemplateEngine{}

func NewTemplateEngine() TemplateEngine {
	return TemplateEngine{}
}

func (e TemplateEngine) Expand(text string, vars map[string]string, includeDirs []string) (string, error) {
	return e.expand(text, vars, includeDirs, 0)
}

func (e TemplateEngine) expand(text string, vars map[string]string, includeDirs []string, depth int) (string, error) {
	if !strings.Contains(text, templateStartTag) {
		return text, nil
	}
	if depth > maxIncludeDepth {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("template includes nested too deeply")
	}
	return fasttemplate.ExecuteFuncStringWithErr(text, templateStartTag, templateEndTag, func(w io.Writer, tag string) (int, error) {
		expr := strings.TrimSpace(tag)
		if value, ok := vars[expr]; ok {
			return w.Write([]byte(value))
		}
		if target, ok := parseInclude(expr); ok {
			content, err := e.include(target, vars, includeDirs, depth)
			if err != nil {
				return 0, err
			}
			return w.Write([]byte(content))
		}
		return w.Write([]byte(templateStartTag + tag + templateEndTag))
	})
}

func (e TemplateEngine) include(target string, vars map[string]string, includeDirs []string, depth int) (string, error) {
	path, err := findInclude(target, includeDirs)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("failed to read template include %s", path)).
			WithCause(err)
	}
	return e.expand(string(data), vars, includeDirs, depth+1)
}

func parseInclude(expr string) (string, bool) {
	rest, ok := strings.CutPrefix(expr, includeDirectiveKw)
	if !ok || rest == "" || (rest[0] != ' ' && rest[0] != '\t') {
		return "", false
	}
	rest = strings.TrimSpace(rest)
	if unquoted, err := strconv.Unquote(rest); err == nil {
		return unquoted, true
	}
	if len(rest) >= 2 && rest[0] == '\'' && rest[len(rest)-1] == '\'' {
		return rest[1 : len(rest)-1], true
	}
	return "", false
}

func findInclude(target string, includeDirs []string) (string, error) {
	if filepath.IsAbs(target) {
		if _, err := os.Stat(target); err == nil {
			return target, nil
		}
	}
	for _, dir := range includeDirs {
		candidate := filepath.Join(dir, target)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", errbuilder.New().
		WithCode(errbuilder.CodeNotFound).
		WithMsg(fmt.Sprintf("template include %q not found in %v", target, includeDirs))
}
