package types

import (
	"path/filepath"
	"strings"
)

const (
	ManifestFileYAML = "partcad.yaml"
	ManifestFileJSON = "partcad.json"
	RootPackageName  = "/"
	CurrentPackage   = "."
)

// ItemConfig is the canonicalized manifest fragment of one declared item.
// It stays a map because enrich patches it key by key.
type ItemConfig map[string]any

type NamedItem struct {
	Name   string
	Config ItemConfig
}

type ImportEntry struct {
	Name       string
	Type       SourceType
	Path       string
	URL        string
	Revision   string
	RelPath    string
	MaybeEmpty bool
	Username   string
	Password   string
}

type Manifest struct {
	Path               string
	Dir                string
	PackageName        string
	Desc               string
	ToolSpec           string
	PythonVersion      string
	PythonRequirements []string
	RequirementsFile   string
	URL                string
	POC                string
	Imports            []ImportEntry
	Parts              []NamedItem
	Sketches           []NamedItem
	Assemblies         []NamedItem
	Interfaces         []NamedItem
	Providers          []NamedItem
	Mates              []NamedItem
	Render             map[string]any
	Docs               map[string]any
}

type ManifestOptions struct {
	PackageName  string
	IncludePaths []string
	Vars         map[string]string
}

func (m Manifest) Items(kind ShapeKind) []NamedItem {
	switch kind {
	case ShapeKindPart:
		return m.Parts
	case ShapeKindSketch:
		return m.Sketches
	case ShapeKindAssembly:
		return m.Assemblies
	default:
		return nil
	}
}

func (c ItemConfig) String(key string) string {
	if c == nil {
		return ""
	}
	if value, ok := c[key].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func (c ItemConfig) Bool(key string) bool {
	if c == nil {
		return false
	}
	value, _ := c[key].(bool)
	return value
}

func (c ItemConfig) Map(key string) map[string]any {
	if c == nil {
		return nil
	}
	value, _ := c[key].(map[string]any)
	return value
}

func (c ItemConfig) Type() FactoryType {
	return FactoryType(c.String("type"))
}

func (c ItemConfig) Strings(key string) []string {
	if c == nil {
		return nil
	}
	switch value := c[key].(type) {
	case string:
		return []string{value}
	case []string:
		return append([]string(nil), value...)
	case []any:
		out := make([]string, 0, len(value))
		for _, item := range value {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Clone deep-copies nested maps and slices so that patches applied to the
// copy never leak into the source item.
func (c ItemConfig) Clone() ItemConfig {
	if c == nil {
		return nil
	}
	out := make(ItemConfig, len(c))
	for key, value := range c {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, inner := range typed {
			out[key] = cloneValue(inner)
		}
		return out
	case ItemConfig:
		return typed.Clone()
	case []any:
		out := make([]any, len(typed))
		for i, inner := range typed {
			out[i] = cloneValue(inner)
		}
		return out
	case []string:
		return append([]string(nil), typed...)
	default:
		return value
	}
}

func extension(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}
