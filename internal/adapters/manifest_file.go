package adapters

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"partcad/internal/policies"
	"partcad/internal/ports"
	"partcad/internal/types"
)

const requirementsFileName = "requirements.txt"

// ManifestFileAdapter reads partcad.yaml / partcad.json manifests. JSON is
// parsed by the YAML decoder, which accepts it as a subset.
type ManifestFileAdapter struct {
	Templates   ports.TemplatePort
	ToolVersion string
}

var _ ports.ManifestPort = ManifestFileAdapter{}

func NewManifestFileAdapter(templates ports.TemplatePort) ManifestFileAdapter {
	return ManifestFileAdapter{Templates: templates, ToolVersion: types.ToolVersion}
}

func (a ManifestFileAdapter) Load(ctx context.Context, path string, opts types.ManifestOptions) (types.Manifest, error) {
	manifestPath, err := ResolveManifestPath(path)
	if err != nil {
		return types.Manifest{}, err
	}
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return types.Manifest{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("manifest not readable: %s", manifestPath)).
			WithCause(err)
	}
	dir := filepath.Dir(manifestPath)

	vars := map[string]string{
		"package_name": opts.PackageName,
		"package_dir":  dir,
	}
	for key, value := range opts.Vars {
		vars[key] = value
	}
	includeDirs := append([]string{dir}, opts.IncludePaths...)
	text := string(data)
	if a.Templates != nil {
		text, err = a.Templates.Expand(text, vars, includeDirs)
		if err != nil {
			return types.Manifest{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("failed to expand manifest template %s", manifestPath)).
				WithCause(err)
		}
	}

	manifest, err := ParseManifest([]byte(text))
	if err != nil {
		return types.Manifest{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("failed to parse manifest %s", manifestPath)).
			WithCause(err)
	}
	manifest.Path = manifestPath
	manifest.Dir = dir
	manifest.PackageName = opts.PackageName
	if _, err := os.Stat(filepath.Join(dir, requirementsFileName)); err == nil {
		manifest.RequirementsFile = filepath.Join(dir, requirementsFileName)
	}

	if err := policies.CheckToolVersion(manifest.ToolSpec, a.ToolVersion); err != nil {
		return types.Manifest{}, err
	}
	if manifest.PythonVersion != "" {
		if err := policies.ValidatePythonVersion(manifest.PythonVersion); err != nil {
			return types.Manifest{}, err
		}
	}

	log.Ctx(ctx).Debug().
		Str("package", opts.PackageName).
		Str("manifest", manifestPath).
		Int("imports", len(manifest.Imports)).
		Int("parts", len(manifest.Parts)).
		Int("assemblies", len(manifest.Assemblies)).
		Msg("loaded manifest")
	return manifest, nil
}

// ResolveManifestPath canonicalizes a file or directory to the manifest
// file inside it.
func ResolveManifestPath(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("manifest path not found: %s", path)).
			WithCause(err)
	}
	if !info.IsDir() {
		return path, nil
	}
	for _, name := range []string{types.ManifestFileYAML, types.ManifestFileJSON} {
		candidate := filepath.Join(path, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", errbuilder.New().
		WithCode(errbuilder.CodeNotFound).
		WithMsg(fmt.Sprintf("no %s in %s", types.ManifestFileYAML, path))
}

// HasManifest reports whether dir contains a manifest file.
func HasManifest(dir string) bool {
	for _, name := range []string{types.ManifestFileYAML, types.ManifestFileJSON} {
		if info, err := os.Stat(filepath.Join(dir, name)); err == nil && !info.IsDir() {
			return true
		}
	}
	return false
}

// ParseManifest decodes already-expanded manifest text. Section order is
// preserved so that imports load in declaration order.
func ParseManifest(data []byte) (types.Manifest, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return types.Manifest{}, err
	}
	manifest := types.Manifest{}
	if len(doc.Content) == 0 {
		return manifest, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return types.Manifest{}, fmt.Errorf("manifest root must be a mapping")
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		value := root.Content[i+1]
		var err error
		switch key {
		case "desc":
			manifest.Desc, err = decodeScalar(value)
		case "partcad":
			manifest.ToolSpec, err = decodeScalar(value)
		case "pythonVersion":
			manifest.PythonVersion, err = decodeScalar(value)
		case "url":
			manifest.URL, err = decodeScalar(value)
		case "poc":
			manifest.POC, err = decodeScalar(value)
		case "pythonRequirements":
			err = value.Decode(&manifest.PythonRequirements)
		case "import":
			manifest.Imports, err = decodeImports(value)
		case "parts":
			manifest.Parts, err = decodeShapeItems(value, types.ShapeKindPart)
		case "sketches":
			manifest.Sketches, err = decodeShapeItems(value, types.ShapeKindSketch)
		case "assemblies":
			manifest.Assemblies, err = decodeShapeItems(value, types.ShapeKindAssembly)
		case "interfaces":
			manifest.Interfaces, err = decodeNamedItems(value)
		case "providers":
			manifest.Providers, err = decodeNamedItems(value)
		case "mates":
			manifest.Mates, err = decodeNamedItems(value)
		case "render":
			err = value.Decode(&manifest.Render)
		case "docs":
			err = value.Decode(&manifest.Docs)
		}
		if err != nil {
			return types.Manifest{}, fmt.Errorf("section %q: %w", key, err)
		}
	}
	return manifest, nil
}

func decodeScalar(node *yaml.Node) (string, error) {
	if node.Kind != yaml.ScalarNode {
		return "", fmt.Errorf("expected a scalar, got %s", nodeKind(node))
	}
	return strings.TrimSpace(node.Value), nil
}

func decodeNamedItems(node *yaml.Node) ([]types.NamedItem, error) {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping, got %s", nodeKind(node))
	}
	items := make([]types.NamedItem, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		var value any
		if err := node.Content[i+1].Decode(&value); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		cfg := types.ItemConfig{}
		switch typed := value.(type) {
		case nil:
		case map[string]any:
			cfg = types.ItemConfig(typed)
		default:
			cfg["value"] = typed
		}
		items = append(items, types.NamedItem{Name: name, Config: cfg})
	}
	return items, nil
}

func decodeShapeItems(node *yaml.Node, kind types.ShapeKind) ([]types.NamedItem, error) {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping, got %s", nodeKind(node))
	}
	items := make([]types.NamedItem, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		var value any
		if err := node.Content[i+1].Decode(&value); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		cfg, err := CanonicalizeItem(kind, value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		items = append(items, types.NamedItem{Name: name, Config: cfg})
	}
	return items, nil
}

// CanonicalizeItem expands the short forms allowed for parts, sketches and
// assemblies: a bare string is an alias, a missing type is inferred, and
// scalar parameters become {type, default}.
func CanonicalizeItem(kind types.ShapeKind, value any) (types.ItemConfig, error) {
	var cfg types.ItemConfig
	switch typed := value.(type) {
	case nil:
		cfg = types.ItemConfig{}
	case string:
		return types.ItemConfig{"type": string(types.FactoryTypeAlias), "source": strings.TrimSpace(typed)}, nil
	case map[string]any:
		cfg = types.ItemConfig(typed)
	default:
		return nil, fmt.Errorf("unsupported item definition of type %T", value)
	}
	if cfg.String("type") == "" {
		cfg["type"] = string(types.DefaultFactoryType(kind, cfg.String("path")))
	}
	if params, ok := cfg["parameters"].(map[string]any); ok {
		for name, raw := range params {
			entry, isMap := raw.(map[string]any)
			if !isMap {
				params[name] = map[string]any{
					"type":    string(policies.InferParameterType(raw)),
					"default": raw,
				}
				continue
			}
			if _, hasType := entry["type"]; !hasType {
				entry["type"] = string(policies.InferParameterType(entry["default"]))
			}
		}
	}
	return cfg, nil
}

func decodeImports(node *yaml.Node) ([]types.ImportEntry, error) {
	items, err := decodeNamedItems(node)
	if err != nil {
		return nil, err
	}
	imports := make([]types.ImportEntry, 0, len(items))
	for _, item := range items {
		entry := types.ImportEntry{
			Name:       item.Name,
			Type:       types.SourceType(item.Config.String("type")),
			Path:       item.Config.String("path"),
			URL:        item.Config.String("url"),
			Revision:   item.Config.String("revision"),
			RelPath:    item.Config.String("relPath"),
			MaybeEmpty: item.Config.Bool("maybeEmpty"),
			Username:   item.Config.String("username"),
			Password:   item.Config.String("password"),
		}
		if entry.Type == "" {
			entry.Type = inferSourceType(entry)
		}
		switch entry.Type {
		case types.SourceTypeLocal, types.SourceTypeGit, types.SourceTypeTar:
		default:
			return nil, fmt.Errorf("import %q: unknown source type %q", item.Name, entry.Type)
		}
		imports = append(imports, entry)
	}
	return imports, nil
}

func inferSourceType(entry types.ImportEntry) types.SourceType {
	if entry.URL == "" {
		return types.SourceTypeLocal
	}
	lower := strings.ToLower(entry.URL)
	if strings.HasSuffix(lower, ".tar") || strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz") {
		return types.SourceTypeTar
	}
	return types.SourceTypeGit
}

func nodeKind(node *yaml.Node) string {
	switch node.Kind {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "document"
	}
}
