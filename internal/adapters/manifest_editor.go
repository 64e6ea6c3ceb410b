package adapters

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"gopkg.in/yaml.v3"

	"partcad/internal/ports"
	"partcad/internal/types"
)

const publicIndexURL = "https://github.com/openvmp/partcad-index.git"

// ManifestEditor edits manifests in place through the YAML node tree so
// that comments and key order survive.
type ManifestEditor struct{}

var _ ports.ManifestEditorPort = ManifestEditor{}

func NewManifestEditor() ManifestEditor {
	return ManifestEditor{}
}

func (e ManifestEditor) Init(dir string, desc string, private bool) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create package directory").
			WithCause(err)
	}
	path := filepath.Join(dir, types.ManifestFileYAML)
	if _, err := os.Stat(path); err == nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeAlreadyExists).
			WithMsg(fmt.Sprintf("%s already exists", path))
	}
	content := &yaml.Node{Kind: yaml.MappingNode}
	appendPair(content, "partcad", scalarNode(">=0.7.0"))
	if desc != "" {
		appendPair(content, "desc", scalarNode(desc))
	}
	if !private {
		index := &yaml.Node{}
		if err := index.Encode(map[string]any{
			"partcad-index": map[string]any{"type": "git", "url": publicIndexURL},
		}); err != nil {
			return "", errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to encode index import").
				WithCause(err)
		}
		appendPair(content, "import", index)
	}
	if err := writeNode(path, &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{content}}); err != nil {
		return "", err
	}
	return path, nil
}

func (e ManifestEditor) AddImport(manifestPath string, entry types.ImportEntry) error {
	value := map[string]any{"type": string(entry.Type)}
	if entry.Path != "" {
		value["path"] = entry.Path
	}
	if entry.URL != "" {
		value["url"] = entry.URL
	}
	if entry.Revision != "" {
		value["revision"] = entry.Revision
	}
	if entry.RelPath != "" {
		value["relPath"] = entry.RelPath
	}
	return e.setEntry(manifestPath, "import", entry.Name, value)
}

func (e ManifestEditor) AddItem(manifestPath string, kind types.ShapeKind, name string, cfg types.ItemConfig) error {
	section := ""
	switch kind {
	case types.ShapeKindPart:
		section = "parts"
	case types.ShapeKindSketch:
		section = "sketches"
	case types.ShapeKindAssembly:
		section = "assemblies"
	default:
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("unsupported item kind %q", kind))
	}
	return e.setEntry(manifestPath, section, name, map[string]any(cfg))
}

func (e ManifestEditor) setEntry(manifestPath string, section string, name string, value any) error {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("manifest not readable: %s", manifestPath)).
			WithCause(err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("failed to parse manifest").
			WithCause(err)
	}
	if len(doc.Content) == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode}}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("manifest root must be a mapping")
	}

	sectionNode := lookupKey(root, section)
	if sectionNode == nil || sectionNode.Kind != yaml.MappingNode {
		fresh := &yaml.Node{Kind: yaml.MappingNode}
		if sectionNode == nil {
			appendPair(root, section, fresh)
		} else {
			*sectionNode = *fresh
		}
		sectionNode = lookupKey(root, section)
	}
	if lookupKey(sectionNode, name) != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeAlreadyExists).
			WithMsg(fmt.Sprintf("%s %q already declared", section, name))
	}
	valueNode := &yaml.Node{}
	if err := valueNode.Encode(value); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to encode manifest entry").
			WithCause(err)
	}
	appendPair(sectionNode, name, valueNode)
	return writeNode(manifestPath, &doc)
}

func lookupKey(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

func appendPair(mapping *yaml.Node, key string, value *yaml.Node) {
	mapping.Content = append(mapping.Content, scalarNode(key), value)
}

func scalarNode(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}

func writeNode(path string, doc *yaml.Node) error {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(doc); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to encode manifest").
			WithCause(err)
	}
	if err := encoder.Close(); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to encode manifest").
			WithCause(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to write %s", path)).
			WithCause(err)
	}
	return nil
}
