package adapters

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partcad/internal/types"
)

const sampleManifest = `
partcad: ">=0.7.0"
desc: "Package {{ package_name }}"
pythonVersion: "3.10"
import:
  zeta:
    path: zeta
  alpha:
    type: git
    url: https://example.com/parts.git
    revision: v1.0
  archive:
    url: https://example.com/parts.tar.gz
    relPath: sub
parts:
  cube:
    type: cadquery
    parameters:
      width: 10.0
      count: 3
      label:
        default: m3
  bolt:
    path: bolt.step
  alias_of_cube: cube
assemblies:
  robot:
interfaces:
  m3:
    ports:
      hole: {}
`

func writeManifest(t *testing.T, dir string, content string) string {
	t.Helper()
	path := filepath.Join(dir, types.ManifestFileYAML)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestManifestFileAdapterLoad(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, sampleManifest)

	adapter := NewManifestFileAdapter(NewTemplateEngine())
	manifest, err := adapter.Load(t.Context(), dir, types.ManifestOptions{PackageName: "/pub"})
	require.NoError(t, err)

	assert.Equal(t, "Package /pub", manifest.Desc)
	assert.Equal(t, "3.10", manifest.PythonVersion)
	assert.Equal(t, filepath.Join(dir, types.ManifestFileYAML), manifest.Path)

	names := []string{}
	for _, imp := range manifest.Imports {
		names = append(names, imp.Name)
	}
	if diff := cmp.Diff([]string{"zeta", "alpha", "archive"}, names); diff != "" {
		t.Fatalf("imports must keep declaration order (-want +got):\n%s", diff)
	}
	assert.Equal(t, types.SourceTypeLocal, manifest.Imports[0].Type)
	assert.Equal(t, types.SourceTypeGit, manifest.Imports[1].Type)
	assert.Equal(t, "v1.0", manifest.Imports[1].Revision)
	assert.Equal(t, types.SourceTypeTar, manifest.Imports[2].Type)
	assert.Equal(t, "sub", manifest.Imports[2].RelPath)

	require.Len(t, manifest.Parts, 3)
	cube := manifest.Parts[0].Config
	params := types.ParseParameters(cube)
	assert.Equal(t, types.ParameterTypeFloat, params["width"].Type)
	assert.Equal(t, 10.0, params["width"].Default)
	assert.Equal(t, types.ParameterTypeInt, params["count"].Type)
	assert.Equal(t, types.ParameterTypeString, params["label"].Type)

	assert.Equal(t, types.FactoryTypeStep, manifest.Parts[1].Config.Type())
	assert.Equal(t, types.FactoryTypeAlias, manifest.Parts[2].Config.Type())
	assert.Equal(t, "cube", manifest.Parts[2].Config.String("source"))

	require.Len(t, manifest.Assemblies, 1)
	assert.Equal(t, types.FactoryTypeAssy, manifest.Assemblies[0].Config.Type())
	require.Len(t, manifest.Interfaces, 1)
}

func TestManifestFileAdapterJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, types.ManifestFileJSON), []byte(`{"desc": "json", "parts": {"a": {"type": "stl", "path": "a.stl"}}}`), 0644))

	manifest, err := NewManifestFileAdapter(NewTemplateEngine()).Load(t.Context(), dir, types.ManifestOptions{PackageName: "/"})
	require.NoError(t, err)
	assert.Equal(t, "json", manifest.Desc)
	require.Len(t, manifest.Parts, 1)
	assert.Equal(t, types.FactoryTypeStl, manifest.Parts[0].Config.Type())
}

func TestManifestFileAdapterRejectsToolVersion(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "partcad: \">=99.0\"\n")

	_, err := NewManifestFileAdapter(NewTemplateEngine()).Load(t.Context(), dir, types.ManifestOptions{})
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeFailedPrecondition, errbuilder.CodeOf(err))
}

func TestManifestFileAdapterParseError(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "parts: [unclosed\n")

	_, err := NewManifestFileAdapter(NewTemplateEngine()).Load(t.Context(), dir, types.ManifestOptions{})
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}

func TestManifestFileAdapterMissing(t *testing.T) {
	_, err := NewManifestFileAdapter(NewTemplateEngine()).Load(t.Context(), t.TempDir(), types.ManifestOptions{})
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))
}

func TestCanonicalizeItemDefaults(t *testing.T) {
	cfg, err := CanonicalizeItem(types.ShapeKindSketch, map[string]any{"path": "outline.svg"})
	require.NoError(t, err)
	assert.Equal(t, types.FactoryTypeSvg, cfg.Type())

	cfg, err = CanonicalizeItem(types.ShapeKindPart, nil)
	require.NoError(t, err)
	assert.Equal(t, types.FactoryTypeCadQuery, cfg.Type())

	_, err = CanonicalizeItem(types.ShapeKindPart, 42)
	require.Error(t, err)
}
