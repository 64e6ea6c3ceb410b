package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partcad/internal/types"
)

func TestLoadImportsAndMaterializesPart(t *testing.T) {
	runner := newFakeRunner()
	c := loadTree(t, map[string]string{
		"partcad.yaml": `
import:
  example_part_cadquery_primitive:
    type: local
    path: example_part_cadquery_primitive
`,
		"example_part_cadquery_primitive/partcad.yaml": `
parts:
  cube:
    type: cadquery
    path: cube.py
`,
		"example_part_cadquery_primitive/cube.py": "import cadquery as cq\nshow_object(cq.Workplane().box(1, 1, 1))\n",
	}, ".", runner)

	require.Empty(t, c.Problems())
	part, err := c.GetPart(t.Context(), "cube", "example_part_cadquery_primitive", nil)
	require.NoError(t, err)
	assert.Equal(t, "/example_part_cadquery_primitive:cube", part.FullName())

	shape, err := part.GetShape(t.Context())
	require.NoError(t, err)
	require.NotNil(t, shape)
	assert.Equal(t, 1, shape.SolidCount())
	assert.Equal(t, 1, runner.Calls("cube.py"))
}

func TestLoadImportCycleRecordedOnce(t *testing.T) {
	c := loadTree(t, map[string]string{
		"a/partcad.yaml": `
import:
  b:
    type: local
    path: ../b
parts:
  from_a:
    type: step
`,
		"b/partcad.yaml": `
import:
  a:
    type: local
    path: ../a
parts:
  from_b:
    type: step
`,
	}, "a", nil)

	if diff := cmp.Diff([]types.ErrorKind{types.ErrImportCycle}, problemKinds(c)); diff != "" {
		t.Fatalf("problems mismatch (-want +got):\n%s", diff)
	}
	require.NotNil(t, c.Package("/").Shape(types.ShapeKindPart, "from_a"))
	require.NotNil(t, c.Package("/b").Shape(types.ShapeKindPart, "from_b"))
	assert.Nil(t, c.Package("/b/a"))
	assert.True(t, c.HadErrors())
}

func TestLoadOrderIsDepthFirst(t *testing.T) {
	c := loadTree(t, map[string]string{
		"partcad.yaml": `
import:
  z:
    path: z
  a:
    path: a
parts:
  root_part:
    type: step
`,
		"z/partcad.yaml": `
import:
  inner:
    path: inner
parts:
  z_part:
    type: step
`,
		"z/inner/partcad.yaml": "parts:\n  inner_part:\n    type: step\n",
		"a/partcad.yaml":       "parts:\n  a_part:\n    type: step\n",
	}, ".", nil)

	require.Empty(t, c.Problems())
	if diff := cmp.Diff([]string{"/", "/z", "/z/inner", "/a"}, c.PackageOrder()); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}

	var parts []string
	for _, pkg := range c.PackagesMatching("/*") {
		for _, part := range pkg.Shapes(types.ShapeKindPart) {
			parts = append(parts, part.FullName())
		}
	}
	want := []string{"/:root_part", "/z:z_part", "/z/inner:inner_part", "/a:a_part"}
	if diff := cmp.Diff(want, parts); diff != "" {
		t.Fatalf("recursive listing mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRecordsProblemsAndKeepsGoing(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		want  []types.ErrorKind
	}{
		{
			name: "tool version mismatch",
			files: map[string]string{
				"partcad.yaml":     "import:\n  old:\n    path: old\n",
				"old/partcad.yaml": "partcad: \"<0.1\"\n",
			},
			want: []types.ErrorKind{types.ErrToolVersionMismatch},
		},
		{
			name: "missing import",
			files: map[string]string{
				"partcad.yaml": "import:\n  gone:\n    path: gone\n",
			},
			want: []types.ErrorKind{types.ErrMissingFile},
		},
		{
			name: "broken yaml",
			files: map[string]string{
				"partcad.yaml":     "import:\n  bad:\n    path: bad\n",
				"bad/partcad.yaml": "parts: [\n",
			},
			want: []types.ErrorKind{types.ErrManifestParse},
		},
		{
			name: "unknown factory type",
			files: map[string]string{
				"partcad.yaml": "parts:\n  odd:\n    type: clay\n",
			},
			want: []types.ErrorKind{types.ErrUnknownFactoryType},
		},
		{
			name: "maybe empty import",
			files: map[string]string{
				"partcad.yaml": "import:\n  optional:\n    path: optional\n    maybeEmpty: true\n",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := loadTree(t, tt.files, ".", nil)
			if diff := cmp.Diff(tt.want, problemKinds(c)); diff != "" {
				t.Fatalf("problems mismatch (-want +got):\n%s", diff)
			}
			assert.NotNil(t, c.Package(types.RootPackageName))
		})
	}
}

func TestLoadSamePackageTwiceIsNoop(t *testing.T) {
	c := loadTree(t, map[string]string{
		"partcad.yaml": `
import:
  lib:
    path: lib
  again:
    path: lib
`,
		"lib/partcad.yaml": "parts:\n  p:\n    type: step\n",
	}, ".", nil)

	require.Empty(t, c.Problems())
	lib := c.Package("/lib")
	again := c.Package("/again")
	require.NotNil(t, lib)
	require.NotNil(t, again)
	assert.NotSame(t, lib, again)

	newLoader(c).load(t.Context(), "/lib", lib.Dir, false)
	assert.Same(t, lib, c.Package("/lib"))
	assert.Len(t, c.PackageOrder(), 3)
}

func TestSearchRootMakesStartCurrent(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"partcad.yaml":          "import:\n  sub:\n    path: sub\n",
		"sub/partcad.yaml":      "parts:\n  bolt:\n    path: bolt.step\n",
		"sub/bolt.step":         stepBolt,
		"unrelated/readme.txt":  "no manifest here",
	})
	c, err := NewContext(t.Context(), filepath.Join(root, "sub"), testConfig(t), testPorts(nil), ContextOptions{SearchRoot: true})
	require.NoError(t, err)
	assert.Equal(t, "/sub", c.CurrentName)
	assert.Same(t, c.Package("/sub"), c.Package("."))

	part, err := c.GetPart(t.Context(), "bolt", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "/sub:bolt", part.FullName())
}

func TestNewContextFailsWithoutRootManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	_, err := NewContext(t.Context(), dir, testConfig(t), testPorts(nil), ContextOptions{})
	require.Error(t, err)
}
