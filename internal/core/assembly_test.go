package core

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partcad/internal/types"
)

const boltManifest = `
parts:
  bolt:
    path: bolt.step
  nut:
    path: bolt.step
assemblies:
  pair:
    path: pair.assy
`

func TestAssemblySamePartTwice(t *testing.T) {
	c := loadTree(t, map[string]string{
		"partcad.yaml": boltManifest,
		"bolt.step":    stepBolt,
		"pair.assy": `
links:
  - part: bolt
    name: left
  - part: bolt
    name: right
    location: [[10, 0, 0], [0, 0, 1], 90]
`,
	}, ".", nil)

	pair, err := c.GetAssembly(t.Context(), "pair", "", nil)
	require.NoError(t, err)
	children, err := pair.Children(t.Context())
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "left", children[0].Name)
	assert.Equal(t, types.Vec3{10, 0, 0}, children[1].Location.Translation)

	bolt, err := c.GetPart(t.Context(), "bolt", "", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, bolt.Count())
	assert.Same(t, bolt, children[0].Shape)

	shape, err := pair.GetShape(t.Context())
	require.NoError(t, err)
	assert.Len(t, shape.Children, 2)
	assert.Equal(t, 2, shape.SolidCount())
	assert.Equal(t, 2, bolt.Count(), "building geometry does not expand again")
}

func TestAssemblyBOMMultipliesThroughSubAssemblies(t *testing.T) {
	c := loadTree(t, map[string]string{
		"partcad.yaml": boltManifest + `
  frame:
    links:
      - assembly: pair
        location: [[0, 0, 0], [0, 0, 1], 0]
      - part: pair
        location: [[0, 50, 0], [0, 0, 1], 0]
      - links:
          - part: nut
          - part: nut
            location: [[0, 0, 5], [0, 0, 1], 0]
        location: [[1, 1, 1], [0, 0, 1], 0]
`,
		"bolt.step": stepBolt,
		"pair.assy": "links:\n  - part: bolt\n  - part: bolt\n",
	}, ".", nil)

	frame, err := c.GetAssembly(t.Context(), "frame", "", nil)
	require.NoError(t, err)
	children, err := frame.Children(t.Context())
	require.NoError(t, err)
	require.Len(t, children, 4)
	assert.Equal(t, types.Vec3{1, 1, 6}, children[3].Location.Translation)

	bom, err := frame.BOM(t.Context())
	require.NoError(t, err)
	want := []types.BOMEntry{
		{Part: "/:bolt", Count: 4},
		{Part: "/:nut", Count: 2},
	}
	if diff := cmp.Diff(want, bom); diff != "" {
		t.Fatalf("bom mismatch (-want +got):\n%s", diff)
	}

	pair, err := c.GetAssembly(t.Context(), "pair", "", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, pair.Count())
}

func TestAssemblyBOMMatchesCounts(t *testing.T) {
	c := loadTree(t, map[string]string{
		"partcad.yaml": boltManifest,
		"bolt.step":    stepBolt,
		"pair.assy":    "links:\n  - part: bolt\n  - part: nut\n  - part: bolt\n",
	}, ".", nil)

	pair, err := c.GetAssembly(t.Context(), "pair", "", nil)
	require.NoError(t, err)
	bom, err := pair.BOM(t.Context())
	require.NoError(t, err)

	total := 0
	for _, entry := range bom {
		total += entry.Count
	}
	increments := 0
	for _, part := range c.Package("/").Shapes(types.ShapeKindPart) {
		increments += part.Count()
	}
	assert.Equal(t, increments, total)
	assert.Equal(t, 3, total)
}

func TestAssemblyMissingChildIsOmitted(t *testing.T) {
	c := loadTree(t, map[string]string{
		"partcad.yaml": boltManifest,
		"bolt.step":    stepBolt,
		"pair.assy":    "links:\n  - part: bolt\n  - part: washer\n",
	}, ".", nil)

	pair, err := c.GetAssembly(t.Context(), "pair", "", nil)
	require.NoError(t, err)
	shape, err := pair.GetShape(t.Context())
	require.NoError(t, err)
	assert.Len(t, shape.Children, 1)
	if diff := cmp.Diff([]types.ErrorKind{types.ErrMissingDependency}, problemKinds(c)); diff != "" {
		t.Fatalf("problems mismatch (-want +got):\n%s", diff)
	}
}

func TestAssemblyMalformedLocationFails(t *testing.T) {
	c := loadTree(t, map[string]string{
		"partcad.yaml": boltManifest,
		"bolt.step":    stepBolt,
		"pair.assy":    "links:\n  - part: bolt\n    location: [1, 2]\n",
	}, ".", nil)

	pair, err := c.GetAssembly(t.Context(), "pair", "", nil)
	require.NoError(t, err)
	_, err = pair.GetShape(t.Context())
	require.Error(t, err)
	assert.Equal(t, types.ErrManifestParse, KindOf(err))

	bolt, err := c.GetPart(t.Context(), "bolt", "", nil)
	require.NoError(t, err)
	assert.Zero(t, bolt.Count())
}

func TestAssemblyTemplateExpansion(t *testing.T) {
	c := loadTree(t, map[string]string{
		"partcad.yaml": `
parts:
  bolt:
    path: bolt.step
assemblies:
  row:
    path: row.assy
    parameters:
      spacing: 25
`,
		"bolt.step": stepBolt,
		"row.assy": `
links:
  - part: bolt
    name: "{{ assembly_name }}-first"
  - part: bolt
    location: [[{{ spacing }}, 0, 0], [0, 0, 1], 0]
`,
	}, ".", nil)

	row, err := c.GetAssembly(t.Context(), "row", "", nil)
	require.NoError(t, err)
	children, err := row.Children(t.Context())
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "row-first", children[0].Name)
	assert.Equal(t, types.Vec3{25, 0, 0}, children[1].Location.Translation)
}

func TestAssemblyContainingItself(t *testing.T) {
	c := loadTree(t, map[string]string{
		"partcad.yaml": `
assemblies:
  loop:
    links:
      - assembly: loop
`,
	}, ".", nil)

	loop, err := c.GetAssembly(t.Context(), "loop", "", nil)
	require.NoError(t, err)
	_, err = loop.BOM(t.Context())
	require.Error(t, err)

	shape, err := loop.GetShape(t.Context())
	require.NoError(t, err)
	assert.Empty(t, shape.Children)
	assert.True(t, c.HadErrors())
}
