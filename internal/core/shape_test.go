package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partcad/internal/kernel"
	"partcad/internal/types"
)

const primitiveTree = `
parts:
  cube:
    type: cadquery
    path: cube.py
    parameters:
      length: 10.0
      width: 10.0
      height:
        type: float
        default: 10.0
        min: 1
        max: 100
`

func TestGetShapeReturnsSameHandleAndBuildsOnce(t *testing.T) {
	runner := newFakeRunner()
	runner.delay = 20 * time.Millisecond
	c := loadTree(t, map[string]string{
		"partcad.yaml": primitiveTree,
		"cube.py":      "show_object(None)\n",
	}, ".", runner)

	part, err := c.GetPart(t.Context(), "cube", "", nil)
	require.NoError(t, err)

	const workers = 16
	results := make([]*kernel.Shape, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shape, err := part.GetShape(t.Context())
			assert.NoError(t, err)
			results[i] = shape
		}()
	}
	wg.Wait()

	for _, shape := range results {
		assert.Same(t, results[0], shape)
	}
	again, err := part.GetShape(t.Context())
	require.NoError(t, err)
	assert.Same(t, results[0], again)
	assert.Equal(t, 1, runner.Calls("cube.py"))
	assert.Equal(t, 1, part.Materializations())
}

func TestGetShapeFailureRetryAndCache(t *testing.T) {
	tests := []struct {
		name          string
		cacheFailures bool
		wantSecondErr bool
		wantCalls     int
	}{
		{name: "retried by default", wantCalls: 2},
		{name: "cached when enabled", cacheFailures: true, wantSecondErr: true, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newFakeRunner()
			var mu sync.Mutex
			attempts := 0
			runner.shape = func(req types.ShapeScriptRequest) (types.ShapeScriptResult, error) {
				mu.Lock()
				defer mu.Unlock()
				attempts++
				if attempts == 1 {
					return types.ShapeScriptResult{Exception: "ZeroDivisionError", Stderr: "traceback", Kind: types.ErrKernelException}, nil
				}
				return types.ShapeScriptResult{Success: true, Shapes: []types.ShapePayload{boxPayload(nil)}}, nil
			}
			cfg := testConfig(t)
			cfg.CacheFailures = tt.cacheFailures
			c := loadTreeWith(t, map[string]string{
				"partcad.yaml": primitiveTree,
				"cube.py":      "1/0\n",
			}, ".", cfg, testPorts(runner))

			part, err := c.GetPart(t.Context(), "cube", "", nil)
			require.NoError(t, err)

			_, err = part.GetShape(t.Context())
			require.Error(t, err)
			assert.Equal(t, types.ErrKernelException, KindOf(err))
			assert.Equal(t, []string{"traceback"}, part.Diagnostics())
			require.Len(t, part.Problems(), 1)

			shape, err := part.GetShape(t.Context())
			if tt.wantSecondErr {
				require.Error(t, err)
				assert.Nil(t, shape)
			} else {
				require.NoError(t, err)
				assert.Equal(t, 1, shape.SolidCount())
			}
			assert.Equal(t, tt.wantCalls, runner.Calls("cube.py"))
			assert.True(t, c.HadErrors())
		})
	}
}

func TestGetShapeFailureKinds(t *testing.T) {
	tests := []struct {
		name   string
		files  map[string]string
		shape  func(req types.ShapeScriptRequest) (types.ShapeScriptResult, error)
		want   types.ErrorKind
		called bool
	}{
		{
			name:  "missing script",
			files: map[string]string{"partcad.yaml": primitiveTree},
			want:  types.ErrMissingFile,
		},
		{
			name:  "sandbox did not start",
			files: map[string]string{"partcad.yaml": primitiveTree, "cube.py": "x"},
			shape: func(types.ShapeScriptRequest) (types.ShapeScriptResult, error) {
				return types.ShapeScriptResult{}, errors.New("exec: python3.11: not found")
			},
			want:   types.ErrSandboxSpawnFailed,
			called: true,
		},
		{
			name:  "undecodable response",
			files: map[string]string{"partcad.yaml": primitiveTree, "cube.py": "x"},
			shape: func(types.ShapeScriptRequest) (types.ShapeScriptResult, error) {
				return types.ShapeScriptResult{Kind: types.ErrResponseDecodeFailed, Exception: "bad base64"}, nil
			},
			want:   types.ErrResponseDecodeFailed,
			called: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newFakeRunner()
			runner.shape = tt.shape
			c := loadTree(t, tt.files, ".", runner)
			part, err := c.GetPart(t.Context(), "cube", "", nil)
			require.NoError(t, err)

			_, err = part.GetShape(t.Context())
			require.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err))
			assert.Equal(t, tt.called, runner.TotalCalls() > 0)
			if diff := cmp.Diff([]types.ErrorKind{tt.want}, problemKinds(c)); diff != "" {
				t.Fatalf("problems mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGetShapeZeroShapesIsEmptyCompound(t *testing.T) {
	runner := newFakeRunner()
	runner.shape = func(types.ShapeScriptRequest) (types.ShapeScriptResult, error) {
		return types.ShapeScriptResult{Success: true}, nil
	}
	c := loadTree(t, map[string]string{"partcad.yaml": primitiveTree, "cube.py": "pass\n"}, ".", runner)

	part, err := c.GetPart(t.Context(), "cube", "", nil)
	require.NoError(t, err)
	shape, err := part.GetShape(t.Context())
	require.NoError(t, err)
	require.NotNil(t, shape)
	assert.Equal(t, kernel.FormatCompound, shape.Format)
	assert.Equal(t, 0, shape.SolidCount())
	assert.True(t, shape.IsEmpty())
}

func TestGetShapeCancelledScript(t *testing.T) {
	runner := newFakeRunner()
	runner.delay = time.Minute
	c := loadTree(t, map[string]string{"partcad.yaml": primitiveTree, "cube.py": "x"}, ".", runner)
	part, err := c.GetPart(t.Context(), "cube", "", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	_, err = part.GetShape(ctx)
	require.Error(t, err)
	assert.Equal(t, types.ErrSandboxSpawnFailed, KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStepPartRunsNoScript(t *testing.T) {
	runner := newFakeRunner()
	c := loadTree(t, map[string]string{
		"partcad.yaml": "parts:\n  bolt:\n    path: bolt.step\n",
		"bolt.step":    stepBolt,
	}, ".", runner)

	part, err := c.GetPart(t.Context(), "bolt", "", nil)
	require.NoError(t, err)
	assert.Equal(t, types.FactoryTypeStep, part.Factory().Type())

	shape, err := part.GetShape(t.Context())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, shape.SolidCount(), 1)
	assert.Equal(t, types.Vec3{3, 3, 20}, shape.Box.Size())
	assert.Zero(t, runner.TotalCalls())
}

func TestEnrichPatchesParameterDefaults(t *testing.T) {
	runner := newFakeRunner()
	c := loadTree(t, map[string]string{
		"partcad.yaml": "import:\n  produce_part_cadquery_primitive:\n    path: produce\n",
		"produce/partcad.yaml": primitiveTree + `
  brick:
    type: enrich
    source: cube
    desc: a wider cube
    with:
      width: 20.0
`,
		"produce/cube.py": "x",
	}, ".", runner)

	brick, err := c.GetPart(t.Context(), "brick", "produce_part_cadquery_primitive", nil)
	require.NoError(t, err)
	params := brick.Config().Map("parameters")
	width, _ := params["width"].(map[string]any)
	assert.Equal(t, 20.0, width["default"])
	assert.Equal(t, "cube", brick.Config().String("orig_name"))
	assert.Equal(t, "a wider cube", brick.Desc())
	assert.Equal(t, types.FactoryTypeCadQuery, brick.Factory().Type())

	cube, err := c.GetPart(t.Context(), "cube", "produce_part_cadquery_primitive", nil)
	require.NoError(t, err)
	cubeShape, err := cube.GetShape(t.Context())
	require.NoError(t, err)
	brickShape, err := brick.GetShape(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 10.0, cubeShape.Box.Size()[1])
	assert.Equal(t, 20.0, brickShape.Box.Size()[1])
	assert.Equal(t, cubeShape.Box.Size()[0], brickShape.Box.Size()[0])

	cubeWidth, _ := cube.Config().Map("parameters")["width"].(map[string]any)
	assert.Equal(t, 10.0, cubeWidth["default"])
	assert.Equal(t, 2, runner.Calls("cube.py"))
	assert.Empty(t, c.Problems())
}

func TestEnrichReportsUnknownWithKeys(t *testing.T) {
	c := loadTree(t, map[string]string{
		"partcad.yaml": primitiveTree + `
  brick:
    type: enrich
    source: cube
    with:
      width: 20.0
      widht: 30.0
`,
		"cube.py": "x",
	}, ".", nil)

	brick, err := c.GetPart(t.Context(), "brick", "", nil)
	require.NoError(t, err)
	width, _ := brick.Config().Map("parameters")["width"].(map[string]any)
	assert.Equal(t, 20.0, width["default"])
	_, ok := brick.Parameters()["widht"]
	assert.False(t, ok)

	_, err = c.GetPart(t.Context(), "brick", "", nil)
	require.NoError(t, err)
	problems := c.Problems()
	require.Len(t, problems, 1)
	assert.Equal(t, types.ErrManifestParse, problems[0].Kind)
	assert.Contains(t, problems[0].Subject, "brick")
	assert.ErrorContains(t, problems[0].Err, "widht")
}

func TestAliasesShareGeometry(t *testing.T) {
	c := loadTree(t, map[string]string{
		"partcad.yaml": `
parts:
  bolt:
    path: bolt.step
    aliases: [m3_bolt]
  screw: bolt
`,
		"bolt.step": stepBolt,
	}, ".", nil)

	bolt, err := c.GetPart(t.Context(), "bolt", "", nil)
	require.NoError(t, err)
	boltShape, err := bolt.GetShape(t.Context())
	require.NoError(t, err)

	for _, name := range []string{"m3_bolt", "screw", "/:screw"} {
		alias, err := c.GetPart(t.Context(), name, "", nil)
		require.NoError(t, err, name)
		shape, err := alias.GetShape(t.Context())
		require.NoError(t, err, name)
		assert.Same(t, boltShape, shape, name)
	}
	assert.Equal(t, 1, bolt.Materializations())
}

func TestAliasCycleIsLookupError(t *testing.T) {
	c := loadTree(t, map[string]string{
		"partcad.yaml": "parts:\n  x: y\n  y: x\n",
	}, ".", nil)

	_, err := c.GetPart(t.Context(), "x", "", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrMissingDependency, KindOf(err))
	assert.Contains(t, err.Error(), "cycle")
}

func TestParameterOverridesShareOneVariant(t *testing.T) {
	runner := newFakeRunner()
	c := loadTree(t, map[string]string{"partcad.yaml": primitiveTree, "cube.py": "x"}, ".", runner)

	first, err := c.GetPart(t.Context(), "cube", "", map[string]any{"length": "5", "color": "red"})
	require.NoError(t, err)
	second, err := c.GetPart(t.Context(), "cube", "", map[string]any{"length": 5.0})
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, "cube;length=5", first.Name)

	shape, err := first.GetShape(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 5.0, shape.Box.Size()[0])
	_, err = second.GetShape(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, runner.Calls("cube.py"))

	original, err := c.GetPart(t.Context(), "cube", "", nil)
	require.NoError(t, err)
	assert.Equal(t, 10.0, original.ParameterValues()["length"])

	unknownOnly, err := c.GetPart(t.Context(), "cube", "", map[string]any{"color": "red"})
	require.NoError(t, err)
	assert.Same(t, original, unknownOnly)

	_, err = c.GetPart(t.Context(), "cube", "", map[string]any{"height": 500})
	require.Error(t, err)
}

func TestBasicFactoryGeneratesScript(t *testing.T) {
	runner := newFakeRunner()
	c := loadTree(t, map[string]string{
		"partcad.yaml": `
parts:
  rod:
    type: basic
    cylinder:
      radius: 5
      height: 40
`,
	}, ".", runner)

	rod, err := c.GetPart(t.Context(), "rod", "", nil)
	require.NoError(t, err)
	_, err = rod.GetShape(t.Context())
	require.NoError(t, err)

	require.Len(t, runner.requests, 1)
	req := runner.requests[0]
	assert.Equal(t, types.FactoryTypeBasic, req.Kernel)
	assert.True(t, strings.HasPrefix(req.ScriptPath, filepath.Join(c.Config.StateDir, "generated")))
	script, err := os.ReadFile(req.ScriptPath)
	require.NoError(t, err)
	assert.Contains(t, string(script), "radius = 5.0\n")
	assert.Contains(t, string(script), "height = 40.0\n")
	assert.Contains(t, string(script), "cylinder(height, radius")
}

func TestExtrudePassesSketchAsInput(t *testing.T) {
	runner := newFakeRunner()
	c := loadTree(t, map[string]string{
		"partcad.yaml": `
sketches:
  outline:
    path: outline.dxf
parts:
  plate:
    type: extrude
    sketch: outline
    depth: 3
`,
		"outline.dxf": "0\nSECTION\n",
	}, ".", runner)

	plate, err := c.GetPart(t.Context(), "plate", "", nil)
	require.NoError(t, err)
	_, err = plate.GetShape(t.Context())
	require.NoError(t, err)

	require.Len(t, runner.requests, 1)
	req := runner.requests[0]
	assert.Equal(t, types.FactoryTypeExtrude, req.Kernel)
	require.Len(t, req.Inputs, 1)
	assert.Equal(t, kernel.FormatDxf, req.Inputs[0].Format)
}

func TestExtrudeInputsKeepLeafLocations(t *testing.T) {
	left := types.Location{Translation: types.Vec3{-10, 0, 0}, Axis: types.Vec3{0, 0, 1}}
	right := types.Location{Translation: types.Vec3{10, 0, 0}, Axis: types.Vec3{0, 0, 1}, Angle: 90}
	profile := kernel.Compound(
		kernel.Located{Shape: kernel.FromPayload(boxPayload(nil)), Location: left},
		kernel.Located{Shape: kernel.FromPayload(boxPayload(nil)), Location: right},
		kernel.Located{Shape: kernel.FromPayload(boxPayload(nil)), Location: types.IdentityLocation()},
	)

	inputs := locatedInputs(profile)
	require.Len(t, inputs, 3)
	for i, want := range []types.Location{left, right} {
		got, err := types.ParseLocation(inputs[i].Location)
		require.NoError(t, err)
		assert.Equal(t, want.Translation, got.Translation)
		assert.InDelta(t, want.Angle, got.Angle, 1e-9)
	}
	assert.Nil(t, inputs[2].Location)
}

type fakeGenerator struct {
	calls int
}

func (g *fakeGenerator) Generate(_ context.Context, req types.GenerateRequest) (string, error) {
	g.calls++
	if err := os.WriteFile(req.OutputPath, []byte("# "+req.Prompt+"\n"), 0644); err != nil {
		return "", err
	}
	return req.OutputPath, nil
}

func TestAIFactoryGeneratesMissingScriptOnce(t *testing.T) {
	runner := newFakeRunner()
	generator := &fakeGenerator{}
	p := testPorts(runner)
	p.Generator = generator
	c := loadTreeWith(t, map[string]string{
		"partcad.yaml": `
parts:
  bracket:
    type: ai-cadquery
    desc: an L bracket
`,
	}, ".", testConfig(t), p)

	bracket, err := c.GetPart(t.Context(), "bracket", "", nil)
	require.NoError(t, err)
	_, err = bracket.GetShape(t.Context())
	require.NoError(t, err)
	assert.FileExists(t, bracket.Path())
	assert.Equal(t, 1, generator.calls)
	require.Len(t, runner.requests, 1)
	assert.Equal(t, types.FactoryTypeCadQuery, runner.requests[0].Kernel)
}

func TestAIFactoryWithoutGenerator(t *testing.T) {
	c := loadTree(t, map[string]string{
		"partcad.yaml": "parts:\n  bracket:\n    type: ai-openscad\n",
	}, ".", newFakeRunner())
	bracket, err := c.GetPart(t.Context(), "bracket", "", nil)
	require.NoError(t, err)
	_, err = bracket.GetShape(t.Context())
	require.Error(t, err)
	assert.Equal(t, types.ErrMissingDependency, KindOf(err))
}
