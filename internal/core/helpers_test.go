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

	"github.com/stretchr/testify/require"

	"partcad/internal/adapters"
	"partcad/internal/ports"
	"partcad/internal/types"
)

const stepBolt = `ISO-10303-21;
HEADER;
FILE_NAME('bolt.step','',(''),(''),'','','');
ENDSEC;
DATA;
#1 = CARTESIAN_POINT('',(0.,0.,0.));
#2 = CARTESIAN_POINT('',(3.,3.,20.));
#3 = MANIFOLD_SOLID_BREP('',#4);
ENDSEC;
END-ISO-10303-21;
`

// fakeRunner answers sandbox requests in memory. Shape scripts get a box
// sized by their length/width/height parameters unless a handler is set.
type fakeRunner struct {
	mu       sync.Mutex
	calls    map[string]int
	requests []types.ShapeScriptRequest
	delay    time.Duration
	shape    func(req types.ShapeScriptRequest) (types.ShapeScriptResult, error)
	provider func(req types.ProviderScriptRequest) (types.ProviderScriptResult, error)
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{calls: map[string]int{}}
}

func (r *fakeRunner) RunShapeScript(ctx context.Context, req types.ShapeScriptRequest) (types.ShapeScriptResult, error) {
	r.mu.Lock()
	r.calls[filepath.Base(req.ScriptPath)]++
	r.requests = append(r.requests, req)
	handler := r.shape
	r.mu.Unlock()
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return types.ShapeScriptResult{}, ctx.Err()
		}
	}
	if handler != nil {
		return handler(req)
	}
	return types.ShapeScriptResult{Success: true, Shapes: []types.ShapePayload{boxPayload(req.BuildParameters)}}, nil
}

func (r *fakeRunner) RunProviderScript(_ context.Context, req types.ProviderScriptRequest) (types.ProviderScriptResult, error) {
	r.mu.Lock()
	r.calls[filepath.Base(req.ScriptPath)+":"+string(req.Action)]++
	handler := r.provider
	r.mu.Unlock()
	if handler == nil {
		return types.ProviderScriptResult{}, errors.New("no provider handler")
	}
	return handler(req)
}

func (r *fakeRunner) Calls(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}

func (r *fakeRunner) TotalCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, n := range r.calls {
		total += n
	}
	return total
}

func boxPayload(params map[string]any) types.ShapePayload {
	dim := func(name string) float64 {
		if value, ok := types.ToFloat(params[name]); ok {
			return value
		}
		return 10
	}
	return types.ShapePayload{
		Format: "brep",
		Data:   []byte("So\n"),
		Solids: 1,
		BBox:   []float64{0, 0, 0, dim("length"), dim("width"), dim("height")},
	}
}

// writeTree creates files under root; keys are slash-separated paths.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(strings.TrimLeft(content, "\n")), 0644))
	}
}

func testPorts(runner *fakeRunner) Ports {
	templates := adapters.NewTemplateEngine()
	p := Ports{
		Manifests: adapters.NewManifestFileAdapter(templates),
		Templates: templates,
		Sources: map[types.SourceType]ports.SourcePort{
			types.SourceTypeLocal: adapters.NewLocalSource(),
		},
		Files: adapters.NewShapeFileAdapter(),
	}
	if runner != nil {
		p.Runner = runner
	}
	return p
}

func testConfig(t *testing.T) types.UserConfig {
	t.Helper()
	cfg := types.DefaultUserConfig()
	cfg.StateDir = filepath.Join(t.TempDir(), "state")
	cfg.ThreadsMax = 4
	return cfg
}

// loadTree writes files into a temp directory and opens a context on dir
// inside it.
func loadTree(t *testing.T, files map[string]string, dir string, runner *fakeRunner) *Context {
	t.Helper()
	return loadTreeWith(t, files, dir, testConfig(t), testPorts(runner))
}

func loadTreeWith(t *testing.T, files map[string]string, dir string, cfg types.UserConfig, p Ports) *Context {
	t.Helper()
	root := t.TempDir()
	writeTree(t, root, files)
	c, err := NewContext(t.Context(), filepath.Join(root, filepath.FromSlash(dir)), cfg, p, ContextOptions{})
	require.NoError(t, err)
	return c
}

func problemKinds(c *Context) []types.ErrorKind {
	var kinds []types.ErrorKind
	for _, problem := range c.Problems() {
		kinds = append(kinds, problem.Kind)
	}
	return kinds
}
