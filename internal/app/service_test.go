package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"partcad/internal/core"
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

type providerRunner struct {
	answer func(req types.ProviderScriptRequest) map[string]any
}

func (r providerRunner) RunShapeScript(context.Context, types.ShapeScriptRequest) (types.ShapeScriptResult, error) {
	return types.ShapeScriptResult{Exception: "no kernel in tests"}, nil
}

func (r providerRunner) RunProviderScript(_ context.Context, req types.ProviderScriptRequest) (types.ProviderScriptResult, error) {
	return types.ProviderScriptResult{Output: r.answer(req)}, nil
}

func newTestService(t *testing.T) Service {
	t.Helper()
	cfg := types.DefaultUserConfig()
	cfg.StateDir = filepath.Join(t.TempDir(), "state")
	cfg.ThreadsMax = 2
	return NewService(cfg)
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(strings.TrimLeft(content, "\n")), 0644))
	}
}

func readManifest(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(data, &doc))
	return doc
}

func TestInitAndAdd(t *testing.T) {
	service := newTestService(t)
	root := t.TempDir()
	dir := filepath.Join(root, "widget")
	writeFiles(t, root, map[string]string{
		"lib/partcad.yaml":  "desc: shared parts\n",
		"widget/bolt.step":  stepBolt,
		"widget/frame.assy": "links:\n  - part: bolt\n",
	})

	result, err := service.Init(t.Context(), InitRequest{Dir: dir, Desc: "demo widget", Private: true})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, types.ManifestFileYAML), result.ManifestPath)

	_, err = service.Init(t.Context(), InitRequest{Dir: dir, Private: true})
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeAlreadyExists, errbuilder.CodeOf(err))

	entry, err := service.AddImport(t.Context(), AddImportRequest{Dir: dir, Location: "../lib"})
	require.NoError(t, err)
	assert.Equal(t, "lib", entry.Name)
	assert.Equal(t, types.SourceTypeLocal, entry.Type)

	part, err := service.AddItem(t.Context(), AddItemRequest{Dir: dir, Kind: types.ShapeKindPart, Path: "bolt.step", Desc: "M3 bolt"})
	require.NoError(t, err)
	assert.Equal(t, AddItemResult{Name: "bolt", Type: types.FactoryTypeStep}, part)

	_, err = service.AddItem(t.Context(), AddItemRequest{Dir: dir, Kind: types.ShapeKindAssembly, Path: "frame.assy", Name: "main"})
	require.NoError(t, err)

	doc := readManifest(t, result.ManifestPath)
	want := map[string]any{
		"partcad": ">=0.7.0",
		"desc":    "demo widget",
		"import":  map[string]any{"lib": map[string]any{"type": "local", "path": "../lib"}},
		"parts":   map[string]any{"bolt": map[string]any{"type": "step", "desc": "M3 bolt"}},
		"assemblies": map[string]any{
			"main": map[string]any{"type": "assy", "path": "frame.assy"},
		},
	}
	if diff := cmp.Diff(want, doc); diff != "" {
		t.Fatalf("manifest mismatch (-want +got):\n%s", diff)
	}

	info, err := service.Info(t.Context(), Target{Path: dir})
	require.NoError(t, err)
	assert.Equal(t, "/", info.Name)
	assert.Equal(t, "demo widget", info.Desc)
	assert.Equal(t, []string{"lib"}, info.Imports)
	assert.Equal(t, 1, info.Counts[types.ShapeKindPart])
	assert.Equal(t, 1, info.Counts[types.ShapeKindAssembly])
	assert.Empty(t, info.Problems)

	lib, err := service.Info(t.Context(), Target{Path: dir, Package: "lib"})
	require.NoError(t, err)
	assert.Equal(t, "shared parts", lib.Desc)
}

func TestAddRejects(t *testing.T) {
	service := newTestService(t)
	dir := t.TempDir()

	_, err := service.AddItem(t.Context(), AddItemRequest{Dir: dir, Kind: types.ShapeKindPart, Path: "bolt.step"})
	assert.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err), "no manifest yet")

	_, err = service.Init(t.Context(), InitRequest{Dir: dir, Private: true})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  AddItemRequest
	}{
		{name: "empty path", req: AddItemRequest{Kind: types.ShapeKindPart}},
		{name: "alias has no file", req: AddItemRequest{Kind: types.ShapeKindPart, Path: "x", Type: types.FactoryTypeAlias}},
		{name: "assembly from step", req: AddItemRequest{Kind: types.ShapeKindAssembly, Path: "bolt.step"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Dir = dir
			_, err := service.AddItem(t.Context(), tt.req)
			require.Error(t, err)
			assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
		})
	}

	_, err = service.AddImport(t.Context(), AddImportRequest{Dir: dir, Location: "./vendored", Revision: "v1"})
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}

func TestClassifyImport(t *testing.T) {
	tests := []struct {
		location string
		typ      types.SourceType
		alias    string
	}{
		{location: "https://github.com/partcad/partcad-index.git", typ: types.SourceTypeGit, alias: "partcad-index"},
		{location: "git@github.com:openvmp/robots.git", typ: types.SourceTypeGit, alias: "robots"},
		{location: "https://example.com/releases/fasteners.tar.gz", typ: types.SourceTypeTar, alias: "fasteners"},
		{location: "https://example.com/repo", typ: types.SourceTypeGit, alias: "repo"},
		{location: "../shared/", typ: types.SourceTypeLocal, alias: "shared"},
	}
	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			assert.Equal(t, tt.typ, classifyImport(tt.location).Type)
			assert.Equal(t, tt.alias, importAlias(tt.location))
		})
	}
}

func TestListRecursive(t *testing.T) {
	service := newTestService(t)
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"partcad.yaml": `
import:
  fasteners:
    path: fasteners
parts:
  plate:
    path: bolt.step
    desc: base plate
interfaces:
  m3: {}
`,
		"bolt.step": stepBolt,
		"fasteners/partcad.yaml": `
parts:
  bolt:
    path: ../bolt.step
providers:
  shop:
    type: store
`,
	})

	result, err := service.List(t.Context(), ListRequest{
		Target:    Target{Path: root},
		Kinds:     []ListKind{ListParts, ListProviders},
		Recursive: true,
	})
	require.NoError(t, err)
	want := []ListEntry{
		{Kind: ListParts, Package: "/", Name: "plate", Type: "step", Desc: "base plate"},
		{Kind: ListParts, Package: "/fasteners", Name: "bolt", Type: "step"},
		{Kind: ListProviders, Package: "/fasteners", Name: "shop", Type: "store"},
	}
	if diff := cmp.Diff(want, result.Entries); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}

	flat, err := service.List(t.Context(), ListRequest{Target: Target{Path: root}, Kinds: []ListKind{ListInterfaces, ListPackages}})
	require.NoError(t, err)
	require.Len(t, flat.Entries, 2)
	assert.Equal(t, "m3", flat.Entries[0].Name)
	assert.Equal(t, "/", flat.Entries[1].Name)

	_, err = service.List(t.Context(), ListRequest{Target: Target{Path: root}, Kinds: []ListKind{"gizmo"}})
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}

func TestListMates(t *testing.T) {
	service := newTestService(t)
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"partcad.yaml": `
interfaces:
  peg: {}
  hole:
    mates: peg
`,
	})
	result, err := service.ListMates(t.Context(), ListMatesRequest{Target: Target{Path: root}, Interface: "peg"})
	require.NoError(t, err)
	if diff := cmp.Diff([]MateEntry{{Source: "/:peg", Target: "/:hole", Reverse: true}}, result.Mates); diff != "" {
		t.Fatalf("mates mismatch (-want +got):\n%s", diff)
	}
}

func TestInspect(t *testing.T) {
	service := newTestService(t)
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"partcad.yaml": `
parts:
  bolt:
    path: bolt.step
assemblies:
  pair:
    links:
      - part: bolt
        name: left
      - part: bolt
        location: [[10, 0, 0], [0, 0, 1], 0]
`,
		"bolt.step": stepBolt,
	})

	part, err := service.Inspect(t.Context(), InspectRequest{Target: Target{Path: root}, Name: "bolt"})
	require.NoError(t, err)
	assert.Equal(t, "/:bolt", part.FullName)
	assert.Equal(t, types.FactoryTypeStep, part.Type)
	assert.Equal(t, 1, part.Solids)
	assert.Equal(t, types.Vec3{3, 3, 20}, part.Box.Size())

	pair, err := service.Inspect(t.Context(), InspectRequest{Target: Target{Path: root}, Kind: types.ShapeKindAssembly, Name: "pair"})
	require.NoError(t, err)
	assert.Equal(t, 2, pair.Solids)
	assert.Equal(t, []string{"left (/:bolt)", "/:bolt"}, pair.Children)
	assert.Equal(t, []types.BOMEntry{{Part: "/:bolt", Count: 2}}, pair.BOM)

	bomPath := filepath.Join(t.TempDir(), "pair.csv")
	pair, err = service.Inspect(t.Context(), InspectRequest{Target: Target{Path: root}, Kind: types.ShapeKindAssembly, Name: "pair", BOMOut: bomPath})
	require.NoError(t, err)
	assert.Equal(t, bomPath, pair.BOMPath)
	data, err := os.ReadFile(bomPath)
	require.NoError(t, err)
	assert.Equal(t, "part,count\n/:bolt,2\n", string(data))

	_, err = service.Inspect(t.Context(), InspectRequest{Target: Target{Path: root}, Name: "bolt", BOMOut: bomPath})
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))

	_, err = service.Inspect(t.Context(), InspectRequest{Target: Target{Path: root}, Name: ""})
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}

func TestStatusAndVersion(t *testing.T) {
	service := newTestService(t)
	status, err := service.Status(t.Context())
	require.NoError(t, err)
	assert.Empty(t, status.Entries)
	assert.Equal(t, service.Config.StateDir, status.StateDir)

	version := service.Version()
	assert.Equal(t, types.ToolVersion, version.Tool)
	assert.Equal(t, types.DefaultPythonVersion, version.Python)
}

func TestInstallForceKeepsServiceUntouched(t *testing.T) {
	service := newTestService(t)
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"partcad.yaml":     "import:\n  sub:\n    path: sub\n",
		"sub/partcad.yaml": "desc: sub\n",
	})
	result, err := service.Install(t.Context(), InstallRequest{Target: Target{Path: root}, Force: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"/", "/sub"}, result.Packages)
	assert.False(t, service.Config.ForceUpdate)
}

func TestHints(t *testing.T) {
	assert.Empty(t, Hints(nil))
	hints := Hints([]core.Problem{
		{Kind: types.ErrSandboxSpawnFailed},
		{Kind: types.ErrFetchFailed},
		{Kind: types.ErrFetchFailed},
		{Kind: types.ErrManifestParse},
	})
	require.Len(t, hints, 2)
	assert.True(t, strings.HasPrefix(hints[0], "hint: fetch-failed"))
	assert.True(t, strings.HasPrefix(hints[1], "hint: sandbox-spawn-failed"))
}

func TestSupply(t *testing.T) {
	service := newTestService(t)
	service.Runner = providerRunner{answer: func(req types.ProviderScriptRequest) map[string]any {
		switch req.Action {
		case types.ProviderActionCaps:
			return map[string]any{"vendors": []any{"mcmaster"}}
		case types.ProviderActionAvail:
			return map[string]any{"available": true}
		case types.ProviderActionQuote:
			return map[string]any{"quote_id": "q-7", "price": 3.5, "currency": "USD"}
		default:
			return map[string]any{"order_id": "o-7"}
		}
	}}
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"partcad.yaml": `
parts:
  screw:
    path: bolt.step
    vendor: mcmaster
    sku: 91290A115
  bracket:
    path: bolt.step
    manufacturable: {material: pla}
providers:
  shop:
    type: store
`,
		"bolt.step": stepBolt,
		"shop.py":   "# store\n",
	})
	req := SupplyRequest{Target: Target{Path: root}, Objects: []string{"screw#3", "bracket"}, QoS: "cheap"}

	found, err := service.SupplyFind(t.Context(), req)
	require.NoError(t, err)
	require.Len(t, found.Matches, 2)
	assert.Equal(t, []string{"/:shop"}, found.Matches[0].Providers)
	assert.Equal(t, 3, found.Matches[0].Item.Count)
	assert.Empty(t, found.Matches[1].Providers)

	quoted, err := service.SupplyQuote(t.Context(), req)
	require.NoError(t, err)
	require.Len(t, quoted.Quotes, 1)
	assert.Equal(t, "q-7", quoted.Quotes[0].QuoteID)
	require.Len(t, quoted.Unmatched, 1)
	assert.Equal(t, "/:bracket", quoted.Unmatched[0].Part)

	ordered, err := service.SupplyOrder(t.Context(), req)
	require.NoError(t, err)
	require.Len(t, ordered.Orders, 1)
	assert.Equal(t, "o-7", ordered.Orders[0].OrderID)

	caps, err := service.SupplyCaps(t.Context(), SupplyRequest{Target: Target{Path: root}, Provider: "shop"})
	require.NoError(t, err)
	assert.Equal(t, []string{"mcmaster"}, caps.Caps.Vendors)

	_, err = service.SupplyFind(t.Context(), SupplyRequest{Target: Target{Path: root}, Objects: []string{"screw#0"}})
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}

func TestParseObject(t *testing.T) {
	tests := []struct {
		object string
		ref    string
		count  int
		fails  bool
	}{
		{object: "bolt", ref: "bolt", count: 1},
		{object: "/fasteners:bolt#12", ref: "/fasteners:bolt", count: 12},
		{object: "bolt#", fails: true},
		{object: "#3", fails: true},
		{object: "bolt#-1", fails: true},
	}
	for _, tt := range tests {
		t.Run(tt.object, func(t *testing.T) {
			ref, count, err := parseObject(tt.object)
			if tt.fails {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ref, ref)
			assert.Equal(t, tt.count, count)
		})
	}
}
