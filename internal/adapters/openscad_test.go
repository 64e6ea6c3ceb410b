package adapters

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSCADRenderPassesDefines(t *testing.T) {
	mesh := binaryStl(t, [][3]float32{{0, 0, 0}, {3, 0, 0}, {0, 3, 3}})
	var got CommandSpec
	adapter := NewOpenSCADAdapter("")
	adapter.Run = func(_ context.Context, spec CommandSpec) (CommandOutput, error) {
		got = spec
		for i, arg := range spec.Args {
			if arg == "-o" {
				return CommandOutput{}, os.WriteFile(spec.Args[i+1], mesh, 0644)
			}
		}
		return CommandOutput{}, errors.New("no output argument")
	}

	shape, err := adapter.Render(t.Context(), "/pkg/gear.scad", map[string]any{"teeth": 12, "label": "g", "hollow": true})
	require.NoError(t, err)
	assert.Equal(t, 1, shape.Solids)
	assert.Equal(t, "openscad", got.Name)
	assert.Equal(t, "/pkg", got.Dir)

	want := []string{"-D", `hollow=true`, "-D", `label="g"`, "-D", "teeth=12", "/pkg/gear.scad"}
	if diff := cmp.Diff(want, got.Args[4:]); diff != "" {
		t.Fatalf("openscad args mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenSCADRenderMissingBinary(t *testing.T) {
	adapter := NewOpenSCADAdapter("openscad")
	adapter.Run = func(context.Context, CommandSpec) (CommandOutput, error) {
		return CommandOutput{}, &exec.Error{Name: "openscad", Err: exec.ErrNotFound}
	}
	_, err := adapter.Render(t.Context(), "/pkg/a.scad", nil)
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeFailedPrecondition, errbuilder.CodeOf(err))
}
