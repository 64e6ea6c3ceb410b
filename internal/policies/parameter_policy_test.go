package policies

import (
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partcad/internal/types"
)

func floatRef(v float64) *float64 { return &v }

func TestCoerceParameter(t *testing.T) {
	tests := []struct {
		name  string
		param types.Parameter
		value any
		want  any
	}{
		{"int from float", types.Parameter{Name: "n", Type: types.ParameterTypeInt}, 3.0, 3},
		{"int from string", types.Parameter{Name: "n", Type: types.ParameterTypeInt}, "7", 7},
		{"float from int", types.Parameter{Name: "w", Type: types.ParameterTypeFloat}, 20, 20.0},
		{"float from string", types.Parameter{Name: "w", Type: types.ParameterTypeFloat}, "2.5", 2.5},
		{"bool from string", types.Parameter{Name: "b", Type: types.ParameterTypeBool}, "yes", true},
		{"bool from number", types.Parameter{Name: "b", Type: types.ParameterTypeBool}, 0, false},
		{"string from number", types.Parameter{Name: "s", Type: types.ParameterTypeString}, 12, "12"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CoerceParameter(tt.param, tt.value)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("unexpected value (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCoerceParameterRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		param types.Parameter
		value any
	}{
		{"not a number", types.Parameter{Name: "n", Type: types.ParameterTypeInt}, "abc"},
		{"below min", types.Parameter{Name: "w", Type: types.ParameterTypeFloat, Min: floatRef(1)}, 0.5},
		{"above max", types.Parameter{Name: "w", Type: types.ParameterTypeFloat, Max: floatRef(10)}, 11},
		{"outside enum", types.Parameter{Name: "s", Type: types.ParameterTypeString, Enum: []any{"m3", "m4"}}, "m5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CoerceParameter(tt.param, tt.value)
			require.Error(t, err)
			assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
		})
	}
}

func TestApplyOverridesIgnoresUnknown(t *testing.T) {
	params := map[string]types.Parameter{
		"width": {Name: "width", Type: types.ParameterTypeFloat, Default: 10.0},
	}
	out, unknown, err := ApplyOverrides(params, map[string]any{"width": 20, "depth": 3})
	require.NoError(t, err)
	assert.Equal(t, 20.0, out["width"].Default)
	assert.Equal(t, 10.0, params["width"].Default, "source parameters must not change")
	assert.Equal(t, []string{"depth"}, unknown)
}

func TestInferParameterType(t *testing.T) {
	assert.Equal(t, types.ParameterTypeBool, InferParameterType(true))
	assert.Equal(t, types.ParameterTypeInt, InferParameterType(4))
	assert.Equal(t, types.ParameterTypeFloat, InferParameterType(4.5))
	assert.Equal(t, types.ParameterTypeString, InferParameterType("m3"))
}
