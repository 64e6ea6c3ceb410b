package policies

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"partcad/internal/types"
)

// InferParameterType picks the declared type for a short-form parameter
// whose manifest value is a bare scalar.
func InferParameterType(value any) types.ParameterType {
	switch value.(type) {
	case bool:
		return types.ParameterTypeBool
	case int, int32, int64, uint32, uint64:
		return types.ParameterTypeInt
	case float32, float64:
		return types.ParameterTypeFloat
	default:
		return types.ParameterTypeString
	}
}

// CoerceParameter converts an override to the parameter's declared type and
// checks it against enum and range constraints.
func CoerceParameter(param types.Parameter, value any) (any, error) {
	coerced, err := coerce(param.Type, value)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("parameter %q: %v", param.Name, err))
	}
	if len(param.Enum) > 0 && !enumContains(param.Enum, coerced) {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("parameter %q: value %v is not one of %v", param.Name, coerced, param.Enum))
	}
	if number, ok := types.ToFloat(coerced); ok {
		if param.Min != nil && number < *param.Min {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("parameter %q: %v is below minimum %v", param.Name, coerced, *param.Min))
		}
		if param.Max != nil && number > *param.Max {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("parameter %q: %v is above maximum %v", param.Name, coerced, *param.Max))
		}
	}
	return coerced, nil
}

// ApplyOverrides returns a copy of params whose defaults are replaced by the
// coerced overrides. Unknown names are returned separately and otherwise
// ignored.
func ApplyOverrides(params map[string]types.Parameter, overrides map[string]any) (map[string]types.Parameter, []string, error) {
	out := make(map[string]types.Parameter, len(params))
	for name, param := range params {
		out[name] = param
	}
	var unknown []string
	for name, value := range overrides {
		param, ok := out[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		coerced, err := CoerceParameter(param, value)
		if err != nil {
			return nil, nil, err
		}
		param.Default = coerced
		out[name] = param
	}
	return out, unknown, nil
}

func coerce(typ types.ParameterType, value any) (any, error) {
	switch typ {
	case types.ParameterTypeInt:
		return toInt(value)
	case types.ParameterTypeFloat:
		return toFloat(value)
	case types.ParameterTypeBool:
		return toBool(value)
	case types.ParameterTypeString, "":
		if value == nil {
			return "", nil
		}
		if s, ok := value.(string); ok {
			return s, nil
		}
		return fmt.Sprint(value), nil
	default:
		return nil, fmt.Errorf("unsupported parameter type %q", typ)
	}
}

func toInt(value any) (any, error) {
	switch typed := value.(type) {
	case string:
		trimmed := strings.TrimSpace(typed)
		if parsed, err := strconv.Atoi(trimmed); err == nil {
			return parsed, nil
		}
		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to int", typed)
		}
		return int(math.Trunc(parsed)), nil
	case bool:
		if typed {
			return 1, nil
		}
		return 0, nil
	}
	if number, ok := types.ToFloat(value); ok {
		return int(math.Trunc(number)), nil
	}
	return nil, fmt.Errorf("cannot convert %T to int", value)
}

func toFloat(value any) (any, error) {
	if s, ok := value.(string); ok {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to float", s)
		}
		return parsed, nil
	}
	if number, ok := types.ToFloat(value); ok {
		return number, nil
	}
	return nil, fmt.Errorf("cannot convert %T to float", value)
}

func toBool(value any) (any, error) {
	switch typed := value.(type) {
	case bool:
		return typed, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(typed)) {
		case "true", "yes", "on", "1":
			return true, nil
		case "false", "no", "off", "0", "":
			return false, nil
		}
		return nil, fmt.Errorf("cannot convert %q to bool", typed)
	}
	if number, ok := types.ToFloat(value); ok {
		return number != 0, nil
	}
	return nil, fmt.Errorf("cannot convert %T to bool", value)
}

func enumContains(enum []any, value any) bool {
	for _, candidate := range enum {
		if reflect.DeepEqual(candidate, value) {
			return true
		}
		a, okA := types.ToFloat(candidate)
		b, okB := types.ToFloat(value)
		if okA && okB && a == b {
			return true
		}
		if s, ok := candidate.(string); ok && s == fmt.Sprint(value) {
			return true
		}
	}
	return false
}
