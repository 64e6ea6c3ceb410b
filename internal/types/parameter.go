package types

import "sort"

type Parameter struct {
	Name    string
	Type    ParameterType
	Default any
	Min     *float64
	Max     *float64
	Enum    []any
	Desc    string
}

// ParseParameters reads the canonical `parameters` map of an item. Entries
// that are not maps are skipped; the manifest loader expands scalars first.
func ParseParameters(cfg ItemConfig) map[string]Parameter {
	raw := cfg.Map("parameters")
	if len(raw) == 0 {
		return map[string]Parameter{}
	}
	params := make(map[string]Parameter, len(raw))
	for name, value := range raw {
		entry, ok := value.(map[string]any)
		if !ok {
			continue
		}
		param := Parameter{
			Name:    name,
			Default: entry["default"],
			Min:     floatPtr(entry["min"]),
			Max:     floatPtr(entry["max"]),
		}
		if typ, ok := entry["type"].(string); ok {
			param.Type = ParameterType(typ)
		}
		if desc, ok := entry["desc"].(string); ok {
			param.Desc = desc
		}
		if enum, ok := entry["enum"].([]any); ok {
			param.Enum = enum
		}
		params[name] = param
	}
	return params
}

// DefaultValues returns every parameter's default keyed by name.
func DefaultValues(params map[string]Parameter) map[string]any {
	out := make(map[string]any, len(params))
	for name, param := range params {
		out[name] = param.Default
	}
	return out
}

func SortedParameterNames(params map[string]Parameter) []string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func floatPtr(value any) *float64 {
	if f, ok := ToFloat(value); ok {
		return &f
	}
	return nil
}

// ToFloat converts the numeric kinds a YAML or msgpack decoder produces.
func ToFloat(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case uint64:
		return float64(typed), true
	case uint32:
		return float64(typed), true
	default:
		return 0, false
	}
}
