package workflow

import (
	"encoding/json"
	"regexp"
)

var placeholderRE = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Render substitutes {name} placeholders in value from vars, recursing into
// maps and slices. A placeholder whose name is not in vars is left literal so
// the miss is visible in the step trace. Map and slice values are
// JSON-encoded when substituted into a string.
func Render(value any, vars map[string]any) any {
	switch v := value.(type) {
	case string:
		return placeholderRE.ReplaceAllStringFunc(v, func(ph string) string {
			name := ph[1 : len(ph)-1]
			val, ok := vars[name]
			if !ok {
				return ph
			}
			return stringify(val)
		})
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = Render(item, vars)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Render(item, vars)
		}
		return out
	default:
		return value
	}
}

// RenderInput renders a step input map.
func RenderInput(input map[string]any, vars map[string]any) map[string]any {
	if input == nil {
		return map[string]any{}
	}
	return Render(input, vars).(map[string]any)
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		s := string(b)
		// bare scalars come back quoted only for strings, which the first
		// case already handled
		return s
	}
}
