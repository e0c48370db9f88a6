package ir

import (
	"fmt"
	"reflect"
)

// NormalizeValue canonicalizes property values so that structures decoded
// from YAML config and JSON state compare equal: map keys become strings
// and all numbers become float64.
func NormalizeValue(v any) any {
	switch val := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(val))
		for k, v := range val {
			m[fmt.Sprintf("%v", k)] = NormalizeValue(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, v := range val {
			m[k] = NormalizeValue(v)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, v := range val {
			s[i] = NormalizeValue(v)
		}
		return s
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return val
	}
}

// NormalizeProps normalizes a whole property map.
func NormalizeProps(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	return NormalizeValue(props).(map[string]any)
}

// DeepEqual is structural equality over normalized values.
func DeepEqual(a, b any) bool {
	return reflect.DeepEqual(NormalizeValue(a), NormalizeValue(b))
}
