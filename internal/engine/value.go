package engine

import (
	"fmt"

	"github.com/stackform-io/stackform/internal/ir"
)

// resolveRefs substitutes every ref://type/name/attribute in val with the
// referenced resource's applied output (falling back to its recorded
// input). Returns an error if a reference cannot be satisfied; callers
// only resolve after the dependency has been applied.
func resolveRefs(val any, state *ir.State) (any, error) {
	switch v := val.(type) {
	case string:
		typ, name, attr := splitRef(v)
		if typ == "" {
			return v, nil
		}
		entry := state.Find(typ + "." + name)
		if entry == nil {
			return nil, fmt.Errorf("reference %s: resource %s.%s not in state", v, typ, name)
		}
		if out, ok := entry.Outputs[attr]; ok {
			return out, nil
		}
		if in, ok := entry.Inputs[attr]; ok {
			return in, nil
		}
		return nil, fmt.Errorf("reference %s: attribute %q not found on %s", v, attr, entry.Addr())
	case map[string]any:
		m := make(map[string]any, len(v))
		for k, elem := range v {
			resolved, err := resolveRefs(elem, state)
			if err != nil {
				return nil, err
			}
			m[k] = resolved
		}
		return m, nil
	case []any:
		s := make([]any, len(v))
		for i, elem := range v {
			resolved, err := resolveRefs(elem, state)
			if err != nil {
				return nil, err
			}
			s[i] = resolved
		}
		return s, nil
	default:
		return v, nil
	}
}

// hasPendingRef reports whether val contains a reference to any address in
// the pending set. Such values are unknown until the dependency applies.
func hasPendingRef(val any, pending map[string]bool) bool {
	for _, ref := range ExtractRefs(val) {
		if pending[RefAddr(ref)] {
			return true
		}
	}
	return false
}

// ResolveOutputs resolves declared top-level output values against applied
// state. Outputs referencing resources that never applied fail.
func ResolveOutputs(outputs map[string]any, state *ir.State) (map[string]any, error) {
	if len(outputs) == 0 {
		return nil, nil
	}
	resolved := make(map[string]any, len(outputs))
	for name, val := range outputs {
		v, err := resolveRefs(val, state)
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", name, err)
		}
		resolved[name] = v
	}
	return resolved, nil
}
