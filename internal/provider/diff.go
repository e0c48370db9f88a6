package provider

import (
	"github.com/stackform-io/stackform/internal/ir"
)

// StructuralDiff is the default attribute comparison providers delegate
// to: deep structural equality per attribute after normalization. A
// provider overrides the result only where a change has semantic weight,
// such as a rename that forces replacement.
func StructuralDiff(declared, prior map[string]any) *Delta {
	if prior == nil {
		return &Delta{Action: ir.ActionCreate}
	}

	var changed []string
	allKeys := make(map[string]bool)
	for k := range declared {
		allKeys[k] = true
	}
	for k := range prior {
		allKeys[k] = true
	}
	for k := range allKeys {
		dv, inDeclared := declared[k]
		pv, inPrior := prior[k]
		if !inDeclared || !inPrior || !ir.DeepEqual(dv, pv) {
			changed = append(changed, k)
		}
	}

	if len(changed) == 0 {
		return &Delta{Action: ir.ActionNoOp}
	}
	return &Delta{Action: ir.ActionUpdate, Changed: changed}
}
