package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/logging"
	"github.com/stackform-io/stackform/internal/provider"
)

// Engine orchestrates diffing and applying resource graphs.
type Engine struct {
	registry *provider.Registry

	// Parallelism bounds the apply worker pool.
	Parallelism int

	// Retry governs backoff for transient provider errors.
	Retry *RetryPolicy

	// VerifyAfterApply enables the post-apply read that detects immediate
	// drift and taints the entry.
	VerifyAfterApply bool
}

func NewEngine(registry *provider.Registry) *Engine {
	return &Engine{
		registry:    registry,
		Parallelism: DefaultParallelism,
		Retry:       DefaultRetryPolicy(),
	}
}

// CreatePlan diffs the declared configuration against the stored state and
// returns the per-resource actions. The plan is never persisted; it records
// the state revision it was computed against so apply can re-check it.
func (e *Engine) CreatePlan(ctx context.Context, cfg *ir.Config, state *ir.State) (*ir.Plan, error) {
	logging.Debug("creating plan", "resources", len(cfg.Resources), "state_resources", len(state.Resources))

	resources := Expand(cfg.Resources)

	graph, err := BuildGraph(resources)
	if err != nil {
		return nil, err
	}

	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
			StateRevision: state.Revision,
		},
		Summary: &ir.PlanSummary{},
		Outputs: cfg.Outputs,
	}

	configByAddr := make(map[string]*ir.Resource, len(resources))
	for _, res := range resources {
		configByAddr[res.Addr()] = res
	}

	// Addresses with pending changes. References to these cannot be
	// resolved at plan time; creation-order iteration guarantees a
	// dependency's action is decided before its dependents are examined.
	pending := make(map[string]bool)

	for _, addr := range graph.CreationOrder() {
		res := configByAddr[addr]
		prov, err := e.registry.Get(res.Provider)
		if err != nil {
			return nil, err
		}

		declared := ir.NormalizeProps(res.Properties)
		prior := state.Find(addr)

		change, err := e.diffResource(ctx, prov, res, declared, prior, state, pending)
		if err != nil {
			return nil, fmt.Errorf("plan failed for %s: %w", addr, err)
		}

		switch change.Action {
		case ir.ActionNoOp:
			plan.Summary.NoOp++
		case ir.ActionCreate:
			plan.Summary.Create++
		case ir.ActionUpdate:
			plan.Summary.Update++
		case ir.ActionReplace:
			plan.Summary.Replace++
		}
		if change.Action != ir.ActionNoOp {
			if err := enforceLifecycle(res, change.Action); err != nil {
				return nil, err
			}
			pending[addr] = true
			plan.Changes = append(plan.Changes, change)
		}
	}

	// State entries absent from config are deleted.
	for _, entry := range state.Resources {
		if _, declared := configByAddr[entry.Addr()]; declared {
			continue
		}
		if entry.PreventDestroy {
			return nil, fmt.Errorf("resource %s has preventDestroy set but is no longer declared", entry.Addr())
		}
		plan.Changes = append(plan.Changes, &ir.ResourceChange{
			Address: entry.Addr(),
			Action:  ir.ActionDelete,
			Prior:   entry,
			Diff:    buildDeleteDiff(entry.Inputs),
		})
		plan.Summary.Delete++
	}

	return plan, nil
}

// diffResource decides the action for one declared resource.
func (e *Engine) diffResource(ctx context.Context, prov provider.Provider, res *ir.Resource,
	declared map[string]any, prior *ir.ResourceState, state *ir.State, pending map[string]bool) (*ir.ResourceChange, error) {

	addr := res.Addr()
	change := &ir.ResourceChange{
		Address: addr,
		Desired: res,
		Prior:   prior,
	}

	if prior == nil {
		change.Action = ir.ActionCreate
		change.Diff = buildCreateDiff(declared, pending)
		return change, nil
	}

	if prior.Tainted {
		change.Action = ir.ActionReplace
		change.Diff = buildUpdateDiff(prior.Inputs, declared, state, pending)
		return change, nil
	}

	// Attributes referencing a pending dependency are unknown until the
	// dependency applies; the comparison is deferred, so the resource is
	// provisionally planned as an update and re-resolved before execution.
	unknown := make(map[string]bool)
	comparable := make(map[string]any, len(declared))
	for k, v := range declared {
		if hasPendingRef(v, pending) {
			unknown[k] = true
			continue
		}
		resolved, err := resolveRefs(v, state)
		if err != nil {
			return nil, err
		}
		comparable[k] = resolved
	}

	delta, err := prov.Diff(ctx, res.Type, comparable, prior.Inputs)
	if err != nil {
		return nil, err
	}

	action := delta.Action
	changed := delta.Changed
	if len(unknown) > 0 && action == ir.ActionNoOp {
		action = ir.ActionUpdate
	}

	// Changes confined to ignored attributes are dropped.
	if action == ir.ActionUpdate && res.Lifecycle != nil && len(res.Lifecycle.IgnoreChanges) > 0 {
		if allIgnored(changed, unknown, res.Lifecycle.IgnoreChanges) {
			action = ir.ActionNoOp
		}
	}

	change.Action = action
	if action != ir.ActionNoOp {
		change.Diff = buildUpdateDiff(prior.Inputs, declared, state, pending)
	}
	return change, nil
}

func enforceLifecycle(res *ir.Resource, action ir.Action) error {
	if res.Lifecycle == nil {
		return nil
	}
	if res.Lifecycle.PreventDestroy && (action == ir.ActionDelete || action == ir.ActionReplace) {
		return fmt.Errorf("resource %s has preventDestroy set but plan requires destruction", res.Addr())
	}
	return nil
}

func allIgnored(changed []string, unknown map[string]bool, ignore []string) bool {
	ignoreSet := make(map[string]bool, len(ignore))
	for _, attr := range ignore {
		ignoreSet[attr] = true
	}
	if len(changed) == 0 && len(unknown) == 0 {
		return false
	}
	for _, attr := range changed {
		if !ignoreSet[attr] {
			return false
		}
	}
	for attr := range unknown {
		if !ignoreSet[attr] {
			return false
		}
	}
	return true
}

func buildCreateDiff(declared map[string]any, pending map[string]bool) map[string]*ir.AttributeDiff {
	diff := make(map[string]*ir.AttributeDiff, len(declared))
	for k, v := range declared {
		diff[k] = &ir.AttributeDiff{
			After:   v,
			Unknown: hasPendingRef(v, pending),
			Action:  "create",
		}
	}
	return diff
}

func buildDeleteDiff(inputs map[string]any) map[string]*ir.AttributeDiff {
	diff := make(map[string]*ir.AttributeDiff, len(inputs))
	for k, v := range inputs {
		diff[k] = &ir.AttributeDiff{
			Before: v,
			Action: "delete",
		}
	}
	return diff
}

func buildUpdateDiff(prior, declared map[string]any, state *ir.State, pending map[string]bool) map[string]*ir.AttributeDiff {
	diff := make(map[string]*ir.AttributeDiff)

	allKeys := make(map[string]bool)
	for k := range prior {
		allKeys[k] = true
	}
	for k := range declared {
		allKeys[k] = true
	}

	for k := range allKeys {
		priorVal, inPrior := prior[k]
		declaredVal, inDeclared := declared[k]

		switch {
		case !inPrior:
			diff[k] = &ir.AttributeDiff{
				After:   declaredVal,
				Unknown: hasPendingRef(declaredVal, pending),
				Action:  "create",
			}
		case !inDeclared:
			diff[k] = &ir.AttributeDiff{Before: priorVal, Action: "delete"}
		default:
			if hasPendingRef(declaredVal, pending) {
				diff[k] = &ir.AttributeDiff{
					Before:  priorVal,
					After:   declaredVal,
					Unknown: true,
					Action:  "update",
				}
				continue
			}
			resolved, err := resolveRefs(declaredVal, state)
			if err != nil {
				resolved = declaredVal
			}
			if !ir.DeepEqual(priorVal, resolved) {
				diff[k] = &ir.AttributeDiff{Before: priorVal, After: resolved, Action: "update"}
			}
		}
	}

	return diff
}
