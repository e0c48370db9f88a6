package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/logging"
	"github.com/stackform-io/stackform/internal/provider"
)

// NodeStatus tracks a change through the executor's state machine:
// Pending -> Applying -> {Applied | Failed}. Blocked marks dependents of a
// failed node that were never started. Cancelled marks nodes not dispatched
// before a cancellation signal.
type NodeStatus string

const (
	StatusPending   NodeStatus = "pending"
	StatusApplying  NodeStatus = "applying"
	StatusApplied   NodeStatus = "applied"
	StatusFailed    NodeStatus = "failed"
	StatusBlocked   NodeStatus = "blocked"
	StatusCancelled NodeStatus = "cancelled"
)

// RunStatus is the terminal outcome of an apply run: the worst node-level
// outcome, or Cancelled when dispatch stopped on an external signal.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// NodeResult is the per-node outcome reported at end of run.
type NodeResult struct {
	Address  string
	Action   ir.Action
	Status   NodeStatus
	Duration time.Duration
	Err      error
}

// RunResult aggregates all node outcomes for one apply run.
type RunResult struct {
	Status RunStatus
	Nodes  map[string]*NodeResult
}

// Err returns the joined node failures, or nil when no node failed.
func (r *RunResult) Err() error {
	var errs []error
	for _, n := range r.Nodes {
		if n.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Address, n.Err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%d resource(s) failed: %w", len(errs), errors.Join(errs...))
}

// ApplyEvent reports progress during apply.
type ApplyEvent struct {
	Address  string
	Action   ir.Action
	Status   string // "started", "completed", "failed", "blocked"
	Duration time.Duration
	Error    error
}

// ApplyCallback is called for each apply event if set.
type ApplyCallback func(event ApplyEvent)

// StateSink durably commits state. The executor commits after every
// successful node so a crash mid-run leaves state consistent with exactly
// the nodes that completed.
type StateSink interface {
	Commit(ctx context.Context, state *ir.State) error
}

// ApplyPlan executes a plan, mutating state in place and committing it
// through sink after each node-level success.
func (e *Engine) ApplyPlan(ctx context.Context, plan *ir.Plan, state *ir.State, sink StateSink) (*RunResult, error) {
	return e.ApplyPlanWithCallback(ctx, plan, state, sink, nil)
}

// ApplyPlanWithCallback executes a plan with progress event callbacks.
// Creates and updates run first, in dependency order; deletes run after,
// in reverse dependency order. Each stage executes with bounded
// concurrency: a node is dispatched only when every gating node reached
// Applied, independent subgraphs run in parallel, and a failure blocks
// only the failed node's dependents.
func (e *Engine) ApplyPlanWithCallback(ctx context.Context, plan *ir.Plan, state *ir.State, sink StateSink, callback ApplyCallback) (*RunResult, error) {
	if plan.Metadata != nil && plan.Metadata.StateRevision != state.Revision {
		return nil, &StaleStateError{
			PlannedRevision: plan.Metadata.StateRevision,
			CurrentRevision: state.Revision,
		}
	}

	result := &RunResult{Nodes: make(map[string]*NodeResult)}
	for _, change := range plan.Changes {
		result.Nodes[change.Address] = &NodeResult{
			Address: change.Address,
			Action:  change.Action,
			Status:  StatusPending,
		}
	}

	run := &applyRun{
		engine:   e,
		state:    state,
		sink:     sink,
		result:   result,
		callback: callback,
	}

	var createUpdates, deletes []*ir.ResourceChange
	for _, change := range plan.Changes {
		if change.Action == ir.ActionDelete {
			deletes = append(deletes, change)
		} else {
			createUpdates = append(createUpdates, change)
		}
	}

	run.execute(ctx, createUpdates, changeDeps(createUpdates))
	run.execute(ctx, deletes, deleteDeps(deletes, state))

	result.Status = RunSucceeded
	for _, n := range result.Nodes {
		if n.Status == StatusFailed {
			result.Status = RunFailed
			break
		}
	}
	if result.Status != RunFailed && ctx.Err() != nil {
		result.Status = RunCancelled
	}

	return result, result.Err()
}

// changeDeps maps each create/update change to the other changes it must
// wait for, derived from explicit dependsOn and ref:// references.
func changeDeps(changes []*ir.ResourceChange) map[string][]string {
	inStage := make(map[string]bool, len(changes))
	for _, c := range changes {
		inStage[c.Address] = true
	}

	deps := make(map[string][]string, len(changes))
	for _, c := range changes {
		if c.Desired == nil {
			continue
		}
		seen := make(map[string]bool)
		for _, dep := range c.Desired.DependsOn {
			if inStage[dep] && !seen[dep] {
				seen[dep] = true
				deps[c.Address] = append(deps[c.Address], dep)
			}
		}
		for _, ref := range ExtractRefs(c.Desired.Properties) {
			dep := RefAddr(ref)
			if inStage[dep] && !seen[dep] {
				seen[dep] = true
				deps[c.Address] = append(deps[c.Address], dep)
			}
		}
	}
	return deps
}

// deleteDeps inverts the dependency edges recorded in state: a delete may
// start only after every dependent entry has been deleted.
func deleteDeps(changes []*ir.ResourceChange, state *ir.State) map[string][]string {
	inStage := make(map[string]bool, len(changes))
	for _, c := range changes {
		inStage[c.Address] = true
	}

	deps := make(map[string][]string, len(changes))
	for _, c := range changes {
		entry := state.Find(c.Address)
		if entry == nil {
			continue
		}
		for _, dep := range entry.Dependencies {
			if inStage[dep] {
				deps[dep] = append(deps[dep], c.Address)
			}
		}
	}
	return deps
}

// applyRun holds the shared mutable pieces of one apply run.
type applyRun struct {
	engine   *Engine
	state    *ir.State
	sink     StateSink
	result   *RunResult
	callback ApplyCallback

	mu sync.Mutex // guards state mutation and commit ordering
}

func (r *applyRun) emit(event ApplyEvent) {
	if r.callback != nil {
		r.callback(event)
	}
}

// execute runs one stage of changes with dependency gating and a bounded
// worker pool. Nodes whose gating dependencies failed or were blocked end
// Blocked and are never dispatched; nodes not dispatched before
// cancellation end Cancelled.
func (r *applyRun) execute(ctx context.Context, changes []*ir.ResourceChange, deps map[string][]string) {
	if len(changes) == 0 {
		return
	}

	parallelism := r.engine.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}

	var gateMu sync.Mutex
	gate := sync.NewCond(&gateMu)
	sem := make(chan struct{}, parallelism)

	// Wake all waiters when the context is cancelled so they can settle.
	stop := context.AfterFunc(ctx, func() { gate.Broadcast() })
	defer stop()

	var wg sync.WaitGroup
	for _, change := range changes {
		wg.Add(1)
		go func(c *ir.ResourceChange) {
			defer wg.Done()

			node := r.result.Nodes[c.Address]

			gateMu.Lock()
			for {
				if ctx.Err() != nil {
					node.Status = StatusCancelled
					gateMu.Unlock()
					gate.Broadcast()
					return
				}
				ready := true
				for _, dep := range deps[c.Address] {
					switch r.result.Nodes[dep].Status {
					case StatusApplied:
						// satisfied
					case StatusFailed, StatusBlocked, StatusCancelled:
						node.Status = StatusBlocked
						gateMu.Unlock()
						r.emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "blocked"})
						gate.Broadcast()
						return
					default:
						ready = false
					}
					if !ready {
						break
					}
				}
				if ready {
					node.Status = StatusApplying
					break
				}
				gate.Wait()
			}
			gateMu.Unlock()

			sem <- struct{}{}
			start := time.Now()
			r.emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "started"})

			err := r.applyChange(ctx, c)
			<-sem

			gateMu.Lock()
			node.Duration = time.Since(start)
			if err != nil {
				node.Status = StatusFailed
				node.Err = err
				gateMu.Unlock()
				r.emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "failed", Duration: node.Duration, Error: err})
			} else {
				node.Status = StatusApplied
				gateMu.Unlock()
				r.emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "completed", Duration: node.Duration})
			}
			gate.Broadcast()
		}(change)
	}

	wg.Wait()
}

// applyChange performs one node's operation against its provider and, on
// success, durably commits the updated state entry before returning (and
// therefore before any dependent is woken).
func (r *applyRun) applyChange(ctx context.Context, change *ir.ResourceChange) error {
	addr := change.Address
	logging.Debug("applying change", "address", addr, "action", change.Action)

	timeout := DefaultTimeout
	if change.Desired != nil && change.Desired.Timeout != "" {
		if d, err := time.ParseDuration(change.Desired.Timeout); err == nil && d > 0 {
			timeout = d
		}
	}
	// A dispatched provider call is never interrupted mid-mutation.
	// Cancellation stops new dispatch; in-flight operations run to
	// completion under their own timeout and commit normally.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	provName := ""
	if change.Desired != nil {
		provName = change.Desired.Provider
	} else if change.Prior != nil {
		provName = change.Prior.Provider
	}
	prov, err := r.engine.registry.Get(provName)
	if err != nil {
		return err
	}

	switch change.Action {
	case ir.ActionCreate:
		return r.applyCreate(ctx, prov, change)
	case ir.ActionUpdate:
		return r.applyUpdate(ctx, prov, change)
	case ir.ActionReplace:
		return r.applyReplace(ctx, prov, change)
	case ir.ActionDelete:
		return r.applyDelete(ctx, prov, change)
	default:
		return fmt.Errorf("unexpected action %q for %s", change.Action, addr)
	}
}

// resolvedAttrs resolves all references in the declared properties against
// the current state. Called with the run lock held only long enough to
// snapshot; dependencies are guaranteed applied by the gating.
func (r *applyRun) resolvedAttrs(res *ir.Resource) (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	resolved, err := resolveRefs(ir.NormalizeProps(res.Properties), r.state)
	if err != nil {
		return nil, err
	}
	if resolved == nil {
		return map[string]any{}, nil
	}
	return resolved.(map[string]any), nil
}

func (r *applyRun) applyCreate(ctx context.Context, prov provider.Provider, change *ir.ResourceChange) error {
	res := change.Desired
	attrs, err := r.resolvedAttrs(res)
	if err != nil {
		return err
	}

	var remoteID string
	var outputs map[string]any
	err = RetryWithBackoff(ctx, r.engine.Retry, func() error {
		var createErr error
		remoteID, outputs, createErr = prov.Create(ctx, res.Type, res.Name, attrs)
		return createErr
	}, provider.IsTransient)
	if err != nil {
		return fmt.Errorf("create failed for %s: %w", change.Address, err)
	}

	entry := &ir.ResourceState{
		Type:           res.Type,
		Name:           res.Name,
		Provider:       res.Provider,
		RemoteID:       remoteID,
		Inputs:         attrs,
		Outputs:        outputs,
		Dependencies:   declaredDeps(res),
		PreventDestroy: res.Lifecycle != nil && res.Lifecycle.PreventDestroy,
	}
	r.verify(ctx, prov, res.Type, entry, attrs)
	return r.commitPut(ctx, entry)
}

func (r *applyRun) applyUpdate(ctx context.Context, prov provider.Provider, change *ir.ResourceChange) error {
	res := change.Desired
	attrs, err := r.resolvedAttrs(res)
	if err != nil {
		return err
	}

	// Deferred comparison: an update planned against unknown dependency
	// outputs is re-evaluated against the actual post-apply values. If
	// nothing differs anymore, the node is a no-op.
	if change.Prior != nil && ir.DeepEqual(attrs, change.Prior.Inputs) {
		return nil
	}

	var outputs map[string]any
	err = RetryWithBackoff(ctx, r.engine.Retry, func() error {
		var updateErr error
		outputs, updateErr = prov.Update(ctx, res.Type, change.Prior.RemoteID, attrs)
		return updateErr
	}, provider.IsTransient)
	if err != nil {
		return fmt.Errorf("update failed for %s: %w", change.Address, err)
	}

	entry := &ir.ResourceState{
		Type:           res.Type,
		Name:           res.Name,
		Provider:       res.Provider,
		RemoteID:       change.Prior.RemoteID,
		Inputs:         attrs,
		Outputs:        outputs,
		Dependencies:   declaredDeps(res),
		PreventDestroy: res.Lifecycle != nil && res.Lifecycle.PreventDestroy,
	}
	r.verify(ctx, prov, res.Type, entry, attrs)
	return r.commitPut(ctx, entry)
}

// applyReplace destroys and recreates a resource, yielding a new state
// entry with a new remote identifier. With createBeforeDestroy the order
// is inverted.
func (r *applyRun) applyReplace(ctx context.Context, prov provider.Provider, change *ir.ResourceChange) error {
	res := change.Desired
	createFirst := res.Lifecycle != nil && res.Lifecycle.CreateBeforeDestroy

	deleteOld := func() error {
		return RetryWithBackoff(ctx, r.engine.Retry, func() error {
			err := prov.Delete(ctx, res.Type, change.Prior.RemoteID)
			if provider.IsNotFound(err) {
				return nil
			}
			return err
		}, provider.IsTransient)
	}

	if !createFirst {
		if err := deleteOld(); err != nil {
			return fmt.Errorf("replace failed for %s (delete phase): %w", change.Address, err)
		}
		r.mu.Lock()
		r.state.Remove(change.Address)
		r.mu.Unlock()
	}

	if err := r.applyCreate(ctx, prov, change); err != nil {
		return err
	}

	if createFirst {
		if err := deleteOld(); err != nil {
			return fmt.Errorf("replace failed for %s (delete phase): %w", change.Address, err)
		}
	}
	return nil
}

func (r *applyRun) applyDelete(ctx context.Context, prov provider.Provider, change *ir.ResourceChange) error {
	err := RetryWithBackoff(ctx, r.engine.Retry, func() error {
		deleteErr := prov.Delete(ctx, change.Prior.Type, change.Prior.RemoteID)
		if provider.IsNotFound(deleteErr) {
			return nil // already gone
		}
		return deleteErr
	}, provider.IsTransient)
	if err != nil {
		return fmt.Errorf("delete failed for %s: %w", change.Address, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Remove(change.Address)
	return r.commitLocked(ctx)
}

// verify reads the resource back after apply and taints the entry when the
// remote disagrees with the declared attributes (immediate drift).
func (r *applyRun) verify(ctx context.Context, prov provider.Provider, typ string, entry *ir.ResourceState, declared map[string]any) {
	if !r.engine.VerifyAfterApply {
		return
	}
	remote, err := prov.Read(ctx, typ, entry.RemoteID)
	if err != nil {
		logging.Warn("post-apply verification read failed", "address", entry.Addr(), "error", err)
		return
	}
	for k, want := range declared {
		got, ok := remote[k]
		if !ok {
			continue // provider does not expose this attribute on read
		}
		if !ir.DeepEqual(want, got) {
			logging.Warn("post-apply drift detected, tainting", "address", entry.Addr(), "attribute", k)
			entry.Tainted = true
			return
		}
	}
}

// commitPut inserts the entry and durably commits state.
func (r *applyRun) commitPut(ctx context.Context, entry *ir.ResourceState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Put(entry)
	return r.commitLocked(ctx)
}

// commitLocked bumps the revision and writes state through the sink.
// Callers hold r.mu so commits are serialized and each one captures a
// consistent snapshot.
func (r *applyRun) commitLocked(ctx context.Context) error {
	r.state.Revision++
	if r.sink == nil {
		return nil
	}
	if err := r.sink.Commit(ctx, r.state); err != nil {
		return fmt.Errorf("failed to commit state: %w", err)
	}
	return nil
}

// declaredDeps records the addresses a resource depends on so deletes can
// later be ordered without the declaration.
func declaredDeps(res *ir.Resource) []string {
	seen := make(map[string]bool)
	var deps []string
	for _, dep := range res.DependsOn {
		if !seen[dep] {
			seen[dep] = true
			deps = append(deps, dep)
		}
	}
	for _, ref := range ExtractRefs(res.Properties) {
		dep := RefAddr(ref)
		if dep != "" && !seen[dep] {
			seen[dep] = true
			deps = append(deps, dep)
		}
	}
	return deps
}
