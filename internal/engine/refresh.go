package engine

import (
	"context"
	"fmt"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/logging"
	"github.com/stackform-io/stackform/internal/provider"
)

// DriftReport describes divergence between remote reality and recorded
// state for one resource.
type DriftReport struct {
	Address string
	Gone    bool     // the remote resource no longer exists
	Changed []string // attributes whose remote value differs from state
}

// Refresh reads every state entry back from its provider and reconciles
// the recorded outputs with remote reality. Entries whose remote resource
// disappeared are removed; entries whose remote attributes diverged from
// the recorded inputs are tainted so the next apply replaces them. The
// updated state is committed once at the end.
func (e *Engine) Refresh(ctx context.Context, state *ir.State, sink StateSink) ([]DriftReport, error) {
	var reports []DriftReport

	// Snapshot: Remove mutates the slice.
	entries := append([]*ir.ResourceState(nil), state.Resources...)

	for _, entry := range entries {
		prov, err := e.registry.Get(entry.Provider)
		if err != nil {
			return nil, err
		}

		var remote map[string]any
		err = RetryWithBackoff(ctx, e.Retry, func() error {
			var readErr error
			remote, readErr = prov.Read(ctx, entry.Type, entry.RemoteID)
			return readErr
		}, provider.IsTransient)

		if provider.IsNotFound(err) {
			logging.Info("resource vanished remotely, removing from state", "address", entry.Addr())
			state.Remove(entry.Addr())
			reports = append(reports, DriftReport{Address: entry.Addr(), Gone: true})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("refresh failed for %s: %w", entry.Addr(), err)
		}

		var changed []string
		for k, want := range entry.Inputs {
			got, ok := remote[k]
			if !ok {
				continue
			}
			if !ir.DeepEqual(want, got) {
				changed = append(changed, k)
			}
		}

		entry.Outputs = remote
		if len(changed) > 0 {
			entry.Tainted = true
			reports = append(reports, DriftReport{Address: entry.Addr(), Changed: changed})
		}
	}

	state.Revision++
	if sink != nil {
		if err := sink.Commit(ctx, state); err != nil {
			return nil, fmt.Errorf("failed to commit refreshed state: %w", err)
		}
	}
	return reports, nil
}
