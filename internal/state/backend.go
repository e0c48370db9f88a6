package state

import (
	"context"
	"fmt"

	"github.com/stackform-io/stackform/internal/ir"
)

// Backend defines the interface for state storage backends.
type Backend interface {
	// Read loads the state from the backend.
	Read(ctx context.Context) (*ir.State, error)

	// Write saves the state to the backend.
	Write(ctx context.Context, state *ir.State) error

	// Lock acquires an exclusive lock on the state. Fails with
	// LockHeldError if another run holds it.
	Lock() error

	// Unlock releases the lock on the state.
	Unlock() error
}

// BackendSink adapts a Backend to the executor's per-node commit hook.
type BackendSink struct {
	Backend Backend
}

func (s BackendSink) Commit(ctx context.Context, state *ir.State) error {
	return s.Backend.Write(ctx, state)
}

// NewBackend creates a state backend from configuration. A nil config or
// empty type selects the local file backend at localPath.
func NewBackend(cfg *ir.BackendConfig, localPath string) (Backend, error) {
	if cfg == nil {
		return NewManager(localPath), nil
	}

	switch cfg.Type {
	case "", "local":
		if p := cfg.Config["path"]; p != "" {
			return NewManager(p), nil
		}
		return NewManager(localPath), nil
	case "s3":
		return newS3Backend(cfg.Config)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
