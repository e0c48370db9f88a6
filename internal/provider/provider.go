package provider

import (
	"context"

	"github.com/stackform-io/stackform/internal/ir"
)

// Delta describes the outcome of diffing declared attributes against the
// last applied attributes for one resource.
type Delta struct {
	Action  ir.Action
	Changed []string // attribute names that differ
}

// Provider is the contract a resource type plugin implements. The engine
// treats resource schemas as opaque; a provider owns every type it is
// registered for and dispatches on the type string.
type Provider interface {
	// Diff compares declared attributes against last applied attributes and
	// returns the action required. Prior is nil when the resource has never
	// been applied.
	Diff(ctx context.Context, typ string, declared, prior map[string]any) (*Delta, error)

	// Create provisions a new resource and returns its remote identifier
	// plus the fully resolved attributes.
	Create(ctx context.Context, typ, name string, attrs map[string]any) (string, map[string]any, error)

	// Update mutates an existing resource in place and returns the resolved
	// attributes.
	Update(ctx context.Context, typ, remoteID string, attrs map[string]any) (map[string]any, error)

	// Delete removes the resource.
	Delete(ctx context.Context, typ, remoteID string) error

	// Read fetches the current remote attributes, used for drift detection.
	// Returns a NotFoundError when the resource no longer exists.
	Read(ctx context.Context, typ, remoteID string) (map[string]any, error)
}

// Settings carries provider connection configuration. Endpoint overrides
// the API endpoint for local emulation.
type Settings struct {
	Region   string
	Profile  string
	Endpoint string
}
