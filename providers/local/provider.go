// Package local implements an in-memory resource provider. It emulates the
// full resource lifecycle without touching any cloud API, backing dry runs
// against emulated environments and the engine's own tests.
package local

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/provider"
)

type Provider struct {
	mu        sync.Mutex
	resources map[string]*record // keyed by remote id
}

type record struct {
	typ   string
	name  string
	attrs map[string]any
}

func New(_ *provider.Settings) (provider.Provider, error) {
	return &Provider{
		resources: make(map[string]*record),
	}, nil
}

func (p *Provider) Diff(ctx context.Context, typ string, declared, prior map[string]any) (*provider.Delta, error) {
	return provider.StructuralDiff(declared, prior), nil
}

func (p *Provider) Create(ctx context.Context, typ, name string, attrs map[string]any) (string, map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := fmt.Sprintf("local-%s-%s", name, uuid.NewString()[:8])
	stored := ir.NormalizeProps(attrs)
	if stored == nil {
		stored = map[string]any{}
	}
	p.resources[id] = &record{typ: typ, name: name, attrs: stored}

	return id, p.outputs(id, stored), nil
}

func (p *Provider) Update(ctx context.Context, typ, remoteID string, attrs map[string]any) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.resources[remoteID]
	if !ok {
		return nil, &provider.NotFoundError{Type: typ, RemoteID: remoteID}
	}
	rec.attrs = ir.NormalizeProps(attrs)
	if rec.attrs == nil {
		rec.attrs = map[string]any{}
	}

	return p.outputs(remoteID, rec.attrs), nil
}

func (p *Provider) Delete(ctx context.Context, typ, remoteID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.resources[remoteID]; !ok {
		return &provider.NotFoundError{Type: typ, RemoteID: remoteID}
	}
	delete(p.resources, remoteID)
	return nil
}

func (p *Provider) Read(ctx context.Context, typ, remoteID string) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.resources[remoteID]
	if !ok {
		return nil, &provider.NotFoundError{Type: typ, RemoteID: remoteID}
	}
	return p.outputs(remoteID, rec.attrs), nil
}

// outputs returns the resolved attributes: the stored attributes plus the
// computed identifier.
func (p *Provider) outputs(id string, attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs)+1)
	for k, v := range attrs {
		out[k] = v
	}
	out["id"] = id
	return out
}

// Len reports how many resources the provider currently holds. Test hook.
func (p *Provider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.resources)
}
