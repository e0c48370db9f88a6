package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/provider"
)

// fakeProvider records every operation in order and can be primed to fail.
// Creates are recorded by address ("create:<type>.<name>") since logical
// names may repeat across types; the other ops use the unique remote id.
type fakeProvider struct {
	mu  sync.Mutex
	ops []string // "create:<type>.<name>", "update:<id>", "delete:<id>", "read:<id>"

	failCreate map[string]error       // name -> error
	transient  map[string]int         // name -> transient failures before success
	attempts   map[string]int         // name -> create attempts
	gates      map[string]*createGate // name -> in-flight gate, set before the run
	reads      map[string]map[string]any
	seq        int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		failCreate: make(map[string]error),
		transient:  make(map[string]int),
		attempts:   make(map[string]int),
		gates:      make(map[string]*createGate),
		reads:      make(map[string]map[string]any),
	}
}

// createGate blocks a create between a started signal and a release,
// honoring the context the way real SDK calls do.
type createGate struct {
	started chan struct{}
	release chan struct{}
}

func newCreateGate() *createGate {
	return &createGate{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (f *fakeProvider) Diff(_ context.Context, _ string, declared, prior map[string]any) (*provider.Delta, error) {
	return provider.StructuralDiff(declared, prior), nil
}

func (f *fakeProvider) Create(ctx context.Context, typ, name string, attrs map[string]any) (string, map[string]any, error) {
	if gate := f.gates[name]; gate != nil {
		close(gate.started)
		select {
		case <-gate.release:
		case <-ctx.Done():
			return "", nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.attempts[name]++
	if n := f.transient[name]; n > 0 {
		f.transient[name] = n - 1
		return "", nil, &provider.TransientError{Err: errors.New("throttled")}
	}
	if err, ok := f.failCreate[name]; ok {
		return "", nil, err
	}

	f.seq++
	id := fmt.Sprintf("%s-%d", name, f.seq)
	f.ops = append(f.ops, "create:"+typ+"."+name)
	return id, fakeOutputs(name, id, attrs), nil
}

func (f *fakeProvider) Update(_ context.Context, _, remoteID string, attrs map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "update:"+remoteID)
	return fakeOutputs(nameFromID(remoteID), remoteID, attrs), nil
}

func (f *fakeProvider) Delete(_ context.Context, typ, remoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "delete:"+remoteID)
	return nil
}

func (f *fakeProvider) Read(_ context.Context, typ, remoteID string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "read:"+remoteID)
	if attrs, ok := f.reads[remoteID]; ok {
		return attrs, nil
	}
	return nil, &provider.NotFoundError{Type: typ, RemoteID: remoteID}
}

func (f *fakeProvider) opIndex(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, o := range f.ops {
		if o == op {
			return i
		}
	}
	return -1
}

func fakeOutputs(name, id string, attrs map[string]any) map[string]any {
	outputs := make(map[string]any, len(attrs)+2)
	for k, v := range attrs {
		outputs[k] = v
	}
	outputs["id"] = id
	outputs["arn"] = "arn:fake:" + name
	return ir.NormalizeProps(outputs)
}

// nameFromID strips the sequence suffix from a fake remote id.
func nameFromID(id string) string {
	if i := strings.LastIndex(id, "-"); i > 0 {
		return id[:i]
	}
	return id
}

// recordingSink counts commits and snapshots the durable resource count,
// optionally failing after a number of successful commits to simulate a
// backend outage mid-run.
type recordingSink struct {
	mu        sync.Mutex
	commits   int
	failAfter int // 0 means never fail
	snapshots []int
}

func (s *recordingSink) Commit(_ context.Context, st *ir.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter > 0 && s.commits >= s.failAfter {
		return errors.New("state backend unavailable")
	}
	s.commits++
	s.snapshots = append(s.snapshots, len(st.Resources))
	return nil
}

func testEngine(f *fakeProvider) *Engine {
	registry := provider.NewRegistry()
	registry.Register("test", func(*provider.Settings) (provider.Provider, error) {
		return f, nil
	})
	if err := registry.Load("test", nil); err != nil {
		panic(err)
	}

	e := NewEngine(registry)
	e.Retry = &RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	return e
}

func testResource(typ, name string, props map[string]any, deps ...string) *ir.Resource {
	return &ir.Resource{
		Type:       typ,
		Name:       name,
		Provider:   "test",
		DependsOn:  deps,
		Properties: props,
	}
}

func testConfig(resources ...*ir.Resource) *ir.Config {
	return &ir.Config{Resources: resources}
}
