package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stackform-io/stackform/internal/ir"
)

// Graph is the directed acyclic dependency graph of declared resources.
// Edges point from a resource to the resources it depends on, resolved
// from explicit dependsOn entries and implicit ref:// attribute references.
type Graph struct {
	nodes    map[string]*graphNode
	order    []string // topological order (creation order)
	revOrder []string // reverse topological order (destruction order)
}

type graphNode struct {
	addr     string
	edges    []string // resources this node depends on
	revEdges []string // resources that depend on this node
}

// BuildGraph constructs the dependency graph from declared resources.
// It fails with a ConfigError wrapping DuplicateIdentityError,
// UnresolvedReferenceError, or CycleError; any of these aborts the run
// before mutation.
func BuildGraph(resources []*ir.Resource) (*Graph, error) {
	g := &Graph{
		nodes: make(map[string]*graphNode),
	}

	for _, res := range resources {
		addr := res.Addr()
		if _, exists := g.nodes[addr]; exists {
			return nil, &ConfigError{Err: &DuplicateIdentityError{Address: addr}}
		}
		g.nodes[addr] = &graphNode{addr: addr}
	}

	for _, res := range resources {
		addr := res.Addr()
		node := g.nodes[addr]
		seen := make(map[string]bool)

		for _, dep := range res.DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				return nil, &ConfigError{Err: &UnresolvedReferenceError{Address: addr, Reference: dep}}
			}
			if !seen[dep] {
				seen[dep] = true
				node.edges = append(node.edges, dep)
			}
		}

		for _, ref := range ExtractRefs(res.Properties) {
			depAddr := RefAddr(ref)
			if depAddr == "" {
				return nil, &ConfigError{Err: fmt.Errorf("resource %s has malformed reference %q", addr, ref)}
			}
			if _, ok := g.nodes[depAddr]; !ok {
				return nil, &ConfigError{Err: &UnresolvedReferenceError{Address: addr, Reference: depAddr}}
			}
			if depAddr != addr && !seen[depAddr] {
				seen[depAddr] = true
				node.edges = append(node.edges, depAddr)
			}
		}
	}

	for addr, node := range g.nodes {
		for _, dep := range node.edges {
			g.nodes[dep].revEdges = append(g.nodes[dep].revEdges, addr)
		}
	}

	order, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	g.order = order

	g.revOrder = make([]string, len(order))
	for i, addr := range order {
		g.revOrder[len(order)-1-i] = addr
	}

	return g, nil
}

// CreationOrder returns addresses in dependency-respecting creation order.
func (g *Graph) CreationOrder() []string {
	return g.order
}

// DestructionOrder returns addresses in reverse dependency order, safe for
// deletion: dependents come before their dependencies.
func (g *Graph) DestructionOrder() []string {
	return g.revOrder
}

// Dependencies returns the direct dependencies of the given address.
func (g *Graph) Dependencies(addr string) []string {
	if node, ok := g.nodes[addr]; ok {
		return node.edges
	}
	return nil
}

// topoSort performs Kahn's algorithm. Deterministic: ties are broken by
// address order.
func (g *Graph) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for addr, node := range g.nodes {
		inDegree[addr] = len(node.edges)
	}

	var queue []string
	for addr, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, addr)
		}
	}
	sort.Strings(queue)

	var sorted []string
	for len(queue) > 0 {
		addr := queue[0]
		queue = queue[1:]
		sorted = append(sorted, addr)

		dependents := append([]string(nil), g.nodes[addr].revEdges...)
		sort.Strings(dependents)
		for _, dependent := range dependents {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(sorted) != len(g.nodes) {
		var cyclic []string
		for addr, deg := range inDegree {
			if deg > 0 {
				cyclic = append(cyclic, addr)
			}
		}
		sort.Strings(cyclic)
		return nil, &ConfigError{Err: &CycleError{Nodes: cyclic}}
	}

	return sorted, nil
}

const refScheme = "ref://"

// ExtractRefs returns all ref:// references found anywhere in a property
// value, scanning nested maps and lists.
func ExtractRefs(v any) []string {
	var refs []string
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, refScheme) {
			refs = append(refs, val)
		}
	case map[string]any:
		for _, v := range val {
			refs = append(refs, ExtractRefs(v)...)
		}
	case map[any]any:
		for _, v := range val {
			refs = append(refs, ExtractRefs(v)...)
		}
	case []any:
		for _, v := range val {
			refs = append(refs, ExtractRefs(v)...)
		}
	}
	return refs
}

// RefAddr converts a reference to the address of its target resource.
// ref://aws:S3.Bucket/state/arn -> aws:S3.Bucket.state
func RefAddr(ref string) string {
	typ, name, _ := splitRef(ref)
	if typ == "" {
		return ""
	}
	return typ + "." + name
}

// splitRef breaks a ref://type/name/attribute reference into parts.
func splitRef(ref string) (typ, name, attr string) {
	if !strings.HasPrefix(ref, refScheme) {
		return "", "", ""
	}
	parts := strings.SplitN(ref[len(refScheme):], "/", 3)
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", ""
	}
	return parts[0], parts[1], parts[2]
}
