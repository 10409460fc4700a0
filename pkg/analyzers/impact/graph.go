// pkg/analyzers/impact/graph.go
package impact

import (
	"sort"
	"sync"

	"github.com/lucid-vigil/aegis/pkg/analysis"
	"github.com/lucid-vigil/aegis/pkg/errors"
)

// Graph is the service dependency graph. An edge A -> B records that B
// depends on A, so impact propagates along edges: a change to A reaches B.
// The graph is read-mostly; mutation and traversal share an RWMutex.
type Graph struct {
	mu         sync.RWMutex
	dependents map[string][]string // service -> services that depend on it
	nodes      map[string]struct{}
}

// NewGraph creates an empty dependency graph.
func NewGraph() *Graph {
	return &Graph{
		dependents: make(map[string][]string),
		nodes:      make(map[string]struct{}),
	}
}

// AddService registers a service with no edges. Adding an existing service
// is a no-op.
func (g *Graph) AddService(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[id] = struct{}{}
}

// AddDependency records that dependent depends on service. Both endpoints
// are registered if they are new; duplicate edges are dropped.
func (g *Graph) AddDependency(service, dependent string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes[service] = struct{}{}
	g.nodes[dependent] = struct{}{}
	for _, existing := range g.dependents[service] {
		if existing == dependent {
			return
		}
	}
	g.dependents[service] = append(g.dependents[service], dependent)
}

// Services returns all registered service IDs, sorted.
func (g *Graph) Services() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Has reports whether a service is registered.
func (g *Graph) Has(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// Criticality scores a service by the size of its downstream reachable set:
// the more services a failure here can touch, the more critical it is. The
// score is strictly monotone in reach size, starting at 1 for a leaf.
func (g *Graph) Criticality(id string) (float64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[id]; !ok {
		return 0, errors.NewUnknownNodeError("dependency_graph", id)
	}
	return 1 + float64(len(g.reach(id))), nil
}

// ImpactOf computes the downstream blast radius of a change to origin.
// Traversal is depth-first with a visited set, so cyclic graphs terminate;
// each service is reported once, at the depth it was first reached. A
// service nothing depends on yields a valid empty report.
func (g *Graph) ImpactOf(origin string) (analysis.ImpactReport, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[origin]; !ok {
		return analysis.ImpactReport{}, errors.NewUnknownNodeError("dependency_graph", origin)
	}

	visited := map[string]struct{}{origin: {}}
	var impacted []analysis.ImpactedService

	var walk func(id string, depth int)
	walk = func(id string, depth int) {
		for _, dep := range g.dependents[id] {
			if _, seen := visited[dep]; seen {
				continue
			}
			visited[dep] = struct{}{}
			impacted = append(impacted, analysis.ImpactedService{
				ID:          dep,
				Depth:       depth,
				Criticality: 1 + float64(len(g.reach(dep))),
			})
			walk(dep, depth+1)
		}
	}
	walk(origin, 1)

	score := 0.0
	for _, svc := range impacted {
		// Direct dependents weigh their full criticality; transitive ones
		// are attenuated by distance.
		score += svc.Criticality / float64(svc.Depth)
	}
	if score > 10 {
		score = 10
	}

	return analysis.ImpactReport{
		Origin:   origin,
		Impacted: impacted,
		Score:    score,
		Severity: severityForScore(score),
	}, nil
}

// reach returns the set of services transitively reachable from id along
// dependent edges. Caller must hold at least a read lock.
func (g *Graph) reach(id string) map[string]struct{} {
	seen := make(map[string]struct{})
	stack := append([]string(nil), g.dependents[id]...)
	for len(stack) > 0 {
		next := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[next]; ok {
			continue
		}
		seen[next] = struct{}{}
		stack = append(stack, g.dependents[next]...)
	}
	return seen
}

func severityForScore(score float64) string {
	switch {
	case score >= 8:
		return "critical"
	case score >= 5:
		return "high"
	case score >= 2:
		return "medium"
	default:
		return "low"
	}
}
