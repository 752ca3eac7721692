package graph

import (
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/specialistvlad/buildgridgo/internal/rule"
)

// NodeID is the stable arena index of a node within one process.
type NodeID int

// Node is a memoized unit of computation: a rule plus its ordered
// parameters. Immutable once created.
type Node struct {
	ID     NodeID
	RuleID string
	Params rule.Params
	key    string
}

// Key returns the canonical identity string of the node.
func (n *Node) Key() string {
	return n.key
}

// String renders the node for logs and error chains.
func (n *Node) String() string {
	if len(n.Params) == 0 {
		return n.RuleID
	}
	vals := make([]string, len(n.Params))
	for i, p := range n.Params {
		vals[i] = p.Name + "=" + p.Value
	}
	return n.RuleID + "(" + strings.Join(vals, ", ") + ")"
}

// NodeKey computes the identity key for a (rule, params) pair without
// interning a node.
func NodeKey(ruleID string, params rule.Params) string {
	return ruleID + "\x00" + params.Encode()
}

// Graph is the node arena plus the realized dependency edges and declared
// filesystem paths of every node. All operations are concurrency-safe.
type Graph struct {
	mu         sync.RWMutex
	byKey      map[string]*Node
	nodes      []*Node
	deps       map[NodeID]map[NodeID]struct{}
	dependents map[NodeID]map[NodeID]struct{}
	paths      map[NodeID][]string
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		byKey:      make(map[string]*Node),
		deps:       make(map[NodeID]map[NodeID]struct{}),
		dependents: make(map[NodeID]map[NodeID]struct{}),
		paths:      make(map[NodeID][]string),
	}
}

// GetOrCreate interns the node for (ruleID, params). Repeated calls with an
// identical identity return the same handle.
func (g *Graph) GetOrCreate(ruleID string, params rule.Params) *Node {
	key := NodeKey(ruleID, params)

	g.mu.RLock()
	n, ok := g.byKey[key]
	g.mu.RUnlock()
	if ok {
		return n
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.byKey[key]; ok {
		return n
	}
	n = &Node{
		ID:     NodeID(len(g.nodes)),
		RuleID: ruleID,
		Params: params,
		key:    key,
	}
	g.nodes = append(g.nodes, n)
	g.byKey[key] = n
	return n
}

// Node returns the node for id, or nil if the id was garbage-collected.
func (g *Graph) Node(id NodeID) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

// Len returns the number of live nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byKey)
}

// AddDep records that from depends on to. Recording happens at request time,
// before the requester starts waiting, so the edge set always covers the
// in-flight waits-for relation.
func (g *Graph) AddDep(from, to NodeID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deps[from] == nil {
		g.deps[from] = make(map[NodeID]struct{})
	}
	g.deps[from][to] = struct{}{}
	if g.dependents[to] == nil {
		g.dependents[to] = make(map[NodeID]struct{})
	}
	g.dependents[to][from] = struct{}{}
}

// ClearDeps drops the outgoing dependency edges of a node. Called before a
// dirty node re-resolves, so stale edges from the previous execution cannot
// dirty it spuriously.
func (g *Graph) ClearDeps(id NodeID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for dep := range g.deps[id] {
		delete(g.dependents[dep], id)
	}
	delete(g.deps, id)
	delete(g.paths, id)
}

// FindPath returns the node path from "from" to "to" along dependency edges,
// inclusive of both ends, or nil if "to" is unreachable. Depth-first with a
// path-local visited set.
func (g *Graph) FindPath(from, to NodeID) []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := make(map[NodeID]bool)
	var walk func(id NodeID, trail []NodeID) []NodeID
	walk = func(id NodeID, trail []NodeID) []NodeID {
		if visited[id] {
			return nil
		}
		visited[id] = true
		trail = append(trail, id)
		if id == to {
			return append([]NodeID(nil), trail...)
		}
		for dep := range g.deps[id] {
			if found := walk(dep, trail); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(from, nil)
}

// DeclarePath records a filesystem dependency of a node. Paths are cleaned
// so overlap checks compare like with like.
func (g *Graph) DeclarePath(id NodeID, p string) {
	p = path.Clean(p)
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, existing := range g.paths[id] {
		if existing == p {
			return
		}
	}
	g.paths[id] = append(g.paths[id], p)
}

// DeclaredPaths returns a copy of the declared paths of a node.
func (g *Graph) DeclaredPaths(id NodeID) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.paths[id]...)
}

// Invalidate returns the set of nodes dirtied by the changed paths: every
// node whose declared path set overlaps a changed path, plus (transitively)
// its dependents. Whole-node invalidation, no sub-path refinement.
func (g *Graph) Invalidate(changed []string) []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	dirty := make(map[NodeID]struct{})
	for id, declared := range g.paths {
		for _, decl := range declared {
			if overlapsAny(decl, changed) {
				dirty[id] = struct{}{}
				break
			}
		}
	}

	// Dirty every transitive dependent.
	queue := make([]NodeID, 0, len(dirty))
	for id := range dirty {
		queue = append(queue, id)
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for dependent := range g.dependents[id] {
			if _, seen := dirty[dependent]; seen {
				continue
			}
			dirty[dependent] = struct{}{}
			queue = append(queue, dependent)
		}
	}

	out := make([]NodeID, 0, len(dirty))
	for id := range dirty {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// overlapsAny reports whether a declared path equals, contains, or is
// contained in any changed path.
func overlapsAny(declared string, changed []string) bool {
	for _, c := range changed {
		c = path.Clean(c)
		if declared == c ||
			strings.HasPrefix(c, declared+"/") ||
			strings.HasPrefix(declared, c+"/") {
			return true
		}
	}
	return false
}

// GC removes nodes unreachable from the given live roots, together with
// their edges and declared paths. Only safe between scheduling epochs.
// Arena IDs of surviving nodes are preserved; freed slots become nil.
func (g *Graph) GC(live []NodeID) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	reachable := make(map[NodeID]struct{})
	queue := append([]NodeID(nil), live...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, seen := reachable[id]; seen {
			continue
		}
		reachable[id] = struct{}{}
		for dep := range g.deps[id] {
			queue = append(queue, dep)
		}
	}

	collected := 0
	for i, n := range g.nodes {
		if n == nil {
			continue
		}
		if _, ok := reachable[n.ID]; ok {
			continue
		}
		delete(g.byKey, n.key)
		for dep := range g.deps[n.ID] {
			delete(g.dependents[dep], n.ID)
		}
		delete(g.deps, n.ID)
		delete(g.dependents, n.ID)
		delete(g.paths, n.ID)
		g.nodes[i] = nil
		collected++
	}
	return collected
}
