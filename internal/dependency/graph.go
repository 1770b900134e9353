package dependency

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"

	"stardock/internal/api"
	"stardock/pkg/logging"
)

// Status mirrors the module loader's state machine. The graph stores it as
// informational metadata on each node; the loader is the owner and writes it
// back on every transition.
type Status string

const (
	StatusUnloaded Status = "Unloaded"
	StatusLoading  Status = "Loading"
	StatusLoaded   Status = "Loaded"
	StatusError    Status = "Error"
)

// Dependency is a single declared edge: the dependency's name plus a semver
// constraint ("1.2.3", ">=1.0.0", ">=1.0.0 <2.0.0", "1.0.0 - 1.4.0"). An
// empty constraint accepts any version.
type Dependency struct {
	Name       string `json:"name"`
	Constraint string `json:"constraint,omitempty"`
}

// NodeInfo is an immutable snapshot of a node's metadata.
type NodeInfo struct {
	Name         string
	Version      string
	Priority     int
	Group        string
	Status       Status
	Dependencies []Dependency
}

// Conflict reports one unsatisfied version constraint.
type Conflict struct {
	Dependent  string
	Dependency string
	Constraint string
	Actual     string
}

// node is the arena entry for a component. Nodes are addressed by a stable
// integer index so edge bookkeeping survives unrelated removals; a removed
// node leaves a nil slot behind.
type node struct {
	name       string
	version    *semver.Version
	rawVersion string
	priority   int
	group      string
	status     Status
	deps       []edge // out-edges in insertion order
	dependents []int  // indices of nodes that depend on this one, insertion order
}

type edge struct {
	to         int
	constraint *semver.Constraints
	raw        string
}

// Graph is the in-memory dependency graph over component names. All methods
// are safe for concurrent use: structural mutations take the write lock,
// queries and resolution take the read lock.
type Graph struct {
	mu    sync.RWMutex
	index map[string]int
	nodes []*node

	// gen increments on every structural mutation; cached resolutions are
	// only stored when the generation they were computed under still holds.
	gen        uint64
	orderCache map[string][]string
	levelCache map[string][][]string
}

// fullSortKey is the cache key for whole-graph topological sorts. Node names
// are non-empty, so it can never collide with a root name.
const fullSortKey = ""

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		index:      make(map[string]int),
		orderCache: make(map[string][]string),
		levelCache: make(map[string][][]string),
	}
}

// AddNode registers a component with its version and declared dependencies.
// Every dependency target must already exist; constraints are validated
// before anything is inserted so a failed call leaves the graph untouched.
func (g *Graph) AddNode(name, version string, deps []Dependency) error {
	if name == "" {
		return &api.GraphError{Kind: api.KindUnknownNode, Msg: "node name cannot be empty"}
	}

	ver, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("parse version %q for node %s: %w", version, name, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.index[name]; exists {
		return api.NewDuplicateNodeError(name)
	}

	// Validate all edges before committing the node.
	edges := make([]edge, 0, len(deps))
	for _, d := range deps {
		target, ok := g.index[d.Name]
		if !ok || g.nodes[target] == nil {
			return api.NewUnknownNodeError(d.Name)
		}
		c, err := parseConstraint(d.Constraint)
		if err != nil {
			return fmt.Errorf("parse constraint %q for dependency %s of %s: %w", d.Constraint, d.Name, name, err)
		}
		edges = append(edges, edge{to: target, constraint: c, raw: d.Constraint})
	}

	idx := len(g.nodes)
	g.nodes = append(g.nodes, &node{
		name:       name,
		version:    ver,
		rawVersion: version,
		status:     StatusUnloaded,
		deps:       edges,
	})
	g.index[name] = idx
	for _, e := range edges {
		g.nodes[e.to].dependents = append(g.nodes[e.to].dependents, idx)
	}

	g.invalidateLocked()
	logging.Debug("Graph", "added node %s version %s with %d dependencies", name, version, len(deps))
	return nil
}

// RemoveNode deletes a component that nothing else depends on.
func (g *Graph) RemoveNode(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	idx, ok := g.index[name]
	if !ok {
		return api.NewUnknownNodeError(name)
	}

	if deps := g.dependentNamesLocked(idx); len(deps) > 0 {
		return api.NewHasDependentsError(name, deps)
	}

	g.removeNodeLocked(idx)
	logging.Debug("Graph", "removed node %s", name)
	return nil
}

// ForceRemoveNode deletes a component and drops every edge pointing at it.
// A node whose module is still Loaded cannot be force-removed; the module
// must be unloaded first.
func (g *Graph) ForceRemoveNode(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	idx, ok := g.index[name]
	if !ok {
		return api.NewUnknownNodeError(name)
	}
	if g.nodes[idx].status == StatusLoaded {
		return &api.GraphError{
			Kind: api.KindHasDependents,
			Node: name,
			Msg:  fmt.Sprintf("node %s is still loaded; unload its module before forced removal", name),
		}
	}

	// Drop dependent edges before removing the node itself.
	for _, depIdx := range g.nodes[idx].dependents {
		d := g.nodes[depIdx]
		if d == nil {
			continue
		}
		kept := d.deps[:0]
		for _, e := range d.deps {
			if e.to != idx {
				kept = append(kept, e)
			}
		}
		d.deps = kept
	}
	g.nodes[idx].dependents = nil

	g.removeNodeLocked(idx)
	logging.Debug("Graph", "force-removed node %s", name)
	return nil
}

// AddDependency declares that from depends on to under the given constraint.
// The edge is rejected when it would make the graph cyclic, checked by a
// bounded reachability walk from to back to from.
func (g *Graph) AddDependency(from, to, constraint string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	fromIdx, ok := g.index[from]
	if !ok {
		return api.NewUnknownNodeError(from)
	}
	toIdx, ok := g.index[to]
	if !ok {
		return api.NewUnknownNodeError(to)
	}
	if from == to {
		return api.NewWouldCreateCycleError(from, to)
	}

	c, err := parseConstraint(constraint)
	if err != nil {
		return fmt.Errorf("parse constraint %q for dependency %s -> %s: %w", constraint, from, to, err)
	}

	for _, e := range g.nodes[fromIdx].deps {
		if e.to == toIdx {
			// Edge already present; update the constraint in place.
			g.nodes[fromIdx].deps[indexOfEdge(g.nodes[fromIdx].deps, toIdx)] = edge{to: toIdx, constraint: c, raw: constraint}
			g.invalidateLocked()
			return nil
		}
	}

	if g.reachableLocked(toIdx, fromIdx) {
		return api.NewWouldCreateCycleError(from, to)
	}

	g.nodes[fromIdx].deps = append(g.nodes[fromIdx].deps, edge{to: toIdx, constraint: c, raw: constraint})
	g.nodes[toIdx].dependents = append(g.nodes[toIdx].dependents, fromIdx)

	g.invalidateLocked()
	logging.Debug("Graph", "added dependency %s -> %s (%s)", from, to, constraint)
	return nil
}

// RemoveDependency drops the edge from -> to. Removing an edge that does not
// exist is not an error as long as both endpoints do.
func (g *Graph) RemoveDependency(from, to string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	fromIdx, ok := g.index[from]
	if !ok {
		return api.NewUnknownNodeError(from)
	}
	toIdx, ok := g.index[to]
	if !ok {
		return api.NewUnknownNodeError(to)
	}

	f := g.nodes[fromIdx]
	kept := f.deps[:0]
	for _, e := range f.deps {
		if e.to != toIdx {
			kept = append(kept, e)
		}
	}
	f.deps = kept

	t := g.nodes[toIdx]
	keptDeps := t.dependents[:0]
	for _, d := range t.dependents {
		if d != fromIdx {
			keptDeps = append(keptDeps, d)
		}
	}
	t.dependents = keptDeps

	g.invalidateLocked()
	return nil
}

// GetDependencies returns the direct dependencies of a node in insertion
// order. Unknown nodes yield an empty slice.
func (g *Graph) GetDependencies(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	idx, ok := g.index[name]
	if !ok {
		return nil
	}
	deps := make([]string, 0, len(g.nodes[idx].deps))
	for _, e := range g.nodes[idx].deps {
		deps = append(deps, g.nodes[e.to].name)
	}
	return deps
}

// GetDependents returns the direct dependents of a node in insertion order.
func (g *Graph) GetDependents(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	idx, ok := g.index[name]
	if !ok {
		return nil
	}
	return g.dependentNamesLocked(idx)
}

// GetAllDependencies returns the transitive dependency closure of a node as
// a duplicate-free list. Order is unspecified; it is sorted here only so
// repeated calls are comparable.
func (g *Graph) GetAllDependencies(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	idx, ok := g.index[name]
	if !ok {
		return nil
	}

	closure := g.closureLocked(idx)
	delete(closure, idx)

	names := make([]string, 0, len(closure))
	for i := range closure {
		names = append(names, g.nodes[i].name)
	}
	sort.Strings(names)
	return names
}

// HasNode reports whether a node exists.
func (g *Graph) HasNode(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.index[name]
	return ok
}

// GetNode returns a snapshot of a node's metadata.
func (g *Graph) GetNode(name string) (NodeInfo, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	idx, ok := g.index[name]
	if !ok {
		return NodeInfo{}, false
	}
	return g.nodeInfoLocked(idx), true
}

// Nodes returns snapshots of every node, sorted by name.
func (g *Graph) Nodes() []NodeInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()

	infos := make([]NodeInfo, 0, len(g.index))
	for _, idx := range g.index {
		infos = append(infos, g.nodeInfoLocked(idx))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// SetPriority updates a node's load priority. Priority is metadata, not
// structure: callers that want already-memoized orders to pick up the new
// priority must call ClearCache.
func (g *Graph) SetPriority(name string, priority int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	idx, ok := g.index[name]
	if !ok {
		return api.NewUnknownNodeError(name)
	}
	g.nodes[idx].priority = priority
	return nil
}

// SetGroup tags a node with a logical group label.
func (g *Graph) SetGroup(name, group string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	idx, ok := g.index[name]
	if !ok {
		return api.NewUnknownNodeError(name)
	}
	g.nodes[idx].group = group
	return nil
}

// SetStatus records the loader-owned status on a node.
func (g *Graph) SetStatus(name string, status Status) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	idx, ok := g.index[name]
	if !ok {
		return api.NewUnknownNodeError(name)
	}
	g.nodes[idx].status = status
	return nil
}

// GroupDependencies returns the union of the dependency closures of every
// node tagged with the given group, including the members themselves,
// sorted by name.
func (g *Graph) GroupDependencies(group string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	union := make(map[int]struct{})
	for _, idx := range g.index {
		if g.nodes[idx].group != group {
			continue
		}
		for i := range g.closureLocked(idx) {
			union[i] = struct{}{}
		}
	}

	names := make([]string, 0, len(union))
	for i := range union {
		names = append(names, g.nodes[i].name)
	}
	sort.Strings(names)
	return names
}

// Clear drops every node, edge, and cached resolution.
func (g *Graph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.index = make(map[string]int)
	g.nodes = nil
	g.invalidateLocked()
	logging.Debug("Graph", "cleared dependency graph")
}

// ClearCache drops memoized resolution orders. Exposed for callers that
// mutate node metadata (priority) without structural changes.
func (g *Graph) ClearCache() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.invalidateLocked()
}

// internal helpers; callers hold the appropriate lock.

func (g *Graph) invalidateLocked() {
	g.gen++
	g.orderCache = make(map[string][]string)
	g.levelCache = make(map[string][][]string)
}

func (g *Graph) removeNodeLocked(idx int) {
	n := g.nodes[idx]
	// Detach out-edges from the targets' dependent lists.
	for _, e := range n.deps {
		t := g.nodes[e.to]
		if t == nil {
			continue
		}
		kept := t.dependents[:0]
		for _, d := range t.dependents {
			if d != idx {
				kept = append(kept, d)
			}
		}
		t.dependents = kept
	}
	delete(g.index, n.name)
	g.nodes[idx] = nil
	g.invalidateLocked()
}

func (g *Graph) dependentNamesLocked(idx int) []string {
	n := g.nodes[idx]
	names := make([]string, 0, len(n.dependents))
	for _, d := range n.dependents {
		if g.nodes[d] != nil {
			names = append(names, g.nodes[d].name)
		}
	}
	return names
}

func (g *Graph) nodeInfoLocked(idx int) NodeInfo {
	n := g.nodes[idx]
	deps := make([]Dependency, 0, len(n.deps))
	for _, e := range n.deps {
		deps = append(deps, Dependency{Name: g.nodes[e.to].name, Constraint: e.raw})
	}
	return NodeInfo{
		Name:         n.name,
		Version:      n.rawVersion,
		Priority:     n.priority,
		Group:        n.group,
		Status:       n.status,
		Dependencies: deps,
	}
}

// reachableLocked reports whether target is reachable from start following
// dependency edges. Used for the incremental cycle check on edge insertion;
// the walk is bounded by the subgraph reachable from start.
func (g *Graph) reachableLocked(start, target int) bool {
	if start == target {
		return true
	}
	seen := map[int]struct{}{start: {}}
	stack := []int{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range g.nodes[cur].deps {
			if e.to == target {
				return true
			}
			if _, ok := seen[e.to]; !ok {
				seen[e.to] = struct{}{}
				stack = append(stack, e.to)
			}
		}
	}
	return false
}

// closureLocked returns the set of indices reachable from idx, including idx.
func (g *Graph) closureLocked(idx int) map[int]struct{} {
	closure := map[int]struct{}{idx: {}}
	stack := []int{idx}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range g.nodes[cur].deps {
			if _, ok := closure[e.to]; !ok {
				closure[e.to] = struct{}{}
				stack = append(stack, e.to)
			}
		}
	}
	return closure
}

func indexOfEdge(deps []edge, to int) int {
	for i, e := range deps {
		if e.to == to {
			return i
		}
	}
	return -1
}

func parseConstraint(raw string) (*semver.Constraints, error) {
	if raw == "" {
		raw = "*"
	}
	return semver.NewConstraint(raw)
}
