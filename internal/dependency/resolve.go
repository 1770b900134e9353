package dependency

import (
	"sort"

	"stardock/internal/api"
	"stardock/pkg/logging"
)

// HasCycle checks the whole graph for a dependency cycle using an iterative
// three-color depth-first search. When a cycle exists the first one found
// (nodes visited in name order) is returned as a path whose first and last
// element are the same node.
func (g *Graph) HasCycle() ([]string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cycle := g.findCycleLocked(nil)
	return cycle, len(cycle) > 0
}

// TopologicalSort orders the whole graph so every node's dependencies appear
// strictly before it. Independent nodes are ordered by descending priority,
// then by name. The result is memoized until the next structural mutation.
func (g *Graph) TopologicalSort() ([]string, error) {
	return g.resolveOrder(fullSortKey)
}

// ResolveDependencies returns the ordered list of nodes that must load
// before name, with name itself last. The order is memoized per root.
func (g *Graph) ResolveDependencies(name string) ([]string, error) {
	return g.resolveOrder(name)
}

// ResolveParallelDependencies partitions the closure of name into load
// levels: every node in level N depends only on nodes in earlier levels, so
// members of one level may load concurrently. Level N+1 must not begin until
// all of level N reported a terminal status.
func (g *Graph) ResolveParallelDependencies(name string) ([][]string, error) {
	g.mu.RLock()
	if levels, ok := g.levelCache[name]; ok {
		out := copyLevels(levels)
		g.mu.RUnlock()
		return out, nil
	}
	gen := g.gen
	levels, err := g.levelsLocked(name)
	g.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	if g.gen == gen {
		g.levelCache[name] = levels
	}
	g.mu.Unlock()
	return copyLevels(levels), nil
}

// DetectVersionConflicts checks every declared constraint against the actual
// version of its target and returns one Conflict per unsatisfied edge,
// ordered by dependent then dependency name.
func (g *Graph) DetectVersionConflicts() []Conflict {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var conflicts []Conflict
	for _, idx := range g.index {
		conflicts = append(conflicts, g.conflictsForLocked(idx)...)
	}
	sort.Slice(conflicts, func(i, j int) bool {
		if conflicts[i].Dependent != conflicts[j].Dependent {
			return conflicts[i].Dependent < conflicts[j].Dependent
		}
		return conflicts[i].Dependency < conflicts[j].Dependency
	})
	if len(conflicts) > 0 {
		logging.Warn("Graph", "detected %d version conflicts", len(conflicts))
	}
	return conflicts
}

// DetectVersionConflictsFor restricts the conflict check to the direct
// dependencies of one node. The loader uses this before activating a module.
func (g *Graph) DetectVersionConflictsFor(name string) ([]Conflict, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	idx, ok := g.index[name]
	if !ok {
		return nil, api.NewUnknownNodeError(name)
	}
	return g.conflictsForLocked(idx), nil
}

func (g *Graph) conflictsForLocked(idx int) []Conflict {
	n := g.nodes[idx]
	var conflicts []Conflict
	for _, e := range n.deps {
		target := g.nodes[e.to]
		if e.constraint.Check(target.version) {
			continue
		}
		conflicts = append(conflicts, Conflict{
			Dependent:  n.name,
			Dependency: target.name,
			Constraint: e.raw,
			Actual:     target.rawVersion,
		})
	}
	return conflicts
}

// resolveOrder serves both whole-graph sorts (root == fullSortKey) and
// rooted resolutions through the shared memoization cache. Cache reads run
// under the shared lock; a computed order is only stored if no structural
// mutation happened while the lock was released.
func (g *Graph) resolveOrder(root string) ([]string, error) {
	g.mu.RLock()
	if order, ok := g.orderCache[root]; ok {
		out := copyStrings(order)
		g.mu.RUnlock()
		return out, nil
	}
	gen := g.gen
	order, err := g.orderLocked(root)
	g.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	if g.gen == gen {
		g.orderCache[root] = order
	}
	g.mu.Unlock()
	return copyStrings(order), nil
}

func (g *Graph) orderLocked(root string) ([]string, error) {
	var subset map[int]struct{}
	if root == fullSortKey {
		subset = make(map[int]struct{}, len(g.index))
		for _, idx := range g.index {
			subset[idx] = struct{}{}
		}
	} else {
		idx, ok := g.index[root]
		if !ok {
			return nil, api.NewUnknownNodeError(root)
		}
		subset = g.closureLocked(idx)
	}
	return g.kahnLocked(subset)
}

// kahnLocked runs Kahn's algorithm over the given node subset, counting
// in-degree along the dependency direction so dependencies surface first.
// Ties among ready nodes break by descending priority, then by name.
func (g *Graph) kahnLocked(subset map[int]struct{}) ([]string, error) {
	indeg := make(map[int]int, len(subset))
	for idx := range subset {
		count := 0
		for _, e := range g.nodes[idx].deps {
			if _, ok := subset[e.to]; ok {
				count++
			}
		}
		indeg[idx] = count
	}

	var ready []int
	for idx, d := range indeg {
		if d == 0 {
			ready = append(ready, idx)
		}
	}

	order := make([]string, 0, len(subset))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			a, b := g.nodes[ready[i]], g.nodes[ready[j]]
			if a.priority != b.priority {
				return a.priority > b.priority
			}
			return a.name < b.name
		})
		next := ready[0]
		ready = ready[1:]
		order = append(order, g.nodes[next].name)

		for _, depIdx := range g.nodes[next].dependents {
			if _, ok := subset[depIdx]; !ok {
				continue
			}
			indeg[depIdx]--
			if indeg[depIdx] == 0 {
				ready = append(ready, depIdx)
			}
		}
	}

	if len(order) != len(subset) {
		cycle := g.findCycleLocked(subset)
		return nil, api.NewCycleDetectedError(cycle)
	}
	return order, nil
}

// levelsLocked partitions the closure of name into parallel load levels.
func (g *Graph) levelsLocked(name string) ([][]string, error) {
	idx, ok := g.index[name]
	if !ok {
		return nil, api.NewUnknownNodeError(name)
	}

	remaining := g.closureLocked(idx)
	var levels [][]string
	for len(remaining) > 0 {
		var levelIdx []int
		for i := range remaining {
			ready := true
			for _, e := range g.nodes[i].deps {
				if _, inRemaining := remaining[e.to]; inRemaining {
					ready = false
					break
				}
			}
			if ready {
				levelIdx = append(levelIdx, i)
			}
		}
		if len(levelIdx) == 0 {
			cycle := g.findCycleLocked(remaining)
			return nil, api.NewCycleDetectedError(cycle)
		}

		sort.Slice(levelIdx, func(i, j int) bool {
			a, b := g.nodes[levelIdx[i]], g.nodes[levelIdx[j]]
			if a.priority != b.priority {
				return a.priority > b.priority
			}
			return a.name < b.name
		})

		level := make([]string, 0, len(levelIdx))
		for _, i := range levelIdx {
			level = append(level, g.nodes[i].name)
			delete(remaining, i)
		}
		levels = append(levels, level)
	}
	return levels, nil
}

const (
	colorWhite = iota
	colorGray
	colorBlack
)

// findCycleLocked runs an iterative three-color DFS and returns the first
// cycle found as a closed path, or nil. A nil subset means the whole graph.
// Start nodes are visited in name order so the result is deterministic.
func (g *Graph) findCycleLocked(subset map[int]struct{}) []string {
	inScope := func(idx int) bool {
		if g.nodes[idx] == nil {
			return false
		}
		if subset == nil {
			return true
		}
		_, ok := subset[idx]
		return ok
	}

	starts := make([]int, 0, len(g.index))
	for _, idx := range g.index {
		if inScope(idx) {
			starts = append(starts, idx)
		}
	}
	sort.Slice(starts, func(i, j int) bool { return g.nodes[starts[i]].name < g.nodes[starts[j]].name })

	color := make(map[int]int, len(starts))

	type frame struct {
		idx  int
		next int
	}

	for _, start := range starts {
		if color[start] != colorWhite {
			continue
		}
		stack := []frame{{idx: start}}
		color[start] = colorGray

		for len(stack) > 0 {
			f := &stack[len(stack)-1]
			n := g.nodes[f.idx]

			descended := false
			for f.next < len(n.deps) {
				e := n.deps[f.next]
				f.next++
				if !inScope(e.to) {
					continue
				}
				switch color[e.to] {
				case colorWhite:
					color[e.to] = colorGray
					stack = append(stack, frame{idx: e.to})
					descended = true
				case colorGray:
					// Back edge: the cycle runs from e.to's stack position
					// up to the current frame and closes on e.to.
					pos := 0
					for i := range stack {
						if stack[i].idx == e.to {
							pos = i
							break
						}
					}
					path := make([]string, 0, len(stack)-pos+1)
					for i := pos; i < len(stack); i++ {
						path = append(path, g.nodes[stack[i].idx].name)
					}
					path = append(path, g.nodes[e.to].name)
					return path
				}
				if descended {
					break
				}
			}

			if !descended {
				color[f.idx] = colorBlack
				stack = stack[:len(stack)-1]
			}
		}
	}
	return nil
}

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func copyLevels(in [][]string) [][]string {
	out := make([][]string, len(in))
	for i, level := range in {
		out[i] = copyStrings(level)
	}
	return out
}
