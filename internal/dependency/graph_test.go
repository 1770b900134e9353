package dependency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stardock/internal/api"
)

// diamond builds A <- B, A <- C, {B,C} <- D.
func diamond(t *testing.T) *Graph {
	t.Helper()
	g := New()
	require.NoError(t, g.AddNode("A", "1.0.0", nil))
	require.NoError(t, g.AddNode("B", "1.0.0", []Dependency{{Name: "A", Constraint: ">=1.0.0"}}))
	require.NoError(t, g.AddNode("C", "1.0.0", []Dependency{{Name: "A", Constraint: ">=1.0.0"}}))
	require.NoError(t, g.AddNode("D", "1.0.0", []Dependency{{Name: "B"}, {Name: "C"}}))
	return g
}

func TestAddNode(t *testing.T) {
	g := New()

	require.NoError(t, g.AddNode("core", "1.2.3", nil))
	assert.True(t, g.HasNode("core"))

	t.Run("duplicate name", func(t *testing.T) {
		err := g.AddNode("core", "2.0.0", nil)
		assert.Equal(t, api.KindDuplicateNode, api.KindOf(err))
	})

	t.Run("unknown dependency target", func(t *testing.T) {
		err := g.AddNode("driver", "1.0.0", []Dependency{{Name: "missing"}})
		assert.Equal(t, api.KindUnknownNode, api.KindOf(err))
		assert.False(t, g.HasNode("driver"), "failed insert must leave the graph untouched")
	})

	t.Run("invalid version", func(t *testing.T) {
		err := g.AddNode("driver", "not-a-version", nil)
		assert.Error(t, err)
	})

	t.Run("invalid constraint", func(t *testing.T) {
		err := g.AddNode("driver", "1.0.0", []Dependency{{Name: "core", Constraint: ">>nope"}})
		assert.Error(t, err)
		assert.False(t, g.HasNode("driver"))
	})
}

func TestRemoveNode(t *testing.T) {
	g := diamond(t)

	err := g.RemoveNode("A")
	require.Error(t, err)
	assert.Equal(t, api.KindHasDependents, api.KindOf(err))
	assert.ErrorContains(t, err, "B")
	assert.ErrorContains(t, err, "C")

	require.NoError(t, g.RemoveNode("D"))
	require.NoError(t, g.RemoveNode("B"))
	require.NoError(t, g.RemoveNode("C"))
	require.NoError(t, g.RemoveNode("A"))
	assert.Empty(t, g.Nodes())

	assert.Equal(t, api.KindUnknownNode, api.KindOf(g.RemoveNode("A")))
}

func TestForceRemoveNode(t *testing.T) {
	g := diamond(t)

	require.NoError(t, g.ForceRemoveNode("A"))
	assert.False(t, g.HasNode("A"))
	assert.Empty(t, g.GetDependencies("B"), "dependent edges onto A must be dropped")
	assert.Empty(t, g.GetDependencies("C"))

	order, err := g.TopologicalSort()
	require.NoError(t, err)
	assert.Len(t, order, 3)
}

func TestForceRemoveNodeLoadedRefused(t *testing.T) {
	g := diamond(t)
	require.NoError(t, g.SetStatus("A", StatusLoaded))

	err := g.ForceRemoveNode("A")
	require.Error(t, err)
	assert.Equal(t, api.KindHasDependents, api.KindOf(err))
	assert.True(t, g.HasNode("A"))
}

func TestAddDependency(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode("a", "1.0.0", nil))
	require.NoError(t, g.AddNode("b", "1.0.0", nil))
	require.NoError(t, g.AddNode("c", "1.0.0", nil))

	require.NoError(t, g.AddDependency("b", "a", ">=1.0.0"))
	require.NoError(t, g.AddDependency("c", "b", ""))

	t.Run("unknown endpoint", func(t *testing.T) {
		assert.Equal(t, api.KindUnknownNode, api.KindOf(g.AddDependency("x", "a", "")))
		assert.Equal(t, api.KindUnknownNode, api.KindOf(g.AddDependency("a", "x", "")))
	})

	t.Run("self dependency", func(t *testing.T) {
		err := g.AddDependency("a", "a", "")
		assert.Equal(t, api.KindWouldCreateCycle, api.KindOf(err))
	})

	t.Run("closing edge rejected", func(t *testing.T) {
		// c -> b -> a already holds, so a -> c would close a cycle.
		err := g.AddDependency("a", "c", "")
		require.Error(t, err)
		assert.Equal(t, api.KindWouldCreateCycle, api.KindOf(err))

		_, cyclic := g.HasCycle()
		assert.False(t, cyclic, "rejected edge must not be inserted")
	})

	t.Run("duplicate edge updates constraint", func(t *testing.T) {
		require.NoError(t, g.AddDependency("b", "a", ">=2.0.0"))
		assert.Equal(t, []string{"a"}, g.GetDependencies("b"))

		conflicts := g.DetectVersionConflicts()
		require.Len(t, conflicts, 1)
		assert.Equal(t, ">=2.0.0", conflicts[0].Constraint)
	})
}

func TestRemoveDependency(t *testing.T) {
	g := diamond(t)

	require.NoError(t, g.RemoveDependency("D", "B"))
	assert.Equal(t, []string{"C"}, g.GetDependencies("D"))
	assert.Empty(t, g.GetDependents("B"))

	// Absent edge between existing nodes is a no-op.
	require.NoError(t, g.RemoveDependency("D", "B"))
	assert.Equal(t, api.KindUnknownNode, api.KindOf(g.RemoveDependency("D", "missing")))
}

func TestQueries(t *testing.T) {
	g := diamond(t)

	assert.Equal(t, []string{"B", "C"}, g.GetDependencies("D"))
	assert.ElementsMatch(t, []string{"B", "C"}, g.GetDependents("A"))
	assert.Equal(t, []string{"A", "B", "C"}, g.GetAllDependencies("D"))
	assert.Empty(t, g.GetAllDependencies("A"))
	assert.Nil(t, g.GetDependencies("missing"))

	info, ok := g.GetNode("B")
	require.True(t, ok)
	assert.Equal(t, "B", info.Name)
	assert.Equal(t, "1.0.0", info.Version)
	assert.Equal(t, StatusUnloaded, info.Status)
	require.Len(t, info.Dependencies, 1)
	assert.Equal(t, Dependency{Name: "A", Constraint: ">=1.0.0"}, info.Dependencies[0])

	nodes := g.Nodes()
	require.Len(t, nodes, 4)
	assert.Equal(t, "A", nodes[0].Name)
	assert.Equal(t, "D", nodes[3].Name)
}

func TestTopologicalSort(t *testing.T) {
	g := diamond(t)

	order, err := g.TopologicalSort()
	require.NoError(t, err)
	assertTopologicalOrder(t, g, order)
	assert.Equal(t, "A", order[0])
	assert.Equal(t, "D", order[3])
}

func TestTopologicalSortPriorityTieBreak(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode("alpha", "1.0.0", nil))
	require.NoError(t, g.AddNode("beta", "1.0.0", nil))
	require.NoError(t, g.AddNode("gamma", "1.0.0", nil))
	require.NoError(t, g.SetPriority("gamma", 10))

	order, err := g.TopologicalSort()
	require.NoError(t, err)
	assert.Equal(t, []string{"gamma", "alpha", "beta"}, order)
}

func TestResolveDependencies(t *testing.T) {
	g := diamond(t)

	order, err := g.ResolveDependencies("D")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "D"}, order)
	assert.Equal(t, "D", order[len(order)-1], "requested node loads last")

	order, err = g.ResolveDependencies("B")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, order)

	_, err = g.ResolveDependencies("missing")
	assert.Equal(t, api.KindUnknownNode, api.KindOf(err))
}

func TestResolveParallelDependencies(t *testing.T) {
	g := diamond(t)

	levels, err := g.ResolveParallelDependencies("D")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"A"}, {"B", "C"}, {"D"}}, levels)
}

func TestResolutionCacheInvalidation(t *testing.T) {
	g := diamond(t)

	first, err := g.ResolveDependencies("D")
	require.NoError(t, err)

	// Mutate the caller's copy; the cache must be unaffected.
	first[0] = "mutated"
	again, err := g.ResolveDependencies("D")
	require.NoError(t, err)
	assert.Equal(t, "A", again[0])

	// Structural mutation invalidates memoized orders.
	require.NoError(t, g.AddNode("E", "1.0.0", nil))
	require.NoError(t, g.AddDependency("D", "E", ""))

	order, err := g.ResolveDependencies("D")
	require.NoError(t, err)
	assert.Contains(t, order, "E")
	assertTopologicalOrder(t, g, order)
}

func TestSetPriorityWithClearCache(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode("a", "1.0.0", nil))
	require.NoError(t, g.AddNode("b", "1.0.0", nil))

	order, err := g.TopologicalSort()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, order)

	require.NoError(t, g.SetPriority("b", 5))
	g.ClearCache()

	order, err = g.TopologicalSort()
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, order)
}

func TestHasCycle(t *testing.T) {
	g := diamond(t)
	cycle, found := g.HasCycle()
	assert.False(t, found)
	assert.Nil(t, cycle)
}

func TestDetectVersionConflicts(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode("core", "1.5.0", nil))
	require.NoError(t, g.AddNode("driver", "1.0.0", []Dependency{{Name: "core", Constraint: ">=2.0.0"}}))
	require.NoError(t, g.AddNode("tool", "1.0.0", []Dependency{{Name: "core", Constraint: ">=1.0.0"}}))

	conflicts := g.DetectVersionConflicts()
	require.Len(t, conflicts, 1)
	assert.Equal(t, Conflict{
		Dependent:  "driver",
		Dependency: "core",
		Constraint: ">=2.0.0",
		Actual:     "1.5.0",
	}, conflicts[0])

	forDriver, err := g.DetectVersionConflictsFor("driver")
	require.NoError(t, err)
	assert.Len(t, forDriver, 1)

	forTool, err := g.DetectVersionConflictsFor("tool")
	require.NoError(t, err)
	assert.Empty(t, forTool)

	_, err = g.DetectVersionConflictsFor("missing")
	assert.Equal(t, api.KindUnknownNode, api.KindOf(err))
}

func TestGroupDependencies(t *testing.T) {
	g := diamond(t)
	require.NoError(t, g.SetGroup("B", "imaging"))
	require.NoError(t, g.SetGroup("C", "imaging"))

	assert.Equal(t, []string{"A", "B", "C"}, g.GroupDependencies("imaging"))
	assert.Empty(t, g.GroupDependencies("unknown"))
}

func TestClear(t *testing.T) {
	g := diamond(t)
	g.Clear()

	assert.Empty(t, g.Nodes())
	require.NoError(t, g.AddNode("A", "1.0.0", nil))
	assert.True(t, g.HasNode("A"))
}

func TestRemovalReusesIndexSafely(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode("a", "1.0.0", nil))
	require.NoError(t, g.AddNode("b", "1.0.0", []Dependency{{Name: "a"}}))
	require.NoError(t, g.RemoveNode("b"))
	require.NoError(t, g.AddNode("c", "1.0.0", []Dependency{{Name: "a"}}))

	assert.Equal(t, []string{"c"}, g.GetDependents("a"))

	order, err := g.TopologicalSort()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, order)
}

// assertTopologicalOrder verifies every node's dependencies precede it.
func assertTopologicalOrder(t *testing.T, g *Graph, order []string) {
	t.Helper()
	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}
	for _, name := range order {
		for _, dep := range g.GetDependencies(name) {
			depPos, ok := pos[dep]
			require.True(t, ok, "dependency %s of %s missing from order", dep, name)
			assert.Less(t, depPos, pos[name], "%s must load before %s", dep, name)
		}
	}
}
