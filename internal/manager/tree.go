package manager

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/list"

	"stardock/internal/api"
	"stardock/internal/dependency"
)

// PrintDependencyTree renders the transitive dependency closure of a
// component for diagnostics. Pure formatting, no side effects; rendered
// trees are memoized until ClearCaches or a registration invalidates them.
func (m *Manager) PrintDependencyTree(name string) (string, error) {
	m.mu.RLock()
	cached, ok := m.treeCache[name]
	m.mu.RUnlock()
	if ok {
		return cached, nil
	}

	if !m.graph.HasNode(name) {
		return "", api.NewComponentNotFoundError(name)
	}

	lw := list.NewWriter()
	lw.SetStyle(list.StyleConnectedLight)
	m.renderNode(lw, name, make(map[string]bool))
	rendered := lw.Render()

	m.mu.Lock()
	m.treeCache[name] = rendered
	m.mu.Unlock()
	return rendered, nil
}

// renderNode appends one node and its dependency subtree. A node already on
// the current path is printed once more without descending; the graph is
// acyclic, so this only guards shared diamond branches against duplication.
func (m *Manager) renderNode(lw list.Writer, name string, seen map[string]bool) {
	lw.AppendItem(m.describeNode(name))
	if seen[name] {
		return
	}
	seen[name] = true

	deps := m.graph.GetDependencies(name)
	if len(deps) == 0 {
		return
	}
	lw.Indent()
	for _, dep := range deps {
		m.renderNode(lw, dep, seen)
	}
	lw.UnIndent()
}

func (m *Manager) describeNode(name string) string {
	info, ok := m.graph.GetNode(name)
	if !ok {
		return name
	}
	status := info.Status
	if status == "" {
		status = dependency.StatusUnloaded
	}
	return fmt.Sprintf("%s %s [%s]", info.Name, info.Version, status)
}
