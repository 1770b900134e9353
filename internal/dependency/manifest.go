package dependency

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"stardock/pkg/logging"
)

// Manifest describes a set of components and their dependency edges as read
// from a manifest file. Both YAML and JSON documents are accepted.
type Manifest struct {
	Components []ManifestEntry `json:"components"`
}

// ManifestEntry is one component declaration inside a manifest.
type ManifestEntry struct {
	Name         string       `json:"name"`
	Version      string       `json:"version"`
	Priority     int          `json:"priority,omitempty"`
	Group        string       `json:"group,omitempty"`
	Dependencies []Dependency `json:"dependencies,omitempty"`
}

// LoadManifest reads and parses a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	logging.Debug("Graph", "loaded manifest %s with %d components", path, len(m.Components))
	return &m, nil
}

// ApplyManifest inserts every manifest entry into the graph. Nodes are added
// first without edges, then the declared dependencies, so entry order inside
// the manifest does not matter and every edge goes through the same cycle and
// constraint checks as a direct AddDependency call.
func (g *Graph) ApplyManifest(m *Manifest) error {
	for _, entry := range m.Components {
		if err := g.AddNode(entry.Name, entry.Version, nil); err != nil {
			return err
		}
		if entry.Priority != 0 {
			if err := g.SetPriority(entry.Name, entry.Priority); err != nil {
				return err
			}
		}
		if entry.Group != "" {
			if err := g.SetGroup(entry.Name, entry.Group); err != nil {
				return err
			}
		}
	}

	for _, entry := range m.Components {
		for _, dep := range entry.Dependencies {
			if err := g.AddDependency(entry.Name, dep.Name, dep.Constraint); err != nil {
				return err
			}
		}
	}
	return nil
}
