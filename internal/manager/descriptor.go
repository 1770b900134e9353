package manager

import (
	"fmt"
	"os"
	"path/filepath"

	"sigs.k8s.io/yaml"

	"stardock/internal/dependency"
)

// descriptorNames are the metadata file names probed inside a component
// directory, in order of preference. Both parse through the same YAML
// frontend, so JSON descriptors need no separate code path.
var descriptorNames = []string{"component.yaml", "component.yml", "component.json"}

// ParamSpec declares one load-time parameter a component accepts.
type ParamSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
}

// Descriptor is the metadata file shipped next to a component's artifact.
type Descriptor struct {
	Name         string                  `json:"name"`
	Version      string                  `json:"version"`
	Kind         string                  `json:"kind,omitempty"`
	Artifact     string                  `json:"artifact"`
	Enabled      *bool                   `json:"enabled,omitempty"`
	Priority     int                     `json:"priority,omitempty"`
	Group        string                  `json:"group,omitempty"`
	Dependencies []dependency.Dependency `json:"dependencies,omitempty"`
	Params       []ParamSpec             `json:"params,omitempty"`
	Doc          string                  `json:"doc,omitempty"`

	// dir is where the descriptor was found; artifact paths resolve
	// relative to it.
	dir string
}

// IsEnabled defaults to true when the descriptor omits the flag.
func (d *Descriptor) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// ArtifactPath resolves the artifact location relative to the descriptor's
// directory. Absolute artifact entries pass through unchanged.
func (d *Descriptor) ArtifactPath() string {
	if filepath.IsAbs(d.Artifact) || d.dir == "" {
		return d.Artifact
	}
	return filepath.Join(d.dir, d.Artifact)
}

// Validate checks the fields every descriptor must carry.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("descriptor missing name")
	}
	if d.Version == "" {
		return fmt.Errorf("descriptor for %s missing version", d.Name)
	}
	if d.Artifact == "" {
		return fmt.Errorf("descriptor for %s missing artifact", d.Name)
	}
	for _, p := range d.Params {
		if p.Name == "" {
			return fmt.Errorf("descriptor for %s has a param without a name", d.Name)
		}
		switch p.Type {
		case "string", "number", "bool", "":
		default:
			return fmt.Errorf("descriptor for %s: param %s has unsupported type %q", d.Name, p.Name, p.Type)
		}
	}
	return nil
}

// LoadDescriptor reads the component descriptor from a component directory.
func LoadDescriptor(dir string) (*Descriptor, error) {
	for _, name := range descriptorNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read descriptor %s: %w", path, err)
		}

		var d Descriptor
		if err := yaml.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("parse descriptor %s: %w", path, err)
		}
		d.dir = dir
		if err := d.Validate(); err != nil {
			return nil, err
		}
		return &d, nil
	}
	return nil, fmt.Errorf("no component descriptor in %s", dir)
}

// validateParams checks caller-supplied load parameters against the
// descriptor's schema. The first offending field is named in the error.
func validateParams(d *Descriptor, params map[string]interface{}) (string, bool) {
	specs := make(map[string]ParamSpec, len(d.Params))
	for _, p := range d.Params {
		specs[p.Name] = p
		if p.Required {
			if _, ok := params[p.Name]; !ok {
				return p.Name, false
			}
		}
	}

	for name, value := range params {
		spec, ok := specs[name]
		if !ok {
			return name, false
		}
		if !paramTypeMatches(spec.Type, value) {
			return name, false
		}
	}
	return "", true
}

func paramTypeMatches(typ string, value interface{}) bool {
	switch typ {
	case "", "string":
		if typ == "" {
			return true
		}
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case "bool":
		_, ok := value.(bool)
		return ok
	}
	return false
}
