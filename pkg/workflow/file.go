package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Description is the YAML form of a workflow
type Description struct {
	Name  string            `yaml:"name"`
	Tasks []TaskDescription `yaml:"tasks"`
}

// TaskDescription describes one task and its control dependencies
type TaskDescription struct {
	ID      string   `yaml:"id"`
	Flops   float64  `yaml:"flops"`
	Parents []string `yaml:"parents,omitempty"`
}

// LoadFile reads a YAML workflow description. Only control dependencies are
// kept; file transfers are not modeled.
func LoadFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	return Load(data)
}

// Load builds a workflow from YAML bytes
func Load(data []byte) (*Workflow, error) {
	var desc Description
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("failed to parse workflow: %w", err)
	}
	return FromDescription(&desc)
}

// FromDescription builds a workflow from a parsed description
func FromDescription(desc *Description) (*Workflow, error) {
	if len(desc.Tasks) == 0 {
		return nil, fmt.Errorf("workflow has no tasks")
	}
	w := New()
	for _, t := range desc.Tasks {
		if err := w.AddTask(t.ID, t.Flops); err != nil {
			return nil, err
		}
	}
	for _, t := range desc.Tasks {
		for _, p := range t.Parents {
			if err := w.AddDependency(p, t.ID); err != nil {
				return nil, err
			}
		}
	}
	return w, nil
}
