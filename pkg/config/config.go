// Package config loads simulation settings from YAML.
package config

import (
	"fmt"
	"os"

	"github.com/cuemby/pilot/pkg/batch"
	"github.com/cuemby/pilot/pkg/types"
	"gopkg.in/yaml.v3"
)

// Defaults
const (
	DefaultHosts        = 64
	DefaultCoreFlopRate = 1e9
	DefaultClustering   = "zhang:overlap:pnolimit"
	DefaultDataDir      = "./pilot-data"
)

// Simulation describes one simulated run
type Simulation struct {
	Hosts        int                   `yaml:"hosts"`
	CoreFlopRate float64               `yaml:"core_flop_rate"`
	Workflow     string                `yaml:"workflow"`
	Clustering   string                `yaml:"clustering"`
	Overlap      bool                  `yaml:"overlap"`
	Background   []batch.BackgroundJob `yaml:"background,omitempty"`
	DataDir      string                `yaml:"data_dir"`
	MetricsAddr  string                `yaml:"metrics_addr,omitempty"`
}

// Default returns a simulation with every default applied
func Default() *Simulation {
	s := &Simulation{}
	s.ApplyDefaults()
	return s
}

// Load reads a simulation file, applies defaults and validates it
func Load(path string) (*Simulation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a simulation document, applies defaults and validates it
func Parse(data []byte) (*Simulation, error) {
	var s Simulation
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML: %v", types.ErrConfiguration, err)
	}
	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// ApplyDefaults fills unset fields
func (s *Simulation) ApplyDefaults() {
	if s.Hosts == 0 {
		s.Hosts = DefaultHosts
	}
	if s.CoreFlopRate == 0 {
		s.CoreFlopRate = DefaultCoreFlopRate
	}
	if s.Clustering == "" {
		s.Clustering = DefaultClustering
	}
	if s.DataDir == "" {
		s.DataDir = DefaultDataDir
	}
}

// Validate checks the settings that can be checked without building the
// workflow or the strategy
func (s *Simulation) Validate() error {
	if s.Hosts < 1 {
		return fmt.Errorf("%w: hosts must be at least 1, got %d", types.ErrConfiguration, s.Hosts)
	}
	if s.CoreFlopRate <= 0 {
		return fmt.Errorf("%w: core_flop_rate must be positive, got %g", types.ErrConfiguration, s.CoreFlopRate)
	}
	if s.Workflow == "" {
		return fmt.Errorf("%w: workflow is required", types.ErrConfiguration)
	}
	for i, bg := range s.Background {
		if bg.Nodes < 1 || bg.Nodes > s.Hosts {
			return fmt.Errorf("%w: background job %d requests %d nodes on %d hosts", types.ErrConfiguration, i, bg.Nodes, s.Hosts)
		}
		if bg.Duration <= 0 || bg.Submit < 0 {
			return fmt.Errorf("%w: background job %d has invalid timing", types.ErrConfiguration, i)
		}
	}
	return nil
}

// SimulatorConfig returns the batch simulator settings
func (s *Simulation) SimulatorConfig() batch.SimulatorConfig {
	return batch.SimulatorConfig{
		Hosts:        s.Hosts,
		CoreFlopRate: s.CoreFlopRate,
		Background:   s.Background,
	}
}
