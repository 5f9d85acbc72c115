package metrics

import (
	"github.com/cuemby/pilot/pkg/types"
)

// PlaceholderSource is the view of the placeholder manager the collector reads
type PlaceholderSource interface {
	Pending() []*types.PlaceholderJob
	Running() []*types.PlaceholderJob
	OngoingLevels() []types.OngoingLevel
}

// Collector copies placeholder bookkeeping into gauges. The controller calls
// Collect once per decision cycle, so no locking is needed.
type Collector struct {
	source PlaceholderSource
}

// NewCollector creates a new metrics collector
func NewCollector(src PlaceholderSource) *Collector {
	return &Collector{source: src}
}

// Collect refreshes the gauges
func (c *Collector) Collect() {
	c.collectPlaceholderMetrics()
	c.collectLevelMetrics()
}

func (c *Collector) collectPlaceholderMetrics() {
	PlaceholdersTotal.WithLabelValues(string(types.PlaceholderPending)).Set(float64(len(c.source.Pending())))
	PlaceholdersTotal.WithLabelValues(string(types.PlaceholderRunning)).Set(float64(len(c.source.Running())))
}

func (c *Collector) collectLevelMetrics() {
	OngoingLevels.Set(float64(len(c.source.OngoingLevels())))
}
