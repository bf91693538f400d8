package metrics

import (
	"context"
	"time"

	"grimm.is/luci/internal/clock"
	"grimm.is/luci/internal/logging"
)

// SystemSample is one reading of system counters.
type SystemSample struct {
	Uptime      time.Duration
	Load        [3]float64
	MemTotal    uint64
	MemFree     uint64
	MemShared   uint64
	MemBuffered uint64
}

// Collector periodically copies system readings and event bus counters
// into gauges.
type Collector struct {
	registry *Registry
	logger   *logging.Logger
	clock    clock.Clock
	interval time.Duration

	// Sample reads system counters; nil disables system gauges.
	Sample func(ctx context.Context) (SystemSample, error)
	// EventStats returns published and dropped event counts; may be nil.
	EventStats func() (published, dropped uint64)
}

// NewCollector creates a collector updating r every interval.
func NewCollector(r *Registry, interval time.Duration) *Collector {
	return &Collector{
		registry: r,
		logger:   logging.WithComponent("metrics"),
		clock:    clock.Default(),
		interval: interval,
	}
}

// Run collects until ctx is done.
func (c *Collector) Run(ctx context.Context) {
	c.logger.Info("Starting metrics collector", "interval", c.interval.String())

	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect(ctx)
	for {
		select {
		case <-ticker.C():
			c.Collect(ctx)
		case <-ctx.Done():
			c.logger.Info("Stopping metrics collector")
			return
		}
	}
}

// Collect takes one reading.
func (c *Collector) Collect(ctx context.Context) {
	if c.Sample != nil {
		s, err := c.Sample(ctx)
		if err != nil {
			c.logger.Warn("Failed to collect system stats", "error", err)
		} else {
			c.registry.Uptime.Set(s.Uptime.Seconds())
			for i, period := range []string{"1m", "5m", "15m"} {
				c.registry.Load.WithLabelValues(period).Set(s.Load[i])
			}
			c.registry.Memory.WithLabelValues("total").Set(float64(s.MemTotal))
			c.registry.Memory.WithLabelValues("free").Set(float64(s.MemFree))
			c.registry.Memory.WithLabelValues("shared").Set(float64(s.MemShared))
			c.registry.Memory.WithLabelValues("buffered").Set(float64(s.MemBuffered))
		}
	}
	if c.EventStats != nil {
		published, dropped := c.EventStats()
		c.registry.EventsPublished.Set(float64(published))
		c.registry.EventsDropped.Set(float64(dropped))
	}
}
