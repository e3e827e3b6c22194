package dispatcher

import (
	"context"
	"sync"

	"fleetgate/internal/fleet"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// fleetCounts holds instance counts by state from the last successful status
// call. The fleet gauge reads it so a scrape never reaches the provider.
type fleetCounts struct {
	mu     sync.RWMutex
	counts map[fleet.State]int64
}

func (c *fleetCounts) record(instances []fleet.Instance) {
	counts := make(map[fleet.State]int64)
	for _, inst := range instances {
		counts[inst.State]++
	}
	c.mu.Lock()
	c.counts = counts
	c.mu.Unlock()
}

func (c *fleetCounts) snapshot() map[fleet.State]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[fleet.State]int64, len(c.counts))
	for state, n := range c.counts {
		out[state] = n
	}
	return out
}

func (c *fleetCounts) observe(_ context.Context, obs metric.Int64Observer) error {
	for state, n := range c.snapshot() {
		obs.Observe(n, metric.WithAttributes(attribute.String("state", string(state))))
	}
	return nil
}
