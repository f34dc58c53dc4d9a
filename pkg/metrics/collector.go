// Package metrics provides process-lifetime counter collection.
//
// The Collector accumulates named counters from concurrent workers. It is a
// leaf package with no internal dependencies; how counters are exported to
// a monitoring system is up to the caller holding the Collector.
package metrics

import "sync"

// Counter names used by the transfer and push engines.
const (
	RequestSuccess      = "request.success"
	RequestFailure      = "request.failure"
	RequestRetrySuccess = "request.retry.success"
	BatchSuccess        = "batch.success"
	BatchError          = "batch.error"
	ParseError          = "parse.error"
	DownloadSuccess     = "download.success"
	DownloadFailure     = "download.failure"
)

// Collector accumulates named, monotonically-increasing counters.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe so callers
// can leave metrics unwired.
type Collector struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{counters: make(map[string]int64)}
}

// Inc increments the named counter by one.
func (c *Collector) Inc(name string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.counters[name]++
	c.mu.Unlock()
}

// Get returns the current value of the named counter.
func (c *Collector) Get(name string) int64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[name]
}

// Snapshot returns a point-in-time copy of all counters. The returned map
// is owned by the caller; the Collector can continue to be mutated
// independently.
func (c *Collector) Snapshot() map[string]int64 {
	if c == nil {
		return map[string]int64{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int64, len(c.counters))
	for k, v := range c.counters {
		out[k] = v
	}
	return out
}
