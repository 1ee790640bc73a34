// Package telemetry implements the controller-side TM[3,25] decoder and
// latest-value cache: it turns a structureId plus a stream of big-endian
// f32s back into a name->value map, using the same static structureId
// lookup table the endpoint's default housekeeping structures are built
// from, and fans the result out to subscribers and durable sinks.
package telemetry

import "sync"

// Cache is the single shared latest-value map: last-write-wins per name,
// guarded by one writer lock (readers take RLock, the decoder takes Lock
// to apply a batch of updates atomically so a snapshot never interleaves
// two TM[3,25] reports).
type Cache struct {
	mu     sync.RWMutex
	values map[string]float64
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{values: make(map[string]float64)}
}

// apply writes every name/value pair atomically.
func (c *Cache) apply(updates map[string]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range updates {
		c.values[k] = v
	}
}

// Snapshot returns a copy of the latest-value map.
func (c *Cache) Snapshot() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Get returns one named value and whether it has ever been set.
func (c *Cache) Get(name string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[name]
	return v, ok
}
