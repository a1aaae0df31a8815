package cache

import "sync/atomic"

// Stats is a snapshot of the counters of a cache.
type Stats struct {
	Reads         uint64 `json:"reads"`
	Writes        uint64 `json:"writes"`
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Fills         uint64 `json:"fills"`
	WriteBacks    uint64 `json:"write_backs"`
	WriteThroughs uint64 `json:"write_throughs"`
	Evictions     uint64 `json:"evictions"`
	Invalidations uint64 `json:"invalidations"`
	DeviceErrors  uint64 `json:"device_errors"`
	DirtyLines    int    `json:"dirty_lines"`
}

// HitRate returns the fraction of line lookups that hit.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}

	return float64(s.Hits) / float64(total)
}

type counters struct {
	reads         atomic.Uint64
	writes        atomic.Uint64
	hits          atomic.Uint64
	misses        atomic.Uint64
	fills         atomic.Uint64
	writeBacks    atomic.Uint64
	writeThroughs atomic.Uint64
	evictions     atomic.Uint64
	invalidations atomic.Uint64
	deviceErrors  atomic.Uint64
}

// Stats returns the current counters of the cache.
func (c *Cache) Stats() Stats {
	s := Stats{
		Reads:         c.counters.reads.Load(),
		Writes:        c.counters.writes.Load(),
		Hits:          c.counters.hits.Load(),
		Misses:        c.counters.misses.Load(),
		Fills:         c.counters.fills.Load(),
		WriteBacks:    c.counters.writeBacks.Load(),
		WriteThroughs: c.counters.writeThroughs.Load(),
		Evictions:     c.counters.evictions.Load(),
		Invalidations: c.counters.invalidations.Load(),
		DeviceErrors:  c.counters.deviceErrors.Load(),
	}

	if !c.closed.Load() {
		s.DirtyLines = c.directory.NumDirty()
	}

	return s
}
