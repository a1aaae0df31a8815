// Package cache provides a block-granular, set-associative cache engine that
// sits in front of a slow byte-addressable device.
//
// The cache is safe for concurrent use. Each set is protected by its own lock,
// so operations on lines of different sets proceed in parallel, while
// operations on the same line are serialized. Close must not run
// concurrently with any other operation.
package cache

import (
	"sync/atomic"

	"github.com/sarchlab/linecache/cache/internal/tagging"
	"github.com/sarchlab/linecache/device"
	"github.com/sarchlab/linecache/hooking"
)

// Cache is a write-through / write-back cache over a Device.
type Cache struct {
	hooking.HookableBase

	name         string
	size         uint64
	lineSize     uint64
	log2LineSize uint
	offsetMask   uint64
	numLines     int
	numWays      int
	numSets      int

	device    device.Device
	directory *tagging.Directory
	closed    atomic.Bool
	counters  counters
}

// Name returns the name of the cache.
func (c *Cache) Name() string {
	return c.name
}

// Size returns the number of device bytes the cache covers.
func (c *Cache) Size() uint64 {
	return c.size
}

// LineSize returns the size of a line in bytes.
func (c *Cache) LineSize() uint64 {
	return c.lineSize
}

// NumLines returns the number of lines the cache can hold.
func (c *Cache) NumLines() int {
	return c.numLines
}

// NumSets returns the number of sets.
func (c *Cache) NumSets() int {
	return c.numSets
}

// NumWays returns the way associativity.
func (c *Cache) NumWays() int {
	return c.numWays
}

// Close writes back every dirty line and releases the line buffers. All the
// dirty lines are attempted even if some of them fail; the first failure is
// returned. The buffers are released in any case, and every later operation
// fails with ErrClosed.
func (c *Cache) Close() (err error) {
	if !c.closed.CompareAndSwap(false, true) {
		return closedError("close")
	}

	taskID := c.startTask("close", 0, c.size)
	defer func() { c.endTask(taskID, err) }()

	for _, block := range c.directory.DirtyBlocks() {
		set := &c.directory.Sets[block.SetID]

		set.Lock()
		var wbErr error
		if block.IsValid && block.IsDirty {
			wbErr = c.writeBack(taskID, "close", block)
		}
		set.Unlock()

		if wbErr != nil && err == nil {
			err = wbErr
		}
	}

	c.directory.Release()

	return err
}

// A LineInfo describes what a cache line holds. It does not include the
// data.
type LineInfo struct {
	SetID int    `json:"set_id"`
	WayID int    `json:"way_id"`
	Addr  uint64 `json:"addr"`
	Valid bool   `json:"valid"`
	Dirty bool   `json:"dirty"`
}

// Lines returns a snapshot of the line directory. Each set is copied under
// its lock, but sets are copied one after another. A closed cache has no
// lines.
func (c *Cache) Lines() []LineInfo {
	if c.closed.Load() {
		return nil
	}

	lines := make([]LineInfo, 0, c.numLines)
	for i := range c.directory.Sets {
		set := &c.directory.Sets[i]

		set.Lock()
		for _, block := range set.Blocks {
			lines = append(lines, LineInfo{
				SetID: block.SetID,
				WayID: block.WayID,
				Addr:  block.Tag,
				Valid: block.IsValid,
				Dirty: block.IsValid && block.IsDirty,
			})
		}
		set.Unlock()
	}

	return lines
}

func (c *Cache) lineAddr(addr uint64) uint64 {
	return addr &^ c.offsetMask
}

// transferSize is the number of bytes the device holds for the line at
// lineAddr. Only the last line can be shorter than a full line.
func (c *Cache) transferSize(lineAddr uint64) uint64 {
	return min(c.lineSize, c.size-lineAddr)
}

// clip truncates a request to the part that lies inside the device.
func (c *Cache) clip(addr uint64, count int) int {
	return int(min(uint64(count), c.size-addr))
}
