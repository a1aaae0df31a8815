package cache

import (
	"fmt"

	"github.com/sarchlab/linecache/cache/internal/tagging"
)

// Flush writes every valid dirty line that intersects [beg, end) to the
// device. The lines stay valid. The first failing write aborts the flush and
// is returned; lines flushed before it stay clean.
func (c *Cache) Flush(beg, end uint64) (err error) {
	if err := c.checkRange("flush", beg, end); err != nil {
		return err
	}

	if beg == end {
		return nil
	}

	taskID := c.startTask("flush", beg, end-beg)
	defer func() { c.endTask(taskID, err) }()

	return c.flushRange(taskID, "flush", beg, end)
}

// Invalidate drops every line that intersects [beg, end) without writing it
// back. Later accesses to the range fetch the bytes from the device again.
func (c *Cache) Invalidate(beg, end uint64) (err error) {
	if err := c.checkRange("invalidate", beg, end); err != nil {
		return err
	}

	if beg == end {
		return nil
	}

	taskID := c.startTask("invalidate", beg, end-beg)
	defer func() { c.endTask(taskID, err) }()

	c.invalidateRange(taskID, beg, end)

	return nil
}

// Clean flushes and then invalidates [beg, end). If the flush fails, nothing
// is invalidated.
func (c *Cache) Clean(beg, end uint64) (err error) {
	if err := c.checkRange("clean", beg, end); err != nil {
		return err
	}

	if beg == end {
		return nil
	}

	taskID := c.startTask("clean", beg, end-beg)
	defer func() { c.endTask(taskID, err) }()

	if err := c.flushRange(taskID, "clean", beg, end); err != nil {
		return err
	}

	c.invalidateRange(taskID, beg, end)

	return nil
}

func (c *Cache) checkRange(op string, beg, end uint64) error {
	if c.closed.Load() {
		return closedError(op)
	}

	if beg > end {
		return invalidArgument(op, beg,
			fmt.Errorf("%w: begin 0x%x after end 0x%x", ErrOutOfRange, beg, end))
	}

	if end > c.size {
		return invalidArgument(op, end,
			fmt.Errorf("%w: end 0x%x past size 0x%x", ErrOutOfRange, end, c.size))
	}

	return nil
}

func (c *Cache) flushRange(taskID, op string, beg, end uint64) error {
	return c.visitLines(beg, end, true,
		func(_ *tagging.Set, block *tagging.Block) error {
			if !block.IsDirty {
				return nil
			}

			return c.writeBack(taskID, op, block)
		})
}

func (c *Cache) invalidateRange(taskID string, beg, end uint64) {
	_ = c.visitLines(beg, end, false,
		func(_ *tagging.Set, block *tagging.Block) error {
			dirty := block.IsDirty
			c.directory.Invalidate(block)
			c.counters.invalidations.Add(1)
			c.tagTask(taskID, "invalidate")
			c.lineEvent(taskID, HookPosLineInvalidate, block.Tag, block, dirty)

			return nil
		})
}

// visitLines calls fn on every valid line that intersects [beg, end), with
// the set of the line locked. It stops at the first error.
//
// Short ranges are walked line by line. Long ranges are served by scanning
// the directory instead, or only the dirty lines if dirtyOnly is set.
func (c *Cache) visitLines(
	beg, end uint64,
	dirtyOnly bool,
	fn lineFunc,
) error {
	first := c.lineAddr(beg)
	last := c.lineAddr(end - 1)
	numInRange := (last-first)>>c.log2LineSize + 1

	if numInRange <= uint64(c.numLines) {
		return c.walkRange(first, last, fn)
	}

	if dirtyOnly {
		return c.scanBlocks(c.directory.DirtyBlocks(), beg, end, fn)
	}

	for i := range c.directory.Sets {
		if err := c.scanBlocks(c.directory.Sets[i].Blocks, beg, end, fn); err != nil {
			return err
		}
	}

	return nil
}

func (c *Cache) walkRange(first, last uint64, fn lineFunc) error {
	for lineAddr := first; ; lineAddr += c.lineSize {
		set, _ := c.directory.GetSet(lineAddr)

		set.Lock()
		var err error
		if block := c.directory.Lookup(set, lineAddr); block != nil {
			err = fn(set, block)
		}
		set.Unlock()

		if err != nil {
			return err
		}

		if lineAddr == last {
			return nil
		}
	}
}

func (c *Cache) scanBlocks(
	blocks []*tagging.Block,
	beg, end uint64,
	fn lineFunc,
) error {
	for _, block := range blocks {
		set := &c.directory.Sets[block.SetID]

		set.Lock()
		var err error
		if block.IsValid && block.Tag < end && block.Tag+c.lineSize > beg {
			err = fn(set, block)
		}
		set.Unlock()

		if err != nil {
			return err
		}
	}

	return nil
}
