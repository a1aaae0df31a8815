package cache

import (
	"fmt"

	"github.com/sarchlab/linecache/cache/internal/tagging"
)

// lineFunc works on a line that is present in the cache. It is called with
// the set locked.
type lineFunc func(set *tagging.Set, block *tagging.Block) error

// accessLine makes sure that the line at lineAddr is cached and calls fn on
// it while holding the set lock.
func (c *Cache) accessLine(
	taskID, op string,
	lineAddr uint64,
	fn lineFunc,
) error {
	set, _ := c.directory.GetSet(lineAddr)

	set.Lock()
	defer set.Unlock()

	block, err := c.lookupOrFill(taskID, op, set, lineAddr)
	if err != nil {
		return err
	}

	return fn(set, block)
}

func (c *Cache) lookupOrFill(
	taskID, op string,
	set *tagging.Set,
	lineAddr uint64,
) (*tagging.Block, error) {
	block := c.directory.Lookup(set, lineAddr)
	if block != nil {
		c.counters.hits.Add(1)
		c.tagTask(taskID, "hit")
		c.directory.Visit(set, block)

		return block, nil
	}

	c.counters.misses.Add(1)
	c.tagTask(taskID, "miss")

	victim := c.directory.FindVictim(set)
	if victim.IsValid && victim.IsDirty {
		if err := c.writeBack(taskID, op, victim); err != nil {
			return nil, err
		}
	}

	if err := c.fetch(op, lineAddr, set.Scratch()); err != nil {
		return nil, err
	}

	if victim.IsValid {
		c.counters.evictions.Add(1)
		c.lineEvent(taskID, HookPosLineEvict, victim.Tag, victim, false)
	}

	c.directory.Fill(set, victim, lineAddr)
	c.counters.fills.Add(1)
	c.tagTask(taskID, "fill")
	c.lineEvent(taskID, HookPosLineFill, lineAddr, victim, false)

	return victim, nil
}

// fetch reads the line at lineAddr from the device into buf. The part of buf
// that lies past the end of the device is zeroed.
func (c *Cache) fetch(op string, lineAddr uint64, buf []byte) error {
	n := c.transferSize(lineAddr)

	if err := c.deviceRead(op, lineAddr, buf[:n]); err != nil {
		return err
	}

	clear(buf[n:])

	return nil
}

// writeBack pushes a dirty line to the device and marks it clean. On failure
// the line stays dirty.
func (c *Cache) writeBack(taskID, op string, block *tagging.Block) error {
	n := c.transferSize(block.Tag)

	if err := c.deviceWrite(op, block.Tag, block.Data[:n]); err != nil {
		return err
	}

	c.directory.MarkClean(block)
	c.counters.writeBacks.Add(1)
	c.tagTask(taskID, "write_back")
	c.lineEvent(taskID, HookPosLineWriteBack, block.Tag, block, true)

	return nil
}

func (c *Cache) deviceRead(op string, off uint64, p []byte) error {
	n, err := c.device.ReadAt(p, off)

	return c.checkTransfer(op, off, len(p), n, err)
}

func (c *Cache) deviceWrite(op string, off uint64, p []byte) error {
	n, err := c.device.WriteAt(p, off)

	return c.checkTransfer(op, off, len(p), n, err)
}

func (c *Cache) checkTransfer(
	op string,
	off uint64,
	want, got int,
	err error,
) error {
	if err == nil && got == want {
		return nil
	}

	c.counters.deviceErrors.Add(1)

	if err == nil {
		err = fmt.Errorf("%w: %d of %d bytes", ErrShortTransfer, got, want)
	}

	return deviceFailure(op, off, err)
}
