package cache

import (
	"github.com/sarchlab/linecache/cache/internal/tagging"
)

// Write stores p at addr following the given policy. A request that extends
// past the end of the device is truncated, so n may be smaller than len(p).
// The policy is checked before anything else; an empty p then returns 0.
//
// A line that is not cached is filled from the device before it is written,
// so the bytes of the line that p does not cover are never made up.
//
// If a device operation fails, Write returns the number of bytes committed
// to the lines before the failing one, together with the error. Those lines
// are not rolled back.
func (c *Cache) Write(
	addr uint64,
	p []byte,
	policy WritePolicy,
) (n int, err error) {
	if !policy.Valid() {
		return 0, invalidArgument("write", addr, ErrInvalidPolicy)
	}

	if len(p) == 0 {
		return 0, nil
	}

	if c.closed.Load() {
		return 0, closedError("write")
	}

	if addr >= c.size {
		return 0, invalidArgument("write", addr, ErrOutOfRange)
	}

	count := c.clip(addr, len(p))
	c.counters.writes.Add(1)

	taskID := c.startTask("write", addr, uint64(count))
	defer func() { c.endTask(taskID, err) }()

	for n < count {
		cur := addr + uint64(n)
		lineAddr := c.lineAddr(cur)
		offset := cur - lineAddr
		chunk := int(min(uint64(count-n), c.lineSize-offset))
		src := p[n : n+chunk]

		err = c.accessLine(taskID, "write", lineAddr,
			func(set *tagging.Set, block *tagging.Block) error {
				if policy == WriteBack {
					c.writeLineBack(block, offset, src)
					return nil
				}

				return c.writeLineThrough(taskID, set, block, offset, src)
			})
		if err != nil {
			return n, err
		}

		n += chunk
	}

	return n, nil
}

func (c *Cache) writeLineBack(block *tagging.Block, offset uint64, src []byte) {
	copy(block.Data[offset:], src)

	if !block.IsDirty {
		c.directory.MarkDirty(block)
	}
}

// writeLineThrough pushes the written bytes to the device before updating
// the line. A clean line only needs the written bytes pushed. A dirty line
// holds deferred bytes as well, so the whole merged line is pushed. The line
// is left untouched if the push fails.
func (c *Cache) writeLineThrough(
	taskID string,
	set *tagging.Set,
	block *tagging.Block,
	offset uint64,
	src []byte,
) error {
	if !block.IsDirty {
		if err := c.deviceWrite("write", block.Tag+offset, src); err != nil {
			return err
		}

		copy(block.Data[offset:], src)
	} else {
		merged := set.Scratch()
		copy(merged, block.Data)
		copy(merged[offset:], src)

		n := c.transferSize(block.Tag)
		if err := c.deviceWrite("write", block.Tag, merged[:n]); err != nil {
			return err
		}

		set.SwapScratch(block)
		c.directory.MarkClean(block)
		c.lineEvent(taskID, HookPosLineWriteBack, block.Tag, block, true)
	}

	c.counters.writeThroughs.Add(1)
	c.tagTask(taskID, "write_through")

	return nil
}
