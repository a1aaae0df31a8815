package cache

import (
	"github.com/sarchlab/linecache/cache/internal/tagging"
)

// Read copies the bytes at addr into p. A request that extends past the end
// of the device is truncated, so n may be smaller than len(p). An empty p
// returns 0 without touching the device.
//
// Missing lines are fetched from the device. If a fetch fails, Read returns
// the number of bytes copied from the lines before the failing one, together
// with the error.
func (c *Cache) Read(addr uint64, p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}

	if c.closed.Load() {
		return 0, closedError("read")
	}

	if addr >= c.size {
		return 0, invalidArgument("read", addr, ErrOutOfRange)
	}

	count := c.clip(addr, len(p))
	c.counters.reads.Add(1)

	taskID := c.startTask("read", addr, uint64(count))
	defer func() { c.endTask(taskID, err) }()

	for n < count {
		cur := addr + uint64(n)
		lineAddr := c.lineAddr(cur)
		offset := cur - lineAddr
		chunk := int(min(uint64(count-n), c.lineSize-offset))
		dst := p[n : n+chunk]

		err = c.accessLine(taskID, "read", lineAddr,
			func(_ *tagging.Set, block *tagging.Block) error {
				copy(dst, block.Data[offset:])
				return nil
			})
		if err != nil {
			return n, err
		}

		n += chunk
	}

	return n, nil
}
