// Package compat exposes the cache engine with errno-style integer results.
//
// Every function returns a non-negative value on success, either a byte count
// or 0, and a negated errno value such as -EINVAL or -EIO on failure. Device
// callbacks report failures the same way and their codes are returned
// unchanged.
package compat

import (
	"math"
	"syscall"

	"github.com/sarchlab/linecache/cache"
	"github.com/sarchlab/linecache/device"
)

// Write policies accepted by Write.
const (
	WriteThrough = cache.WriteThrough
	WriteBack    = cache.WriteBack
)

// Ops is the pair of raw device callbacks and their context.
type Ops = device.Funcs

// A Handle is a cache created by Init.
type Handle struct {
	cache *cache.Cache
}

// Cache returns the engine behind the handle.
func (h *Handle) Cache() *cache.Cache {
	return h.cache
}

// Init creates a cache of linesCnt lines of lineSize bytes in front of a
// device of srcMemSize bytes. It returns nil if the geometry is invalid.
func Init(srcMemSize, lineSize, linesCnt uint64, ops Ops) *Handle {
	if linesCnt > math.MaxUint32 {
		return nil
	}

	c, err := cache.MakeBuilder().
		WithSize(srcMemSize).
		WithLineSize(lineSize).
		WithNumLines(int(linesCnt)).
		WithDevice(&ops).
		Build()
	if err != nil {
		return nil
	}

	return &Handle{cache: c}
}

// Deinit writes back all the dirty lines and releases the cache. The cache is
// released even if a write-back fails, in which case the first failure is
// returned.
func Deinit(h *Handle) int {
	if h == nil {
		return -int(syscall.EINVAL)
	}

	return cache.Errno(h.cache.Close())
}

// Read copies up to count bytes at addr into buf and returns the number of
// bytes copied.
func Read(h *Handle, addr uint64, buf []byte, count uint64) int {
	if count == 0 {
		return 0
	}

	p, errno := checkBuffer(h, buf, count)
	if errno != 0 {
		return errno
	}

	n, err := h.cache.Read(addr, p)
	if err != nil {
		return cache.Errno(err)
	}

	return n
}

// Write stores up to count bytes of buf at addr and returns the number of
// bytes stored.
func Write(
	h *Handle,
	addr uint64,
	buf []byte,
	count uint64,
	policy cache.WritePolicy,
) int {
	if !policy.Valid() {
		return -int(syscall.EINVAL)
	}

	if count == 0 {
		return 0
	}

	p, errno := checkBuffer(h, buf, count)
	if errno != 0 {
		return errno
	}

	n, err := h.cache.Write(addr, p, policy)
	if err != nil {
		return cache.Errno(err)
	}

	return n
}

func checkBuffer(h *Handle, buf []byte, count uint64) ([]byte, int) {
	if h == nil || buf == nil || count > uint64(len(buf)) {
		return nil, -int(syscall.EINVAL)
	}

	return buf[:count], 0
}

// Flush writes back the dirty lines that intersect [beg, end).
func Flush(h *Handle, beg, end uint64) int {
	if h == nil {
		return -int(syscall.EINVAL)
	}

	return cache.Errno(h.cache.Flush(beg, end))
}

// Invalidate drops the lines that intersect [beg, end) without writing them
// back.
func Invalidate(h *Handle, beg, end uint64) int {
	if h == nil {
		return -int(syscall.EINVAL)
	}

	return cache.Errno(h.cache.Invalidate(beg, end))
}

// Clean flushes and then invalidates [beg, end).
func Clean(h *Handle, beg, end uint64) int {
	if h == nil {
		return -int(syscall.EINVAL)
	}

	return cache.Errno(h.cache.Clean(beg, end))
}
