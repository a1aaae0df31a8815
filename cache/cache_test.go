package cache

import (
	"bytes"
	"syscall"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/linecache/device"
)

func buildCache(d device.Device, size uint64, numLines int) *Cache {
	c, err := MakeBuilder().
		WithSize(size).
		WithLineSize(64).
		WithNumLines(numLines).
		WithDevice(d).
		Build()
	Expect(err).NotTo(HaveOccurred())

	return c
}

func rawRead(d device.Device, off uint64, n int) []byte {
	buf := make([]byte, n)
	_, err := d.ReadAt(buf, off)
	Expect(err).NotTo(HaveOccurred())

	return buf
}

func rawWrite(d device.Device, off uint64, data []byte) {
	_, err := d.WriteAt(data, off)
	Expect(err).NotTo(HaveOccurred())
}

func pattern(seed byte, n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = seed + byte(i)
	}

	return buf
}

func lineAt(c *Cache, addr uint64) (LineInfo, bool) {
	for _, l := range c.Lines() {
		if l.Valid && l.Addr == addr {
			return l, true
		}
	}

	return LineInfo{}, false
}

var _ = Describe("Cache", func() {
	var (
		storage *device.Storage
		faulty  *device.Faulty
		c       *Cache
	)

	BeforeEach(func() {
		storage = device.NewStorage(0x2800)
		faulty = device.NewFaulty(storage)
		c = buildCache(faulty, 0x2800, 32)
	})

	Context("read", func() {
		It("should return 0 for an empty buffer without touching the device", func() {
			n, err := c.Read(0x100, nil)

			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(0))
			Expect(faulty.Reads()).To(Equal(0))
		})

		It("should return 0 for an empty buffer even out of range", func() {
			n, err := c.Read(0x10000, []byte{})

			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(0))
		})

		It("should reject addresses at or past the end", func() {
			_, err := c.Read(0x2800, make([]byte, 4))

			Expect(err).To(MatchError(syscall.EINVAL))
			Expect(err).To(MatchError(ErrOutOfRange))
			Expect(Errno(err)).To(Equal(-int(syscall.EINVAL)))
			Expect(faulty.Reads()).To(Equal(0))
		})

		It("should read device bytes through the cache", func() {
			data := pattern(1, 100)
			rawWrite(storage, 0x130, data)

			buf := make([]byte, 100)
			n, err := c.Read(0x130, buf)

			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(100))
			Expect(buf).To(Equal(data))
			Expect(faulty.Reads()).To(Equal(3))
		})

		It("should fetch whole aligned lines", func() {
			dev := NewMockDevice(gomock.NewController(GinkgoT()))
			mc := buildCache(dev, 0x2800, 32)

			dev.EXPECT().
				ReadAt(gomock.Len(64), uint64(0x100)).
				DoAndReturn(func(p []byte, _ uint64) (int, error) {
					copy(p, pattern(9, 64))
					return 64, nil
				})

			buf := make([]byte, 4)
			n, err := mc.Read(0x104, buf)

			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(4))
			Expect(buf).To(Equal(pattern(13, 4)))
		})

		It("should serve hits from the cache", func() {
			buf := make([]byte, 8)
			_, err := c.Read(0x40, buf)
			Expect(err).NotTo(HaveOccurred())

			faulty.ResetCounters()
			_, err = c.Read(0x48, buf)

			Expect(err).NotTo(HaveOccurred())
			Expect(faulty.Reads()).To(Equal(0))
			Expect(c.Stats().Hits).To(Equal(uint64(1)))
			Expect(c.Stats().Misses).To(Equal(uint64(1)))
		})

		It("should truncate requests past the end", func() {
			rawWrite(storage, 0x27f0, pattern(7, 16))

			buf := make([]byte, 64)
			n, err := c.Read(0x27f0, buf)

			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(16))
			Expect(buf[:16]).To(Equal(pattern(7, 16)))
		})

		It("should leave the directory unchanged if a fill fails", func() {
			_, err := c.Read(0x0, make([]byte, 4))
			Expect(err).NotTo(HaveOccurred())
			before := c.Lines()

			faulty.AddFault(device.Fault{Op: "read", Off: 0x200, Times: 1})
			n, err := c.Read(0x200, make([]byte, 4))

			Expect(n).To(Equal(0))
			Expect(err).To(MatchError(syscall.EIO))
			Expect(Errno(err)).To(Equal(-int(syscall.EIO)))
			Expect(c.Lines()).To(Equal(before))
			Expect(c.Stats().DeviceErrors).To(Equal(uint64(1)))

			_, ok := lineAt(c, 0x200)
			Expect(ok).To(BeFalse())
		})

		It("should forward the code reported by the device", func() {
			faulty.AddFault(device.Fault{
				Op: "read", Off: 0x40, Times: 1, Code: syscall.ENODEV,
			})

			_, err := c.Read(0x40, make([]byte, 4))

			Expect(err).To(MatchError(syscall.ENODEV))
			Expect(Errno(err)).To(Equal(-int(syscall.ENODEV)))
		})

		It("should report a short device read as EIO", func() {
			dev := NewMockDevice(gomock.NewController(GinkgoT()))
			mc := buildCache(dev, 0x2800, 32)

			dev.EXPECT().ReadAt(gomock.Len(64), uint64(0)).Return(10, nil)

			_, err := mc.Read(0, make([]byte, 4))

			Expect(err).To(MatchError(syscall.EIO))
			Expect(err).To(MatchError(ErrShortTransfer))
		})

		It("should report the bytes read before a failing line", func() {
			faulty.AddFault(device.Fault{Op: "read", Off: 0x80, Times: 1})

			buf := make([]byte, 160)
			n, err := c.Read(0x10, buf)

			Expect(err).To(MatchError(syscall.EIO))
			Expect(n).To(Equal(0x70))
		})
	})

	Context("write", func() {
		It("should reject an invalid policy before anything else", func() {
			n, err := c.Write(0, nil, WritePolicy(7))
			Expect(n).To(Equal(0))
			Expect(err).To(MatchError(syscall.EINVAL))
			Expect(err).To(MatchError(ErrInvalidPolicy))

			_, err = c.Write(0, []byte("x"), 0)
			Expect(err).To(MatchError(ErrInvalidPolicy))
		})

		It("should do nothing for an empty buffer", func() {
			n, err := c.Write(0x10000, nil, WriteBack)

			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(0))
			Expect(faulty.Reads() + faulty.Writes()).To(Equal(0))
		})

		It("should reject addresses at or past the end", func() {
			_, err := c.Write(0x2800, []byte("x"), WriteThrough)

			Expect(err).To(MatchError(syscall.EINVAL))
			Expect(faulty.Writes()).To(Equal(0))
		})

		It("should make write-through bytes visible on the device", func() {
			payload := []byte("^#$^#$^%%$")

			n, err := c.Write(0x23b9, payload, WriteThrough)

			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(10))
			Expect(rawRead(storage, 0x23b9, 10)).To(Equal(payload))

			l, ok := lineAt(c, 0x2380)
			Expect(ok).To(BeTrue())
			Expect(l.Dirty).To(BeFalse())
		})

		It("should keep write-back bytes in the cache until flushed", func() {
			payload := pattern(3, 200)

			n, err := c.Write(0x500, payload, WriteBack)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(200))
			Expect(faulty.Writes()).To(Equal(0))
			Expect(rawRead(storage, 0x500, 200)).NotTo(Equal(payload))

			buf := make([]byte, 200)
			_, err = c.Read(0x500, buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(buf).To(Equal(payload))
			Expect(c.Stats().DirtyLines).To(Equal(4))

			Expect(c.Flush(0x500, 0x5c8)).To(Succeed())
			Expect(rawRead(storage, 0x500, 200)).To(Equal(payload))
			Expect(c.Stats().DirtyLines).To(Equal(0))
		})

		It("should fill a line before a partial write", func() {
			rawWrite(storage, 0x40, pattern(50, 64))

			_, err := c.Write(0x44, []byte{0, 0}, WriteBack)
			Expect(err).NotTo(HaveOccurred())

			buf := make([]byte, 64)
			_, err = c.Read(0x40, buf)
			Expect(err).NotTo(HaveOccurred())

			expected := pattern(50, 64)
			expected[4], expected[5] = 0, 0
			Expect(buf).To(Equal(expected))
		})

		It("should truncate writes past the end", func() {
			n, err := c.Write(0x27fc, []byte("abcdefgh"), WriteThrough)

			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(4))
			Expect(rawRead(storage, 0x27fc, 4)).To(Equal([]byte("abcd")))
		})

		It("should only push the written bytes of a clean line", func() {
			dev := NewMockDevice(gomock.NewController(GinkgoT()))
			mc := buildCache(dev, 0x2800, 32)

			dev.EXPECT().ReadAt(gomock.Len(64), uint64(0x80)).Return(64, nil)
			dev.EXPECT().WriteAt([]byte("hi"), uint64(0x8a)).Return(2, nil)

			_, err := mc.Write(0x8a, []byte("hi"), WriteThrough)

			Expect(err).NotTo(HaveOccurred())
		})

		It("should push the whole merged line when writing through a dirty line", func() {
			_, err := c.Write(0x80, []byte("AAAA"), WriteBack)
			Expect(err).NotTo(HaveOccurred())

			_, err = c.Write(0x90, []byte("BB"), WriteThrough)
			Expect(err).NotTo(HaveOccurred())

			Expect(rawRead(storage, 0x80, 4)).To(Equal([]byte("AAAA")))
			Expect(rawRead(storage, 0x90, 2)).To(Equal([]byte("BB")))

			l, ok := lineAt(c, 0x80)
			Expect(ok).To(BeTrue())
			Expect(l.Dirty).To(BeFalse())
			Expect(c.Stats().DirtyLines).To(Equal(0))
		})

		It("should leave a clean line unchanged if the push fails", func() {
			rawWrite(storage, 0x40, pattern(20, 64))
			_, err := c.Read(0x40, make([]byte, 1))
			Expect(err).NotTo(HaveOccurred())

			faulty.AddFault(device.Fault{Op: "write", Off: 0x48, Times: 1})
			n, err := c.Write(0x48, []byte("XY"), WriteThrough)

			Expect(n).To(Equal(0))
			Expect(err).To(MatchError(syscall.EIO))

			buf := make([]byte, 64)
			_, err = c.Read(0x40, buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(buf).To(Equal(pattern(20, 64)))
		})

		It("should leave a dirty line unchanged if the merged push fails", func() {
			_, err := c.Write(0x80, []byte("AAAA"), WriteBack)
			Expect(err).NotTo(HaveOccurred())

			faulty.AddFault(device.Fault{Op: "write", Off: 0x80, Times: 1})
			_, err = c.Write(0x90, []byte("BB"), WriteThrough)
			Expect(err).To(MatchError(syscall.EIO))

			l, ok := lineAt(c, 0x80)
			Expect(ok).To(BeTrue())
			Expect(l.Dirty).To(BeTrue())

			buf := make([]byte, 18)
			_, err = c.Read(0x80, buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(buf[:4]).To(Equal([]byte("AAAA")))
			Expect(buf[16:]).To(Equal([]byte{0, 0}))
		})

		It("should not roll back earlier lines of a failing transfer", func() {
			faulty.AddFault(device.Fault{Op: "read", Off: 0x80, Times: 1})

			payload := pattern(1, 192)
			n, err := c.Write(0x0, payload, WriteBack)

			Expect(err).To(MatchError(syscall.EIO))
			Expect(n).To(Equal(128))

			buf := make([]byte, 128)
			_, err = c.Read(0x0, buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(buf).To(Equal(payload[:128]))
		})
	})

	Context("eviction", func() {
		It("should write back a dirty victim", func() {
			_, err := c.Write(0x0, []byte("dirty"), WriteBack)
			Expect(err).NotTo(HaveOccurred())

			for _, addr := range []uint64{0x200, 0x400, 0x600, 0x800} {
				_, err = c.Read(addr, make([]byte, 1))
				Expect(err).NotTo(HaveOccurred())
			}

			Expect(rawRead(storage, 0x0, 5)).To(Equal([]byte("dirty")))
			_, ok := lineAt(c, 0x0)
			Expect(ok).To(BeFalse())
			Expect(c.Stats().Evictions).To(Equal(uint64(1)))
			Expect(c.Stats().WriteBacks).To(Equal(uint64(1)))
		})

		It("should keep the victim dirty if its write-back fails", func() {
			_, err := c.Write(0x0, []byte("dirty"), WriteBack)
			Expect(err).NotTo(HaveOccurred())

			for _, addr := range []uint64{0x200, 0x400, 0x600} {
				_, err = c.Read(addr, make([]byte, 1))
				Expect(err).NotTo(HaveOccurred())
			}

			faulty.AddFault(device.Fault{Op: "write", Off: 0x0, Times: 1})
			_, err = c.Read(0x800, make([]byte, 1))
			Expect(err).To(MatchError(syscall.EIO))

			l, ok := lineAt(c, 0x0)
			Expect(ok).To(BeTrue())
			Expect(l.Dirty).To(BeTrue())
			_, ok = lineAt(c, 0x800)
			Expect(ok).To(BeFalse())

			_, err = c.Read(0x800, make([]byte, 1))
			Expect(err).NotTo(HaveOccurred())
			Expect(rawRead(storage, 0x0, 5)).To(Equal([]byte("dirty")))
		})
	})

	Context("a device size that is not a multiple of the line size", func() {
		var small *device.Storage

		BeforeEach(func() {
			small = device.NewStorage(100)
			c = buildCache(small, 100, 4)
		})

		It("should clip transfers of the last line", func() {
			rawWrite(small, 64, pattern(4, 36))

			buf := make([]byte, 64)
			n, err := c.Read(64, buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(36))
			Expect(buf[:36]).To(Equal(pattern(4, 36)))

			_, err = c.Write(90, []byte("0123456789abc"), WriteBack)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Close()).To(Succeed())
			Expect(rawRead(small, 90, 10)).To(Equal([]byte("0123456789")))
		})
	})

	Context("close", func() {
		It("should write back dirty data", func() {
			_, err := c.Write(0x1000, []byte("persist me"), WriteBack)
			Expect(err).NotTo(HaveOccurred())

			Expect(c.Close()).To(Succeed())
			Expect(rawRead(storage, 0x1000, 10)).To(Equal([]byte("persist me")))
		})

		It("should attempt every dirty line and return the first error", func() {
			_, err := c.Write(0x0, []byte("a"), WriteBack)
			Expect(err).NotTo(HaveOccurred())
			_, err = c.Write(0x40, []byte("b"), WriteBack)
			Expect(err).NotTo(HaveOccurred())

			faulty.AddFault(device.Fault{Op: "write", Off: 0x0, Times: -1})
			err = c.Close()

			Expect(err).To(MatchError(syscall.EIO))
			Expect(rawRead(storage, 0x40, 1)).To(Equal([]byte("b")))
			Expect(c.Lines()).To(BeNil())
		})

		It("should fail every operation after close", func() {
			Expect(c.Close()).To(Succeed())

			_, err := c.Read(0, make([]byte, 1))
			Expect(err).To(MatchError(ErrClosed))
			Expect(Errno(err)).To(Equal(-int(syscall.EBADF)))

			_, err = c.Write(0, []byte{1}, WriteBack)
			Expect(err).To(MatchError(ErrClosed))
			Expect(c.Flush(0, 1)).To(MatchError(ErrClosed))
			Expect(c.Invalidate(0, 1)).To(MatchError(ErrClosed))
			Expect(c.Clean(0, 1)).To(MatchError(ErrClosed))
			Expect(c.Close()).To(MatchError(ErrClosed))
			Expect(c.Stats().DirtyLines).To(Equal(0))
		})
	})

	It("should write dirty lines with the exact bytes read back", func() {
		var expected bytes.Buffer
		for i := 0; i < 10; i++ {
			chunk := pattern(byte(i*7), 37)
			expected.Write(chunk)

			_, err := c.Write(uint64(0x300+i*37), chunk, WriteBack)
			Expect(err).NotTo(HaveOccurred())
		}

		Expect(c.Clean(0, c.Size())).To(Succeed())
		Expect(rawRead(storage, 0x300, 370)).To(Equal(expected.Bytes()))
	})
})
