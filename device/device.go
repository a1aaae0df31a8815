// Package device defines the backing store that a cache engine sits in front
// of, together with a few reference implementations.
//
// A device is byte addressable. It is slow compared to the cache and is only
// accessed through two operations, ReadAt and WriteAt. The cache engine never
// looks into the bytes it moves between the caller and the device.
package device

// A Device is a byte-addressable backing store.
//
// A transfer succeeds only if the returned count equals len(p) and the error
// is nil. Implementations must be safe for concurrent use, as the cache calls
// the device from every goroutine that misses or writes through.
type Device interface {
	// ReadAt fills p with the bytes stored at off.
	ReadAt(p []byte, off uint64) (n int, err error)

	// WriteAt stores p at off.
	WriteAt(p []byte, off uint64) (n int, err error)
}
