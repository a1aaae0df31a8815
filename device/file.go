package device

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
)

// A File is a device backed by a regular file. The file is sized to the
// device capacity when it is opened, so every in-range read returns data.
type File struct {
	f        *os.File
	capacity uint64
}

// OpenFile opens or creates the file at path and sizes it to capacity bytes.
func OpenFile(path string, capacity uint64) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	if err := f.Truncate(int64(capacity)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("sizing %s to %d bytes: %w", path, capacity, err)
	}

	return &File{f: f, capacity: capacity}, nil
}

// Capacity returns the size of the device in bytes.
func (d *File) Capacity() uint64 {
	return d.capacity
}

// Name returns the path of the underlying file.
func (d *File) Name() string {
	return d.f.Name()
}

// ReadAt reads len(p) bytes at off.
func (d *File) ReadAt(p []byte, off uint64) (int, error) {
	if off > d.capacity || uint64(len(p)) > d.capacity-off {
		return 0, NewError("read", off, syscall.EIO)
	}

	n, err := d.f.ReadAt(p, int64(off))
	if err != nil && !(errors.Is(err, io.EOF) && n == len(p)) {
		return n, &Error{Op: "read", Off: off, Code: syscall.EIO, Err: err}
	}

	return n, nil
}

// WriteAt writes p at off.
func (d *File) WriteAt(p []byte, off uint64) (int, error) {
	if off > d.capacity || uint64(len(p)) > d.capacity-off {
		return 0, NewError("write", off, syscall.EIO)
	}

	n, err := d.f.WriteAt(p, int64(off))
	if err != nil {
		return n, &Error{Op: "write", Off: off, Code: syscall.EIO, Err: err}
	}

	return n, nil
}

// Sync commits the file content to stable storage.
func (d *File) Sync() error {
	return d.f.Sync()
}

// Close syncs and closes the file.
func (d *File) Close() error {
	if err := d.f.Sync(); err != nil {
		_ = d.f.Close()
		return err
	}

	return d.f.Close()
}
