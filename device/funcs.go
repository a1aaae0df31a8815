package device

import "syscall"

// A Callback is a raw device operation. It transfers count bytes between buf
// and the device at offset and returns the number of bytes transferred, or a
// negative errno value on failure. ctx is the opaque device context.
type Callback func(offset uint64, buf []byte, count uint64, ctx any) int

// Funcs adapts a pair of raw callbacks and their context to the Device
// interface. A negative callback return becomes an *Error whose Code is the
// negated value, so the original code can be recovered unchanged.
type Funcs struct {
	ReadCb  Callback
	WriteCb Callback
	Ctx     any
}

// ReadAt calls ReadCb.
func (f *Funcs) ReadAt(p []byte, off uint64) (int, error) {
	return f.call("read", f.ReadCb, p, off)
}

// WriteAt calls WriteCb.
func (f *Funcs) WriteAt(p []byte, off uint64) (int, error) {
	return f.call("write", f.WriteCb, p, off)
}

func (f *Funcs) call(op string, cb Callback, p []byte, off uint64) (int, error) {
	if cb == nil {
		return 0, NewError(op, off, syscall.ENOSYS)
	}

	ret := cb(off, p, uint64(len(p)), f.Ctx)
	if ret < 0 {
		return 0, NewError(op, off, syscall.Errno(-ret))
	}

	return ret, nil
}
