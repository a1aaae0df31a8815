package cache

import (
	"errors"
	"fmt"
	"syscall"
)

// Errors that the cache reports. Argument and device errors are wrapped in an
// *Error that carries the errno code as well.
var (
	ErrInvalidGeometry = errors.New("invalid cache geometry")
	ErrClosed          = errors.New("cache is closed")
	ErrOutOfRange      = errors.New("address out of range")
	ErrInvalidPolicy   = errors.New("invalid write policy")
	ErrShortTransfer   = errors.New("short device transfer")
)

// An Error is returned by cache operations. Code is the errno-style
// discriminant of the failure. For device failures it is the code the device
// reported, or EIO if the device did not report one.
type Error struct {
	Op   string
	Addr uint64
	Code syscall.Errno
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s 0x%x: %v", e.Op, e.Addr, e.Err)
	}

	return fmt.Sprintf("%s 0x%x: %s", e.Op, e.Addr, e.Code)
}

// Unwrap allows matching both the code and the cause with errors.Is.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Code}
	}

	return []error{e.Code, e.Err}
}

func invalidArgument(op string, addr uint64, cause error) *Error {
	return &Error{Op: op, Addr: addr, Code: syscall.EINVAL, Err: cause}
}

func closedError(op string) *Error {
	return &Error{Op: op, Code: syscall.EBADF, Err: ErrClosed}
}

func deviceFailure(op string, addr uint64, cause error) *Error {
	code := syscall.EIO

	var errno syscall.Errno
	if errors.As(cause, &errno) && errno != 0 {
		code = errno
	}

	return &Error{Op: op, Addr: addr, Code: code, Err: cause}
}

// Errno converts an error returned by the cache to a raw negative errno value.
// A nil error converts to 0. Errors that carry no code convert to -EIO.
func Errno(err error) int {
	if err == nil {
		return 0
	}

	var errno syscall.Errno
	if errors.As(err, &errno) && errno != 0 {
		return -int(errno)
	}

	return -int(syscall.EIO)
}
