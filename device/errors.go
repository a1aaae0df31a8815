package device

import (
	"fmt"
	"syscall"
)

// An Error reports a failed device transfer. Code is the errno-style
// discriminant that a raw device reported or that the device chose to
// describe the failure.
type Error struct {
	Op   string
	Off  uint64
	Code syscall.Errno
	Err  error
}

// NewError creates an Error that carries an errno code only.
func NewError(op string, off uint64, code syscall.Errno) *Error {
	return &Error{Op: op, Off: off, Code: code}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("device %s at 0x%x: %s: %v", e.Op, e.Off, e.Code, e.Err)
	}

	return fmt.Sprintf("device %s at 0x%x: %s", e.Op, e.Off, e.Code)
}

// Unwrap exposes both the errno code and the underlying cause, so that
// errors.Is(err, syscall.EIO) works as well as matching the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Code}
	}

	return []error{e.Code, e.Err}
}
