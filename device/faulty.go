package device

import (
	"sync"
	"syscall"
)

// A Fault describes when a Faulty device fails a transfer.
type Fault struct {
	// Op is "read" or "write".
	Op string

	// Off selects the transfer by its starting offset. Any transfer that
	// covers Off fails.
	Off uint64

	// Times is the number of transfers that fail before the fault clears.
	// A negative value never clears.
	Times int

	// Code is the errno the device reports. EIO if zero.
	Code syscall.Errno
}

// Faulty wraps a device and injects failures. It also counts transfers,
// which tests use to check that the cache did or did not touch the device.
type Faulty struct {
	Device

	mu     sync.Mutex
	faults []*Fault
	reads  int
	writes int
}

// NewFaulty creates a fault-injecting wrapper around inner.
func NewFaulty(inner Device) *Faulty {
	return &Faulty{Device: inner}
}

// AddFault registers a fault.
func (f *Faulty) AddFault(fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if fault.Code == 0 {
		fault.Code = syscall.EIO
	}

	f.faults = append(f.faults, &fault)
}

// ClearFaults removes all the faults.
func (f *Faulty) ClearFaults() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.faults = nil
}

// Reads returns the number of read transfers that reached the device.
func (f *Faulty) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.reads
}

// Writes returns the number of write transfers that reached the device.
func (f *Faulty) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.writes
}

// ResetCounters sets both transfer counters back to zero.
func (f *Faulty) ResetCounters() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reads = 0
	f.writes = 0
}

// ReadAt fails if a read fault covers the transfer, otherwise forwards it.
func (f *Faulty) ReadAt(p []byte, off uint64) (int, error) {
	if err := f.check("read", off, len(p)); err != nil {
		return 0, err
	}

	return f.Device.ReadAt(p, off)
}

// WriteAt fails if a write fault covers the transfer, otherwise forwards it.
func (f *Faulty) WriteAt(p []byte, off uint64) (int, error) {
	if err := f.check("write", off, len(p)); err != nil {
		return 0, err
	}

	return f.Device.WriteAt(p, off)
}

func (f *Faulty) check(op string, off uint64, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if op == "read" {
		f.reads++
	} else {
		f.writes++
	}

	for _, fault := range f.faults {
		if fault.Op != op || fault.Times == 0 {
			continue
		}

		if fault.Off < off || fault.Off >= off+uint64(n) {
			continue
		}

		if fault.Times > 0 {
			fault.Times--
		}

		return NewError(op, off, fault.Code)
	}

	return nil
}
