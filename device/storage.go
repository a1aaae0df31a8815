package device

import (
	"sync"
	"syscall"
)

// A Storage is an in-memory device.
//
// The storage manages its bytes in units, similar to the concept of pages in
// memory management. Units that are never touched by ReadAt or WriteAt are
// never allocated, so a large but sparsely used storage is cheap.
type Storage struct {
	lock     sync.RWMutex
	unitSize uint64
	capacity uint64
	data     map[uint64][]byte
}

// NewStorage creates a storage with the specified capacity in bytes.
func NewStorage(capacity uint64) *Storage {
	return NewStorageWithUnitSize(capacity, 4096)
}

// NewStorageWithUnitSize creates a storage that allocates memory in units of
// unitSize bytes.
func NewStorageWithUnitSize(capacity, unitSize uint64) *Storage {
	if unitSize == 0 {
		panic("unit size must not be 0")
	}

	return &Storage{
		unitSize: unitSize,
		capacity: capacity,
		data:     make(map[uint64][]byte),
	}
}

// Capacity returns the number of bytes the storage can hold.
func (s *Storage) Capacity() uint64 {
	return s.capacity
}

func (s *Storage) parseAddress(addr uint64) (baseAddr, inUnitAddr uint64) {
	inUnitAddr = addr % s.unitSize
	baseAddr = addr - inUnitAddr

	return
}

func (s *Storage) inRange(off uint64, n int) bool {
	return off <= s.capacity && uint64(n) <= s.capacity-off
}

// ReadAt copies the bytes at off into p. Bytes never written read as zero.
func (s *Storage) ReadAt(p []byte, off uint64) (int, error) {
	if !s.inRange(off, len(p)) {
		return 0, NewError("read", off, syscall.EIO)
	}

	s.lock.RLock()
	defer s.lock.RUnlock()

	done := 0
	for done < len(p) {
		currAddr := off + uint64(done)
		baseAddr, inUnitAddr := s.parseAddress(currAddr)
		lenToRead := min(uint64(len(p)-done), s.unitSize-inUnitAddr)

		unit, ok := s.data[baseAddr]
		if ok {
			copy(p[done:done+int(lenToRead)], unit[inUnitAddr:inUnitAddr+lenToRead])
		} else {
			clear(p[done : done+int(lenToRead)])
		}

		done += int(lenToRead)
	}

	return done, nil
}

// WriteAt stores p at off.
func (s *Storage) WriteAt(p []byte, off uint64) (int, error) {
	if !s.inRange(off, len(p)) {
		return 0, NewError("write", off, syscall.EIO)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	done := 0
	for done < len(p) {
		currAddr := off + uint64(done)
		baseAddr, inUnitAddr := s.parseAddress(currAddr)
		lenToWrite := min(uint64(len(p)-done), s.unitSize-inUnitAddr)

		unit, ok := s.data[baseAddr]
		if !ok {
			unit = make([]byte, s.unitSize)
			s.data[baseAddr] = unit
		}

		copy(unit[inUnitAddr:inUnitAddr+lenToWrite], p[done:done+int(lenToWrite)])
		done += int(lenToWrite)
	}

	return done, nil
}
