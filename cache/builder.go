package cache

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/sarchlab/linecache/cache/internal/tagging"
	"github.com/sarchlab/linecache/device"
)

// DefaultWayAssociativity is the number of ways per set unless the builder is
// told otherwise.
const DefaultWayAssociativity = 4

// Builder can build caches.
type Builder struct {
	name             string
	size             uint64
	lineSize         uint64
	numLines         int
	wayAssociativity int
	replaceStrategy  string
	device           device.Device
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{
		name:             "Cache",
		wayAssociativity: DefaultWayAssociativity,
		replaceStrategy:  "lru",
	}
}

// WithName sets the name that the cache reports to hooks.
func (b Builder) WithName(name string) Builder {
	b.name = name
	return b
}

// WithSize sets the number of bytes of the device that the cache covers.
func (b Builder) WithSize(size uint64) Builder {
	b.size = size
	return b
}

// WithLineSize sets the size of a cache line in bytes. It must be a power of
// two.
func (b Builder) WithLineSize(lineSize uint64) Builder {
	b.lineSize = lineSize
	return b
}

// WithNumLines sets the total number of lines the cache holds.
func (b Builder) WithNumLines(numLines int) Builder {
	b.numLines = numLines
	return b
}

// WithWayAssociativity sets the way associativity of the builder.
func (b Builder) WithWayAssociativity(wayAssociativity int) Builder {
	b.wayAssociativity = wayAssociativity
	return b
}

// WithReplaceStrategy selects the replacement policy, either "lru" or
// "srrip".
func (b Builder) WithReplaceStrategy(strategy string) Builder {
	b.replaceStrategy = strategy
	return b
}

// WithDevice sets the backing device.
func (b Builder) WithDevice(d device.Device) Builder {
	b.device = d
	return b
}

// Build builds a cache. It fails with an error wrapping ErrInvalidGeometry if
// the geometry cannot form a whole number of sets or if no device is given.
func (b Builder) Build() (*Cache, error) {
	if err := b.checkGeometry(); err != nil {
		return nil, err
	}

	victimFinder, err := b.createVictimFinder()
	if err != nil {
		return nil, err
	}

	numSets := b.numLines / b.wayAssociativity
	log2LineSize := uint(bits.TrailingZeros64(b.lineSize))

	c := &Cache{
		name:         b.name,
		size:         b.size,
		lineSize:     b.lineSize,
		log2LineSize: log2LineSize,
		offsetMask:   b.lineSize - 1,
		numLines:     b.numLines,
		numWays:      b.wayAssociativity,
		numSets:      numSets,
		device:       b.device,
		directory: tagging.NewDirectory(
			numSets, b.wayAssociativity, int(b.lineSize), victimFinder),
	}

	return c, nil
}

func (b Builder) checkGeometry() error {
	switch {
	case b.size == 0:
		return fmt.Errorf("%w: size must not be 0", ErrInvalidGeometry)
	case b.lineSize == 0:
		return fmt.Errorf("%w: line size must not be 0", ErrInvalidGeometry)
	case b.lineSize&(b.lineSize-1) != 0:
		return fmt.Errorf("%w: line size %d is not a power of two",
			ErrInvalidGeometry, b.lineSize)
	case b.lineSize > math.MaxInt32:
		return fmt.Errorf("%w: line size %d is too large",
			ErrInvalidGeometry, b.lineSize)
	case b.wayAssociativity <= 0:
		return fmt.Errorf("%w: way associativity must be positive",
			ErrInvalidGeometry)
	case b.numLines <= 0:
		return fmt.Errorf("%w: number of lines must be positive",
			ErrInvalidGeometry)
	case uint64(b.numLines) > math.MaxUint32:
		return fmt.Errorf("%w: too many lines", ErrInvalidGeometry)
	case b.numLines%b.wayAssociativity != 0:
		return fmt.Errorf("%w: %d lines do not form %d-way sets",
			ErrInvalidGeometry, b.numLines, b.wayAssociativity)
	case b.device == nil:
		return fmt.Errorf("%w: no device", ErrInvalidGeometry)
	}

	return nil
}

func (b Builder) createVictimFinder() (tagging.VictimFinder, error) {
	switch b.replaceStrategy {
	case "lru":
		return tagging.NewLRUVictimFinder(), nil
	case "srrip":
		return tagging.NewSRRIPVictimFinder(), nil
	default:
		return nil, fmt.Errorf("%w: unknown replace strategy %q",
			ErrInvalidGeometry, b.replaceStrategy)
	}
}
