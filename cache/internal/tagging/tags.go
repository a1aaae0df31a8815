// Package tagging keeps track of what the cache holds: which backing line
// lives in which way of which set, whether it is valid, and whether it is
// dirty.
package tagging

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// A Block of a cache is the information that is associated with a cache line
type Block struct {
	Tag     uint64
	SetID   int
	WayID   int
	IsValid bool
	IsDirty bool
	Data    []byte
}

// A Set is a list of blocks where a certain piece memory can be stored at.
//
// The set lock protects the blocks of the set, their data, and the
// replacement state. Every method of Directory that takes a *Set must be
// called with that set locked.
type Set struct {
	lock     sync.Mutex
	Blocks   []*Block
	LRUQueue []int
	RRPV     []uint8
	scratch  []byte
}

// Lock locks the set.
func (s *Set) Lock() {
	s.lock.Lock()
}

// Unlock unlocks the set.
func (s *Set) Unlock() {
	s.lock.Unlock()
}

// Scratch returns a line-sized buffer owned by the set. Fills are staged in
// it so that a failing device read never clobbers a block.
func (s *Set) Scratch() []byte {
	return s.scratch
}

// SwapScratch makes the scratch buffer the data of the block and gives the
// old block data to the set as the new scratch buffer.
func (s *Set) SwapScratch(block *Block) {
	block.Data, s.scratch = s.scratch, block.Data
}

// A Directory is a fixed arena of sets, each holding NumWays blocks.
type Directory struct {
	NumSets   int
	NumWays   int
	BlockSize int
	Sets      []Set

	victimFinder VictimFinder

	dirtyLock sync.Mutex
	dirty     *roaring.Bitmap
}

// NewDirectory returns a new directory object
func NewDirectory(
	numSets, numWays, blockSize int,
	victimFinder VictimFinder,
) *Directory {
	d := &Directory{
		NumSets:      numSets,
		NumWays:      numWays,
		BlockSize:    blockSize,
		victimFinder: victimFinder,
		dirty:        roaring.New(),
	}

	d.Reset()

	return d
}

// TotalSize returns the maximum number of bytes can be stored in the cache
func (d *Directory) TotalSize() uint64 {
	return uint64(d.NumSets) * uint64(d.NumWays) * uint64(d.BlockSize)
}

// GetSet returns the set that a certain address should store at
func (d *Directory) GetSet(reqAddr uint64) (set *Set, setID int) {
	setID = int(reqAddr / uint64(d.BlockSize) % uint64(d.NumSets))
	set = &d.Sets[setID]

	return
}

// Lookup finds the valid block that holds the line at lineAddr. It returns
// nil if the line is not cached.
func (d *Directory) Lookup(set *Set, lineAddr uint64) *Block {
	for _, block := range set.Blocks {
		if block.IsValid && block.Tag == lineAddr {
			return block
		}
	}

	return nil
}

// Visit tells the replacement policy that a block has been accessed.
func (d *Directory) Visit(set *Set, block *Block) {
	d.victimFinder.Visit(set, block)
}

// FindVictim returns the block that should hold a new line in the set.
func (d *Directory) FindVictim(set *Set) *Block {
	return d.victimFinder.FindVictim(set)
}

// Fill installs the line at lineAddr into block, taking the data from the
// set's scratch buffer. The block becomes valid and clean.
func (d *Directory) Fill(set *Set, block *Block, lineAddr uint64) {
	set.SwapScratch(block)

	if block.IsDirty {
		d.MarkClean(block)
	}

	block.Tag = lineAddr
	block.IsValid = true
	d.victimFinder.Insert(set, block)
}

// Invalidate drops the block without writing it back.
func (d *Directory) Invalidate(block *Block) {
	if block.IsDirty {
		d.MarkClean(block)
	}

	block.IsValid = false
}

// MarkDirty marks a block as modified and not yet written back.
func (d *Directory) MarkDirty(block *Block) {
	block.IsDirty = true

	d.dirtyLock.Lock()
	d.dirty.Add(d.slot(block))
	d.dirtyLock.Unlock()
}

// MarkClean clears the dirty flag of a block.
func (d *Directory) MarkClean(block *Block) {
	block.IsDirty = false

	d.dirtyLock.Lock()
	d.dirty.Remove(d.slot(block))
	d.dirtyLock.Unlock()
}

// NumDirty returns the number of dirty blocks.
func (d *Directory) NumDirty() int {
	d.dirtyLock.Lock()
	defer d.dirtyLock.Unlock()

	return int(d.dirty.GetCardinality())
}

// DirtyBlocks returns a snapshot of the blocks that were dirty at the time of
// the call, in slot order. A block's state may change before the caller
// locks its set, so callers must check IsDirty again under the set lock.
func (d *Directory) DirtyBlocks() []*Block {
	d.dirtyLock.Lock()
	slots := d.dirty.ToArray()
	d.dirtyLock.Unlock()

	blocks := make([]*Block, 0, len(slots))
	for _, s := range slots {
		setID := int(s) / d.NumWays
		wayID := int(s) % d.NumWays
		blocks = append(blocks, d.Sets[setID].Blocks[wayID])
	}

	return blocks
}

func (d *Directory) slot(block *Block) uint32 {
	return uint32(block.SetID*d.NumWays + block.WayID)
}

// Reset will mark all the blocks in the directory invalid
func (d *Directory) Reset() {
	d.Sets = make([]Set, d.NumSets)
	for i := 0; i < d.NumSets; i++ {
		set := &d.Sets[i]
		set.scratch = make([]byte, d.BlockSize)

		for j := 0; j < d.NumWays; j++ {
			block := &Block{
				IsValid: false,
				SetID:   i,
				WayID:   j,
				Data:    make([]byte, d.BlockSize),
			}

			set.Blocks = append(set.Blocks, block)
			set.LRUQueue = append(set.LRUQueue, j)
			set.RRPV = append(set.RRPV, rrpvMax)
		}
	}

	d.dirtyLock.Lock()
	d.dirty.Clear()
	d.dirtyLock.Unlock()
}

// Release drops all the blocks and their buffers.
func (d *Directory) Release() {
	d.Sets = nil

	d.dirtyLock.Lock()
	d.dirty.Clear()
	d.dirtyLock.Unlock()
}
