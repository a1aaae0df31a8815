package tagging

// A VictimFinder decides which block should be evicted. It is also told about
// accesses and fills so that it can keep its per-set state. All the methods
// are called with the set locked.
type VictimFinder interface {
	FindVictim(set *Set) *Block
	Visit(set *Set, block *Block)
	Insert(set *Set, block *Block)
}

// LRUVictimFinder evicts the least recently used block to evict
type LRUVictimFinder struct {
}

// NewLRUVictimFinder returns a newly constructed lru evictor
func NewLRUVictimFinder() *LRUVictimFinder {
	e := new(LRUVictimFinder)
	return e
}

// FindVictim returns the least recently used block in a set
func (e *LRUVictimFinder) FindVictim(set *Set) *Block {
	// First try evicting an empty block
	for _, blockIndex := range set.LRUQueue {
		block := set.Blocks[blockIndex]
		if !block.IsValid {
			return block
		}
	}

	return set.Blocks[set.LRUQueue[0]]
}

// Visit moves the block to the end of the LRUQueue
func (e *LRUVictimFinder) Visit(set *Set, block *Block) {
	moveToBack(set, block.WayID)
}

// Insert treats a newly filled block as the most recently used one.
func (e *LRUVictimFinder) Insert(set *Set, block *Block) {
	moveToBack(set, block.WayID)
}

func moveToBack(set *Set, wayID int) {
	q := set.LRUQueue
	for i, w := range q {
		if w == wayID {
			copy(q[i:], q[i+1:])
			q[len(q)-1] = wayID

			return
		}
	}
}

const (
	rrpvMax    = uint8(3)
	insertRRPV = uint8(2)
	hitRRPV    = uint8(0)
)

// SRRIPVictimFinder implements Static Re-Reference Interval Prediction. Each
// block carries a 2-bit re-reference prediction value. A block with the
// maximum value is evicted; if there is none, all the values age by one and
// the search repeats. Filled blocks start close to eviction and hits protect
// them, which makes the policy resistant to scans.
type SRRIPVictimFinder struct {
}

// NewSRRIPVictimFinder returns a newly constructed SRRIP evictor.
func NewSRRIPVictimFinder() *SRRIPVictimFinder {
	return &SRRIPVictimFinder{}
}

// FindVictim returns the SRRIP-selected victim in the set.
func (e *SRRIPVictimFinder) FindVictim(set *Set) *Block {
	for _, block := range set.Blocks {
		if !block.IsValid {
			return block
		}
	}

	for {
		for i, block := range set.Blocks {
			if set.RRPV[i] >= rrpvMax {
				return block
			}
		}

		for i := range set.RRPV {
			set.RRPV[i]++
		}
	}
}

// Visit protects a block that has just been hit.
func (e *SRRIPVictimFinder) Visit(set *Set, block *Block) {
	set.RRPV[block.WayID] = hitRRPV
}

// Insert sets the prediction of a newly filled block.
func (e *SRRIPVictimFinder) Insert(set *Set, block *Block) {
	set.RRPV[block.WayID] = insertRRPV
}
