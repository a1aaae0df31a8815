package tagging

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

var _ = Describe("Directory", func() {
	var (
		mockCtrl     *gomock.Controller
		victimFinder *MockVictimFinder
		dir          *Directory
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		victimFinder = NewMockVictimFinder(mockCtrl)
		dir = NewDirectory(8, 4, 64, victimFinder)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should be able to get total size", func() {
		Expect(dir.TotalSize()).To(Equal(uint64(2048)))
	})

	It("should map addresses to sets", func() {
		_, setID := dir.GetSet(0x0)
		Expect(setID).To(Equal(0))

		_, setID = dir.GetSet(0x40)
		Expect(setID).To(Equal(1))

		_, setID = dir.GetSet(0x23b9)
		Expect(setID).To(Equal(6))

		_, setID = dir.GetSet(8 * 64)
		Expect(setID).To(Equal(0))
	})

	It("should lookup", func() {
		set, _ := dir.GetSet(0x100)
		set.Blocks[2].Tag = 0x100
		set.Blocks[2].IsValid = true

		Expect(dir.Lookup(set, 0x100)).To(BeIdenticalTo(set.Blocks[2]))
	})

	It("should return nil when lookup cannot find block", func() {
		set, _ := dir.GetSet(0x100)

		Expect(dir.Lookup(set, 0x100)).To(BeNil())
	})

	It("should return nil if block is invalid", func() {
		set, _ := dir.GetSet(0x100)
		set.Blocks[0].Tag = 0x100
		set.Blocks[0].IsValid = false

		Expect(dir.Lookup(set, 0x100)).To(BeNil())
	})

	It("should fill a block from the scratch buffer", func() {
		set, _ := dir.GetSet(0x100)
		block := set.Blocks[1]
		oldData := block.Data
		copy(set.Scratch(), []byte{1, 2, 3, 4})

		victimFinder.EXPECT().Insert(set, block)

		dir.Fill(set, block, 0x100)

		Expect(block.IsValid).To(BeTrue())
		Expect(block.IsDirty).To(BeFalse())
		Expect(block.Tag).To(Equal(uint64(0x100)))
		Expect(block.Data[:4]).To(Equal([]byte{1, 2, 3, 4}))
		Expect(set.Scratch()).To(HaveLen(64))
		Expect(&set.Scratch()[0]).To(BeIdenticalTo(&oldData[0]))
	})

	It("should clear the dirty state when filling a dirty block", func() {
		set, _ := dir.GetSet(0x100)
		block := set.Blocks[0]
		block.IsValid = true
		dir.MarkDirty(block)

		victimFinder.EXPECT().Insert(set, block)

		dir.Fill(set, block, 0x300)

		Expect(block.IsDirty).To(BeFalse())
		Expect(dir.NumDirty()).To(Equal(0))
	})

	It("should track dirty blocks", func() {
		a := dir.Sets[3].Blocks[1]
		b := dir.Sets[0].Blocks[2]
		c := dir.Sets[7].Blocks[3]

		dir.MarkDirty(a)
		dir.MarkDirty(b)
		dir.MarkDirty(c)
		dir.MarkClean(c)

		Expect(dir.NumDirty()).To(Equal(2))
		Expect(dir.DirtyBlocks()).To(Equal([]*Block{b, a}))
		Expect(a.IsDirty).To(BeTrue())
		Expect(c.IsDirty).To(BeFalse())
	})

	It("should invalidate", func() {
		block := dir.Sets[2].Blocks[0]
		block.IsValid = true
		dir.MarkDirty(block)

		dir.Invalidate(block)

		Expect(block.IsValid).To(BeFalse())
		Expect(block.IsDirty).To(BeFalse())
		Expect(dir.DirtyBlocks()).To(BeEmpty())
	})

	It("should delegate replacement decisions", func() {
		set := &dir.Sets[0]
		victimFinder.EXPECT().FindVictim(set).Return(set.Blocks[3])
		victimFinder.EXPECT().Visit(set, set.Blocks[3])

		Expect(dir.FindVictim(set)).To(BeIdenticalTo(set.Blocks[3]))
		dir.Visit(set, set.Blocks[3])
	})

	It("should reset", func() {
		block := dir.Sets[1].Blocks[1]
		block.IsValid = true
		dir.MarkDirty(block)

		dir.Reset()

		Expect(dir.Sets).To(HaveLen(8))
		Expect(dir.Sets[1].Blocks[1].IsValid).To(BeFalse())
		Expect(dir.NumDirty()).To(Equal(0))
	})

	It("should release", func() {
		dir.MarkDirty(dir.Sets[1].Blocks[1])

		dir.Release()

		Expect(dir.Sets).To(BeNil())
		Expect(dir.NumDirty()).To(Equal(0))
	})
})
