package tracing

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/linecache/hooking"
	"go.uber.org/mock/gomock"
)

var _ = Describe("API", func() {
	var (
		mockCtrl *gomock.Controller
		domain   *MockNamedHookable
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		domain = NewMockNamedHookable(mockCtrl)
		domain.EXPECT().Name().Return("Cache").AnyTimes()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should not invoke hooks if the domain has none", func() {
		domain.EXPECT().NumHooks().Return(0).Times(3)

		StartTask("1", "", domain, "read", "0x0", nil)
		AddTaskStep("1", domain, "hit")
		EndTask("1", domain, nil)
	})

	It("should start a task", func() {
		domain.EXPECT().NumHooks().Return(1)
		domain.EXPECT().InvokeHook(gomock.Any()).Do(func(ctx hooking.HookCtx) {
			Expect(ctx.Pos).To(BeIdenticalTo(HookPosTaskStart))
			task := ctx.Item.(Task)
			Expect(task.ID).To(Equal("1"))
			Expect(task.Kind).To(Equal("read"))
			Expect(task.What).To(Equal("0x40"))
			Expect(task.Where).To(Equal("Cache"))
			Expect(task.StartTime).NotTo(BeZero())
		})

		StartTask("1", "", domain, "read", "0x40", nil)
	})

	It("should panic if the kind is missing", func() {
		domain.EXPECT().NumHooks().Return(1)

		Expect(func() {
			StartTask("1", "", domain, "", "0x40", nil)
		}).To(Panic())
	})

	It("should end a task with an error", func() {
		domain.EXPECT().NumHooks().Return(1)
		domain.EXPECT().InvokeHook(gomock.Any()).Do(func(ctx hooking.HookCtx) {
			Expect(ctx.Pos).To(BeIdenticalTo(HookPosTaskEnd))
			task := ctx.Item.(Task)
			Expect(task.ID).To(Equal("1"))
			Expect(task.Err).To(Equal("boom"))
			Expect(task.EndTime).NotTo(BeZero())
		})

		EndTask("1", domain, errors.New("boom"))
	})

	It("should attach a tracer only once", func() {
		tracer := NewMockTracer(mockCtrl)
		var hooks []hooking.Hook

		domain.EXPECT().Hooks().DoAndReturn(func() []hooking.Hook {
			return hooks
		}).AnyTimes()
		domain.EXPECT().AcceptHook(gomock.Any()).Do(func(h hooking.Hook) {
			hooks = append(hooks, h)
		})

		CollectTrace(domain, tracer)

		Expect(func() { CollectTrace(domain, tracer) }).To(Panic())
	})

	It("should dispatch hook positions to the tracer", func() {
		tracer := NewMockTracer(mockCtrl)
		h := &traceHook{t: tracer}
		task := Task{ID: "1"}

		gomock.InOrder(
			tracer.EXPECT().StartTask(task),
			tracer.EXPECT().StepTask(task),
			tracer.EXPECT().EndTask(task),
		)

		h.Func(hooking.HookCtx{Pos: HookPosTaskStart, Item: task})
		h.Func(hooking.HookCtx{Pos: HookPosTaskStep, Item: task})
		h.Func(hooking.HookCtx{Pos: HookPosTaskEnd, Item: task})
	})
})
