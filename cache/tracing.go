package cache

import (
	"fmt"

	"github.com/rs/xid"
	"github.com/sarchlab/linecache/cache/internal/tagging"
	"github.com/sarchlab/linecache/hooking"
	"github.com/sarchlab/linecache/tracing"
)

// Hook positions of line events. The item of the hook context is a
// LineEvent.
var (
	HookPosLineFill       = &hooking.HookPos{Name: "HookPosLineFill"}
	HookPosLineEvict      = &hooking.HookPos{Name: "HookPosLineEvict"}
	HookPosLineWriteBack  = &hooking.HookPos{Name: "HookPosLineWriteBack"}
	HookPosLineInvalidate = &hooking.HookPos{Name: "HookPosLineInvalidate"}
)

// A LineEvent describes something that happened to a cache line.
type LineEvent struct {
	TaskID string
	Addr   uint64
	SetID  int
	WayID  int
	Dirty  bool
}

// An OpDetail is attached to the task of each public operation.
type OpDetail struct {
	Addr  uint64
	Count uint64
}

// startTask returns an empty ID if nobody is listening, so that untraced
// caches do not pay for ID generation.
func (c *Cache) startTask(kind string, addr, count uint64) string {
	if c.NumHooks() == 0 {
		return ""
	}

	id := xid.New().String()
	tracing.StartTask(
		id, "", c, kind,
		fmt.Sprintf("0x%x+%d", addr, count),
		OpDetail{Addr: addr, Count: count},
	)

	return id
}

func (c *Cache) endTask(taskID string, err error) {
	if taskID == "" {
		return
	}

	tracing.EndTask(taskID, c, err)
}

func (c *Cache) tagTask(taskID, what string) {
	if taskID == "" {
		return
	}

	tracing.AddTaskStep(taskID, c, what)
}

func (c *Cache) lineEvent(
	taskID string,
	pos *hooking.HookPos,
	addr uint64,
	block *tagging.Block,
	dirty bool,
) {
	if c.NumHooks() == 0 {
		return
	}

	c.InvokeHook(hooking.HookCtx{
		Domain: c,
		Pos:    pos,
		Item: LineEvent{
			TaskID: taskID,
			Addr:   addr,
			SetID:  block.SetID,
			WayID:  block.WayID,
			Dirty:  dirty,
		},
	})
}
