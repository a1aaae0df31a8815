package cache

import (
	"log"

	"github.com/sarchlab/linecache/hooking"
	"github.com/sarchlab/linecache/tracing"
)

// LineLogger is a hook that prints the line events of a cache.
type LineLogger struct {
	tracing.LogHookBase
}

// NewLineLogger creates a LineLogger that writes to logger.
func NewLineLogger(logger *log.Logger) *LineLogger {
	return &LineLogger{
		LogHookBase: tracing.LogHookBase{Logger: logger},
	}
}

// Func writes the event if the hook context carries a line event.
func (h *LineLogger) Func(ctx hooking.HookCtx) {
	evt, ok := ctx.Item.(LineEvent)
	if !ok {
		return
	}

	var what string

	switch ctx.Pos {
	case HookPosLineFill:
		what = "fill"
	case HookPosLineEvict:
		what = "evict"
	case HookPosLineWriteBack:
		what = "write_back"
	case HookPosLineInvalidate:
		what = "invalidate"
	default:
		return
	}

	name := ""
	if named, ok := ctx.Domain.(interface{ Name() string }); ok {
		name = named.Name()
	}

	h.Printf("%s %s 0x%x set=%d way=%d dirty=%t",
		name, what, evt.Addr, evt.SetID, evt.WayID, evt.Dirty)
}
