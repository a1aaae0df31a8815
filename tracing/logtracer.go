package tracing

import (
	"log"
	"sync"
)

// LogHookBase provides the common logic for all the tracers that write to a
// logger.
type LogHookBase struct {
	*log.Logger
}

// LogTracer writes one line per task end, including the steps the task went
// through and the error if the task failed.
type LogTracer struct {
	LogHookBase

	filter        TaskFilter
	lock          sync.Mutex
	inflightTasks map[string]*Task
}

// NewLogTracer creates a LogTracer that writes to logger.
func NewLogTracer(logger *log.Logger, filter TaskFilter) *LogTracer {
	return &LogTracer{
		LogHookBase:   LogHookBase{Logger: logger},
		filter:        filter,
		inflightTasks: make(map[string]*Task),
	}
}

// StartTask remembers the task until it ends.
func (t *LogTracer) StartTask(task Task) {
	if !t.filter(task) {
		return
	}

	t.lock.Lock()
	t.inflightTasks[task.ID] = &task
	t.lock.Unlock()
}

// StepTask appends the step to the remembered task.
func (t *LogTracer) StepTask(task Task) {
	t.lock.Lock()
	defer t.lock.Unlock()

	original, ok := t.inflightTasks[task.ID]
	if !ok {
		return
	}

	original.Steps = append(original.Steps, task.Steps...)
}

// EndTask prints the task.
func (t *LogTracer) EndTask(task Task) {
	t.lock.Lock()
	original, ok := t.inflightTasks[task.ID]
	delete(t.inflightTasks, task.ID)
	t.lock.Unlock()

	if !ok {
		return
	}

	steps := make([]string, 0, len(original.Steps))
	for _, s := range original.Steps {
		steps = append(steps, s.What)
	}

	duration := task.EndTime.Sub(original.StartTime)
	if task.Err != "" {
		t.Printf("%s %s %s %s steps=%v took=%s err=%s",
			original.Where, original.ID, original.Kind, original.What,
			steps, duration, task.Err)

		return
	}

	t.Printf("%s %s %s %s steps=%v took=%s",
		original.Where, original.ID, original.Kind, original.What,
		steps, duration)
}
