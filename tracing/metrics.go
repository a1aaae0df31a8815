package tracing

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsTracer turns tasks into OpenTelemetry metrics: an operation counter,
// an error counter, a duration histogram, and a step counter. The step
// counter, split by step name, carries the hit and miss counts.
type MetricsTracer struct {
	opCount      metric.Int64Counter
	errorCount   metric.Int64Counter
	stepCount    metric.Int64Counter
	durationHist metric.Float64Histogram

	lock          sync.Mutex
	inflightTasks map[string]Task
}

// NewMetricsTracer creates the instruments on the given meter.
func NewMetricsTracer(meter metric.Meter) (*MetricsTracer, error) {
	opCount, err := meter.Int64Counter(
		"linecache.op.total",
		metric.WithDescription("Total number of cache operations"),
		metric.WithUnit("{op}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"linecache.op.errors",
		metric.WithDescription("Total number of failed cache operations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	stepCount, err := meter.Int64Counter(
		"linecache.line.steps",
		metric.WithDescription("Line-level events such as hits, misses, and write-backs"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"linecache.op.duration_ms",
		metric.WithDescription("Cache operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsTracer{
		opCount:       opCount,
		errorCount:    errorCount,
		stepCount:     stepCount,
		durationHist:  durationHist,
		inflightTasks: make(map[string]Task),
	}, nil
}

// StartTask remembers when the task started.
func (t *MetricsTracer) StartTask(task Task) {
	t.lock.Lock()
	t.inflightTasks[task.ID] = task
	t.lock.Unlock()
}

// StepTask counts the step.
func (t *MetricsTracer) StepTask(task Task) {
	t.lock.Lock()
	original, ok := t.inflightTasks[task.ID]
	t.lock.Unlock()

	if !ok {
		return
	}

	for _, s := range task.Steps {
		t.stepCount.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("op.kind", original.Kind),
			attribute.String("step", s.What),
		))
	}
}

// EndTask records the operation, its duration, and its error status.
func (t *MetricsTracer) EndTask(task Task) {
	t.lock.Lock()
	original, ok := t.inflightTasks[task.ID]
	delete(t.inflightTasks, task.ID)
	t.lock.Unlock()

	if !ok {
		return
	}

	ctx := context.Background()
	opt := metric.WithAttributes(
		attribute.String("op.kind", original.Kind),
		attribute.String("cache", original.Where),
	)

	t.opCount.Add(ctx, 1, opt)
	if task.Err != "" {
		t.errorCount.Add(ctx, 1, opt)
	}

	t.durationHist.Record(ctx,
		float64(task.EndTime.Sub(original.StartTime))/float64(time.Millisecond),
		opt)
}
