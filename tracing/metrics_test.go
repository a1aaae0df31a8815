package tracing

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func sumOf(rm metricdata.ResourceMetrics, name string) int64 {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}

			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				return -1
			}

			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}

			return total
		}
	}

	return 0
}

var _ = Describe("MetricsTracer", func() {
	var (
		reader *sdkmetric.ManualReader
		tracer *MetricsTracer
	)

	BeforeEach(func() {
		reader = sdkmetric.NewManualReader()
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

		var err error
		tracer, err = NewMetricsTracer(provider.Meter("linecache"))
		Expect(err).NotTo(HaveOccurred())
	})

	It("should count operations, errors, and steps", func() {
		start := time.Now()

		tracer.StartTask(Task{ID: "1", Kind: "read", StartTime: start})
		tracer.StepTask(step("1", "miss"))
		tracer.StepTask(step("1", "hit"))
		tracer.EndTask(Task{ID: "1", EndTime: start.Add(time.Millisecond)})

		tracer.StartTask(Task{ID: "2", Kind: "write", StartTime: start})
		tracer.EndTask(Task{ID: "2", EndTime: start, Err: "EIO"})

		var rm metricdata.ResourceMetrics
		Expect(reader.Collect(context.Background(), &rm)).To(Succeed())

		Expect(sumOf(rm, "linecache.op.total")).To(Equal(int64(2)))
		Expect(sumOf(rm, "linecache.op.errors")).To(Equal(int64(1)))
		Expect(sumOf(rm, "linecache.line.steps")).To(Equal(int64(2)))
	})

	It("should ignore unknown tasks", func() {
		tracer.StepTask(step("9", "hit"))
		tracer.EndTask(Task{ID: "9", EndTime: time.Now()})

		var rm metricdata.ResourceMetrics
		Expect(reader.Collect(context.Background(), &rm)).To(Succeed())

		Expect(sumOf(rm, "linecache.op.total")).To(BeZero())
	})
})
