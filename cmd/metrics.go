package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/sarchlab/linecache/cache"
	"github.com/sarchlab/linecache/tracing"
)

// opMetrics collects OpenTelemetry metrics about the operations of a cache.
type opMetrics struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
}

func collectMetrics(c *cache.Cache) (*opMetrics, error) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	tracer, err := tracing.NewMetricsTracer(
		provider.Meter("github.com/sarchlab/linecache"))
	if err != nil {
		return nil, err
	}

	tracing.CollectTrace(c, tracer)

	return &opMetrics{reader: reader, provider: provider}, nil
}

// print writes one line per data point, sorted so that the output is stable.
func (m *opMetrics) print(ctx context.Context, w io.Writer) error {
	var rm metricdata.ResourceMetrics
	if err := m.reader.Collect(ctx, &rm); err != nil {
		return err
	}

	var lines []string

	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			switch data := metric.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					lines = append(lines, fmt.Sprintf("%s{%s} %d",
						metric.Name, encode(dp.Attributes), dp.Value))
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					mean := 0.0
					if dp.Count > 0 {
						mean = dp.Sum / float64(dp.Count)
					}

					lines = append(lines, fmt.Sprintf(
						"%s{%s} count=%d mean=%.4f",
						metric.Name, encode(dp.Attributes), dp.Count, mean))
				}
			}
		}
	}

	sort.Strings(lines)

	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}

	return nil
}

func (m *opMetrics) shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

func encode(set attribute.Set) string {
	return set.Encoded(attribute.DefaultEncoder())
}
