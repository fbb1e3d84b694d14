//go:build unit

package metrics

import (
	"context"
	"strings"
	"testing"

	"github.com/praxislaw/lib-reliability/reliability/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestFactory(t *testing.T) (*Factory, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("test-reliability")

	factory, err := NewFactory(meter, &log.NopLogger{})
	require.NoError(t, err)

	return factory, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics

	err := reader.Collect(context.Background(), &rm)
	require.NoError(t, err)

	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}

	return nil
}

func TestNewFactory_NilMeter(t *testing.T) {
	t.Parallel()

	_, err := NewFactory(nil, &log.NopLogger{})
	assert.ErrorIs(t, err, ErrNilMeter)
}

func TestCounter_AddWithLabels(t *testing.T) {
	t.Parallel()

	factory, reader := newTestFactory(t)

	counter, err := factory.Counter(MetricBreakerExecutions)
	require.NoError(t, err)

	err = counter.WithLabels(map[string]string{
		"service": "openai",
		"result":  "success",
	}).Add(context.Background(), 3)
	require.NoError(t, err)

	rm := collect(t, reader)
	m := findMetric(rm, "circuit_breaker_executions_total")
	require.NotNil(t, m)

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(3), sum.DataPoints[0].Value)
}

func TestCounter_SameNameReturnsCachedInstrument(t *testing.T) {
	t.Parallel()

	factory, reader := newTestFactory(t)

	first, err := factory.Counter(MetricCommandsExecuted)
	require.NoError(t, err)
	second, err := factory.Counter(MetricCommandsExecuted)
	require.NoError(t, err)

	require.NoError(t, first.AddOne(context.Background()))
	require.NoError(t, second.AddOne(context.Background()))

	rm := collect(t, reader)
	m := findMetric(rm, "commands_executed_total")
	require.NotNil(t, m)

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1, "both builders must share one instrument")
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)
}

func TestGauge_Set(t *testing.T) {
	t.Parallel()

	factory, reader := newTestFactory(t)

	gauge, err := factory.Gauge(Metric{Name: "open_breakers", Unit: "1"})
	require.NoError(t, err)

	require.NoError(t, gauge.Set(context.Background(), 2))
	require.NoError(t, gauge.Set(context.Background(), 5))

	rm := collect(t, reader)
	m := findMetric(rm, "open_breakers")
	require.NotNil(t, m)

	data, ok := m.Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, data.DataPoints, 1)
	assert.Equal(t, int64(5), data.DataPoints[0].Value)
}

func TestHistogram_RecordUsesDefaultBuckets(t *testing.T) {
	t.Parallel()

	factory, reader := newTestFactory(t)

	hist, err := factory.Histogram(Metric{Name: "op_duration_milliseconds", Unit: "ms"})
	require.NoError(t, err)

	require.NoError(t, hist.Record(context.Background(), 42))

	rm := collect(t, reader)
	m := findMetric(rm, "op_duration_milliseconds")
	require.NotNil(t, m)

	data, ok := m.Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, data.DataPoints, 1)
	assert.Equal(t, uint64(1), data.DataPoints[0].Count)
}

func TestSanitizeLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", SanitizeLabel("short"))

	long := strings.Repeat("a", 100)
	assert.Len(t, SanitizeLabel(long), MaxLabelLength)
}

func TestBuilders_NilInstrument(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, (&CounterBuilder{}).AddOne(context.Background()), ErrNilCounter)
	assert.ErrorIs(t, (&GaugeBuilder{}).Set(context.Background(), 1), ErrNilGauge)
	assert.ErrorIs(t, (&HistogramBuilder{}).Record(context.Background(), 1), ErrNilHistogram)
}

func TestNewNopFactory(t *testing.T) {
	t.Parallel()

	factory := NewNopFactory()

	counter, err := factory.Counter(MetricBreakerTransitions)
	require.NoError(t, err)
	assert.NoError(t, counter.AddOne(context.Background()))
}
