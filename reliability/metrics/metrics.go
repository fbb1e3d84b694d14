package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/praxislaw/lib-reliability/reliability/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Factory provides a thread-safe factory for creating and managing
// OpenTelemetry metrics with lazy initialization, using sync.Map for
// concurrent access on hot paths.
type Factory struct {
	meter      metric.Meter
	counters   sync.Map // string -> metric.Int64Counter
	gauges     sync.Map // string -> metric.Int64Gauge
	histograms sync.Map // string -> metric.Int64Histogram
	logger     log.Logger
}

// ErrNilMeter indicates that a nil OTEL meter was provided.
var ErrNilMeter = errors.New("metric meter cannot be nil")

// MaxLabelLength bounds label values so callers cannot blow up metric
// cardinality or storage with unbounded strings.
const MaxLabelLength = 64

// Metric describes an instrument that the factory can create.
type Metric struct {
	Name        string
	Description string
	Unit        string
	// For histograms: bucket boundaries
	Buckets []float64
}

// Pre-configured metrics recorded by the reliability components.
var (
	// MetricBreakerExecutions counts executions routed through a circuit
	// breaker, labelled {service, result}.
	MetricBreakerExecutions = Metric{
		Name:        "circuit_breaker_executions_total",
		Unit:        "1",
		Description: "Counts operations executed through a circuit breaker, by service and result.",
	}

	// MetricBreakerTransitions counts breaker state transitions,
	// labelled {service, from_state, to_state}.
	MetricBreakerTransitions = Metric{
		Name:        "circuit_breaker_state_transitions_total",
		Unit:        "1",
		Description: "Counts circuit breaker state transitions, by service and edge.",
	}

	// MetricCommandsExecuted counts commands dispatched through the bus,
	// labelled {command, result}.
	MetricCommandsExecuted = Metric{
		Name:        "commands_executed_total",
		Unit:        "1",
		Description: "Counts commands dispatched through the command bus, by command and result.",
	}

	// MetricCommandDuration measures handler execution time in milliseconds,
	// labelled {command}.
	MetricCommandDuration = Metric{
		Name:        "command_duration_milliseconds",
		Unit:        "ms",
		Description: "Measures command handler execution time.",
		Buckets:     DefaultDurationBuckets,
	}
)

// DefaultDurationBuckets are histogram boundaries for handler durations,
// in milliseconds. AI-provider calls routinely take seconds, so the upper
// buckets are generous.
var DefaultDurationBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

// NewFactory creates a new metrics Factory instance.
func NewFactory(meter metric.Meter, logger log.Logger) (*Factory, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}

	return &Factory{
		meter:  meter,
		logger: log.OrNop(logger),
	}, nil
}

// NewNopFactory returns a Factory backed by OpenTelemetry's no-op meter.
// It is safe for use as a fallback when a real meter is unavailable.
func NewNopFactory() *Factory {
	return &Factory{
		meter:  noop.NewMeterProvider().Meter("nop"),
		logger: log.NewNop(),
	}
}

// Counter creates or retrieves a counter metric and returns a builder for
// fluent usage.
func (f *Factory) Counter(m Metric) (*CounterBuilder, error) {
	counter, err := f.getOrCreateCounter(m)
	if err != nil {
		return nil, err
	}

	return &CounterBuilder{
		counter: counter,
		name:    m.Name,
	}, nil
}

// Gauge creates or retrieves a gauge metric and returns a builder for
// fluent usage.
func (f *Factory) Gauge(m Metric) (*GaugeBuilder, error) {
	gauge, err := f.getOrCreateGauge(m)
	if err != nil {
		return nil, err
	}

	return &GaugeBuilder{
		gauge: gauge,
		name:  m.Name,
	}, nil
}

// Histogram creates or retrieves a histogram metric and returns a builder
// for fluent usage. Metrics without explicit buckets get
// DefaultDurationBuckets.
func (f *Factory) Histogram(m Metric) (*HistogramBuilder, error) {
	if m.Buckets == nil {
		m.Buckets = DefaultDurationBuckets
	}

	histogram, err := f.getOrCreateHistogram(m)
	if err != nil {
		return nil, err
	}

	return &HistogramBuilder{
		histogram: histogram,
		name:      m.Name,
	}, nil
}

// SanitizeLabel truncates a label value to MaxLabelLength.
func SanitizeLabel(value string) string {
	if len(value) > MaxLabelLength {
		return value[:MaxLabelLength]
	}

	return value
}

// getOrCreateCounter lazily creates or retrieves an existing counter.
func (f *Factory) getOrCreateCounter(m Metric) (metric.Int64Counter, error) {
	if counter, exists := f.counters.Load(m.Name); exists {
		if c, ok := counter.(metric.Int64Counter); ok {
			return c, nil
		}

		return nil, fmt.Errorf("counter cache contains invalid type for %q", m.Name)
	}

	counter, err := f.meter.Int64Counter(m.Name, counterOptions(m)...)
	if err != nil {
		f.logger.Log(context.Background(), log.LevelError, "failed to create counter metric",
			log.String("metric_name", m.Name), log.Err(err))

		return nil, fmt.Errorf("create counter %q: %w", m.Name, err)
	}

	if actual, loaded := f.counters.LoadOrStore(m.Name, counter); loaded {
		// Another goroutine created it first, use that one.
		if c, ok := actual.(metric.Int64Counter); ok {
			return c, nil
		}

		return nil, fmt.Errorf("counter cache contains invalid type for %q", m.Name)
	}

	return counter, nil
}

// getOrCreateGauge lazily creates or retrieves an existing gauge.
func (f *Factory) getOrCreateGauge(m Metric) (metric.Int64Gauge, error) {
	if gauge, exists := f.gauges.Load(m.Name); exists {
		if g, ok := gauge.(metric.Int64Gauge); ok {
			return g, nil
		}

		return nil, fmt.Errorf("gauge cache contains invalid type for %q", m.Name)
	}

	gauge, err := f.meter.Int64Gauge(m.Name, gaugeOptions(m)...)
	if err != nil {
		f.logger.Log(context.Background(), log.LevelError, "failed to create gauge metric",
			log.String("metric_name", m.Name), log.Err(err))

		return nil, fmt.Errorf("create gauge %q: %w", m.Name, err)
	}

	if actual, loaded := f.gauges.LoadOrStore(m.Name, gauge); loaded {
		if g, ok := actual.(metric.Int64Gauge); ok {
			return g, nil
		}

		return nil, fmt.Errorf("gauge cache contains invalid type for %q", m.Name)
	}

	return gauge, nil
}

// getOrCreateHistogram lazily creates or retrieves an existing histogram.
func (f *Factory) getOrCreateHistogram(m Metric) (metric.Int64Histogram, error) {
	if histogram, exists := f.histograms.Load(m.Name); exists {
		if h, ok := histogram.(metric.Int64Histogram); ok {
			return h, nil
		}

		return nil, fmt.Errorf("histogram cache contains invalid type for %q", m.Name)
	}

	histogram, err := f.meter.Int64Histogram(m.Name, histogramOptions(m)...)
	if err != nil {
		f.logger.Log(context.Background(), log.LevelError, "failed to create histogram metric",
			log.String("metric_name", m.Name), log.Err(err))

		return nil, fmt.Errorf("create histogram %q: %w", m.Name, err)
	}

	if actual, loaded := f.histograms.LoadOrStore(m.Name, histogram); loaded {
		if h, ok := actual.(metric.Int64Histogram); ok {
			return h, nil
		}

		return nil, fmt.Errorf("histogram cache contains invalid type for %q", m.Name)
	}

	return histogram, nil
}

func counterOptions(m Metric) []metric.Int64CounterOption {
	var opts []metric.Int64CounterOption
	if m.Description != "" {
		opts = append(opts, metric.WithDescription(m.Description))
	}

	if m.Unit != "" {
		opts = append(opts, metric.WithUnit(m.Unit))
	}

	return opts
}

func gaugeOptions(m Metric) []metric.Int64GaugeOption {
	var opts []metric.Int64GaugeOption
	if m.Description != "" {
		opts = append(opts, metric.WithDescription(m.Description))
	}

	if m.Unit != "" {
		opts = append(opts, metric.WithUnit(m.Unit))
	}

	return opts
}

func histogramOptions(m Metric) []metric.Int64HistogramOption {
	var opts []metric.Int64HistogramOption
	if m.Description != "" {
		opts = append(opts, metric.WithDescription(m.Description))
	}

	if m.Unit != "" {
		opts = append(opts, metric.WithUnit(m.Unit))
	}

	if m.Buckets != nil {
		opts = append(opts, metric.WithExplicitBucketBoundaries(m.Buckets...))
	}

	return opts
}
