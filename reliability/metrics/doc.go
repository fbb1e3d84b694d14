// Package metrics provides a lazy, thread-safe OpenTelemetry metrics factory
// with fluent builders, plus the pre-declared instruments recorded by the
// circuit breaker and command bus.
package metrics
