// Package zap adapts go.uber.org/zap to the library's log.Logger interface,
// adding OpenTelemetry trace correlation fields when a span is active.
package zap
