// Package circuitbreaker provides per-service circuit breakers and
// health-check-driven recovery helpers for calls to flaky external services,
// primarily the AI providers behind document and contract analysis.
//
// Use NewManager to create and manage per-service breakers, then run calls
// through Breaker.Execute (or Manager.Execute) so failures are tracked
// consistently across callers.
//
// Optional health-check integration can automatically reset breakers after
// downstream services recover.
package circuitbreaker
