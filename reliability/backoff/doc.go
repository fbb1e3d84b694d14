// Package backoff provides retry delay helpers with multiplicative growth,
// a ceiling, and jitter.
//
// Use Delay/Cap (or DelayWithJitter) inside retry loops and SleepContext to
// wait while respecting cancellation and deadlines.
package backoff
