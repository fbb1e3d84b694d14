package circuitbreaker

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCircuitOpen is returned when a call is rejected fast because the
	// breaker is open. Callers can distinguish it from a genuine downstream
	// failure with errors.Is.
	ErrCircuitOpen = errors.New("circuitbreaker: circuit breaker is open")

	// ErrOperationTimeout is returned when the wrapped operation exceeds the
	// configured per-call timeout. It counts as a failure for state-machine
	// accounting.
	ErrOperationTimeout = errors.New("circuitbreaker: operation timed out")

	// ErrBreakerNotFound is returned by manager lookups for unknown services.
	ErrBreakerNotFound = errors.New("circuitbreaker: breaker not found")

	// ErrInvalidConfig indicates a Config that fails validation.
	ErrInvalidConfig = errors.New("circuitbreaker: invalid config")
)

// Operation is a unit of work guarded by a breaker. The context passed in is
// cancelled when the per-call timeout elapses, so cooperative operations can
// stop early instead of running to completion with a discarded result.
type Operation func(ctx context.Context) (any, error)

// State represents the breaker state.
type State string

const (
	// StateClosed lets calls through and counts consecutive failures.
	StateClosed State = "closed"
	// StateOpen rejects calls fast until the reset timeout elapses.
	StateOpen State = "open"
	// StateHalfOpen admits exactly one trial call; its outcome decides
	// whether the breaker closes again or re-opens.
	StateHalfOpen State = "half-open"
	// StateUnknown is reported for services the manager has never seen.
	StateUnknown State = "unknown"
)

// Stats is a point-in-time snapshot of a breaker. Failures is the current
// consecutive-failure count; Successes and TotalRequests are lifetime
// counters that survive state transitions.
type Stats struct {
	State         State         `json:"state"`
	Failures      uint32        `json:"failures"`
	Successes     uint64        `json:"successes"`
	TotalRequests uint64        `json:"totalRequests"`
	Uptime        time.Duration `json:"uptime"`
}

// ServiceStats pairs a service name with its breaker snapshot.
type ServiceStats struct {
	Name string `json:"name"`
	Stats
}

// AggregateStats sums snapshots across every managed breaker.
type AggregateStats struct {
	TotalServices  int            `json:"totalServices"`
	TotalRequests  uint64         `json:"totalRequests"`
	TotalSuccesses uint64         `json:"totalSuccesses"`
	Services       []ServiceStats `json:"services"`
}

// ServiceStatus annotates a service with its current state, used for
// unhealthy-service listings.
type ServiceStatus struct {
	Name  string `json:"name"`
	State State  `json:"state"`
}

// HealthBucket classifies a service for the health report.
type HealthBucket string

const (
	// HealthHealthy means the breaker is closed with no recent failures.
	HealthHealthy HealthBucket = "healthy"
	// HealthDegraded means the breaker is half-open, or closed but
	// accumulating recent failures near its threshold.
	HealthDegraded HealthBucket = "degraded"
	// HealthFailed means the breaker is open.
	HealthFailed HealthBucket = "failed"
)

// ServiceHealth is one service's classification in the health report.
type ServiceHealth struct {
	Name     string       `json:"name"`
	State    State        `json:"state"`
	Status   HealthBucket `json:"status"`
	Failures uint32       `json:"failures"`
}

// HealthReport classifies every managed service and carries aggregate counts.
type HealthReport struct {
	Healthy  int             `json:"healthy"`
	Degraded int             `json:"degraded"`
	Failed   int             `json:"failed"`
	Services []ServiceHealth `json:"services"`
}

// StateChangeListener is notified when a circuit breaker changes state.
type StateChangeListener interface {
	// OnStateChange is called when a circuit breaker changes state.
	OnStateChange(serviceName string, from State, to State)
}

// HealthCheckFunc defines a function that checks service health.
type HealthCheckFunc func(ctx context.Context) error
