package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/praxislaw/lib-reliability/reliability/runtime"
)

// Execution result labels recorded against the metrics factory.
const (
	resultSuccess      = "success"
	resultError        = "error"
	resultTimeout      = "timeout"
	resultRejectedOpen = "rejected_open"
)

// Breaker is a per-service circuit breaker.
//
// It starts closed and counts consecutive failures; reaching
// Config.FailureThreshold trips it open, after which calls are rejected fast
// with ErrCircuitOpen. Once Config.ResetTimeout has elapsed since the last
// failure, exactly one trial call is admitted (half-open); its success closes
// the breaker, its failure re-opens it. While the trial is in flight, racing
// callers are rejected rather than admitted as extra trials.
type Breaker struct {
	name   string
	config Config
	clock  func() time.Time

	mu              sync.Mutex
	state           State
	failureCount    uint32
	successCount    uint64
	totalRequests   uint64
	lastFailureTime time.Time
	createdAt       time.Time

	// Hooks installed by the manager; must not call back into the breaker.
	onStateChange func(from, to State)
	onExecution   func(result string)
}

// New creates a standalone breaker. Breakers obtained through a Manager share
// its logging, metrics, and listener plumbing; standalone breakers only run
// the state machine.
func New(name string, config Config) (*Breaker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return newBreaker(name, config, time.Now), nil
}

func newBreaker(name string, config Config, clock func() time.Time) *Breaker {
	return &Breaker{
		name:      name,
		config:    config,
		clock:     clock,
		state:     StateClosed,
		createdAt: clock(),
	}
}

// Name returns the protected service's name.
func (b *Breaker) Name() string {
	return b.name
}

// Config returns the breaker's immutable configuration.
func (b *Breaker) Config() Config {
	return b.config
}

// Execute runs the operation through the breaker.
//
// It returns the operation's result on success and the operation's error
// unchanged on failure. When rejecting fast it returns an error matching
// ErrCircuitOpen without invoking the operation; when the per-call timeout
// elapses it returns an error matching ErrOperationTimeout and cancels the
// operation's context.
//
// A panicking operation counts as a failure. Without a per-call timeout the
// panic propagates to the caller after the failure is recorded; with one,
// the operation runs on a separate goroutine and the panic is returned as
// an error instead.
func (b *Breaker) Execute(ctx context.Context, op Operation) (any, error) {
	trial, err := b.beforeCall()
	if err != nil {
		b.record(resultRejectedOpen)

		return nil, err
	}

	// A panicking operation must still settle the state machine; an
	// unsettled half-open trial would wedge the breaker in StateHalfOpen
	// with no timer-based escape. Count the panic as a failure, then
	// re-panic for the caller.
	defer func() {
		if r := recover(); r != nil {
			b.afterCall(trial, runtime.PanicError(r))
			b.record(resultError)

			panic(r)
		}
	}()

	value, opErr := b.run(ctx, op)

	b.afterCall(trial, opErr)

	switch {
	case opErr == nil:
		b.record(resultSuccess)

		return value, nil
	case errors.Is(opErr, ErrOperationTimeout):
		b.record(resultTimeout)

		return nil, opErr
	default:
		b.record(resultError)

		return nil, opErr
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// Stats returns a snapshot of the breaker without mutating it.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		State:         b.state,
		Failures:      b.failureCount,
		Successes:     b.successCount,
		TotalRequests: b.totalRequests,
		Uptime:        b.clock().Sub(b.createdAt),
	}
}

// Reset forces the breaker closed and clears the consecutive-failure count.
// Lifetime counters are preserved.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		b.transition(b.state, StateClosed)
	}

	b.failureCount = 0
}

// health classifies the breaker for the manager's health report.
func (b *Breaker) health() ServiceHealth {
	b.mu.Lock()
	defer b.mu.Unlock()

	status := HealthHealthy

	switch {
	case b.state == StateOpen:
		status = HealthFailed
	case b.state == StateHalfOpen:
		status = HealthDegraded
	case b.failureCount > 0 && b.recentFailure() && b.failureCount*2 >= b.config.FailureThreshold:
		status = HealthDegraded
	}

	return ServiceHealth{
		Name:     b.name,
		State:    b.state,
		Status:   status,
		Failures: b.failureCount,
	}
}

// recentFailure reports whether the last failure falls inside the
// monitoring period. A zero period counts every failure as recent.
// Callers must hold b.mu.
func (b *Breaker) recentFailure() bool {
	if b.config.MonitoringPeriod <= 0 {
		return true
	}

	return b.clock().Sub(b.lastFailureTime) <= b.config.MonitoringPeriod
}

// beforeCall admits or rejects a call and reports whether it is the
// half-open trial. The read-decide-mutate sequence holds the lock for its
// entire duration, so two racing callers can never both become the trial.
func (b *Breaker) beforeCall() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++

	switch b.state {
	case StateOpen:
		if b.clock().Sub(b.lastFailureTime) >= b.config.ResetTimeout {
			b.transition(StateOpen, StateHalfOpen)

			return true, nil
		}

		return false, fmt.Errorf("service %s is currently unavailable: %w", b.name, ErrCircuitOpen)
	case StateHalfOpen:
		// A trial is already in flight; reject until it settles.
		return false, fmt.Errorf("service %s is recovering: %w", b.name, ErrCircuitOpen)
	default:
		return false, nil
	}
}

// afterCall records the outcome of an admitted call.
func (b *Breaker) afterCall(trial bool, opErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if opErr == nil {
		b.successCount++
		b.failureCount = 0

		if b.state != StateClosed {
			b.transition(b.state, StateClosed)
		}

		return
	}

	b.failureCount++
	b.lastFailureTime = b.clock()

	switch {
	case trial:
		b.transition(StateHalfOpen, StateOpen)
	case b.state == StateClosed && b.failureCount >= b.config.FailureThreshold:
		b.transition(StateClosed, StateOpen)
	}
}

// run invokes the operation, racing it against the per-call timeout when one
// is configured. The operation's context is cancelled on timeout; a
// non-cooperative operation keeps running in the background with its result
// discarded.
func (b *Breaker) run(ctx context.Context, op Operation) (any, error) {
	if b.config.Timeout <= 0 {
		return op(ctx)
	}

	opCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}

	done := make(chan outcome, 1)

	go func() {
		// A panic here cannot reach the caller's recover and would abort
		// the process; surface it as an ordinary failure instead.
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: runtime.PanicError(r)}
			}
		}()

		value, err := op(opCtx)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-opCtx.Done():
		if err := ctx.Err(); err != nil {
			// The caller's own context ended first; propagate it as-is.
			return nil, err
		}

		return nil, fmt.Errorf("service %s exceeded timeout %s: %w", b.name, b.config.Timeout, ErrOperationTimeout)
	}
}

// transition moves the state machine and fires the manager hook.
// Callers must hold b.mu.
func (b *Breaker) transition(from, to State) {
	b.state = to

	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}

func (b *Breaker) record(result string) {
	if b.onExecution != nil {
		b.onExecution(result)
	}
}
