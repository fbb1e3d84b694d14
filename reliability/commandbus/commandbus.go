// Package commandbus dispatches typed commands to registered handlers.
//
// The bus is deliberately policy-agnostic: callers authorize through the
// policy service before dispatching, which keeps the bus reusable for
// internal commands that carry no actor.
package commandbus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/praxislaw/lib-reliability/reliability/log"
	"github.com/praxislaw/lib-reliability/reliability/metrics"
)

var (
	// ErrNoHandler indicates that no handler is registered for a command.
	ErrNoHandler = errors.New("commandbus: no handler registered")
	// ErrNilHandler indicates an attempt to register a nil handler.
	ErrNilHandler = errors.New("commandbus: handler must not be nil")
	// ErrNilCommand indicates an attempt to execute a nil command.
	ErrNilCommand = errors.New("commandbus: command must not be nil")
)

// Command is a unit of work dispatched through the bus. Names follow the
// "<Action><Resource>Command" convention, e.g. "CreateClientCommand".
type Command interface {
	CommandName() string
}

// completable lets the bus stamp execution on commands embedding Base
// without exposing the mutation to handlers.
type completable interface {
	markExecuted(at time.Time)
}

// Base carries the identity and lifecycle timestamps shared by all
// commands. Embed it in command structs and construct it with NewBase.
type Base struct {
	ID         string     `json:"id"`
	CreatedAt  time.Time  `json:"created_at"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
}

// NewBase creates a command base with a fresh ID and creation timestamp.
func NewBase() Base {
	return Base{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
	}
}

func (b *Base) markExecuted(at time.Time) {
	b.ExecutedAt = &at
}

// Handler executes one kind of command.
type Handler interface {
	Handle(ctx context.Context, cmd Command) (any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, cmd Command) (any, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, cmd Command) (any, error) {
	return f(ctx, cmd)
}

// Bus routes commands to handlers by command name.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]Handler

	logger         log.Logger
	metricsFactory *metrics.Factory
	clock          func() time.Time
}

// Option configures a Bus.
type Option func(*Bus)

// WithMetricsFactory installs a metrics factory for execution counters and
// duration histograms. A nil factory disables metrics.
func WithMetricsFactory(factory *metrics.Factory) Option {
	return func(b *Bus) {
		b.metricsFactory = factory
	}
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(b *Bus) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// New creates an empty command bus.
func New(logger log.Logger, opts ...Option) *Bus {
	b := &Bus{
		handlers: make(map[string]Handler),
		logger:   log.OrNop(logger),
		clock:    time.Now,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Register associates a command name with a handler. Registering the same
// name again replaces the prior handler.
func (b *Bus) Register(commandName string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("%w: command %s", ErrNilHandler, commandName)
	}

	b.mu.Lock()
	_, replacing := b.handlers[commandName]
	b.handlers[commandName] = handler
	b.mu.Unlock()

	b.logger.Log(context.Background(), log.LevelInfo, "registered command handler",
		log.String("command", commandName),
		log.Bool("replaced", replacing))

	return nil
}

// Execute dispatches the command to its registered handler.
//
// On success the command's execution timestamp is stamped (when it embeds
// Base) and the handler's result is returned. On failure the handler's
// error propagates unchanged and the timestamp stays unset.
func (b *Bus) Execute(ctx context.Context, cmd Command) (any, error) {
	if cmd == nil {
		return nil, ErrNilCommand
	}

	name := cmd.CommandName()

	b.mu.RLock()
	handler, exists := b.handlers[name]
	b.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: command %s", ErrNoHandler, name)
	}

	start := b.clock()
	result, err := handler.Handle(ctx, cmd)
	elapsed := b.clock().Sub(start)

	if err != nil {
		b.logger.Log(ctx, log.LevelError, "command failed",
			log.String("command", name),
			log.Any("duration", elapsed),
			log.Err(err))
		b.recordExecution(name, "error", elapsed)

		return nil, err
	}

	if c, ok := cmd.(completable); ok {
		c.markExecuted(b.clock())
	}

	b.logger.Log(ctx, log.LevelDebug, "command executed",
		log.String("command", name),
		log.Any("duration", elapsed))
	b.recordExecution(name, "success", elapsed)

	return result, nil
}

// RegisteredCommands returns the registered command names, sorted. For
// diagnostics and tests.
func (b *Bus) RegisteredCommands() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.handlers))
	for name := range b.handlers {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// recordExecution emits the execution counter and duration histogram.
// No-op without a metrics factory.
func (b *Bus) recordExecution(commandName, result string, elapsed time.Duration) {
	if b.metricsFactory == nil {
		return
	}

	labels := map[string]string{
		"command": commandName,
		"result":  result,
	}

	if counter, err := b.metricsFactory.Counter(metrics.MetricCommandsExecuted); err == nil {
		_ = counter.WithLabels(labels).AddOne(context.Background())
	}

	if histogram, err := b.metricsFactory.Histogram(metrics.MetricCommandDuration); err == nil {
		_ = histogram.WithLabels(labels).Record(context.Background(), elapsed.Milliseconds())
	}
}
