package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/praxislaw/lib-reliability/reliability/log"
	"github.com/praxislaw/lib-reliability/reliability/metrics"
)

// Manager owns one breaker per named external service. Callers only ever
// obtain breaker references through the manager, and the registry is
// identity-stable: the same name always yields the same instance.
type Manager struct {
	mu        sync.RWMutex
	breakers  map[string]*Breaker
	listeners []StateChangeListener

	logger         log.Logger
	metricsFactory *metrics.Factory
	clock          func() time.Time
	defaultConfig  Config
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetricsFactory installs a metrics factory for execution and
// state-transition counters. A nil factory disables metrics.
func WithMetricsFactory(factory *metrics.Factory) Option {
	return func(m *Manager) {
		m.metricsFactory = factory
	}
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithDefaultConfig overrides the configuration used by GetCircuitBreaker
// when it creates a breaker lazily.
func WithDefaultConfig(config Config) Option {
	return func(m *Manager) {
		m.defaultConfig = config
	}
}

// NewManager creates a new circuit breaker manager.
func NewManager(logger log.Logger, opts ...Option) (*Manager, error) {
	m := &Manager{
		breakers:      make(map[string]*Breaker),
		listeners:     make([]StateChangeListener, 0),
		logger:        log.OrNop(logger),
		clock:         time.Now,
		defaultConfig: DefaultConfig(),
	}

	for _, opt := range opts {
		opt(m)
	}

	if err := m.defaultConfig.Validate(); err != nil {
		return nil, err
	}

	return m, nil
}

// GetCircuitBreaker returns the breaker for the service, creating it with
// the manager's default configuration on first reference. Safe under
// concurrent first access: exactly one instance ever exists per name.
func (m *Manager) GetCircuitBreaker(serviceName string) *Breaker {
	m.mu.RLock()
	breaker, exists := m.breakers[serviceName]
	m.mu.RUnlock()

	if exists {
		return breaker
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring the write lock.
	if breaker, exists = m.breakers[serviceName]; exists {
		return breaker
	}

	return m.createLocked(serviceName, m.defaultConfig)
}

// GetOrCreate returns the existing breaker for the service or creates one
// with the given configuration. An existing breaker keeps its original
// configuration.
func (m *Manager) GetOrCreate(serviceName string, config Config) (*Breaker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	breaker, exists := m.breakers[serviceName]
	m.mu.RUnlock()

	if exists {
		return breaker, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if breaker, exists = m.breakers[serviceName]; exists {
		return breaker, nil
	}

	return m.createLocked(serviceName, config), nil
}

// createLocked builds a breaker and wires its manager hooks.
// Callers must hold m.mu for writing.
func (m *Manager) createLocked(serviceName string, config Config) *Breaker {
	breaker := newBreaker(serviceName, config, m.clock)
	breaker.onStateChange = func(from, to State) {
		m.handleStateChange(serviceName, from, to)
	}
	breaker.onExecution = func(result string) {
		m.recordExecution(serviceName, result)
	}

	m.breakers[serviceName] = breaker

	m.logger.Log(context.Background(), log.LevelInfo, "created circuit breaker",
		log.String("service", serviceName))

	return breaker
}

// Execute runs a function through the named service's breaker. The breaker
// must have been created first via GetCircuitBreaker or GetOrCreate.
func (m *Manager) Execute(ctx context.Context, serviceName string, op Operation) (any, error) {
	m.mu.RLock()
	breaker, exists := m.breakers[serviceName]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: service %s (call GetOrCreate first)", ErrBreakerNotFound, serviceName)
	}

	result, err := breaker.Execute(ctx, op)
	if err != nil && errors.Is(err, ErrCircuitOpen) {
		m.logger.Log(ctx, log.LevelWarn, "request rejected by open circuit breaker",
			log.String("service", serviceName))
	}

	return result, err
}

// GetState returns the named breaker's state, or StateUnknown for services
// the manager has never seen.
func (m *Manager) GetState(serviceName string) State {
	m.mu.RLock()
	breaker, exists := m.breakers[serviceName]
	m.mu.RUnlock()

	if !exists {
		return StateUnknown
	}

	return breaker.State()
}

// IsHealthy returns true only when the breaker exists and is closed.
func (m *Manager) IsHealthy(serviceName string) bool {
	return m.GetState(serviceName) == StateClosed
}

// Reset forces the named breaker closed. The instance is reset in place so
// held references stay valid.
func (m *Manager) Reset(serviceName string) {
	m.mu.RLock()
	breaker, exists := m.breakers[serviceName]
	m.mu.RUnlock()

	if !exists {
		return
	}

	m.logger.Log(context.Background(), log.LevelInfo, "resetting circuit breaker",
		log.String("service", serviceName))

	breaker.Reset()
}

// AggregateStats sums snapshots across all managed breakers. Pure read with
// snapshot semantics; services are sorted by name.
func (m *Manager) AggregateStats() AggregateStats {
	breakers := m.snapshot()

	agg := AggregateStats{
		TotalServices: len(breakers),
		Services:      make([]ServiceStats, 0, len(breakers)),
	}

	for _, breaker := range breakers {
		stats := breaker.Stats()
		agg.TotalRequests += stats.TotalRequests
		agg.TotalSuccesses += stats.Successes
		agg.Services = append(agg.Services, ServiceStats{Name: breaker.Name(), Stats: stats})
	}

	sort.Slice(agg.Services, func(i, j int) bool { return agg.Services[i].Name < agg.Services[j].Name })

	return agg
}

// UnhealthyServices returns the services whose breaker is not closed,
// sorted by name.
func (m *Manager) UnhealthyServices() []ServiceStatus {
	breakers := m.snapshot()

	unhealthy := make([]ServiceStatus, 0)

	for _, breaker := range breakers {
		if state := breaker.State(); state != StateClosed {
			unhealthy = append(unhealthy, ServiceStatus{Name: breaker.Name(), State: state})
		}
	}

	sort.Slice(unhealthy, func(i, j int) bool { return unhealthy[i].Name < unhealthy[j].Name })

	return unhealthy
}

// HealthReport classifies every managed service into healthy, degraded, and
// failed buckets. Open breakers are failed; half-open breakers and closed
// breakers with recent failures at or above half their threshold are
// degraded.
func (m *Manager) HealthReport() HealthReport {
	breakers := m.snapshot()

	report := HealthReport{Services: make([]ServiceHealth, 0, len(breakers))}

	for _, breaker := range breakers {
		health := breaker.health()
		report.Services = append(report.Services, health)

		switch health.Status {
		case HealthFailed:
			report.Failed++
		case HealthDegraded:
			report.Degraded++
		default:
			report.Healthy++
		}
	}

	sort.Slice(report.Services, func(i, j int) bool { return report.Services[i].Name < report.Services[j].Name })

	return report
}

// RegisterStateChangeListener registers a listener for state change
// notifications. Nil listeners are ignored.
func (m *Manager) RegisterStateChangeListener(listener StateChangeListener) {
	if listener == nil {
		m.logger.Log(context.Background(), log.LevelWarn, "ignored nil state change listener")

		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.listeners = append(m.listeners, listener)
}

// snapshot copies the breaker set so iteration never holds the registry lock.
func (m *Manager) snapshot() []*Breaker {
	m.mu.RLock()
	defer m.mu.RUnlock()

	breakers := make([]*Breaker, 0, len(m.breakers))
	for _, breaker := range m.breakers {
		breakers = append(breakers, breaker)
	}

	return breakers
}

// handleStateChange logs the transition, records it, and notifies listeners.
func (m *Manager) handleStateChange(serviceName string, from, to State) {
	ctx := context.Background()

	switch to {
	case StateOpen:
		m.logger.Log(ctx, log.LevelError, "circuit breaker opened, requests will fast-fail",
			log.String("service", serviceName), log.String("from", string(from)))
	case StateHalfOpen:
		m.logger.Log(ctx, log.LevelInfo, "circuit breaker half-open, testing service recovery",
			log.String("service", serviceName))
	case StateClosed:
		m.logger.Log(ctx, log.LevelInfo, "circuit breaker closed, service is healthy",
			log.String("service", serviceName), log.String("from", string(from)))
	}

	m.recordStateTransition(serviceName, from, to)

	m.mu.RLock()
	listeners := make([]StateChangeListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.RUnlock()

	for _, listener := range listeners {
		// Notify in a goroutine so a slow or panicking listener cannot block
		// breaker operations.
		go func(l StateChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Log(context.Background(), log.LevelError, "state change listener panicked",
						log.String("service", serviceName), log.Any("panic", r))
				}
			}()

			l.OnStateChange(serviceName, from, to)
		}(listener)
	}
}

// recordStateTransition emits the transition counter. No-op without a
// metrics factory.
func (m *Manager) recordStateTransition(serviceName string, from, to State) {
	if m.metricsFactory == nil {
		return
	}

	counter, err := m.metricsFactory.Counter(metrics.MetricBreakerTransitions)
	if err != nil {
		return
	}

	_ = counter.WithLabels(map[string]string{
		"service":    serviceName,
		"from_state": string(from),
		"to_state":   string(to),
	}).AddOne(context.Background())
}

// recordExecution emits the execution counter. No-op without a metrics
// factory.
func (m *Manager) recordExecution(serviceName, result string) {
	if m.metricsFactory == nil {
		return
	}

	counter, err := m.metricsFactory.Counter(metrics.MetricBreakerExecutions)
	if err != nil {
		return
	}

	_ = counter.WithLabels(map[string]string{
		"service": serviceName,
		"result":  result,
	}).AddOne(context.Background())
}
