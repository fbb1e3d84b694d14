package circuitbreaker

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/praxislaw/lib-reliability/reliability/log"
)

var (
	// ErrInvalidHealthCheckInterval indicates that the health check interval must be positive.
	ErrInvalidHealthCheckInterval = errors.New("circuitbreaker: health check interval must be positive")
	// ErrInvalidHealthCheckTimeout indicates that the health check timeout must be positive.
	ErrInvalidHealthCheckTimeout = errors.New("circuitbreaker: health check timeout must be positive")
)

// HealthChecker periodically probes services whose breaker is not closed and
// resets the breaker once a probe succeeds, so recovery does not have to wait
// for live traffic to trickle through the half-open trial.
//
// It implements StateChangeListener: registering it with the manager makes an
// opening breaker trigger an immediate probe instead of waiting for the next
// tick.
type HealthChecker struct {
	manager        *Manager
	services       map[string]HealthCheckFunc
	interval       time.Duration
	checkTimeout   time.Duration // Timeout for individual probe operations
	logger         log.Logger
	stopChan       chan struct{}
	immediateCheck chan string
	wg             sync.WaitGroup
	mu             sync.RWMutex
}

// NewHealthChecker creates a health checker.
// interval: how often to run probes; checkTimeout: timeout per probe.
func NewHealthChecker(manager *Manager, interval, checkTimeout time.Duration, logger log.Logger) (*HealthChecker, error) {
	if interval <= 0 {
		return nil, ErrInvalidHealthCheckInterval
	}

	if checkTimeout <= 0 {
		return nil, ErrInvalidHealthCheckTimeout
	}

	return &HealthChecker{
		manager:        manager,
		services:       make(map[string]HealthCheckFunc),
		interval:       interval,
		checkTimeout:   checkTimeout,
		logger:         log.OrNop(logger),
		stopChan:       make(chan struct{}),
		immediateCheck: make(chan string, 10),
	}, nil
}

// Register adds a service probe.
func (hc *HealthChecker) Register(serviceName string, healthCheckFn HealthCheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.services[serviceName] = healthCheckFn
}

// Start begins the probe loop in a separate goroutine.
func (hc *HealthChecker) Start() {
	hc.wg.Add(1)

	go hc.loop()

	hc.logger.Log(context.Background(), log.LevelInfo, "health checker started",
		log.Any("interval", hc.interval))
}

// Stop gracefully stops the health checker.
func (hc *HealthChecker) Stop() {
	close(hc.stopChan)
	hc.wg.Wait()
	hc.logger.Log(context.Background(), log.LevelInfo, "health checker stopped")
}

func (hc *HealthChecker) loop() {
	defer hc.wg.Done()

	ticker := time.NewTicker(hc.interval)
	defer ticker.Stop()

	// Entering the select immediately keeps the checker responsive to
	// immediate probes from the moment it starts.
	for {
		select {
		case <-ticker.C:
			hc.probeAll()
		case serviceName := <-hc.immediateCheck:
			hc.probe(serviceName)
		case <-hc.stopChan:
			return
		}
	}
}

// probeAll probes every registered service whose breaker is not closed.
func (hc *HealthChecker) probeAll() {
	hc.mu.RLock()
	// Snapshot so probes run without holding the lock.
	services := make(map[string]HealthCheckFunc, len(hc.services))
	maps.Copy(services, hc.services)
	hc.mu.RUnlock()

	for serviceName := range services {
		if hc.manager.IsHealthy(serviceName) {
			continue
		}

		hc.probe(serviceName)
	}
}

// probe runs one service's health check and resets its breaker on success.
func (hc *HealthChecker) probe(serviceName string) {
	hc.mu.RLock()
	healthCheckFn, exists := hc.services[serviceName]
	hc.mu.RUnlock()

	if !exists {
		hc.logger.Log(context.Background(), log.LevelWarn, "no health check registered",
			log.String("service", serviceName))

		return
	}

	if hc.manager.IsHealthy(serviceName) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), hc.checkTimeout)
	err := healthCheckFn(ctx)

	cancel()

	if err == nil {
		hc.logger.Log(context.Background(), log.LevelInfo, "service recovered, resetting circuit breaker",
			log.String("service", serviceName))
		hc.manager.Reset(serviceName)

		return
	}

	hc.logger.Log(context.Background(), log.LevelWarn, "service still unhealthy",
		log.String("service", serviceName), log.Err(err), log.Any("retry_in", hc.interval))
}

// HealthStatus returns the current breaker state of every registered service.
func (hc *HealthChecker) HealthStatus() map[string]string {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	status := make(map[string]string, len(hc.services))

	for serviceName := range hc.services {
		status[serviceName] = string(hc.manager.GetState(serviceName))
	}

	return status
}

// OnStateChange implements StateChangeListener. An opening breaker schedules
// an immediate probe for its service.
func (hc *HealthChecker) OnStateChange(serviceName string, _ State, to State) {
	if to != StateOpen {
		return
	}

	// Non-blocking send to avoid deadlock when the channel is full.
	select {
	case hc.immediateCheck <- serviceName:
	default:
		hc.logger.Log(context.Background(), log.LevelWarn, "immediate check channel full, deferring to next interval",
			log.String("service", serviceName))
	}
}
