package circuitbreaker

import (
	"fmt"
	"time"
)

// Config holds circuit breaker configuration. Configs are immutable once a
// breaker is created.
type Config struct {
	FailureThreshold uint32        // Consecutive failures that trip the breaker open
	ResetTimeout     time.Duration // Wait after the last failure before a half-open trial
	Timeout          time.Duration // Per-call operation timeout; 0 disables it
	MonitoringPeriod time.Duration // Window in which failures count as "recent" for health classification; 0 means always
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.FailureThreshold == 0 {
		return fmt.Errorf("%w: FailureThreshold must be at least 1", ErrInvalidConfig)
	}

	if c.ResetTimeout <= 0 {
		return fmt.Errorf("%w: ResetTimeout must be positive", ErrInvalidConfig)
	}

	if c.Timeout < 0 {
		return fmt.Errorf("%w: Timeout must not be negative", ErrInvalidConfig)
	}

	if c.MonitoringPeriod < 0 {
		return fmt.Errorf("%w: MonitoringPeriod must not be negative", ErrInvalidConfig)
	}

	return nil
}

// DefaultConfig provides balanced settings for most services.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		Timeout:          10 * time.Second,
		MonitoringPeriod: 2 * time.Minute,
	}
}

// AggressiveConfig for services requiring fast failure detection.
func AggressiveConfig() Config {
	return Config{
		FailureThreshold: 3,
		ResetTimeout:     10 * time.Second,
		Timeout:          5 * time.Second,
		MonitoringPeriod: time.Minute,
	}
}

// ConservativeConfig for services that should tolerate more failures before
// tripping.
func ConservativeConfig() Config {
	return Config{
		FailureThreshold: 10,
		ResetTimeout:     time.Minute,
		Timeout:          30 * time.Second,
		MonitoringPeriod: 5 * time.Minute,
	}
}

// AIProviderConfig is tuned for interactive AI completions: providers fail
// in bursts and recover quickly, so the breaker trips early and probes soon.
func AIProviderConfig() Config {
	return Config{
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
		Timeout:          2 * time.Minute,
		MonitoringPeriod: 5 * time.Minute,
	}
}

// DocumentAnalysisConfig is tuned for long-running contract and document
// analysis jobs, which legitimately take minutes per call.
func DocumentAnalysisConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     2 * time.Minute,
		Timeout:          5 * time.Minute,
		MonitoringPeriod: 10 * time.Minute,
	}
}
