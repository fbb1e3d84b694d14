// Package reliability is the umbrella for the reliability primitives used
// around calls to flaky external services: circuit breakers, retry with
// exponential backoff, policy-based command authorization, and a command
// bus, plus the logging, metrics, and server plumbing they share.
//
// Construct the pieces once at the composition root and inject them:
//
//	logger, _ := zap.New(log.LevelInfo)
//	manager, _ := circuitbreaker.NewManager(logger)
//	retrier, _ := retry.New(retry.AIProviderConfig(), logger)
//	policies := policy.NewService(logger)
//	bus := commandbus.New(logger)
//
// Specialized concerns live in subpackages: circuitbreaker, retry, policy,
// commandbus, backoff, log, zap, metrics, runtime, and server.
package reliability
