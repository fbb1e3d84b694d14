package server

import (
	"github.com/gofiber/fiber/v2"

	"github.com/praxislaw/lib-reliability/reliability/circuitbreaker"
	"github.com/praxislaw/lib-reliability/reliability/commandbus"
	"github.com/praxislaw/lib-reliability/reliability/log"
	"github.com/praxislaw/lib-reliability/reliability/policy"
)

// Diagnostics exposes the reliability layer's health and statistics over
// HTTP for dashboards and readiness probes.
type Diagnostics struct {
	manager *circuitbreaker.Manager
	policy  *policy.Service
	bus     *commandbus.Bus
	logger  log.Logger
}

// DiagnosticsOption configures a Diagnostics instance.
type DiagnosticsOption func(*Diagnostics)

// WithPolicyService includes policy evaluation statistics in /stats.
func WithPolicyService(svc *policy.Service) DiagnosticsOption {
	return func(d *Diagnostics) {
		d.policy = svc
	}
}

// WithCommandBus includes registered command names in /stats.
func WithCommandBus(bus *commandbus.Bus) DiagnosticsOption {
	return func(d *Diagnostics) {
		d.bus = bus
	}
}

// NewDiagnostics creates the diagnostics surface over the given breaker
// manager. Policy and command bus views are optional.
func NewDiagnostics(manager *circuitbreaker.Manager, logger log.Logger, opts ...DiagnosticsOption) *Diagnostics {
	d := &Diagnostics{
		manager: manager,
		logger:  log.OrNop(logger),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// App builds the fiber application serving the diagnostics routes.
func (d *Diagnostics) App() *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Get("/health", d.handleHealth)
	app.Get("/stats", d.handleStats)

	return app
}

// healthResponse is the /health payload.
type healthResponse struct {
	Status   string                         `json:"status"`
	Healthy  int                            `json:"healthy"`
	Degraded int                            `json:"degraded"`
	Failed   int                            `json:"failed"`
	Services []circuitbreaker.ServiceHealth `json:"services"`
}

// handleHealth reports the breaker health buckets. Any failed service makes
// the endpoint return 503 so load balancers stop routing traffic here.
func (d *Diagnostics) handleHealth(c *fiber.Ctx) error {
	report := d.manager.HealthReport()

	status := "ok"
	code := fiber.StatusOK

	switch {
	case report.Failed > 0:
		status = "unhealthy"
		code = fiber.StatusServiceUnavailable
	case report.Degraded > 0:
		status = "degraded"
	}

	return c.Status(code).JSON(healthResponse{
		Status:   status,
		Healthy:  report.Healthy,
		Degraded: report.Degraded,
		Failed:   report.Failed,
		Services: report.Services,
	})
}

// statsResponse is the /stats payload.
type statsResponse struct {
	Breakers circuitbreaker.AggregateStats `json:"breakers"`
	Policy   *policy.Stats                 `json:"policy,omitempty"`
	Commands []string                      `json:"commands,omitempty"`
}

func (d *Diagnostics) handleStats(c *fiber.Ctx) error {
	resp := statsResponse{Breakers: d.manager.AggregateStats()}

	if d.policy != nil {
		stats := d.policy.Stats()
		resp.Policy = &stats
	}

	if d.bus != nil {
		resp.Commands = d.bus.RegisteredCommands()
	}

	return c.JSON(resp)
}
