package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/praxislaw/lib-reliability/reliability/log"
	"github.com/praxislaw/lib-reliability/reliability/runtime"
)

// ErrNoServersConfigured indicates no servers were configured for the manager.
var ErrNoServersConfigured = errors.New("no servers configured: use WithHTTPServer()")

// ServerManager handles the graceful shutdown of HTTP servers.
type ServerManager struct {
	httpServer         *fiber.App
	logger             log.Logger
	httpAddress        string
	serversStarted     chan struct{}
	serversStartedOnce sync.Once
	shutdownChan       <-chan struct{}
	shutdownOnce       sync.Once
	shutdownTimeout    time.Duration
	startupErrors      chan error
	onShutdown         []func()
}

// NewServerManager creates a new instance of ServerManager.
// If logger is nil, a no-op logger is used to ensure nil-safe operation
// throughout the server lifecycle.
func NewServerManager(logger log.Logger) *ServerManager {
	return &ServerManager{
		logger:          log.OrNop(logger),
		serversStarted:  make(chan struct{}),
		shutdownTimeout: 30 * time.Second,
		startupErrors:   make(chan error, 1),
	}
}

// WithHTTPServer configures the HTTP server for the ServerManager.
func (sm *ServerManager) WithHTTPServer(app *fiber.App, address string) *ServerManager {
	sm.httpServer = app
	sm.httpAddress = address

	return sm
}

// WithShutdownChannel configures a custom shutdown channel for the ServerManager.
// This allows tests to trigger shutdown deterministically instead of relying on OS signals.
func (sm *ServerManager) WithShutdownChannel(ch <-chan struct{}) *ServerManager {
	sm.shutdownChan = ch

	return sm
}

// WithShutdownTimeout configures the maximum duration to wait for the HTTP
// server to drain in-flight requests before giving up. Defaults to 30 seconds.
func (sm *ServerManager) WithShutdownTimeout(d time.Duration) *ServerManager {
	sm.shutdownTimeout = d

	return sm
}

// OnShutdown registers a hook to run during shutdown, after the HTTP server
// has stopped. Hooks run in registration order. Use this to stop background
// components such as a health checker.
func (sm *ServerManager) OnShutdown(hook func()) *ServerManager {
	if hook != nil {
		sm.onShutdown = append(sm.onShutdown, hook)
	}

	return sm
}

// ServersStarted returns a channel that is closed when server goroutines have been launched.
// Note: This signals that goroutines were spawned, not that sockets are bound and ready to accept connections.
// This is useful for tests to coordinate shutdown timing after server launch.
func (sm *ServerManager) ServersStarted() <-chan struct{} {
	return sm.serversStarted
}

func (sm *ServerManager) validateConfiguration() error {
	if sm.httpServer == nil {
		return ErrNoServersConfigured
	}

	return nil
}

// initServers validates configuration and starts servers without blocking.
func (sm *ServerManager) initServers() error {
	if sm.serversStarted == nil {
		sm.serversStarted = make(chan struct{})
	}

	if err := sm.validateConfiguration(); err != nil {
		return err
	}

	sm.startServers()

	return nil
}

// StartWithGracefulShutdown validates configuration and starts the servers.
// It blocks until a termination signal arrives, the shutdown channel is
// closed, or a server fails to start, then runs the shutdown sequence.
func (sm *ServerManager) StartWithGracefulShutdown() error {
	if err := sm.initServers(); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			runtime.HandlePanicValue(context.Background(), sm.logger, r, "server", "StartWithGracefulShutdown")
			sm.executeShutdown()
		}
	}()

	sm.handleShutdown()

	return nil
}

// startServers launches the configured server goroutines.
func (sm *ServerManager) startServers() {
	runtime.SafeGo(context.Background(), sm.logger, "server", "start_http_server", func(ctx context.Context) {
		sm.logger.Log(ctx, log.LevelInfo, "starting HTTP server",
			log.String("address", sm.httpAddress))

		if err := sm.httpServer.Listen(sm.httpAddress); err != nil {
			sm.logger.Log(ctx, log.LevelError, "HTTP server error", log.Err(err))

			select {
			case sm.startupErrors <- fmt.Errorf("HTTP server: %w", err):
			default:
			}
		}
	})

	// Signal that server goroutines have been launched (not that sockets are bound).
	sm.serversStartedOnce.Do(func() {
		close(sm.serversStarted)
	})
}

// handleShutdown blocks until a shutdown trigger fires, then executes the
// shutdown sequence.
func (sm *ServerManager) handleShutdown() {
	ctx := context.Background()

	if sm.shutdownChan != nil {
		select {
		case <-sm.shutdownChan:
		case err := <-sm.startupErrors:
			sm.logger.Log(ctx, log.LevelError, "server startup failed", log.Err(err))
		}
	} else {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)

		select {
		case <-c:
			signal.Stop(c)
		case err := <-sm.startupErrors:
			sm.logger.Log(ctx, log.LevelError, "server startup failed", log.Err(err))
		}
	}

	sm.logger.Log(ctx, log.LevelInfo, "gracefully shutting down all servers")

	sm.executeShutdown()
}

// executeShutdown performs the actual shutdown operations in order.
// It is idempotent: only the first invocation executes the sequence.
func (sm *ServerManager) executeShutdown() {
	sm.shutdownOnce.Do(func() {
		ctx := context.Background()

		// Non-blocking read so a panic before startServers() completed does
		// not deadlock the shutdown path.
		select {
		case <-sm.serversStarted:
		default:
			sm.logger.Log(ctx, log.LevelInfo, "shutdown initiated before servers were fully started")
		}

		if sm.httpServer != nil {
			sm.logger.Log(ctx, log.LevelInfo, "shutting down HTTP server")

			if err := sm.httpServer.ShutdownWithTimeout(sm.shutdownTimeout); err != nil {
				sm.logger.Log(ctx, log.LevelError, "error during HTTP server shutdown", log.Err(err))
			}
		}

		for _, hook := range sm.onShutdown {
			hook()
		}

		if err := sm.logger.Sync(ctx); err != nil {
			sm.logger.Log(ctx, log.LevelError, "failed to sync logger", log.Err(err))
		}

		sm.logger.Log(ctx, log.LevelInfo, "graceful shutdown completed")
	})
}
