// Package runtime provides panic-safe goroutine helpers. Background
// goroutines launched through SafeGo log recovered panics with a stack
// trace instead of crashing the process.
package runtime

import (
	"context"
	"fmt"
	rt "runtime/debug"

	"github.com/praxislaw/lib-reliability/reliability/log"
)

// maxStackLen bounds the stack trace attached to a panic log entry.
const maxStackLen = 4096

// SafeGo runs fn in a new goroutine, recovering and logging any panic.
// component and operation name the goroutine in the panic log entry.
func SafeGo(ctx context.Context, logger log.Logger, component, operation string, fn func(ctx context.Context)) {
	logger = log.OrNop(logger)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				HandlePanicValue(ctx, logger, r, component, operation)
			}
		}()

		fn(ctx)
	}()
}

// HandlePanicValue logs a recovered panic value with its stack trace. Call
// it from a deferred recover when SafeGo's goroutine ownership does not fit.
func HandlePanicValue(ctx context.Context, logger log.Logger, panicValue any, component, operation string) {
	logger = log.OrNop(logger)

	stack := string(rt.Stack())
	if len(stack) > maxStackLen {
		stack = stack[:maxStackLen] + "\n...[truncated]"
	}

	logger.Log(ctx, log.LevelError, "panic recovered",
		log.String("component", component),
		log.String("operation", operation),
		log.Err(PanicError(panicValue)),
		log.String("stack", stack))
}

// PanicError converts a panic value into an error, preserving values that
// already are one.
func PanicError(panicValue any) error {
	switch v := panicValue.(type) {
	case error:
		return v
	case nil:
		return fmt.Errorf("panic: <nil>")
	default:
		return fmt.Errorf("panic: %v", v)
	}
}
