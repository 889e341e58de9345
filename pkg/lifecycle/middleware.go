package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Body is a test body. It runs between SetUp and TearDown with the case
// fully set up.
type Body func(ctx context.Context, c *Case) error

// Middleware wraps a Body, returning a new Body with added behaviour.
type Middleware func(next Body) Body

// Chain applies middlewares so that the first one is outermost.
func Chain(body Body, mws ...Middleware) Body {
	for i := len(mws) - 1; i >= 0; i-- {
		body = mws[i](body)
	}
	return body
}

// --- Timeout middleware ---

// Timeout returns a Middleware that bounds the body's context with a deadline.
func Timeout(d time.Duration) Middleware {
	return func(next Body) Body {
		return func(ctx context.Context, c *Case) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			return next(ctx, c)
		}
	}
}

// --- Recovery middleware ---

// Recovery returns a Middleware that catches panics and converts them to errors.
func Recovery() Middleware {
	return func(next Body) Body {
		return func(ctx context.Context, c *Case) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("test panicked: %v", r)
				}
			}()

			return next(ctx, c)
		}
	}
}

// --- Logger middleware ---

// Logger returns a Middleware that logs test start, duration, and error.
func Logger(log *slog.Logger) Middleware {
	return func(next Body) Body {
		return func(ctx context.Context, c *Case) error {
			log.InfoContext(ctx, "test started", "test", c.Name())

			start := time.Now()
			err := next(ctx, c)
			duration := time.Since(start)

			if err != nil {
				log.ErrorContext(ctx, "test failed",
					"test", c.Name(),
					"duration", duration,
					"error", err,
				)
			} else {
				log.InfoContext(ctx, "test passed",
					"test", c.Name(),
					"duration", duration,
				)
			}

			return err
		}
	}
}
