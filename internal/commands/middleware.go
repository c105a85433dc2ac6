package commands

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "streamhub/pkg/logx"
)

// HandlerFunc runs an accepted command. The returned text replaces the
// catalog template; an empty result with a nil error keeps the template.
type HandlerFunc func(ctx context.Context, c *Context) (string, error)

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, c *Context) (string, error) {
			if d <= 0 {
				return next(ctx, c)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, c)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, c *Context) (out string, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if c != nil && !c.Logger.IsZero() {
						logger = c.Logger
					}
					logger.Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					out, err = "", fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, c)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, c *Context) (string, error) {
			start := time.Now()
			logger := log
			if !c.Logger.IsZero() {
				logger = c.Logger
			}
			out, err := next(ctx, c)
			d := time.Since(start)

			fields := []logx.Field{
				logx.String("cmd", c.Name),
				logx.String("sender", c.Sender.Name),
				logx.Duration("dur", d),
			}
			if err != nil {
				logger.Warn("command failed", append(fields, logx.Err(err))...)
			} else if d >= 750*time.Millisecond {
				// Keep INFO useful: short successful commands go to DEBUG.
				logger.Info("command ok", fields...)
			} else {
				logger.Debug("command ok", fields...)
			}
			return out, err
		}
	}
}
