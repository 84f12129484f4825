package busrpc

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrHandlerTimedOut = errors.New("request timed out")
)

// Middleware wraps a handler.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so that the first one runs outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// Logging logs every call with its duration.
func Logging(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(c *Context) (any, error) {
			start := time.Now()
			v, err := next(c)
			fields := []zap.Field{LabelConsumer.L(c.Consumer()), zap.Duration("duration", time.Since(start))}
			if err != nil {
				logger.Info("call failed", append(fields, zap.Error(err))...)
			} else {
				logger.Info("call served", fields...)
			}
			return v, err
		}
	}
}

// Timeout fails the call with ErrHandlerTimedOut once d elapsed. The handler
// keeps running in the background with a cancelled context; the reply goes
// out right away, but the server's job slot stays taken until the handler
// returns, so abandoned handlers still count against WithMaxJobs.
func Timeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(c *Context) (any, error) {
			ctx, cancel := context.WithTimeout(c.ctx, d)
			defer cancel()

			inner := *c
			inner.ctx = ctx

			type result struct {
				v   any
				err error
			}
			done := make(chan result, 1)
			exited := make(chan struct{})
			go func() {
				defer close(exited)
				v, err := safeCall(next, &inner)
				done <- result{v, err}
			}()

			select {
			case r := <-done:
				return r.v, r.err
			case <-ctx.Done():
				c.linger.add(exited)
				return nil, ErrHandlerTimedOut
			}
		}
	}
}

// lingerSet collects handler goroutines that outlived their call.
type lingerSet struct {
	mu    sync.Mutex
	chans []<-chan struct{}
}

func (l *lingerSet) add(ch <-chan struct{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.chans = append(l.chans, ch)
	l.mu.Unlock()
}

// wait blocks until every collected goroutine returned.
func (l *lingerSet) wait() {
	if l == nil {
		return
	}
	l.mu.Lock()
	chans := l.chans
	l.chans = nil
	l.mu.Unlock()
	for _, ch := range chans {
		<-ch
	}
}

// RateLimit admits r calls per second with the given burst, shared by every
// consumer it wraps. Calls over the limit fail with ErrRateLimited.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(c *Context) (any, error) {
			if !limiter.Allow() {
				return nil, ErrRateLimited
			}
			return next(c)
		}
	}
}
