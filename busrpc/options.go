package busrpc

import (
	"time"

	"github.com/hashicorp/go-metrics"
	"go.uber.org/zap"
)

// DefaultQueue is the queue a consumer without an explicit queue is bound
// to, and the routing key a client uses when none is given.
const DefaultQueue = "default"

type ServerOption func(*Server)

func WithLogger(l *zap.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxJobs bounds how many handlers run at once across all queues.
func WithMaxJobs(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxJobs = n
		}
	}
}

// WithServerExchange sets the exchange queues are bound to and replies are
// published on.
func WithServerExchange(name string) ServerOption {
	return func(s *Server) { s.exchange = name }
}

func WithDefaultQueue(name string) ServerOption {
	return func(s *Server) {
		if name != "" {
			s.defaultQueue = name
		}
	}
}

// WithPrefetch bounds how many deliveries the connector fetches per round.
func WithPrefetch(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.prefetch = n
		}
	}
}

func WithMetricSink(ms metrics.MetricSink) ServerOption {
	return func(s *Server) {
		if ms != nil {
			s.sink = ms
		}
	}
}

// WithMiddleware appends handler middlewares, outermost first.
func WithMiddleware(mw ...Middleware) ServerOption {
	return func(s *Server) { s.middlewares = append(s.middlewares, mw...) }
}

type ClientOption func(*Client)

func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithClientMetricSink(ms metrics.MetricSink) ClientOption {
	return func(c *Client) {
		if ms != nil {
			c.sink = ms
		}
	}
}

// WithDefaultExchange sets the exchange used by calls without WithExchange.
func WithDefaultExchange(name string) ClientOption {
	return func(c *Client) { c.exchange = name }
}

// WithDefaultRoutingKey sets the routing key used by calls without
// WithRoutingKey. It defaults to DefaultQueue.
func WithDefaultRoutingKey(key string) ClientOption {
	return func(c *Client) {
		if key != "" {
			c.routingKey = key
		}
	}
}

// WithDefaultTimeout bounds every call that does not set its own timeout.
func WithDefaultTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d >= 0 {
			c.timeout, c.hasTimeout = d, true
		}
	}
}

// WithReconnectDelay sets the pause before the reply listener redeclares a
// lost reply queue.
func WithReconnectDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.reconnectDelay = d
		}
	}
}
