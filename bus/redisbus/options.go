package redisbus

import (
	"time"

	"go.uber.org/zap"
)

type Option func(*Bus)

func WithLogger(l *zap.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithPrefix namespaces every key the bus touches.
func WithPrefix(p string) Option {
	return func(b *Bus) {
		if p != "" {
			b.prefix = p
		}
	}
}

// WithGroup sets the consumer group used on every queue stream.
func WithGroup(g string) Option {
	return func(b *Bus) {
		if g != "" {
			b.group = g
		}
	}
}

// WithConsumerName names this process inside the group. A stable name lets a
// restarted worker pick up the deliveries it left unacknowledged.
func WithConsumerName(n string) Option {
	return func(b *Bus) {
		if n != "" {
			b.consumer = n
		}
	}
}

// WithStreamLength caps every queue stream to roughly n entries.
func WithStreamLength(n int64) Option {
	return func(b *Bus) {
		if n >= 0 {
			b.streamMaxLen = n
		}
	}
}

// WithPollBlock changes how long XREADGROUP blocks per round.
func WithPollBlock(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.pollBlock = d
		}
	}
}

// WithClaimIdle sets how long an entry may sit unacknowledged in another
// consumer's pending list before this consumer takes it over with
// XAUTOCLAIM. Handlers running longer than d can be executed twice. Zero
// turns claiming off.
func WithClaimIdle(d time.Duration) Option {
	return func(b *Bus) {
		if d >= 0 {
			b.claimIdle = d
		}
	}
}
