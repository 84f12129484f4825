// Package redisbus runs the bus.Connector contract on Redis Streams.
//
// Every queue is a stream with a single consumer group, which gives durable
// storage, competing consumers and an acknowledgment set (the PEL). An
// exchange is a set of queue names per routing key; the empty exchange routes
// straight to the queue named by the routing key.
package redisbus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mrjvadi/busrpc/bus"
)

const headerFieldPrefix = "h:"

// Bus is a bus.Connector backed by a go-redis client. The client is owned by
// the caller.
type Bus struct {
	rdb          *redis.Client
	prefix       string
	group        string
	consumer     string
	pollBlock    time.Duration
	claimIdle    time.Duration
	streamMaxLen int64
	logger       *zap.Logger
}

var _ bus.Connector = (*Bus)(nil)

func New(client *redis.Client, options ...Option) *Bus {
	b := &Bus{
		rdb:       client,
		prefix:    "busrpc",
		group:     "busrpc",
		consumer:  defaultConsumerName(),
		pollBlock: 2 * time.Second,
		claimIdle: time.Minute,
		logger:    zap.NewNop(),
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

func (b *Bus) queueKeyPrefix() string { return b.prefix + ":q:" }

func (b *Bus) queueKey(name string) string { return b.queueKeyPrefix() + name }

func (b *Bus) bindingKey(exchange, routingKey string) string {
	return b.prefix + ":x:" + exchange + ":" + routingKey
}

// exchangesKey lists the exchanges a queue is bound to, for DeleteQueue.
func (b *Bus) exchangesKey(name string) string { return b.prefix + ":b:" + name }

func (b *Bus) DeclareQueue(ctx context.Context, spec bus.QueueSpec) error {
	if spec.Name == "" {
		return errors.New("redisbus: empty queue name")
	}
	// Streams are always persisted; Durable needs nothing extra here.
	err := b.rdb.XGroupCreateMkStream(ctx, b.queueKey(spec.Name), b.group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("redisbus: declare %q: %w", spec.Name, err)
	}
	if spec.Exchange != "" {
		_, err := b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.SAdd(ctx, b.bindingKey(spec.Exchange, spec.Name), spec.Name)
			p.SAdd(ctx, b.exchangesKey(spec.Name), spec.Exchange)
			return nil
		})
		if err != nil {
			return fmt.Errorf("redisbus: bind %q to %q: %w", spec.Name, spec.Exchange, err)
		}
	}
	return nil
}

func (b *Bus) DeclareReplyQueue(ctx context.Context, exchange string) (string, error) {
	name := bus.NewReplyQueueName()
	if err := b.DeclareQueue(ctx, bus.QueueSpec{Name: name, Exchange: exchange}); err != nil {
		return "", err
	}
	return name, nil
}

// DeleteQueue drops the stream and every binding of the queue.
func (b *Bus) DeleteQueue(ctx context.Context, name string) error {
	exchanges, err := b.rdb.SMembers(ctx, b.exchangesKey(name)).Result()
	if err != nil {
		return fmt.Errorf("redisbus: delete %q: %w", name, err)
	}
	_, err = b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, ex := range exchanges {
			p.SRem(ctx, b.bindingKey(ex, name), name)
		}
		p.Del(ctx, b.queueKey(name), b.exchangesKey(name))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisbus: delete %q: %w", name, err)
	}
	return nil
}

func (b *Bus) Publish(ctx context.Context, p bus.Publishing) error {
	mode, key := "direct", b.queueKey(p.RoutingKey)
	if p.Exchange != "" {
		mode, key = "exchange", b.bindingKey(p.Exchange, p.RoutingKey)
	}

	args := []any{mode, b.queueKeyPrefix(), b.streamMaxLen, bus.PropBody, p.Body}
	if p.CorrelationID != "" {
		args = append(args, bus.PropCorrelationID, p.CorrelationID)
	}
	if p.ReplyTo != "" {
		args = append(args, bus.PropReplyTo, p.ReplyTo)
	}
	for k, v := range p.Headers {
		args = append(args, headerFieldPrefix+k, v)
	}

	routed, err := routeLua.Run(ctx, b.rdb, []string{key}, args...).Int64()
	if err != nil {
		return fmt.Errorf("redisbus: publish to %q/%q: %w", p.Exchange, p.RoutingKey, err)
	}
	if routed == 0 {
		b.logger.Debug("unroutable message dropped",
			zap.String("exchange", p.Exchange),
			zap.String("routing_key", p.RoutingKey))
	}
	return nil
}

// Consume first replays this consumer's own pending entries (deliveries a
// previous run never acknowledged), then reads new ones. Every claimIdle it
// also takes over entries that sat unacknowledged in any consumer's pending
// list for longer than claimIdle, so work held by a crashed worker is served
// again.
func (b *Bus) Consume(ctx context.Context, queue string, opts bus.ConsumeOptions, fn bus.DeliveryFunc) error {
	key := b.queueKey(queue)
	count := int64(opts.Prefetch)
	if count <= 0 {
		count = 10
	}

	cursor, replaying := "0", true
	claimFrom, lastClaim := "0-0", time.Time{}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !replaying && b.claimIdle > 0 && time.Since(lastClaim) >= b.claimIdle {
			lastClaim = time.Now()
			next, err := b.autoClaim(ctx, key, queue, claimFrom, count, opts, fn)
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case isNoGroup(err):
				return fmt.Errorf("redisbus: consume %q: %w", queue, bus.ErrQueueGone)
			case err != nil:
				b.logger.Warn("XAUTOCLAIM failed", zap.String("queue", queue), zap.Error(err))
			default:
				claimFrom = next
			}
		}

		id := ">"
		if replaying {
			id = cursor
		}
		res, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.group,
			Consumer: b.consumer,
			Streams:  []string{key, id},
			Count:    count,
			Block:    b.pollBlock,
		}).Result()

		if errors.Is(err, redis.Nil) {
			replaying = false
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isNoGroup(err) {
				return fmt.Errorf("redisbus: consume %q: %w", queue, bus.ErrQueueGone)
			}
			b.logger.Warn("XREADGROUP failed", zap.String("queue", queue), zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(150 * time.Millisecond):
			}
			continue
		}

		n := 0
		for _, str := range res {
			if len(str.Messages) > 0 {
				cursor = str.Messages[len(str.Messages)-1].ID
			}
			n += len(str.Messages)
			if err := b.deliver(ctx, key, queue, str.Messages, replaying, opts, fn); err != nil {
				return err
			}
		}
		if replaying && n == 0 {
			replaying = false
		}
	}
}

// autoClaim moves one batch of idle pending entries to this consumer and
// delivers them. It returns the cursor of the next batch.
func (b *Bus) autoClaim(ctx context.Context, key, queue, start string, count int64, opts bus.ConsumeOptions, fn bus.DeliveryFunc) (string, error) {
	msgs, next, err := b.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   key,
		Group:    b.group,
		Consumer: b.consumer,
		MinIdle:  b.claimIdle,
		Start:    start,
		Count:    count,
	}).Result()
	if err != nil {
		return start, err
	}
	if len(msgs) > 0 {
		b.logger.Info("claimed idle deliveries", zap.String("queue", queue), zap.Int("count", len(msgs)))
	}
	if err := b.deliver(ctx, key, queue, msgs, true, opts, fn); err != nil {
		return start, err
	}
	return next, nil
}

// deliver hands msgs to fn in order and stops as soon as ctx is done.
func (b *Bus) deliver(ctx context.Context, key, queue string, msgs []redis.XMessage, redelivered bool, opts bus.ConsumeOptions, fn bus.DeliveryFunc) error {
	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(m.Values) == 0 {
			// pending entry whose payload was trimmed away
			_ = b.rdb.XAck(ctx, key, b.group, m.ID).Err()
			continue
		}
		fn(ctx, b.delivery(queue, m, redelivered))
		if opts.AutoAck {
			b.ackAndDelete(ctx, key, m.ID)
		}
	}
	return nil
}

func (b *Bus) Ack(ctx context.Context, d bus.Delivery) error {
	return b.rdb.XAck(ctx, b.queueKey(d.Queue), b.group, d.Tag).Err()
}

// ackAndDelete keeps private reply streams from growing.
func (b *Bus) ackAndDelete(ctx context.Context, key, id string) {
	_, err := b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.XAck(ctx, key, b.group, id)
		p.XDel(ctx, key, id)
		return nil
	})
	if err != nil {
		b.logger.Warn("auto ack failed", zap.String("stream", key), zap.Error(err))
	}
}

func (b *Bus) delivery(queue string, m redis.XMessage, redelivered bool) bus.Delivery {
	d := bus.Delivery{
		Queue:       queue,
		Tag:         m.ID,
		Redelivered: redelivered,
	}
	for k, v := range m.Values {
		s, _ := v.(string)
		switch {
		case k == bus.PropBody:
			d.Body = []byte(s)
		case k == bus.PropCorrelationID:
			d.CorrelationID = s
		case k == bus.PropReplyTo:
			d.ReplyTo = s
		case strings.HasPrefix(k, headerFieldPrefix):
			if d.Headers == nil {
				d.Headers = make(map[string]string)
			}
			d.Headers[strings.TrimPrefix(k, headerFieldPrefix)] = s
		}
	}
	return d
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func isNoGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "NOGROUP")
}

func defaultConsumerName() string {
	host, _ := os.Hostname()
	if host == "" {
		host = "host"
	}
	return host + "-" + strconv.Itoa(os.Getpid())
}
