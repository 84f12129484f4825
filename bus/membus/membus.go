// Package membus is an in-process bus.Connector. It keeps the broker
// semantics the RPC core relies on: direct exchange bindings, the default
// exchange routing by queue name, unacknowledged delivery tracking and
// dropped private queues on session loss.
package membus

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/mrjvadi/busrpc/bus"
)

type binding struct {
	exchange   string
	routingKey string
}

type queue struct {
	name    string
	durable bool
	ready   []bus.Delivery
	unacked map[string]bus.Delivery
	notify  chan struct{}
	gone    bool
}

// wake releases every consumer blocked on q. Callers hold Bus.mu.
func (q *queue) wake() {
	close(q.notify)
	q.notify = make(chan struct{})
}

// Bus is a goroutine safe in-memory broker.
type Bus struct {
	mu       sync.Mutex
	queues   map[string]*queue
	bindings map[binding]map[string]struct{}
	seq      uint64
	closed   bool
}

var _ bus.Connector = (*Bus)(nil)

func New() *Bus {
	return &Bus{
		queues:   make(map[string]*queue),
		bindings: make(map[binding]map[string]struct{}),
	}
}

func (b *Bus) declare(name string, durable bool) *queue {
	q, ok := b.queues[name]
	if !ok {
		q = &queue{
			name:    name,
			durable: durable,
			unacked: make(map[string]bus.Delivery),
			notify:  make(chan struct{}),
		}
		b.queues[name] = q
	}
	return q
}

func (b *Bus) DeclareQueue(_ context.Context, spec bus.QueueSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("membus: empty queue name")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return bus.ErrClosed
	}
	b.declare(spec.Name, spec.Durable)
	b.bindLocked(spec.Exchange, spec.Name)
	return nil
}

func (b *Bus) bindLocked(exchange, name string) {
	if exchange == "" {
		return
	}
	k := binding{exchange: exchange, routingKey: name}
	set, ok := b.bindings[k]
	if !ok {
		set = make(map[string]struct{})
		b.bindings[k] = set
	}
	set[name] = struct{}{}
}

func (b *Bus) DeclareReplyQueue(_ context.Context, exchange string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", bus.ErrClosed
	}
	name := bus.NewReplyQueueName()
	b.declare(name, false)
	b.bindLocked(exchange, name)
	return name, nil
}

func (b *Bus) DeleteQueue(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropLocked(name)
	return nil
}

func (b *Bus) dropLocked(name string) {
	q, ok := b.queues[name]
	if !ok {
		return
	}
	delete(b.queues, name)
	for k, set := range b.bindings {
		delete(set, name)
		if len(set) == 0 {
			delete(b.bindings, k)
		}
	}
	q.gone = true
	q.wake()
}

func (b *Bus) Publish(_ context.Context, p bus.Publishing) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return bus.ErrClosed
	}

	var targets []string
	if p.Exchange == "" {
		targets = []string{p.RoutingKey}
	} else {
		for name := range b.bindings[binding{exchange: p.Exchange, routingKey: p.RoutingKey}] {
			targets = append(targets, name)
		}
	}

	for _, name := range targets {
		q, ok := b.queues[name]
		if !ok {
			continue
		}
		b.seq++
		q.ready = append(q.ready, bus.Delivery{
			Queue:         name,
			Tag:           strconv.FormatUint(b.seq, 10),
			Headers:       copyHeaders(p.Headers),
			CorrelationID: p.CorrelationID,
			ReplyTo:       p.ReplyTo,
			Body:          append([]byte(nil), p.Body...),
		})
		q.wake()
	}
	return nil
}

func (b *Bus) Consume(ctx context.Context, name string, opts bus.ConsumeOptions, fn bus.DeliveryFunc) error {
	for {
		b.mu.Lock()
		if err := ctx.Err(); err != nil {
			b.mu.Unlock()
			return err
		}
		if b.closed {
			b.mu.Unlock()
			return bus.ErrClosed
		}
		q, ok := b.queues[name]
		if !ok || q.gone {
			b.mu.Unlock()
			return fmt.Errorf("membus: consume %q: %w", name, bus.ErrQueueGone)
		}
		if len(q.ready) == 0 {
			wait := q.notify
			b.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-wait:
				continue
			}
		}
		d := q.ready[0]
		q.ready = q.ready[1:]
		q.unacked[d.Tag] = d
		b.mu.Unlock()

		fn(ctx, d)
		if opts.AutoAck {
			_ = b.Ack(ctx, d)
		}
	}
}

func (b *Bus) Ack(_ context.Context, d bus.Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[d.Queue]
	if !ok {
		return fmt.Errorf("membus: ack on %q: %w", d.Queue, bus.ErrQueueGone)
	}
	if _, ok := q.unacked[d.Tag]; !ok {
		return fmt.Errorf("membus: unknown delivery tag %s on %q", d.Tag, d.Queue)
	}
	delete(q.unacked, d.Tag)
	return nil
}

// Recover puts every unacknowledged delivery of queue back in front of the
// ready list, flagged as redelivered.
func (b *Bus) Recover(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok || len(q.unacked) == 0 {
		return 0
	}
	back := make([]bus.Delivery, 0, len(q.unacked))
	for _, d := range q.unacked {
		d.Redelivered = true
		back = append(back, d)
	}
	sort.Slice(back, func(i, j int) bool {
		a, _ := strconv.ParseUint(back[i].Tag, 10, 64)
		c, _ := strconv.ParseUint(back[j].Tag, 10, 64)
		return a < c
	})
	q.unacked = make(map[string]bus.Delivery)
	q.ready = append(back, q.ready...)
	q.wake()
	return len(back)
}

// Disconnect drops every private reply queue, like a broker does when the
// session owning them ends. Consumers of those queues get bus.ErrQueueGone.
func (b *Bus) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name := range b.queues {
		if strings.HasPrefix(name, bus.ReplyQueuePrefix) {
			b.dropLocked(name)
		}
	}
}

// Close stops all consumers.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, q := range b.queues {
		q.wake()
	}
	return nil
}

// HasQueue reports whether name is declared.
func (b *Bus) HasQueue(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.queues[name]
	return ok
}

// IsDurable reports whether name was declared durable.
func (b *Bus) IsDurable(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	return ok && q.durable
}

// Bound reports whether queue is bound to exchange.
func (b *Bus) Bound(exchange, name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.bindings[binding{exchange: exchange, routingKey: name}][name]
	return ok
}

// Ready returns the number of deliveries waiting in queue.
func (b *Bus) Ready(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[name]; ok {
		return len(q.ready)
	}
	return 0
}

// Unacked returns the number of delivered but unacknowledged messages.
func (b *Bus) Unacked(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[name]; ok {
		return len(q.unacked)
	}
	return 0
}

func copyHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
