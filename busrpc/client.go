package busrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-metrics"
	"go.uber.org/zap"

	"github.com/mrjvadi/busrpc/bus"
)

// Client calls remote consumers. Each client owns a private reply queue and
// a background listener feeding replies to waiting calls; both live until
// Close.
type Client struct {
	conn           bus.Connector
	exchange       string
	routingKey     string
	timeout        time.Duration
	hasTimeout     bool
	reconnectDelay time.Duration
	logger         *zap.Logger
	sink           metrics.MetricSink

	pending *pendingTable

	replyMu sync.RWMutex
	replyTo string

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewClient declares the reply queue and starts the listener. ctx bounds
// the declaration only.
func NewClient(ctx context.Context, conn bus.Connector, options ...ClientOption) (*Client, error) {
	c := &Client{
		conn:           conn,
		routingKey:     DefaultQueue,
		reconnectDelay: 500 * time.Millisecond,
		logger:         zap.NewNop(),
		sink:           &metrics.BlackholeSink{},
		pending:        newPendingTable(),
		done:           make(chan struct{}),
	}
	for _, opt := range options {
		opt(c)
	}

	name, err := conn.DeclareReplyQueue(ctx, c.exchange)
	if err != nil {
		return nil, fmt.Errorf("busrpc: declare reply queue: %w", err)
	}
	c.replyTo = name

	c.ctx, c.cancel = context.WithCancel(context.Background())
	go c.listen()
	return c, nil
}

// ReplyQueue returns the current private reply queue name.
func (c *Client) ReplyQueue() string {
	c.replyMu.RLock()
	defer c.replyMu.RUnlock()
	return c.replyTo
}

func (c *Client) setReplyQueue(name string) {
	c.replyMu.Lock()
	c.replyTo = name
	c.replyMu.Unlock()
}

// Call invokes the remote consumer name and returns its JSON result. With
// IgnoreResult it returns (nil, nil) right after publishing.
func (c *Client) Call(ctx context.Context, name string, opts ...CallOption) (json.RawMessage, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	co := callOptions{
		exchange:   c.exchange,
		routingKey: c.routingKey,
		timeout:    c.timeout,
		hasTimeout: c.hasTimeout,
	}
	for _, opt := range opts {
		opt(&co)
	}
	if co.err != nil {
		return nil, co.err
	}
	select {
	case <-c.done:
		return nil, ErrClientClosed
	default:
	}

	body, err := encodeRequest(co.args, co.kwargs)
	if err != nil {
		return nil, err
	}

	corrID := uuid.NewString()
	var arrived <-chan struct{}
	if !co.ignoreResult {
		// registered before publishing so a fast reply finds its slot
		arrived = c.pending.add(corrID)
	}

	err = c.conn.Publish(ctx, bus.Publishing{
		Exchange:      co.exchange,
		RoutingKey:    co.routingKey,
		Headers:       map[string]string{bus.HeaderConsumerName: name},
		CorrelationID: corrID,
		ReplyTo:       c.ReplyQueue(),
		Body:          body,
	})
	if err != nil {
		c.pending.discard(corrID)
		return nil, fmt.Errorf("busrpc: publish call %q: %w", name, err)
	}

	labels := []metrics.Label{LabelConsumer.M(name)}
	c.sink.IncrCounterWithLabels(MetricCallsSent, 1, labels)
	c.logger.Info("sent remote call", LabelConsumer.L(name), LabelCorrelationID.L(corrID))

	if co.ignoreResult {
		return nil, nil
	}

	var deadline <-chan time.Time
	if co.hasTimeout {
		timer := time.NewTimer(co.timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-arrived:
		value, isError, _ := c.pending.take(corrID)
		if isError {
			c.sink.IncrCounterWithLabels(MetricCallRemoteErrors, 1, labels)
			return nil, &RemoteFunctionError{Function: name, Message: decodeErrorText(value), Payload: value}
		}
		return value, nil
	case <-deadline:
		c.pending.discard(corrID)
		c.sink.IncrCounterWithLabels(MetricCallTimeouts, 1, labels)
		return nil, &CallTimeoutError{Function: name, Timeout: co.timeout}
	case <-ctx.Done():
		c.pending.discard(corrID)
		return nil, ctx.Err()
	case <-c.done:
		c.pending.discard(corrID)
		return nil, ErrClientClosed
	}
}

// CallInto is Call followed by decoding the result into out.
func (c *Client) CallInto(ctx context.Context, name string, out any, opts ...CallOption) error {
	raw, err := c.Call(ctx, name, opts...)
	if err != nil {
		return err
	}
	if out == nil || raw == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("busrpc: decode result of %q: %w", name, err)
	}
	return nil
}

// Func is a remote consumer bound to a client.
type Func func(ctx context.Context, opts ...CallOption) (json.RawMessage, error)

// Func binds name. defaults are applied before the options of each call.
func (c *Client) Func(name string, defaults ...CallOption) Func {
	return func(ctx context.Context, opts ...CallOption) (json.RawMessage, error) {
		all := make([]CallOption, 0, len(defaults)+len(opts))
		all = append(all, defaults...)
		all = append(all, opts...)
		return c.Call(ctx, name, all...)
	}
}

// Bind returns a Func per known consumer name.
func (c *Client) Bind(names ...string) map[string]Func {
	out := make(map[string]Func, len(names))
	for _, n := range names {
		out[n] = c.Func(n)
	}
	return out
}

// Stats is a snapshot of calls awaiting a reply.
type Stats struct {
	Pending       int
	OldestPending time.Duration
}

func (c *Client) Stats() Stats {
	return Stats{
		Pending:       c.pending.len(),
		OldestPending: c.pending.oldest(time.Now()),
	}
}

// Close stops the listener and deletes the reply queue. Calls still waiting
// return ErrClientClosed.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.conn.DeleteQueue(ctx, c.ReplyQueue()); err != nil {
			c.closeErr = fmt.Errorf("busrpc: delete reply queue: %w", err)
		}
	})
	return c.closeErr
}
