// Package bus describes the message bus the RPC core runs on: exchanges,
// durable queues, per-message headers, correlation ids and reply addresses.
//
// Implementations live in the sub packages. Every Connector must be safe for
// concurrent use: replies are published from many workers at once.
package bus

import (
	"context"
	"errors"
)

// Header and property names carried next to the body.
const (
	HeaderConsumerName = "consumer_name"
	HeaderErrorFlag    = "error_flag"

	PropCorrelationID = "correlation_id"
	PropReplyTo       = "reply_to"
	PropBody          = "body"
)

// Values of HeaderErrorFlag.
const (
	NoError  = "0"
	HasError = "1"
)

var (
	// ErrQueueGone is returned by Consume when the queue disappeared under the
	// consumer, e.g. after the broker lost its state.
	ErrQueueGone = errors.New("bus: queue does not exist")
	// ErrClosed is returned by operations on a closed connector.
	ErrClosed = errors.New("bus: connector closed")
)

// Publishing is an outgoing message.
type Publishing struct {
	Exchange      string
	RoutingKey    string
	Headers       map[string]string
	CorrelationID string
	ReplyTo       string
	Body          []byte
}

// Delivery is a message handed to a consumer.
type Delivery struct {
	Queue         string
	Tag           string
	Headers       map[string]string
	CorrelationID string
	ReplyTo       string
	Body          []byte
	Redelivered   bool
}

// Header returns the header value or "".
func (d Delivery) Header(name string) string {
	if d.Headers == nil {
		return ""
	}
	return d.Headers[name]
}

// QueueSpec declares a queue and, when Exchange is set, binds it to that
// exchange with the queue name as binding key.
type QueueSpec struct {
	Name     string
	Exchange string
	Durable  bool
}

// ConsumeOptions tunes Consume.
type ConsumeOptions struct {
	// AutoAck acknowledges each delivery as soon as the callback returns.
	AutoAck bool
	// Prefetch bounds how many deliveries are fetched per round trip.
	Prefetch int
}

// DeliveryFunc is invoked sequentially for each delivery of one queue.
type DeliveryFunc func(ctx context.Context, d Delivery)

// Connector is what the RPC core needs from a message bus.
type Connector interface {
	// DeclareQueue creates the queue if missing and binds it.
	DeclareQueue(ctx context.Context, q QueueSpec) error
	// DeclareReplyQueue creates a private, uniquely named queue, reachable by
	// its name on the default exchange and on exchange when it is not empty.
	DeclareReplyQueue(ctx context.Context, exchange string) (string, error)
	// DeleteQueue removes a queue and its messages.
	DeleteQueue(ctx context.Context, name string) error
	// Publish routes p through its exchange. Unroutable messages are dropped.
	Publish(ctx context.Context, p Publishing) error
	// Consume blocks, feeding deliveries of queue to fn one at a time, until
	// ctx is done or the queue is lost.
	Consume(ctx context.Context, queue string, opts ConsumeOptions, fn DeliveryFunc) error
	// Ack removes d from the unacknowledged set.
	Ack(ctx context.Context, d Delivery) error
}
