package busrpc

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-metrics"
	"go.uber.org/zap"

	"github.com/mrjvadi/busrpc/bus"
)

// Dispatcher serves one queue binding. Deliveries arrive one at a time;
// handlers run on the server's bounded pool. Each delivery is acknowledged
// exactly once, after its reply went out, so a crash before that point gets
// the message redelivered.
type Dispatcher struct {
	server  *Server
	binding *QueueBinding
	chain   Middleware
}

func newDispatcher(s *Server, b *QueueBinding) *Dispatcher {
	return &Dispatcher{server: s, binding: b, chain: Chain(s.middlewares...)}
}

// Dispatch is the bus.DeliveryFunc of the queue.
func (d *Dispatcher) Dispatch(ctx context.Context, del bus.Delivery) {
	s := d.server
	name := del.Header(bus.HeaderConsumerName)
	labels := []metrics.Label{LabelConsumer.M(name), LabelQueue.M(d.binding.Name)}
	s.sink.IncrCounterWithLabels(MetricDeliveries, 1, labels)
	s.logger.Info("received remote call",
		LabelConsumer.L(name),
		LabelQueue.L(d.binding.Name),
		LabelCorrelationID.L(del.CorrelationID))

	consumer, ok := d.binding.consumers.Lookup(name)
	if !ok {
		msg := NotFoundMessage(name)
		s.sink.IncrCounterWithLabels(MetricConsumerNotFound, 1, labels)
		s.logger.Info(msg, LabelQueue.L(d.binding.Name))
		d.finish(context.WithoutCancel(ctx), del, name, encodeErrorText(msg), true)
		return
	}

	req, err := decodeRequest(del.Body)
	if err != nil {
		s.logger.Warn("malformed request", LabelConsumer.L(name), zap.Error(err))
		d.finish(context.WithoutCancel(ctx), del, name, encodeErrorText(err.Error()), true)
		return
	}

	hc := &Context{
		ctx:           ctx,
		consumer:      name,
		correlationID: del.CorrelationID,
		args:          req.Args,
		kwargs:        req.Kwargs,
		logger:        s.logger.With(LabelConsumer.L(name)),
		linger:        &lingerSet{},
	}
	s.withConcurrency(func() {
		d.execute(hc, consumer, del, labels)
	})
}

func (d *Dispatcher) execute(hc *Context, consumer Consumer, del bus.Delivery, labels []metrics.Label) {
	s := d.server
	start := time.Now()
	v, err := safeCall(d.chain(consumer.Handler), hc)
	s.sink.AddSampleWithLabels(MetricHandlerDuration, float32(time.Since(start).Seconds()*1e3), labels)

	var body []byte
	isError := err != nil
	if err == nil {
		body, err = encodeReply(v)
		isError = err != nil
	}
	if isError {
		s.sink.IncrCounterWithLabels(MetricHandlerErrors, 1, labels)
		fields := append([]zap.Field{LabelConsumer.L(consumer.Name), zap.Error(err)}, hc.argsForLog()...)
		s.logger.Error("error occurred when calling consumer", fields...)
		body = encodeErrorText(err.Error())
	}

	// reply and ack must survive server shutdown cancelling ctx
	d.finish(context.WithoutCancel(hc.ctx), del, consumer.Name, body, isError)
	hc.linger.wait()
}

// finish replies when the caller gave a reply address, then acknowledges.
func (d *Dispatcher) finish(ctx context.Context, del bus.Delivery, name string, body []byte, isError bool) {
	s := d.server
	if del.ReplyTo != "" {
		flag := bus.NoError
		if isError {
			flag = bus.HasError
		}
		err := s.conn.Publish(ctx, bus.Publishing{
			Exchange:      s.exchange,
			RoutingKey:    del.ReplyTo,
			Headers:       map[string]string{bus.HeaderErrorFlag: flag},
			CorrelationID: del.CorrelationID,
			Body:          body,
		})
		if err != nil {
			s.sink.IncrCounterWithLabels(MetricReplyErrors, 1, []metrics.Label{LabelConsumer.M(name)})
			s.logger.Error("cannot publish reply", LabelConsumer.L(name), LabelCorrelationID.L(del.CorrelationID), zap.Error(err))
		}
	}
	if err := s.conn.Ack(ctx, del); err != nil {
		s.sink.IncrCounterWithLabels(MetricAckErrors, 1, []metrics.Label{LabelQueue.M(del.Queue)})
		s.logger.Error("cannot acknowledge delivery", LabelQueue.L(del.Queue), zap.String("tag", del.Tag), zap.Error(err))
	}
}

// safeCall runs h, turning a panic into an error.
func safeCall(h HandlerFunc, c *Context) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("%v", r)
		}
	}()
	return h(c)
}
