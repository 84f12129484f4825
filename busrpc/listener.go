package busrpc

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/mrjvadi/busrpc/bus"
)

// listen consumes the reply queue until Close. When the queue is lost it
// declares a fresh one; calls published with the old reply address time out.
func (c *Client) listen() {
	defer close(c.done)

	for {
		queue := c.ReplyQueue()
		err := c.conn.Consume(c.ctx, queue, bus.ConsumeOptions{AutoAck: true}, c.onReply)
		if c.ctx.Err() != nil {
			return
		}
		c.logger.Warn("reply consumer stopped", LabelQueue.L(queue), zap.Error(err))

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.reconnectDelay):
		}

		if err := c.conn.DeleteQueue(c.ctx, queue); err != nil {
			c.logger.Debug("cannot delete lost reply queue", LabelQueue.L(queue), zap.Error(err))
		}
		name, err := c.conn.DeclareReplyQueue(c.ctx, c.exchange)
		if err != nil {
			c.logger.Warn("cannot redeclare reply queue", zap.Error(err))
			continue
		}
		c.setReplyQueue(name)
		c.sink.IncrCounter(MetricListenerRestarts, 1)
		c.logger.Info("reply queue redeclared", LabelQueue.L(name))
	}
}

func (c *Client) onReply(_ context.Context, d bus.Delivery) {
	isError := d.Header(bus.HeaderErrorFlag) == bus.HasError
	body := d.Body
	if !json.Valid(body) {
		c.logger.Warn("undecodable reply", LabelCorrelationID.L(d.CorrelationID))
		body, isError = encodeErrorText("busrpc: undecodable reply: "+string(d.Body)), true
	}
	if !c.pending.resolve(d.CorrelationID, body, isError) {
		c.sink.IncrCounter(MetricRepliesDropped, 1)
		c.logger.Debug("dropping reply without waiting call", LabelCorrelationID.L(d.CorrelationID))
	}
}
