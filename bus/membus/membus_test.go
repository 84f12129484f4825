package membus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrjvadi/busrpc/bus"
)

func collect(t *testing.T, b *Bus, name string, autoAck bool) (<-chan bus.Delivery, func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan bus.Delivery, 16)
	errc := make(chan error, 1)
	go func() {
		errc <- b.Consume(ctx, name, bus.ConsumeOptions{AutoAck: autoAck}, func(_ context.Context, d bus.Delivery) {
			out <- d
		})
	}()
	return out, func() error {
		cancel()
		return <-errc
	}
}

func TestDirectExchangeRouting(t *testing.T) {
	ctx := context.Background()
	b := New()
	require.NoError(t, b.DeclareQueue(ctx, bus.QueueSpec{Name: "default", Exchange: "rpc", Durable: true}))
	require.NoError(t, b.DeclareQueue(ctx, bus.QueueSpec{Name: "reports", Exchange: "rpc", Durable: true}))
	assert.True(t, b.Bound("rpc", "default"))
	assert.True(t, b.IsDurable("reports"))

	require.NoError(t, b.Publish(ctx, bus.Publishing{
		Exchange:      "rpc",
		RoutingKey:    "reports",
		Headers:       map[string]string{bus.HeaderConsumerName: "build"},
		CorrelationID: "c1",
		ReplyTo:       "reply.x",
		Body:          []byte(`{}`),
	}))
	// unbound routing key is dropped
	require.NoError(t, b.Publish(ctx, bus.Publishing{Exchange: "rpc", RoutingKey: "nowhere"}))

	assert.Equal(t, 0, b.Ready("default"))
	assert.Equal(t, 1, b.Ready("reports"))

	got, stop := collect(t, b, "reports", false)
	d := <-got
	assert.Equal(t, "build", d.Header(bus.HeaderConsumerName))
	assert.Equal(t, "c1", d.CorrelationID)
	assert.Equal(t, "reply.x", d.ReplyTo)
	assert.Equal(t, 1, b.Unacked("reports"))
	require.NoError(t, b.Ack(ctx, d))
	assert.Error(t, b.Ack(ctx, d), "second ack must fail")
	assert.ErrorIs(t, stop(), context.Canceled)
}

func TestDefaultExchangeAndAutoAck(t *testing.T) {
	ctx := context.Background()
	b := New()
	name, err := b.DeclareReplyQueue(ctx, "")
	require.NoError(t, err)
	require.Contains(t, name, bus.ReplyQueuePrefix)

	got, stop := collect(t, b, name, true)
	require.NoError(t, b.Publish(ctx, bus.Publishing{RoutingKey: name, Body: []byte(`1`)}))
	d := <-got
	assert.Equal(t, "1", string(d.Body))
	require.Eventually(t, func() bool { return b.Unacked(name) == 0 }, time.Second, 5*time.Millisecond)
	_ = stop()
}

func TestRecoverRedelivers(t *testing.T) {
	ctx := context.Background()
	b := New()
	require.NoError(t, b.DeclareQueue(ctx, bus.QueueSpec{Name: "q"}))
	require.NoError(t, b.Publish(ctx, bus.Publishing{RoutingKey: "q", Body: []byte(`"a"`)}))

	got, stop := collect(t, b, "q", false)
	first := <-got
	assert.False(t, first.Redelivered)
	assert.Equal(t, 1, b.Recover("q"))
	again := <-got
	assert.True(t, again.Redelivered)
	assert.Equal(t, first.Tag, again.Tag)
	_ = stop()
}

func TestConsumeStopsTakingAfterCancel(t *testing.T) {
	b := New()
	require.NoError(t, b.DeclareQueue(context.Background(), bus.QueueSpec{Name: "q"}))
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(context.Background(), bus.Publishing{RoutingKey: "q", Body: []byte(`1`)}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := b.Consume(ctx, "q", bus.ConsumeOptions{}, func(context.Context, bus.Delivery) {
		calls++
		cancel()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 4, b.Ready("q"))
	assert.Equal(t, 1, b.Unacked("q"))
}

func TestDisconnectDropsReplyQueues(t *testing.T) {
	ctx := context.Background()
	b := New()
	require.NoError(t, b.DeclareQueue(ctx, bus.QueueSpec{Name: "default"}))
	name, err := b.DeclareReplyQueue(ctx, "")
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		errc <- b.Consume(ctx, name, bus.ConsumeOptions{AutoAck: true}, func(context.Context, bus.Delivery) {})
	}()
	b.Disconnect()

	select {
	case err := <-errc:
		assert.True(t, errors.Is(err, bus.ErrQueueGone))
	case <-time.After(time.Second):
		t.Fatal("consumer not released")
	}
	assert.False(t, b.HasQueue(name))
	assert.True(t, b.HasQueue("default"))
}

func TestClose(t *testing.T) {
	b := New()
	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Publish(context.Background(), bus.Publishing{RoutingKey: "q"}), bus.ErrClosed)
	_, err := b.DeclareReplyQueue(context.Background(), "")
	assert.ErrorIs(t, err, bus.ErrClosed)
}
