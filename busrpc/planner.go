package busrpc

import "fmt"

// QueueBinding is one broker queue served by the server and the consumers
// reachable through it.
type QueueBinding struct {
	Name string
	// Exclusive is set once an exclusive consumer joined the queue.
	Exclusive bool
	consumers *Registry
}

// Consumers returns the consumers bound to the queue in join order.
func (b *QueueBinding) Consumers() []Consumer { return b.consumers.Consumers() }

func (b *QueueBinding) join(c Consumer) error {
	if b.consumers.Len() > 0 && (b.Exclusive || c.Exclusive) {
		return &ExclusivityError{Consumer: c.Name, Queue: b.Name}
	}
	b.consumers.Register(c)
	if c.Exclusive {
		b.Exclusive = true
	}
	return nil
}

// Plan assigns consumers to queues in the given order. Consumers without a
// queue go to defaultQueue, which is always part of the plan. Exclusivity is
// checked as each consumer joins, so the consumer reported is the first one
// that conflicts with an earlier registration.
func Plan(defaultQueue string, consumers []Consumer) ([]*QueueBinding, error) {
	if defaultQueue == "" {
		return nil, fmt.Errorf("%w: empty default queue", ErrConfig)
	}
	byName := map[string]*QueueBinding{}
	var order []*QueueBinding
	binding := func(name string) *QueueBinding {
		b, ok := byName[name]
		if !ok {
			b = &QueueBinding{Name: name, consumers: NewRegistry()}
			byName[name] = b
			order = append(order, b)
		}
		return b
	}
	binding(defaultQueue)

	for _, c := range consumers {
		if c.Name == "" {
			return nil, fmt.Errorf("%w: consumer without a name", ErrConfig)
		}
		if c.Handler == nil {
			return nil, fmt.Errorf("%w: consumer %s has no handler", ErrConfig, c.Name)
		}
		q := c.Queue
		if q == "" {
			q = defaultQueue
		}
		if err := binding(q).join(c); err != nil {
			return nil, err
		}
	}
	return order, nil
}
