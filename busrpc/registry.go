package busrpc

import "sync"

// Consumer is a named remote callable handler.
type Consumer struct {
	Name string
	// Queue is the queue the consumer listens on; "" is the default queue.
	Queue string
	// Exclusive reserves Queue for this consumer alone.
	Exclusive bool
	Handler   HandlerFunc
}

// ConsumerOption tunes a Consumer built by Server.Handle.
type ConsumerOption func(*Consumer)

// OnQueue binds the consumer to a named queue.
func OnQueue(name string) ConsumerOption {
	return func(c *Consumer) { c.Queue = name }
}

// Exclusive reserves the consumer's queue.
func Exclusive() ConsumerOption {
	return func(c *Consumer) { c.Exclusive = true }
}

// Registry maps consumer names to consumers. The first registration of a
// name wins; later ones are ignored so nothing gets shadowed by accident.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Consumer
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Consumer)}
}

// Register adds c and reports whether it was added.
func (r *Registry) Register(c Consumer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[c.Name]; ok {
		return false
	}
	r.byName[c.Name] = c
	r.order = append(r.order, c.Name)
	return true
}

func (r *Registry) Lookup(name string) (Consumer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	return c, ok
}

func (r *Registry) Contains(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Consumers returns the consumers in registration order.
func (r *Registry) Consumers() []Consumer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Consumer, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.byName[n])
	}
	return out
}

func (r *Registry) Clear() {
	r.mu.Lock()
	r.byName = make(map[string]Consumer)
	r.order = nil
	r.mu.Unlock()
}
