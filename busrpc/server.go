package busrpc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-metrics"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mrjvadi/busrpc/bus"
)

// Server serves registered consumers from one or more queues.
type Server struct {
	conn         bus.Connector
	exchange     string
	defaultQueue string
	maxJobs      int
	prefetch     int
	middlewares  []Middleware
	logger       *zap.Logger
	sink         metrics.MetricSink

	registry *Registry

	sem chan struct{} // caps concurrent handlers
	wg  sync.WaitGroup
}

func NewServer(conn bus.Connector, options ...ServerOption) *Server {
	s := &Server{
		conn:         conn,
		defaultQueue: DefaultQueue,
		maxJobs:      10,
		logger:       zap.NewNop(),
		sink:         &metrics.BlackholeSink{},
		registry:     NewRegistry(),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.prefetch == 0 {
		s.prefetch = s.maxJobs
	}
	s.sem = make(chan struct{}, s.maxJobs)
	return s
}

// Register adds c. A second consumer with the same name is ignored and
// Register reports false.
func (s *Server) Register(c Consumer) bool {
	if !s.registry.Register(c) {
		s.logger.Warn("consumer already registered, ignoring", LabelConsumer.L(c.Name))
		return false
	}
	return true
}

// Handle registers h under name.
func (s *Server) Handle(name string, h HandlerFunc, opts ...ConsumerOption) bool {
	c := Consumer{Name: name, Handler: h}
	for _, opt := range opts {
		opt(&c)
	}
	return s.Register(c)
}

// Use appends middlewares. It must be called before Run.
func (s *Server) Use(mw ...Middleware) {
	s.middlewares = append(s.middlewares, mw...)
}

func (s *Server) Registry() *Registry { return s.registry }

// Plan computes the queue bindings of the registered consumers.
func (s *Server) Plan() ([]*QueueBinding, error) {
	return Plan(s.defaultQueue, s.registry.Consumers())
}

// Run plans and declares the queues, then serves them until ctx is done or a
// queue consumer fails. Planning errors are returned before anything is
// consumed. In-flight handlers finish before Run returns.
func (s *Server) Run(ctx context.Context) error {
	bindings, err := s.Plan()
	if err != nil {
		return err
	}
	for _, b := range bindings {
		err := s.conn.DeclareQueue(ctx, bus.QueueSpec{Name: b.Name, Exchange: s.exchange, Durable: true})
		if err != nil {
			return fmt.Errorf("busrpc: declare queue %s: %w", b.Name, err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu   sync.Mutex
		errs error
		wg   sync.WaitGroup
	)
	for _, b := range bindings {
		d := newDispatcher(s, b)
		wg.Add(1)
		go func(b *QueueBinding) {
			defer wg.Done()
			err := s.conn.Consume(runCtx, b.Name, bus.ConsumeOptions{Prefetch: s.prefetch}, d.Dispatch)
			if err == nil || errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Error("queue consumer stopped", LabelQueue.L(b.Name), zap.Error(err))
			mu.Lock()
			errs = multierr.Append(errs, fmt.Errorf("busrpc: consume %s: %w", b.Name, err))
			mu.Unlock()
			cancel()
		}(b)
		s.logger.Info("consuming queue",
			LabelQueue.L(b.Name),
			zap.Bool("exclusive", b.Exclusive),
			zap.Int("consumers", b.consumers.Len()))
	}
	s.logger.Info("server started", zap.String("exchange", s.exchange), zap.Int("max_jobs", s.maxJobs))

	wg.Wait()
	s.wg.Wait()
	s.logger.Info("server has shut down")
	return errs
}

// withConcurrency runs fn on the pool, blocking while every slot is busy.
func (s *Server) withConcurrency(fn func()) {
	s.sem <- struct{}{}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.sem }()
		fn()
	}()
}
