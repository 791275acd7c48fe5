package xrv

import (
	"context"
	"sync/atomic"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Consumer binds a subject listener to a Handler. Inbound vendor messages
// are translated and handed to the handler chain; failures are logged and
// the message dropped.
type Consumer struct {
	subject    string
	client     Client
	translator Translator
	factory    MessageFactory
	handler    Handler
	logger     *xlog.Logger
	clock      xclock.Clock
	notifier   notifier

	closed  atomic.Bool
	metrics consumerMetrics
}

type consumerMetrics struct {
	received  atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// ConsumerStats reports consumer counters.
type ConsumerStats struct {
	Received  uint64
	Delivered uint64
	Dropped   uint64
}

// NewConsumer creates a consumer of subject. WithHandler is required.
func NewConsumer(subject string, opts ...Option) (*Consumer, error) {
	if subject == "" {
		return nil, argError("subject", "empty")
	}
	o, err := buildBindingOptions(opts)
	if err != nil {
		return nil, err
	}
	if o.handler == nil {
		return nil, argError("handler", "nil")
	}
	// recovery always wraps the user handler, inside configured middlewares
	h := Chain(RecoveryMiddleware()(o.handler), o.middlewares...)
	return &Consumer{
		subject:    subject,
		client:     o.client,
		translator: o.translator,
		factory:    o.factory,
		handler:    h,
		logger:     o.logger.With(xlog.Str("subject", subject)),
		clock:      o.clock,
		notifier:   notifier{pool: o.pool, observers: o.observers},
	}, nil
}

// Init initialises the client and registers the subject listener.
// Init after Close starts a new activation on the same client.
func (c *Consumer) Init(ctx context.Context) error {
	if err := c.client.Init(ctx); err != nil {
		return err
	}
	c.closed.Store(false)
	c.translator.RegisterMessageFactory(c.factory)
	if err := c.client.CreateMessageListener(c.onMsg, c.subject); err != nil {
		return err
	}
	c.logger.Info().Msg("xrv: consumer initialised")
	return nil
}

func (c *Consumer) Start() error { return c.client.Start() }
func (c *Consumer) Stop() error  { return c.client.Stop() }

// Close stops delivery to the handler and closes the client.
func (c *Consumer) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	err := c.client.Close()
	if err != nil {
		c.logger.Warn().Err(err).Msg("xrv: consumer close failed")
	}
	return err
}

// Stats returns a snapshot of the consumer counters.
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Received:  c.metrics.received.Load(),
		Delivered: c.metrics.delivered.Load(),
		Dropped:   c.metrics.dropped.Load(),
	}
}

func (c *Consumer) onMsg(_ Listener, vm *Msg) {
	if c.closed.Load() {
		c.metrics.dropped.Add(1)
		c.logger.Debug().Msg("xrv: consumer closed, dropping message")
		c.notifier.notify(Event{Type: Drop, Subject: c.subject, Err: ErrClosed})
		return
	}
	c.metrics.received.Add(1)
	if vm == nil {
		c.metrics.dropped.Add(1)
		c.logger.Warn().Msg("xrv: nil message received, dropping")
		c.notifier.notify(Event{Type: Drop, Subject: c.subject, Err: argError("msg", "nil")})
		return
	}

	m, err := c.translator.FromVendor(vm)
	if err != nil {
		c.metrics.dropped.Add(1)
		c.logger.Warn().Err(err).Str("send_subject", vm.SendSubject()).Msg("xrv: translation failed, dropping message")
		c.notifier.notify(Event{Type: Error, Subject: c.subject, Err: err})
		return
	}

	ctx := handlerContext(context.Background(), c.logger, c.clock, vm.SendSubject())

	c.notifier.notify(Event{Type: ConsumeStart, Subject: c.subject, MessageID: m.ID()})
	start := c.clock.Now()
	err = c.handler(ctx, m)
	dur := c.clock.Since(start)
	c.notifier.notify(Event{Type: ConsumeDone, Subject: c.subject, MessageID: m.ID(), Duration: dur, Err: err})

	if err != nil {
		c.metrics.dropped.Add(1)
		c.logger.Warn().Err(err).Str("message_id", m.ID()).Msg("xrv: handler failed, dropping message")
		return
	}
	c.metrics.delivered.Add(1)
}

func (c *Consumer) String() string {
	return "Consumer{subject [" + c.subject + "]}"
}
