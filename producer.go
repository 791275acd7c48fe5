package xrv

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Producer translates messages and sends them to the subject its
// Destination resolves.
type Producer struct {
	dest       Destination
	client     Client
	translator Translator
	factory    MessageFactory
	logger     *xlog.Logger
	clock      xclock.Clock
	notifier   notifier

	closed  atomic.Bool
	metrics producerMetrics
}

type producerMetrics struct {
	sent      atomic.Uint64
	failed    atomic.Uint64
	confirmed atomic.Uint64
}

// ProducerStats reports producer counters.
type ProducerStats struct {
	Sent      uint64
	Failed    uint64
	Confirmed uint64
}

// NewProducer creates a producer sending to dest.
func NewProducer(dest Destination, opts ...Option) (*Producer, error) {
	if dest == nil {
		return nil, argError("destination", "nil")
	}
	o, err := buildBindingOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Producer{
		dest:       dest,
		client:     o.client,
		translator: o.translator,
		factory:    o.factory,
		logger:     o.logger,
		clock:      o.clock,
		notifier:   notifier{pool: o.pool, observers: o.observers},
	}, nil
}

// Init initialises the client and registers the confirmation listener.
// Init after Close starts a new activation on the same client.
func (p *Producer) Init(ctx context.Context) error {
	if err := p.client.Init(ctx); err != nil {
		return err
	}
	p.closed.Store(false)
	p.translator.RegisterMessageFactory(p.factory)
	if err := p.client.CreateConfirmationListener(p.onConfirm); err != nil {
		return err
	}
	p.logger.Info().Msg("xrv: producer initialised")
	return nil
}

func (p *Producer) Start() error { return p.client.Start() }
func (p *Producer) Stop() error  { return p.client.Stop() }

func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	err := p.client.Close()
	if err != nil {
		p.logger.Warn().Err(err).Msg("xrv: producer close failed")
	}
	return err
}

// Produce resolves the destination subject, translates m and sends it.
// Every failure is returned as a *ProduceError.
func (p *Producer) Produce(ctx context.Context, m *Message) error {
	if m == nil {
		return p.fail(&ProduceError{Err: argError("message", "nil")})
	}
	subject, err := p.dest.Subject(m)
	if err != nil {
		return p.fail(&ProduceError{MessageID: m.ID(), Err: err})
	}
	return p.send(ctx, subject, m)
}

// ProduceTo sends m to subject, bypassing the destination.
func (p *Producer) ProduceTo(ctx context.Context, subject string, m *Message) error {
	if m == nil {
		return p.fail(&ProduceError{Subject: subject, Err: argError("message", "nil")})
	}
	return p.send(ctx, subject, m)
}

func (p *Producer) send(ctx context.Context, subject string, m *Message) error {
	if p.closed.Load() {
		return p.fail(&ProduceError{MessageID: m.ID(), Subject: subject, Err: ErrClosed})
	}
	vm, err := p.translator.ToVendor(m, subject)
	if err != nil {
		return p.fail(&ProduceError{MessageID: m.ID(), Subject: subject, Err: err})
	}

	p.notifier.notify(Event{Type: ProduceStart, Subject: subject, MessageID: m.ID()})
	start := p.clock.Now()
	err = p.client.Send(ctx, vm)
	p.notifier.notify(Event{Type: ProduceDone, Subject: subject, MessageID: m.ID(), Duration: p.clock.Since(start), Err: err})
	if err != nil {
		return p.fail(&ProduceError{MessageID: m.ID(), Subject: subject, Err: err})
	}
	p.metrics.sent.Add(1)
	return nil
}

func (p *Producer) fail(err *ProduceError) error {
	p.metrics.failed.Add(1)
	p.logger.Warn().Err(err).Str("message_id", err.MessageID).Str("subject", err.Subject).Msg("xrv: produce failed")
	return err
}

func (p *Producer) onConfirm(_ Listener, vm *Msg) {
	p.metrics.confirmed.Add(1)
	if vm == nil {
		return
	}
	var seqno, listener string
	if f, ok := vm.Get("seqno"); ok {
		if v, isU64 := f.Value.(uint64); isU64 {
			seqno = strconv.FormatUint(v, 10)
		}
	}
	if f, ok := vm.Get("listener"); ok {
		listener, _ = f.Value.(string)
	}
	p.logger.Debug().
		Str("seqno", seqno).
		Str("listener", listener).
		Str("confirm_subject", vm.SendSubject()).
		Msg("xrv: delivery confirmed")
	p.notifier.notify(Event{Type: Confirm, Subject: vm.SendSubject()})
}

// Stats returns a snapshot of the producer counters.
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		Sent:      p.metrics.sent.Load(),
		Failed:    p.metrics.failed.Load(),
		Confirmed: p.metrics.confirmed.Load(),
	}
}
