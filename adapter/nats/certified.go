package nats

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gonats "github.com/nats-io/nats.go"

	"github.com/trickstertwo/xrv"
)

// JetStream message headers
const (
	headerSender  = "Xrv-Sender"
	headerExpires = "Xrv-Expires" // unix ns
)

// certifiedConn publishes to the service stream under base + subject. Each
// certified listener binds a durable pull consumer named after the
// certified name and its subject; an entry stays unacknowledged in that
// consumer until the callback returns.
type certifiedConn struct {
	conn   *conn
	params xrv.CertifiedParams
	js     gonats.JetStreamContext
	stream string
	base   string

	mu        sync.Mutex
	listeners []*pullListener
	closed    atomic.Bool
}

var _ xrv.CertifiedConn = (*certifiedConn)(nil)

func (c *certifiedConn) Name() string { return c.params.Name }

func (c *certifiedConn) ensureStream(ctx context.Context) error {
	_, err := c.js.StreamInfo(c.stream, gonats.Context(ctx))
	if err == nil {
		return nil
	}
	if !errors.Is(err, gonats.ErrStreamNotFound) {
		return fmt.Errorf("nats: stream info %s: %w", c.stream, err)
	}
	_, err = c.js.AddStream(&gonats.StreamConfig{
		Name:     c.stream,
		Subjects: []string{c.base + ">"},
		Storage:  gonats.FileStorage,
		MaxAge:   c.conn.drv.cfg.MaxAge,
	}, gonats.Context(ctx))
	if err != nil && !errors.Is(err, gonats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("nats: add stream %s: %w", c.stream, err)
	}
	return nil
}

// Send stores m in the stream and publishes it on the core subject for
// standard listeners.
func (c *certifiedConn) Send(ctx context.Context, m *xrv.Msg) error {
	if c.closed.Load() || c.conn.closed.Load() {
		return xrv.ErrClosed
	}
	if err := checkSendSubject(m); err != nil {
		return err
	}
	drv := c.conn.drv
	subject := m.SendSubject()

	data, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	nm := gonats.NewMsg(c.base + subject)
	nm.Data = data
	nm.Header.Set(headerSender, c.params.Name)
	if limit := xrv.TimeLimit(m); limit > 0 {
		nm.Header.Set(headerExpires, strconv.FormatInt(drv.now().Add(limit).UnixNano(), 10))
	}
	if _, err := c.js.PublishMsg(nm, gonats.Context(ctx)); err != nil {
		return err
	}
	drv.metrics.published.Add(1)

	if err := c.conn.nc.Publish(c.conn.prefix+subject, data); err != nil {
		drv.logger.Debug().Err(err).Str("subject", subject).Msg("nats: certified fan-out to core subject failed")
	}
	return nil
}

// durableFor names the consumer of name on subject.
func durableFor(name, subject string) string {
	return sanitizeName(name) + "__" + sanitizeName(subject)
}

// Listen binds the durable consumer for (name, subject), creating it when
// missing. Without RequestOld an existing consumer is recreated so entries
// left from earlier runs are discarded.
func (c *certifiedConn) Listen(q xrv.Queue, subject string, cb xrv.Callback) (xrv.Listener, error) {
	if c.closed.Load() {
		return nil, xrv.ErrClosed
	}
	if err := xrv.ValidateSubject(subject); err != nil {
		return nil, err
	}
	durable := durableFor(c.params.Name, subject)
	if err := c.ensureConsumer(durable, subject); err != nil {
		return nil, err
	}
	sub, err := c.js.PullSubscribe(c.base+subject, durable, gonats.Bind(c.stream, durable))
	if err != nil {
		return nil, fmt.Errorf("nats: pull subscribe %s: %w", subject, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &pullListener{
		owner:   c,
		subject: subject,
		sub:     sub,
		q:       q,
		cb:      cb,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go l.fetch(ctx)

	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
	return l, nil
}

func (c *certifiedConn) ensureConsumer(durable, subject string) error {
	_, err := c.js.ConsumerInfo(c.stream, durable)
	switch {
	case err == nil && c.params.RequestOld:
		return nil
	case err == nil:
		if err := c.js.DeleteConsumer(c.stream, durable); err != nil {
			return fmt.Errorf("nats: reset consumer %s: %w", durable, err)
		}
	case !errors.Is(err, gonats.ErrConsumerNotFound):
		return fmt.Errorf("nats: consumer info %s: %w", durable, err)
	}

	policy := gonats.DeliverNewPolicy
	if c.params.RequestOld {
		policy = gonats.DeliverAllPolicy
	}
	_, err = c.js.AddConsumer(c.stream, &gonats.ConsumerConfig{
		Durable:       durable,
		FilterSubject: c.base + subject,
		AckPolicy:     gonats.AckExplicitPolicy,
		AckWait:       c.conn.drv.cfg.AckWait,
		DeliverPolicy: policy,
	})
	if err != nil {
		return fmt.Errorf("nats: add consumer %s: %w", durable, err)
	}
	return nil
}

// Destroy stops every certified listener. Durable consumers stay on the
// server for the next run.
func (c *certifiedConn) Destroy() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	ls := c.listeners
	c.listeners = nil
	c.mu.Unlock()
	for _, l := range ls {
		_ = l.Destroy()
	}
	return nil
}

func (c *certifiedConn) removeListener(l *pullListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, x := range c.listeners {
		if x == l {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return
		}
	}
}

type pullListener struct {
	owner   *certifiedConn
	subject string
	sub     *gonats.Subscription
	q       xrv.Queue
	cb      xrv.Callback
	cancel  context.CancelFunc
	done    chan struct{}
	queued  queuedDeliveries

	destroyed atomic.Bool
}

// queuedDeliveries remembers the stream sequences that sit in the event
// queue. A JetStream redelivery of a queued sequence replaces the message
// to ack instead of queueing the entry twice. Sequence 0 is never tracked.
type queuedDeliveries struct {
	mu    sync.Mutex
	bySeq map[uint64]*gonats.Msg
}

// track reports whether nm is the first queued delivery of seq.
func (d *queuedDeliveries) track(seq uint64, nm *gonats.Msg) bool {
	if seq == 0 {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bySeq == nil {
		d.bySeq = make(map[uint64]*gonats.Msg)
	}
	_, seen := d.bySeq[seq]
	d.bySeq[seq] = nm
	return !seen
}

// take forgets seq and returns its latest delivery, or nm when untracked.
func (d *queuedDeliveries) take(seq uint64, nm *gonats.Msg) *gonats.Msg {
	if seq == 0 {
		return nm
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	latest, ok := d.bySeq[seq]
	delete(d.bySeq, seq)
	if !ok {
		return nm
	}
	return latest
}

var _ xrv.Listener = (*pullListener)(nil)

func (l *pullListener) Subject() string { return l.subject }

func (l *pullListener) Destroy() error {
	if l.destroyed.Swap(true) {
		return nil
	}
	l.cancel()
	<-l.done
	l.owner.removeListener(l)
	err := l.sub.Unsubscribe()
	if errors.Is(err, gonats.ErrConnectionClosed) || errors.Is(err, gonats.ErrBadSubscription) {
		return nil
	}
	return err
}

func (l *pullListener) fetch(ctx context.Context) {
	defer close(l.done)
	drv := l.owner.conn.drv

	backoff := 100 * time.Millisecond
	maxBackoff := 5 * time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		fctx, cancel := context.WithTimeout(ctx, drv.cfg.FetchWait)
		msgs, err := l.sub.Fetch(drv.cfg.FetchBatch, gonats.Context(fctx))
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, gonats.ErrTimeout) {
				backoff = 100 * time.Millisecond
				continue
			}
			drv.metrics.consumeErrors.Add(1)
			select {
			case <-time.After(backoff):
				backoff = min(backoff*2, maxBackoff)
			case <-ctx.Done():
				return
			}
			continue
		}
		backoff = 100 * time.Millisecond
		for _, nm := range msgs {
			l.handle(nm)
		}
	}
}

func (l *pullListener) handle(nm *gonats.Msg) {
	drv := l.owner.conn.drv
	if exp := nm.Header.Get(headerExpires); exp != "" {
		if ns, err := strconv.ParseInt(exp, 10, 64); err == nil && drv.now().UnixNano() >= ns {
			drv.metrics.expired.Add(1)
			_ = nm.Ack()
			return
		}
	}
	vm, err := xrv.DecodeMsg(nm.Data)
	if err != nil {
		drv.metrics.decodeErrors.Add(1)
		drv.logger.Warn().Err(err).Str("subject", nm.Subject).Msg("nats: undecodable entry terminated")
		_ = nm.Term()
		return
	}
	var seq uint64
	if md, err := nm.Metadata(); err == nil {
		seq = md.Sequence.Stream
	}
	subject := strings.TrimPrefix(nm.Subject, l.owner.base)
	if !l.queued.track(seq, nm) {
		drv.metrics.duplicates.Add(1)
		return
	}
	drv.metrics.received.Add(1)

	err = l.q.Post(func() {
		if l.destroyed.Load() {
			return
		}
		l.cb(l, vm)
		if err := l.queued.take(seq, nm).AckSync(); err != nil {
			drv.logger.Warn().Err(err).Str("subject", subject).Msg("nats: ack failed")
			return
		}
		l.advise(subject, seq)
	})
	if err != nil {
		l.queued.take(seq, nm)
		drv.logger.Debug().Err(err).Str("subject", subject).Msg("nats: queue rejected certified event")
	}
}

// advise publishes the delivery advisory on the confirm subject.
func (l *pullListener) advise(subject string, seq uint64) {
	c := l.owner
	drv := c.conn.drv
	drv.metrics.confirmed.Add(1)

	adv := xrv.NewMsg()
	adv.SetSendSubject(xrv.ConfirmSubject(subject))
	_ = adv.AddU64("seqno", seq)
	_ = adv.AddString("listener", c.params.Name)
	_ = adv.AddString("subject", subject)
	data, err := adv.MarshalBinary()
	if err != nil {
		return
	}
	if err := c.conn.publish(context.Background(), adv.SendSubject(), data); err != nil {
		drv.logger.Debug().Err(err).Str("subject", adv.SendSubject()).Msg("nats: advisory publish failed")
	}
}
