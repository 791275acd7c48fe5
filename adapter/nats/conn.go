package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	gonats "github.com/nats-io/nats.go"

	"github.com/trickstertwo/xrv"
)

// certifiedToken is the subject token JetStream-backed traffic lives under.
const certifiedToken = "_XRVCM"

// conn carries standard delivery on core NATS subjects. Token wildcards
// map one to one onto NATS wildcards.
type conn struct {
	drv     *Driver
	nc      *gonats.Conn
	service string
	prefix  string

	mu        sync.Mutex
	listeners []*listener
	closed    atomic.Bool
}

var _ xrv.Conn = (*conn)(nil)

func (c *conn) Send(ctx context.Context, m *xrv.Msg) error {
	if c.closed.Load() {
		return xrv.ErrClosed
	}
	if err := checkSendSubject(m); err != nil {
		return err
	}
	data, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	return c.publish(ctx, m.SendSubject(), data)
}

func (c *conn) publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.nc.Publish(c.prefix+subject, data); err != nil {
		return err
	}
	c.drv.metrics.published.Add(1)
	return nil
}

func (c *conn) Listen(q xrv.Queue, subject string, cb xrv.Callback) (xrv.Listener, error) {
	if c.closed.Load() {
		return nil, xrv.ErrClosed
	}
	if err := xrv.ValidateSubject(subject); err != nil {
		return nil, err
	}
	l := &listener{subject: subject, q: q, cb: cb}
	sub, err := c.nc.Subscribe(c.prefix+subject, func(nm *gonats.Msg) {
		// certified traffic shares the namespace under its own token
		if strings.HasPrefix(nm.Subject, c.prefix+certifiedToken+".") {
			return
		}
		vm, err := xrv.DecodeMsg(nm.Data)
		if err != nil {
			c.drv.metrics.decodeErrors.Add(1)
			c.drv.logger.Warn().Err(err).Str("subject", nm.Subject).Msg("nats: undecodable message dropped")
			return
		}
		c.drv.metrics.received.Add(1)
		l.post(vm)
	})
	if err != nil {
		return nil, fmt.Errorf("nats: subscribe %s: %w", subject, err)
	}
	l.sub = sub

	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
	return l, nil
}

// Destroy destroys every listener created on c and closes the connection.
func (c *conn) Destroy() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	ls := c.listeners
	c.listeners = nil
	c.mu.Unlock()

	var errs []error
	for _, l := range ls {
		if err := l.Destroy(); err != nil && !errors.Is(err, gonats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	c.nc.Close()
	return errors.Join(errs...)
}

type listener struct {
	subject string
	q       xrv.Queue
	cb      xrv.Callback
	sub     *gonats.Subscription

	destroyed atomic.Bool
}

var _ xrv.Listener = (*listener)(nil)

func (l *listener) Subject() string { return l.subject }

func (l *listener) Destroy() error {
	if l.destroyed.Swap(true) {
		return nil
	}
	return l.sub.Unsubscribe()
}

func (l *listener) post(vm *xrv.Msg) {
	_ = l.q.Post(func() {
		if l.destroyed.Load() {
			return
		}
		l.cb(l, vm)
	})
}

func checkSendSubject(m *xrv.Msg) error {
	if m == nil {
		return errors.New("nats: nil message")
	}
	if err := xrv.ValidateSubject(m.SendSubject()); err != nil {
		return err
	}
	if xrv.IsWildcard(m.SendSubject()) {
		return fmt.Errorf("nats: cannot send to wildcard subject %q", m.SendSubject())
	}
	return nil
}
