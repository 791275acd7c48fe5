package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	goredis "github.com/redis/go-redis/v9"

	"github.com/trickstertwo/xrv"
)

// conn carries standard delivery over Redis pub/sub. Channel names are the
// Service prefix plus the subject.
type conn struct {
	drv    *Driver
	client *goredis.Client
	prefix string

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
	if err := c.client.Publish(ctx, c.prefix+subject, data).Err(); err != nil {
		return err
	}
	c.drv.metrics.published.Add(1)
	return nil
}

// Listen subscribes to subject. Wildcard subjects use a pattern
// subscription and are filtered with xrv token matching.
func (c *conn) Listen(q xrv.Queue, subject string, cb xrv.Callback) (xrv.Listener, error) {
	if c.closed.Load() {
		return nil, xrv.ErrClosed
	}
	if err := xrv.ValidateSubject(subject); err != nil {
		return nil, err
	}

	ctx := context.Background()
	var ps *goredis.PubSub
	if xrv.IsWildcard(subject) {
		ps = c.client.PSubscribe(ctx, escapeGlob(c.prefix)+globFor(subject))
	} else {
		ps = c.client.Subscribe(ctx, c.prefix+subject)
	}
	// wait for the subscription to be confirmed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	l := &listener{subject: subject, q: q, cb: cb, ps: ps, done: make(chan struct{})}
	go c.pump(l)

	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
	return l, nil
}

func (c *conn) pump(l *listener) {
	defer close(l.done)
	for rm := range l.ps.Channel() {
		subject := strings.TrimPrefix(rm.Channel, c.prefix)
		if !xrv.MatchSubject(l.subject, subject) {
			continue
		}
		vm, err := xrv.DecodeMsg([]byte(rm.Payload))
		if err != nil {
			c.drv.metrics.decodeErrors.Add(1)
			c.drv.logger.Warn().Err(err).Str("channel", rm.Channel).Msg("redis: undecodable message dropped")
			continue
		}
		c.drv.metrics.received.Add(1)
		l.post(vm)
	}
}

// Destroy destroys every listener created on c and closes the client.
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
		if err := l.Destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.client.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

type listener struct {
	subject string
	q       xrv.Queue
	cb      xrv.Callback
	ps      *goredis.PubSub
	done    chan struct{}

	destroyed atomic.Bool
}

var _ xrv.Listener = (*listener)(nil)

func (l *listener) Subject() string { return l.subject }

// Destroy unsubscribes and waits for the receive loop to exit.
func (l *listener) Destroy() error {
	if l.destroyed.Swap(true) {
		return nil
	}
	err := l.ps.Close()
	<-l.done
	return err
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
		return errors.New("redis: nil message")
	}
	if err := xrv.ValidateSubject(m.SendSubject()); err != nil {
		return err
	}
	if xrv.IsWildcard(m.SendSubject()) {
		return fmt.Errorf("redis: cannot send to wildcard subject %q", m.SendSubject())
	}
	return nil
}

// globFor turns a wildcard subject into a Redis glob that matches a superset
// of it; exact matching happens on receipt.
func globFor(subject string) string {
	tokens := strings.Split(subject, ".")
	for i, tok := range tokens {
		switch tok {
		case "*", ">":
			tokens[i] = "*"
		default:
			tokens[i] = escapeGlob(tok)
		}
	}
	return strings.Join(tokens, ".")
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
