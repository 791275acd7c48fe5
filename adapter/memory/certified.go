package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/trickstertwo/xrv"
)

// certifiedConn tracks delivery of every message it sends: a ledger entry is
// kept per interested listener name until that listener's callback returns.
type certifiedConn struct {
	conn   *conn
	params xrv.CertifiedParams
	ledger *ledger

	mu        sync.Mutex
	listeners []*certifiedListener
	closed    atomic.Bool
}

var _ xrv.CertifiedConn = (*certifiedConn)(nil)

func (c *certifiedConn) Name() string { return c.params.Name }

func (c *certifiedConn) Send(ctx context.Context, m *xrv.Msg) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closed.Load() || c.conn.closed.Load() {
		return xrv.ErrClosed
	}
	if err := checkSendSubject(m); err != nil {
		return err
	}
	drv, dmn := c.conn.drv, c.conn.dmn
	subject := m.SendSubject()

	wire, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	seq, err := c.ledger.next(subject)
	if err != nil {
		return err
	}
	var expires int64
	if limit := xrv.TimeLimit(m); limit > 0 {
		expires = drv.now().Add(limit).UnixNano()
	}

	drv.metrics.sent.Add(1)
	dmn.publish(drv, m)

	for _, name := range dmn.interested(subject) {
		e := entry{Listener: name, Subject: subject, Seqno: seq, Expires: expires, Msg: wire}
		if err := c.ledger.add(e); err != nil {
			return err
		}
		for _, cl := range dmn.certifiedListeners(name, subject) {
			c.deliverTracked(cl, e, drv.prepare(m))
		}
	}
	return nil
}

func (c *certifiedConn) Listen(q xrv.Queue, subject string, cb xrv.Callback) (xrv.Listener, error) {
	if c.closed.Load() {
		return nil, xrv.ErrClosed
	}
	if err := xrv.ValidateSubject(subject); err != nil {
		return nil, err
	}
	cl := &certifiedListener{subject: subject, q: q, cb: cb, owner: c}
	c.mu.Lock()
	c.listeners = append(c.listeners, cl)
	c.mu.Unlock()

	dmn := c.conn.dmn
	dmn.registerInterest(c.params.Name, subject)
	dmn.listenerJoined(cl)
	return cl, nil
}

// Destroy destroys the certified listeners, releases the name and flushes
// the ledger. Unconfirmed entries survive in a file ledger.
func (c *certifiedConn) Destroy() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	ls := c.listeners
	c.listeners = nil
	c.mu.Unlock()
	for _, cl := range ls {
		cl.destroyed.Store(true)
	}
	c.conn.dmn.removeCertified(c)
	return c.ledger.flush()
}

func (c *certifiedConn) listenersFor(subject string) []*certifiedListener {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*certifiedListener
	for _, cl := range c.listeners {
		if !cl.destroyed.Load() && xrv.MatchSubject(cl.subject, subject) {
			out = append(out, cl)
		}
	}
	return out
}

func (c *certifiedConn) allListeners() []*certifiedListener {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*certifiedListener, len(c.listeners))
	copy(out, c.listeners)
	return out
}

func (c *certifiedConn) removeListener(cl *certifiedListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, l := range c.listeners {
		if l == cl {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return
		}
	}
}

// deliverTracked posts m to cl and confirms e once the callback returns.
func (c *certifiedConn) deliverTracked(cl *certifiedListener, e entry, m *xrv.Msg) {
	drv := c.conn.drv
	err := cl.q.Post(func() {
		if cl.destroyed.Load() {
			return
		}
		if e.expired(drv.now()) {
			c.expire(e)
			return
		}
		drv.metrics.delivered.Add(1)
		cl.cb(cl, m)
		c.confirm(e)
	})
	if err != nil {
		drv.logger.Debug().Err(err).Str("subject", e.Subject).Msg("memory: queue rejected certified event")
	}
}

// confirm clears e from the ledger and publishes the delivery advisory.
func (c *certifiedConn) confirm(e entry) {
	drv := c.conn.drv
	removed, err := c.ledger.remove(e.key())
	if err != nil {
		drv.logger.Warn().Err(err).Str("ledger", c.params.LedgerFile).Msg("memory: ledger write failed")
	}
	if !removed {
		return
	}
	drv.metrics.confirmed.Add(1)

	adv := xrv.NewMsg()
	adv.SetSendSubject(xrv.ConfirmSubject(e.Subject))
	_ = adv.AddU64("seqno", e.Seqno)
	_ = adv.AddString("listener", e.Listener)
	_ = adv.AddString("subject", e.Subject)
	c.conn.dmn.publish(drv, adv)
}

func (c *certifiedConn) expire(e entry) {
	drv := c.conn.drv
	if removed, _ := c.ledger.remove(e.key()); removed {
		drv.metrics.expired.Add(1)
	}
}

// replay redelivers the unexpired entries pending for name on cl's subject.
func (c *certifiedConn) replay(name string, cl *certifiedListener) {
	drv := c.conn.drv
	now := drv.now()
	for _, e := range c.ledger.pendingFor(name, cl.subject) {
		if e.expired(now) {
			c.expire(e)
			continue
		}
		m, err := xrv.DecodeMsg(e.Msg)
		if err != nil {
			drv.logger.Warn().Err(err).Str("subject", e.Subject).Msg("memory: corrupt ledger entry dropped")
			_, _ = c.ledger.remove(e.key())
			continue
		}
		drv.metrics.redelivered.Add(1)
		c.deliverTracked(cl, e, m)
	}
}

func (c *certifiedConn) discard(name, pattern string) {
	if _, err := c.ledger.dropFor(name, pattern); err != nil {
		c.conn.drv.logger.Warn().Err(err).Str("ledger", c.params.LedgerFile).Msg("memory: ledger write failed")
	}
}

type certifiedListener struct {
	subject string
	q       xrv.Queue
	cb      xrv.Callback
	owner   *certifiedConn

	destroyed atomic.Bool
}

var _ xrv.Listener = (*certifiedListener)(nil)

func (l *certifiedListener) Subject() string { return l.subject }

func (l *certifiedListener) Destroy() error {
	if l.destroyed.Swap(true) {
		return nil
	}
	l.owner.removeListener(l)
	return nil
}
