package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xrv"
)

const DriverName = "memory"

func init() {
	if err := xrv.RegisterDriver(DriverName, func(cfg map[string]any) (xrv.Driver, error) {
		return NewDriver(ConfigFromMap(cfg)), nil
	}); err != nil {
		panic(fmt.Errorf("xrv/memory: failed to register driver: %w", err))
	}
}

var (
	// ErrNameInUse is returned when a certified name is already held by a live transport.
	ErrNameInUse = errors.New("memory: certified name already in use")
	// ErrForeignConn is returned when NewCertified gets a connection from another driver.
	ErrForeignConn = errors.New("memory: connection was not dialed by the memory driver")
)

// Config controls memory driver behavior.
type Config struct {
	// DefaultDaemon names the in-process daemon used when Addr.Daemon is empty (default: "local").
	DefaultDaemon string
	// CopyOnDeliver hands every listener its own copy of the message (default: true).
	CopyOnDeliver bool
}

// Defaults returns a Config with defaults applied.
func Defaults() Config {
	return Config{DefaultDaemon: "local", CopyOnDeliver: true}
}

func ConfigFromMap(cfg map[string]any) Config {
	getString := func(k, d string) string {
		if v, ok := cfg[k].(string); ok && v != "" {
			return v
		}
		return d
	}
	getBool := func(k string, d bool) bool {
		if v, ok := cfg[k].(bool); ok {
			return v
		}
		return d
	}
	def := Defaults()
	return Config{
		DefaultDaemon: getString("default_daemon", def.DefaultDaemon),
		CopyOnDeliver: getBool("copy_on_deliver", def.CopyOnDeliver),
	}
}

// toMap converts Config to the generic map expected by the driver factory.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"default_daemon":  c.DefaultDaemon,
		"copy_on_deliver": c.CopyOnDeliver,
	}
}

// Driver implements xrv.Driver with in-process daemons. Each distinct Addr
// reaches its own daemon shared by every connection in the process. Certified
// delivery keeps a per-sender ledger, optionally persisted to a file.
// Not a network bus, but the reference for certified delivery semantics.
type Driver struct {
	cfg    Config
	logger *xlog.Logger
	now    func() time.Time

	metrics *driverMetrics
}

type driverMetrics struct {
	sent        atomic.Uint64
	delivered   atomic.Uint64
	confirmed   atomic.Uint64
	redelivered atomic.Uint64
	expired     atomic.Uint64
}

var _ xrv.Driver = (*Driver)(nil)

// NewDriver creates a memory driver.
func NewDriver(cfg Config) *Driver {
	if cfg.DefaultDaemon == "" {
		cfg.DefaultDaemon = Defaults().DefaultDaemon
	}
	return &Driver{
		cfg:     cfg,
		logger:  xlog.Default(),
		now:     xclock.Default().Now,
		metrics: &driverMetrics{},
	}
}

// WithLogger sets the logger used for ledger failures.
func (d *Driver) WithLogger(l *xlog.Logger) *Driver {
	if l != nil {
		d.logger = l
	}
	return d
}

func (d *Driver) Name() string { return DriverName }

// Open marks the in-process runtime open. The runtime is shared by every
// memory driver, like the daemons.
func (d *Driver) Open() error {
	runtimeOpened.Store(true)
	return nil
}

// Dial connects to the daemon addressed by addr, creating it on first use.
func (d *Driver) Dial(ctx context.Context, addr xrv.Addr) (xrv.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !runtimeOpened.Load() {
		return nil, errors.New("memory: driver not opened")
	}
	return &conn{drv: d, dmn: daemonFor(d.key(addr)), addr: addr}, nil
}

// NewCertified creates a certified transport named p.Name over c.
func (d *Driver) NewCertified(ctx context.Context, c xrv.Conn, p xrv.CertifiedParams) (xrv.CertifiedConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mc, ok := c.(*conn)
	if !ok || mc.drv != d {
		return nil, ErrForeignConn
	}
	if mc.closed.Load() {
		return nil, xrv.ErrClosed
	}
	if p.Name == "" {
		return nil, errors.New("memory: certified name must not be empty")
	}
	led, err := openLedger(p.LedgerFile, p.Name, p.SyncLedger)
	if err != nil {
		return nil, err
	}
	cm := &certifiedConn{conn: mc, params: p, ledger: led}
	if err := mc.dmn.addCertified(cm); err != nil {
		return nil, err
	}
	// a reopened file ledger may hold messages for listeners that are live now
	mc.dmn.redeliverFrom(cm)
	return cm, nil
}

func (d *Driver) key(a xrv.Addr) string {
	dm := a.Daemon
	if dm == "" {
		dm = d.cfg.DefaultDaemon
	}
	return a.Service + "|" + a.Network + "|" + dm
}

func (d *Driver) prepare(m *xrv.Msg) *xrv.Msg {
	if d.cfg.CopyOnDeliver {
		return m.Clone()
	}
	return m
}

// Stats returns driver telemetry.
type Stats struct {
	Sent        uint64
	Delivered   uint64
	Confirmed   uint64
	Redelivered uint64
	Expired     uint64
}

// Stats returns current driver metrics.
func (d *Driver) Stats() Stats {
	return Stats{
		Sent:        d.metrics.sent.Load(),
		Delivered:   d.metrics.delivered.Load(),
		Confirmed:   d.metrics.confirmed.Load(),
		Redelivered: d.metrics.redelivered.Load(),
		Expired:     d.metrics.expired.Load(),
	}
}

// conn is a best-effort connection to a daemon.
type conn struct {
	drv  *Driver
	dmn  *daemon
	addr xrv.Addr

	mu        sync.Mutex
	listeners []*listener
	closed    atomic.Bool
}

var _ xrv.Conn = (*conn)(nil)

func (c *conn) Send(ctx context.Context, m *xrv.Msg) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closed.Load() {
		return xrv.ErrClosed
	}
	if err := checkSendSubject(m); err != nil {
		return err
	}
	c.drv.metrics.sent.Add(1)
	c.dmn.publish(c.drv, m)
	return nil
}

func (c *conn) Listen(q xrv.Queue, subject string, cb xrv.Callback) (xrv.Listener, error) {
	if c.closed.Load() {
		return nil, xrv.ErrClosed
	}
	if err := xrv.ValidateSubject(subject); err != nil {
		return nil, err
	}
	l := &listener{subject: subject, q: q, cb: cb, dmn: c.dmn}
	c.dmn.addListener(l)
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
	return l, nil
}

// Destroy destroys every listener created on c.
func (c *conn) Destroy() error {
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

func checkSendSubject(m *xrv.Msg) error {
	if m == nil {
		return errors.New("memory: nil message")
	}
	if err := xrv.ValidateSubject(m.SendSubject()); err != nil {
		return err
	}
	if xrv.IsWildcard(m.SendSubject()) {
		return fmt.Errorf("memory: cannot send to wildcard subject %q", m.SendSubject())
	}
	return nil
}

// listener posts matching messages to its queue. Events still queued when
// it is destroyed are skipped.
type listener struct {
	subject string
	q       xrv.Queue
	cb      xrv.Callback
	dmn     *daemon

	id        uint64
	destroyed atomic.Bool
}

var _ xrv.Listener = (*listener)(nil)

func (l *listener) Subject() string { return l.subject }

func (l *listener) Destroy() error {
	if l.destroyed.Swap(true) {
		return nil
	}
	l.dmn.removeListener(l)
	return nil
}

func (l *listener) deliver(drv *Driver, m *xrv.Msg) {
	err := l.q.Post(func() {
		if l.destroyed.Load() {
			return
		}
		drv.metrics.delivered.Add(1)
		l.cb(l, m)
	})
	if err != nil {
		drv.logger.Debug().Err(err).Str("subject", l.subject).Msg("memory: queue rejected event")
	}
}
