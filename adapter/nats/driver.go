package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	gonats "github.com/nats-io/nats.go"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xrv"
)

// Adapter: NATS Driver (Strategy + Adapter patterns)

const DriverName = "nats"

func init() {
	if err := xrv.RegisterDriver(DriverName, func(cfg map[string]any) (xrv.Driver, error) {
		return NewDriver(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xrv: failed to register driver %q: %w", DriverName, err))
	}
}

// ErrForeignConn is returned when NewCertified gets a connection from another driver.
var ErrForeignConn = errors.New("nats: connection was not dialed by the nats driver")

// Driver implements xrv.Driver over NATS. Core subjects carry standard
// delivery; a JetStream stream per service with a durable pull consumer
// per certified name and subject carries certified delivery.
type Driver struct {
	cfg    Config
	logger *xlog.Logger
	now    func() time.Time

	metrics *driverMetrics
}

type driverMetrics struct {
	published     atomic.Uint64
	received      atomic.Uint64
	confirmed     atomic.Uint64
	expired       atomic.Uint64
	decodeErrors  atomic.Uint64
	consumeErrors atomic.Uint64
	duplicates    atomic.Uint64
}

var _ xrv.Driver = (*Driver)(nil)

// NewDriver validates cfg and creates the driver.
func NewDriver(cfg Config) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Driver{
		cfg:     cfg,
		logger:  xlog.Default(),
		now:     xclock.Default().Now,
		metrics: &driverMetrics{},
	}, nil
}

// WithLogger sets the logger used for connection events and fetch loops.
func (d *Driver) WithLogger(l *xlog.Logger) *Driver {
	if l != nil {
		d.logger = l
	}
	return d
}

func (d *Driver) Name() string { return DriverName }

// Open has nothing process-wide to prepare; connections are per Dial.
func (d *Driver) Open() error { return nil }

// Dial connects to addr.Daemon (or Config.URL). Service, when set, becomes
// the leading subject token of everything sent and received.
func (d *Driver) Dial(ctx context.Context, addr xrv.Addr) (xrv.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	url := d.cfg.URL
	if addr.Daemon != "" {
		url = addr.Daemon
	}
	opts := []gonats.Option{
		gonats.Name(d.cfg.Name),
		gonats.Timeout(d.cfg.Timeout),
		gonats.ReconnectWait(d.cfg.ReconnectWait),
		gonats.MaxReconnects(d.cfg.MaxReconnects),
		gonats.DisconnectErrHandler(func(_ *gonats.Conn, err error) {
			if err != nil {
				d.logger.Warn().Err(err).Str("url", url).Msg("nats: disconnected")
			}
		}),
		gonats.ReconnectHandler(func(nc *gonats.Conn) {
			d.logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats: reconnected")
		}),
	}
	switch {
	case d.cfg.Token != "":
		opts = append(opts, gonats.Token(d.cfg.Token))
	case d.cfg.User != "":
		opts = append(opts, gonats.UserInfo(d.cfg.User, d.cfg.Password))
	}

	nc, err := gonats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", url, err)
	}
	prefix := ""
	if addr.Service != "" {
		prefix = addr.Service + "."
	}
	return &conn{drv: d, nc: nc, service: addr.Service, prefix: prefix}, nil
}

// NewCertified layers JetStream delivery over a connection from Dial and
// makes sure the service stream exists. Ledger files are not used.
func (d *Driver) NewCertified(ctx context.Context, c xrv.Conn, p xrv.CertifiedParams) (xrv.CertifiedConn, error) {
	nc, ok := c.(*conn)
	if !ok || nc.drv != d {
		return nil, ErrForeignConn
	}
	if p.Name == "" {
		return nil, errors.New("nats: certified name must not be empty")
	}
	js, err := nc.nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("nats: jetstream: %w", err)
	}
	cc := &certifiedConn{
		conn:   nc,
		params: p,
		js:     js,
		stream: d.streamName(nc.service),
		base:   nc.prefix + certifiedToken + ".",
	}
	if err := cc.ensureStream(ctx); err != nil {
		return nil, err
	}
	if p.LedgerFile != "" {
		d.logger.Debug().Str("ledger_file", p.LedgerFile).Msg("nats: ledger file ignored, jetstream keeps the ledger")
	}
	return cc, nil
}

func (d *Driver) streamName(service string) string {
	if service == "" {
		service = "default"
	}
	return d.cfg.StreamPrefix + "_" + sanitizeName(service)
}

// Stats returns driver telemetry.
type Stats struct {
	Published     uint64
	Received      uint64
	Confirmed     uint64
	Expired       uint64
	DecodeErrors  uint64
	ConsumeErrors uint64
	// Duplicates counts redeliveries of entries already waiting in the queue.
	Duplicates uint64
}

// Stats returns current driver metrics.
func (d *Driver) Stats() Stats {
	return Stats{
		Published:     d.metrics.published.Load(),
		Received:      d.metrics.received.Load(),
		Confirmed:     d.metrics.confirmed.Load(),
		Expired:       d.metrics.expired.Load(),
		DecodeErrors:  d.metrics.decodeErrors.Load(),
		ConsumeErrors: d.metrics.consumeErrors.Load(),
		Duplicates:    d.metrics.duplicates.Load(),
	}
}

// sanitizeName maps s onto the characters JetStream allows in stream and
// consumer names.
func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == '*':
			b.WriteString("STAR")
		case r == '>':
			b.WriteString("GT")
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
