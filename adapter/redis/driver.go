package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xrv"
)

// Adapter: Redis Driver (Strategy + Adapter patterns)

const DriverName = "redis"

func init() {
	if err := xrv.RegisterDriver(DriverName, func(cfg map[string]any) (xrv.Driver, error) {
		return NewDriver(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xrv: failed to register driver %q: %w", DriverName, err))
	}
}

var (
	// ErrWildcardCertified is returned for certified listeners on wildcard subjects.
	ErrWildcardCertified = errors.New("redis: certified listeners need a concrete subject")
	// ErrForeignConn is returned when NewCertified gets a connection from another driver.
	ErrForeignConn = errors.New("redis: connection was not dialed by the redis driver")
)

// Driver implements xrv.Driver over Redis: pub/sub channels carry standard
// delivery, and one stream per subject with a consumer group per certified
// name carries certified delivery.
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

// WithLogger sets the logger used by listener loops.
func (d *Driver) WithLogger(l *xlog.Logger) *Driver {
	if l != nil {
		d.logger = l
	}
	return d
}

func (d *Driver) Name() string { return DriverName }

// Open has nothing process-wide to prepare; connections are per Dial.
func (d *Driver) Open() error { return nil }

// Dial connects to addr.Daemon (or Config.Addr) and pings it.
func (d *Driver) Dial(ctx context.Context, addr xrv.Addr) (xrv.Conn, error) {
	opts := &goredis.Options{
		Addr:         d.cfg.Addr,
		Username:     d.cfg.Username,
		Password:     d.cfg.Password,
		DB:           d.cfg.DB,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
	}
	if addr.Daemon != "" {
		opts.Addr = addr.Daemon
	}
	if d.cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion:    tls.VersionTLS12,
			ServerName:    d.cfg.TLSServerName,
			Renegotiation: tls.RenegotiateNever,
		}
	}
	client := goredis.NewClient(opts)
	if err := ping(ctx, client); err != nil {
		_ = client.Close()
		return nil, err
	}
	prefix := ""
	if addr.Service != "" {
		prefix = addr.Service + ":"
	}
	return &conn{drv: d, client: client, prefix: prefix}, nil
}

// NewCertified layers certified delivery over a connection from Dial.
// Ledger files are not used: the streams and consumer groups are the ledger.
func (d *Driver) NewCertified(ctx context.Context, c xrv.Conn, p xrv.CertifiedParams) (xrv.CertifiedConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc, ok := c.(*conn)
	if !ok || rc.drv != d {
		return nil, ErrForeignConn
	}
	if p.Name == "" {
		return nil, errors.New("redis: certified name must not be empty")
	}
	if p.LedgerFile != "" {
		d.logger.Debug().Str("ledger_file", p.LedgerFile).Msg("redis: ledger file ignored, streams keep the ledger")
	}
	return &certifiedConn{conn: rc, params: p}, nil
}

// Stats returns driver telemetry.
type Stats struct {
	Published     uint64
	Received      uint64
	Confirmed     uint64
	Expired       uint64
	DecodeErrors  uint64
	ConsumeErrors uint64
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
	}
}

func ping(ctx context.Context, c *goredis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	res, err := c.Ping(ctx).Result()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("redis ping timeout: %w", err)
		}
		return err
	}
	if strings.ToUpper(res) != "PONG" {
		return fmt.Errorf("unexpected redis ping result: %s", res)
	}
	return nil
}
