package xrv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/trickstertwo/xlog"
)

// CertifiedClient delivers with acknowledgement tracking over a certified
// transport layered on the session connection. Every sent message carries
// the configured delivery time limit.
type CertifiedClient struct {
	cfg     CertifiedConfig
	session *Session
	logger  *xlog.Logger

	mu        sync.Mutex
	cm        CertifiedConn
	listeners []Listener
	confirms  []Listener
}

// NewCertifiedClient validates cfg and creates the client.
func NewCertifiedClient(cfg CertifiedConfig, opts ...ClientOption) (*CertifiedClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildClientOptions(opts)
	return &CertifiedClient{
		cfg:     cfg,
		session: NewSession(cfg.Session, opts...),
		logger:  o.logger.With(xlog.Str("unique_name", cfg.UniqueName)),
	}, nil
}

// Init initialises the session, then creates the certified transport named
// UniqueName with a synchronously written ledger.
func (c *CertifiedClient) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cm != nil {
		return ErrAlreadyInitialized
	}
	if err := c.session.Init(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(c.cfg.UniqueName) == "" {
		return configError("unique_name", "required")
	}
	cm, err := c.session.Driver().NewCertified(ctx, c.session.Conn(), CertifiedParams{
		Name:       c.cfg.UniqueName,
		RequestOld: c.cfg.RequestOld,
		LedgerFile: c.cfg.LedgerFile,
		SyncLedger: true,
	})
	if err != nil {
		return transportError("create certified transport", err)
	}
	c.cm = cm
	c.logger.Info().
		Str("ledger_file", c.cfg.LedgerFile).
		Str("request_old", strconv.FormatBool(c.cfg.RequestOld)).
		Msg("xrv: certified transport created")
	return nil
}

func (c *CertifiedClient) Start() error { return c.session.Start() }
func (c *CertifiedClient) Stop() error  { return c.session.Stop() }

// Send stamps the delivery time limit on m and sends it certified.
// Sub-second limits are truncated to whole seconds.
func (c *CertifiedClient) Send(ctx context.Context, m *Msg) error {
	if m == nil {
		return argError("msg", "nil")
	}
	cm := c.certified()
	if cm == nil {
		return ErrNotInitialized
	}
	if err := SetTimeLimit(m, c.cfg.DeliveryTimeLimit.Truncate(time.Second)); err != nil {
		return err
	}
	return transportError("send", cm.Send(ctx, m))
}

// CreateMessageListener adds a certified listener for subject.
func (c *CertifiedClient) CreateMessageListener(cb Callback, subject string) error {
	if cb == nil {
		return argError("callback", "nil")
	}
	if subject == "" {
		return argError("subject", "empty")
	}
	cm := c.certified()
	q := c.session.Queue()
	if cm == nil || q == nil {
		return ErrNotInitialized
	}
	l, err := cm.Listen(q, subject, cb)
	if err != nil {
		return transportError("listen", err)
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
	c.logger.Debug().Str("subject", subject).Msg("xrv: certified listener created")
	return nil
}

// CreateConfirmationListener listens on ConfirmationSubject when configured
// and does nothing otherwise.
func (c *CertifiedClient) CreateConfirmationListener(cb Callback) error {
	if c.cfg.ConfirmationSubject == "" {
		return nil
	}
	if cb == nil {
		return argError("callback", "nil")
	}
	l, err := c.session.listen(c.cfg.ConfirmationSubject, cb)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.confirms = append(c.confirms, l)
	c.mu.Unlock()
	c.logger.Debug().Str("subject", c.cfg.ConfirmationSubject).Msg("xrv: confirmation listener created")
	return nil
}

// Close destroys message listeners, confirmation listeners, the certified
// transport and the session, in that order.
func (c *CertifiedClient) Close() error {
	c.mu.Lock()
	ls, confirms, cm := c.listeners, c.confirms, c.cm
	c.listeners, c.confirms, c.cm = nil, nil, nil
	c.mu.Unlock()

	var errs []error
	for _, l := range ls {
		if err := l.Destroy(); err != nil {
			errs = append(errs, transportError("destroy listener", err))
		}
	}
	for _, l := range confirms {
		if err := l.Destroy(); err != nil {
			errs = append(errs, transportError("destroy confirmation listener", err))
		}
	}
	if cm != nil {
		if err := cm.Destroy(); err != nil {
			errs = append(errs, transportError("destroy certified transport", err))
		}
	}
	if err := c.session.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *CertifiedClient) certified() CertifiedConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cm
}

// Session exposes the underlying session.
func (c *CertifiedClient) Session() *Session { return c.session }

func (c *CertifiedClient) String() string {
	return fmt.Sprintf("CertifiedClient{%s}", c.cfg)
}
