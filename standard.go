package xrv

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/trickstertwo/xlog"
)

// StandardClient delivers best-effort over a Session.
type StandardClient struct {
	cfg     SessionConfig
	session *Session
	logger  *xlog.Logger

	mu        sync.Mutex
	listeners []Listener
}

// NewStandardClient creates a client for cfg. Nothing is allocated until Init.
func NewStandardClient(cfg SessionConfig, opts ...ClientOption) *StandardClient {
	o := buildClientOptions(opts)
	return &StandardClient{
		cfg:     cfg,
		session: NewSession(cfg, opts...),
		logger:  o.logger,
	}
}

func (c *StandardClient) Init(ctx context.Context) error { return c.session.Init(ctx) }
func (c *StandardClient) Start() error                   { return c.session.Start() }
func (c *StandardClient) Stop() error                    { return c.session.Stop() }

func (c *StandardClient) Send(ctx context.Context, m *Msg) error { return c.session.Send(ctx, m) }

// CreateMessageListener adds a listener for subject. Calling it again adds
// another listener; all of them are destroyed on Close.
func (c *StandardClient) CreateMessageListener(cb Callback, subject string) error {
	if cb == nil {
		return argError("callback", "nil")
	}
	if subject == "" {
		return argError("subject", "empty")
	}
	l, err := c.session.listen(subject, cb)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
	c.logger.Debug().Str("subject", subject).Msg("xrv: message listener created")
	return nil
}

// CreateConfirmationListener is a no-op: standard delivery has no confirmations.
func (c *StandardClient) CreateConfirmationListener(Callback) error { return nil }

// Close destroys the client's listeners, then the session.
func (c *StandardClient) Close() error {
	c.mu.Lock()
	ls := c.listeners
	c.listeners = nil
	c.mu.Unlock()

	var errs []error
	for _, l := range ls {
		if err := l.Destroy(); err != nil {
			errs = append(errs, transportError("destroy listener", err))
		}
	}
	if err := c.session.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Session exposes the underlying session.
func (c *StandardClient) Session() *Session { return c.session }

func (c *StandardClient) String() string {
	return fmt.Sprintf("StandardClient{%s}", c.cfg)
}
