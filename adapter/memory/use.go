package memory

import (
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xrv"
)

// Use returns a Builder wired to a fresh memory driver.
//
// Example:
//
//	c, err := memory.Use(memory.Defaults(),
//	    memory.WithLogger(logger),
//	).BuildConsumer("orders.>", handler)
func Use(cfg Config, opts ...Option) *xrv.Builder {
	b := xrv.NewBuilder().WithDriverInstance(NewDriver(cfg))
	for _, o := range opts {
		if o != nil {
			o(b)
		}
	}
	return b
}

// Option configures the xrv.Builder when calling Use.
type Option func(*xrv.Builder)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(b *xrv.Builder) { b.WithLogger(l) }
}

// WithClock injects a custom xclock clock.
func WithClock(c xclock.Clock) Option {
	return func(b *xrv.Builder) { b.WithClock(c) }
}

// WithSession sets addressing; Daemon selects the in-process daemon.
func WithSession(cfg xrv.SessionConfig) Option {
	return func(b *xrv.Builder) { b.WithSession(cfg) }
}

// WithCertified switches the built clients to certified delivery.
func WithCertified(cfg xrv.CertifiedConfig) Option {
	return func(b *xrv.Builder) { b.WithCertified(cfg) }
}

// WithMiddleware adds consumer handler middlewares.
func WithMiddleware(mw ...xrv.Middleware) Option {
	return func(b *xrv.Builder) { b.WithMiddleware(mw...) }
}

// WithObserver attaches observers for lifecycle events.
func WithObserver(obs ...xrv.Observer) Option {
	return func(b *xrv.Builder) { b.WithObserver(obs...) }
}
