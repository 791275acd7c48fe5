package xrv

import (
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Builder assembles clients, consumers and producers from named drivers and
// translators (Builder pattern).
type Builder struct {
	session    SessionConfig
	certified  *CertifiedConfig
	driverInst Driver

	translatorName string
	translatorCfg  map[string]any

	middlewares []Middleware
	observers   []Observer
	pool        *ObserverPool
	logger      *xlog.Logger
	clock       xclock.Clock
}

// NewBuilder returns a builder for a standard client on the default driver.
func NewBuilder() *Builder {
	return &Builder{translatorName: StandardTranslatorName}
}

// WithSession sets addressing and queue configuration.
func (b *Builder) WithSession(cfg SessionConfig) *Builder {
	b.session = cfg
	return b
}

// WithDriver selects a registered driver by name.
func (b *Builder) WithDriver(name string, cfg map[string]any) *Builder {
	b.session.Driver = name
	b.session.DriverConfig = cfg
	return b
}

// WithDriverInstance accepts a ready Driver (e.g. from an adapter Use()).
func (b *Builder) WithDriverInstance(d Driver) *Builder {
	b.driverInst = d
	return b
}

// WithCertified switches to certified delivery. cfg.Session is replaced by
// the builder's session configuration.
func (b *Builder) WithCertified(cfg CertifiedConfig) *Builder {
	b.certified = &cfg
	return b
}

func (b *Builder) WithTranslator(name string, cfg map[string]any) *Builder {
	b.translatorName = name
	b.translatorCfg = cfg
	return b
}

func (b *Builder) WithMiddleware(mw ...Middleware) *Builder {
	b.middlewares = append(b.middlewares, mw...)
	return b
}

func (b *Builder) WithObserver(obs ...Observer) *Builder {
	for _, o := range obs {
		if o != nil {
			b.observers = append(b.observers, o)
		}
	}
	return b
}

func (b *Builder) WithObserverPool(p *ObserverPool) *Builder {
	b.pool = p
	return b
}

func (b *Builder) WithLogger(l *xlog.Logger) *Builder {
	b.logger = l
	return b
}

func (b *Builder) WithClock(c xclock.Clock) *Builder {
	b.clock = c
	return b
}

func (b *Builder) log() *xlog.Logger {
	if b.logger != nil {
		return b.logger
	}
	return xlog.Default()
}

// BuildClient creates the configured client.
func (b *Builder) BuildClient() (Client, error) {
	opts := []ClientOption{WithClientLogger(b.log())}
	if b.driverInst != nil {
		opts = append(opts, WithDriver(b.driverInst))
	}
	if b.certified != nil {
		cfg := *b.certified
		cfg.Session = b.session
		return NewCertifiedClient(cfg, opts...)
	}
	return NewStandardClient(b.session, opts...), nil
}

// BuildConsumer creates a consumer of subject handled by h.
func (b *Builder) BuildConsumer(subject string, h Handler) (*Consumer, error) {
	opts, err := b.bindingOptions()
	if err != nil {
		return nil, err
	}
	return NewConsumer(subject, append(opts, WithHandler(h), WithMiddleware(b.middlewares...))...)
}

// BuildProducer creates a producer sending to dest.
func (b *Builder) BuildProducer(dest Destination) (*Producer, error) {
	opts, err := b.bindingOptions()
	if err != nil {
		return nil, err
	}
	return NewProducer(dest, opts...)
}

func (b *Builder) bindingOptions() ([]Option, error) {
	client, err := b.BuildClient()
	if err != nil {
		return nil, err
	}
	tr, err := NewTranslator(b.translatorName, b.translatorCfg)
	if err != nil {
		return nil, err
	}
	lg := b.log()
	opts := []Option{
		WithClient(client),
		WithTranslator(tr),
		WithLogger(lg),
		WithObserverPool(b.pool),
	}
	if b.clock != nil {
		opts = append(opts, WithClock(b.clock))
	}

	// logging observer first unless one was supplied
	hasLoggingObserver := false
	for _, o := range b.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLoggingObserver = true
			break
		}
	}
	if !hasLoggingObserver {
		opts = append(opts, WithObserver(LoggingObserver{Logger: lg}))
	}
	for _, o := range b.observers {
		opts = append(opts, WithObserver(o))
	}
	return opts, nil
}
