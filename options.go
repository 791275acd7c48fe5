package xrv

import (
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Option configures a Consumer or Producer.
type Option func(*bindingOptions)

type bindingOptions struct {
	client      Client
	translator  Translator
	factory     MessageFactory
	logger      *xlog.Logger
	clock       xclock.Clock
	observers   []Observer
	pool        *ObserverPool
	middlewares []Middleware
	handler     Handler
}

// WithClient sets the bus client. Default: a StandardClient on the default driver.
func WithClient(c Client) Option {
	return func(o *bindingOptions) { o.client = c }
}

// WithTranslator sets the message translator. Default: StandardTranslator with DefaultFieldNames.
func WithTranslator(t Translator) Option {
	return func(o *bindingOptions) { o.translator = t }
}

// WithMessageFactory sets the factory registered with the translator on Init.
func WithMessageFactory(f MessageFactory) Option {
	return func(o *bindingOptions) { o.factory = f }
}

func WithLogger(l *xlog.Logger) Option {
	return func(o *bindingOptions) { o.logger = l }
}

func WithClock(c xclock.Clock) Option {
	return func(o *bindingOptions) { o.clock = c }
}

// WithObserver adds an observer of lifecycle events.
func WithObserver(obs Observer) Option {
	return func(o *bindingOptions) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// WithObserverPool dispatches observer events asynchronously through p.
// The caller owns p and closes it.
func WithObserverPool(p *ObserverPool) Option {
	return func(o *bindingOptions) { o.pool = p }
}

// WithMiddleware appends consumer handler middlewares; the first wraps outermost.
func WithMiddleware(mws ...Middleware) Option {
	return func(o *bindingOptions) { o.middlewares = append(o.middlewares, mws...) }
}

// WithHandler sets the consumer message handler.
func WithHandler(h Handler) Option {
	return func(o *bindingOptions) { o.handler = h }
}

func buildBindingOptions(opts []Option) (bindingOptions, error) {
	var o bindingOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = xlog.Default()
	}
	if o.clock == nil {
		o.clock = xclock.Default()
	}
	if o.factory == nil {
		o.factory = DefaultFactory
	}
	if o.translator == nil {
		t, err := NewStandardTranslator(DefaultFieldNames())
		if err != nil {
			return o, err
		}
		o.translator = t
	}
	if o.client == nil {
		o.client = NewStandardClient(SessionConfig{}, WithClientLogger(o.logger))
	}
	return o, nil
}
