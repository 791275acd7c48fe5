package xrv

import (
	"context"

	"github.com/trickstertwo/xlog"
)

// Client is the Strategy over standard and certified delivery.
type Client interface {
	Init(ctx context.Context) error
	Start() error
	Stop() error
	Close() error
	Send(ctx context.Context, m *Msg) error
	CreateMessageListener(cb Callback, subject string) error
	CreateConfirmationListener(cb Callback) error
}

var (
	_ Client = (*StandardClient)(nil)
	_ Client = (*CertifiedClient)(nil)
)

// ClientOption configures clients and sessions.
type ClientOption func(*clientOptions)

type clientOptions struct {
	driver       Driver
	logger       *xlog.Logger
	newQueue     func(name string) (Queue, error)
	defaultQueue func() Queue
}

// WithDriver uses d instead of resolving SessionConfig.Driver from the registry.
func WithDriver(d Driver) ClientOption {
	return func(o *clientOptions) { o.driver = d }
}

// WithClientLogger sets the logger used by the client, its session and dispatcher.
func WithClientLogger(l *xlog.Logger) ClientOption {
	return func(o *clientOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// withQueues replaces queue construction; tests use it to observe queue teardown.
func withQueues(named func(string) (Queue, error), shared func() Queue) ClientOption {
	return func(o *clientOptions) {
		if named != nil {
			o.newQueue = named
		}
		if shared != nil {
			o.defaultQueue = shared
		}
	}
}

func buildClientOptions(opts []ClientOption) clientOptions {
	o := clientOptions{
		logger:       xlog.Default(),
		newQueue:     NewQueue,
		defaultQueue: DefaultQueue,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
