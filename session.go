package xrv

import (
	"context"
	"errors"
	"sync"

	"github.com/trickstertwo/xlog"
)

// Session owns a driver connection and the event queue its listeners post to.
// Lifecycle: Init once per activation, Start/Stop any number of times, Close.
// Close releases only what Init allocated, so it is safe after a failed Init.
type Session struct {
	cfg    SessionConfig
	driver Driver
	logger *xlog.Logger

	newQueue     func(name string) (Queue, error)
	defaultQueue func() Queue

	mu         sync.Mutex
	conn       Conn
	queue      Queue
	ownsQueue  bool
	dispatcher *Dispatcher
}

// NewSession creates an uninitialised session for cfg.
func NewSession(cfg SessionConfig, opts ...ClientOption) *Session {
	o := buildClientOptions(opts)
	return &Session{
		cfg:          cfg,
		driver:       o.driver,
		logger:       o.logger,
		newQueue:     o.newQueue,
		defaultQueue: o.defaultQueue,
	}
}

// Init opens the driver runtime, dials the bus and resolves the queue:
// a dedicated queue when QueueName is set, else the process default queue.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return ErrAlreadyInitialized
	}

	if s.driver == nil {
		d, err := NewDriver(s.cfg.driverName(), s.cfg.DriverConfig)
		if err != nil {
			return &ConfigurationError{Field: "driver", Reason: "cannot create driver", Err: err}
		}
		s.driver = d
	}
	if err := ensureRuntimeOpen(s.driver); err != nil {
		return transportError("open", err)
	}

	conn, err := s.driver.Dial(ctx, s.cfg.addr())
	if err != nil {
		return transportError("dial", err)
	}
	s.conn = conn

	if s.cfg.QueueName != "" {
		q, err := s.newQueue(s.cfg.QueueName)
		if err != nil {
			return transportError("create queue", err)
		}
		s.queue = q
		s.ownsQueue = true
	} else {
		s.queue = s.defaultQueue()
		s.ownsQueue = false
	}

	s.logger.Debug().
		Str("driver", s.driver.Name()).
		Str("service", s.cfg.Service).
		Str("network", s.cfg.Network).
		Str("daemon", s.cfg.Daemon).
		Str("queue", s.cfg.QueueName).
		Msg("xrv: session initialised")
	return nil
}

// Start begins dispatching queued events. Calling Start while running is a no-op.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue == nil {
		return ErrNotInitialized
	}
	if s.dispatcher != nil {
		return nil
	}
	s.dispatcher = NewDispatcher(s.queue, s.logger)
	return nil
}

// Stop halts dispatching. It leaves the connection and queue untouched
// and must not be called from a listener callback.
func (s *Session) Stop() error {
	s.mu.Lock()
	d := s.dispatcher
	s.dispatcher = nil
	s.mu.Unlock()
	if d != nil {
		d.Destroy()
	}
	return nil
}

// Close destroys the dispatcher, the connection and the queue when the
// session created it. The default queue is never destroyed.
func (s *Session) Close() error {
	s.mu.Lock()
	d, conn, q, owns := s.dispatcher, s.conn, s.queue, s.ownsQueue
	s.dispatcher, s.conn, s.queue, s.ownsQueue = nil, nil, nil, false
	s.mu.Unlock()

	if d != nil {
		d.Destroy()
	}
	var errs []error
	if conn != nil {
		if err := conn.Destroy(); err != nil {
			errs = append(errs, transportError("destroy connection", err))
		}
	}
	if q != nil && owns {
		if err := q.Destroy(); err != nil {
			errs = append(errs, transportError("destroy queue", err))
		}
	}
	return errors.Join(errs...)
}

// Send publishes m on the best-effort connection.
func (s *Session) Send(ctx context.Context, m *Msg) error {
	if m == nil {
		return argError("msg", "nil")
	}
	conn := s.Conn()
	if conn == nil {
		return ErrNotInitialized
	}
	return transportError("send", conn.Send(ctx, m))
}

// Conn returns the live connection, or nil before Init.
func (s *Session) Conn() Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Queue returns the resolved queue, or nil before Init.
func (s *Session) Queue() Queue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue
}

// Driver returns the resolved driver, or nil before Init when none was injected.
func (s *Session) Driver() Driver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.driver
}

// Running reports whether a dispatcher is active.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatcher != nil
}

func (s *Session) String() string { return s.cfg.String() }

// listen registers a raw listener on the session connection and queue.
func (s *Session) listen(subject string, cb Callback) (Listener, error) {
	s.mu.Lock()
	conn, q := s.conn, s.queue
	s.mu.Unlock()
	if conn == nil || q == nil {
		return nil, ErrNotInitialized
	}
	l, err := conn.Listen(q, subject, cb)
	if err != nil {
		return nil, transportError("listen", err)
	}
	return l, nil
}
