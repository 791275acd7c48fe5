package xrv

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/trickstertwo/xlog"
)

// Queue holds events awaiting dispatch. Drivers Post one event per inbound
// message; a Dispatcher drains the queue on its own goroutine.
type Queue interface {
	Name() string
	Post(ev func()) error
	Poll(ctx context.Context) (func(), error)
	Len() int
	Destroy() error
}

// eventQueue is unbounded: posting never blocks, so a callback may post into
// the queue it is being dispatched from.
type eventQueue struct {
	name string

	mu     sync.Mutex
	events []func()

	signal      chan struct{}
	done        chan struct{}
	destroyOnce sync.Once
	destroyed   atomic.Bool
}

var _ Queue = (*eventQueue)(nil)

var defaultQueue = sync.OnceValue(func() *eventQueue { return newEventQueue("") })

// DefaultQueue returns the process-wide shared queue. Clients never destroy it.
func DefaultQueue() Queue { return defaultQueue() }

// NewQueue creates a named queue owned by the caller.
func NewQueue(name string) (Queue, error) {
	if name == "" {
		return nil, argError("queue name", "empty")
	}
	return newEventQueue(name), nil
}

func newEventQueue(name string) *eventQueue {
	return &eventQueue{
		name:   name,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (q *eventQueue) Name() string { return q.name }

func (q *eventQueue) Post(ev func()) error {
	if ev == nil {
		return argError("event", "nil")
	}
	if q.destroyed.Load() {
		return fmt.Errorf("queue %q: %w", q.name, ErrClosed)
	}
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()
	q.wake()
	return nil
}

// Poll blocks until an event is available, ctx ends or the queue is destroyed.
// A done ctx wins over queued events.
func (q *eventQueue) Poll(ctx context.Context) (func(), error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q.mu.Lock()
		if n := len(q.events); n > 0 {
			ev := q.events[0]
			q.events[0] = nil
			q.events = q.events[1:]
			more := n > 1
			q.mu.Unlock()
			if more {
				// let another dispatcher sharing the queue pick up the rest
				q.wake()
			}
			return ev, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
			return nil, fmt.Errorf("queue %q: %w", q.name, ErrClosed)
		case <-q.signal:
		}
	}
}

func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Destroy discards pending events and wakes every poller.
func (q *eventQueue) Destroy() error {
	q.destroyOnce.Do(func() {
		q.destroyed.Store(true)
		q.mu.Lock()
		q.events = nil
		q.mu.Unlock()
		close(q.done)
	})
	return nil
}

func (q *eventQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Dispatcher pumps events from a Queue on a dedicated goroutine.
// Destroy must not be called from inside a dispatched callback.
type Dispatcher struct {
	queue  Queue
	logger *xlog.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	dispatched atomic.Uint64
	panics     atomic.Uint64
}

// NewDispatcher starts dispatching q.
func NewDispatcher(q Queue, logger *xlog.Logger) *Dispatcher {
	if logger == nil {
		logger = xlog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		queue:  q,
		logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go d.loop(ctx)
	return d
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.done)
	for ctx.Err() == nil {
		ev, err := d.queue.Poll(ctx)
		if err != nil {
			return
		}
		d.run(ev)
	}
}

func (d *Dispatcher) run(ev func()) {
	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			d.logger.Warn().Str("queue", d.queue.Name()).Str("panic", fmt.Sprint(r)).Msg("xrv: dispatched callback panic (recovered)")
		}
	}()
	d.dispatched.Add(1)
	ev()
}

// Dispatched reports how many events this dispatcher has run.
func (d *Dispatcher) Dispatched() uint64 { return d.dispatched.Load() }

// Destroy stops the dispatcher and waits for the in-flight event to finish.
func (d *Dispatcher) Destroy() {
	d.closeOnce.Do(func() {
		d.cancel()
		<-d.done
	})
}
