package xrv

import (
	"time"

	"github.com/trickstertwo/xlog"
)

// Observer receives consumer and producer lifecycle events. Implementations should be non-blocking.
type Observer interface {
	OnEvent(e Event)
}

// EventType enumerates lifecycle events for the Observer pattern.
type EventType string

const (
	ConsumeStart EventType = "consume_start"
	ConsumeDone  EventType = "consume_done"
	Drop         EventType = "drop"
	ProduceStart EventType = "produce_start"
	ProduceDone  EventType = "produce_done"
	Confirm      EventType = "confirm"
	Error        EventType = "error"
)

// Event carries telemetry for observers.
type Event struct {
	Type      EventType
	Subject   string
	MessageID string
	Duration  time.Duration
	Err       error

	// attached for async dispatch
	observers []Observer
}

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// LoggingObserver is an Adapter that emits Events via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("subject", e.Subject),
		xlog.Str("message_id", e.MessageID),
	)
	switch {
	case e.Type == Error, e.Type == Drop, e.Err != nil:
		ev.Warn().Err(e.Err).Msg("xrv event")
	default:
		if e.Duration > 0 {
			ev = ev.With(xlog.Dur("duration", e.Duration))
		}
		ev.Debug().Msg("xrv event")
	}
}

// notifier fans events out to observers, through a pool when one is set.
type notifier struct {
	pool      *ObserverPool
	observers []Observer
}

func (n notifier) notify(e Event) {
	if len(n.observers) == 0 {
		return
	}
	if n.pool != nil {
		n.pool.Notify(e, n.observers)
		return
	}
	for _, o := range n.observers {
		safeObserve(o, e)
	}
}

func safeObserve(o Observer, e Event) {
	if o == nil {
		return
	}
	defer func() { _ = recover() }()
	o.OnEvent(e)
}
