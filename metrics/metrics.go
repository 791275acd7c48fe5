// Package metrics exports xrv lifecycle events as Prometheus metrics.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/trickstertwo/xrv"
)

// Observer counts events and records handler and send durations by event
// type and subject.
type Observer struct {
	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
}

var _ xrv.Observer = (*Observer)(nil)

// Opts configures NewObserver. Namespace defaults to "xrv".
type Opts struct {
	Namespace string
	Buckets   []float64
}

// NewObserver creates the collectors and registers them on reg, or on the
// default registerer when reg is nil. Collectors already registered with
// the same descriptors are reused.
func NewObserver(reg prometheus.Registerer, opts Opts) (*Observer, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if opts.Namespace == "" {
		opts.Namespace = "xrv"
	}
	if len(opts.Buckets) == 0 {
		opts.Buckets = prometheus.DefBuckets
	}

	events := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "events_total",
			Help:      "Consumer and producer lifecycle events.",
		},
		[]string{"type", "subject"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: opts.Namespace,
			Name:      "processing_seconds",
			Help:      "Handler and send duration in seconds.",
			Buckets:   opts.Buckets,
		},
		[]string{"type", "subject"},
	)
	errs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "errors_total",
			Help:      "Events that carried an error.",
		},
		[]string{"type", "subject"},
	)

	o := &Observer{}
	var err error
	if o.events, err = register(reg, events); err != nil {
		return nil, err
	}
	if o.duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	if o.errors, err = register(reg, errs); err != nil {
		return nil, err
	}
	return o, nil
}

// MustObserver is NewObserver that panics on registration errors.
func MustObserver(reg prometheus.Registerer, opts Opts) *Observer {
	o, err := NewObserver(reg, opts)
	if err != nil {
		panic(err)
	}
	return o
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}

func (o *Observer) OnEvent(e xrv.Event) {
	labels := prometheus.Labels{"type": string(e.Type), "subject": e.Subject}
	o.events.With(labels).Inc()
	if e.Err != nil {
		o.errors.With(labels).Inc()
	}
	if e.Duration > 0 {
		o.duration.With(labels).Observe(e.Duration.Seconds())
	}
}
