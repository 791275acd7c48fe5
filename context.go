package xrv

import (
	"context"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

type ctxKey string

const (
	loggerCtxKey  ctxKey = "xrv:logger"
	clockCtxKey   ctxKey = "xrv:clock"
	subjectCtxKey ctxKey = "xrv:subject"
)

// handlerContext builds the context a consumer hands to its handler for a
// message that arrived on subject. Nil or empty values are not attached.
func handlerContext(parent context.Context, logger *xlog.Logger, clock xclock.Clock, subject string) context.Context {
	ctx := parent
	if logger != nil {
		ctx = context.WithValue(ctx, loggerCtxKey, logger)
	}
	if clock != nil {
		ctx = context.WithValue(ctx, clockCtxKey, clock)
	}
	return injectSubject(ctx, subject)
}

func injectSubject(ctx context.Context, subject string) context.Context {
	if subject == "" {
		return ctx
	}
	return context.WithValue(ctx, subjectCtxKey, subject)
}

func fromContext[T comparable](ctx context.Context, key ctxKey) (T, bool) {
	var zero T
	v, ok := ctx.Value(key).(T)
	return v, ok && v != zero
}

// LoggerFromContext returns the logger of the consumer running the handler.
func LoggerFromContext(ctx context.Context) (*xlog.Logger, bool) {
	return fromContext[*xlog.Logger](ctx, loggerCtxKey)
}

// ClockFromContext returns the consumer clock.
func ClockFromContext(ctx context.Context) (xclock.Clock, bool) {
	return fromContext[xclock.Clock](ctx, clockCtxKey)
}

// SubjectFromContext returns the send subject of the message being handled.
// For wildcard listeners this is the concrete subject, not the pattern.
func SubjectFromContext(ctx context.Context) (string, bool) {
	return fromContext[string](ctx, subjectCtxKey)
}
