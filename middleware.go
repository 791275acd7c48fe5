package xrv

import (
	"context"
	"fmt"
	"time"
)

// Handler processes one inbound message. A returned error is logged and the
// message dropped; consumers never retry.
type Handler func(ctx context.Context, msg *Message) error

// Middleware composes processing concerns around a Handler.
type Middleware func(next Handler) Handler

// TimeoutMiddleware bounds handler processing time. On expiry the handler
// keeps running in the background and context.DeadlineExceeded is returned.
func TimeoutMiddleware(d time.Duration) Middleware {
	if d <= 0 {
		return func(next Handler) Handler { return next }
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, msg *Message) error {
			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			errCh := make(chan error, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						errCh <- fmt.Errorf("panic recovered: %v", r)
					}
				}()
				errCh <- next(tctx, msg)
			}()

			select {
			case <-tctx.Done():
				return tctx.Err()
			case err := <-errCh:
				return err
			}
		}
	}
}

// RecoveryMiddleware converts handler panics into errors.
func RecoveryMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg *Message) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic recovered: %v", r)
				}
			}()
			return next(ctx, msg)
		}
	}
}

// FilterMiddleware drops messages for which keep returns false.
func FilterMiddleware(keep func(*Message) bool) Middleware {
	return func(next Handler) Handler {
		if keep == nil {
			return next
		}
		return func(ctx context.Context, msg *Message) error {
			if !keep(msg) {
				return nil
			}
			return next(ctx, msg)
		}
	}
}

// Chain composes middlewares around a handler; the first wraps outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	wrapped := h
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}
