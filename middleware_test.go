package xrv

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

func TestTimeoutMiddleware(t *testing.T) {
	slow := func(ctx context.Context, _ *Message) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	err := TimeoutMiddleware(20*time.Millisecond)(slow)(context.Background(), NewMessage(nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	fast := func(context.Context, *Message) error { return nil }
	assert.NoError(t, TimeoutMiddleware(time.Second)(fast)(context.Background(), NewMessage(nil)))
	assert.NoError(t, TimeoutMiddleware(0)(fast)(context.Background(), NewMessage(nil)))

	panicky := func(context.Context, *Message) error { panic("x") }
	assert.Error(t, TimeoutMiddleware(time.Second)(panicky)(context.Background(), NewMessage(nil)))
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware()(func(context.Context, *Message) error { panic("boom") })
	err := h(context.Background(), NewMessage(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestFilterMiddleware(t *testing.T) {
	called := 0
	h := FilterMiddleware(func(m *Message) bool { return m.ID() == "keep" })(func(context.Context, *Message) error {
		called++
		return nil
	})
	keep := NewMessage(nil)
	keep.SetID("keep")
	require.NoError(t, h(context.Background(), keep))
	require.NoError(t, h(context.Background(), NewMessage(nil)))
	assert.Equal(t, 1, called)
}

func TestChain(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, m *Message) error {
				order = append(order, name)
				return next(ctx, m)
			}
		}
	}
	want := errors.New("done")
	h := Chain(func(context.Context, *Message) error { return want }, tag("a"), nil, tag("b"))
	assert.ErrorIs(t, h(context.Background(), NewMessage(nil)), want)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestMetadata_Order(t *testing.T) {
	var md Metadata
	md.Set("b", "1")
	md.Set("a", "2")
	md.Set("b", "3")
	assert.Equal(t, []string{"b", "a"}, md.Keys())
	v, ok := md.Get("b")
	assert.True(t, ok)
	assert.Equal(t, "3", v)
	assert.Equal(t, map[string]string{"a": "2", "b": "3"}, md.Map())

	assert.True(t, md.Delete("b"))
	assert.False(t, md.Delete("b"))
	assert.Equal(t, 1, md.Len())

	md.Set("c", "4")
	var seen []string
	md.Range(func(k, _ string) bool {
		seen = append(seen, k)
		return false
	})
	assert.Equal(t, []string{"a"}, seen)
}

func TestMessage_Encoding(t *testing.T) {
	m := NewMessage([]byte("x"))
	assert.NotEmpty(t, m.ID())
	assert.NotEqual(t, m.ID(), NewMessage(nil).ID())
	_, ok := m.ContentEncoding()
	assert.False(t, ok)
	m.SetContentEncoding("UTF-8")
	enc, ok := m.ContentEncoding()
	assert.True(t, ok)
	assert.Equal(t, "UTF-8", enc)
	m.ClearContentEncoding()
	_, ok = m.ContentEncoding()
	assert.False(t, ok)
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	_, ok := LoggerFromContext(ctx)
	assert.False(t, ok)
	_, ok = SubjectFromContext(ctx)
	assert.False(t, ok)

	ctx = injectSubject(ctx, "a.b")
	s, ok := SubjectFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "a.b", s)
	assert.Equal(t, ctx, injectSubject(ctx, ""))

	bare := handlerContext(context.Background(), nil, nil, "")
	_, ok = LoggerFromContext(bare)
	assert.False(t, ok)
	_, ok = ClockFromContext(bare)
	assert.False(t, ok)

	logger := xlog.Default()
	full := handlerContext(context.Background(), logger, xclock.Default(), "orders.created")
	l, ok := LoggerFromContext(full)
	assert.True(t, ok)
	assert.Same(t, logger, l)
	_, ok = ClockFromContext(full)
	assert.True(t, ok)
	s, _ = SubjectFromContext(full)
	assert.Equal(t, "orders.created", s)
}
