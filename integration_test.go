package xrv_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xrv"
	"github.com/trickstertwo/xrv/adapter/memory"
)

func TestStandardRoundTrip_Memory(t *testing.T) {
	ctx := context.Background()
	session := xrv.SessionConfig{Daemon: t.Name()}
	got := make(chan *xrv.Message, 1)

	c, err := memory.Use(memory.Defaults(), memory.WithSession(session)).
		BuildConsumer("orders.>", func(_ context.Context, m *xrv.Message) error {
			got <- m
			return nil
		})
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Init(ctx))
	require.NoError(t, c.Start())

	p, err := memory.Use(memory.Defaults(), memory.WithSession(session)).
		BuildProducer(xrv.ConstantDestination("orders.created"))
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, p.Init(ctx))

	m := xrv.NewMessage([]byte("hello"))
	m.SetID("u1")
	m.SetContentEncoding("UTF-8")
	m.AddMetadata("key", "val")
	require.NoError(t, p.Produce(ctx, m))

	select {
	case in := <-got:
		assert.Equal(t, "u1", in.ID())
		assert.Equal(t, []byte("hello"), in.Payload())
		enc, _ := in.ContentEncoding()
		assert.Equal(t, "UTF-8", enc)
		v, _ := in.Metadata().Get("key")
		assert.Equal(t, "val", v)
	case <-time.After(2 * time.Second):
		t.Fatal("message not consumed")
	}
}

func TestCertifiedRoundTrip_Memory(t *testing.T) {
	ctx := context.Background()
	session := xrv.SessionConfig{Daemon: t.Name(), QueueName: "certified"}
	got := make(chan string, 2)

	c, err := memory.Use(memory.Defaults(),
		memory.WithSession(session),
		memory.WithCertified(xrv.CertifiedConfig{UniqueName: "worker", RequestOld: true}),
	).BuildConsumer("orders.>", func(_ context.Context, m *xrv.Message) error {
		got <- string(m.Payload())
		return nil
	})
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Init(ctx))
	require.NoError(t, c.Start())

	p, err := memory.Use(memory.Defaults(),
		memory.WithSession(session),
		memory.WithCertified(xrv.CertifiedConfig{
			UniqueName:          "sender",
			ConfirmationSubject: xrv.ConfirmSubject("orders.>"),
			DeliveryTimeLimit:   time.Minute,
		}),
	).BuildProducer(xrv.ConstantDestination("orders.created"))
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, p.Init(ctx))
	require.NoError(t, p.Start())

	require.NoError(t, p.Produce(ctx, xrv.NewMessage([]byte("a"))))
	require.NoError(t, p.Produce(ctx, xrv.NewMessage([]byte("b"))))

	for _, want := range []string{"a", "b"} {
		select {
		case v := <-got:
			assert.Equal(t, want, v)
		case <-time.After(2 * time.Second):
			t.Fatal("certified message not consumed")
		}
	}
	assert.Eventually(t, func() bool { return p.Stats().Confirmed == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return c.Stats() == xrv.ConsumerStats{Received: 2, Delivered: 2} }, time.Second, 10*time.Millisecond)
}
