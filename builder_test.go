package xrv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_StandardClient(t *testing.T) {
	c, err := NewBuilder().WithDriverInstance(newFakeDriver(t)).BuildClient()
	require.NoError(t, err)
	assert.IsType(t, &StandardClient{}, c)
}

func TestBuilder_CertifiedUsesBuilderSession(t *testing.T) {
	d := newFakeDriver(t)
	c, err := NewBuilder().
		WithDriverInstance(d).
		WithSession(SessionConfig{Service: "orders", QueueName: t.Name()}).
		WithCertified(CertifiedConfig{UniqueName: "w", Session: SessionConfig{Service: "ignored"}}).
		BuildClient()
	require.NoError(t, err)
	cc, ok := c.(*CertifiedClient)
	require.True(t, ok)
	require.NoError(t, cc.Init(context.Background()))
	defer cc.Close()
	assert.Equal(t, "orders", d.addr.Service)
	assert.Equal(t, t.Name(), cc.Session().Queue().Name())

	_, err = NewBuilder().WithCertified(CertifiedConfig{}).BuildClient()
	var cerr *ConfigurationError
	assert.ErrorAs(t, err, &cerr)
}

func TestBuilder_ConsumerAndProducer(t *testing.T) {
	d := newFakeDriver(t)
	rec := &eventRecorder{}
	got := make(chan string, 1)
	b := NewBuilder().
		WithDriverInstance(d).
		WithSession(SessionConfig{QueueName: t.Name()}).
		WithTranslator(StandardTranslatorName, map[string]any{"payload_name": "body"}).
		WithObserver(rec, nil).
		WithMiddleware(TimeoutMiddleware(time.Second))

	c, err := b.BuildConsumer("a.b", func(_ context.Context, m *Message) error {
		got <- string(m.Payload())
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, c.Init(context.Background()))
	defer c.Close()
	require.NoError(t, c.Start())

	p, err := b.BuildProducer(ConstantDestination("a.b"))
	require.NoError(t, err)
	require.NoError(t, p.Init(context.Background()))
	defer p.Close()
	require.NoError(t, p.Produce(context.Background(), NewMessage([]byte("hi"))))

	// the fake connection does not loop back; hand the sent message to the consumer
	sent := d.conn(1).sentMsgs()
	require.Len(t, sent, 1)
	_, ok := sent[0].Get("body")
	assert.True(t, ok)
	require.NoError(t, d.conn(0).listener("a.b").deliver(sent[0]))

	select {
	case v := <-got:
		assert.Equal(t, "hi", v)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer handler not called")
	}
	assert.Eventually(t, func() bool { return len(rec.types()) == 4 }, time.Second, 5*time.Millisecond)
}

func TestBuilder_UnknownTranslator(t *testing.T) {
	_, err := NewBuilder().WithDriverInstance(newFakeDriver(t)).WithTranslator("nope", nil).BuildProducer(ConstantDestination("a"))
	var cerr *ConfigurationError
	assert.ErrorAs(t, err, &cerr)
}
