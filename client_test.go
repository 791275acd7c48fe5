package xrv

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardClient_Listeners(t *testing.T) {
	d := newFakeDriver(t)
	c := NewStandardClient(SessionConfig{QueueName: t.Name()}, WithDriver(d))
	cb := func(Listener, *Msg) {}

	assert.ErrorIs(t, c.CreateMessageListener(cb, "a.b"), ErrNotInitialized)
	require.NoError(t, c.Init(context.Background()))

	assert.ErrorIs(t, c.CreateMessageListener(nil, "a.b"), ErrInvalidArgument)
	assert.ErrorIs(t, c.CreateMessageListener(cb, ""), ErrInvalidArgument)
	require.NoError(t, c.CreateMessageListener(cb, "a.b"))
	require.NoError(t, c.CreateMessageListener(cb, "a.>"))
	require.NoError(t, c.CreateConfirmationListener(cb))

	require.NoError(t, c.Close())
	assert.Equal(t, []string{
		"open",
		"dial",
		"destroy listener a.b",
		"destroy listener a.>",
		"destroy conn",
	}, d.log.list())
	assert.Contains(t, c.String(), "StandardClient{")
}

func TestNewCertifiedClient_Validates(t *testing.T) {
	_, err := NewCertifiedClient(CertifiedConfig{})
	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "unique_name", cerr.Field)

	_, err = NewCertifiedClient(CertifiedConfig{UniqueName: "w", DeliveryTimeLimit: -time.Second})
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "delivery_time_limit", cerr.Field)
}

func TestCertifiedClient_InitAndSend(t *testing.T) {
	d := newFakeDriver(t)
	c, err := NewCertifiedClient(CertifiedConfig{
		UniqueName:        "worker-1",
		LedgerFile:        "/tmp/ledger",
		RequestOld:        true,
		DeliveryTimeLimit: 30*time.Second + 500*time.Millisecond,
	}, WithDriver(d))
	require.NoError(t, err)

	m := NewMsg()
	m.SetSendSubject("orders.created")
	assert.ErrorIs(t, c.Send(context.Background(), m), ErrNotInitialized)

	require.NoError(t, c.Init(context.Background()))
	assert.ErrorIs(t, c.Init(context.Background()), ErrAlreadyInitialized)
	assert.Equal(t, CertifiedParams{Name: "worker-1", RequestOld: true, LedgerFile: "/tmp/ledger", SyncLedger: true}, d.params)

	require.NoError(t, c.Send(context.Background(), m))
	sent := d.cert.sentMsgs()
	require.Len(t, sent, 1)
	assert.Equal(t, 30*time.Second, TimeLimit(sent[0]))
	assert.Empty(t, d.lastConn().sentMsgs())
	assert.ErrorIs(t, c.Send(context.Background(), nil), ErrInvalidArgument)

	require.NoError(t, c.Close())
}

func TestCertifiedClient_CertifiedFailure(t *testing.T) {
	d := newFakeDriver(t)
	d.certErr = errors.New("name in use")
	c, err := NewCertifiedClient(CertifiedConfig{UniqueName: "w"}, WithDriver(d))
	require.NoError(t, err)

	err = c.Init(context.Background())
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "create certified transport", te.Op)
	require.NoError(t, c.Close())
	assert.Equal(t, []string{"open", "dial", "destroy conn"}, d.log.list())
}

func TestCertifiedClient_CloseOrder(t *testing.T) {
	d := newFakeDriver(t)
	c, err := NewCertifiedClient(CertifiedConfig{
		UniqueName:          "w",
		ConfirmationSubject: ConfirmSubject("orders.>"),
	}, WithDriver(d))
	require.NoError(t, err)
	require.NoError(t, c.Init(context.Background()))

	cb := func(Listener, *Msg) {}
	require.NoError(t, c.CreateMessageListener(cb, "orders.created"))
	require.NoError(t, c.CreateConfirmationListener(cb))
	assert.ErrorIs(t, c.CreateMessageListener(nil, "x"), ErrInvalidArgument)
	assert.ErrorIs(t, c.CreateConfirmationListener(nil), ErrInvalidArgument)
	require.NotNil(t, d.lastConn().listener(ConfirmSubject("orders.>")))

	require.NoError(t, c.Close())
	assert.Equal(t, []string{
		"open",
		"dial",
		"certified w",
		"destroy certified listener orders.created",
		"destroy listener " + ConfirmSubject("orders.>"),
		"destroy certified",
		"destroy conn",
	}, d.log.list())
}

func TestCertifiedClient_NoConfirmationSubject(t *testing.T) {
	d := newFakeDriver(t)
	c, err := NewCertifiedClient(CertifiedConfig{UniqueName: "w"}, WithDriver(d))
	require.NoError(t, err)
	require.NoError(t, c.Init(context.Background()))
	defer c.Close()

	require.NoError(t, c.CreateConfirmationListener(nil))
	d.lastConn().mu.Lock()
	defer d.lastConn().mu.Unlock()
	assert.Empty(t, d.lastConn().listeners)
}

func TestCertifiedConfigFromMap(t *testing.T) {
	cfg := CertifiedConfigFromMap(map[string]any{
		"driver":               "redis",
		"service":              "orders",
		"queue_name":           "q1",
		"driver_config":        map[string]any{"addr": "localhost:6379"},
		"unique_name":          "w",
		"confirmation_subject": "c",
		"ledger_file":          "l.json",
		"delivery_time_limit":  30,
		"request_old":          true,
	})
	assert.Equal(t, "redis", cfg.Session.Driver)
	assert.Equal(t, "orders", cfg.Session.Service)
	assert.Equal(t, "q1", cfg.Session.QueueName)
	assert.Equal(t, "localhost:6379", cfg.Session.DriverConfig["addr"])
	assert.Equal(t, "w", cfg.UniqueName)
	assert.Equal(t, 30*time.Second, cfg.DeliveryTimeLimit)
	assert.True(t, cfg.RequestOld)

	assert.Equal(t, 1500*time.Millisecond, CertifiedConfigFromMap(map[string]any{"delivery_time_limit": "1.5s"}).DeliveryTimeLimit)
	assert.Equal(t, 2*time.Second, CertifiedConfigFromMap(map[string]any{"delivery_time_limit": float64(2)}).DeliveryTimeLimit)
	assert.Equal(t, cfg, CertifiedConfigFromMap(cfg.toMap()))
}
