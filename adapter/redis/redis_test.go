package redis

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xrv"
)

// testConfig returns a Config pointing at XRV_REDIS_ADDR, skipping the test
// when no server is configured or reachable.
func testConfig(t *testing.T) Config {
	t.Helper()
	addr := os.Getenv("XRV_REDIS_ADDR")
	if addr == "" {
		t.Skip("XRV_REDIS_ADDR not set")
	}
	cfg := Defaults()
	cfg.Addr = addr
	cfg.Password = os.Getenv("XRV_REDIS_PASSWORD")
	cfg.Block = 200 * time.Millisecond

	client := goredis.NewClient(&goredis.Options{Addr: cfg.Addr, Password: cfg.Password})
	defer client.Close()
	if err := ping(context.Background(), client); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return cfg
}

// uniqueService isolates keys and channels of one test run.
func uniqueService(t *testing.T) string {
	t.Helper()
	return "xrvtest-" + strconv.FormatInt(time.Now().UnixNano(), 36)
}

func cleanupKeys(t *testing.T, cfg Config, pattern string) {
	client := goredis.NewClient(&goredis.Options{Addr: cfg.Addr, Password: cfg.Password})
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	keys, _ := client.Keys(ctx, pattern).Result()
	if len(keys) > 0 {
		_ = client.Del(ctx, keys...).Err()
	}
}

func startQueue(t *testing.T) xrv.Queue {
	q, err := xrv.NewQueue(t.Name())
	require.NoError(t, err)
	d := xrv.NewDispatcher(q, nil)
	t.Cleanup(func() {
		d.Destroy()
		_ = q.Destroy()
	})
	return q
}

func newMsg(t *testing.T, subject, body string) *xrv.Msg {
	m := xrv.NewMsg()
	m.SetSendSubject(subject)
	require.NoError(t, m.AddString("body", body))
	return m
}

func bodyOf(m *xrv.Msg) string {
	f, ok := m.Get("body")
	if !ok {
		return ""
	}
	s, _ := f.Value.(string)
	return s
}

func TestGlobFor(t *testing.T) {
	tests := []struct {
		subject string
		want    string
	}{
		{"orders.created", "orders.created"},
		{"orders.*", "orders.*"},
		{"orders.>", "orders.*"},
		{"a.*.c", "a.*.c"},
		{"we[ir]d?.x", `we\[ir\]d\?.x`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, globFor(tt.subject), tt.subject)
	}
}

func TestConfigFromMap(t *testing.T) {
	cfg := ConfigFromMap(map[string]any{
		"addr":           "redis:6380",
		"db":             float64(2),
		"tls":            true,
		"batch_size":     16,
		"block":          "250ms",
		"max_len_approx": int64(1000),
	})
	assert.Equal(t, "redis:6380", cfg.Addr)
	assert.Equal(t, 2, cfg.DB)
	assert.True(t, cfg.TLS)
	assert.Equal(t, 16, cfg.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Block)
	assert.Equal(t, int64(1000), cfg.MaxLenApprox)
	assert.Equal(t, 5*time.Second, cfg.AckTimeout)

	def := ConfigFromMap(nil)
	assert.Equal(t, Defaults(), def)
	assert.Equal(t, def, ConfigFromMap(def.toMap()))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, Defaults().Validate())

	cfg := Defaults()
	cfg.Addr = ""
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.BatchSize = 0
	assert.Error(t, cfg.Validate())

	_, err := NewDriver(cfg)
	assert.Error(t, err)
}

func TestDriverRegistered(t *testing.T) {
	d, err := xrv.NewDriver(DriverName, map[string]any{"addr": "127.0.0.1:6379"})
	require.NoError(t, err)
	assert.Equal(t, DriverName, d.Name())
	assert.NoError(t, d.Open())
}

func TestDecodeEntry(t *testing.T) {
	m := newMsg(t, "orders.created", "hello")
	data, err := m.MarshalBinary()
	require.NoError(t, err)

	e, err := decodeEntry(goredis.XMessage{
		ID: "1-0",
		Values: map[string]any{
			fieldMsg:     string(data),
			fieldSeqno:   "7",
			fieldExpires: "0",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "1-0", e.id)
	assert.Equal(t, uint64(7), e.seqno)
	assert.Zero(t, e.expires)
	assert.Equal(t, "hello", bodyOf(e.msg))

	_, err = decodeEntry(goredis.XMessage{ID: "2-0", Values: map[string]any{}})
	assert.Error(t, err)
}

func TestNewCertified_ForeignConn(t *testing.T) {
	d, err := NewDriver(Defaults())
	require.NoError(t, err)
	_, err = d.NewCertified(context.Background(), nil, xrv.CertifiedParams{Name: "a"})
	assert.ErrorIs(t, err, ErrForeignConn)
}

func TestPubSub_Wildcard(t *testing.T) {
	cfg := testConfig(t)
	d, err := NewDriver(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := d.Dial(ctx, xrv.Addr{Service: uniqueService(t)})
	require.NoError(t, err)
	defer c.Destroy()

	q := startQueue(t)
	got := make(chan string, 4)
	l, err := c.Listen(q, "orders.>", func(_ xrv.Listener, m *xrv.Msg) {
		got <- m.SendSubject() + "=" + bodyOf(m)
	})
	require.NoError(t, err)
	assert.Equal(t, "orders.>", l.Subject())

	require.NoError(t, c.Send(ctx, newMsg(t, "orders.eu.created", "a")))
	require.NoError(t, c.Send(ctx, newMsg(t, "ordersx.created", "skip")))

	select {
	case v := <-got:
		assert.Equal(t, "orders.eu.created=a", v)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for message")
	}
	select {
	case v := <-got:
		t.Fatalf("unexpected delivery %s", v)
	case <-time.After(200 * time.Millisecond):
	}
	assert.NoError(t, l.Destroy())
}

func TestCertified_ConfirmAndRequestOld(t *testing.T) {
	cfg := testConfig(t)
	service := uniqueService(t)
	defer cleanupKeys(t, cfg, service+":*")

	d, err := NewDriver(cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sc, err := d.Dial(ctx, xrv.Addr{Service: service})
	require.NoError(t, err)
	defer sc.Destroy()
	sender, err := d.NewCertified(ctx, sc, xrv.CertifiedParams{Name: "sender"})
	require.NoError(t, err)
	defer sender.Destroy()

	rc, err := d.Dial(ctx, xrv.Addr{Service: service})
	require.NoError(t, err)
	defer rc.Destroy()
	q := startQueue(t)

	confirms := make(chan uint64, 4)
	_, err = rc.Listen(q, xrv.ConfirmSubject("orders.created"), func(_ xrv.Listener, m *xrv.Msg) {
		f, _ := m.Get("seqno")
		n, _ := f.Value.(uint64)
		confirms <- n
	})
	require.NoError(t, err)

	recv, err := d.NewCertified(ctx, rc, xrv.CertifiedParams{Name: "worker", RequestOld: true})
	require.NoError(t, err)
	got := make(chan string, 4)
	l, err := recv.Listen(q, "orders.created", func(_ xrv.Listener, m *xrv.Msg) { got <- bodyOf(m) })
	require.NoError(t, err)

	require.NoError(t, sender.Send(ctx, newMsg(t, "orders.created", "first")))
	select {
	case v := <-got:
		assert.Equal(t, "first", v)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for certified message")
	}
	select {
	case n := <-confirms:
		assert.Equal(t, uint64(1), n)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for confirmation")
	}

	// sent while the worker is away, replayed on rejoin
	require.NoError(t, l.Destroy())
	require.NoError(t, sender.Send(ctx, newMsg(t, "orders.created", "second")))
	_, err = recv.Listen(q, "orders.created", func(_ xrv.Listener, m *xrv.Msg) { got <- bodyOf(m) })
	require.NoError(t, err)

	select {
	case v := <-got:
		assert.Equal(t, "second", v)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for replayed message")
	}
	assert.Eventually(t, func() bool { return d.Stats().Confirmed >= 2 }, 3*time.Second, 20*time.Millisecond)
}

func TestCertified_RequestOldReplaysEveryPendingBatch(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 4
	service := uniqueService(t)
	defer cleanupKeys(t, cfg, service+":*")

	d, err := NewDriver(cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sc, err := d.Dial(ctx, xrv.Addr{Service: service})
	require.NoError(t, err)
	defer sc.Destroy()
	sender, err := d.NewCertified(ctx, sc, xrv.CertifiedParams{Name: "sender"})
	require.NoError(t, err)
	defer sender.Destroy()

	rc, err := d.Dial(ctx, xrv.Addr{Service: service})
	require.NoError(t, err)
	defer rc.Destroy()
	recv, err := d.NewCertified(ctx, rc, xrv.CertifiedParams{Name: "worker", RequestOld: true})
	require.NoError(t, err)

	// nothing drains this queue, so every read entry stays pending
	stalled, err := xrv.NewQueue(t.Name() + "-stalled")
	require.NoError(t, err)
	l, err := recv.Listen(stalled, "orders.created", func(xrv.Listener, *xrv.Msg) {})
	require.NoError(t, err)

	const total = 10
	for i := 0; i < total; i++ {
		require.NoError(t, sender.Send(ctx, newMsg(t, "orders.created", strconv.Itoa(i))))
	}

	client := goredis.NewClient(&goredis.Options{Addr: cfg.Addr, Password: cfg.Password})
	defer client.Close()
	stream := recv.(*certifiedConn).streamKey("orders.created")
	assert.Eventually(t, func() bool {
		p, err := client.XPending(ctx, stream, "worker").Result()
		return err == nil && p.Count == total
	}, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, l.Destroy())
	require.NoError(t, stalled.Destroy())

	got := make(chan string, total)
	_, err = recv.Listen(startQueue(t), "orders.created", func(_ xrv.Listener, m *xrv.Msg) { got <- bodyOf(m) })
	require.NoError(t, err)

	var bodies []string
	for len(bodies) < total {
		select {
		case v := <-got:
			bodies = append(bodies, v)
		case <-time.After(5 * time.Second):
			t.Fatalf("replayed %d of %d pending entries", len(bodies), total)
		}
	}
	assert.Equal(t, []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}, bodies)
}

func TestCertified_RejectsWildcard(t *testing.T) {
	cfg := testConfig(t)
	d, err := NewDriver(cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := d.Dial(ctx, xrv.Addr{Service: uniqueService(t)})
	require.NoError(t, err)
	defer c.Destroy()
	cm, err := d.NewCertified(ctx, c, xrv.CertifiedParams{Name: "w"})
	require.NoError(t, err)
	_, err = cm.Listen(startQueue(t), "orders.*", func(xrv.Listener, *xrv.Msg) {})
	assert.ErrorIs(t, err, ErrWildcardCertified)
}
