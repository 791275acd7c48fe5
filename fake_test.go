package xrv

import (
	"context"
	"strings"
	"sync"
	"testing"
)

// callLog records driver calls in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	l.calls = append(l.calls, s)
	l.mu.Unlock()
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	copy(out, l.calls)
	return out
}

type fakeDriver struct {
	name string
	log  *callLog

	openErr error
	dialErr error
	certErr error

	mu     sync.Mutex
	opens  int
	addr   Addr
	params CertifiedParams
	conns  []*fakeConn
	cert   *fakeCertified
}

// newFakeDriver names the driver after the test so runtime state does not
// leak between tests.
func newFakeDriver(t *testing.T) *fakeDriver {
	t.Helper()
	return &fakeDriver{name: "fake-" + strings.ReplaceAll(t.Name(), "/", "-"), log: &callLog{}}
}

func (d *fakeDriver) Name() string { return d.name }

func (d *fakeDriver) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	d.log.add("open")
	return d.openErr
}

func (d *fakeDriver) Dial(_ context.Context, addr Addr) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	d.addr = addr
	c := &fakeConn{log: d.log}
	d.conns = append(d.conns, c)
	d.log.add("dial")
	return c, nil
}

func (d *fakeDriver) NewCertified(_ context.Context, c Conn, p CertifiedParams) (CertifiedConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.certErr != nil {
		return nil, d.certErr
	}
	d.params = p
	d.cert = &fakeCertified{name: p.Name, log: d.log}
	d.log.add("certified " + p.Name)
	return d.cert, nil
}

func (d *fakeDriver) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func (d *fakeDriver) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

type fakeConn struct {
	log     *callLog
	sendErr error

	mu        sync.Mutex
	sent      []*Msg
	listeners []*fakeListener
}

func (c *fakeConn) Send(_ context.Context, m *Msg) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.mu.Lock()
	c.sent = append(c.sent, m)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Listen(q Queue, subject string, cb Callback) (Listener, error) {
	l := &fakeListener{kind: "listener", subject: subject, q: q, cb: cb, log: c.log}
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
	return l, nil
}

func (c *fakeConn) Destroy() error {
	c.log.add("destroy conn")
	return nil
}

func (c *fakeConn) sentMsgs() []*Msg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Msg(nil), c.sent...)
}

// listener returns the first live listener on subject.
func (c *fakeConn) listener(subject string) *fakeListener {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.listeners {
		if l.subject == subject {
			return l
		}
	}
	return nil
}

type fakeCertified struct {
	name string
	log  *callLog

	mu        sync.Mutex
	sent      []*Msg
	listeners []*fakeListener
}

func (c *fakeCertified) Name() string { return c.name }

func (c *fakeCertified) Send(_ context.Context, m *Msg) error {
	c.mu.Lock()
	c.sent = append(c.sent, m)
	c.mu.Unlock()
	return nil
}

func (c *fakeCertified) Listen(q Queue, subject string, cb Callback) (Listener, error) {
	l := &fakeListener{kind: "certified listener", subject: subject, q: q, cb: cb, log: c.log}
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
	return l, nil
}

func (c *fakeCertified) Destroy() error {
	c.log.add("destroy certified")
	return nil
}

func (c *fakeCertified) sentMsgs() []*Msg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Msg(nil), c.sent...)
}

type fakeListener struct {
	kind    string
	subject string
	q       Queue
	cb      Callback
	log     *callLog
}

func (l *fakeListener) Subject() string { return l.subject }

func (l *fakeListener) Destroy() error {
	l.log.add("destroy " + l.kind + " " + l.subject)
	return nil
}

// deliver posts m to the listener queue the way a driver does.
func (l *fakeListener) deliver(m *Msg) error {
	return l.q.Post(func() { l.cb(l, m) })
}

// recordingQueue wraps a real queue and counts Destroy calls.
type recordingQueue struct {
	Queue
	mu        sync.Mutex
	destroyed int
}

func (q *recordingQueue) Destroy() error {
	q.mu.Lock()
	q.destroyed++
	q.mu.Unlock()
	return q.Queue.Destroy()
}

func (q *recordingQueue) destroys() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.destroyed
}

// eventRecorder is an Observer that keeps every event.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) OnEvent(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *eventRecorder) last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}
	}
	return r.events[len(r.events)-1]
}

// vendorMsg builds the vendor message produced with default field names.
func vendorMsg(t *testing.T, subject, id, payload, enc string, md map[string]string) *Msg {
	t.Helper()
	vm := NewMsg()
	vm.SetSendSubject(subject)
	must(t, vm.AddString("unique-id", id))
	if payload != "" {
		must(t, vm.AddOpaque("payload", []byte(payload)))
	}
	if enc != "" {
		must(t, vm.AddString("char-enc", enc))
	}
	if len(md) > 0 {
		sub := NewMsg()
		for k, v := range md {
			must(t, sub.AddString(k, v))
		}
		must(t, vm.AddMsg("metadata", sub))
	}
	return vm
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
