package redis

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/trickstertwo/xrv"
)

// certifiedConn sends each message to a per-subject stream. Every certified
// name is a consumer group on that stream; an entry stays pending in the
// group until the listener's callback returns.
type certifiedConn struct {
	conn   *conn
	params xrv.CertifiedParams

	mu        sync.Mutex
	listeners []*streamListener
	closed    atomic.Bool
}

var _ xrv.CertifiedConn = (*certifiedConn)(nil)

func (c *certifiedConn) Name() string { return c.params.Name }

func (c *certifiedConn) streamKey(subject string) string {
	return c.conn.prefix + streamPrefix + subject
}

func (c *certifiedConn) seqKey(subject string) string {
	return c.conn.prefix + seqPrefix + c.params.Name + ":" + subject
}

// Send appends m to the subject stream and publishes it on the pub/sub
// channel for standard listeners.
func (c *certifiedConn) Send(ctx context.Context, m *xrv.Msg) error {
	if c.closed.Load() || c.conn.closed.Load() {
		return xrv.ErrClosed
	}
	if err := checkSendSubject(m); err != nil {
		return err
	}
	drv := c.conn.drv
	subject := m.SendSubject()

	data, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	seq, err := c.conn.client.Incr(ctx, c.seqKey(subject)).Result()
	if err != nil {
		return err
	}
	var expires int64
	if limit := xrv.TimeLimit(m); limit > 0 {
		expires = drv.now().Add(limit).UnixNano()
	}

	args := &goredis.XAddArgs{
		Stream: c.streamKey(subject),
		ID:     "*",
		Values: map[string]any{
			fieldMsg:     data,
			fieldSender:  c.params.Name,
			fieldSeqno:   seq,
			fieldExpires: expires,
		},
	}
	if n := drv.cfg.MaxLenApprox; n > 0 {
		args.MaxLen = n
		args.Approx = true
	}
	if err := c.conn.client.XAdd(ctx, args).Err(); err != nil {
		return err
	}
	drv.metrics.published.Add(1)

	if err := c.conn.client.Publish(ctx, c.conn.prefix+subject, data).Err(); err != nil {
		drv.logger.Debug().Err(err).Str("subject", subject).Msg("redis: certified fan-out to pub/sub failed")
	}
	return nil
}

// Listen joins the consumer group named after the certified transport.
// RequestOld starts a new group at the beginning of the stream and replays
// entries still pending for the name.
func (c *certifiedConn) Listen(q xrv.Queue, subject string, cb xrv.Callback) (xrv.Listener, error) {
	if c.closed.Load() {
		return nil, xrv.ErrClosed
	}
	if err := xrv.ValidateSubject(subject); err != nil {
		return nil, err
	}
	if xrv.IsWildcard(subject) {
		return nil, ErrWildcardCertified
	}

	ctx := context.Background()
	stream, group := c.streamKey(subject), c.params.Name
	start := "$"
	if c.params.RequestOld {
		start = "0"
	}
	if err := c.conn.client.XGroupCreateMkStream(ctx, stream, group, start).Err(); err != nil {
		if !strings.Contains(err.Error(), "BUSYGROUP") {
			return nil, err
		}
		if !c.params.RequestOld {
			// skip what accumulated while the name was away
			if err := c.conn.client.XGroupSetID(ctx, stream, group, "$").Err(); err != nil {
				return nil, err
			}
		}
	}

	inner, cancel := context.WithCancel(ctx)
	l := &streamListener{
		owner:   c,
		subject: subject,
		stream:  stream,
		q:       q,
		cb:      cb,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go l.poll(inner)

	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
	return l, nil
}

// Destroy stops every certified listener. Pending entries stay in the
// consumer groups for the next run.
func (c *certifiedConn) Destroy() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	ls := c.listeners
	c.listeners = nil
	c.mu.Unlock()
	for _, l := range ls {
		_ = l.Destroy()
	}
	return nil
}

func (c *certifiedConn) removeListener(l *streamListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, x := range c.listeners {
		if x == l {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return
		}
	}
}

type streamListener struct {
	owner   *certifiedConn
	subject string
	stream  string
	q       xrv.Queue
	cb      xrv.Callback
	cancel  context.CancelFunc
	done    chan struct{}

	destroyed atomic.Bool
}

var _ xrv.Listener = (*streamListener)(nil)

func (l *streamListener) Subject() string { return l.subject }

func (l *streamListener) Destroy() error {
	if l.destroyed.Swap(true) {
		return nil
	}
	l.cancel()
	<-l.done
	l.owner.removeListener(l)
	return nil
}

// poll replays this consumer's pending entries, then reads new entries until
// the context is cancelled.
func (l *streamListener) poll(ctx context.Context) {
	defer close(l.done)
	c := l.owner
	drv := c.conn.drv

	if c.params.RequestOld {
		l.replayPending(ctx)
	}

	args := &goredis.XReadGroupArgs{
		Group:    c.params.Name,
		Consumer: c.params.Name,
		Streams:  []string{l.stream, ">"},
		Count:    int64(drv.cfg.BatchSize),
		Block:    drv.cfg.Block,
	}

	backoff := 100 * time.Millisecond
	maxBackoff := 5 * time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := c.conn.client.XReadGroup(ctx, args).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			if errors.Is(err, goredis.Nil) {
				backoff = 100 * time.Millisecond
				continue
			}
			drv.metrics.consumeErrors.Add(1)
			select {
			case <-time.After(backoff):
				backoff = min(backoff*2, maxBackoff)
			case <-ctx.Done():
				return
			}
			continue
		}
		backoff = 100 * time.Millisecond
		l.handle(ctx, res)
	}
}

// replayPending walks the pending entries list batch by batch, starting
// each read after the last id returned, until a read comes back empty.
func (l *streamListener) replayPending(ctx context.Context) {
	c := l.owner
	args := &goredis.XReadGroupArgs{
		Group:    c.params.Name,
		Consumer: c.params.Name,
		Count:    int64(c.conn.drv.cfg.BatchSize),
		Block:    -1,
	}
	after := "0"
	for ctx.Err() == nil {
		args.Streams = []string{l.stream, after}
		res, err := c.conn.client.XReadGroup(ctx, args).Result()
		if err != nil {
			if !errors.Is(err, goredis.Nil) && ctx.Err() == nil {
				c.conn.drv.metrics.consumeErrors.Add(1)
				c.conn.drv.logger.Warn().Err(err).Str("stream", l.stream).Msg("redis: pending replay failed")
			}
			return
		}
		last := lastID(res)
		if last == "" {
			return
		}
		l.handle(ctx, res)
		after = last
	}
}

func lastID(res []goredis.XStream) string {
	for i := len(res) - 1; i >= 0; i-- {
		if n := len(res[i].Messages); n > 0 {
			return res[i].Messages[n-1].ID
		}
	}
	return ""
}

func (l *streamListener) handle(ctx context.Context, res []goredis.XStream) {
	drv := l.owner.conn.drv
	for _, s := range res {
		for _, xm := range s.Messages {
			if ctx.Err() != nil {
				return
			}
			e, err := decodeEntry(xm)
			if err != nil {
				drv.metrics.decodeErrors.Add(1)
				drv.logger.Warn().Err(err).Str("stream", l.stream).Str("id", xm.ID).Msg("redis: undecodable entry acknowledged")
				l.ack(xm.ID)
				continue
			}
			if e.expires > 0 && drv.now().UnixNano() >= e.expires {
				drv.metrics.expired.Add(1)
				l.ack(xm.ID)
				continue
			}
			drv.metrics.received.Add(1)
			l.post(e)
		}
	}
}

func (l *streamListener) post(e streamEntry) {
	err := l.q.Post(func() {
		if l.destroyed.Load() {
			return
		}
		l.cb(l, e.msg)
		if l.ack(e.id) {
			l.advise(e)
		}
	})
	if err != nil {
		l.owner.conn.drv.logger.Debug().Err(err).Str("subject", l.subject).Msg("redis: queue rejected certified event")
	}
}

func (l *streamListener) ack(id string) bool {
	c := l.owner
	ctx, cancel := context.WithTimeout(context.Background(), c.conn.drv.cfg.AckTimeout)
	defer cancel()
	n, err := c.conn.client.XAck(ctx, l.stream, c.params.Name, id).Result()
	if err != nil {
		c.conn.drv.logger.Warn().Err(err).Str("stream", l.stream).Str("id", id).Msg("redis: ack failed")
		return false
	}
	return n > 0
}

// advise publishes the delivery advisory for e on its confirm subject.
func (l *streamListener) advise(e streamEntry) {
	c := l.owner
	drv := c.conn.drv
	drv.metrics.confirmed.Add(1)

	adv := xrv.NewMsg()
	adv.SetSendSubject(xrv.ConfirmSubject(l.subject))
	_ = adv.AddU64("seqno", e.seqno)
	_ = adv.AddString("listener", c.params.Name)
	_ = adv.AddString("subject", l.subject)
	data, err := adv.MarshalBinary()
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), drv.cfg.AckTimeout)
	defer cancel()
	if err := c.conn.publish(ctx, adv.SendSubject(), data); err != nil {
		drv.logger.Debug().Err(err).Str("subject", adv.SendSubject()).Msg("redis: advisory publish failed")
	}
}

type streamEntry struct {
	id      string
	msg     *xrv.Msg
	seqno   uint64
	expires int64
}

func decodeEntry(xm goredis.XMessage) (streamEntry, error) {
	raw, ok := xm.Values[fieldMsg]
	if !ok {
		return streamEntry{}, errors.New("redis: entry has no msg field")
	}
	m, err := xrv.DecodeMsg([]byte(asString(raw)))
	if err != nil {
		return streamEntry{}, err
	}
	e := streamEntry{id: xm.ID, msg: m}
	if v, ok := xm.Values[fieldSeqno]; ok {
		e.seqno, _ = strconv.ParseUint(asString(v), 10, 64)
	}
	if v, ok := xm.Values[fieldExpires]; ok {
		e.expires, _ = strconv.ParseInt(asString(v), 10, 64)
	}
	return e, nil
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return ""
	}
}
