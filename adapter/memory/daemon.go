package memory

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/trickstertwo/xrv"
)

var (
	daemonsMu sync.Mutex
	daemons   = map[string]*daemon{}
)

var runtimeOpened atomic.Bool

func daemonFor(key string) *daemon {
	daemonsMu.Lock()
	defer daemonsMu.Unlock()
	if d, ok := daemons[key]; ok {
		return d
	}
	d := &daemon{
		listeners: map[uint64]*listener{},
		certified: map[string]*certifiedConn{},
		interest:  map[string]map[string]struct{}{},
	}
	daemons[key] = d
	return d
}

// daemon routes messages among the connections of one address. interest
// records the subjects each certified name has listened on; senders keep
// ledger entries for those names while they are offline.
type daemon struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[uint64]*listener
	certified map[string]*certifiedConn // live certified transports by name
	interest  map[string]map[string]struct{}
}

func (d *daemon) addListener(l *listener) {
	d.mu.Lock()
	d.nextID++
	l.id = d.nextID
	d.listeners[l.id] = l
	d.mu.Unlock()
}

func (d *daemon) removeListener(l *listener) {
	d.mu.Lock()
	delete(d.listeners, l.id)
	d.mu.Unlock()
}

// publish delivers m to every raw listener whose subject matches.
func (d *daemon) publish(drv *Driver, m *xrv.Msg) {
	for _, l := range d.matching(m.SendSubject()) {
		l.deliver(drv, drv.prepare(m))
	}
}

func (d *daemon) matching(subject string) []*listener {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*listener
	for _, l := range d.listeners {
		if xrv.MatchSubject(l.subject, subject) {
			out = append(out, l)
		}
	}
	// registration order
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (d *daemon) addCertified(cm *certifiedConn) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.certified[cm.params.Name]; ok {
		return ErrNameInUse
	}
	d.certified[cm.params.Name] = cm
	return nil
}

func (d *daemon) removeCertified(cm *certifiedConn) {
	d.mu.Lock()
	if d.certified[cm.params.Name] == cm {
		delete(d.certified, cm.params.Name)
	}
	d.mu.Unlock()
}

func (d *daemon) registerInterest(name, subject string) {
	d.mu.Lock()
	s, ok := d.interest[name]
	if !ok {
		s = map[string]struct{}{}
		d.interest[name] = s
	}
	s[subject] = struct{}{}
	d.mu.Unlock()
}

// interested returns the certified names that have listened on a pattern
// matching subject.
func (d *daemon) interested(subject string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for name, patterns := range d.interest {
		for p := range patterns {
			if xrv.MatchSubject(p, subject) {
				out = append(out, name)
				break
			}
		}
	}
	return out
}

// certifiedListeners returns the live certified listeners of name matching subject.
func (d *daemon) certifiedListeners(name, subject string) []*certifiedListener {
	d.mu.RLock()
	cm := d.certified[name]
	d.mu.RUnlock()
	if cm == nil {
		return nil
	}
	return cm.listenersFor(subject)
}

func (d *daemon) liveCertified() []*certifiedConn {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*certifiedConn, 0, len(d.certified))
	for _, cm := range d.certified {
		out = append(out, cm)
	}
	return out
}

// redeliverFrom offers the pending ledger entries of sender to the live
// listeners they are addressed to, when those listeners requested old messages.
func (d *daemon) redeliverFrom(sender *certifiedConn) {
	for _, cm := range d.liveCertified() {
		if !cm.params.RequestOld {
			continue
		}
		for _, cl := range cm.allListeners() {
			sender.replay(cm.params.Name, cl)
		}
	}
}

// listenerJoined handles a new certified listener: old messages are
// replayed from every live sender when requested, discarded otherwise.
func (d *daemon) listenerJoined(cl *certifiedListener) {
	name := cl.owner.params.Name
	for _, sender := range d.liveCertified() {
		if cl.owner.params.RequestOld {
			sender.replay(name, cl)
			continue
		}
		sender.discard(name, cl.subject)
	}
}
