package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/trickstertwo/xrv"
)

// entry is one unconfirmed delivery of a message to a listener name.
// Expires is a unix nano deadline; 0 never expires.
type entry struct {
	Listener string `json:"listener"`
	Subject  string `json:"subject"`
	Seqno    uint64 `json:"seqno"`
	Expires  int64  `json:"expires,omitempty"`
	Msg      []byte `json:"msg"`
}

type entryKey struct {
	listener string
	subject  string
	seqno    uint64
}

func (e entry) key() entryKey { return entryKey{e.Listener, e.Subject, e.Seqno} }

func (e entry) expired(now time.Time) bool {
	return e.Expires > 0 && now.UnixNano() >= e.Expires
}

// ledgerFile is the on-disk form of a ledger.
type ledgerFile struct {
	Name    string            `json:"name"`
	Seq     map[string]uint64 `json:"seq"`
	Pending []entry           `json:"pending"`
}

// ledger stores per-subject sequence numbers and pending entries. With a
// path it is rewritten on every change (sync) or on flush.
type ledger struct {
	path       string
	name       string
	syncWrites bool

	mu      sync.Mutex
	seq     map[string]uint64
	pending map[entryKey]entry
	dirty   bool
}

func openLedger(path, name string, syncWrites bool) (*ledger, error) {
	l := &ledger{
		path:       path,
		name:       name,
		syncWrites: syncWrites,
		seq:        map[string]uint64{},
		pending:    map[entryKey]entry{},
	}
	if path == "" {
		return l, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory: read ledger: %w", err)
	}
	var lf ledgerFile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("memory: parse ledger %s: %w", path, err)
	}
	if lf.Name != "" && lf.Name != name {
		return nil, fmt.Errorf("memory: ledger %s belongs to %q, not %q", path, lf.Name, name)
	}
	for s, n := range lf.Seq {
		l.seq[s] = n
	}
	for _, e := range lf.Pending {
		l.pending[e.key()] = e
	}
	return l, nil
}

// next allocates the next sequence number for subject, starting at 1.
func (l *ledger) next(subject string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq[subject]++
	n := l.seq[subject]
	return n, l.changedLocked()
}

func (l *ledger) add(e entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending[e.key()] = e
	return l.changedLocked()
}

func (l *ledger) remove(k entryKey) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.pending[k]; !ok {
		return false, nil
	}
	delete(l.pending, k)
	return true, l.changedLocked()
}

// pendingFor returns the entries for listener whose subject matches pattern,
// ordered by subject then sequence number.
func (l *ledger) pendingFor(listener, pattern string) []entry {
	l.mu.Lock()
	var out []entry
	for _, e := range l.pending {
		if e.Listener == listener && xrv.MatchSubject(pattern, e.Subject) {
			out = append(out, e)
		}
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Subject != out[j].Subject {
			return out[i].Subject < out[j].Subject
		}
		return out[i].Seqno < out[j].Seqno
	})
	return out
}

func (l *ledger) dropFor(listener, pattern string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, e := range l.pending {
		if e.Listener == listener && xrv.MatchSubject(pattern, e.Subject) {
			delete(l.pending, k)
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, l.changedLocked()
}

func (l *ledger) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (l *ledger) flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.dirty {
		return nil
	}
	return l.writeLocked()
}

func (l *ledger) changedLocked() error {
	if l.path == "" {
		return nil
	}
	l.dirty = true
	if !l.syncWrites {
		return nil
	}
	return l.writeLocked()
}

// writeLocked replaces the ledger file atomically via a temp file and rename.
func (l *ledger) writeLocked() error {
	if l.path == "" {
		return nil
	}
	lf := ledgerFile{Name: l.name, Seq: l.seq, Pending: make([]entry, 0, len(l.pending))}
	for _, e := range l.pending {
		lf.Pending = append(lf.Pending, e)
	}
	sort.Slice(lf.Pending, func(i, j int) bool {
		a, b := lf.Pending[i], lf.Pending[j]
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		if a.Seqno != b.Seqno {
			return a.Seqno < b.Seqno
		}
		return a.Listener < b.Listener
	})
	data, err := json.Marshal(lf)
	if err != nil {
		return fmt.Errorf("memory: encode ledger: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(l.path), filepath.Base(l.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("memory: write ledger: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("memory: write ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("memory: write ledger: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("memory: write ledger: %w", err)
	}
	l.dirty = false
	return nil
}
