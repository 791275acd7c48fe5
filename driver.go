package xrv

import (
	"context"
	"errors"
	"sync"
)

// Callback receives inbound messages on the dispatcher goroutine.
type Callback func(l Listener, m *Msg)

// Addr is the bus addressing triple. Empty values select driver defaults.
type Addr struct {
	Service string
	Network string
	Daemon  string
}

// CertifiedParams configures a certified transport.
type CertifiedParams struct {
	// Name identifies the certified transport; unique among live certified
	// transports of the driver.
	Name string
	// RequestOld asks senders to redeliver messages that were not confirmed
	// by this name while it was offline.
	RequestOld bool
	// LedgerFile persists the ledger; empty selects a transient ledger.
	LedgerFile string
	// SyncLedger writes the ledger on every change.
	SyncLedger bool
}

// Listener is a live subscription. Destroy stops callbacks, including
// events that were already queued.
type Listener interface {
	Subject() string
	Destroy() error
}

// Conn is a best-effort bus connection.
type Conn interface {
	Send(ctx context.Context, m *Msg) error
	Listen(q Queue, subject string, cb Callback) (Listener, error)
	Destroy() error
}

// CertifiedConn layers certified delivery over a Conn.
type CertifiedConn interface {
	Name() string
	Send(ctx context.Context, m *Msg) error
	Listen(q Queue, subject string, cb Callback) (Listener, error)
	Destroy() error
}

// Driver is the Strategy adapting a concrete bus. Open must be idempotent.
type Driver interface {
	Name() string
	Open() error
	Dial(ctx context.Context, addr Addr) (Conn, error)
	NewCertified(ctx context.Context, conn Conn, p CertifiedParams) (CertifiedConn, error)
}

// DriverFactory constructs drivers from a config blob.
type DriverFactory func(cfg map[string]any) (Driver, error)

// DefaultDriver is the driver name used when a SessionConfig names none.
const DefaultDriver = "memory"

var (
	driverRegistryMu sync.RWMutex
	driverRegistry   = map[string]DriverFactory{}
)

// RegisterDriver registers a bus adapter.
func RegisterDriver(name string, factory DriverFactory) error {
	if name == "" {
		return errors.New("driver name must not be empty")
	}
	if factory == nil {
		return errors.New("driver factory must not be nil")
	}
	driverRegistryMu.Lock()
	driverRegistry[name] = factory
	driverRegistryMu.Unlock()
	return nil
}

// NewDriver constructs a driver by name with config.
func NewDriver(name string, cfg map[string]any) (Driver, error) {
	driverRegistryMu.RLock()
	f, ok := driverRegistry[name]
	driverRegistryMu.RUnlock()
	if !ok {
		return nil, ErrUnknownDriver{name: name}
	}
	return f(cfg)
}

// runtimeState guards the process-wide Open of each driver name. A failed
// open is retried on the next call.
type runtimeState struct {
	mu     sync.Mutex
	opened bool
}

var runtimes sync.Map // driver name -> *runtimeState

// ensureRuntimeOpen opens the driver runtime at most once per process.
func ensureRuntimeOpen(d Driver) error {
	v, _ := runtimes.LoadOrStore(d.Name(), &runtimeState{})
	st := v.(*runtimeState)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.opened {
		return nil
	}
	if err := d.Open(); err != nil {
		return err
	}
	st.opened = true
	return nil
}
