package xrv

import (
	"fmt"
	"strings"
	"time"
)

// SessionConfig addresses the bus. Empty Service, Network, Daemon and
// QueueName select the transport defaults.
type SessionConfig struct {
	// Driver is a registered driver name (default "memory").
	Driver string
	// DriverConfig is handed to the driver factory.
	DriverConfig map[string]any

	Service string
	Network string
	Daemon  string
	// QueueName selects a dedicated event queue; empty shares the default queue.
	QueueName string
}

// CertifiedConfig configures a CertifiedClient.
type CertifiedConfig struct {
	Session SessionConfig

	// UniqueName names the certified transport (required).
	UniqueName string
	// ConfirmationSubject, when set, gets a raw listener for delivery
	// confirmation advisories.
	ConfirmationSubject string
	// LedgerFile persists the ledger; empty uses a transient ledger.
	LedgerFile string
	// DeliveryTimeLimit bounds how long a message may await delivery.
	// Zero means unlimited; sub-second values are truncated.
	DeliveryTimeLimit time.Duration
	// RequestOld asks for messages sent while this name was offline.
	RequestOld bool
}

func (c SessionConfig) addr() Addr {
	return Addr{Service: c.Service, Network: c.Network, Daemon: c.Daemon}
}

func (c SessionConfig) driverName() string {
	if c.Driver == "" {
		return DefaultDriver
	}
	return c.Driver
}

func (c SessionConfig) String() string {
	return fmt.Sprintf("driver [%s] service [%s] network [%s] daemon [%s] queue name [%s]",
		c.driverName(), c.Service, c.Network, c.Daemon, c.QueueName)
}

// Validate checks CertifiedConfig for use.
func (c CertifiedConfig) Validate() error {
	if strings.TrimSpace(c.UniqueName) == "" {
		return configError("unique_name", "required")
	}
	if c.DeliveryTimeLimit < 0 {
		return configError("delivery_time_limit", fmt.Sprintf("must be >= 0, got %v", c.DeliveryTimeLimit))
	}
	return nil
}

func (c CertifiedConfig) String() string {
	return fmt.Sprintf("%s unique name [%s] confirmation subject [%s] ledger file [%s] request old [%t] delivery time limit [%v]",
		c.Session, c.UniqueName, c.ConfirmationSubject, c.LedgerFile, c.RequestOld, c.DeliveryTimeLimit)
}

// toMap converts Config into the generic map read by SessionConfigFromMap.
func (c SessionConfig) toMap() map[string]any {
	return map[string]any{
		"driver":        c.Driver,
		"driver_config": c.DriverConfig,
		"service":       c.Service,
		"network":       c.Network,
		"daemon":        c.Daemon,
		"queue_name":    c.QueueName,
	}
}

func (c CertifiedConfig) toMap() map[string]any {
	m := c.Session.toMap()
	m["unique_name"] = c.UniqueName
	m["confirmation_subject"] = c.ConfirmationSubject
	m["ledger_file"] = c.LedgerFile
	m["delivery_time_limit"] = c.DeliveryTimeLimit
	m["request_old"] = c.RequestOld
	return m
}

// SessionConfigFromMap safely converts a generic map into SessionConfig.
func SessionConfigFromMap(cfg map[string]any) SessionConfig {
	getString := func(k string) string {
		if v, ok := cfg[k].(string); ok {
			return v
		}
		return ""
	}
	var dc map[string]any
	if v, ok := cfg["driver_config"].(map[string]any); ok {
		dc = v
	}
	return SessionConfig{
		Driver:       getString("driver"),
		DriverConfig: dc,
		Service:      getString("service"),
		Network:      getString("network"),
		Daemon:       getString("daemon"),
		QueueName:    getString("queue_name"),
	}
}

// CertifiedConfigFromMap safely converts a generic map into CertifiedConfig.
// delivery_time_limit accepts a time.Duration, a duration string, or a
// number of seconds.
func CertifiedConfigFromMap(cfg map[string]any) CertifiedConfig {
	getString := func(k string) string {
		if v, ok := cfg[k].(string); ok {
			return v
		}
		return ""
	}
	getBool := func(k string) bool {
		v, _ := cfg[k].(bool)
		return v
	}
	getSeconds := func(k string) time.Duration {
		switch v := cfg[k].(type) {
		case time.Duration:
			return v
		case string:
			if p, err := time.ParseDuration(v); err == nil {
				return p
			}
		case int:
			return time.Duration(v) * time.Second
		case int64:
			return time.Duration(v) * time.Second
		case float64:
			return time.Duration(v * float64(time.Second))
		}
		return 0
	}
	return CertifiedConfig{
		Session:             SessionConfigFromMap(cfg),
		UniqueName:          getString("unique_name"),
		ConfirmationSubject: getString("confirmation_subject"),
		LedgerFile:          getString("ledger_file"),
		DeliveryTimeLimit:   getSeconds("delivery_time_limit"),
		RequestOld:          getBool("request_old"),
	}
}
