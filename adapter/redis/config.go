package redis

import (
	"fmt"
	"time"
)

// Config for the Redis driver.
type Config struct {
	// Connection; Addr.Daemon overrides Addr when set.
	Addr          string
	Username      string
	Password      string
	DB            int
	TLS           bool
	TLSServerName string

	// Certified delivery (Redis Streams)
	BatchSize    int
	Block        time.Duration
	MaxLenApprox int64
	AckTimeout   time.Duration
}

// Defaults returns a Config with production-safe defaults.
func Defaults() Config {
	return Config{
		Addr:       "127.0.0.1:6379",
		BatchSize:  64,
		Block:      time.Second,
		AckTimeout: 5 * time.Second,
	}
}

// Validate checks Config for use.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr required")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("config: batch_size must be >= 1, got %d", c.BatchSize)
	}
	if c.Block <= 0 {
		return fmt.Errorf("config: block must be > 0, got %v", c.Block)
	}
	if c.AckTimeout <= 0 {
		return fmt.Errorf("config: ack_timeout must be > 0, got %v", c.AckTimeout)
	}
	return nil
}

// toMap converts Config to generic map for the driver factory.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"addr":            c.Addr,
		"username":        c.Username,
		"password":        c.Password,
		"db":              c.DB,
		"tls":             c.TLS,
		"tls_server_name": c.TLSServerName,
		"batch_size":      c.BatchSize,
		"block":           c.Block,
		"max_len_approx":  c.MaxLenApprox,
		"ack_timeout":     c.AckTimeout,
	}
}

// ConfigFromMap safely converts cfg into Config with defaults.
func ConfigFromMap(cfg map[string]any) Config {
	getString := func(k, d string) string {
		if v, ok := cfg[k].(string); ok && v != "" {
			return v
		}
		return d
	}
	getInt := func(k string, d int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
		return d
	}
	getInt64 := func(k string, d int64) int64 {
		switch v := cfg[k].(type) {
		case int:
			return int64(v)
		case int32:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
		return d
	}
	getBool := func(k string, d bool) bool {
		if v, ok := cfg[k].(bool); ok {
			return v
		}
		return d
	}
	getDur := func(k string, d time.Duration) time.Duration {
		switch v := cfg[k].(type) {
		case time.Duration:
			return v
		case string:
			if p, err := time.ParseDuration(v); err == nil {
				return p
			}
		case float64:
			return time.Duration(v)
		}
		return d
	}

	def := Defaults()
	return Config{
		Addr:          getString("addr", def.Addr),
		Username:      getString("username", ""),
		Password:      getString("password", ""),
		DB:            getInt("db", 0),
		TLS:           getBool("tls", false),
		TLSServerName: getString("tls_server_name", ""),

		BatchSize:    getInt("batch_size", def.BatchSize),
		Block:        getDur("block", def.Block),
		MaxLenApprox: getInt64("max_len_approx", 0),
		AckTimeout:   getDur("ack_timeout", def.AckTimeout),
	}
}
