package nats

import (
	"fmt"
	"time"
)

// Config for the NATS driver.
type Config struct {
	// Connection; SessionConfig.Daemon overrides URL when set.
	URL           string
	Name          string
	User          string
	Password      string
	Token         string
	Timeout       time.Duration
	ReconnectWait time.Duration
	MaxReconnects int

	// Certified delivery (JetStream)
	StreamPrefix string
	FetchBatch   int
	FetchWait    time.Duration
	AckWait      time.Duration
	MaxAge       time.Duration
}

// Defaults returns a Config with production-safe defaults.
func Defaults() Config {
	return Config{
		URL:           "nats://127.0.0.1:4222",
		Name:          "xrv",
		Timeout:       5 * time.Second,
		ReconnectWait: time.Second,
		MaxReconnects: -1,
		StreamPrefix:  "XRV",
		FetchBatch:    64,
		FetchWait:     time.Second,
		AckWait:       30 * time.Second,
	}
}

// Validate checks Config for use.
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("config: url required")
	}
	if c.StreamPrefix == "" {
		return fmt.Errorf("config: stream_prefix required")
	}
	if c.FetchBatch < 1 {
		return fmt.Errorf("config: fetch_batch must be >= 1, got %d", c.FetchBatch)
	}
	if c.FetchWait <= 0 {
		return fmt.Errorf("config: fetch_wait must be > 0, got %v", c.FetchWait)
	}
	if c.AckWait <= 0 {
		return fmt.Errorf("config: ack_wait must be > 0, got %v", c.AckWait)
	}
	return nil
}

// toMap converts Config to generic map for the driver factory.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"url":            c.URL,
		"name":           c.Name,
		"user":           c.User,
		"password":       c.Password,
		"token":          c.Token,
		"timeout":        c.Timeout,
		"reconnect_wait": c.ReconnectWait,
		"max_reconnects": c.MaxReconnects,
		"stream_prefix":  c.StreamPrefix,
		"fetch_batch":    c.FetchBatch,
		"fetch_wait":     c.FetchWait,
		"ack_wait":       c.AckWait,
		"max_age":        c.MaxAge,
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
		URL:           getString("url", def.URL),
		Name:          getString("name", def.Name),
		User:          getString("user", ""),
		Password:      getString("password", ""),
		Token:         getString("token", ""),
		Timeout:       getDur("timeout", def.Timeout),
		ReconnectWait: getDur("reconnect_wait", def.ReconnectWait),
		MaxReconnects: getInt("max_reconnects", def.MaxReconnects),

		StreamPrefix: getString("stream_prefix", def.StreamPrefix),
		FetchBatch:   getInt("fetch_batch", def.FetchBatch),
		FetchWait:    getDur("fetch_wait", def.FetchWait),
		AckWait:      getDur("ack_wait", def.AckWait),
		MaxAge:       getDur("max_age", 0),
	}
}
