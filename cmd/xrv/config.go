package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/trickstertwo/xrv"
)

// Config is the file/env/flag configuration of the CLI.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Session   SessionConfig   `mapstructure:"session"`
	Driver    map[string]any  `mapstructure:"driver_config"`
	Certified CertifiedConfig `mapstructure:"certified"`
	Fields    map[string]any  `mapstructure:"fields"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type LogConfig struct {
	Debug   bool `mapstructure:"debug"`
	Console bool `mapstructure:"console"`
}

type SessionConfig struct {
	Driver  string `mapstructure:"driver"`
	Service string `mapstructure:"service"`
	Network string `mapstructure:"network"`
	Daemon  string `mapstructure:"daemon"`
	Queue   string `mapstructure:"queue"`
}

type CertifiedConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	UniqueName          string        `mapstructure:"unique_name"`
	ConfirmationSubject string        `mapstructure:"confirmation_subject"`
	LedgerFile          string        `mapstructure:"ledger_file"`
	DeliveryTimeLimit   time.Duration `mapstructure:"delivery_time_limit"`
	RequestOld          bool          `mapstructure:"request_old"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.debug", false)
	v.SetDefault("log.console", true)
	v.SetDefault("session.driver", xrv.DefaultDriver)
	v.SetDefault("session.service", "")
	v.SetDefault("session.network", "")
	v.SetDefault("session.daemon", "")
	v.SetDefault("session.queue", "")
	v.SetDefault("certified.enabled", false)
	v.SetDefault("certified.unique_name", "")
	v.SetDefault("certified.confirmation_subject", "")
	v.SetDefault("certified.ledger_file", "")
	v.SetDefault("certified.delivery_time_limit", time.Duration(0))
	v.SetDefault("certified.request_old", false)
	v.SetDefault("metrics.addr", "")
}

// newViper returns a viper instance reading XRV_* environment variables,
// e.g. XRV_SESSION_DRIVER for session.driver.
func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("XRV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// loadConfig reads file (when set) into v and decodes the result.
func loadConfig(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Certified.Enabled {
		if err := cfg.certified().Validate(); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

func (c Config) session() xrv.SessionConfig {
	return xrv.SessionConfig{
		Driver:       c.Session.Driver,
		DriverConfig: c.Driver,
		Service:      c.Session.Service,
		Network:      c.Session.Network,
		Daemon:       c.Session.Daemon,
		QueueName:    c.Session.Queue,
	}
}

func (c Config) certified() xrv.CertifiedConfig {
	return xrv.CertifiedConfig{
		Session:             c.session(),
		UniqueName:          c.Certified.UniqueName,
		ConfirmationSubject: c.Certified.ConfirmationSubject,
		LedgerFile:          c.Certified.LedgerFile,
		DeliveryTimeLimit:   c.Certified.DeliveryTimeLimit,
		RequestOld:          c.Certified.RequestOld,
	}
}

// builder wires the configured session, delivery mode and field names.
func (c Config) builder() *xrv.Builder {
	b := xrv.NewBuilder().
		WithSession(c.session()).
		WithTranslator(xrv.StandardTranslatorName, c.Fields)
	if c.Certified.Enabled {
		b.WithCertified(c.certified())
	}
	return b
}
