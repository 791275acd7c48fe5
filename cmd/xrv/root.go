package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xlog/adapter/zerolog"
	"github.com/trickstertwo/xrv"
	"github.com/trickstertwo/xrv/metrics"

	_ "github.com/trickstertwo/xrv/adapter/memory"
	_ "github.com/trickstertwo/xrv/adapter/nats"
	_ "github.com/trickstertwo/xrv/adapter/redis"
)

// app carries what PersistentPreRunE resolved for the subcommands.
type app struct {
	v       *viper.Viper
	cfgFile string

	cfg    Config
	logger *xlog.Logger
	reg    *prometheus.Registry
}

func newRootCmd() *cobra.Command {
	a := &app{v: newViper()}

	root := &cobra.Command{
		Use:           "xrv",
		Short:         "Listen to and send xrv bus messages",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (yaml, json or toml)")
	pf.String("driver", xrv.DefaultDriver, "bus driver (memory, redis, nats)")
	pf.String("service", "", "session service")
	pf.String("network", "", "session network")
	pf.String("daemon", "", "session daemon address")
	pf.String("queue", "", "dedicated event queue name")
	pf.Bool("certified", false, "use certified delivery")
	pf.String("unique-name", "", "certified transport name")
	pf.String("ledger", "", "certified ledger file")
	pf.Duration("time-limit", 0, "certified delivery time limit")
	pf.Bool("request-old", false, "request messages sent while offline")
	pf.Bool("debug", false, "debug logging")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address")

	for key, flag := range map[string]string{
		"session.driver":                "driver",
		"session.service":               "service",
		"session.network":               "network",
		"session.daemon":                "daemon",
		"session.queue":                 "queue",
		"certified.enabled":             "certified",
		"certified.unique_name":         "unique-name",
		"certified.ledger_file":         "ledger",
		"certified.delivery_time_limit": "time-limit",
		"certified.request_old":         "request-old",
		"log.debug":                     "debug",
		"metrics.addr":                  "metrics-addr",
	} {
		_ = a.v.BindPFlag(key, pf.Lookup(flag))
	}

	root.AddCommand(newListenCmd(a), newSendCmd(a))
	return root
}

func (a *app) setup() error {
	cfg, err := loadConfig(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	zc := zerolog.Config{
		Console:           cfg.Log.Console,
		ConsoleTimeFormat: time.RFC3339,
	}
	if cfg.Log.Debug {
		zc.MinLevel = xlog.LevelDebug
	}
	a.logger = zerolog.Use(zc).With(xlog.Str("app", "xrv"))
	a.reg = prometheus.NewRegistry()
	return nil
}

// builder returns the configured builder with logging and metrics attached.
func (a *app) builder() (*xrv.Builder, error) {
	b := a.cfg.builder().WithLogger(a.logger)
	if a.cfg.Metrics.Addr != "" {
		obs, err := metrics.NewObserver(a.reg, metrics.Opts{})
		if err != nil {
			return nil, err
		}
		b.WithObserver(obs)
	}
	return b, nil
}

// serveMetrics exposes the registry until ctx is done. It is a no-op
// without a metrics address.
func (a *app) serveMetrics(ctx context.Context) error {
	if a.cfg.Metrics.Addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", a.cfg.Metrics.Addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	a.logger.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")
	return nil
}
