// Package commands holds the harness CLI subcommands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/Swind/embedder-harness/config"
	"github.com/Swind/embedder-harness/core"
	obs "github.com/Swind/embedder-harness/observability/prometheus"
	"github.com/Swind/embedder-harness/trace"
)

// GlobalFlags are the app level flags every command reads through loadConfig.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML configuration file",
			EnvVars: []string{"HARNESS_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "override log.level (debug, info, warn, error)",
		},
	}
}

// loadConfig reads --config over the defaults and applies --log-level.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if level := c.String("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func newLogger(cfg config.Config) core.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: core.ParseLevel(cfg.Log.Level)})
	return core.NewSlogLogger(slog.New(handler))
}

// telemetry bundles the optional metrics endpoint and trace store of a
// command run. Its zero value records nothing.
type telemetry struct {
	registry *prom.Registry
	exporter *obs.MetricsExporter
	poller   *obs.SnapshotPoller
	server   *http.Server
	store    *trace.Store
	logger   core.Logger
}

func startTelemetry(cfg config.Config, logger core.Logger) (*telemetry, error) {
	t := &telemetry{logger: logger}
	if cfg.Metrics.Addr != "" {
		t.registry = prom.NewRegistry()
		exporter, err := obs.NewMetricsExporter("", t.registry, obs.ExporterOptions{})
		if err != nil {
			return nil, fmt.Errorf("creating metrics exporter: %w", err)
		}
		poller, err := obs.NewSnapshotPoller("", t.registry, 250*time.Millisecond)
		if err != nil {
			return nil, fmt.Errorf("creating snapshot poller: %w", err)
		}
		t.exporter, t.poller = exporter, poller

		ln, err := net.Listen("tcp", cfg.Metrics.Addr)
		if err != nil {
			return nil, fmt.Errorf("listening on %s: %w", cfg.Metrics.Addr, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{}))
		t.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", core.F("error", err))
			}
		}()
		logger.Info("serving metrics", core.F("addr", ln.Addr().String()))
	}
	if cfg.Trace.DB != "" {
		store, err := trace.Open(cfg.Trace.DB)
		if err != nil {
			t.close()
			return nil, err
		}
		t.store = store.WithLogger(logger)
	}
	return t, nil
}

// runnerConfig returns the runner config for the command's threads. Task
// metrics go to the exporter when metrics are on.
func (t *telemetry) runnerConfig() *core.RunnerConfig {
	cfg := core.DefaultRunnerConfig()
	cfg.Logger = t.logger
	if t.exporter != nil {
		cfg.Metrics = t.exporter
	}
	return cfg
}

func (t *telemetry) startPoller() {
	if t.poller != nil {
		t.poller.Start(context.Background())
	}
}

func (t *telemetry) close() {
	if t.poller != nil {
		t.poller.Stop()
	}
	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = t.server.Shutdown(ctx)
	}
	if t.store != nil {
		if err := t.store.Close(); err != nil {
			t.logger.Warn("closing trace store", core.F("error", err))
		}
	}
}
