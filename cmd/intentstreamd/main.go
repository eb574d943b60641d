// Package main implements the entry point for the IntentStream daemon.
// IntentStream routes recognized utterances to exactly one handler chosen
// from a dynamically registered set of skills, under a strict priority order
// and bounded latency.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/c360/intentstream/busclient"
	"github.com/c360/intentstream/config"
	"github.com/c360/intentstream/converse"
	"github.com/c360/intentstream/fallback"
	"github.com/c360/intentstream/matchers"
	"github.com/c360/intentstream/metric"
	"github.com/c360/intentstream/router"
	"github.com/c360/intentstream/service"
	"github.com/c360/intentstream/transformer"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "intentstreamd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting IntentStream (utterance routing)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus, err := connectBus(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
		defer cancel()
		if err := bus.Close(closeCtx); err != nil {
			slog.Warn("bus close failed", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	metrics := metric.New(registry)

	svc := buildService(bus, cfg, logger, metrics)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start intent service: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		group.Go(func() error {
			return serveMetrics(groupCtx, cfg.Metrics.Addr, registry, cliCfg.ShutdownTimeout)
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		slog.Info("Shutting down")
		return svc.Stop()
	})

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	slog.Info("Shutdown complete")
	return nil
}

func connectBus(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*busclient.Client, error) {
	bus, err := busclient.NewClient(cfg.NATS.URL(),
		busclient.WithLogger(logger),
		busclient.WithName(cfg.NATS.Name),
		busclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		busclient.WithReconnectWait(cfg.NATS.ReconnectWait.Std()),
	)
	if err != nil {
		return nil, fmt.Errorf("create bus client: %w", err)
	}

	slog.Info("Connecting to NATS", "url", cfg.NATS.URL())
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := bus.Connect(connCtx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return bus, nil
}

func buildService(
	bus busclient.Bus, cfg *config.Config, logger *slog.Logger, metrics *metric.Metrics,
) *service.IntentService {
	conv := converse.New(bus, cfg.Converse, logger)
	registry := fallback.NewRegistry(cfg.Fallback, logger, metrics)
	broadcaster := fallback.NewBroadcaster(bus, registry, cfg.Fallback, logger, metrics)

	rt := router.New(router.Deps{
		Bus:          bus,
		Config:       cfg,
		Converse:     conv,
		Fallback:     broadcaster,
		Statistical:  matchers.NewStatistical(bus, cfg.Matchers.Statistical, logger),
		Keyword:      matchers.NewKeyword(bus, cfg.Matchers.Keyword, logger),
		QA:           matchers.NewQA(bus, cfg.Matchers.QA, logger),
		Transformers: transformer.NewChain(logger),
		Logger:       logger,
		Metrics:      metrics,
	})

	return service.New(bus, rt, registry, conv, cfg, logger)
}

func serveMetrics(
	ctx context.Context, addr string, registry *prometheus.Registry, shutdownTimeout time.Duration,
) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metric.Handler(registry))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Metrics endpoint listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
