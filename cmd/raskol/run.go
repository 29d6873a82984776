package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	raskol "github.com/eugener/raskol/internal"
	"github.com/eugener/raskol/internal/admission"
	"github.com/eugener/raskol/internal/auth"
	"github.com/eugener/raskol/internal/config"
	"github.com/eugener/raskol/internal/server"
	"github.com/eugener/raskol/internal/storage/sqlite"
	"github.com/eugener/raskol/internal/telemetry"
	"github.com/eugener/raskol/internal/upstream"
	"github.com/eugener/raskol/internal/worker"
)

func run(configPath string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("starting raskol", "version", version, "addr", cfg.ListenAddr(), "target", cfg.TargetAddress)

	// Open database
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}
	store, err := sqlite.New(cfg.DBPath(), cfg.SqliteBusyTimeout)
	if err != nil {
		return err
	}
	defer store.Close()

	// Telemetry
	var (
		metrics        *telemetry.Metrics
		metricsHandler http.Handler
	)
	if cfg.Telemetry.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	if cfg.Telemetry.Tracing {
		shutdown, err := telemetry.SetupTracing(context.Background(), cfg.Telemetry)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				slog.Error("tracing shutdown failed", "error", err)
			}
		}()
	}

	// Wire services
	codec := auth.NewCodec(cfg.JWT)
	controller := admission.New(store, raskol.Limits{
		MinHitInterval:  cfg.MinHitInterval,
		MaxTokensPerDay: cfg.MaxTokensPerDay,
	})
	client := upstream.New(cfg.TargetAddress, cfg.TargetAuthToken, upstream.Options{
		Timeout:  cfg.UpstreamDeadline(),
		Insecure: cfg.UpstreamInsecure,
	})

	// Browser clients: the local dev frontend plus the proxy's own origin.
	origins := []string{
		"http://localhost:3000",
		"https://localhost:3000",
		"http://" + cfg.ListenAddr(),
		"https://" + cfg.ListenAddr(),
	}

	handler := server.New(server.Deps{
		Auth:           codec,
		Admission:      controller,
		Upstream:       client,
		Store:          store,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		ReadyCheck:     store.Ping,
		AllowedOrigins: origins,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Background workers
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	runner := worker.NewRunner(worker.NewCheckpointer(store, 0))
	workerErrCh := make(chan error, 1)
	go func() {
		workerErrCh <- runner.Run(workerCtx)
	}()

	// Serve
	errCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.TLS != nil {
			err = srv.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("raskol ready", "addr", cfg.ListenAddr())

	// Wait for signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return err
	}

	// Shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ShutdownTimeout*float64(time.Second)))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	stopWorkers()
	if err := <-workerErrCh; err != nil {
		slog.Error("worker error during shutdown", "error", err)
	}

	slog.Info("raskol stopped")
	return nil
}
