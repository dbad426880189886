// Command vcdjd runs a virtual Pro DJ Link participant: it announces
// itself, ingests peer status/beat traffic, and optionally contends for
// and holds the tempo master role, exposing debug and metrics endpoints
// over HTTP.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prolink/vcdjd/internal/config"
	"github.com/prolink/vcdjd/internal/link"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting vcdjd",
		"device_name", cfg.DeviceName,
		"device_number", cfg.DeviceNumber,
		"http_port", cfg.HTTPPort,
	)

	participant := link.NewParticipant(
		logger,
		cfg.DeviceName,
		link.DeviceID(cfg.DeviceNumber),
		cfg.UseStandardPlayerNum,
		cfg.AnnounceIntervalMillis,
		cfg.StatusIntervalMillis,
		cfg.TempoEpsilon,
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(link.NewCollector(participant, time.Now()))

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"state":%q}`, participant.State().String())
	})
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	if err := participant.Start(appCtx); err != nil {
		slog.Error("failed to start participant", "error", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	participant.Stop()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("vcdjd stopped")
}
