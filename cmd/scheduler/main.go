package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veracta/doclifecycle/internal/bootstrap"
	"github.com/veracta/doclifecycle/internal/config"
	"github.com/veracta/doclifecycle/internal/observability/logging"
	"github.com/veracta/doclifecycle/internal/observability/metrics"
	"github.com/veracta/doclifecycle/internal/scheduler"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("doclifecycle-scheduler", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	sweepMetrics := metrics.NewSweepMetrics("doclifecycle-scheduler")
	runner, err := scheduler.New("doclifecycle-scheduler", app.Sweeper, sweepMetrics, scheduler.Schedule{
		EffectiveSpec:    cfg.SweepEffectiveSpec,
		ObsolescenceSpec: cfg.SweepObsolescenceSpec,
		ReviewSpec:       cfg.SweepReviewSpec,
		OverdueSpec:      cfg.SweepOverdueSpec,
		SweepTimeout:     cfg.SweepTimeout,
	})
	if err != nil {
		log.Fatalf("scheduler init error: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", sweepMetrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	metricsServer := &http.Server{
		Addr:        ":" + cfg.SchedulerMetricsPort,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("scheduler metrics listening on :%s", cfg.SchedulerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metrics server error: %v", err)
		}
	}()

	runner.Start()

	<-ctx.Done()
	<-runner.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics shutdown error: %v", err)
	}
}
