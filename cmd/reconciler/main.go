package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/clock"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/config"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/database"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/logging"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/tracing"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/common/utils"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/model"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/repository"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/service/reconciler"
)

const (
	projectName = "sbcntr-inventory-reconciler"
)

// 常駐して期限切れの予約と出品を定期的に回収します
func main() {
	// 常駐プロセスのためタスクトークンは使わない
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatal().Err(utils.GetStackWithError(err)).Msg("Failed to load config")
	}
	logging.Setup(cfg.Log.Level)

	if cfg.EnableTracing {
		tracing.Configure()
	}

	db, err := database.NewDB(cfg.DB)
	if err != nil {
		log.Fatal().Err(utils.GetStackWithError(err)).Msg("Failed to create database connection")
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := reconciler.New(repository.NewDBFromSqlx(db.DB), reconciler.Options{
		Workers:     cfg.Reconciler.Workers,
		ItemTimeout: cfg.Reconciler.ItemTimeout,
		Metrics:     reconciler.NewMetrics(registry),
	})

	var runner reconciler.CycleRunner = r
	if cfg.EnableTracing {
		runner = tracedRunner{r}
	}
	scheduler := reconciler.NewScheduler(runner, clock.Real{}, cfg.Reconciler.Interval, nil)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("Serving metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
			stop()
		}
	}()

	if err := scheduler.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	if err := scheduler.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop scheduler")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown metrics server")
		os.Exit(1)
	}
}

// tracedRunner はサイクルごとにX-Rayセグメントを作成します
type tracedRunner struct {
	next reconciler.CycleRunner
}

func (t tracedRunner) RunCycle(ctx context.Context, now time.Time) model.CycleSummary {
	ctx, seg := xray.BeginSegment(ctx, projectName)
	summary := t.next.RunCycle(ctx, now)
	if summary.HasErrors() {
		seg.Close(errors.New("cleanup cycle recorded errors"))
	} else {
		seg.Close(nil)
	}
	return summary
}
