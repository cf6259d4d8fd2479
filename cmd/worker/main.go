package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/docsense/internal/bootstrap"
	"github.com/kirillkom/docsense/internal/config"
	"github.com/kirillkom/docsense/internal/observability/logging"
	"github.com/kirillkom/docsense/internal/observability/metrics"
)

const improveTimeout = 5 * time.Minute

func main() {
	cfg := config.Load()
	cfg.FeedbackQueueEnabled = true
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	app, err := bootstrap.New(ctx, cfg, logger, bootstrap.WithQueueLagObserver(func(lag time.Duration) {
		workerMetrics.ObserveQueueLag("worker", lag)
	}))
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed", "subject", cfg.FeedbackSubject)
	err = app.Queue.SubscribeFeedback(ctx, func(handlerCtx context.Context, feedbackID string) error {
		improveCtx, cancel := context.WithTimeout(handlerCtx, improveTimeout)
		defer cancel()

		workerMetrics.StartImprovement()
		start := time.Now()
		outcome, err := app.Improver.ImproveByID(improveCtx, feedbackID)
		workerMetrics.FinishImprovement("worker", outcome, time.Since(start), err)
		if err == nil {
			logger.Info("feedback_improved", "feedback_id", feedbackID, "outcome", outcome)
		}
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}
