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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"trendcast/internal/awsutil"
	"trendcast/internal/config"
	"trendcast/internal/domain"
	"trendcast/internal/httpserver"
	"trendcast/internal/logging"
	"trendcast/internal/observability"
	sqsqueue "trendcast/internal/queue/sqs"
	"trendcast/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon: scheduled broadcasts, status API, metrics and trigger queue",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadRun()
	if err != nil {
		return err
	}
	log := logging.Init("trendcast", cfg.LogFormat, cfg.Debug)
	observability.Register(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "err", err)
		return err
	}
	defer a.Close()

	spec := cfg.Schedule
	if cfg.TestSchedule {
		spec = scheduler.TestSpec
	}
	sched, err := scheduler.New(scheduler.Config{Spec: spec, RunOnStart: cfg.TestSchedule}, func(ctx context.Context) error {
		_, err := a.orch.Run(ctx)
		return err
	}, log)
	if err != nil {
		return err
	}

	api := &httpserver.API{
		Runs: a.runs,
		Start: func(ctx context.Context, mode domain.Mode, dryRun bool) error {
			_, err := a.orch.With(mode, dryRun).Run(ctx)
			return err
		},
		NextRun: sched.NextRun,
		Mode:    cfg.Mode(),
		BaseCtx: ctx,
		Logger:  log,
	}
	s := httpserver.New(log)
	api.Register(s.Router)
	s.Router.HandleFunc("/healthz", httpserver.Healthz()).Methods(http.MethodGet)
	s.Router.HandleFunc("/readyz", httpserver.Readyz(2*time.Second, httpserver.Check{Name: "run_store", Fn: a.runs.Ping})).Methods(http.MethodGet)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 3)
	go func() {
		log.Info("http listening", "port", cfg.Port)
		errCh <- serveHTTP(srv)
	}()
	go func() {
		log.Info("metrics listening", "port", cfg.MetricsPort)
		errCh <- serveHTTP(metricsSrv)
	}()

	pollDone := make(chan struct{})
	if cfg.TriggerQueueURL != "" {
		consumer, err := newTriggerConsumer(ctx, cfg, log)
		if err != nil {
			return err
		}
		go func() {
			defer close(pollDone)
			log.Info("trigger queue polling", "queue_url", cfg.TriggerQueueURL)
			if err := consumer.Poll(ctx, triggerHandler(a, log)); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	} else {
		close(pollDone)
	}

	sched.Start(ctx)

	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err = <-errCh:
		log.Error("daemon component failed", "err", err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sched.Stop(shutdownCtx)
	_ = srv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	api.Wait()
	select {
	case <-pollDone:
	case <-shutdownCtx.Done():
		log.Warn("shutdown timeout waiting for trigger queue poll loop")
	}
	return err
}

func serveHTTP(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newTriggerConsumer(ctx context.Context, cfg config.RunConfig, log *slog.Logger) (*sqsqueue.Consumer, error) {
	client, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
	if err != nil {
		return nil, err
	}
	return &sqsqueue.Consumer{
		SQS:               client,
		QueueURL:          cfg.TriggerQueueURL,
		WaitTimeSeconds:   cfg.SQSWaitTime,
		VisibilityTimeout: cfg.SQSVizTimeout,
		Logger:            log,
	}, nil
}

// triggerHandler drops requests that can never succeed and leaves the rest for
// redrive, including ones that arrive while another run holds the lock.
func triggerHandler(a *app, log *slog.Logger) sqsqueue.Handler {
	return func(ctx context.Context, req sqsqueue.RunRequest) error {
		var mode domain.Mode
		if req.Mode != "" {
			m, err := domain.ParseMode(req.Mode)
			if err != nil {
				log.Warn("dropping run request with unknown mode", "request_id", req.RequestID, "mode", req.Mode)
				return nil
			}
			mode = m
		}
		log.Info("run requested", "request_id", req.RequestID, "requested_by", req.RequestedBy, "mode", mode, "dry_run", req.DryRun)
		_, err := a.orch.With(mode, req.DryRun).Run(ctx)
		var ce *domain.ConfigError
		if errors.As(err, &ce) {
			log.Warn("dropping run request", "request_id", req.RequestID, "err", err)
			return nil
		}
		return err
	}
}
