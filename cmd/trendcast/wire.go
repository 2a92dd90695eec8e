package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"trendcast/internal/audience"
	"trendcast/internal/awsutil"
	"trendcast/internal/config"
	"trendcast/internal/market/gecko"
	"trendcast/internal/providers/intercom"
	"trendcast/internal/render"
	"trendcast/internal/service"
	"trendcast/internal/store"
	"trendcast/internal/store/memory"
	"trendcast/internal/store/pg"
	"trendcast/internal/upload/imgbb"
	s3upload "trendcast/internal/upload/s3"
	"trendcast/internal/worker"
)

const tokenInfoTTL = time.Hour

// app is one fully wired orchestrator plus what has to be closed with it.
type app struct {
	cfg     config.RunConfig
	log     *slog.Logger
	runs    store.RunStore
	orch    *service.Orchestrator
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newPlatformClient(p config.Platform, debug bool, log *slog.Logger) (*intercom.Client, error) {
	return intercom.New(intercom.Options{
		Token:        p.IntercomToken,
		AdminID:      p.IntercomAdminID,
		BaseURL:      p.IntercomBaseURL,
		APIVersion:   p.IntercomAPIVersion,
		PageSize:     p.PageSize,
		MaxPages:     p.MaxPages,
		RequestDelay: p.RequestDelay,
		Verbose:      debug,
		HTTP:         &http.Client{Timeout: 30 * time.Second},
		Logger:       log,
	})
}

func buildApp(ctx context.Context, cfg config.RunConfig, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	client, err := newPlatformClient(cfg.Platform, cfg.Debug, log)
	if err != nil {
		return nil, err
	}
	policy, err := audience.ParsePolicy(cfg.AudiencePolicy)
	if err != nil {
		return nil, err
	}

	uploader, err := newUploader(ctx, cfg)
	if err != nil {
		return nil, err
	}

	runs, closeRuns, err := newRunStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.runs = runs
	if closeRuns != nil {
		a.closers = append(a.closers, closeRuns)
	}

	a.orch = &service.Orchestrator{
		Tokens: &gecko.Client{
			BaseURL: cfg.GeckoBaseURL,
			Network: cfg.GeckoNetwork,
			Cache:   gecko.NewTokenInfoCache(tokenInfoTTL),
			Logger:  log,
		},
		Renderer: render.NewPNG(),
		Uploader: uploader,
		Audience: &audience.Resolver{Platform: client, Policy: policy, Logger: log},
		Sender: &worker.BulkSender{
			Sender:  client,
			Limiter: worker.NewLimiter(cfg.SendRPS, cfg.SendBurst),
			Breaker: worker.NewBreaker(cfg.BreakerFailures, 0),
			Logger:  log,
		},
		Runs: runs,
		Settings: service.Settings{
			Mode:             cfg.Mode(),
			TestUserIDs:      cfg.TestIDs(),
			ActivityDays:     cfg.ActivityDays,
			MaxUsers:         cfg.MaxUsers,
			DryRun:           cfg.DryRun,
			TopN:             cfg.TopN,
			FallbackImageURL: cfg.FallbackImageURL,
			RunTimeout:       cfg.RunTimeout,
			Send: worker.Options{
				Concurrency:    cfg.BatchConcurrency,
				InterSendDelay: cfg.SendDelay,
				SendTimeout:    cfg.SendTimeout,
			},
		},
		Logger: log,
	}
	return a, nil
}

// newUploader returns a nil interface for IMAGE_HOST=none so the run goes straight
// to the fallback image.
func newUploader(ctx context.Context, cfg config.RunConfig) (service.Uploader, error) {
	switch strings.ToLower(cfg.ImageHost) {
	case "s3":
		client, err := awsutil.NewS3Client(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
		if err != nil {
			return nil, fmt.Errorf("s3 client: %w", err)
		}
		return &s3upload.Uploader{
			Client:   client,
			Bucket:   cfg.S3BucketName,
			Region:   cfg.AWSRegion,
			Endpoint: cfg.LocalstackEndpoint,
		}, nil
	case "none":
		return nil, nil
	default:
		return &imgbb.Uploader{APIKey: cfg.ImgBBAPIKey}, nil
	}
}

func newRunStore(ctx context.Context, cfg config.RunConfig, log *slog.Logger) (store.RunStore, func(), error) {
	if cfg.DBDSN == "" {
		log.Info("no DB_DSN, run lock and history are in-memory")
		return memory.New(), nil, nil
	}
	pool, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{MaxConns: cfg.DBMaxConns})
	if err != nil {
		return nil, nil, fmt.Errorf("db pool: %w", err)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	s := pg.New(pool)
	if err := s.Ping(startupCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("db not reachable: %w", err)
	}
	if err := s.Migrate(startupCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("db migrate: %w", err)
	}
	return s, pool.Close, nil
}
