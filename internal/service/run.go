package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"trendcast/internal/audience"
	"trendcast/internal/domain"
	"trendcast/internal/market"
	"trendcast/internal/message"
	"trendcast/internal/observability"
	"trendcast/internal/store"
	"trendcast/internal/util"
	"trendcast/internal/worker"
)

const DefaultFallbackImageURL = "https://cdn.pixabay.com/photo/2021/05/24/09/15/ethereum-6278326_960_720.png"

type TokenSource interface {
	FetchTrendingTokens(ctx context.Context) ([]domain.Token, error)
}

type Renderer interface {
	Render(tokens []domain.Token) ([]byte, error)
}

type Uploader interface {
	Upload(ctx context.Context, name string, image []byte) (string, error)
}

type Audience interface {
	ResolveAll(ctx context.Context) (audience.Result, error)
	ResolveActive(ctx context.Context, activityDays int) (audience.Result, error)
}

type BulkSender interface {
	Send(ctx context.Context, recipients []domain.Recipient, htmlBody string, opts worker.Options) domain.RunReport
}

type Settings struct {
	Mode             domain.Mode
	TestUserIDs      []string
	ActivityDays     int
	MaxUsers         int
	DryRun           bool
	TopN             int
	FallbackImageURL string
	RunTimeout       time.Duration
	// Send carries concurrency and pacing; DryRun above wins over Send.DryRun.
	Send worker.Options
}

// Orchestrator runs one broadcast: fetch, render, upload, resolve, format, send.
// Runs is optional; without it there is no lock and no history.
type Orchestrator struct {
	Tokens   TokenSource
	Renderer Renderer
	Uploader Uploader
	Audience Audience
	Sender   BulkSender
	Runs     store.RunStore
	Settings Settings
	Logger   *slog.Logger
	Now      func() time.Time
}

// With returns a copy of o for a single out-of-schedule run. An empty mode keeps
// the configured one; dryRun can only turn dry run on.
func (o *Orchestrator) With(mode domain.Mode, dryRun bool) *Orchestrator {
	cp := *o
	if mode != "" {
		cp.Settings.Mode = mode
	}
	if dryRun {
		cp.Settings.DryRun = true
	}
	return &cp
}

// Run returns domain.ErrRunInProgress without doing anything when another run
// holds the lock. Per-recipient failures never make Run fail.
func (o *Orchestrator) Run(ctx context.Context) (domain.RunReport, error) {
	s := o.Settings
	mode := s.Mode
	if mode == "" {
		mode = domain.ModeAllUsers
	}
	if mode == domain.ModeTestUsers && len(s.TestUserIDs) == 0 {
		return domain.RunReport{}, &domain.ConfigError{Field: "TEST_USER_IDS", Reason: "required in test mode"}
	}

	if o.Runs != nil {
		release, ok, err := o.Runs.TryLock(ctx)
		if err != nil {
			return domain.RunReport{}, fmt.Errorf("acquire run lock: %w", err)
		}
		if !ok {
			observability.Runs.WithLabelValues(string(mode), "skipped").Inc()
			o.logger().Warn("previous run still in progress, skipping", "mode", mode)
			return domain.RunReport{}, domain.ErrRunInProgress
		}
		defer release()
	}

	rep := domain.RunReport{RunID: util.NewRunID(), Mode: mode, DryRun: s.DryRun, StartedAt: o.now()}
	log := o.logger().With("run_id", rep.RunID, "mode", mode, "dry_run", s.DryRun)
	log.Info("run started")
	o.recordStart(ctx, log, rep)

	runCtx := ctx
	if s.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.RunTimeout)
		defer cancel()
	}

	rep, err := o.pipeline(runCtx, log, rep)
	rep.FinishedAt = o.now()
	o.recordFinish(ctx, log, rep, err)

	result := "ok"
	if err != nil {
		result = "failed"
	}
	observability.Runs.WithLabelValues(string(mode), result).Inc()
	observability.RunDuration.Observe(rep.FinishedAt.Sub(rep.StartedAt).Seconds())

	if err != nil {
		log.Error("run failed", "err", err)
		return rep, err
	}
	log.Info("run complete",
		"resolved", rep.TotalResolved,
		"attempted", rep.TotalAttempted,
		"succeeded", rep.SuccessCount,
		"failed", rep.FailureCount,
		"canceled", rep.Canceled,
		"strategy", rep.AudienceStrategy,
		"image_url", rep.ImageURL,
		"duration", rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond),
	)
	for i, f := range rep.FailureSample() {
		log.Warn("failed recipient", "n", i+1, "recipient_id", f.RecipientID, "email", f.Email, "err", f.Error)
	}
	if more := len(rep.Failures) - domain.FailureSampleSize; more > 0 {
		log.Warn("more failed recipients not shown", "count", more)
	}
	return rep, nil
}

func (o *Orchestrator) pipeline(ctx context.Context, log *slog.Logger, rep domain.RunReport) (domain.RunReport, error) {
	s := o.Settings

	tokens, err := o.Tokens.FetchTrendingTokens(ctx)
	if err != nil {
		return rep, fmt.Errorf("fetch trending tokens: %w", err)
	}
	top := market.Select(tokens, s.TopN)
	if len(top) == 0 {
		log.Warn("no token passed selection, image will be empty", "fetched", len(tokens))
	}

	img, err := o.Renderer.Render(top)
	if err != nil {
		return rep, fmt.Errorf("render image: %w", err)
	}

	rep.ImageURL, rep.UsedFallbackImage = o.upload(ctx, log, img)

	recipients, strategy, err := o.resolve(ctx)
	if err != nil {
		return rep, fmt.Errorf("resolve audience: %w", err)
	}
	rep.AudienceStrategy = strategy
	rep.TotalResolved = len(recipients)

	capped := audience.Cap(recipients, s.MaxUsers)
	if len(capped) < len(recipients) {
		log.Info("recipient list capped", "resolved", len(recipients), "max_users", s.MaxUsers)
	}
	if len(capped) == 0 {
		log.Info("no recipients resolved, nothing to send", "strategy", strategy)
		return rep, nil
	}

	body, err := message.Build(message.Content{
		ImageURL: rep.ImageURL,
		Tokens:   top,
		Now:      o.now(),
		Test:     rep.Mode == domain.ModeTestUsers,
	})
	if err != nil {
		return rep, fmt.Errorf("build message: %w", err)
	}

	opts := s.Send
	opts.DryRun = s.DryRun
	if opts.Progress == nil {
		opts.Progress = func(p worker.Progress) {
			log.Info("send progress", "done", p.Done, "total", p.Total, "succeeded", p.Succeeded, "failed", p.Failed)
		}
	}
	log.Info("sending", "recipients", len(capped), "concurrency", opts.Concurrency)

	sent := o.Sender.Send(ctx, capped, body, opts)
	rep.TotalAttempted = sent.TotalAttempted
	rep.SuccessCount = sent.SuccessCount
	rep.FailureCount = sent.FailureCount
	rep.Failures = sent.Failures
	rep.Canceled = sent.Canceled
	return rep, nil
}

// upload never fails the run; a missing or failing host yields the fallback image.
func (o *Orchestrator) upload(ctx context.Context, log *slog.Logger, img []byte) (string, bool) {
	if o.Uploader == nil {
		log.Warn("no image host configured, using fallback image")
		return o.fallbackURL(), true
	}
	name := "daily-tokens-" + o.now().UTC().Format("2006-01-02") + ".png"
	url, err := o.Uploader.Upload(ctx, name, img)
	if err != nil || url == "" {
		if err == nil {
			err = errors.New("empty url")
		}
		log.Warn("image upload failed, using fallback image", "err", err, "fallback", o.fallbackURL())
		return o.fallbackURL(), true
	}
	log.Info("image uploaded", "url", url)
	return url, false
}

func (o *Orchestrator) resolve(ctx context.Context) ([]domain.Recipient, string, error) {
	s := o.Settings
	switch s.Mode {
	case domain.ModeTestUsers:
		out := make([]domain.Recipient, 0, len(s.TestUserIDs))
		for _, id := range s.TestUserIDs {
			out = append(out, domain.Recipient{ID: id, Kind: domain.KindUser})
		}
		return out, "test_ids", nil
	case domain.ModeActiveUsers:
		res, err := o.Audience.ResolveActive(ctx, s.ActivityDays)
		return res.Recipients, res.Strategy, err
	default:
		res, err := o.Audience.ResolveAll(ctx)
		return res.Recipients, res.Strategy, err
	}
}

func (o *Orchestrator) recordStart(ctx context.Context, log *slog.Logger, rep domain.RunReport) {
	if o.Runs == nil {
		return
	}
	if err := o.Runs.StartRun(ctx, store.RunRecord{RunID: rep.RunID, Mode: string(rep.Mode), DryRun: rep.DryRun, StartedAt: rep.StartedAt}); err != nil {
		log.Warn("record run start", "err", err)
	}
}

func (o *Orchestrator) recordFinish(ctx context.Context, log *slog.Logger, rep domain.RunReport, runErr error) {
	if o.Runs == nil {
		return
	}
	// history is written even when the run was canceled
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.Runs.FinishRun(ctx, store.RecordFromReport(rep, runErr)); err != nil {
		log.Warn("record run finish", "err", err)
	}
}

func (o *Orchestrator) fallbackURL() string {
	if o.Settings.FallbackImageURL != "" {
		return o.Settings.FallbackImageURL
	}
	return DefaultFallbackImageURL
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return util.NowUTC()
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}
