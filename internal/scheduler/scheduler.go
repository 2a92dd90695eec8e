// Package scheduler fires the broadcast job on a cron schedule in UTC.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"trendcast/internal/domain"
)

const (
	// DailySpec is 00:00 UTC every day.
	DailySpec = "0 0 * * *"
	// TestSpec runs every minute for test mode.
	TestSpec = "@every 1m"
)

type Job func(ctx context.Context) error

type Config struct {
	Spec string
	// RunOnStart fires the job once right after Start.
	RunOnStart bool
	// Timeout bounds one firing; zero means no bound beyond the job's own.
	Timeout time.Duration
}

type Scheduler struct {
	cfg      Config
	job      Job
	log      *slog.Logger
	c        *cron.Cron
	schedule cron.Schedule
	id       cron.EntryID

	mu      sync.Mutex
	baseCtx context.Context
	wg      sync.WaitGroup
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func New(cfg Config, job Job, log *slog.Logger) (*Scheduler, error) {
	if cfg.Spec == "" {
		cfg.Spec = DailySpec
	}
	if log == nil {
		log = slog.Default()
	}
	sched, err := parser.Parse(cfg.Spec)
	if err != nil {
		return nil, &domain.ConfigError{Field: "SCHEDULE", Reason: err.Error()}
	}
	s := &Scheduler{
		cfg:      cfg,
		job:      job,
		log:      log.With("component", "scheduler"),
		schedule: sched,
		baseCtx:  context.Background(),
	}
	s.c = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.log})),
	)
	s.id = s.c.Schedule(sched, cron.FuncJob(func() { s.fire("cron") }))
	return s, nil
}

// Start begins firing; jobs run with ctx until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	s.c.Start()
	s.log.Info("scheduler started", "spec", s.cfg.Spec, "next_run", s.NextRun())
	if s.cfg.RunOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.fire("startup")
		}()
	}
}

// Stop prevents new firings and waits for running ones, up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	cronDone := s.c.Stop()
	waited := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out; job still running")
	}
}

// NextRun is the next scheduled firing in UTC.
func (s *Scheduler) NextRun() time.Time {
	if e := s.c.Entry(s.id); e.Valid() && !e.Next.IsZero() {
		return e.Next.UTC()
	}
	return s.Next(time.Now())
}

// Next is the first firing strictly after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.UTC()).UTC()
}

func (s *Scheduler) fire(trigger string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in scheduled job", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := s.job(ctx)
	switch {
	case err == nil:
		s.log.Info("scheduled run finished", "trigger", trigger, "duration", time.Since(start), "next_run", s.NextRun())
	case errors.Is(err, domain.ErrRunInProgress):
		s.log.Info("scheduled run skipped; previous run still active", "trigger", trigger)
	default:
		s.log.Error("scheduled run failed", "trigger", trigger, "err", err, "next_run", s.NextRun())
	}
}

// cronLogger adapts slog to cron.Logger for the job chain.
type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, kv ...any) { l.log.Debug("cron: "+msg, kv...) }

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error(fmt.Sprintf("cron: %s", msg), append(kv, "err", err)...)
}
