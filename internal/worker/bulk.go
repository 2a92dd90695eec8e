package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"trendcast/internal/domain"
	"trendcast/internal/observability"
	"trendcast/internal/providers/intercom"
)

const (
	DefaultConcurrency = 5
	DefaultSendTimeout = 10 * time.Second
)

type MessageSender interface {
	SendToOne(ctx context.Context, recipientID, htmlBody string) (intercom.SendResponse, error)
}

type Progress struct {
	Done      int
	Total     int
	Succeeded int
	Failed    int
	Last      domain.SendOutcome
}

type Options struct {
	Concurrency    int
	DryRun         bool
	InterSendDelay time.Duration
	SendTimeout    time.Duration
	// Progress is called with the lock held; it must not block.
	Progress func(Progress)
}

// BulkSender fans one message body out to many recipients. A failed recipient is
// recorded and skipped; it never stops the others and is never retried.
type BulkSender struct {
	Sender  MessageSender
	Limiter *rate.Limiter
	Breaker *gobreaker.CircuitBreaker
	Logger  *slog.Logger
}

// Send delivers htmlBody to every recipient with at most opts.Concurrency sends in
// flight. When ctx is canceled, recipients not yet started are abandoned while
// in-flight sends run to completion.
func (b *BulkSender) Send(ctx context.Context, recipients []domain.Recipient, htmlBody string, opts Options) domain.RunReport {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	log := b.logger()

	var (
		mu  sync.Mutex
		rep = domain.RunReport{TotalResolved: len(recipients), DryRun: opts.DryRun}
	)
	record := func(r domain.Recipient, err error) {
		mu.Lock()
		defer mu.Unlock()
		rep.TotalAttempted++
		out := domain.SendOutcome{RecipientID: r.ID, Status: domain.SendSuccess}
		if err != nil {
			rep.FailureCount++
			rep.Failures = append(rep.Failures, domain.Failure{RecipientID: r.ID, Email: r.Email, Error: err.Error()})
			out.Status, out.Error = domain.SendFailure, err.Error()
		} else {
			rep.SuccessCount++
		}
		if opts.Progress != nil && shouldReport(rep.TotalAttempted, len(recipients)) {
			opts.Progress(Progress{
				Done:      rep.TotalAttempted,
				Total:     len(recipients),
				Succeeded: rep.SuccessCount,
				Failed:    rep.FailureCount,
				Last:      out,
			})
		}
	}
	abandon := func() {
		mu.Lock()
		rep.Canceled = true
		mu.Unlock()
	}

	// No errgroup.WithContext: one recipient's failure must not cancel the rest.
	var g errgroup.Group
	g.SetLimit(opts.Concurrency)

	for _, r := range recipients {
		r := r
		if ctx.Err() != nil {
			abandon()
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				abandon()
				return nil
			}
			attempted, err := b.sendOne(ctx, r, htmlBody, opts)
			if !attempted {
				abandon()
				return nil
			}
			if err != nil {
				log.Warn("send failed", "recipient_id", r.ID, "err", err)
			}
			record(r, err)
			if opts.InterSendDelay > 0 && !opts.DryRun {
				pause(ctx, opts.InterSendDelay)
			}
			return nil
		})
	}
	_ = g.Wait()

	if rep.Canceled {
		log.Warn("bulk send canceled, unstarted recipients abandoned",
			"attempted", rep.TotalAttempted, "total", len(recipients), "err", ctx.Err())
	}
	return rep
}

// sendOne reports whether the send was actually attempted; a recipient still waiting
// on the rate limiter when the run ends counts as abandoned, not failed.
func (b *BulkSender) sendOne(ctx context.Context, r domain.Recipient, htmlBody string, opts Options) (bool, error) {
	if opts.DryRun {
		observability.Sends.WithLabelValues("dry_run").Inc()
		return true, nil
	}

	if b.Limiter != nil {
		// Wait fails only when ctx is done or its deadline would pass first.
		if err := b.Limiter.Wait(ctx); err != nil {
			observability.Sends.WithLabelValues("rate_limited_local").Inc()
			return false, nil
		}
	}

	start := time.Now()
	err := b.executeWithBreaker(ctx, r.ID, htmlBody, opts.SendTimeout)
	observability.SendLatency.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		observability.Sends.WithLabelValues("ok").Inc()
		return true, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		observability.Sends.WithLabelValues("cb_open").Inc()
		return true, &domain.SendError{RecipientID: r.ID, Err: err}
	default:
		observability.Sends.WithLabelValues("error").Inc()
		var se *domain.SendError
		if !errors.As(err, &se) {
			err = &domain.SendError{RecipientID: r.ID, Err: err}
		}
		return true, err
	}
}

func (b *BulkSender) executeWithBreaker(ctx context.Context, recipientID, htmlBody string, timeout time.Duration) error {
	call := func() (any, error) {
		// In-flight sends finish even if the run is canceled.
		reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return b.Sender.SendToOne(reqCtx, recipientID, htmlBody)
	}
	if b.Breaker == nil {
		_, err := call()
		return err
	}
	_, err := b.Breaker.Execute(call)
	return err
}

// shouldReport keeps progress output bounded: the first few, every tenth, and the last.
func shouldReport(done, total int) bool {
	return done <= 5 || done%10 == 0 || done == total
}

func pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (b *BulkSender) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

// NewBreaker trips after the given number of consecutive send failures. Zero disables it.
func NewBreaker(consecutiveFailures uint32, openFor time.Duration) *gobreaker.CircuitBreaker {
	if consecutiveFailures == 0 {
		return nil
	}
	if openFor <= 0 {
		openFor = 20 * time.Second
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "intercom-send",
		MaxRequests: 3,
		Timeout:     openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= consecutiveFailures },
	})
}

// NewLimiter returns nil when rps is not positive.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
