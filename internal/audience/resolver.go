package audience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"trendcast/internal/domain"
	"trendcast/internal/observability"
	"trendcast/internal/providers/intercom"
)

const DefaultActivityDays = 30

// ErrNotApplicable is returned by a strategy that cannot run in the current
// environment, e.g. the platform has no "active" segment.
var ErrNotApplicable = errors.New("strategy not applicable")

type Platform interface {
	ListAllRecipients(ctx context.Context) ([]domain.Recipient, error)
	SearchRecipients(ctx context.Context, f intercom.Filter) ([]domain.Recipient, error)
	ListSegments(ctx context.Context) ([]domain.Segment, error)
}

// Policy picks which definition of "active" is used. A platform segment and a
// last-seen window may disagree, so the choice is explicit.
type Policy string

const (
	PolicySegmentThenLastSeen Policy = "segment-then-last-seen"
	PolicySegmentOnly         Policy = "segment-only"
	PolicyLastSeenOnly        Policy = "last-seen-only"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicySegmentThenLastSeen, nil
	case PolicySegmentThenLastSeen, PolicySegmentOnly, PolicyLastSeenOnly:
		return p, nil
	}
	return "", &domain.ConfigError{Field: "AUDIENCE_POLICY", Reason: "unknown policy " + s}
}

type Strategy interface {
	Name() string
	Resolve(ctx context.Context) ([]domain.Recipient, error)
}

type Result struct {
	Recipients []domain.Recipient
	Strategy   string
}

type Resolver struct {
	Platform Platform
	Policy   Policy
	Now      func() time.Time
	Logger   *slog.Logger
}

func (r *Resolver) ResolveAll(ctx context.Context) (Result, error) {
	recips, err := r.Platform.ListAllRecipients(ctx)
	if err != nil {
		observability.AudienceResolved.WithLabelValues("all", "error").Inc()
		return Result{}, err
	}
	observability.AudienceResolved.WithLabelValues("all", "ok").Inc()
	return Result{Recipients: recips, Strategy: "all"}, nil
}

// ResolveActive tries each strategy of the policy in order and returns the first
// success. It never widens the audience to all users.
func (r *Resolver) ResolveActive(ctx context.Context, activityDays int) (Result, error) {
	if activityDays <= 0 {
		activityDays = DefaultActivityDays
	}
	log := r.logger()

	var causes []error
	for _, s := range r.Strategies(activityDays) {
		start := time.Now()
		recips, err := s.Resolve(ctx)
		if err == nil {
			observability.AudienceResolved.WithLabelValues(s.Name(), "ok").Inc()
			log.Info("active audience resolved", "strategy", s.Name(), "recipients", len(recips), "duration", time.Since(start))
			return Result{Recipients: recips, Strategy: s.Name()}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}

		result := "error"
		if errors.Is(err, ErrNotApplicable) {
			result = "not_applicable"
		}
		observability.AudienceResolved.WithLabelValues(s.Name(), result).Inc()
		log.Warn("audience strategy unavailable, trying next", "strategy", s.Name(), "err", err)
		causes = append(causes, fmt.Errorf("%s: %w", s.Name(), err))
	}
	return Result{}, &domain.AudienceResolutionError{Causes: causes}
}

func (r *Resolver) Strategies(activityDays int) []Strategy {
	seg := segmentStrategy{platform: r.Platform, name: "active"}
	seen := lastSeenStrategy{platform: r.Platform, days: activityDays, now: r.now}
	switch r.Policy {
	case PolicySegmentOnly:
		return []Strategy{seg}
	case PolicyLastSeenOnly:
		return []Strategy{seen}
	default:
		return []Strategy{seg, seen}
	}
}

func (r *Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

type segmentStrategy struct {
	platform Platform
	name     string
}

func (s segmentStrategy) Name() string { return "segment" }

func (s segmentStrategy) Resolve(ctx context.Context) ([]domain.Recipient, error) {
	segs, err := s.platform.ListSegments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	for _, seg := range segs {
		if strings.EqualFold(strings.TrimSpace(seg.Name), s.name) {
			return s.platform.SearchRecipients(ctx, intercom.Filter{Field: "segment_id", Operator: "=", Value: seg.ID})
		}
	}
	return nil, fmt.Errorf("no segment named %q: %w", s.name, ErrNotApplicable)
}

type lastSeenStrategy struct {
	platform Platform
	days     int
	now      func() time.Time
}

func (s lastSeenStrategy) Name() string { return "last_seen" }

func (s lastSeenStrategy) Resolve(ctx context.Context) ([]domain.Recipient, error) {
	return s.platform.SearchRecipients(ctx, intercom.Filter{Field: "last_seen_at", Operator: ">", Value: Cutoff(s.now(), s.days)})
}

// Cutoff is the platform's epoch-seconds lower bound for "seen in the last days".
func Cutoff(now time.Time, days int) int64 {
	return now.Unix() - int64(days)*86400
}

// Cap truncates to the first max recipients. max <= 0 means no cap.
func Cap(recipients []domain.Recipient, max int) []domain.Recipient {
	if max <= 0 || len(recipients) <= max {
		return recipients
	}
	return recipients[:max]
}
