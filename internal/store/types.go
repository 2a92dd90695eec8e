package store

import (
	"context"
	"time"

	"trendcast/internal/domain"
)

type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunOK      RunStatus = "ok"
	RunFailed  RunStatus = "failed"
)

// RunRecord is one row of run history. It keeps counts only, never per-recipient data.
type RunRecord struct {
	RunID             string     `json:"runId"`
	Mode              string     `json:"mode"`
	DryRun            bool       `json:"dryRun"`
	Status            RunStatus  `json:"status"`
	AudienceStrategy  string     `json:"audienceStrategy,omitempty"`
	UsedFallbackImage bool       `json:"usedFallbackImage"`
	TotalResolved     int        `json:"totalResolved"`
	TotalAttempted    int        `json:"totalAttempted"`
	SuccessCount      int        `json:"successCount"`
	FailureCount      int        `json:"failureCount"`
	Canceled          bool       `json:"canceled"`
	Error             string     `json:"error,omitempty"`
	StartedAt         time.Time  `json:"startedAt"`
	FinishedAt        *time.Time `json:"finishedAt,omitempty"`
}

// RecordFromReport copies the counts of a finished run. runErr nil means ok.
func RecordFromReport(rep domain.RunReport, runErr error) RunRecord {
	rec := RunRecord{
		RunID:             rep.RunID,
		Mode:              string(rep.Mode),
		DryRun:            rep.DryRun,
		Status:            RunOK,
		AudienceStrategy:  rep.AudienceStrategy,
		UsedFallbackImage: rep.UsedFallbackImage,
		TotalResolved:     rep.TotalResolved,
		TotalAttempted:    rep.TotalAttempted,
		SuccessCount:      rep.SuccessCount,
		FailureCount:      rep.FailureCount,
		Canceled:          rep.Canceled,
		StartedAt:         rep.StartedAt,
	}
	if !rep.FinishedAt.IsZero() {
		f := rep.FinishedAt
		rec.FinishedAt = &f
	}
	if runErr != nil {
		rec.Status = RunFailed
		rec.Error = runErr.Error()
	}
	return rec
}

type RunStore interface {
	// TryLock takes the run-in-progress lock without waiting. When acquired is
	// false the lock is held elsewhere and release is nil.
	TryLock(ctx context.Context) (release func(), acquired bool, err error)
	StartRun(ctx context.Context, rec RunRecord) error
	FinishRun(ctx context.Context, rec RunRecord) error
	LastRun(ctx context.Context) (RunRecord, bool, error)
	Ping(ctx context.Context) error
}
