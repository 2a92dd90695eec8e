package domain

import (
	"fmt"
	"strings"
	"time"
)

type Failure struct {
	RecipientID string `json:"recipientId"`
	Email       string `json:"email,omitempty"`
	Error       string `json:"error"`
}

// RunReport is the outcome of one run. Failures are kept in completion order.
type RunReport struct {
	RunID             string    `json:"runId"`
	Mode              Mode      `json:"mode"`
	DryRun            bool      `json:"dryRun"`
	ImageURL          string    `json:"imageUrl,omitempty"`
	UsedFallbackImage bool      `json:"usedFallbackImage"`
	AudienceStrategy  string    `json:"audienceStrategy,omitempty"`
	TotalResolved     int       `json:"totalResolved"`
	TotalAttempted    int       `json:"totalAttempted"`
	SuccessCount      int       `json:"successCount"`
	FailureCount      int       `json:"failureCount"`
	Failures          []Failure `json:"failures,omitempty"`
	Canceled          bool      `json:"canceled"`
	StartedAt         time.Time `json:"startedAt"`
	FinishedAt        time.Time `json:"finishedAt"`
}

const FailureSampleSize = 5

// Summary renders the counts and the first few failures.
func (r RunReport) Summary() string {
	var b strings.Builder
	if r.DryRun {
		b.WriteString("DRY RUN (no messages were sent)\n")
	}
	fmt.Fprintf(&b, "resolved=%d attempted=%d succeeded=%d failed=%d", r.TotalResolved, r.TotalAttempted, r.SuccessCount, r.FailureCount)
	if r.Canceled {
		b.WriteString(" canceled=true")
	}
	if !r.FinishedAt.IsZero() && !r.StartedAt.IsZero() {
		fmt.Fprintf(&b, " duration=%s", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	for i, f := range r.Failures {
		if i == FailureSampleSize {
			fmt.Fprintf(&b, "\n... and %d more failures", len(r.Failures)-FailureSampleSize)
			break
		}
		fmt.Fprintf(&b, "\n%d. %s", i+1, f.RecipientID)
		if f.Email != "" {
			fmt.Fprintf(&b, " <%s>", f.Email)
		}
		fmt.Fprintf(&b, ": %s", f.Error)
	}
	return b.String()
}

func (r RunReport) FailureSample() []Failure {
	if len(r.Failures) <= FailureSampleSize {
		return r.Failures
	}
	return r.Failures[:FailureSampleSize]
}
