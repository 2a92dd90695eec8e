package gecko

import (
	"context"
	"errors"
	"net"
	"time"
)

// shouldRetry treats timeouts, 408, 429 and 5xx as transient.
func shouldRetry(err error, httpStatus int) bool {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return true
		}
		return false
	}
	if httpStatus == 429 || httpStatus == 408 {
		return true
	}
	return httpStatus >= 500 && httpStatus <= 599
}

func backoff(attempt int) time.Duration {
	// 500ms, 1.5s, 3s; the public API rate limits per minute
	base := []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond, 3 * time.Second}
	if attempt <= 0 {
		return base[0]
	}
	if attempt >= len(base) {
		return base[len(base)-1]
	}
	return base[attempt]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
