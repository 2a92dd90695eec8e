package memory

import (
	"context"
	"testing"
	"time"

	"trendcast/internal/store"
)

func TestTryLockIsExclusive(t *testing.T) {
	s := New()
	ctx := context.Background()

	release, ok, err := s.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("first lock: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := s.TryLock(ctx); ok {
		t.Fatalf("second lock should not be acquired while held")
	}
	release()
	release() // idempotent

	release2, ok, _ := s.TryLock(ctx)
	if !ok {
		t.Fatalf("lock should be free after release")
	}
	release2()
}

func TestRunHistory(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, found, _ := s.LastRun(ctx); found {
		t.Fatalf("expected empty history")
	}

	start := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	if err := s.StartRun(ctx, store.RunRecord{RunID: "r1", Mode: "all", StartedAt: start}); err != nil {
		t.Fatalf("start: %v", err)
	}
	got, found, _ := s.LastRun(ctx)
	if !found || got.Status != store.RunRunning {
		t.Fatalf("expected running record, got %+v", got)
	}

	end := start.Add(time.Minute)
	if err := s.FinishRun(ctx, store.RunRecord{RunID: "r1", Mode: "all", Status: store.RunOK, SuccessCount: 4, StartedAt: start, FinishedAt: &end}); err != nil {
		t.Fatalf("finish: %v", err)
	}
	got, _, _ = s.LastRun(ctx)
	if got.Status != store.RunOK || got.SuccessCount != 4 || got.FinishedAt == nil {
		t.Fatalf("unexpected finished record: %+v", got)
	}
}

func TestRunHistoryBounded(t *testing.T) {
	s := &Store{keep: 3}
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_ = s.StartRun(ctx, store.RunRecord{RunID: id})
	}
	if len(s.runs) != 3 || s.runs[0].RunID != "c" {
		t.Fatalf("expected last 3 runs kept, got %+v", s.runs)
	}
}
