package pg

import (
	"context"
	_ "embed"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"trendcast/internal/store"
)

//go:embed migrations/001_init.sql
var schemaSQL string

// runLockKey identifies the run-in-progress advisory lock.
const runLockKey int64 = 0x7472656e64 // "trend"

type Store struct {
	DB *pgxpool.Pool
}

var _ store.RunStore = (*Store)(nil)

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, schemaSQL)
	return err
}

func (s *Store) Ping(ctx context.Context) error { return s.DB.Ping(ctx) }

// TryLock takes a session advisory lock on a connection that stays checked out
// until release, so the lock lives exactly as long as the run.
func (s *Store) TryLock(ctx context.Context) (func(), bool, error) {
	conn, err := s.DB.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, runLockKey).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, err
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, runLockKey); err != nil {
			// a session lock dies with its connection
			_ = conn.Conn().Close(ctx)
		}
		conn.Release()
	}
	return release, true, nil
}

func (s *Store) StartRun(ctx context.Context, rec store.RunRecord) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO run_history (run_id, mode, dry_run, status, started_at)
		VALUES ($1,$2,$3,$4,$5)
	`, rec.RunID, rec.Mode, rec.DryRun, string(store.RunRunning), rec.StartedAt)
	return err
}

func (s *Store) FinishRun(ctx context.Context, rec store.RunRecord) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO run_history (run_id, mode, dry_run, status, audience_strategy, used_fallback_image,
		                         total_resolved, total_attempted, success_count, failure_count, canceled,
		                         error, started_at, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (run_id) DO UPDATE SET
			status=EXCLUDED.status, audience_strategy=EXCLUDED.audience_strategy,
			used_fallback_image=EXCLUDED.used_fallback_image,
			total_resolved=EXCLUDED.total_resolved, total_attempted=EXCLUDED.total_attempted,
			success_count=EXCLUDED.success_count, failure_count=EXCLUDED.failure_count,
			canceled=EXCLUDED.canceled, error=EXCLUDED.error, finished_at=EXCLUDED.finished_at
	`, rec.RunID, rec.Mode, rec.DryRun, string(rec.Status), nullIfEmpty(rec.AudienceStrategy), rec.UsedFallbackImage,
		rec.TotalResolved, rec.TotalAttempted, rec.SuccessCount, rec.FailureCount, rec.Canceled,
		nullIfEmpty(rec.Error), rec.StartedAt, rec.FinishedAt)
	return err
}

func (s *Store) LastRun(ctx context.Context) (store.RunRecord, bool, error) {
	var r store.RunRecord
	var status string
	row := s.DB.QueryRow(ctx, `
		SELECT run_id, mode, dry_run, status, COALESCE(audience_strategy,''), used_fallback_image,
		       total_resolved, total_attempted, success_count, failure_count, canceled,
		       COALESCE(error,''), started_at, finished_at
		FROM run_history ORDER BY started_at DESC LIMIT 1
	`)
	err := row.Scan(&r.RunID, &r.Mode, &r.DryRun, &status, &r.AudienceStrategy, &r.UsedFallbackImage,
		&r.TotalResolved, &r.TotalAttempted, &r.SuccessCount, &r.FailureCount, &r.Canceled,
		&r.Error, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.RunRecord{}, false, nil
		}
		return store.RunRecord{}, false, err
	}
	r.Status = store.RunStatus(status)
	return r, true, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
