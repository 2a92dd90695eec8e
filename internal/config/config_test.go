package config

import (
	"errors"
	"testing"
	"time"

	"trendcast/internal/domain"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("INTERCOM_TOKEN", "tok")
	t.Setenv("INTERCOM_ADMIN_ID", "42")
}

func TestLoadRunDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadRun()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode() != domain.ModeAllUsers || cfg.BatchConcurrency != 5 || cfg.PageSize != 150 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.SendDelay != 200*time.Millisecond || cfg.RunTimeout != 2*time.Hour || cfg.RequestDelay != 50*time.Millisecond {
		t.Fatalf("unexpected duration defaults: %+v", cfg)
	}
	if cfg.Schedule != "0 0 * * *" || cfg.ActivityDays != 30 || cfg.IntercomAPIVersion != "2.11" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadRunMissingToken(t *testing.T) {
	t.Setenv("INTERCOM_TOKEN", "")
	t.Setenv("INTERCOM_ADMIN_ID", "42")

	_, err := LoadRun()
	var ce *domain.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestLoadRunValidation(t *testing.T) {
	cases := []struct {
		name, key, value, field string
	}{
		{"bad mode", "RUN_MODE", "everyone", "RUN_MODE"},
		{"test without ids", "RUN_MODE", "test", "TEST_USER_IDS"},
		{"bad host", "IMAGE_HOST", "ftp", "IMAGE_HOST"},
		{"zero concurrency", "BATCH_CONCURRENCY", "0", "BATCH_CONCURRENCY"},
		{"page too large", "INTERCOM_PAGE_SIZE", "500", "INTERCOM_PAGE_SIZE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tc.key, tc.value)
			_, err := LoadRun()
			var ce *domain.ConfigError
			if !errors.As(err, &ce) || ce.Field != tc.field {
				t.Fatalf("expected ConfigError on %s, got %v", tc.field, err)
			}
		})
	}
}

func TestLoadRunTestMode(t *testing.T) {
	setRequired(t)
	t.Setenv("RUN_MODE", "TEST")
	t.Setenv("TEST_USER_IDS", " u1, u2 ,")

	cfg, err := LoadRun()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode() != domain.ModeTestUsers || len(cfg.TestIDs()) != 2 {
		t.Fatalf("unexpected test config: mode=%s ids=%v", cfg.Mode(), cfg.TestIDs())
	}
}

func TestLoadTriggerRequiresQueue(t *testing.T) {
	t.Setenv("TRIGGER_QUEUE_URL", "")
	var ce *domain.ConfigError
	if _, err := LoadTrigger(); !errors.As(err, &ce) || ce.Field != "TRIGGER_QUEUE_URL" {
		t.Fatalf("expected TRIGGER_QUEUE_URL error, got %v", err)
	}
}
