package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"trendcast/internal/domain"
	"trendcast/internal/util"
)

type Base struct {
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	Debug       bool   `envconfig:"DEBUG" default:"false"`
}

type Platform struct {
	IntercomToken      string        `envconfig:"INTERCOM_TOKEN" required:"true"`
	IntercomAdminID    string        `envconfig:"INTERCOM_ADMIN_ID" required:"true"`
	IntercomBaseURL    string        `envconfig:"INTERCOM_BASE_URL" default:"https://api.intercom.io"`
	IntercomAPIVersion string        `envconfig:"INTERCOM_API_VERSION" default:"2.11"`
	PageSize           int           `envconfig:"INTERCOM_PAGE_SIZE" default:"150"`
	MaxPages           int           `envconfig:"MAX_PAGES" default:"0"`
	RequestDelay       time.Duration `envconfig:"REQUEST_DELAY" default:"50ms"`
	ActivityDays       int           `envconfig:"ACTIVITY_DAYS" default:"30"`
	AudiencePolicy     string        `envconfig:"AUDIENCE_POLICY" default:"segment-then-last-seen"`
}

type AWS struct {
	AWSRegion          string `envconfig:"AWS_REGION" default:"us-east-1"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
}

type Queue struct {
	TriggerQueueURL string `envconfig:"TRIGGER_QUEUE_URL"`
	SQSWaitTime     int32  `envconfig:"SQS_WAIT_TIME" default:"20"`
	SQSVizTimeout   int32  `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"300"`
}

// RunConfig is everything a broadcast run (one-shot or scheduled) needs.
type RunConfig struct {
	Base
	Platform
	AWS
	Queue

	RunMode     string `envconfig:"RUN_MODE" default:"all"`
	TestUserIDs string `envconfig:"TEST_USER_IDS"`
	DryRun      bool   `envconfig:"DRY_RUN" default:"false"`
	MaxUsers    int    `envconfig:"MAX_USERS" default:"0"`

	BatchConcurrency int           `envconfig:"BATCH_CONCURRENCY" default:"5"`
	SendDelay        time.Duration `envconfig:"SEND_DELAY" default:"200ms"`
	SendRPS          float64       `envconfig:"SEND_RPS" default:"0"`
	SendBurst        int           `envconfig:"SEND_BURST" default:"1"`
	SendTimeout      time.Duration `envconfig:"SEND_TIMEOUT" default:"10s"`
	BreakerFailures  uint32        `envconfig:"BREAKER_FAILURES" default:"0"`
	RunTimeout       time.Duration `envconfig:"RUN_TIMEOUT" default:"2h"`

	TopN         int    `envconfig:"TOP_N" default:"5"`
	GeckoBaseURL string `envconfig:"GECKO_BASE_URL" default:"https://api.geckoterminal.com/api/v2"`
	GeckoNetwork string `envconfig:"GECKO_NETWORK" default:"solana"`

	ImageHost        string `envconfig:"IMAGE_HOST" default:"imgbb"`
	ImgBBAPIKey      string `envconfig:"IMGBB_API_KEY"`
	S3BucketName     string `envconfig:"S3_BUCKET_NAME"`
	FallbackImageURL string `envconfig:"FALLBACK_IMAGE_URL" default:"https://cdn.pixabay.com/photo/2021/05/24/09/15/ethereum-6278326_960_720.png"`

	Schedule     string `envconfig:"SCHEDULE" default:"0 0 * * *"`
	TestSchedule bool   `envconfig:"TEST_SCHEDULE" default:"false"`

	DBDSN      string `envconfig:"DB_DSN"`
	DBMaxConns int32  `envconfig:"DB_POOL_MAX_CONNS" default:"4"`
}

// PlatformConfig is enough for read-only platform commands.
type PlatformConfig struct {
	Base
	Platform
}

type TriggerConfig struct {
	Base
	AWS
	Queue
	RunMode string `envconfig:"RUN_MODE"`
}

// LoadDotEnv loads .env when present; variables already set win.
func LoadDotEnv() {
	_ = godotenv.Load()
}

func LoadRun() (RunConfig, error) {
	var cfg RunConfig
	if err := process(&cfg); err != nil {
		return RunConfig{}, err
	}
	return cfg, cfg.validate()
}

func LoadPlatform() (PlatformConfig, error) {
	var cfg PlatformConfig
	if err := process(&cfg); err != nil {
		return PlatformConfig{}, err
	}
	return cfg, cfg.Platform.validate()
}

func LoadTrigger() (TriggerConfig, error) {
	var cfg TriggerConfig
	if err := process(&cfg); err != nil {
		return TriggerConfig{}, err
	}
	if cfg.TriggerQueueURL == "" {
		return cfg, &domain.ConfigError{Field: "TRIGGER_QUEUE_URL"}
	}
	return cfg, nil
}

func process(cfg any) error {
	if err := envconfig.Process("", cfg); err != nil {
		return &domain.ConfigError{Field: "environment", Reason: err.Error()}
	}
	return nil
}

func (c RunConfig) Mode() domain.Mode {
	m, _ := domain.ParseMode(c.RunMode)
	return m
}

func (c RunConfig) TestIDs() []string { return util.ParseCSV(c.TestUserIDs) }

// validate catches credentials that are set but empty, which envconfig's
// required tag lets through.
func (p Platform) validate() error {
	if strings.TrimSpace(p.IntercomToken) == "" {
		return &domain.ConfigError{Field: "INTERCOM_TOKEN"}
	}
	if strings.TrimSpace(p.IntercomAdminID) == "" {
		return &domain.ConfigError{Field: "INTERCOM_ADMIN_ID"}
	}
	if p.PageSize <= 0 || p.PageSize > 150 {
		return &domain.ConfigError{Field: "INTERCOM_PAGE_SIZE", Reason: "must be between 1 and 150"}
	}
	return nil
}

func (c RunConfig) validate() error {
	if err := c.Platform.validate(); err != nil {
		return err
	}
	mode, err := domain.ParseMode(c.RunMode)
	if err != nil {
		return err
	}
	if mode == domain.ModeTestUsers && len(c.TestIDs()) == 0 {
		return &domain.ConfigError{Field: "TEST_USER_IDS", Reason: "required when RUN_MODE=test"}
	}
	switch strings.ToLower(c.ImageHost) {
	case "imgbb", "s3", "none":
	default:
		return &domain.ConfigError{Field: "IMAGE_HOST", Reason: "must be imgbb, s3 or none"}
	}
	if c.BatchConcurrency <= 0 {
		return &domain.ConfigError{Field: "BATCH_CONCURRENCY", Reason: "must be positive"}
	}
	return nil
}
