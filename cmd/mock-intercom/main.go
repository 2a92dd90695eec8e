// Command mock-intercom is a local stand-in for the messaging platform API: it serves
// a generated contact base with paginated listing and search, segments, and an
// in-app message endpoint with failure injection and latency.
package main

import (
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"trendcast/internal/httpserver"
	"trendcast/internal/logging"
	"trendcast/internal/util"
)

type config struct {
	Port  string `envconfig:"PORT" default:"8089"`
	Token string `envconfig:"MOCK_TOKEN" default:"mock_token"`

	Contacts    int  `envconfig:"MOCK_CONTACTS" default:"500"`
	LeadEvery   int  `envconfig:"MOCK_LEAD_EVERY" default:"7"`
	ActiveEvery int  `envconfig:"MOCK_ACTIVE_EVERY" default:"3"`
	HasSegment  bool `envconfig:"MOCK_ACTIVE_SEGMENT" default:"true"`
	// CursorShape is how pages.next is encoded: absolute, relative, object or mixed.
	CursorShape string `envconfig:"MOCK_CURSOR_SHAPE" default:"absolute"`

	SendFailRate   float64 `envconfig:"MOCK_SEND_FAIL_RATE" default:"0"`
	SendFailIDsRaw string  `envconfig:"MOCK_SEND_FAIL_IDS" default:""`
	SendFailStatus int     `envconfig:"MOCK_SEND_FAIL_STATUS" default:"500"`
	SegmentsFail   bool    `envconfig:"MOCK_SEGMENTS_FAIL" default:"false"`
	SearchFail     bool    `envconfig:"MOCK_SEARCH_FAIL" default:"false"`

	DelayMs      int `envconfig:"MOCK_DELAY_MS" default:"0"`
	LatencyMinMs int `envconfig:"MOCK_LATENCY_MIN_MS" default:"0"`
	LatencyMaxMs int `envconfig:"MOCK_LATENCY_MAX_MS" default:"0"`

	SendFailIDs map[string]bool
	Delay       time.Duration
	LatencyMin  time.Duration
	LatencyMax  time.Duration
}

func main() {
	log := logging.Init("mock-intercom", "json", false)
	cfg := loadConfig()

	s := newServer(cfg, time.Now())
	log.Info("mock intercom listening", "port", cfg.Port, "contacts", cfg.Contacts, "cursor_shape", cfg.CursorShape)
	if err := http.ListenAndServe(":"+cfg.Port, httpserver.Logging(log, s.routes())); err != nil {
		log.Error("mock intercom server failed", "err", err)
		os.Exit(1)
	}
}

func loadConfig() config {
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		slog.Error("mock intercom config load failed", "err", err)
		os.Exit(1)
	}
	return normalize(cfg)
}

func normalize(cfg config) config {
	cfg.CursorShape = strings.ToLower(strings.TrimSpace(cfg.CursorShape))
	cfg.SendFailIDs = map[string]bool{}
	for _, id := range util.ParseCSV(cfg.SendFailIDsRaw) {
		cfg.SendFailIDs[id] = true
	}
	if cfg.SendFailStatus < 400 {
		cfg.SendFailStatus = http.StatusInternalServerError
	}
	if cfg.Contacts < 0 {
		cfg.Contacts = 0
	}
	cfg.Delay = time.Duration(cfg.DelayMs) * time.Millisecond
	cfg.LatencyMin = time.Duration(cfg.LatencyMinMs) * time.Millisecond
	cfg.LatencyMax = time.Duration(cfg.LatencyMaxMs) * time.Millisecond
	if cfg.LatencyMax < cfg.LatencyMin {
		cfg.LatencyMin, cfg.LatencyMax = cfg.LatencyMax, cfg.LatencyMin
	}
	return cfg
}
