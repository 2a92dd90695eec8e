package util

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

func NewRunID() string {
	// ULID is sortable (nice for the run history table)
	return newID("run_")
}

func NewRequestID() string {
	return newID("req_")
}

func newID(prefix string) string {
	t := time.Now().UTC()
	return prefix + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

func NowUTC() time.Time {
	return time.Now().UTC()
}

// ParseCSV splits a comma-separated list, trimming blanks and dropping empties.
func ParseCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
