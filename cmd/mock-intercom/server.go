package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
)

const (
	activeSegmentID = "seg_active"
	maxPerPage      = 150
)

type contact struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Role       string `json:"role"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	LastSeenAt int64  `json:"last_seen_at"`

	active bool
}

type filter struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

type searchRequest struct {
	Query      filter `json:"query"`
	Pagination struct {
		PerPage int `json:"per_page"`
	} `json:"pagination"`
}

type messageRequest struct {
	MessageType string `json:"message_type"`
	Body        string `json:"body"`
	From        struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"from"`
	To struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"to"`
}

type stats struct {
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
	Pages      int64 `json:"pages"`
	Recipients int   `json:"distinctRecipients"`
}

type server struct {
	cfg      config
	contacts []contact

	msgSeq atomic.Uint64
	sent   atomic.Int64
	failed atomic.Int64
	pages  atomic.Int64

	mu    sync.Mutex
	seen  map[string]int
	rng   *rand.Rand
	rngMu sync.Mutex
}

func newServer(cfg config, now time.Time) *server {
	s := &server{
		cfg:  cfg,
		seen: map[string]int{},
		rng:  rand.New(rand.NewSource(now.UnixNano())),
	}
	for i := 0; i < cfg.Contacts; i++ {
		c := contact{
			Type:  "contact",
			ID:    fmt.Sprintf("c%05d", i),
			Role:  "user",
			Email: fmt.Sprintf("user%d@example.com", i),
			Name:  fmt.Sprintf("User %d", i),
		}
		if cfg.LeadEvery > 0 && i%cfg.LeadEvery == cfg.LeadEvery-1 {
			c.Role = "lead"
		}
		c.active = cfg.ActiveEvery > 0 && i%cfg.ActiveEvery == 0
		if c.active {
			c.LastSeenAt = now.Add(-24 * time.Hour).Unix()
		} else {
			c.LastSeenAt = now.Add(-90 * 24 * time.Hour).Unix()
		}
		s.contacts = append(s.contacts, c)
	}
	return s
}

func (s *server) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/contacts", s.auth(s.handleList)).Methods(http.MethodGet)
	r.HandleFunc("/contacts/search", s.auth(s.handleSearch)).Methods(http.MethodPost, http.MethodGet)
	r.HandleFunc("/segments", s.auth(s.handleSegments)).Methods(http.MethodGet)
	r.HandleFunc("/messages", s.auth(s.handleMessage)).Methods(http.MethodPost)
	r.HandleFunc("/_mock/stats", s.handleStats).Methods(http.MethodGet)
	return r
}

func (s *server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.cfg.Token {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Access Token Invalid")
			return
		}
		next(w, r)
	}
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	perPage, offset := pageParams(r.URL.Query(), 50)
	s.maybeDelayResponse(r.Context(), start)
	s.writePage(w, r, "/contacts", url.Values{}, s.contacts, perPage, offset)
}

// handleSearch takes the filter from the JSON body on the first page and from the
// cursor's query string afterwards.
func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if s.cfg.SearchFail {
		writeError(w, http.StatusInternalServerError, "server_error", "search unavailable")
		return
	}

	var f filter
	perPage, offset := pageParams(r.URL.Query(), 50)
	if r.Method == http.MethodPost {
		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "parameter_invalid", "invalid json")
			return
		}
		f = req.Query
		if req.Pagination.PerPage > 0 {
			perPage = min(req.Pagination.PerPage, maxPerPage)
		}
	} else {
		q := r.URL.Query()
		f = filter{Field: q.Get("field"), Operator: q.Get("operator"), Value: q.Get("value")}
	}

	matched, err := s.match(f)
	if err != nil {
		writeError(w, http.StatusBadRequest, "query_invalid", err.Error())
		return
	}
	keep := url.Values{"field": {f.Field}, "operator": {f.Operator}, "value": {fmt.Sprint(f.Value)}}
	s.maybeDelayResponse(r.Context(), start)
	s.writePage(w, r, "/contacts/search", keep, matched, perPage, offset)
}

func (s *server) match(f filter) ([]contact, error) {
	var out []contact
	switch {
	case f.Field == "segment_id" && f.Operator == "=":
		if fmt.Sprint(f.Value) != activeSegmentID {
			return nil, nil
		}
		for _, c := range s.contacts {
			if c.active {
				out = append(out, c)
			}
		}
	case f.Field == "last_seen_at" && f.Operator == ">":
		// JSON numbers decode as float64 and come back from the cursor as text
		cutoff, err := strconv.ParseFloat(fmt.Sprint(f.Value), 64)
		if err != nil {
			return nil, fmt.Errorf("bad last_seen_at value %v", f.Value)
		}
		for _, c := range s.contacts {
			if float64(c.LastSeenAt) > cutoff {
				out = append(out, c)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported filter %s %s", f.Field, f.Operator)
	}
	return out, nil
}

func (s *server) writePage(w http.ResponseWriter, r *http.Request, path string, keep url.Values, all []contact, perPage, offset int) {
	s.pages.Add(1)
	offset = min(offset, len(all))
	end := min(offset+perPage, len(all))
	resp := map[string]any{
		"type":        "list",
		"total_count": len(all),
		"data":        all[offset:end],
	}
	if end < len(all) {
		keep.Set("per_page", strconv.Itoa(perPage))
		keep.Set("starting_after", strconv.Itoa(end))
		resp["pages"] = map[string]any{"next": s.cursor(r, path+"?"+keep.Encode(), end/perPage)}
	} else {
		resp["pages"] = map[string]any{"next": nil}
	}
	writeJSON(w, http.StatusOK, resp)
}

// cursor encodes the next page reference in the configured shape. "mixed" rotates
// through all shapes page by page.
func (s *server) cursor(r *http.Request, relative string, page int) any {
	absolute := "http://" + r.Host + relative
	shape := s.cfg.CursorShape
	if shape == "mixed" {
		shape = []string{"absolute", "relative", "object", "object_relative"}[page%4]
	}
	switch shape {
	case "relative":
		return relative
	case "object":
		return map[string]any{"page": page + 1, "url": absolute}
	case "object_relative":
		return map[string]any{"page": page + 1, "url": relative}
	default:
		return absolute
	}
}

func (s *server) handleSegments(w http.ResponseWriter, r *http.Request) {
	if s.cfg.SegmentsFail {
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "segments unavailable")
		return
	}
	segments := []map[string]string{{"type": "segment", "id": "seg_all", "name": "All Users"}}
	if s.cfg.HasSegment {
		segments = append(segments, map[string]string{"type": "segment", "id": activeSegmentID, "name": "Active"})
	}
	writeJSON(w, http.StatusOK, map[string]any{"type": "segment.list", "segments": segments})
}

func (s *server) handleMessage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "parameter_invalid", "invalid json")
		return
	}
	if req.MessageType != "inapp" || req.To.ID == "" || req.From.ID == "" || req.Body == "" {
		writeError(w, http.StatusBadRequest, "parameter_missing", "message_type, body, from and to are required")
		return
	}

	if s.cfg.Delay > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(s.cfg.Delay):
		}
	}
	s.maybeDelayResponse(r.Context(), start)

	s.mu.Lock()
	s.seen[req.To.ID]++
	s.mu.Unlock()

	if s.shouldFail(req.To.ID) {
		s.failed.Add(1)
		writeError(w, s.cfg.SendFailStatus, "server_error", "injected failure")
		return
	}
	s.sent.Add(1)
	id := s.msgSeq.Add(1)
	writeJSON(w, http.StatusOK, map[string]any{
		"type":       "user_message",
		"id":         strconv.FormatUint(id, 10),
		"created_at": time.Now().Unix(),
		"body":       req.Body,
	})
}

func (s *server) shouldFail(id string) bool {
	if s.cfg.SendFailIDs[id] {
		return true
	}
	if s.cfg.SendFailRate <= 0 {
		return false
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64() < s.cfg.SendFailRate
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	distinct := len(s.seen)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, stats{Sent: s.sent.Load(), Failed: s.failed.Load(), Pages: s.pages.Load(), Recipients: distinct})
}

// maybeDelayResponse stretches a request to a random total latency in
// [LatencyMin, LatencyMax].
func (s *server) maybeDelayResponse(ctx context.Context, start time.Time) {
	lo, hi := s.cfg.LatencyMin, s.cfg.LatencyMax
	if hi <= 0 {
		return
	}
	s.rngMu.Lock()
	target := lo + time.Duration(s.rng.Int63n(int64(hi-lo)+1))
	s.rngMu.Unlock()

	remain := target - time.Since(start)
	if remain <= 0 {
		return
	}
	t := time.NewTimer(remain)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func pageParams(q url.Values, def int) (perPage, offset int) {
	perPage, _ = strconv.Atoi(q.Get("per_page"))
	if perPage <= 0 {
		perPage = def
	}
	perPage = min(perPage, maxPerPage)
	offset, _ = strconv.Atoi(q.Get("starting_after"))
	return perPage, max(offset, 0)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{
		"type":   "error.list",
		"errors": []map[string]string{{"code": code, "message": msg}},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
