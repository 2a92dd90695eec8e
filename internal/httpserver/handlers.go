package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"trendcast/internal/domain"
	"trendcast/internal/store"
)

// StartFunc runs one broadcast to completion. Empty mode keeps the configured one.
type StartFunc func(ctx context.Context, mode domain.Mode, dryRun bool) error

type API struct {
	Runs    store.RunStore
	Start   StartFunc
	NextRun func() time.Time
	Mode    domain.Mode
	// BaseCtx outlives requests; manual runs are canceled with it.
	BaseCtx context.Context
	Logger  *slog.Logger

	running atomic.Bool
	wg      sync.WaitGroup
}

type runRequest struct {
	Mode   string `json:"mode"`
	DryRun bool   `json:"dryRun"`
}

type statusResponse struct {
	Mode    domain.Mode      `json:"mode"`
	NextRun *time.Time       `json:"nextRun,omitempty"`
	LastRun *store.RunRecord `json:"lastRun"`
	Running bool             `json:"manualRunActive"`
}

func (a *API) Register(mux *mux.Router) {
	mux.HandleFunc("/", a.handleStatus).Methods(http.MethodGet)
	mux.HandleFunc("/v1/status", a.handleStatus).Methods(http.MethodGet)
	mux.HandleFunc("/v1/runs/last", a.handleLastRun).Methods(http.MethodGet)
	mux.HandleFunc("/v1/runs", a.handleTriggerRun).Methods(http.MethodPost)
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Mode: a.Mode, Running: a.running.Load()}
	if a.NextRun != nil {
		next := a.NextRun()
		resp.NextRun = &next
	}
	if a.Runs != nil {
		last, found, err := a.Runs.LastRun(r.Context())
		if err != nil {
			a.logger().Error("load last run failed", "err", err)
			http.Error(w, ErrDependency, http.StatusBadGateway)
			return
		}
		if found {
			resp.LastRun = &last
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleLastRun(w http.ResponseWriter, r *http.Request) {
	if a.Runs == nil {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	last, found, err := a.Runs.LastRun(r.Context())
	if err != nil {
		a.logger().Error("load last run failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !found {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, last)
}

func (a *API) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	if a.Start == nil {
		http.Error(w, ErrNotConfigured, http.StatusServiceUnavailable)
		return
	}
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	var mode domain.Mode
	if req.Mode != "" {
		m, err := domain.ParseMode(req.Mode)
		if err != nil {
			http.Error(w, ErrInvalidMode, http.StatusBadRequest)
			return
		}
		mode = m
	}
	if !a.running.CompareAndSwap(false, true) {
		http.Error(w, ErrRunInProgress, http.StatusConflict)
		return
	}

	ctx := a.BaseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.running.Store(false)
		err := a.Start(ctx, mode, req.DryRun)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrRunInProgress):
			a.logger().Info("manual run skipped; another run holds the lock")
		default:
			a.logger().Error("manual run failed", "err", err)
		}
	}()

	shown := mode
	if shown == "" {
		shown = a.Mode
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "mode": shown, "dryRun": req.DryRun})
}

// Wait blocks until manual runs started through the API have returned.
func (a *API) Wait() { a.wg.Wait() }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
