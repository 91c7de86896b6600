package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"portaria/internal/config"
	"portaria/internal/engine"
	"portaria/internal/metrics"
	"portaria/internal/model"
)

// Runner is the part of the engine the status API needs.
type Runner interface {
	Run(ctx context.Context, source string) (engine.Result, error)
	History() *metrics.Store
	LastNotices() []model.Notice
}

type Server struct {
	runner  Runner
	source  string
	logger  *slog.Logger
	version string
	started time.Time
}

type statusResponse struct {
	Status  string `json:"status"`
	Time    string `json:"time"`
	Version string `json:"version"`
	Source  string `json:"source"`
	Uptime  string `json:"uptime"`
	LastRun string `json:"last_run,omitempty"`
}

func NewServer(runner Runner, source string, logger *slog.Logger, version string) *Server {
	return &Server{runner: runner, source: source, logger: logger, version: version, started: time.Now().UTC()}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/alerts", s.handleAlerts)
	mux.HandleFunc("/admin/rerun", s.handleRerun)
	return mux
}

// Start serves the API until ctx is done. It returns nil when disabled.
func Start(ctx context.Context, cfg config.APIConfig, runner Runner, source string, logger *slog.Logger, version string) *http.Server {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", cfg.Addr)
	}
	server := NewServer(runner, source, logger, version)
	httpServer := &http.Server{Addr: cfg.Addr, Handler: server.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	now := time.Now().UTC()
	resp := statusResponse{
		Status:  "ok",
		Time:    now.Format(time.RFC3339Nano),
		Version: s.version,
		Source:  s.source,
		Uptime:  now.Sub(s.started).Truncate(time.Second).String(),
	}
	if _, updated, ok := s.runner.History().Get(s.source); ok {
		resp.LastRun = updated.Format(time.RFC3339Nano)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	history := s.runner.History()
	if src := r.URL.Query().Get("source"); src != "" {
		stats, updated, ok := history.Get(src)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"source":     src,
			"updated_at": updated.Format(time.RFC3339Nano),
			"stats":      stats,
		})
		return
	}
	sources := history.Sources()
	all := make([]model.RunStats, 0, len(sources))
	for _, src := range sources {
		if st, _, ok := history.Get(src); ok {
			all = append(all, st)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats": all,
		"count": len(all),
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	list := s.runner.LastNotices()
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if n < len(list) {
			list = list[len(list)-n:]
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

// handleRerun runs the pipeline synchronously over the watched source.
func (s *Server) handleRerun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	res, err := s.runner.Run(r.Context(), s.source)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("rerun failed", "err", err)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"run_id": res.RunID,
		"stats":  res.Stats,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
