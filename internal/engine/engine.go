package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"portaria/internal/alerts"
	"portaria/internal/anomaly"
	"portaria/internal/archive"
	"portaria/internal/classify"
	"portaria/internal/config"
	"portaria/internal/ingest"
	"portaria/internal/metrics"
	"portaria/internal/model"
	"portaria/internal/normalize"
	"portaria/internal/report"
	"portaria/internal/storage"
)

var ErrNoSource = errors.New("no source path given")

// Result is everything one run produced.
type Result struct {
	RunID      string
	Source     string
	Table      model.Table
	Notices    []model.Notice
	Charts     []report.Chart
	ChartFiles []string
	Archived   []string
	Stats      model.RunStats
}

// Engine runs the analysis pipeline. Runs on one Engine are serialized so
// the replace-style Store never sees two writers.
type Engine struct {
	logger   *slog.Logger
	alerter  *alerts.Alerter
	store    storage.Store
	archiver *archive.Archiver
	history  *metrics.Store
	cfg      atomic.Value
	mu       sync.Mutex
	lastMu   sync.RWMutex
	last     []model.Notice
	now      func() time.Time
}

// NewEngine wires the stages. alerter, store and archiver may be nil.
func NewEngine(cfg *config.Config, logger *slog.Logger, alerter *alerts.Alerter, store storage.Store, archiver *archive.Archiver) *Engine {
	e := &Engine{
		logger:   logger,
		alerter:  alerter,
		store:    store,
		archiver: archiver,
		history:  metrics.NewStore(0),
		now:      time.Now,
	}
	e.cfg.Store(cfg)
	return e
}

// UpdateConfig swaps the configuration used by subsequent runs.
func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

// History returns the per-source stats of completed runs.
func (e *Engine) History() *metrics.Store {
	return e.history
}

// LastNotices returns the critical notices of the latest successful run.
func (e *Engine) LastNotices() []model.Notice {
	e.lastMu.RLock()
	defer e.lastMu.RUnlock()
	out := make([]model.Notice, len(e.last))
	copy(out, e.last)
	return out
}

// Run executes load, normalize, score, classify, alert, report, persist and
// archive over source. Any stage failure aborts the run.
func (e *Engine) Run(ctx context.Context, source string) (Result, error) {
	if source == "" {
		return Result{}, fmt.Errorf("load: %w", ErrNoSource)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg := e.config()
	started := e.now()
	res := Result{RunID: archive.RunID(started), Source: source}

	raw, err := ingest.Load(source, ingest.OptionsFor(cfg.Ingest.Delimiter))
	if err != nil {
		return res, fmt.Errorf("load: %w", err)
	}
	normalized, err := normalize.Normalize(raw, cfg.Normalize)
	if err != nil {
		return res, fmt.Errorf("normalize: %w", err)
	}
	if normalized.Dropped > 0 && e.logger != nil {
		e.logger.Info("rows dropped", "source", source, "count", normalized.Dropped, "reason", "non-numeric response time")
	}
	scored, err := anomaly.Score(normalized.Table, anomaly.OptionsFrom(cfg.Anomaly))
	if err != nil {
		return res, fmt.Errorf("score: %w", err)
	}
	res.Table = classify.Classify(scored, classify.RulesFrom(cfg.Classify))

	if e.alerter != nil {
		res.Notices = e.alerter.Alert(ctx, res.Table.Clone())
	} else {
		res.Notices = alerts.Critical(res.Table)
	}

	res.Charts, err = report.All(res.Table.Clone())
	if err != nil {
		return res, fmt.Errorf("report: %w", err)
	}
	if cfg.Report.Enabled {
		res.ChartFiles, err = report.SaveAll(cfg.Report.Dir, cfg.Report.Format, res.Charts)
		if err != nil {
			return res, fmt.Errorf("report: %w", err)
		}
	}

	if e.store != nil {
		if err := e.store.Persist(ctx, res.Table.Clone()); err != nil {
			return res, fmt.Errorf("persist: %w", err)
		}
	}
	if e.archiver != nil {
		res.Archived, err = e.archiver.Archive(ctx, res.RunID, res.Table.Clone(), res.Charts)
		if err != nil {
			return res, fmt.Errorf("archive: %w", err)
		}
	}

	res.Stats = metrics.Summarize(source, len(raw.Records), res.Table)
	prev, seen := e.history.Update(res.Stats)
	e.lastMu.Lock()
	e.last = res.Notices
	e.lastMu.Unlock()
	if e.logger != nil {
		attrs := append(metrics.LogAttrs(res.Stats), "run_id", res.RunID, "elapsed", e.now().Sub(started).String())
		if seen {
			attrs = append(attrs, "kept_delta", res.Stats.Kept-prev.Kept)
		}
		e.logger.Info("run complete", attrs...)
	}
	return res, nil
}
