// Package archive keeps a copy of each run's enriched table and charts.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"portaria/internal/config"
	"portaria/internal/model"
	"portaria/internal/report"
)

const TableObject = "acessos.jsonl.gz"

type Archiver struct {
	sink   Sink
	prefix string
	logger *slog.Logger
}

func New(sink Sink, prefix string, logger *slog.Logger) *Archiver {
	return &Archiver{sink: sink, prefix: strings.Trim(prefix, "/"), logger: logger}
}

// NewFromConfig returns nil when archiving is disabled.
func NewFromConfig(ctx context.Context, cfg config.ArchiveConfig, logger *slog.Logger) (*Archiver, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "", "dir":
		return New(DirSink{Root: cfg.Dir}, cfg.Prefix, logger), nil
	case "s3":
		sink, err := NewS3Sink(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return New(sink, cfg.Prefix, logger), nil
	default:
		return nil, fmt.Errorf("archive: unsupported driver %q", cfg.Driver)
	}
}

// RunID names a run by its UTC start time at nanosecond resolution.
func RunID(t time.Time) string {
	return t.UTC().Format("20060102T150405.000000000Z")
}

// Key returns the object key for name within a run.
func (a *Archiver) Key(runID, name string) string {
	if a.prefix == "" {
		return path.Join(runID, name)
	}
	return path.Join(a.prefix, runID, name)
}

// Archive stores the table and every chart as PNG and returns the keys written.
func (a *Archiver) Archive(ctx context.Context, runID string, table model.Table, charts []report.Chart) ([]string, error) {
	data, err := EncodeJSONLGZ(table)
	if err != nil {
		return nil, fmt.Errorf("archive encode: %w", err)
	}
	var keys []string
	key := a.Key(runID, TableObject)
	if err := a.sink.Put(ctx, key, data, "application/gzip"); err != nil {
		return keys, fmt.Errorf("archive table: %w", err)
	}
	keys = append(keys, key)
	for _, c := range charts {
		var buf bytes.Buffer
		if err := c.Encode(&buf, "png"); err != nil {
			return keys, fmt.Errorf("archive chart: %w", err)
		}
		key := a.Key(runID, c.Name+".png")
		if err := a.sink.Put(ctx, key, buf.Bytes(), "image/png"); err != nil {
			return keys, fmt.Errorf("archive chart %s: %w", c.Name, err)
		}
		keys = append(keys, key)
	}
	if a.logger != nil {
		a.logger.Info("run archived", "run_id", runID, "objects", len(keys), "rows", table.Len())
	}
	return keys, nil
}
