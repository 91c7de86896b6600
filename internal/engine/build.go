package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"portaria/internal/alerts"
	"portaria/internal/archive"
	"portaria/internal/config"
	"portaria/internal/storage"
)

// Build constructs an Engine and its collaborators from cfg. console receives
// the alert block when alerts.console is set. The returned close func
// releases the store and alert sinks.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, console io.Writer) (*Engine, func() error, error) {
	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			_ = store.Close()
			return nil, nil, err
		}
	}

	var sinks []alerts.Sink
	if cfg.Alerts.Kafka.Enabled {
		var sink alerts.Sink = alerts.NewKafkaSink(cfg.Alerts.Kafka)
		if cfg.Alerts.DedupeWindow > 0 {
			sink = alerts.NewDedupeSink(sink, cfg.Alerts.DedupeWindow)
		}
		sinks = append(sinks, sink)
	}
	if !cfg.Alerts.Console {
		console = nil
	}
	alerter := alerts.New(console, logger, sinks...)

	archiver, err := archive.NewFromConfig(ctx, cfg.Archive, logger)
	if err != nil {
		_ = alerter.Close()
		if store != nil {
			_ = store.Close()
		}
		return nil, nil, fmt.Errorf("archive: %w", err)
	}

	closeFn := func() error {
		errs := []error{alerter.Close()}
		if store != nil {
			errs = append(errs, store.Close())
		}
		return errors.Join(errs...)
	}
	return NewEngine(cfg, logger, alerter, store, archiver), closeFn, nil
}
