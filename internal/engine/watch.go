package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"portaria/internal/config"
)

// WatchOptions controls Watch. ConfigPath is optional; when set, edits to it
// are loaded and applied to the next run.
type WatchOptions struct {
	Source     string
	ConfigPath string
	Debounce   time.Duration
	// Override is reapplied to every reloaded config before validation, so
	// command-line settings survive config edits.
	Override func(*config.Config)
	// OnRun receives the outcome of every triggered run.
	OnRun func(Result, error)
}

// Watch runs the pipeline once, then again after each change to the source
// file settles for Debounce. Each re-run is a full batch run. It blocks
// until ctx is done.
func (e *Engine) Watch(ctx context.Context, opts WatchOptions) error {
	if opts.Source == "" {
		return fmt.Errorf("watch: %w", ErrNoSource)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer watcher.Close()

	source := filepath.Clean(opts.Source)
	configPath := ""
	if opts.ConfigPath != "" {
		configPath = filepath.Clean(opts.ConfigPath)
	}
	// watch parent directories to catch replace-by-rename
	dirs := map[string]struct{}{filepath.Dir(source): {}}
	if configPath != "" {
		dirs[filepath.Dir(configPath)] = struct{}{}
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	if e.logger != nil {
		e.logger.Info("watching source", "source", source, "config", configPath, "debounce", opts.Debounce.String())
	}

	run := func() {
		res, err := e.Run(ctx, source)
		if err != nil && e.logger != nil {
			e.logger.Error("run failed", "source", source, "err", err)
		}
		if opts.OnRun != nil {
			opts.OnRun(res, err)
		}
	}
	run()

	timer := time.NewTimer(opts.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			switch filepath.Clean(ev.Name) {
			case source:
				timer.Reset(opts.Debounce)
			case configPath:
				e.reloadConfig(configPath, opts.Override)
				timer.Reset(opts.Debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if e.logger != nil {
				e.logger.Warn("watch error", "err", err)
			}
		case <-timer.C:
			run()
		}
	}
}

func (e *Engine) reloadConfig(path string, override func(*config.Config)) {
	cfg, err := config.Load(path)
	if err == nil && override != nil {
		override(cfg)
		err = config.Validate(cfg)
	}
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("config reload failed, keeping previous", "path", path, "err", err)
		}
		return
	}
	e.UpdateConfig(cfg)
	if e.logger != nil {
		e.logger.Info("config reloaded", "path", path)
	}
}
