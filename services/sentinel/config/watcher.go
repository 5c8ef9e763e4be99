// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ThresholdSetter is satisfied by *safety.Gate.
type ThresholdSetter interface {
	SetMinConfidence(v float64) error
}

// UnitCostSetter is satisfied by *metrics.Tracker.
type UnitCostSetter interface {
	SetUnitCost(cost float64)
}

// ApplyRuntime returns a reload callback that pushes the runtime-tunable
// settings to gate and tracker. Either may be nil.
func ApplyRuntime(gate ThresholdSetter, tracker UnitCostSetter, logger *slog.Logger) func(*Config) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(cfg *Config) {
		if gate != nil {
			if err := gate.SetMinConfidence(cfg.Safety.MinConfidence); err != nil {
				logger.Warn("Rejected reloaded gate threshold",
					slog.Float64("min_confidence", cfg.Safety.MinConfidence),
					slog.String("error", err.Error()))
			}
		}
		if tracker != nil {
			tracker.SetUnitCost(cfg.Metrics.UnitCost)
		}
		logger.Info("Runtime settings reloaded",
			slog.Float64("min_confidence", cfg.Safety.MinConfidence),
			slog.Float64("unit_cost", cfg.Metrics.UnitCost))
	}
}

// Watcher reloads a config file when it changes.
//
// # Description
//
// Watches the file's directory rather than the file itself, so editors
// that save by rename are still seen. Each write, create, or rename of the
// file triggers a full Load; invalid files are logged and ignored, leaving
// the last good config in effect.
//
// # Thread Safety
//
// Safe for concurrent use. Start should only be called once.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(*Config)
	logger   *slog.Logger

	mu      sync.RWMutex
	current *Config
}

// NewWatcher creates a watcher for path.
//
// # Inputs
//
//   - path: Config file to watch.
//   - initial: Config already loaded from path.
//   - onChange: Called with each successfully reloaded config.
//   - logger: Nil uses slog.Default().
//
// # Outputs
//
//   - *Watcher: Ready-to-start watcher.
//   - error: Non-nil if the fsnotify watcher cannot be created.
func NewWatcher(path string, initial *Config, onChange func(*Config), logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		watcher:  fw,
		onChange: onChange,
		logger:   logger,
		current:  initial,
	}, nil
}

// Current returns the last successfully loaded config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start watches until ctx is cancelled. Run it in a goroutine.
//
// # Example
//
//	w, _ := config.NewWatcher(path, cfg, config.ApplyRuntime(gate, tracker, nil), nil)
//	go w.Start(ctx)
func (w *Watcher) Start(ctx context.Context) {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Warn("Failed to watch config directory",
			slog.String("path", dir),
			slog.String("error", err.Error()))
	}
	w.logger.Debug("Started watching config", slog.String("path", w.path))

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", slog.String("error", err.Error()))

		case <-ctx.Done():
			w.logger.Debug("Config watcher stopping")
			return
		}
	}
}

// handleEvent reloads on changes to the watched file only.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}

	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("Config reload failed, keeping previous config",
			slog.String("path", w.path),
			slog.String("error", err.Error()))
		return
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	w.logger.Info("Config reloaded", slog.String("path", w.path), slog.String("op", event.Op.String()))
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Stop closes the underlying watcher, which also ends Start.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}
