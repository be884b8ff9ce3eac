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
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events an editor save produces.
const DefaultDebounce = 200 * time.Millisecond

// Watcher reloads a config file when it changes on disk.
//
// # Description
//
// The parent directory is watched rather than the file itself, because most
// editors save by writing a temp file and renaming it over the original,
// which drops a watch held on the old inode. A reload that fails to parse or
// validate is logged and skipped; the last good config stays in effect.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(CalcflowConfig)
	getenv   func(string) string
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
}

// NewWatcher creates a Watcher for path. onChange runs on the watcher
// goroutine with each successfully reloaded config.
func NewWatcher(path string, getenv func(string) string, onChange func(CalcflowConfig), logger *slog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     abs,
		debounce: DefaultDebounce,
		onChange: onChange,
		getenv:   getenv,
		watcher:  fw,
		logger:   logger,
	}, nil
}

// Run processes events until ctx is cancelled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Read(w.path, w.getenv)
	if err != nil {
		w.logger.Warn("Ignoring config change", "path", w.path, "error", err)
		return
	}
	w.logger.Info("Config reloaded", "path", w.path)
	w.onChange(cfg)
}
