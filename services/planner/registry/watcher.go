// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads a Static registry when its definitions file changes.
//
// # Description
//
// Partition definitions are edited in the product and exported to a file;
// operators also hand-edit them. The watcher observes the file's directory
// (editors replace files with rename+create, so watching the path itself
// misses rewrites), debounces bursts, and reloads. A rewrite that fails to
// parse keeps the last good snapshot and logs the failure.
//
// # Thread Safety
//
// Start and Stop are safe to call once each from any goroutine. Reloads run
// on the watcher's own goroutine.
type Watcher struct {
	static   *Static
	path     string
	debounce time.Duration
	log      *slog.Logger

	fsw      *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// WatchFile builds a watcher for an already-loaded Static registry.
func WatchFile(static *Static, path string, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve registry path: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		static:   static,
		path:     abs,
		debounce: 200 * time.Millisecond,
		log:      log,
		fsw:      fsw,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. Returns immediately; reloads happen in background.
func (w *Watcher) Start() {
	go w.run()
}

// Stop ends watching and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.fsw.Close()
		<-w.done
	})
}

func (w *Watcher) run() {
	defer close(w.done)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("registry watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.log.Warn("registry reload skipped, file unreadable",
			"path", w.path, "error", err)
		return
	}
	if err := w.static.Reload(data); err != nil {
		w.log.Warn("registry reload rejected, keeping previous snapshot",
			"path", w.path, "error", err)
		return
	}
	w.log.Info("registry reloaded", "path", w.path, "keys", len(w.static.Keys()))
}
