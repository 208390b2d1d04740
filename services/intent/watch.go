// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package intent

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses the burst of events editors emit on save.
const reloadDebounce = 100 * time.Millisecond

// WatchRules loads a rule override file and reloads it on change.
//
// # Description
//
// The file's directory is watched rather than the file itself so that
// editors replacing the file atomically are still seen. Events are
// debounced; a reload that fails to parse or validate is logged and the
// previous rules stay active.
//
// # Inputs
//
//   - ctx: Watching stops when ctx is cancelled.
//   - path: The override file.
//
// # Outputs
//
//   - error: Non-nil if the initial load or watch setup failed. Otherwise
//     WatchRules blocks until ctx is done and returns nil.
func (c *Classifier) WatchRules(ctx context.Context, path string) error {
	path, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve intent rules path: %w", err)
	}
	rules, err := LoadRulesFile(path)
	if err != nil {
		return err
	}
	c.SetRules(rules)
	slog.Info("Loaded intent rules", "path", path, "rules", len(rules))

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create intent rules watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	timer := time.NewTimer(reloadDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(reloadDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Intent rules watcher error", "error", err)
		case <-timer.C:
			rules, err := LoadRulesFile(path)
			if err != nil {
				slog.Warn("Ignoring invalid intent rules, keeping previous rules", "path", path, "error", err)
				continue
			}
			c.SetRules(rules)
			slog.Info("Reloaded intent rules", "path", path, "rules", len(rules))
		}
	}
}
