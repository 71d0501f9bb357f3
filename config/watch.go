package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watch re-reads the config file at path whenever it changes and passes every
// valid result to onChange. Invalid edits are logged and skipped. Watch blocks
// until ctx is done.
//
// The parent directory is watched rather than the file so that editors which
// save by rename keep being tracked.
func Watch(ctx context.Context, path string, onChange func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	clean := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(clean)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(clean), err)
	}

	log := logrus.WithFields(logrus.Fields{"component": "config", "path": clean})
	log.Info("watching config for changes")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != clean {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			cfg, _, err := Load(clean)
			if err != nil {
				log.WithError(err).Warn("ignoring config change")
				continue
			}
			log.Info("config reloaded")
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("config watcher error")
		}
	}
}
