package daemon

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/grovetools/statesync/logging"
)

// ConfigWatcher watches configuration directories and reports changed
// statesync config files through a callback.
type ConfigWatcher struct {
	watcher      *fsnotify.Watcher
	debounce     time.Duration
	lastChange   map[string]time.Time
	mu           sync.Mutex
	logger       *logrus.Entry
	onReload     func(file string)
	targetToLink map[string]string // resolved symlink target -> link path
}

// NewConfigWatcher watches dirs for config file writes. Changes to the same
// file within debounce of each other are reported once. Symlinked config
// files are followed by also watching their target directories.
func NewConfigWatcher(dirs []string, debounce time.Duration, onReload func(string)) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	logger := logging.NewLogger("config-watcher")
	watched := make(map[string]bool)
	targetToLink := make(map[string]string)

	for _, dir := range dirs {
		if dir == "" || watched[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, err
		}
		watched[dir] = true

		// fsnotify doesn't follow symlinks, so watch their targets explicitly
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !isConfigFile(entry.Name()) || entry.Type()&os.ModeSymlink == 0 {
				continue
			}
			link := filepath.Join(dir, entry.Name())
			target, err := filepath.EvalSymlinks(link)
			if err != nil {
				logger.WithError(err).Warnf("Failed to resolve symlink %s", entry.Name())
				continue
			}
			targetToLink[target] = link

			targetDir := filepath.Dir(target)
			if watched[targetDir] {
				continue
			}
			if err := watcher.Add(targetDir); err != nil {
				logger.WithError(err).Warnf("Failed to watch symlink target dir %s", targetDir)
				continue
			}
			watched[targetDir] = true
			logger.Debugf("Watching symlink target directory: %s", targetDir)
		}
	}

	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	return &ConfigWatcher{
		watcher:      watcher,
		debounce:     debounce,
		lastChange:   make(map[string]time.Time),
		logger:       logger,
		onReload:     onReload,
		targetToLink: targetToLink,
	}, nil
}

func isConfigFile(name string) bool {
	base := strings.TrimPrefix(filepath.Base(name), ".")
	switch base {
	case "statesync.yml", "statesync.yaml", "statesync.toml":
		return true
	}
	return false
}

// Start begins watching for config changes. It blocks until the context is cancelled.
func (w *ConfigWatcher) Start(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.logger.Debugf("fsnotify event: %s op=%v", event.Name, event.Op)

			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			file := event.Name
			if link, ok := w.targetToLink[file]; ok {
				file = link
			} else if !isConfigFile(file) {
				continue
			}
			w.handleChange(file)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorf("Watcher error: %v", err)
		case <-ctx.Done():
			w.watcher.Close()
			return
		}
	}
}

// handleChange processes a config file change with debouncing.
func (w *ConfigWatcher) handleChange(file string) {
	w.mu.Lock()
	elapsed := time.Since(w.lastChange[file])
	if elapsed < w.debounce {
		w.mu.Unlock()
		w.logger.Debugf("Debounced: %s (only %v since last change)", filepath.Base(file), elapsed)
		return
	}
	w.lastChange[file] = time.Now()
	w.mu.Unlock()

	w.logger.Infof("Config changed: %s", filepath.Base(file))
	if w.onReload != nil {
		w.onReload(file)
	}
}

// Close stops the watcher and releases resources.
func (w *ConfigWatcher) Close() error {
	return w.watcher.Close()
}
