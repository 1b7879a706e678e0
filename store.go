package llmrelay

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stackbound/llmrelay/internal/metrics"
)

// reloadDebounce absorbs editor save-and-rename patterns, where one save
// produces a burst of filesystem events.
const reloadDebounce = 100 * time.Millisecond

// Store holds the current Config snapshot and replaces it atomically when
// the backing file changes. Snapshots are immutable; many readers may hold
// one concurrently while the watcher publishes a replacement.
type Store struct {
	current atomic.Pointer[Config]
	path    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// NewStore loads the config at path and returns a Store serving it.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, logger: logger}
	s.current.Store(cfg)
	return s, nil
}

// NewStaticStore wraps an in-memory Config without file watching.
func NewStaticStore(cfg *Config, logger *slog.Logger) *Store {
	s := &Store{logger: logger}
	s.current.Store(cfg)
	return s
}

// Snapshot returns the current immutable Config. Callers should sample it
// once per dispatch phase and must not cache it across requests.
func (s *Store) Snapshot() *Config {
	return s.current.Load()
}

// Watch starts watching the config file's directory for changes and
// reloads on modify/create/rename events naming the file. Watching the
// directory rather than the file survives atomic editor saves that
// replace the inode.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return fmt.Errorf("store has no backing file to watch")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	s.watcher = watcher

	go s.watchLoop(ctx)
	s.logger.Info("watching config directory", "dir", dir, "file", filepath.Base(s.path))
	return nil
}

func (s *Store) watchLoop(ctx context.Context) {
	base := filepath.Base(s.path)
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			_ = s.watcher.Close()
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, s.reload)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("config watcher error", "error", err)
		}
	}
}

// reload swaps in a freshly parsed snapshot. A parse or validation failure
// keeps the previous snapshot so the relay continues serving.
func (s *Store) reload() {
	cfg, err := LoadConfig(s.path)
	if err != nil {
		metrics.ConfigReloads.WithLabelValues("error").Inc()
		s.logger.Error("config reload failed, keeping current snapshot", "error", err)
		return
	}
	s.current.Store(cfg)
	metrics.ConfigReloads.WithLabelValues("success").Inc()
	s.logger.Info("config reloaded", "providers", len(cfg.Providers))
}

// Close stops the watcher if one is running.
func (s *Store) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
