package config

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reports changes to the config files read by a Store.
type Watcher struct {
	mu    sync.Mutex
	fsw   *fsnotify.Watcher
	dirs  map[string]bool
	store *Store

	onChange func(path string)
	logger   *zap.Logger
	done     chan struct{}
}

// NewWatcher starts watching the store's config directories. onChange runs
// on the watcher goroutine for every write, create, remove or rename of a
// config file.
func NewWatcher(ctx context.Context, store *Store, onChange func(path string), logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:      fsw,
		dirs:     make(map[string]bool),
		store:    store,
		onChange: onChange,
		logger:   logger,
		done:     make(chan struct{}),
	}
	w.Sync()

	go w.run(ctx)

	return w, nil
}

// Sync aligns the watched directories with the store's current config
// directories. Directories that do not exist are skipped.
func (w *Watcher) Sync() {
	w.mu.Lock()
	defer w.mu.Unlock()

	wanted := make(map[string]bool)
	for _, dir := range w.store.ConfigDirs() {
		wanted[filepath.Clean(dir)] = true
	}

	for dir := range w.dirs {
		if !wanted[dir] {
			_ = w.fsw.Remove(dir)
			delete(w.dirs, dir)
		}
	}

	for dir := range wanted {
		if w.dirs[dir] {
			continue
		}
		if err := w.fsw.Add(dir); err != nil {
			w.logger.Debug("not watching config directory", zap.String("dir", dir), zap.Error(err))
			continue
		}
		w.dirs[dir] = true
	}
}

func (w *Watcher) Dirs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	dirs := make([]string, 0, len(w.dirs))
	for dir := range w.dirs {
		dirs = append(dirs, dir)
	}
	return dirs
}

func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !w.store.IsConfigFile(event.Name) {
				continue
			}
			w.logger.Info("config file changed", zap.String("path", event.Name), zap.Stringer("op", event.Op))
			if w.onChange != nil {
				w.onChange(event.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}
