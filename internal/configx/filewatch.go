package configx

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// FileWatcher loads the lowest-precedence file layer from a YAML file on
// disk and keeps it current via fsnotify, without blocking readers: the
// parsed spec is published behind an atomic.Pointer and Current() is a
// lock-free load.
type FileWatcher struct {
	path    string
	current atomic.Pointer[PulseConfigSpec]
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// NewFileWatcher loads path once synchronously and starts watching it for
// changes. If path is empty, the watcher reports a nil layer forever (file
// layer absent, builtin+database layers still apply).
func NewFileWatcher(ctx context.Context, path string, logger *slog.Logger) (*FileWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw := &FileWatcher{path: path, logger: logger}
	if path == "" {
		return fw, nil
	}
	if err := fw.reload(); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}
	fw.watcher = w
	go fw.watch(ctx)
	return fw, nil
}

func (fw *FileWatcher) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			fw.watcher.Close()
			return
		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := fw.reload(); err != nil {
				fw.logger.Warn("config file reload failed", "path", fw.path, "error", err)
			} else {
				fw.logger.Info("config file layer reloaded", "path", fw.path)
			}
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn("config file watch error", "error", err)
		}
	}
}

func (fw *FileWatcher) reload() error {
	raw, err := os.ReadFile(fw.path)
	if err != nil {
		return err
	}
	var spec PulseConfigSpec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return err
	}
	fw.current.Store(&spec)
	return nil
}

// Current returns the most recently loaded file-layer spec, or nil if no
// file layer is configured.
func (fw *FileWatcher) Current() *PulseConfigSpec {
	return fw.current.Load()
}

// Close stops the underlying fsnotify watcher, if any.
func (fw *FileWatcher) Close() error {
	if fw.watcher != nil {
		return fw.watcher.Close()
	}
	return nil
}
