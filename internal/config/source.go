package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Source yields the configuration in effect right now.
// Implementations must be safe for concurrent use.
type Source interface {
	Current() *Config
}

// Static is a Source that never changes.
type Static struct {
	cfg *Config
}

// NewStatic wraps cfg. A nil cfg uses Default.
func NewStatic(cfg *Config) *Static {
	if cfg == nil {
		cfg = Default()
	}
	return &Static{cfg: cfg}
}

// Current returns the wrapped configuration.
func (s *Static) Current() *Config {
	return s.cfg
}

// FileSource is a Source backed by a YAML file that is reloaded when the
// file changes on disk.
//
// A reload that fails to parse or validate is logged and ignored; the last
// good configuration stays in effect.
type FileSource struct {
	path    string
	current atomic.Pointer[Config]

	mu        sync.Mutex
	listeners []func(*Config)
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewFileSource loads path and returns a Source for it. The file is not
// watched until Start is called.
func NewFileSource(path string) (*FileSource, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	fs := &FileSource{path: abs}
	fs.current.Store(cfg)
	return fs, nil
}

// Current returns the last successfully loaded configuration.
func (fs *FileSource) Current() *Config {
	return fs.current.Load()
}

// OnChange registers fn to run after every successful reload.
func (fs *FileSource) OnChange(fn func(*Config)) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.listeners = append(fs.listeners, fn)
}

// Reload re-reads the file. On error the previous configuration is kept.
func (fs *FileSource) Reload() error {
	cfg, err := Load(fs.path)
	if err != nil {
		return err
	}
	fs.current.Store(cfg)

	fs.mu.Lock()
	listeners := append([]func(*Config){}, fs.listeners...)
	fs.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
	return nil
}

// Start watches the file's directory and reloads on writes to the file.
// The directory is watched rather than the file so that editors which
// replace the file by rename are picked up.
func (fs *FileSource) Start(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.watcher != nil {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(fs.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(fs.path), err)
	}

	fs.watcher = w
	fs.stopCh = make(chan struct{})
	fs.doneCh = make(chan struct{})
	go fs.run(ctx, w, fs.stopCh, fs.doneCh)

	slog.Info("watching config", "path", fs.path)
	return nil
}

// Stop ends watching and waits for the watcher goroutine to exit.
func (fs *FileSource) Stop() {
	fs.mu.Lock()
	w, stopCh, doneCh := fs.watcher, fs.stopCh, fs.doneCh
	fs.watcher, fs.stopCh, fs.doneCh = nil, nil, nil
	fs.mu.Unlock()

	if w == nil {
		return
	}
	close(stopCh)
	<-doneCh
	if err := w.Close(); err != nil {
		slog.Warn("close config watcher", "error", err)
	}
}

func (fs *FileSource) run(ctx context.Context, w *fsnotify.Watcher, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != fs.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := fs.Reload(); err != nil {
				slog.Warn("config reload failed, keeping previous", "path", fs.path, "error", err)
				continue
			}
			slog.Info("config reloaded", "path", fs.path)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}
