package config

import (
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/wudi/assetcache/internal/logging"
)

// Watcher reloads the config file when it changes on disk and hands configs
// that need a version upgrade to the registered callbacks.
type Watcher struct {
	fs       *fsnotify.Watcher
	loader   *Loader
	path     string
	debounce time.Duration

	mu       sync.Mutex
	current  *Config
	upgrades []func(*Config)
	pending  *time.Timer
	stopped  bool
}

// NewWatcher loads path once and prepares to watch it.
func NewWatcher(path string) (*Watcher, error) {
	loader := NewLoader()
	cfg, err := loader.Load(path)
	if err != nil {
		return nil, err
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fs:       fs,
		loader:   loader,
		path:     path,
		debounce: 500 * time.Millisecond,
		current:  cfg,
	}, nil
}

// OnUpgrade registers fn to receive every reloaded config whose upgrade
// sections differ from the previous one. Callbacks run in registration
// order on the reload goroutine.
func (w *Watcher) OnUpgrade(fn func(*Config)) {
	w.mu.Lock()
	w.upgrades = append(w.upgrades, fn)
	w.mu.Unlock()
}

// Start watches the file's directory so that editors replacing the file by
// rename are seen too.
func (w *Watcher) Start() error {
	if err := w.fs.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	name := filepath.Base(w.path)
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			w.schedule()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logging.Warn("Config watch error", zap.String("path", w.path), zap.Error(err))
		}
	}
}

// schedule collapses a burst of writes into one reload.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	next, err := w.loader.Load(w.path)
	if err != nil {
		logging.Error("Config reload rejected; keeping current version",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}

	w.mu.Lock()
	prev := w.current
	w.current = next
	upgrades := append(([]func(*Config))(nil), w.upgrades...)
	w.mu.Unlock()

	if restart := RestartSections(prev, next); len(restart) > 0 {
		logging.Warn("Config sections changed that apply only after restart",
			zap.String("path", w.path),
			zap.Strings("sections", restart),
		)
	}
	if !NeedsUpgrade(prev, next) {
		logging.Debug("Config reloaded without cache changes", zap.String("path", w.path))
		return
	}

	logging.Info("Config changed; upgrading",
		zap.String("path", w.path),
		zap.String("version", next.Cache.Version),
	)
	for _, fn := range upgrades {
		fn(next)
	}
}

// NeedsUpgrade reports whether next changes what a version is built from:
// the cache manifest and generations, the origin, or sync settings.
func NeedsUpgrade(prev, next *Config) bool {
	if prev == nil {
		return true
	}
	return !reflect.DeepEqual(prev.Cache, next.Cache) ||
		!reflect.DeepEqual(prev.Origin, next.Origin) ||
		!reflect.DeepEqual(prev.Sync, next.Sync)
}

// RestartSections names the sections of next that differ from prev and are
// read only at startup.
func RestartSections(prev, next *Config) []string {
	if prev == nil {
		return nil
	}
	var out []string
	if prev.Listener != next.Listener {
		out = append(out, "listener")
	}
	if prev.Admin != next.Admin {
		out = append(out, "admin")
	}
	if prev.Storage != next.Storage {
		out = append(out, "storage")
	}
	if !reflect.DeepEqual(prev.Logging, next.Logging) {
		out = append(out, "logging")
	}
	if !reflect.DeepEqual(prev.Tracing, next.Tracing) {
		out = append(out, "tracing")
	}
	if prev.Shutdown != next.Shutdown {
		out = append(out, "shutdown")
	}
	return out
}

// Current returns the last config loaded successfully.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop cancels any pending reload and closes the watch.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	w.stopped = true
	if w.pending != nil {
		w.pending.Stop()
	}
	w.mu.Unlock()
	return w.fs.Close()
}

// SetDebounce sets how long the watcher waits after the last write.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	w.debounce = d
	w.mu.Unlock()
}
