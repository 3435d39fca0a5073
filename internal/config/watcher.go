package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/signagehub/edge/internal/logging"
)

// kubeDataLink is the symlink a mounted ConfigMap swaps on update; the file
// itself never sees a write event in that case.
const kubeDataLink = "..data"

// Watcher follows the config file on disk. A change is applied only when the
// new file parses and validates; otherwise the previous config stays current.
type Watcher struct {
	path     string
	loader   *Loader
	debounce time.Duration

	mu       sync.Mutex
	current  *Config
	digest   [sha256.Size]byte
	handlers []func(*Config)
}

// NewWatcher creates a watcher for path seeded with the config already loaded
// from it.
func NewWatcher(path string, initial *Config) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		loader:   NewLoader(),
		debounce: 500 * time.Millisecond,
		current:  initial,
	}
	if data, err := os.ReadFile(path); err == nil {
		w.digest = sha256.Sum256(data)
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	return w, nil
}

// OnChange registers fn to run after each accepted reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	w.handlers = append(w.handlers, fn)
	w.mu.Unlock()
}

// SetDebounce sets how long a burst of file events is coalesced.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Run watches the parent directory until ctx is cancelled, so editors that
// rename over the file and ConfigMap symlink swaps are both seen.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	name := filepath.Base(w.path)
	pending := time.NewTimer(time.Hour)
	pending.Stop()
	defer pending.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			base := filepath.Base(ev.Name)
			if base != name && base != kubeDataLink {
				continue
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			pending.Reset(w.debounce)
		case <-pending.C:
			w.reload(false)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logging.Warn("config watcher error", zap.Error(err))
		}
	}
}

// Reload re-reads the file even if its bytes did not change, which picks up
// new values of ${VAR} references.
func (w *Watcher) Reload() bool {
	return w.reload(true)
}

func (w *Watcher) reload(force bool) bool {
	data, err := os.ReadFile(w.path)
	if err != nil {
		logging.Error("config reload failed", zap.String("path", w.path), zap.Error(err))
		return false
	}
	sum := sha256.Sum256(data)

	w.mu.Lock()
	if !force && bytes.Equal(sum[:], w.digest[:]) {
		w.mu.Unlock()
		return false
	}
	w.mu.Unlock()

	cfg, err := w.loader.Parse(data)
	if err != nil {
		logging.Error("config reload rejected, keeping previous", zap.String("path", w.path), zap.Error(err))
		return false
	}

	w.mu.Lock()
	w.current = cfg
	w.digest = sum
	handlers := append([]func(*Config){}, w.handlers...)
	w.mu.Unlock()

	logging.Info("config reloaded", zap.String("path", w.path))
	for _, fn := range handlers {
		fn(cfg)
	}
	return true
}

// Current returns the last accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}
