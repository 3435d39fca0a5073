package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestWatcher(t *testing.T, body string) (*Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "edge.yaml")
	writeConfig(t, path, body)
	initial, err := NewLoader().Load(path)
	if err != nil {
		t.Fatal(err)
	}
	w, err := NewWatcher(path, initial)
	if err != nil {
		t.Fatal(err)
	}
	return w, path
}

func TestWatcherAppliesFileChange(t *testing.T) {
	w, path := newTestWatcher(t, "cors:\n  allow_origins: [\"https://a.example\"]\n")
	w.SetDebounce(10 * time.Millisecond)

	changed := make(chan *Config, 1)
	w.OnChange(func(c *Config) { changed <- c })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// let fsnotify register the directory
	time.Sleep(50 * time.Millisecond)
	writeConfig(t, path, "cors:\n  allow_origins: [\"https://b.example\"]\n")

	select {
	case c := <-changed:
		if c.CORS.AllowOrigins[0] != "https://b.example" {
			t.Errorf("origins = %v", c.CORS.AllowOrigins)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reload observed")
	}
	if w.Current().CORS.AllowOrigins[0] != "https://b.example" {
		t.Error("Current not updated")
	}
}

func TestWatcherRejectsInvalidFile(t *testing.T) {
	w, path := newTestWatcher(t, "{}")
	initial := w.Current()
	called := false
	w.OnChange(func(*Config) { called = true })

	writeConfig(t, path, "server:\n  address: nope\n")
	if w.Reload() {
		t.Error("Reload accepted an invalid file")
	}
	if called || w.Current() != initial {
		t.Error("invalid config replaced the previous one")
	}
}

func TestWatcherSkipsUnchangedBytes(t *testing.T) {
	body := "cors:\n  allow_origins: [\"https://a.example\"]\n"
	w, path := newTestWatcher(t, body)
	calls := 0
	w.OnChange(func(*Config) { calls++ })

	writeConfig(t, path, body)
	if w.reload(false) {
		t.Error("identical file treated as a change")
	}
	if !w.Reload() {
		t.Error("forced reload skipped")
	}
	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
}
