package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"portscope/internal/config"
)

func TestWatcherDebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("version: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	changed := make(chan string, 8)
	w := New([]string{path}, func(p string) { changed <- p }).WithDebounce(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("version: 1\ndebug: true\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-changed:
		if got != path {
			t.Errorf("onChange(%s), want %s", got, path)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	time.Sleep(200 * time.Millisecond)
	if n := len(changed); n != 0 {
		t.Errorf("extra change callbacks = %d, want 0", n)
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Watch() error = %v, want context.Canceled", err)
	}
}

func TestConfigReloader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	var applied []*config.Config
	r := &ConfigReloader{ConfigPath: path, Apply: func(c *config.Config) { applied = append(applied, c) }}

	if err := os.WriteFile(path, []byte("self:\n  port: 5050\ncollector:\n  include_udp: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	r.Changed(path)
	if len(applied) != 1 {
		t.Fatalf("Apply calls = %d, want 1", len(applied))
	}
	if !applied[0].Collector.IncludeUDP {
		t.Error("IncludeUDP = false, want true")
	}

	if err := os.WriteFile(path, []byte("platform: openbsd\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	r.Changed(path)
	if len(applied) != 1 {
		t.Errorf("Apply calls after invalid edit = %d, want 1", len(applied))
	}

	if got := r.Paths(); len(got) != 1 || got[0] != path {
		t.Errorf("Paths() = %v", got)
	}
}
