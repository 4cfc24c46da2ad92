package watcher

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"

	"portscope/internal/config"
)

// Watcher calls onChange, debounced, whenever one of its files is written
// or replaced
type Watcher struct {
	paths    []string
	onChange func(path string)
	debounce time.Duration
}

// New creates a watcher over paths. Paths that do not exist yet are still
// watched through their directory.
func New(paths []string, onChange func(path string)) *Watcher {
	return &Watcher{
		paths:    paths,
		onChange: onChange,
		debounce: 500 * time.Millisecond,
	}
}

// WithDebounce sets the debounce duration
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// Watch blocks until ctx is cancelled or the underlying watcher closes
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	// Watch directories, not files, so editors that replace the file on
	// save keep triggering events
	files := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, p := range w.paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		dir := filepath.Dir(abs)
		if !dirs[dir] {
			if err := fw.Add(dir); err != nil {
				log.Printf("Watcher: cannot watch %s: %v", dir, err)
				continue
			}
			dirs[dir] = true
		}
		files[abs] = true
		log.Printf("Watcher: watching %s", abs)
	}

	var mu sync.Mutex
	timers := make(map[string]*time.Timer)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || !files[abs] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			mu.Lock()
			if t, ok := timers[abs]; ok {
				t.Stop()
			}
			timers[abs] = time.AfterFunc(w.debounce, func() {
				log.Printf("Watcher: %s changed", abs)
				w.onChange(abs)
			})
			mu.Unlock()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Printf("Watcher: %v", err)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ConfigReloader re-reads the config file and dotenv files when they change
// and hands every valid result to apply. An invalid edit is logged and the
// running config stays in place.
type ConfigReloader struct {
	ConfigPath string
	EnvPaths   []string
	Apply      func(*config.Config)
}

// Paths returns every file the reloader reacts to
func (r *ConfigReloader) Paths() []string {
	var paths []string
	if r.ConfigPath != "" {
		paths = append(paths, r.ConfigPath)
	}
	return append(paths, r.EnvPaths...)
}

// Changed reloads after path changed
func (r *ConfigReloader) Changed(path string) {
	for _, env := range r.EnvPaths {
		if abs, err := filepath.Abs(env); err == nil && abs == path {
			if err := godotenv.Overload(path); err != nil {
				log.Printf("Config: reload %s: %v", path, err)
				return
			}
		}
	}

	cfg, err := r.load()
	if err != nil {
		log.Printf("Config: reload rejected, keeping the running config: %v", err)
		return
	}
	log.Printf("Config: reloaded (%s)", cfg.Summary())
	r.Apply(cfg)
}

func (r *ConfigReloader) load() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if r.ConfigPath != "" {
		loaded, _, err := config.LoadFromPath(r.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Watch runs a Watcher over the reloader's paths
func (r *ConfigReloader) Watch(ctx context.Context) error {
	return New(r.Paths(), r.Changed).Watch(ctx)
}
