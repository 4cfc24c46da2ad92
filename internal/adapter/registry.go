package adapter

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"portscope/internal/domain"
)

// Candidate is one adapter's score from a detection cycle
type Candidate struct {
	Platform     string                    `json:"platform"`
	PlatformName string                    `json:"platform_name"`
	Kind         Kind                      `json:"kind"`
	Score        domain.CompatibilityScore `json:"score"`
}

// Detection is the report of one detection cycle
type Detection struct {
	Selected   string      `json:"selected"`
	Forced     bool        `json:"forced,omitempty"`
	Candidates []Candidate `json:"candidates"`
	DetectedAt time.Time   `json:"detected_at"`
}

// Registry holds the candidate adapters and picks the active one
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	order    []string
	last     *Detection
}

// NewRegistry creates an empty adapter registry
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter to the registry
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	platform := a.Platform()
	if _, exists := r.adapters[platform]; exists {
		return fmt.Errorf("adapter %s already registered", platform)
	}

	r.adapters[platform] = a
	r.order = append(r.order, platform)
	log.Printf("Registered adapter: %s (kind=%s, priority=%d)", platform, a.Kind(), a.Kind().Priority())

	return nil
}

// Get returns the adapter registered for platform
func (r *Registry) Get(platform string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[platform]
	return a, ok
}

// List returns adapters in registration order
func (r *Registry) List() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Adapter, 0, len(r.order))
	for _, p := range r.order {
		out = append(out, r.adapters[p])
	}
	return out
}

// Detect scores every adapter and returns the winner: highest score first,
// then kind priority. Adapters with a zero score are never selected. A
// non-empty force names the adapter to use regardless of scores.
func (r *Registry) Detect(ctx context.Context, force string) (Adapter, *Detection, error) {
	adapters := r.List()
	if len(adapters) == 0 {
		return nil, nil, fmt.Errorf("no adapters registered")
	}

	type scored struct {
		adapter Adapter
		cand    Candidate
	}

	results := make([]scored, len(adapters))
	var wg sync.WaitGroup
	for i, a := range adapters {
		wg.Add(1)
		go func(i int, a Adapter) {
			defer wg.Done()
			results[i] = scored{
				adapter: a,
				cand: Candidate{
					Platform:     a.Platform(),
					PlatformName: a.PlatformName(),
					Kind:         a.Kind(),
					Score:        a.IsCompatible(ctx),
				},
			}
		}(i, a)
	}
	wg.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i].cand, results[j].cand
		if a.Score.Score != b.Score.Score {
			return a.Score.Score > b.Score.Score
		}
		return a.Kind.Priority() > b.Kind.Priority()
	})

	detection := &Detection{DetectedAt: time.Now()}
	for _, s := range results {
		detection.Candidates = append(detection.Candidates, s.cand)
	}

	var winner Adapter
	if force != "" {
		a, ok := r.Get(force)
		if !ok {
			return nil, detection, fmt.Errorf("forced platform %s not registered", force)
		}
		winner = a
		detection.Forced = true
	} else if results[0].cand.Score.Compatible() {
		winner = results[0].adapter
	} else {
		r.setLast(detection)
		return nil, detection, fmt.Errorf("no compatible adapter found")
	}

	detection.Selected = winner.Platform()
	r.setLast(detection)

	log.Printf("Registry: selected %s (%s)", winner.Platform(), winner.PlatformName())
	for _, c := range detection.Candidates {
		log.Printf("Registry:   %-8s score=%3d kind=%s", c.Platform, c.Score.Score, c.Kind)
	}

	return winner, detection, nil
}

// LastDetection returns the most recent detection report, or nil
func (r *Registry) LastDetection() *Detection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

func (r *Registry) setLast(d *Detection) {
	r.mu.Lock()
	r.last = d
	r.mu.Unlock()
}

// Close closes every registered adapter
func (r *Registry) Close() error {
	var firstErr error
	for _, a := range r.List() {
		if err := a.Close(); err != nil {
			log.Printf("Error closing adapter %s: %v", a.Platform(), err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
