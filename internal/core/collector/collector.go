package collector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"portscope/internal/adapter"
	"portscope/internal/domain"
	"portscope/internal/service"
)

// ErrNoAdapter is reported against every facet when detection found no
// compatible adapter
var ErrNoAdapter = errors.New("no active adapter")

// Observer is told about every finished collection pass
type Observer func(res *domain.CollectionResult, took time.Duration)

// Orchestrator picks the active adapter and runs collection passes
// against it. Overlapping CollectAll calls share one pass.
type Orchestrator struct {
	bus       *service.EventBus
	observers []Observer

	mu        sync.RWMutex
	force     string
	debug     bool
	registry  *adapter.Registry
	active    adapter.Adapter
	detection *adapter.Detection
	last      *domain.CollectionResult

	group singleflight.Group
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithForce pins the adapter to a platform regardless of scores
func WithForce(platform string) Option {
	return func(o *Orchestrator) { o.force = platform }
}

// WithDebug enables cache diagnostics after each pass
func WithDebug(enabled bool) Option {
	return func(o *Orchestrator) { o.debug = enabled }
}

// WithEventBus publishes adapter, port and degradation events on bus
func WithEventBus(bus *service.EventBus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithObserver registers fn to run after every pass
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, fn) }
}

// New creates an orchestrator over the adapters in registry
func New(registry *adapter.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{registry: registry}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Detect scores every registered adapter and activates the winner
func (o *Orchestrator) Detect(ctx context.Context) (adapter.Adapter, *adapter.Detection, error) {
	o.mu.RLock()
	registry, force := o.registry, o.force
	o.mu.RUnlock()

	a, det, err := registry.Detect(ctx, force)
	if err != nil {
		log.Printf("Collector: detection failed: %v", err)
		o.mu.Lock()
		o.detection = det
		o.mu.Unlock()
		return nil, det, err
	}

	o.mu.Lock()
	o.active = a
	o.detection = det
	o.mu.Unlock()

	log.Printf("Collector: active adapter %s (%s)", a.Platform(), a.PlatformName())
	o.bus.Publish(service.Event{Type: service.EventAdapterSelected, Payload: det})
	return a, det, nil
}

// Active returns the adapter in use, or nil before detection
func (o *Orchestrator) Active() adapter.Adapter {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.active
}

// Detection returns the report of the last detection cycle
func (o *Orchestrator) Detection() *adapter.Detection {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.detection
}

// Last returns the result of the most recent pass, or nil
func (o *Orchestrator) Last() *domain.CollectionResult {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.last
}

// Replace swaps in a new registry, for example after a config reload. The
// old adapters are closed and the next pass detects again. WithForce and
// WithDebug may be passed to change those settings at the same time.
func (o *Orchestrator) Replace(registry *adapter.Registry, opts ...Option) {
	o.mu.Lock()
	for _, opt := range opts {
		opt(o)
	}
	old := o.registry
	o.registry = registry
	o.active = nil
	o.detection = nil
	o.mu.Unlock()

	if old != nil && old != registry {
		if err := old.Close(); err != nil {
			log.Printf("Collector: closing replaced adapters: %v", err)
		}
	}
	o.bus.Publish(service.Event{Type: service.EventConfigReloaded})
}

// Close releases every registered adapter
func (o *Orchestrator) Close() error {
	o.mu.RLock()
	registry := o.registry
	o.mu.RUnlock()
	return registry.Close()
}

// CollectAll runs one pass of the four facets. It never fails: a facet that
// errors or panics leaves its default value and an entry in Errors. Callers
// that arrive while a pass is running receive that pass's result.
//
// The pass ignores the cancellation of whichever caller started it. A caller
// whose ctx ends first gets a result carrying ctx.Err() on every facet, and
// the pass still completes for the others.
func (o *Orchestrator) CollectAll(ctx context.Context) *domain.CollectionResult {
	ch := o.group.DoChan("collect", func() (interface{}, error) {
		return o.collect(context.WithoutCancel(ctx)), nil
	})
	select {
	case r := <-ch:
		return r.Val.(*domain.CollectionResult)
	case <-ctx.Done():
		return o.abandoned(ctx.Err())
	}
}

// abandoned is the result handed to a caller that stopped waiting
func (o *Orchestrator) abandoned(err error) *domain.CollectionResult {
	res := domain.NewCollectionResult("", "")
	if a := o.Active(); a != nil {
		res = domain.NewCollectionResult(a.Platform(), a.PlatformName())
	}
	for _, f := range domain.Facets {
		res.Errors.Set(f, err)
	}
	return res
}

func (o *Orchestrator) collect(ctx context.Context) *domain.CollectionResult {
	start := time.Now()

	a := o.Active()
	if a == nil {
		var err error
		if a, _, err = o.Detect(ctx); err != nil {
			res := domain.NewCollectionResult("", "")
			for _, f := range domain.Facets {
				res.Errors.Set(f, fmt.Errorf("%w: %w", ErrNoAdapter, err))
			}
			o.finish(res, time.Since(start))
			return res
		}
	}

	res := domain.NewCollectionResult(a.Platform(), a.PlatformName())

	var (
		wg   sync.WaitGroup
		enh  adapter.Enhancement
		errs [4]error
	)
	wg.Add(4)
	go func() {
		defer wg.Done()
		res.SystemInfo, errs[0] = run(ctx, domain.FacetSystemInfo, a.SystemInfo)
	}()
	go func() {
		defer wg.Done()
		apps, err := run(ctx, domain.FacetApplications, a.Applications)
		if apps != nil {
			res.Applications = apps
		}
		errs[1] = err
	}()
	go func() {
		defer wg.Done()
		ports, err := run(ctx, domain.FacetPorts, a.Ports)
		if ports != nil {
			res.Ports = ports
		}
		errs[2] = err
	}()
	go func() {
		defer wg.Done()
		vms, err := run(ctx, domain.FacetVMs, a.VMs)
		if vms != nil {
			res.VMs = vms
		}
		errs[3] = err
	}()

	if e, ok := a.(adapter.Enhancer); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			enh = enhance(ctx, e)
		}()
	}
	wg.Wait()

	for i, f := range domain.Facets {
		if errs[i] != nil {
			log.Printf("Collector: %s facet failed: %v", f, errs[i])
			res.Errors.Set(f, errs[i])
		}
	}
	merge(res, enh)

	took := time.Since(start)
	log.Printf("Collector: %s pass in %s: %d apps, %d ports, %d vms",
		a.Platform(), took.Round(time.Millisecond), len(res.Applications), len(res.Ports), len(res.VMs))
	o.mu.RLock()
	debug := o.debug
	o.mu.RUnlock()
	if debug {
		logCache(a)
	}
	o.finish(res, took)
	return res
}

// finish publishes events for res and stores it as the latest pass
func (o *Orchestrator) finish(res *domain.CollectionResult, took time.Duration) {
	o.mu.Lock()
	prev := o.last
	o.last = res
	o.mu.Unlock()

	// a failed ports facet says nothing about which ports closed
	if res.Errors.Ports == nil || len(res.Ports) > 0 {
		var before []domain.PortRecord
		if prev != nil {
			before = prev.Ports
		}
		for _, ev := range service.DiffPorts(before, res.Ports) {
			o.bus.Publish(ev)
		}
	}
	for feature, reason := range res.Degraded {
		o.bus.Publish(service.Event{
			Type:    service.EventFeatureDegraded,
			Payload: map[string]string{"feature": feature, "reason": reason},
		})
	}
	o.bus.Publish(service.Event{Type: service.EventCollectionDone, Payload: res})

	for _, fn := range o.observers {
		fn(res, took)
	}
}

// run calls one facet, converting a panic into that facet's error
func run[T any](ctx context.Context, f domain.Facet, fn func(context.Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v = zero
			err = fmt.Errorf("%s panicked: %v", f, r)
		}
	}()
	return fn(ctx)
}

func enhance(ctx context.Context, e adapter.Enhancer) (enh adapter.Enhancement) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Collector: enhanced facet panicked: %v", r)
			enh = adapter.Enhancement{
				Enabled:  true,
				Degraded: map[string]string{"enhanced": fmt.Sprintf("panic: %v", r)},
			}
		}
	}()
	return e.Enhance(ctx)
}

func logCache(a adapter.Adapter) {
	ci, ok := a.(adapter.CacheInspector)
	if !ok {
		return
	}
	entries := ci.CacheEntries()
	log.Printf("Collector: cache holds %d entries", len(entries))
	for _, e := range entries {
		log.Printf("Collector:   %s", e)
	}
}
