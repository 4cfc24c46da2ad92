package adapter

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"portscope/internal/cache"
	"portscope/internal/config"
	"portscope/internal/service"
)

// base carries what every platform adapter owns: identity, config and a
// private probe cache namespaced by platform
type base struct {
	platform string
	name     string
	kind     Kind

	cfg   *config.Config
	store *cache.Cache
	cache *cache.Namespaced
	debug bool
}

func newBase(cfg *config.Config, platform, name string, kind Kind) base {
	store := cache.New()
	return base{
		platform: platform,
		name:     name,
		kind:     kind,
		cfg:      cfg,
		store:    store,
		cache:    cache.NewNamespaced(store, platform).Disable(cfg.Cache.Disabled).Debug(cfg.Debug),
		debug:    cfg.Debug,
	}
}

func (b *base) Platform() string     { return b.platform }
func (b *base) PlatformName() string { return b.name }
func (b *base) Kind() Kind           { return b.kind }

// CacheEntries describes live cache entries for diagnostics
func (b *base) CacheEntries() []string {
	entries := b.store.Entries()
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.NoExpiry {
			out = append(out, e.Key+" (no-expiry)")
			continue
		}
		out = append(out, fmt.Sprintf("%s (%s ttl-left)", e.Key, e.Remaining.Round(time.Millisecond)))
	}
	return out
}

// ClearCache drops every cached probe result
func (b *base) ClearCache() {
	b.cache.Clear()
}

// reconciler builds the attribution pipeline from the self and collector
// settings
func (b *base) reconciler() *service.Reconciler {
	hostname, _ := os.Hostname()
	return &service.Reconciler{
		SelfPort:      b.cfg.Self.Port,
		SelfName:      b.cfg.Self.Name,
		GenericOwners: b.cfg.Self.GenericOwners,
		IncludeUDP:    b.cfg.Collector.IncludeUDP,
		Hostname:      strings.TrimSpace(hostname),
		Debug:         b.debug,
	}
}

func (b *base) logf(format string, args ...any) {
	if b.debug {
		log.Printf(format, args...)
	}
}
