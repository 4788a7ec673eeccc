// Package moderation implements the per-guild content filter cache: a
// compiled matcher over configured filter kinds and custom patterns, kept
// fresh under concurrent build + invalidate without ever serving a stale
// engine and without a global lock on the hot path.
package moderation

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/wolftown-io/canis-server/internal/metrics"
	"github.com/wolftown-io/canis-server/internal/store"
)

// FilterKind is a category of content filter (profanity, spam link, slur
// list, ...). The filter engine treats each enabled kind as a compiled
// pattern set; kinds are opaque strings so new kinds don't require code
// changes here, only a migration adding rows to filter_configs.
type FilterKind string

// Engine is the compiled matcher for one guild: enabled built-in kinds plus
// custom patterns, each compiled to its own regex; Match tries them in turn
// and stops at the first hit.
type Engine struct {
	kinds    []FilterKind
	patterns []*regexp.Regexp
}

// Match reports whether content trips any configured filter.
func (e *Engine) Match(content string) bool {
	if e == nil {
		return false
	}
	for _, p := range e.patterns {
		if p.MatchString(content) {
			return true
		}
	}
	return false
}

// Build compiles an Engine from a guild's filter configs and custom
// patterns. Built-in kinds map to a fixed pattern per kind; unknown kinds
// are ignored rather than erroring, so disabling a kind server-side never
// requires touching every guild's config.
func Build(configs []store.FilterConfig, customPatterns []string) (*Engine, error) {
	e := &Engine{}
	for _, c := range configs {
		if !c.Enabled {
			continue
		}
		pat, ok := builtinPatterns[FilterKind(c.Kind)]
		if !ok {
			continue
		}
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("moderation: compile builtin %s: %w", c.Kind, err)
		}
		e.kinds = append(e.kinds, FilterKind(c.Kind))
		e.patterns = append(e.patterns, re)
	}
	for _, raw := range customPatterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("moderation: compile custom pattern %q: %w", raw, err)
		}
		e.patterns = append(e.patterns, re)
	}
	return e, nil
}

// builtinPatterns are placeholder compiled-in filter kinds; real deployments
// load kind-specific wordlists/regex sets out of band and register them
// here, or the server operator extends this map at build time.
var builtinPatterns = map[FilterKind]string{
	"invite_link": `discord\.gg/\w+`,
	"mass_mention": `(@everyone|@here)`,
}

type cachedEngine struct {
	engine     *Engine
	generation uint64
}

// Cache is a per-guild engine cache with TOCTOU-safe invalidation: a
// compare-before-insert on rebuild discards any engine built from data that
// was invalidated mid-build, while unrelated guilds' generation counters
// keep one guild's churn from evicting another's cached engine.
type Cache struct {
	db          *store.Pool
	engines     sync.Map // guildID string -> *cachedEngine
	generations sync.Map // guildID string -> *atomic.Uint64
}

// NewCache builds an empty filter cache over the relational store.
func NewCache(db *store.Pool) *Cache {
	return &Cache{db: db}
}

func (c *Cache) guildGeneration(guildID string) *atomic.Uint64 {
	v, _ := c.generations.LoadOrStore(guildID, &atomic.Uint64{})
	return v.(*atomic.Uint64)
}

// GetOrBuild returns the cached engine for a guild, building and caching it
// on first use. The build reads config from the store without holding any
// lock; if invalidate(guildID) runs while the build is in flight, the
// generation check at insert time discards the stale result instead of
// caching it over the fresh invalidation.
func (c *Cache) GetOrBuild(ctx context.Context, guildID string) (*Engine, error) {
	if cached, ok := c.engines.Load(guildID); ok {
		metrics.FilterCacheHits.WithLabelValues("hit").Inc()
		return cached.(*cachedEngine).engine, nil
	}
	metrics.FilterCacheHits.WithLabelValues("miss").Inc()

	gen := c.guildGeneration(guildID)
	genBefore := gen.Load()

	configs, err := c.db.ListFilterConfigs(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("moderation: load filter configs: %w", err)
	}
	patterns, err := c.db.ListCustomPatterns(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("moderation: load custom patterns: %w", err)
	}

	engine, err := Build(configs, patterns)
	if err != nil {
		return nil, err
	}

	// Only cache if no invalidation happened for this guild while we were
	// reading from the database. A later invalidate() that fires after
	// this compare still wins, since it removes whatever we just inserted.
	if gen.Load() == genBefore {
		c.engines.Store(guildID, &cachedEngine{engine: engine, generation: genBefore})
	}

	return engine, nil
}

// BuildEphemeral compiles a fresh engine without touching the shared cache,
// for test/preview endpoints that must not perturb cache state.
func (c *Cache) BuildEphemeral(ctx context.Context, guildID string) (*Engine, error) {
	configs, err := c.db.ListFilterConfigs(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("moderation: load filter configs: %w", err)
	}
	patterns, err := c.db.ListCustomPatterns(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("moderation: load custom patterns: %w", err)
	}
	return Build(configs, patterns)
}

// Invalidate bumps the guild's generation counter and drops its cached
// engine. Independent of other guilds' generation counters, so one guild's
// churn never evicts an unrelated guild's entry.
func (c *Cache) Invalidate(guildID string) {
	c.guildGeneration(guildID).Add(1)
	c.engines.Delete(guildID)
}
