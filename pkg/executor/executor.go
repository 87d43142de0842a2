// Package executor runs validated queries against the analytics engine with
// result caching, bounded retry, and graceful degradation.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"

	"github.com/quarrydata/quarry/pkg/engine"
	"github.com/quarrydata/quarry/pkg/pipeline/metrics"
	"github.com/quarrydata/quarry/pkg/query"
)

const (
	defaultCacheTTL         = 5 * time.Minute
	defaultMaxTries         = 3
	defaultInitialInterval  = 1 * time.Second
	defaultMaxInterval      = 10 * time.Second
	defaultDegradedRowLimit = 1000
	defaultMaxStaleAge      = time.Hour
)

// Config configures an Executor.
type Config struct {
	Logger *slog.Logger
	Engine engine.Engine
	Clock  clockwork.Clock

	// CacheTTL bounds how long a result is served fresh. Defaults to 5m.
	CacheTTL time.Duration
	// MaxTries bounds retries of the primary query. Defaults to 3.
	MaxTries uint
	// InitialInterval and MaxInterval shape the retry backoff.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// DegradedRowLimit is the row cap applied on the degradation attempt.
	DegradedRowLimit int
	// MaxStaleAge bounds how old a last-known-good result may be and still
	// be served when the engine is unavailable. Defaults to 1h.
	MaxStaleAge time.Duration
}

// Validate checks the config and fills defaults.
func (c *Config) Validate() error {
	if c.Engine == nil {
		return fmt.Errorf("engine is required")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = defaultCacheTTL
	}
	if c.MaxTries == 0 {
		c.MaxTries = defaultMaxTries
	}
	if c.InitialInterval == 0 {
		c.InitialInterval = defaultInitialInterval
	}
	if c.MaxInterval == 0 {
		c.MaxInterval = defaultMaxInterval
	}
	if c.DegradedRowLimit == 0 {
		c.DegradedRowLimit = defaultDegradedRowLimit
	}
	if c.MaxStaleAge == 0 {
		c.MaxStaleAge = defaultMaxStaleAge
	}
	return nil
}

// staleEntry is a last-known-good result kept past the fresh TTL so a failing
// engine can still serve something.
type staleEntry struct {
	result   *engine.Result
	storedAt time.Time
}

// Executor executes queries with caching and failure handling.
type Executor struct {
	log   *slog.Logger
	cfg   Config
	cache *ttlcache.Cache[string, *engine.Result]

	mu    sync.Mutex
	stale map[string]staleEntry
}

// New creates an Executor.
func New(cfg Config) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *engine.Result](cfg.CacheTTL),
	)
	go cache.Start()
	return &Executor{
		log:   cfg.Logger,
		cfg:   cfg,
		cache: cache,
		stale: make(map[string]staleEntry),
	}, nil
}

// Close stops the cache's eviction loop.
func (e *Executor) Close() {
	e.cache.Stop()
}

// Execute runs a validated query. Fresh cached results are returned without
// touching the engine. On failure the query is retried with backoff for
// transient and timeout errors only, then retried once with a row cap, then
// served from the last known result if one exists and is within MaxStaleAge.
// Results served that way carry the Degraded or Stale marker. Caller
// cancellation surfaces as an error; the fallbacks never run on a dead
// context.
func (e *Executor) Execute(ctx context.Context, q *query.Query) (*engine.Result, error) {
	key := q.CanonicalKey()

	if item := e.cache.Get(key); item != nil {
		metrics.ExecutorCacheHitsTotal.Inc()
		e.log.Debug("query cache hit", "datasource", q.Datasource.ID)
		cp := *item.Value()
		return &cp, nil
	}

	res, err := e.executeWithRetry(ctx, q)
	if err == nil {
		e.store(key, res)
		cp := *res
		return &cp, nil
	}

	execErr := engine.AsExecutionError(err)
	switch execErr.Kind {
	case engine.KindAuth, engine.KindBadRequest, engine.KindCanceled:
		return nil, err
	}
	if ctx.Err() != nil {
		// The caller has gone away; a degraded or stale result would mask
		// the abort.
		return nil, err
	}

	e.log.Warn("query failed after retries, attempting degraded run",
		"datasource", q.Datasource.ID, "kind", execErr.Kind, "error", err)

	if res, degErr := e.executeDegraded(ctx, q); degErr == nil {
		metrics.DegradedResultsTotal.Inc()
		res.Degraded = true
		return res, nil
	}

	if res, ok := e.serveStale(key); ok {
		metrics.StaleResultsTotal.Inc()
		e.log.Warn("serving stale cached result", "datasource", q.Datasource.ID)
		return res, nil
	}

	return nil, err
}

// Invalidate drops any cached result for the query.
func (e *Executor) Invalidate(q *query.Query) {
	key := q.CanonicalKey()
	e.cache.Delete(key)
	e.mu.Lock()
	delete(e.stale, key)
	e.mu.Unlock()
}

func (e *Executor) executeWithRetry(ctx context.Context, q *query.Query) (*engine.Result, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.InitialInterval
	bo.MaxInterval = e.cfg.MaxInterval
	bo.RandomizationFactor = 0.1

	return backoff.Retry(ctx, func() (*engine.Result, error) {
		res, err := e.cfg.Engine.Execute(ctx, q)
		if err != nil {
			execErr := engine.AsExecutionError(err)
			switch execErr.Kind {
			case engine.KindAuth, engine.KindBadRequest, engine.KindCanceled:
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return res, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(e.cfg.MaxTries))
}

// executeDegraded reruns the query once with a reduced row budget.
func (e *Executor) executeDegraded(ctx context.Context, q *query.Query) (*engine.Result, error) {
	capped := q.Clone()
	if capped.Options.RowLimit == 0 || capped.Options.RowLimit > e.cfg.DegradedRowLimit {
		capped.Options.RowLimit = e.cfg.DegradedRowLimit
	}
	return e.cfg.Engine.Execute(ctx, capped)
}

func (e *Executor) store(key string, res *engine.Result) {
	e.cache.Set(key, res, ttlcache.DefaultTTL)
	e.mu.Lock()
	e.stale[key] = staleEntry{result: res, storedAt: e.cfg.Clock.Now()}
	e.mu.Unlock()
}

// serveStale returns the last known result for the key, marked stale.
// Entries older than MaxStaleAge are not served.
func (e *Executor) serveStale(key string) (*engine.Result, bool) {
	e.mu.Lock()
	entry, ok := e.stale[key]
	e.mu.Unlock()
	if !ok {
		return nil, false
	}
	age := e.cfg.Clock.Since(entry.storedAt)
	if age > e.cfg.MaxStaleAge {
		e.log.Debug("discarding stale result past age bound", "age", age)
		return nil, false
	}
	cp := *entry.result
	cp.Stale = true
	e.log.Debug("stale result age", "age", age)
	return &cp, true
}
