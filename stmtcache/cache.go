// Package stmtcache implements the per-connection statement cache
// described in spec §4.4: three independent sub-caches (simple,
// parameterized, callable), each a small free/used pool keyed by SQL
// text (or, for the simple kind, by nothing but the result-set
// triple), with first-fit matching on the triple.
package stmtcache

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Kind identifies which of the three independent sub-caches a
// statement belongs to.
type Kind int

const (
	Simple Kind = iota
	Parameterized
	Callable
)

func (k Kind) String() string {
	switch k {
	case Parameterized:
		return "parameterized"
	case Callable:
		return "callable"
	default:
		return "simple"
	}
}

// Triple is the (result-set type, concurrency, holdability) tuple
// that, together with the SQL text, identifies a cached statement.
type Triple struct {
	ResultSetType int
	Concurrency   int
	Holdability   int
}

// RawStatement is the underlying driver statement a CachedStmt wraps.
// Recycle resets it to a neutral state (clears warnings, batch,
// parameters, and any pending result set); Close destroys it.
type RawStatement interface {
	Recycle() error
	Close() error
}

// ErrRecycleFailed names the statement-recycle failure kind (spec §7,
// StatementRecycleFailure). No call returns it: Release destroys a
// statement that fails to recycle instead.
var ErrRecycleFailed = errors.New("stmtcache: statement failed to recycle")

// CachedStmt is one entry in a sub-cache: a raw statement plus the
// bookkeeping the cache needs to return it to the right free bucket.
type CachedStmt struct {
	Kind   Kind
	Key    string
	Triple Triple
	Raw    RawStatement

	mu        sync.Mutex
	cacheable bool
}

// MarkUnwrapped permanently marks the statement non-cacheable. Used
// when the client unwraps it to the native driver type (§4.4
// invariant).
func (s *CachedStmt) MarkUnwrapped() {
	s.mu.Lock()
	s.cacheable = false
	s.mu.Unlock()
}

func (s *CachedStmt) isCacheable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cacheable
}

// subCache is one of the three kind-scoped caches.
type subCache struct {
	mu   sync.Mutex
	kind Kind
	on   bool
	log  zerolog.Logger

	free map[string][]*CachedStmt
	used map[*CachedStmt]struct{}

	nonCacheable []*CachedStmt

	requests, hits uint64
}

func newSubCache(kind Kind, enabled bool, log zerolog.Logger) *subCache {
	return &subCache{
		kind: kind,
		on:   enabled,
		log:  log,
		free: make(map[string][]*CachedStmt),
		used: make(map[*CachedStmt]struct{}),
	}
}

// Acquire returns a statement matching (key, triple), preferring a
// first-fit match from the free sequence, creating one via create
// otherwise.
func (c *subCache) Acquire(key string, triple Triple, create func() (RawStatement, error)) (*CachedStmt, error) {
	c.mu.Lock()
	c.requests++

	if c.on {
		if list := c.free[key]; len(list) > 0 {
			for i, s := range list {
				if s.Triple == triple {
					c.free[key] = append(list[:i:i], list[i+1:]...)
					if len(c.free[key]) == 0 {
						delete(c.free, key)
					}
					c.used[s] = struct{}{}
					c.hits++
					c.mu.Unlock()
					return s, nil
				}
			}
		}
	}
	c.mu.Unlock()

	raw, err := create()
	if err != nil {
		return nil, fmt.Errorf("stmtcache: create %s statement: %w", c.kind, err)
	}
	s := &CachedStmt{Kind: c.kind, Key: key, Triple: triple, Raw: raw, cacheable: c.on}

	c.mu.Lock()
	c.used[s] = struct{}{}
	c.mu.Unlock()
	return s, nil
}

// AcquireNonCacheable creates a statement that is inherently
// ineligible for caching (e.g. one requesting auto-generated keys)
// and tracks it so Release destroys rather than recycles it.
func (c *subCache) AcquireNonCacheable(triple Triple, create func() (RawStatement, error)) (*CachedStmt, error) {
	raw, err := create()
	if err != nil {
		return nil, fmt.Errorf("stmtcache: create non-cacheable %s statement: %w", c.kind, err)
	}
	s := &CachedStmt{Kind: c.kind, Triple: triple, Raw: raw, cacheable: false}

	c.mu.Lock()
	c.nonCacheable = append(c.nonCacheable, s)
	c.mu.Unlock()
	return s, nil
}

// Release returns s to the cache, or destroys it if caching is
// disabled, s is non-cacheable, or it fails to recycle.
func (c *subCache) Release(s *CachedStmt) error {
	if !s.isCacheable() {
		c.mu.Lock()
		// s reached here either through AcquireNonCacheable (tracked in
		// nonCacheable, never in used) or through Acquire while the
		// sub-cache was disabled (tracked in used, marked non-cacheable
		// at creation, never in nonCacheable). Both deletes are no-ops
		// on the collection that doesn't apply.
		delete(c.used, s)
		c.removeNonCacheableLocked(s)
		c.mu.Unlock()
		return s.Raw.Close()
	}

	c.mu.Lock()
	delete(c.used, s)
	enabled := c.on
	c.mu.Unlock()

	if !enabled {
		return s.Raw.Close()
	}

	if err := s.Raw.Recycle(); err != nil {
		c.log.Warn().Err(err).Str("kind", c.kind.String()).Msg("statement recycle failed, destroying")
		return s.Raw.Close()
	}

	c.mu.Lock()
	c.free[s.Key] = append(c.free[s.Key], s)
	c.mu.Unlock()
	return nil
}

func (c *subCache) removeNonCacheableLocked(s *CachedStmt) {
	for i, t := range c.nonCacheable {
		if t == s {
			c.nonCacheable = append(c.nonCacheable[:i], c.nonCacheable[i+1:]...)
			return
		}
	}
}

// DestroyAll closes every statement currently tracked — free, used,
// and non-cacheable — and returns the first error encountered, if
// any, wrapped with every subsequent one via errors.Join.
func (c *subCache) DestroyAll() error {
	c.mu.Lock()
	var stmts []*CachedStmt
	for _, list := range c.free {
		stmts = append(stmts, list...)
	}
	for s := range c.used {
		stmts = append(stmts, s)
	}
	stmts = append(stmts, c.nonCacheable...)
	c.free = make(map[string][]*CachedStmt)
	c.used = make(map[*CachedStmt]struct{})
	c.nonCacheable = nil
	c.mu.Unlock()

	var errs []error
	for _, s := range stmts {
		if err := s.Raw.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DestroyNonCacheable closes every currently tracked non-cacheable
// statement that the client never explicitly closed. Used by
// PooledConnection.recycle (§4.5).
func (c *subCache) DestroyNonCacheable() error {
	c.mu.Lock()
	stmts := c.nonCacheable
	c.nonCacheable = nil
	c.mu.Unlock()

	var errs []error
	for _, s := range stmts {
		if err := s.Raw.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Used returns the statements currently checked out of this
// sub-cache. Used by PooledConnection.recycle (§4.5) to close every
// in-flight statement via the normal release path.
func (c *subCache) Used() []*CachedStmt {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*CachedStmt, 0, len(c.used))
	for s := range c.used {
		out = append(out, s)
	}
	return out
}

// Counters reports the request/hit totals for this sub-cache.
func (c *subCache) Counters() (requests, hits uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests, c.hits
}

// StatementCache bundles the three independent sub-caches living
// inside one PooledConnection.
type StatementCache struct {
	Simple        *subCache
	Parameterized *subCache
	Callable      *subCache
}

// New builds a StatementCache. enabled corresponds to the §6 `cache`
// configuration key.
func New(enabled bool, log zerolog.Logger) *StatementCache {
	return &StatementCache{
		Simple:        newSubCache(Simple, enabled, log),
		Parameterized: newSubCache(Parameterized, enabled, log),
		Callable:      newSubCache(Callable, enabled, log),
	}
}

func (c *StatementCache) all() []*subCache {
	return []*subCache{c.Simple, c.Parameterized, c.Callable}
}

// DestroyAll closes every statement tracked by any of the three
// sub-caches.
func (c *StatementCache) DestroyAll() error {
	var errs []error
	for _, sc := range c.all() {
		if err := sc.DestroyAll(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReleaseUsed closes every currently checked-out statement across all
// three sub-caches via the normal release path, returning them to
// their free sequences where eligible. Used by PooledConnection's
// recycle (§4.5).
func (c *StatementCache) ReleaseUsed() error {
	var errs []error
	for _, sc := range c.all() {
		for _, s := range sc.Used() {
			if err := sc.Release(s); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// DestroyNonCacheable closes every non-cacheable statement across all
// three sub-caches that the client never closed itself. Used by
// PooledConnection's recycle (§4.5).
func (c *StatementCache) DestroyNonCacheable() error {
	var errs []error
	for _, sc := range c.all() {
		if err := sc.DestroyNonCacheable(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
