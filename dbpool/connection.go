package dbpool

import (
	"errors"
	"sync"

	"github.com/gwinstanley/dbpool/stmtcache"
)

// PooledConnection is the pool.Resource wrapping one raw connection
// plus its statement cache. Callers never see the raw connection
// directly unless they explicitly Unwrap it.
type PooledConnection struct {
	mu   sync.Mutex
	raw  RawConn
	pool *ConnectionPool

	cache *stmtcache.StatementCache

	open    bool
	usedRaw bool
}

func newPooledConnection(raw RawConn, p *ConnectionPool) *PooledConnection {
	return &PooledConnection{
		raw:   raw,
		pool:  p,
		cache: stmtcache.New(p.cacheEnabled, p.log),
		open:  true,
	}
}

// Recycle implements pool.Resource. It releases every statement still
// checked out back through the statement cache, then restores the raw
// connection to a neutral session state (§4.5): roll back and restore
// auto-commit if it was turned off, clear warnings, clear the type
// map.
func (c *PooledConnection) Recycle() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recycleLocked()
}

func (c *PooledConnection) recycleLocked() error {
	var errs []error
	if err := c.cache.ReleaseUsed(); err != nil {
		errs = append(errs, err)
	}
	if err := c.cache.DestroyNonCacheable(); err != nil {
		errs = append(errs, err)
	}
	if !c.raw.AutoCommit() {
		if err := c.raw.Rollback(); err != nil {
			errs = append(errs, err)
		}
		if err := c.raw.SetAutoCommit(true); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.raw.ClearWarnings(); err != nil {
		errs = append(errs, err)
	}
	if err := c.raw.ClearTypeMap(); err != nil {
		errs = append(errs, err)
	}
	c.usedRaw = false
	return errors.Join(errs...)
}

// reopen marks a connection pulled back off the free list usable
// again. It is the counterpart to Close's open=false transition,
// called only by ConnectionPool.CheckOut/CheckOutWait once the pool
// hands the connection to a new caller — never by recycleLocked
// itself, since a recycled-but-still-free connection must keep
// failing operations until someone actually checks it out (a
// freshly-created connection is already open from newPooledConnection).
func (c *PooledConnection) reopen() {
	c.mu.Lock()
	c.open = true
	c.mu.Unlock()
}

// IsDirty implements pool.Resource. A connection that had its raw
// handle unwrapped is dirty unless the pool is configured to tolerate
// delegate use (§4.5 recycleAfterDelegateUse).
func (c *PooledConnection) IsDirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedRaw && !c.pool.recycleAfterDelegateUse
}

// release is the destroy path invoked by the factory: close every
// cached statement and the raw connection itself.
func (c *PooledConnection) release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	if err := c.cache.DestroyAll(); err != nil {
		errs = append(errs, err)
	}
	if err := c.raw.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close returns the connection to its pool rather than destroying the
// raw handle (§4.5). It is idempotent.
func (c *PooledConnection) Close() error {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return nil
	}
	c.open = false
	c.mu.Unlock()
	return c.pool.checkIn(c)
}

// Unwrap exposes the raw connection for driver-specific operations
// the pool doesn't model. Doing so marks the connection dirty unless
// the pool tolerates delegate use.
func (c *PooledConnection) Unwrap() RawConn {
	c.mu.Lock()
	c.usedRaw = true
	c.mu.Unlock()
	return c.raw
}

func (c *PooledConnection) requireOpen() error {
	c.mu.Lock()
	open := c.open
	c.mu.Unlock()
	if !open {
		return ErrConnectionClosed
	}
	return nil
}

// PrepareStatement acquires a cached parameterized statement for sql,
// creating one via the driver on a cache miss.
func (c *PooledConnection) PrepareStatement(sql string, triple stmtcache.Triple) (*stmtcache.CachedStmt, error) {
	if err := c.requireOpen(); err != nil {
		return nil, err
	}
	return c.cache.Parameterized.Acquire(sql, triple, func() (stmtcache.RawStatement, error) {
		return c.raw.PrepareStatement(stmtcache.Parameterized, sql, false)
	})
}

// PrepareCall acquires a cached callable statement for sql.
func (c *PooledConnection) PrepareCall(sql string, triple stmtcache.Triple) (*stmtcache.CachedStmt, error) {
	if err := c.requireOpen(); err != nil {
		return nil, err
	}
	return c.cache.Callable.Acquire(sql, triple, func() (stmtcache.RawStatement, error) {
		return c.raw.PrepareStatement(stmtcache.Callable, sql, false)
	})
}

// CreateStatement acquires a cached simple statement, keyed only by
// triple (§4.4 — simple statements carry no SQL text of their own).
func (c *PooledConnection) CreateStatement(triple stmtcache.Triple) (*stmtcache.CachedStmt, error) {
	if err := c.requireOpen(); err != nil {
		return nil, err
	}
	return c.cache.Simple.Acquire("", triple, func() (stmtcache.RawStatement, error) {
		return c.raw.PrepareStatement(stmtcache.Simple, "", false)
	})
}

// PrepareStatementReturningKeys creates a parameterized statement
// requesting auto-generated keys. Such statements are inherently
// non-cacheable (§4.4) and are always destroyed on release.
func (c *PooledConnection) PrepareStatementReturningKeys(sql string, triple stmtcache.Triple) (*stmtcache.CachedStmt, error) {
	if err := c.requireOpen(); err != nil {
		return nil, err
	}
	return c.cache.Parameterized.AcquireNonCacheable(triple, func() (stmtcache.RawStatement, error) {
		return c.raw.PrepareStatement(stmtcache.Parameterized, sql, true)
	})
}

// CloseStatement returns stmt to the sub-cache matching its kind.
func (c *PooledConnection) CloseStatement(stmt *stmtcache.CachedStmt) error {
	switch stmt.Kind {
	case stmtcache.Simple:
		return c.cache.Simple.Release(stmt)
	case stmtcache.Callable:
		return c.cache.Callable.Release(stmt)
	default:
		return c.cache.Parameterized.Release(stmt)
	}
}
