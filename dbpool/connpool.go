// Package dbpool specializes the generic pool package for database
// connections (§2, §4.5): PooledConnection wraps a raw driver
// connection with per-connection statement caching, and
// ConnectionPool wraps pool.Pool[*PooledConnection] with a factory
// that knows how to open, validate, and close raw connections through
// the Driver collaborator.
package dbpool

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gwinstanley/dbpool/pool"
)

// ConnectionPool is the database-connection specialization of
// pool.Pool named in §2.
type ConnectionPool struct {
	inner *pool.Pool[*PooledConnection]

	dsn                     string
	driver                  Driver
	cacheEnabled            bool
	recycleAfterDelegateUse bool
	log                     zerolog.Logger
}

type connFactory struct {
	cp *ConnectionPool
}

func (f *connFactory) Create() (*PooledConnection, error) {
	raw, err := f.cp.driver.Open(f.cp.dsn)
	if err != nil {
		return nil, err
	}
	return newPooledConnection(raw, f.cp), nil
}

func (f *connFactory) IsValid(c *PooledConnection) bool {
	c.mu.Lock()
	raw := c.raw
	c.mu.Unlock()
	return raw.Ping() == nil
}

func (f *connFactory) Destroy(c *PooledConnection) {
	if err := c.release(); err != nil {
		f.cp.log.Warn().Err(err).Msg("error releasing pooled connection")
	}
}

// Config bundles ConnectionPool construction parameters, mirroring
// the per-pool keys a properties file supplies via config.PoolConfig
// (§6).
type Config struct {
	Name string
	DSN  string

	Driver Driver

	MinPool, MaxPool, MaxSize int
	IdleTimeout               time.Duration
	Strategy                  pool.Strategy

	CacheEnabled            bool
	Async                   bool
	RecycleAfterDelegateUse bool

	// Logger is optional; nil means no logging.
	Logger *zerolog.Logger
}

// New builds a ConnectionPool. Its cleaner's sleep interval is clamped
// to [1s, 5s] instead of the generic pool's [200ms, 5s].
func New(cfg Config) (*ConnectionPool, error) {
	if cfg.Driver == nil {
		return nil, fmt.Errorf("%w: driver is required", pool.ErrConfigInvalid)
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	cp := &ConnectionPool{
		dsn:                     cfg.DSN,
		driver:                  cfg.Driver,
		cacheEnabled:            cfg.CacheEnabled,
		recycleAfterDelegateUse: cfg.RecycleAfterDelegateUse,
		log:                     logger,
	}

	inner, err := pool.New[*PooledConnection](
		cfg.Name,
		&connFactory{cp: cp},
		cfg.MinPool, cfg.MaxPool, cfg.MaxSize, cfg.IdleTimeout,
		pool.WithLogger[*PooledConnection](logger),
		pool.WithAsyncDestroy[*PooledConnection](cfg.Async),
		pool.WithStrategy[*PooledConnection](cfg.Strategy),
		pool.WithCleanerBounds[*PooledConnection](time.Second, 5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	cp.inner = inner
	return cp, nil
}

// CheckOut returns an available connection without blocking.
func (cp *ConnectionPool) CheckOut() (*PooledConnection, error) {
	c, err := cp.inner.CheckOut()
	if c != nil {
		c.reopen()
	}
	return c, err
}

// CheckOutWait blocks up to timeout for a connection to free up.
func (cp *ConnectionPool) CheckOutWait(timeout time.Duration) (*PooledConnection, error) {
	c, err := cp.inner.CheckOutWait(timeout)
	if c != nil {
		c.reopen()
	}
	return c, err
}

// checkIn is invoked by PooledConnection.Close, never directly by
// clients — clients return a connection by closing it.
func (cp *ConnectionPool) checkIn(c *PooledConnection) error {
	return cp.inner.CheckIn(c)
}

// Flush destroys every idle connection.
func (cp *ConnectionPool) Flush() error { return cp.inner.Flush() }

// SetParameters updates sizing and idle timeout at runtime (§6).
func (cp *ConnectionPool) SetParameters(minPool, maxPool, maxSize int, idleTimeout time.Duration) error {
	return cp.inner.SetParameters(minPool, maxPool, maxSize, idleTimeout)
}

// Release shuts the pool down. forced=true destroys checked-out
// connections immediately instead of waiting for them to be returned.
func (cp *ConnectionPool) Release(forced bool) { cp.inner.Release(forced) }

// ReleaseAsync runs Release(false) on a background goroutine.
func (cp *ConnectionPool) ReleaseAsync() { cp.inner.ReleaseAsync() }

// AddListener registers l for lifecycle events from this pool.
func (cp *ConnectionPool) AddListener(l pool.EventListener) { cp.inner.AddListener(l) }

// Stats returns a point-in-time snapshot of pool state.
func (cp *ConnectionPool) Stats() pool.Stats { return cp.inner.Stats() }

// Name returns the pool's identifier.
func (cp *ConnectionPool) Name() string { return cp.inner.Name() }
