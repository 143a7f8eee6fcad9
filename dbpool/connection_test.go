package dbpool

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/gwinstanley/dbpool/pool"
	"github.com/gwinstanley/dbpool/stmtcache"
)

// singleConnFactory hands out one pre-built PooledConnection, letting
// tests exercise Close's pool.CheckIn routing without a real driver.
type singleConnFactory struct{ conn *PooledConnection }

func (f *singleConnFactory) Create() (*PooledConnection, error) { return f.conn, nil }
func (f *singleConnFactory) IsValid(*PooledConnection) bool     { return true }
func (f *singleConnFactory) Destroy(*PooledConnection)          {}

func newLoopbackPool(cp *ConnectionPool, c *PooledConnection) (*pool.Pool[*PooledConnection], error) {
	p, err := pool.New[*PooledConnection]("loopback", &singleConnFactory{conn: c}, 0, 1, 1, 0)
	if err != nil {
		return nil, err
	}
	if _, err := p.CheckOut(); err != nil {
		return nil, err
	}
	return p, nil
}

type fakeStmt struct{ closed bool }

func (s *fakeStmt) Recycle() error { return nil }
func (s *fakeStmt) Close() error   { s.closed = true; return nil }

type fakeConn struct {
	autoCommit    bool
	rolledBack    bool
	warningsClear bool
	typeMapClear  bool
	closed        bool
	pingErr       error
	stmts         []*fakeStmt
}

func newFakeConn() *fakeConn { return &fakeConn{autoCommit: true} }

func (c *fakeConn) PrepareStatement(kind stmtcache.Kind, sql string, autoGenKeys bool) (stmtcache.RawStatement, error) {
	s := &fakeStmt{}
	c.stmts = append(c.stmts, s)
	return s, nil
}
func (c *fakeConn) Ping() error                { return c.pingErr }
func (c *fakeConn) Close() error               { c.closed = true; return nil }
func (c *fakeConn) AutoCommit() bool           { return c.autoCommit }
func (c *fakeConn) SetAutoCommit(b bool) error { c.autoCommit = b; return nil }
func (c *fakeConn) Rollback() error            { c.rolledBack = true; return nil }
func (c *fakeConn) ClearWarnings() error       { c.warningsClear = true; return nil }
func (c *fakeConn) ClearTypeMap() error        { c.typeMapClear = true; return nil }

func newTestConnection(raw *fakeConn) *PooledConnection {
	cp := &ConnectionPool{cacheEnabled: true, log: zerolog.Nop()}
	return newPooledConnection(raw, cp)
}

func TestRecycle_RestoresAutoCommitAndClearsSessionState(t *testing.T) {
	raw := newFakeConn()
	raw.autoCommit = false
	c := newTestConnection(raw)

	require.NoError(t, c.Recycle())
	require.True(t, raw.rolledBack)
	require.True(t, raw.autoCommit)
	require.True(t, raw.warningsClear)
	require.True(t, raw.typeMapClear)
}

func TestRecycle_ReleasesCheckedOutStatements(t *testing.T) {
	raw := newFakeConn()
	c := newTestConnection(raw)

	stmt, err := c.PrepareStatement("SELECT 1", stmtcache.Triple{})
	require.NoError(t, err)
	require.NotNil(t, stmt)

	require.NoError(t, c.Recycle())
	require.Len(t, raw.stmts, 1)
	require.False(t, raw.stmts[0].closed)
}

func TestRecycle_DestroysUnclosedNonCacheableStatements(t *testing.T) {
	raw := newFakeConn()
	c := newTestConnection(raw)

	_, err := c.PrepareStatementReturningKeys("INSERT ... RETURNING id", stmtcache.Triple{})
	require.NoError(t, err)
	require.Len(t, raw.stmts, 1)
	require.False(t, raw.stmts[0].closed)

	require.NoError(t, c.Recycle())
	require.True(t, raw.stmts[0].closed)
}

func TestIsDirty_UnwrapMarksDirtyUnlessToleratedByPool(t *testing.T) {
	raw := newFakeConn()
	c := newTestConnection(raw)

	require.False(t, c.IsDirty())
	c.Unwrap()
	require.True(t, c.IsDirty())

	c.pool.recycleAfterDelegateUse = true
	require.False(t, c.IsDirty())
}

func TestClose_RoutesThroughPoolCheckInNotRawClose(t *testing.T) {
	raw := newFakeConn()
	cp := &ConnectionPool{cacheEnabled: true, log: zerolog.Nop()}
	c := newPooledConnection(raw, cp)

	inner, err := newLoopbackPool(cp, c)
	require.NoError(t, err)
	cp.inner = inner

	require.NoError(t, c.Close())
	require.False(t, raw.closed)
	require.NoError(t, c.Close())
}

func TestOperations_FailAfterClose(t *testing.T) {
	raw := newFakeConn()
	cp := &ConnectionPool{cacheEnabled: true, log: zerolog.Nop()}
	c := newPooledConnection(raw, cp)

	inner, err := newLoopbackPool(cp, c)
	require.NoError(t, err)
	cp.inner = inner

	require.NoError(t, c.Close())
	_, err = c.PrepareStatement("SELECT 1", stmtcache.Triple{})
	require.True(t, errors.Is(err, ErrConnectionClosed))
}

func TestCloseStatement_RoutesToMatchingSubCache(t *testing.T) {
	raw := newFakeConn()
	c := newTestConnection(raw)

	s, err := c.CreateStatement(stmtcache.Triple{})
	require.NoError(t, err)
	require.NoError(t, c.CloseStatement(s))

	s2, err := c.CreateStatement(stmtcache.Triple{})
	require.NoError(t, err)
	require.Same(t, s, s2)
}
