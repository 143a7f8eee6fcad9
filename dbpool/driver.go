package dbpool

import "github.com/gwinstanley/dbpool/stmtcache"

// Driver is the external collaborator a ConnectionPool delegates to
// for opening raw connections. Concrete implementations wrap a real
// database driver (or, in tests, github.com/DATA-DOG/go-sqlmock).
type Driver interface {
	Open(dsn string) (RawConn, error)
}

// RawConn is the subset of a driver connection's shape the pool and
// the statement cache need: prepare statements, validate liveness,
// and reset session state on recycle (§4.5). It mirrors
// database/sql/driver.Conn plus the session-reset hooks a connection
// pool can't get from that interface alone.
type RawConn interface {
	// PrepareStatement creates a raw statement of the given kind.
	// autoGenKeys requests auto-generated key return, which makes the
	// resulting statement inherently non-cacheable (§4.4).
	PrepareStatement(kind stmtcache.Kind, sql string, autoGenKeys bool) (stmtcache.RawStatement, error)

	Ping() error
	Close() error

	AutoCommit() bool
	SetAutoCommit(bool) error
	Rollback() error
	ClearWarnings() error
	ClearTypeMap() error
}
