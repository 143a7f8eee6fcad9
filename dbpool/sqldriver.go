package dbpool

import (
	"context"
	"database/sql/driver"
	"sync"

	"github.com/gwinstanley/dbpool/stmtcache"
)

// SQLDriver adapts any database/sql/driver.Driver — a real vendor
// driver, or github.com/DATA-DOG/go-sqlmock's mock driver in tests —
// to the Driver collaborator, so ConnectionPool can sit in front of
// the standard library's driver ecosystem instead of a bespoke one.
type SQLDriver struct {
	Driver driver.Driver
}

func (d SQLDriver) Open(dsn string) (RawConn, error) {
	conn, err := d.Driver.Open(dsn)
	if err != nil {
		return nil, err
	}
	return &sqlRawConn{conn: conn, autoCommit: true}, nil
}

// sqlRawConn tracks auto-commit state locally since database/sql/driver
// has no query for it; ClearWarnings and ClearTypeMap are JDBC-shaped
// operations with no database/sql equivalent, so they are no-ops here.
type sqlRawConn struct {
	mu         sync.Mutex
	conn       driver.Conn
	autoCommit bool
	tx         driver.Tx
}

func (c *sqlRawConn) PrepareStatement(kind stmtcache.Kind, sql string, autoGenKeys bool) (stmtcache.RawStatement, error) {
	stmt, err := c.conn.Prepare(sql)
	if err != nil {
		return nil, err
	}
	return &sqlRawStatement{stmt: stmt}, nil
}

func (c *sqlRawConn) Ping() error {
	if p, ok := c.conn.(driver.Pinger); ok {
		return p.Ping(context.Background())
	}
	return nil
}

func (c *sqlRawConn) Close() error { return c.conn.Close() }

func (c *sqlRawConn) AutoCommit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoCommit
}

func (c *sqlRawConn) SetAutoCommit(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on == c.autoCommit {
		return nil
	}
	if on {
		var err error
		if c.tx != nil {
			err = c.tx.Commit()
			c.tx = nil
		}
		c.autoCommit = true
		return err
	}
	tx, err := c.conn.Begin()
	if err != nil {
		return err
	}
	c.tx = tx
	c.autoCommit = false
	return nil
}

func (c *sqlRawConn) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx == nil {
		return nil
	}
	err := c.tx.Rollback()
	c.tx = nil
	c.autoCommit = true
	return err
}

func (c *sqlRawConn) ClearWarnings() error { return nil }
func (c *sqlRawConn) ClearTypeMap() error  { return nil }

type sqlRawStatement struct {
	stmt driver.Stmt
}

// Recycle is a no-op: database/sql/driver.Stmt exposes nothing to
// reset between uses.
func (s *sqlRawStatement) Recycle() error { return nil }
func (s *sqlRawStatement) Close() error   { return s.stmt.Close() }
