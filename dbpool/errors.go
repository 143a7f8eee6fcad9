package dbpool

import "errors"

// ErrConnectionClosed is returned by any PooledConnection operation
// attempted after Close has already routed the connection back to
// the pool.
var ErrConnectionClosed = errors.New("dbpool: connection is closed")
