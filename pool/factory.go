package pool

// Resource is the contract every pooled item must satisfy: a neutral
// reset between clients, and a signal consulted at check-in that tells
// the pool to destroy rather than recycle.
type Resource interface {
	comparable

	// Recycle resets the resource to a neutral, reusable state. A
	// returned error causes the pool to destroy the resource instead
	// of returning it to the free list.
	Recycle() error

	// IsDirty reports whether the resource must not be recycled (e.g.
	// its underlying handle escaped to the client).
	IsDirty() bool
}

// ResourceFactory is the collaborator the pool consumes to create,
// validate, and destroy resources. It knows nothing about pooling.
type ResourceFactory[R Resource] interface {
	// Create produces a fully initialized resource ready for handoff.
	Create() (R, error)

	// IsValid performs a side-effect-free check; false causes the pool
	// to destroy the resource and try the next free entry (or create a
	// fresh one).
	IsValid(R) bool

	// Destroy releases all OS resources held by r. Errors are the
	// factory's own concern to log; the pool never receives one.
	Destroy(R)
}
