package pool

import "errors"

// Error kinds the core pool produces. Destruction errors and listener
// panics never surface here; they are logged and swallowed (§4.3, §4.6).
var (
	// ErrPoolReleased is returned when a mutating call is attempted
	// against a pool that has already run Release.
	ErrPoolReleased = errors.New("pool: released")

	// ErrInvalidNewResource is returned when a freshly created resource
	// fails the factory's own validity check.
	ErrInvalidNewResource = errors.New("pool: newly created resource failed validation")

	// ErrForeignCheckIn is returned when CheckIn is called with a
	// resource the pool did not hand out.
	ErrForeignCheckIn = errors.New("pool: check-in of a resource this pool does not own")

	// ErrConfigInvalid wraps any violation of the minPool/maxPool/maxSize
	// relationship, or a negative size/timeout argument.
	ErrConfigInvalid = errors.New("pool: invalid configuration")

	// ErrFactoryFailure wraps an error returned by ResourceFactory.Create.
	// The underlying error is chained with %w so callers can still
	// inspect it alongside this sentinel.
	ErrFactoryFailure = errors.New("pool: factory failed to create resource")
)
