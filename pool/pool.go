// Package pool implements a generic, capacity-bounded object pool for
// expensive-to-create resources. It owns the free list, the in-use
// set, idle eviction, validation-before-handout, and event dispatch;
// it knows nothing about what a resource actually is beyond the
// ResourceFactory and Resource contracts.
package pool

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Pool multiplexes a bounded set of resources of type R among
// concurrent callers. It is unsafe to copy after first use.
type Pool[R Resource] struct {
	mu   sync.Mutex
	cond *sync.Cond

	name    string
	log     zerolog.Logger
	factory ResourceFactory[R]

	minPool, maxPool, maxSize int
	idleTimeout               time.Duration

	strategy    Strategy
	strategySet bool

	free []TimedEntry[R]
	used map[R]struct{}

	requests, hits uint64
	released       bool
	asyncDestroy   bool

	cleanerGen     uint64
	cleanerRunning bool
	cleanerMin     time.Duration
	cleanerMax     time.Duration

	initGen     uint64
	initRunning bool

	dispatcher *dispatcher
}

// Option configures a Pool at construction time.
type Option[R Resource] func(*Pool[R])

// WithLogger attaches a structured logger used for destroy-path and
// init/cleaner diagnostics. Defaults to a no-op logger.
func WithLogger[R Resource](l zerolog.Logger) Option[R] {
	return func(p *Pool[R]) { p.log = l }
}

// WithAsyncDestroy runs ResourceFactory.Destroy on a background
// goroutine instead of inline with the call that triggered it.
func WithAsyncDestroy[R Resource](async bool) Option[R] {
	return func(p *Pool[R]) { p.asyncDestroy = async }
}

// WithStrategy sets the initial free-list selection strategy. Default
// is LIFO.
func WithStrategy[R Resource](s Strategy) Option[R] {
	return func(p *Pool[R]) { p.strategy = s; p.strategySet = true }
}

// WithCleanerBounds overrides the clamp applied to the cleaner's
// sleep interval (idleTimeout/5 by default, clamped to [200ms, 5s]).
// The dbpool specialization raises the floor to 1s.
func WithCleanerBounds[R Resource](min, max time.Duration) Option[R] {
	return func(p *Pool[R]) { p.cleanerMin, p.cleanerMax = min, max }
}

// New creates a pool and, if minPool > 0, kicks off an async init to
// pre-populate the free list.
func New[R Resource](name string, factory ResourceFactory[R], minPool, maxPool, maxSize int, idleTimeout time.Duration, opts ...Option[R]) (*Pool[R], error) {
	if err := validateSizes(minPool, maxPool, maxSize); err != nil {
		return nil, err
	}
	if name == "" {
		name = uuid.NewString()
	}

	p := &Pool[R]{
		name:        name,
		factory:     factory,
		minPool:     minPool,
		maxPool:     maxPool,
		maxSize:     maxSize,
		idleTimeout: idleTimeout,
		used:        make(map[R]struct{}),
		log:         zerolog.Nop(),
		cleanerMin:  200 * time.Millisecond,
		cleanerMax:  5 * time.Second,
	}
	p.cond = sync.NewCond(&p.mu)

	for _, o := range opts {
		o(p)
	}
	p.dispatcher = newDispatcher(p.log)

	if idleTimeout > 0 {
		p.mu.Lock()
		p.startCleanerLocked(clampDuration(idleTimeout/5, p.cleanerMin, p.cleanerMax))
		p.mu.Unlock()
	}
	if minPool > 0 {
		p.Init(minPool)
	}
	return p, nil
}

func validateSizes(minPool, maxPool, maxSize int) error {
	if minPool < 0 || maxPool < 0 || maxSize < 0 {
		return fmt.Errorf("%w: sizes must be non-negative", ErrConfigInvalid)
	}
	if minPool > maxPool {
		return fmt.Errorf("%w: minPool > maxPool", ErrConfigInvalid)
	}
	if maxSize > 0 && maxPool > maxSize {
		return fmt.Errorf("%w: maxPool > maxSize", ErrConfigInvalid)
	}
	return nil
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

// Name returns the pool's identifier.
func (p *Pool[R]) Name() string { return p.name }

// Stats returns a point-in-time snapshot of pool state.
func (p *Pool[R]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

func (p *Pool[R]) statsLocked() Stats {
	var hitRate float64
	if p.requests > 0 {
		hitRate = float64(p.hits) / float64(p.requests)
	}
	return Stats{
		MinPool:     p.minPool,
		MaxPool:     p.maxPool,
		MaxSize:     p.maxSize,
		IdleTimeout: p.idleTimeout,
		CheckedOut:  len(p.used),
		FreeCount:   len(p.free),
		Size:        len(p.free) + len(p.used),
		HitRate:     hitRate,
		Type:        p.name,
	}
}

// Counters returns the raw request/hit totals backing Stats.HitRate.
func (p *Pool[R]) Counters() (requests, hits uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests, p.hits
}

// AddListener registers l to receive future events. Order of
// registration is the order of delivery.
func (p *Pool[R]) AddListener(l EventListener) {
	p.dispatcher.addListener(l)
}

func (p *Pool[R]) emitLocked(kind Kind) {
	p.dispatcher.enqueue(Event{Kind: kind, Stats: p.statsLocked(), ID: uuid.New()})
}

// SetStrategy fixes the free-list selection strategy. It is rejected
// once any resource has been created (free or used non-empty).
func (p *Pool[R]) SetStrategy(s Strategy) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) > 0 || len(p.used) > 0 {
		return fmt.Errorf("%w: selection strategy is fixed once resources exist", ErrConfigInvalid)
	}
	p.strategy = s
	p.strategySet = true
	return nil
}

func (p *Pool[R]) selectFreeIndexLocked() int {
	switch p.strategy {
	case FIFO:
		return 0
	case Random:
		return rand.Intn(len(p.free))
	default:
		return len(p.free) - 1
	}
}

// destroy hands r to the factory's destructor, on a background
// goroutine when asyncDestroy is set.
func (p *Pool[R]) destroy(r R) {
	if p.asyncDestroy {
		go p.factory.Destroy(r)
		return
	}
	p.factory.Destroy(r)
}

// CheckOut returns an available resource without blocking. It returns
// (zero, nil) if the pool is exhausted, and (zero, err) if the pool is
// released, the factory fails, or a freshly created resource fails
// validation.
func (p *Pool[R]) CheckOut() (R, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, _, err := p.tryCheckOutLocked()
	return r, err
}

// CheckOutWait blocks up to timeout for a resource to become
// available. timeout == 0 behaves like CheckOut; timeout < 0 is
// rejected. Returns (zero, nil) on timeout.
func (p *Pool[R]) CheckOutWait(timeout time.Duration) (R, error) {
	var zero R
	if timeout < 0 {
		return zero, fmt.Errorf("%w: negative timeout", ErrConfigInvalid)
	}
	if timeout == 0 {
		return p.CheckOut()
	}

	deadline := time.Now().Add(timeout)
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		r, ok, err := p.tryCheckOutLocked()
		if err != nil || ok {
			return r, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return zero, nil
		}
		p.waitLocked(remaining)
	}
}

// waitLocked suspends on the pool condition for at most d, reacquiring
// the lock before returning. Must be called with the lock held.
func (p *Pool[R]) waitLocked(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer timer.Stop()
	p.cond.Wait()
}

// tryCheckOutLocked implements §4.1's non-blocking CheckOut. Caller
// holds p.mu.
func (p *Pool[R]) tryCheckOutLocked() (R, bool, error) {
	var zero R
	if p.released {
		return zero, false, ErrPoolReleased
	}
	p.requests++
	sizeBefore := len(p.free) + len(p.used)

	for len(p.free) > 0 {
		idx := p.selectFreeIndexLocked()
		entry := p.free[idx]
		p.free = append(p.free[:idx], p.free[idx+1:]...)

		if !p.factory.IsValid(entry.Resource) {
			p.destroy(entry.Resource)
			p.emitLocked(ValidationError)
			continue
		}

		p.used[entry.Resource] = struct{}{}
		p.hits++
		p.emitTransitionsLocked(sizeBefore)
		p.emitLocked(Checkout)
		return entry.Resource, true, nil
	}

	if p.maxSize > 0 && len(p.used) == p.maxSize {
		p.emitLocked(MaxSizeLimitError)
		return zero, false, nil
	}

	resource, err := p.factory.Create()
	if err != nil {
		return zero, false, fmt.Errorf("%w: %w", ErrFactoryFailure, err)
	}
	if !p.factory.IsValid(resource) {
		p.emitLocked(ValidationError)
		p.destroy(resource)
		return zero, false, ErrInvalidNewResource
	}

	p.used[resource] = struct{}{}
	p.emitTransitionsLocked(sizeBefore)
	p.emitLocked(Checkout)
	return resource, true, nil
}

// emitTransitionsLocked fires the capacity-crossing events, each only
// on the size transition caused by the current check-out.
func (p *Pool[R]) emitTransitionsLocked(sizeBefore int) {
	sizeAfter := len(p.free) + len(p.used)
	if p.maxPool > 0 {
		if sizeBefore < p.maxPool && sizeAfter >= p.maxPool {
			p.emitLocked(MaxPoolLimitReached)
		}
		if sizeBefore < p.maxPool+1 && sizeAfter >= p.maxPool+1 {
			p.emitLocked(MaxPoolLimitExceeded)
		}
	}
	if p.maxSize > 0 && sizeBefore < p.maxSize && sizeAfter >= p.maxSize {
		p.emitLocked(MaxSizeLimitReached)
	}
}

// CheckIn returns a resource to the pool. It is recycled and added
// back to the free list unless dirty, full past the soft cap, or it
// fails to recycle — in which case it is destroyed.
func (p *Pool[R]) CheckIn(r R) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.emitLocked(Checkin)

	if _, ok := p.used[r]; !ok {
		return ErrForeignCheckIn
	}
	delete(p.used, r)

	var nonRecyclable bool
	if p.maxSize > 0 {
		nonRecyclable = len(p.free)+len(p.used) >= p.maxPool
	} else {
		nonRecyclable = len(p.free) >= p.maxPool
	}

	switch {
	case p.released:
		// Release(false) is waiting on p.used to drain; a resource
		// returned after released is set must never re-enter free,
		// or it outlives the pool it was checked back into (I5).
		p.destroy(r)
	case r.IsDirty() || nonRecyclable:
		p.destroy(r)
	case r.Recycle() != nil:
		p.destroy(r)
	default:
		p.free = append(p.free, p.newEntryLocked(r))
	}

	p.cond.Broadcast()
	return nil
}

func (p *Pool[R]) newEntryLocked(r R) TimedEntry[R] {
	if p.idleTimeout <= 0 {
		return TimedEntry[R]{Resource: r}
	}
	return TimedEntry[R]{Resource: r, ExpiresAt: time.Now().Add(p.idleTimeout)}
}

// Flush destroys every idle (free) resource, leaving in-use resources
// untouched. If the pool has no idle timeout and a positive minPool,
// an async Init back to minPool follows.
func (p *Pool[R]) Flush() error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return ErrPoolReleased
	}
	for _, e := range p.free {
		p.destroy(e.Resource)
	}
	p.free = nil
	needInit := p.idleTimeout == 0 && p.minPool > 0
	p.emitLocked(PoolFlushed)
	p.mu.Unlock()

	if needInit {
		p.Init(p.minPool)
	}
	return nil
}

// SetParameters updates sizing and idle timeout, resets hit counters,
// restarts the cleaner, and re-stamps every free entry's expiry.
func (p *Pool[R]) SetParameters(minPool, maxPool, maxSize int, idleTimeout time.Duration) error {
	if err := validateSizes(minPool, maxPool, maxSize); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return ErrPoolReleased
	}

	p.stopCleanerLocked()

	p.minPool, p.maxPool, p.maxSize, p.idleTimeout = minPool, maxPool, maxSize, idleTimeout
	now := time.Now()
	for i := range p.free {
		if idleTimeout > 0 {
			p.free[i].ExpiresAt = now.Add(idleTimeout)
		} else {
			p.free[i].ExpiresAt = time.Time{}
		}
	}
	p.requests, p.hits = 0, 0

	if idleTimeout > 0 {
		p.startCleanerLocked(clampDuration(idleTimeout/5, p.cleanerMin, p.cleanerMax))
	}
	p.emitLocked(ParametersChanged)
	p.cond.Broadcast()
	return nil
}

// Release is one-way. forced=false waits for every checked-out
// resource to be returned before finishing; forced=true destroys them
// immediately instead. Either way, PoolReleased is the last event any
// listener observes from this pool.
func (p *Pool[R]) Release(forced bool) {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return
	}
	p.released = true
	p.stopCleanerLocked()
	p.stopInitLocked()

	for _, e := range p.free {
		p.destroy(e.Resource)
	}
	p.free = nil

	if forced {
		for r := range p.used {
			p.destroy(r)
		}
		p.used = make(map[R]struct{})
	} else {
		for len(p.used) > 0 {
			p.cond.Wait()
		}
	}

	stats := p.statsLocked()
	p.mu.Unlock()

	p.dispatcher.drain()
	p.dispatcher.deliverSync(Event{Kind: PoolReleased, Stats: stats, ID: uuid.New()})
	p.dispatcher.stop()
}

// ReleaseAsync runs Release(false) on a background goroutine.
func (p *Pool[R]) ReleaseAsync() {
	go p.Release(false)
}
