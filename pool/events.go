package pool

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Kind enumerates the pool lifecycle notifications listeners can
// receive. The listener API is deliberately a single method taking a
// tagged event rather than a dozen near-empty callbacks.
type Kind int

const (
	InitCompleted Kind = iota
	Checkout
	Checkin
	ValidationError
	MaxPoolLimitReached
	MaxPoolLimitExceeded
	MaxSizeLimitReached
	MaxSizeLimitError
	ParametersChanged
	PoolFlushed
	PoolReleased
)

func (k Kind) String() string {
	switch k {
	case InitCompleted:
		return "INIT_COMPLETED"
	case Checkout:
		return "CHECKOUT"
	case Checkin:
		return "CHECKIN"
	case ValidationError:
		return "VALIDATION_ERROR"
	case MaxPoolLimitReached:
		return "MAX_POOL_LIMIT_REACHED"
	case MaxPoolLimitExceeded:
		return "MAX_POOL_LIMIT_EXCEEDED"
	case MaxSizeLimitReached:
		return "MAX_SIZE_LIMIT_REACHED"
	case MaxSizeLimitError:
		return "MAX_SIZE_LIMIT_ERROR"
	case ParametersChanged:
		return "PARAMETERS_CHANGED"
	case PoolFlushed:
		return "POOL_FLUSHED"
	case PoolReleased:
		return "POOL_RELEASED"
	default:
		return "UNKNOWN"
	}
}

// Stats is the snapshot of pool state taken under the pool lock at
// the moment an event is emitted.
type Stats struct {
	MinPool     int
	MaxPool     int
	MaxSize     int
	IdleTimeout time.Duration
	CheckedOut  int
	FreeCount   int
	Size        int
	HitRate     float64
	Type        string
}

// Event is what listeners receive. ID lets tests and log lines
// correlate a single emission across listeners.
type Event struct {
	Kind  Kind
	Stats Stats
	ID    uuid.UUID
}

// EventListener receives pool lifecycle events in the order they were
// enqueued. Each pool owns its own dispatcher goroutine, so a slow
// listener only delays later events from that pool.
type EventListener interface {
	OnEvent(Event)
}

// dispatcher is a single-goroutine FIFO worker. Every event but
// PoolReleased goes through the queue; PoolReleased is delivered
// synchronously by the releasing goroutine so listeners see it before
// the dispatcher is torn down (Design Notes bullet 3).
type dispatcher struct {
	mu         sync.Mutex
	cond       *sync.Cond
	queue      []Event
	listeners  []EventListener
	stopped    bool
	delivering bool
	done       chan struct{}
	log        zerolog.Logger
}

func newDispatcher(log zerolog.Logger) *dispatcher {
	d := &dispatcher{log: log, done: make(chan struct{})}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

func (d *dispatcher) addListener(l EventListener) {
	d.mu.Lock()
	d.listeners = append(d.listeners, l)
	d.mu.Unlock()
}

func (d *dispatcher) enqueue(e Event) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, e)
	d.mu.Unlock()
	d.cond.Broadcast()
}

func (d *dispatcher) run() {
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.stopped {
			d.cond.Wait()
		}
		if len(d.queue) == 0 && d.stopped {
			d.mu.Unlock()
			close(d.done)
			return
		}
		e := d.queue[0]
		d.queue = d.queue[1:]
		listeners := append([]EventListener(nil), d.listeners...)
		d.delivering = true
		d.mu.Unlock()

		d.deliver(e, listeners)

		d.mu.Lock()
		d.delivering = false
		d.cond.Broadcast()
		d.mu.Unlock()
	}
}

func (d *dispatcher) deliver(e Event, listeners []EventListener) {
	for _, l := range listeners {
		d.deliverOne(e, l)
	}
}

func (d *dispatcher) deliverOne(e Event, l EventListener) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().
				Interface("panic", r).
				Str("event", e.Kind.String()).
				Msg("pool event listener panicked")
		}
	}()
	l.OnEvent(e)
}

// drain blocks until every currently queued event has been delivered,
// including one that was popped off the queue but is still being
// handed to listeners. Release calls this before emitting
// PoolReleased synchronously, so a listener never observes
// PoolReleased ahead of, or concurrently with, an earlier event.
func (d *dispatcher) drain() {
	d.mu.Lock()
	for len(d.queue) > 0 || d.delivering {
		d.cond.Wait()
	}
	d.mu.Unlock()
}

// deliverSync delivers e directly from the calling goroutine, bypassing
// the queue. Used only for PoolReleased.
func (d *dispatcher) deliverSync(e Event) {
	d.mu.Lock()
	listeners := append([]EventListener(nil), d.listeners...)
	d.mu.Unlock()
	d.deliver(e, listeners)
}

func (d *dispatcher) stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.cond.Broadcast()
	<-d.done
}
