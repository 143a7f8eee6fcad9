package pool_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gwinstanley/dbpool/pool"
)

type recordingListener struct {
	mu     sync.Mutex
	kinds  []pool.Kind
	panics bool
}

func (l *recordingListener) OnEvent(e pool.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.panics {
		panic("listener exploded")
	}
	l.kinds = append(l.kinds, e.Kind)
}

func (l *recordingListener) seen() []pool.Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]pool.Kind(nil), l.kinds...)
}

// I6/I7: POOL_RELEASED is the last event, and two listeners see the
// same relative order.
func TestEvents_ReleaseIsLastAndOrderedForAllListeners(t *testing.T) {
	f := &seqFactory{}
	p, err := pool.New[*testResource]("events", f, 0, 2, 2, 0)
	require.NoError(t, err)

	l1 := &recordingListener{}
	l2 := &recordingListener{}
	p.AddListener(l1)
	p.AddListener(l2)

	r1, err := p.CheckOut()
	require.NoError(t, err)
	require.NoError(t, p.CheckIn(r1))

	p.Release(false)

	require.Eventually(t, func() bool {
		k := l1.seen()
		return len(k) > 0 && k[len(k)-1] == pool.PoolReleased
	}, time.Second, 5*time.Millisecond)

	k1 := l1.seen()
	k2 := l2.seen()
	require.Equal(t, k1, k2)
	require.Equal(t, pool.PoolReleased, k1[len(k1)-1])
	for _, k := range k1[:len(k1)-1] {
		require.NotEqual(t, pool.PoolReleased, k)
	}
}

// A panicking listener must not stop later listeners or kill the
// dispatcher.
func TestEvents_PanickingListenerDoesNotStopDispatch(t *testing.T) {
	f := &seqFactory{}
	p, err := pool.New[*testResource]("panicky", f, 0, 1, 1, 0)
	require.NoError(t, err)

	bad := &recordingListener{panics: true}
	good := &recordingListener{}
	p.AddListener(bad)
	p.AddListener(good)

	_, err = p.CheckOut()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(good.seen()) >= 1
	}, time.Second, 5*time.Millisecond)
}

// VALIDATION_ERROR fires when a free entry fails IsValid at check-out.
func TestEvents_ValidationErrorOnInvalidFreeEntry(t *testing.T) {
	f := &seqFactory{}
	p, err := pool.New[*testResource]("validation", f, 0, 1, 1, 0)
	require.NoError(t, err)

	l := &recordingListener{}
	p.AddListener(l)

	r1, err := p.CheckOut()
	require.NoError(t, err)
	require.NoError(t, p.CheckIn(r1))

	f.valid = func(*testResource) bool { return false }
	_, err = p.CheckOut()
	require.ErrorIs(t, err, pool.ErrInvalidNewResource)

	require.Eventually(t, func() bool {
		for _, k := range l.seen() {
			if k == pool.ValidationError {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}
