package sensors

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// subscriberBuffer is the number of events a slow subscriber may fall behind
// before events are dropped for it.
const subscriberBuffer = 16

// feed fans events out to subscribers. Sends never block: a subscriber with a
// full buffer misses the event.
type feed[T any] struct {
	mu          sync.Mutex
	subscribers map[string]chan T
	closed      bool
}

func newFeed[T any]() *feed[T] {
	return &feed[T]{subscribers: make(map[string]chan T)}
}

func (f *feed[T]) subscribe() (string, <-chan T) {
	id := uuid.NewString()
	ch := make(chan T, subscriberBuffer)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return id, ch
	}
	f.subscribers[id] = ch
	return id, ch
}

func (f *feed[T]) unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subscribers[id]; ok {
		close(ch)
		delete(f.subscribers, id)
	}
}

func (f *feed[T]) publish(ev T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (f *feed[T]) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}

func (f *feed[T]) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subscribers {
		close(ch)
		delete(f.subscribers, id)
	}
}

// throttle admits at most one event per interval.
type throttle struct {
	interval time.Duration
	last     time.Time
}

func (t *throttle) allow(now time.Time) bool {
	if t.interval > 0 && !t.last.IsZero() && now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	return true
}
