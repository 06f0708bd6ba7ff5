package workqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harun/llmsession/internal/observability"
	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by Push and Pop once the queue is closed.
var ErrClosed = errors.New("work queue closed")

// Event types emitted by a Queue.
const (
	EventEnqueued = "enqueued"
	EventDequeued = "dequeued"
	EventClosed   = "closed"
)

// Event describes one queue transition.
type Event struct {
	Type  string
	Name  string
	Depth int
	Wait  time.Duration
}

// EventHandler handles queue events. Handlers run synchronously on the
// goroutine that caused the event and must not call back into the queue.
type EventHandler func(event Event)

type entry[T any] struct {
	item       T
	enqueuedAt time.Time
}

// Queue is an unbounded, concurrency-safe FIFO with a single logical consumer.
type Queue[T any] struct {
	name string

	mu     sync.Mutex
	items  []entry[T]
	notify chan struct{}
	closed bool

	eventHandlers map[string][]EventHandler
	eventMu       sync.RWMutex
}

// New creates an empty queue. name labels metrics and events; it is usually
// the provider the queue feeds.
func New[T any](name string) *Queue[T] {
	observability.EnsureRegistered()

	return &Queue[T]{
		name:          name,
		notify:        make(chan struct{}),
		eventHandlers: make(map[string][]EventHandler),
	}
}

// Name returns the queue label.
func (q *Queue[T]) Name() string {
	return q.name
}

// Push appends item to the tail.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, entry[T]{item: item, enqueuedAt: time.Now()})
	depth := len(q.items)
	q.wakeLocked()
	q.mu.Unlock()

	log.Debug().Str("queue", q.name).Int("depth", depth).Msg("Item enqueued")
	observability.RecordQueueEnqueue(q.name, depth)

	q.emit(Event{Type: EventEnqueued, Name: q.name, Depth: depth})
	return nil
}

// Pop removes and returns the head item, blocking while the queue is empty.
// It returns ctx.Err() if ctx is done first and ErrClosed once the queue is
// closed.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return zero, ErrClosed
		}
		if len(q.items) > 0 {
			head := q.items[0]
			q.items[0] = entry[T]{}
			q.items = q.items[1:]
			depth := len(q.items)
			q.mu.Unlock()

			observability.SetQueueDepth(q.name, depth)
			q.emit(Event{
				Type:  EventDequeued,
				Name:  q.name,
				Depth: depth,
				Wait:  time.Since(head.enqueuedAt),
			})
			return head.item, nil
		}
		wait := q.notify
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the queue and returns the items that were never popped, in
// order. Calling Close again returns nil.
func (q *Queue[T]) Close() []T {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	remaining := make([]T, len(q.items))
	for i, e := range q.items {
		remaining[i] = e.item
	}
	q.items = nil
	q.wakeLocked()
	q.mu.Unlock()

	log.Debug().Str("queue", q.name).Int("remaining", len(remaining)).Msg("Queue closed")
	observability.SetQueueDepth(q.name, 0)

	q.emit(Event{Type: EventClosed, Name: q.name, Depth: len(remaining)})
	return remaining
}

// wakeLocked releases every goroutine blocked in Pop. Must be called with q.mu held.
func (q *Queue[T]) wakeLocked() {
	close(q.notify)
	q.notify = make(chan struct{})
}

// On registers an event handler for a specific event type.
func (q *Queue[T]) On(eventType string, handler EventHandler) {
	q.eventMu.Lock()
	defer q.eventMu.Unlock()

	q.eventHandlers[eventType] = append(q.eventHandlers[eventType], handler)
}

// Off removes all handlers for the event type.
func (q *Queue[T]) Off(eventType string) {
	q.eventMu.Lock()
	defer q.eventMu.Unlock()

	delete(q.eventHandlers, eventType)
}

func (q *Queue[T]) emit(event Event) {
	q.eventMu.RLock()
	handlers := q.eventHandlers[event.Type]
	q.eventMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
