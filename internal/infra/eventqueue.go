package infra

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueComplete is returned by Next once a completed queue drains.
var ErrQueueComplete = errors.New("event queue completed")

// EventQueue bridges push-style producers (bus subscriptions, stream
// callbacks) into pull-style consumption. Producers call Push without
// blocking; consumers call Next, which blocks while the queue is empty.
//
// Complete and Fail are terminal and idempotent. Buffered items are always
// delivered before a terminal error is observed. Cancel drops the buffer
// and discards all future pushes.
type EventQueue[T any] struct {
	mu       sync.Mutex
	buf      []T
	err      error
	done     bool
	canceled bool
	wake     chan struct{}
}

// NewEventQueue creates an empty event queue.
func NewEventQueue[T any]() *EventQueue[T] {
	return &EventQueue[T]{wake: make(chan struct{})}
}

// Push appends an event. Pushes after Complete, Fail, or Cancel are
// discarded.
func (q *EventQueue[T]) Push(v T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.done || q.err != nil || q.canceled {
		return
	}
	q.buf = append(q.buf, v)
	q.wakeLocked()
}

// Complete marks the end of the stream. Buffered events remain readable.
func (q *EventQueue[T]) Complete() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.done || q.err != nil {
		return
	}
	q.done = true
	q.wakeLocked()
}

// Fail terminates the stream with err. Buffered events drain before the
// error is observed by consumers.
func (q *EventQueue[T]) Fail(err error) {
	if err == nil {
		q.Complete()
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.done || q.err != nil {
		return
	}
	q.err = err
	q.wakeLocked()
}

// Cancel abandons consumption: the buffer is dropped and future pushes
// are discarded.
func (q *EventQueue[T]) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.canceled = true
	q.buf = nil
	q.wakeLocked()
}

// Next returns the next event. It blocks while the queue is empty and
// live. After the buffer drains it returns the terminal error, or
// ErrQueueComplete for a cleanly completed queue.
func (q *EventQueue[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.buf) > 0 {
			v := q.buf[0]
			q.buf = q.buf[1:]
			q.mu.Unlock()
			return v, nil
		}
		if q.err != nil {
			err := q.err
			q.mu.Unlock()
			return zero, err
		}
		if q.done || q.canceled {
			q.mu.Unlock()
			return zero, ErrQueueComplete
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-wake:
		}
	}
}

// wakeLocked must be called with the mutex held.
func (q *EventQueue[T]) wakeLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}
