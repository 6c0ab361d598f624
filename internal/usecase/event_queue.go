package usecase

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type queuedEvent struct {
	name string
	run  func(ctx context.Context) error
}

// eventQueue buffers exchange callbacks so that they are handled outside the
// gateway call that produced them. It never blocks producers.
type eventQueue struct {
	mu      sync.Mutex
	items   []queuedEvent
	wake    chan struct{}
	closed  bool
	stopped chan struct{}
	logger  *zap.Logger
}

func newEventQueue(logger *zap.Logger) *eventQueue {
	return &eventQueue{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
		logger:  logger,
	}
}

func (q *eventQueue) push(name string, run func(ctx context.Context) error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, queuedEvent{name: name, run: run})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue) pop() (queuedEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return queuedEvent{}, false
	}
	e := q.items[0]
	q.items[0] = queuedEvent{}
	q.items = q.items[1:]
	return e, true
}

func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.stopped)
	}
}

// drain handles every queued event. Failures are logged per event.
func (q *eventQueue) drain(ctx context.Context) {
	for {
		e, ok := q.pop()
		if !ok {
			return
		}
		if err := e.run(ctx); err != nil {
			q.logger.Error("Failed to handle exchange event", zap.String("event", e.name), zap.Error(err))
		}
	}
}

func (q *eventQueue) run(ctx context.Context) {
	for {
		q.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-q.stopped:
			return
		case <-q.wake:
		}
	}
}
