package notify

import (
	"errors"
	"sync"
)

var (
	ErrSinkFull   = errors.New("sink buffer full")
	ErrSinkClosed = errors.New("sink closed")
)

// queue hands values to one worker goroutine. push never blocks the caller:
// a full buffer refuses the value.
type queue[T any] struct {
	handle func(T)
	finish func()

	once   sync.Once
	mu     sync.RWMutex
	closed bool
	inbox  chan T
	done   chan struct{}
}

func newQueue[T any](buf int, handle func(T), finish func()) *queue[T] {
	if buf <= 0 {
		buf = 1
	}
	return &queue[T]{
		handle: handle,
		finish: finish,
		inbox:  make(chan T, buf),
		done:   make(chan struct{}),
	}
}

func (q *queue[T]) start() {
	q.once.Do(func() { go q.run() })
}

func (q *queue[T]) run() {
	defer close(q.done)
	for v := range q.inbox {
		q.handle(v)
	}
	if q.finish != nil {
		q.finish()
	}
}

func (q *queue[T]) push(v T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrSinkClosed
	}
	select {
	case q.inbox <- v:
		return nil
	default:
		return ErrSinkFull
	}
}

// close stops accepting values, drains what is queued and waits for the
// worker. A queue that was never started is drained here.
func (q *queue[T]) close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.inbox)
	}
	q.mu.Unlock()
	q.start()
	<-q.done
}
