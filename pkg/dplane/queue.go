package dplane

import "sync"

// Host is what a provider sees of the control plane while processing: an
// inbound queue bounded per call by WorkLimit, and an outbound side that takes
// every operation back with its verdict.
type Host interface {
	WorkLimit() int
	// Len is the number of operations still waiting to be dequeued.
	Len() int
	Dequeue() (*Operation, bool)
	Enqueue(op *Operation)
	SignalWork()
}

// Queue is a FIFO of pending operations for one provider.
type Queue struct {
	mu      sync.Mutex
	pending []*Operation
	limit   int
	ready   chan struct{}
	done    func(*Operation)
}

// NewQueue returns a queue handing at most limit operations to a provider per
// Process call. done receives every operation the provider enqueues back.
func NewQueue(limit int, done func(*Operation)) *Queue {
	return newQueue(limit, make(chan struct{}, 1), done)
}

func newQueue(limit int, ready chan struct{}, done func(*Operation)) *Queue {
	if limit <= 0 {
		limit = 1
	}
	return &Queue{
		limit: limit,
		ready: ready,
		done:  done,
	}
}

// Push appends op and wakes whoever waits on Ready.
func (q *Queue) Push(op *Operation) {
	q.mu.Lock()
	q.pending = append(q.pending, op)
	q.mu.Unlock()
	q.SignalWork()
}

// Ready fires at least once after work becomes available.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) WorkLimit() int {
	return q.limit
}

func (q *Queue) Dequeue() (*Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil, false
	}
	op := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return op, true
}

func (q *Queue) Enqueue(op *Operation) {
	if q.done != nil {
		q.done(op)
	}
}

func (q *Queue) SignalWork() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
