package ssebridge

import "sync"

// eventQueue is an unbounded FIFO ring buffer between the reassembly logic
// and the channel's subscriber pump. Push never blocks (the ring doubles when
// full), so POST ingestion is never stalled by a slow subscriber; ordering is
// preserved because pushes happen under the owning Channel's lock.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []Event
	head   int
	tail   int
	count  int
	closed bool
}

func newEventQueue(initial int) *eventQueue {
	if initial < 1 {
		initial = 1
	}
	q := &eventQueue{ring: make([]Event, initial)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends ev to the queue. Returns false if the queue is closed.
func (q *eventQueue) push(ev Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if q.count == len(q.ring) {
		q.grow()
	}
	q.ring[q.tail] = ev
	q.tail = (q.tail + 1) % len(q.ring)
	q.count++
	q.cond.Signal()
	return true
}

// receive blocks until an event is available or the queue is closed and
// drained. The second result is false only in the latter case.
func (q *eventQueue) receive() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.count == 0 {
		return Event{}, false
	}

	ev := q.ring[q.head]
	q.ring[q.head] = Event{}
	q.head = (q.head + 1) % len(q.ring)
	q.count--
	return ev, true
}

// close marks the queue closed and wakes all waiting receivers. Events already
// queued remain receivable; discard drops them instead.
func (q *eventQueue) close(discard bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	if discard {
		q.head, q.tail, q.count = 0, 0, 0
	}
	q.cond.Broadcast()
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// grow doubles the ring. Caller holds q.mu.
func (q *eventQueue) grow() {
	next := make([]Event, len(q.ring)*2)
	if q.head < q.tail {
		copy(next, q.ring[q.head:q.tail])
	} else {
		n := copy(next, q.ring[q.head:])
		copy(next[n:], q.ring[:q.tail])
	}
	q.ring = next
	q.head = 0
	q.tail = q.count
}
