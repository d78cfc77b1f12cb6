package notify

// eventQueue is the FIFO of decoded events not yet handed to the caller.
// Order always equals kernel delivery order.
type eventQueue struct {
	items []Event
	head  int
}

func (q *eventQueue) len() int { return len(q.items) - q.head }

func (q *eventQueue) push(evs ...Event) {
	if q.head > 0 && q.head == len(q.items) {
		q.reset()
	}
	q.items = append(q.items, evs...)
}

func (q *eventQueue) pop() (Event, bool) {
	if q.len() == 0 {
		return nil, false
	}
	ev := q.items[q.head]
	q.items[q.head] = nil
	q.head++
	if q.head == len(q.items) {
		q.reset()
	}
	return ev, true
}

// drain returns every queued event and empties the queue.
func (q *eventQueue) drain() []Event {
	out := make([]Event, q.len())
	copy(out, q.items[q.head:])
	q.reset()
	return out
}

// reset drops all queued events.
func (q *eventQueue) reset() {
	clear(q.items)
	q.items = q.items[:0]
	q.head = 0
}
