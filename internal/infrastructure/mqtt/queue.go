package mqtt

import "sync"

// inboundQueue is an unbounded FIFO between paho's router and Run.
//
// push never blocks and never drops. ready holds at most one pending
// wake-up for the consumer.
type inboundQueue struct {
	mu    sync.Mutex
	items []Message
	ready chan struct{}

	// warnAt is the backlog that triggers a single warning until the queue
	// drains again.
	warnAt int
	warned bool
}

func newInboundQueue(warnAt int) *inboundQueue {
	return &inboundQueue{
		items:  make([]Message, 0, warnAt),
		ready:  make(chan struct{}, 1),
		warnAt: warnAt,
	}
}

// push appends msg and wakes the consumer. It reports the new backlog and
// whether this push crossed the warning threshold.
func (q *inboundQueue) push(msg Message) (backlog int, crossed bool) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	backlog = len(q.items)
	if backlog > q.warnAt && !q.warned {
		q.warned = true
		crossed = true
	}
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return backlog, crossed
}

// pop removes the oldest message. ok is false when the queue is empty.
func (q *inboundQueue) pop() (msg Message, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Message{}, false
	}
	msg = q.items[0]
	q.items[0] = Message{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = q.items[:0:0]
		q.warned = false
	}
	return msg, true
}
