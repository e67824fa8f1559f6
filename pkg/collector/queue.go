package collector

import "sync"

// item is one queued telemetry payload, already carrying its envelope.
type item map[string]any

// queue accumulates items for a single channel. It only stores; flush
// scheduling lives on the collector so that the size trigger, the interval
// tick, and forced flushes all drain through one dispatch path.
type queue struct {
	mu    sync.Mutex
	items []item
	max   int
}

func newQueue(max int) *queue {
	return &queue{max: max}
}

// add appends and, when the size threshold is reached, detaches the full
// batch for immediate dispatch.
func (q *queue) add(it item) ([]item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, it)
	if len(q.items) >= q.max {
		return q.detachLocked(), true
	}
	return nil, false
}

// requeue puts a detached batch back at the head of the queue, ahead of
// anything added since it was drained.
func (q *queue) requeue(batch []item) {
	if len(batch) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(batch, q.items...)
	q.mu.Unlock()
}

// drain detaches whatever is queued.
func (q *queue) drain() []item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.detachLocked()
}

func (q *queue) detachLocked() []item {
	if len(q.items) == 0 {
		return nil
	}
	batch := q.items
	q.items = nil
	return batch
}
