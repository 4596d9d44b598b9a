package capture

import "sync"

// pcmQueue hands master blocks from the render path to a writer goroutine.
// push never blocks; the writer takes everything queued in one batch.
type pcmQueue struct {
	mu     sync.Mutex
	items  [][]int16
	closed bool
	ready  chan struct{}
}

func newPCMQueue() *pcmQueue {
	return &pcmQueue{ready: make(chan struct{}, 1)}
}

// push queues pcm. It reports false once the queue is closed.
func (q *pcmQueue) push(pcm []int16) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, pcm)
	q.mu.Unlock()
	q.wake()
	return true
}

// close stops accepting blocks. Queued blocks are still delivered by next.
// It reports false if the queue was already closed.
func (q *pcmQueue) close() bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.closed = true
	q.mu.Unlock()
	q.wake()
	return true
}

func (q *pcmQueue) wake() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// next blocks until blocks are queued or the queue is closed and drained.
func (q *pcmQueue) next() ([][]int16, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			batch := q.items
			q.items = nil
			q.mu.Unlock()
			return batch, true
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		q.mu.Unlock()
		<-q.ready
	}
}

// pending returns the number of queued blocks.
func (q *pcmQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
