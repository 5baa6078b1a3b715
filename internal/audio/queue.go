package audio

import "sync"

// ChunkQueue is an unbounded FIFO of PCM chunks. Push never blocks, so device
// callbacks can hand off audio without waiting on the consumer. Bounding is
// done by the consumer through DrainLatest and Backlog.
type ChunkQueue struct {
	mu     sync.Mutex
	items  [][]int16
	closed bool
	ready  chan struct{}
}

// NewChunkQueue creates an empty open queue
func NewChunkQueue() *ChunkQueue {
	return &ChunkQueue{ready: make(chan struct{}, 1)}
}

// Push appends a chunk. Pushing to a closed queue is a no-op.
func (q *ChunkQueue) Push(chunk []int16) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, chunk)
	q.mu.Unlock()
	q.signal()
}

// Close marks the end of the stream. Queued chunks remain receivable.
func (q *ChunkQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Ready fires when a chunk or the close marker may be available
func (q *ChunkQueue) Ready() <-chan struct{} {
	return q.ready
}

// TryRecv pops the oldest chunk without blocking. closed is true only once the
// queue is closed and fully drained.
func (q *ChunkQueue) TryRecv() (chunk []int16, ok bool, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false, q.closed
	}
	chunk = q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) > 0 || q.closed {
		select {
		case q.ready <- struct{}{}:
		default:
		}
	}
	return chunk, true, false
}

// Len returns the number of queued chunks
func (q *ChunkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *ChunkQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
