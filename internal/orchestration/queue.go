package orchestration

import (
	"container/heap"
	"sync"

	"github.com/nucleus/fluxion/internal/core"
)

// Queue orders extraction requests: live before recovery, FIFO within a
// mode. It is safe for concurrent use and serves as the reconciliation
// recovery sink.
type Queue struct {
	mu    sync.Mutex
	items queueHeap
	seq   uint64
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue adds a request.
func (q *Queue) Enqueue(req core.ExtractionRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	heap.Push(&q.items, queued{req: req, priority: priority(req.Mode), seq: q.seq})
}

// Pop removes the next request.
func (q *Queue) Pop() (core.ExtractionRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return core.ExtractionRequest{}, false
	}
	return heap.Pop(&q.items).(queued).req, true
}

// Drain removes and returns every queued request in order.
func (q *Queue) Drain() []core.ExtractionRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]core.ExtractionRequest, 0, len(q.items))
	for len(q.items) > 0 {
		out = append(out, heap.Pop(&q.items).(queued).req)
	}
	return out
}

// Len returns the number of queued requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func priority(m core.Mode) int {
	if m == core.ModeRecovery {
		return 1
	}
	return 0
}

type queued struct {
	req      core.ExtractionRequest
	priority int
	seq      uint64
}

type queueHeap []queued

func (h queueHeap) Len() int { return len(h) }
func (h queueHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h queueHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *queueHeap) Push(x any)   { *h = append(*h, x.(queued)) }
func (h *queueHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
