package queue

import (
	"container/heap"
	"time"

	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/model"
)

// item is one entry in the priority heap. Ordering is by descending
// priority, then ascending CreatedAt (older jobs of equal priority dispatch
// first).
type item struct {
	priority  model.JobPriority
	createdAt time.Time
	jobID     string
	index     int
}

// priorityHeap implements container/heap.Interface over item values.
type priorityHeap []*item

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].createdAt.Before(h[j].createdAt)
}

func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *priorityHeap) Push(x interface{}) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *priorityHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

var _ = heap.Interface(&priorityHeap{})
