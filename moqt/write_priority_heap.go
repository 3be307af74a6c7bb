package moqt

import "container/heap"

// writeRequest is a data channel write waiting for a write slot.
type writeRequest struct {
	subscriberPriority uint8
	publisherPriority  uint8
	seq                uint64
	ready              chan struct{}
	granted            bool
	cancelled          bool
}

func newWritePriorityHeap() *writePriorityHeap {
	h := &writePriorityHeap{
		queue: make([]*writeRequest, 0),
	}

	heap.Init(h)

	return h
}

// writePriorityHeap pops the highest subscriber priority first,
// then the highest publisher priority, then the oldest request.
type writePriorityHeap struct {
	queue []*writeRequest
}

func (h *writePriorityHeap) Len() int {
	return len(h.queue)
}

func (h *writePriorityHeap) Less(i, j int) bool {
	a, b := h.queue[i], h.queue[j]
	if a.subscriberPriority != b.subscriberPriority {
		return a.subscriberPriority > b.subscriberPriority
	}
	if a.publisherPriority != b.publisherPriority {
		return a.publisherPriority > b.publisherPriority
	}
	return a.seq < b.seq
}

func (h *writePriorityHeap) Swap(i, j int) {
	h.queue[i], h.queue[j] = h.queue[j], h.queue[i]
}

func (h *writePriorityHeap) Push(x interface{}) {
	h.queue = append(h.queue, x.(*writeRequest))
}

func (h *writePriorityHeap) Pop() interface{} {
	old := h.queue
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	h.queue = old[0 : n-1]
	return x
}
