package moqt

import (
	"container/heap"
	"context"
	"sync"
)

func newScheduler(slots int) *scheduler {
	return &scheduler{
		heap:  newWritePriorityHeap(),
		slots: slots,
	}
}

// scheduler hands out a fixed number of write slots in priority order.
type scheduler struct {
	mu    sync.Mutex
	heap  *writePriorityHeap
	slots int
	seq   uint64
}

func (s *scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heap.Len()
}

// Acquire blocks until a write slot is granted. The returned func releases it.
func (s *scheduler) Acquire(ctx context.Context, subscriberPriority, publisherPriority uint8) (func(), error) {
	s.mu.Lock()
	if s.slots > 0 {
		s.slots--
		s.mu.Unlock()
		return s.release, nil
	}

	req := &writeRequest{
		subscriberPriority: subscriberPriority,
		publisherPriority:  publisherPriority,
		seq:                s.seq,
		ready:              make(chan struct{}),
	}
	s.seq++
	heap.Push(s.heap, req)
	s.mu.Unlock()

	select {
	case <-req.ready:
		return s.release, nil
	case <-ctx.Done():
		s.mu.Lock()
		granted := req.granted
		req.cancelled = true
		s.mu.Unlock()
		if granted {
			s.release()
		}
		return nil, ctx.Err()
	}
}

func (s *scheduler) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.heap.Len() > 0 {
		req := heap.Pop(s.heap).(*writeRequest)
		if req.cancelled {
			continue
		}
		req.granted = true
		close(req.ready)
		return
	}
	s.slots++
}
