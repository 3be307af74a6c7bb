package moqt

import (
	"container/heap"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWritePriorityHeap(t *testing.T) {
	tests := map[string]struct {
		requests []*writeRequest
		want     []uint64 // seq in pop order
	}{
		"subscriber priority first": {
			requests: []*writeRequest{
				{subscriberPriority: 1, publisherPriority: 9, seq: 0},
				{subscriberPriority: 5, publisherPriority: 0, seq: 1},
				{subscriberPriority: 3, publisherPriority: 0, seq: 2},
			},
			want: []uint64{1, 2, 0},
		},
		"publisher priority breaks ties": {
			requests: []*writeRequest{
				{subscriberPriority: 2, publisherPriority: 1, seq: 0},
				{subscriberPriority: 2, publisherPriority: 7, seq: 1},
			},
			want: []uint64{1, 0},
		},
		"oldest request among equals": {
			requests: []*writeRequest{
				{subscriberPriority: 4, publisherPriority: 4, seq: 2},
				{subscriberPriority: 4, publisherPriority: 4, seq: 0},
				{subscriberPriority: 4, publisherPriority: 4, seq: 1},
			},
			want: []uint64{0, 1, 2},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			h := newWritePriorityHeap()
			for _, req := range tt.requests {
				heap.Push(h, req)
			}
			assert.Equal(t, len(tt.requests), h.Len())

			var got []uint64
			for h.Len() > 0 {
				got = append(got, heap.Pop(h).(*writeRequest).seq)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
