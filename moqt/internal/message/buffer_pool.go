package message

import "sync"

const maxPooledCapacity = 64 << 10

var bufferPool = &sync.Pool{
	New: func() any {
		buf := make([]byte, 0, 1<<10)
		return &buf
	},
}

// getBuffer returns an empty buffer from the pool.
func getBuffer() *[]byte {
	b := bufferPool.Get().(*[]byte)
	*b = (*b)[:0]
	return b
}

// putBuffer returns b to the pool. Oversized buffers are dropped.
func putBuffer(b *[]byte) {
	if cap(*b) > maxPooledCapacity {
		return
	}
	*b = (*b)[:0]
	bufferPool.Put(b)
}
