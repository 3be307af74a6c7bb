package moqt

import (
	"context"
	"sync"
)

// pending is a request awaiting a single reply from the peer.
type pending[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

func newPending[T any]() *pending[T] {
	return &pending[T]{done: make(chan struct{})}
}

func (p *pending[T]) resolve(v T, err error) bool {
	resolved := false
	p.once.Do(func() {
		p.val, p.err = v, err
		close(p.done)
		resolved = true
	})
	return resolved
}

// wait blocks until the reply, ctx or the session ends.
func (p *pending[T]) wait(ctx, session context.Context) (T, error) {
	select {
	case <-p.done:
		return p.val, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-session.Done():
		var zero T
		return zero, context.Cause(session)
	}
}
