package memquic

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/okdaichi/moqtransport/quic"
)

var errWriteAfterClose = errors.New("memquic: write on closed stream")

// pipe is one direction of a stream.
type pipe struct {
	id quic.StreamID

	// window bounds the unread bytes when positive.
	window int

	mu     sync.Mutex
	buf    bytes.Buffer
	fin    bool
	reset  *quic.StreamErrorCode // set by the writer
	stop   *quic.StreamErrorCode // set by the reader
	signal chan struct{}

	readDeadline  time.Time
	writeDeadline time.Time

	// Contexts of the two connection ends.
	readerCtx context.Context
	writerCtx context.Context
}

func newPipe(id quic.StreamID, writerCtx, readerCtx context.Context) *pipe {
	return &pipe{
		id:        id,
		signal:    make(chan struct{}),
		readerCtx: readerCtx,
		writerCtx: writerCtx,
	}
}

// broadcast must be called with mu held.
func (p *pipe) broadcast() {
	close(p.signal)
	p.signal = make(chan struct{})
}

func (p *pipe) read(b []byte) (int, error) {
	for {
		p.mu.Lock()
		if p.stop != nil {
			code := *p.stop
			p.mu.Unlock()
			return 0, &quic.StreamError{StreamID: p.id, ErrorCode: code, Remote: false}
		}
		if p.reset != nil {
			code := *p.reset
			p.mu.Unlock()
			return 0, &quic.StreamError{StreamID: p.id, ErrorCode: code, Remote: true}
		}
		if p.buf.Len() > 0 {
			n, _ := p.buf.Read(b)
			p.broadcast()
			p.mu.Unlock()
			return n, nil
		}
		if p.fin {
			p.mu.Unlock()
			return 0, io.EOF
		}
		if err := context.Cause(p.readerCtx); err != nil {
			p.mu.Unlock()
			return 0, err
		}
		deadline := p.readDeadline
		signal := p.signal
		p.mu.Unlock()

		if err := wait(p.readerCtx, signal, deadline); err != nil {
			return 0, err
		}
	}
}

// write blocks while the window is full.
func (p *pipe) write(b []byte) (int, error) {
	var written int
	for {
		p.mu.Lock()
		if p.stop != nil {
			p.mu.Unlock()
			return written, &quic.StreamError{StreamID: p.id, ErrorCode: *p.stop, Remote: true}
		}
		if p.reset != nil {
			p.mu.Unlock()
			return written, &quic.StreamError{StreamID: p.id, ErrorCode: *p.reset, Remote: false}
		}
		if p.fin {
			p.mu.Unlock()
			return written, errWriteAfterClose
		}
		if err := context.Cause(p.writerCtx); err != nil {
			p.mu.Unlock()
			return written, err
		}
		deadline := p.writeDeadline
		if !deadline.IsZero() && time.Now().After(deadline) {
			p.mu.Unlock()
			return written, os.ErrDeadlineExceeded
		}

		chunk := b[written:]
		if p.window > 0 {
			space := p.window - p.buf.Len()
			if space < len(chunk) {
				chunk = chunk[:max(space, 0)]
			}
		}
		if len(chunk) > 0 {
			p.buf.Write(chunk)
			written += len(chunk)
			p.broadcast()
		}
		if written == len(b) {
			p.mu.Unlock()
			return written, nil
		}
		signal := p.signal
		p.mu.Unlock()

		if err := wait(p.writerCtx, signal, deadline); err != nil {
			return written, err
		}
	}
}

func (p *pipe) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.reset != nil {
		return errWriteAfterClose
	}
	p.fin = true
	p.broadcast()
	return nil
}

func (p *pipe) cancelWrite(code quic.StreamErrorCode) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.reset != nil || p.fin && p.buf.Len() == 0 {
		return
	}
	p.reset = &code
	p.buf.Reset()
	p.broadcast()
}

func (p *pipe) cancelRead(code quic.StreamErrorCode) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stop != nil {
		return
	}
	p.stop = &code
	p.buf.Reset()
	p.broadcast()
}

func (p *pipe) setReadDeadline(t time.Time) {
	p.mu.Lock()
	p.readDeadline = t
	p.broadcast()
	p.mu.Unlock()
}

func (p *pipe) setWriteDeadline(t time.Time) {
	p.mu.Lock()
	p.writeDeadline = t
	p.broadcast()
	p.mu.Unlock()
}

func wait(ctx context.Context, signal <-chan struct{}, deadline time.Time) error {
	var timeout <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return os.ErrDeadlineExceeded
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-signal:
		return nil
	case <-ctx.Done():
		return nil // the caller reports the cause
	case <-timeout:
		return os.ErrDeadlineExceeded
	}
}
