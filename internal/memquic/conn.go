// Package memquic provides an in-memory quic.Connection pair.
//
// Streams preserve byte order, support resets in both directions and
// deadlines. A positive Conn.StreamWindow bounds the unread bytes of each
// outgoing stream, so Write blocks until the peer reads. Datagrams are delivered through a bounded queue and dropped
// when it is full. Closing either end closes both.
package memquic

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/okdaichi/moqtransport/quic"
)

const (
	acceptQueueSize   = 256
	datagramQueueSize = 256
)

var ErrStreamLimit = errors.New("memquic: too many pending streams")

type addr string

func (a addr) Network() string { return "memquic" }
func (a addr) String() string  { return string(a) }

// Pair returns two connected ends: a client and a server.
func Pair() (client, server *Conn) {
	client = newConn(addr("client"), true)
	server = newConn(addr("server"), false)
	client.peer = server
	server.peer = client
	return client, server
}

var _ quic.Connection = (*Conn)(nil)

// Conn is one end of an in-memory connection.
type Conn struct {
	local    net.Addr
	isClient bool
	peer     *Conn

	ctx    context.Context
	cancel context.CancelCauseFunc

	mu        sync.Mutex
	nextBiID  quic.StreamID
	nextUniID quic.StreamID

	biQueue   chan *Stream
	uniQueue  chan *ReceiveStream
	datagrams chan []byte

	closeOnce sync.Once

	// DropDatagrams discards outgoing datagrams when set.
	DropDatagrams bool

	// MaxDatagramSize rejects larger outgoing datagrams when positive.
	MaxDatagramSize int

	// StreamWindow is the flow control window of streams opened after it is
	// set. Zero means unbounded.
	StreamWindow int
}

func newConn(local net.Addr, isClient bool) *Conn {
	ctx, cancel := context.WithCancelCause(context.Background())
	c := &Conn{
		local:     local,
		isClient:  isClient,
		ctx:       ctx,
		cancel:    cancel,
		biQueue:   make(chan *Stream, acceptQueueSize),
		uniQueue:  make(chan *ReceiveStream, acceptQueueSize),
		datagrams: make(chan []byte, datagramQueueSize),
	}
	// RFC 9000 stream id layout
	if isClient {
		c.nextBiID, c.nextUniID = 0, 2
	} else {
		c.nextBiID, c.nextUniID = 1, 3
	}
	return c
}

func (c *Conn) allocateID(uni bool) quic.StreamID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if uni {
		id := c.nextUniID
		c.nextUniID += 4
		return id
	}
	id := c.nextBiID
	c.nextBiID += 4
	return id
}

func (c *Conn) AcceptStream(ctx context.Context) (quic.Stream, error) {
	select {
	case str := <-c.biQueue:
		return str, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, context.Cause(c.ctx)
	}
}

func (c *Conn) AcceptUniStream(ctx context.Context) (quic.ReceiveStream, error) {
	select {
	case str := <-c.uniQueue:
		return str, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, context.Cause(c.ctx)
	}
}

func (c *Conn) OpenStream() (quic.Stream, error) {
	if err := context.Cause(c.ctx); err != nil {
		return nil, err
	}

	id := c.allocateID(false)
	out := newPipe(id, c.ctx, c.peer.ctx)
	out.window = c.StreamWindow
	in := newPipe(id, c.peer.ctx, c.ctx)
	in.window = c.peer.StreamWindow

	local := &Stream{SendStream: SendStream{p: out}, ReceiveStream: ReceiveStream{p: in}}
	remote := &Stream{SendStream: SendStream{p: in}, ReceiveStream: ReceiveStream{p: out}}

	select {
	case c.peer.biQueue <- remote:
		return local, nil
	default:
		return nil, ErrStreamLimit
	}
}

func (c *Conn) OpenStreamSync(ctx context.Context) (quic.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.OpenStream()
}

func (c *Conn) OpenUniStream() (quic.SendStream, error) {
	if err := context.Cause(c.ctx); err != nil {
		return nil, err
	}

	id := c.allocateID(true)
	p := newPipe(id, c.ctx, c.peer.ctx)
	p.window = c.StreamWindow

	select {
	case c.peer.uniQueue <- &ReceiveStream{p: p}:
		return &SendStream{p: p}, nil
	default:
		return nil, ErrStreamLimit
	}
}

func (c *Conn) OpenUniStreamSync(ctx context.Context) (quic.SendStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.OpenUniStream()
}

func (c *Conn) SendDatagram(b []byte) error {
	if err := context.Cause(c.ctx); err != nil {
		return err
	}
	if c.MaxDatagramSize > 0 && len(b) > c.MaxDatagramSize {
		return &quic.DatagramTooLargeError{MaxDatagramPayloadSize: int64(c.MaxDatagramSize)}
	}
	if c.DropDatagrams {
		return nil
	}

	cp := make([]byte, len(b))
	copy(cp, b)

	select {
	case c.peer.datagrams <- cp:
	default:
		// Datagrams are unreliable
	}
	return nil
}

func (c *Conn) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	select {
	case b := <-c.datagrams:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, context.Cause(c.ctx)
	}
}

// CloseWithError closes both ends. The peer observes a remote ApplicationError.
func (c *Conn) CloseWithError(code quic.ApplicationErrorCode, msg string) error {
	c.closeOnce.Do(func() {
		c.cancel(&quic.ApplicationError{ErrorCode: code, ErrorMessage: msg, Remote: false})
		c.peer.closeOnce.Do(func() {
			c.peer.cancel(&quic.ApplicationError{ErrorCode: code, ErrorMessage: msg, Remote: true})
		})
	})
	return nil
}

func (c *Conn) Context() context.Context {
	return c.ctx
}

func (c *Conn) LocalAddr() net.Addr {
	return c.local
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.peer.local
}

var _ quic.SendStream = (*SendStream)(nil)

// SendStream is the sending half of an in-memory stream.
type SendStream struct {
	p *pipe
}

func (s *SendStream) StreamID() quic.StreamID            { return s.p.id }
func (s *SendStream) Write(b []byte) (int, error)        { return s.p.write(b) }
func (s *SendStream) Close() error                       { return s.p.close() }
func (s *SendStream) CancelWrite(code quic.StreamErrorCode) { s.p.cancelWrite(code) }
func (s *SendStream) SetWriteDeadline(t time.Time) error {
	s.p.setWriteDeadline(t)
	return nil
}

var _ quic.ReceiveStream = (*ReceiveStream)(nil)

// ReceiveStream is the receiving half of an in-memory stream.
type ReceiveStream struct {
	p *pipe
}

func (s *ReceiveStream) StreamID() quic.StreamID             { return s.p.id }
func (s *ReceiveStream) Read(b []byte) (int, error)          { return s.p.read(b) }
func (s *ReceiveStream) CancelRead(code quic.StreamErrorCode) { s.p.cancelRead(code) }
func (s *ReceiveStream) SetReadDeadline(t time.Time) error {
	s.p.setReadDeadline(t)
	return nil
}

var _ quic.Stream = (*Stream)(nil)

// Stream is a bidirectional in-memory stream.
type Stream struct {
	SendStream
	ReceiveStream
}

func (s *Stream) StreamID() quic.StreamID { return s.SendStream.StreamID() }

func (s *Stream) SetDeadline(t time.Time) error {
	s.SendStream.SetWriteDeadline(t)
	return s.ReceiveStream.SetReadDeadline(t)
}
