package quic

import (
	"io"
	"time"

	"github.com/quic-go/quic-go"
)

type StreamID = quic.StreamID

// SendStream is the sending half of a stream. Close ends it with FIN and
// CancelWrite resets it.
type SendStream interface {
	io.WriteCloser
	StreamID() StreamID
	CancelWrite(StreamErrorCode)
	SetWriteDeadline(time.Time) error
}

// ReceiveStream is the receiving half of a stream. Read returns io.EOF
// after FIN and a *StreamError after a reset. CancelRead sends
// STOP_SENDING.
type ReceiveStream interface {
	io.Reader
	StreamID() StreamID
	CancelRead(StreamErrorCode)
	SetReadDeadline(time.Time) error
}

// Stream is a bidirectional stream, such as the MoQT control stream.
type Stream interface {
	SendStream
	ReceiveStream
	SetDeadline(time.Time) error
}
