package webtransportgo

import (
	"time"

	"github.com/okdaichi/moqtransport/quic"
	quicgo_webtransportgo "github.com/quic-go/webtransport-go"
)

// webtransport-go streams use their own error code type. The wrappers
// convert codes and map errors with wrapError.

var (
	_ quic.Stream        = (*bidiStream)(nil)
	_ quic.SendStream    = (*sendStream)(nil)
	_ quic.ReceiveStream = (*receiveStream)(nil)
)

type sendStream struct {
	w quicgo_webtransportgo.SendStream
}

func (s sendStream) StreamID() quic.StreamID { return s.w.StreamID() }

func (s sendStream) Write(b []byte) (int, error) {
	n, err := s.w.Write(b)
	return n, wrapError(err)
}

func (s sendStream) Close() error { return wrapError(s.w.Close()) }

func (s sendStream) CancelWrite(code quic.StreamErrorCode) {
	s.w.CancelWrite(quicgo_webtransportgo.StreamErrorCode(code))
}

func (s sendStream) SetWriteDeadline(t time.Time) error { return s.w.SetWriteDeadline(t) }

type receiveStream struct {
	r quicgo_webtransportgo.ReceiveStream
}

func (s receiveStream) StreamID() quic.StreamID { return s.r.StreamID() }

func (s receiveStream) Read(b []byte) (int, error) {
	n, err := s.r.Read(b)
	return n, wrapError(err)
}

func (s receiveStream) CancelRead(code quic.StreamErrorCode) {
	s.r.CancelRead(quicgo_webtransportgo.StreamErrorCode(code))
}

func (s receiveStream) SetReadDeadline(t time.Time) error { return s.r.SetReadDeadline(t) }

type bidiStream struct {
	sendStream
	receiveStream
	stream quicgo_webtransportgo.Stream
}

func newBidiStream(s quicgo_webtransportgo.Stream) *bidiStream {
	return &bidiStream{
		sendStream:    sendStream{w: s},
		receiveStream: receiveStream{r: s},
		stream:        s,
	}
}

func (s *bidiStream) StreamID() quic.StreamID { return s.stream.StreamID() }

func (s *bidiStream) SetDeadline(t time.Time) error { return s.stream.SetDeadline(t) }
