package quic

import (
	"context"
	"net"
)

// Connection is the transport a moqt session runs on: a raw QUIC
// connection, a WebTransport session or an in-memory pair.
type Connection interface {
	// OpenStream and OpenUniStream fail when the peer's stream limit is
	// reached. The Sync variants wait for credit instead.
	OpenStream() (Stream, error)
	OpenStreamSync(ctx context.Context) (Stream, error)
	OpenUniStream() (SendStream, error)
	OpenUniStreamSync(ctx context.Context) (SendStream, error)

	AcceptStream(ctx context.Context) (Stream, error)
	AcceptUniStream(ctx context.Context) (ReceiveStream, error)

	// SendDatagram may drop b. ReceiveDatagram fails when datagrams were
	// not negotiated.
	SendDatagram(b []byte) error
	ReceiveDatagram(ctx context.Context) ([]byte, error)

	// CloseWithError closes the connection. The peer sees an
	// *ApplicationError with Remote set.
	CloseWithError(code ApplicationErrorCode, msg string) error

	// Context is cancelled once the connection is closed.
	Context() context.Context

	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}
