// Package quic defines the transport boundary consumed by the moqt package.
//
// The moqt engine needs a small capability set from its transport: open and
// accept bidirectional and unidirectional streams, reset a stream in either
// direction, send and receive unreliable datagrams, and close the connection
// with an application error code. Connection, Stream, SendStream and
// ReceiveStream describe exactly that set.
//
// # Implementations
//
//   - quicgo subpackage: raw QUIC over github.com/quic-go/quic-go
//   - webtransportgo package: WebTransport sessions over github.com/quic-go/webtransport-go
//
// Errors are aliases of the quic-go types so that stream resets and
// connection closes can be inspected with errors.As regardless of the
// implementation:
//
//	var strErr *quic.StreamError
//	if errors.As(err, &strErr) {
//	    // the peer reset the stream with strErr.ErrorCode
//	}
//
// For more information about QUIC, see RFC 9000:
// https://datatracker.ietf.org/doc/html/rfc9000
package quic
