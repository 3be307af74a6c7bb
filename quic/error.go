package quic

import "github.com/quic-go/quic-go"

// Error codes carried by connection closes and stream resets.
type (
	ApplicationErrorCode = quic.ApplicationErrorCode
	StreamErrorCode      = quic.StreamErrorCode
)

// ApplicationError is the error of a connection closed with CLOSE_CONNECTION
// of type application. Remote reports whether the peer closed it.
type ApplicationError = quic.ApplicationError

// StreamError is returned by Read and Write after the peer reset the
// stream, and by the local side after CancelRead or CancelWrite.
type StreamError = quic.StreamError

// TransportError is a connection failure at the QUIC layer.
type TransportError = quic.TransportError

// IdleTimeoutError and HandshakeTimeoutError end a connection that stopped
// making progress.
type (
	IdleTimeoutError      = quic.IdleTimeoutError
	HandshakeTimeoutError = quic.HandshakeTimeoutError
)

// DatagramTooLargeError is returned by SendDatagram for a payload that does
// not fit in one packet.
type DatagramTooLargeError = quic.DatagramTooLargeError
