package quic

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/quic-go/quic-go"
)

// Config is the quic-go configuration. Set EnableDatagrams for sessions
// that publish or receive objects as datagrams.
type Config = quic.Config

// DialAddrFunc dials addr and returns the established connection.
type DialAddrFunc func(ctx context.Context, addr string, tlsConfig *tls.Config, quicConfig *Config) (Connection, error)

// ListenAddrFunc starts a Listener on addr.
type ListenAddrFunc func(addr string, tlsConfig *tls.Config, quicConfig *Config) (Listener, error)

// Listener hands out incoming connections until it is closed.
type Listener interface {
	Accept(ctx context.Context) (Connection, error)
	Addr() net.Addr
	Close() error
}
