package quicgo

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/okdaichi/moqtransport/quic"
	quicgo_quicgo "github.com/quic-go/quic-go"
)

var _ quic.ListenAddrFunc = ListenAddr

// ListenAddr accepts raw QUIC connections on addr. Like DialAddr it offers
// NextProtoMOQ unless tlsConfig names its own ALPN.
func ListenAddr(addr string, tlsConfig *tls.Config, quicConfig *quic.Config) (quic.Listener, error) {
	ln, err := quicgo_quicgo.ListenAddr(addr, withALPN(tlsConfig), quicConfig)
	if err != nil {
		return nil, err
	}
	return listener{ln}, nil
}

type listener struct {
	ln *quicgo_quicgo.Listener
}

func (l listener) Accept(ctx context.Context) (quic.Connection, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return WrapConnection(conn), nil
}

func (l listener) Addr() net.Addr { return l.ln.Addr() }

func (l listener) Close() error { return l.ln.Close() }
