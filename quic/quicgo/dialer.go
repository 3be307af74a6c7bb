package quicgo

import (
	"context"
	"crypto/tls"

	"github.com/okdaichi/moqtransport/quic"
	quicgo_quicgo "github.com/quic-go/quic-go"
)

// NextProtoMOQ is the ALPN token for MoQT over raw QUIC.
const NextProtoMOQ = "moq-00"

var _ quic.DialAddrFunc = DialAddr

// DialAddr establishes a raw QUIC connection.
// NextProtoMOQ is added to the TLS configuration when no ALPN is set.
func DialAddr(ctx context.Context, addr string, tlsConfig *tls.Config, quicConfig *quic.Config) (quic.Connection, error) {
	conn, err := quicgo_quicgo.DialAddr(ctx, addr, withALPN(tlsConfig), quicConfig)
	if err != nil {
		return nil, err
	}
	return WrapConnection(conn), nil
}

func withALPN(tlsConfig *tls.Config) *tls.Config {
	if tlsConfig == nil {
		tlsConfig = &tls.Config{}
	} else {
		tlsConfig = tlsConfig.Clone()
	}
	if len(tlsConfig.NextProtos) == 0 {
		tlsConfig.NextProtos = []string{NextProtoMOQ}
	}
	return tlsConfig
}
