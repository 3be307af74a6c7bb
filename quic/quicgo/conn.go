package quicgo

import (
	"context"

	"github.com/okdaichi/moqtransport/quic"
	quicgo_quicgo "github.com/quic-go/quic-go"
)

// quic-go streams implement the quic stream interfaces directly. Conn only
// narrows the return types of the stream methods.

var _ quic.Connection = (*Conn)(nil)

// Conn is a quic-go connection seen as a quic.Connection.
type Conn struct {
	quicgo_quicgo.Connection
}

// WrapConnection adapts conn. A nil conn yields a nil Connection.
func WrapConnection(conn quicgo_quicgo.Connection) quic.Connection {
	if conn == nil {
		return nil
	}
	return &Conn{Connection: conn}
}

func (c *Conn) AcceptStream(ctx context.Context) (quic.Stream, error) {
	return c.Connection.AcceptStream(ctx)
}

func (c *Conn) AcceptUniStream(ctx context.Context) (quic.ReceiveStream, error) {
	return c.Connection.AcceptUniStream(ctx)
}

func (c *Conn) OpenStream() (quic.Stream, error) {
	return c.Connection.OpenStream()
}

func (c *Conn) OpenStreamSync(ctx context.Context) (quic.Stream, error) {
	return c.Connection.OpenStreamSync(ctx)
}

func (c *Conn) OpenUniStream() (quic.SendStream, error) {
	return c.Connection.OpenUniStream()
}

func (c *Conn) OpenUniStreamSync(ctx context.Context) (quic.SendStream, error) {
	return c.Connection.OpenUniStreamSync(ctx)
}
