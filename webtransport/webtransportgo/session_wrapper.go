package webtransportgo

import (
	"context"
	"errors"
	"net"

	"github.com/okdaichi/moqtransport/quic"
	quicgo_webtransportgo "github.com/quic-go/webtransport-go"
)

var _ quic.Connection = (*sessionWrapper)(nil)

type sessionWrapper struct {
	sess *quicgo_webtransportgo.Session
}

// WrapSession adapts a webtransport-go session to quic.Connection.
func WrapSession(wtsess *quicgo_webtransportgo.Session) quic.Connection {
	if wtsess == nil {
		return nil
	}
	return &sessionWrapper{
		sess: wtsess,
	}
}

func (conn *sessionWrapper) AcceptStream(ctx context.Context) (quic.Stream, error) {
	stream, err := conn.sess.AcceptStream(ctx)
	if err != nil {
		return nil, wrapError(err)
	}
	return newBidiStream(stream), nil
}

func (conn *sessionWrapper) AcceptUniStream(ctx context.Context) (quic.ReceiveStream, error) {
	stream, err := conn.sess.AcceptUniStream(ctx)
	if err != nil {
		return nil, wrapError(err)
	}
	return receiveStream{r: stream}, nil
}

func (conn *sessionWrapper) CloseWithError(code quic.ApplicationErrorCode, msg string) error {
	return wrapError(conn.sess.CloseWithError(quicgo_webtransportgo.SessionErrorCode(code), msg))
}

func (conn *sessionWrapper) Context() context.Context {
	return conn.sess.Context()
}

func (conn *sessionWrapper) LocalAddr() net.Addr {
	return conn.sess.LocalAddr()
}

func (conn *sessionWrapper) OpenStream() (quic.Stream, error) {
	stream, err := conn.sess.OpenStream()
	if err != nil {
		return nil, wrapError(err)
	}
	return newBidiStream(stream), nil
}

func (conn *sessionWrapper) OpenStreamSync(ctx context.Context) (quic.Stream, error) {
	stream, err := conn.sess.OpenStreamSync(ctx)
	if err != nil {
		return nil, wrapError(err)
	}
	return newBidiStream(stream), nil
}

func (conn *sessionWrapper) OpenUniStream() (quic.SendStream, error) {
	stream, err := conn.sess.OpenUniStream()
	if err != nil {
		return nil, wrapError(err)
	}
	return sendStream{w: stream}, nil
}

func (conn *sessionWrapper) OpenUniStreamSync(ctx context.Context) (quic.SendStream, error) {
	stream, err := conn.sess.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, wrapError(err)
	}
	return sendStream{w: stream}, nil
}

func (conn *sessionWrapper) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	b, err := conn.sess.ReceiveDatagram(ctx)
	return b, wrapError(err)
}

func (conn *sessionWrapper) RemoteAddr() net.Addr {
	return conn.sess.RemoteAddr()
}

func (conn *sessionWrapper) SendDatagram(b []byte) error {
	return wrapError(conn.sess.SendDatagram(b))
}

// wrapError maps webtransport-go errors onto the quic error types
// so that callers inspect resets and closes uniformly.
func wrapError(err error) error {
	if err == nil {
		return nil
	}

	var strErr *quicgo_webtransportgo.StreamError
	if errors.As(err, &strErr) {
		return &quic.StreamError{
			ErrorCode: quic.StreamErrorCode(strErr.ErrorCode),
			Remote:    true,
		}
	}

	var sessErr *quicgo_webtransportgo.SessionError
	if errors.As(err, &sessErr) {
		return &quic.ApplicationError{
			Remote:       sessErr.Remote,
			ErrorCode:    quic.ApplicationErrorCode(sessErr.ErrorCode),
			ErrorMessage: sessErr.Message,
		}
	}

	return err
}
