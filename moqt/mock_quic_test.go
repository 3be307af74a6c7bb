package moqt

import (
	"context"
	"net"
	"time"

	"github.com/okdaichi/moqtransport/quic"
	"github.com/stretchr/testify/mock"
)

var (
	_ quic.Connection    = (*MockQUICConnection)(nil)
	_ quic.SendStream    = (*MockQUICSendStream)(nil)
	_ quic.ReceiveStream = (*MockQUICReceiveStream)(nil)
)

// returned extracts a typed first return value that may be nil.
func returned[T any](args mock.Arguments) (T, error) {
	v, _ := args.Get(0).(T)
	return v, args.Error(1)
}

// MockQUICConnection mocks quic.Connection.
type MockQUICConnection struct {
	mock.Mock
}

func (m *MockQUICConnection) AcceptStream(ctx context.Context) (quic.Stream, error) {
	return returned[quic.Stream](m.Called(ctx))
}

func (m *MockQUICConnection) AcceptUniStream(ctx context.Context) (quic.ReceiveStream, error) {
	return returned[quic.ReceiveStream](m.Called(ctx))
}

func (m *MockQUICConnection) OpenStream() (quic.Stream, error) {
	return returned[quic.Stream](m.Called())
}

func (m *MockQUICConnection) OpenStreamSync(ctx context.Context) (quic.Stream, error) {
	return returned[quic.Stream](m.Called(ctx))
}

func (m *MockQUICConnection) OpenUniStream() (quic.SendStream, error) {
	return returned[quic.SendStream](m.Called())
}

func (m *MockQUICConnection) OpenUniStreamSync(ctx context.Context) (quic.SendStream, error) {
	return returned[quic.SendStream](m.Called(ctx))
}

func (m *MockQUICConnection) SendDatagram(b []byte) error {
	return m.Called(b).Error(0)
}

func (m *MockQUICConnection) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	return returned[[]byte](m.Called(ctx))
}

func (m *MockQUICConnection) CloseWithError(code quic.ApplicationErrorCode, msg string) error {
	return m.Called(code, msg).Error(0)
}

func (m *MockQUICConnection) Context() context.Context {
	return m.Called().Get(0).(context.Context)
}

func (m *MockQUICConnection) LocalAddr() net.Addr {
	return m.Called().Get(0).(net.Addr)
}

func (m *MockQUICConnection) RemoteAddr() net.Addr {
	return m.Called().Get(0).(net.Addr)
}

// MockQUICSendStream mocks quic.SendStream. WriteFunc, when set, serves
// Write without recording the call.
type MockQUICSendStream struct {
	mock.Mock
	WriteFunc func(p []byte) (int, error)
}

func (m *MockQUICSendStream) StreamID() quic.StreamID {
	return m.Called().Get(0).(quic.StreamID)
}

func (m *MockQUICSendStream) Write(p []byte) (int, error) {
	if m.WriteFunc != nil {
		return m.WriteFunc(p)
	}
	args := m.Called(p)
	return args.Int(0), args.Error(1)
}

func (m *MockQUICSendStream) Close() error {
	return m.Called().Error(0)
}

func (m *MockQUICSendStream) CancelWrite(code quic.StreamErrorCode) {
	m.Called(code)
}

func (m *MockQUICSendStream) SetWriteDeadline(t time.Time) error {
	return m.Called(t).Error(0)
}

// MockQUICReceiveStream mocks quic.ReceiveStream. ReadFunc, when set,
// serves Read without recording the call.
type MockQUICReceiveStream struct {
	mock.Mock
	ReadFunc func(p []byte) (int, error)
}

func (m *MockQUICReceiveStream) StreamID() quic.StreamID {
	return m.Called().Get(0).(quic.StreamID)
}

func (m *MockQUICReceiveStream) Read(p []byte) (int, error) {
	if m.ReadFunc != nil {
		return m.ReadFunc(p)
	}
	args := m.Called(p)
	return args.Int(0), args.Error(1)
}

func (m *MockQUICReceiveStream) CancelRead(code quic.StreamErrorCode) {
	m.Called(code)
}

func (m *MockQUICReceiveStream) SetReadDeadline(t time.Time) error {
	return m.Called(t).Error(0)
}
