package moqt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okdaichi/moqtransport/internal/memquic"
	"github.com/okdaichi/moqtransport/moqt/internal/message"
	"github.com/okdaichi/moqtransport/quic"
	"github.com/stretchr/testify/require"
)

const testTimeout = 2 * time.Second

var liveNamespace = NewTrackNamespace("live", "room")

var liveTrack = Track{Namespace: liveNamespace, Name: "video"}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

func testContextWithCancel(t *testing.T) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx, cancel
}

// newTestPair connects a client and a server session over memquic.
func newTestPair(t *testing.T, clientConfig, serverConfig *Config) (client, server *Session) {
	t.Helper()
	cc, sc := memquic.Pair()
	ctx := testContext(t)

	accepted := make(chan error, 1)
	go func() {
		var err error
		server, err = Accept(ctx, sc, serverConfig)
		accepted <- err
	}()

	client, err := Connect(ctx, cc, clientConfig)
	require.NoError(t, err)
	require.NoError(t, <-accepted)

	t.Cleanup(func() {
		client.CloseWithError(NoError, "")
		server.CloseWithError(NoError, "")
	})
	return client, server
}

// announcedPair connects a pair in which the server announced liveNamespace.
func announcedPair(t *testing.T, clientConfig, serverConfig *Config) (client, server *Session) {
	t.Helper()
	client, server = newTestPair(t, clientConfig, serverConfig)
	require.NoError(t, server.Announce(testContext(t), liveNamespace))
	_, err := client.AwaitAnnouncement(testContext(t), liveNamespace)
	require.NoError(t, err)
	return client, server
}

// rawPeer speaks the wire protocol directly to exercise peer misbehavior.
type rawPeer struct {
	t      *testing.T
	conn   *memquic.Conn
	stream quic.Stream
	reader *message.ControlReader
}

func (p *rawPeer) write(m message.Message) {
	p.t.Helper()
	b, err := message.AppendMessage(nil, m)
	require.NoError(p.t, err)
	_, err = p.stream.Write(b)
	require.NoError(p.t, err)
}

// read returns the next control message, skipping flow control.
func (p *rawPeer) read() message.Message {
	p.t.Helper()
	for {
		p.stream.SetReadDeadline(time.Now().Add(testTimeout))
		m, err := p.reader.ReadMessage()
		require.NoError(p.t, err)
		switch m.(type) {
		case *message.MaxRequestIDMessage, *message.RequestsBlockedMessage:
			continue
		}
		return m
	}
}

func expectMessage[T message.Message](t *testing.T, p *rawPeer) T {
	t.Helper()
	m := p.read()
	got, ok := m.(T)
	require.Truef(t, ok, "unexpected %s", m.Type())
	return got
}

// openData writes b on a new unidirectional stream and finishes it.
func (p *rawPeer) openData(b []byte) {
	p.t.Helper()
	stream, err := p.conn.OpenUniStreamSync(context.Background())
	require.NoError(p.t, err)
	_, err = stream.Write(b)
	require.NoError(p.t, err)
	require.NoError(p.t, stream.Close())
}

var rawSetupParameters = message.Parameters{
	{Type: message.SetupParameterMaxRequestID, Value: 100},
}

// newRawServer connects a client session to a raw server.
func newRawServer(t *testing.T, config *Config) (*Session, *rawPeer) {
	t.Helper()
	cc, sc := memquic.Pair()
	ctx := testContext(t)

	type result struct {
		sess *Session
		err  error
	}
	done := make(chan result, 1)
	go func() {
		sess, err := Connect(ctx, cc, config)
		done <- result{sess, err}
	}()

	stream, err := sc.AcceptStream(ctx)
	require.NoError(t, err)
	peer := &rawPeer{t: t, conn: sc, stream: stream, reader: message.NewControlReader(stream)}
	cs := expectMessage[*message.ClientSetupMessage](t, peer)
	peer.write(&message.ServerSetupMessage{
		SelectedVersion: cs.SupportedVersions[0],
		Parameters:      rawSetupParameters,
	})

	res := <-done
	require.NoError(t, res.err)
	t.Cleanup(func() { res.sess.CloseWithError(NoError, "") })
	return res.sess, peer
}

// newRawClient connects a raw client to a server session.
func newRawClient(t *testing.T, config *Config) (*Session, *rawPeer) {
	t.Helper()
	cc, sc := memquic.Pair()
	ctx := testContext(t)

	type result struct {
		sess *Session
		err  error
	}
	done := make(chan result, 1)
	go func() {
		sess, err := Accept(ctx, sc, config)
		done <- result{sess, err}
	}()

	stream, err := cc.OpenStreamSync(ctx)
	require.NoError(t, err)
	peer := &rawPeer{t: t, conn: cc, stream: stream, reader: message.NewControlReader(stream)}
	peer.write(&message.ClientSetupMessage{
		SupportedVersions: []Version{Draft11},
		Parameters:        rawSetupParameters,
	})
	expectMessage[*message.ServerSetupMessage](t, peer)

	res := <-done
	require.NoError(t, res.err)
	t.Cleanup(func() { res.sess.CloseWithError(NoError, "") })
	return res.sess, peer
}

// waitClosed waits for sess to end and returns its session error code.
func waitClosed(t *testing.T, sess *Session) SessionErrorCode {
	t.Helper()
	select {
	case <-sess.Context().Done():
	case <-time.After(testTimeout):
		t.Fatal("session did not close")
	}
	var serr *SessionError
	require.True(t, errors.As(sess.Err(), &serr), "unexpected error %v", sess.Err())
	return serr.SessionErrorCode()
}

// nextObject reads events until an object arrives.
func nextObject(t *testing.T, sub *Subscription) Object {
	t.Helper()
	for {
		ev, err := sub.Next(testContext(t))
		require.NoError(t, err)
		if o, ok := ev.(ObjectEvent); ok {
			return o.Object
		}
	}
}
