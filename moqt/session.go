package moqt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/okdaichi/moqtransport/moqt/internal/message"
	"github.com/okdaichi/moqtransport/quic"
	"golang.org/x/sync/errgroup"
)

// NewClientSession wraps conn for the client end. Call Setup before use.
func NewClientSession(conn quic.Connection, config *Config) *Session {
	return newSession(conn, config, perspectiveClient)
}

// NewServerSession wraps conn for the server end. Call Setup before use.
func NewServerSession(conn quic.Connection, config *Config) *Session {
	return newSession(conn, config, perspectiveServer)
}

// Connect creates a client session on conn and completes setup.
func Connect(ctx context.Context, conn quic.Connection, config *Config) (*Session, error) {
	sess := NewClientSession(conn, config)
	if err := sess.Setup(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

// Accept creates a server session on conn and completes setup.
func Accept(ctx context.Context, conn quic.Connection, config *Config) (*Session, error) {
	sess := NewServerSession(conn, config)
	if err := sess.Setup(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

func newSession(conn quic.Connection, config *Config, p perspective) *Session {
	config = config.Clone()

	ctx, cancel := context.WithCancelCause(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	sess := &Session{
		conn:          conn,
		config:        config,
		perspective:   p,
		role:          config.role(),
		logger:        config.logger().With("perspective", p.String()),
		tracer:        config.tracer(),
		ctx:           ctx,
		cancel:        cancel,
		group:         group,
		gctx:          gctx,
		requests:      newRequestIDs(p, config.maxRequests()),
		mux:           newStreamMux(conn, config.tracer()),
		sched:         newScheduler(config.maxConcurrentWrites()),
		local:         newNamespaceRegistry(),
		remote:        newNamespaceRegistry(),
		state:         StateIdle,
		subscriptions: make(map[uint64]*Subscription),
		aliases:       make(map[uint64]*Subscription),
		aliasChanged:  make(chan struct{}),
		announces:     make(map[uint64]*pending[struct{}]),
		announceSubs:  make(map[uint64]*pending[struct{}]),
		statuses:      make(map[uint64]*pending[TrackStatus]),
		fetches:       make(map[uint64]*FetchStream),
		interests:     make(map[string]TrackNamespace),
	}
	sess.pub = newPublisher(sess)

	// A closed connection or a failed loop ends the session.
	context.AfterFunc(conn.Context(), func() {
		sess.fail(context.Cause(conn.Context()))
	})
	context.AfterFunc(gctx, func() {
		sess.fail(context.Cause(gctx))
	})

	return sess
}

// Session is a MOQT session over one QUIC connection or WebTransport session.
type Session struct {
	conn        quic.Connection
	config      *Config
	perspective perspective
	role        Role
	logger      *slog.Logger
	tracer      *Tracer

	ctx    context.Context
	cancel context.CancelCauseFunc
	group  *errgroup.Group
	gctx   context.Context

	control  *controlStream
	requests *requestIDs
	mux      *streamMux
	sched    *scheduler

	local  *namespaceRegistry // announced by us
	remote *namespaceRegistry // announced by the peer

	pub *publisher

	closeOnce sync.Once

	mu             sync.Mutex
	state          SessionState
	version        Version
	path           string
	err            error
	goAwaySent     bool
	goAwayReceived bool
	goAwayURI      string
	goAwayTimer    *time.Timer

	subscriptions map[uint64]*Subscription
	aliases       map[uint64]*Subscription
	aliasChanged  chan struct{}
	announces     map[uint64]*pending[struct{}]
	announceSubs  map[uint64]*pending[struct{}]
	statuses      map[uint64]*pending[TrackStatus]
	fetches       map[uint64]*FetchStream
	interests     map[string]TrackNamespace // prefixes the peer subscribed to
}

// Setup runs the setup handshake. Clients open the control stream and send
// CLIENT_SETUP; servers accept it and answer SERVER_SETUP.
func (s *Session) Setup(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: setup in state %s", ErrProtocolViolation, state)
	}
	if s.perspective == perspectiveClient {
		s.state = StateSetupSent
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.config.setupTimeout())
	defer cancel()

	var err error
	if s.perspective == perspectiveClient {
		err = s.setupClient(ctx)
	} else {
		err = s.setupServer(ctx)
	}
	if err != nil {
		code := InternalSessionErrorCode
		var perr *protocolError
		switch {
		case errors.As(err, &perr):
			code = perr.code
		case errors.Is(err, ErrVersionMismatch):
			code = UnsupportedVersionErrorCode
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
			code = ControlMessageTimeoutCode
		}
		s.logger.Error("session setup failed", "error", err)
		s.shutdown(code, err.Error(), nil, false)
		return err
	}

	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrClosedSession, s.Err())
	}
	s.state = StateEstablished
	version := s.version
	s.mu.Unlock()

	s.logger.Info("session established", "version", version.String())
	s.tracer.sessionEstablished(s.conn.LocalAddr(), s.conn.RemoteAddr(), version)

	s.group.Go(s.controlLoop)
	s.group.Go(s.acceptUniLoop)
	s.group.Go(s.datagramLoop)

	return nil
}

func (s *Session) setupParameters() message.Parameters {
	params := message.Parameters{
		{Type: message.SetupParameterMaxRequestID, Value: s.requests.initialGrant()},
	}
	if s.perspective == perspectiveClient && s.config.path() != "" {
		params = append(params, message.Parameter{Type: message.SetupParameterPath, Bytes: []byte(s.config.path())})
	}
	return params
}

func (s *Session) applyPeerParameters(params message.Parameters) {
	if limit, ok := params.Varint(message.SetupParameterMaxRequestID); ok {
		s.requests.setLimit(limit)
	}
}

func (s *Session) setupClient(ctx context.Context) error {
	stream, err := s.conn.OpenStreamSync(ctx)
	if err != nil {
		return err
	}
	s.control = newControlStream(stream, s.tracer)

	versions := s.config.versions()
	err = s.control.write(&message.ClientSetupMessage{
		SupportedVersions: versions,
		Parameters:        s.setupParameters(),
	})
	if err != nil {
		return err
	}

	m, err := s.control.readContext(ctx)
	if err != nil {
		return err
	}
	ss, ok := m.(*message.ServerSetupMessage)
	if !ok {
		return violation("expected SERVER_SETUP, got %s", m.Type())
	}
	if !slices.Contains(versions, ss.SelectedVersion) {
		return fmt.Errorf("%w: server selected %s", ErrVersionMismatch, ss.SelectedVersion)
	}
	s.applyPeerParameters(ss.Parameters)

	s.mu.Lock()
	s.version = ss.SelectedVersion
	s.mu.Unlock()
	return nil
}

func (s *Session) setupServer(ctx context.Context) error {
	stream, err := s.conn.AcceptStream(ctx)
	if err != nil {
		return err
	}
	s.control = newControlStream(stream, s.tracer)

	m, err := s.control.readContext(ctx)
	if err != nil {
		return err
	}
	cs, ok := m.(*message.ClientSetupMessage)
	if !ok {
		return violation("expected CLIENT_SETUP, got %s", m.Type())
	}

	s.mu.Lock()
	s.state = StateSetupReceived
	s.mu.Unlock()

	version, ok := selectVersion(s.config.versions(), cs.SupportedVersions)
	if !ok {
		return fmt.Errorf("%w: client offered %v", ErrVersionMismatch, cs.SupportedVersions)
	}
	s.applyPeerParameters(cs.Parameters)

	s.mu.Lock()
	s.version = version
	if path, ok := cs.Parameters.Bytes(message.SetupParameterPath); ok {
		s.path = string(path)
	}
	s.mu.Unlock()

	return s.control.write(&message.ServerSetupMessage{
		SelectedVersion: version,
		Parameters:      s.setupParameters(),
	})
}

// ready reports whether new requests may be issued.
func (s *Session) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateEstablished:
		return nil
	case StateClosing:
		return fmt.Errorf("%w: %w", ErrSessionNotReady, ErrGoingAway)
	case StateClosed, StateErrored:
		return fmt.Errorf("%w: %w", ErrSessionNotReady, ErrClosedSession)
	default:
		return ErrSessionNotReady
	}
}

// live reports whether teardown messages may still be sent.
func (s *Session) live() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateEstablished, StateClosing:
		return nil
	case StateClosed, StateErrored:
		return ErrClosedSession
	default:
		return ErrSessionNotReady
	}
}

func (s *Session) allocateRequestID() (uint64, error) {
	id, report, limit, err := s.requests.allocate()
	if report {
		s.logger.Debug("request ids exhausted", "limit", limit)
		if werr := s.control.write(&message.RequestsBlockedMessage{MaximumRequestID: limit}); werr != nil {
			return 0, werr
		}
	}
	return id, err
}

// acceptRequest validates a peer request id and replenishes the peer's grant.
func (s *Session) acceptRequest(id uint64) error {
	if err := s.requests.accept(id); err != nil {
		return err
	}
	if grant, ok := s.requests.replenish(); ok {
		return s.control.write(&message.MaxRequestIDMessage{RequestID: grant})
	}
	return nil
}

func (s *Session) sendControl(m message.Message) error {
	return s.control.write(m)
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Version returns the negotiated version.
func (s *Session) Version() Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Path returns the PATH setup parameter sent by the client.
func (s *Session) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Role returns the configured local role.
func (s *Session) Role() Role {
	return s.role
}

// Context is cancelled when the session ends.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Err returns the reason the session ended, or nil while it is alive.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// CloseWithError closes the session and waits for its background loops.
func (s *Session) CloseWithError(code SessionErrorCode, msg string) error {
	s.shutdown(code, msg, nil, true)
	s.group.Wait()
	return nil
}

// fail ends the session after a loop or the transport failed.
func (s *Session) fail(err error) {
	var (
		perr      *protocolError
		appErr    *quic.ApplicationError
		idle      *quic.IdleTimeoutError
		handshake *quic.HandshakeTimeoutError
		transport *quic.TransportError
	)
	switch {
	case err == nil:
		s.shutdown(InternalSessionErrorCode, "", nil, false)
	case errors.As(err, &perr):
		s.logger.Warn("closing session on protocol error", "error", perr)
		s.shutdown(perr.code, perr.err.Error(), nil, false)
	case errors.As(err, &appErr) && appErr.Remote:
		s.shutdown(SessionErrorCode(appErr.ErrorCode), appErr.ErrorMessage, appErr, appErr.ErrorCode == 0)
	case errors.As(err, &idle), errors.As(err, &handshake):
		s.logger.Info("connection timed out", "error", err)
		s.shutdown(InternalSessionErrorCode, err.Error(), nil, false)
	case errors.As(err, &transport):
		s.logger.Warn("connection failed", "error_code", uint64(transport.ErrorCode), "remote", transport.Remote)
		s.shutdown(InternalSessionErrorCode, err.Error(), nil, false)
	default:
		s.shutdown(InternalSessionErrorCode, err.Error(), nil, false)
	}
}

func (s *Session) shutdown(code SessionErrorCode, msg string, remote *quic.ApplicationError, orderly bool) {
	s.closeOnce.Do(func() {
		serr := &SessionError{ApplicationError: remote}
		if remote == nil {
			serr.ApplicationError = &quic.ApplicationError{
				ErrorCode:    quic.ApplicationErrorCode(code),
				ErrorMessage: msg,
			}
		}

		s.mu.Lock()
		if orderly {
			s.state = StateClosed
		} else {
			s.state = StateErrored
		}
		s.err = serr
		if s.goAwayTimer != nil {
			s.goAwayTimer.Stop()
		}
		subs := make([]*Subscription, 0, len(s.subscriptions))
		for _, sub := range s.subscriptions {
			subs = append(subs, sub)
		}
		fetches := make([]*FetchStream, 0, len(s.fetches))
		for _, f := range s.fetches {
			fetches = append(fetches, f)
		}
		s.mu.Unlock()

		s.logger.Info("terminating session", "code", code.String(), "reason", msg)

		if remote == nil {
			s.conn.CloseWithError(quic.ApplicationErrorCode(code), msg)
		}
		s.cancel(serr)
		s.mux.close()
		s.pub.close()
		for _, sub := range subs {
			sub.fail(serr)
		}
		for _, f := range fetches {
			f.fail(serr)
		}

		s.tracer.sessionTerminated(serr)
	})
}
