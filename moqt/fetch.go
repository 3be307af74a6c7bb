package moqt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/okdaichi/moqtransport/moqt/internal/message"
	"github.com/okdaichi/moqtransport/quic"
)

// FetchRequest describes a fetch of past objects.
type FetchRequest struct {
	// RequestID is set on requests passed to a FetchHandler.
	RequestID uint64

	Track Track

	// Start is the first location fetched. End is exclusive.
	Start Location
	End   Location

	Priority   uint8
	GroupOrder GroupOrder

	// Joining, when set, fetches the groups before the start of an active
	// subscription. JoiningStart counts groups back from that start, or is
	// an absolute group id when AbsoluteJoining is set.
	Joining         *Subscription
	JoiningStart    uint64
	AbsoluteJoining bool
}

// Fetch requests past objects and waits for FETCH_OK. A rejection is
// returned as *FetchError.
func (s *Session) Fetch(ctx context.Context, req FetchRequest) (*FetchStream, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if !s.role.canSubscribe() {
		return nil, ErrRoleViolation
	}

	msg := &message.FetchMessage{
		SubscriberPriority: req.Priority,
		GroupOrder:         req.GroupOrder,
	}
	track := req.Track
	switch {
	case req.Joining != nil:
		if req.Joining.State() != SubscriptionActive {
			return nil, ErrNotActive
		}
		track = req.Joining.Track()
		msg.FetchType = message.FetchTypeRelativeJoining
		if req.AbsoluteJoining {
			msg.FetchType = message.FetchTypeAbsoluteJoining
		}
		msg.JoiningRequestID = req.Joining.ID()
		msg.JoiningStart = req.JoiningStart
	default:
		if !s.remote.covers(track.Namespace) && !s.config.forwardUnannounced() {
			return nil, ErrTrackDoesNotExist
		}
		if req.End.Compare(req.Start) <= 0 {
			return nil, ErrInvalidRange
		}
		msg.FetchType = message.FetchTypeStandalone
		msg.Namespace = track.Namespace
		msg.TrackName = track.Name
		msg.StartLocation = req.Start
		msg.EndLocation = req.End
	}

	id, err := s.allocateRequestID()
	if err != nil {
		return nil, err
	}
	msg.RequestID = id

	fs := newFetchStream(s, id, track, s.config.maxBufferedEvents(), s.logger)
	s.mu.Lock()
	s.fetches[id] = fs
	s.mu.Unlock()

	if err := s.control.write(msg); err != nil {
		s.retireFetch(fs)
		return nil, err
	}
	fs.logger.Debug("sent fetch", "type", msg.FetchType)

	if _, err := fs.reply.wait(ctx, s.ctx); err != nil {
		var ferr *FetchError
		if !errors.As(err, &ferr) && s.live() == nil {
			fs.Cancel()
		}
		s.retireFetch(fs)
		return nil, err
	}
	return fs, nil
}

func (s *Session) retireFetch(fs *FetchStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetches[fs.id] == fs {
		delete(s.fetches, fs.id)
	}
}

func (s *Session) handleFetchOK(m *message.FetchOKMessage) error {
	s.mu.Lock()
	fs, ok := s.fetches[m.RequestID]
	s.mu.Unlock()
	if !ok {
		return s.staleReply(m, m.RequestID)
	}
	fs.mu.Lock()
	fs.end = m.EndLocation
	fs.endOfTrack = m.EndOfTrack
	fs.order = m.GroupOrder
	fs.mu.Unlock()

	if !fs.reply.resolve(struct{}{}, nil) {
		return violation("duplicate FETCH_OK for %d", m.RequestID)
	}
	if fs.finished() {
		s.retireFetch(fs)
	}
	return nil
}

func (s *Session) handleFetchError(m *message.FetchErrorMessage) error {
	s.mu.Lock()
	fs, ok := s.fetches[m.RequestID]
	s.mu.Unlock()
	if !ok {
		return s.staleReply(m, m.RequestID)
	}
	ferr := &FetchError{Code: FetchErrorCode(m.ErrorCode), Reason: m.Reason}
	if !fs.reply.resolve(struct{}{}, ferr) {
		return violation("FETCH_ERROR for accepted fetch %d", m.RequestID)
	}
	fs.fail(ferr)
	s.retireFetch(fs)
	return nil
}

func newFetchStream(s *Session, id uint64, track Track, buffered int, logger *slog.Logger) *FetchStream {
	return &FetchStream{
		sess:    s,
		id:      id,
		track:   track,
		logger:  logger.With("request_id", id, "track", track.String()),
		reply:   newPending[struct{}](),
		objects: make(chan Object, buffered),
		done:    make(chan struct{}),
	}
}

// FetchStream delivers the objects of an accepted fetch.
type FetchStream struct {
	sess   *Session
	id     uint64
	track  Track
	logger *slog.Logger

	reply   *pending[struct{}]
	objects chan Object
	done    chan struct{}
	once    sync.Once

	mu         sync.Mutex
	err        error
	stream     quic.ReceiveStream
	end        Location
	endOfTrack bool
	order      GroupOrder
}

// ID returns the request id of the fetch.
func (f *FetchStream) ID() uint64 { return f.id }

// End returns the end location of FETCH_OK and whether it ends the track.
func (f *FetchStream) End() (Location, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.end, f.endOfTrack
}

// Next returns the next object. It returns io.EOF once the publisher
// finished the fetch stream and every object was read.
func (f *FetchStream) Next(ctx context.Context) (Object, error) {
	select {
	case obj := <-f.objects:
		return obj, nil
	case <-ctx.Done():
		return Object{}, ctx.Err()
	case <-f.done:
	}
	select {
	case obj := <-f.objects:
		return obj, nil
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return Object{}, f.err
}

// Cancel sends FETCH_CANCEL and stops reading the fetch stream.
func (f *FetchStream) Cancel() error {
	if f.finished() {
		return nil
	}
	f.fail(ErrFetchCancelled)
	f.sess.retireFetch(f)
	if err := f.sess.live(); err != nil {
		return nil
	}
	f.logger.Debug("cancelling fetch")
	return f.sess.control.write(&message.FetchCancelMessage{RequestID: f.id})
}

func (f *FetchStream) finished() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *FetchStream) answered() bool {
	select {
	case <-f.reply.done:
		return true
	default:
		return false
	}
}

// attach binds the data stream carrying the fetch.
func (f *FetchStream) attach(stream quic.ReceiveStream) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stream != nil || f.err != nil {
		return false
	}
	f.stream = stream
	return true
}

func (f *FetchStream) deliver(ctx context.Context, obj Object) error {
	select {
	case f.objects <- obj:
		return nil
	case <-f.done:
		return ErrFetchCancelled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fail ends the fetch with err. io.EOF keeps buffered objects readable.
func (f *FetchStream) fail(err error) {
	f.mu.Lock()
	if f.err != nil {
		f.mu.Unlock()
		return
	}
	f.err = err
	stream := f.stream
	f.mu.Unlock()

	if err != io.EOF {
		f.reply.resolve(struct{}{}, err)
	}
	f.once.Do(func() { close(f.done) })
	if stream != nil && err != io.EOF {
		stream.CancelRead(quic.StreamErrorCode(CancelledGroupErrorCode))
	}
}

// FetchHandler serves FETCH requests from the peer. The request context is
// cancelled on FETCH_CANCEL or when the session ends.
type FetchHandler interface {
	ServeFetch(ctx context.Context, w FetchResponseWriter, r *FetchRequest) error
}

// FetchHandlerFunc adapts a function to FetchHandler.
type FetchHandlerFunc func(ctx context.Context, w FetchResponseWriter, r *FetchRequest) error

func (f FetchHandlerFunc) ServeFetch(ctx context.Context, w FetchResponseWriter, r *FetchRequest) error {
	return f(ctx, w, r)
}

// FetchResponseWriter answers one FETCH. A handler that returns without
// calling Accept or Reject rejects the fetch with NoObjectsFetchErrorCode.
type FetchResponseWriter interface {
	// Accept sends FETCH_OK and opens the fetch stream.
	Accept(end Location, endOfTrack bool) error

	// WriteObject writes an object to the fetch stream.
	WriteObject(obj Object) error

	// Reject sends FETCH_ERROR.
	Reject(code FetchErrorCode, reason string) error
}

var _ FetchResponseWriter = (*fetchResponse)(nil)

type fetchResponse struct {
	pub      *publisher
	id       uint64
	order    GroupOrder
	priority uint8
	logger   *slog.Logger

	ctx  context.Context
	stop context.CancelFunc

	mu       sync.Mutex
	accepted bool
	rejected bool
	stream   quic.SendStream
	buf      []byte
}

func (fr *fetchResponse) Accept(end Location, endOfTrack bool) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	if fr.accepted || fr.rejected {
		return fmt.Errorf("moqt: fetch %d already answered", fr.id)
	}
	s := fr.pub.sess
	err := s.control.write(&message.FetchOKMessage{
		RequestID:   fr.id,
		GroupOrder:  fr.order,
		EndOfTrack:  endOfTrack,
		EndLocation: end,
	})
	if err != nil {
		return err
	}
	fr.accepted = true

	stream, err := s.conn.OpenUniStreamSync(fr.ctx)
	if err != nil {
		return err
	}
	b, err := message.AppendFetchHeader(fr.buf[:0], fr.id)
	if err != nil {
		stream.CancelWrite(quic.StreamErrorCode(InternalGroupErrorCode))
		return err
	}
	if _, err := stream.Write(b); err != nil {
		return err
	}
	s.tracer.dataStreamOpened(stream.StreamID())
	fr.stream = stream
	fr.logger.Debug("accepted fetch", "end", end.String(), "end_of_track", endOfTrack)
	return nil
}

func (fr *fetchResponse) WriteObject(obj Object) error {
	release, err := fr.pub.acquire(fr.ctx, fr.priority, obj.PublisherPriority)
	if err != nil {
		return err
	}
	defer release()

	fr.mu.Lock()
	defer fr.mu.Unlock()

	if fr.stream == nil {
		return fmt.Errorf("moqt: fetch %d not accepted", fr.id)
	}
	b, err := message.AppendFetchObject(fr.buf[:0], message.FetchObject{
		GroupID:           obj.Group,
		SubgroupID:        obj.Subgroup,
		ObjectID:          obj.ID,
		PublisherPriority: obj.PublisherPriority,
		Extensions:        obj.Extensions,
		Status:            obj.Status,
		Payload:           obj.Payload,
	})
	if err != nil {
		return err
	}
	fr.buf = b
	_, err = fr.stream.Write(b)
	return err
}

func (fr *fetchResponse) Reject(code FetchErrorCode, reason string) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	if fr.accepted || fr.rejected {
		return fmt.Errorf("moqt: fetch %d already answered", fr.id)
	}
	fr.rejected = true
	fr.logger.Debug("rejecting fetch", "code", code.String(), "reason", reason)
	return fr.pub.sess.control.write(&message.FetchErrorMessage{
		RequestID: fr.id,
		ErrorCode: uint64(code),
		Reason:    reason,
	})
}

// finish completes the response after the handler returned.
func (fr *fetchResponse) finish(err error) {
	fr.mu.Lock()
	answered := fr.accepted || fr.rejected
	stream := fr.stream
	fr.mu.Unlock()

	switch {
	case !answered && err == nil:
		fr.Reject(NoObjectsFetchErrorCode, "no objects")
	case !answered:
		fr.Reject(InternalFetchErrorCode, err.Error())
	case stream != nil && err == nil:
		stream.Close()
	case stream != nil:
		fr.logger.Warn("fetch handler failed", "error", err)
		stream.CancelWrite(quic.StreamErrorCode(InternalGroupErrorCode))
	}

	fr.pub.mu.Lock()
	if fr.pub.fetches[fr.id] == fr {
		delete(fr.pub.fetches, fr.id)
	}
	fr.pub.mu.Unlock()
	fr.stop()
}

func (fr *fetchResponse) cancel(code GroupErrorCode) {
	fr.stop()
	fr.mu.Lock()
	stream := fr.stream
	fr.mu.Unlock()
	if stream != nil {
		stream.CancelWrite(quic.StreamErrorCode(code))
	}
}

func (p *publisher) handleFetch(m *message.FetchMessage) error {
	s := p.sess
	if err := s.acceptRequest(m.RequestID); err != nil {
		return err
	}
	reply := func(code FetchErrorCode, reason string) error {
		p.logger.Debug("rejecting fetch", "request_id", m.RequestID, "code", code.String())
		return s.control.write(&message.FetchErrorMessage{
			RequestID: m.RequestID,
			ErrorCode: uint64(code),
			Reason:    reason,
		})
	}
	handler := s.config.fetchHandler()
	if !s.role.canPublish() || handler == nil {
		return reply(NotSupportedFetchErrorCode, "fetch not supported")
	}

	req := &FetchRequest{
		RequestID:  m.RequestID,
		Priority:   m.SubscriberPriority,
		GroupOrder: m.GroupOrder,
	}
	if req.GroupOrder == GroupOrderDefault {
		req.GroupOrder = GroupOrderAscending
	}

	switch m.FetchType {
	case message.FetchTypeStandalone:
		req.Track = Track{Namespace: m.Namespace, Name: m.TrackName}
		req.Start = m.StartLocation
		req.End = m.EndLocation
		if req.End.Compare(req.Start) <= 0 {
			return reply(InvalidRangeFetchErrorCode, "end before start")
		}
	default:
		p.mu.Lock()
		pub, ok := p.pubs[m.JoiningRequestID]
		var start Location
		if ok {
			req.Track = pub.track.track
			start = pub.start
		}
		p.mu.Unlock()
		if !ok {
			return reply(InvalidJoiningRequestErrorCode, "unknown joining subscription")
		}
		req.End = start
		if m.FetchType == message.FetchTypeAbsoluteJoining {
			req.Start = Location{Group: m.JoiningStart}
		} else if start.Group > m.JoiningStart {
			req.Start = Location{Group: start.Group - m.JoiningStart}
		}
		if req.End.Compare(req.Start) <= 0 {
			return reply(NoObjectsFetchErrorCode, "nothing before the subscription start")
		}
	}
	if !s.local.covers(req.Track.Namespace) {
		return reply(TrackDoesNotExistFetchErrorCode, "namespace not announced")
	}

	ctx, cancel := context.WithCancel(s.ctx)
	fr := &fetchResponse{
		pub:      p,
		id:       m.RequestID,
		order:    req.GroupOrder,
		priority: m.SubscriberPriority,
		logger:   p.logger.With("request_id", m.RequestID, "track", req.Track.String()),
		ctx:      ctx,
		stop:     cancel,
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		cancel()
		return nil
	}
	p.fetches[fr.id] = fr
	p.mu.Unlock()

	// Handlers run outside the session group so that closing the session
	// does not wait for them.
	go func() {
		fr.finish(handler.ServeFetch(ctx, fr, req))
	}()
	return nil
}

func (p *publisher) handleFetchCancel(m *message.FetchCancelMessage) error {
	p.mu.Lock()
	fr, ok := p.fetches[m.RequestID]
	delete(p.fetches, m.RequestID)
	p.mu.Unlock()

	if !ok {
		return p.unknownRequest(m, m.RequestID)
	}
	fr.logger.Debug("fetch cancelled by peer")
	fr.cancel(CancelledGroupErrorCode)
	return nil
}
