package moqt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okdaichi/moqtransport/moqt/internal/message"
	"github.com/okdaichi/moqtransport/quic"
)

func newControlStream(stream quic.Stream, tracer *Tracer) *controlStream {
	return &controlStream{
		stream: stream,
		reader: message.NewControlReader(stream),
		tracer: tracer,
	}
}

// controlStream is the bidirectional stream carrying control messages.
// Writes are serialized; a single loop reads.
type controlStream struct {
	stream quic.Stream
	reader *message.ControlReader
	tracer *Tracer

	mu  sync.Mutex
	buf []byte
}

func (c *controlStream) write(m message.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, err := message.AppendMessage(c.buf[:0], m)
	if err != nil {
		return err
	}
	c.buf = b
	if _, err := c.stream.Write(b); err != nil {
		return err
	}
	c.tracer.controlMessageSent(m.Type().String())
	return nil
}

func (c *controlStream) read() (message.Message, error) {
	m, err := c.reader.ReadMessage()
	if err != nil {
		return nil, err
	}
	c.tracer.controlMessageReceived(m.Type().String())
	return m, nil
}

// readContext reads one message, giving up when ctx ends.
func (c *controlStream) readContext(ctx context.Context) (message.Message, error) {
	stop := context.AfterFunc(ctx, func() {
		c.stream.SetReadDeadline(time.Now())
	})
	m, err := c.read()
	if !stop() {
		c.stream.SetReadDeadline(time.Time{})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", context.Cause(ctx), err)
		}
	}
	return m, err
}

func (s *Session) controlLoop() error {
	for {
		m, err := s.control.read()
		if err != nil {
			if errors.Is(err, message.ErrMalformedMessage) {
				return &protocolError{code: ProtocolViolationErrorCode, err: err}
			}
			return err
		}
		if err := s.handleControl(m); err != nil {
			return err
		}
	}
}

// handleControl dispatches a control message. A returned error ends the session.
func (s *Session) handleControl(m message.Message) error {
	switch m := m.(type) {
	case *message.ClientSetupMessage, *message.ServerSetupMessage:
		return violation("%s after setup", m.Type())
	case *message.GoAwayMessage:
		return s.handleGoAway(m)
	case *message.MaxRequestIDMessage:
		return s.requests.raiseLimit(m.RequestID)
	case *message.RequestsBlockedMessage:
		s.logger.Debug("peer blocked on request ids", "limit", m.MaximumRequestID)
		return nil

	// Publisher side
	case *message.SubscribeMessage:
		return s.pub.handleSubscribe(m)
	case *message.SubscribeUpdateMessage:
		return s.pub.handleSubscribeUpdate(m)
	case *message.UnsubscribeMessage:
		return s.pub.handleUnsubscribe(m)
	case *message.AnnounceOKMessage:
		return s.handleAnnounceOK(m)
	case *message.AnnounceErrorMessage:
		return s.handleAnnounceError(m)
	case *message.AnnounceCancelMessage:
		return s.handleAnnounceCancel(m)
	case *message.SubscribeAnnouncesMessage:
		return s.handleSubscribeAnnounces(m)
	case *message.UnsubscribeAnnouncesMessage:
		return s.handleUnsubscribeAnnounces(m)
	case *message.TrackStatusRequestMessage:
		return s.pub.handleTrackStatusRequest(m)
	case *message.FetchMessage:
		return s.pub.handleFetch(m)
	case *message.FetchCancelMessage:
		return s.pub.handleFetchCancel(m)

	// Subscriber side
	case *message.SubscribeOKMessage:
		return s.handleSubscribeOK(m)
	case *message.SubscribeErrorMessage:
		return s.handleSubscribeError(m)
	case *message.SubscribeDoneMessage:
		return s.handleSubscribeDone(m)
	case *message.AnnounceMessage:
		return s.handleAnnounce(m)
	case *message.UnannounceMessage:
		return s.handleUnannounce(m)
	case *message.SubscribeAnnouncesOKMessage:
		return s.handleSubscribeAnnouncesOK(m)
	case *message.SubscribeAnnouncesErrorMessage:
		return s.handleSubscribeAnnouncesError(m)
	case *message.TrackStatusMessage:
		return s.handleTrackStatus(m)
	case *message.FetchOKMessage:
		return s.handleFetchOK(m)
	case *message.FetchErrorMessage:
		return s.handleFetchError(m)
	default:
		return violation("unexpected %s", m.Type())
	}
}

// staleReply decides what to do with a reply that matched no request of its
// kind. A reply naming a live request of another kind is rejected; one
// naming a subscription that has not resolved yet is malformed. Replies to
// requests we issued and already retired are dropped.
func (s *Session) staleReply(m message.Message, requestID uint64) error {
	s.mu.Lock()
	sub, isSub := s.subscriptions[requestID]
	_, isFetch := s.fetches[requestID]
	_, isStatus := s.statuses[requestID]
	_, isAnnounce := s.announces[requestID]
	_, isAnnounceSub := s.announceSubs[requestID]
	s.mu.Unlock()

	if isSub && sub.State() == SubscriptionRequested {
		return &protocolError{
			code: ProtocolViolationErrorCode,
			err:  fmt.Errorf("%w: %s before subscription %d resolved", ErrMalformedMessage, m.Type(), requestID),
		}
	}
	if isSub || isFetch || isStatus || isAnnounce || isAnnounceSub {
		return violation("%s for request %d of another kind", m.Type(), requestID)
	}
	if s.requests.issued(requestID) {
		s.logger.Debug("dropping reply to retired request", "type", m.Type().String(), "request_id", requestID)
		return nil
	}
	return violation("%s for unknown request %d", m.Type(), requestID)
}
