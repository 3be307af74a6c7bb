package moqt

import (
	"bufio"
	"errors"
	"io"

	"github.com/okdaichi/moqtransport/moqt/internal/message"
	"github.com/okdaichi/moqtransport/quic"
)

// maxObjectPayload bounds the payload of a received object.
const maxObjectPayload = 16 << 20

// acceptUniLoop accepts data streams and reads each one on its own goroutine.
func (s *Session) acceptUniLoop() error {
	for {
		stream, err := s.conn.AcceptUniStream(s.gctx)
		if err != nil {
			return err
		}
		s.tracer.dataStreamAccepted(stream.StreamID())
		s.group.Go(func() error {
			s.readDataStream(stream)
			return nil
		})
	}
}

// readDataStream dispatches a data stream by its type. Failures on one
// stream never end the session.
func (s *Session) readDataStream(stream quic.ReceiveStream) {
	r := bufio.NewReader(stream)
	logger := s.logger.With("stream_id", stream.StreamID())

	t, err := message.ReadStreamType(r)
	if err != nil {
		logger.Debug("failed to read stream type", "error", err)
		stream.CancelRead(quic.StreamErrorCode(InternalGroupErrorCode))
		return
	}
	if t == message.StreamTypeFetchHeader {
		s.readFetchStream(stream, r)
		return
	}

	h, err := message.ReadSubgroupHeader(r, t)
	if err != nil {
		logger.Debug("failed to read subgroup header", "error", err)
		stream.CancelRead(quic.StreamErrorCode(InternalGroupErrorCode))
		return
	}

	sub, ok := s.lookupAlias(s.ctx, h.TrackAlias)
	if !ok {
		logger.Debug("no subscription for track alias", "track_alias", h.TrackAlias)
		stream.CancelRead(quic.StreamErrorCode(CancelledGroupErrorCode))
		return
	}
	recv, err := sub.receiverFor()
	if err != nil {
		stream.CancelRead(quic.StreamErrorCode(CancelledGroupErrorCode))
		return
	}
	if !s.mux.addInbound(stream, sub.id) {
		stream.CancelRead(quic.StreamErrorCode(SessionClosedGroupErrorCode))
		return
	}
	defer s.mux.removeInbound(stream.StreamID())

	id := stream.StreamID()
	st := recv.attach(h.GroupID, func() {
		s.mux.cancelInbound(id, CancelledGroupErrorCode)
	})
	if st == nil {
		s.mux.cancelInbound(id, CancelledGroupErrorCode)
		return
	}

	logger = logger.With("request_id", sub.id, "group_id", h.GroupID)
	first := true
	for {
		o, err := message.ReadSubgroupObject(r, h, maxObjectPayload)
		if err == io.EOF {
			recv.detach(st, nil)
			return
		}
		if err != nil {
			var serr *quic.StreamError
			if errors.As(err, &serr) && serr.Remote {
				err = GroupError{StreamError: serr}
			} else if errors.Is(err, message.ErrMalformedMessage) {
				logger.Warn("malformed object", "error", err)
				s.mux.cancelInbound(id, InternalGroupErrorCode)
			}
			recv.detach(st, err)
			return
		}
		if first && h.SubgroupFromFirstObject {
			h.SubgroupID = o.ObjectID
		}
		first = false

		err = recv.push(s.ctx, Object{
			Group:             h.GroupID,
			Subgroup:          h.SubgroupID,
			ID:                o.ObjectID,
			PublisherPriority: h.PublisherPriority,
			Status:            o.Status,
			Extensions:        o.Extensions,
			Payload:           o.Payload,
		})
		if err != nil {
			s.mux.cancelInbound(id, CancelledGroupErrorCode)
			recv.detach(st, err)
			return
		}
	}
}

func (s *Session) readFetchStream(stream quic.ReceiveStream, r *bufio.Reader) {
	id, err := message.ReadFetchHeader(r)
	if err != nil {
		stream.CancelRead(quic.StreamErrorCode(InternalGroupErrorCode))
		return
	}

	s.mu.Lock()
	fs, ok := s.fetches[id]
	s.mu.Unlock()

	if !ok || !fs.attach(stream) {
		s.logger.Debug("no fetch for stream", "request_id", id)
		stream.CancelRead(quic.StreamErrorCode(CancelledGroupErrorCode))
		return
	}

	for {
		o, err := message.ReadFetchObject(r, maxObjectPayload)
		if err == io.EOF {
			fs.fail(io.EOF)
			if fs.answered() {
				s.retireFetch(fs)
			}
			return
		}
		if err != nil {
			var serr *quic.StreamError
			if errors.As(err, &serr) && serr.Remote {
				err = GroupError{StreamError: serr}
			}
			fs.fail(err)
			s.retireFetch(fs)
			return
		}
		err = fs.deliver(s.ctx, Object{
			Group:             o.GroupID,
			Subgroup:          o.SubgroupID,
			ID:                o.ObjectID,
			PublisherPriority: o.PublisherPriority,
			Status:            o.Status,
			Extensions:        o.Extensions,
			Payload:           o.Payload,
		})
		if err != nil {
			return
		}
	}
}

// datagramLoop reads object datagrams. A connection without datagram
// support ends the loop without ending the session.
func (s *Session) datagramLoop() error {
	for {
		b, err := s.conn.ReceiveDatagram(s.gctx)
		if err != nil {
			if s.gctx.Err() == nil {
				s.logger.Debug("datagrams unavailable", "error", err)
			}
			return nil
		}
		s.tracer.datagramReceived(len(b))

		dg, err := message.DecodeDatagram(b)
		if err != nil {
			s.logger.Debug("dropping malformed datagram", "error", err)
			continue
		}

		s.mu.Lock()
		sub, ok := s.aliases[dg.TrackAlias]
		s.mu.Unlock()
		if !ok {
			continue
		}
		recv, err := sub.receiverFor()
		if err != nil {
			continue
		}
		err = recv.push(s.ctx, Object{
			Group:             dg.GroupID,
			ID:                dg.ObjectID,
			PublisherPriority: dg.PublisherPriority,
			Status:            dg.Status,
			Extensions:        dg.Extensions,
			Payload:           dg.Payload,
		})
		if err != nil && s.ctx.Err() != nil {
			return nil
		}
	}
}
