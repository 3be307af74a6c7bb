package moqt

import (
	"context"

	"github.com/okdaichi/moqtransport/moqt/internal/message"
)

type TrackStatusCode = message.TrackStatusCode

const (
	TrackStatusInProgress   = message.TrackStatusInProgress
	TrackStatusDoesNotExist = message.TrackStatusDoesNotExist
	TrackStatusNotBegun     = message.TrackStatusNotBegun
	TrackStatusFinished     = message.TrackStatusFinished
	TrackStatusUnavailable  = message.TrackStatusUnavailable
)

// TrackStatus is the publisher's answer to a track status request.
type TrackStatus struct {
	Code    TrackStatusCode
	Largest Location
}

// TrackStatus asks the peer for the state of track.
func (s *Session) TrackStatus(ctx context.Context, track Track) (TrackStatus, error) {
	if err := s.ready(); err != nil {
		return TrackStatus{}, err
	}
	if !s.role.canSubscribe() {
		return TrackStatus{}, ErrRoleViolation
	}
	id, err := s.allocateRequestID()
	if err != nil {
		return TrackStatus{}, err
	}

	p := newPending[TrackStatus]()
	s.mu.Lock()
	s.statuses[id] = p
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.statuses, id)
		s.mu.Unlock()
	}()

	err = s.control.write(&message.TrackStatusRequestMessage{
		RequestID: id,
		Namespace: track.Namespace,
		TrackName: track.Name,
	})
	if err != nil {
		return TrackStatus{}, err
	}
	return p.wait(ctx, s.ctx)
}

func (s *Session) handleTrackStatus(m *message.TrackStatusMessage) error {
	s.mu.Lock()
	p, ok := s.statuses[m.RequestID]
	delete(s.statuses, m.RequestID)
	s.mu.Unlock()

	if !ok {
		return s.staleReply(m, m.RequestID)
	}
	p.resolve(TrackStatus{Code: m.StatusCode, Largest: m.LargestLocation}, nil)
	return nil
}
