package moqt

import (
	"fmt"
	"time"

	"github.com/okdaichi/moqtransport/moqt/internal/message"
)

// GoAway asks the peer to migrate. Only servers may name a new session URI.
// The session moves to Closing and closes with GoAwayTimeoutErrorCode once
// Config.GoAwayTimeout passes.
func (s *Session) GoAway(uri string) error {
	if s.perspective == perspectiveClient && uri != "" {
		return fmt.Errorf("%w: clients cannot send a new session uri", ErrProtocolViolation)
	}

	s.mu.Lock()
	switch {
	case s.state != StateEstablished && s.state != StateClosing:
		s.mu.Unlock()
		return ErrSessionNotReady
	case s.goAwaySent:
		s.mu.Unlock()
		return fmt.Errorf("%w: GOAWAY already sent", ErrProtocolViolation)
	}
	s.goAwaySent = true
	s.state = StateClosing
	s.goAwayTimer = time.AfterFunc(s.config.goAwayTimeout(), func() {
		s.shutdown(GoAwayTimeoutErrorCode, "goaway timeout", nil, false)
	})
	s.mu.Unlock()

	s.logger.Info("sending goaway", "uri", uri)
	return s.control.write(&message.GoAwayMessage{NewSessionURI: uri})
}

func (s *Session) handleGoAway(m *message.GoAwayMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.goAwayReceived {
		return violation("duplicate GOAWAY")
	}
	if s.perspective == perspectiveServer && m.NewSessionURI != "" {
		return violation("GOAWAY from client carries a new session uri")
	}
	s.goAwayReceived = true
	s.goAwayURI = m.NewSessionURI
	if s.state == StateEstablished {
		s.state = StateClosing
	}
	s.logger.Info("received goaway", "uri", m.NewSessionURI)
	return nil
}

// GoAwayURI returns the new session URI of a received GOAWAY.
func (s *Session) GoAwayURI() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.goAwayURI, s.goAwayReceived
}
