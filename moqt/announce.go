package moqt

import (
	"context"
	"errors"
	"fmt"

	"github.com/okdaichi/moqtransport/moqt/internal/message"
)

// Announce advertises ns to the peer and waits for ANNOUNCE_OK.
// A rejection is returned as *AnnounceError.
func (s *Session) Announce(ctx context.Context, ns TrackNamespace) error {
	if err := s.ready(); err != nil {
		return err
	}
	if !s.role.canPublish() {
		return ErrRoleViolation
	}
	if len(ns) == 0 {
		return fmt.Errorf("%w: empty namespace", ErrProtocolViolation)
	}
	switch s.local.state(ns) {
	case Announced, announcePending:
		return ErrDuplicateAnnouncement
	}

	id, err := s.allocateRequestID()
	if err != nil {
		return err
	}
	if err := s.local.announce(ns, id, true); err != nil {
		return err
	}

	p := newPending[struct{}]()
	s.mu.Lock()
	s.announces[id] = p
	s.mu.Unlock()

	logger := s.logger.With("request_id", id, "namespace", ns.String())

	if err := s.control.write(&message.AnnounceMessage{RequestID: id, Namespace: ns}); err != nil {
		s.forgetAnnounce(id)
		return err
	}
	logger.Debug("sent announce")

	if _, err := p.wait(ctx, s.ctx); err != nil {
		s.forgetAnnounce(id)
		var aerr *AnnounceError
		if !errors.As(err, &aerr) && s.live() == nil {
			// Retract an announcement the caller gave up on.
			s.control.write(&message.UnannounceMessage{Namespace: ns})
		}
		logger.Debug("announce failed", "error", err)
		return err
	}
	logger.Info("announced")
	return nil
}

func (s *Session) forgetAnnounce(id uint64) {
	s.mu.Lock()
	delete(s.announces, id)
	s.mu.Unlock()
	s.local.reject(id)
}

func (s *Session) handleAnnounceOK(m *message.AnnounceOKMessage) error {
	s.mu.Lock()
	p, ok := s.announces[m.RequestID]
	delete(s.announces, m.RequestID)
	s.mu.Unlock()

	if !ok {
		return s.staleReply(m, m.RequestID)
	}
	s.local.confirm(m.RequestID)
	p.resolve(struct{}{}, nil)
	return nil
}

func (s *Session) handleAnnounceError(m *message.AnnounceErrorMessage) error {
	s.mu.Lock()
	p, ok := s.announces[m.RequestID]
	delete(s.announces, m.RequestID)
	s.mu.Unlock()

	if !ok {
		return s.staleReply(m, m.RequestID)
	}
	s.local.reject(m.RequestID)
	p.resolve(struct{}{}, &AnnounceError{Code: AnnounceErrorCode(m.ErrorCode), Reason: m.Reason})
	return nil
}

// Unannounce withdraws ns. Active subscriptions continue unless
// Config.CancelOnUnannounce is set.
func (s *Session) Unannounce(ns TrackNamespace) error {
	if err := s.live(); err != nil {
		return err
	}
	if !s.role.canPublish() {
		return ErrRoleViolation
	}
	if err := s.local.withdraw(ns); err != nil {
		return err
	}
	if err := s.control.write(&message.UnannounceMessage{Namespace: ns}); err != nil {
		return err
	}
	s.logger.Info("unannounced", "namespace", ns.String())
	s.namespaceWithdrawn(ns)
	return nil
}

func (s *Session) namespaceWithdrawn(ns TrackNamespace) {
	if s.config.cancelOnUnannounce() {
		s.pub.endNamespace(ns, TrackEndedSubscribeDoneCode, "namespace withdrawn")
	}
}

// handleAnnounceCancel handles the peer asking us to stop announcing.
func (s *Session) handleAnnounceCancel(m *message.AnnounceCancelMessage) error {
	if err := s.local.withdraw(m.Namespace); err != nil {
		s.logger.Debug("announce cancel for unknown namespace", "namespace", m.Namespace.String())
		return nil
	}
	s.logger.Info("announcement cancelled by peer",
		"namespace", m.Namespace.String(),
		"code", AnnounceErrorCode(m.ErrorCode).String(),
		"reason", m.Reason,
	)
	s.namespaceWithdrawn(m.Namespace)
	return nil
}

func (s *Session) handleAnnounce(m *message.AnnounceMessage) error {
	if err := s.acceptRequest(m.RequestID); err != nil {
		return err
	}
	if !s.role.canSubscribe() {
		return s.control.write(&message.AnnounceErrorMessage{
			RequestID: m.RequestID,
			ErrorCode: uint64(NotSupportedAnnounceErrorCode),
			Reason:    "not a subscriber",
		})
	}
	if err := s.remote.announce(m.Namespace, m.RequestID, false); err != nil {
		return s.control.write(&message.AnnounceErrorMessage{
			RequestID: m.RequestID,
			ErrorCode: uint64(InternalAnnounceErrorCode),
			Reason:    err.Error(),
		})
	}
	s.logger.Info("peer announced", "namespace", m.Namespace.String())
	return s.control.write(&message.AnnounceOKMessage{RequestID: m.RequestID})
}

func (s *Session) handleUnannounce(m *message.UnannounceMessage) error {
	if err := s.remote.withdraw(m.Namespace); err != nil {
		s.logger.Debug("unannounce for unknown namespace", "namespace", m.Namespace.String())
		return nil
	}
	s.logger.Info("peer unannounced", "namespace", m.Namespace.String())
	return nil
}

// CancelAnnounce tells the peer to stop announcing ns.
func (s *Session) CancelAnnounce(ns TrackNamespace, code AnnounceErrorCode, reason string) error {
	if err := s.live(); err != nil {
		return err
	}
	if !s.role.canSubscribe() {
		return ErrRoleViolation
	}
	if err := s.remote.withdraw(ns); err != nil {
		return err
	}
	return s.control.write(&message.AnnounceCancelMessage{
		Namespace: ns,
		ErrorCode: uint64(code),
		Reason:    reason,
	})
}

// AnnounceState returns the state of ns in the local registry, or in the
// peer's when remote is true.
func (s *Session) AnnounceState(ns TrackNamespace, remote bool) AnnounceState {
	if remote {
		return s.remote.state(ns)
	}
	state := s.local.state(ns)
	if state == announcePending {
		return Unannounced
	}
	return state
}

// AwaitAnnouncement waits until the peer announces a namespace related to
// prefix and returns it.
func (s *Session) AwaitAnnouncement(ctx context.Context, prefix TrackNamespace) (TrackNamespace, error) {
	if !s.role.canSubscribe() {
		return nil, ErrRoleViolation
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(s.ctx, func() { cancel(context.Cause(s.ctx)) })
	defer stop()

	return s.remote.wait(ctx, prefix)
}

// SubscribeAnnounces asks the peer to announce namespaces under prefix.
func (s *Session) SubscribeAnnounces(ctx context.Context, prefix TrackNamespace) error {
	if err := s.ready(); err != nil {
		return err
	}
	if !s.role.canSubscribe() {
		return ErrRoleViolation
	}
	id, err := s.allocateRequestID()
	if err != nil {
		return err
	}

	p := newPending[struct{}]()
	s.mu.Lock()
	s.announceSubs[id] = p
	s.mu.Unlock()

	forget := func() {
		s.mu.Lock()
		delete(s.announceSubs, id)
		s.mu.Unlock()
	}

	if err := s.control.write(&message.SubscribeAnnouncesMessage{RequestID: id, Prefix: prefix}); err != nil {
		forget()
		return err
	}
	if _, err := p.wait(ctx, s.ctx); err != nil {
		forget()
		return err
	}
	return nil
}

// UnsubscribeAnnounces withdraws a SubscribeAnnounces interest.
func (s *Session) UnsubscribeAnnounces(prefix TrackNamespace) error {
	if err := s.live(); err != nil {
		return err
	}
	return s.control.write(&message.UnsubscribeAnnouncesMessage{Prefix: prefix})
}

func (s *Session) handleSubscribeAnnouncesOK(m *message.SubscribeAnnouncesOKMessage) error {
	s.mu.Lock()
	p, ok := s.announceSubs[m.RequestID]
	delete(s.announceSubs, m.RequestID)
	s.mu.Unlock()

	if !ok {
		return s.staleReply(m, m.RequestID)
	}
	p.resolve(struct{}{}, nil)
	return nil
}

func (s *Session) handleSubscribeAnnouncesError(m *message.SubscribeAnnouncesErrorMessage) error {
	s.mu.Lock()
	p, ok := s.announceSubs[m.RequestID]
	delete(s.announceSubs, m.RequestID)
	s.mu.Unlock()

	if !ok {
		return s.staleReply(m, m.RequestID)
	}
	p.resolve(struct{}{}, &AnnounceError{Code: AnnounceErrorCode(m.ErrorCode), Reason: m.Reason})
	return nil
}

func (s *Session) handleSubscribeAnnounces(m *message.SubscribeAnnouncesMessage) error {
	if err := s.acceptRequest(m.RequestID); err != nil {
		return err
	}
	reply := func(code AnnounceErrorCode, reason string) error {
		return s.control.write(&message.SubscribeAnnouncesErrorMessage{
			RequestID: m.RequestID,
			ErrorCode: uint64(code),
			Reason:    reason,
		})
	}
	if !s.role.canPublish() {
		return reply(NotSupportedAnnounceErrorCode, "not a publisher")
	}

	key := namespaceKey(m.Prefix)
	s.mu.Lock()
	_, dup := s.interests[key]
	if !dup {
		s.interests[key] = m.Prefix
	}
	s.mu.Unlock()

	if dup {
		return reply(NamespacePrefixOverlapErrorCode, "prefix already subscribed")
	}
	s.logger.Debug("peer subscribed to announcements", "prefix", m.Prefix.String())
	return s.control.write(&message.SubscribeAnnouncesOKMessage{RequestID: m.RequestID})
}

func (s *Session) handleUnsubscribeAnnounces(m *message.UnsubscribeAnnouncesMessage) error {
	s.mu.Lock()
	delete(s.interests, namespaceKey(m.Prefix))
	s.mu.Unlock()
	return nil
}
