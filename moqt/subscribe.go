package moqt

import (
	"context"
	"fmt"
	"time"

	"github.com/okdaichi/moqtransport/moqt/internal/message"
)

// Subscribe requests track from the peer and returns a Subscription in
// SubscriptionRequested. Use Ready to wait for the reply.
func (s *Session) Subscribe(ctx context.Context, track Track, opts SubscribeOptions) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	if !s.role.canSubscribe() {
		return nil, ErrRoleViolation
	}
	if !s.remote.covers(track.Namespace) && !s.config.forwardUnannounced() {
		return nil, ErrTrackDoesNotExist
	}
	filter := opts.filter()
	if filter == FilterAbsoluteRange && opts.EndGroup < opts.Start.Group {
		return nil, ErrInvalidRange
	}

	id, err := s.allocateRequestID()
	if err != nil {
		return nil, err
	}

	sub := newSubscription(s, id, track, opts, subscriptionConfig{
		policy:         opts.Policy,
		reorderTimeout: s.config.groupReorderTimeout(),
		maxBuffered:    s.config.maxBufferedEvents(),
		drainTimeout:   s.config.drainTimeout(),
	}, s.logger)

	s.mu.Lock()
	s.subscriptions[id] = sub
	s.mu.Unlock()

	msg := &message.SubscribeMessage{
		RequestID:          id,
		Namespace:          track.Namespace,
		TrackName:          track.Name,
		SubscriberPriority: opts.Priority,
		GroupOrder:         opts.Policy.groupOrder(),
		Forward:            !opts.Paused,
		FilterType:         filter,
	}
	switch filter {
	case FilterAbsoluteStart:
		msg.StartLocation = opts.Start
	case FilterAbsoluteRange:
		msg.StartLocation = opts.Start
		msg.EndGroup = opts.EndGroup
	}
	if len(opts.AuthorizationToken) > 0 {
		msg.Parameters = append(msg.Parameters, message.Parameter{
			Type:  message.ParameterAuthorizationToken,
			Bytes: opts.AuthorizationToken,
		})
	}

	if err := s.control.write(msg); err != nil {
		s.retireSubscription(sub)
		return nil, err
	}
	sub.startTimeout(s.config.subscribeTimeout())

	sub.logger.Debug("sent subscribe", "filter", filter.String(), "policy", opts.Policy.String())
	return sub, nil
}

// retireSubscription forgets sub. Its request id is never reused.
func (s *Session) retireSubscription(sub *Subscription) {
	s.mu.Lock()
	if s.subscriptions[sub.id] == sub {
		delete(s.subscriptions, sub.id)
	}
	alias := sub.TrackAlias()
	if s.aliases[alias] == sub {
		delete(s.aliases, alias)
	}
	s.mu.Unlock()

	s.mux.cancelInboundFor(sub.id, CancelledGroupErrorCode)
}

func (s *Session) handleSubscribeOK(m *message.SubscribeOKMessage) error {
	s.mu.Lock()
	sub, ok := s.subscriptions[m.RequestID]
	if !ok {
		s.mu.Unlock()
		return s.staleReply(m, m.RequestID)
	}
	if other, dup := s.aliases[m.TrackAlias]; dup && other != sub {
		s.mu.Unlock()
		return &protocolError{
			code: DuplicateTrackAliasErrorCode,
			err:  fmt.Errorf("%w: track alias %d already in use", ErrProtocolViolation, m.TrackAlias),
		}
	}
	// The alias is visible before Ready returns.
	if !sub.accept(m) {
		s.mu.Unlock()
		return violation("SUBSCRIBE_OK for resolved subscription %d", m.RequestID)
	}
	s.aliases[m.TrackAlias] = sub
	close(s.aliasChanged)
	s.aliasChanged = make(chan struct{})
	s.mu.Unlock()
	return nil
}

func (s *Session) handleSubscribeError(m *message.SubscribeErrorMessage) error {
	s.mu.Lock()
	sub, ok := s.subscriptions[m.RequestID]
	s.mu.Unlock()

	if !ok {
		return s.staleReply(m, m.RequestID)
	}
	if !sub.reject(SubscribeErrorCode(m.ErrorCode), m.Reason) {
		return violation("SUBSCRIBE_ERROR for resolved subscription %d", m.RequestID)
	}
	return nil
}

func (s *Session) handleSubscribeDone(m *message.SubscribeDoneMessage) error {
	s.mu.Lock()
	sub, ok := s.subscriptions[m.RequestID]
	s.mu.Unlock()

	if !ok {
		return s.staleReply(m, m.RequestID)
	}
	if sub.State() == SubscriptionRequested {
		return &protocolError{
			code: ProtocolViolationErrorCode,
			err:  fmt.Errorf("%w: SUBSCRIBE_DONE before subscription %d resolved", ErrMalformedMessage, m.RequestID),
		}
	}
	sub.finish(SubscribeDoneCode(m.StatusCode), m.StreamCount, m.Reason)
	return nil
}

// lookupAlias returns the subscription owning alias, waiting up to
// Config.AliasTimeout for a SUBSCRIBE_OK that assigns it.
func (s *Session) lookupAlias(ctx context.Context, alias uint64) (*Subscription, bool) {
	timer := time.NewTimer(s.config.aliasTimeout())
	defer timer.Stop()

	for {
		s.mu.Lock()
		sub, ok := s.aliases[alias]
		changed := s.aliasChanged
		s.mu.Unlock()

		if ok {
			return sub, true
		}
		select {
		case <-changed:
		case <-timer.C:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
}
