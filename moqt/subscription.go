package moqt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/okdaichi/moqtransport/moqt/internal/message"
)

// SubscriptionState is the lifecycle state of a Subscription.
type SubscriptionState uint8

const (
	SubscriptionRequested SubscriptionState = iota
	SubscriptionActive
	SubscriptionUpdating
	SubscriptionRejected
	SubscriptionCancelled
	SubscriptionCompleted
	SubscriptionError
)

func (s SubscriptionState) String() string {
	switch s {
	case SubscriptionRequested:
		return "requested"
	case SubscriptionActive:
		return "active"
	case SubscriptionUpdating:
		return "updating"
	case SubscriptionRejected:
		return "rejected"
	case SubscriptionCancelled:
		return "cancelled"
	case SubscriptionCompleted:
		return "completed"
	case SubscriptionError:
		return "error"
	default:
		return "unknown"
	}
}

func (s SubscriptionState) terminal() bool {
	return s >= SubscriptionRejected
}

// SubscribeOptions describes a subscription request.
type SubscribeOptions struct {
	// Priority is the subscriber priority. Higher values are served first.
	Priority uint8

	// Policy selects the delivery order. It also sets the requested group order.
	Policy DeliveryPolicy

	// Filter selects the start location. Zero means FilterNextGroupStart.
	Filter FilterType

	// Start is used by FilterAbsoluteStart and FilterAbsoluteRange.
	Start Location

	// EndGroup is the last group delivered under FilterAbsoluteRange.
	EndGroup uint64

	// Paused subscribes without forwarding until an update resumes it.
	Paused bool

	// AuthorizationToken is sent as the AUTHORIZATION_TOKEN parameter when set.
	AuthorizationToken []byte
}

func (o SubscribeOptions) filter() FilterType {
	if o.Filter == 0 {
		return FilterNextGroupStart
	}
	return o.Filter
}

// SubscribeUpdate changes an active subscription.
type SubscribeUpdate struct {
	// Start may not be earlier than the current start.
	Start Location

	// EndGroup is the last group plus one. Zero means open ended.
	EndGroup uint64

	Priority uint8
	Paused   bool
}

// subscriptionHost is the part of a session a Subscription talks to.
type subscriptionHost interface {
	sendControl(message.Message) error
	retireSubscription(*Subscription)
}

type subscriptionConfig struct {
	policy         DeliveryPolicy
	reorderTimeout time.Duration
	maxBuffered    int
	drainTimeout   time.Duration
}

func newSubscription(host subscriptionHost, id uint64, track Track, opts SubscribeOptions, cfg subscriptionConfig, logger *slog.Logger) *Subscription {
	sub := &Subscription{
		host:     host,
		id:       id,
		track:    track,
		opts:     opts,
		cfg:      cfg,
		logger:   logger.With("request_id", id, "track", track.String()),
		resolved: make(chan struct{}),
		state:    SubscriptionRequested,
		priority: opts.Priority,
		forward:  !opts.Paused,
	}
	switch opts.filter() {
	case FilterAbsoluteStart:
		sub.start = opts.Start
	case FilterAbsoluteRange:
		sub.start = opts.Start
		sub.endGroup = opts.EndGroup + 1
	}
	return sub
}

// Subscription is the subscriber side of one SUBSCRIBE request.
type Subscription struct {
	host   subscriptionHost
	id     uint64
	track  Track
	opts   SubscribeOptions
	cfg    subscriptionConfig
	logger *slog.Logger

	resolved     chan struct{}
	resolveOnce  sync.Once
	timeout      *time.Timer
	retireOnce   sync.Once
	unsubscribed bool

	mu            sync.Mutex
	state         SubscriptionState
	err           error
	alias         uint64
	groupOrder    GroupOrder
	contentExists bool
	largest       Location
	start         Location
	endGroup      uint64 // exclusive, 0 is open ended
	priority      uint8
	forward       bool
	recv          *receiver
}

// ID returns the request id of the subscription.
func (s *Subscription) ID() uint64 { return s.id }

// Track returns the subscribed track.
func (s *Subscription) Track() Track { return s.track }

// State returns the current state.
func (s *Subscription) State() SubscriptionState {
	s.mu.Lock()
	state, recv := s.state, s.recv
	s.mu.Unlock()

	if (state == SubscriptionActive || state == SubscriptionUpdating) && recv != nil && recv.completed() {
		return SubscriptionCompleted
	}
	return state
}

// TrackAlias returns the alias assigned by the publisher.
func (s *Subscription) TrackAlias() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alias
}

// GroupOrder returns the group order the publisher confirmed.
func (s *Subscription) GroupOrder() GroupOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groupOrder
}

// Largest returns the largest location the publisher reported in SUBSCRIBE_OK.
func (s *Subscription) Largest() (Location, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.largest, s.contentExists
}

// Err returns the failure of a rejected or failed subscription.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Ready waits until the publisher accepted or rejected the subscription.
func (s *Subscription) Ready(ctx context.Context) error {
	select {
	case <-s.resolved:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SubscriptionCancelled {
		return ErrSubscriptionCancelled
	}
	return s.err
}

// Next returns the next delivery event. It returns io.EOF once the
// subscription completed and every event was read.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	select {
	case <-s.resolved:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	recv, state, err := s.recv, s.state, s.err
	s.mu.Unlock()

	if recv == nil {
		if state == SubscriptionCancelled {
			return nil, ErrSubscriptionCancelled
		}
		return nil, err
	}
	return recv.next(ctx)
}

// Update changes the start, end, priority or forwarding of an active
// subscription. It is acknowledged once SUBSCRIBE_UPDATE is written.
func (s *Subscription) Update(ctx context.Context, u SubscribeUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	switch s.state {
	case SubscriptionActive:
	case SubscriptionUpdating:
		s.mu.Unlock()
		return ErrUpdateInProgress
	default:
		s.mu.Unlock()
		return ErrNotActive
	}
	if u.Start.Compare(s.start) < 0 || (u.EndGroup != 0 && u.EndGroup <= u.Start.Group) {
		s.mu.Unlock()
		return ErrInvalidRange
	}
	s.state = SubscriptionUpdating
	s.mu.Unlock()

	err := s.host.sendControl(&message.SubscribeUpdateMessage{
		RequestID:          s.id,
		StartLocation:      u.Start,
		EndGroup:           u.EndGroup,
		SubscriberPriority: u.Priority,
		Forward:            !u.Paused,
	})

	s.mu.Lock()
	if s.state == SubscriptionUpdating {
		s.state = SubscriptionActive
	}
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.start = u.Start
	s.endGroup = u.EndGroup
	s.priority = u.Priority
	s.forward = !u.Paused
	recv := s.recv
	s.mu.Unlock()

	if recv != nil {
		recv.setStart(u.Start, u.EndGroup)
	}
	s.logger.Debug("subscription updated", "start", u.Start.String(), "end_group", u.EndGroup)
	return nil
}

// Unsubscribe cancels the subscription. It is a no-op once terminal.
func (s *Subscription) Unsubscribe() error {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return nil
	}
	s.state = SubscriptionCancelled
	recv := s.recv
	s.mu.Unlock()

	s.stopTimeout()
	s.resolve()
	if recv != nil {
		recv.close(ErrSubscriptionCancelled)
	}
	s.retire()

	s.logger.Debug("unsubscribing")
	return s.host.sendControl(&message.UnsubscribeMessage{RequestID: s.id})
}

func (s *Subscription) resolve() {
	s.resolveOnce.Do(func() { close(s.resolved) })
}

func (s *Subscription) retire() {
	s.retireOnce.Do(func() { s.host.retireSubscription(s) })
}

func (s *Subscription) startTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SubscriptionRequested {
		s.timeout = time.AfterFunc(d, s.expire)
	}
}

func (s *Subscription) stopTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timeout != nil {
		s.timeout.Stop()
	}
}

// expire fails a subscription that got no reply in time.
func (s *Subscription) expire() {
	s.mu.Lock()
	if s.state != SubscriptionRequested {
		s.mu.Unlock()
		return
	}
	s.state = SubscriptionError
	s.err = ErrSubscribeTimeout
	s.mu.Unlock()

	s.logger.Warn("subscribe timed out")
	s.resolve()
	s.retire()
	s.host.sendControl(&message.UnsubscribeMessage{RequestID: s.id})
}

// accept applies SUBSCRIBE_OK. It reports false when the subscription is
// no longer awaiting a reply.
func (s *Subscription) accept(m *message.SubscribeOKMessage) bool {
	s.mu.Lock()
	if s.state != SubscriptionRequested {
		s.mu.Unlock()
		return false
	}
	if s.timeout != nil {
		s.timeout.Stop()
	}

	s.state = SubscriptionActive
	s.alias = m.TrackAlias
	s.groupOrder = m.GroupOrder
	s.contentExists = m.ContentExists
	s.largest = m.LargestLocation

	anchored := true
	switch s.opts.filter() {
	case FilterNextGroupStart:
		if m.ContentExists {
			s.start = Location{Group: m.LargestLocation.Group + 1}
		} else {
			anchored = false
		}
	case FilterLatestObject:
		if m.ContentExists {
			s.start = Location{Group: m.LargestLocation.Group, Object: m.LargestLocation.Object + 1}
		} else {
			anchored = false
		}
	}
	s.recv = newReceiver(receiverConfig{
		policy:         s.cfg.policy,
		reorderTimeout: s.cfg.reorderTimeout,
		maxBuffered:    s.cfg.maxBuffered,
		start:          s.start,
		anchored:       anchored,
		endGroup:       s.endGroup,
		onClose:        s.receiverClosed,
	})
	s.mu.Unlock()

	s.logger.Info("subscription active", "track_alias", m.TrackAlias, "start", s.start.String())
	s.resolve()
	return true
}

// receiverClosed completes a drained subscription.
func (s *Subscription) receiverClosed(err error) {
	if err != io.EOF {
		return
	}
	s.mu.Lock()
	if s.state == SubscriptionActive || s.state == SubscriptionUpdating {
		s.state = SubscriptionCompleted
	}
	s.mu.Unlock()

	s.logger.Debug("subscription completed")
	s.retire()
}

// reject applies SUBSCRIBE_ERROR.
func (s *Subscription) reject(code SubscribeErrorCode, reason string) bool {
	s.mu.Lock()
	if s.state != SubscriptionRequested {
		s.mu.Unlock()
		return false
	}
	if s.timeout != nil {
		s.timeout.Stop()
	}
	s.state = SubscriptionRejected
	s.err = &SubscribeError{Code: code, Reason: reason}
	s.mu.Unlock()

	s.logger.Info("subscription rejected", "code", code.String(), "reason", reason)
	s.resolve()
	s.retire()
	return true
}

// finish applies SUBSCRIBE_DONE. The subscription completes once count
// streams were drained.
func (s *Subscription) finish(code SubscribeDoneCode, count uint64, reason string) {
	s.mu.Lock()
	recv := s.recv
	s.mu.Unlock()

	s.logger.Info("subscription done", "code", code.String(), "stream_count", count, "reason", reason)
	if recv != nil {
		recv.completeAfter(count, s.cfg.drainTimeout)
	}
}

// fail ends the subscription with err.
func (s *Subscription) fail(err error) {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return
	}
	recv := s.recv
	if recv == nil || !recv.completed() {
		s.state = SubscriptionError
		s.err = err
	}
	s.mu.Unlock()

	s.stopTimeout()
	s.resolve()
	if recv != nil {
		recv.close(err)
	}
}

// receiverFor returns the receiver of an active subscription.
func (s *Subscription) receiverFor() (*receiver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recv == nil {
		return nil, errors.New("moqt: subscription not active")
	}
	return s.recv, nil
}
