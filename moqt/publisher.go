package moqt

import (
	"context"
	"log/slog"
	"sync"

	"github.com/okdaichi/moqtransport/moqt/internal/message"
)

// publication is the publisher side of one SUBSCRIBE from the peer.
// Its fields are guarded by publisher.mu.
type publication struct {
	id     uint64
	alias  uint64
	track  *trackState
	logger *slog.Logger

	priority uint8
	forward  bool
	order    GroupOrder
	start    Location
	endGroup uint64 // exclusive, 0 is open ended

	latest     uint64 // newest group sent under descending order
	haveLatest bool
}

func (p *publication) admits(loc Location) bool {
	if !p.forward || loc.Compare(p.start) < 0 {
		return false
	}
	if p.endGroup != 0 && loc.Group >= p.endGroup {
		return false
	}
	if p.order == GroupOrderDescending && p.haveLatest && loc.Group < p.latest {
		return false
	}
	return true
}

// trackState is the publisher's view of one local track.
type trackState struct {
	track      Track
	largest    Location
	hasLargest bool
	ended      bool

	pubs map[uint64]*publication
	open map[uint64]*GroupWriter
}

func (ts *trackState) observe(loc Location) {
	if !ts.hasLargest || loc.Compare(ts.largest) > 0 {
		ts.largest = loc
		ts.hasLargest = true
	}
}

func newPublisher(sess *Session) *publisher {
	return &publisher{
		sess:    sess,
		logger:  sess.logger,
		tracks:  make(map[string]*trackState),
		pubs:    make(map[uint64]*publication),
		fetches: make(map[uint64]*fetchResponse),
	}
}

// publisher serves the peer's subscriptions, fetches and track status
// requests for local tracks.
type publisher struct {
	sess   *Session
	logger *slog.Logger

	mu        sync.Mutex
	tracks    map[string]*trackState
	pubs      map[uint64]*publication
	fetches   map[uint64]*fetchResponse
	nextAlias uint64
	closed    bool
}

func (p *publisher) trackLocked(track Track) *trackState {
	key := track.key()
	ts, ok := p.tracks[key]
	if !ok {
		ts = &trackState{
			track: track,
			pubs:  make(map[uint64]*publication),
			open:  make(map[uint64]*GroupWriter),
		}
		p.tracks[key] = ts
	}
	return ts
}

// unknownRequest decides what to do with a message naming a request id
// that has no live publication.
func (p *publisher) unknownRequest(m message.Message, id uint64) error {
	if p.sess.requests.seen(id) {
		p.logger.Debug("dropping message for ended request", "type", m.Type().String(), "request_id", id)
		return nil
	}
	return violation("%s for unknown request %d", m.Type(), id)
}

func (p *publisher) handleSubscribe(m *message.SubscribeMessage) error {
	s := p.sess
	if err := s.acceptRequest(m.RequestID); err != nil {
		return err
	}
	reply := func(code SubscribeErrorCode, reason string) error {
		p.logger.Debug("rejecting subscribe", "request_id", m.RequestID, "code", code.String())
		return s.control.write(&message.SubscribeErrorMessage{
			RequestID: m.RequestID,
			ErrorCode: uint64(code),
			Reason:    reason,
		})
	}
	if !s.role.canPublish() {
		return reply(NotSupportedSubscribeErrorCode, "not a publisher")
	}
	if !s.local.covers(m.Namespace) {
		return reply(TrackDoesNotExistErrorCode, "namespace not announced")
	}
	if m.FilterType == FilterAbsoluteRange && m.EndGroup < m.StartLocation.Group {
		return reply(InvalidRangeErrorCode, "end group before start")
	}

	track := Track{Namespace: m.Namespace, Name: m.TrackName}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	ts := p.trackLocked(track)
	if ts.ended {
		p.mu.Unlock()
		return reply(TrackDoesNotExistErrorCode, "track ended")
	}

	pub := &publication{
		id:       m.RequestID,
		alias:    p.nextAlias,
		track:    ts,
		priority: m.SubscriberPriority,
		forward:  m.Forward,
		order:    m.GroupOrder,
	}
	p.nextAlias++
	if pub.order == GroupOrderDefault {
		pub.order = GroupOrderAscending
	}
	switch m.FilterType {
	case FilterNextGroupStart:
		if ts.hasLargest {
			pub.start = Location{Group: ts.largest.Group + 1}
		}
	case FilterLatestObject:
		if ts.hasLargest {
			pub.start = Location{Group: ts.largest.Group, Object: ts.largest.Object + 1}
		}
	case FilterAbsoluteStart:
		pub.start = m.StartLocation
	case FilterAbsoluteRange:
		pub.start = m.StartLocation
		pub.endGroup = m.EndGroup + 1
	}
	pub.logger = p.logger.With("request_id", pub.id, "track_alias", pub.alias, "track", track.String())

	ok := &message.SubscribeOKMessage{
		RequestID:       m.RequestID,
		TrackAlias:      pub.alias,
		GroupOrder:      pub.order,
		ContentExists:   ts.hasLargest,
		LargestLocation: ts.largest,
	}
	ts.pubs[pub.id] = pub
	p.pubs[pub.id] = pub
	p.mu.Unlock()

	s.mux.register(pub.id)

	if err := s.control.write(ok); err != nil {
		return err
	}
	pub.logger.Info("accepted subscription", "start", pub.start.String(), "end_group", pub.endGroup)
	return nil
}

func (p *publisher) handleSubscribeUpdate(m *message.SubscribeUpdateMessage) error {
	p.mu.Lock()
	pub, ok := p.pubs[m.RequestID]
	if !ok {
		p.mu.Unlock()
		return p.unknownRequest(m, m.RequestID)
	}
	if m.StartLocation.Compare(pub.start) < 0 {
		p.mu.Unlock()
		return violation("SUBSCRIBE_UPDATE moves start of %d backward", m.RequestID)
	}
	pub.start = m.StartLocation
	pub.endGroup = m.EndGroup
	pub.priority = m.SubscriberPriority
	pub.forward = m.Forward
	p.mu.Unlock()

	pub.logger.Debug("subscription updated", "start", m.StartLocation.String(), "forward", m.Forward)
	return nil
}

func (p *publisher) handleUnsubscribe(m *message.UnsubscribeMessage) error {
	p.mu.Lock()
	pub, ok := p.pubs[m.RequestID]
	p.mu.Unlock()
	if !ok {
		return p.unknownRequest(m, m.RequestID)
	}
	code := CancelledGroupErrorCode
	return p.end(pub, SubscriptionEndedSubscribeDoneCode, "unsubscribed", &code)
}

// end removes pub, closes its channels and sends SUBSCRIBE_DONE. Channels
// are finished when reset is nil.
func (p *publisher) end(pub *publication, code SubscribeDoneCode, reason string, reset *GroupErrorCode) error {
	p.mu.Lock()
	if p.pubs[pub.id] != pub {
		p.mu.Unlock()
		return nil
	}
	delete(p.pubs, pub.id)
	delete(pub.track.pubs, pub.id)
	p.mu.Unlock()

	count := p.sess.mux.unregister(pub.id, reset)
	pub.logger.Info("subscription done", "code", code.String(), "stream_count", count)

	if err := p.sess.live(); err != nil {
		return nil
	}
	return p.sess.control.write(&message.SubscribeDoneMessage{
		RequestID:   pub.id,
		StatusCode:  uint64(code),
		StreamCount: count,
		Reason:      reason,
	})
}

// endNamespace ends every subscription to a track under ns.
func (p *publisher) endNamespace(ns TrackNamespace, code SubscribeDoneCode, reason string) {
	p.mu.Lock()
	var pubs []*publication
	for _, pub := range p.pubs {
		if pub.track.track.Namespace.HasPrefix(ns) {
			pubs = append(pubs, pub)
		}
	}
	p.mu.Unlock()

	reset := CancelledGroupErrorCode
	for _, pub := range pubs {
		if err := p.end(pub, code, reason, &reset); err != nil {
			p.logger.Warn("failed to end subscription", "request_id", pub.id, "error", err)
		}
	}
}

// finishRanges ends AbsoluteRange subscriptions of ts whose last group
// was closed and that have no open group left in range.
func (p *publisher) finishRanges(ts *trackState, closed uint64) {
	p.mu.Lock()
	var done []*publication
	for _, pub := range ts.pubs {
		if pub.endGroup == 0 || closed+1 < pub.endGroup {
			continue
		}
		pending := false
		for id := range ts.open {
			if id >= pub.start.Group && id < pub.endGroup {
				pending = true
				break
			}
		}
		if !pending {
			done = append(done, pub)
		}
	}
	p.mu.Unlock()

	for _, pub := range done {
		if err := p.end(pub, SubscriptionEndedSubscribeDoneCode, "range complete", nil); err != nil {
			p.logger.Warn("failed to end subscription", "request_id", pub.id, "error", err)
		}
	}
}

// EndTrack ends every subscription to track with TrackEnded. Publishing
// to the track afterwards fails with ErrTrackEnded.
func (s *Session) EndTrack(track Track) error {
	if err := s.live(); err != nil {
		return err
	}
	if !s.role.canPublish() {
		return ErrRoleViolation
	}
	p := s.pub

	p.mu.Lock()
	ts := p.trackLocked(track)
	ts.ended = true
	pubs := make([]*publication, 0, len(ts.pubs))
	for _, pub := range ts.pubs {
		pubs = append(pubs, pub)
	}
	p.mu.Unlock()

	s.logger.Info("ending track", "track", track.String(), "subscriptions", len(pubs))
	for _, pub := range pubs {
		if err := p.end(pub, TrackEndedSubscribeDoneCode, "track ended", nil); err != nil {
			return err
		}
	}
	return nil
}

// targets returns the publications that want loc, applying descending
// order preemption.
func (p *publisher) targets(ts *trackState, loc Location) []target {
	p.mu.Lock()
	defer p.mu.Unlock()

	ts.observe(loc)

	var out []target
	for _, pub := range ts.pubs {
		if !pub.admits(loc) {
			continue
		}
		preempt := false
		if pub.order == GroupOrderDescending && (!pub.haveLatest || loc.Group > pub.latest) {
			preempt = pub.haveLatest
			pub.latest = loc.Group
			pub.haveLatest = true
		}
		out = append(out, target{
			id:       pub.id,
			alias:    pub.alias,
			priority: pub.priority,
			preempt:  preempt,
			logger:   pub.logger,
		})
	}
	return out
}

// target is a snapshot of a publication taken for one object.
type target struct {
	id       uint64
	alias    uint64
	priority uint8
	preempt  bool
	logger   *slog.Logger
}

func (p *publisher) close() {
	p.mu.Lock()
	p.closed = true
	fetches := p.fetches
	p.fetches = make(map[uint64]*fetchResponse)
	clear(p.pubs)
	for _, ts := range p.tracks {
		clear(ts.pubs)
	}
	p.mu.Unlock()

	for _, f := range fetches {
		f.cancel(SessionClosedGroupErrorCode)
	}
}

func (p *publisher) handleTrackStatusRequest(m *message.TrackStatusRequestMessage) error {
	s := p.sess
	if err := s.acceptRequest(m.RequestID); err != nil {
		return err
	}
	status := &message.TrackStatusMessage{RequestID: m.RequestID}

	switch {
	case !s.role.canPublish() || !s.local.covers(m.Namespace):
		status.StatusCode = message.TrackStatusDoesNotExist
	default:
		p.mu.Lock()
		ts, ok := p.tracks[Track{Namespace: m.Namespace, Name: m.TrackName}.key()]
		switch {
		case ok && ts.ended:
			status.StatusCode = message.TrackStatusFinished
			status.LargestLocation = ts.largest
		case !ok || !ts.hasLargest:
			status.StatusCode = message.TrackStatusNotBegun
		default:
			status.StatusCode = message.TrackStatusInProgress
			status.LargestLocation = ts.largest
		}
		p.mu.Unlock()
	}
	return s.control.write(status)
}

// acquire waits for a write slot for an object of the given priorities.
func (p *publisher) acquire(ctx context.Context, subscriberPriority, publisherPriority uint8) (func(), error) {
	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(p.sess.ctx, func() { cancel(context.Cause(p.sess.ctx)) })

	release, err := p.sess.sched.Acquire(ctx, subscriberPriority, publisherPriority)
	stop()
	cancel(nil)
	if err != nil && p.sess.ctx.Err() != nil {
		return nil, ErrClosedSession
	}
	return release, err
}
