package moqt

import (
	"context"
	"io"
	"slices"
	"sync"
	"time"
)

// DeliveryPolicy selects how a subscription orders objects of different groups.
type DeliveryPolicy uint8

const (
	// DeliverInOrder delivers groups in ascending order. A later group waits
	// behind an earlier one until it ends or the reorder timeout skips it.
	DeliverInOrder DeliveryPolicy = iota

	// DeliverLatestGroup abandons older groups as soon as a newer group arrives.
	DeliverLatestGroup

	// DeliverIndependent delivers objects as they arrive.
	DeliverIndependent
)

func (p DeliveryPolicy) String() string {
	switch p {
	case DeliverInOrder:
		return "in order"
	case DeliverLatestGroup:
		return "latest group"
	case DeliverIndependent:
		return "independent"
	default:
		return "unknown"
	}
}

func (p DeliveryPolicy) groupOrder() GroupOrder {
	switch p {
	case DeliverInOrder:
		return GroupOrderAscending
	case DeliverLatestGroup:
		return GroupOrderDescending
	default:
		return GroupOrderDefault
	}
}

// Event is delivered by Subscription.Next. It is one of ObjectEvent,
// GapEvent or GroupAbortedEvent.
type Event interface {
	event()
}

// ObjectEvent carries a received object.
type ObjectEvent struct {
	Object
}

// GapEvent reports that the objects in [From, To) will not be delivered.
type GapEvent struct {
	From Location
	To   Location
}

// GroupAbortedEvent reports that the rest of a group will not be delivered.
type GroupAbortedEvent struct {
	Group uint64
	Err   error
}

func (ObjectEvent) event()       {}
func (GapEvent) event()          {}
func (GroupAbortedEvent) event() {}

// independentWindow is how many groups behind the newest one an
// independent receiver keeps state for.
const independentWindow = 1024

// groupStream is one data stream attached to a group.
type groupStream struct {
	group  uint64
	cancel func()
}

type groupState struct {
	id      uint64
	streams map[*groupStream]struct{}

	began    bool
	ended    bool // FIN on every stream or an end-of-group status
	aborted  bool
	abortErr error
	reported bool // abort already emitted

	// Object ids are tracked across all subgroups of the group. next is the
	// lowest id not yet delivered, seen holds delivered ids above it and
	// limit is one past the highest delivered id. Holes are reported once
	// the group ends, since another subgroup may still carry them.
	started  bool
	next     uint64
	seen     map[uint64]struct{}
	limit    uint64
	buffered []Object
}

func (gs *groupState) finished() bool {
	return gs.aborted || gs.ended
}

func (gs *groupState) cancelStreams() {
	for st := range gs.streams {
		if st.cancel != nil {
			st.cancel()
		}
	}
	clear(gs.streams)
}

type receiverConfig struct {
	policy         DeliveryPolicy
	reorderTimeout time.Duration
	maxBuffered    int
	start          Location
	anchored       bool
	endGroup       uint64 // exclusive, 0 is open ended

	// onClose runs on its own goroutine once the receiver terminates.
	onClose func(error)
}

func newReceiver(cfg receiverConfig) *receiver {
	return &receiver{
		policy:         cfg.policy,
		reorderTimeout: cfg.reorderTimeout,
		maxBuffered:    cfg.maxBuffered,
		start:          cfg.start,
		anchored:       cfg.anchored,
		cursor:         cfg.start.Group,
		endGroup:       cfg.endGroup,
		changed:        make(chan struct{}),
		groups:         make(map[uint64]*groupState),
		expectStreams:  -1,
		onClose:        cfg.onClose,
	}
}

// receiver turns objects arriving on any number of group channels into the
// ordered event sequence of one subscription.
type receiver struct {
	policy         DeliveryPolicy
	reorderTimeout time.Duration
	maxBuffered    int
	onClose        func(error)

	mu       sync.Mutex
	changed  chan struct{}
	events   []Event
	buffered int
	groups   map[uint64]*groupState

	start    Location
	endGroup uint64
	anchored bool
	cursor   uint64

	latest     uint64
	haveLatest bool

	reorder *time.Timer
	drain   *time.Timer

	streamsSeen   int64
	streamsOpen   int64
	expectStreams int64

	err error // io.EOF once completed
}

func (r *receiver) notify() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// waitLocked releases r.mu until the receiver changes.
func (r *receiver) waitLocked(ctx context.Context) error {
	ch := r.changed
	r.mu.Unlock()
	defer r.mu.Lock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *receiver) admits(loc Location) bool {
	if loc.Compare(r.start) < 0 {
		return false
	}
	return r.endGroup == 0 || loc.Group < r.endGroup
}

// late reports whether objects of group g can no longer be delivered.
func (r *receiver) late(g uint64) bool {
	switch r.policy {
	case DeliverInOrder:
		return r.anchored && g < r.cursor
	case DeliverLatestGroup:
		return r.haveLatest && g < r.latest
	default:
		return r.haveLatest && r.latest >= independentWindow && g < r.latest-independentWindow
	}
}

func (r *receiver) group(g uint64) *groupState {
	gs, ok := r.groups[g]
	if !ok {
		gs = &groupState{
			id:      g,
			streams: make(map[*groupStream]struct{}),
			seen:    make(map[uint64]struct{}),
		}
		r.groups[g] = gs
	}
	return gs
}

// attach registers a data stream carrying group g.
// It returns nil when the group is no longer wanted.
func (r *receiver) attach(g uint64, cancel func()) *groupStream {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return nil
	}
	r.streamsSeen++
	if r.late(g) || (r.endGroup != 0 && g >= r.endGroup) {
		r.checkDrained()
		return nil
	}
	gs := r.group(g)
	if gs.finished() {
		r.checkDrained()
		return nil
	}
	st := &groupStream{group: g, cancel: cancel}
	gs.streams[st] = struct{}{}
	r.streamsOpen++
	return st
}

// detach reports the end of a data stream. A nil err means a clean FIN.
func (r *receiver) detach(st *groupStream, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.streamsOpen--
	defer r.checkDrained()

	gs, ok := r.groups[st.group]
	if !ok {
		return
	}
	if _, ok := gs.streams[st]; !ok {
		return
	}
	delete(gs.streams, st)

	if r.err != nil {
		return
	}

	if err != nil {
		if !gs.finished() {
			gs.aborted = true
			gs.abortErr = err
		}
	} else if len(gs.streams) == 0 {
		gs.ended = true
	}
	r.settle(gs)
	r.notify()
}

// push ingests an object. It blocks while the event queue is full.
func (r *receiver) push(ctx context.Context, obj Object) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if r.err != nil {
			return r.err
		}
		if !r.admits(obj.Location()) || r.late(obj.Group) {
			return nil
		}
		gs := r.group(obj.Group)
		if gs.finished() {
			return nil
		}

		direct := r.direct(obj.Group)
		if direct && len(r.events) >= r.maxBuffered {
			if err := r.waitLocked(ctx); err != nil {
				return err
			}
			continue
		}
		if !direct && r.buffered >= r.maxBuffered {
			if err := r.waitLocked(ctx); err != nil {
				return err
			}
			continue
		}

		if direct {
			r.preempt(obj.Group)
			r.emitObject(gs, obj)
		} else {
			gs.buffered = append(gs.buffered, obj)
			r.buffered++
			r.scheduleReorder()
		}
		if obj.endsGroup() {
			gs.ended = true
		}
		r.settle(gs)
		r.notify()
		return nil
	}
}

// direct reports whether objects of group g are emitted on arrival.
func (r *receiver) direct(g uint64) bool {
	if r.policy != DeliverInOrder {
		return true
	}
	if !r.anchored {
		if g != 0 {
			return false
		}
		r.anchored = true
		r.cursor = 0
	}
	return g == r.cursor
}

// preempt abandons every unfinished group older than g under DeliverLatestGroup.
func (r *receiver) preempt(g uint64) {
	if r.policy == DeliverLatestGroup && (!r.haveLatest || g > r.latest) {
		for id, old := range r.groups {
			if id >= g {
				continue
			}
			old.cancelStreams()
			if old.began && !old.finished() {
				r.events = append(r.events, GroupAbortedEvent{Group: id, Err: ErrGroupSuperseded})
			}
			delete(r.groups, id)
		}
	}
	if !r.haveLatest || g > r.latest {
		r.latest = g
		r.haveLatest = true
	}
}

func (r *receiver) emitObject(gs *groupState, obj Object) {
	if !gs.started {
		gs.started = true
		if obj.Group == r.start.Group {
			gs.next = r.start.Object
		}
	}
	if obj.ID < gs.next {
		return
	}
	if _, dup := gs.seen[obj.ID]; dup {
		return
	}
	if obj.endsGroup() {
		r.flushGaps(gs, obj.ID)
	}

	if obj.ID == gs.next {
		gs.next++
		for {
			if _, ok := gs.seen[gs.next]; !ok {
				break
			}
			delete(gs.seen, gs.next)
			gs.next++
		}
	} else {
		gs.seen[obj.ID] = struct{}{}
	}
	gs.limit = max(gs.limit, obj.ID+1)
	gs.began = true
	r.events = append(r.events, ObjectEvent{Object: obj})
}

// flushGaps reports every missing object id of gs below upto and moves
// next to upto.
func (r *receiver) flushGaps(gs *groupState, upto uint64) {
	if upto <= gs.next {
		return
	}
	ids := make([]uint64, 0, len(gs.seen))
	for id := range gs.seen {
		if id < upto {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	from := gs.next
	for _, id := range ids {
		if id > from {
			r.events = append(r.events, GapEvent{
				From: Location{Group: gs.id, Object: from},
				To:   Location{Group: gs.id, Object: id},
			})
		}
		from = id + 1
		delete(gs.seen, id)
	}
	if upto > from {
		r.events = append(r.events, GapEvent{
			From: Location{Group: gs.id, Object: from},
			To:   Location{Group: gs.id, Object: upto},
		})
	}
	gs.next = upto
}

func (r *receiver) emitAbort(gs *groupState) {
	if gs.reported {
		return
	}
	gs.reported = true
	r.events = append(r.events, GroupAbortedEvent{Group: gs.id, Err: gs.abortErr})
}

// settle applies the policy after gs changed.
func (r *receiver) settle(gs *groupState) {
	switch r.policy {
	case DeliverInOrder:
		if r.anchored && gs.id == r.cursor {
			r.advance()
		}
	default:
		if !gs.finished() {
			return
		}
		if gs.aborted {
			r.emitAbort(gs)
		} else {
			r.flushGaps(gs, gs.limit)
		}
		gs.cancelStreams()
		r.prune()
	}
}

// advance flushes the cursor group and moves past finished groups.
func (r *receiver) advance() {
	for {
		gs, ok := r.groups[r.cursor]
		if !ok {
			r.scheduleReorder()
			return
		}
		for _, obj := range gs.buffered {
			r.emitObject(gs, obj)
		}
		r.buffered -= len(gs.buffered)
		gs.buffered = nil

		if !gs.finished() {
			r.scheduleReorder()
			return
		}
		if gs.aborted {
			r.emitAbort(gs)
		} else {
			r.flushGaps(gs, gs.limit)
		}
		gs.cancelStreams()
		delete(r.groups, r.cursor)
		r.cursor++
	}
}

func (r *receiver) prune() {
	for id, gs := range r.groups {
		if gs.finished() && len(gs.streams) == 0 && r.late(id) {
			delete(r.groups, id)
		}
	}
}

// successor returns the smallest pending group above g.
func (r *receiver) successor(g uint64) (uint64, bool) {
	var next uint64
	found := false
	for id := range r.groups {
		if id > g && (!found || id < next) {
			next, found = id, true
		}
	}
	return next, found
}

// scheduleReorder arms the reorder timer while the cursor group is missing
// and a later group is waiting. A cursor group carried by a live stream
// blocks without a timeout.
func (r *receiver) scheduleReorder() {
	if r.policy != DeliverInOrder || r.reorder != nil || r.err != nil {
		return
	}
	if r.anchored {
		if gs, ok := r.groups[r.cursor]; ok && len(gs.streams) > 0 {
			return
		}
		if _, ok := r.successor(r.cursor); !ok {
			return
		}
	} else if len(r.groups) == 0 {
		return
	}
	r.reorder = time.AfterFunc(r.reorderTimeout, r.reorderExpired)
}

func (r *receiver) reorderExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reorder = nil
	if r.err != nil {
		return
	}

	if !r.anchored {
		first, ok := r.successor(0)
		if _, zero := r.groups[0]; zero {
			first, ok = 0, true
		}
		if !ok {
			return
		}
		r.anchored = true
		r.cursor = first
		r.advance()
		r.notify()
		return
	}

	next, ok := r.successor(r.cursor)
	if !ok {
		return
	}
	from := Location{Group: r.cursor}
	if gs, ok := r.groups[r.cursor]; ok {
		if len(gs.streams) > 0 {
			return
		}
		r.flushGaps(gs, gs.limit)
		from.Object = gs.next
		delete(r.groups, r.cursor)
	}
	r.events = append(r.events, GapEvent{From: from, To: Location{Group: next}})
	r.cursor = next
	r.advance()
	r.notify()
}

// setStart moves the start location forward after an update.
func (r *receiver) setStart(start Location, endGroup uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.start = start
	r.endGroup = endGroup
	for id, gs := range r.groups {
		if id < start.Group || (endGroup != 0 && id >= endGroup) {
			gs.cancelStreams()
			r.buffered -= len(gs.buffered)
			delete(r.groups, id)
		}
	}
	if r.policy == DeliverInOrder && (!r.anchored || r.cursor < start.Group) {
		r.anchored = true
		r.cursor = start.Group
		r.advance()
	}
	r.notify()
}

// completeAfter completes the receiver once count streams were seen and
// none is open, or after timeout.
func (r *receiver) completeAfter(count uint64, timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return
	}
	r.expectStreams = int64(count)
	if r.checkDrained() {
		return
	}
	r.drain = time.AfterFunc(timeout, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.closeLocked(io.EOF)
	})
}

func (r *receiver) checkDrained() bool {
	if r.err != nil || r.expectStreams < 0 {
		return false
	}
	if r.streamsSeen >= r.expectStreams && r.streamsOpen <= 0 {
		r.closeLocked(io.EOF)
		return true
	}
	return false
}

// close terminates the receiver. With io.EOF, pending events stay readable.
func (r *receiver) close(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked(err)
}

func (r *receiver) closeLocked(err error) {
	if r.err != nil {
		return
	}
	if err == io.EOF {
		r.flush()
	} else {
		r.events = nil
	}
	r.err = err
	if r.reorder != nil {
		r.reorder.Stop()
		r.reorder = nil
	}
	if r.drain != nil {
		r.drain.Stop()
		r.drain = nil
	}
	for id, gs := range r.groups {
		gs.cancelStreams()
		delete(r.groups, id)
	}
	r.buffered = 0
	r.notify()

	if r.onClose != nil {
		go r.onClose(err)
	}
}

// flush emits every buffered group in ascending order.
func (r *receiver) flush() {
	if r.policy != DeliverInOrder {
		return
	}
	ids := make([]uint64, 0, len(r.groups))
	for id := range r.groups {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		gs := r.groups[id]
		if r.anchored && id > r.cursor {
			r.events = append(r.events, GapEvent{From: Location{Group: r.cursor}, To: Location{Group: id}})
		}
		for _, obj := range gs.buffered {
			r.emitObject(gs, obj)
		}
		gs.buffered = nil
		if gs.aborted {
			r.emitAbort(gs)
		}
		r.anchored = true
		r.cursor = id + 1
	}
}

func (r *receiver) completed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err == io.EOF
}

// next returns the next event. It returns io.EOF after completion once
// every pending event was read.
func (r *receiver) next(ctx context.Context) (Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if r.err != nil && r.err != io.EOF {
			return nil, r.err
		}
		if len(r.events) > 0 {
			ev := r.events[0]
			r.events[0] = nil
			r.events = r.events[1:]
			r.notify()
			return ev, nil
		}
		if r.err == io.EOF {
			return nil, io.EOF
		}
		if err := r.waitLocked(ctx); err != nil {
			return nil, err
		}
	}
}
