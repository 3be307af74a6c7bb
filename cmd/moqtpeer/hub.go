package main

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/okdaichi/moqtransport/moqt"
)

var (
	_ moqt.FetchHandler = (*hub)(nil)
	_ groupWriter       = (*moqt.GroupWriter)(nil)
)

// hub fans one generated track out to every connected session and keeps
// the most recent groups for fetches.
type hub struct {
	track  moqt.Track
	cfg    publishConfig
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[*moqt.Session]struct{}
	cache    []cachedGroup
	ended    bool
}

type cachedGroup struct {
	id      uint64
	objects []moqt.Object
}

func newHub(track moqt.Track, cfg publishConfig, logger *slog.Logger) *hub {
	return &hub{
		track:    track,
		cfg:      cfg,
		logger:   logger.With("track", track.String()),
		sessions: make(map[*moqt.Session]struct{}),
	}
}

func (h *hub) add(sess *moqt.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[sess] = struct{}{}
	h.logger.Info("session joined", "sessions", len(h.sessions))
}

func (h *hub) remove(sess *moqt.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, sess)
	h.logger.Info("session left", "sessions", len(h.sessions))
}

// groupWriter is the part of *moqt.GroupWriter a feed writes through.
type groupWriter interface {
	GroupID() uint64
	WriteObject(ctx context.Context, id uint64, payload []byte) error
	Close() error
	CloseWithError(code moqt.GroupErrorCode) error
}

type queuedObject struct {
	id      uint64
	payload []byte
}

// groupFeed writes one group to one session from its own goroutine so a
// slow peer only loses its own copy of the group.
type groupFeed struct {
	gw     groupWriter
	queue  chan queuedObject
	done   chan struct{}
	logger *slog.Logger
}

func newGroupFeed(gw groupWriter, depth int, logger *slog.Logger) *groupFeed {
	return &groupFeed{
		gw:     gw,
		queue:  make(chan queuedObject, max(depth, 1)),
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (f *groupFeed) run(ctx context.Context) {
	defer close(f.done)
	for o := range f.queue {
		if err := f.gw.WriteObject(ctx, o.id, o.payload); err != nil {
			if !errors.Is(err, moqt.ErrClosedSession) && !errors.Is(err, moqt.ErrGroupClosed) {
				f.logger.Warn("dropping group for session", "group_id", f.gw.GroupID(), "error", err)
			}
			f.gw.CloseWithError(moqt.InternalGroupErrorCode)
			for range f.queue {
			}
			return
		}
	}
	if err := f.gw.Close(); err != nil {
		f.logger.Debug("failed to close group", "group_id", f.gw.GroupID(), "error", err)
	}
}

// push queues the object on every feed without waiting. A feed whose queue
// is full is cut off and removed.
func (h *hub) push(feeds map[*moqt.Session]*groupFeed, id uint64, payload []byte) {
	for sess, f := range feeds {
		select {
		case f.queue <- queuedObject{id: id, payload: payload}:
		default:
			h.logger.Warn("session is lagging, dropping group", "group_id", f.gw.GroupID(), "object_id", id)
			f.gw.CloseWithError(moqt.InternalGroupErrorCode)
			close(f.queue)
			delete(feeds, sess)
		}
	}
}

func (h *hub) openGroup(ctx context.Context, id uint64) map[*moqt.Session]*groupFeed {
	h.mu.Lock()
	sessions := make([]*moqt.Session, 0, len(h.sessions))
	for sess := range h.sessions {
		sessions = append(sessions, sess)
	}
	h.mu.Unlock()

	feeds := make(map[*moqt.Session]*groupFeed, len(sessions))
	for _, sess := range sessions {
		gw, err := sess.PublishGroup(h.track, id, moqt.GroupOptions{
			PublisherPriority: h.cfg.Priority,
			Datagram:          h.cfg.Datagrams,
		})
		if err != nil {
			h.logger.Debug("failed to open group", "group_id", id, "error", err)
			continue
		}
		f := newGroupFeed(gw, h.cfg.QueueDepth, h.logger)
		go f.run(ctx)
		feeds[sess] = f
	}
	return feeds
}

// closeGroup lets every feed drain and close its group. It returns at once.
func (h *hub) closeGroup(feeds map[*moqt.Session]*groupFeed) {
	for _, f := range feeds {
		close(f.queue)
	}
}

func (h *hub) store(g cachedGroup) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cache = append(h.cache, g)
	if n := len(h.cache) - h.cfg.CacheGroups; n > 0 {
		h.cache = slices.Delete(h.cache, 0, n)
	}
}

// end ends the track on every session once the session's last group has
// been written.
func (h *hub) end(ctx context.Context, last map[*moqt.Session]*groupFeed) {
	h.mu.Lock()
	h.ended = true
	sessions := make([]*moqt.Session, 0, len(h.sessions))
	for sess := range h.sessions {
		sessions = append(sessions, sess)
	}
	h.mu.Unlock()

	for _, sess := range sessions {
		go func() {
			if f, ok := last[sess]; ok {
				select {
				case <-f.done:
				case <-ctx.Done():
					return
				}
			}
			if err := sess.EndTrack(h.track); err != nil {
				h.logger.Debug("failed to end track", "error", err)
			}
		}()
	}
}

// lookup returns the cached objects in [start, end), the location of the
// last one and whether it is the last object of the track.
func (h *hub) lookup(start, end moqt.Location, order moqt.GroupOrder) ([]moqt.Object, moqt.Location, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var groups [][]moqt.Object
	var last moqt.Location
	for _, g := range h.cache {
		var objs []moqt.Object
		for _, o := range g.objects {
			loc := o.Location()
			if loc.Compare(start) < 0 || loc.Compare(end) >= 0 {
				continue
			}
			objs = append(objs, o)
			if loc.Compare(last) > 0 {
				last = loc
			}
		}
		if len(objs) > 0 {
			groups = append(groups, objs)
		}
	}
	if order == moqt.GroupOrderDescending {
		slices.Reverse(groups)
	}

	final := false
	if n := len(h.cache); h.ended && n > 0 {
		g := h.cache[n-1]
		final = last == g.objects[len(g.objects)-1].Location()
	}
	return slices.Concat(groups...), last, final
}

// ServeFetch answers fetches for the generated track from the cache.
func (h *hub) ServeFetch(ctx context.Context, w moqt.FetchResponseWriter, r *moqt.FetchRequest) error {
	if !r.Track.Namespace.Equal(h.track.Namespace) || r.Track.Name != h.track.Name {
		return w.Reject(moqt.TrackDoesNotExistFetchErrorCode, "unknown track")
	}
	objs, last, final := h.lookup(r.Start, r.End, r.GroupOrder)
	if len(objs) == 0 {
		return nil
	}
	if err := w.Accept(last, final); err != nil {
		return err
	}
	for _, o := range objs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.WriteObject(o); err != nil {
			return err
		}
	}
	h.logger.Debug("served fetch", "request_id", r.RequestID, "objects", len(objs))
	return nil
}
