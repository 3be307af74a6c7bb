package moqt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/okdaichi/moqtransport/moqt/internal/message"
	"github.com/okdaichi/moqtransport/quic"
)

// GroupOptions configures a published group.
type GroupOptions struct {
	// PublisherPriority orders groups of subscriptions with equal subscriber
	// priority. Higher values are served first.
	PublisherPriority uint8

	// Subgroup is the subgroup id of the group's stream.
	Subgroup uint64

	// Extensions marks the group's streams as carrying object extensions.
	// It is required for WriteObjectWithExtensions on streams.
	Extensions bool

	// Datagram sends every object as a datagram instead of on a stream.
	Datagram bool
}

// PublishGroup opens group groupID of track. Objects are forwarded to every
// subscription whose filter admits them, opening streams on first use.
func (s *Session) PublishGroup(track Track, groupID uint64, opts GroupOptions) (*GroupWriter, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	if !s.role.canPublish() {
		return nil, ErrRoleViolation
	}
	p := s.pub

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosedSession
	}
	ts := p.trackLocked(track)
	if ts.ended {
		return nil, ErrTrackEnded
	}
	if _, ok := ts.open[groupID]; ok {
		return nil, ErrDuplicateGroup
	}
	gw := &GroupWriter{
		pub:      p,
		track:    ts,
		id:       groupID,
		opts:     opts,
		logger:   s.logger.With("track", track.String(), "group_id", groupID),
		channels: make(map[uint64]channelKey),
		failed:   make(map[uint64]bool),
	}
	ts.open[groupID] = gw
	return gw, nil
}

// GroupWriter writes the objects of one group. Object ids must increase.
type GroupWriter struct {
	pub    *publisher
	track  *trackState
	id     uint64
	opts   GroupOptions
	logger *slog.Logger

	// wmu serializes writes and is held across network writes. mu guards
	// the fields below and is never held while writing, so CloseWithError
	// can reset streams under a blocked write.
	wmu sync.Mutex

	mu       sync.Mutex
	closed   bool
	wrote    bool
	last     uint64
	channels map[uint64]channelKey // by request id
	failed   map[uint64]bool       // request ids that lost the group
}

// GroupID returns the group id.
func (gw *GroupWriter) GroupID() uint64 { return gw.id }

// WriteObject writes a normal object with payload.
func (gw *GroupWriter) WriteObject(ctx context.Context, id uint64, payload []byte) error {
	return gw.write(ctx, id, ObjectStatusNormal, nil, payload)
}

// WriteObjectWithExtensions writes a normal object carrying extension headers.
func (gw *GroupWriter) WriteObjectWithExtensions(ctx context.Context, id uint64, extensions, payload []byte) error {
	if !gw.opts.Extensions && !gw.opts.Datagram {
		return fmt.Errorf("moqt: group %d was opened without extensions", gw.id)
	}
	return gw.write(ctx, id, ObjectStatusNormal, extensions, payload)
}

// WriteStatus writes an object carrying only a status.
func (gw *GroupWriter) WriteStatus(ctx context.Context, id uint64, status ObjectStatus) error {
	if status == ObjectStatusNormal {
		return fmt.Errorf("moqt: status object with normal status")
	}
	return gw.write(ctx, id, status, nil, nil)
}

func (gw *GroupWriter) write(ctx context.Context, id uint64, status ObjectStatus, extensions, payload []byte) error {
	gw.wmu.Lock()
	defer gw.wmu.Unlock()

	gw.mu.Lock()
	if gw.closed {
		gw.mu.Unlock()
		return ErrGroupClosed
	}
	if gw.wrote && id <= gw.last {
		last := gw.last
		gw.mu.Unlock()
		return fmt.Errorf("%w: object %d after %d", ErrInvalidRange, id, last)
	}
	gw.wrote = true
	gw.last = id
	gw.mu.Unlock()

	loc := Location{Group: gw.id, Object: id}
	for _, t := range gw.pub.targets(gw.track, loc) {
		if gw.hasFailed(t.id) {
			continue
		}
		if t.preempt {
			gw.pub.sess.mux.cancelOlder(t.id, gw.id, CancelledGroupErrorCode)
		}

		var err error
		if gw.opts.Datagram {
			err = gw.pub.sess.mux.sendDatagram(message.Datagram{
				TrackAlias:        t.alias,
				GroupID:           gw.id,
				ObjectID:          id,
				PublisherPriority: gw.opts.PublisherPriority,
				Extensions:        extensions,
				Status:            status,
				Payload:           payload,
			})
		} else {
			err = gw.writeStream(ctx, t, message.SubgroupObject{
				ObjectID:   id,
				Extensions: extensions,
				Status:     status,
				Payload:    payload,
			})
		}
		if err == nil {
			continue
		}
		var tooLarge *quic.DatagramTooLargeError
		if errors.As(err, &tooLarge) {
			t.logger.Debug("dropping oversized datagram", "location", loc.String(), "max_size", tooLarge.MaxDatagramPayloadSize)
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrClosedSession) {
			return err
		}
		if gw.isClosed() {
			return ErrGroupClosed
		}
		// A failed channel loses the rest of the group. Other subscriptions
		// keep receiving it.
		if errors.Is(err, ErrGroupClosed) {
			t.logger.Debug("subscription ended during group", "group_id", gw.id)
		} else {
			t.logger.Warn("dropping group for subscription", "group_id", gw.id, "error", err)
		}
		gw.mu.Lock()
		gw.failed[t.id] = true
		key, ok := gw.channels[t.id]
		delete(gw.channels, t.id)
		gw.mu.Unlock()
		if ok {
			gw.pub.sess.mux.cancel(key, InternalGroupErrorCode)
		}
	}
	return nil
}

func (gw *GroupWriter) isClosed() bool {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return gw.closed
}

func (gw *GroupWriter) hasFailed(requestID uint64) bool {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return gw.failed[requestID]
}

func (gw *GroupWriter) writeStream(ctx context.Context, t target, obj message.SubgroupObject) error {
	release, err := gw.pub.acquire(ctx, t.priority, gw.opts.PublisherPriority)
	if err != nil {
		return err
	}
	defer release()

	key := channelKey{requestID: t.id, group: gw.id, subgroup: gw.opts.Subgroup}
	ch, err := gw.pub.sess.mux.open(ctx, key, message.SubgroupHeader{
		TrackAlias:        t.alias,
		GroupID:           gw.id,
		SubgroupID:        gw.opts.Subgroup,
		PublisherPriority: gw.opts.PublisherPriority,
		Extensions:        gw.opts.Extensions,
	})
	if err != nil {
		return err
	}

	gw.mu.Lock()
	if gw.closed {
		gw.mu.Unlock()
		gw.pub.sess.mux.cancel(key, CancelledGroupErrorCode)
		return ErrGroupClosed
	}
	gw.channels[t.id] = key
	gw.mu.Unlock()

	return ch.writeObject(obj)
}

// Close ends the group with FIN on every stream.
func (gw *GroupWriter) Close() error {
	gw.mu.Lock()
	if gw.closed {
		gw.mu.Unlock()
		return nil
	}
	gw.closed = true
	keys := gw.channels
	gw.channels = nil
	gw.mu.Unlock()

	var errs []error
	for _, key := range keys {
		if err := gw.pub.sess.mux.finish(key); err != nil {
			errs = append(errs, err)
		}
	}
	gw.release()
	gw.pub.finishRanges(gw.track, gw.id)
	gw.logger.Debug("closed group", "streams", len(keys))
	return errors.Join(errs...)
}

// CloseWithError resets every stream of the group with code.
func (gw *GroupWriter) CloseWithError(code GroupErrorCode) error {
	gw.mu.Lock()
	if gw.closed {
		gw.mu.Unlock()
		return nil
	}
	gw.closed = true
	keys := gw.channels
	gw.channels = nil
	gw.mu.Unlock()

	for _, key := range keys {
		gw.pub.sess.mux.cancel(key, code)
	}
	gw.release()
	gw.pub.finishRanges(gw.track, gw.id)
	gw.logger.Debug("cancelled group", "code", code.String(), "streams", len(keys))
	return nil
}

func (gw *GroupWriter) release() {
	gw.pub.mu.Lock()
	defer gw.pub.mu.Unlock()
	if gw.track.open[gw.id] == gw {
		delete(gw.track.open, gw.id)
	}
}
