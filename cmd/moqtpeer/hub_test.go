package main

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/okdaichi/moqtransport/internal/bitrate"
	"github.com/okdaichi/moqtransport/internal/memquic"
	"github.com/okdaichi/moqtransport/moqt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func testHub(groups, objects uint64) *hub {
	return newHub(
		moqt.Track{Namespace: moqt.NewTrackNamespace("test"), Name: "clock"},
		publishConfig{Groups: groups, ObjectsPerGroup: objects, ObjectSize: 16, Interval: time.Millisecond, CacheGroups: 2, QueueDepth: 8},
		discard,
	)
}

func cacheGroups(h *hub, n, objects uint64) {
	for g := uint64(0); g < n; g++ {
		cg := cachedGroup{id: g}
		for o := uint64(0); o < objects; o++ {
			cg.objects = append(cg.objects, moqt.Object{Group: g, ID: o})
		}
		h.store(cg)
	}
}

func TestHub_Lookup(t *testing.T) {
	tests := map[string]struct {
		start, end moqt.Location
		order      moqt.GroupOrder
		ended      bool
		want       []moqt.Location
		wantFinal  bool
	}{
		"evicted groups are gone": {
			start: moqt.Location{}, end: moqt.Location{Group: 2},
			want: []moqt.Location{{Group: 1, Object: 0}, {Group: 1, Object: 1}},
		},
		"end is exclusive": {
			start: moqt.Location{Group: 1, Object: 1}, end: moqt.Location{Group: 2, Object: 1},
			want: []moqt.Location{{Group: 1, Object: 1}, {Group: 2, Object: 0}},
		},
		"descending groups": {
			start: moqt.Location{Group: 1}, end: moqt.Location{Group: 9},
			order: moqt.GroupOrderDescending,
			want:  []moqt.Location{{Group: 2, Object: 0}, {Group: 2, Object: 1}, {Group: 1, Object: 0}, {Group: 1, Object: 1}},
		},
		"last object of an ended track": {
			start: moqt.Location{Group: 2}, end: moqt.Location{Group: 3},
			ended:     true,
			want:      []moqt.Location{{Group: 2, Object: 0}, {Group: 2, Object: 1}},
			wantFinal: true,
		},
		"nothing cached": {
			start: moqt.Location{Group: 7}, end: moqt.Location{Group: 8},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			h := testHub(3, 2)
			cacheGroups(h, 3, 2)
			h.ended = tt.ended

			objs, _, final := h.lookup(tt.start, tt.end, tt.order)
			var got []moqt.Location
			for _, o := range objs {
				got = append(got, o.Location())
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantFinal, final)
		})
	}
}

func TestHub_EndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := testHub(2, 3)
	cfg := defaultConfig()

	cc, sc := memquic.Pair()
	go h.serveSession(ctx, sc, cfg, discard)

	sess, err := moqt.Connect(ctx, cc, &moqt.Config{Role: moqt.RoleSubscriber, Logger: discard})
	require.NoError(t, err)
	defer sess.CloseWithError(moqt.NoError, "")

	_, err = sess.AwaitAnnouncement(ctx, h.track.Namespace)
	require.NoError(t, err)
	sub, err := sess.Subscribe(ctx, h.track, moqt.SubscribeOptions{})
	require.NoError(t, err)
	require.NoError(t, sub.Ready(ctx))

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.sessions) == 1
	}, time.Second, time.Millisecond)
	go h.run(ctx)

	meter := bitrate.NewMeter(nil)
	require.NoError(t, consume(ctx, sub, meter, discard))
	s, ok := meter.Sample()
	require.True(t, ok)
	assert.Equal(t, 6, s.Objects)

	fs, err := sess.Fetch(ctx, moqt.FetchRequest{
		Track: h.track,
		Start: moqt.Location{Group: 1},
		End:   moqt.Location{Group: 2},
	})
	require.NoError(t, err)
	end, endOfTrack := fs.End()
	assert.Equal(t, moqt.Location{Group: 1, Object: 2}, end)
	assert.True(t, endOfTrack)

	var got []moqt.Location
	for {
		o, err := fs.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, o.Location())
	}
	assert.Equal(t, []moqt.Location{{Group: 1, Object: 0}, {Group: 1, Object: 1}, {Group: 1, Object: 2}}, got)
}

// fakeGroupWriter records written object ids. A non-nil release channel
// blocks every write until it is closed or the group is cancelled.
type fakeGroupWriter struct {
	id      uint64
	release chan struct{}

	mu        sync.Mutex
	written   []uint64
	closed    bool
	cancelled chan struct{}
}

func newFakeGroupWriter(id uint64, release chan struct{}) *fakeGroupWriter {
	return &fakeGroupWriter{id: id, release: release, cancelled: make(chan struct{})}
}

func (w *fakeGroupWriter) GroupID() uint64 { return w.id }

func (w *fakeGroupWriter) WriteObject(ctx context.Context, id uint64, payload []byte) error {
	if w.release != nil {
		select {
		case <-w.release:
		case <-w.cancelled:
			return moqt.ErrGroupClosed
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.written = append(w.written, id)
	return nil
}

func (w *fakeGroupWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeGroupWriter) CloseWithError(code moqt.GroupErrorCode) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.cancelled:
	default:
		close(w.cancelled)
	}
	return nil
}

func (w *fakeGroupWriter) wasCancelled() bool {
	select {
	case <-w.cancelled:
		return true
	default:
		return false
	}
}

func TestHub_PushSlowSession(t *testing.T) {
	tests := map[string]struct {
		depth         int
		objects       uint64
		wantCancelled bool
	}{
		"slow session within its queue": {
			depth:   4,
			objects: 3,
		},
		"slow session past its queue": {
			depth:         2,
			objects:       5,
			wantCancelled: true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			h := testHub(1, tt.objects)
			release := make(chan struct{})
			slow := newFakeGroupWriter(0, release)
			fast := newFakeGroupWriter(0, nil)
			slowSess, fastSess := &moqt.Session{}, &moqt.Session{}
			feeds := map[*moqt.Session]*groupFeed{
				slowSess: newGroupFeed(slow, tt.depth, discard),
				fastSess: newGroupFeed(fast, tt.depth, discard),
			}
			for _, f := range feeds {
				go f.run(ctx)
			}
			last := map[*moqt.Session]*groupFeed{slowSess: feeds[slowSess], fastSess: feeds[fastSess]}

			pushed := make(chan struct{})
			go func() {
				defer close(pushed)
				for o := uint64(0); o < tt.objects; o++ {
					h.push(feeds, o, []byte{byte(o)})
				}
				h.closeGroup(feeds)
			}()
			select {
			case <-pushed:
			case <-time.After(time.Second):
				t.Fatal("push waited for the slow session")
			}

			select {
			case <-last[fastSess].done:
			case <-time.After(time.Second):
				t.Fatal("fast session did not finish its group")
			}
			fast.mu.Lock()
			assert.Len(t, fast.written, int(tt.objects))
			assert.True(t, fast.closed)
			fast.mu.Unlock()

			assert.Equal(t, tt.wantCancelled, slow.wasCancelled())
			_, kept := feeds[slowSess]
			assert.Equal(t, !tt.wantCancelled, kept)

			close(release)
			select {
			case <-last[slowSess].done:
			case <-time.After(time.Second):
				t.Fatal("slow session feed did not stop")
			}
			slow.mu.Lock()
			defer slow.mu.Unlock()
			if tt.wantCancelled {
				assert.False(t, slow.closed)
			} else {
				assert.Len(t, slow.written, int(tt.objects))
				assert.True(t, slow.closed)
			}
		})
	}
}
