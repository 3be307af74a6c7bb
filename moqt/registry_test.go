package moqt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamespaceRegistry_Announce(t *testing.T) {
	ns := NewTrackNamespace("live", "camera")

	tests := map[string]struct {
		setup     func(r *namespaceRegistry)
		pending   bool
		wantErr   error
		wantState AnnounceState
	}{
		"new namespace": {
			wantState: Announced,
		},
		"pending namespace": {
			pending:   true,
			wantState: announcePending,
		},
		"duplicate announced": {
			setup:     func(r *namespaceRegistry) { r.announce(ns, 0, false) },
			wantErr:   ErrDuplicateAnnouncement,
			wantState: Announced,
		},
		"duplicate pending": {
			setup:     func(r *namespaceRegistry) { r.announce(ns, 0, true) },
			wantErr:   ErrDuplicateAnnouncement,
			wantState: announcePending,
		},
		"re-announce after withdrawal": {
			setup: func(r *namespaceRegistry) {
				r.announce(ns, 0, false)
				r.withdraw(ns)
			},
			wantState: Announced,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			r := newNamespaceRegistry()
			if tt.setup != nil {
				tt.setup(r)
			}
			err := r.announce(ns, 2, tt.pending)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantState, r.state(ns))
		})
	}
}

func TestNamespaceRegistry_ConfirmReject(t *testing.T) {
	a := NewTrackNamespace("a")
	b := NewTrackNamespace("b")

	r := newNamespaceRegistry()
	require.NoError(t, r.announce(a, 0, true))
	require.NoError(t, r.announce(b, 2, true))
	assert.False(t, r.covers(a), "pending namespaces do not cover tracks")

	got, ok := r.confirm(0)
	require.True(t, ok)
	assert.True(t, got.Equal(a))
	assert.Equal(t, Announced, r.state(a))
	assert.True(t, r.covers(NewTrackNamespace("a", "video")))

	got, ok = r.reject(2)
	require.True(t, ok)
	assert.True(t, got.Equal(b))
	assert.Equal(t, Unannounced, r.state(b))

	_, ok = r.confirm(2)
	assert.False(t, ok)
}

func TestNamespaceRegistry_Withdraw(t *testing.T) {
	ns := NewTrackNamespace("live")
	r := newNamespaceRegistry()

	assert.ErrorIs(t, r.withdraw(ns), ErrNotAnnounced)

	require.NoError(t, r.announce(ns, 0, false))
	require.NoError(t, r.withdraw(ns))
	assert.Equal(t, Withdrawn, r.state(ns))
	assert.False(t, r.covers(ns))

	assert.ErrorIs(t, r.withdraw(ns), ErrNotAnnounced)
}

func TestNamespaceRegistry_Matching(t *testing.T) {
	r := newNamespaceRegistry()
	require.NoError(t, r.announce(NewTrackNamespace("live", "a"), 0, false))
	require.NoError(t, r.announce(NewTrackNamespace("live", "b"), 2, false))
	require.NoError(t, r.announce(NewTrackNamespace("vod"), 4, false))

	assert.Len(t, r.matching(NewTrackNamespace("live")), 2)
	assert.Len(t, r.matching(NewTrackNamespace("vod")), 1)
	assert.Len(t, r.matching(NewTrackNamespace()), 3)
	assert.Empty(t, r.matching(NewTrackNamespace("other")))
}

func TestNamespaceRegistry_Wait(t *testing.T) {
	t.Run("announcement under prefix", func(t *testing.T) {
		r := newNamespaceRegistry()
		go func() {
			time.Sleep(10 * time.Millisecond)
			r.announce(NewTrackNamespace("live", "a"), 0, false)
		}()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		got, err := r.wait(ctx, NewTrackNamespace("live"))
		require.NoError(t, err)
		assert.True(t, got.Equal(NewTrackNamespace("live", "a")))
	})

	t.Run("announcement covering prefix", func(t *testing.T) {
		r := newNamespaceRegistry()
		require.NoError(t, r.announce(NewTrackNamespace("live"), 0, false))

		got, err := r.wait(context.Background(), NewTrackNamespace("live", "a"))
		require.NoError(t, err)
		assert.True(t, got.Equal(NewTrackNamespace("live")))
	})

	t.Run("context ends", func(t *testing.T) {
		r := newNamespaceRegistry()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		_, err := r.wait(ctx, NewTrackNamespace("live"))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestTrack_Key(t *testing.T) {
	a := Track{Namespace: NewTrackNamespace("a/b"), Name: "c"}
	b := Track{Namespace: NewTrackNamespace("a", "b"), Name: "c"}
	assert.NotEqual(t, a.key(), b.key())
	assert.Equal(t, a.key(), Track{Namespace: NewTrackNamespace("a/b"), Name: "c"}.key())
	assert.Equal(t, "a/b/c", b.String())
}

func TestSelectVersion(t *testing.T) {
	tests := map[string]struct {
		acceptable []Version
		offered    []Version
		want       Version
		wantOK     bool
	}{
		"highest common": {
			acceptable: []Version{Draft11, Draft12},
			offered:    []Version{Draft12, Draft11},
			want:       Draft12,
			wantOK:     true,
		},
		"single common": {
			acceptable: []Version{Draft11},
			offered:    []Version{Draft12, Draft11},
			want:       Draft11,
			wantOK:     true,
		},
		"none": {
			acceptable: []Version{Draft11},
			offered:    []Version{Draft12},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, ok := selectVersion(tt.acceptable, tt.offered)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
