package moqt

import (
	"errors"
	"testing"
	"time"

	"github.com/okdaichi/moqtransport/moqt/internal/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_Announce(t *testing.T) {
	client, server := newTestPair(t, nil, nil)
	ctx := testContext(t)

	require.NoError(t, server.Announce(ctx, liveNamespace))
	assert.Equal(t, Announced, server.AnnounceState(liveNamespace, false))

	got, err := client.AwaitAnnouncement(ctx, NewTrackNamespace("live"))
	require.NoError(t, err)
	assert.True(t, got.Equal(liveNamespace))
	assert.Equal(t, Announced, client.AnnounceState(liveNamespace, true))

	assert.ErrorIs(t, server.Announce(ctx, liveNamespace), ErrDuplicateAnnouncement)

	require.NoError(t, server.Unannounce(liveNamespace))
	assert.Equal(t, Withdrawn, server.AnnounceState(liveNamespace, false))
	assert.Eventually(t, func() bool {
		return client.AnnounceState(liveNamespace, true) == Withdrawn
	}, testTimeout, time.Millisecond)
	assert.ErrorIs(t, server.Unannounce(liveNamespace), ErrNotAnnounced)

	// A withdrawn namespace may be announced again.
	require.NoError(t, server.Announce(ctx, liveNamespace))
	assert.Eventually(t, func() bool {
		return client.AnnounceState(liveNamespace, true) == Announced
	}, testTimeout, time.Millisecond)
}

func TestSession_AnnounceRejected(t *testing.T) {
	client, _ := newTestPair(t, nil, &Config{Role: RolePublisher})

	err := client.Announce(testContext(t), liveNamespace)
	var aerr *AnnounceError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, NotSupportedAnnounceErrorCode, aerr.Code)
	assert.Equal(t, Unannounced, client.AnnounceState(liveNamespace, false))
}

func TestSession_AnnounceRoles(t *testing.T) {
	tests := map[string]struct {
		role    Role
		op      func(s *Session) error
		wantErr error
	}{
		"subscriber cannot announce": {
			role:    RoleSubscriber,
			op:      func(s *Session) error { return s.Announce(testContext(t), liveNamespace) },
			wantErr: ErrRoleViolation,
		},
		"publisher cannot await announcements": {
			role: RolePublisher,
			op: func(s *Session) error {
				_, err := s.AwaitAnnouncement(testContext(t), liveNamespace)
				return err
			},
			wantErr: ErrRoleViolation,
		},
		"publisher cannot subscribe to announcements": {
			role:    RolePublisher,
			op:      func(s *Session) error { return s.SubscribeAnnounces(testContext(t), liveNamespace) },
			wantErr: ErrRoleViolation,
		},
		"empty namespace": {
			role:    RoleBoth,
			op:      func(s *Session) error { return s.Announce(testContext(t), NewTrackNamespace()) },
			wantErr: ErrProtocolViolation,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			client, _ := newTestPair(t, &Config{Role: tt.role}, nil)
			assert.ErrorIs(t, tt.op(client), tt.wantErr)
			assert.Equal(t, StateEstablished, client.State())
		})
	}
}

func TestSession_CancelAnnounce(t *testing.T) {
	client, server := announcedPair(t, nil, nil)

	require.NoError(t, client.CancelAnnounce(liveNamespace, UninterestedErrorCode, "not watching"))
	assert.Equal(t, Withdrawn, client.AnnounceState(liveNamespace, true))
	assert.Eventually(t, func() bool {
		return server.AnnounceState(liveNamespace, false) == Withdrawn
	}, testTimeout, time.Millisecond)

	assert.ErrorIs(t, client.CancelAnnounce(liveNamespace, UninterestedErrorCode, ""), ErrNotAnnounced)
}

func TestSession_SubscribeAnnounces(t *testing.T) {
	client, server := newTestPair(t, nil, nil)
	ctx := testContext(t)

	require.NoError(t, client.SubscribeAnnounces(ctx, NewTrackNamespace("live")))

	err := client.SubscribeAnnounces(ctx, NewTrackNamespace("live"))
	var aerr *AnnounceError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, NamespacePrefixOverlapErrorCode, aerr.Code)

	require.NoError(t, client.UnsubscribeAnnounces(NewTrackNamespace("live")))
	assert.Eventually(t, func() bool {
		server.mu.Lock()
		defer server.mu.Unlock()
		return len(server.interests) == 0
	}, testTimeout, time.Millisecond)

	require.NoError(t, client.SubscribeAnnounces(ctx, NewTrackNamespace("live")))
}

func TestSession_AnnounceCancelledContext(t *testing.T) {
	client, peer := newRawServer(t, nil)

	ctx, cancel := testContextWithCancel(t)
	done := make(chan error, 1)
	go func() { done <- client.Announce(ctx, liveNamespace) }()

	ann := expectMessage[*message.AnnounceMessage](t, peer)
	assert.True(t, ann.Namespace.Equal(liveNamespace))
	cancel()
	require.Error(t, <-done)

	// The abandoned announcement is retracted and its late reply dropped.
	unann := expectMessage[*message.UnannounceMessage](t, peer)
	assert.True(t, unann.Namespace.Equal(liveNamespace))
	peer.write(&message.AnnounceOKMessage{RequestID: ann.RequestID})

	assert.Equal(t, Unannounced, client.AnnounceState(liveNamespace, false))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateEstablished, client.State())
}
