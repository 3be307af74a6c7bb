package moqt

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/okdaichi/moqtransport/moqt/internal/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// publishGroups writes groups [first, first+n) with objects 0..2 each.
func publishGroups(t *testing.T, sess *Session, track Track, first, n uint64, opts GroupOptions) {
	t.Helper()
	ctx := testContext(t)
	for g := first; g < first+n; g++ {
		gw, err := sess.PublishGroup(track, g, opts)
		require.NoError(t, err)
		for o := uint64(0); o < 3; o++ {
			require.NoError(t, gw.WriteObject(ctx, o, []byte(fmt.Sprintf("%d-%d", g, o))))
		}
		require.NoError(t, gw.Close())
	}
}

// readAll reads events until the subscription ends.
func readAll(t *testing.T, sub *Subscription) ([]Event, error) {
	t.Helper()
	ctx := testContext(t)
	var events []Event
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

func TestSession_SubscribeBeforeAnnounce(t *testing.T) {
	t.Run("rejected locally", func(t *testing.T) {
		client, _ := newTestPair(t, nil, nil)
		_, err := client.Subscribe(testContext(t), liveTrack, SubscribeOptions{})
		assert.ErrorIs(t, err, ErrTrackDoesNotExist)
	})

	t.Run("forwarded and rejected by the publisher", func(t *testing.T) {
		client, _ := newTestPair(t, &Config{ForwardUnannounced: true}, nil)
		sub, err := client.Subscribe(testContext(t), liveTrack, SubscribeOptions{})
		require.NoError(t, err)

		err = sub.Ready(testContext(t))
		assert.ErrorIs(t, err, ErrTrackDoesNotExist)
		var serr *SubscribeError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, TrackDoesNotExistErrorCode, serr.Code)
		assert.Equal(t, SubscriptionRejected, sub.State())

		_, err = sub.Next(testContext(t))
		assert.ErrorIs(t, err, ErrTrackDoesNotExist)
		assert.ErrorIs(t, sub.Update(testContext(t), SubscribeUpdate{}), ErrNotActive)
	})
}

func TestSession_SubscribeOptionErrors(t *testing.T) {
	t.Run("range ends before start", func(t *testing.T) {
		client, _ := announcedPair(t, nil, nil)
		_, err := client.Subscribe(testContext(t), liveTrack, SubscribeOptions{
			Filter:   FilterAbsoluteRange,
			Start:    Location{Group: 5},
			EndGroup: 4,
		})
		assert.ErrorIs(t, err, ErrInvalidRange)
	})

	t.Run("publisher role", func(t *testing.T) {
		client, _ := newTestPair(t, &Config{Role: RolePublisher}, nil)
		_, err := client.Subscribe(testContext(t), liveTrack, SubscribeOptions{})
		assert.ErrorIs(t, err, ErrRoleViolation)
	})

	t.Run("cancelled context", func(t *testing.T) {
		client, _ := announcedPair(t, nil, nil)
		ctx, cancel := testContextWithCancel(t)
		cancel()
		_, err := client.Subscribe(ctx, liveTrack, SubscribeOptions{})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSession_SubscribeDelivery(t *testing.T) {
	tests := map[string]struct {
		opts      SubscribeOptions
		groupOpts GroupOptions
		want      []Location
	}{
		"in order over streams": {
			opts: SubscribeOptions{Policy: DeliverInOrder},
			want: gridLocations(0, 3),
		},
		"independent over datagrams": {
			opts:      SubscribeOptions{Policy: DeliverIndependent},
			groupOpts: GroupOptions{Datagram: true},
			want:      gridLocations(0, 3),
		},
		"absolute start": {
			opts: SubscribeOptions{Policy: DeliverInOrder, Filter: FilterAbsoluteStart, Start: Location{Group: 1, Object: 1}},
			want: gridLocations(1, 2)[1:],
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			client, server := announcedPair(t, &Config{GroupReorderTimeout: 5 * time.Second}, nil)

			sub, err := client.Subscribe(testContext(t), liveTrack, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, SubscriptionRequested, sub.State())
			require.NoError(t, sub.Ready(testContext(t)))
			assert.Equal(t, SubscriptionActive, sub.State())
			assert.Equal(t, GroupOrderAscending, sub.GroupOrder())
			_, exists := sub.Largest()
			assert.False(t, exists)

			publishGroups(t, server, liveTrack, 0, 3, tt.groupOpts)

			var got []Location
			for range tt.want {
				o := nextObject(t, sub)
				got = append(got, o.Location())
				assert.Equal(t, fmt.Sprintf("%d-%d", o.Group, o.ID), string(o.Payload))
			}
			if tt.opts.Policy == DeliverIndependent {
				assert.ElementsMatch(t, tt.want, got)
			} else {
				assert.Equal(t, tt.want, got)
			}

			require.NoError(t, server.EndTrack(liveTrack))
			events, err := readAll(t, sub)
			assert.ErrorIs(t, err, io.EOF)
			assert.Empty(t, events)
			assert.Equal(t, SubscriptionCompleted, sub.State())

			_, err = server.PublishGroup(liveTrack, 9, GroupOptions{})
			assert.ErrorIs(t, err, ErrTrackEnded)
		})
	}
}

func gridLocations(first, n uint64) []Location {
	var locs []Location
	for g := first; g < first+n; g++ {
		for o := uint64(0); o < 3; o++ {
			locs = append(locs, Location{Group: g, Object: o})
		}
	}
	return locs
}

func TestSession_SubscribeNextGroup(t *testing.T) {
	client, server := announcedPair(t, nil, nil)
	publishGroups(t, server, liveTrack, 0, 2, GroupOptions{})

	sub, err := client.Subscribe(testContext(t), liveTrack, SubscribeOptions{})
	require.NoError(t, err)
	require.NoError(t, sub.Ready(testContext(t)))

	largest, exists := sub.Largest()
	require.True(t, exists)
	assert.Equal(t, Location{Group: 1, Object: 2}, largest)

	publishGroups(t, server, liveTrack, 2, 1, GroupOptions{})
	assert.Equal(t, Location{Group: 2, Object: 0}, nextObject(t, sub).Location())
}

func TestSession_SubscribeLatestObject(t *testing.T) {
	client, server := announcedPair(t, nil, nil)
	ctx := testContext(t)

	gw, err := server.PublishGroup(liveTrack, 4, GroupOptions{})
	require.NoError(t, err)
	require.NoError(t, gw.WriteObject(ctx, 0, []byte("a")))

	sub, err := client.Subscribe(ctx, liveTrack, SubscribeOptions{Filter: FilterLatestObject, Policy: DeliverIndependent})
	require.NoError(t, err)
	require.NoError(t, sub.Ready(ctx))

	require.NoError(t, gw.WriteObject(ctx, 1, []byte("b")))
	require.NoError(t, gw.Close())

	o := nextObject(t, sub)
	assert.Equal(t, Location{Group: 4, Object: 1}, o.Location())
	assert.Equal(t, []byte("b"), o.Payload)
}

func TestSession_SubscribeAbsoluteRange(t *testing.T) {
	client, server := announcedPair(t, nil, nil)

	sub, err := client.Subscribe(testContext(t), liveTrack, SubscribeOptions{
		Filter:   FilterAbsoluteRange,
		Start:    Location{Group: 1},
		EndGroup: 1,
	})
	require.NoError(t, err)
	require.NoError(t, sub.Ready(testContext(t)))

	publishGroups(t, server, liveTrack, 0, 3, GroupOptions{})

	events, err := readAll(t, sub)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, gridLocations(1, 1), locations(events))
	assert.Equal(t, SubscriptionCompleted, sub.State())
}

func TestSession_SubscribeUpdate(t *testing.T) {
	client, server := announcedPair(t, nil, nil)
	ctx := testContext(t)

	sub, err := client.Subscribe(ctx, liveTrack, SubscribeOptions{Policy: DeliverInOrder})
	require.NoError(t, err)
	require.NoError(t, sub.Ready(ctx))

	require.NoError(t, sub.Update(ctx, SubscribeUpdate{Start: Location{Group: 2}, Priority: 7}))
	assert.Equal(t, SubscriptionActive, sub.State())
	assert.Eventually(t, func() bool {
		server.pub.mu.Lock()
		defer server.pub.mu.Unlock()
		pub, ok := server.pub.pubs[sub.ID()]
		return ok && pub.start.Group == 2 && pub.priority == 7
	}, testTimeout, time.Millisecond)

	assert.ErrorIs(t, sub.Update(ctx, SubscribeUpdate{Start: Location{Group: 1}}), ErrInvalidRange)
	assert.ErrorIs(t, sub.Update(ctx, SubscribeUpdate{Start: Location{Group: 3}, EndGroup: 3}), ErrInvalidRange)

	publishGroups(t, server, liveTrack, 1, 2, GroupOptions{})
	assert.Equal(t, Location{Group: 2, Object: 0}, nextObject(t, sub).Location())
}

func TestSession_Unsubscribe(t *testing.T) {
	client, server := announcedPair(t, nil, nil)
	ctx := testContext(t)

	sub, err := client.Subscribe(ctx, liveTrack, SubscribeOptions{})
	require.NoError(t, err)
	require.NoError(t, sub.Ready(ctx))

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	assert.Equal(t, SubscriptionCancelled, sub.State())

	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, ErrSubscriptionCancelled)
	assert.ErrorIs(t, sub.Ready(ctx), ErrSubscriptionCancelled)

	assert.Eventually(t, func() bool {
		server.pub.mu.Lock()
		defer server.pub.mu.Unlock()
		return len(server.pub.pubs) == 0
	}, testTimeout, time.Millisecond)

	// The publisher's SUBSCRIBE_DONE for the retired request is dropped.
	publishGroups(t, server, liveTrack, 0, 1, GroupOptions{})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateEstablished, client.State())
	assert.Equal(t, StateEstablished, server.State())
}

func TestSession_CancelOnUnannounce(t *testing.T) {
	tests := map[string]struct {
		cancel   bool
		wantDone bool
	}{
		"subscriptions continue": {},
		"subscriptions end":      {cancel: true, wantDone: true},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			client, server := announcedPair(t, nil, &Config{CancelOnUnannounce: tt.cancel})

			sub, err := client.Subscribe(testContext(t), liveTrack, SubscribeOptions{})
			require.NoError(t, err)
			require.NoError(t, sub.Ready(testContext(t)))

			require.NoError(t, server.Unannounce(liveNamespace))

			if tt.wantDone {
				_, err := readAll(t, sub)
				assert.ErrorIs(t, err, io.EOF)
				return
			}
			publishGroups(t, server, liveTrack, 0, 1, GroupOptions{})
			assert.Equal(t, Location{}, nextObject(t, sub).Location())
		})
	}
}

func TestSession_SubscribeTimeout(t *testing.T) {
	client, peer := newRawServer(t, &Config{ForwardUnannounced: true, SubscribeTimeout: 20 * time.Millisecond})

	sub, err := client.Subscribe(testContext(t), liveTrack, SubscribeOptions{})
	require.NoError(t, err)
	msg := expectMessage[*message.SubscribeMessage](t, peer)
	assert.Equal(t, sub.ID(), msg.RequestID)

	assert.ErrorIs(t, sub.Ready(testContext(t)), ErrSubscribeTimeout)
	assert.Equal(t, SubscriptionError, sub.State())

	unsub := expectMessage[*message.UnsubscribeMessage](t, peer)
	assert.Equal(t, sub.ID(), unsub.RequestID)

	// A late reply is dropped.
	peer.write(&message.SubscribeOKMessage{RequestID: sub.ID(), GroupOrder: GroupOrderAscending})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateEstablished, client.State())
}

func TestSession_SubscribePeerViolations(t *testing.T) {
	tests := map[string]struct {
		reply    func(p *rawPeer, first, second *message.SubscribeMessage)
		wantCode SessionErrorCode
	}{
		"done before ok": {
			reply: func(p *rawPeer, first, _ *message.SubscribeMessage) {
				p.write(&message.SubscribeDoneMessage{RequestID: first.RequestID})
			},
			wantCode: ProtocolViolationErrorCode,
		},
		"duplicate track alias": {
			reply: func(p *rawPeer, first, second *message.SubscribeMessage) {
				p.write(&message.SubscribeOKMessage{RequestID: first.RequestID, TrackAlias: 1, GroupOrder: GroupOrderAscending})
				p.write(&message.SubscribeOKMessage{RequestID: second.RequestID, TrackAlias: 1, GroupOrder: GroupOrderAscending})
			},
			wantCode: DuplicateTrackAliasErrorCode,
		},
		"second ok": {
			reply: func(p *rawPeer, first, _ *message.SubscribeMessage) {
				p.write(&message.SubscribeOKMessage{RequestID: first.RequestID, TrackAlias: 1, GroupOrder: GroupOrderAscending})
				p.write(&message.SubscribeOKMessage{RequestID: first.RequestID, TrackAlias: 1, GroupOrder: GroupOrderAscending})
			},
			wantCode: ProtocolViolationErrorCode,
		},
		"reply to unknown request": {
			reply: func(p *rawPeer, _, _ *message.SubscribeMessage) {
				p.write(&message.SubscribeErrorMessage{RequestID: 40})
			},
			wantCode: ProtocolViolationErrorCode,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			client, peer := newRawServer(t, &Config{ForwardUnannounced: true})

			first, err := client.Subscribe(testContext(t), liveTrack, SubscribeOptions{})
			require.NoError(t, err)
			_, err = client.Subscribe(testContext(t), Track{Namespace: liveNamespace, Name: "audio"}, SubscribeOptions{})
			require.NoError(t, err)
			m1 := expectMessage[*message.SubscribeMessage](t, peer)
			m2 := expectMessage[*message.SubscribeMessage](t, peer)

			tt.reply(peer, m1, m2)

			assert.Equal(t, tt.wantCode, waitClosed(t, client))
			assert.Equal(t, StateErrored, client.State())
			assert.Equal(t, tt.wantCode, appErrorCode(t, peer.conn))

			_, err = first.Next(testContext(t))
			assert.Error(t, err)
		})
	}
}

func TestSession_DataBeforeSubscribeOK(t *testing.T) {
	client, peer := newRawServer(t, &Config{ForwardUnannounced: true})

	sub, err := client.Subscribe(testContext(t), liveTrack, SubscribeOptions{Policy: DeliverIndependent})
	require.NoError(t, err)
	msg := expectMessage[*message.SubscribeMessage](t, peer)

	header := message.SubgroupHeader{TrackAlias: 9, GroupID: 0}
	b, err := message.AppendSubgroupHeader(nil, header)
	require.NoError(t, err)
	b, err = message.AppendSubgroupObject(b, header, message.SubgroupObject{ObjectID: 0, Payload: []byte("early")})
	require.NoError(t, err)
	peer.openData(b)

	time.Sleep(10 * time.Millisecond)
	peer.write(&message.SubscribeOKMessage{RequestID: msg.RequestID, TrackAlias: 9, GroupOrder: GroupOrderAscending})

	o := nextObject(t, sub)
	assert.Equal(t, []byte("early"), o.Payload)
	assert.Equal(t, uint64(9), sub.TrackAlias())
}

func TestSession_MalformedDataStream(t *testing.T) {
	client, peer := newRawServer(t, &Config{ForwardUnannounced: true})

	sub, err := client.Subscribe(testContext(t), liveTrack, SubscribeOptions{Policy: DeliverIndependent})
	require.NoError(t, err)
	msg := expectMessage[*message.SubscribeMessage](t, peer)
	peer.write(&message.SubscribeOKMessage{RequestID: msg.RequestID, TrackAlias: 2, GroupOrder: GroupOrderAscending})
	require.NoError(t, sub.Ready(testContext(t)))

	// An unknown stream type.
	peer.openData([]byte{0x3f})

	header := message.SubgroupHeader{TrackAlias: 2, GroupID: 1}
	b, err := message.AppendSubgroupHeader(nil, header)
	require.NoError(t, err)
	b, err = message.AppendSubgroupObject(b, header, message.SubgroupObject{ObjectID: 0, Payload: []byte("ok")})
	require.NoError(t, err)
	peer.openData(b)

	assert.Equal(t, []byte("ok"), nextObject(t, sub).Payload)
	assert.Equal(t, StateEstablished, client.State())
}

func TestSession_LatestGroupDelivery(t *testing.T) {
	client, server := announcedPair(t, nil, nil)
	ctx := testContext(t)

	sub, err := client.Subscribe(ctx, liveTrack, SubscribeOptions{Policy: DeliverLatestGroup})
	require.NoError(t, err)
	require.NoError(t, sub.Ready(ctx))
	assert.Equal(t, GroupOrderDescending, sub.GroupOrder())

	old, err := server.PublishGroup(liveTrack, 0, GroupOptions{})
	require.NoError(t, err)
	require.NoError(t, old.WriteObject(ctx, 0, []byte("old")))
	assert.Equal(t, Location{}, nextObject(t, sub).Location())

	publishGroups(t, server, liveTrack, 1, 1, GroupOptions{})

	// The older group is abandoned in favor of the newer one, either by
	// the publisher's reset or by the newer group's first object.
	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	aborted, ok := ev.(GroupAbortedEvent)
	require.True(t, ok, "unexpected %T", ev)
	assert.Equal(t, uint64(0), aborted.Group)
	assert.Error(t, aborted.Err)
	assert.Equal(t, Location{Group: 1}, nextObject(t, sub).Location())

	require.NoError(t, old.WriteObject(ctx, 1, []byte("late")))
	require.NoError(t, old.Close())

	_, err = server.PublishGroup(liveTrack, 1, GroupOptions{})
	assert.NoError(t, err, "closed groups may be reopened")
	_, err = server.PublishGroup(liveTrack, 1, GroupOptions{})
	assert.ErrorIs(t, err, ErrDuplicateGroup)
}

func TestSession_ReplyOfAnotherKind(t *testing.T) {
	tests := map[string]struct {
		resolve bool
		reply   func(id uint64) message.Message
	}{
		"fetch ok while requested": {
			reply: func(id uint64) message.Message {
				return &message.FetchOKMessage{RequestID: id, GroupOrder: GroupOrderAscending}
			},
		},
		"fetch error while requested": {
			reply: func(id uint64) message.Message {
				return &message.FetchErrorMessage{RequestID: id, ErrorCode: uint64(InternalFetchErrorCode)}
			},
		},
		"announce ok while requested": {
			reply: func(id uint64) message.Message { return &message.AnnounceOKMessage{RequestID: id} },
		},
		"track status while requested": {
			reply: func(id uint64) message.Message {
				return &message.TrackStatusMessage{RequestID: id, StatusCode: TrackStatusInProgress}
			},
		},
		"fetch ok while active": {
			resolve: true,
			reply: func(id uint64) message.Message {
				return &message.FetchOKMessage{RequestID: id, GroupOrder: GroupOrderAscending}
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			client, peer := newRawServer(t, &Config{ForwardUnannounced: true})

			sub, err := client.Subscribe(testContext(t), liveTrack, SubscribeOptions{})
			require.NoError(t, err)
			msg := expectMessage[*message.SubscribeMessage](t, peer)
			if tt.resolve {
				peer.write(&message.SubscribeOKMessage{RequestID: msg.RequestID, TrackAlias: 1, GroupOrder: GroupOrderAscending})
				require.NoError(t, sub.Ready(testContext(t)))
			}

			peer.write(tt.reply(msg.RequestID))

			assert.Equal(t, ProtocolViolationErrorCode, waitClosed(t, client))
			assert.Equal(t, StateErrored, client.State())
			if !tt.resolve {
				assert.Error(t, sub.Ready(testContext(t)))
			}
		})
	}
}
