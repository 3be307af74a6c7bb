package moqt

import (
	"testing"

	"github.com/okdaichi/moqtransport/internal/memquic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupWriter_Errors(t *testing.T) {
	tests := map[string]struct {
		opts  GroupOptions
		write func(t *testing.T, gw *GroupWriter) error
		is    error
	}{
		"decreasing object id": {
			write: func(t *testing.T, gw *GroupWriter) error {
				if err := gw.WriteObject(testContext(t), 3, []byte("a")); err != nil {
					return err
				}
				return gw.WriteObject(testContext(t), 2, []byte("b"))
			},
			is: ErrInvalidRange,
		},
		"repeated object id": {
			write: func(t *testing.T, gw *GroupWriter) error {
				if err := gw.WriteObject(testContext(t), 0, []byte("a")); err != nil {
					return err
				}
				return gw.WriteObject(testContext(t), 0, []byte("b"))
			},
			is: ErrInvalidRange,
		},
		"status object with normal status": {
			write: func(t *testing.T, gw *GroupWriter) error {
				return gw.WriteStatus(testContext(t), 0, ObjectStatusNormal)
			},
		},
		"extensions without option": {
			write: func(t *testing.T, gw *GroupWriter) error {
				return gw.WriteObjectWithExtensions(testContext(t), 0, []byte{1}, []byte("a"))
			},
		},
		"write after close": {
			write: func(t *testing.T, gw *GroupWriter) error {
				require.NoError(t, gw.Close())
				return gw.WriteObject(testContext(t), 0, []byte("a"))
			},
			is: ErrGroupClosed,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, server := announcedPair(t, nil, nil)
			gw, err := server.PublishGroup(liveTrack, 0, tt.opts)
			require.NoError(t, err)

			err = tt.write(t, gw)
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestGroupWriter_Close(t *testing.T) {
	_, server := announcedPair(t, nil, nil)

	gw, err := server.PublishGroup(liveTrack, 4, GroupOptions{})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), gw.GroupID())

	_, err = server.PublishGroup(liveTrack, 4, GroupOptions{})
	assert.ErrorIs(t, err, ErrDuplicateGroup)

	require.NoError(t, gw.Close())
	require.NoError(t, gw.Close())
	require.NoError(t, gw.CloseWithError(CancelledGroupErrorCode))

	gw, err = server.PublishGroup(liveTrack, 4, GroupOptions{})
	require.NoError(t, err)
	require.NoError(t, gw.CloseWithError(CancelledGroupErrorCode))
}

func TestGroupWriter_Role(t *testing.T) {
	client, _ := newTestPair(t, &Config{Role: RoleSubscriber}, nil)
	_, err := client.PublishGroup(liveTrack, 0, GroupOptions{})
	assert.ErrorIs(t, err, ErrRoleViolation)
	assert.ErrorIs(t, client.EndTrack(liveTrack), ErrRoleViolation)
}

func TestGroupWriter_ExtensionsAndStatus(t *testing.T) {
	client, server := announcedPair(t, nil, nil)
	ctx := testContext(t)

	sub, err := client.Subscribe(ctx, liveTrack, SubscribeOptions{Policy: DeliverInOrder})
	require.NoError(t, err)
	require.NoError(t, sub.Ready(ctx))

	gw, err := server.PublishGroup(liveTrack, 0, GroupOptions{Extensions: true, PublisherPriority: 7})
	require.NoError(t, err)
	require.NoError(t, gw.WriteObjectWithExtensions(ctx, 0, []byte{0x02, 0x05}, []byte("a")))
	require.NoError(t, gw.WriteObject(ctx, 1, []byte("b")))
	require.NoError(t, gw.WriteStatus(ctx, 2, ObjectStatusEndOfGroup))
	require.NoError(t, gw.Close())

	o := nextObject(t, sub)
	assert.Equal(t, Location{Group: 0, Object: 0}, o.Location())
	assert.Equal(t, uint8(7), o.PublisherPriority)
	assert.Equal(t, []byte{0x02, 0x05}, o.Extensions)
	assert.Equal(t, []byte("a"), o.Payload)

	o = nextObject(t, sub)
	assert.Equal(t, uint64(1), o.ID)
	assert.Empty(t, o.Extensions)
	assert.Equal(t, []byte("b"), o.Payload)

	o = nextObject(t, sub)
	assert.Equal(t, uint64(2), o.ID)
	assert.Equal(t, ObjectStatusEndOfGroup, o.Status)
	assert.Empty(t, o.Payload)
}

func TestGroupWriter_OversizedDatagram(t *testing.T) {
	client, server := announcedPair(t, nil, nil)
	server.conn.(*memquic.Conn).MaxDatagramSize = 64
	ctx := testContext(t)

	sub, err := client.Subscribe(ctx, liveTrack, SubscribeOptions{Policy: DeliverIndependent})
	require.NoError(t, err)
	require.NoError(t, sub.Ready(ctx))

	gw, err := server.PublishGroup(liveTrack, 0, GroupOptions{Datagram: true})
	require.NoError(t, err)
	require.NoError(t, gw.WriteObject(ctx, 0, make([]byte, 128)))
	require.NoError(t, gw.WriteObject(ctx, 1, []byte("small")))
	require.NoError(t, gw.Close())

	o := nextObject(t, sub)
	assert.Equal(t, uint64(1), o.ID)
	assert.Equal(t, []byte("small"), o.Payload)
}
