package message_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/okdaichi/moqtransport/moqt/internal/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMessages = map[string]message.Message{
	"client setup": &message.ClientSetupMessage{
		SupportedVersions: []message.Version{message.Draft11, message.Draft12},
		Parameters: message.Parameters{
			{Type: message.SetupParameterPath, Bytes: []byte("/moq")},
			{Type: message.SetupParameterMaxRequestID, Value: 100},
		},
	},
	"server setup": &message.ServerSetupMessage{
		SelectedVersion: message.Draft12,
		Parameters: message.Parameters{
			{Type: message.SetupParameterMaxRequestID, Value: 64},
		},
	},
	"goaway": &message.GoAwayMessage{NewSessionURI: "https://relay.example/moq"},
	"goaway without uri": &message.GoAwayMessage{},
	"max request id": &message.MaxRequestIDMessage{RequestID: 1 << 40},
	"requests blocked": &message.RequestsBlockedMessage{MaximumRequestID: 20},
	"subscribe next group": &message.SubscribeMessage{
		RequestID:          2,
		Namespace:          message.Namespace{"conference", "room1"},
		TrackName:          "video",
		SubscriberPriority: 128,
		GroupOrder:         message.GroupOrderAscending,
		Forward:            true,
		FilterType:         message.FilterNextGroupStart,
	},
	"subscribe absolute range": &message.SubscribeMessage{
		RequestID:          4,
		Namespace:          message.Namespace{"live"},
		TrackName:          "audio",
		SubscriberPriority: 1,
		GroupOrder:         message.GroupOrderDescending,
		FilterType:         message.FilterAbsoluteRange,
		StartLocation:      message.Location{Group: 10, Object: 3},
		EndGroup:           20,
		Parameters: message.Parameters{
			{Type: message.ParameterAuthorizationToken, Bytes: []byte("token")},
			{Type: message.ParameterDeliveryTimeout, Value: 2000},
		},
	},
	"subscribe absolute start": &message.SubscribeMessage{
		RequestID:     6,
		Namespace:     message.Namespace{"a", "b", "c"},
		TrackName:     "t",
		FilterType:    message.FilterAbsoluteStart,
		StartLocation: message.Location{Group: 7},
	},
	"subscribe ok with content": &message.SubscribeOKMessage{
		RequestID:       2,
		TrackAlias:      9,
		Expires:         30000,
		GroupOrder:      message.GroupOrderAscending,
		ContentExists:   true,
		LargestLocation: message.Location{Group: 5, Object: 12},
	},
	"subscribe ok without content": &message.SubscribeOKMessage{
		RequestID:  2,
		TrackAlias: 0,
		GroupOrder: message.GroupOrderDescending,
	},
	"subscribe error": &message.SubscribeErrorMessage{
		RequestID: 8,
		ErrorCode: 0x4,
		Reason:    "track does not exist",
	},
	"subscribe update": &message.SubscribeUpdateMessage{
		RequestID:          2,
		StartLocation:      message.Location{Group: 11},
		EndGroup:           31,
		SubscriberPriority: 200,
		Forward:            true,
	},
	"unsubscribe": &message.UnsubscribeMessage{RequestID: 12},
	"subscribe done": &message.SubscribeDoneMessage{
		RequestID:   2,
		StatusCode:  0x2,
		StreamCount: 17,
		Reason:      "track ended",
	},
	"announce": &message.AnnounceMessage{
		RequestID: 1,
		Namespace: message.Namespace{"conference", "room1"},
	},
	"announce ok":    &message.AnnounceOKMessage{RequestID: 1},
	"announce error": &message.AnnounceErrorMessage{RequestID: 3, ErrorCode: 0x1, Reason: "unauthorized"},
	"unannounce":     &message.UnannounceMessage{Namespace: message.Namespace{"conference"}},
	"announce cancel": &message.AnnounceCancelMessage{
		Namespace: message.Namespace{"conference"},
		ErrorCode: 0x0,
		Reason:    "going away",
	},
	"subscribe announces": &message.SubscribeAnnouncesMessage{
		RequestID: 10,
		Prefix:    message.Namespace{"conference"},
	},
	"subscribe announces with empty prefix": &message.SubscribeAnnouncesMessage{RequestID: 12},
	"subscribe announces ok":                &message.SubscribeAnnouncesOKMessage{RequestID: 10},
	"subscribe announces error": &message.SubscribeAnnouncesErrorMessage{
		RequestID: 10,
		ErrorCode: 0x3,
		Reason:    "overlap",
	},
	"unsubscribe announces": &message.UnsubscribeAnnouncesMessage{Prefix: message.Namespace{"conference"}},
	"track status request": &message.TrackStatusRequestMessage{
		RequestID: 14,
		Namespace: message.Namespace{"live"},
		TrackName: "video",
	},
	"track status in progress": &message.TrackStatusMessage{
		RequestID:       14,
		StatusCode:      message.TrackStatusInProgress,
		LargestLocation: message.Location{Group: 3, Object: 4},
	},
	"track status does not exist": &message.TrackStatusMessage{
		RequestID:  14,
		StatusCode: message.TrackStatusDoesNotExist,
	},
	"standalone fetch": &message.FetchMessage{
		RequestID:          16,
		SubscriberPriority: 3,
		GroupOrder:         message.GroupOrderAscending,
		FetchType:          message.FetchTypeStandalone,
		Namespace:          message.Namespace{"vod"},
		TrackName:          "movie",
		StartLocation:      message.Location{Group: 1},
		EndLocation:        message.Location{Group: 4, Object: 10},
	},
	"joining fetch": &message.FetchMessage{
		RequestID:        18,
		FetchType:        message.FetchTypeRelativeJoining,
		JoiningRequestID: 2,
		JoiningStart:     3,
	},
	"fetch ok": &message.FetchOKMessage{
		RequestID:   16,
		GroupOrder:  message.GroupOrderAscending,
		EndOfTrack:  true,
		EndLocation: message.Location{Group: 4, Object: 10},
	},
	"fetch error":  &message.FetchErrorMessage{RequestID: 16, ErrorCode: 0x5, Reason: "not supported"},
	"fetch cancel": &message.FetchCancelMessage{RequestID: 16},
}

func TestMessage_EncodeDecode(t *testing.T) {
	for name, msg := range testMessages {
		t.Run(name, func(t *testing.T) {
			b, err := message.EncodeMessage(msg)
			require.NoError(t, err)

			decoded, n, err := message.DecodeMessage(b)
			require.NoError(t, err)
			assert.Equal(t, len(b), n)
			assert.Equal(t, msg, decoded)
		})
	}
}

func TestMessage_EncodeDeterministic(t *testing.T) {
	for name, msg := range testMessages {
		t.Run(name, func(t *testing.T) {
			first, err := message.EncodeMessage(msg)
			require.NoError(t, err)
			second, err := message.EncodeMessage(msg)
			require.NoError(t, err)
			assert.Equal(t, first, second)
		})
	}
}

func TestDecodeMessage_Truncated(t *testing.T) {
	for name, msg := range testMessages {
		t.Run(name, func(t *testing.T) {
			b, err := message.EncodeMessage(msg)
			require.NoError(t, err)

			for i := range len(b) {
				_, _, err := message.DecodeMessage(b[:i])
				assert.ErrorIs(t, err, message.ErrShortBuffer, "prefix of %d bytes", i)
			}
		})
	}
}

func TestDecodeMessage_Malformed(t *testing.T) {
	tests := map[string]struct {
		input []byte
		field string
	}{
		"overlong type": {
			input: []byte{0x40, 0x03, 0x01, 0x00},
			field: "type",
		},
		"overlong length": {
			input: []byte{0x0A, 0x40, 0x01, 0x00},
			field: "length",
		},
		"overlong field": {
			input: []byte{0x0A, 0x02, 0x40, 0x05},
			field: "request_id",
		},
		"unknown type": {
			input: []byte{0x3F, 0x00},
			field: "type",
		},
		"excess payload": {
			input: []byte{0x0A, 0x02, 0x05, 0x00},
			field: "payload",
		},
		"field longer than payload": {
			input: []byte{0x0A, 0x01, 0x40},
			field: "request_id",
		},
		"length above limit": {
			input: []byte{0x0A, 0x80, 0x20, 0x00, 0x00},
			field: "length",
		},
		"invalid forward flag": {
			input: []byte{0x03, 0x09, 0x00, 0x01, 0x01, 'a', 0x00, 0x00, 0x00, 0x02, 0x01},
			field: "forward",
		},
		"invalid filter type": {
			input: []byte{0x03, 0x09, 0x00, 0x01, 0x01, 'a', 0x00, 0x00, 0x00, 0x00, 0x09},
			field: "filter_type",
		},
		"client setup without versions": {
			input: []byte{0x20, 0x02, 0x00, 0x00},
			field: "supported_versions",
		},
		"announce with empty namespace": {
			input: []byte{0x06, 0x03, 0x01, 0x00, 0x00},
			field: "track_namespace",
		},
		"subscribe with empty namespace": {
			input: []byte{0x03, 0x02, 0x00, 0x00},
			field: "track_namespace",
		},
		"unannounce with empty namespace": {
			input: []byte{0x09, 0x01, 0x00},
			field: "track_namespace",
		},
		"track status request with empty namespace": {
			input: []byte{0x0D, 0x02, 0x00, 0x00},
			field: "track_namespace",
		},
		"track status with location for missing track": {
			input: []byte{0x0E, 0x05, 0x01, 0x01, 0x02, 0x00, 0x00},
			field: "largest_location",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := message.DecodeMessage(tc.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, message.ErrMalformedMessage)

			var merr *message.MalformedError
			require.True(t, errors.As(err, &merr))
			assert.Equal(t, tc.field, merr.Field)
		})
	}
}

func TestDecodeMessage_EmptyPrefix(t *testing.T) {
	msg, n, err := message.DecodeMessage([]byte{0x11, 0x03, 0x04, 0x00, 0x00})
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	sa, ok := msg.(*message.SubscribeAnnouncesMessage)
	require.True(t, ok)
	assert.Equal(t, uint64(4), sa.RequestID)
	assert.Empty(t, sa.Prefix)
}

func TestEncodeMessage_Invalid(t *testing.T) {
	tests := map[string]message.Message{
		"value out of range": &message.UnsubscribeMessage{RequestID: message.MaxVarint + 1},
		"no versions":        &message.ClientSetupMessage{},
		"end before start": &message.SubscribeMessage{
			Namespace:     message.Namespace{"a"},
			FilterType:    message.FilterAbsoluteRange,
			StartLocation: message.Location{Group: 5},
			EndGroup:      4,
		},
		"ok with default group order": &message.SubscribeOKMessage{GroupOrder: message.GroupOrderDefault},
		"namespace too long": &message.AnnounceMessage{
			Namespace: make(message.Namespace, message.MaxNamespaceSegments+1),
		},
	}

	for name, msg := range tests {
		t.Run(name, func(t *testing.T) {
			b, err := message.AppendMessage([]byte{0xAA}, msg)
			assert.Error(t, err)
			assert.Equal(t, []byte{0xAA}, b)
		})
	}
}

func TestWriteMessage(t *testing.T) {
	var buf bytes.Buffer
	msg := &message.AnnounceOKMessage{RequestID: 7}

	require.NoError(t, message.WriteMessage(&buf, msg))

	want, err := message.EncodeMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, want, buf.Bytes())
}

// oneByteReader delivers its input one byte per Read.
type oneByteReader struct {
	b []byte
}

func (r *oneByteReader) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	p[0] = r.b[0]
	r.b = r.b[1:]
	return 1, nil
}

func TestControlReader_ReadMessage(t *testing.T) {
	msgs := []message.Message{
		testMessages["client setup"],
		testMessages["subscribe absolute range"],
		testMessages["announce ok"],
	}

	var stream []byte
	for _, m := range msgs {
		var err error
		stream, err = message.AppendMessage(stream, m)
		require.NoError(t, err)
	}

	tests := map[string]io.Reader{
		"whole stream":    bytes.NewReader(stream),
		"one byte a time": &oneByteReader{b: stream},
	}

	for name, r := range tests {
		t.Run(name, func(t *testing.T) {
			cr := message.NewControlReader(r)
			for _, want := range msgs {
				got, err := cr.ReadMessage()
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}
			_, err := cr.ReadMessage()
			assert.ErrorIs(t, err, io.EOF)
			assert.Equal(t, 0, cr.Buffered())
		})
	}
}

func TestControlReader_UnexpectedEOF(t *testing.T) {
	b, err := message.EncodeMessage(testMessages["subscribe next group"])
	require.NoError(t, err)

	cr := message.NewControlReader(bytes.NewReader(b[:len(b)-1]))
	_, err = cr.ReadMessage()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestControlReader_Malformed(t *testing.T) {
	cr := message.NewControlReader(bytes.NewReader([]byte{0x0A, 0x02, 0x05, 0x00}))
	_, err := cr.ReadMessage()
	assert.ErrorIs(t, err, message.ErrMalformedMessage)
}

func FuzzDecodeMessage(f *testing.F) {
	for _, msg := range testMessages {
		b, err := message.EncodeMessage(msg)
		if err != nil {
			f.Fatal(err)
		}
		f.Add(b)
	}

	f.Fuzz(func(t *testing.T, b []byte) {
		msg, n, err := message.DecodeMessage(b)
		if err != nil {
			if !errors.Is(err, message.ErrShortBuffer) && !errors.Is(err, message.ErrMalformedMessage) {
				t.Fatalf("unexpected error type: %v", err)
			}
			return
		}
		if n > len(b) {
			t.Fatalf("consumed %d of %d bytes", n, len(b))
		}

		// canonical input re-encodes to the same bytes
		out, err := message.EncodeMessage(msg)
		if err != nil {
			t.Fatalf("re-encode: %v", err)
		}
		if !bytes.Equal(out, b[:n]) {
			t.Fatalf("re-encode mismatch: %x != %x", out, b[:n])
		}
	})
}
