package message

import (
	"errors"
	"fmt"
	"io"
)

// MessageType is the type tag of a control message.
type MessageType uint64

const (
	MessageTypeSubscribeUpdate         MessageType = 0x02
	MessageTypeSubscribe               MessageType = 0x03
	MessageTypeSubscribeOK             MessageType = 0x04
	MessageTypeSubscribeError          MessageType = 0x05
	MessageTypeAnnounce                MessageType = 0x06
	MessageTypeAnnounceOK              MessageType = 0x07
	MessageTypeAnnounceError           MessageType = 0x08
	MessageTypeUnannounce              MessageType = 0x09
	MessageTypeUnsubscribe             MessageType = 0x0A
	MessageTypeSubscribeDone           MessageType = 0x0B
	MessageTypeAnnounceCancel          MessageType = 0x0C
	MessageTypeTrackStatusRequest      MessageType = 0x0D
	MessageTypeTrackStatus             MessageType = 0x0E
	MessageTypeGoAway                  MessageType = 0x10
	MessageTypeSubscribeAnnounces      MessageType = 0x11
	MessageTypeSubscribeAnnouncesOK    MessageType = 0x12
	MessageTypeSubscribeAnnouncesError MessageType = 0x13
	MessageTypeUnsubscribeAnnounces    MessageType = 0x14
	MessageTypeMaxRequestID            MessageType = 0x15
	MessageTypeFetch                   MessageType = 0x16
	MessageTypeFetchCancel             MessageType = 0x17
	MessageTypeFetchOK                 MessageType = 0x18
	MessageTypeFetchError              MessageType = 0x19
	MessageTypeRequestsBlocked         MessageType = 0x1A
	MessageTypeClientSetup             MessageType = 0x20
	MessageTypeServerSetup             MessageType = 0x21
)

var messageTypeNames = map[MessageType]string{
	MessageTypeSubscribeUpdate:         "SUBSCRIBE_UPDATE",
	MessageTypeSubscribe:               "SUBSCRIBE",
	MessageTypeSubscribeOK:             "SUBSCRIBE_OK",
	MessageTypeSubscribeError:          "SUBSCRIBE_ERROR",
	MessageTypeAnnounce:                "ANNOUNCE",
	MessageTypeAnnounceOK:              "ANNOUNCE_OK",
	MessageTypeAnnounceError:           "ANNOUNCE_ERROR",
	MessageTypeUnannounce:              "UNANNOUNCE",
	MessageTypeUnsubscribe:             "UNSUBSCRIBE",
	MessageTypeSubscribeDone:           "SUBSCRIBE_DONE",
	MessageTypeAnnounceCancel:          "ANNOUNCE_CANCEL",
	MessageTypeTrackStatusRequest:      "TRACK_STATUS_REQUEST",
	MessageTypeTrackStatus:             "TRACK_STATUS",
	MessageTypeGoAway:                  "GOAWAY",
	MessageTypeSubscribeAnnounces:      "SUBSCRIBE_ANNOUNCES",
	MessageTypeSubscribeAnnouncesOK:    "SUBSCRIBE_ANNOUNCES_OK",
	MessageTypeSubscribeAnnouncesError: "SUBSCRIBE_ANNOUNCES_ERROR",
	MessageTypeUnsubscribeAnnounces:    "UNSUBSCRIBE_ANNOUNCES",
	MessageTypeMaxRequestID:            "MAX_REQUEST_ID",
	MessageTypeFetch:                   "FETCH",
	MessageTypeFetchCancel:             "FETCH_CANCEL",
	MessageTypeFetchOK:                 "FETCH_OK",
	MessageTypeFetchError:              "FETCH_ERROR",
	MessageTypeRequestsBlocked:         "REQUESTS_BLOCKED",
	MessageTypeClientSetup:             "CLIENT_SETUP",
	MessageTypeServerSetup:             "SERVER_SETUP",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%x)", uint64(t))
}

// Message is a control message.
// The set of implementations is closed: every type is declared in this package
// and dispatch is done with a type switch.
type Message interface {
	Type() MessageType
	encode(e *encoder)
	decode(d *decoder)
}

func newMessage(t MessageType) Message {
	switch t {
	case MessageTypeClientSetup:
		return &ClientSetupMessage{}
	case MessageTypeServerSetup:
		return &ServerSetupMessage{}
	case MessageTypeGoAway:
		return &GoAwayMessage{}
	case MessageTypeMaxRequestID:
		return &MaxRequestIDMessage{}
	case MessageTypeRequestsBlocked:
		return &RequestsBlockedMessage{}
	case MessageTypeSubscribe:
		return &SubscribeMessage{}
	case MessageTypeSubscribeOK:
		return &SubscribeOKMessage{}
	case MessageTypeSubscribeError:
		return &SubscribeErrorMessage{}
	case MessageTypeSubscribeUpdate:
		return &SubscribeUpdateMessage{}
	case MessageTypeUnsubscribe:
		return &UnsubscribeMessage{}
	case MessageTypeSubscribeDone:
		return &SubscribeDoneMessage{}
	case MessageTypeAnnounce:
		return &AnnounceMessage{}
	case MessageTypeAnnounceOK:
		return &AnnounceOKMessage{}
	case MessageTypeAnnounceError:
		return &AnnounceErrorMessage{}
	case MessageTypeUnannounce:
		return &UnannounceMessage{}
	case MessageTypeAnnounceCancel:
		return &AnnounceCancelMessage{}
	case MessageTypeSubscribeAnnounces:
		return &SubscribeAnnouncesMessage{}
	case MessageTypeSubscribeAnnouncesOK:
		return &SubscribeAnnouncesOKMessage{}
	case MessageTypeSubscribeAnnouncesError:
		return &SubscribeAnnouncesErrorMessage{}
	case MessageTypeUnsubscribeAnnounces:
		return &UnsubscribeAnnouncesMessage{}
	case MessageTypeTrackStatusRequest:
		return &TrackStatusRequestMessage{}
	case MessageTypeTrackStatus:
		return &TrackStatusMessage{}
	case MessageTypeFetch:
		return &FetchMessage{}
	case MessageTypeFetchOK:
		return &FetchOKMessage{}
	case MessageTypeFetchError:
		return &FetchErrorMessage{}
	case MessageTypeFetchCancel:
		return &FetchCancelMessage{}
	default:
		return nil
	}
}

/*
 * Control Message {
 *   Message Type (varint),
 *   Message Length (varint),
 *   Message Payload (..),
 * }
 */

// AppendMessage appends the framed encoding of m to b.
// Identical messages always produce identical bytes.
func AppendMessage(b []byte, m Message) ([]byte, error) {
	e := encoder{msg: m.Type().String()}
	payload := getBuffer()
	defer putBuffer(payload)

	e.b = *payload
	m.encode(&e)
	*payload = e.b
	if e.err != nil {
		return b, e.err
	}
	if len(e.b) > MaxMessageLength {
		return b, fmt.Errorf("message: encode %s: %w", e.msg, errTooLong)
	}

	hdr := encoder{msg: e.msg, b: b}
	hdr.varint("type", uint64(m.Type()))
	hdr.varint("length", uint64(len(e.b)))
	if hdr.err != nil {
		return b, hdr.err
	}

	return append(hdr.b, e.b...), nil
}

// EncodeMessage returns the framed encoding of m.
func EncodeMessage(m Message) ([]byte, error) {
	return AppendMessage(nil, m)
}

// WriteMessage writes the framed encoding of m to w in a single Write call.
func WriteMessage(w io.Writer, m Message) error {
	buf := getBuffer()
	defer putBuffer(buf)

	b, err := AppendMessage(*buf, m)
	*buf = b
	if err != nil {
		return err
	}

	_, err = w.Write(b)
	return err
}

// DecodeMessage decodes one framed control message at the start of b.
// It returns the message and the number of bytes consumed, ErrShortBuffer
// when b holds an incomplete message, or a *MalformedError.
func DecodeMessage(b []byte) (Message, int, error) {
	typ, n1, err := ReadVarint(b)
	if err != nil {
		if errors.Is(err, ErrShortBuffer) {
			return nil, 0, err
		}
		return nil, 0, malformed("control message", "type", err)
	}

	length, n2, err := ReadVarint(b[n1:])
	if err != nil {
		if errors.Is(err, ErrShortBuffer) {
			return nil, 0, err
		}
		return nil, 0, malformed(MessageType(typ).String(), "length", err)
	}

	m := newMessage(MessageType(typ))
	if m == nil {
		return nil, 0, malformed(MessageType(typ).String(), "type", errUnknownType)
	}

	if length > MaxMessageLength {
		return nil, 0, malformed(m.Type().String(), "length", errTooLong)
	}

	end := n1 + n2 + int(length)
	if len(b) < end {
		return nil, 0, ErrShortBuffer
	}

	d := decoder{msg: m.Type().String(), b: b[n1+n2 : end]}
	m.decode(&d)
	if err := d.finish(); err != nil {
		return nil, 0, err
	}

	return m, end, nil
}

// ControlReader reads whole control messages from a stream.
// Partial input is kept between calls and never decoded twice.
type ControlReader struct {
	r     io.Reader
	buf   []byte
	chunk []byte
}

func NewControlReader(r io.Reader) *ControlReader {
	return &ControlReader{
		r:     r,
		chunk: make([]byte, 4096),
	}
}

// ReadMessage blocks until a complete message is available.
// A stream that ends mid-message yields io.ErrUnexpectedEOF.
func (cr *ControlReader) ReadMessage() (Message, error) {
	for {
		if len(cr.buf) > 0 {
			m, n, err := DecodeMessage(cr.buf)
			if err == nil {
				cr.buf = cr.buf[n:]
				if len(cr.buf) == 0 {
					cr.buf = cr.buf[:0:0]
				}
				return m, nil
			}
			if !errors.Is(err, ErrShortBuffer) {
				return nil, err
			}
		}

		n, err := cr.r.Read(cr.chunk)
		cr.buf = append(cr.buf, cr.chunk[:n]...)
		if err != nil {
			if n > 0 && err == io.EOF {
				continue
			}
			if err == io.EOF && len(cr.buf) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}

// Buffered returns the number of bytes read but not yet consumed.
func (cr *ControlReader) Buffered() int {
	return len(cr.buf)
}
