package message

// TrackStatusCode describes the state of a track in TRACK_STATUS.
type TrackStatusCode uint64

const (
	TrackStatusInProgress   TrackStatusCode = 0x00
	TrackStatusDoesNotExist TrackStatusCode = 0x01
	TrackStatusNotBegun     TrackStatusCode = 0x02
	TrackStatusFinished     TrackStatusCode = 0x03
	TrackStatusUnavailable  TrackStatusCode = 0x04
)

/*
 * TRACK_STATUS_REQUEST Message {
 *   Request ID (varint),
 *   Track Namespace (tuple),
 *   Track Name Length (varint),
 *   Track Name (..),
 *   Number of Parameters (varint),
 *   Parameters (..) ...,
 * }
 */
type TrackStatusRequestMessage struct {
	RequestID  uint64
	Namespace  Namespace
	TrackName  string
	Parameters Parameters
}

func (*TrackStatusRequestMessage) Type() MessageType { return MessageTypeTrackStatusRequest }

func (m *TrackStatusRequestMessage) encode(e *encoder) {
	e.varint("request_id", m.RequestID)
	e.namespace("track_namespace", m.Namespace)
	e.string("track_name", m.TrackName, MaxNameLength)
	e.parameters("parameters", m.Parameters)
}

func (m *TrackStatusRequestMessage) decode(d *decoder) {
	m.RequestID = d.varint("request_id")
	m.Namespace = d.namespace("track_namespace")
	m.TrackName = d.string("track_name", MaxNameLength)
	m.Parameters = d.parameters("parameters")
}

/*
 * TRACK_STATUS Message {
 *   Request ID (varint),
 *   Status Code (varint),
 *   Largest Location (Location),
 *   Number of Parameters (varint),
 *   Parameters (..) ...,
 * }
 */
type TrackStatusMessage struct {
	RequestID       uint64
	StatusCode      TrackStatusCode
	LargestLocation Location
	Parameters      Parameters
}

func (*TrackStatusMessage) Type() MessageType { return MessageTypeTrackStatus }

// Tracks that do not exist or have not begun carry no location and no parameters.
func (m *TrackStatusMessage) carriesNothing() bool {
	return m.StatusCode == TrackStatusDoesNotExist || m.StatusCode == TrackStatusNotBegun
}

func (m *TrackStatusMessage) encode(e *encoder) {
	e.varint("request_id", m.RequestID)
	if m.StatusCode > TrackStatusUnavailable {
		e.invalid("status_code")
	}
	e.varint("status_code", uint64(m.StatusCode))
	if m.carriesNothing() && (m.LargestLocation != (Location{}) || len(m.Parameters) > 0) {
		e.fail("largest_location", errMismatchedField)
	}
	e.location("largest_location", m.LargestLocation)
	e.parameters("parameters", m.Parameters)
}

func (m *TrackStatusMessage) decode(d *decoder) {
	m.RequestID = d.varint("request_id")
	m.StatusCode = TrackStatusCode(d.varint("status_code"))
	if m.StatusCode > TrackStatusUnavailable {
		d.invalid("status_code")
	}
	m.LargestLocation = d.location("largest_location")
	m.Parameters = d.parameters("parameters")
	if d.err == nil && m.carriesNothing() && (m.LargestLocation != (Location{}) || len(m.Parameters) > 0) {
		d.fail("largest_location", errMismatchedField)
	}
}
