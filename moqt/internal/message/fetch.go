package message

// FetchType selects how the range of a FETCH is expressed.
type FetchType uint64

const (
	FetchTypeStandalone      FetchType = 0x1
	FetchTypeRelativeJoining FetchType = 0x2
	FetchTypeAbsoluteJoining FetchType = 0x3
)

/*
 * FETCH Message {
 *   Request ID (varint),
 *   Subscriber Priority (8),
 *   Group Order (8),
 *   Fetch Type (varint),
 *   [Track Namespace (tuple),
 *    Track Name Length (varint),
 *    Track Name (..),
 *    Start Location (Location),
 *    End Location (Location),]
 *   [Joining Request ID (varint),
 *    Joining Start (varint),]
 *   Number of Parameters (varint),
 *   Parameters (..) ...
 * }
 */
type FetchMessage struct {
	RequestID          uint64
	SubscriberPriority uint8
	GroupOrder         GroupOrder
	FetchType          FetchType

	// Standalone fetch
	Namespace     Namespace
	TrackName     string
	StartLocation Location
	EndLocation   Location

	// Joining fetch
	JoiningRequestID uint64
	JoiningStart     uint64

	Parameters Parameters
}

func (*FetchMessage) Type() MessageType { return MessageTypeFetch }

func (m *FetchMessage) encode(e *encoder) {
	e.varint("request_id", m.RequestID)
	e.uint8(m.SubscriberPriority)
	if m.GroupOrder > GroupOrderDescending {
		e.invalid("group_order")
	}
	e.uint8(uint8(m.GroupOrder))
	e.varint("fetch_type", uint64(m.FetchType))
	switch m.FetchType {
	case FetchTypeStandalone:
		e.namespace("track_namespace", m.Namespace)
		e.string("track_name", m.TrackName, MaxNameLength)
		e.location("start_location", m.StartLocation)
		e.location("end_location", m.EndLocation)
	case FetchTypeRelativeJoining, FetchTypeAbsoluteJoining:
		e.varint("joining_request_id", m.JoiningRequestID)
		e.varint("joining_start", m.JoiningStart)
	default:
		e.invalid("fetch_type")
	}
	e.parameters("parameters", m.Parameters)
}

func (m *FetchMessage) decode(d *decoder) {
	m.RequestID = d.varint("request_id")
	m.SubscriberPriority = d.uint8("subscriber_priority")
	m.GroupOrder = GroupOrder(d.uint8("group_order"))
	if m.GroupOrder > GroupOrderDescending {
		d.invalid("group_order")
	}
	m.FetchType = FetchType(d.varint("fetch_type"))
	switch m.FetchType {
	case FetchTypeStandalone:
		m.Namespace = d.namespace("track_namespace")
		m.TrackName = d.string("track_name", MaxNameLength)
		m.StartLocation = d.location("start_location")
		m.EndLocation = d.location("end_location")
	case FetchTypeRelativeJoining, FetchTypeAbsoluteJoining:
		m.JoiningRequestID = d.varint("joining_request_id")
		m.JoiningStart = d.varint("joining_start")
	default:
		d.invalid("fetch_type")
	}
	m.Parameters = d.parameters("parameters")
}

/*
 * FETCH_OK Message {
 *   Request ID (varint),
 *   Group Order (8),
 *   End Of Track (8),
 *   End Location (Location),
 *   Number of Parameters (varint),
 *   Subscribe Parameters (..) ...
 * }
 */
type FetchOKMessage struct {
	RequestID   uint64
	GroupOrder  GroupOrder
	EndOfTrack  bool
	EndLocation Location
	Parameters  Parameters
}

func (*FetchOKMessage) Type() MessageType { return MessageTypeFetchOK }

func (m *FetchOKMessage) encode(e *encoder) {
	e.varint("request_id", m.RequestID)
	if m.GroupOrder != GroupOrderAscending && m.GroupOrder != GroupOrderDescending {
		e.invalid("group_order")
	}
	e.uint8(uint8(m.GroupOrder))
	e.flag(m.EndOfTrack)
	e.location("end_location", m.EndLocation)
	e.parameters("parameters", m.Parameters)
}

func (m *FetchOKMessage) decode(d *decoder) {
	m.RequestID = d.varint("request_id")
	m.GroupOrder = GroupOrder(d.uint8("group_order"))
	if m.GroupOrder != GroupOrderAscending && m.GroupOrder != GroupOrderDescending {
		d.invalid("group_order")
	}
	m.EndOfTrack = d.flag("end_of_track")
	m.EndLocation = d.location("end_location")
	m.Parameters = d.parameters("parameters")
}

/*
 * FETCH_ERROR Message {
 *   Request ID (varint),
 *   Error Code (varint),
 *   Reason Phrase Length (varint),
 *   Reason Phrase (..),
 * }
 */
type FetchErrorMessage struct {
	RequestID uint64
	ErrorCode uint64
	Reason    string
}

func (*FetchErrorMessage) Type() MessageType { return MessageTypeFetchError }

func (m *FetchErrorMessage) encode(e *encoder) {
	e.varint("request_id", m.RequestID)
	e.varint("error_code", m.ErrorCode)
	e.string("reason", m.Reason, MaxReasonLength)
}

func (m *FetchErrorMessage) decode(d *decoder) {
	m.RequestID = d.varint("request_id")
	m.ErrorCode = d.varint("error_code")
	m.Reason = d.string("reason", MaxReasonLength)
}

/*
 * FETCH_CANCEL Message {
 *   Request ID (varint),
 * }
 */
type FetchCancelMessage struct {
	RequestID uint64
}

func (*FetchCancelMessage) Type() MessageType { return MessageTypeFetchCancel }

func (m *FetchCancelMessage) encode(e *encoder) {
	e.varint("request_id", m.RequestID)
}

func (m *FetchCancelMessage) decode(d *decoder) {
	m.RequestID = d.varint("request_id")
}
