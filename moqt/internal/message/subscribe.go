package message

/*
 * SUBSCRIBE Message {
 *   Request ID (varint),
 *   Track Namespace (tuple),
 *   Track Name Length (varint),
 *   Track Name (..),
 *   Subscriber Priority (8),
 *   Group Order (8),
 *   Forward (8),
 *   Filter Type (varint),
 *   [Start Location (Location)],
 *   [End Group (varint)],
 *   Number of Parameters (varint),
 *   Subscribe Parameters (..) ...
 * }
 */
type SubscribeMessage struct {
	RequestID          uint64
	Namespace          Namespace
	TrackName          string
	SubscriberPriority uint8
	GroupOrder         GroupOrder
	Forward            bool
	FilterType         FilterType

	// StartLocation is present for FilterAbsoluteStart and FilterAbsoluteRange.
	StartLocation Location
	// EndGroup is present for FilterAbsoluteRange.
	EndGroup uint64

	Parameters Parameters
}

func (*SubscribeMessage) Type() MessageType { return MessageTypeSubscribe }

func (m *SubscribeMessage) encode(e *encoder) {
	e.varint("request_id", m.RequestID)
	e.namespace("track_namespace", m.Namespace)
	e.string("track_name", m.TrackName, MaxNameLength)
	e.uint8(m.SubscriberPriority)
	if m.GroupOrder > GroupOrderDescending {
		e.invalid("group_order")
	}
	e.uint8(uint8(m.GroupOrder))
	e.flag(m.Forward)
	e.varint("filter_type", uint64(m.FilterType))
	switch m.FilterType {
	case FilterNextGroupStart, FilterLatestObject:
	case FilterAbsoluteStart:
		e.location("start_location", m.StartLocation)
	case FilterAbsoluteRange:
		e.location("start_location", m.StartLocation)
		if m.EndGroup < m.StartLocation.Group {
			e.invalid("end_group")
		}
		e.varint("end_group", m.EndGroup)
	default:
		e.invalid("filter_type")
	}
	e.parameters("parameters", m.Parameters)
}

func (m *SubscribeMessage) decode(d *decoder) {
	m.RequestID = d.varint("request_id")
	m.Namespace = d.namespace("track_namespace")
	m.TrackName = d.string("track_name", MaxNameLength)
	m.SubscriberPriority = d.uint8("subscriber_priority")
	m.GroupOrder = GroupOrder(d.uint8("group_order"))
	if m.GroupOrder > GroupOrderDescending {
		d.invalid("group_order")
	}
	m.Forward = d.flag("forward")
	m.FilterType = FilterType(d.varint("filter_type"))
	switch m.FilterType {
	case FilterNextGroupStart, FilterLatestObject:
	case FilterAbsoluteStart:
		m.StartLocation = d.location("start_location")
	case FilterAbsoluteRange:
		m.StartLocation = d.location("start_location")
		m.EndGroup = d.varint("end_group")
		if m.EndGroup < m.StartLocation.Group {
			d.invalid("end_group")
		}
	default:
		d.invalid("filter_type")
	}
	m.Parameters = d.parameters("parameters")
}

/*
 * SUBSCRIBE_OK Message {
 *   Request ID (varint),
 *   Track Alias (varint),
 *   Expires (varint),
 *   Group Order (8),
 *   Content Exists (8),
 *   [Largest Location (Location)],
 *   Number of Parameters (varint),
 *   Subscribe Parameters (..) ...
 * }
 */
type SubscribeOKMessage struct {
	RequestID  uint64
	TrackAlias uint64
	// Expires is in milliseconds. Zero means the subscription does not expire.
	Expires         uint64
	GroupOrder      GroupOrder
	ContentExists   bool
	LargestLocation Location
	Parameters      Parameters
}

func (*SubscribeOKMessage) Type() MessageType { return MessageTypeSubscribeOK }

func (m *SubscribeOKMessage) encode(e *encoder) {
	e.varint("request_id", m.RequestID)
	e.varint("track_alias", m.TrackAlias)
	e.varint("expires", m.Expires)
	if m.GroupOrder != GroupOrderAscending && m.GroupOrder != GroupOrderDescending {
		e.invalid("group_order")
	}
	e.uint8(uint8(m.GroupOrder))
	e.flag(m.ContentExists)
	if m.ContentExists {
		e.location("largest_location", m.LargestLocation)
	}
	e.parameters("parameters", m.Parameters)
}

func (m *SubscribeOKMessage) decode(d *decoder) {
	m.RequestID = d.varint("request_id")
	m.TrackAlias = d.varint("track_alias")
	m.Expires = d.varint("expires")
	m.GroupOrder = GroupOrder(d.uint8("group_order"))
	if m.GroupOrder != GroupOrderAscending && m.GroupOrder != GroupOrderDescending {
		d.invalid("group_order")
	}
	m.ContentExists = d.flag("content_exists")
	if m.ContentExists {
		m.LargestLocation = d.location("largest_location")
	}
	m.Parameters = d.parameters("parameters")
}

/*
 * SUBSCRIBE_ERROR Message {
 *   Request ID (varint),
 *   Error Code (varint),
 *   Reason Phrase Length (varint),
 *   Reason Phrase (..),
 * }
 */
type SubscribeErrorMessage struct {
	RequestID uint64
	ErrorCode uint64
	Reason    string
}

func (*SubscribeErrorMessage) Type() MessageType { return MessageTypeSubscribeError }

func (m *SubscribeErrorMessage) encode(e *encoder) {
	e.varint("request_id", m.RequestID)
	e.varint("error_code", m.ErrorCode)
	e.string("reason", m.Reason, MaxReasonLength)
}

func (m *SubscribeErrorMessage) decode(d *decoder) {
	m.RequestID = d.varint("request_id")
	m.ErrorCode = d.varint("error_code")
	m.Reason = d.string("reason", MaxReasonLength)
}

/*
 * SUBSCRIBE_UPDATE Message {
 *   Request ID (varint),
 *   Start Location (Location),
 *   End Group (varint),
 *   Subscriber Priority (8),
 *   Forward (8),
 *   Number of Parameters (varint),
 *   Subscribe Parameters (..) ...
 * }
 */
type SubscribeUpdateMessage struct {
	RequestID     uint64
	StartLocation Location
	// EndGroup is the end group plus one. Zero means open-ended.
	EndGroup           uint64
	SubscriberPriority uint8
	Forward            bool
	Parameters         Parameters
}

func (*SubscribeUpdateMessage) Type() MessageType { return MessageTypeSubscribeUpdate }

func (m *SubscribeUpdateMessage) encode(e *encoder) {
	e.varint("request_id", m.RequestID)
	e.location("start_location", m.StartLocation)
	e.varint("end_group", m.EndGroup)
	e.uint8(m.SubscriberPriority)
	e.flag(m.Forward)
	e.parameters("parameters", m.Parameters)
}

func (m *SubscribeUpdateMessage) decode(d *decoder) {
	m.RequestID = d.varint("request_id")
	m.StartLocation = d.location("start_location")
	m.EndGroup = d.varint("end_group")
	m.SubscriberPriority = d.uint8("subscriber_priority")
	m.Forward = d.flag("forward")
	m.Parameters = d.parameters("parameters")
}

/*
 * UNSUBSCRIBE Message {
 *   Request ID (varint),
 * }
 */
type UnsubscribeMessage struct {
	RequestID uint64
}

func (*UnsubscribeMessage) Type() MessageType { return MessageTypeUnsubscribe }

func (m *UnsubscribeMessage) encode(e *encoder) {
	e.varint("request_id", m.RequestID)
}

func (m *UnsubscribeMessage) decode(d *decoder) {
	m.RequestID = d.varint("request_id")
}

/*
 * SUBSCRIBE_DONE Message {
 *   Request ID (varint),
 *   Status Code (varint),
 *   Stream Count (varint),
 *   Reason Phrase Length (varint),
 *   Reason Phrase (..),
 * }
 */
type SubscribeDoneMessage struct {
	RequestID   uint64
	StatusCode  uint64
	StreamCount uint64
	Reason      string
}

func (*SubscribeDoneMessage) Type() MessageType { return MessageTypeSubscribeDone }

func (m *SubscribeDoneMessage) encode(e *encoder) {
	e.varint("request_id", m.RequestID)
	e.varint("status_code", m.StatusCode)
	e.varint("stream_count", m.StreamCount)
	e.string("reason", m.Reason, MaxReasonLength)
}

func (m *SubscribeDoneMessage) decode(d *decoder) {
	m.RequestID = d.varint("request_id")
	m.StatusCode = d.varint("status_code")
	m.StreamCount = d.varint("stream_count")
	m.Reason = d.string("reason", MaxReasonLength)
}
