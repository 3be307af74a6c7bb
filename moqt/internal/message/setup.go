package message

/*
 * CLIENT_SETUP Message {
 *   Number of Supported Versions (varint),
 *   Supported Versions (varint) ...,
 *   Number of Parameters (varint),
 *   Setup Parameters (..) ...,
 * }
 */
type ClientSetupMessage struct {
	SupportedVersions []Version
	Parameters        Parameters
}

func (*ClientSetupMessage) Type() MessageType { return MessageTypeClientSetup }

func (m *ClientSetupMessage) encode(e *encoder) {
	if len(m.SupportedVersions) == 0 {
		e.invalid("supported_versions")
		return
	}
	e.varint("supported_versions", uint64(len(m.SupportedVersions)))
	for _, v := range m.SupportedVersions {
		e.varint("supported_versions", uint64(v))
	}
	e.parameters("parameters", m.Parameters)
}

func (m *ClientSetupMessage) decode(d *decoder) {
	count := d.varint("supported_versions")
	if d.err != nil {
		return
	}
	if count == 0 {
		d.invalid("supported_versions")
		return
	}
	if count > uint64(len(d.b)) {
		d.fail("supported_versions", errTruncated)
		return
	}
	m.SupportedVersions = make([]Version, 0, count)
	for range count {
		m.SupportedVersions = append(m.SupportedVersions, Version(d.varint("supported_versions")))
	}
	m.Parameters = d.parameters("parameters")
}

/*
 * SERVER_SETUP Message {
 *   Selected Version (varint),
 *   Number of Parameters (varint),
 *   Setup Parameters (..) ...,
 * }
 */
type ServerSetupMessage struct {
	SelectedVersion Version
	Parameters      Parameters
}

func (*ServerSetupMessage) Type() MessageType { return MessageTypeServerSetup }

func (m *ServerSetupMessage) encode(e *encoder) {
	e.varint("selected_version", uint64(m.SelectedVersion))
	e.parameters("parameters", m.Parameters)
}

func (m *ServerSetupMessage) decode(d *decoder) {
	m.SelectedVersion = Version(d.varint("selected_version"))
	m.Parameters = d.parameters("parameters")
}

/*
 * GOAWAY Message {
 *   New Session URI Length (varint),
 *   New Session URI (..),
 * }
 */
type GoAwayMessage struct {
	NewSessionURI string
}

func (*GoAwayMessage) Type() MessageType { return MessageTypeGoAway }

func (m *GoAwayMessage) encode(e *encoder) {
	e.string("new_session_uri", m.NewSessionURI, MaxReasonLength)
}

func (m *GoAwayMessage) decode(d *decoder) {
	m.NewSessionURI = d.string("new_session_uri", MaxReasonLength)
}

/*
 * MAX_REQUEST_ID Message {
 *   Request ID (varint),
 * }
 */
type MaxRequestIDMessage struct {
	RequestID uint64
}

func (*MaxRequestIDMessage) Type() MessageType { return MessageTypeMaxRequestID }

func (m *MaxRequestIDMessage) encode(e *encoder) {
	e.varint("request_id", m.RequestID)
}

func (m *MaxRequestIDMessage) decode(d *decoder) {
	m.RequestID = d.varint("request_id")
}

/*
 * REQUESTS_BLOCKED Message {
 *   Maximum Request ID (varint),
 * }
 */
type RequestsBlockedMessage struct {
	MaximumRequestID uint64
}

func (*RequestsBlockedMessage) Type() MessageType { return MessageTypeRequestsBlocked }

func (m *RequestsBlockedMessage) encode(e *encoder) {
	e.varint("maximum_request_id", m.MaximumRequestID)
}

func (m *RequestsBlockedMessage) decode(d *decoder) {
	m.MaximumRequestID = d.varint("maximum_request_id")
}
