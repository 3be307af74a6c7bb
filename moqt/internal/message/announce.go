package message

/*
 * ANNOUNCE Message {
 *   Request ID (varint),
 *   Track Namespace (tuple),
 *   Number of Parameters (varint),
 *   Parameters (..) ...,
 * }
 */
type AnnounceMessage struct {
	RequestID  uint64
	Namespace  Namespace
	Parameters Parameters
}

func (*AnnounceMessage) Type() MessageType { return MessageTypeAnnounce }

func (m *AnnounceMessage) encode(e *encoder) {
	e.varint("request_id", m.RequestID)
	if len(m.Namespace) == 0 {
		e.invalid("track_namespace")
	}
	e.namespace("track_namespace", m.Namespace)
	e.parameters("parameters", m.Parameters)
}

func (m *AnnounceMessage) decode(d *decoder) {
	m.RequestID = d.varint("request_id")
	m.Namespace = d.namespace("track_namespace")
	m.Parameters = d.parameters("parameters")
}

/*
 * ANNOUNCE_OK Message {
 *   Request ID (varint),
 * }
 */
type AnnounceOKMessage struct {
	RequestID uint64
}

func (*AnnounceOKMessage) Type() MessageType { return MessageTypeAnnounceOK }

func (m *AnnounceOKMessage) encode(e *encoder) {
	e.varint("request_id", m.RequestID)
}

func (m *AnnounceOKMessage) decode(d *decoder) {
	m.RequestID = d.varint("request_id")
}

/*
 * ANNOUNCE_ERROR Message {
 *   Request ID (varint),
 *   Error Code (varint),
 *   Reason Phrase Length (varint),
 *   Reason Phrase (..),
 * }
 */
type AnnounceErrorMessage struct {
	RequestID uint64
	ErrorCode uint64
	Reason    string
}

func (*AnnounceErrorMessage) Type() MessageType { return MessageTypeAnnounceError }

func (m *AnnounceErrorMessage) encode(e *encoder) {
	e.varint("request_id", m.RequestID)
	e.varint("error_code", m.ErrorCode)
	e.string("reason", m.Reason, MaxReasonLength)
}

func (m *AnnounceErrorMessage) decode(d *decoder) {
	m.RequestID = d.varint("request_id")
	m.ErrorCode = d.varint("error_code")
	m.Reason = d.string("reason", MaxReasonLength)
}

/*
 * UNANNOUNCE Message {
 *   Track Namespace (tuple),
 * }
 */
type UnannounceMessage struct {
	Namespace Namespace
}

func (*UnannounceMessage) Type() MessageType { return MessageTypeUnannounce }

func (m *UnannounceMessage) encode(e *encoder) {
	e.namespace("track_namespace", m.Namespace)
}

func (m *UnannounceMessage) decode(d *decoder) {
	m.Namespace = d.namespace("track_namespace")
}

/*
 * ANNOUNCE_CANCEL Message {
 *   Track Namespace (tuple),
 *   Error Code (varint),
 *   Reason Phrase Length (varint),
 *   Reason Phrase (..),
 * }
 */
type AnnounceCancelMessage struct {
	Namespace Namespace
	ErrorCode uint64
	Reason    string
}

func (*AnnounceCancelMessage) Type() MessageType { return MessageTypeAnnounceCancel }

func (m *AnnounceCancelMessage) encode(e *encoder) {
	e.namespace("track_namespace", m.Namespace)
	e.varint("error_code", m.ErrorCode)
	e.string("reason", m.Reason, MaxReasonLength)
}

func (m *AnnounceCancelMessage) decode(d *decoder) {
	m.Namespace = d.namespace("track_namespace")
	m.ErrorCode = d.varint("error_code")
	m.Reason = d.string("reason", MaxReasonLength)
}

/*
 * SUBSCRIBE_ANNOUNCES Message {
 *   Request ID (varint),
 *   Track Namespace Prefix (tuple),
 *   Number of Parameters (varint),
 *   Parameters (..) ...,
 * }
 */
type SubscribeAnnouncesMessage struct {
	RequestID  uint64
	Prefix     Namespace
	Parameters Parameters
}

func (*SubscribeAnnouncesMessage) Type() MessageType { return MessageTypeSubscribeAnnounces }

func (m *SubscribeAnnouncesMessage) encode(e *encoder) {
	e.varint("request_id", m.RequestID)
	e.namespace("track_namespace_prefix", m.Prefix)
	e.parameters("parameters", m.Parameters)
}

func (m *SubscribeAnnouncesMessage) decode(d *decoder) {
	m.RequestID = d.varint("request_id")
	m.Prefix = d.prefix("track_namespace_prefix")
	m.Parameters = d.parameters("parameters")
}

/*
 * SUBSCRIBE_ANNOUNCES_OK Message {
 *   Request ID (varint),
 * }
 */
type SubscribeAnnouncesOKMessage struct {
	RequestID uint64
}

func (*SubscribeAnnouncesOKMessage) Type() MessageType { return MessageTypeSubscribeAnnouncesOK }

func (m *SubscribeAnnouncesOKMessage) encode(e *encoder) {
	e.varint("request_id", m.RequestID)
}

func (m *SubscribeAnnouncesOKMessage) decode(d *decoder) {
	m.RequestID = d.varint("request_id")
}

/*
 * SUBSCRIBE_ANNOUNCES_ERROR Message {
 *   Request ID (varint),
 *   Error Code (varint),
 *   Reason Phrase Length (varint),
 *   Reason Phrase (..),
 * }
 */
type SubscribeAnnouncesErrorMessage struct {
	RequestID uint64
	ErrorCode uint64
	Reason    string
}

func (*SubscribeAnnouncesErrorMessage) Type() MessageType {
	return MessageTypeSubscribeAnnouncesError
}

func (m *SubscribeAnnouncesErrorMessage) encode(e *encoder) {
	e.varint("request_id", m.RequestID)
	e.varint("error_code", m.ErrorCode)
	e.string("reason", m.Reason, MaxReasonLength)
}

func (m *SubscribeAnnouncesErrorMessage) decode(d *decoder) {
	m.RequestID = d.varint("request_id")
	m.ErrorCode = d.varint("error_code")
	m.Reason = d.string("reason", MaxReasonLength)
}

/*
 * UNSUBSCRIBE_ANNOUNCES Message {
 *   Track Namespace Prefix (tuple),
 * }
 */
type UnsubscribeAnnouncesMessage struct {
	Prefix Namespace
}

func (*UnsubscribeAnnouncesMessage) Type() MessageType { return MessageTypeUnsubscribeAnnounces }

func (m *UnsubscribeAnnouncesMessage) encode(e *encoder) {
	e.namespace("track_namespace_prefix", m.Prefix)
}

func (m *UnsubscribeAnnouncesMessage) decode(d *decoder) {
	m.Prefix = d.prefix("track_namespace_prefix")
}
