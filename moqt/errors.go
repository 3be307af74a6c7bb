package moqt

import (
	"errors"
	"fmt"

	"github.com/okdaichi/moqtransport/moqt/internal/message"
	"github.com/okdaichi/moqtransport/quic"
)

var (
	// ErrSessionNotReady is returned when an operation needs an established session.
	ErrSessionNotReady = errors.New("moqt: session not ready")

	// ErrProtocolViolation is returned when a peer or a caller breaks the protocol state machine.
	ErrProtocolViolation = errors.New("moqt: protocol violation")

	// ErrVersionMismatch is returned when no common version could be negotiated.
	ErrVersionMismatch = errors.New("moqt: version mismatch")

	// ErrMalformedMessage matches every control or data decode failure.
	ErrMalformedMessage = message.ErrMalformedMessage

	// ErrDuplicateAnnouncement is returned when a namespace is already announced.
	ErrDuplicateAnnouncement = errors.New("moqt: duplicate announcement")

	// ErrNotAnnounced is returned when withdrawing a namespace that is not announced.
	ErrNotAnnounced = errors.New("moqt: namespace not announced")

	// ErrTrackDoesNotExist is returned when subscribing to a track under no announced namespace.
	ErrTrackDoesNotExist = errors.New("moqt: track does not exist")

	// ErrSubscribeTimeout is returned when a subscription got no reply in time.
	ErrSubscribeTimeout = errors.New("moqt: subscribe timeout")

	// ErrUpdateInProgress is returned when an update is issued before the previous one was acknowledged.
	ErrUpdateInProgress = errors.New("moqt: update in progress")

	// ErrNotActive is returned when a subscription operation needs an active subscription.
	ErrNotActive = errors.New("moqt: subscription not active")

	// ErrInvalidRange is returned when a subscribe, update or fetch range is invalid.
	ErrInvalidRange = errors.New("moqt: invalid range")

	// ErrTooManyRequests is returned when the peer's request id grant is exhausted.
	ErrTooManyRequests = errors.New("moqt: too many requests")

	// ErrClosedSession is returned when attempting to use a closed session.
	ErrClosedSession = errors.New("moqt: closed session")

	// ErrGoingAway is wrapped into ErrSessionNotReady once a GOAWAY was sent or received.
	ErrGoingAway = errors.New("moqt: session going away")

	// ErrSubscriptionCancelled is returned by Subscription.Next after Unsubscribe.
	ErrSubscriptionCancelled = errors.New("moqt: subscription cancelled")

	// ErrRoleViolation is returned when the local role cannot perform an operation.
	ErrRoleViolation = errors.New("moqt: role violation")

	// ErrGroupClosed is returned when writing to a closed group.
	ErrGroupClosed = errors.New("moqt: group closed")

	// ErrDuplicateGroup is returned when a group is published twice.
	ErrDuplicateGroup = errors.New("moqt: group already published")

	// ErrGroupSuperseded is carried by GroupAbortedEvent when a newer group replaced the group.
	ErrGroupSuperseded = errors.New("moqt: group superseded")

	// ErrTrackEnded is returned when publishing to a track after EndTrack.
	ErrTrackEnded = errors.New("moqt: track ended")

	// ErrFetchCancelled is returned by FetchStream.Next after Cancel.
	ErrFetchCancelled = errors.New("moqt: fetch cancelled")
)

/*
 * Session Error
 */
const (
	NoError SessionErrorCode = 0x0

	InternalSessionErrorCode     SessionErrorCode = 0x1
	UnauthorizedSessionErrorCode SessionErrorCode = 0x2
	ProtocolViolationErrorCode   SessionErrorCode = 0x3
	InvalidRequestIDErrorCode    SessionErrorCode = 0x4
	DuplicateTrackAliasErrorCode SessionErrorCode = 0x5
	TooManyRequestsErrorCode     SessionErrorCode = 0x7
	GoAwayTimeoutErrorCode       SessionErrorCode = 0x10
	ControlMessageTimeoutCode    SessionErrorCode = 0x11
	UnsupportedVersionErrorCode  SessionErrorCode = 0x15
)

var SessionErrorCodeTexts = map[SessionErrorCode]string{
	NoError:                      "moqt: no error",
	InternalSessionErrorCode:     "moqt: internal error",
	UnauthorizedSessionErrorCode: "moqt: unauthorized",
	ProtocolViolationErrorCode:   "moqt: protocol violation",
	InvalidRequestIDErrorCode:    "moqt: invalid request id",
	DuplicateTrackAliasErrorCode: "moqt: duplicate track alias",
	TooManyRequestsErrorCode:     "moqt: too many requests",
	GoAwayTimeoutErrorCode:       "moqt: goaway timeout",
	ControlMessageTimeoutCode:    "moqt: control message timeout",
	UnsupportedVersionErrorCode:  "moqt: unsupported version",
}

// SessionErrorCode represents error codes for MOQ session operations.
// These codes are used at the connection level for protocol errors.
type SessionErrorCode quic.ApplicationErrorCode

func (code SessionErrorCode) String() string {
	if text, ok := SessionErrorCodeTexts[code]; ok {
		return text
	}
	return fmt.Sprintf("moqt: session error 0x%x", uint64(code))
}

// SessionError wraps a QUIC application error with session-specific error codes.
type SessionError struct{ *quic.ApplicationError }

func (err SessionError) Error() string {
	var role string
	if err.Remote {
		role = "remote"
	} else {
		role = "local"
	}
	if err.ErrorMessage != "" {
		return fmt.Sprintf("%s (%s): %s", err.SessionErrorCode().String(), role, err.ErrorMessage)
	}
	return fmt.Sprintf("%s (%s)", err.SessionErrorCode().String(), role)
}

func (err SessionError) SessionErrorCode() SessionErrorCode {
	return SessionErrorCode(err.ErrorCode)
}

func (err SessionError) Unwrap() error {
	return err.ApplicationError
}

/*
 * Subscribe Errors
 */
const (
	InternalSubscribeErrorCode     SubscribeErrorCode = 0x0
	UnauthorizedSubscribeErrorCode SubscribeErrorCode = 0x1
	TimeoutSubscribeErrorCode      SubscribeErrorCode = 0x2
	NotSupportedSubscribeErrorCode SubscribeErrorCode = 0x3
	TrackDoesNotExistErrorCode     SubscribeErrorCode = 0x4
	InvalidRangeErrorCode          SubscribeErrorCode = 0x5
	RetryTrackAliasErrorCode       SubscribeErrorCode = 0x6
	MalformedAuthTokenErrorCode    SubscribeErrorCode = 0x10
	UnknownAuthTokenAliasErrorCode SubscribeErrorCode = 0x11
	ExpiredAuthTokenErrorCode      SubscribeErrorCode = 0x12
)

var SubscribeErrorCodeTexts = map[SubscribeErrorCode]string{
	InternalSubscribeErrorCode:     "moqt: internal error",
	UnauthorizedSubscribeErrorCode: "moqt: unauthorized",
	TimeoutSubscribeErrorCode:      "moqt: timeout",
	NotSupportedSubscribeErrorCode: "moqt: not supported",
	TrackDoesNotExistErrorCode:     "moqt: track does not exist",
	InvalidRangeErrorCode:          "moqt: invalid range",
	RetryTrackAliasErrorCode:       "moqt: retry track alias",
	MalformedAuthTokenErrorCode:    "moqt: malformed auth token",
	UnknownAuthTokenAliasErrorCode: "moqt: unknown auth token alias",
	ExpiredAuthTokenErrorCode:      "moqt: expired auth token",
}

// SubscribeErrorCode is carried by SUBSCRIBE_ERROR.
type SubscribeErrorCode uint64

func (code SubscribeErrorCode) String() string {
	if text, ok := SubscribeErrorCodeTexts[code]; ok {
		return text
	}
	return fmt.Sprintf("moqt: subscribe error 0x%x", uint64(code))
}

// SubscribeError is returned when the publisher rejected a subscription.
type SubscribeError struct {
	Code   SubscribeErrorCode
	Reason string
}

func (err *SubscribeError) Error() string {
	if err.Reason != "" {
		return fmt.Sprintf("%s: %s", err.Code.String(), err.Reason)
	}
	return err.Code.String()
}

// Is lets a rejection with TrackDoesNotExistErrorCode match ErrTrackDoesNotExist.
func (err *SubscribeError) Is(target error) bool {
	switch target {
	case ErrTrackDoesNotExist:
		return err.Code == TrackDoesNotExistErrorCode
	case ErrInvalidRange:
		return err.Code == InvalidRangeErrorCode
	}
	return false
}

/*
 * Subscribe Done Status
 */
const (
	InternalSubscribeDoneCode          SubscribeDoneCode = 0x0
	UnauthorizedSubscribeDoneCode      SubscribeDoneCode = 0x1
	TrackEndedSubscribeDoneCode        SubscribeDoneCode = 0x2
	SubscriptionEndedSubscribeDoneCode SubscribeDoneCode = 0x3
	GoingAwaySubscribeDoneCode         SubscribeDoneCode = 0x4
	ExpiredSubscribeDoneCode           SubscribeDoneCode = 0x5
	TooFarBehindSubscribeDoneCode      SubscribeDoneCode = 0x6
)

var SubscribeDoneCodeTexts = map[SubscribeDoneCode]string{
	InternalSubscribeDoneCode:          "moqt: internal error",
	UnauthorizedSubscribeDoneCode:      "moqt: unauthorized",
	TrackEndedSubscribeDoneCode:        "moqt: track ended",
	SubscriptionEndedSubscribeDoneCode: "moqt: subscription ended",
	GoingAwaySubscribeDoneCode:         "moqt: going away",
	ExpiredSubscribeDoneCode:           "moqt: expired",
	TooFarBehindSubscribeDoneCode:      "moqt: too far behind",
}

// SubscribeDoneCode is carried by SUBSCRIBE_DONE.
type SubscribeDoneCode uint64

func (code SubscribeDoneCode) String() string {
	if text, ok := SubscribeDoneCodeTexts[code]; ok {
		return text
	}
	return fmt.Sprintf("moqt: subscribe done 0x%x", uint64(code))
}

/*
 * Announce Errors
 */
const (
	InternalAnnounceErrorCode     AnnounceErrorCode = 0x0
	UnauthorizedAnnounceErrorCode AnnounceErrorCode = 0x1
	TimeoutAnnounceErrorCode      AnnounceErrorCode = 0x2
	NotSupportedAnnounceErrorCode AnnounceErrorCode = 0x3
	UninterestedErrorCode         AnnounceErrorCode = 0x4

	// SUBSCRIBE_ANNOUNCES_ERROR
	NamespacePrefixUnknownErrorCode AnnounceErrorCode = 0x4
	NamespacePrefixOverlapErrorCode AnnounceErrorCode = 0x5
)

var AnnounceErrorCodeTexts = map[AnnounceErrorCode]string{
	InternalAnnounceErrorCode:       "moqt: internal error",
	UnauthorizedAnnounceErrorCode:   "moqt: unauthorized",
	TimeoutAnnounceErrorCode:        "moqt: timeout",
	NotSupportedAnnounceErrorCode:   "moqt: not supported",
	UninterestedErrorCode:           "moqt: uninterested",
	NamespacePrefixOverlapErrorCode: "moqt: namespace prefix overlap",
}

// AnnounceErrorCode is carried by ANNOUNCE_ERROR, ANNOUNCE_CANCEL and SUBSCRIBE_ANNOUNCES_ERROR.
type AnnounceErrorCode uint64

func (code AnnounceErrorCode) String() string {
	if text, ok := AnnounceErrorCodeTexts[code]; ok {
		return text
	}
	return fmt.Sprintf("moqt: announce error 0x%x", uint64(code))
}

// AnnounceError is returned when the peer rejected or cancelled an announcement.
type AnnounceError struct {
	Code   AnnounceErrorCode
	Reason string
}

func (err *AnnounceError) Error() string {
	if err.Reason != "" {
		return fmt.Sprintf("%s: %s", err.Code.String(), err.Reason)
	}
	return err.Code.String()
}

/*
 * Fetch Errors
 */
const (
	InternalFetchErrorCode          FetchErrorCode = 0x0
	UnauthorizedFetchErrorCode      FetchErrorCode = 0x1
	TimeoutFetchErrorCode           FetchErrorCode = 0x2
	NotSupportedFetchErrorCode      FetchErrorCode = 0x3
	TrackDoesNotExistFetchErrorCode FetchErrorCode = 0x4
	InvalidRangeFetchErrorCode      FetchErrorCode = 0x5
	NoObjectsFetchErrorCode         FetchErrorCode = 0x6
	InvalidJoiningRequestErrorCode  FetchErrorCode = 0x7
)

var FetchErrorCodeTexts = map[FetchErrorCode]string{
	InternalFetchErrorCode:          "moqt: internal error",
	UnauthorizedFetchErrorCode:      "moqt: unauthorized",
	TimeoutFetchErrorCode:           "moqt: timeout",
	NotSupportedFetchErrorCode:      "moqt: not supported",
	TrackDoesNotExistFetchErrorCode: "moqt: track does not exist",
	InvalidRangeFetchErrorCode:      "moqt: invalid range",
	NoObjectsFetchErrorCode:         "moqt: no objects",
	InvalidJoiningRequestErrorCode:  "moqt: invalid joining request id",
}

// FetchErrorCode is carried by FETCH_ERROR.
type FetchErrorCode uint64

func (code FetchErrorCode) String() string {
	if text, ok := FetchErrorCodeTexts[code]; ok {
		return text
	}
	return fmt.Sprintf("moqt: fetch error 0x%x", uint64(code))
}

// FetchError is returned when the publisher rejected a fetch.
type FetchError struct {
	Code   FetchErrorCode
	Reason string
}

func (err *FetchError) Error() string {
	if err.Reason != "" {
		return fmt.Sprintf("%s: %s", err.Code.String(), err.Reason)
	}
	return err.Code.String()
}

/*
 * Group Error
 */
const (
	InternalGroupErrorCode        GroupErrorCode = 0x0
	CancelledGroupErrorCode       GroupErrorCode = 0x1
	DeliveryTimeoutGroupErrorCode GroupErrorCode = 0x2
	SessionClosedGroupErrorCode   GroupErrorCode = 0x3
)

var GroupErrorCodeTexts = map[GroupErrorCode]string{
	InternalGroupErrorCode:        "moqt: internal error",
	CancelledGroupErrorCode:       "moqt: cancelled",
	DeliveryTimeoutGroupErrorCode: "moqt: delivery timeout",
	SessionClosedGroupErrorCode:   "moqt: session closed",
}

// GroupErrorCode is used to reset data streams.
type GroupErrorCode quic.StreamErrorCode

func (code GroupErrorCode) String() string {
	if text, ok := GroupErrorCodeTexts[code]; ok {
		return text
	}
	return fmt.Sprintf("moqt: group error 0x%x", uint64(code))
}

// GroupError wraps a stream reset of a group channel.
type GroupError struct{ *quic.StreamError }

func (err GroupError) Error() string {
	return err.GroupErrorCode().String()
}

func (err GroupError) GroupErrorCode() GroupErrorCode {
	return GroupErrorCode(err.ErrorCode)
}

func (err GroupError) Unwrap() error {
	return err.StreamError
}

// protocolError describes a fatal control plane failure.
type protocolError struct {
	code SessionErrorCode
	err  error
}

func (e *protocolError) Error() string {
	return fmt.Sprintf("%s: %v", e.code.String(), e.err)
}

func (e *protocolError) Unwrap() error { return e.err }

func violation(format string, args ...any) error {
	return &protocolError{
		code: ProtocolViolationErrorCode,
		err:  fmt.Errorf("%w: "+format, append([]any{ErrProtocolViolation}, args...)...),
	}
}
