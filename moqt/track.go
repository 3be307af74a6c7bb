package moqt

import (
	"strconv"
	"strings"

	"github.com/okdaichi/moqtransport/moqt/internal/message"
)

// TrackNamespace is an ordered tuple of opaque segments.
type TrackNamespace = message.Namespace

// NewTrackNamespace builds a namespace from its segments.
func NewTrackNamespace(segments ...string) TrackNamespace {
	return TrackNamespace(segments)
}

// Location is a (group, object) position within a track.
type Location = message.Location

// Track identifies a track by namespace and name.
type Track struct {
	Namespace TrackNamespace
	Name      string
}

func (t Track) String() string {
	return t.Namespace.String() + "/" + t.Name
}

func (t Track) key() string {
	return namespaceKey(t.Namespace) + strconv.Itoa(len(t.Name)) + ":" + t.Name
}

// namespaceKey returns an unambiguous map key for ns.
func namespaceKey(ns TrackNamespace) string {
	var sb strings.Builder
	for _, seg := range ns {
		sb.WriteString(strconv.Itoa(len(seg)))
		sb.WriteByte(':')
		sb.WriteString(seg)
	}
	sb.WriteByte('|')
	return sb.String()
}

// GroupOrder is the delivery order of groups requested by a subscriber.
type GroupOrder = message.GroupOrder

const (
	GroupOrderDefault    GroupOrder = message.GroupOrderDefault
	GroupOrderAscending  GroupOrder = message.GroupOrderAscending
	GroupOrderDescending GroupOrder = message.GroupOrderDescending
)

// FilterType selects the start location of a subscription.
type FilterType = message.FilterType

const (
	FilterNextGroupStart FilterType = message.FilterNextGroupStart
	FilterLatestObject   FilterType = message.FilterLatestObject
	FilterAbsoluteStart  FilterType = message.FilterAbsoluteStart
	FilterAbsoluteRange  FilterType = message.FilterAbsoluteRange
)

// ObjectStatus marks objects that carry no payload.
type ObjectStatus = message.ObjectStatus

const (
	ObjectStatusNormal       ObjectStatus = message.ObjectStatusNormal
	ObjectStatusDoesNotExist ObjectStatus = message.ObjectStatusDoesNotExist
	ObjectStatusEndOfGroup   ObjectStatus = message.ObjectStatusEndOfGroup
	ObjectStatusEndOfTrack   ObjectStatus = message.ObjectStatusEndOfTrack
)

// Object is a single addressable unit of a track.
type Object struct {
	Group             uint64
	Subgroup          uint64
	ID                uint64
	PublisherPriority uint8
	Status            ObjectStatus
	Extensions        []byte
	Payload           []byte
}

// Location returns the position of the object.
func (o Object) Location() Location {
	return Location{Group: o.Group, Object: o.ID}
}

// endsGroup reports whether no object may follow o in its group.
func (o Object) endsGroup() bool {
	return o.Status == ObjectStatusEndOfGroup || o.Status == ObjectStatusEndOfTrack
}
