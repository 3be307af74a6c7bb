package message

import (
	"fmt"
	"strings"
)

// Limits applied while decoding untrusted input.
const (
	MaxMessageLength     = 1 << 20
	MaxNamespaceSegments = 32
	MaxNameLength        = 4096
	MaxReasonLength      = 8192
	MaxParameterLength   = 0xFFFF
)

// Version is a MoQT protocol version.
type Version uint64

const (
	Draft11 Version = 0xff00000b
	Draft12 Version = 0xff00000c
)

func (v Version) String() string {
	if v>>8 == 0xff0000 {
		return fmt.Sprintf("draft-%02d", uint64(v&0xff))
	}
	return fmt.Sprintf("0x%x", uint64(v))
}

// Location is a position within a track.
type Location struct {
	Group  uint64
	Object uint64
}

// Compare returns -1, 0 or +1 depending on whether l is before, equal to or after other.
func (l Location) Compare(other Location) int {
	switch {
	case l.Group < other.Group:
		return -1
	case l.Group > other.Group:
		return 1
	case l.Object < other.Object:
		return -1
	case l.Object > other.Object:
		return 1
	default:
		return 0
	}
}

func (l Location) String() string {
	return fmt.Sprintf("%d/%d", l.Group, l.Object)
}

// Namespace is an ordered tuple of opaque segments.
type Namespace []string

// HasPrefix reports whether prefix matches the leading segments of ns.
func (ns Namespace) HasPrefix(prefix Namespace) bool {
	if len(prefix) > len(ns) {
		return false
	}
	for i := range prefix {
		if ns[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Equal reports whether ns and other have the same segments.
func (ns Namespace) Equal(other Namespace) bool {
	return len(ns) == len(other) && ns.HasPrefix(other)
}

func (ns Namespace) String() string {
	return strings.Join(ns, "/")
}

// GroupOrder is the group delivery order requested or chosen for a track.
type GroupOrder uint8

const (
	GroupOrderDefault    GroupOrder = 0x0
	GroupOrderAscending  GroupOrder = 0x1
	GroupOrderDescending GroupOrder = 0x2
)

func (order GroupOrder) String() string {
	switch order {
	case GroupOrderDefault:
		return "default"
	case GroupOrderAscending:
		return "ascending"
	case GroupOrderDescending:
		return "descending"
	default:
		return "undefined group order"
	}
}

// FilterType selects where a subscription starts and ends.
type FilterType uint64

const (
	FilterNextGroupStart FilterType = 0x1
	FilterLatestObject   FilterType = 0x2
	FilterAbsoluteStart  FilterType = 0x3
	FilterAbsoluteRange  FilterType = 0x4
)

func (f FilterType) String() string {
	switch f {
	case FilterNextGroupStart:
		return "next_group_start"
	case FilterLatestObject:
		return "latest_object"
	case FilterAbsoluteStart:
		return "absolute_start"
	case FilterAbsoluteRange:
		return "absolute_range"
	default:
		return "undefined filter type"
	}
}

// ObjectStatus is carried by objects with an empty payload.
type ObjectStatus uint64

const (
	ObjectStatusNormal       ObjectStatus = 0x0
	ObjectStatusDoesNotExist ObjectStatus = 0x1
	ObjectStatusEndOfGroup   ObjectStatus = 0x3
	ObjectStatusEndOfTrack   ObjectStatus = 0x4
)

func (s ObjectStatus) valid() bool {
	switch s {
	case ObjectStatusNormal, ObjectStatusDoesNotExist, ObjectStatusEndOfGroup, ObjectStatusEndOfTrack:
		return true
	}
	return false
}

func (s ObjectStatus) String() string {
	switch s {
	case ObjectStatusNormal:
		return "normal"
	case ObjectStatusDoesNotExist:
		return "does_not_exist"
	case ObjectStatusEndOfGroup:
		return "end_of_group"
	case ObjectStatusEndOfTrack:
		return "end_of_track"
	default:
		return "undefined object status"
	}
}

// Parameter is a key-value pair. Even types carry Value, odd types carry Bytes.
type Parameter struct {
	Type  uint64
	Value uint64
	Bytes []byte
}

// Parameters keep wire order so that encoding is deterministic.
type Parameters []Parameter

// Varint returns the value of the first even-typed parameter t.
func (p Parameters) Varint(t uint64) (uint64, bool) {
	for _, param := range p {
		if param.Type == t && t%2 == 0 {
			return param.Value, true
		}
	}
	return 0, false
}

// Bytes returns the value of the first odd-typed parameter t.
func (p Parameters) Bytes(t uint64) ([]byte, bool) {
	for _, param := range p {
		if param.Type == t && t%2 == 1 {
			return param.Bytes, true
		}
	}
	return nil, false
}

// Setup parameter types.
const (
	SetupParameterPath         uint64 = 0x01
	SetupParameterMaxRequestID uint64 = 0x02
)

// Version specific parameter types.
const (
	ParameterAuthorizationToken uint64 = 0x01
	ParameterDeliveryTimeout    uint64 = 0x02
	ParameterMaxCacheDuration   uint64 = 0x04
)
