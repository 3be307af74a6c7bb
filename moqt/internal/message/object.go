package message

import (
	"errors"
	"fmt"
	"io"
)

// StreamType is the first varint of a unidirectional data stream.
type StreamType uint64

const (
	StreamTypeFetchHeader StreamType = 0x05

	// Subgroup ID is zero.
	StreamTypeSubgroupZero    StreamType = 0x08
	StreamTypeSubgroupZeroExt StreamType = 0x09
	// Subgroup ID is the first Object ID.
	StreamTypeSubgroupFirstObject    StreamType = 0x0A
	StreamTypeSubgroupFirstObjectExt StreamType = 0x0B
	// Subgroup ID is explicit.
	StreamTypeSubgroupExplicit    StreamType = 0x0C
	StreamTypeSubgroupExplicitExt StreamType = 0x0D
)

func (t StreamType) isSubgroup() bool {
	return t >= StreamTypeSubgroupZero && t <= StreamTypeSubgroupExplicitExt
}

func (t StreamType) hasExtensions() bool {
	return t.isSubgroup() && t%2 == 1
}

func (t StreamType) String() string {
	switch {
	case t == StreamTypeFetchHeader:
		return "FETCH_HEADER"
	case t.isSubgroup():
		return "SUBGROUP_HEADER"
	default:
		return fmt.Sprintf("UNKNOWN_STREAM(0x%x)", uint64(t))
	}
}

/*
 * SUBGROUP_HEADER {
 *   Type (varint) = 0x08..0x0D,
 *   Track Alias (varint),
 *   Group ID (varint),
 *   [Subgroup ID (varint),]
 *   Publisher Priority (8),
 * }
 */
type SubgroupHeader struct {
	TrackAlias uint64
	GroupID    uint64
	SubgroupID uint64
	// SubgroupFromFirstObject is set when SubgroupID is taken from the first object.
	SubgroupFromFirstObject bool
	PublisherPriority       uint8
	// Extensions tells whether objects on the stream carry extension headers.
	Extensions bool
}

func (h SubgroupHeader) streamType() StreamType {
	var t StreamType
	switch {
	case h.SubgroupFromFirstObject:
		t = StreamTypeSubgroupFirstObject
	case h.SubgroupID == 0:
		t = StreamTypeSubgroupZero
	default:
		t = StreamTypeSubgroupExplicit
	}
	if h.Extensions {
		t++
	}
	return t
}

// AppendSubgroupHeader appends h including its stream type.
func AppendSubgroupHeader(b []byte, h SubgroupHeader) ([]byte, error) {
	e := encoder{msg: "SUBGROUP_HEADER", b: b}
	t := h.streamType()
	e.varint("type", uint64(t))
	e.varint("track_alias", h.TrackAlias)
	e.varint("group_id", h.GroupID)
	if t == StreamTypeSubgroupExplicit || t == StreamTypeSubgroupExplicitExt {
		e.varint("subgroup_id", h.SubgroupID)
	}
	e.uint8(h.PublisherPriority)
	if e.err != nil {
		return b, e.err
	}
	return e.b, nil
}

// SubgroupObject is an object on a subgroup stream.
type SubgroupObject struct {
	ObjectID   uint64
	Extensions []byte
	Status     ObjectStatus
	Payload    []byte
}

/*
 * Subgroup Object {
 *   Object ID (varint),
 *   [Extension Headers Length (varint),
 *    Extension headers (..)],
 *   Object Payload Length (varint),
 *   [Object Status (varint)],
 *   Object Payload (..),
 * }
 */

// AppendSubgroupObject appends o. Extensions are written only when the stream carries them.
func AppendSubgroupObject(b []byte, h SubgroupHeader, o SubgroupObject) ([]byte, error) {
	e := encoder{msg: "SUBGROUP_OBJECT", b: b}
	e.varint("object_id", o.ObjectID)
	if h.Extensions {
		e.bytes("extensions", o.Extensions, MaxMessageLength)
	} else if len(o.Extensions) > 0 {
		e.invalid("extensions")
	}
	appendPayload(&e, o.Status, o.Payload)
	if e.err != nil {
		return b, e.err
	}
	return e.b, nil
}

func appendPayload(e *encoder, status ObjectStatus, payload []byte) {
	if len(payload) > 0 {
		if status != ObjectStatusNormal {
			e.invalid("status")
		}
		e.varint("payload_length", uint64(len(payload)))
		e.b = append(e.b, payload...)
		return
	}
	if !status.valid() {
		e.invalid("status")
	}
	e.varint("payload_length", 0)
	e.varint("status", uint64(status))
}

/*
 * FETCH_HEADER {
 *   Type (varint) = 0x05,
 *   Request ID (varint),
 * }
 */

// AppendFetchHeader appends a FETCH_HEADER including its stream type.
func AppendFetchHeader(b []byte, requestID uint64) ([]byte, error) {
	e := encoder{msg: "FETCH_HEADER", b: b}
	e.varint("type", uint64(StreamTypeFetchHeader))
	e.varint("request_id", requestID)
	if e.err != nil {
		return b, e.err
	}
	return e.b, nil
}

// FetchObject is an object on a fetch stream.
type FetchObject struct {
	GroupID           uint64
	SubgroupID        uint64
	ObjectID          uint64
	PublisherPriority uint8
	Extensions        []byte
	Status            ObjectStatus
	Payload           []byte
}

/*
 * Fetch Object {
 *   Group ID (varint),
 *   Subgroup ID (varint),
 *   Object ID (varint),
 *   Publisher Priority (8),
 *   Extension Headers Length (varint),
 *   [Extension headers (...)],
 *   Object Payload Length (varint),
 *   [Object Status (varint)],
 *   Object Payload (..),
 * }
 */
func AppendFetchObject(b []byte, o FetchObject) ([]byte, error) {
	e := encoder{msg: "FETCH_OBJECT", b: b}
	e.varint("group_id", o.GroupID)
	e.varint("subgroup_id", o.SubgroupID)
	e.varint("object_id", o.ObjectID)
	e.uint8(o.PublisherPriority)
	e.bytes("extensions", o.Extensions, MaxMessageLength)
	appendPayload(&e, o.Status, o.Payload)
	if e.err != nil {
		return b, e.err
	}
	return e.b, nil
}

// ByteReader is the input of the stream decoders.
type ByteReader interface {
	io.Reader
	io.ByteReader
}

// streamDecoder reads fields from a stream. Transport errors pass through unchanged.
type streamDecoder struct {
	msg string
	r   ByteReader
	err error
}

func (d *streamDecoder) fail(field string, err error) {
	if d.err != nil {
		return
	}
	switch {
	case err == io.EOF, errors.Is(err, io.ErrUnexpectedEOF):
		d.err = malformed(d.msg, field, errTruncated)
	case errors.Is(err, ErrOverlongVarint), errors.Is(err, errInvalidValue), errors.Is(err, errTooLong):
		d.err = malformed(d.msg, field, err)
	default:
		d.err = err
	}
}

func (d *streamDecoder) varint(field string) uint64 {
	if d.err != nil {
		return 0
	}
	v, err := readVarint(d.r)
	if err != nil {
		d.fail(field, err)
		return 0
	}
	return v
}

func (d *streamDecoder) uint8(field string) uint8 {
	if d.err != nil {
		return 0
	}
	c, err := d.r.ReadByte()
	if err != nil {
		d.fail(field, err)
		return 0
	}
	return c
}

func (d *streamDecoder) bytes(field string, max uint64) []byte {
	n := d.varint(field)
	if d.err != nil {
		return nil
	}
	if n > max {
		d.fail(field, errTooLong)
		return nil
	}
	if n == 0 {
		return nil
	}
	v := make([]byte, n)
	if _, err := io.ReadFull(d.r, v); err != nil {
		d.fail(field, err)
		return nil
	}
	return v
}

func (d *streamDecoder) payload(maxPayload uint64) (ObjectStatus, []byte) {
	v := d.bytes("payload", maxPayload)
	if d.err != nil {
		return 0, nil
	}
	if v != nil {
		return ObjectStatusNormal, v
	}
	status := ObjectStatus(d.varint("status"))
	if d.err == nil && !status.valid() {
		d.fail("status", errInvalidValue)
	}
	return status, nil
}

// ReadStreamType reads the type of a unidirectional data stream.
func ReadStreamType(r ByteReader) (StreamType, error) {
	v, err := readVarint(r)
	if err != nil {
		d := streamDecoder{msg: "data stream"}
		d.fail("type", err)
		return 0, d.err
	}
	t := StreamType(v)
	if t != StreamTypeFetchHeader && !t.isSubgroup() {
		return 0, malformed("data stream", "type", errUnknownType)
	}
	return t, nil
}

// ReadSubgroupHeader reads the rest of a SUBGROUP_HEADER after its stream type.
func ReadSubgroupHeader(r ByteReader, t StreamType) (SubgroupHeader, error) {
	if !t.isSubgroup() {
		return SubgroupHeader{}, malformed("SUBGROUP_HEADER", "type", errUnknownType)
	}
	d := streamDecoder{msg: "SUBGROUP_HEADER", r: r}
	h := SubgroupHeader{
		TrackAlias: d.varint("track_alias"),
		GroupID:    d.varint("group_id"),
		Extensions: t.hasExtensions(),
	}
	switch t {
	case StreamTypeSubgroupExplicit, StreamTypeSubgroupExplicitExt:
		h.SubgroupID = d.varint("subgroup_id")
	case StreamTypeSubgroupFirstObject, StreamTypeSubgroupFirstObjectExt:
		h.SubgroupFromFirstObject = true
	}
	h.PublisherPriority = d.uint8("publisher_priority")
	return h, d.err
}

// ReadSubgroupObject reads the next object of a subgroup stream.
// It returns io.EOF when the stream ends cleanly between objects.
func ReadSubgroupObject(r ByteReader, h SubgroupHeader, maxPayload uint64) (SubgroupObject, error) {
	first, err := readVarint(r)
	if err != nil {
		if err == io.EOF {
			return SubgroupObject{}, io.EOF
		}
		d := streamDecoder{msg: "SUBGROUP_OBJECT"}
		d.fail("object_id", err)
		return SubgroupObject{}, d.err
	}

	d := streamDecoder{msg: "SUBGROUP_OBJECT", r: r}
	o := SubgroupObject{ObjectID: first}
	if h.Extensions {
		o.Extensions = d.bytes("extensions", MaxMessageLength)
	}
	o.Status, o.Payload = d.payload(maxPayload)
	if d.err != nil {
		return SubgroupObject{}, d.err
	}
	return o, nil
}

// ReadFetchHeader reads the request id of a FETCH_HEADER after its stream type.
func ReadFetchHeader(r ByteReader) (uint64, error) {
	d := streamDecoder{msg: "FETCH_HEADER", r: r}
	id := d.varint("request_id")
	return id, d.err
}

// ReadFetchObject reads the next object of a fetch stream.
// It returns io.EOF when the stream ends cleanly between objects.
func ReadFetchObject(r ByteReader, maxPayload uint64) (FetchObject, error) {
	group, err := readVarint(r)
	if err != nil {
		if err == io.EOF {
			return FetchObject{}, io.EOF
		}
		d := streamDecoder{msg: "FETCH_OBJECT"}
		d.fail("group_id", err)
		return FetchObject{}, d.err
	}

	d := streamDecoder{msg: "FETCH_OBJECT", r: r}
	o := FetchObject{GroupID: group}
	o.SubgroupID = d.varint("subgroup_id")
	o.ObjectID = d.varint("object_id")
	o.PublisherPriority = d.uint8("publisher_priority")
	o.Extensions = d.bytes("extensions", MaxMessageLength)
	o.Status, o.Payload = d.payload(maxPayload)
	if d.err != nil {
		return FetchObject{}, d.err
	}
	return o, nil
}

// DatagramType is the first varint of a datagram.
type DatagramType uint64

const (
	DatagramTypeObject          DatagramType = 0x00
	DatagramTypeObjectExt       DatagramType = 0x01
	DatagramTypeObjectStatus    DatagramType = 0x02
	DatagramTypeObjectStatusExt DatagramType = 0x03
)

// Datagram is an object sent in a single QUIC datagram.
type Datagram struct {
	TrackAlias        uint64
	GroupID           uint64
	ObjectID          uint64
	PublisherPriority uint8
	Extensions        []byte
	Status            ObjectStatus
	Payload           []byte
}

func (dg Datagram) datagramType() DatagramType {
	t := DatagramTypeObject
	if len(dg.Payload) == 0 {
		t = DatagramTypeObjectStatus
	}
	if len(dg.Extensions) > 0 {
		t++
	}
	return t
}

/*
 * OBJECT_DATAGRAM {
 *   Type (varint) = 0x00..0x01,
 *   Track Alias (varint),
 *   Group ID (varint),
 *   Object ID (varint),
 *   Publisher Priority (8),
 *   [Extension Headers Length (varint),
 *    Extension headers (...)],
 *   Object Payload (..),
 * }
 *
 * OBJECT_DATAGRAM_STATUS {
 *   Type (varint) = 0x02..0x03,
 *   Track Alias (varint),
 *   Group ID (varint),
 *   Object ID (varint),
 *   Publisher Priority (8),
 *   [Extension Headers Length (varint),
 *    Extension headers (...)],
 *   Object Status (varint),
 * }
 */
func AppendDatagram(b []byte, dg Datagram) ([]byte, error) {
	e := encoder{msg: "OBJECT_DATAGRAM", b: b}
	t := dg.datagramType()
	e.varint("type", uint64(t))
	e.varint("track_alias", dg.TrackAlias)
	e.varint("group_id", dg.GroupID)
	e.varint("object_id", dg.ObjectID)
	e.uint8(dg.PublisherPriority)
	if t == DatagramTypeObjectExt || t == DatagramTypeObjectStatusExt {
		e.bytes("extensions", dg.Extensions, MaxMessageLength)
	}
	switch t {
	case DatagramTypeObject, DatagramTypeObjectExt:
		if dg.Status != ObjectStatusNormal {
			e.invalid("status")
		}
		e.b = append(e.b, dg.Payload...)
	default:
		if !dg.Status.valid() {
			e.invalid("status")
		}
		e.varint("status", uint64(dg.Status))
	}
	if e.err != nil {
		return b, e.err
	}
	return e.b, nil
}

// DecodeDatagram decodes a whole datagram. The payload aliases b.
func DecodeDatagram(b []byte) (Datagram, error) {
	d := decoder{msg: "OBJECT_DATAGRAM", b: b}
	t := DatagramType(d.varint("type"))
	if d.err == nil && t > DatagramTypeObjectStatusExt {
		return Datagram{}, malformed("OBJECT_DATAGRAM", "type", errUnknownType)
	}
	dg := Datagram{
		TrackAlias:        d.varint("track_alias"),
		GroupID:           d.varint("group_id"),
		ObjectID:          d.varint("object_id"),
		PublisherPriority: d.uint8("publisher_priority"),
	}
	if t == DatagramTypeObjectExt || t == DatagramTypeObjectStatusExt {
		dg.Extensions = d.bytes("extensions", MaxMessageLength)
		if d.err == nil && dg.Extensions == nil {
			d.invalid("extensions")
		}
	}
	switch t {
	case DatagramTypeObject, DatagramTypeObjectExt:
		if d.err == nil && len(d.b) > 0 {
			dg.Payload = d.b
			d.b = nil
		}
		if d.err == nil && dg.Payload == nil {
			// an empty payload is sent as a status datagram
			d.fail("payload", errInvalidValue)
		}
	default:
		dg.Status = ObjectStatus(d.varint("status"))
		if d.err == nil && !dg.Status.valid() {
			d.invalid("status")
		}
	}
	if err := d.finish(); err != nil {
		return Datagram{}, err
	}
	return dg, nil
}
