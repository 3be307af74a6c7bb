package message

import (
	"fmt"

	"github.com/quic-go/quic-go/quicvarint"
)

// encoder appends fields to b. The first invalid field sticks in err.
type encoder struct {
	msg string
	b   []byte
	err error
}

func (e *encoder) fail(field string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("message: encode %s: %s: %w", e.msg, field, err)
	}
}

func (e *encoder) varint(field string, v uint64) {
	if e.err != nil {
		return
	}
	if v > MaxVarint {
		e.fail(field, ErrValueOutOfRange)
		return
	}
	e.b = quicvarint.Append(e.b, v)
}

func (e *encoder) uint8(v uint8) {
	if e.err != nil {
		return
	}
	e.b = append(e.b, v)
}

func (e *encoder) flag(v bool) {
	if v {
		e.uint8(1)
	} else {
		e.uint8(0)
	}
}

func (e *encoder) bytes(field string, v []byte, max int) {
	if len(v) > max {
		e.fail(field, errTooLong)
		return
	}
	e.varint(field, uint64(len(v)))
	if e.err != nil {
		return
	}
	e.b = append(e.b, v...)
}

func (e *encoder) string(field string, v string, max int) {
	if len(v) > max {
		e.fail(field, errTooLong)
		return
	}
	e.varint(field, uint64(len(v)))
	if e.err != nil {
		return
	}
	e.b = append(e.b, v...)
}

func (e *encoder) namespace(field string, ns Namespace) {
	if len(ns) > MaxNamespaceSegments {
		e.fail(field, errTooLong)
		return
	}
	e.varint(field, uint64(len(ns)))
	for _, seg := range ns {
		e.string(field, seg, MaxNameLength)
	}
}

func (e *encoder) location(field string, l Location) {
	e.varint(field, l.Group)
	e.varint(field, l.Object)
}

func (e *encoder) parameters(field string, params Parameters) {
	e.varint(field, uint64(len(params)))
	for _, p := range params {
		e.varint(field, p.Type)
		if p.Type%2 == 0 {
			e.varint(field, p.Value)
		} else {
			e.bytes(field, p.Bytes, MaxParameterLength)
		}
	}
}

func (e *encoder) invalid(field string) {
	e.fail(field, errInvalidValue)
}

// decoder consumes fields from b. The first failure sticks in err as a *MalformedError.
type decoder struct {
	msg string
	b   []byte
	err error
}

func (d *decoder) fail(field string, err error) {
	if d.err == nil {
		d.err = malformed(d.msg, field, err)
	}
}

func (d *decoder) varint(field string) uint64 {
	if d.err != nil {
		return 0
	}
	v, n, err := ReadVarint(d.b)
	if err != nil {
		d.fail(field, err)
		return 0
	}
	d.b = d.b[n:]
	return v
}

func (d *decoder) uint8(field string) uint8 {
	if d.err != nil {
		return 0
	}
	if len(d.b) < 1 {
		d.fail(field, errTruncated)
		return 0
	}
	v := d.b[0]
	d.b = d.b[1:]
	return v
}

func (d *decoder) flag(field string) bool {
	v := d.uint8(field)
	if v > 1 {
		d.fail(field, errInvalidValue)
	}
	return v == 1
}

// bytes returns a copy so that decoded messages never alias the input. Empty values decode as nil.
func (d *decoder) bytes(field string, max int) []byte {
	n := d.varint(field)
	if d.err != nil {
		return nil
	}
	if n > uint64(max) {
		d.fail(field, errTooLong)
		return nil
	}
	if uint64(len(d.b)) < n {
		d.fail(field, errTruncated)
		return nil
	}
	if n == 0 {
		return nil
	}
	v := make([]byte, n)
	copy(v, d.b[:n])
	d.b = d.b[n:]
	return v
}

func (d *decoder) string(field string, max int) string {
	return string(d.bytes(field, max))
}

// namespace decodes a track namespace of 1 to MaxNamespaceSegments segments.
func (d *decoder) namespace(field string) Namespace {
	count := d.varint(field)
	if d.err != nil {
		return nil
	}
	if count == 0 {
		d.fail(field, errInvalidValue)
		return nil
	}
	return d.segments(field, count)
}

// prefix decodes a namespace prefix. An empty prefix matches every namespace.
func (d *decoder) prefix(field string) Namespace {
	count := d.varint(field)
	if d.err != nil || count == 0 {
		return nil
	}
	return d.segments(field, count)
}

func (d *decoder) segments(field string, count uint64) Namespace {
	if count > MaxNamespaceSegments {
		d.fail(field, errTooLong)
		return nil
	}
	ns := make(Namespace, 0, count)
	for range count {
		ns = append(ns, d.string(field, MaxNameLength))
	}
	if d.err != nil {
		return nil
	}
	return ns
}

func (d *decoder) location(field string) Location {
	return Location{
		Group:  d.varint(field),
		Object: d.varint(field),
	}
}

func (d *decoder) parameters(field string) Parameters {
	count := d.varint(field)
	if d.err != nil || count == 0 {
		return nil
	}
	// every parameter takes at least two bytes
	if count > uint64(len(d.b)/2) {
		d.fail(field, errTruncated)
		return nil
	}
	params := make(Parameters, 0, count)
	for range count {
		p := Parameter{Type: d.varint(field)}
		if p.Type%2 == 0 {
			p.Value = d.varint(field)
		} else {
			p.Bytes = d.bytes(field, MaxParameterLength)
		}
		params = append(params, p)
	}
	if d.err != nil {
		return nil
	}
	return params
}

func (d *decoder) invalid(field string) {
	d.fail(field, errInvalidValue)
}

// finish reports trailing bytes as malformed.
func (d *decoder) finish() error {
	if d.err == nil && len(d.b) > 0 {
		d.fail("payload", errExcessPayload)
	}
	return d.err
}
