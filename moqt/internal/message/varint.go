package message

import (
	"errors"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// MaxVarint is the largest value a varint can carry (2^62-1).
const MaxVarint = quicvarint.Max

var (
	// ErrShortBuffer is returned when the input ends before a complete unit.
	// It signals that more bytes are needed, not that the input is invalid.
	ErrShortBuffer = errors.New("message: short buffer")

	// ErrOverlongVarint is returned for a varint that is not in its minimal form.
	ErrOverlongVarint = errors.New("message: non-minimal varint encoding")

	// ErrValueOutOfRange is returned when a value cannot be represented on the wire.
	ErrValueOutOfRange = errors.New("message: value out of range")
)

// VarintLen returns the number of bytes the minimal encoding of v takes.
func VarintLen(v uint64) int {
	return quicvarint.Len(v)
}

// minimum value for each encoded length, indexed by the two-bit prefix
var varintMin = [4]uint64{0, 1 << 6, 1 << 14, 1 << 30}

// ReadVarint decodes a varint at the start of b and reports the bytes consumed.
// It fails with ErrShortBuffer when b is truncated and with ErrOverlongVarint
// when the encoding is longer than necessary.
func ReadVarint(b []byte) (uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, ErrShortBuffer
	}

	prefix := b[0] >> 6
	l := 1 << prefix
	if len(b) < l {
		return 0, 0, ErrShortBuffer
	}

	v := uint64(b[0] & 0x3f)
	for i := 1; i < l; i++ {
		v = v<<8 | uint64(b[i])
	}

	if v < varintMin[prefix] {
		return 0, 0, ErrOverlongVarint
	}

	return v, l, nil
}

// readVarint decodes a varint from a byte reader.
// It returns io.EOF only when no byte was available.
func readVarint(r io.ByteReader) (uint64, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, err
	}

	prefix := first >> 6
	l := 1 << prefix

	v := uint64(first & 0x3f)
	for i := 1; i < l; i++ {
		c, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
		v = v<<8 | uint64(c)
	}

	if v < varintMin[prefix] {
		return 0, ErrOverlongVarint
	}

	return v, nil
}
