package wire

import (
	"encoding/binary"

	"github.com/flowmesh/groupmedia/media"
)

// Marker indicates a fragment's role in a possibly-split media packet.
type Marker uint8

const (
	MarkerNext  Marker = 0x20
	MarkerEnd   Marker = 0x21
	MarkerData  Marker = 0x22
	MarkerStart Marker = 0x23
)

func (m Marker) String() string {
	switch m {
	case MarkerNext:
		return "NEXT"
	case MarkerEnd:
		return "END"
	case MarkerData:
		return "DATA"
	case MarkerStart:
		return "START"
	default:
		return "UNKNOWN"
	}
}

// hasTypeAndTime reports whether a fragment with this marker carries a
// media type byte and a 32-bit timestamp in its header.
func (m Marker) hasTypeAndTime() bool {
	return m == MarkerData || m == MarkerStart
}

// Fragment is one piece of a media packet, as held by the fragment store.
// Buf holds the full wire-format encoding (marker, id, optional split,
// optional type+time, payload); PayloadOffset marks where the payload
// begins within Buf so it can be re-sent without copying.
type Fragment struct {
	ID            uint64
	Marker        Marker
	Split         uint8
	Type          media.ContentType
	Time          uint32
	Buf           []byte
	PayloadOffset int
}

// Payload returns the fragment's payload bytes, a view into Buf.
func (f *Fragment) Payload() []byte {
	return f.Buf[f.PayloadOffset:]
}

// hasSplit reports whether a fragment with this marker carries a split
// index byte. Within a split group START and every NEXT always have a
// nonzero split index (the descending continuation count); END always
// carries 0 and DATA does not apply, so neither writes the byte.
func (m Marker) hasSplit() bool {
	return m == MarkerStart || m == MarkerNext
}

// EncodedSize returns the number of bytes Encode would produce for a
// fragment with this marker, id, split index, and payload length.
func EncodedSize(marker Marker, id uint64, split uint8, payloadLen int) int {
	n := 1 + Get7BitValueSize(id)
	if marker.hasSplit() {
		n++
	}
	if marker.hasTypeAndTime() {
		n += 5
	}
	return n + payloadLen
}

// Encode serializes a fragment into its wire-format representation,
// appending to dst and returning the extended slice along with the
// offset at which the payload begins.
func Encode(dst []byte, marker Marker, id uint64, split uint8, typ media.ContentType, timestamp uint32, payload []byte) (buf []byte, payloadOffset int) {
	dst = append(dst, byte(marker))
	dst = Write7BitValue(dst, id)
	if marker.hasSplit() {
		dst = append(dst, split)
	}
	if marker.hasTypeAndTime() {
		dst = append(dst, byte(typ))
		var tb [4]byte
		binary.BigEndian.PutUint32(tb[:], timestamp)
		dst = append(dst, tb[:]...)
	}
	payloadOffset = len(dst)
	dst = append(dst, payload...)
	return dst, payloadOffset
}

// Decode parses a fragment from its wire-format representation. The
// returned Fragment's Buf aliases src; callers that retain it beyond the
// lifetime of the underlying receive buffer must copy.
func Decode(src []byte) (*Fragment, error) {
	if len(src) < 1 {
		return nil, &ParseError{Field: "marker", Err: ErrShortBuffer}
	}
	marker := Marker(src[0])
	switch marker {
	case MarkerNext, MarkerEnd, MarkerData, MarkerStart:
	default:
		return nil, &ParseError{Field: "marker", Err: ErrBadMarker}
	}

	off := 1
	id, n, ok := Read7BitValue(src[off:])
	if !ok {
		return nil, &ParseError{Field: "fragmentId", Err: ErrTruncated}
	}
	off += n

	var split uint8
	if marker.hasSplit() {
		if off >= len(src) {
			return nil, &ParseError{Field: "split", Err: ErrShortBuffer}
		}
		split = src[off]
		off++
	}

	var typ media.ContentType
	var timestamp uint32
	if marker.hasTypeAndTime() {
		if off+5 > len(src) {
			return nil, &ParseError{Field: "typeTime", Err: ErrShortBuffer}
		}
		typ = media.ContentType(src[off])
		timestamp = binary.BigEndian.Uint32(src[off+1 : off+5])
		off += 5
	}

	return &Fragment{
		ID:            id,
		Marker:        marker,
		Split:         split,
		Type:          typ,
		Time:          timestamp,
		Buf:           src,
		PayloadOffset: off,
	}, nil
}
