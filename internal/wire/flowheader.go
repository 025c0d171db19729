package wire

// Flow-fragment header flag bits, set in the leading byte of every
// datagram-level message fragment written by a FlowWriter.
const (
	FlagEnd         = 0x08
	FlagAbandonment = 0x04
	FlagBeforePart  = 0x02
	FlagAfterPart   = 0x01
	FlagHeader      = 0x80
)

// FlowHeader is the decoded leading portion of a flow-fragment, present
// in full only when FlagHeader is set; otherwise only Flags is populated.
type FlowHeader struct {
	Flags     uint8
	WriterID  uint64
	Stage     uint64
	Gap       uint64
	Signature []byte
	FlowID    uint64
	HasFlowID bool
}

// EncodeFlowHeader appends a flow-fragment header to dst. When
// withHeader is false only the flags byte is written (header elision);
// the caller has determined a prior fragment in the same outbound packet
// already carries this writer's header. flowID is only emitted when
// writerID > 2, matching the three reserved low writer ids that never
// carry an explicit flow id.
func EncodeFlowHeader(dst []byte, flags uint8, withHeader bool, writerID, stage, gap uint64, signature []byte, flowID uint64) []byte {
	if !withHeader {
		return append(dst, flags)
	}
	dst = append(dst, flags|FlagHeader)
	dst = Write7BitValue(dst, writerID)
	dst = Write7BitValue(dst, stage)
	dst = Write7BitValue(dst, gap)
	dst = append(dst, byte(len(signature)))
	dst = append(dst, signature...)
	if writerID > 2 {
		// trailer_len covers the 0x0a marker byte, the flow id, and the
		// trailing terminator byte that follows it.
		trailerLen := 1 + Get7BitValueSize(flowID) + 1
		dst = append(dst, byte(trailerLen), 0x0a)
		dst = Write7BitValue(dst, flowID)
		dst = append(dst, 0)
	}
	return dst
}

// DecodeFlowHeader parses a flow-fragment header from the front of src,
// returning the header and the number of bytes consumed.
func DecodeFlowHeader(src []byte) (*FlowHeader, int, error) {
	if len(src) < 1 {
		return nil, 0, &ParseError{Field: "flags", Err: ErrShortBuffer}
	}
	h := &FlowHeader{Flags: src[0]}
	off := 1
	if h.Flags&FlagHeader == 0 {
		return h, off, nil
	}

	writerID, n, ok := Read7BitValue(src[off:])
	if !ok {
		return nil, 0, &ParseError{Field: "writerId", Err: ErrTruncated}
	}
	off += n
	h.WriterID = writerID

	stage, n, ok := Read7BitValue(src[off:])
	if !ok {
		return nil, 0, &ParseError{Field: "stage", Err: ErrTruncated}
	}
	off += n
	h.Stage = stage

	gap, n, ok := Read7BitValue(src[off:])
	if !ok {
		return nil, 0, &ParseError{Field: "gap", Err: ErrTruncated}
	}
	off += n
	h.Gap = gap

	if off >= len(src) {
		return nil, 0, &ParseError{Field: "sigLen", Err: ErrShortBuffer}
	}
	sigLen := int(src[off])
	off++
	if off+sigLen > len(src) {
		return nil, 0, &ParseError{Field: "signature", Err: ErrShortBuffer}
	}
	h.Signature = src[off : off+sigLen]
	off += sigLen

	if writerID > 2 {
		if off >= len(src) {
			return nil, 0, &ParseError{Field: "trailerLen", Err: ErrShortBuffer}
		}
		trailerLen := int(src[off])
		off++
		if off+trailerLen > len(src) {
			return nil, 0, &ParseError{Field: "trailer", Err: ErrShortBuffer}
		}
		trailer := src[off : off+trailerLen]
		if len(trailer) < 1 || trailer[0] != 0x0a {
			return nil, 0, &ParseError{Field: "trailerMarker", Err: ErrBadOpcode}
		}
		flowID, _, ok := Read7BitValue(trailer[1:])
		if !ok {
			return nil, 0, &ParseError{Field: "flowId", Err: ErrTruncated}
		}
		h.FlowID = flowID
		h.HasFlowID = true
		off += trailerLen
	}

	return h, off, nil
}

// HeaderSize returns the byte length EncodeFlowHeader would produce for a
// full header (withHeader=true) with the given parameters, used by
// FlowWriter to size its available_to_write budget check.
func HeaderSize(writerID, stage, gap uint64, signature []byte, flowID uint64) int {
	n := 1 + Get7BitValueSize(writerID) + Get7BitValueSize(stage) + Get7BitValueSize(gap) + 1 + len(signature)
	if writerID > 2 {
		n += 2 + Get7BitValueSize(flowID) + 1
	}
	return n
}
