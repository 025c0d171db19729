package wire

// Opcode identifies a group control message carried on the media-report
// flow. Values are assigned internally; peers on both sides of this
// implementation agree on them, and they are kept distinct from the
// Marker range (0x20-0x23) so a demultiplexer could tell them apart if
// ever shared on one flow.
type Opcode uint8

const (
	OpGroupInit         Opcode = 0x01
	OpGroupBegin        Opcode = 0x02
	OpGroupFragmentsMap Opcode = 0x04
	OpGroupMediaInfos   Opcode = 0x05
	OpGroupPlayPush     Opcode = 0x06
	OpGroupPlayPull     Opcode = 0x07
)

func (o Opcode) String() string {
	switch o {
	case OpGroupInit:
		return "GROUP_INIT"
	case OpGroupBegin:
		return "GROUP_BEGIN"
	case OpGroupFragmentsMap:
		return "GROUP_FRAGMENTS_MAP"
	case OpGroupMediaInfos:
		return "GROUP_MEDIA_INFOS"
	case OpGroupPlayPush:
		return "GROUP_PLAY_PUSH"
	case OpGroupPlayPull:
		return "GROUP_PLAY_PULL"
	default:
		return "UNKNOWN"
	}
}

// MediaInfos is the payload of a GROUP_MEDIA_INFOS message: the stream's
// name plus tagged configuration fields the peer uses to align its own
// window and scheduling behavior with the publisher's.
type MediaInfos struct {
	StreamName               string
	WindowDuration           uint32
	AvailabilityUpdatePeriod uint32
	FetchPeriod              uint32
	AvailabilitySendToAll    bool
}

// Tag bytes for the fields inside a GROUP_MEDIA_INFOS payload. An unknown
// tag is followed by one 7-bit varint value, which is read and discarded.
const (
	tagWindowDuration            = 0x01
	tagAvailabilityUpdatePeriod = 0x02
	tagFetchPeriod              = 0x03
	tagAvailabilitySendToAll    = 0x04
)

// EncodeGroupInit appends a bare GROUP_INIT control message.
func EncodeGroupInit(dst []byte) []byte {
	return append(dst, byte(OpGroupInit))
}

// EncodeGroupBegin appends a bare GROUP_BEGIN control message.
func EncodeGroupBegin(dst []byte) []byte {
	return append(dst, byte(OpGroupBegin))
}

// EncodeGroupPlayPush appends a GROUP_PLAY_PUSH control message carrying
// the push mask bitmap the sender asks its peer to honor.
func EncodeGroupPlayPush(dst []byte, mask uint8) []byte {
	dst = append(dst, byte(OpGroupPlayPush))
	return append(dst, mask)
}

// EncodeGroupPlayPull appends a GROUP_PLAY_PULL control message requesting
// one fragment id from the peer.
func EncodeGroupPlayPull(dst []byte, id uint64) []byte {
	dst = append(dst, byte(OpGroupPlayPull))
	return Write7BitValue(dst, id)
}

// EncodeGroupFragmentsMap appends a GROUP_FRAGMENTS_MAP control message.
func EncodeGroupFragmentsMap(dst []byte, first, last uint64, publisher bool, has func(id uint64) bool) []byte {
	dst = append(dst, byte(OpGroupFragmentsMap))
	return EncodeFragmentsMap(dst, first, last, publisher, has)
}

// EncodeGroupMediaInfos appends a GROUP_MEDIA_INFOS control message.
func EncodeGroupMediaInfos(dst []byte, info MediaInfos) []byte {
	dst = append(dst, byte(OpGroupMediaInfos))
	dst = Write7BitValue(dst, uint64(len(info.StreamName)))
	dst = append(dst, info.StreamName...)

	dst = append(dst, tagWindowDuration)
	dst = Write7BitValue(dst, uint64(info.WindowDuration))
	dst = append(dst, tagAvailabilityUpdatePeriod)
	dst = Write7BitValue(dst, uint64(info.AvailabilityUpdatePeriod))
	dst = append(dst, tagFetchPeriod)
	dst = Write7BitValue(dst, uint64(info.FetchPeriod))
	dst = append(dst, tagAvailabilitySendToAll)
	if info.AvailabilitySendToAll {
		dst = append(dst, 1)
	} else {
		dst = append(dst, 0)
	}
	return dst
}

// DecodeOpcode reads the leading opcode byte from a control message.
func DecodeOpcode(src []byte) (Opcode, []byte, error) {
	if len(src) < 1 {
		return 0, nil, &ParseError{Field: "opcode", Err: ErrShortBuffer}
	}
	return Opcode(src[0]), src[1:], nil
}

// DecodeGroupPlayPush parses the payload following a GROUP_PLAY_PUSH opcode.
func DecodeGroupPlayPush(src []byte) (mask uint8, err error) {
	if len(src) < 1 {
		return 0, &ParseError{Field: "mask", Err: ErrShortBuffer}
	}
	return src[0], nil
}

// DecodeGroupPlayPull parses the payload following a GROUP_PLAY_PULL opcode.
func DecodeGroupPlayPull(src []byte) (id uint64, err error) {
	id, _, ok := Read7BitValue(src)
	if !ok {
		return 0, &ParseError{Field: "fragmentId", Err: ErrTruncated}
	}
	return id, nil
}

// DecodeGroupMediaInfos parses the payload following a GROUP_MEDIA_INFOS
// opcode.
func DecodeGroupMediaInfos(src []byte) (MediaInfos, error) {
	var info MediaInfos
	nameLen, n, ok := Read7BitValue(src)
	if !ok {
		return info, &ParseError{Field: "streamNameLen", Err: ErrTruncated}
	}
	off := n
	if off+int(nameLen) > len(src) {
		return info, &ParseError{Field: "streamName", Err: ErrShortBuffer}
	}
	info.StreamName = string(src[off : off+int(nameLen)])
	off += int(nameLen)

	for off < len(src) {
		tag := src[off]
		off++
		switch tag {
		case tagAvailabilitySendToAll:
			if off >= len(src) {
				return info, &ParseError{Field: "availabilitySendToAll", Err: ErrShortBuffer}
			}
			info.AvailabilitySendToAll = src[off] != 0
			off++
			continue
		}
		v, n, ok := Read7BitValue(src[off:])
		if !ok {
			return info, &ParseError{Field: "mediaInfosField", Err: ErrTruncated}
		}
		off += n
		switch tag {
		case tagWindowDuration:
			info.WindowDuration = uint32(v)
		case tagAvailabilityUpdatePeriod:
			info.AvailabilityUpdatePeriod = uint32(v)
		case tagFetchPeriod:
			info.FetchPeriod = uint32(v)
		}
	}
	return info, nil
}
