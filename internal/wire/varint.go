// Package wire implements the binary encoding used between group-media
// peers: the 7-bit-per-byte variable-length integer, fragment framing,
// fragments-map bitmaps, and group control messages.
package wire

// Get7BitValueSize returns the number of bytes required to encode value
// using the 7-bit-long encoding: 7 payload bits per byte, continuation
// signaled by the high bit of every byte but the last.
func Get7BitValueSize(value uint64) int {
	n := 1
	for value >>= 7; value != 0; value >>= 7 {
		n++
	}
	return n
}

// Write7BitValue appends value to dst using the 7-bit-long encoding and
// returns the extended slice.
func Write7BitValue(dst []byte, value uint64) []byte {
	for {
		b := byte(value & 0x7f)
		value >>= 7
		if value != 0 {
			dst = append(dst, b|0x80)
			continue
		}
		dst = append(dst, b)
		return dst
	}
}

// Read7BitValue decodes a 7-bit-long value from the front of src, returning
// the value, the number of bytes consumed, and whether a terminating byte
// (high bit clear) was found before src was exhausted.
func Read7BitValue(src []byte) (value uint64, n int, ok bool) {
	var shift uint
	for n < len(src) {
		b := src[n]
		value |= uint64(b&0x7f) << shift
		n++
		if b&0x80 == 0 {
			return value, n, true
		}
		shift += 7
	}
	return 0, n, false
}
