package oni

// Consistent Overhead Byte Stuffing, the zero-free framing ONI hardware
// uses on its signal channel.
//
// A stuffed packet is [code][data...][0x00 delimiter]. Encoded packet size
// is always len(data)+2, data is limited to 254 bytes so the code byte
// (which counts the run including itself) never needs to exceed 255.

const (
	cobsMaxData   = 254
	cobsMinPacket = 2
	cobsMaxPacket = cobsMaxData + 2
)

// cobsEncode stuffs src (1..254 bytes) into a zero-delimited packet of
// length len(src)+2: a leading overhead byte, the data with internal zero
// bytes replaced by run lengths, and a trailing 0x00 delimiter.
func cobsEncode(src []byte) ([]byte, error) {
	if len(src) == 0 || len(src) > cobsMaxData {
		return nil, newErr("cobs.Encode", ErrBadCOBSPacket, nil)
	}

	dst := make([]byte, 0, len(src)+2)
	codeIdx := 0
	dst = append(dst, 0) // placeholder for first code byte
	code := byte(1)

	for i, b := range src {
		if b == 0 {
			dst[codeIdx] = code
			codeIdx = len(dst)
			dst = append(dst, 0) // placeholder for next code byte
			code = 1
			continue
		}
		dst = append(dst, b)
		code++
		// A run of 254 verbatim bytes needs no implicit zero: only open a
		// fresh group if more source bytes remain to be placed in it.
		if code == 0xFF && i != len(src)-1 {
			dst[codeIdx] = code
			codeIdx = len(dst)
			dst = append(dst, 0)
			code = 1
		}
	}
	dst[codeIdx] = code
	dst = append(dst, 0x00)
	return dst, nil
}

// cobsDecode reverses cobsEncode. src must be a complete stuffed packet
// including its trailing 0x00 delimiter. The decoder walks the source; a
// code byte of value k copies k-1 data bytes verbatim, then, if k<255,
// emits a zero byte (suppressed at the very end of the packet).
func cobsDecode(src []byte) ([]byte, error) {
	if len(src) < cobsMinPacket || len(src) > cobsMaxPacket {
		return nil, newErr("cobs.Decode", ErrBadCOBSPacket, nil)
	}
	if src[len(src)-1] != 0x00 {
		return nil, newErr("cobs.Decode", ErrBadCOBSPacket, nil)
	}

	body := src[:len(src)-1]
	dst := make([]byte, 0, len(body))

	i := 0
	for i < len(body) {
		code := body[i]
		if code == 0 {
			return nil, newErr("cobs.Decode", ErrBadCOBSPacket, nil)
		}
		i++
		run := int(code) - 1
		if i+run > len(body) {
			return nil, newErr("cobs.Decode", ErrBadCOBSPacket, nil)
		}
		dst = append(dst, body[i:i+run]...)
		i += run
		if code < 0xFF && i < len(body) {
			dst = append(dst, 0x00)
		}
	}
	return dst, nil
}

// EncodeCOBS stuffs src into a COBS-delimited packet. Exported so
// transport backends (and callers working directly with the wire format)
// don't need to reimplement the codec; the test driver in
// internal/transport/emulator uses this directly to build its signal
// stream.
func EncodeCOBS(src []byte) ([]byte, error) { return cobsEncode(src) }

// DecodeCOBS reverses EncodeCOBS.
func DecodeCOBS(src []byte) ([]byte, error) { return cobsDecode(src) }
