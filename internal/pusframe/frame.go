package pusframe

import "errors"

// errNoSync is not returned by Frame: a buffer with no sync marker yields
// (nil, held bytes, nil), never an error.
var errNoSync = errors.New("pusframe: no sync marker found")

// WrapFrame wraps a complete PUS packet (as produced by Encode) in the EDEN
// outer frame: sync marker 0xEB 0x90, 16-bit big-endian length (the PUS
// packet byte count), then the packet itself.
func WrapFrame(pusPacket []byte) ([]byte, error) {
	if len(pusPacket) > 0xFFFF {
		return nil, ErrPayloadTooLong
	}
	out := make([]byte, 0, frameHeaderLen+len(pusPacket))
	out = append(out, syncMarkerByte0, syncMarkerByte1)
	out = append(out, byte(len(pusPacket)>>8), byte(len(pusPacket)))
	out = append(out, pusPacket...)
	return out, nil
}

// Frame extracts the next complete PUS packet from a rolling inbound byte
// buffer:
//   - it seeks to the next sync marker, discarding any preceding bytes;
//   - it returns (nil, buf) without consuming the sync bytes when fewer
//     than length+4 bytes follow (a partial frame);
//   - otherwise it returns the decoded packet and the bytes remaining
//     after it.
//
// Frame is restartable: feeding any prefix of a byte stream then its
// completion yields the same packet boundaries as a one-shot call on the
// whole stream.
func Frame(buf []byte) (pkt *Packet, remaining []byte, err error) {
	i, ok := findSync(buf)
	if !ok {
		// keep at most the last byte, in case it is the first half of a
		// sync marker that hasn't arrived yet
		if len(buf) > 0 && buf[len(buf)-1] == syncMarkerByte0 {
			return nil, buf[len(buf)-1:], nil
		}
		return nil, nil, nil
	}
	buf = buf[i:]

	if len(buf) < frameHeaderLen {
		return nil, buf, nil
	}
	length := int(buf[2])<<8 | int(buf[3])
	total := frameHeaderLen + length
	if len(buf) < total {
		return nil, buf, nil
	}

	p, derr := Decode(buf[frameHeaderLen:total])
	remaining = buf[total:]
	if derr != nil {
		// framing itself is intact (we had sync + full length); the
		// packet body was malformed. Drop it and let the caller continue
		// scanning from the next sync candidate.
		return nil, remaining, derr
	}
	return &p, remaining, nil
}

// findSync returns the index of the first occurrence of the two-byte sync
// marker in buf.
func findSync(buf []byte) (int, bool) {
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] == syncMarkerByte0 && buf[i+1] == syncMarkerByte1 {
			return i, true
		}
	}
	return 0, false
}
