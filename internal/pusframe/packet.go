package pusframe

// Packet is a fully decoded PUS packet: primary header, secondary header,
// and payload. The CRC is verified (or computed) by Encode/Decode and is
// not carried in this struct.
type Packet struct {
	Primary   PrimaryHeader
	Secondary SecondaryHeader
	Payload   []byte
}

// EncodeParams bundles the fields a caller supplies to mint a packet;
// DataLength and the secondary header's presence of a timestamp are
// derived, not supplied.
type EncodeParams struct {
	Type           PacketType
	APID           uint16
	SeqCount       uint16
	PUSVersion     uint8
	AckFlags       uint8
	ServiceType    uint8
	ServiceSubtype uint8
	SourceID       uint16
	TimeStamp      uint32 // used only when Type == TM
	Payload        []byte
}

// Encode builds a complete PUS packet (primary header + secondary header +
// payload + CRC-16-CCITT) from p.
func Encode(p EncodeParams) ([]byte, error) {
	hasTS := p.Type == TM
	sh := SecondaryHeader{
		PUSVersion:     p.PUSVersion,
		AckFlags:       p.AckFlags,
		ServiceType:    p.ServiceType,
		ServiceSubtype: p.ServiceSubtype,
		SourceID:       p.SourceID,
		TimeStamp:      p.TimeStamp,
		HasTimeStamp:   hasTS,
	}
	shBytes := encodeSecondaryHeader(sh)

	bodyLen := len(shBytes) + len(p.Payload) + crcSize
	if bodyLen-1 > 0xFFFF {
		return nil, ErrPayloadTooLong
	}

	ph := PrimaryHeader{
		Version:    0,
		Type:       p.Type,
		SecHdrFlag: true,
		APID:       p.APID,
		SeqFlags:   0x3, // unsegmented, the only sequencing mode this system uses
		SeqCount:   p.SeqCount & 0x3FFF,
		DataLength: uint16(bodyLen - 1),
	}
	phBytes := encodePrimaryHeader(ph)

	buf := make([]byte, 0, primaryHeaderSize+bodyLen)
	buf = append(buf, phBytes[:]...)
	buf = append(buf, shBytes...)
	buf = append(buf, p.Payload...)

	crc := CRC16CCITT(buf)
	var crcBuf [2]byte
	crcBuf[0] = byte(crc >> 8)
	crcBuf[1] = byte(crc)
	buf = append(buf, crcBuf[:]...)
	return buf, nil
}

// Decode parses a contiguous PUS packet buffer, validating dataLength
// consistency and the CRC. It returns a typed error (never a panic) on any
// malformed input.
func Decode(buf []byte) (Packet, error) {
	var pkt Packet
	ph, err := decodePrimaryHeader(buf)
	if err != nil {
		return pkt, err
	}
	// dataLength = bytes after primary header (incl CRC) minus 1
	wantTotal := primaryHeaderSize + int(ph.DataLength) + 1
	if wantTotal > len(buf) {
		return pkt, ErrTruncated
	}
	if wantTotal < len(buf) {
		return pkt, ErrBadDataLength
	}

	body := buf[primaryHeaderSize:wantTotal]
	if len(body) < crcSize {
		return pkt, ErrTruncated
	}
	gotCRC := CRC16CCITT(buf[:wantTotal-crcSize])
	wantCRC := uint16(body[len(body)-2])<<8 | uint16(body[len(body)-1])
	if gotCRC != wantCRC {
		return pkt, ErrBadCRC
	}

	hasTS := ph.Type == TM
	sh, n, err := decodeSecondaryHeader(body, hasTS)
	if err != nil {
		return pkt, err
	}

	payload := body[n : len(body)-crcSize]
	pkt.Primary = ph
	pkt.Secondary = sh
	pkt.Payload = append([]byte(nil), payload...)
	return pkt, nil
}
