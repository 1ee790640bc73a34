package pusframe

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	buf, err := Encode(EncodeParams{
		Type:           TC,
		APID:           100,
		SeqCount:       42,
		PUSVersion:     PUSVersion,
		AckFlags:       AckAcceptance | AckExecution,
		ServiceType:    17,
		ServiceSubtype: 1,
		SourceID:       7,
		Payload:        payload,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	pkt, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if pkt.Primary.SeqCount != 42 {
		t.Fatalf("seqcount: got %d want 42", pkt.Primary.SeqCount)
	}
	if pkt.Secondary.ServiceType != 17 || pkt.Secondary.ServiceSubtype != 1 {
		t.Fatalf("service/subtype mismatch: %+v", pkt.Secondary)
	}
	if !bytes.Equal(pkt.Payload, payload) {
		t.Fatalf("payload: got %v want %v", pkt.Payload, payload)
	}
}

func TestEncodeDecodeRoundTripTM(t *testing.T) {
	buf, err := Encode(EncodeParams{
		Type:           TM,
		APID:           5,
		SeqCount:       1,
		PUSVersion:     PUSVersion,
		ServiceType:    3,
		ServiceSubtype: 25,
		SourceID:       9,
		TimeStamp:      123456,
		Payload:        []byte{0xAA, 0xBB},
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	pkt, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !pkt.Secondary.HasTimeStamp || pkt.Secondary.TimeStamp != 123456 {
		t.Fatalf("timestamp not preserved: %+v", pkt.Secondary)
	}
}

func TestSingleBitFlipRejected(t *testing.T) {
	buf, err := Encode(EncodeParams{
		Type:           TC,
		APID:           1,
		SeqCount:       1,
		PUSVersion:     PUSVersion,
		ServiceType:    17,
		ServiceSubtype: 1,
		SourceID:       1,
		Payload:        []byte{0x01, 0x02, 0x03},
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for i := range buf {
		for bit := 0; bit < 8; bit++ {
			corrupt := append([]byte(nil), buf...)
			corrupt[i] ^= 1 << bit
			if _, err := Decode(corrupt); err == nil {
				t.Fatalf("byte %d bit %d: corrupted frame decoded without error", i, bit)
			}
		}
	}
}

func TestDecodeRejectsTruncated(t *testing.T) {
	buf, err := Encode(EncodeParams{Type: TC, APID: 1, SeqCount: 1, ServiceType: 17, ServiceSubtype: 1, Payload: []byte{1, 2, 3}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := Decode(buf[:len(buf)-3]); err == nil {
		t.Fatalf("truncated buffer decoded without error")
	}
}
