// Package pusseq implements the PUS packet factory and sequencer: a
// single-writer, gap-free 14-bit rolling sequence counter per source, plus
// convenience constructors for the verification, housekeeping, and
// connection-test TMs the dispatcher and scheduler emit.
package pusseq

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/aurora-scoe/aocs-scoe/internal/pusframe"
)

// Clock is the injected monotonic mission clock. Now returns the time
// elapsed since the clock was established.
type Clock interface {
	Now() time.Duration
}

type systemClock struct{ start time.Time }

// NewSystemClock returns a Clock anchored to the current wall-clock time,
// advancing monotonically thereafter (time.Since uses the monotonic
// reading Go attaches to time.Time).
func NewSystemClock() Clock {
	return &systemClock{start: time.Now()}
}

func (c *systemClock) Now() time.Duration {
	return time.Since(c.start)
}

// Factory mints TM/TC packets for one source, owning that source's
// sequence counter. A Factory must not be shared as a writer across
// goroutines without relying on its internal mutex; construct one Factory
// per endpoint (the mock AOCS and the SCOE controller each own an
// independent instance).
type Factory struct {
	mu       sync.Mutex
	seq      uint16 // 14-bit rolling counter, kept masked to 0x3FFF
	apid     uint16
	sourceID uint16
	clock    Clock
}

// NewFactory constructs a Factory for one source.
func NewFactory(apid, sourceID uint16, clock Clock) *Factory {
	if clock == nil {
		clock = NewSystemClock()
	}
	return &Factory{apid: apid, sourceID: sourceID, clock: clock}
}

func (f *Factory) nextSeq() uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.seq & 0x3FFF
	f.seq = (f.seq + 1) & 0x3FFF
	return s
}

func (f *Factory) timeStamp() uint32 {
	secs := f.clock.Now().Seconds()
	if secs < 0 {
		secs = 0
	}
	if secs > math.MaxUint32 {
		secs = math.MaxUint32
	}
	return uint32(secs)
}

// MintTC builds a raw telecommand packet with a fresh sequence count.
func (f *Factory) MintTC(ackFlags, serviceType, serviceSubtype uint8, payload []byte) ([]byte, uint16, error) {
	seq := f.nextSeq()
	buf, err := pusframe.Encode(pusframe.EncodeParams{
		Type:           pusframe.TC,
		APID:           f.apid,
		SeqCount:       seq,
		PUSVersion:     pusframe.PUSVersion,
		AckFlags:       ackFlags,
		ServiceType:    serviceType,
		ServiceSubtype: serviceSubtype,
		SourceID:       f.sourceID,
		Payload:        payload,
	})
	return buf, seq, err
}

func (f *Factory) mintTM(serviceType, serviceSubtype uint8, payload []byte) ([]byte, uint16, error) {
	seq := f.nextSeq()
	buf, err := pusframe.Encode(pusframe.EncodeParams{
		Type:           pusframe.TM,
		APID:           f.apid,
		SeqCount:       seq,
		PUSVersion:     pusframe.PUSVersion,
		ServiceType:    serviceType,
		ServiceSubtype: serviceSubtype,
		SourceID:       f.sourceID,
		TimeStamp:      f.timeStamp(),
		Payload:        payload,
	})
	return buf, seq, err
}

// Verification error codes, carried as the payload of TM[1,2]/[1,8].
const (
	ErrUnknownService    uint32 = 1
	ErrMalformedPayload  uint32 = 2
	ErrUnknownFunctionID uint32 = 3
	ErrOutOfRange        uint32 = 4
)

// MintAcceptanceSuccess builds TM[1,1] carrying the originating TC's
// sequence count.
func (f *Factory) MintAcceptanceSuccess(tcSeq uint16) ([]byte, uint16, error) {
	return f.mintTM(1, 1, seqPayload(tcSeq))
}

// MintAcceptanceFailure builds TM[1,2] carrying the originating TC's
// sequence count and a typed error code.
func (f *Factory) MintAcceptanceFailure(tcSeq uint16, code uint32) ([]byte, uint16, error) {
	return f.mintTM(1, 2, seqAndCodePayload(tcSeq, code))
}

// MintExecutionSuccess builds TM[1,7].
func (f *Factory) MintExecutionSuccess(tcSeq uint16) ([]byte, uint16, error) {
	return f.mintTM(1, 7, seqPayload(tcSeq))
}

// MintExecutionFailure builds TM[1,8].
func (f *Factory) MintExecutionFailure(tcSeq uint16, code uint32) ([]byte, uint16, error) {
	return f.mintTM(1, 8, seqAndCodePayload(tcSeq, code))
}

// MintHK builds TM[3,25] whose payload is structureId(u16) followed by the
// given values in the structure's declared parameter order, each a
// big-endian f32.
func (f *Factory) MintHK(structureID uint16, values []float32) ([]byte, uint16, error) {
	payload := make([]byte, 2+4*len(values))
	binary.BigEndian.PutUint16(payload[0:2], structureID)
	for i, v := range values {
		binary.BigEndian.PutUint32(payload[2+4*i:6+4*i], math.Float32bits(v))
	}
	return f.mintTM(3, 25, payload)
}

// MintConnectionTestReply builds TM[17,2] with an empty payload.
func (f *Factory) MintConnectionTestReply() ([]byte, uint16, error) {
	return f.mintTM(17, 2, nil)
}

func seqPayload(seq uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, seq)
	return b
}

func seqAndCodePayload(seq uint16, code uint32) []byte {
	b := make([]byte, 6)
	binary.BigEndian.PutUint16(b[0:2], seq)
	binary.BigEndian.PutUint32(b[2:6], code)
	return b
}
