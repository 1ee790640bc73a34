// Package dispatch implements the PUS service dispatcher: routes an
// inbound TC to its handler by (serviceType, serviceSubtype), emits
// verification TMs according to the TC's ACK flags, and supports Function
// Management (TC[8,1]) sub-dispatch.
package dispatch

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/aurora-scoe/aocs-scoe/internal/hkscheduler"
	"github.com/aurora-scoe/aocs-scoe/internal/pusframe"
	"github.com/aurora-scoe/aocs-scoe/internal/pusseq"
	"github.com/aurora-scoe/aocs-scoe/internal/simcore"
)

// ParamStaging accumulates TC[20,3] writes and applies them atomically on
// a function-management commit trigger.
type ParamStaging struct {
	pending map[uint16]float64
}

// NewParamStaging returns an empty staging table.
func NewParamStaging() *ParamStaging {
	return &ParamStaging{pending: make(map[uint16]float64)}
}

// Stage records a pending write.
func (p *ParamStaging) Stage(paramID uint16, value float64) {
	p.pending[paramID] = value
}

// Commit atomically hands over the staged writes and clears the table.
// What a paramID maps onto is out of this package's scope; callers that
// need named parameters keep their own paramID->name table.
func (p *ParamStaging) Commit() map[uint16]float64 {
	out := p.pending
	p.pending = make(map[uint16]float64)
	return out
}

// Sender is the outbound path a dispatched TC's verification TMs travel
// over: the session that delivered the TC.
type Sender interface {
	Unicast(sessionID string, pusPacket []byte)
}

// Dispatcher wires the simulation, the HK scheduler, the staged parameter
// table, and the packet factory together to handle every inbound TC.
type Dispatcher struct {
	sim       *simcore.Sim
	scheduler *hkscheduler.Scheduler
	staging   *ParamStaging
	factory   *pusseq.Factory
	sender    Sender

	selfTest func() // injected so tests don't have to sleep
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(sim *simcore.Sim, scheduler *hkscheduler.Scheduler, staging *ParamStaging, factory *pusseq.Factory, sender Sender) *Dispatcher {
	return &Dispatcher{sim: sim, scheduler: scheduler, staging: staging, factory: factory, sender: sender, selfTest: func() {}}
}

// SetSelfTest overrides the self-test function (TC[8,1] function id
// 0x05); production code passes one that sleeps the configured latency,
// tests pass a no-op or a counter.
func (d *Dispatcher) SetSelfTest(f func()) {
	if f != nil {
		d.selfTest = f
	}
}

// Dispatch handles one inbound TC: routes it, then emits acceptance and
// execution verification according to the TC's ACK flags. An error
// detected pre-dispatch (unknown service/subtype, malformed payload
// length — see codeErr.preDispatch) never reached a handler, so it is
// reported as acceptance failure alone, with no execution TM. Any other
// error is reported as acceptance success followed by execution failure.
// sessionID identifies the session the TC arrived on, the destination
// for any verification TMs. Verification TMs carry the originating TC's
// seqCount in their payload but mint their own fresh seqCount.
func (d *Dispatcher) Dispatch(sessionID string, pkt pusframe.Packet) {
	tcSeq := pkt.Primary.SeqCount
	ack := pkt.Secondary.AckFlags

	err := d.route(sessionID, pkt)

	if ce, ok := err.(*codeErr); ok && ce.preDispatch() {
		if ack&pusframe.AckAcceptance != 0 {
			d.sendAcceptance(sessionID, tcSeq, false, ce.code)
		}
		return
	}

	if ack&pusframe.AckAcceptance != 0 {
		d.sendAcceptance(sessionID, tcSeq, true, 0)
	}

	if ack&pusframe.AckExecution != 0 {
		if err == nil {
			d.sendExecution(sessionID, tcSeq, true, 0)
		} else {
			d.sendExecution(sessionID, tcSeq, false, errorCode(err))
		}
	}
}

func (d *Dispatcher) sendAcceptance(sessionID string, tcSeq uint16, ok bool, code uint32) {
	var frame []byte
	if ok {
		frame, _, _ = d.factory.MintAcceptanceSuccess(tcSeq)
	} else {
		frame, _, _ = d.factory.MintAcceptanceFailure(tcSeq, code)
	}
	if frame != nil {
		d.sender.Unicast(sessionID, frame)
	}
}

func (d *Dispatcher) sendExecution(sessionID string, tcSeq uint16, ok bool, code uint32) {
	var frame []byte
	if ok {
		frame, _, _ = d.factory.MintExecutionSuccess(tcSeq)
	} else {
		frame, _, _ = d.factory.MintExecutionFailure(tcSeq, code)
	}
	if frame != nil {
		d.sender.Unicast(sessionID, frame)
	}
}

// codeErr lets route/runFunction attach a typed verification error code to
// a Go error without inventing a parallel error taxonomy.
type codeErr struct {
	code uint32
	msg  string
}

func (e *codeErr) Error() string { return e.msg }

// preDispatch reports whether this error was detected before the TC ever
// reached a handler: unknown service/subtype or a payload too short to
// parse. Per spec, these short-circuit to acceptance failure (TM[1,2])
// alone rather than acceptance success followed by execution failure.
func (e *codeErr) preDispatch() bool {
	return e.code == pusseq.ErrUnknownService || e.code == pusseq.ErrMalformedPayload
}

func errorCode(err error) uint32 {
	if ce, ok := err.(*codeErr); ok {
		return ce.code
	}
	return pusseq.ErrMalformedPayload
}

func errUnknownService(svc, sub uint8) error {
	return &codeErr{code: pusseq.ErrUnknownService, msg: fmt.Sprintf("dispatch: unknown service/subtype %d/%d", svc, sub)}
}

func errMalformed(msg string) error {
	return &codeErr{code: pusseq.ErrMalformedPayload, msg: msg}
}

func errUnknownFunction(id uint8) error {
	return &codeErr{code: pusseq.ErrUnknownFunctionID, msg: fmt.Sprintf("dispatch: unknown function id 0x%02x", id)}
}

func errOutOfRange(msg string) error {
	return &codeErr{code: pusseq.ErrOutOfRange, msg: msg}
}

func (d *Dispatcher) route(sessionID string, pkt pusframe.Packet) error {
	svc, sub := pkt.Secondary.ServiceType, pkt.Secondary.ServiceSubtype
	data := pkt.Payload

	switch {
	case svc == 3 && sub == 1:
		id, err := readU16(data)
		if err != nil {
			return err
		}
		d.scheduler.Create(id)
		return nil
	case svc == 3 && sub == 3:
		id, err := readU16(data)
		if err != nil {
			return err
		}
		d.scheduler.Delete(id)
		return nil
	case svc == 3 && sub == 5:
		id, err := readU16(data)
		if err != nil {
			return err
		}
		d.scheduler.Enable(id)
		return nil
	case svc == 3 && sub == 6:
		id, err := readU16(data)
		if err != nil {
			return err
		}
		d.scheduler.Disable(id)
		return nil
	case svc == 3 && sub == 27:
		id, err := readU16(data)
		if err != nil {
			return err
		}
		d.scheduler.RequestOneShot(sessionID, id)
		return nil
	case svc == 3 && sub == 31:
		if len(data) < 6 {
			return errMalformed("TC[3,31]: payload too short")
		}
		id := binary.BigEndian.Uint16(data[0:2])
		interval := math.Float32frombits(binary.BigEndian.Uint32(data[2:6]))
		d.scheduler.SetInterval(id, float64(interval))
		return nil
	case svc == 8 && sub == 1:
		err := d.dispatchFunctionManagement(data)
		if ce, ok := err.(*codeErr); ok && ce.preDispatch() && len(data) > 0 {
			// the function id was read, so the handler ran: a malformed
			// sub-payload is an execution failure. A plain error keeps
			// ErrMalformedPayload as its code via errorCode.
			return fmt.Errorf("%s", ce.msg)
		}
		return err
	case svc == 17 && sub == 1:
		frame, _, err := d.factory.MintConnectionTestReply()
		if err != nil {
			return errMalformed(err.Error())
		}
		d.sender.Unicast(sessionID, frame)
		return nil
	case svc == 20 && sub == 3:
		if len(data) < 6 {
			return errMalformed("TC[20,3]: payload too short")
		}
		paramID := binary.BigEndian.Uint16(data[0:2])
		value := math.Float32frombits(binary.BigEndian.Uint32(data[2:6]))
		d.staging.Stage(paramID, float64(value))
		return nil
	default:
		return errUnknownService(svc, sub)
	}
}

func readU16(data []byte) (uint16, error) {
	if len(data) < 2 {
		return 0, errMalformed("payload too short for a structureId")
	}
	return binary.BigEndian.Uint16(data[0:2]), nil
}

func readF32(data []byte) (float64, error) {
	if len(data) < 4 {
		return 0, errMalformed("payload too short for an f32")
	}
	return float64(math.Float32frombits(binary.BigEndian.Uint32(data[0:4]))), nil
}
