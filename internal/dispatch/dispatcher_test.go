package dispatch

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/aurora-scoe/aocs-scoe/internal/hkscheduler"
	"github.com/aurora-scoe/aocs-scoe/internal/pusframe"
	"github.com/aurora-scoe/aocs-scoe/internal/pusseq"
	"github.com/aurora-scoe/aocs-scoe/internal/simcore"
)

type fixedSeqClock struct{ d time.Duration }

func (c fixedSeqClock) Now() time.Duration { return c.d }

type fixedSchedClock struct{ t time.Time }

func (c fixedSchedClock) Now() time.Time { return c.t }

type fakeSender struct {
	unicasts map[string][][]byte
}

func newFakeSender() *fakeSender {
	return &fakeSender{unicasts: make(map[string][][]byte)}
}

func (f *fakeSender) Unicast(sessionID string, pkt []byte) {
	f.unicasts[sessionID] = append(f.unicasts[sessionID], pkt)
}

func (f *fakeSender) Broadcast(pkt []byte) {}

func newTestDispatcher(sender *fakeSender) (*Dispatcher, *simcore.Sim) {
	sim := simcore.NewSim(rand.New(rand.NewSource(1)))
	factory := pusseq.NewFactory(100, 1, fixedSeqClock{d: 0})
	sched := hkscheduler.NewScheduler(factory, sim, sender, fixedSchedClock{t: time.Unix(0, 0)})
	staging := NewParamStaging()
	return NewDispatcher(sim, sched, staging, factory, sender), sim
}

func tcPacket(sub uint8, svc uint8, ack uint8, seq uint16, payload []byte) pusframe.Packet {
	return pusframe.Packet{
		Primary: pusframe.PrimaryHeader{SeqCount: seq},
		Secondary: pusframe.SecondaryHeader{
			ServiceType:    svc,
			ServiceSubtype: sub,
			AckFlags:       ack,
		},
		Payload: payload,
	}
}

func f32bytes(v float32) []byte {
	b := make([]byte, 4)
	bits := math.Float32bits(v)
	b[0] = byte(bits >> 24)
	b[1] = byte(bits >> 16)
	b[2] = byte(bits >> 8)
	b[3] = byte(bits)
	return b
}

func TestDispatchStartStopReset(t *testing.T) {
	sender := newFakeSender()
	d, sim := newTestDispatcher(sender)

	d.Dispatch("s1", tcPacket(1, 8, pusframe.AckAcceptance|pusframe.AckExecution, 1, []byte{funcStart}))
	if !sim.Running() {
		t.Fatalf("expected sim running after funcStart")
	}

	d.Dispatch("s1", tcPacket(1, 8, 0, 2, []byte{funcStop}))
	if sim.Running() {
		t.Fatalf("expected sim stopped after funcStop")
	}

	d.Dispatch("s1", tcPacket(1, 8, 0, 3, []byte{funcReset}))
	snap := sim.Snapshot()
	if snap["sim_time"] != 0 {
		t.Fatalf("expected mission time reset to 0, got %v", snap["sim_time"])
	}
}

func TestDispatchRWTorqueSpeedControl(t *testing.T) {
	sender := newFakeSender()
	d, sim := newTestDispatcher(sender)

	payload := append([]byte{rwOpTorqueSpeedControl}, f32bytes(0.1)...)
	d.Dispatch("s1", tcPacket(1, 8, 0, 1, append([]byte{funcRWBase}, payload...)))

	snap := sim.Snapshot()
	if got := snap["rw0_cmd_torque"]; math.Abs(got-0.1) > 1e-6 {
		t.Fatalf("expected rw0 commanded torque 0.1, got %v", got)
	}
}

func TestDispatchRWOutOfRangeIndex(t *testing.T) {
	sender := newFakeSender()
	d, _ := newTestDispatcher(sender)

	// funcRWBase+4 is out of the defined 0x10..0x13 wheel range, so it
	// falls through to unknown function, not a wheel index error.
	err := d.route("s1", tcPacket(1, 8, 0, 1, []byte{funcRWBase + 4}))
	if err == nil {
		t.Fatalf("expected an error for an out-of-range function id")
	}
}

func TestDispatchThrusterOnOff(t *testing.T) {
	sender := newFakeSender()
	d, sim := newTestDispatcher(sender)

	d.Dispatch("s1", tcPacket(1, 8, 0, 1, []byte{funcThrBase + 1, 1}))
	snap := sim.Snapshot()
	if snap["thr1_firing"] != 1 {
		t.Fatalf("expected thruster 1 firing")
	}
}

func TestDispatchTorqueRodDipole(t *testing.T) {
	sender := newFakeSender()
	d, sim := newTestDispatcher(sender)

	d.Dispatch("s1", tcPacket(1, 8, 0, 1, append([]byte{funcRodBase + 2}, f32bytes(10)...)))
	snap := sim.Snapshot()
	if got := snap["mtr2_dipole"]; math.Abs(got-10) > 1e-6 {
		t.Fatalf("expected rod 2 dipole 10, got %v", got)
	}
}

func TestDispatchSADAAngle(t *testing.T) {
	sender := newFakeSender()
	d, sim := newTestDispatcher(sender)

	d.Dispatch("s1", tcPacket(1, 8, 0, 1, append([]byte{funcSADABase + 1}, f32bytes(45)...)))
	snap := sim.Snapshot()
	if got := snap["sada1_cmd_angle"]; math.Abs(got-45) > 1e-6 {
		t.Fatalf("expected sada 1 commanded angle 45, got %v", got)
	}
}

func TestDispatchSelfTestInvoked(t *testing.T) {
	sender := newFakeSender()
	d, _ := newTestDispatcher(sender)
	called := false
	d.SetSelfTest(func() { called = true })

	d.Dispatch("s1", tcPacket(1, 8, 0, 1, []byte{funcSelfTest}))
	if !called {
		t.Fatalf("expected self-test to be invoked")
	}
}

func TestDispatchUnknownServiceYieldsAcceptanceFailureOnly(t *testing.T) {
	sender := newFakeSender()
	d, _ := newTestDispatcher(sender)

	d.Dispatch("s1", tcPacket(99, 200, pusframe.AckAcceptance|pusframe.AckExecution, 7, nil))
	frames := sender.unicasts["s1"]
	if len(frames) != 1 {
		t.Fatalf("expected acceptance failure alone, pre-dispatch, got %d frames", len(frames))
	}
	reject, err := pusframe.Decode(frames[0])
	if err != nil {
		t.Fatalf("decode acceptance: %v", err)
	}
	if reject.Secondary.ServiceType != 1 || reject.Secondary.ServiceSubtype != 2 {
		t.Fatalf("expected TM[1,2] acceptance failure, got %+v", reject.Secondary)
	}
}

func TestDispatchMalformedPayloadYieldsAcceptanceFailureOnly(t *testing.T) {
	sender := newFakeSender()
	d, _ := newTestDispatcher(sender)

	// TC[3,31] (set interval) requires a 6-byte body; one byte is a
	// pre-dispatch malformed-length rejection, not an execution failure.
	d.Dispatch("s1", tcPacket(31, 3, pusframe.AckAcceptance|pusframe.AckExecution, 9, []byte{0}))
	frames := sender.unicasts["s1"]
	if len(frames) != 1 {
		t.Fatalf("expected acceptance failure alone, pre-dispatch, got %d frames", len(frames))
	}
	reject, err := pusframe.Decode(frames[0])
	if err != nil {
		t.Fatalf("decode acceptance: %v", err)
	}
	if reject.Secondary.ServiceType != 1 || reject.Secondary.ServiceSubtype != 2 {
		t.Fatalf("expected TM[1,2] acceptance failure, got %+v", reject.Secondary)
	}
}

func TestDispatchUnknownFunctionIDYieldsExecutionFailure(t *testing.T) {
	sender := newFakeSender()
	d, _ := newTestDispatcher(sender)

	// The service/subtype (TC[8,1]) is known and well-formed; an unknown
	// function id inside it is only discovered once the handler actually
	// runs, so it is an execution-time failure, not pre-dispatch.
	d.Dispatch("s1", tcPacket(1, 8, pusframe.AckAcceptance|pusframe.AckExecution, 7, []byte{0xFF}))
	frames := sender.unicasts["s1"]
	if len(frames) != 2 {
		t.Fatalf("expected acceptance+execution TMs, got %d frames", len(frames))
	}
	accept, err := pusframe.Decode(frames[0])
	if err != nil {
		t.Fatalf("decode acceptance: %v", err)
	}
	if accept.Secondary.ServiceType != 1 || accept.Secondary.ServiceSubtype != 1 {
		t.Fatalf("expected TM[1,1] acceptance success, got %+v", accept.Secondary)
	}
	exec, err := pusframe.Decode(frames[1])
	if err != nil {
		t.Fatalf("decode execution: %v", err)
	}
	if exec.Secondary.ServiceType != 1 || exec.Secondary.ServiceSubtype != 8 {
		t.Fatalf("expected TM[1,8] execution failure, got %+v", exec.Secondary)
	}
}

func TestDispatchNoAckFlagsEmitsNoVerification(t *testing.T) {
	sender := newFakeSender()
	d, sim := newTestDispatcher(sender)

	d.Dispatch("s1", tcPacket(1, 8, 0, 1, []byte{funcStart}))
	if !sim.Running() {
		t.Fatalf("TC must still be dispatched with ACK flags clear")
	}
	if len(sender.unicasts["s1"]) != 0 {
		t.Fatalf("expected no verification TMs when ACK flags are clear, got %d", len(sender.unicasts["s1"]))
	}
}

func TestDispatchParamStagingCommit(t *testing.T) {
	sender := newFakeSender()
	d, _ := newTestDispatcher(sender)

	paramID := []byte{0, 5}
	d.Dispatch("s1", tcPacket(3, 20, 0, 1, append(paramID, f32bytes(3.5)...)))
	d.Dispatch("s1", tcPacket(1, 8, 0, 2, []byte{funcCommit}))
	if len(d.staging.pending) != 0 {
		t.Fatalf("expected staging table cleared after commit")
	}
}

func TestDispatchConnectionTest(t *testing.T) {
	sender := newFakeSender()
	d, _ := newTestDispatcher(sender)

	d.Dispatch("s1", tcPacket(1, 17, 0, 1, nil))
	frames := sender.unicasts["s1"]
	if len(frames) != 1 {
		t.Fatalf("expected one TM[17,2] reply, got %d", len(frames))
	}
	pkt, err := pusframe.Decode(frames[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pkt.Secondary.ServiceType != 17 || pkt.Secondary.ServiceSubtype != 2 {
		t.Fatalf("expected TM[17,2], got %+v", pkt.Secondary)
	}
}
