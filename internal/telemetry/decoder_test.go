package telemetry

import (
	"testing"
	"time"

	"github.com/aurora-scoe/aocs-scoe/internal/pusframe"
	"github.com/aurora-scoe/aocs-scoe/internal/pusseq"
)

type fixedClock struct{ d time.Duration }

func (c fixedClock) Now() time.Duration { return c.d }

func mintHK(t *testing.T, structureID uint16, values []float32) pusframe.Packet {
	t.Helper()
	f := pusseq.NewFactory(1, 1, fixedClock{})
	raw, _, err := f.MintHK(structureID, values)
	if err != nil {
		t.Fatalf("MintHK: %v", err)
	}
	pkt, err := pusframe.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return pkt
}

func TestDecoderRoundTripsNamedValues(t *testing.T) {
	cache := NewCache()
	d := NewDecoder(cache, nil)

	names := DefaultStructures[1]
	values := make([]float32, len(names))
	for i := range values {
		values[i] = float32(i) + 0.5
	}

	d.Handle(mintHK(t, 1, values))

	snap := cache.Snapshot()
	for i, name := range names {
		got, ok := snap[name]
		if !ok {
			t.Fatalf("missing %s in snapshot", name)
		}
		if want := float64(values[i]); got != want {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}
}

func TestDecoderDeficitLeavesLaterNamesUntouched(t *testing.T) {
	cache := NewCache()
	cache.apply(map[string]float64{"body_rate_z": 42})
	d := NewDecoder(cache, nil)

	// Fewer values than the structure declares names: only the leading
	// names get updated, "body_rate_z" keeps its old value.
	d.Handle(mintHK(t, 1, []float32{1, 2, 3}))

	got, _ := cache.Get("body_rate_z")
	if got != 42 {
		t.Errorf("body_rate_z = %v, want unchanged 42", got)
	}
	got, _ = cache.Get("att_q_w")
	if got != 1 {
		t.Errorf("att_q_w = %v, want 1", got)
	}
}

func TestDecoderExcessValuesDiscarded(t *testing.T) {
	cache := NewCache()
	d := NewDecoder(cache, nil)

	names := DefaultStructures[6]
	values := make([]float32, len(names)+5)
	for i := range values {
		values[i] = float32(i)
	}

	d.Handle(mintHK(t, 6, values))

	snap := cache.Snapshot()
	if len(snap) != len(names) {
		t.Fatalf("snapshot has %d entries, want %d", len(snap), len(names))
	}
}

func TestDecoderUnknownStructureCountsDecodeError(t *testing.T) {
	cache := NewCache()
	d := NewDecoder(cache, nil)

	d.Handle(mintHK(t, 999, []float32{1}))

	if d.DecodeErrors() != 1 {
		t.Fatalf("DecodeErrors() = %d, want 1", d.DecodeErrors())
	}
	if len(cache.Snapshot()) != 0 {
		t.Fatalf("cache should remain empty after an unknown-structure TM")
	}
}

func TestDecoderIgnoresNonHKPackets(t *testing.T) {
	cache := NewCache()
	d := NewDecoder(cache, nil)

	f := pusseq.NewFactory(1, 1, fixedClock{})
	raw, _, err := f.MintConnectionTestReply()
	if err != nil {
		t.Fatalf("MintConnectionTestReply: %v", err)
	}
	pkt, err := pusframe.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	d.Handle(pkt)

	if d.DecodeErrors() != 0 {
		t.Fatalf("DecodeErrors() = %d, want 0", d.DecodeErrors())
	}
}

type recordingSink struct {
	points []string
}

func (s *recordingSink) WritePoint(structureID uint16, parameter string, value float64, t time.Time) error {
	s.points = append(s.points, parameter)
	return nil
}

func TestDecoderForwardsToSinksAndSubscribers(t *testing.T) {
	cache := NewCache()
	d := NewDecoder(cache, nil)
	sink := &recordingSink{}
	d.AddSink(sink)
	sub := d.Subscribe()

	names := DefaultStructures[5]
	values := make([]float32, len(names))
	d.Handle(mintHK(t, 5, values))

	if len(sink.points) != len(names) {
		t.Fatalf("sink saw %d points, want %d", len(sink.points), len(names))
	}

	select {
	case snap := <-sub.C():
		if len(snap) != len(names) {
			t.Fatalf("subscriber snapshot has %d entries, want %d", len(snap), len(names))
		}
	default:
		t.Fatal("subscriber never received a snapshot")
	}
}
