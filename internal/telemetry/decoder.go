package telemetry

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/aurora-scoe/aocs-scoe/internal/pusframe"
	"github.com/aurora-scoe/aocs-scoe/internal/scoelog"
)

// Decoder turns decoded TM[3,25] packets into name->value updates against
// a single shared Cache, forwards each point to every configured sink,
// and publishes the resulting snapshot to every subscriber. A malformed
// TM increments a counted decode error rather than returning one to the
// receive loop, mirroring the client's own swallow-and-count failure
// model.
type Decoder struct {
	lg    *scoelog.Logger
	cache *Cache

	mu          sync.Mutex
	sinks       []PointSink
	subscribers map[*Subscriber]struct{}

	decodeErrors uint64
}

// NewDecoder constructs a Decoder over cache; lg may be nil.
func NewDecoder(cache *Cache, lg *scoelog.Logger) *Decoder {
	return &Decoder{
		cache:       cache,
		lg:          lg,
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// AddSink registers a PointSink every future decoded point is forwarded
// to, in addition to updating the cache.
func (d *Decoder) AddSink(sink PointSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, sink)
}

// Subscribe returns a new Subscriber that receives the latest-values
// snapshot after every successfully decoded TM[3,25].
func (d *Decoder) Subscribe() *Subscriber {
	sub := newSubscriber()
	d.mu.Lock()
	d.subscribers[sub] = struct{}{}
	d.mu.Unlock()
	return sub
}

// Unsubscribe stops delivery to sub.
func (d *Decoder) Unsubscribe(sub *Subscriber) {
	d.mu.Lock()
	delete(d.subscribers, sub)
	d.mu.Unlock()
}

// DecodeErrors returns the running count of malformed TM[3,25] packets
// seen so far.
func (d *Decoder) DecodeErrors() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.decodeErrors
}

// Handle processes one inbound packet. Anything other than TM[3,25] is
// ignored and not counted as a decode error. A malformed TM[3,25] body
// counts as a decode error and is otherwise dropped.
func (d *Decoder) Handle(pkt pusframe.Packet) {
	if pkt.Secondary.ServiceType != 3 || pkt.Secondary.ServiceSubtype != 25 {
		return
	}
	structureID, values, err := decodeHK(pkt.Payload)
	if err != nil {
		d.mu.Lock()
		d.decodeErrors++
		d.mu.Unlock()
		if d.lg != nil {
			d.lg.Warn("malformed TM[3,25]", scoelog.KV("err", err.Error()))
		}
		return
	}

	names, ok := DefaultStructures[structureID]
	if !ok {
		d.mu.Lock()
		d.decodeErrors++
		d.mu.Unlock()
		if d.lg != nil {
			d.lg.Warn("TM[3,25] for unknown structure", scoelog.KV("structureId", structureID))
		}
		return
	}

	// Excess floats beyond the name list are discarded; a deficit leaves
	// later names untouched (the previous cached value survives).
	n := len(values)
	if len(names) < n {
		n = len(names)
	}
	updates := make(map[string]float64, n)
	for i := 0; i < n; i++ {
		updates[names[i]] = float64(values[i])
	}
	d.cache.apply(updates)

	now := time.Now()
	d.mu.Lock()
	sinks := append([]PointSink(nil), d.sinks...)
	subs := make([]*Subscriber, 0, len(d.subscribers))
	for sub := range d.subscribers {
		subs = append(subs, sub)
	}
	d.mu.Unlock()

	for _, sink := range sinks {
		for i := 0; i < n; i++ {
			if err := sink.WritePoint(structureID, names[i], float64(values[i]), now); err != nil && d.lg != nil {
				d.lg.Error("sink write failed", scoelog.KV("err", err.Error()))
			}
		}
	}

	snap := d.cache.Snapshot()
	for _, sub := range subs {
		sub.deliver(snap)
	}
}

// decodeHK parses a TM[3,25] payload: structureId(u16) followed by a
// stream of big-endian f32 values.
func decodeHK(payload []byte) (uint16, []float32, error) {
	if len(payload) < 2 {
		return 0, nil, fmt.Errorf("telemetry: payload too short for a structureId")
	}
	structureID := binary.BigEndian.Uint16(payload[0:2])
	rest := payload[2:]
	if len(rest)%4 != 0 {
		return 0, nil, fmt.Errorf("telemetry: payload length %d is not a whole number of f32s", len(rest))
	}
	values := make([]float32, len(rest)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.BigEndian.Uint32(rest[4*i : 4*i+4]))
	}
	return structureID, values, nil
}
