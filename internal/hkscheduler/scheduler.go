// Package hkscheduler implements the housekeeping scheduler: for each
// enabled housekeeping structure, it emits a TM[3,25] report at its
// configured interval, sampled from the simulation's latest parameter map.
package hkscheduler

import (
	"sync"
	"time"

	"github.com/aurora-scoe/aocs-scoe/internal/pusseq"
)

// Clock abstracts "now" so tests can drive the scheduler without real
// sleeps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the default wall-clock-backed Clock.
var SystemClock Clock = systemClock{}

// ParamSource supplies the current flat telemetry map (simcore.Sim's
// Snapshot, decoupling the scheduler from simulation internals).
type ParamSource interface {
	Snapshot() map[string]float64
}

// Sender delivers an already-built HK TM PUS packet (not yet EDEN-framed —
// the implementation, normally an endpoint.Server, applies pusframe.WrapFrame
// at the point it writes to a session's socket), either to one client (a
// one-shot request) or to every connected session (an interval report).
type Sender interface {
	Unicast(sessionID string, pusPacket []byte)
	Broadcast(pusPacket []byte)
}

// Structure is one housekeeping structure: a named, ordered set of
// parameters emitted together at a configurable interval.
type Structure struct {
	ID             uint16
	Enabled        bool
	IntervalSec    float64
	Parameters     []string
	lastEmittedAt  time.Time
}

// Scheduler holds the map of structureId -> Structure and drives periodic
// emission. All mutation (structure create/delete/enable/disable/modify)
// and the scheduler's own poll-tick dispatch share one mutex, so a
// mutation is serialized with the current dispatch.
type Scheduler struct {
	mu         sync.Mutex
	structures map[uint16]*Structure
	factory    *pusseq.Factory
	params     ParamSource
	sender     Sender
	clock      Clock

	// PollInterval is the scheduler's own poll floor (≥10Hz); it is
	// independent of the 80Hz sim tick.
	PollInterval time.Duration
}

// NewScheduler constructs a Scheduler with the given collaborators.
func NewScheduler(factory *pusseq.Factory, params ParamSource, sender Sender, clock Clock) *Scheduler {
	if clock == nil {
		clock = SystemClock
	}
	return &Scheduler{
		structures:   make(map[uint16]*Structure),
		factory:      factory,
		params:       params,
		sender:       sender,
		clock:        clock,
		PollInterval: 100 * time.Millisecond, // 10 Hz floor
	}
}

// Create adds a new structure, initially disabled with an empty parameter
// list (TC[3,1]).
func (s *Scheduler) Create(id uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.structures[id] = &Structure{ID: id}
}

// Delete removes a structure (TC[3,3]); a no-op if absent.
func (s *Scheduler) Delete(id uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.structures, id)
}

// Enable enables a structure (TC[3,5]); a no-op if absent.
func (s *Scheduler) Enable(id uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.structures[id]; ok {
		st.Enabled = true
	}
}

// Disable disables a structure (TC[3,6]); a no-op if absent.
func (s *Scheduler) Disable(id uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.structures[id]; ok {
		st.Enabled = false
	}
}

// SetInterval sets a structure's interval in seconds (TC[3,31]); a no-op
// if absent. Zero is accepted — the poll floor bounds the real emission
// rate, so this never livelocks.
func (s *Scheduler) SetInterval(id uint16, seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.structures[id]; ok {
		st.IntervalSec = seconds
	}
}

// SetParameters replaces a structure's declared, ordered parameter list.
func (s *Scheduler) SetParameters(id uint16, names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.structures[id]; ok {
		st.Parameters = append([]string(nil), names...)
	}
}

// Structure returns a copy of structure id's current state, for
// introspection (e.g. by the dispatcher when validating an id).
func (s *Scheduler) Structure(id uint16) (Structure, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.structures[id]
	if !ok {
		return Structure{}, false
	}
	return *st, true
}

// RequestOneShot emits structure id's HK report once, immediately, to the
// requesting session only (TC[3,27]), bypassing the interval check but
// never mutating lastEmittedAt.
func (s *Scheduler) RequestOneShot(sessionID string, id uint16) {
	s.mu.Lock()
	st, ok := s.structures[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	names := append([]string(nil), st.Parameters...)
	s.mu.Unlock()

	frame := s.buildReport(id, names)
	if frame != nil {
		s.sender.Unicast(sessionID, frame)
	}
}

// Poll checks every enabled structure once and emits an interval report
// for any whose interval has elapsed. Missed intervals coalesce: a
// structure that was due N times since the last poll still emits exactly
// once, never multiple back-to-back reports.
func (s *Scheduler) Poll() {
	now := s.clock.Now()

	s.mu.Lock()
	type due struct {
		id    uint16
		names []string
	}
	var fire []due
	for id, st := range s.structures {
		if !st.Enabled {
			continue
		}
		if st.lastEmittedAt.IsZero() || now.Sub(st.lastEmittedAt).Seconds() >= st.IntervalSec {
			fire = append(fire, due{id: id, names: append([]string(nil), st.Parameters...)})
			st.lastEmittedAt = now
		}
	}
	s.mu.Unlock()

	for _, d := range fire {
		if frame := s.buildReport(d.id, d.names); frame != nil {
			s.sender.Broadcast(frame)
		}
	}
}

func (s *Scheduler) buildReport(id uint16, names []string) []byte {
	snap := s.params.Snapshot()
	values := make([]float32, len(names))
	for i, n := range names {
		values[i] = float32(snap[n])
	}
	frame, _, err := s.factory.MintHK(id, values)
	if err != nil {
		return nil
	}
	return frame
}

// Run polls at PollInterval until stop is closed. Callers run this as the
// HK-scheduler goroutine; it exits at the next poll boundary on
// cancellation, never mid-dispatch.
func (s *Scheduler) Run(stop <-chan struct{}) {
	t := time.NewTicker(s.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			s.Poll()
		}
	}
}
