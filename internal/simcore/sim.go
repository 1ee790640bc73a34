package simcore

import (
	"fmt"
	"math/rand"
	"sync"
)

// TickRate is the fixed simulation step rate: Δt = 1/80s.
const TickRate = 80.0

// TickInterval is 1/TickRate in seconds.
const TickInterval = 1.0 / TickRate

const (
	numReactionWheels = 4
	numThrusters      = 4
	numTorqueRods     = 3
	numSADAs          = 2
	numSunSensors     = 6
)

// Sim owns the entire simulated spacecraft: rigid body, actuators,
// sensors, and environment. Its only writers are the sim-loop goroutine
// (Tick) and the TC dispatcher (the command setters below); readers take
// the read lock via Snapshot.
type Sim struct {
	mu sync.RWMutex

	craft *Spacecraft

	wheels     [numReactionWheels]*ReactionWheel
	thrusters  [numThrusters]*Thruster
	torqueRods [numTorqueRods]*TorqueRod
	sadas      [numSADAs]*SADA

	mag        *Magnetometer
	gyro       *RateSensor
	sunSensors [numSunSensors]*SunSensor

	rng *rand.Rand

	running     bool
	missionTime float64 // seconds, advances only while running

	// latest sensor readings, refreshed once per Tick under the write
	// lock; Snapshot only ever reads these, it never re-samples (sampling
	// is stateful — it advances RNG and drift — so a reader must not
	// trigger it).
	latestMag       Vector3
	latestMagOK     bool
	latestGyro      Vector3
	latestSun       [numSunSensors]SunSensorReading
}

// NewSim constructs a Sim with the default equipment complement. rng is
// injected so tests can be made deterministic with a seeded source.
func NewSim(rng *rand.Rand) *Sim {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	s := &Sim{
		craft: NewSpacecraft(),
		mag:   NewMagnetometer(),
		gyro:  NewRateSensor(),
		rng:   rng,
	}
	for i := range s.wheels {
		s.wheels[i] = NewReactionWheel()
	}
	thrusterLayout := [numThrusters]struct {
		pos, dir Vector3
	}{
		{Vector3{X: 1, Y: 0, Z: 0}, Vector3{X: -1, Y: 0, Z: 0}},
		{Vector3{X: -1, Y: 0, Z: 0}, Vector3{X: 1, Y: 0, Z: 0}},
		{Vector3{X: 0, Y: 1, Z: 0}, Vector3{X: 0, Y: -1, Z: 0}},
		{Vector3{X: 0, Y: -1, Z: 0}, Vector3{X: 0, Y: 1, Z: 0}},
	}
	for i := range s.thrusters {
		s.thrusters[i] = NewThruster(thrusterLayout[i].pos, thrusterLayout[i].dir, 1.0, 220)
		s.thrusters[i].ThrustErrorFrac = 0.02
	}
	rodAxes := [numTorqueRods]Vector3{{X: 1}, {Y: 1}, {Z: 1}}
	for i := range s.torqueRods {
		s.torqueRods[i] = &TorqueRod{Axis: rodAxes[i]}
	}
	for i := range s.sadas {
		s.sadas[i] = &SADA{}
	}
	boresights := [numSunSensors]Vector3{
		{X: 1}, {X: -1}, {Y: 1}, {Y: -1}, {Z: 1}, {Z: -1},
	}
	for i := range s.sunSensors {
		s.sunSensors[i] = NewSunSensor(boresights[i])
	}
	s.mag.On = true
	s.mag.OpMode = MagOperational
	return s
}

// Running reports whether the tick loop is advancing mission time.
func (s *Sim) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Start begins advancing mission time on subsequent ticks.
func (s *Sim) Start() { s.mu.Lock(); s.running = true; s.mu.Unlock() }

// Stop halts mission-time advancement; Tick still runs but is a no-op on
// time and leaves actuator/sensor state as-is.
func (s *Sim) Stop() { s.mu.Lock(); s.running = false; s.mu.Unlock() }

// Reset zeros mission time, reinitializes rigid-body and actuator state,
// and clears commanded torques, but preserves rate-sensor bias-drift
// state: a reset models the flight software restarting against the same
// physical gyro, not a fresh unit being installed.
func (s *Sim) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	preservedDrift := s.gyro.BiasDrift
	s.craft = NewSpacecraft()
	for i := range s.wheels {
		s.wheels[i] = NewReactionWheel()
	}
	for i := range s.thrusters[:] {
		s.thrusters[i].Firing = false
	}
	for i := range s.torqueRods {
		s.torqueRods[i].DipoleAm2 = 0
	}
	for i := range s.sadas {
		s.sadas[i].CommandedDeg = 0
		s.sadas[i].ActualDeg = 0
	}
	s.gyro.BiasDrift = preservedDrift
	s.missionTime = 0
	s.running = false
}

// Tick advances the simulation by one TickInterval through its ordered
// update steps: actuator torques, rate and attitude integration, sensor
// sampling, then mission-time advance. No call within Tick may suspend.
func (s *Sim) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	dt := TickInterval

	var torque Vector3
	// 1a. reaction wheels: reaction torque allocation uses a fixed 50/50
	// split — wheels 0-1 contribute to body X, wheels 2-3 to body Y, no Z
	// contribution, rather than a configurable N-wheel allocation matrix.
	for i, w := range s.wheels {
		rt := w.step(dt)
		switch {
		case i < 2:
			torque.X += rt * 0.5
		default:
			torque.Y += rt * 0.5
		}
	}

	// 1b. thrusters
	for _, th := range s.thrusters {
		force := th.step(s.rng, dt)
		r := th.PositionM.Sub(s.craft.COMOffsetM)
		torque = torque.Add(r.Cross(force))
	}

	// 1c. torque rods (B in nT used directly, per the documented quirk in
	// TorqueRod.torque).
	fieldECI := s.craft.MagFieldECI
	for _, tr := range s.torqueRods {
		torque = torque.Add(tr.torque(fieldECI))
	}

	// 2-3. integrate rate then attitude
	s.craft.IntegrateRate(torque, dt)
	s.craft.IntegrateAttitude(dt)

	// 4. sensors
	s.latestGyro = s.gyro.Sample(s.rng, s.craft.BodyRate, dt)
	if v, ok := s.mag.Sample(s.rng, s.craft.FieldBody()); ok {
		s.latestMag, s.latestMagOK = v, true
	} else {
		s.latestMag, s.latestMagOK = Vector3{}, false
	}
	sunBody := s.craft.SunDirBody()
	for i, ss := range s.sunSensors {
		s.latestSun[i] = ss.Sample(s.rng, sunBody, s.craft.InEclipse)
	}

	// 5. SADAs
	for _, sada := range s.sadas {
		sada.step(dt)
	}

	// 6. mission time
	s.missionTime += dt

	// environment: a fixed circular-orbit eclipse model driven off mission
	// time, just enough variety for HK reports and test scenarios; orbital
	// dynamics fidelity is deliberately out of scope. The flag changes only
	// at the model's eclipse transitions, so a ForceEclipse value holds
	// until the next one.
	prevPhase := int((s.missionTime-dt)/600) % 2
	curPhase := int(s.missionTime/600) % 2
	if curPhase != prevPhase {
		s.craft.InEclipse = curPhase == 1
	}
}

// SetRWTorque sets the commanded torque (N·m) of reaction wheel i.
func (s *Sim) SetRWTorque(i int, nm float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= numReactionWheels {
		return fmt.Errorf("simcore: reaction wheel index %d out of range", i)
	}
	s.wheels[i].MotorEnabled = true
	s.wheels[i].On = true
	s.wheels[i].Mode = RWOperate
	s.wheels[i].SetCommandedTorque(nm)
	return nil
}

// SetRWMotorControl enables or disables the motor for wheel i.
func (s *Sim) SetRWMotorControl(i int, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= numReactionWheels {
		return fmt.Errorf("simcore: reaction wheel index %d out of range", i)
	}
	s.wheels[i].MotorEnabled = enabled
	s.wheels[i].On = enabled
	return nil
}

// SetRWMode sets wheel i's mode (MODE_CONTROL subcommand).
func (s *Sim) SetRWMode(i int, mode RWMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= numReactionWheels {
		return fmt.Errorf("simcore: reaction wheel index %d out of range", i)
	}
	s.wheels[i].Mode = mode
	return nil
}

// ClearRWFaults clears the fault bitfield for wheel i.
func (s *Sim) ClearRWFaults(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= numReactionWheels {
		return fmt.Errorf("simcore: reaction wheel index %d out of range", i)
	}
	s.wheels[i].Faults = 0
	return nil
}

// ResetRW handles wheel i's RESET_CONTROL opcode: disables the motor,
// drops it to standby, zeroes its commanded torque, and clears faults.
// Spin-down from whatever speed it was at proceeds through the normal
// unpowered friction model, not an instantaneous stop.
func (s *Sim) ResetRW(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= numReactionWheels {
		return fmt.Errorf("simcore: reaction wheel index %d out of range", i)
	}
	w := s.wheels[i]
	w.MotorEnabled = false
	w.On = false
	w.Mode = RWStandby
	w.CommandedTorque = 0
	w.Faults = 0
	return nil
}

// SetThruster turns thruster i's firing state on or off.
func (s *Sim) SetThruster(i int, firing bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= numThrusters {
		return fmt.Errorf("simcore: thruster index %d out of range", i)
	}
	s.thrusters[i].On = true
	s.thrusters[i].Firing = firing
	return nil
}

// SetTorqueRod sets rod i's commanded dipole (A·m²), clamped to ±50.
func (s *Sim) SetTorqueRod(i int, am2 float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= numTorqueRods {
		return fmt.Errorf("simcore: torque rod index %d out of range", i)
	}
	s.torqueRods[i].SetDipole(am2)
	return nil
}

// SetSADA sets SADA i's commanded angle (deg).
func (s *Sim) SetSADA(i int, deg float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= numSADAs {
		return fmt.Errorf("simcore: SADA index %d out of range", i)
	}
	s.sadas[i].SetCommandedAngle(deg)
	return nil
}

// ForceEclipse overrides the eclipse flag (used by test scenarios that
// exercise sun-sensor blinding without waiting on the orbital model). The
// forced value holds until the orbital model's next eclipse transition.
func (s *Sim) ForceEclipse(in bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.craft.InEclipse = in
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Snapshot returns the flat name->value telemetry map: the only contract
// consumed by the HK scheduler and telemetry decoder. Booleans map to
// 0.0/1.0.
func (s *Sim) Snapshot() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := make(map[string]float64, 64)

	m["sim_time"] = s.missionTime
	m["sim_running"] = b2f(s.running)
	m["in_eclipse"] = b2f(s.craft.InEclipse)

	m["att_q_w"] = s.craft.Attitude.W
	m["att_q_x"] = s.craft.Attitude.X
	m["att_q_y"] = s.craft.Attitude.Y
	m["att_q_z"] = s.craft.Attitude.Z
	m["body_rate_x"] = s.craft.BodyRate.X
	m["body_rate_y"] = s.craft.BodyRate.Y
	m["body_rate_z"] = s.craft.BodyRate.Z
	m["eci_pos_x"] = s.craft.PositionECI.X
	m["eci_pos_y"] = s.craft.PositionECI.Y
	m["eci_pos_z"] = s.craft.PositionECI.Z

	for i, w := range s.wheels {
		p := fmt.Sprintf("rw%d_", i)
		m[p+"speed"] = w.SpeedRPM
		m[p+"temp"] = w.TemperatureC
		m[p+"cmd_torque"] = w.CommandedTorque
		m[p+"current"] = w.CurrentA
		m[p+"voltage"] = w.VoltageV
		m[p+"faults"] = float64(w.Faults)
		m[p+"on"] = b2f(w.On)
	}

	if s.latestMagOK {
		m["mag_x"], m["mag_y"], m["mag_z"] = s.latestMag.X, s.latestMag.Y, s.latestMag.Z
	} else {
		m["mag_x"], m["mag_y"], m["mag_z"] = 0, 0, 0
	}
	m["gyro_x"] = s.latestGyro.X
	m["gyro_y"] = s.latestGyro.Y
	m["gyro_z"] = s.latestGyro.Z

	for i, r := range s.latestSun {
		p := fmt.Sprintf("ss%d_", i)
		m[p+"detected"] = b2f(r.Detected)
		m[p+"az"] = r.AzimuthDeg
		m[p+"el"] = r.ElevDeg
		m[p+"intensity"] = r.Intensity
	}

	for i, th := range s.thrusters {
		p := fmt.Sprintf("thr%d_", i)
		m[p+"firing"] = b2f(th.Firing)
		m[p+"temp"] = th.TemperatureC
	}

	for i, tr := range s.torqueRods {
		m[fmt.Sprintf("mtr%d_dipole", i)] = tr.DipoleAm2
	}

	for i, sada := range s.sadas {
		p := fmt.Sprintf("sada%d_", i)
		m[p+"deployed"] = b2f(sada.Deployed)
		m[p+"angle"] = sada.ActualDeg
		m[p+"cmd_angle"] = sada.CommandedDeg
	}

	return m
}
