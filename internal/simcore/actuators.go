package simcore

import "math/rand"

// Reaction wheel mode.
type RWMode uint8

const (
	RWStandby RWMode = iota
	RWOperate
)

const (
	rwTorqueMax    = 0.2     // N·m, clamp on commanded torque
	rwSpeedMaxRPM  = 6000.0  // clamp on wheel speed
	rwFrictionNm   = 0.001   // friction torque applied while spinning down unpowered
	rwFrictionStop = 1.0     // RPM below which friction latches speed to zero
	rwInertiaKgM2  = 0.0001  // I_w, used to convert torque·dt into an RPM delta
)

// Reaction-wheel fault bits.
const (
	RWFaultOverTemp uint32 = 1 << iota
	RWFaultOverSpeed
	RWFaultMotorStall
)

// ReactionWheel is one of the four reaction-wheel units.
type ReactionWheel struct {
	On             bool
	Mode           RWMode
	MotorEnabled   bool
	CommandedTorque float64 // N·m, clamped to ±rwTorqueMax
	SpeedRPM       float64 // clamped to ±rwSpeedMaxRPM
	TemperatureC   float64
	CurrentA       float64
	VoltageV       float64
	Faults         uint32
}

// NewReactionWheel returns a wheel at standby with nominal temperature and
// bus voltage, the unit's power-on default.
func NewReactionWheel() *ReactionWheel {
	return &ReactionWheel{TemperatureC: 20, VoltageV: 28}
}

// SetCommandedTorque clamps and stores a new commanded torque (TC[8,1]
// opcode 0x04). Out-of-range commands silently saturate rather than erroring.
func (w *ReactionWheel) SetCommandedTorque(nm float64) {
	w.CommandedTorque = clamp(nm, -rwTorqueMax, rwTorqueMax)
}

// step integrates wheel speed for one tick and returns the reaction torque
// (N·m) this wheel imparts on the body about its spin axis.
func (w *ReactionWheel) step(dt float64) (reactionTorqueNm float64) {
	var appliedTorque float64
	if w.On && w.MotorEnabled && w.Mode == RWOperate {
		appliedTorque = w.CommandedTorque
		deltaRPM := appliedTorque * dt * (60.0 / (2 * 3.141592653589793)) / rwInertiaKgM2
		w.SpeedRPM = clamp(w.SpeedRPM+deltaRPM, -rwSpeedMaxRPM, rwSpeedMaxRPM)
	} else {
		if w.SpeedRPM != 0 {
			if sign(w.SpeedRPM)*w.SpeedRPM < rwFrictionStop {
				w.SpeedRPM = 0
			} else {
				frictionTorque := sign(w.SpeedRPM) * rwFrictionNm
				deltaRPM := -frictionTorque * dt * (60.0 / (2 * 3.141592653589793)) / rwInertiaKgM2
				w.SpeedRPM += deltaRPM
			}
		}
	}
	if w.SpeedRPM > rwSpeedMaxRPM*0.98 {
		w.Faults |= RWFaultOverSpeed
	}
	// reaction torque is the negative of the torque the wheel applies to
	// its own rotor
	return -appliedTorque
}

// Thruster is one of the four thruster units.
type Thruster struct {
	On              bool
	Firing          bool
	NominalThrustN  float64
	IspSeconds      float64
	PositionM       Vector3 // body-frame
	DirectionUnit   Vector3 // body-frame, unit vector of thrust direction
	ThrustErrorFrac float64
	TemperatureC    float64
}

const (
	thrusterHeatPerTick = 0.5
	thrusterCoolPerTick = 0.2
	thrusterMaxTempC    = 150
	thrusterMinTempC    = 20
)

// NewThruster returns a thruster at ambient temperature, off.
func NewThruster(pos, dir Vector3, thrustN, ispSec float64) *Thruster {
	return &Thruster{
		NominalThrustN: thrustN,
		IspSeconds:     ispSec,
		PositionM:      pos,
		DirectionUnit:  dir,
		TemperatureC:   thrusterMinTempC,
	}
}

// step returns the force (N, body frame) this thruster produces this tick
// and updates its temperature.
func (th *Thruster) step(rng *rand.Rand, dt float64) Vector3 {
	if th.On && th.Firing {
		th.TemperatureC = clamp(th.TemperatureC+thrusterHeatPerTick*dt*80, thrusterMinTempC, thrusterMaxTempC)
		errFrac := th.ThrustErrorFrac
		noise := rng.NormFloat64() * errFrac
		mag := th.NominalThrustN * (1 + noise)
		return th.DirectionUnit.Scale(mag)
	}
	th.TemperatureC = clamp(th.TemperatureC-thrusterCoolPerTick*dt*80, thrusterMinTempC, thrusterMaxTempC)
	return Vector3{}
}

// TorqueRod is one of the three torque-rod units.
type TorqueRod struct {
	Axis           Vector3 // body axis, unit vector
	DipoleAm2      float64 // clamped to ±torqueRodMaxDipole
}

const torqueRodMaxDipole = 50.0 // A·m²

// SetDipole clamps and stores a commanded dipole (TC[8,1] function id 0x30+n).
func (tr *TorqueRod) SetDipole(am2 float64) {
	tr.DipoleAm2 = clamp(am2, -torqueRodMaxDipole, torqueRodMaxDipole)
}

// torque returns the body torque this rod produces given the ECI magnetic
// field (nT). B is used numerically in nT rather than converted to
// Tesla: this is a documented test-fixture quirk carried forward
// unchanged, not a physical torque.
func (tr *TorqueRod) torque(bFieldECI_nT Vector3) Vector3 {
	m := tr.Axis.Scale(tr.DipoleAm2)
	return m.Cross(bFieldECI_nT)
}

// SADA (Solar Array Drive Assembly) is one of the two SADA units.
type SADA struct {
	Deployed       bool
	CommandedDeg   float64
	ActualDeg      float64
}

const sadaMaxSlewDegPerSec = 1.0

// SetCommandedAngle stores a new commanded angle (TC[8,1] function id 0x40+n).
func (s *SADA) SetCommandedAngle(deg float64) {
	s.CommandedDeg = deg
}

// step moves the actual angle toward the commanded angle, bounded by the
// max slew rate.
func (s *SADA) step(dt float64) {
	delta := s.CommandedDeg - s.ActualDeg
	maxStep := sadaMaxSlewDegPerSec * dt
	if delta > maxStep {
		delta = maxStep
	} else if delta < -maxStep {
		delta = -maxStep
	}
	s.ActualDeg += delta
}
