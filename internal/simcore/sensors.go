package simcore

import (
	"math"
	"math/rand"
)

const radToDeg = 180.0 / math.Pi

// RateSensor models a single-axis-set gyro package. BiasDrift is a
// persistent random-walk state variable; it is not reseeded across a
// simulation reset, since a reset models the flight software restarting
// against the same physical gyro, not a new unit.
type RateSensor struct {
	BiasConstant   Vector3 // deg/s
	BiasDrift      Vector3 // deg/s, random-walk state
	ARWSigma       float64 // angular random walk, deg/s/√Hz
	RRWSigma       float64 // rate random walk, deg/s/√s
	ScaleFactorErr float64 // fractional
	QuantStepDeg   float64 // deg/s
}

// NewRateSensor returns a rate sensor with representative noise
// parameters and zero bias state.
func NewRateSensor() *RateSensor {
	return &RateSensor{
		ARWSigma:       0.01,
		RRWSigma:       0.0001,
		ScaleFactorErr: 0.001,
		QuantStepDeg:   0.001,
	}
}

// Sample updates the drifting bias and returns the noisy, quantized
// angular rate measurement (deg/s) for true body rate omega (rad/s).
func (r *RateSensor) Sample(rng *rand.Rand, omega Vector3, dt float64) Vector3 {
	r.BiasDrift.X += rng.NormFloat64() * r.RRWSigma * math.Sqrt(dt)
	r.BiasDrift.Y += rng.NormFloat64() * r.RRWSigma * math.Sqrt(dt)
	r.BiasDrift.Z += rng.NormFloat64() * r.RRWSigma * math.Sqrt(dt)

	trueDeg := Vector3{omega.X * radToDeg, omega.Y * radToDeg, omega.Z * radToDeg}
	arw := r.ARWSigma / math.Sqrt(dt)

	out := Vector3{
		X: trueDeg.X*(1+r.ScaleFactorErr) + r.BiasConstant.X + r.BiasDrift.X + rng.NormFloat64()*arw,
		Y: trueDeg.Y*(1+r.ScaleFactorErr) + r.BiasConstant.Y + r.BiasDrift.Y + rng.NormFloat64()*arw,
		Z: trueDeg.Z*(1+r.ScaleFactorErr) + r.BiasConstant.Z + r.BiasDrift.Z + rng.NormFloat64()*arw,
	}
	return Vector3{
		X: quantize(out.X, r.QuantStepDeg),
		Y: quantize(out.Y, r.QuantStepDeg),
		Z: quantize(out.Z, r.QuantStepDeg),
	}
}

func quantize(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	return math.Round(v/step) * step
}

// Magnetometer op-modes.
type MagOpMode uint8

const (
	MagOff MagOpMode = iota
	MagStandby
	MagOperational
)

// Magnetometer models a 3-axis field sensor.
type Magnetometer struct {
	On      bool
	OpMode  MagOpMode
	ScaleX, ScaleY, ScaleZ float64
	BiasX, BiasY, BiasZ    float64
	NoiseSigmaNT           float64
}

// NewMagnetometer returns an off magnetometer with unity scale, no bias.
func NewMagnetometer() *Magnetometer {
	return &Magnetometer{ScaleX: 1, ScaleY: 1, ScaleZ: 1, NoiseSigmaNT: 5}
}

// Sample returns the scaled, biased, noisy field reading (nT) given the
// true body-frame field, or (0,0,0,false) when the sensor cannot report.
func (m *Magnetometer) Sample(rng *rand.Rand, fieldBody Vector3) (Vector3, bool) {
	if !m.On || m.OpMode != MagOperational {
		return Vector3{}, false
	}
	return Vector3{
		X: fieldBody.X*m.ScaleX + m.BiasX + rng.NormFloat64()*m.NoiseSigmaNT,
		Y: fieldBody.Y*m.ScaleY + m.BiasY + rng.NormFloat64()*m.NoiseSigmaNT,
		Z: fieldBody.Z*m.ScaleZ + m.BiasZ + rng.NormFloat64()*m.NoiseSigmaNT,
	}, true
}

// SunSensor is one of the six sun sensor units.
type SunSensor struct {
	BoresightBody Vector3 // unit vector
	HalfAngleFOVDeg float64
	NoiseSigmaDeg   float64
}

// NewSunSensor returns a sensor with a fixed 60° half-angle FOV.
func NewSunSensor(boresight Vector3) *SunSensor {
	return &SunSensor{BoresightBody: boresight, HalfAngleFOVDeg: 60, NoiseSigmaDeg: 0.1}
}

// SunSensorReading is the decoded observation for one tick.
type SunSensorReading struct {
	Detected   bool
	AzimuthDeg float64
	ElevDeg    float64
	Intensity  float64
}

// Sample reports detection, az/el, and intensity for the sun direction in
// body frame, or "no detection" when in eclipse or the sun is outside the
// FOV.
func (s *SunSensor) Sample(rng *rand.Rand, sunDirBody Vector3, inEclipse bool) SunSensorReading {
	if inEclipse {
		return SunSensorReading{}
	}
	cosTheta := s.BoresightBody.Dot(sunDirBody)
	if cosTheta < math.Cos(s.HalfAngleFOVDeg*math.Pi/180) {
		return SunSensorReading{}
	}
	theta := math.Acos(clamp(cosTheta, -1, 1))
	// azimuth is taken in the body X-Y plane for every sensor, whatever
	// its boresight; elevation is simply 90°-theta from boresight.
	az := math.Atan2(sunDirBody.Y, sunDirBody.X) * radToDeg
	el := 90 - theta*radToDeg
	intensity := cosTheta + rng.NormFloat64()*0.01
	return SunSensorReading{
		Detected:   true,
		AzimuthDeg: az + rng.NormFloat64()*s.NoiseSigmaDeg,
		ElevDeg:    el + rng.NormFloat64()*s.NoiseSigmaDeg,
		Intensity:  intensity,
	}
}
