package simcore

// Spacecraft is the rigid-body state.
type Spacecraft struct {
	Attitude     Quaternion
	BodyRate     Vector3 // rad/s
	PositionECI  Vector3 // m
	VelocityECI  Vector3 // m/s
	InertiaDiag  Vector3 // kg·m², diagonal inertia tensor
	COMOffsetM   Vector3 // body frame

	SunDirECI    Vector3 // unit vector
	MagFieldECI  Vector3 // nT
	InEclipse    bool
}

// NewSpacecraft returns a spacecraft at identity attitude, zero rate, in a
// representative low circular orbit, with a plausible diagonal inertia.
func NewSpacecraft() *Spacecraft {
	return &Spacecraft{
		Attitude:    IdentityQuaternion,
		InertiaDiag: Vector3{X: 20, Y: 22, Z: 18},
		PositionECI: Vector3{X: 6871000, Y: 0, Z: 0},
		VelocityECI: Vector3{X: 0, Y: 7612, Z: 0},
		SunDirECI:   Vector3{X: 1, Y: 0, Z: 0},
		MagFieldECI: Vector3{X: 20000, Y: 0, Z: 30000},
	}
}

// IntegrateRate advances body rate given total body torque and dt.
func (sc *Spacecraft) IntegrateRate(torqueBody Vector3, dt float64) {
	sc.BodyRate = sc.BodyRate.Add(Vector3{
		X: torqueBody.X / sc.InertiaDiag.X * dt,
		Y: torqueBody.Y / sc.InertiaDiag.Y * dt,
		Z: torqueBody.Z / sc.InertiaDiag.Z * dt,
	})
}

// IntegrateAttitude advances the attitude quaternion by one Euler step and
// renormalizes, preserving the ‖q‖=1±ε invariant.
func (sc *Spacecraft) IntegrateAttitude(dt float64) {
	qdot := sc.Attitude.Derivative(sc.BodyRate)
	sc.Attitude = sc.Attitude.Add(qdot.Scale(dt)).Normalize()
}

// FieldBody rotates the ECI magnetic field into the body frame using the
// current attitude. For a unit quaternion q=(w,x,y,z) rotating body->ECI,
// the inverse (ECI->body) rotation is the conjugate.
func (sc *Spacecraft) FieldBody() Vector3 {
	return rotateByConjugate(sc.Attitude, sc.MagFieldECI)
}

// SunDirBody rotates the ECI sun direction into the body frame.
func (sc *Spacecraft) SunDirBody() Vector3 {
	return rotateByConjugate(sc.Attitude, sc.SunDirECI)
}

func rotateByConjugate(q Quaternion, v Vector3) Vector3 {
	qc := Quaternion{W: q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
	return rotate(qc, v)
}

// rotate applies q's rotation to v via the standard quaternion sandwich
// product, specialized to avoid allocating intermediate quaternions.
func rotate(q Quaternion, v Vector3) Vector3 {
	uv := Vector3{q.X, q.Y, q.Z}
	t := uv.Cross(v).Scale(2)
	return v.Add(t.Scale(q.W)).Add(uv.Cross(t))
}
