package pose

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// StatusBits reports sensor tracking state.
type StatusBits uint32

const (
	OrientationTracked StatusBits = 0x0001
	PositionTracked    StatusBits = 0x0002
	PositionConnected  StatusBits = 0x0020
	HmdConnected       StatusBits = 0x0080
)

// Has reports whether all bits in mask are set.
func (s StatusBits) Has(mask StatusBits) bool {
	return s&mask == mask
}

// Pose is a rigid-body state at an absolute time.
// Immutable value type.
type Pose struct {
	Orientation mgl64.Quat
	Position    mgl64.Vec3

	// AngularVelocity and AngularAcceleration are in the body frame (rad/s, rad/s²).
	AngularVelocity     mgl64.Vec3
	AngularAcceleration mgl64.Vec3

	LinearVelocity     mgl64.Vec3
	LinearAcceleration mgl64.Vec3

	// TimeInSeconds is absolute monotonic time.
	TimeInSeconds float64
}

// Identity returns a motionless identity pose stamped at t.
func Identity(t float64) Pose {
	return Pose{
		Orientation:   mgl64.QuatIdent(),
		TimeInSeconds: t,
	}
}

// Sample is one fused output of the sensor-fusion subsystem.
type Sample struct {
	Pose        Pose
	Status      StatusBits
	Temperature float64
}

// SensorState is the result of a prediction query.
type SensorState struct {
	// Predicted is Recorded extrapolated to the requested time.
	Predicted Pose

	// Recorded is the raw fused sample the prediction started from.
	Recorded Pose

	Status      StatusBits
	Temperature float64
}

// Tracking reports whether the state comes from a live sensor.
// An identity fallback has no status bits set.
func (s SensorState) Tracking() bool {
	return s.Status.Has(OrientationTracked)
}

// Extrapolate integrates p forward (or backward) by dt seconds.
//
// Orientation: q(dt) = q0 * exp(ω·dt + ½·α·dt²), rotation in the body frame.
// Position:    p(dt) = p0 + v·dt + ½·a·dt².
//
// Continuous in dt and well defined for negative dt.
func Extrapolate(p Pose, dt float64) Pose {
	rot := p.AngularVelocity.Mul(dt).Add(p.AngularAcceleration.Mul(0.5 * dt * dt))

	out := p
	out.Orientation = p.Orientation.Mul(expMap(rot)).Normalize()
	out.Position = p.Position.
		Add(p.LinearVelocity.Mul(dt)).
		Add(p.LinearAcceleration.Mul(0.5 * dt * dt))
	out.AngularVelocity = p.AngularVelocity.Add(p.AngularAcceleration.Mul(dt))
	out.LinearVelocity = p.LinearVelocity.Add(p.LinearAcceleration.Mul(dt))
	out.TimeInSeconds = p.TimeInSeconds + dt
	return out
}

// expMap converts a rotation vector (axis * angle) to a unit quaternion.
func expMap(rot mgl64.Vec3) mgl64.Quat {
	angle := rot.Len()
	if angle < 1e-12 {
		return mgl64.QuatIdent()
	}
	return mgl64.QuatRotate(angle, rot.Mul(1/angle))
}

// Yaw returns the heading of q around the +Y (up) axis, in radians.
// Zero when looking down -Z.
func Yaw(q mgl64.Quat) float64 {
	forward := q.Rotate(mgl64.Vec3{0, 0, -1})
	return math.Atan2(-forward.X(), -forward.Z())
}

// YawRotation returns a rotation of angle radians around +Y.
func YawRotation(angle float64) mgl64.Quat {
	return mgl64.QuatRotate(angle, mgl64.Vec3{0, 1, 0})
}

// AngleBetween returns the rotation angle (radians) taking a to b.
func AngleBetween(a, b mgl64.Quat) float64 {
	d := math.Abs(a.Dot(b))
	if d > 1 {
		d = 1
	}
	return 2 * math.Acos(d)
}
