package pose

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/vmihailenco/msgpack/v5"
)

// WirePose is the external (float32) representation of a Pose.
//
// Field order and widths are fixed; conversion is explicit (ToWire,
// FromWire) and never relies on struct layout.
type WirePose struct {
	Orientation         [4]float32 `msgpack:"q"` // x, y, z, w
	Position            [3]float32 `msgpack:"p"`
	AngularVelocity     [3]float32 `msgpack:"av"`
	AngularAcceleration [3]float32 `msgpack:"aa"`
	LinearVelocity      [3]float32 `msgpack:"lv"`
	LinearAcceleration  [3]float32 `msgpack:"la"`
	TimeInSeconds       float64    `msgpack:"t"`
}

// WireSensorState is the external representation of a SensorState.
type WireSensorState struct {
	Predicted   WirePose `msgpack:"predicted"`
	Recorded    WirePose `msgpack:"recorded"`
	Temperature float32  `msgpack:"temperature"`
	Status      uint32   `msgpack:"status"`
}

// ToWire converts a SensorState to its wire form.
func ToWire(s SensorState) WireSensorState {
	return WireSensorState{
		Predicted:   poseToWire(s.Predicted),
		Recorded:    poseToWire(s.Recorded),
		Temperature: float32(s.Temperature),
		Status:      uint32(s.Status),
	}
}

// FromWire converts a wire SensorState back. Orientations are renormalized;
// a zero quaternion decodes as identity.
func FromWire(w WireSensorState) SensorState {
	return SensorState{
		Predicted:   poseFromWire(w.Predicted),
		Recorded:    poseFromWire(w.Recorded),
		Temperature: float64(w.Temperature),
		Status:      StatusBits(w.Status),
	}
}

// Encode serializes the wire state with msgpack.
func (w WireSensorState) Encode() ([]byte, error) {
	data, err := msgpack.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("pose: encode sensor state: %w", err)
	}
	return data, nil
}

// DecodeWire parses a msgpack-encoded WireSensorState.
func DecodeWire(data []byte) (WireSensorState, error) {
	var w WireSensorState
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return WireSensorState{}, fmt.Errorf("pose: decode sensor state: %w", err)
	}
	return w, nil
}

func poseToWire(p Pose) WirePose {
	return WirePose{
		Orientation: [4]float32{
			float32(p.Orientation.X()),
			float32(p.Orientation.Y()),
			float32(p.Orientation.Z()),
			float32(p.Orientation.W),
		},
		Position:            vec3ToWire(p.Position),
		AngularVelocity:     vec3ToWire(p.AngularVelocity),
		AngularAcceleration: vec3ToWire(p.AngularAcceleration),
		LinearVelocity:      vec3ToWire(p.LinearVelocity),
		LinearAcceleration:  vec3ToWire(p.LinearAcceleration),
		TimeInSeconds:       p.TimeInSeconds,
	}
}

func poseFromWire(w WirePose) Pose {
	q := mgl64.Quat{
		W: float64(w.Orientation[3]),
		V: mgl64.Vec3{
			float64(w.Orientation[0]),
			float64(w.Orientation[1]),
			float64(w.Orientation[2]),
		},
	}
	if q.Len() == 0 {
		q = mgl64.QuatIdent()
	} else {
		q = q.Normalize()
	}

	return Pose{
		Orientation:         q,
		Position:            vec3FromWire(w.Position),
		AngularVelocity:     vec3FromWire(w.AngularVelocity),
		AngularAcceleration: vec3FromWire(w.AngularAcceleration),
		LinearVelocity:      vec3FromWire(w.LinearVelocity),
		LinearAcceleration:  vec3FromWire(w.LinearAcceleration),
		TimeInSeconds:       w.TimeInSeconds,
	}
}

func vec3ToWire(v mgl64.Vec3) [3]float32 {
	return [3]float32{float32(v[0]), float32(v[1]), float32(v[2])}
}

func vec3FromWire(v [3]float32) mgl64.Vec3 {
	return mgl64.Vec3{float64(v[0]), float64(v[1]), float64(v[2])}
}
