package pose

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireConversion(t *testing.T) {
	state := SensorState{
		Predicted: Pose{
			Orientation:     mgl64.QuatRotate(0.3, mgl64.Vec3{0, 1, 0}),
			Position:        mgl64.Vec3{0.1, 1.7, -0.2},
			AngularVelocity: mgl64.Vec3{0.01, 0.5, 0},
			LinearVelocity:  mgl64.Vec3{0, 0, 0.3},
			TimeInSeconds:   1234.5678,
		},
		Recorded: Pose{
			Orientation:   mgl64.QuatRotate(0.25, mgl64.Vec3{0, 1, 0}),
			TimeInSeconds: 1234.55,
		},
		Status:      OrientationTracked | HmdConnected,
		Temperature: 36.6,
	}

	back := FromWire(ToWire(state))

	assert.InDelta(t, 0, AngleBetween(state.Predicted.Orientation, back.Predicted.Orientation), 1e-6)
	assert.InDelta(t, 0, AngleBetween(state.Recorded.Orientation, back.Recorded.Orientation), 1e-6)
	assert.InDelta(t, 1.7, back.Predicted.Position.Y(), 1e-6)
	assert.InDelta(t, 0.5, back.Predicted.AngularVelocity.Y(), 1e-6)
	assert.Equal(t, state.Predicted.TimeInSeconds, back.Predicted.TimeInSeconds)
	assert.Equal(t, state.Status, back.Status)
	assert.InDelta(t, 36.6, back.Temperature, 1e-5)
}

func TestWireZeroQuaternionDecodesAsIdentity(t *testing.T) {
	back := FromWire(WireSensorState{})
	assert.Equal(t, mgl64.QuatIdent(), back.Predicted.Orientation)
}

func TestWireEncodeDecode(t *testing.T) {
	p := NewPredictor(DefaultConfig())
	feed := NewFeed()
	p.AttachSource(feed)
	feed.Push(spinningSample(7, 0.2, 1))

	wire := ToWire(p.Predict(7.01))
	data, err := wire.Encode()
	require.NoError(t, err)

	decoded, err := DecodeWire(data)
	require.NoError(t, err)
	assert.Equal(t, wire, decoded)

	_, err = DecodeWire([]byte{0xc1})
	assert.Error(t, err)
}
