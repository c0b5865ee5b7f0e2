package internal

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
)

// project applies m to a view direction and returns texture coordinates.
func project(m mgl64.Mat4, dir mgl64.Vec3) (float64, float64) {
	v := m.Mul4x1(dir.Vec4(1))
	return v.X() / v.W(), v.Y() / v.W()
}

func TestTexCoordsFromFOVCenterAndEdge(t *testing.T) {
	tc := TexCoordsFromFOV(90)

	u, v := project(tc, mgl64.Vec3{0, 0, -1})
	assert.InDelta(t, 0.5, u, 1e-12)
	assert.InDelta(t, 0.5, v, 1e-12)

	u, _ = project(tc, mgl64.Vec3{1, 0, -1})
	assert.InDelta(t, 1.0, u, 1e-12, "45° right maps to the right edge")

	assert.Equal(t, tc, TexCoordsFromFOV(0), "invalid fov falls back to 90°")
}

func TestWarpDeltaIdentity(t *testing.T) {
	q := mgl64.QuatRotate(0.3, mgl64.Vec3{0, 1, 0})

	d := WarpDelta(q, q)
	assert.InDelta(t, 1.0, math.Abs(d.W), 1e-12)
	assert.InDelta(t, 0.0, d.V.Len(), 1e-12)

	d = WarpDelta(mgl64.Quat{}, mgl64.Quat{})
	assert.True(t, d.ApproxEqual(mgl64.QuatIdent()), "zero quaternions are treated as identity")
}

// TestWarpMatrixYaw verifies a head turned left samples the left side of
// the eye texture rendered before the turn.
func TestWarpMatrixYaw(t *testing.T) {
	theta := mgl64.DegToRad(10)
	render := mgl64.QuatIdent()
	predicted := mgl64.QuatRotate(theta, mgl64.Vec3{0, 1, 0})

	m := WarpMatrix(TexCoordsFromFOV(90), WarpDelta(render, predicted))

	u, v := project(m, mgl64.Vec3{0, 0, -1})
	assert.InDelta(t, 0.5-0.5*math.Tan(theta), u, 1e-9)
	assert.InDelta(t, 0.5, v, 1e-9)
}

func TestToUniformRowMajor(t *testing.T) {
	m := TexCoordsFromFOV(90)
	u := ToUniform(m)

	assert.InDelta(t, -0.5, float64(u[2]), 1e-7, "row 0, column 2")
	assert.InDelta(t, -1.0, float64(u[14]), 1e-7, "row 3, column 2")
	assert.Equal(t, float32(0), u[3])
}

func TestExternalVelocitySteps(t *testing.T) {
	step := mgl64.QuatRotate(mgl64.DegToRad(1), mgl64.Vec3{0, 1, 0})

	assert.True(t, externalVelocity(mgl64.Quat{}, 5).ApproxEqual(mgl64.QuatIdent()))
	assert.True(t, externalVelocity(step, 0).ApproxEqual(mgl64.QuatIdent()))

	two := externalVelocity(step, 2)
	assert.InDelta(t, mgl64.DegToRad(2), 2*math.Acos(two.W), 1e-9)

	capped := externalVelocity(step, 10)
	assert.InDelta(t, mgl64.DegToRad(maxExternalVelocitySteps), 2*math.Acos(capped.W), 1e-9)
}
