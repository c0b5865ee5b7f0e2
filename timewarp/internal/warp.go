package internal

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/image/math/f32"
)

// defaultFieldOfView is used when a layer does not specify one.
const defaultFieldOfView = 90.0

// TexCoordsFromFOV returns the matrix mapping a view-space direction to
// projective texture coordinates for a symmetric field of view (degrees).
//
//	| 0.5/t  0      -0.5  0 |
//	| 0      0.5/t  -0.5  0 |     t = tan(fov/2)
//	| 0      0      -1    0 |
//	| 0      0      -1    0 |
//
// Dividing by w (-z) gives texture coordinates in [0, 1] across the fov.
func TexCoordsFromFOV(fovDegrees float64) mgl64.Mat4 {
	if fovDegrees <= 0 || fovDegrees >= 180 {
		fovDegrees = defaultFieldOfView
	}
	t := math.Tan(mgl64.DegToRad(fovDegrees / 2))

	return mgl64.Mat4FromRows(
		mgl64.Vec4{0.5 / t, 0, -0.5, 0},
		mgl64.Vec4{0, 0.5 / t, -0.5, 0},
		mgl64.Vec4{0, 0, -1, 0},
		mgl64.Vec4{0, 0, -1, 0},
	)
}

// WarpDelta is the incremental rotation from the pose a layer was rendered
// with to the pose predicted for display: inverse(render) * predicted.
func WarpDelta(render, predicted mgl64.Quat) mgl64.Quat {
	return unitOrIdentity(render).Inverse().Mul(unitOrIdentity(predicted))
}

// WarpMatrix is texCoordsFromTanAngles * rotation(delta): it maps a
// direction in the display's view space to the eye texture rendered at the
// older pose.
func WarpMatrix(texCoords mgl64.Mat4, delta mgl64.Quat) mgl64.Mat4 {
	return texCoords.Mul4(delta.Mat4())
}

// ToUniform converts to the row-major float32 layout uploaded to the GPU.
func ToUniform(m mgl64.Mat4) f32.Mat4 {
	var out f32.Mat4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out[r*4+c] = float32(m.At(r, c))
		}
	}
	return out
}

// externalVelocity returns v applied steps times, or identity.
func externalVelocity(v mgl64.Quat, steps int64) mgl64.Quat {
	out := mgl64.QuatIdent()
	if v.Len() == 0 || steps <= 0 {
		return out
	}
	v = v.Normalize()
	if steps > maxExternalVelocitySteps {
		steps = maxExternalVelocitySteps
	}
	for i := int64(0); i < steps; i++ {
		out = out.Mul(v)
	}
	return out
}

func unitOrIdentity(q mgl64.Quat) mgl64.Quat {
	if q.Len() < 1e-9 {
		return mgl64.QuatIdent()
	}
	return q.Normalize()
}

func layerTexCoords(l EyeLayer) mgl64.Mat4 {
	if l.TexCoordsFromTanAngles == (mgl64.Mat4{}) {
		return TexCoordsFromFOV(l.FieldOfView)
	}
	return l.TexCoordsFromTanAngles
}

// identityWarp is the texture matrix of an unwarped (face-locked) layer.
func identityWarp(l EyeLayer) f32.Mat4 {
	return ToUniform(layerTexCoords(l))
}
