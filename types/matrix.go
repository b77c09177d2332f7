package types

import (
	"github.com/go-gl/mathgl/mgl32"
)

// A 4x4 matrix stored in column-major order. Points are transformed as
// column vectors (p' = M * p) so columns 0-2 hold the right, up and forward
// axes and column 3 holds the translation.
type Mat4 mgl32.Mat4

// Create identity matrix.
func Ident4() Mat4 {
	return Mat4(mgl32.Ident4())
}

// Create a translation matrix.
func Translate4(v Vec3) Mat4 {
	return Mat4(mgl32.Translate3D(v[0], v[1], v[2]))
}

// Create a scale matrix.
func Scale4(v Vec3) Mat4 {
	return Mat4(mgl32.Scale3D(v[0], v[1], v[2]))
}

// Create a rotation matrix from yaw (x axis), pitch (y axis) and roll (z axis)
// angles in radians. Rotations are applied in yaw, pitch, roll order.
func Rotate4(yaw, pitch, roll float32) Mat4 {
	yawQuat := mgl32.QuatRotate(yaw, mgl32.Vec3{1, 0, 0})
	pitchQuat := mgl32.QuatRotate(pitch, mgl32.Vec3{0, 1, 0})
	rollQuat := mgl32.QuatRotate(roll, mgl32.Vec3{0, 0, 1})
	return Mat4(rollQuat.Mul(pitchQuat.Mul(yawQuat)).Normalize().Mat4())
}

// Multiply with another matrix.
func (m Mat4) Mul4(m2 Mat4) Mat4 {
	return Mat4(mgl32.Mat4(m).Mul4(mgl32.Mat4(m2)))
}

// Calculate the matrix inverse. Singular matrices yield a zero matrix.
func (m Mat4) Inv() Mat4 {
	return Mat4(mgl32.Mat4(m).Inv())
}

// Get the first 3 components of column c.
func (m Mat4) Col(c int) Vec3 {
	return Vec4(mgl32.Mat4(m).Col(c)).Vec3()
}

// Transform a point (w = 1).
func (m Mat4) MulPoint(p Vec3) Vec3 {
	return Vec4(mgl32.Mat4(m).Mul4x1(mgl32.Vec4{p[0], p[1], p[2], 1})).Vec3()
}
