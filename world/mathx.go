package world

import "math"

// Vec3 三维向量
type Vec3 [3]float64

func (v Vec3) Add(u Vec3) Vec3 { return Vec3{v[0] + u[0], v[1] + u[1], v[2] + u[2]} }
func (v Vec3) Sub(u Vec3) Vec3 { return Vec3{v[0] - u[0], v[1] - u[1], v[2] - u[2]} }
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v[0] * s, v[1] * s, v[2] * s} }
func (v Vec3) Neg() Vec3 { return Vec3{-v[0], -v[1], -v[2]} }
func (v Vec3) Dot(u Vec3) float64 { return v[0]*u[0] + v[1]*u[1] + v[2]*u[2] }
func (v Vec3) Norm() float64 { return math.Sqrt(v.Dot(v)) }

func (v Vec3) Cross(u Vec3) Vec3 {
	return Vec3{
		v[1]*u[2] - v[2]*u[1],
		v[2]*u[0] - v[0]*u[2],
		v[0]*u[1] - v[1]*u[0],
	}
}

// Normalized 单位化；零向量原样返回
func (v Vec3) Normalized() Vec3 {
	n := v.Norm()
	if n == 0 {
		return v
	}
	return v.Scale(1 / n)
}

// MulMat 行向量乘矩阵 v @ m，即按 v 的分量组合 m 的三行
func (v Vec3) MulMat(m Mat3) Vec3 {
	return m[0].Scale(v[0]).Add(m[1].Scale(v[1])).Add(m[2].Scale(v[2]))
}

// Mat3 3x3 旋转矩阵，三行依次为 right、up、forward
type Mat3 [3]Vec3

// Identity3 单位矩阵
func Identity3() Mat3 {
	return Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// BaseOrientation 初始朝向：forward 指向 -Z
func BaseOrientation() Mat3 {
	return Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, -1}}
}

// Mul 矩阵乘法 m @ n
func (m Mat3) Mul(n Mat3) Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[i][0]*n[0][j] + m[i][1]*n[1][j] + m[i][2]*n[2][j]
		}
	}
	return out
}

// MulVec 矩阵乘列向量 m @ v
func (m Mat3) MulVec(v Vec3) Vec3 {
	return Vec3{m[0].Dot(v), m[1].Dot(v), m[2].Dot(v)}
}

func (m Mat3) Neg() Mat3 {
	return Mat3{m[0].Neg(), m[1].Neg(), m[2].Neg()}
}

// Reflect 关于某轴镜像（m @ INV[axis]）：每一行在该轴上的分量取反
func (m Mat3) Reflect(axis int) Mat3 {
	for i := range m {
		m[i][axis] = -m[i][axis]
	}
	return m
}

// Forward 第三行
func (m Mat3) Forward() Vec3 { return m[2] }

// Rotation 由极坐标形式（幅度=转角，方向=yaw/pitch 平面上的方位角）构造增量旋转
func Rotation(magnitude, direction float64) Mat3 {
	if magnitude == 0 {
		return Identity3()
	}
	// yaw 绕 up 轴，pitch 绕 right 轴
	axis := Vec3{math.Sin(direction), math.Cos(direction), 0}
	return axisAngle(axis, magnitude)
}

// axisAngle Rodrigues 公式，axis 必须是单位向量
func axisAngle(a Vec3, theta float64) Mat3 {
	s, c := math.Sincos(theta)
	t := 1 - c
	x, y, z := a[0], a[1], a[2]
	return Mat3{
		{t*x*x + c, t*x*y - s*z, t*x*z + s*y},
		{t*x*y + s*z, t*y*y + c, t*y*z - s*x},
		{t*x*z - s*y, t*y*z + s*x, t*z*z + c},
	}
}

// Polar 将 (yaw, pitch) 增量转成 (幅度, 方向)
func Polar(yaw, pitch float64) (magnitude, direction float64) {
	return math.Hypot(yaw, pitch), math.Atan2(pitch, yaw)
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Finite 所有分量均为有限值
func (v Vec3) Finite() bool { return finite(v[0], v[1], v[2]) }

func (m Mat3) Finite() bool { return m[0].Finite() && m[1].Finite() && m[2].Finite() }

// Orthonormal 三行两两正交且为单位长度（容差 tol）
func (m Mat3) Orthonormal(tol float64) bool {
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(m[i].Dot(m[j])-want) > tol {
				return false
			}
		}
	}
	return true
}
