package space

import (
	"bytes"
	"math"
)

// 场地尺寸：X、Y 以 12 为周期回绕，Z 以 9 为周期回绕
const (
	Width  = 12
	Depth  = 12
	Height = 9
)

// Periods 按轴给出回绕周期，便于按下标遍历
var Periods = [3]float64{Width, Depth, Height}

// Space 三维占用网格（不可变），所有 peer 由同一个 MapID 展开得到完全相同的网格
type Space struct {
	cells [Width][Depth][Height]bool
}

// Wrap 将坐标归一化到 [0, period)
func Wrap(v, period float64) float64 {
	m := math.Mod(v, period)
	if m < 0 {
		m += period
	}
	// -1e-18 + 12 会舍入成 12
	if m >= period {
		m = 0
	}
	return m
}

// WrapAxis 按轴回绕
func WrapAxis(v float64, axis int) float64 {
	return Wrap(v, Periods[axis])
}

func cell(v float64, axis int) int {
	return int(WrapAxis(v, axis))
}

// Occupied 查询整数格子是否被占用，下标会先回绕
func (s *Space) Occupied(i, j, k int) bool {
	return s.cells[mod(i, Width)][mod(j, Depth)][mod(k, Height)]
}

// Placeable 判断半径为 r 的球能否放在 (x, y, z)。
// 每个轴只采样 center-r、center、center+r 三个点（共 27 个格子），
// 这是所有移动和反弹逻辑共用的碰撞判定。
func (s *Space) Placeable(x, y, z, r float64) bool {
	xs := [3]int{cell(x-r, 0), cell(x, 0), cell(x+r, 0)}
	ys := [3]int{cell(y-r, 1), cell(y, 1), cell(y+r, 1)}
	zs := [3]int{cell(z-r, 2), cell(z, 2), cell(z+r, 2)}
	for _, i := range xs {
		for _, j := range ys {
			for _, k := range zs {
				if s.cells[i][j][k] {
					return false
				}
			}
		}
	}
	return true
}

// FreeCells 统计空格子数量
func (s *Space) FreeCells() int {
	n := 0
	for i := range s.cells {
		for j := range s.cells[i] {
			for _, occupied := range s.cells[i][j] {
				if !occupied {
					n++
				}
			}
		}
	}
	return n
}

// Bytes 返回网格的紧凑表示（每格一字节），用于跨 peer 比对
func (s *Space) Bytes() []byte {
	out := make([]byte, 0, Width*Depth*Height)
	for i := range s.cells {
		for j := range s.cells[i] {
			for _, occupied := range s.cells[i][j] {
				if occupied {
					out = append(out, 1)
				} else {
					out = append(out, 0)
				}
			}
		}
	}
	return out
}

// Equal 判断两个网格是否逐格相同
func (s *Space) Equal(o *Space) bool {
	if s == nil || o == nil {
		return s == o
	}
	return bytes.Equal(s.Bytes(), o.Bytes())
}

// Images 返回点在相邻 26 个宇宙中的镜像（含自身，共 27 个）
func Images(p [3]float64) [27][3]float64 {
	var out [27][3]float64
	n := 0
	for _, i := range [3]float64{-1, 0, 1} {
		for _, j := range [3]float64{-1, 0, 1} {
			for _, k := range [3]float64{-1, 0, 1} {
				out[n] = [3]float64{p[0] + i*Width, p[1] + j*Depth, p[2] + k*Height}
				n++
			}
		}
	}
	return out
}

// Displacement 返回从 a 指向 b 的最短回绕位移（最小镜像）
func Displacement(a, b [3]float64) [3]float64 {
	var d [3]float64
	for axis := 0; axis < 3; axis++ {
		p := Periods[axis]
		v := math.Mod(b[axis]-a[axis], p)
		if v > p/2 {
			v -= p
		} else if v < -p/2 {
			v += p
		}
		d[axis] = v
	}
	return d
}

func mod(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}
