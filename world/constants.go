package world

import "math"

// 几何与物理常量。角色是外接球半径为 RPico 的正四面体，碎片是外接球半径为 RShard 的正八面体。
const (
	RPico  = 1.0 / 6             // 角色碰撞半径
	RShard = 0.09622504486493763 // √3/18
	RColl  = RPico * 2 / 3       // 命中判定距离

	PicoSpeed  = 2 * math.Phi // 1+√5，单位/秒
	ShardSpeed = PicoSpeed * 2
	ShardLife  = 3       // 反弹次数
	RPS        = math.Pi // 每秒射击轮数

	FullHealth      = 1.0
	DefaultTickRate = 60.0
)
