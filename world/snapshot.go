package world

import (
	"errors"
	"net/netip"
)

// ErrMalformedSnapshot 快照中含有非有限数值
var ErrMalformedSnapshot = errors.New("malformed snapshot")

// ShardState 单个碎片的同步状态
type ShardState struct {
	Pos   Vec3 `msgpack:"pos" json:"pos"`
	Rot   Mat3 `msgpack:"rot" json:"rot"`
	Power int  `msgpack:"power" json:"power"`
}

// Snapshot 一个角色在某一时刻的权威字段，每 tick 广播一次
type Snapshot struct {
	Health float64            `msgpack:"health" json:"health"`
	Pos    Vec3               `msgpack:"pos" json:"pos"`
	Rot    Mat3               `msgpack:"rot" json:"rot"`
	Shards map[int]ShardState `msgpack:"shards" json:"shards"`
}

// 旋转矩阵的容差：远端矩阵经过多次左乘会有微小漂移
const rotTolerance = 1e-3

// Validate 拒绝非有限数值、非正交旋转和超过满血的生命值，防止坏数据污染本地模拟
func (s Snapshot) Validate() error {
	if !finite(s.Health) || s.Health > FullHealth+1e-9 {
		return ErrMalformedSnapshot
	}
	if !s.Pos.Finite() || !s.Rot.Finite() || !s.Rot.Orthonormal(rotTolerance) {
		return ErrMalformedSnapshot
	}
	for _, st := range s.Shards {
		if !st.Pos.Finite() || !st.Rot.Finite() || !st.Rot.Orthonormal(rotTolerance) {
			return ErrMalformedSnapshot
		}
	}
	return nil
}

// Envelope 入站队列中的一项：来源地址 + 已解码的快照
type Envelope struct {
	From  netip.AddrPort
	State Snapshot
}
