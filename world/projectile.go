package world

import (
	"net/netip"

	"picomesh/space"
)

// Projectile 碎片：直线飞行，碰到占用格子时反弹，命中角色时造成伤害
type Projectile struct {
	Owner netip.AddrPort // 发射者地址，用于伤害归属
	Rot   Mat3
	Power int // 剩余反弹次数，<=0 时移除

	pos   Vec3
	space *space.Space
}

// NewProjectile 创建碎片，位置会被回绕到基本区域
func NewProjectile(owner netip.AddrPort, sp *space.Space, pos Vec3, rot Mat3, power int) *Projectile {
	p := &Projectile{Owner: owner, Rot: rot, Power: power, space: sp}
	p.SetPos(pos)
	return p
}

// Pos 当前位置（已回绕）
func (p *Projectile) Pos() Vec3 { return p.pos }

// SetPos 写入前逐轴回绕
func (p *Projectile) SetPos(v Vec3) {
	p.pos = wrapVec(v)
}

func (p *Projectile) Forward() Vec3 { return p.Rot.Forward() }

// Exhausted 能量耗尽，应在本 tick 结束时移除
func (p *Projectile) Exhausted() bool { return p.Power <= 0 }

// Hit 一次命中
type Hit struct {
	Shooter netip.AddrPort `json:"shooter"`
	Victim  netip.AddrPort `json:"victim"`
	Damage  float64        `json:"damage"`
	Lethal  bool           `json:"lethal"`
}

// Update 前进一步。逐轴检测预测位置，不可放置的轴对旋转矩阵做镜像；
// 每 tick 至多消耗 1 点能量。移动后对所有角色做命中判定。
func (p *Projectile) Update(tickRate float64, chars []*Character, selfHitGrace bool) (Hit, bool) {
	if tickRate <= 0 {
		tickRate = DefaultTickRate
	}
	step := ShardSpeed / tickRate
	target := p.pos.Add(p.Forward().Scale(step))
	bounced := false
	for axis := 0; axis < 3; axis++ {
		probe := p.pos
		probe[axis] = target[axis]
		if !p.space.Placeable(probe[0], probe[1], probe[2], RShard) {
			p.Rot = p.Rot.Reflect(axis)
			bounced = true
		}
	}
	// 位移沿镜像后的方向，碎片不会钻进墙里
	p.SetPos(p.pos.Add(p.Forward().Scale(step)))
	if bounced {
		p.Power--
	}
	if p.Exhausted() {
		return Hit{}, false
	}

	for _, c := range chars {
		if c.Dead() {
			continue
		}
		if selfHitGrace && c.Addr == p.Owner && c.RecoilT > 0 {
			continue
		}
		d := Vec3(space.Displacement(p.pos, c.pos))
		if d.Norm() >= RColl {
			continue
		}
		damage := float64(p.Power) / ShardLife / RPS
		c.Health -= damage
		p.Power = 0
		return Hit{Shooter: p.Owner, Victim: c.Addr, Damage: damage, Lethal: c.Dead()}, true
	}
	return Hit{}, false
}

// Sync 用远端状态直接覆盖
func (p *Projectile) Sync(pos Vec3, rot Mat3, power int) {
	p.SetPos(pos)
	p.Rot = rot
	p.Power = power
}

// State 序列化用的快照
func (p *Projectile) State() ShardState {
	return ShardState{Pos: p.pos, Rot: p.Rot, Power: p.Power}
}

func wrapVec(v Vec3) Vec3 {
	return Vec3{space.WrapAxis(v[0], 0), space.WrapAxis(v[1], 1), space.WrapAxis(v[2], 2)}
}
