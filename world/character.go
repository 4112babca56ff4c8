package world

import (
	"math"
	"math/rand/v2"
	"net/netip"
	"sort"

	"picomesh/space"
)

// Intent 本地玩家的移动意图（局部坐标系）
type Intent struct {
	Right   float64 `json:"right"`
	Up      float64 `json:"up"`
	Forward float64 `json:"forward"`
}

// Character 角色（pico）。本地角色由输入和模拟驱动；远端角色只由同步消息改写。
type Character struct {
	Addr     netip.AddrPort
	Health   float64
	Rot      Mat3
	Shards   map[int]*Projectile
	RecoilU  Vec3    // 后坐方向（单位向量）
	RecoilT  float64 // 剩余后坐时间（秒）
	TickRate float64 // 最近一次测得的 tick 频率

	pos    Vec3
	lastID int
	space  *space.Space
	rng    *rand.Rand
}

// NewCharacter 在随机可放置位置创建角色
func NewCharacter(addr netip.AddrPort, sp *space.Space, rng *rand.Rand) *Character {
	c := &Character{
		Addr:     addr,
		TickRate: DefaultTickRate,
		space:    sp,
		rng:      rng,
	}
	c.Respawn()
	return c
}

// Respawn 原地复活：新的随机位置和朝向、满血、清空碎片与后坐。
// 碎片编号计数器保留，旧编号不会被复用。
func (c *Character) Respawn() {
	c.Health = FullHealth
	c.pos = c.randomPos()
	c.Rot = BaseOrientation()
	c.Rotate(c.rng.Float64()*2*math.Pi, c.rng.Float64()*2*math.Pi)
	c.Shards = make(map[int]*Projectile)
	c.RecoilU = Vec3{}
	c.RecoilT = 0
}

// 拒绝采样，直到找到可放置的位置
func (c *Character) randomPos() Vec3 {
	for {
		p := Vec3{
			c.rng.Float64() * space.Width,
			c.rng.Float64() * space.Depth,
			c.rng.Float64() * space.Height,
		}
		p = wrapVec(p)
		if c.space.Placeable(p[0], p[1], p[2], RPico) {
			return p
		}
	}
}

// Dead 生命值小于 0
func (c *Character) Dead() bool { return c.Health < 0 }

// Pos 当前位置（已回绕）
func (c *Character) Pos() Vec3 { return c.pos }

// SetPos 写入前逐轴回绕
func (c *Character) SetPos(v Vec3) { c.pos = wrapVec(v) }

func (c *Character) Forward() Vec3 { return c.Rot.Forward() }

// Placeable 以角色半径判定
func (c *Character) Placeable(p Vec3) bool {
	return c.space.Placeable(p[0], p[1], p[2], RPico)
}

// Update 回血并尝试移动。死亡时改为复活，本次不移动。
// 移动逐轴独立判定，单轴受阻时可以贴墙滑动。
func (c *Character) Update(in Intent) {
	if c.Dead() {
		c.Respawn()
		return
	}
	rate := c.TickRate
	if rate <= 0 {
		rate = DefaultTickRate
	}
	dt := 1 / rate
	c.Health = math.Min(FullHealth, c.Health+math.Log10(c.Health+1)*dt)

	dir := Vec3{in.Right, in.Up, in.Forward}.Normalized().MulMat(c.Rot)
	if c.RecoilT > 0 {
		dir = dir.Add(c.RecoilU.Scale(c.RecoilT * RPS))
		c.RecoilT = math.Max(c.RecoilT-dt, 0)
	}
	next := c.pos.Add(dir.Scale(dt * PicoSpeed))
	for axis := 0; axis < 3; axis++ {
		probe := c.pos
		// 先回绕再判定，判定的就是最终存下的值
		probe[axis] = space.WrapAxis(next[axis], axis)
		if c.Placeable(probe) {
			c.pos = probe
		}
	}
}

// Rotate 左乘增量旋转，用于视角输入
func (c *Character) Rotate(magnitude, direction float64) {
	c.Rot = Rotation(magnitude, direction).Mul(c.Rot)
}

// LookAt 转向世界中的某一点（取最近的回绕镜像）
func (c *Character) LookAt(target Vec3) {
	f := Vec3(space.Displacement(c.pos, target)).Normalized()
	if f == (Vec3{}) {
		return
	}
	up := c.Rot[1]
	right := f.Cross(up)
	if right.Norm() < 1e-9 {
		right = f.Cross(c.Rot[0].Neg())
	}
	right = right.Normalized()
	up = right.Cross(f).Normalized()
	c.Rot = Mat3{right, up, f}
}

// Shoot 发射碎片；死亡或仍在后坐时无效。返回新碎片编号。
func (c *Character) Shoot(backward bool) (int, bool) {
	if c.Dead() || c.RecoilT > 0 {
		return 0, false
	}
	c.RecoilT = 1 / RPS
	rot := c.Rot
	if backward {
		c.RecoilU = c.Forward()
		rot = rot.Neg()
	} else {
		c.RecoilU = c.Forward().Neg()
	}
	id := c.nextShardID()
	pos := c.pos.Sub(c.RecoilU.Scale(RPico))
	c.Shards[id] = NewProjectile(c.Addr, c.space, pos, rot, ShardLife)
	return id, true
}

// 当前最大编号加一，且不小于历史上发出过的编号
func (c *Character) nextShardID() int {
	id := c.lastID
	for k := range c.Shards {
		if k > id {
			id = k
		}
	}
	id++
	c.lastID = id
	return id
}

// Sync 用远端快照覆盖生命、位置、朝向；逐个更新或新建碎片。
// 快照中缺失的碎片不在这里删除，只会在本地模拟中因能量耗尽被移除。
func (c *Character) Sync(s Snapshot) {
	c.Health = s.Health
	c.SetPos(s.Pos)
	c.Rot = s.Rot
	for id, st := range s.Shards {
		if p, ok := c.Shards[id]; ok {
			p.Sync(st.Pos, st.Rot, st.Power)
			continue
		}
		c.Shards[id] = NewProjectile(c.Addr, c.space, st.Pos, st.Rot, st.Power)
		if id > c.lastID {
			c.lastID = id
		}
	}
}

// AdvanceShards 推进该角色所有碎片一步，并移除能量耗尽的碎片
func (c *Character) AdvanceShards(tickRate float64, chars []*Character, selfHitGrace bool) []Hit {
	var hits []Hit
	for _, id := range c.ShardIDs() {
		p := c.Shards[id]
		if h, ok := p.Update(tickRate, chars, selfHitGrace); ok {
			hits = append(hits, h)
		}
		if p.Exhausted() {
			delete(c.Shards, id)
		}
	}
	return hits
}

// ShardIDs 升序的碎片编号，保证遍历顺序确定
func (c *Character) ShardIDs() []int {
	ids := make([]int, 0, len(c.Shards))
	for id := range c.Shards {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Snapshot 序列化本角色的权威字段
func (c *Character) Snapshot() Snapshot {
	shards := make(map[int]ShardState, len(c.Shards))
	for id, p := range c.Shards {
		shards[id] = p.State()
	}
	return Snapshot{Health: c.Health, Pos: c.pos, Rot: c.Rot, Shards: shards}
}
