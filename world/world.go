package world

import (
	"math"
	"math/rand/v2"
	"net/netip"
	"sync"

	"picomesh/space"
)

// Option 构造 World 时的可选项
type Option func(*World)

// WithRand 指定随机源（测试用固定种子）
func WithRand(rng *rand.Rand) Option {
	return func(w *World) { w.rng = rng }
}

// WithSelfHitGrace 发射者在后坐期间不会被自己的碎片击中
func WithSelfHitGrace(on bool) Option {
	return func(w *World) { w.selfHitGrace = on }
}

// World 持有每个已知地址的一个角色，以及它们的全部碎片。
// 所有方法都在 mu 保护下执行；模拟只由 tick 循环驱动。
type World struct {
	mu sync.RWMutex

	mapID space.MapID
	space *space.Space
	self  netip.AddrPort
	local *Character
	chars map[netip.AddrPort]*Character
	order []netip.AddrPort // 插入顺序，保证遍历确定

	intent       Intent
	selfHitGrace bool
	tick         uint64
	rng          *rand.Rand
}

// TickResult 一次 tick 的输出
type TickResult struct {
	Tick     uint64
	Snapshot Snapshot // 仅本地角色
	Hits     []Hit
}

// New 由 MapID 展开占用网格并创建本地角色
func New(self netip.AddrPort, mapID space.MapID, opts ...Option) (*World, error) {
	sp, err := space.Expand(mapID)
	if err != nil {
		return nil, err
	}
	w := &World{
		mapID:        append(space.MapID(nil), mapID...),
		space:        sp,
		self:         self,
		chars:        make(map[netip.AddrPort]*Character),
		selfHitGrace: true,
	}
	for _, o := range opts {
		o(w)
	}
	if w.rng == nil {
		w.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	w.local = w.addLocked(self)
	return w, nil
}

// AddCharacter 为新发现的 peer 创建角色；已存在时直接返回
func (w *World) AddCharacter(addr netip.AddrPort) *Character {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addLocked(addr)
}

func (w *World) addLocked(addr netip.AddrPort) *Character {
	if c, ok := w.chars[addr]; ok {
		return c
	}
	c := NewCharacter(addr, w.space, w.rng)
	w.chars[addr] = c
	w.order = append(w.order, addr)
	return c
}

// Apply 应用一条远端快照；来源未知时先创建角色。发给自己的快照被忽略。
// 返回该地址是否为首次出现。
func (w *World) Apply(env Envelope) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.applyLocked(env)
}

func (w *World) applyLocked(env Envelope) bool {
	if env.From == w.self {
		return false
	}
	_, known := w.chars[env.From]
	w.addLocked(env.From).Sync(env.State)
	return !known
}

// SetMoveIntent 设置下一次 tick 使用的移动意图；非有限数值被忽略
func (w *World) SetMoveIntent(right, up, forward float64) {
	if !finite(right, up, forward) {
		return
	}
	w.mu.Lock()
	w.intent = Intent{Right: right, Up: up, Forward: forward}
	w.mu.Unlock()
}

// Rotate 视角增量，立即作用在本地角色上
func (w *World) Rotate(yawDelta, pitchDelta float64) {
	if !finite(yawDelta, pitchDelta) {
		return
	}
	m, d := Polar(yawDelta, pitchDelta)
	w.mu.Lock()
	w.local.Rotate(m, d)
	w.mu.Unlock()
}

// LookAt 本地角色转向目标点
func (w *World) LookAt(target Vec3) {
	w.mu.Lock()
	w.local.LookAt(target)
	w.mu.Unlock()
}

// Fire 本地角色射击
func (w *World) Fire(backward bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.local.Shoot(backward)
	return ok
}

// Tick 推进一帧：应用入站快照 → 本地更新 → 推进所有角色的碎片并清理 → 返回本地快照。
// dt 为上一帧耗时（秒），<=0 时沿用上次测得的频率。
func (w *World) Tick(dt float64, inbound []Envelope) TickResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, env := range inbound {
		w.applyLocked(env)
	}
	if dt > 0 && !math.IsInf(1/dt, 0) {
		w.local.TickRate = 1 / dt
	}
	w.local.Update(w.intent)

	chars := w.charactersLocked()
	var hits []Hit
	for _, c := range chars {
		hits = append(hits, c.AdvanceShards(w.local.TickRate, chars, w.selfHitGrace)...)
	}
	w.tick++
	return TickResult{Tick: w.tick, Snapshot: w.local.Snapshot(), Hits: hits}
}

func (w *World) charactersLocked() []*Character {
	out := make([]*Character, 0, len(w.order))
	for _, addr := range w.order {
		out = append(out, w.chars[addr])
	}
	return out
}

// MapID 本局地图编号
func (w *World) MapID() space.MapID {
	return append(space.MapID(nil), w.mapID...)
}

// Space 占用网格（不可变，可并发读）
func (w *World) Space() *space.Space { return w.space }

// Self 本地地址
func (w *World) Self() netip.AddrPort { return w.self }

// Len 角色数量
func (w *World) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.chars)
}

// CurrentTick 已执行的 tick 数
func (w *World) CurrentTick() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tick
}

// LocalCharacter 本地角色的只读视图
func (w *World) LocalCharacter() CharacterView {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return viewOf(w.local)
}

// AllCharacters 所有角色（含本地）的只读视图，按加入顺序
func (w *World) AllCharacters() []CharacterView {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]CharacterView, 0, len(w.order))
	for _, addr := range w.order {
		out = append(out, viewOf(w.chars[addr]))
	}
	return out
}

// Character 按地址取视图
func (w *World) Character(addr netip.AddrPort) (CharacterView, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	c, ok := w.chars[addr]
	if !ok {
		return CharacterView{}, false
	}
	return viewOf(c), true
}
