package world

import "net/netip"

// ShardView 渲染用的碎片视图
type ShardView struct {
	ID    int            `json:"id"`
	Owner netip.AddrPort `json:"owner"`
	Pos   Vec3           `json:"pos"`
	Rot   Mat3           `json:"rot"`
	Power int            `json:"power"`
}

// CharacterView 渲染用的角色视图（值拷贝，可脱离锁使用）
type CharacterView struct {
	Addr   netip.AddrPort `json:"addr"`
	Pos    Vec3           `json:"pos"`
	Rot    Mat3           `json:"rot"`
	Health float64        `json:"health"`
	Dead   bool           `json:"dead"`
	Radius float64        `json:"radius"`
	Shards []ShardView    `json:"shards"`
}

func viewOf(c *Character) CharacterView {
	v := CharacterView{
		Addr:   c.Addr,
		Pos:    c.pos,
		Rot:    c.Rot,
		Health: c.Health,
		Dead:   c.Dead(),
		Radius: RPico,
		Shards: make([]ShardView, 0, len(c.Shards)),
	}
	for _, id := range c.ShardIDs() {
		p := c.Shards[id]
		v.Shards = append(v.Shards, ShardView{ID: id, Owner: p.Owner, Pos: p.pos, Rot: p.Rot, Power: p.Power})
	}
	return v
}
