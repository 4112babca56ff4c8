package world

import (
	"math"
	"math/rand/v2"
	"net/netip"
	"testing"

	"pgregory.net/rapid"

	"picomesh/space"
)

var (
	addrA = netip.MustParseAddrPort("127.0.0.1:4000")
	addrB = netip.MustParseAddrPort("127.0.0.1:4001")
)

func testRand() *rand.Rand { return rand.New(rand.NewPCG(42, 24)) }

func TestRespawn_ResetsState(t *testing.T) {
	sp := space.MustExpand(space.Identity())
	c := NewCharacter(addrA, sp, testRand())
	c.Shoot(false)
	c.Health = -0.2
	c.Update(Intent{Forward: 1})

	if c.Health != FullHealth {
		t.Fatalf("health after respawn = %v, want %v", c.Health, FullHealth)
	}
	if len(c.Shards) != 0 {
		t.Fatalf("respawn should clear shards, have %d", len(c.Shards))
	}
	if c.RecoilT != 0 {
		t.Fatalf("respawn should clear recoil, have %v", c.RecoilT)
	}
	if !c.Placeable(c.Pos()) {
		t.Fatalf("respawned at unplaceable position %v", c.Pos())
	}
}

func TestUpdate_NeverEndsUnplaceable(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		seed := rapid.Uint64().Draw(t, "seed")
		rng := rand.New(rand.NewPCG(seed, seed^0x5eed))
		sp := space.MustExpand(space.NewMapID(rng))
		c := NewCharacter(addrA, sp, rng)
		c.TickRate = rapid.Float64Range(5, 240).Draw(t, "rate")
		steps := rapid.IntRange(1, 200).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			in := Intent{
				Right:   rapid.Float64Range(-1, 1).Draw(t, "right"),
				Up:      rapid.Float64Range(-1, 1).Draw(t, "up"),
				Forward: rapid.Float64Range(-1, 1).Draw(t, "forward"),
			}
			if rapid.Bool().Draw(t, "shoot") {
				c.Shoot(rapid.Bool().Draw(t, "backward"))
			}
			c.Update(in)
			if !c.Placeable(c.Pos()) {
				t.Fatalf("step %d: position %v is not placeable", i, c.Pos())
			}
		}
	})
}

func TestUpdate_SlidesAlongWall(t *testing.T) {
	var cells [][3]int
	for j := 0; j < space.Depth; j++ {
		for k := 0; k < space.Height; k++ {
			cells = append(cells, [3]int{6, j, k})
		}
	}
	sp := space.FromCells(cells...)
	c := NewCharacter(addrA, sp, testRand())
	c.SetPos(Vec3{5.5, 5.5, 4.5})
	c.Rot = Identity3()

	for i := 0; i < 30; i++ {
		c.Update(Intent{Right: 1, Forward: 1})
	}
	p := c.Pos()
	if p[0] >= 6-RPico {
		t.Fatalf("moved into the wall: x=%v", p[0])
	}
	if math.Abs(p[2]-4.5) < 1 {
		t.Fatalf("expected sliding along z, z=%v", p[2])
	}
}

func TestUpdate_RegeneratesHealth(t *testing.T) {
	c := NewCharacter(addrA, space.FromCells(), testRand())
	c.Health = 0.5
	c.TickRate = 10
	c.Update(Intent{})
	want := 0.5 + math.Log10(1.5)*0.1
	if math.Abs(c.Health-want) > 1e-12 {
		t.Fatalf("health = %v, want %v", c.Health, want)
	}
	c.Health = FullHealth
	c.Update(Intent{})
	if c.Health != FullHealth {
		t.Fatalf("health should be capped at full, got %v", c.Health)
	}
}

func TestShoot_RecoilAndIDs(t *testing.T) {
	c := NewCharacter(addrA, space.FromCells(), testRand())
	id, ok := c.Shoot(false)
	if !ok || id != 1 {
		t.Fatalf("first shot = (%d, %v), want (1, true)", id, ok)
	}
	if _, ok := c.Shoot(false); ok {
		t.Fatalf("shot during recoil should be ignored")
	}
	p := c.Shards[1]
	if p.Power != ShardLife {
		t.Fatalf("new shard power = %d", p.Power)
	}
	d := Vec3(space.Displacement(c.Pos(), p.Pos()))
	if math.Abs(d.Norm()-RPico) > 1e-9 || d.Dot(c.Forward()) <= 0 {
		t.Fatalf("forward shard should spawn one radius ahead, offset %v", d)
	}

	c.RecoilT = 0
	id, _ = c.Shoot(true)
	if id != 2 {
		t.Fatalf("second shot id = %d, want 2", id)
	}
	back := c.Shards[2]
	if back.Forward() != c.Forward().Neg() {
		t.Fatalf("backward shard should fly opposite to the character")
	}
	if c.RecoilU != c.Forward() {
		t.Fatalf("backward recoil should push forward")
	}

	delete(c.Shards, 2)
	c.RecoilT = 0
	id, _ = c.Shoot(false)
	if id != 3 {
		t.Fatalf("shard ids must not be reused, got %d", id)
	}
}

func TestShoot_DeadIsNoop(t *testing.T) {
	c := NewCharacter(addrA, space.FromCells(), testRand())
	c.Health = -1
	if _, ok := c.Shoot(false); ok {
		t.Fatalf("dead character should not shoot")
	}
}

func TestSync_KeepsShardsMissingFromSnapshot(t *testing.T) {
	sp := space.FromCells()
	c := NewCharacter(addrB, sp, testRand())
	for _, id := range []int{1, 2, 3} {
		c.Shards[id] = NewProjectile(addrB, sp, Vec3{1, 1, 1}, Identity3(), ShardLife)
	}
	c.Sync(Snapshot{
		Health: 0.25,
		Pos:    Vec3{13, -1, 10},
		Rot:    Identity3(),
		Shards: map[int]ShardState{
			2: {Pos: Vec3{2, 2, 2}, Rot: Identity3(), Power: 1},
			4: {Pos: Vec3{3, 3, 3}, Rot: Identity3(), Power: 2},
		},
	})

	if len(c.Shards) != 4 {
		t.Fatalf("want 4 shards after sync, have %d", len(c.Shards))
	}
	if c.Shards[1].Power != ShardLife || c.Shards[3].Power != ShardLife {
		t.Fatalf("untouched shards changed")
	}
	if c.Shards[2].Power != 1 || c.Shards[2].Pos() != (Vec3{2, 2, 2}) {
		t.Fatalf("shard 2 not updated in place")
	}
	if c.Shards[4].Owner != addrB {
		t.Fatalf("new shard owner = %v", c.Shards[4].Owner)
	}
	if c.Pos() != (Vec3{1, 11, 1}) {
		t.Fatalf("synced position not wrapped: %v", c.Pos())
	}
	if c.Health != 0.25 {
		t.Fatalf("health = %v", c.Health)
	}
}

func TestRotate_StaysOrthonormal(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := NewCharacter(addrA, space.FromCells(), testRand())
		n := rapid.IntRange(1, 50).Draw(t, "n")
		for i := 0; i < n; i++ {
			c.Rotate(rapid.Float64Range(0, 2*math.Pi).Draw(t, "mag"), rapid.Float64Range(-math.Pi, math.Pi).Draw(t, "dir"))
		}
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				want := 0.0
				if i == j {
					want = 1
				}
				if got := c.Rot[i].Dot(c.Rot[j]); math.Abs(got-want) > 1e-6 {
					t.Fatalf("rows %d,%d dot = %v", i, j, got)
				}
			}
		}
	})
}

func TestLookAt(t *testing.T) {
	c := NewCharacter(addrA, space.FromCells(), testRand())
	c.SetPos(Vec3{1, 1, 1})
	c.LookAt(Vec3{1, 4, 1})
	f := c.Forward()
	if math.Abs(f[1]-1) > 1e-9 {
		t.Fatalf("forward after LookAt = %v", f)
	}
	// 最近镜像：11 与 1 相距 2（跨越边界）
	c.LookAt(Vec3{11, 1, 1})
	if f := c.Forward(); math.Abs(f[0]+1) > 1e-9 {
		t.Fatalf("LookAt should use the nearest image, forward = %v", f)
	}
}
