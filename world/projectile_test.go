package world

import (
	"math"
	"math/rand/v2"
	"testing"

	"pgregory.net/rapid"

	"picomesh/space"
)

// forward 沿 +X 的正交矩阵
var alongX = Mat3{{0, 1, 0}, {0, 0, 1}, {1, 0, 0}}

func TestProjectile_HitDamage(t *testing.T) {
	sp := space.FromCells()
	victim := NewCharacter(addrB, sp, testRand())
	victim.SetPos(Vec3{6, 6, 4.5})
	victim.Health = 0.5

	shard := NewProjectile(addrA, sp, Vec3{6, 6, 4.5}, alongX, ShardLife)
	hit, ok := shard.Update(60, []*Character{victim}, true)
	if !ok {
		t.Fatalf("expected a hit")
	}
	want := 0.5 - float64(ShardLife)/ShardLife/RPS
	if math.Abs(victim.Health-want) > 1e-12 {
		t.Fatalf("health = %v, want %v", victim.Health, want)
	}
	if shard.Power != 0 || !shard.Exhausted() {
		t.Fatalf("shard power after hit = %d, want 0", shard.Power)
	}
	if hit.Shooter != addrA || hit.Victim != addrB || hit.Lethal {
		t.Fatalf("unexpected hit record %+v", hit)
	}
}

func TestProjectile_RemovedOnTickOfContact(t *testing.T) {
	sp := space.FromCells()
	owner := NewCharacter(addrA, sp, testRand())
	owner.SetPos(Vec3{1, 1, 1})
	victim := NewCharacter(addrB, sp, testRand())
	victim.SetPos(Vec3{6, 6, 4.5})
	owner.Shards[7] = NewProjectile(addrA, sp, Vec3{6, 6, 4.5}, alongX, ShardLife)

	hits := owner.AdvanceShards(60, []*Character{owner, victim}, true)
	if len(hits) != 1 {
		t.Fatalf("want 1 hit, got %d", len(hits))
	}
	if _, ok := owner.Shards[7]; ok {
		t.Fatalf("exhausted shard should be pruned in the same tick")
	}
}

func TestProjectile_BounceReflectsBlockedAxis(t *testing.T) {
	sp := space.FromCells([3]int{7, 6, 4})
	rot := Mat3{{0.8, 0, -0.6}, {0, 1, 0}, {0.6, 0, 0.8}}
	shard := NewProjectile(addrA, sp, Vec3{6.85, 6.5, 4.5}, rot, ShardLife)
	before := shard.Forward()

	if _, ok := shard.Update(60, nil, true); ok {
		t.Fatalf("no characters, no hit expected")
	}
	if shard.Power != ShardLife-1 {
		t.Fatalf("power after bounce = %d, want %d", shard.Power, ShardLife-1)
	}
	after := shard.Forward()
	if after != (Vec3{-before[0], before[1], before[2]}) {
		t.Fatalf("forward after bounce = %v, want x negated from %v", after, before)
	}
	if !sp.Placeable(shard.Pos()[0], shard.Pos()[1], shard.Pos()[2], 0) {
		t.Fatalf("shard center ended inside a wall: %v", shard.Pos())
	}
}

func TestProjectile_SelfHitGrace(t *testing.T) {
	sp := space.FromCells()
	owner := NewCharacter(addrA, sp, testRand())
	owner.SetPos(Vec3{6, 6, 4.5})
	owner.RecoilT = 0.2

	shard := NewProjectile(addrA, sp, Vec3{6, 6, 4.5}, alongX, ShardLife)
	if _, ok := shard.Update(60, []*Character{owner}, true); ok {
		t.Fatalf("owner should be immune while recoiling")
	}
	shard = NewProjectile(addrA, sp, Vec3{6, 6, 4.5}, alongX, ShardLife)
	if _, ok := shard.Update(60, []*Character{owner}, false); !ok {
		t.Fatalf("without grace the owner can be hit")
	}
}

func TestProjectile_DeadCharactersIgnored(t *testing.T) {
	sp := space.FromCells()
	victim := NewCharacter(addrB, sp, testRand())
	victim.SetPos(Vec3{6, 6, 4.5})
	victim.Health = -0.1
	shard := NewProjectile(addrA, sp, Vec3{6, 6, 4.5}, alongX, ShardLife)
	if _, ok := shard.Update(60, []*Character{victim}, true); ok {
		t.Fatalf("dead character should not be hit")
	}
}

func TestProjectile_PowerNeverIncreases(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		seed := rapid.Uint64().Draw(t, "seed")
		rng := rand.New(rand.NewPCG(seed, 1))
		sp := space.MustExpand(space.NewMapID(rng))
		owner := NewCharacter(addrA, sp, rng)
		owner.Rotate(rapid.Float64Range(0, 6).Draw(t, "mag"), rapid.Float64Range(-3, 3).Draw(t, "dir"))
		owner.Shoot(rapid.Bool().Draw(t, "backward"))

		prev := map[int]int{}
		for id, p := range owner.Shards {
			prev[id] = p.Power
		}
		for i := 0; i < 300 && len(owner.Shards) > 0; i++ {
			owner.AdvanceShards(60, nil, true)
			for id, p := range owner.Shards {
				if p.Power > prev[id] {
					t.Fatalf("tick %d: shard %d power rose %d -> %d", i, id, prev[id], p.Power)
				}
				if p.Power <= 0 {
					t.Fatalf("tick %d: exhausted shard %d still tracked", i, id)
				}
				prev[id] = p.Power
			}
		}
	})
}
