package space

import (
	"errors"
	"math/rand/v2"
	"testing"

	"pgregory.net/rapid"
)

// 精确可表示的坐标（1/64 的整数倍），避免平移一个周期时出现舍入
func gridCoord(t *rapid.T, label string, lo, hi int) float64 {
	return float64(rapid.IntRange(lo*64, hi*64).Draw(t, label)) / 64
}

func TestWrap_RangeAndIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := rapid.SampledFrom([]float64{Width, Depth, Height}).Draw(t, "period")
		v := rapid.Float64Range(-1e6, 1e6).Draw(t, "v")
		w := Wrap(v, p)
		if w < 0 || w >= p {
			t.Fatalf("Wrap(%v, %v) = %v, out of [0, %v)", v, p, w, p)
		}
		if Wrap(w, p) != w {
			t.Fatalf("Wrap not idempotent: %v -> %v", w, Wrap(w, p))
		}
	})
}

func TestWrap_TinyNegative(t *testing.T) {
	if got := Wrap(-1e-18, Width); got != 0 {
		t.Fatalf("Wrap(-1e-18) = %v, want 0", got)
	}
	if got := Wrap(-0.5, Height); got != 8.5 {
		t.Fatalf("Wrap(-0.5, 9) = %v, want 8.5", got)
	}
}

func TestPlaceable_PeriodSymmetric(t *testing.T) {
	s := MustExpand(NewMapID(rand.New(rand.NewPCG(1, 2))))
	rapid.Check(t, func(t *rapid.T) {
		x := gridCoord(t, "x", -24, 24)
		y := gridCoord(t, "y", -24, 24)
		z := gridCoord(t, "z", -18, 18)
		r := rapid.SampledFrom([]float64{0, 0.125, 0.25, 0.5}).Draw(t, "r")
		base := s.Placeable(x, y, z, r)
		if s.Placeable(x+Width, y, z, r) != base ||
			s.Placeable(x, y-Depth, z, r) != base ||
			s.Placeable(x, y, z+Height, r) != base {
			t.Fatalf("placeable differs under period translation at (%v,%v,%v,r=%v)", x, y, z, r)
		}
	})
}

func TestPlaceable_SamplesNeighbourCells(t *testing.T) {
	s := FromCells([3]int{5, 5, 5})
	if s.Placeable(5.5, 5.5, 5.5, 0.1) {
		t.Fatalf("center of occupied cell should not be placeable")
	}
	if !s.Placeable(4.5, 5.5, 5.5, 0.1) {
		t.Fatalf("neighbour cell with small radius should be placeable")
	}
	if s.Placeable(4.95, 5.5, 5.5, 0.1) {
		t.Fatalf("sphere reaching into occupied cell should not be placeable")
	}
	// 回绕：11.95 + 0.1 落到 x=0 的格子
	w := FromCells([3]int{0, 0, 0})
	if w.Placeable(11.95, 0.5, 0.5, 0.1) {
		t.Fatalf("placeable should wrap across the x period")
	}
}

func TestExpand_Deterministic(t *testing.T) {
	id := NewMapID(rand.New(rand.NewPCG(7, 7)))
	a := MustExpand(id)
	b := MustExpand(append(MapID(nil), id...))
	if !a.Equal(b) {
		t.Fatalf("same map id expanded to different spaces")
	}
	if a.FreeCells() < BlockCount {
		t.Fatalf("expected at least one free cell per block, got %d", a.FreeCells())
	}
	other := MustExpand(Identity())
	if a.Equal(other) && !equalIDs(id, Identity()) {
		t.Fatalf("different map ids produced identical spaces")
	}
}

func equalIDs(a, b MapID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMapID_Validate(t *testing.T) {
	cases := []struct {
		name string
		id   MapID
		ok   bool
	}{
		{"identity", Identity(), true},
		{"short", Identity()[:47], false},
		{"negative", append(Identity()[:47], -1), false},
		{"too large", append(Identity()[:47], BlockCount), false},
	}
	for _, tc := range cases {
		err := tc.id.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidMapID) {
			t.Fatalf("%s: want ErrInvalidMapID, got %v", tc.name, err)
		}
	}
}

func TestNewMapID_IsPermutation(t *testing.T) {
	id := NewMapID(rand.New(rand.NewPCG(3, 4)))
	seen := make(map[int]bool)
	for _, b := range id {
		if seen[b] {
			t.Fatalf("duplicate block %d in permutation", b)
		}
		seen[b] = true
	}
	if len(seen) != BlockCount {
		t.Fatalf("permutation has %d blocks", len(seen))
	}
	r := NewMapIDWithReplacement(rand.New(rand.NewPCG(3, 4)))
	if err := r.Validate(); err != nil {
		t.Fatalf("replacement map id invalid: %v", err)
	}
}

func TestDisplacement_MinimalImage(t *testing.T) {
	d := Displacement([3]float64{11.5, 0.5, 8.5}, [3]float64{0.5, 11.5, 0.5})
	want := [3]float64{1, -1, 1}
	for i := range d {
		if d[i] < want[i]-1e-9 || d[i] > want[i]+1e-9 {
			t.Fatalf("displacement = %v, want %v", d, want)
		}
	}
	imgs := Images([3]float64{1, 2, 3})
	if imgs[13] != [3]float64{1, 2, 3} {
		t.Fatalf("middle image should be the point itself, got %v", imgs[13])
	}
}
