package peer

import (
	"errors"
	"math"
	"math/rand/v2"
	"net/netip"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"picomesh/space"
	"picomesh/world"
)

func TestJoinReply_Roundtrip(t *testing.T) {
	id := space.NewMapID(rand.New(rand.NewPCG(1, 2)))
	peers := []netip.AddrPort{peerA, peerB}
	raw, err := EncodeJoinReply(id, peers)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	gotID, gotPeers, err := DecodeJoinReply(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range id {
		if gotID[i] != id[i] {
			t.Fatalf("map id mismatch at %d", i)
		}
	}
	if len(gotPeers) != 2 || gotPeers[0] != peerA || gotPeers[1] != peerB {
		t.Fatalf("peers=%v", gotPeers)
	}
}

func TestJoinReply_RejectsBadPayloads(t *testing.T) {
	short, _ := msgpack.Marshal(&joinReply{MapID: []int{1, 2, 3}})
	badPeer, _ := msgpack.Marshal(&joinReply{MapID: make([]int, space.BlockCount), Peers: []string{"nope"}})
	cases := map[string][]byte{
		"junk":     {0xc1, 0x00},
		"empty":    nil,
		"short id": short,
		"bad peer": badPeer,
	}
	for name, raw := range cases {
		if _, _, err := DecodeJoinReply(raw); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: err=%v", name, err)
		}
	}
}

func TestState_RoundtripAndValidation(t *testing.T) {
	s := world.Snapshot{
		Health: 0.5,
		Pos:    world.Vec3{1, 2, 3},
		Rot:    world.BaseOrientation(),
		Shards: map[int]world.ShardState{
			1: {Pos: world.Vec3{4, 5, 6}, Rot: world.Identity3(), Power: 3},
		},
	}
	raw, err := EncodeState(s)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeState(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Health != 0.5 || got.Pos != s.Pos || got.Rot != s.Rot || got.Shards[1].Power != 3 {
		t.Fatalf("got %+v", got)
	}

	nan := s
	nan.Pos = world.Vec3{math.NaN(), 0, 0}
	raw, _ = EncodeState(nan)
	if _, err := DecodeState(raw); !errors.Is(err, ErrMalformed) {
		t.Fatalf("NaN accepted: %v", err)
	}
	if _, err := DecodeState([]byte("hello")); !errors.Is(err, ErrMalformed) {
		t.Fatalf("junk accepted: %v", err)
	}
}
