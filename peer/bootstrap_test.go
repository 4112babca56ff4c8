package peer

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"net/netip"
	"testing"
	"time"

	"picomesh/space"
)

func TestBootstrap_ReplyCarriesMapAndPeersPlusSelf(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	id := space.NewMapID(rand.New(rand.NewPCG(3, 4)))
	book := NewAddressBook(selfAddr)
	book.Add(peerA)
	m := &Metrics{}
	b := NewBootstrap(ln, id, book, 7777, netip.AddrPort{}, m)

	done := make(chan error, 1)
	go func() { done <- b.Serve(context.Background()) }()

	gotID, peers, err := Join(context.Background(), ln.Addr().String(), time.Second, 1)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if len(gotID) != space.BlockCount || gotID[0] != id[0] || gotID[47] != id[47] {
		t.Fatalf("map id mismatch")
	}
	want := netip.MustParseAddrPort("127.0.0.1:7777")
	if len(peers) != 2 || peers[0] != peerA || peers[1] != want {
		t.Fatalf("peers=%v", peers)
	}

	_ = ln.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not stop")
	}
	if m.Load(&m.BootstrapReplies) != 1 {
		t.Fatalf("replies=%d", m.Load(&m.BootstrapReplies))
	}
}

func TestBootstrap_AdvertiseOverridesDerivedAddress(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	adv := netip.MustParseAddrPort("10.1.2.3:9000")
	b := NewBootstrap(ln, space.Identity(), NewAddressBook(selfAddr), 7777, adv, &Metrics{})
	go b.Serve(context.Background())

	_, peers, err := Join(context.Background(), ln.Addr().String(), time.Second, 1)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if len(peers) != 1 || peers[0] != adv {
		t.Fatalf("peers=%v", peers)
	}
}

func TestBootstrap_LargePeerListIsNotTruncated(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	book := NewAddressBook(selfAddr)
	for i := 0; i < 6000; i++ {
		book.Add(netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, byte(i >> 8), byte(i)}), 20000))
	}
	b := NewBootstrap(ln, space.Identity(), book, 7777, netip.AddrPort{}, &Metrics{})
	go b.Serve(context.Background())

	raw, _ := EncodeJoinReply(space.Identity(), book.Snapshot())
	if len(raw) <= MaxDatagram {
		t.Fatalf("reply of %d bytes does not exercise the stream limit", len(raw))
	}
	_, peers, err := Join(context.Background(), ln.Addr().String(), 2*time.Second, 1)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if len(peers) != 6001 {
		t.Fatalf("peers=%d want 6001", len(peers))
	}
}

func TestJoin_UnreachableSeedFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	_, _, err = Join(context.Background(), addr, 200*time.Millisecond, 2)
	if !errors.Is(err, ErrJoinFailed) {
		t.Fatalf("err=%v want ErrJoinFailed", err)
	}
}

func TestJoin_SilentSeedTimesOut(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	// 接受连接但从不应答
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			defer c.Close()
		}
	}()
	start := time.Now()
	_, _, err = Join(context.Background(), ln.Addr().String(), 150*time.Millisecond, 1)
	if !errors.Is(err, ErrJoinFailed) {
		t.Fatalf("err=%v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("join did not honour timeout")
	}
}
