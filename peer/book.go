package peer

import (
	"net/netip"
	"sync"
)

// AddressBook 已知 peer 地址的有序集合，只增不减。
// 读取方拿到的是副本，不会在锁内遍历活动集合。
type AddressBook struct {
	mu    sync.RWMutex
	self  netip.AddrPort
	order []netip.AddrPort
	known map[netip.AddrPort]struct{}
}

// NewAddressBook self 为本地地址，永远不会被加入
func NewAddressBook(self netip.AddrPort) *AddressBook {
	return &AddressBook{
		self:  normalize(self),
		known: make(map[netip.AddrPort]struct{}),
	}
}

// Add 加入地址；新地址返回 true
func (b *AddressBook) Add(addr netip.AddrPort) bool {
	addr = normalize(addr)
	if !addr.IsValid() || addr == b.self {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.known[addr]; ok {
		return false
	}
	b.known[addr] = struct{}{}
	b.order = append(b.order, addr)
	return true
}

// Contains 是否已知
func (b *AddressBook) Contains(addr netip.AddrPort) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.known[normalize(addr)]
	return ok
}

// Snapshot 按加入顺序返回副本
func (b *AddressBook) Snapshot() []netip.AddrPort {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]netip.AddrPort(nil), b.order...)
}

func (b *AddressBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.order)
}

// normalize IPv4-mapped 地址统一成 IPv4，保证 map key 一致
func normalize(a netip.AddrPort) netip.AddrPort {
	if !a.IsValid() {
		return a
	}
	return netip.AddrPortFrom(a.Addr().Unmap(), a.Port())
}
