package peer

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"picomesh/world"
)

//go:generate go tool mockgen -destination=./mocks/packetconn_mock.go -package=mocks net PacketConn

// Exchange 尽力而为的状态交换：每 tick 向所有已知 peer 发送一个数据报，
// 另一个循环持续接收并放入有界队列，由 tick 循环非阻塞地取走。
type Exchange struct {
	conn    net.PacketConn
	book    *AddressBook
	inbound chan world.Envelope
	metrics *Metrics

	dropProb atomic.Uint64 // math.Float64bits
	delayMin atomic.Int64  // ms
	delayMax atomic.Int64  // ms

	closed atomic.Bool

	// 每类告警至多每秒一条，计数器记录全部
	sendWarn      rate.Sometimes
	recvWarn      rate.Sometimes
	malformedWarn rate.Sometimes
	queueWarn     rate.Sometimes
}

// NewExchange 不会调用 conn 上的任何方法
func NewExchange(conn net.PacketConn, book *AddressBook, queueSize int, metrics *Metrics) *Exchange {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Exchange{
		conn:          conn,
		book:          book,
		inbound:       make(chan world.Envelope, queueSize),
		metrics:       metrics,
		sendWarn:      rate.Sometimes{Interval: time.Second},
		recvWarn:      rate.Sometimes{Interval: time.Second},
		malformedWarn: rate.Sometimes{Interval: time.Second},
		queueWarn:     rate.Sometimes{Interval: time.Second},
	}
}

// SetImpairment 设置发送端的模拟丢包与延迟（延迟会造成乱序）
func (e *Exchange) SetImpairment(dropProb float64, delayMinMs, delayMaxMs int) {
	e.dropProb.Store(math.Float64bits(dropProb))
	e.delayMin.Store(int64(delayMinMs))
	e.delayMax.Store(int64(delayMaxMs))
}

// Impairment 当前的模拟参数
func (e *Exchange) Impairment() (dropProb float64, delayMinMs, delayMaxMs int) {
	return math.Float64frombits(e.dropProb.Load()), int(e.delayMin.Load()), int(e.delayMax.Load())
}

// Broadcast 编码一次，发给地址簿中的每个 peer。发送失败只计数，不重试。
func (e *Exchange) Broadcast(s world.Snapshot) int {
	payload, err := EncodeState(s)
	if err != nil {
		Log.Errorf("encode snapshot: %v", err)
		return 0
	}
	if len(payload) > MaxDatagram {
		e.metrics.IncOversized()
		e.sendWarn.Do(func() { Log.Warnf("snapshot of %d bytes exceeds datagram limit, not sent", len(payload)) })
		return 0
	}
	drop, dmin, dmax := e.Impairment()
	sent := 0
	for _, peer := range e.book.Snapshot() {
		if drop > 0 && rand.Float64() < drop {
			e.metrics.IncDropsSimulated()
			continue
		}
		if dmax > 0 {
			d := time.Duration(dmin+rand.IntN(dmax-dmin+1)) * time.Millisecond
			to := peer
			time.AfterFunc(d, func() { e.send(payload, to) })
			continue
		}
		if e.send(payload, peer) {
			sent++
		}
	}
	return sent
}

func (e *Exchange) send(payload []byte, to netip.AddrPort) bool {
	if e.closed.Load() {
		return false
	}
	if _, err := e.conn.WriteTo(payload, net.UDPAddrFromAddrPort(to)); err != nil {
		e.metrics.IncSendErrors()
		e.sendWarn.Do(func() { Log.Warnf("send to %s: %v", to, err) })
		return false
	}
	e.metrics.IncSent()
	return true
}

// Receive 接收循环，连接关闭后返回 nil。坏数据报丢弃，不影响地址簿与世界状态；
// 队列满时丢弃并计数，从不阻塞。
func (e *Exchange) Receive(ctx context.Context) error {
	buf := make([]byte, 1<<16)
	for {
		n, addr, err := e.conn.ReadFrom(buf)
		if err != nil {
			if e.closed.Load() || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			e.metrics.IncReceiveErrors()
			e.recvWarn.Do(func() { Log.Warnf("receive: %v", err) })
			continue
		}
		e.metrics.IncReceived()
		from, ok := addrPortOf(addr)
		if !ok {
			e.metrics.IncMalformed()
			continue
		}
		state, err := DecodeState(buf[:n])
		if err != nil {
			e.metrics.IncMalformed()
			e.malformedWarn.Do(func() { Log.Debugf("drop datagram from %s: %v", from, err) })
			continue
		}
		if e.closed.Load() {
			return nil
		}
		select {
		case e.inbound <- world.Envelope{From: from, State: state}:
		default:
			e.metrics.IncQueueFullDiscarded()
			e.queueWarn.Do(func() { Log.Warnf("inbound queue full, dropping snapshot from %s", from) })
		}
	}
}

// Drain 非阻塞地取走当前队列中的全部快照（至多一个队列容量）
func (e *Exchange) Drain() []world.Envelope {
	var out []world.Envelope
	for i, n := 0, cap(e.inbound); i < n; i++ {
		select {
		case env := <-e.inbound:
			out = append(out, env)
		default:
			return out
		}
	}
	return out
}

// Close 停止入队、关闭连接并丢弃队列中剩余的快照
func (e *Exchange) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := e.conn.Close()
	e.Drain()
	return err
}

func addrPortOf(a net.Addr) (netip.AddrPort, bool) {
	switch v := a.(type) {
	case *net.UDPAddr:
		return normalize(v.AddrPort()), true
	default:
		if a == nil {
			return netip.AddrPort{}, false
		}
		ap, err := netip.ParseAddrPort(a.String())
		if err != nil {
			return netip.AddrPort{}, false
		}
		return normalize(ap), true
	}
}
