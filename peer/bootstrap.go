package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"time"

	"picomesh/space"
)

// ErrJoinFailed 无法从种子 peer 取得地图与 peer 列表
var ErrJoinFailed = errors.New("join failed")

const (
	replyTimeout = 5 * time.Second
	joinBackoff  = 500 * time.Millisecond
)

// Bootstrap 加入服务：每个连接回应一次 (MapID, peer 列表 + 自己)，随后关闭连接。
// 从不主动推送，随进程一直运行。
type Bootstrap struct {
	ln        net.Listener
	mapID     space.MapID
	book      *AddressBook
	udpPort   uint16
	advertise netip.AddrPort
	metrics   *Metrics
}

// NewBootstrap advertise 为零值时，用被连接的本地 IP + UDP 端口宣告自己
func NewBootstrap(ln net.Listener, mapID space.MapID, book *AddressBook, udpPort uint16, advertise netip.AddrPort, metrics *Metrics) *Bootstrap {
	return &Bootstrap{
		ln:        ln,
		mapID:     mapID,
		book:      book,
		udpPort:   udpPort,
		advertise: advertise,
		metrics:   metrics,
	}
}

// Serve accept 循环；监听关闭后返回 nil
func (b *Bootstrap) Serve(ctx context.Context) error {
	Log.Infof("bootstrap listening at %s", b.ln.Addr())
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			Log.Warnf("bootstrap accept: %v", err)
			continue
		}
		b.reply(conn)
	}
}

func (b *Bootstrap) reply(conn net.Conn) {
	defer conn.Close()
	self := b.selfAddr(conn)
	peers := append(b.book.Snapshot(), self)
	payload, err := EncodeJoinReply(b.mapID, peers)
	if err != nil {
		Log.Errorf("bootstrap encode: %v", err)
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(replyTimeout))
	if _, err := conn.Write(payload); err != nil {
		Log.Warnf("bootstrap reply to %s: %v", conn.RemoteAddr(), err)
		return
	}
	b.metrics.IncBootstrapReplies()
	Log.Infof("bootstrap: sent map and %d peers to %s", len(peers), conn.RemoteAddr())
}

func (b *Bootstrap) selfAddr(conn net.Conn) netip.AddrPort {
	if b.advertise.IsValid() {
		return b.advertise
	}
	if tcp, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		return netip.AddrPortFrom(tcp.AddrPort().Addr().Unmap(), b.udpPort)
	}
	ap, _ := netip.ParseAddrPort(conn.LocalAddr().String())
	return netip.AddrPortFrom(ap.Addr().Unmap(), b.udpPort)
}

// Join 向种子 peer 请求地图与 peer 列表。每次尝试有独立的超时，
// 最多尝试 attempts 次，间隔线性递增；全部失败返回 ErrJoinFailed。
func Join(ctx context.Context, seed string, timeout time.Duration, attempts int) (space.MapID, []netip.AddrPort, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		id, peers, err := joinOnce(ctx, seed, timeout)
		if err == nil {
			Log.Infof("joined via %s: %d peers", seed, len(peers))
			return id, peers, nil
		}
		lastErr = err
		Log.Warnf("join %s: attempt %d/%d: %v", seed, i, attempts, err)
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, nil, fmt.Errorf("%w: %s: %w", ErrJoinFailed, seed, ctx.Err())
		case <-time.After(time.Duration(i) * joinBackoff):
		}
	}
	return nil, nil, fmt.Errorf("%w: %s: %w", ErrJoinFailed, seed, lastErr)
}

func joinOnce(ctx context.Context, seed string, timeout time.Duration) (space.MapID, []netip.AddrPort, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", seed)
	if err != nil {
		return nil, nil, err
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	// 应答方写完即关闭，读到 EOF 为止
	raw, err := io.ReadAll(io.LimitReader(conn, MaxJoinReply+1))
	if err != nil {
		return nil, nil, err
	}
	if len(raw) > MaxJoinReply {
		return nil, nil, fmt.Errorf("%w: join reply exceeds %d bytes", ErrMalformed, MaxJoinReply)
	}
	return DecodeJoinReply(raw)
}
