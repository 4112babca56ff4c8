package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"picomesh/config"
	"picomesh/journal"
	"picomesh/space"
	"picomesh/world"
)

// ErrClosed 运行时已关闭
var ErrClosed = errors.New("peer runtime closed")

// Runtime 组合地址簿、世界、加入服务与状态交换，驱动 tick 循环。
// 世界只由 Tick 修改；Tick 之间用 tickMu 串行化。
type Runtime struct {
	cfg     config.Config
	session string
	self    netip.AddrPort

	udp net.PacketConn
	tcp net.Listener

	world    *world.World
	book     *AddressBook
	exchange *Exchange
	boot     *Bootstrap
	metrics  *Metrics
	hub      *Hub
	inputs   chan InputMessage
	recorder *journal.Recorder
	index    *journal.Index

	tickRate atomic.Uint64 // math.Float64bits

	tickMu    sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	recordWarn rate.Sometimes
}

// New 绑定 UDP 与同端口的 TCP，生成或加入地图。绑定与加入失败直接返回错误。
func New(ctx context.Context, cfg config.Config) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var advertise netip.AddrPort
	if cfg.Advertise != "" {
		ap, err := netip.ParseAddrPort(cfg.Advertise)
		if err != nil {
			return nil, fmt.Errorf("%w: advertise %q: %v", config.ErrInvalid, cfg.Advertise, err)
		}
		advertise = normalize(ap)
	}

	udp, err := net.ListenPacket("udp", cfg.BindAddr())
	if err != nil {
		return nil, fmt.Errorf("bind udp %s: %w", cfg.BindAddr(), err)
	}
	port := udp.LocalAddr().(*net.UDPAddr).Port
	tcp, err := net.Listen("tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(port)))
	if err != nil {
		_ = udp.Close()
		return nil, fmt.Errorf("bind tcp %s:%d: %w", cfg.Host, port, err)
	}
	fail := func(err error) (*Runtime, error) {
		_ = udp.Close()
		_ = tcp.Close()
		return nil, err
	}

	self := localAddr(udp, advertise)

	var (
		mapID space.MapID
		peers []netip.AddrPort
	)
	if cfg.Seeder != "" {
		mapID, peers, err = Join(ctx, cfg.Seeder, cfg.JoinTimeout, cfg.JoinRetries)
		if err != nil {
			return fail(err)
		}
	} else {
		mapID = space.NewMapID(rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
	}

	w, err := world.New(self, mapID, world.WithSelfHitGrace(cfg.SelfHitGrace))
	if err != nil {
		return fail(err)
	}

	session := uuid.NewString()
	r := &Runtime{
		cfg:        cfg,
		session:    session,
		self:       self,
		udp:        udp,
		tcp:        tcp,
		world:      w,
		book:       NewAddressBook(self),
		metrics:    &Metrics{},
		hub:        NewHub(),
		inputs:     make(chan InputMessage, 256),
		recorder:   journal.NewRecorder(cfg.JournalDir, session),
		done:       make(chan struct{}),
		recordWarn: rate.Sometimes{Interval: 10 * time.Second},
	}
	if cfg.IndexDB != "" {
		if r.index, err = journal.OpenIndex(cfg.IndexDB, session); err != nil {
			return fail(fmt.Errorf("open index %s: %w", cfg.IndexDB, err))
		}
	}
	r.exchange = NewExchange(udp, r.book, cfg.InboundQueue, r.metrics)
	r.exchange.SetImpairment(cfg.SimulateDropProb, cfg.SimulateDelayMinMs, cfg.SimulateDelayMaxMs)
	r.boot = NewBootstrap(tcp, mapID, r.book, uint16(port), advertise, r.metrics)
	r.SetTickRate(cfg.TickRate)

	for _, p := range peers {
		r.discovered(p)
	}
	Log.Infof("peer %s up: session=%s udp=%s tcp=%s peers=%d", self, session, udp.LocalAddr(), tcp.Addr(), r.book.Len())
	return r, nil
}

// localAddr 本地角色的地址键：advertise 优先，否则取绑定地址，未指定主机时用回环地址
func localAddr(conn net.PacketConn, advertise netip.AddrPort) netip.AddrPort {
	if advertise.IsValid() {
		return advertise
	}
	ap := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	ip := ap.Addr().Unmap()
	if ip.IsUnspecified() {
		if ip.Is6() {
			ip = netip.IPv6Loopback()
		} else {
			ip = netip.AddrFrom4([4]byte{127, 0, 0, 1})
		}
	}
	return netip.AddrPortFrom(ip, ap.Port())
}

// discovered 地址簿新增地址时记录
func (r *Runtime) discovered(addr netip.AddrPort) {
	if !r.book.Add(addr) {
		return
	}
	r.metrics.IncPeersDiscovered()
	r.index.RecordPeer(addr.String())
	Log.Infof("discovered peer %s (%d known)", addr, r.book.Len())
}

// OnInput 观察端输入，不阻塞；满则丢弃
func (r *Runtime) OnInput(im InputMessage) {
	select {
	case r.inputs <- im:
	default:
	}
}

func (r *Runtime) processInputs() {
	for {
		select {
		case im := <-r.inputs:
			applyInput(r.world, im)
		default:
			return
		}
	}
}

// Tick 推进一帧：取走入站快照，登记新地址，模拟，广播本地快照
func (r *Runtime) Tick(dt float64) world.TickResult {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()
	start := time.Now()

	r.processInputs()
	inbound := r.exchange.Drain()
	for _, env := range inbound {
		r.discovered(env.From)
	}
	res := r.world.Tick(dt, inbound)
	if !r.closed.Load() {
		r.exchange.Broadcast(res.Snapshot)
	}

	for _, h := range res.Hits {
		r.metrics.IncHits()
		Log.Infof("hit: %s -> %s damage=%.3f lethal=%v", h.Shooter, h.Victim, h.Damage, h.Lethal)
	}
	// 关闭之后仍可由外部驱动 Tick，但不再写记录
	if !r.closed.Load() {
		for _, h := range res.Hits {
			r.index.RecordHit(res.Tick, h)
		}
		if r.hub.Len() > 0 {
			if b, err := json.Marshal(r.frame(res)); err == nil {
				r.hub.Publish(b)
			}
		}
		if err := r.recorder.Record(res.Tick, res.Snapshot, r.book.Len(), res.Hits); err != nil {
			r.recordWarn.Do(func() { Log.Warnf("journal: %v", err) })
		}
	}
	r.metrics.AddTick(time.Since(start).Nanoseconds())
	return res
}

// Run 运行加入服务、接收循环、tick 循环与管理接口，直到 ctx 结束或 Close
func (r *Runtime) Run(ctx context.Context) error {
	if r.closed.Load() {
		return ErrClosed
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.boot.Serve(ctx) })
	g.Go(func() error { return r.exchange.Receive(ctx) })
	g.Go(func() error { return r.tickLoop(ctx) })

	var srv *http.Server
	if r.cfg.AdminAddr != "" {
		srv = &http.Server{Addr: r.cfg.AdminAddr, Handler: r.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			Log.Infof("admin listening on %s", r.cfg.AdminAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-r.done:
		}
		if srv != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = srv.Shutdown(sctx)
			cancel()
		}
		return r.Close()
	})
	return g.Wait()
}

// Close 停止接收、关闭套接字并刷新记录，可重复调用
func (r *Runtime) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.done)
		err = errors.Join(r.tcp.Close(), r.exchange.Close())
		r.hub.CloseAll()

		r.tickMu.Lock()
		defer r.tickMu.Unlock()
		err = errors.Join(err, r.recorder.Close(), r.index.Close())
		Log.Infof("peer %s closed", r.self)
	})
	return err
}

// SetTickRate 热更新无头 tick 频率，0 表示由外部调用 Tick
func (r *Runtime) SetTickRate(hz float64) {
	if hz < 0 || math.IsNaN(hz) || math.IsInf(hz, 0) {
		return
	}
	r.tickRate.Store(math.Float64bits(hz))
}

func (r *Runtime) TickRate() float64 { return math.Float64frombits(r.tickRate.Load()) }

func (r *Runtime) Self() netip.AddrPort    { return r.self }
func (r *Runtime) Session() string         { return r.session }
func (r *Runtime) World() *world.World     { return r.world }
func (r *Runtime) Book() *AddressBook      { return r.book }
func (r *Runtime) Metrics() *Metrics       { return r.metrics }
func (r *Runtime) Exchange() *Exchange     { return r.exchange }
func (r *Runtime) BootstrapAddr() net.Addr { return r.tcp.Addr() }
func (r *Runtime) ExchangeAddr() net.Addr  { return r.udp.LocalAddr() }
