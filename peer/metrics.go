package peer

import (
	"sync/atomic"
)

// Metrics 记录 peer 运行期的关键计数（用于监控与调试）
type Metrics struct {
	TickCount          int64 // Tick 次数
	TotalTickNs        int64 // Tick 累计耗时（纳秒）
	DatagramsSent      int64 // 成功发出的快照数据报
	SendErrors         int64 // 发送失败（丢弃，由下一 tick 自愈）
	DatagramsReceived  int64 // 收到的数据报
	ReceiveErrors      int64 // 读取失败
	Malformed          int64 // 无法解码而丢弃的数据报
	Oversized          int64 // 超过安全大小未发送的快照
	QueueFullDiscarded int64 // 入站队列已满被丢弃
	DropsSimulated     int64 // 模拟丢包
	PeersDiscovered    int64 // 新发现的 peer
	BootstrapReplies   int64 // 回应的加入请求
	Hits               int64 // 本地模拟出的命中
}

func (m *Metrics) IncSent()               { atomic.AddInt64(&m.DatagramsSent, 1) }
func (m *Metrics) IncSendErrors()         { atomic.AddInt64(&m.SendErrors, 1) }
func (m *Metrics) IncReceived()           { atomic.AddInt64(&m.DatagramsReceived, 1) }
func (m *Metrics) IncReceiveErrors()      { atomic.AddInt64(&m.ReceiveErrors, 1) }
func (m *Metrics) IncMalformed()          { atomic.AddInt64(&m.Malformed, 1) }
func (m *Metrics) IncOversized()          { atomic.AddInt64(&m.Oversized, 1) }
func (m *Metrics) IncQueueFullDiscarded() { atomic.AddInt64(&m.QueueFullDiscarded, 1) }
func (m *Metrics) IncDropsSimulated()     { atomic.AddInt64(&m.DropsSimulated, 1) }
func (m *Metrics) IncPeersDiscovered()    { atomic.AddInt64(&m.PeersDiscovered, 1) }
func (m *Metrics) IncBootstrapReplies()   { atomic.AddInt64(&m.BootstrapReplies, 1) }
func (m *Metrics) IncHits()               { atomic.AddInt64(&m.Hits, 1) }
func (m *Metrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
}

// Load 原子读取单个计数
func (m *Metrics) Load(field *int64) int64 { return atomic.LoadInt64(field) }

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":           tick,
		"avg_tick_ms":          avgMs,
		"datagrams_sent":       atomic.LoadInt64(&m.DatagramsSent),
		"send_errors":          atomic.LoadInt64(&m.SendErrors),
		"datagrams_received":   atomic.LoadInt64(&m.DatagramsReceived),
		"receive_errors":       atomic.LoadInt64(&m.ReceiveErrors),
		"malformed":            atomic.LoadInt64(&m.Malformed),
		"oversized":            atomic.LoadInt64(&m.Oversized),
		"queue_full_discarded": atomic.LoadInt64(&m.QueueFullDiscarded),
		"drops_simulated":      atomic.LoadInt64(&m.DropsSimulated),
		"peers_discovered":     atomic.LoadInt64(&m.PeersDiscovered),
		"bootstrap_replies":    atomic.LoadInt64(&m.BootstrapReplies),
		"hits":                 atomic.LoadInt64(&m.Hits),
	}
}
