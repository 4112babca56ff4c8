package peer

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"picomesh/space"
	"picomesh/world"
)

// HelloFrame 连接建立后发送的第一帧
type HelloFrame struct {
	Type    string      `json:"type"` // "hello"
	Session string      `json:"session"`
	Self    string      `json:"self"`
	MapID   space.MapID `json:"map_id"`
	Width   int         `json:"width"`
	Depth   int         `json:"depth"`
	Height  int         `json:"height"`
}

// WorldFrame 每 tick 推送一帧
type WorldFrame struct {
	Type       string                `json:"type"` // "frame"
	Tick       uint64                `json:"tick"`
	Self       string                `json:"self"`
	Characters []world.CharacterView `json:"characters"`
	Hits       []world.Hit           `json:"hits"`
}

// ClientConn 负责发送（写）数据到观察端的轻量包装
type ClientConn struct {
	ws        *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

func NewClientConn(ws *websocket.Conn) *ClientConn {
	return &ClientConn{
		ws:   ws,
		send: make(chan []byte, 64),
	}
}

// Enqueue 非阻塞入队，满则丢弃这一帧
func (c *ClientConn) Enqueue(b []byte) {
	select {
	case c.send <- b:
	default:
	}
}

// Close 关闭发送队列与底层连接，可重复调用
func (c *ClientConn) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
		_ = c.ws.Close()
	})
}

func (c *ClientConn) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// readPump 读取输入并交给 sink；退出时把自己从 hub 移除
func (c *ClientConn) readPump(h *Hub, sink func(InputMessage)) {
	defer h.remove(c)
	c.ws.SetReadLimit(1 << 16)
	_ = c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	})
	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		var im InputMessage
		if err := json.Unmarshal(payload, &im); err != nil {
			continue
		}
		sink(im)
	}
}

// Hub 观察端连接集合
type Hub struct {
	mu      sync.Mutex
	clients map[*ClientConn]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*ClientConn]struct{})}
}

// Len 当前连接数
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add(c *ClientConn) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *ClientConn) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.Close()
	}
}

// Publish 向所有连接投递同一帧
func (h *Hub) Publish(b []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.Enqueue(b)
	}
}

// CloseAll 断开所有连接
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*ClientConn]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.Close()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// 观察端只在本机或内网使用
		return true
	},
}

// HandleWS 观察端接入：先发 hello，之后每 tick 一帧；收到的输入在下一 tick 生效
func (r *Runtime) HandleWS(w http.ResponseWriter, req *http.Request) {
	ws, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		Log.Warnf("upgrade error: %v", err)
		return
	}
	client := NewClientConn(ws)
	hello, _ := json.Marshal(r.hello())
	client.Enqueue(hello)
	r.hub.add(client)
	Log.Infof("observer connected from %s", req.RemoteAddr)

	go client.writePump()
	go client.readPump(r.hub, r.OnInput)
}

func (r *Runtime) hello() HelloFrame {
	return HelloFrame{
		Type:    "hello",
		Session: r.session,
		Self:    r.self.String(),
		MapID:   r.world.MapID(),
		Width:   space.Width,
		Depth:   space.Depth,
		Height:  space.Height,
	}
}

func (r *Runtime) frame(res world.TickResult) WorldFrame {
	hits := res.Hits
	if hits == nil {
		hits = []world.Hit{}
	}
	return WorldFrame{
		Type:       "frame",
		Tick:       res.Tick,
		Self:       r.self.String(),
		Characters: r.world.AllCharacters(),
		Hits:       hits,
	}
}
