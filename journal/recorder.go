package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"picomesh/world"
)

// ErrClosed 记录器已关闭
var ErrClosed = errors.New("journal closed")

// TickEntry 每个 tick 写入的一行记录
type TickEntry struct {
	Session string      `json:"session"`
	Tick    uint64      `json:"tick"`
	Time    string      `json:"time"`
	Health  float64     `json:"health"`
	Pos     world.Vec3  `json:"pos"`
	Shards  int         `json:"shards"`
	Peers   int         `json:"peers"`
	Hits    []world.Hit `json:"hits,omitempty"`
}

// zstdWriter 按小时轮转的 zstd 压缩 JSONL 写入器
type zstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	closed  bool
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func (w *zstdWriter) write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

func (w *zstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *zstdWriter) closeLocked() error {
	var err error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err
}

func (w *zstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// Recorder 会话记录器。nil Recorder 的所有方法都是空操作。
type Recorder struct {
	session string
	w       *zstdWriter
}

// NewRecorder dir 为空时返回 nil（禁用记录）
func NewRecorder(dir, session string) *Recorder {
	if dir == "" {
		return nil
	}
	return &Recorder{
		session: session,
		w:       &zstdWriter{baseDir: dir, prefix: "session-" + session, now: time.Now},
	}
}

// Record 写入一个 tick
func (r *Recorder) Record(tick uint64, s world.Snapshot, peers int, hits []world.Hit) error {
	if r == nil {
		return nil
	}
	return r.w.write(TickEntry{
		Session: r.session,
		Tick:    tick,
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Health:  s.Health,
		Pos:     s.Pos,
		Shards:  len(s.Shards),
		Peers:   peers,
		Hits:    hits,
	})
}

// Close 刷新并关闭当前文件；之后的 Record 返回 ErrClosed
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	r.w.closed = true
	return r.w.closeLocked()
}
