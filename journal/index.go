package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"picomesh/world"
)

// Index SQLite 统计索引。写入经由缓冲通道交给单独的写协程，
// 落后时直接丢弃，模拟从不等待磁盘。nil Index 的写方法都是空操作。
type Index struct {
	db      *sql.DB
	session string

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Int64
}

type reqKind int

const (
	reqPeer reqKind = iota + 1
	reqHit
)

type req struct {
	kind reqKind
	at   string
	tick uint64
	addr string
	hit  world.Hit
}

// Score 排行榜的一行
type Score struct {
	Shooter string  `json:"shooter"`
	Hits    int     `json:"hits"`
	Kills   int     `json:"kills"`
	Damage  float64 `json:"damage"`
}

// OpenIndex 打开（或创建）索引库
func OpenIndex(path, session string) (*Index, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	ix := &Index{
		db:      db,
		session: session,
		ch:      make(chan req, 8192),
	}
	ix.wg.Add(1)
	go func() {
		defer ix.wg.Done()
		ix.loop()
	}()
	return ix, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS peers (
			session TEXT NOT NULL,
			addr TEXT NOT NULL,
			first_seen TEXT NOT NULL,
			PRIMARY KEY (session, addr)
		);`,
		`CREATE TABLE IF NOT EXISTS hits (
			session TEXT NOT NULL,
			tick INTEGER NOT NULL,
			shooter TEXT NOT NULL,
			victim TEXT NOT NULL,
			damage REAL NOT NULL,
			lethal INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_hits_session_shooter ON hits(session, shooter);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close 写完缓冲中的请求后关闭数据库
func (ix *Index) Close() error {
	if ix == nil {
		return nil
	}
	var err error
	ix.once.Do(func() {
		ix.closed.Store(true)
		close(ix.ch)
		ix.wg.Wait()
		err = ix.db.Close()
	})
	return err
}

// Dropped 因写协程落后而丢弃的请求数
func (ix *Index) Dropped() int64 {
	if ix == nil {
		return 0
	}
	return ix.dropped.Load()
}

// RecordPeer 记录首次发现的 peer
func (ix *Index) RecordPeer(addr string) {
	ix.enqueue(req{kind: reqPeer, addr: addr, at: time.Now().UTC().Format(time.RFC3339Nano)})
}

// RecordHit 记录一次命中
func (ix *Index) RecordHit(tick uint64, h world.Hit) {
	ix.enqueue(req{kind: reqHit, tick: tick, hit: h})
}

func (ix *Index) enqueue(r req) {
	if ix == nil || ix.closed.Load() {
		return
	}
	select {
	case ix.ch <- r:
	default:
		ix.dropped.Add(1)
	}
}

// Leaderboard 本会话按命中次数排序的射手统计
func (ix *Index) Leaderboard(ctx context.Context) ([]Score, error) {
	if ix == nil {
		return nil, nil
	}
	rows, err := ix.db.QueryContext(ctx,
		`SELECT shooter, COUNT(*), SUM(lethal), SUM(damage) FROM hits
		 WHERE session = ? GROUP BY shooter ORDER BY COUNT(*) DESC, shooter ASC`, ix.session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Score
	for rows.Next() {
		var s Score
		if err := rows.Scan(&s.Shooter, &s.Hits, &s.Kills, &s.Damage); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// PeerCount 本会话发现过的 peer 数量
func (ix *Index) PeerCount(ctx context.Context) (int, error) {
	if ix == nil {
		return 0, nil
	}
	var n int
	err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM peers WHERE session = ?`, ix.session).Scan(&n)
	return n, err
}

func (ix *Index) loop() {
	ctx := context.Background()

	insertPeer, _ := ix.db.Prepare(`INSERT OR IGNORE INTO peers(session,addr,first_seen) VALUES(?,?,?)`)
	insertHit, _ := ix.db.Prepare(`INSERT INTO hits(session,tick,shooter,victim,damage,lethal) VALUES(?,?,?,?,?,?)`)
	defer func() {
		if insertPeer != nil {
			_ = insertPeer.Close()
		}
		if insertHit != nil {
			_ = insertHit.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 256
		commitMaxWait = time.Second
	)
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := ix.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for {
		var (
			r  req
			ok bool
		)
		if tx == nil {
			r, ok = <-ix.ch
		} else {
			// 有未提交事务时空闲即提交
			select {
			case r, ok = <-ix.ch:
			default:
				commit()
				continue
			}
		}
		if !ok {
			commit()
			return
		}
		begin()
		if tx == nil {
			continue
		}
		var err error
		switch r.kind {
		case reqPeer:
			if insertPeer != nil {
				_, err = tx.Stmt(insertPeer).Exec(ix.session, r.addr, r.at)
			}
		case reqHit:
			if insertHit != nil {
				lethal := 0
				if r.hit.Lethal {
					lethal = 1
				}
				_, err = tx.Stmt(insertHit).Exec(ix.session, int64(r.tick),
					r.hit.Shooter.String(), r.hit.Victim.String(), r.hit.Damage, lethal)
			}
		}
		if err != nil {
			_ = tx.Rollback()
			tx = nil
			continue
		}
		opCount++
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}
}
