package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid 配置值不合法
var ErrInvalid = errors.New("invalid config")

// Config peer 的全部配置。解析顺序：Defaults → YAML 文件 → 命令行参数
type Config struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Seeder    string `yaml:"seeder"`    // host:port，空表示自己生成地图
	Advertise string `yaml:"advertise"` // 对外宣告的地址，空则按连接推断

	TickRate     float64 `yaml:"tick_rate"` // 无渲染层驱动时的 tick 频率，0 表示由外部驱动
	InboundQueue int     `yaml:"inbound_queue"`

	JoinTimeout time.Duration `yaml:"join_timeout"`
	JoinRetries int           `yaml:"join_retries"`

	AdminAddr string `yaml:"admin_addr"`
	LogFile   string `yaml:"log_file"`
	LogLevel  string `yaml:"log_level"`

	JournalDir string `yaml:"journal_dir"`
	IndexDB    string `yaml:"index_db"`

	SelfHitGrace bool `yaml:"self_hit_grace"`

	// 网络劣化模拟（测试丢包/乱序）
	SimulateDropProb   float64 `yaml:"simulate_drop_prob"`
	SimulateDelayMinMs int     `yaml:"simulate_delay_min_ms"`
	SimulateDelayMaxMs int     `yaml:"simulate_delay_max_ms"`
}

// Defaults 默认配置
func Defaults() Config {
	return Config{
		Host:         "0.0.0.0",
		Port:         0,
		TickRate:     60,
		InboundQueue: 1024,
		JoinTimeout:  5 * time.Second,
		JoinRetries:  3,
		LogLevel:     "info",
		SelfHitGrace: true,
	}
}

// Load 在 base 之上叠加 YAML 文件中出现的字段
func Load(path string, base Config) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return base, err
	}
	cfg := base
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return base, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate 检查取值范围
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalid, c.Port)
	}
	if c.TickRate < 0 {
		return fmt.Errorf("%w: tick_rate %v", ErrInvalid, c.TickRate)
	}
	if c.InboundQueue <= 0 {
		return fmt.Errorf("%w: inbound_queue %d", ErrInvalid, c.InboundQueue)
	}
	if c.JoinTimeout <= 0 || c.JoinRetries <= 0 {
		return fmt.Errorf("%w: join_timeout %v join_retries %d", ErrInvalid, c.JoinTimeout, c.JoinRetries)
	}
	if c.SimulateDropProb < 0 || c.SimulateDropProb > 1 {
		return fmt.Errorf("%w: simulate_drop_prob %v", ErrInvalid, c.SimulateDropProb)
	}
	if c.SimulateDelayMinMs < 0 || c.SimulateDelayMaxMs < c.SimulateDelayMinMs {
		return fmt.Errorf("%w: simulate delay [%d,%d]", ErrInvalid, c.SimulateDelayMinMs, c.SimulateDelayMaxMs)
	}
	if c.Seeder != "" {
		if _, port, err := net.SplitHostPort(c.Seeder); err != nil || port == "" {
			return fmt.Errorf("%w: seeder %q", ErrInvalid, c.Seeder)
		}
	}
	if c.Advertise != "" {
		if _, err := netip.ParseAddrPort(c.Advertise); err != nil {
			return fmt.Errorf("%w: advertise %q: %v", ErrInvalid, c.Advertise, err)
		}
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel)
	}
	return nil
}

// Resolve 解析命令行：-config 指定的文件覆盖默认值，显式给出的参数再覆盖文件
func Resolve(name string, args []string) (Config, error) {
	d := Defaults()
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	var (
		path         = fs.String("config", "", "path to a YAML config file")
		host         = fs.String("host", d.Host, "host to bind UDP and TCP to")
		port         = fs.Int("port", d.Port, "port to bind (0 picks one)")
		seeder       = fs.String("seeder", d.Seeder, "address of a peer to join, e.g. 10.0.0.2:7000")
		advertise    = fs.String("advertise", d.Advertise, "address announced to joining peers")
		tickRate     = fs.Float64("tick-rate", d.TickRate, "headless ticks per second (0 = driven externally)")
		inbound      = fs.Int("inbound-queue", d.InboundQueue, "inbound datagram queue capacity")
		joinTimeout  = fs.Duration("join-timeout", d.JoinTimeout, "timeout of one bootstrap attempt")
		joinRetries  = fs.Int("join-retries", d.JoinRetries, "bootstrap attempts before giving up")
		adminAddr    = fs.String("admin", d.AdminAddr, "admin/metrics/observer http address, e.g. :8080")
		logFile      = fs.String("log-file", d.LogFile, "log file (rotated), empty = stderr only")
		logLevel     = fs.String("log-level", d.LogLevel, "debug|info|warn|error")
		journalDir   = fs.String("journal", d.JournalDir, "session journal directory")
		indexDB      = fs.String("index-db", d.IndexDB, "sqlite stats index path")
		selfHitGrace = fs.Bool("self-hit-grace", d.SelfHitGrace, "owner immune to own shards while recoiling")
		dropProb     = fs.Float64("simulate-drop", d.SimulateDropProb, "outbound datagram drop probability")
	)
	if err := fs.Parse(args); err != nil {
		return d, err
	}

	cfg := d
	if *path != "" {
		var err error
		if cfg, err = Load(*path, d); err != nil {
			return d, err
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = *host
		case "port":
			cfg.Port = *port
		case "seeder":
			cfg.Seeder = *seeder
		case "advertise":
			cfg.Advertise = *advertise
		case "tick-rate":
			cfg.TickRate = *tickRate
		case "inbound-queue":
			cfg.InboundQueue = *inbound
		case "join-timeout":
			cfg.JoinTimeout = *joinTimeout
		case "join-retries":
			cfg.JoinRetries = *joinRetries
		case "admin":
			cfg.AdminAddr = *adminAddr
		case "log-file":
			cfg.LogFile = *logFile
		case "log-level":
			cfg.LogLevel = *logLevel
		case "journal":
			cfg.JournalDir = *journalDir
		case "index-db":
			cfg.IndexDB = *indexDB
		case "self-hit-grace":
			cfg.SelfHitGrace = *selfHitGrace
		case "simulate-drop":
			cfg.SimulateDropProb = *dropProb
		}
	})
	return cfg, cfg.Validate()
}

// BindAddr UDP/TCP 绑定地址
func (c Config) BindAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
