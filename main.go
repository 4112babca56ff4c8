package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"picomesh/config"
	"picomesh/peer"
)

// picomesh 入口：解析配置，绑定端口（必要时加入种子 peer），运行到收到信号
func main() {
	cfg, err := config.Resolve("picomesh", os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		// 日志尚未初始化，直接写 stderr
		fmt.Fprintf(os.Stderr, "picomesh: %v\n", err)
		os.Exit(2)
	}
	if err := peer.InitLogger(cfg.LogFile, cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "picomesh: init logger: %v\n", err)
		os.Exit(1)
	}
	defer peer.SyncLogger()

	// 优雅退出（Ctrl+C）
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := peer.New(ctx, cfg)
	if err != nil {
		peer.Log.Fatalf("start peer: %v", err)
	}
	if err := rt.Run(ctx); err != nil {
		peer.Log.Fatalf("run: %v", err)
	}
	peer.Log.Info("Shutting down...")
}
