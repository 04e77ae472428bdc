package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"streamex.com/internal/quotes/app"
	"streamex.com/pkg/config"
	"streamex.com/pkg/logger"
)

func main() {
	// 1. 支持 Ctrl+C / kubernetes 停止信号的 context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. 配置
	cfg, v, err := app.LoadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}
	logger.InitWithFile(cfg.Name, cfg.Log.Level, cfg.Log.File)
	defer logger.Sync()

	// 3. 初始化 App
	a, err := app.New(cfg)
	if err != nil {
		logger.Fatal(ctx, "init stream server", zap.Error(err))
	}
	config.Watch(v, a.OnConfigChange)

	// 4. 启动，直到收到退出信号
	if err := a.Run(ctx); err != nil {
		logger.Fatal(ctx, "stream server exited", zap.Error(err))
	}
}
