package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/r-umemoto/iceberg-detector/pkg/api"
	"github.com/r-umemoto/iceberg-detector/pkg/config"
	"github.com/r-umemoto/iceberg-detector/pkg/engine"
	"github.com/r-umemoto/iceberg-detector/pkg/logging"
	"github.com/r-umemoto/iceberg-detector/pkg/metrics"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("❌ %v", err)
	}
}

func run() error {
	// 1. 全体を安全に停止するためのコンテキスト管理（Ctrl+C / SIGTERM）
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. 設定とロガー
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return fmt.Errorf("ロガーの初期化に失敗: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("システム起動: 初期化プロセスを開始します。", zap.String("feed", cfg.Feed.URL))

	instruments, err := config.LoadInstruments(cfg.InstrumentsFile)
	if err != nil {
		return err
	}
	logger.Info("検知設定を読み込みました",
		zap.String("file", cfg.InstrumentsFile),
		zap.Strings("instruments", instruments.Names()),
	)

	// 3. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 4. エンジンの組み立て
	eng, err := engine.BuildEngine(ctx, cfg, instruments, m, logger)
	if err != nil {
		return fmt.Errorf("エンジンの構築に失敗: %w", err)
	}
	server := api.NewServer(cfg.HTTPAddr, eng.DetectionUseCase(), reg, logger)

	// 5. エンジンと API を並行して動かし、どちらかが終わったら全体を止めます
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stop()
		return eng.Run(gctx)
	})
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("システムを安全にシャットダウンしました。")
	return nil
}
