package engine

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/r-umemoto/iceberg-detector/pkg/domain/market"
	"github.com/r-umemoto/iceberg-detector/pkg/notify"
	"github.com/r-umemoto/iceberg-detector/pkg/usecase"
)

// Engine はシステム全体のライフサイクル（初期化、実行、停止）を管理する司令部です
type Engine struct {
	gateway      market.FeedGateway
	detectUC     *usecase.DetectionUseCase
	dispatcher   *notify.Dispatcher
	closers      []io.Closer
	tickInterval time.Duration
	logger       *zap.Logger
}

func NewEngine(gateway market.FeedGateway, detectUC *usecase.DetectionUseCase, dispatcher *notify.Dispatcher, tickInterval time.Duration, logger *zap.Logger, closers ...io.Closer) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tickInterval <= 0 {
		tickInterval = time.Second
	}
	return &Engine{
		gateway:      gateway,
		detectUC:     detectUC,
		dispatcher:   dispatcher,
		closers:      closers,
		tickInterval: tickInterval,
		logger:       logger.Named("engine"),
	}
}

// DetectionUseCase は API から統計を参照するために公開しています
func (e *Engine) DetectionUseCase() *usecase.DetectionUseCase {
	return e.detectUC
}

// Run はフィードの受信を開始し、ctx がキャンセルされるかフィードが閉じるまでメインループを回します
func (e *Engine) Run(ctx context.Context) error {
	e.dispatcher.Start(ctx)
	defer e.shutdown()

	events, err := e.gateway.Start(ctx)
	if err != nil {
		return err
	}

	// 期限切れ注文の掃除と出来高サンプリング用のタイマー
	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	e.logger.Info("🚀 市場の監視を開始します...")

	// メインループ（すべてを1つのselectで統括する）
Loop:
	for {
		select {
		case <-ctx.Done(): // OSの終了シグナル (Ctrl+C)
			e.logger.Info("🚨 システム終了シグナルを検知！監視ループを停止します...")
			break Loop

		case t := <-ticker.C:
			e.detectUC.Tick(ctx, t)

		case ev, ok := <-events:
			if !ok {
				e.logger.Warn("フィードが閉じられました。監視ループを停止します")
				break Loop
			}
			e.handle(ctx, ev)
		}
	}
	return nil
}

func (e *Engine) handle(ctx context.Context, ev market.Event) {
	err := e.detectUC.Handle(ctx, ev)
	switch {
	case err == nil:
	case errors.Is(err, usecase.ErrNotSubscribed):
		e.logger.Debug("未購読の銘柄のイベントを無視しました", zap.String("instrument", ev.InstrumentID()))
	case errors.Is(err, context.Canceled):
	default:
		e.logger.Warn("イベントの処理に失敗しました", zap.String("instrument", ev.InstrumentID()), zap.Error(err))
	}
}

// shutdown はループを抜けた後の後始末です。
// 検知エンジンの停止通知を配信し終えてから、外部接続を閉じます
func (e *Engine) shutdown() {
	e.detectUC.Shutdown()
	e.dispatcher.Close()
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			e.logger.Warn("クローズに失敗しました", zap.Error(err))
		}
	}
	e.logger.Info("✅ 監視を終了しました")
}
