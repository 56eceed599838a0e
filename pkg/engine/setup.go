package engine

import (
	"context"
	"fmt"
	"io"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/r-umemoto/iceberg-detector/pkg/config"
	"github.com/r-umemoto/iceberg-detector/pkg/domain/service"
	"github.com/r-umemoto/iceberg-detector/pkg/infra/feed"
	"github.com/r-umemoto/iceberg-detector/pkg/infra/natsbus"
	"github.com/r-umemoto/iceberg-detector/pkg/infra/quote"
	"github.com/r-umemoto/iceberg-detector/pkg/infra/telegram"
	"github.com/r-umemoto/iceberg-detector/pkg/metrics"
	"github.com/r-umemoto/iceberg-detector/pkg/notify"
	"github.com/r-umemoto/iceberg-detector/pkg/usecase"
)

// infrastructure は外部接続をまとめたものです
type infrastructure struct {
	gateway  *feed.Gateway
	quotes   quote.Provider
	sender   notify.Sender
	recorder notify.Recorder
	closers  []io.Closer
}

// BuildEngine は、システム全体を俯瞰する「目次」です
func BuildEngine(ctx context.Context, cfg *config.AppConfig, settings usecase.SettingsSource, m *metrics.Metrics, logger *zap.Logger) (*Engine, error) {
	// 1. インフラ層の構築（泥臭い設定はすべてここへ）
	infra, err := buildInfrastructure(ctx, cfg, m, logger)
	if err != nil {
		return nil, err
	}

	// 2. 通知経路の組み立て
	dispatcher := notify.NewDispatcher(cfg.Notify, notify.NewFormatter(infra.quotes), infra.sender, infra.recorder, m, logger)
	reporter := service.NewSessionReporter(dispatcher, logger)

	// 3. ユースケースの組み立て
	detectUC := usecase.NewDetectionUseCase(settings, dispatcher, reporter, m, logger)

	// 4. エンジンの完成
	return NewEngine(infra.gateway, detectUC, dispatcher, cfg.TimerInterval, logger, infra.closers...), nil
}

// ---------------------------------------------------------
// ▼ ここから下は「下請け工場（プライベート関数）」に押し込む
// ---------------------------------------------------------

func buildInfrastructure(ctx context.Context, cfg *config.AppConfig, m *metrics.Metrics, logger *zap.Logger) (*infrastructure, error) {
	onState := breakerObserver(m)
	infra := &infrastructure{
		gateway: feed.NewGateway(cfg.Feed, logger),
		quotes:  quote.Unavailable{},
	}

	if cfg.Quote.URL != "" {
		infra.quotes = quote.NewClient(cfg.Quote, logger, onState)
	} else {
		logger.Info("参照価格のURLが未設定のため、現在値は N/A で通知します")
	}

	if cfg.Telegram.Enabled() {
		tg, err := telegram.NewClient(ctx, cfg.Telegram, logger, onState)
		if err != nil {
			return nil, fmt.Errorf("Telegram クライアントの初期化に失敗: %w", err)
		}
		infra.sender = tg
		infra.closers = append(infra.closers, tg)
	} else {
		logger.Info("Telegram の設定が無いため、チャット通知は行いません")
	}

	if cfg.NATS.URL != "" {
		pub, err := natsbus.Connect(cfg.NATS, logger)
		if err != nil {
			closeAll(infra.closers, logger)
			return nil, err
		}
		infra.recorder = pub
		infra.closers = append(infra.closers, pub)
	}

	return infra, nil
}

// breakerObserver はサーキットブレーカーの状態をゲージに反映します（ログは各クライアントが出します）
func breakerObserver(m *metrics.Metrics) func(name string, to gobreaker.State) {
	return func(name string, to gobreaker.State) {
		if m != nil {
			m.BreakerState.WithLabelValues(name).Set(float64(to))
		}
	}
}

func closeAll(closers []io.Closer, logger *zap.Logger) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Warn("クローズに失敗しました", zap.Error(err))
		}
	}
}
