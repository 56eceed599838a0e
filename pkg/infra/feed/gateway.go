package feed

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/r-umemoto/iceberg-detector/pkg/domain/market"
)

// Gateway は market.FeedGateway の WebSocket 実装です
type Gateway struct {
	ws     *WSClient
	cfg    Config
	logger *zap.Logger
}

func NewGateway(cfg Config, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("feed")
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	return &Gateway{
		ws:     NewWSClient(cfg.URL, logger),
		cfg:    cfg,
		logger: logger,
	}
}

// Start は market.FeedGateway の実装です。
// 切断されても ctx がキャンセルされるまで再接続を続け、キャンセル後にチャネルを閉じます
func (g *Gateway) Start(ctx context.Context) (<-chan market.Event, error) {
	out := make(chan market.Event, max(g.cfg.BufferSize, 1))
	go g.loop(ctx, out)
	return out, nil
}

func (g *Gateway) loop(ctx context.Context, out chan<- market.Event) {
	defer close(out)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.ReconnectDelay
	b.MaxInterval = max(g.cfg.MaxReconnectDelay, g.cfg.ReconnectDelay)
	b.Multiplier = 2
	b.RandomizationFactor = 0

	// ctx がキャンセルされるまで再接続を続けます（試行回数・経過時間の上限なし）
	_, _ = backoff.Retry(ctx, func() (struct{}, error) {
		received, err := g.ws.Listen(ctx, func(msg PushMessage) bool {
			return g.forward(ctx, out, msg)
		})
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		if received > 0 {
			// 一度でも受信できた接続の後は、待ち時間を最初に戻します
			b.Reset()
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, delay time.Duration) {
			g.logger.Warn("🔄 フィードに再接続します", zap.Duration("delay", delay), zap.Error(err))
		}),
	)
}

// forward はメッセージをイベントに変換して out に流します。false なら受信を止めます
func (g *Gateway) forward(ctx context.Context, out chan<- market.Event, msg PushMessage) bool {
	ev, err := msg.ToEvent()
	if err != nil {
		g.logger.Warn("⚠️ 不正なメッセージを破棄しました",
			zap.String("type", msg.Type),
			zap.String("instrument", msg.Instrument),
			zap.String("order_id", msg.OrderID),
			zap.Error(err),
		)
		return true
	}
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
