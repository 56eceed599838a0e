package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSClient はWebSocket通信を管理する構造体です
type WSClient struct {
	URL    string
	dialer *websocket.Dialer
	logger *zap.Logger
}

// NewWSClient はWebSocketクライアントを生成します
func NewWSClient(url string, logger *zap.Logger) *WSClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSClient{
		URL:    url,
		dialer: websocket.DefaultDialer,
		logger: logger,
	}
}

// Listen はサーバーに接続し、受信したメッセージを handle に渡し続けます。
// 切断されるか ctx がキャンセルされるか handle が false を返すまで戻りません。
// 戻り値は受信できたメッセージ数です
func (w *WSClient) Listen(ctx context.Context, handle func(PushMessage) bool) (int, error) {
	w.logger.Info("WebSocket接続開始", zap.String("url", w.URL))
	conn, _, err := w.dialer.DialContext(ctx, w.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("WebSocket接続エラー: %w", err)
	}
	defer conn.Close()
	w.logger.Info("WebSocket接続成功！フィードの監視をスタートします")

	// ctx のキャンセルで読み取りを止めるため、接続ごと閉じます
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	received := 0
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return received, ctx.Err()
			}
			return received, fmt.Errorf("WebSocket読み取りエラー (切断されました): %w", err)
		}
		received++

		var msg PushMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			w.logger.Warn("JSONパースエラー", zap.Error(err), zap.ByteString("raw", raw))
			continue
		}
		if !handle(msg) {
			return received, nil
		}
	}
}
