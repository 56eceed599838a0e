package feed

import "time"

// Config は MBO フィードの接続設定です
type Config struct {
	URL               string        `envconfig:"FEED_URL" default:"ws://localhost:18081/feed"`
	ReconnectDelay    time.Duration `envconfig:"FEED_RECONNECT_DELAY" default:"1s"`
	MaxReconnectDelay time.Duration `envconfig:"FEED_MAX_RECONNECT_DELAY" default:"30s"`
	BufferSize        int           `envconfig:"FEED_BUFFER_SIZE" default:"1024"`
}
