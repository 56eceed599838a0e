package telegram

import "time"

// Config は Telegram Bot API の設定です。
// 通知の種類ごとにフォーラムのトピック（スレッド）を分けて配信します
type Config struct {
	Token   string `envconfig:"TELEGRAM_BOT_TOKEN"`
	ChatID  string `envconfig:"TELEGRAM_CHAT_ID"`
	BaseURL string `envconfig:"TELEGRAM_API_URL" default:"https://api.telegram.org"`

	DetectionThread  int64 `envconfig:"TELEGRAM_TOPIC_DETECTIONS"`
	ProgressThread   int64 `envconfig:"TELEGRAM_TOPIC_UPDATES"`
	CompletionThread int64 `envconfig:"TELEGRAM_TOPIC_FULL_EXECUTIONS"`

	Timeout    time.Duration `envconfig:"TELEGRAM_TIMEOUT" default:"10s"`
	Cooldown   time.Duration `envconfig:"TELEGRAM_COOLDOWN" default:"1s"`
	Rate       float64       `envconfig:"TELEGRAM_RATE" default:"20"`
	Burst      int           `envconfig:"TELEGRAM_BURST" default:"5"`
	MaxRetries int           `envconfig:"TELEGRAM_MAX_RETRIES" default:"2"`
	RetryDelay time.Duration `envconfig:"TELEGRAM_RETRY_DELAY" default:"500ms"`
}

// Enabled はトークンと送信先が揃っているかを返します
func (c Config) Enabled() bool {
	return c.Token != "" && c.ChatID != ""
}
