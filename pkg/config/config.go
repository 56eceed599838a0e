package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/r-umemoto/iceberg-detector/pkg/infra/feed"
	"github.com/r-umemoto/iceberg-detector/pkg/infra/natsbus"
	"github.com/r-umemoto/iceberg-detector/pkg/infra/quote"
	"github.com/r-umemoto/iceberg-detector/pkg/infra/telegram"
	"github.com/r-umemoto/iceberg-detector/pkg/notify"
)

// AppConfig はプロセス全体の設定です
type AppConfig struct {
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogDevelopment bool   `envconfig:"LOG_DEVELOPMENT" default:"false"`

	InstrumentsFile string        `envconfig:"INSTRUMENTS_FILE" default:"instruments.yaml"`
	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":8080"`
	TimerInterval   time.Duration `envconfig:"TIMER_INTERVAL" default:"1s"`

	// ネストされた構造体も、タグに従って読み込まれます
	Feed     feed.Config
	Telegram telegram.Config
	Quote    quote.Config
	NATS     natsbus.Config
	Notify   notify.Config
}

// Load は環境変数から設定をマッピングして返します
func Load() (*AppConfig, error) {
	// .env が無い環境もあるのでエラーは無視します
	_ = godotenv.Load()

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
