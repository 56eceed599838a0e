package quote

import "time"

// Config は参照価格APIの設定です。URL が空なら参照価格は常に "N/A" になります
type Config struct {
	URL      string        `envconfig:"QUOTE_URL"`
	Symbol   string        `envconfig:"QUOTE_SYMBOL" default:"XAUUSD"`
	Timeout  time.Duration `envconfig:"QUOTE_TIMEOUT" default:"2s"`
	CacheTTL time.Duration `envconfig:"QUOTE_CACHE_TTL" default:"500ms"`
}
