package natsbus

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/r-umemoto/iceberg-detector/pkg/domain/iceberg"
)

// Config は NATS への配信設定です。URL が空なら配信しません
type Config struct {
	URL           string `envconfig:"NATS_URL"`
	SubjectPrefix string `envconfig:"NATS_SUBJECT_PREFIX" default:"icebergs"`
	Name          string `envconfig:"NATS_CLIENT_NAME" default:"iceberg-detector"`
}

// Conn は Publisher が使う NATS 接続の最小インターフェースです（*nats.Conn が満たします）
type Conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Record は NATS に流す構造化レコードです
type Record struct {
	ID         string    `json:"id"`
	Topic      string    `json:"topic"`
	Instrument string    `json:"instrument"`
	At         time.Time `json:"at"`

	OrderID      string    `json:"order_id"`
	TraderID     string    `json:"trader_id,omitempty"`
	Side         string    `json:"side"`
	Price        float64   `json:"price"`
	PriceHistory []float64 `json:"price_history"`
	DistancePips float64   `json:"distance_pips"`

	CurrentSize    float64 `json:"current_size"`
	MaxVisibleSize float64 `json:"max_visible_size"`
	TotalFilled    float64 `json:"total_filled"`
	ActiveFilled   float64 `json:"active_filled"`
	PassiveFilled  float64 `json:"passive_filled"`

	ExecutionRatio      float64 `json:"execution_ratio"`
	ExecutionPercentage float64 `json:"execution_percentage"`
	RefillCount         int     `json:"refill_count"`
	SizeDecreaseCount   int     `json:"size_decrease_count"`
	ReplaceCount        int     `json:"replace_count"`
	PriceChanges        int     `json:"price_changes"`
	Score               float64 `json:"score"`
	Reason              string  `json:"reason,omitempty"`
	DurationSeconds     float64 `json:"duration_seconds,omitempty"`
}

func NewRecord(id string, n iceberg.Notice) Record {
	return Record{
		ID:                  id,
		Topic:               string(n.Topic),
		Instrument:          n.Instrument,
		At:                  n.At,
		OrderID:             n.OrderID,
		TraderID:            n.TraderID,
		Side:                string(n.Side),
		Price:               n.CurrentPrice,
		PriceHistory:        n.PriceHistory,
		DistancePips:        n.DistancePips,
		CurrentSize:         n.CurrentSize,
		MaxVisibleSize:      n.MaxVisibleSize,
		TotalFilled:         n.TotalFilled,
		ActiveFilled:        n.ActiveFilled,
		PassiveFilled:       n.PassiveFilled,
		ExecutionRatio:      n.ExecutionRatio,
		ExecutionPercentage: n.ExecutionPercentage,
		RefillCount:         n.RefillCount,
		SizeDecreaseCount:   n.SizeDecreaseCount,
		ReplaceCount:        n.ReplaceCount,
		PriceChanges:        n.PriceChanges,
		Score:               n.Score,
		Reason:              n.Reason,
		DurationSeconds:     n.Duration.Seconds(),
	}
}

// Publisher はライフサイクルレコードを <prefix>.<instrument>.<topic> に配信します
type Publisher struct {
	conn   Conn
	prefix string
	logger *zap.Logger
}

func NewPublisher(conn Conn, prefix string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{conn: conn, prefix: prefix, logger: logger.Named("nats")}
}

// Connect は NATS に接続します。切断時は無制限に再接続を試みます
func Connect(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS から切断されました", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS に再接続しました", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("NATS 接続エラー (%s): %w", cfg.URL, err)
	}
	return NewPublisher(nc, cfg.SubjectPrefix, logger), nil
}

// Subject は配信先のサブジェクトです
func (p *Publisher) Subject(instrument string, topic iceberg.Topic) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, token(instrument), topic)
}

// Record は Notice を JSON にして配信します
func (p *Publisher) Record(id string, n iceberg.Notice) error {
	data, err := json.Marshal(NewRecord(id, n))
	if err != nil {
		return err
	}
	subject := p.Subject(n.Instrument, n.Topic)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("NATS 配信エラー (%s): %w", subject, err)
	}
	return nil
}

// Close は送信中のメッセージを流し切ってから接続を閉じます
func (p *Publisher) Close() error {
	return p.conn.Drain()
}

// token はサブジェクトの区切りやワイルドカードになる文字を置き換えます
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, s)
}
