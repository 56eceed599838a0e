package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/r-umemoto/iceberg-detector/pkg/domain/market"
)

// NotAvailable は参照価格が取れないときに通知へ載せる文字列です
const NotAvailable = "N/A"

var ErrNoQuote = errors.New("no quote available")

// Provider は通知に添える参照価格の取得元です
type Provider interface {
	// PriceString は side の参照価格を小数2桁の文字列で返します。
	// side が空なら直近約定値、取れなければ NotAvailable を返します
	PriceString(ctx context.Context, side market.Side) string
}

// Quote は参照価格APIのレスポンスです
type Quote struct {
	Bid  decimal.Decimal `json:"bid"`
	Ask  decimal.Decimal `json:"ask"`
	Last decimal.Decimal `json:"last"`
}

// Client は HTTP の参照価格APIを叩くクライアントです。
// 短時間のキャッシュとサーキットブレーカーで、通知のたびにAPIへ負荷をかけないようにします
type Client struct {
	BaseURL    string
	Symbol     string
	HTTPClient *http.Client

	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	ttl     time.Duration
	now     func() time.Time

	mu       sync.Mutex
	cached   *Quote
	cachedAt time.Time
}

// NewClient は参照価格クライアントを生成します。onState はブレーカーの状態遷移を受け取ります（nil 可）
func NewClient(cfg Config, logger *zap.Logger, onState func(name string, to gobreaker.State)) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		BaseURL:    cfg.URL,
		Symbol:     cfg.Symbol,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("quote"),
		ttl:        cfg.CacheTTL,
		now:        time.Now,
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "quote",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("サーキットブレーカーの状態が変化しました",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			if onState != nil {
				onState(name, to)
			}
		},
	})
	return c
}

func (c *Client) PriceString(ctx context.Context, side market.Side) string {
	q, err := c.Get(ctx)
	if err != nil {
		c.logger.Debug("参照価格を取得できませんでした", zap.Error(err))
		return NotAvailable
	}

	price := q.Last
	switch side {
	case market.SideBid:
		price = q.Bid
	case market.SideAsk:
		price = q.Ask
	}
	if price.IsZero() {
		return NotAvailable
	}
	return price.StringFixed(2)
}

// Get は参照価格を返します。キャッシュが新しければAPIは呼びません
func (c *Client) Get(ctx context.Context) (*Quote, error) {
	c.mu.Lock()
	if c.cached != nil && c.now().Sub(c.cachedAt) < c.ttl {
		q := c.cached
		c.mu.Unlock()
		return q, nil
	}
	c.mu.Unlock()

	res, err := c.breaker.Execute(func() (any, error) {
		return c.fetch(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoQuote, err)
	}
	q := res.(*Quote)

	c.mu.Lock()
	c.cached, c.cachedAt = q, c.now()
	c.mu.Unlock()
	return q, nil
}

func (c *Client) fetch(ctx context.Context) (*Quote, error) {
	endpoint := c.BaseURL + "/quote?symbol=" + url.QueryEscape(c.Symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API通信エラー: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("参照価格API status %d", resp.StatusCode)
	}

	var q Quote
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return nil, fmt.Errorf("レスポンス解析エラー: %w", err)
	}
	return &q, nil
}

// Unavailable は参照価格の取得元が設定されていないときの Provider です
type Unavailable struct{}

func (Unavailable) PriceString(context.Context, market.Side) string { return NotAvailable }
