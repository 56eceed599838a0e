package telegram

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/r-umemoto/iceberg-detector/pkg/domain/iceberg"
)

// fingerprintLen は重複判定に使う先頭の文字数です
const fingerprintLen = 100

var (
	ErrUnknownTopic = errors.New("unknown notification topic")
	// ErrCooldown はクールダウン中の同じ内容のメッセージを送らなかったことを表します
	ErrCooldown = errors.New("message suppressed by cooldown")
	// ErrRejected は Bot API がリクエストを受け付けなかったことを表します（リトライしません）
	ErrRejected = errors.New("telegram rejected message")
)

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
	MessageThreadID       int64  `json:"message_thread_id,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Client は Bot API の sendMessage を叩くクライアントです
type Client struct {
	cfg        Config
	httpClient *http.Client
	threads    map[iceberg.Topic]int64

	recent  *bigcache.BigCache
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	now     func() time.Time
}

// NewClient はクライアントを生成します。onState はブレーカーの状態遷移を受け取ります（nil 可）
func NewClient(ctx context.Context, cfg Config, logger *zap.Logger, onState func(name string, to gobreaker.State)) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// bigcache の寿命は秒単位なので、クールダウンの判定自体は値に入れた時刻で行います
	cacheConfig := bigcache.DefaultConfig(max(cfg.Cooldown*2, 2*time.Second))
	cacheConfig.Shards = 16
	cacheConfig.MaxEntriesInWindow = 1024
	cacheConfig.HardMaxCacheSize = 8
	cacheConfig.CleanWindow = time.Minute
	cacheConfig.Verbose = false

	recent, err := bigcache.New(ctx, cacheConfig)
	if err != nil {
		return nil, fmt.Errorf("クールダウン用キャッシュの初期化に失敗: %w", err)
	}

	limit := rate.Limit(cfg.Rate)
	if cfg.Rate <= 0 {
		limit = rate.Inf
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		threads: map[iceberg.Topic]int64{
			iceberg.TopicDetection:  cfg.DetectionThread,
			iceberg.TopicProgress:   cfg.ProgressThread,
			iceberg.TopicCompletion: cfg.CompletionThread,
		},
		recent:  recent,
		limiter: rate.NewLimiter(limit, max(cfg.Burst, 1)),
		logger:  logger.Named("telegram"),
		now:     time.Now,
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "telegram",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
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
	return c, nil
}

// Send は topic に対応するスレッドへ HTML メッセージを送ります。
// 同じトピックに先頭100文字が同じメッセージをクールダウン内に送ろうとした場合は ErrCooldown を返します
func (c *Client) Send(ctx context.Context, topic iceberg.Topic, text string) error {
	thread, ok := c.threads[topic]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	if c.coolingDown(topic, text) {
		return ErrCooldown
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:                c.cfg.ChatID,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
		MessageThreadID:       thread,
	})
	if err != nil {
		return err
	}

	// 5xx と 429 だけをリトライし、拒否とブレーカー遮断は即座に諦めます
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		_, err := c.breaker.Execute(func() (any, error) {
			return nil, c.post(ctx, body)
		})
		if errors.Is(err, ErrRejected) || errors.Is(err, gobreaker.ErrOpenState) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(c.retryBackOff()),
		backoff.WithMaxTries(uint(max(c.cfg.MaxRetries, 0)+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("送信に失敗したためリトライします", zap.Duration("next", next), zap.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("telegram send (%s): %w", topic, err)
	}
	c.logger.Debug("メッセージを送信しました", zap.String("topic", string(topic)), zap.Int64("thread", thread))
	return nil
}

func (c *Client) retryBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryDelay
	b.MaxInterval = max(c.cfg.RetryDelay*8, c.cfg.RetryDelay)
	b.Multiplier = 2
	return b
}

// Close はクールダウン用キャッシュを解放します
func (c *Client) Close() error {
	return c.recent.Close()
}

func (c *Client) post(ctx context.Context, body []byte) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.cfg.BaseURL, c.cfg.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("API通信エラー: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var res apiResponse
	_ = json.Unmarshal(raw, &res)

	switch {
	case resp.StatusCode == http.StatusOK && res.OK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("status %d: %s", resp.StatusCode, res.Description)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, res.Description)
	}
}

// coolingDown はクールダウン中なら true を返し、そうでなければ送信時刻を記録します
func (c *Client) coolingDown(topic iceberg.Topic, text string) bool {
	key := fingerprint(topic, text)
	now := c.now()

	if v, err := c.recent.Get(key); err == nil && len(v) == 8 {
		sent := time.Unix(0, int64(binary.BigEndian.Uint64(v)))
		if now.Sub(sent) < c.cfg.Cooldown {
			return true
		}
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(now.UnixNano()))
	if err := c.recent.Set(key, buf[:]); err != nil {
		c.logger.Debug("クールダウンの記録に失敗", zap.Error(err))
	}
	return false
}

func fingerprint(topic iceberg.Topic, text string) string {
	r := []rune(text)
	if len(r) > fingerprintLen {
		r = r[:fingerprintLen]
	}
	return string(topic) + "|" + string(r)
}
