package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/r-umemoto/iceberg-detector/pkg/domain/iceberg"
	"github.com/r-umemoto/iceberg-detector/pkg/infra/telegram"
	"github.com/r-umemoto/iceberg-detector/pkg/metrics"
)

var (
	ErrUnknownTopic = errors.New("unknown notice topic")
	ErrClosed       = errors.New("dispatcher closed")
)

// Config は通知キューの設定です
type Config struct {
	QueueSize   int           `envconfig:"NOTIFY_QUEUE_SIZE" default:"256"`
	SendTimeout time.Duration `envconfig:"NOTIFY_SEND_TIMEOUT" default:"30s"`
}

// Sender は整形済みテキストの配信先です（telegram.Client が満たします）
type Sender interface {
	Send(ctx context.Context, topic iceberg.Topic, text string) error
}

// Recorder は構造化レコードの配信先です（natsbus.Publisher が満たします）
type Recorder interface {
	Record(id string, n iceberg.Notice) error
}

// envelope はキューに積む1件分の通知です。Notice が nil なら Text をそのまま送ります
type envelope struct {
	id     string
	topic  iceberg.Topic
	notice *iceberg.Notice
	text   string
}

// Dispatcher は検知エンジンからの通知を非同期に配信します。
// エンジンは Notify を呼ぶだけで、整形・参照価格の取得・送信はすべて専用のゴルーチンで行います。
// キューが一杯のときは通知を捨てて、検知処理を止めません
type Dispatcher struct {
	formatter *Formatter
	sender    Sender
	recorder  Recorder
	metrics   *metrics.Metrics
	logger    *zap.Logger
	timeout   time.Duration

	queue chan envelope
	wg    conc.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher は配信キューを作ります。sender / recorder は nil でも構いません
func NewDispatcher(cfg Config, formatter *Formatter, sender Sender, recorder Recorder, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if formatter == nil {
		formatter = NewFormatter(nil)
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	return &Dispatcher{
		formatter: formatter,
		sender:    sender,
		recorder:  recorder,
		metrics:   m,
		logger:    logger.Named("notify"),
		timeout:   cfg.SendTimeout,
		queue:     make(chan envelope, max(cfg.QueueSize, 1)),
	}
}

// Start は配信ワーカーを起動します
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Go(func() {
		for env := range d.queue {
			d.deliver(ctx, env)
		}
	})
}

// Close はキューを閉じ、積まれている通知を配信し終えるまで待ちます
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

// Notify は iceberg.Notifier の実装です。ブロックしません
func (d *Dispatcher) Notify(n iceberg.Notice) {
	if d.metrics != nil {
		d.metrics.Notices.WithLabelValues(n.Instrument, string(n.Topic)).Inc()
	}
	d.enqueue(envelope{id: uuid.NewString(), topic: n.Topic, notice: &n})
}

// Announce は整形済みのテキストをそのまま配信します（起動・停止のお知らせ用）
func (d *Dispatcher) Announce(topic iceberg.Topic, text string) {
	d.enqueue(envelope{id: uuid.NewString(), topic: topic, text: text})
}

func (d *Dispatcher) enqueue(env envelope) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("停止後の通知を破棄しました", zap.String("id", env.id), zap.String("topic", string(env.topic)))
		d.count("queue", "dropped")
		return
	}

	select {
	case d.queue <- env:
	default:
		d.logger.Warn("⚠️ 通知キューが一杯のため破棄しました",
			zap.String("id", env.id),
			zap.String("topic", string(env.topic)),
			zap.Int("capacity", cap(d.queue)),
		)
		d.count("queue", "dropped")
	}
}

func (d *Dispatcher) deliver(ctx context.Context, env envelope) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if env.notice != nil && d.recorder != nil {
		if err := d.recorder.Record(env.id, *env.notice); err != nil {
			d.logger.Error("レコードの配信に失敗しました", zap.String("id", env.id), zap.Error(err))
			d.count("nats", "error")
		} else {
			d.count("nats", "ok")
		}
	}

	if d.sender == nil {
		return
	}

	text := env.text
	if env.notice != nil {
		var err error
		if text, err = d.formatter.Format(ctx, *env.notice); err != nil {
			d.logger.Error("通知の整形に失敗しました", zap.String("id", env.id), zap.Error(err))
			d.count("telegram", "error")
			return
		}
	}

	err := d.sender.Send(ctx, env.topic, text)
	switch {
	case err == nil:
		d.count("telegram", "ok")
	case errors.Is(err, telegram.ErrCooldown):
		d.logger.Debug("クールダウン中のため送信しませんでした", zap.String("id", env.id))
		d.count("telegram", "suppressed")
	default:
		d.logger.Error("❌ 通知の送信に失敗しました",
			zap.String("id", env.id),
			zap.String("topic", string(env.topic)),
			zap.Error(err),
		)
		d.count("telegram", "error")
	}
}

func (d *Dispatcher) count(sink, result string) {
	if d.metrics != nil {
		d.metrics.Deliveries.WithLabelValues(sink, result).Inc()
	}
}
