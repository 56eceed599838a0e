package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/r-umemoto/iceberg-detector/pkg/domain/iceberg"
	"github.com/r-umemoto/iceberg-detector/pkg/domain/market"
	"github.com/r-umemoto/iceberg-detector/pkg/domain/service"
	"github.com/r-umemoto/iceberg-detector/pkg/metrics"
)

// DefaultQueueSize は銘柄ごとのイベントチャネルのバッファサイズです
const DefaultQueueSize = 100

var (
	ErrAlreadySubscribed = errors.New("instrument already subscribed")
	ErrNotSubscribed     = errors.New("instrument not subscribed")
)

// SettingsSource は銘柄ごとの検知設定を返します
type SettingsSource interface {
	Settings(instrument string) iceberg.Settings
}

// SettingsFunc は関数を SettingsSource として使うためのアダプターです
type SettingsFunc func(instrument string) iceberg.Settings

func (f SettingsFunc) Settings(instrument string) iceberg.Settings { return f(instrument) }

// worker は1銘柄分の検知エンジンと、そこへイベントを運ぶチャネルです
type worker struct {
	instrument string
	detector   *iceberg.Detector
	events     chan market.Event
	done       chan struct{}
}

// DetectionUseCase はフィードのイベントを銘柄ごとの検知エンジンへ振り分けるユースケースです。
// 購読（Subscribe）で検知エンジンが作られ、購読解除（Unsubscribe）で破棄されます。
// 各銘柄のイベントは専用のゴルーチンで順番に処理されるため、検知エンジン自体はロックを持ちません
type DetectionUseCase struct {
	settings  SettingsSource
	notifier  iceberg.Notifier
	reporter  *service.SessionReporter
	metrics   *metrics.Metrics
	logger    *zap.Logger
	base      *zap.Logger
	queueSize int
	opts      []iceberg.Option

	mu      sync.RWMutex
	workers map[string]*worker
	wg      conc.WaitGroup

	statsMu sync.RWMutex
	stats   map[string]iceberg.Stats
}

func NewDetectionUseCase(settings SettingsSource, notifier iceberg.Notifier, reporter *service.SessionReporter, m *metrics.Metrics, logger *zap.Logger, opts ...iceberg.Option) *DetectionUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DetectionUseCase{
		settings:  settings,
		notifier:  notifier,
		reporter:  reporter,
		metrics:   m,
		logger:    logger.Named("usecase"),
		base:      logger.Named("detector"),
		queueSize: DefaultQueueSize,
		opts:      opts,
		workers:   make(map[string]*worker),
		stats:     make(map[string]iceberg.Stats),
	}
}

// Handle はフィードのイベントを受け取り、購読の開始・終了か、該当銘柄のチャネルへのルーティングを行います
func (u *DetectionUseCase) Handle(ctx context.Context, ev market.Event) error {
	switch e := ev.(type) {
	case market.Subscribe:
		return u.Subscribe(e)
	case market.Unsubscribe:
		return u.Unsubscribe(e.Instrument)
	}

	u.mu.RLock()
	defer u.mu.RUnlock()

	w, ok := u.workers[ev.InstrumentID()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotSubscribed, ev.InstrumentID())
	}
	if u.metrics != nil {
		u.metrics.Events.WithLabelValues(w.instrument, eventType(ev)).Inc()
	}
	return u.route(ctx, w, ev)
}

// route は銘柄のチャネルへイベントを積みます。
// チャネルが詰まっている場合は警告を出したうえで、イベントを捨てずに待ちます
func (u *DetectionUseCase) route(ctx context.Context, w *worker, ev market.Event) error {
	select {
	case w.events <- ev:
		return nil
	default:
	}

	u.logger.Warn("⚠️ イベントチャネルがフルです。処理が遅延します",
		zap.String("instrument", w.instrument),
		zap.Int("capacity", cap(w.events)),
	)
	if u.metrics != nil {
		u.metrics.Backlog.WithLabelValues(w.instrument).Inc()
	}

	select {
	case w.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe は銘柄の検知エンジンを作り、専用ワーカーを起動します
func (u *DetectionUseCase) Subscribe(ev market.Subscribe) error {
	if ev.Instrument == "" {
		return fmt.Errorf("%w: empty instrument", ErrNotSubscribed)
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if _, ok := u.workers[ev.Instrument]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadySubscribed, ev.Instrument)
	}

	s := u.settings.Settings(ev.Instrument)
	if ev.PipSize > 0 {
		s.PipSize = ev.PipSize
	}
	if ev.SizeMultiplier > 0 {
		s.SizeMultiplier = ev.SizeMultiplier
	}

	d, err := iceberg.NewDetector(ev.Instrument, s, u.notifier, u.base, u.opts...)
	if err != nil {
		return fmt.Errorf("検知エンジンの生成に失敗 (%s): %w", ev.Instrument, err)
	}

	w := &worker{
		instrument: ev.Instrument,
		detector:   d,
		events:     make(chan market.Event, u.queueSize),
		done:       make(chan struct{}),
	}
	u.workers[ev.Instrument] = w
	u.publishStats(d.Stats())
	u.wg.Go(func() { u.run(w) })

	if u.metrics != nil {
		u.metrics.Instruments.Set(float64(len(u.workers)))
	}
	if u.reporter != nil {
		u.reporter.Started(ev.Instrument)
	}
	u.logger.Info("購読を開始しました",
		zap.String("instrument", ev.Instrument),
		zap.Float64("pip_size", s.PipSize),
		zap.Float64("size_multiplier", s.SizeMultiplier),
		zap.String("matcher", s.Matcher),
	)
	return nil
}

// Unsubscribe はチャネルに残っているイベントを処理し終えてから、検知エンジンを破棄します
func (u *DetectionUseCase) Unsubscribe(instrument string) error {
	u.mu.Lock()
	w, ok := u.workers[instrument]
	if !ok {
		u.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotSubscribed, instrument)
	}
	delete(u.workers, instrument)
	close(w.events)
	remaining := len(u.workers)
	u.mu.Unlock()

	<-w.done

	// ワーカーは終了済みなので、ここから先は検知エンジンに直接触れます
	st := w.detector.Stats()

	u.statsMu.Lock()
	delete(u.stats, instrument)
	u.statsMu.Unlock()

	if u.metrics != nil {
		u.metrics.Forget(instrument)
		u.metrics.Instruments.Set(float64(remaining))
	}
	if u.reporter != nil {
		u.reporter.Stopped(st)
	}
	return nil
}

// Tick はすべての銘柄に定期処理のイベントを配ります
func (u *DetectionUseCase) Tick(ctx context.Context, at time.Time) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	for _, w := range u.workers {
		if err := u.route(ctx, w, market.TimerTick{Instrument: w.instrument, At: at}); err != nil {
			return
		}
	}
}

// Shutdown はすべての銘柄の購読を解除し、ワーカーの終了を待ちます
func (u *DetectionUseCase) Shutdown() {
	for _, instrument := range u.Instruments() {
		if err := u.Unsubscribe(instrument); err != nil {
			u.logger.Warn("購読解除に失敗", zap.String("instrument", instrument), zap.Error(err))
		}
	}
	u.wg.Wait()
}

// Instruments は購読中の銘柄を昇順で返します
func (u *DetectionUseCase) Instruments() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()

	out := make([]string, 0, len(u.workers))
	for instrument := range u.workers {
		out = append(out, instrument)
	}
	sort.Strings(out)
	return out
}

// Stats は直近の定期処理時点の統計です
func (u *DetectionUseCase) Stats(instrument string) (iceberg.Stats, bool) {
	u.statsMu.RLock()
	defer u.statsMu.RUnlock()
	st, ok := u.stats[instrument]
	return st, ok
}

// AllStats は購読中の全銘柄の統計を銘柄名順で返します
func (u *DetectionUseCase) AllStats() []iceberg.Stats {
	u.statsMu.RLock()
	defer u.statsMu.RUnlock()

	out := make([]iceberg.Stats, 0, len(u.stats))
	for _, st := range u.stats {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

// run は特定の銘柄のイベントを専用に処理するゴルーチンです
func (u *DetectionUseCase) run(w *worker) {
	defer close(w.done)

	d := w.detector
	for ev := range w.events {
		switch e := ev.(type) {
		case market.NewOrder:
			d.OnNewOrder(e.OrderID, e.Side, e.Price, e.Size, e.TraderID)
		case market.Replace:
			d.OnReplace(e.OrderID, e.Price, e.Size)
		case market.Cancel:
			d.OnCancel(e.OrderID)
		case market.Trade:
			d.OnTrade(e.Price, e.Size, e.Side, e.AggressorOrderID, e.PassiveOrderID)
		case market.Execution:
			d.OnExecution(e.OrderID, e.Size, e.Aggressor)
		case market.Depth:
			d.OnDepthUpdate(e.Side, e.Price, e.Size)
		case market.TimerTick:
			d.OnTimerTick()
			u.publishStats(d.Stats())
		default:
			u.logger.Warn("未対応のイベントを無視しました",
				zap.String("instrument", w.instrument),
				zap.String("type", fmt.Sprintf("%T", ev)),
			)
		}
	}
}

func (u *DetectionUseCase) publishStats(st iceberg.Stats) {
	u.statsMu.Lock()
	u.stats[st.Instrument] = st
	u.statsMu.Unlock()

	if u.metrics != nil {
		u.metrics.ObserveStats(st)
	}
}

func eventType(ev market.Event) string {
	switch ev.(type) {
	case market.NewOrder:
		return "new"
	case market.Replace:
		return "replace"
	case market.Cancel:
		return "cancel"
	case market.Trade:
		return "trade"
	case market.Execution:
		return "execution"
	case market.Depth:
		return "depth"
	case market.TimerTick:
		return "tick"
	}
	return "other"
}
