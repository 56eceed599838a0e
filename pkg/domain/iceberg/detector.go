package iceberg

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/r-umemoto/iceberg-detector/pkg/domain/iceberg/matching"
	"github.com/r-umemoto/iceberg-detector/pkg/domain/market"
	"github.com/r-umemoto/iceberg-detector/pkg/domain/market/calculator"
)

// confirmedAtCancel は取消時の最終判定で確定したときの理由です
const confirmedAtCancel = "confirmed at cancel"

var ErrEmptyOrderID = errors.New("empty order id")

// Detector は1銘柄分のアイスバーグ検知エンジンです。
//
// イベントは1つずつ同期的に処理され、処理中に状態が中途半端になることはありません。
// 内部でロックは取らないため、同じ銘柄のイベントは呼び出し側で直列化してください
// （usecase では銘柄ごとに専用のゴルーチンを割り当てています）。
type Detector struct {
	instrument string
	settings   Settings

	metrics  *calculator.RollingMetrics
	index    *PriceIndex
	book     *market.Book
	matcher  matching.Strategy
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time

	orders    map[string]*Order
	completed []CompletedIceberg

	totalDetected  int
	totalCompleted int

	recentVolume     float64
	lastVolumeSample time.Time
}

type Option func(*Detector)

// WithClock は時刻の取得元を差し替えます（テスト用）
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// WithMatcher は Settings.Matcher の代わりに使うマッチング戦略を指定します
func WithMatcher(s matching.Strategy) Option {
	return func(d *Detector) { d.matcher = s }
}

func NewDetector(instrument string, settings Settings, notifier Notifier, logger *zap.Logger, opts ...Option) (*Detector, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Detector{
		instrument: instrument,
		settings:   settings,
		index:      NewPriceIndex(),
		book:       market.NewBook(),
		notifier:   notifier,
		logger:     logger.With(zap.String("instrument", instrument)),
		now:        time.Now,
		orders:     make(map[string]*Order),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.matcher == nil {
		m, err := matching.Get(settings.Matcher)
		if err != nil {
			return nil, fmt.Errorf("detector %s: %w", instrument, err)
		}
		d.matcher = m
	}

	d.metrics = calculator.NewRollingMetrics(d.now)
	d.lastVolumeSample = d.now()
	return d, nil
}

func (d *Detector) Instrument() string { return d.instrument }

func (d *Detector) Settings() Settings { return d.settings }

// Thresholds は現在の市場指標から算出したしきい値です
func (d *Detector) Thresholds() calculator.Thresholds {
	return calculator.Compute(d.metrics, d.settings.Percentages)
}

// OnNewOrder は新規注文を処理します。
// 最小表示数量以上なら追跡を始め、サイズと最良気配からの距離が条件を満たせば候補にします
func (d *Detector) OnNewOrder(orderID string, side market.Side, price, rawSize float64, traderID string) {
	if orderID == "" {
		d.reject("new", orderID, ErrEmptyOrderID)
		return
	}
	if !d.accept("new", orderID, side, price, rawSize) {
		return
	}

	// 同じIDが生きたまま再利用された場合は古い方を黙って捨てます。
	// 新しい注文が追跡対象外のサイズでも、古い価格帯に残してはいけません
	if old, ok := d.orders[orderID]; ok {
		d.remove(old)
	}

	size := d.settings.normalize(rawSize)
	d.metrics.RecordOrder(size)

	th := d.Thresholds()
	if size < th.MinVisibleSize {
		return
	}

	o := newOrder(orderID, traderID, side, price, size, d.now())
	d.orders[orderID] = o
	d.index.Insert(o.Level(), orderID)

	distance := d.distance(price, side)
	if size >= th.TriggerSize && size <= th.MaxVisibleSize && distance <= d.settings.MaxDistancePips {
		o.Candidate = true
		d.logger.Debug("候補として追跡を開始",
			zap.String("order_id", orderID),
			zap.String("trader_id", traderID),
			zap.Float64("price", price),
			zap.Float64("size", size),
			zap.Float64("trigger", th.TriggerSize),
			zap.Float64("distance_pips", distance),
		)
	}
}

// OnReplace は注文の価格・数量変更を処理します。未知の注文IDは無視します
func (d *Detector) OnReplace(orderID string, newPrice, newRawSize float64) {
	o, ok := d.orders[orderID]
	if !ok {
		return
	}
	if !d.accept("replace", orderID, o.Side, newPrice, newRawSize) {
		return
	}

	res := o.applyReplace(newPrice, d.settings.normalize(newRawSize), d.now())
	if res.PriceChanged {
		d.index.Move(res.From, res.To, orderID)
		d.logger.Debug("価格帯を移動",
			zap.String("order_id", orderID),
			zap.Float64("from", res.From.Price()),
			zap.Float64("to", res.To.Price()),
		)
	}

	filled := false
	if res.Decrease > 0 && d.settings.InferFillsFromReplace {
		d.fillFromReplace(o, res.Decrease)
		filled = true
	}
	d.afterUpdate(o, filled)
}

// OnCancel は注文の取消を処理します。確定済みのアイスバーグなら完了として記録し、完了通知を出します
func (d *Detector) OnCancel(orderID string) {
	o, ok := d.orders[orderID]
	if !ok {
		return
	}

	if !o.Confirmed && d.settings.ConfirmOnCancel && admitted(o, d.settings) {
		d.confirm(o, confirmedAtCancel, false)
	}

	if o.Confirmed {
		o.CompletedAt = d.now()
		d.totalCompleted++
		d.rememberCompleted(o)
		d.logger.Info("✅ アイスバーグが完了しました",
			zap.String("order_id", o.ID),
			zap.Float64("total_filled", o.TotalFilled),
			zap.Duration("duration", o.CompletedAt.Sub(o.ConfirmedAt)),
		)
		d.notify(TopicCompletion, o)
	}

	d.remove(o)
}

// OnTrade は約定プリントを処理します。
// 約定した注文IDが分かる場合はそちらを優先し、分からない場合だけ価格帯で照合します
func (d *Detector) OnTrade(price, rawSize float64, aggressor market.Side, aggressorOrderID, passiveOrderID string) {
	if !d.accept("trade", "", aggressor, price, rawSize) {
		return
	}

	size := d.settings.normalize(rawSize)
	d.metrics.RecordTrade(size)
	d.sampleVolume(size)

	direct := false
	if o, ok := d.orders[passiveOrderID]; ok && passiveOrderID != "" {
		d.fillFromExecution(o, size, false, FillDirect)
		direct = true
	}
	if o, ok := d.orders[aggressorOrderID]; ok && aggressorOrderID != "" {
		d.fillFromExecution(o, size, true, FillDirect)
		direct = true
	}
	if direct {
		return
	}

	d.matchTrade(price, size, aggressor)
}

// OnExecution は注文IDが明示された約定を処理します
func (d *Detector) OnExecution(orderID string, rawSize float64, aggressor bool) {
	o, ok := d.orders[orderID]
	if !ok {
		return
	}
	if err := market.ValidateSize(rawSize); err != nil {
		d.reject("execution", orderID, err)
		return
	}
	d.fillFromExecution(o, d.settings.normalize(rawSize), aggressor, FillDirect)
}

// OnDepthUpdate は板の価格帯を更新します。最良気配は距離計算にだけ使われます
func (d *Detector) OnDepthUpdate(side market.Side, price, rawSize float64) {
	if !d.accept("depth", "", side, price, rawSize) {
		return
	}
	d.book.Update(side, price, d.settings.normalize(rawSize))
}

// OnTimerTick は一定時間更新のない注文を通知なしで破棄します
func (d *Detector) OnTimerTick() {
	now := d.now()
	expired := 0
	for _, o := range d.orders {
		if now.Sub(o.LastUpdate) > d.settings.IdleWindow {
			d.remove(o)
			expired++
		}
	}
	if expired > 0 {
		d.logger.Debug("期限切れの注文を破棄", zap.Int("count", expired))
	}
}

func (d *Detector) matchTrade(price, size float64, aggressor market.Side) {
	ids := d.index.OrdersAt(market.LevelOf(price))
	if len(ids) == 0 {
		return
	}

	candidates := make([]matching.Candidate, 0, len(ids))
	for _, id := range ids {
		o := d.orders[id]
		if o == nil || o.Side == aggressor {
			continue
		}
		candidates = append(candidates, matching.Candidate{OrderID: id, Available: o.CurrentSize})
	}

	for _, a := range d.matcher.Allocate(size, candidates) {
		if o, ok := d.orders[a.OrderID]; ok {
			d.fillFromExecution(o, a.Size, false, FillMatched)
		}
	}
}

// fillFromReplace は Replace の数量減少を約定として計上します
func (d *Detector) fillFromReplace(o *Order, size float64) {
	o.recordFill(size, FillInferred, false, d.now())
}

// fillFromExecution は約定プリント由来の約定を計上し、状態機械を進めます
func (d *Detector) fillFromExecution(o *Order, size float64, aggressor bool, kind FillKind) {
	if size <= 0 {
		return
	}
	o.recordFill(size, kind, aggressor, d.now())
	d.afterUpdate(o, true)
}

func (d *Detector) afterUpdate(o *Order, filled bool) {
	if !o.Confirmed {
		if reason, rule, ok := evaluate(o, d.settings); ok {
			d.logger.Debug("確定ルールに一致", zap.String("order_id", o.ID), zap.String("rule", rule))
			d.confirm(o, reason, true)
		}
		return
	}
	if filled {
		d.checkProgress(o)
	}
}

func (d *Detector) confirm(o *Order, reason string, announce bool) {
	o.Confirmed = true
	o.Reason = reason
	o.ConfirmedAt = d.now()
	// 確定直後に進捗通知が出ないよう基準を合わせておく
	o.LastReportedFilled = o.TotalFilled
	d.totalDetected++

	d.logger.Info("🧊 アイスバーグを確定しました",
		zap.String("order_id", o.ID),
		zap.String("trader_id", o.TraderID),
		zap.String("reason", reason),
		zap.Float64("score", o.Score()),
	)
	if announce {
		d.notify(TopicDetection, o)
	}
}

// checkProgress は一定量以上の約定が進んだときだけ進捗通知を出します
func (d *Detector) checkProgress(o *Order) {
	if o.ExecutionPercentage < d.settings.ExecutionThreshold {
		return
	}
	if o.TotalFilled-o.LastReportedFilled < d.settings.ProgressDelta {
		return
	}
	o.LastReportedFilled = o.TotalFilled
	d.notify(TopicProgress, o)
}

func (d *Detector) notify(topic Topic, o *Order) {
	if d.notifier == nil {
		return
	}
	n := Notice{
		Topic:               topic,
		Instrument:          d.instrument,
		At:                  d.now(),
		OrderID:             o.ID,
		TraderID:            o.TraderID,
		Side:                o.Side,
		CurrentPrice:        o.CurrentPrice,
		PriceHistory:        append([]float64(nil), o.PriceHistory...),
		DistancePips:        d.distance(o.CurrentPrice, o.Side),
		CurrentSize:         o.CurrentSize,
		MaxVisibleSize:      o.MaxVisibleSize,
		TotalFilled:         o.TotalFilled,
		ActiveFilled:        o.ActiveFilled,
		PassiveFilled:       o.PassiveFilled,
		ExecutionRatio:      o.ExecutionRatio(),
		ExecutionPercentage: o.ExecutionPercentage,
		RefillCount:         o.RefillCount,
		SizeDecreaseCount:   o.SizeDecreaseCount,
		ReplaceCount:        len(o.ReplaceEvents),
		PriceChanges:        o.PriceChanges,
		Score:               o.Score(),
		Reason:              o.Reason,
	}
	if topic == TopicCompletion {
		n.Duration = o.CompletedAt.Sub(o.ConfirmedAt)
	}
	d.notifier.Notify(n)
}

// distance は反対側の最良気配からの距離（pip）です
func (d *Detector) distance(price float64, side market.Side) float64 {
	ref, ok := d.book.Best(side.Opposite())
	return market.DistanceInPips(price, ref, ok, d.settings.PipSize)
}

func (d *Detector) sampleVolume(size float64) {
	d.recentVolume += size
	now := d.now()
	if now.Sub(d.lastVolumeSample) >= d.settings.VolumeSampleInterval {
		d.metrics.RecordVolumeSample(d.recentVolume)
		d.recentVolume = 0
		d.lastVolumeSample = now
	}
}

// remove は注文をすべての索引から取り除きます
func (d *Detector) remove(o *Order) {
	for _, l := range o.levels {
		d.index.Remove(l, o.ID)
	}
	delete(d.orders, o.ID)
}

func (d *Detector) accept(event, orderID string, side market.Side, price, rawSize float64) bool {
	if !side.Valid() {
		d.reject(event, orderID, market.ErrUnknownSide)
		return false
	}
	if err := market.ValidatePrice(price); err != nil {
		d.reject(event, orderID, err)
		return false
	}
	if err := market.ValidateSize(rawSize); err != nil {
		d.reject(event, orderID, err)
		return false
	}
	return true
}

func (d *Detector) reject(event, orderID string, err error) {
	d.logger.Warn("⚠️ 不正なイベントを破棄しました",
		zap.String("event", event),
		zap.String("order_id", orderID),
		zap.Error(err),
	)
}
