package calculator

import (
	"sort"
	"time"
)

const (
	// SizeWindow は注文サイズ・約定サイズの保持件数です
	SizeWindow = 100
	// VolumeWindow は出来高サンプルの保持件数です
	VolumeWindow = 50
	// RecomputeInterval より短い間隔では集計値を再計算しません
	RecomputeInterval = 5 * time.Second

	defaultAvgOrderSize = 50.0
	defaultAvgTradeSize = 30.0
	defaultVolumeRate   = 100.0

	minAvgOrderSize = 10.0
	minAvgTradeSize = 5.0
	minVolumeRate   = 50.0

	emptyPercentile   = 100.0
	minPercentile     = 20.0
	volumeRateSamples = 10
)

// RollingMetrics は直近の注文サイズ・約定サイズ・出来高から市場の活況度を推定します。
// 集計値は RecomputeInterval ごとにしか更新されないため、
// 高頻度のイベントでも計算コストは一定に保たれます。
// ゴルーチン安全ではありません（銘柄ごとのワーカーから使う前提です）
type RollingMetrics struct {
	orders  *ring
	trades  *ring
	volumes *ring

	avgOrderSize  float64
	avgTradeSize  float64
	volumeRate    float64
	lastRecompute time.Time

	now func() time.Time
}

func NewRollingMetrics(now func() time.Time) *RollingMetrics {
	if now == nil {
		now = time.Now
	}
	return &RollingMetrics{
		orders:       newRing(SizeWindow),
		trades:       newRing(SizeWindow),
		volumes:      newRing(VolumeWindow),
		avgOrderSize: defaultAvgOrderSize,
		avgTradeSize: defaultAvgTradeSize,
		volumeRate:   defaultVolumeRate,
		now:          now,
	}
}

// RecordOrder は新規注文のサイズを記録します
func (m *RollingMetrics) RecordOrder(size float64) {
	m.orders.push(size)
	m.maybeRecompute()
}

// RecordTrade は約定サイズを記録します
func (m *RollingMetrics) RecordTrade(size float64) {
	m.trades.push(size)
	m.maybeRecompute()
}

// RecordVolumeSample は一定期間の累積出来高を記録します
func (m *RollingMetrics) RecordVolumeSample(volume float64) {
	m.volumes.push(volume)
}

func (m *RollingMetrics) AverageOrderSize() float64 {
	return max(m.avgOrderSize, minAvgOrderSize)
}

func (m *RollingMetrics) AverageTradeSize() float64 {
	return max(m.avgTradeSize, minAvgTradeSize)
}

func (m *RollingMetrics) VolumeRate() float64 {
	return max(m.volumeRate, minVolumeRate)
}

// PercentileOrderSize は注文サイズの p パーセンタイルを返します。
// こちらはキャッシュせず、呼ばれるたびにスナップショットをソートします
func (m *RollingMetrics) PercentileOrderSize(p float64) float64 {
	sizes := m.orders.values()
	if len(sizes) == 0 {
		return emptyPercentile
	}
	sort.Float64s(sizes)

	idx := int(p / 100 * float64(len(sizes)))
	idx = min(max(idx, 0), len(sizes)-1)
	return max(sizes[idx], minPercentile)
}

func (m *RollingMetrics) maybeRecompute() {
	now := m.now()
	if !m.lastRecompute.IsZero() && now.Sub(m.lastRecompute) < RecomputeInterval {
		return
	}
	m.recompute()
	m.lastRecompute = now
}

func (m *RollingMetrics) recompute() {
	m.avgOrderSize = defaultAvgOrderSize
	if n := m.orders.len(); n > 0 {
		m.avgOrderSize = m.orders.sum() / float64(n)
	}

	m.avgTradeSize = defaultAvgTradeSize
	if n := m.trades.len(); n > 0 {
		m.avgTradeSize = m.trades.sum() / float64(n)
	}

	// 出来高レートはサンプルが2件以上たまってから、直近10件の平均で求めます
	m.volumeRate = defaultVolumeRate
	if m.volumes.len() >= 2 {
		recent := m.volumes.last(volumeRateSamples)
		total := 0.0
		for _, v := range recent {
			total += v
		}
		m.volumeRate = total / float64(len(recent))
	}
}

// ring は固定長のリングバッファです。満杯になると最も古い値から上書きします
type ring struct {
	buf  []float64
	next int
	full bool
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]float64, capacity)}
}

func (r *ring) push(v float64) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// values は古い順のコピーを返します
func (r *ring) values() []float64 {
	if !r.full {
		return append([]float64(nil), r.buf[:r.next]...)
	}
	out := make([]float64, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

// last は新しい方から n 件（古い順）を返します
func (r *ring) last(n int) []float64 {
	vs := r.values()
	if len(vs) > n {
		vs = vs[len(vs)-n:]
	}
	return vs
}

func (r *ring) sum() float64 {
	total := 0.0
	for i := 0; i < r.len(); i++ {
		total += r.buf[i]
	}
	return total
}
