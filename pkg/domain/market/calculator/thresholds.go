package calculator

// Percentages は平均注文サイズ・出来高レートに掛ける割合（%）です
type Percentages struct {
	Trigger    float64
	MaxVisible float64
	MinVisible float64
	Volume     float64
}

func DefaultPercentages() Percentages {
	return Percentages{
		Trigger:    10,
		MaxVisible: 150,
		MinVisible: 10,
		Volume:     30,
	}
}

// Thresholds は市場の状況に合わせて算出された検知しきい値です
type Thresholds struct {
	TriggerSize     float64
	MaxVisibleSize  float64
	MinVisibleSize  float64
	VolumeThreshold float64
	AvgOrderSize    float64
}

// MetricsSource はしきい値計算に必要な市場指標です
type MetricsSource interface {
	AverageOrderSize() float64
	PercentileOrderSize(p float64) float64
	VolumeRate() float64
}

// Compute は市場指標からしきい値を算出する純粋関数です。
// ウォームアップ中や極端な相場で値が暴れないよう、出来高以外は上下限でクランプします
func Compute(src MetricsSource, pct Percentages) Thresholds {
	avg := src.AverageOrderSize()

	trigger := max(avg*pct.Trigger/100, src.PercentileOrderSize(75)*0.5)

	return Thresholds{
		TriggerSize:     clamp(trigger, 20, 500),
		MaxVisibleSize:  clamp(avg*pct.MaxVisible/100, 50, 1000),
		MinVisibleSize:  clamp(avg*pct.MinVisible/100, 10, 100),
		VolumeThreshold: src.VolumeRate() * pct.Volume / 100,
		AvgOrderSize:    avg,
	}
}

func clamp(v, lo, hi float64) float64 {
	return max(min(v, hi), lo)
}
