package calculator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type staticMetrics struct {
	avg, p75, rate float64
}

func (s staticMetrics) AverageOrderSize() float64           { return s.avg }
func (s staticMetrics) PercentileOrderSize(float64) float64 { return s.p75 }
func (s staticMetrics) VolumeRate() float64                 { return s.rate }

func TestCompute(t *testing.T) {
	tests := []struct {
		name string
		src  staticMetrics
		want Thresholds
	}{
		{
			name: "平均50の標準的な市場",
			src:  staticMetrics{avg: 50, p75: 50, rate: 100},
			want: Thresholds{TriggerSize: 25, MaxVisibleSize: 75, MinVisibleSize: 10, VolumeThreshold: 30, AvgOrderSize: 50},
		},
		{
			name: "下限クランプ",
			src:  staticMetrics{avg: 10, p75: 20, rate: 50},
			want: Thresholds{TriggerSize: 20, MaxVisibleSize: 50, MinVisibleSize: 10, VolumeThreshold: 15, AvgOrderSize: 10},
		},
		{
			name: "上限クランプ",
			src:  staticMetrics{avg: 5000, p75: 4000, rate: 1000},
			want: Thresholds{TriggerSize: 500, MaxVisibleSize: 1000, MinVisibleSize: 100, VolumeThreshold: 300, AvgOrderSize: 5000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(tt.src, DefaultPercentages())
			assert.InDelta(t, tt.want.TriggerSize, got.TriggerSize, 1e-9)
			assert.InDelta(t, tt.want.MaxVisibleSize, got.MaxVisibleSize, 1e-9)
			assert.InDelta(t, tt.want.MinVisibleSize, got.MinVisibleSize, 1e-9)
			assert.InDelta(t, tt.want.VolumeThreshold, got.VolumeThreshold, 1e-9)
			assert.Equal(t, tt.want.AvgOrderSize, got.AvgOrderSize)
		})
	}
}

func TestCompute_WithRollingMetrics(t *testing.T) {
	m := NewRollingMetrics(newClock().now)
	got := Compute(m, DefaultPercentages())

	// 空の状態: avg=50, p75=100 -> trigger=max(5,50)=50
	assert.Equal(t, 50.0, got.TriggerSize)
	assert.Equal(t, 75.0, got.MaxVisibleSize)
	assert.Equal(t, 10.0, got.MinVisibleSize)
}
