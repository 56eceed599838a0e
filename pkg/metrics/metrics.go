package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/r-umemoto/iceberg-detector/pkg/domain/iceberg"
)

const namespace = "iceberg_detector"

// Metrics は検知エンジンと通知経路の Prometheus コレクターです
type Metrics struct {
	Events     *prometheus.CounterVec
	Backlog    *prometheus.CounterVec
	Notices    *prometheus.CounterVec
	Deliveries *prometheus.CounterVec

	ActiveOrders      *prometheus.GaugeVec
	PotentialIcebergs *prometheus.GaugeVec
	ConfirmedIcebergs *prometheus.GaugeVec
	TotalDetected     *prometheus.GaugeVec
	TotalCompleted    *prometheus.GaugeVec
	TriggerSize       *prometheus.GaugeVec
	AvgOrderSize      *prometheus.GaugeVec

	Instruments  prometheus.Gauge
	BreakerState *prometheus.GaugeVec
}

// New はコレクターを reg に登録して返します。
// テストでは prometheus.NewRegistry() を渡して登録の衝突を避けます
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	gauge := func(name, help string) *prometheus.GaugeVec {
		return f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, []string{"instrument"})
	}

	return &Metrics{
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Feed events routed to a detector.",
		}, []string{"instrument", "type"}),
		Backlog: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_full_total",
			Help:      "Events that had to wait because the instrument queue was full.",
		}, []string{"instrument"}),
		Notices: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notices_total",
			Help:      "Lifecycle notices emitted by detectors.",
		}, []string{"instrument", "topic"}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Notification deliveries by sink and result.",
		}, []string{"sink", "result"}),

		ActiveOrders:      gauge("active_orders", "Orders currently tracked."),
		PotentialIcebergs: gauge("potential_icebergs", "Tracked candidates not yet confirmed."),
		ConfirmedIcebergs: gauge("confirmed_icebergs", "Confirmed icebergs still on the book."),
		TotalDetected:     gauge("detected_total", "Icebergs confirmed since subscribe."),
		TotalCompleted:    gauge("completed_total", "Icebergs completed since subscribe."),
		TriggerSize:       gauge("trigger_size", "Current candidate trigger size."),
		AvgOrderSize:      gauge("avg_order_size", "Rolling average order size."),

		Instruments: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instruments",
			Help:      "Subscribed instruments.",
		}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0: closed, 1: half-open, 2: open).",
		}, []string{"name"}),
	}
}

// ObserveStats は銘柄の統計をゲージに反映します
func (m *Metrics) ObserveStats(st iceberg.Stats) {
	m.ActiveOrders.WithLabelValues(st.Instrument).Set(float64(st.ActiveOrders))
	m.PotentialIcebergs.WithLabelValues(st.Instrument).Set(float64(st.PotentialIcebergs))
	m.ConfirmedIcebergs.WithLabelValues(st.Instrument).Set(float64(st.ConfirmedIcebergs))
	m.TotalDetected.WithLabelValues(st.Instrument).Set(float64(st.TotalDetected))
	m.TotalCompleted.WithLabelValues(st.Instrument).Set(float64(st.TotalCompleted))
	m.TriggerSize.WithLabelValues(st.Instrument).Set(st.Thresholds.TriggerSize)
	m.AvgOrderSize.WithLabelValues(st.Instrument).Set(st.Thresholds.AvgOrderSize)
}

// Forget は購読解除された銘柄のラベルを削除します
func (m *Metrics) Forget(instrument string) {
	for _, g := range []*prometheus.GaugeVec{
		m.ActiveOrders, m.PotentialIcebergs, m.ConfirmedIcebergs,
		m.TotalDetected, m.TotalCompleted, m.TriggerSize, m.AvgOrderSize,
	} {
		g.DeleteLabelValues(instrument)
	}
}
