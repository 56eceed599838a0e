package service

import (
	"fmt"
	"html"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/r-umemoto/iceberg-detector/pkg/domain/iceberg"
)

const timestampLayout = "2006-01-02 15:04:05.000"

// Announcer は整形済みのお知らせを配信する先です
type Announcer interface {
	Announce(topic iceberg.Topic, text string)
}

// SessionReporter は銘柄の購読開始・終了をお知らせするサービスです。
// 終了時にはセッション中の統計を添えます
type SessionReporter struct {
	announcer Announcer
	logger    *zap.Logger
	now       func() time.Time
}

func NewSessionReporter(announcer Announcer, logger *zap.Logger) *SessionReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionReporter{
		announcer: announcer,
		logger:    logger.Named("session"),
		now:       time.Now,
	}
}

// Started は購読開始時に呼ばれます
func (r *SessionReporter) Started(instrument string) {
	r.logger.Info("🚀 検知を開始しました", zap.String("instrument", instrument))
	if r.announcer == nil {
		return
	}

	text := fmt.Sprintf("⏰ <b>%s</b>\n🚀 <b>Native Iceberg Detector Started @ %s</b>",
		r.now().Format(timestampLayout), html.EscapeString(instrument))
	r.announcer.Announce(iceberg.TopicDetection, text)
}

// Stopped は購読終了時に呼ばれます
func (r *SessionReporter) Stopped(st iceberg.Stats) {
	r.logger.Info("🛑 検知を終了しました",
		zap.String("instrument", st.Instrument),
		zap.Int("total_detected", st.TotalDetected),
		zap.Int("total_completed", st.TotalCompleted),
		zap.Int("active_orders", st.ActiveOrders),
	)
	if r.announcer == nil {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "⏰ <b>%s</b>\n", r.now().Format(timestampLayout))
	fmt.Fprintf(&b, "🛑 <b>Native Iceberg Detector Stopped @ %s</b>\n", html.EscapeString(st.Instrument))
	b.WriteString("\n📈 <b>Session Statistics:</b>\n")
	fmt.Fprintf(&b, "• Total Detected: %d\n", st.TotalDetected)
	fmt.Fprintf(&b, "• Total Completed: %d\n", st.TotalCompleted)
	fmt.Fprintf(&b, "• Currently Active: %d\n", st.ActiveOrders)
	fmt.Fprintf(&b, "• Potential Icebergs: %d\n", st.PotentialIcebergs)
	fmt.Fprintf(&b, "• Final Trigger Size: %.1f\n", st.Thresholds.TriggerSize)
	fmt.Fprintf(&b, "• Avg Order Size: %.1f\n", st.Thresholds.AvgOrderSize)
	b.WriteString("\n💡 <b>Status:</b> Native iceberg detection terminated")

	r.announcer.Announce(iceberg.TopicDetection, b.String())
}
