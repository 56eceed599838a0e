package iceberg

import (
	"time"

	"github.com/r-umemoto/iceberg-detector/pkg/domain/market"
)

// Topic は通知の種類（配信先チャンネル）です
type Topic string

const (
	TopicDetection  Topic = "detection"
	TopicProgress   Topic = "progress"
	TopicCompletion Topic = "completion"
)

func (t Topic) Valid() bool {
	switch t {
	case TopicDetection, TopicProgress, TopicCompletion:
		return true
	}
	return false
}

// Notice はライフサイクルイベント（検知・進捗・完了）の構造化レコードです。
// 文字列への整形は通知側の責務です
type Notice struct {
	Topic      Topic
	Instrument string
	At         time.Time

	OrderID  string
	TraderID string
	Side     market.Side

	CurrentPrice float64
	PriceHistory []float64
	DistancePips float64

	CurrentSize    float64
	MaxVisibleSize float64
	TotalFilled    float64
	ActiveFilled   float64
	PassiveFilled  float64

	ExecutionRatio      float64
	ExecutionPercentage float64

	RefillCount       int
	SizeDecreaseCount int
	ReplaceCount      int
	PriceChanges      int

	Score  float64
	Reason string

	// Duration は完了通知のときだけ設定されます（確定から取消まで）
	Duration time.Duration
}

// Notifier は Notice を受け取る通知先です。
// Detector はイベント処理中に同期で呼び出すため、実装はブロックしてはいけません
type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc は関数を Notifier として使うためのアダプターです
type NotifierFunc func(n Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }
