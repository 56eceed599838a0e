package iceberg

import (
	"errors"
	"fmt"
	"time"

	"github.com/r-umemoto/iceberg-detector/pkg/domain/iceberg/matching"
	"github.com/r-umemoto/iceberg-detector/pkg/domain/market/calculator"
)

var ErrInvalidSettings = errors.New("invalid detection settings")

// Settings は銘柄ごとの検知パラメータです
type Settings struct {
	// SizeMultiplier で生の数量を割って正規化します。0 なら正規化しません
	SizeMultiplier float64
	// PipSize は距離計算に使う価格の刻みです
	PipSize float64

	Percentages calculator.Percentages

	// アラート判定（確定ルールの前段ゲート）
	AlertExecutionRatio float64
	AlertTotalFilled    float64

	// 確定ルール
	MinRefillCount          int
	MinScore                float64
	NearMinSizeRatio        float64
	MinDecreasesForVolume   int
	MinDecreasesForPartials int
	HiddenLiquidityRatio    float64

	MaxDistancePips float64

	// 進捗通知の間引き
	ExecutionThreshold float64
	ProgressDelta      float64

	IdleWindow           time.Duration
	VolumeSampleInterval time.Duration

	// InferFillsFromReplace が false なら、Replace による数量減少を約定として数えません
	InferFillsFromReplace bool
	// ConfirmOnCancel が true なら、未確定の注文が取り消された時点でもう一度アラート判定をします
	ConfirmOnCancel bool

	Matcher          string
	CompletedHistory int
}

func DefaultSettings() Settings {
	return Settings{
		Percentages:             calculator.DefaultPercentages(),
		AlertExecutionRatio:     5.0,
		AlertTotalFilled:        80,
		MinRefillCount:          1,
		MinScore:                0.4,
		NearMinSizeRatio:        0.8,
		MinDecreasesForVolume:   2,
		MinDecreasesForPartials: 3,
		HiddenLiquidityRatio:    0.6,
		MaxDistancePips:         50,
		ExecutionThreshold:      0.7,
		ProgressDelta:           20,
		IdleWindow:              6000 * time.Second,
		VolumeSampleInterval:    60 * time.Second,
		InferFillsFromReplace:   true,
		Matcher:                 matching.EvenSplitName,
		CompletedHistory:        100,
	}
}

// Validate はエンジンが動作できない設定を弾きます
func (s Settings) Validate() error {
	switch {
	case s.SizeMultiplier < 0:
		return fmt.Errorf("%w: size multiplier %v", ErrInvalidSettings, s.SizeMultiplier)
	case s.PipSize < 0:
		return fmt.Errorf("%w: pip size %v", ErrInvalidSettings, s.PipSize)
	case s.ExecutionThreshold <= 0 || s.ExecutionThreshold > 1:
		return fmt.Errorf("%w: execution threshold %v", ErrInvalidSettings, s.ExecutionThreshold)
	case s.ProgressDelta < 0:
		return fmt.Errorf("%w: progress delta %v", ErrInvalidSettings, s.ProgressDelta)
	case s.IdleWindow <= 0:
		return fmt.Errorf("%w: idle window %v", ErrInvalidSettings, s.IdleWindow)
	case s.VolumeSampleInterval <= 0:
		return fmt.Errorf("%w: volume sample interval %v", ErrInvalidSettings, s.VolumeSampleInterval)
	case s.CompletedHistory < 0:
		return fmt.Errorf("%w: completed history %d", ErrInvalidSettings, s.CompletedHistory)
	}
	return nil
}

func (s Settings) normalize(raw float64) float64 {
	if s.SizeMultiplier > 0 {
		return raw / s.SizeMultiplier
	}
	return raw
}
