package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/r-umemoto/iceberg-detector/pkg/domain/iceberg"
	"github.com/r-umemoto/iceberg-detector/pkg/domain/iceberg/matching"
	"github.com/r-umemoto/iceberg-detector/pkg/domain/market/calculator"
)

// Tuning は検知パラメータのファイル表現です
type Tuning struct {
	PipSize        float64 `mapstructure:"pip_size" validate:"gte=0"`
	SizeMultiplier float64 `mapstructure:"size_multiplier" validate:"gte=0"`

	TriggerPercentage    float64 `mapstructure:"trigger_percentage" validate:"gt=0"`
	MaxVisiblePercentage float64 `mapstructure:"max_visible_percentage" validate:"gt=0"`
	MinVisiblePercentage float64 `mapstructure:"min_visible_percentage" validate:"gt=0"`
	VolumePercentage     float64 `mapstructure:"volume_percentage" validate:"gt=0"`

	AlertExecutionRatio float64 `mapstructure:"alert_execution_ratio" validate:"gt=0"`
	AlertTotalFilled    float64 `mapstructure:"alert_total_filled" validate:"gt=0"`

	MinRefillCount          int     `mapstructure:"min_refill_count" validate:"gte=0"`
	MinScore                float64 `mapstructure:"min_score" validate:"gte=0,lte=1"`
	NearMinSizeRatio        float64 `mapstructure:"near_min_size_ratio" validate:"gte=0,lte=1"`
	MinDecreasesForVolume   int     `mapstructure:"min_decreases_for_volume" validate:"gte=0"`
	MinDecreasesForPartials int     `mapstructure:"min_decreases_for_partials" validate:"gte=0"`
	HiddenLiquidityRatio    float64 `mapstructure:"hidden_liquidity_ratio" validate:"gte=0,lte=1"`
	MaxDistancePips         float64 `mapstructure:"max_distance_pips" validate:"gte=0"`

	ExecutionThreshold float64 `mapstructure:"execution_threshold" validate:"gt=0,lte=1"`
	ProgressDelta      float64 `mapstructure:"progress_delta" validate:"gte=0"`

	IdleWindow           time.Duration `mapstructure:"idle_window" validate:"gt=0"`
	VolumeSampleInterval time.Duration `mapstructure:"volume_sample_interval" validate:"gt=0"`

	InferFillsFromReplace bool `mapstructure:"infer_fills_from_replace"`
	ConfirmOnCancel       bool `mapstructure:"confirm_on_cancel"`

	Matcher          string `mapstructure:"matcher" validate:"required"`
	CompletedHistory int    `mapstructure:"completed_history" validate:"gte=0"`
}

// Settings は検知エンジンの設定に変換します
func (t Tuning) Settings() iceberg.Settings {
	return iceberg.Settings{
		SizeMultiplier: t.SizeMultiplier,
		PipSize:        t.PipSize,
		Percentages: calculator.Percentages{
			Trigger:    t.TriggerPercentage,
			MaxVisible: t.MaxVisiblePercentage,
			MinVisible: t.MinVisiblePercentage,
			Volume:     t.VolumePercentage,
		},
		AlertExecutionRatio:     t.AlertExecutionRatio,
		AlertTotalFilled:        t.AlertTotalFilled,
		MinRefillCount:          t.MinRefillCount,
		MinScore:                t.MinScore,
		NearMinSizeRatio:        t.NearMinSizeRatio,
		MinDecreasesForVolume:   t.MinDecreasesForVolume,
		MinDecreasesForPartials: t.MinDecreasesForPartials,
		HiddenLiquidityRatio:    t.HiddenLiquidityRatio,
		MaxDistancePips:         t.MaxDistancePips,
		ExecutionThreshold:      t.ExecutionThreshold,
		ProgressDelta:           t.ProgressDelta,
		IdleWindow:              t.IdleWindow,
		VolumeSampleInterval:    t.VolumeSampleInterval,
		InferFillsFromReplace:   t.InferFillsFromReplace,
		ConfirmOnCancel:         t.ConfirmOnCancel,
		Matcher:                 t.Matcher,
		CompletedHistory:        t.CompletedHistory,
	}
}

// Instruments は銘柄ごとの検知設定です。ファイルに無い銘柄には defaults を使います
type Instruments struct {
	defaults iceberg.Settings
	// viper はキーを小文字にするので、銘柄名も小文字で引きます
	byName map[string]iceberg.Settings
}

// Settings は usecase.SettingsSource の実装です
func (i *Instruments) Settings(instrument string) iceberg.Settings {
	if s, ok := i.byName[strings.ToLower(instrument)]; ok {
		return s
	}
	return i.defaults
}

// Names はファイルで個別に設定されている銘柄名（小文字）です
func (i *Instruments) Names() []string {
	out := make([]string, 0, len(i.byName))
	for name := range i.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

type instrumentsFile struct {
	Defaults    Tuning                    `mapstructure:"defaults"`
	Instruments map[string]map[string]any `mapstructure:"instruments"`
}

// LoadInstruments は検知設定の YAML を読み込みます。
// ファイルが無い場合は組み込みの既定値だけで動作します
func LoadInstruments(path string) (*Instruments, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read instruments file %s: %w", path, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	var file instrumentsFile
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("unmarshal instruments file: %w", err)
	}

	validate := validator.New()
	defaults, err := checked(validate, "defaults", file.Defaults)
	if err != nil {
		return nil, err
	}

	out := &Instruments{defaults: defaults, byName: make(map[string]iceberg.Settings)}
	for name, raw := range file.Instruments {
		// 書かれているキーだけを defaults に上書きします
		sub := viper.New()
		if err := sub.MergeConfigMap(raw); err != nil {
			return nil, fmt.Errorf("instrument %s: %w", name, err)
		}
		t := file.Defaults
		if err := sub.Unmarshal(&t); err != nil {
			return nil, fmt.Errorf("instrument %s: %w", name, err)
		}
		s, err := checked(validate, name, t)
		if err != nil {
			return nil, err
		}
		out.byName[strings.ToLower(name)] = s
	}
	return out, nil
}

func checked(validate *validator.Validate, name string, t Tuning) (iceberg.Settings, error) {
	if err := validate.Struct(t); err != nil {
		return iceberg.Settings{}, fmt.Errorf("config validation failed (%s): %w", name, err)
	}
	if _, err := matching.Get(t.Matcher); err != nil {
		return iceberg.Settings{}, fmt.Errorf("config validation failed (%s): %w", name, err)
	}
	s := t.Settings()
	if err := s.Validate(); err != nil {
		return iceberg.Settings{}, fmt.Errorf("config validation failed (%s): %w", name, err)
	}
	return s, nil
}

func setDefaults(v *viper.Viper) {
	d := iceberg.DefaultSettings()
	set := func(key string, value any) { v.SetDefault("defaults."+key, value) }

	set("pip_size", d.PipSize)
	set("size_multiplier", d.SizeMultiplier)
	set("trigger_percentage", d.Percentages.Trigger)
	set("max_visible_percentage", d.Percentages.MaxVisible)
	set("min_visible_percentage", d.Percentages.MinVisible)
	set("volume_percentage", d.Percentages.Volume)
	set("alert_execution_ratio", d.AlertExecutionRatio)
	set("alert_total_filled", d.AlertTotalFilled)
	set("min_refill_count", d.MinRefillCount)
	set("min_score", d.MinScore)
	set("near_min_size_ratio", d.NearMinSizeRatio)
	set("min_decreases_for_volume", d.MinDecreasesForVolume)
	set("min_decreases_for_partials", d.MinDecreasesForPartials)
	set("hidden_liquidity_ratio", d.HiddenLiquidityRatio)
	set("max_distance_pips", d.MaxDistancePips)
	set("execution_threshold", d.ExecutionThreshold)
	set("progress_delta", d.ProgressDelta)
	set("idle_window", d.IdleWindow)
	set("volume_sample_interval", d.VolumeSampleInterval)
	set("infer_fills_from_replace", d.InferFillsFromReplace)
	set("confirm_on_cancel", d.ConfirmOnCancel)
	set("matcher", d.Matcher)
	set("completed_history", d.CompletedHistory)
}
