package market

import "github.com/shopspring/decimal"

// levelScale は Level の分解能（10^-8）です
const levelScale = 8

// Level は価格を固定小数で量子化したキーです。
// 同じ価格が float64 の誤差で別キーにならないようにするため、板やインデックスのキーに使います
type Level int64

func LevelOf(price float64) Level {
	return Level(decimal.NewFromFloat(price).Shift(levelScale).Round(0).IntPart())
}

// Price は Level を元の価格に戻します
func (l Level) Price() float64 {
	return decimal.New(int64(l), -levelScale).InexactFloat64()
}

// FormatPrice は通知用に価格を小数2桁で整形します
func FormatPrice(price float64) string {
	return decimal.NewFromFloat(price).StringFixed(2)
}

// DistanceInPips は price と基準価格の差を pip 数で返します。
// 基準価格が無い場合や pip が 0 の場合は 0 を返します
func DistanceInPips(price, reference float64, hasReference bool, pip float64) float64 {
	if !hasReference || pip <= 0 {
		return 0
	}
	return decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(reference)).Abs().
		Div(decimal.NewFromFloat(pip)).InexactFloat64()
}
