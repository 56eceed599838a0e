package iceberg

import "fmt"

// rule は確定ルールです。条件を満たしたら理由の文字列を返します
type rule struct {
	name  string
	match func(o *Order, s Settings) (string, bool)
}

// confirmationRules は先頭から評価され、最初に一致したものだけが採用されます
var confirmationRules = []rule{
	{name: "refill", match: refillPattern},
	{name: "execution-ratio", match: highExecutionRatio},
	{name: "volume", match: volumeBreach},
	{name: "partials", match: volumeBreachWithPartials},
	{name: "hidden-liquidity", match: hiddenLiquidity},
}

// admitted はアラート判定です。これを通らない注文はどのルールも評価しません
func admitted(o *Order, s Settings) bool {
	return o.ExecutionRatio() >= s.AlertExecutionRatio || o.TotalFilled >= s.AlertTotalFilled
}

func refillPattern(o *Order, s Settings) (string, bool) {
	score := o.Score()
	if o.RefillCount < s.MinRefillCount || score < s.MinScore {
		return "", false
	}
	return fmt.Sprintf("Native iceberg refill pattern (score: %.2f, exec_ratio: %.2fx, prices: %d)",
		score, o.ExecutionRatio(), len(o.PriceHistory)), true
}

func highExecutionRatio(o *Order, s Settings) (string, bool) {
	ratio := o.ExecutionRatio()
	if ratio < s.AlertExecutionRatio || o.CurrentSize < o.MinSizeSeen*s.NearMinSizeRatio {
		return "", false
	}
	return fmt.Sprintf("Native iceberg high execution ratio: %.2fx across %d price(s)",
		ratio, len(o.PriceHistory)), true
}

func volumeBreach(o *Order, s Settings) (string, bool) {
	if o.TotalFilled < s.AlertTotalFilled || o.SizeDecreaseCount < s.MinDecreasesForVolume {
		return "", false
	}
	return fmt.Sprintf("Native iceberg large volume: %.1f across %d price(s)",
		o.TotalFilled, len(o.PriceHistory)), true
}

func volumeBreachWithPartials(o *Order, s Settings) (string, bool) {
	if o.TotalFilled < s.AlertTotalFilled || o.SizeDecreaseCount < s.MinDecreasesForPartials {
		return "", false
	}
	return fmt.Sprintf("Native iceberg with partials: %.1f across %d price(s)",
		o.TotalFilled, len(o.PriceHistory)), true
}

func hiddenLiquidity(o *Order, s Settings) (string, bool) {
	ratio := o.ExecutionRatio()
	if ratio < s.AlertExecutionRatio || o.CurrentSize < o.InitialSize*s.HiddenLiquidityRatio {
		return "", false
	}
	return fmt.Sprintf("Native iceberg hidden liquidity: exec_ratio %.2fx, %d price changes",
		ratio, o.PriceChanges), true
}

// evaluate はアラート判定とルールを順に評価します
func evaluate(o *Order, s Settings) (reason string, ruleName string, ok bool) {
	if !admitted(o, s) {
		return "", "", false
	}
	for _, r := range confirmationRules {
		if reason, ok := r.match(o, s); ok {
			return reason, r.name, true
		}
	}
	return "", "", false
}
