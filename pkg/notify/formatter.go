package notify

import (
	"context"
	"fmt"
	"html"
	"math"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/r-umemoto/iceberg-detector/pkg/domain/iceberg"
	"github.com/r-umemoto/iceberg-detector/pkg/domain/market"
	"github.com/r-umemoto/iceberg-detector/pkg/infra/quote"
)

// TimestampLayout はメッセージに載せる時刻の書式（ミリ秒まで）です
const TimestampLayout = "2006-01-02 15:04:05.000"

// criticalVolume を超えた完了通知は総約定量に 🆘 を付けます
const criticalVolume = 400

// Formatter は Notice を Telegram 向けの HTML テキストに整形します
type Formatter struct {
	quotes quote.Provider
}

func NewFormatter(quotes quote.Provider) *Formatter {
	if quotes == nil {
		quotes = quote.Unavailable{}
	}
	return &Formatter{quotes: quotes}
}

// Format は topic に応じたメッセージを組み立てます。参照価格はここで取得します
func (f *Formatter) Format(ctx context.Context, n iceberg.Notice) (string, error) {
	ref := f.quotes.PriceString(ctx, n.Side)

	var b strings.Builder
	fmt.Fprintf(&b, "💰 <b>%s</b>\n", sideIndicator(n.Side))
	fmt.Fprintf(&b, "⏰ <b>%s</b>\n", n.At.Format(TimestampLayout))

	switch n.Topic {
	case iceberg.TopicDetection:
		fmt.Fprintf(&b, "🧊 <b>NATIVE ICEBERG DETECTED @ %s @ %s</b>\n", escape(n.Instrument), ref)
		writeIdentity(&b, n, ref, "")
		fmt.Fprintf(&b, "📏 <b>Distance:</b> %.1f pips from best\n", n.DistancePips)
		fmt.Fprintf(&b, "🔢 <b>Current Size:</b> %s\n", thousands(n.CurrentSize))
		fmt.Fprintf(&b, "📈 <b>Max Visible:</b> %s\n", thousands(n.MaxVisibleSize))
		fmt.Fprintf(&b, "📊 <b>Total Filled:</b> %s\n", thousands(n.TotalFilled))
		fmt.Fprintf(&b, "📊 <b>Execution Ratio:</b> %.2fx\n", n.ExecutionRatio)
		fmt.Fprintf(&b, "🔄 <b>Refills:</b> %d\n", n.RefillCount)
		fmt.Fprintf(&b, "📉 <b>Size Decreases:</b> %d\n", n.SizeDecreaseCount)
		fmt.Fprintf(&b, "🔄 <b>Replace Events:</b> %d\n", n.ReplaceCount)
		fmt.Fprintf(&b, "🔀 <b>Price Changes:</b> %d\n", n.PriceChanges)
		fmt.Fprintf(&b, "🎯 <b>Score:</b> %.2f\n", n.Score)
		fmt.Fprintf(&b, "\n💡 <b>Reason:</b> %s", escape(n.Reason))

	case iceberg.TopicProgress:
		fmt.Fprintf(&b, "⚡ <b>NATIVE ICEBERG EXECUTION UPDATE @ %s @ %s</b>\n", escape(n.Instrument), ref)
		writeIdentity(&b, n, ref, " (Native)")
		fmt.Fprintf(&b, "📊 <b>Progress:</b> %.1f%% executed\n", n.ExecutionPercentage*100)
		fmt.Fprintf(&b, "📈 <b>Total Filled:</b> %s\n", thousands(n.TotalFilled))
		fmt.Fprintf(&b, "🔢 <b>Current Size:</b> %s\n", thousands(n.CurrentSize))
		fmt.Fprintf(&b, "📊 <b>Execution Ratio:</b> %.2fx visible size\n", n.ExecutionRatio)
		fmt.Fprintf(&b, "🔄 <b>Refills:</b> %d\n", n.RefillCount)
		fmt.Fprintf(&b, "🔄 <b>Replace Events:</b> %d\n", n.ReplaceCount)
		fmt.Fprintf(&b, "🔀 <b>Price Changes:</b> %d\n", n.PriceChanges)
		b.WriteString("🎯 <b>Status:</b> Being consumed")

	case iceberg.TopicCompletion:
		volume := thousands(n.TotalFilled)
		if n.TotalFilled > criticalVolume {
			volume = "🆘 " + volume
		}
		fmt.Fprintf(&b, "✅ <b>NATIVE ICEBERG FULLY EXECUTED @ %s @ %s</b>\n", escape(n.Instrument), ref)
		writeIdentity(&b, n, ref, "")
		fmt.Fprintf(&b, "📏 <b>Distance:</b> %.1f pips from best\n", n.DistancePips)
		b.WriteString("\n📊 <b>Final Statistics:</b>\n")
		fmt.Fprintf(&b, "📈 <b>Total Filled:</b> %s\n", volume)
		fmt.Fprintf(&b, "📈 <b>Max Visible:</b> %s\n", thousands(n.MaxVisibleSize))
		fmt.Fprintf(&b, "📊 <b>Execution Ratio:</b> %.2fx\n", n.ExecutionRatio)
		fmt.Fprintf(&b, "🔄 <b>Refills:</b> %d\n", n.RefillCount)
		fmt.Fprintf(&b, "📉 <b>Size Decreases:</b> %d\n", n.SizeDecreaseCount)
		fmt.Fprintf(&b, "🔄 <b>Replace Events:</b> %d\n", n.ReplaceCount)
		fmt.Fprintf(&b, "🔀 <b>Price Changes:</b> %d moves\n", n.PriceChanges)
		fmt.Fprintf(&b, "🎯 <b>Final Score:</b> %.2f\n", n.Score)
		fmt.Fprintf(&b, "⏱️ <b>Duration:</b> %.1f minutes", n.Duration.Minutes())

	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownTopic, n.Topic)
	}
	return b.String(), nil
}

func writeIdentity(b *strings.Builder, n iceberg.Notice, ref, suffix string) {
	fmt.Fprintf(b, "🆔 <b>Order ID:</b> <code>%s</code>%s\n", escape(n.OrderID), suffix)
	fmt.Fprintf(b, "👤 <b>Trader ID:</b> <code>%s</code>\n", escape(orNA(n.TraderID)))
	fmt.Fprintf(b, "💲 <b>Reference Price:</b> %s\n", ref)
	fmt.Fprintf(b, "💲 %s\n", market.FormatPrice(n.CurrentPrice))
	if len(n.PriceHistory) > 1 {
		lo, hi := slices.Min(n.PriceHistory), slices.Max(n.PriceHistory)
		fmt.Fprintf(b, "📊 <b>Price Range:</b> %s-%s (%d levels)\n",
			market.FormatPrice(lo), market.FormatPrice(hi), len(n.PriceHistory))
	}
}

func sideIndicator(side market.Side) string {
	if side.IsBid() {
		return "Side: BID 🟢 --BUY--"
	}
	return "Side: ASK 🔴 --SELL--"
}

func thousands(v float64) string {
	return humanize.Comma(int64(math.Round(v)))
}

func orNA(s string) string {
	if s == "" {
		return quote.NotAvailable
	}
	return s
}

func escape(s string) string {
	return html.EscapeString(s)
}
