package iceberg

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r-umemoto/iceberg-detector/pkg/domain/iceberg/matching"
	"github.com/r-umemoto/iceberg-detector/pkg/domain/market"
)

func TestNewDetector_InvalidSettings(t *testing.T) {
	s := DefaultSettings()
	s.IdleWindow = 0
	_, err := NewDetector("X", s, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidSettings)

	s = DefaultSettings()
	s.Matcher = "fifo"
	_, err = NewDetector("X", s, nil, nil)
	assert.ErrorIs(t, err, matching.ErrStrategyNotFound)
}

func TestDetector_LargeOrderIsNotCandidate(t *testing.T) {
	d, rec, _ := newTestDetector(t, nil)

	// 平均注文サイズ 50 の市場を作る
	for i := 0; i < 10; i++ {
		d.metrics.RecordOrder(50)
	}

	d.OnNewOrder("big", market.SideBid, 100.00, 200, "")

	th := d.Thresholds()
	assert.Equal(t, 75.0, th.MaxVisibleSize)
	assert.Equal(t, 25.0, th.TriggerSize)

	o, ok := d.orders["big"]
	require.True(t, ok, "最小表示数量以上なので追跡はされる")
	assert.False(t, o.Candidate, "最大表示数量 75 を超えるので候補にはならない")
	assert.Empty(t, rec.notices)
}

func TestDetector_RefillPatternConfirmsOnce(t *testing.T) {
	d, rec, clock := newTestDetector(t, nil)

	d.OnNewOrder("ice", market.SideBid, 100.00, 40, "trader-7")
	require.Contains(t, d.orders, "ice")
	assert.True(t, d.orders["ice"].Candidate)

	// 40 -> 10 -> 40 を繰り返す。3回目の減少で累計90となりアラート判定を通る
	replaceSizes(d, clock, "ice", 10, 40, 10, 40)
	assert.Empty(t, rec.notices)

	replaceSizes(d, clock, "ice", 10)
	detections := rec.byTopic(TopicDetection)
	require.Len(t, detections, 1)
	assert.Contains(t, detections[0].Reason, "refill pattern")
	assert.Equal(t, 90.0, detections[0].TotalFilled)
	assert.Equal(t, "trader-7", detections[0].TraderID)

	replaceSizes(d, clock, "ice", 40, 10, 40)

	o := d.orders["ice"]
	assert.Equal(t, 4, o.RefillCount)
	assert.Equal(t, 120.0, o.TotalFilled)
	assert.True(t, o.Confirmed)
	assert.Len(t, rec.byTopic(TopicDetection), 1, "確定通知は一度だけ")

	// 120 - 90 >= 20 かつ 約定率 120/130 >= 0.7
	progress := rec.byTopic(TopicProgress)
	require.Len(t, progress, 1)
	assert.Equal(t, 120.0, progress[0].TotalFilled)

	clock.advance(3 * time.Minute)
	d.OnCancel("ice")

	completions := rec.byTopic(TopicCompletion)
	require.Len(t, completions, 1)
	assert.Equal(t, 4, completions[0].RefillCount)
	assert.Equal(t, 8, completions[0].ReplaceCount)
	assert.Equal(t, 3*time.Minute+3*time.Second, completions[0].Duration)
	assert.Empty(t, d.orders)
	assert.Equal(t, 0, d.index.Levels())

	st := d.Stats()
	assert.Equal(t, 1, st.TotalDetected)
	assert.Equal(t, 1, st.TotalCompleted)
	assert.Equal(t, 1, st.CompletedIcebergs)
	require.Len(t, d.Completed(), 1)
	assert.Equal(t, "ice", d.Completed()[0].OrderID)
}

func TestDetector_ProgressThrottling(t *testing.T) {
	d, rec, clock := newTestDetector(t, nil)

	d.OnNewOrder("ice", market.SideAsk, 101.00, 50, "")
	replaceSizes(d, clock, "ice", 10, 50, 10)

	o := d.orders["ice"]
	require.True(t, o.Confirmed)
	assert.Contains(t, o.Reason, "large volume")
	assert.Equal(t, 50.0, o.MaxVisibleSize)
	assert.Equal(t, 80.0, o.LastReportedFilled)
	assert.Empty(t, rec.byTopic(TopicProgress), "確定直後に進捗通知は出ない")

	var counts []int
	for i := 0; i < 8; i++ {
		clock.advance(time.Second)
		d.OnExecution("ice", 5, false)
		counts = append(counts, len(rec.byTopic(TopicProgress)))
	}

	assert.Equal(t, []int{0, 0, 0, 1, 1, 1, 1, 2}, counts)
	progress := rec.byTopic(TopicProgress)
	assert.Equal(t, 100.0, progress[0].TotalFilled)
	assert.Equal(t, 120.0, progress[1].TotalFilled)
	for _, n := range progress {
		assert.GreaterOrEqual(t, n.ExecutionPercentage, 0.7)
	}
}

func TestDetector_NoProgressBeforeConfirmation(t *testing.T) {
	d, rec, _ := newTestDetector(t, func(s *Settings) {
		s.AlertTotalFilled = 1e9
		s.AlertExecutionRatio = 1e9
	})

	d.OnNewOrder("o", market.SideBid, 100, 50, "")
	for i := 0; i < 20; i++ {
		d.OnExecution("o", 5, false)
	}
	assert.Empty(t, rec.notices)
	assert.False(t, d.orders["o"].Confirmed)
}

func TestDetector_CancelBelowMinVisible(t *testing.T) {
	d, rec, _ := newTestDetector(t, nil)
	for i := 0; i < 10; i++ {
		d.metrics.RecordOrder(50)
	}

	d.OnNewOrder("tiny", market.SideBid, 100, 5, "")
	assert.NotContains(t, d.orders, "tiny")

	d.OnCancel("tiny")
	assert.Empty(t, rec.notices)
	assert.Equal(t, 0, d.index.Levels())

	// 追跡中だが未確定の注文の取消
	d.OnNewOrder("mid", market.SideBid, 100, 40, "")
	d.OnReplace("mid", 100.5, 40)
	d.OnCancel("mid")
	assert.Empty(t, rec.notices)
	assert.Empty(t, d.orders)
	assert.Equal(t, 0, d.index.Levels())
}

func TestDetector_UnknownOrderReferencesAreIgnored(t *testing.T) {
	d, rec, _ := newTestDetector(t, nil)

	d.OnReplace("nope", 100, 10)
	d.OnCancel("nope")
	d.OnExecution("nope", 10, true)
	d.OnTrade(100, 10, market.SideBid, "nope", "nope2")

	assert.Empty(t, rec.notices)
	assert.Empty(t, d.orders)
}

func TestDetector_FirstOrderSeedsThresholds(t *testing.T) {
	d, _, _ := newTestDetector(t, nil)

	// 空の検知エンジンでは最初の注文がそのまま平均になり、しきい値もそこから決まります
	d.OnNewOrder("big", market.SideBid, 100, 200, "")

	th := d.Thresholds()
	assert.Equal(t, 100.0, th.TriggerSize)
	assert.Equal(t, 300.0, th.MaxVisibleSize)
	require.Contains(t, d.orders, "big")
	assert.True(t, d.orders["big"].Candidate)
}

func TestDetector_MalformedInput(t *testing.T) {
	d, _, _ := newTestDetector(t, nil)

	d.OnNewOrder("neg", market.SideBid, 100, -5, "")
	d.OnNewOrder("side", market.Side("MID"), 100, 40, "")
	d.OnNewOrder("", market.SideBid, 100, 40, "")
	d.OnNewOrder("nan", market.SideBid, math.NaN(), 40, "")
	d.OnNewOrder("zero", market.SideBid, 0, 40, "")
	d.OnNewOrder("negative", market.SideAsk, -5, 40, "")
	assert.Empty(t, d.orders)

	d.OnNewOrder("ok", market.SideBid, 100, 40, "")
	d.OnReplace("ok", 100, math.NaN())
	d.OnReplace("ok", 100, -1)
	d.OnExecution("ok", -3, false)
	d.OnTrade(100, 10, market.Side(""), "", "")
	d.OnDepthUpdate(market.Side("?"), 100, 10)
	// 価格が省略された Replace は 0 として届きます
	d.OnReplace("ok", 0, 30)
	d.OnReplace("ok", -5, 30)
	d.OnTrade(0, 10, market.SideAsk, "", "")

	o := d.orders["ok"]
	assert.Equal(t, 40.0, o.CurrentSize)
	assert.Equal(t, 100.0, o.CurrentPrice)
	assert.Equal(t, []float64{100}, o.PriceHistory)
	assert.Equal(t, 0.0, o.TotalFilled)
	assert.Empty(t, o.ReplaceEvents)
	assert.Equal(t, []string{"ok"}, d.index.OrdersAt(market.LevelOf(100)))
	assert.Empty(t, d.index.OrdersAt(market.LevelOf(0)))
	assertIndexConsistent(t, d)
}

func TestDetector_ReusedIDWithSmallSizeDropsStaleOrder(t *testing.T) {
	d, _, _ := newTestDetector(t, nil)

	d.OnNewOrder("x", market.SideBid, 100, 40, "")
	require.Contains(t, d.orders, "x")

	// 同じIDで最小表示数量未満の新規注文が来たら、古い注文は追跡から外れます
	d.OnNewOrder("x", market.SideAsk, 105, 2, "")
	assert.NotContains(t, d.orders, "x")
	assert.Empty(t, d.index.OrdersAt(market.LevelOf(100)))
	assert.Empty(t, d.index.OrdersAt(market.LevelOf(105)))

	d.OnTrade(100, 10, market.SideAsk, "", "")
	assert.Equal(t, 0, d.Stats().ActiveOrders)
	assertIndexConsistent(t, d)
}

func TestDetector_SizeMultiplier(t *testing.T) {
	d, _, _ := newTestDetector(t, func(s *Settings) { s.SizeMultiplier = 10 })

	d.OnNewOrder("o", market.SideBid, 100, 400, "")
	require.Contains(t, d.orders, "o")
	assert.Equal(t, 40.0, d.orders["o"].CurrentSize)

	d.OnReplace("o", 100, 100)
	assert.Equal(t, 10.0, d.orders["o"].CurrentSize)
	assert.Equal(t, 30.0, d.orders["o"].TotalFilled)
}

func TestDetector_TradeMatchingEvenSplit(t *testing.T) {
	d, _, _ := newTestDetector(t, nil)

	d.OnNewOrder("a", market.SideBid, 100, 40, "")
	d.OnNewOrder("b", market.SideBid, 100, 20, "")
	d.OnNewOrder("c", market.SideAsk, 100.5, 40, "")

	// 売りのアグレッサーが買い板を叩く
	d.OnTrade(100, 30, market.SideAsk, "", "")
	assert.Equal(t, 15.0, d.orders["a"].TotalFilled)
	assert.Equal(t, 15.0, d.orders["b"].TotalFilled)
	assert.Equal(t, 5.0, d.orders["b"].CurrentSize)

	// 表示数量で頭打ち
	d.OnTrade(100, 40, market.SideAsk, "", "")
	assert.Equal(t, 35.0, d.orders["a"].TotalFilled)
	assert.Equal(t, 20.0, d.orders["b"].TotalFilled)
	assert.Equal(t, 0.0, d.orders["b"].CurrentSize)

	// 同じ側のアグレッサーとは照合しない
	d.OnTrade(100, 10, market.SideBid, "", "")
	assert.Equal(t, 35.0, d.orders["a"].TotalFilled)

	// 誰もいない価格の約定は捨てる
	d.OnTrade(99, 10, market.SideAsk, "", "")
	assert.Equal(t, 0.0, d.orders["c"].TotalFilled)
}

func TestDetector_ReplaceAfterTradeIsNotDoubleCounted(t *testing.T) {
	d, _, _ := newTestDetector(t, nil)

	d.OnNewOrder("o", market.SideBid, 100, 40, "")
	d.OnTrade(100, 30, market.SideAsk, "", "")
	require.Equal(t, 30.0, d.orders["o"].TotalFilled)

	// フィードが同じ約定を Replace として後追いで通知してくる
	d.OnReplace("o", 100, 10)
	o := d.orders["o"]
	assert.Equal(t, 30.0, o.TotalFilled)
	assert.Equal(t, 0, o.SizeDecreaseCount)

	// それ以上の減少分だけが推定約定になる
	d.OnReplace("o", 100, 5)
	assert.Equal(t, 35.0, o.TotalFilled)
	assert.Equal(t, 1, o.SizeDecreaseCount)
}

func TestDetector_DirectExecutionTakesPrecedence(t *testing.T) {
	d, _, _ := newTestDetector(t, nil)

	d.OnNewOrder("a", market.SideBid, 100, 40, "")
	d.OnNewOrder("b", market.SideBid, 100, 40, "")
	d.OnNewOrder("agg", market.SideAsk, 100.5, 40, "")

	d.OnTrade(100, 10, market.SideAsk, "agg", "a")

	assert.Equal(t, 10.0, d.orders["a"].PassiveFilled)
	assert.Equal(t, 0.0, d.orders["b"].TotalFilled, "均等割りは行わない")
	assert.Equal(t, 10.0, d.orders["agg"].ActiveFilled)
	assert.Equal(t, FillDirect, d.orders["a"].ExecutionEvents[0].Kind)
}

func TestDetector_TradeOnlyFills(t *testing.T) {
	d, _, clock := newTestDetector(t, func(s *Settings) { s.InferFillsFromReplace = false })

	d.OnNewOrder("o", market.SideBid, 100, 40, "")
	replaceSizes(d, clock, "o", 10, 40, 10)

	o := d.orders["o"]
	assert.Equal(t, 0.0, o.TotalFilled)
	assert.Equal(t, 2, o.SizeDecreaseCount)
	assert.Equal(t, 1, o.RefillCount)
}

func TestDetector_ConfirmOnCancel(t *testing.T) {
	d, rec, _ := newTestDetector(t, func(s *Settings) { s.ConfirmOnCancel = true })

	d.OnNewOrder("o", market.SideBid, 100, 40, "")
	d.OnExecution("o", 90, false)
	require.False(t, d.orders["o"].Confirmed, "どのルールにも一致しない")

	d.OnCancel("o")
	require.Len(t, rec.notices, 1)
	assert.Equal(t, TopicCompletion, rec.notices[0].Topic)
	assert.Equal(t, confirmedAtCancel, rec.notices[0].Reason)
	assert.Equal(t, 1, d.Stats().TotalDetected)
	assert.Equal(t, 1, d.Stats().TotalCompleted)
}

func TestDetector_ExpirySweepIsSilent(t *testing.T) {
	d, rec, clock := newTestDetector(t, nil)

	d.OnNewOrder("ice", market.SideBid, 100, 50, "")
	replaceSizes(d, clock, "ice", 10, 50, 10)
	require.True(t, d.orders["ice"].Confirmed)
	rec.notices = nil

	d.OnNewOrder("fresh", market.SideBid, 100.5, 50, "")

	clock.advance(d.settings.IdleWindow - time.Second)
	d.OnReplace("fresh", 100.5, 45)
	clock.advance(2 * time.Second)
	d.OnTimerTick()

	assert.NotContains(t, d.orders, "ice")
	assert.Contains(t, d.orders, "fresh")
	assert.Empty(t, rec.notices, "期限切れは通知しない")
	assert.Equal(t, 0, d.Stats().TotalCompleted)
	assertIndexConsistent(t, d)
}

func TestDetector_DistanceGate(t *testing.T) {
	d, _, _ := newTestDetector(t, func(s *Settings) { s.PipSize = 0.1 })

	d.OnDepthUpdate(market.SideAsk, 101.0, 10)
	d.OnDepthUpdate(market.SideBid, 100.0, 10)

	d.OnNewOrder("near", market.SideBid, 100.0, 40, "")
	d.OnNewOrder("far", market.SideBid, 90.0, 40, "")

	assert.True(t, d.orders["near"].Candidate)
	assert.False(t, d.orders["far"].Candidate)
	assert.Equal(t, 1, d.Stats().PotentialIcebergs)
	assert.Equal(t, 2, d.Stats().ActiveOrders)
}

func TestDetector_PriceMigration(t *testing.T) {
	d, _, _ := newTestDetector(t, nil)

	d.OnNewOrder("o", market.SideAsk, 100, 40, "")
	d.OnReplace("o", 100.5, 40)

	assert.Empty(t, d.index.OrdersAt(market.LevelOf(100)))
	assert.Equal(t, []string{"o"}, d.index.OrdersAt(market.LevelOf(100.5)))

	d.OnReplace("o", 100, 40)
	o := d.orders["o"]
	assert.Equal(t, []float64{100.5, 100}, o.PriceHistory)
	assert.Equal(t, 2, o.PriceChanges)
	assertIndexConsistent(t, d)

	// 移動後の価格で約定が照合される
	d.OnTrade(100, 10, market.SideBid, "", "")
	assert.Equal(t, 10.0, o.TotalFilled)

	d.OnCancel("o")
	assert.Equal(t, 0, d.index.Levels())
}

func TestDetector_VolumeSampling(t *testing.T) {
	d, _, clock := newTestDetector(t, nil)

	// サンプルが2件たまるまでは既定の出来高レートのまま
	d.OnTrade(100, 100, market.SideBid, "", "")
	clock.advance(61 * time.Second)
	d.OnTrade(100, 100, market.SideBid, "", "")
	clock.advance(61 * time.Second)
	d.OnTrade(100, 100, market.SideBid, "", "")
	assert.Equal(t, 100.0, d.metrics.VolumeRate())

	// 200 と 100 の2サンプルの平均
	clock.advance(6 * time.Second)
	d.OnTrade(100, 100, market.SideBid, "", "")
	assert.Equal(t, 150.0, d.metrics.VolumeRate())
	assert.Equal(t, 45.0, d.Thresholds().VolumeThreshold)
}

func TestDetector_CompletedHistoryIsBounded(t *testing.T) {
	d, _, clock := newTestDetector(t, func(s *Settings) { s.CompletedHistory = 2 })

	for _, id := range []string{"a", "b", "c"} {
		d.OnNewOrder(id, market.SideBid, 100, 50, "")
		replaceSizes(d, clock, id, 10, 50, 10)
		require.True(t, d.orders[id].Confirmed)
		d.OnCancel(id)
	}

	completed := d.Completed()
	require.Len(t, completed, 2)
	assert.Equal(t, "b", completed[0].OrderID)
	assert.Equal(t, "c", completed[1].OrderID)
	assert.Equal(t, 3, d.Stats().TotalCompleted)
}

func TestDetector_RandomReplacesKeepStateConsistent(t *testing.T) {
	d, rec, clock := newTestDetector(t, nil)
	rng := rand.New(rand.NewSource(42))

	prices := []float64{100, 100.25, 100.5, 100.75}
	d.OnNewOrder("o", market.SideBid, prices[0], 40, "")
	o := d.orders["o"]

	decreased := 0.0
	lastFilled := 0.0
	wasConfirmed := false

	for i := 0; i < 500; i++ {
		clock.advance(time.Second)
		size := float64(rng.Intn(60) + 1)
		price := prices[rng.Intn(len(prices))]

		if size < o.CurrentSize {
			decreased += o.CurrentSize - size
		}
		d.OnReplace("o", price, size)

		assert.Equal(t, size, o.CurrentSize)
		assert.Equal(t, decreased, o.TotalFilled)
		assert.GreaterOrEqual(t, o.TotalFilled, lastFilled)
		lastFilled = o.TotalFilled

		seen := make(map[float64]bool)
		for _, p := range o.PriceHistory {
			require.False(t, seen[p], "価格履歴に重複: %v", p)
			seen[p] = true
		}
		assert.Equal(t, o.CurrentPrice, o.PriceHistory[len(o.PriceHistory)-1])

		score := o.Score()
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)

		assert.LessOrEqual(t, o.MinSizeSeen, o.CurrentSize)
		if wasConfirmed {
			assert.True(t, o.Confirmed)
		}
		wasConfirmed = o.Confirmed
		assertIndexConsistent(t, d)
	}

	assert.LessOrEqual(t, len(rec.byTopic(TopicDetection)), 1)
	for _, n := range rec.byTopic(TopicProgress) {
		assert.GreaterOrEqual(t, n.ExecutionPercentage, 0.7)
	}
}
