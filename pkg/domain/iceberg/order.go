package iceberg

import (
	"time"

	"github.com/r-umemoto/iceberg-detector/pkg/domain/market"
)

// FillKind は約定をどの経路で知ったかを表します
type FillKind int

const (
	// FillInferred は Replace の数量減少から推定した約定です
	FillInferred FillKind = iota
	// FillMatched は約定プリントを価格帯で照合して割り当てた約定です
	FillMatched
	// FillDirect はフィードが注文IDを明示した約定です
	FillDirect
)

func (k FillKind) String() string {
	switch k {
	case FillInferred:
		return "inferred"
	case FillMatched:
		return "matched"
	case FillDirect:
		return "direct"
	}
	return "unknown"
}

type ReplaceEvent struct {
	At           time.Time
	OldSize      float64
	NewSize      float64
	OldPrice     float64
	NewPrice     float64
	PriceChanged bool
}

type ExecutionEvent struct {
	At        time.Time
	Size      float64
	Remaining float64
	Kind      FillKind
	Aggressor bool
}

// Order は注文ID単位で追跡している注文の状態です。
// 変更は Detector からのみ行います
type Order struct {
	ID       string
	TraderID string
	Side     market.Side

	InitialSize    float64
	CurrentSize    float64
	MaxVisibleSize float64
	MinSizeSeen    float64

	CurrentPrice float64
	// PriceHistory は訪れた価格の重複なしリストで、末尾が常に現在価格です
	PriceHistory []float64
	PriceChanges int
	levels       []market.Level

	TotalFilled   float64
	ActiveFilled  float64
	PassiveFilled float64

	RefillCount        int
	SizeDecreaseCount  int
	ConsecutiveRefills int

	ReplaceEvents   []ReplaceEvent
	ExecutionEvents []ExecutionEvent

	Candidate bool
	Confirmed bool
	Reason    string

	CreatedAt   time.Time
	LastUpdate  time.Time
	ConfirmedAt time.Time
	CompletedAt time.Time

	ExecutionPercentage float64
	LastReportedFilled  float64
}

func newOrder(id, traderID string, side market.Side, price, size float64, at time.Time) *Order {
	return &Order{
		ID:             id,
		TraderID:       traderID,
		Side:           side,
		InitialSize:    size,
		CurrentSize:    size,
		MaxVisibleSize: size,
		MinSizeSeen:    size,
		CurrentPrice:   price,
		PriceHistory:   []float64{price},
		levels:         []market.Level{market.LevelOf(price)},
		CreatedAt:      at,
		LastUpdate:     at,
	}
}

// Level は現在価格の価格帯キーです
func (o *Order) Level() market.Level {
	return o.levels[len(o.levels)-1]
}

// Levels は訪れた価格帯キーのコピーです
func (o *Order) Levels() []market.Level {
	return append([]market.Level(nil), o.levels...)
}

// replaceResult は Replace を反映した結果です
type replaceResult struct {
	From         market.Level
	To           market.Level
	PriceChanged bool
	Decrease     float64
}

// applyReplace は価格と表示数量の変更を反映します。
// 数量減少分は Decrease として返すだけで、約定としての計上は呼び出し側が決めます
func (o *Order) applyReplace(price, size float64, at time.Time) replaceResult {
	res := replaceResult{From: o.Level(), To: o.Level()}
	oldSize, oldPrice := o.CurrentSize, o.CurrentPrice

	if to := market.LevelOf(price); to != res.From {
		o.moveTo(price, to)
		res.To = to
		res.PriceChanged = true
	}

	delta := size - oldSize
	switch {
	case delta < 0:
		res.Decrease = -delta
		o.SizeDecreaseCount++
	case delta > 0 && oldSize < o.InitialSize:
		o.RefillCount++
		o.ConsecutiveRefills++
	case delta > 0:
		o.ConsecutiveRefills = 0
	}

	o.CurrentSize = size
	o.MinSizeSeen = min(o.MinSizeSeen, size)
	o.MaxVisibleSize = max(o.MaxVisibleSize, size)
	o.LastUpdate = at

	o.ReplaceEvents = append(o.ReplaceEvents, ReplaceEvent{
		At:           at,
		OldSize:      oldSize,
		NewSize:      size,
		OldPrice:     oldPrice,
		NewPrice:     o.CurrentPrice,
		PriceChanged: res.PriceChanged,
	})
	o.recomputeExecution()
	return res
}

// moveTo は価格を移動します。一度訪れた価格に戻った場合は履歴の末尾へ並べ替えます
func (o *Order) moveTo(price float64, level market.Level) {
	for i, l := range o.levels {
		if l == level {
			o.levels = append(o.levels[:i], o.levels[i+1:]...)
			o.PriceHistory = append(o.PriceHistory[:i], o.PriceHistory[i+1:]...)
			break
		}
	}
	o.levels = append(o.levels, level)
	o.PriceHistory = append(o.PriceHistory, price)
	o.CurrentPrice = price
	o.PriceChanges++
}

// recordFill は約定を計上する唯一の入口です。
// 推定約定は Replace で数量が既に反映済みなので、表示数量を減らすのは照合・明示の約定だけです
func (o *Order) recordFill(size float64, kind FillKind, aggressor bool, at time.Time) {
	if kind != FillInferred {
		o.CurrentSize = max(o.CurrentSize-size, 0)
		o.MinSizeSeen = min(o.MinSizeSeen, o.CurrentSize)
	}

	o.TotalFilled += size
	if aggressor {
		o.ActiveFilled += size
	} else {
		o.PassiveFilled += size
	}
	o.LastUpdate = at

	o.ExecutionEvents = append(o.ExecutionEvents, ExecutionEvent{
		At:        at,
		Size:      size,
		Remaining: o.CurrentSize,
		Kind:      kind,
		Aggressor: aggressor,
	})
	o.recomputeExecution()
}

func (o *Order) recomputeExecution() {
	estimated := max(o.TotalFilled+o.CurrentSize, o.MaxVisibleSize)
	if estimated > 0 {
		o.ExecutionPercentage = o.TotalFilled / estimated
	}
}

// ExecutionRatio は累計約定量と最大表示数量の比です
func (o *Order) ExecutionRatio() float64 {
	if o.MaxVisibleSize <= 0 {
		return 0
	}
	return o.TotalFilled / o.MaxVisibleSize
}

// Score はアイスバーグらしさを 0〜1 で返します
func (o *Order) Score() float64 {
	score := 0.0

	// 表示数量が安定している
	if o.MaxVisibleSize > 0 && o.MinSizeSeen/o.MaxVisibleSize > 0.3 {
		score += 0.3
	}
	// 補充（リフィル）の回数
	if o.RefillCount > 0 {
		score += min(0.4, float64(o.RefillCount)*0.1)
	}
	// 表示数量を大きく超えて約定している
	if ratio := o.ExecutionRatio(); ratio > 1.5 {
		score += min(0.3, ratio*0.1)
	}
	return min(score, 1.0)
}

// Stage は状態機械上の位置です
func (o *Order) Stage() Stage {
	switch {
	case !o.CompletedAt.IsZero():
		return StageCompleted
	case o.Confirmed:
		return StageConfirmed
	case o.Candidate:
		return StageCandidate
	}
	return StageTracked
}

type Stage string

const (
	StageTracked   Stage = "tracked"
	StageCandidate Stage = "candidate"
	StageConfirmed Stage = "confirmed"
	StageCompleted Stage = "completed"
)
