package market

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
)

var (
	ErrUnknownSide  = errors.New("unknown side")
	ErrInvalidSize  = errors.New("invalid size")
	ErrInvalidPrice = errors.New("invalid price")
)

// Side は注文や約定の売買方向です
type Side string

const (
	SideBid Side = "BID"
	SideAsk Side = "ASK"
)

// ParseSide はフィードの表記ゆれ（bid/buy/ask/sell）を吸収して Side に変換します
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bid", "buy", "b":
		return SideBid, nil
	case "ask", "sell", "offer", "s":
		return SideAsk, nil
	}
	return "", ErrUnknownSide
}

func SideOf(isBid bool) Side {
	if isBid {
		return SideBid
	}
	return SideAsk
}

func (s Side) Valid() bool {
	return s == SideBid || s == SideAsk
}

func (s Side) IsBid() bool {
	return s == SideBid
}

func (s Side) Opposite() Side {
	if s == SideBid {
		return SideAsk
	}
	return SideBid
}

// ValidateSize は数量が非負の有限値であることを確認します
func ValidateSize(size float64) error {
	if math.IsNaN(size) || math.IsInf(size, 0) || size < 0 {
		return ErrInvalidSize
	}
	return nil
}

// ValidatePrice は価格が正の有限値であることを確認します。
// フィードで価格が省略されると 0 になるので、0 も不正として扱います
func ValidatePrice(price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return ErrInvalidPrice
	}
	return nil
}

// Event はフィードから流れてくるイベントの共通規格です。
// どの銘柄のイベントかだけを知っていれば、ルーティングできます
type Event interface {
	InstrumentID() string
}

// Subscribe は銘柄の購読開始です。PipSize / SizeMultiplier が正ならファイル設定より優先されます
type Subscribe struct {
	Instrument     string
	PipSize        float64
	SizeMultiplier float64
}

type Unsubscribe struct {
	Instrument string
}

// NewOrder は板に新しく載った注文（MBO）です
type NewOrder struct {
	Instrument string
	OrderID    string
	Side       Side
	Price      float64
	Size       float64
	TraderID   string
}

// Replace は既存注文の価格・数量の変更です
type Replace struct {
	Instrument string
	OrderID    string
	Price      float64
	Size       float64
}

type Cancel struct {
	Instrument string
	OrderID    string
}

// Trade は約定プリントです。Side はアグレッサー側を表します
type Trade struct {
	Instrument       string
	Price            float64
	Size             float64
	Side             Side
	AggressorOrderID string
	PassiveOrderID   string
}

// Execution は注文IDが特定できている約定です
type Execution struct {
	Instrument string
	OrderID    string
	Size       float64
	Aggressor  bool
}

// Depth は価格帯ごとの板数量の更新です。Size が 0 なら価格帯の消滅を意味します
type Depth struct {
	Instrument string
	Side       Side
	Price      float64
	Size       float64
}

// TimerTick は定期処理のトリガーです
type TimerTick struct {
	Instrument string
	At         time.Time
}

func (e Subscribe) InstrumentID() string   { return e.Instrument }
func (e Unsubscribe) InstrumentID() string { return e.Instrument }
func (e NewOrder) InstrumentID() string    { return e.Instrument }
func (e Replace) InstrumentID() string     { return e.Instrument }
func (e Cancel) InstrumentID() string      { return e.Instrument }
func (e Trade) InstrumentID() string       { return e.Instrument }
func (e Execution) InstrumentID() string   { return e.Instrument }
func (e Depth) InstrumentID() string       { return e.Instrument }
func (e TimerTick) InstrumentID() string   { return e.Instrument }

// FeedGateway は、市場データフィードとの接続を抽象化した規格です
type FeedGateway interface {
	// Start はフィードへの接続を開始し、イベントチャネルを返します。
	// ctx がキャンセルされるとチャネルは閉じられます
	Start(ctx context.Context) (<-chan Event, error)
}
