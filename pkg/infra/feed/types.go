package feed

import (
	"errors"
	"fmt"

	"github.com/r-umemoto/iceberg-detector/pkg/domain/market"
)

var (
	ErrUnknownMessageType = errors.New("unknown feed message type")
	ErrMissingInstrument  = errors.New("feed message without instrument")
)

// メッセージ種別
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeNewOrder    = "new_order"
	TypeBidNew      = "BID_NEW"
	TypeAskNew      = "ASK_NEW"
	TypeReplace     = "replace"
	TypeCancel      = "cancel"
	TypeTrade       = "trade"
	TypeExecution   = "execution"
	TypeDepth       = "depth"
)

// PushMessage はフィードから流れてくる JSON メッセージです。
// 種別によって使うフィールドが異なります
type PushMessage struct {
	Type       string `json:"type"`
	Instrument string `json:"instrument"`

	OrderID  string  `json:"order_id,omitempty"`
	TraderID string  `json:"trader_id,omitempty"`
	Side     string  `json:"side,omitempty"`
	IsBid    *bool   `json:"is_bid,omitempty"`
	Price    float64 `json:"price,omitempty"`
	Size     float64 `json:"size,omitempty"`

	AggressorOrderID string `json:"aggressor_order_id,omitempty"`
	PassiveOrderID   string `json:"passive_order_id,omitempty"`
	Aggressor        bool   `json:"aggressor,omitempty"`

	PipSize        float64 `json:"pip_size,omitempty"`
	SizeMultiplier float64 `json:"size_multiplier,omitempty"`
}

// ToEvent はメッセージをドメインのイベントに変換します
func (m PushMessage) ToEvent() (market.Event, error) {
	if m.Instrument == "" {
		return nil, ErrMissingInstrument
	}

	switch m.Type {
	case TypeSubscribe:
		return market.Subscribe{Instrument: m.Instrument, PipSize: m.PipSize, SizeMultiplier: m.SizeMultiplier}, nil
	case TypeUnsubscribe:
		return market.Unsubscribe{Instrument: m.Instrument}, nil
	case TypeNewOrder, TypeBidNew, TypeAskNew:
		side, err := m.side()
		if err != nil {
			return nil, err
		}
		return market.NewOrder{
			Instrument: m.Instrument,
			OrderID:    m.OrderID,
			Side:       side,
			Price:      m.Price,
			Size:       m.Size,
			TraderID:   m.TraderID,
		}, nil
	case TypeReplace:
		return market.Replace{Instrument: m.Instrument, OrderID: m.OrderID, Price: m.Price, Size: m.Size}, nil
	case TypeCancel:
		return market.Cancel{Instrument: m.Instrument, OrderID: m.OrderID}, nil
	case TypeTrade:
		side, err := m.side()
		if err != nil {
			return nil, err
		}
		return market.Trade{
			Instrument:       m.Instrument,
			Price:            m.Price,
			Size:             m.Size,
			Side:             side,
			AggressorOrderID: m.AggressorOrderID,
			PassiveOrderID:   m.PassiveOrderID,
		}, nil
	case TypeExecution:
		return market.Execution{Instrument: m.Instrument, OrderID: m.OrderID, Size: m.Size, Aggressor: m.Aggressor}, nil
	case TypeDepth:
		side, err := m.side()
		if err != nil {
			return nil, err
		}
		return market.Depth{Instrument: m.Instrument, Side: side, Price: m.Price, Size: m.Size}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, m.Type)
}

// side は side / is_bid / 種別名のいずれかから売買区分を決めます
func (m PushMessage) side() (market.Side, error) {
	switch {
	case m.Type == TypeBidNew:
		return market.SideBid, nil
	case m.Type == TypeAskNew:
		return market.SideAsk, nil
	case m.Side != "":
		return market.ParseSide(m.Side)
	case m.IsBid != nil:
		return market.SideOf(*m.IsBid), nil
	}
	return "", market.ErrUnknownSide
}
