package iceberg

import (
	"time"

	"github.com/r-umemoto/iceberg-detector/pkg/domain/market"
	"github.com/r-umemoto/iceberg-detector/pkg/domain/market/calculator"
)

// CompletedIceberg は完了したアイスバーグの記録です
type CompletedIceberg struct {
	OrderID        string
	TraderID       string
	Side           market.Side
	Prices         []float64
	TotalFilled    float64
	MaxVisibleSize float64
	RefillCount    int
	Score          float64
	Reason         string
	ConfirmedAt    time.Time
	CompletedAt    time.Time
}

// Stats は検知エンジンの統計です
type Stats struct {
	Instrument        string
	ActiveOrders      int
	PotentialIcebergs int
	ConfirmedIcebergs int
	CompletedIcebergs int
	TotalDetected     int
	TotalCompleted    int
	PriceLevels       int
	Thresholds        calculator.Thresholds
}

func (d *Detector) Stats() Stats {
	st := Stats{
		Instrument:        d.instrument,
		ActiveOrders:      len(d.orders),
		CompletedIcebergs: len(d.completed),
		TotalDetected:     d.totalDetected,
		TotalCompleted:    d.totalCompleted,
		PriceLevels:       d.index.Levels(),
		Thresholds:        d.Thresholds(),
	}
	for _, o := range d.orders {
		switch o.Stage() {
		case StageCandidate:
			st.PotentialIcebergs++
		case StageConfirmed:
			st.ConfirmedIcebergs++
		}
	}
	return st
}

// Completed は直近の完了記録を古い順に返します
func (d *Detector) Completed() []CompletedIceberg {
	return append([]CompletedIceberg(nil), d.completed...)
}

func (d *Detector) rememberCompleted(o *Order) {
	if d.settings.CompletedHistory == 0 {
		return
	}
	d.completed = append(d.completed, CompletedIceberg{
		OrderID:        o.ID,
		TraderID:       o.TraderID,
		Side:           o.Side,
		Prices:         append([]float64(nil), o.PriceHistory...),
		TotalFilled:    o.TotalFilled,
		MaxVisibleSize: o.MaxVisibleSize,
		RefillCount:    o.RefillCount,
		Score:          o.Score(),
		Reason:         o.Reason,
		ConfirmedAt:    o.ConfirmedAt,
		CompletedAt:    o.CompletedAt,
	})
	if over := len(d.completed) - d.settings.CompletedHistory; over > 0 {
		d.completed = append([]CompletedIceberg(nil), d.completed[over:]...)
	}
}
