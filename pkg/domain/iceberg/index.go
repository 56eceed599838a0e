package iceberg

import (
	"sort"

	"github.com/r-umemoto/iceberg-detector/pkg/domain/market"
)

// PriceIndex は価格帯ごとにそこに載っている注文IDを引けるようにする索引です。
// 空になった価格帯はその場で削除し、空のエントリを残しません
type PriceIndex struct {
	levels map[market.Level]map[string]struct{}
}

func NewPriceIndex() *PriceIndex {
	return &PriceIndex{levels: make(map[market.Level]map[string]struct{})}
}

func (x *PriceIndex) Insert(level market.Level, orderID string) {
	ids, ok := x.levels[level]
	if !ok {
		ids = make(map[string]struct{})
		x.levels[level] = ids
	}
	ids[orderID] = struct{}{}
}

func (x *PriceIndex) Remove(level market.Level, orderID string) {
	ids, ok := x.levels[level]
	if !ok {
		return
	}
	delete(ids, orderID)
	if len(ids) == 0 {
		delete(x.levels, level)
	}
}

// Move は注文を旧価格帯から新価格帯へ付け替えます
func (x *PriceIndex) Move(from, to market.Level, orderID string) {
	x.Remove(from, orderID)
	x.Insert(to, orderID)
}

// OrdersAt は価格帯に載っている注文IDを昇順で返します
func (x *PriceIndex) OrdersAt(level market.Level) []string {
	ids := x.levels[level]
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (x *PriceIndex) Contains(level market.Level, orderID string) bool {
	_, ok := x.levels[level][orderID]
	return ok
}

// Levels は注文が載っている価格帯の数です
func (x *PriceIndex) Levels() int {
	return len(x.levels)
}
