package market

import "github.com/tidwall/btree"

// Book は価格帯ごとの板数量を保持し、最良気配を返します。
// 検知ロジックでは距離計算の基準価格としてだけ使います
type Book struct {
	bids *btree.Map[Level, float64]
	asks *btree.Map[Level, float64]
}

func NewBook() *Book {
	return &Book{
		bids: btree.NewMap[Level, float64](32),
		asks: btree.NewMap[Level, float64](32),
	}
}

// Update は板の価格帯を更新します。size が 0 以下なら価格帯を削除します
func (b *Book) Update(side Side, price, size float64) {
	levels := b.levels(side)
	if levels == nil {
		return
	}
	key := LevelOf(price)
	if size > 0 {
		levels.Set(key, size)
		return
	}
	levels.Delete(key)
}

// BestBid は買い板の最高値を返します
func (b *Book) BestBid() (float64, bool) {
	l, _, ok := b.bids.Max()
	if !ok {
		return 0, false
	}
	return l.Price(), true
}

// BestAsk は売り板の最安値を返します
func (b *Book) BestAsk() (float64, bool) {
	l, _, ok := b.asks.Min()
	if !ok {
		return 0, false
	}
	return l.Price(), true
}

// Best は指定サイドの最良気配を返します
func (b *Book) Best(side Side) (float64, bool) {
	if side == SideBid {
		return b.BestBid()
	}
	return b.BestAsk()
}

// Levels は指定サイドの価格帯数です
func (b *Book) Levels(side Side) int {
	levels := b.levels(side)
	if levels == nil {
		return 0
	}
	return levels.Len()
}

func (b *Book) levels(side Side) *btree.Map[Level, float64] {
	switch side {
	case SideBid:
		return b.bids
	case SideAsk:
		return b.asks
	}
	return nil
}
