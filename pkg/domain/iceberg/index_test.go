package iceberg

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/r-umemoto/iceberg-detector/pkg/domain/market"
)

func TestPriceIndex(t *testing.T) {
	x := NewPriceIndex()
	p1, p2 := market.LevelOf(100), market.LevelOf(100.5)

	x.Insert(p1, "b")
	x.Insert(p1, "a")
	assert.Equal(t, []string{"a", "b"}, x.OrdersAt(p1))
	assert.Equal(t, 1, x.Levels())

	x.Move(p1, p2, "a")
	assert.Equal(t, []string{"b"}, x.OrdersAt(p1))
	assert.True(t, x.Contains(p2, "a"))

	x.Remove(p1, "b")
	assert.Empty(t, x.OrdersAt(p1))
	assert.Equal(t, 1, x.Levels(), "空の価格帯は削除される")

	// 存在しないエントリの削除は何もしない
	x.Remove(p1, "zzz")
	x.Remove(p2, "zzz")
	assert.Equal(t, 1, x.Levels())

	x.Remove(p2, "a")
	assert.Equal(t, 0, x.Levels())
}
