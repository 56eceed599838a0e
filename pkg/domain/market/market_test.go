package market

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSide(t *testing.T) {
	cases := map[string]Side{
		"bid":  SideBid,
		"BUY":  SideBid,
		" b ":  SideBid,
		"ask":  SideAsk,
		"Sell": SideAsk,
	}
	for in, want := range cases {
		got, err := ParseSide(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseSide("middle")
	assert.ErrorIs(t, err, ErrUnknownSide)
}

func TestSideHelpers(t *testing.T) {
	assert.True(t, SideBid.IsBid())
	assert.False(t, SideAsk.IsBid())
	assert.Equal(t, SideAsk, SideBid.Opposite())
	assert.Equal(t, SideBid, SideAsk.Opposite())
	assert.Equal(t, SideBid, SideOf(true))
	assert.False(t, Side("X").Valid())
}

func TestValidateSize(t *testing.T) {
	assert.NoError(t, ValidateSize(0))
	assert.NoError(t, ValidateSize(12.5))
	assert.ErrorIs(t, ValidateSize(-1), ErrInvalidSize)
	assert.ErrorIs(t, ValidateSize(math.NaN()), ErrInvalidSize)
	assert.ErrorIs(t, ValidateSize(math.Inf(1)), ErrInvalidSize)
}

func TestValidatePrice(t *testing.T) {
	assert.NoError(t, ValidatePrice(2650.5))
	assert.NoError(t, ValidatePrice(0.0001))
	for _, p := range []float64{0, -5, math.NaN(), math.Inf(1), math.Inf(-1)} {
		assert.ErrorIs(t, ValidatePrice(p), ErrInvalidPrice, "price %v", p)
	}
}

func TestLevelOf(t *testing.T) {
	assert.Equal(t, LevelOf(100.1), LevelOf(100.10000000000001))
	assert.NotEqual(t, LevelOf(100.1), LevelOf(100.2))
	assert.InDelta(t, 2650.35, LevelOf(2650.35).Price(), 1e-9)
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "100.00", FormatPrice(100))
	assert.Equal(t, "2650.36", FormatPrice(2650.355))
}

func TestDistanceInPips(t *testing.T) {
	assert.InDelta(t, 5.0, DistanceInPips(100.0, 100.5, true, 0.1), 1e-9)
	assert.Equal(t, 0.0, DistanceInPips(100.0, 100.5, false, 0.1))
	assert.Equal(t, 0.0, DistanceInPips(100.0, 100.5, true, 0))
}

func TestBook(t *testing.T) {
	b := NewBook()

	_, ok := b.BestBid()
	assert.False(t, ok)

	b.Update(SideBid, 99.5, 10)
	b.Update(SideBid, 99.9, 5)
	b.Update(SideAsk, 100.2, 7)
	b.Update(SideAsk, 100.1, 3)

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.InDelta(t, 99.9, bid, 1e-9)

	ask, ok := b.Best(SideAsk)
	require.True(t, ok)
	assert.InDelta(t, 100.1, ask, 1e-9)

	// 数量0で価格帯が消える
	b.Update(SideBid, 99.9, 0)
	bid, _ = b.BestBid()
	assert.InDelta(t, 99.5, bid, 1e-9)
	assert.Equal(t, 1, b.Levels(SideBid))

	b.Update(SideBid, 99.5, 0)
	_, ok = b.BestBid()
	assert.False(t, ok)

	b.Update(Side("?"), 1, 1)
	assert.Equal(t, 0, b.Levels(Side("?")))
}
