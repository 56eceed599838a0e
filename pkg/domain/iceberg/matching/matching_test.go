package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	s, err := Get(EvenSplitName)
	require.NoError(t, err)
	assert.IsType(t, EvenSplit{}, s)

	_, err = Get("fifo")
	assert.ErrorIs(t, err, ErrStrategyNotFound)

	assert.Contains(t, Names(), EvenSplitName)
	assert.Contains(t, Names(), ProRataName)
}

func TestEvenSplit(t *testing.T) {
	got := EvenSplit{}.Allocate(30, []Candidate{
		{OrderID: "a", Available: 40},
		{OrderID: "b", Available: 5},
		{OrderID: "c", Available: 0},
	})

	assert.Equal(t, []Allocation{
		{OrderID: "a", Size: 10},
		{OrderID: "b", Size: 5},
	}, got)

	assert.Empty(t, EvenSplit{}.Allocate(30, nil))
	assert.Empty(t, EvenSplit{}.Allocate(0, []Candidate{{OrderID: "a", Available: 1}}))
}

func TestProRata(t *testing.T) {
	got := ProRata{}.Allocate(30, []Candidate{
		{OrderID: "a", Available: 40},
		{OrderID: "b", Available: 20},
	})

	require.Len(t, got, 2)
	assert.InDelta(t, 20, got[0].Size, 1e-9)
	assert.InDelta(t, 10, got[1].Size, 1e-9)

	// 表示数量を超えて割り当てない
	got = ProRata{}.Allocate(100, []Candidate{{OrderID: "a", Available: 10}})
	assert.Equal(t, []Allocation{{OrderID: "a", Size: 10}}, got)
}
