package iceberg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recorder struct {
	notices []Notice
}

func (r *recorder) Notify(n Notice) { r.notices = append(r.notices, n) }

func (r *recorder) byTopic(topic Topic) []Notice {
	var out []Notice
	for _, n := range r.notices {
		if n.Topic == topic {
			out = append(out, n)
		}
	}
	return out
}

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestDetector(t *testing.T, mutate func(*Settings)) (*Detector, *recorder, *testClock) {
	t.Helper()

	s := DefaultSettings()
	if mutate != nil {
		mutate(&s)
	}
	rec := &recorder{}
	clock := &testClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}

	d, err := NewDetector("XAUUSD", s, rec, zaptest.NewLogger(t), WithClock(clock.now))
	require.NoError(t, err)
	return d, rec, clock
}

// replaceSizes は同じ価格で数量だけを順に変更します
func replaceSizes(d *Detector, clock *testClock, orderID string, sizes ...float64) {
	o := d.orders[orderID]
	for _, s := range sizes {
		clock.advance(time.Second)
		d.OnReplace(orderID, o.CurrentPrice, s)
	}
}

// assertIndexConsistent は索引と追跡中の注文が一致していることを確認します
func assertIndexConsistent(t *testing.T, d *Detector) {
	t.Helper()
	count := 0
	for level, ids := range d.index.levels {
		require.NotEmpty(t, ids, "空の価格帯が残っている: %v", level)
		for id := range ids {
			o, ok := d.orders[id]
			require.True(t, ok, "索引に追跡外の注文が残っている: %s", id)
			require.Equal(t, o.Level(), level)
			count++
		}
	}
	require.Equal(t, len(d.orders), count)
}
