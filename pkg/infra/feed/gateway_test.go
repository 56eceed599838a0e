package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/r-umemoto/iceberg-detector/pkg/domain/market"
)

// newFeedServer は接続ごとに messages を送ってから切断するフィードです
func newFeedServer(t *testing.T, connections *int32, messages ...string) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		atomic.AddInt32(connections, 1)

		for _, m := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func receive(t *testing.T, ch <-chan market.Event) market.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "チャネルが閉じられた")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("イベントが届かない")
	}
	return nil
}

func TestGateway_DecodesAndReconnects(t *testing.T) {
	var connections int32
	url := newFeedServer(t, &connections,
		`{"type":"subscribe","instrument":"XAUUSD"}`,
		`not json`,
		`{"type":"heartbeat","instrument":"XAUUSD"}`,
		`{"type":"BID_NEW","instrument":"XAUUSD","order_id":"1","price":2650,"size":40}`,
	)

	g := NewGateway(Config{URL: url, ReconnectDelay: 10 * time.Millisecond, MaxReconnectDelay: 20 * time.Millisecond, BufferSize: 16}, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := g.Start(ctx)
	require.NoError(t, err)

	assert.Equal(t, market.Subscribe{Instrument: "XAUUSD"}, receive(t, ch))
	assert.Equal(t, market.NewOrder{Instrument: "XAUUSD", OrderID: "1", Side: market.SideBid, Price: 2650, Size: 40}, receive(t, ch))

	// サーバーが切断した後も再接続して同じ列が流れてくる
	assert.Equal(t, market.Subscribe{Instrument: "XAUUSD"}, receive(t, ch))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&connections), int32(2))

	cancel()
	require.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_StopsWhileDisconnected(t *testing.T) {
	g := NewGateway(Config{URL: "ws://127.0.0.1:1/feed", ReconnectDelay: time.Hour, MaxReconnectDelay: time.Hour}, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := g.Start(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("キャンセル後もチャネルが閉じられない")
	}
}

func TestGateway_RetriesFailedDials(t *testing.T) {
	var attempts int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 最初の2回はアップグレードを拒否します
		if atomic.AddInt32(&attempts, 1) <= 2 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe","instrument":"XAUUSD"}`))
		// クライアントが切断するまで接続を保ちます
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	g := NewGateway(Config{URL: url, ReconnectDelay: 5 * time.Millisecond, MaxReconnectDelay: 20 * time.Millisecond, BufferSize: 4}, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := g.Start(ctx)
	require.NoError(t, err)

	assert.Equal(t, market.Subscribe{Instrument: "XAUUSD"}, receive(t, ch))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(3))

	cancel()
	select {
	case <-waitClosed(ch):
	case <-time.After(2 * time.Second):
		t.Fatal("キャンセル後もチャネルが閉じられない")
	}
}

func waitClosed(ch <-chan market.Event) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()
	return done
}
