// cmd/mock はローカル検証用のモックフィードです。
// WebSocket で MBO メッセージを配信し、参照価格 API と Telegram Bot API の代わりも務めます
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/r-umemoto/iceberg-detector/pkg/infra/feed"
)

const (
	instrument = "XAUUSD"
	basePrice  = 2350.0
	pipSize    = 0.1
)

// lastPrice は参照価格 API が返す直近の価格（セント単位）です
var lastPrice atomic.Int64

func main() {
	lastPrice.Store(int64(basePrice * 100))

	// エンドポイントのルーティング
	http.HandleFunc("/feed", handleWebSocket)
	http.HandleFunc("/quote", handleQuote)
	http.HandleFunc("/", handleBotAPI)

	fmt.Println("[Mock] サーバー起動: モックフィードがポート18081で待機中...")
	if err := http.ListenAndServe(":18081", nil); err != nil {
		log.Fatal("サーバー起動エラー:", err)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// 1. WebSocket配信用ハンドラー
func handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("アップグレードエラー:", err)
		return
	}
	defer conn.Close()

	fmt.Println("[Mock] 🎯 検知エンジンからのWebSocket接続を受け付けました！")

	send := func(msg feed.PushMessage) bool {
		msg.Instrument = instrument
		if err := conn.WriteJSON(msg); err != nil {
			log.Println("送信エラー:", err)
			return false
		}
		return true
	}

	if !send(feed.PushMessage{Type: feed.TypeSubscribe, PipSize: pipSize}) {
		return
	}

	for round := 0; ; round++ {
		for _, msg := range scenario(round) {
			if !send(msg) {
				return
			}
			if msg.Type == feed.TypeTrade {
				lastPrice.Store(int64(msg.Price * 100))
			}
			time.Sleep(200 * time.Millisecond)
		}
	}
}

// scenario は1ラウンド分のメッセージ列です。
// 通常の注文で平均サイズを作ったあと、同じ数量に補充され続ける注文（アイスバーグ）を流します
func scenario(round int) []feed.PushMessage {
	var msgs []feed.PushMessage
	bid := true

	// 🌊 [シナリオ1] 市場のノイズ。平均注文サイズ 50 前後
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("noise-%d-%d", round, i)
		price := basePrice - float64(rand.IntN(20))*pipSize
		size := float64(30 + rand.IntN(40))
		msgs = append(msgs,
			feed.PushMessage{Type: feed.TypeBidNew, OrderID: id, Price: price, Size: size},
			feed.PushMessage{Type: feed.TypeCancel, OrderID: id},
		)
	}

	// 🎯 [シナリオ2] 40 を見せては食われて補充される注文
	id := "iceberg-" + strconv.Itoa(round)
	price := basePrice - 0.5
	msgs = append(msgs, feed.PushMessage{Type: feed.TypeNewOrder, OrderID: id, TraderID: "T-1001", IsBid: &bid, Price: price, Size: 40})
	for i := 0; i < 12; i++ {
		msgs = append(msgs,
			feed.PushMessage{Type: feed.TypeTrade, Side: "sell", Price: price, Size: 30, PassiveOrderID: id},
			feed.PushMessage{Type: feed.TypeReplace, OrderID: id, Price: price, Size: 10},
			feed.PushMessage{Type: feed.TypeReplace, OrderID: id, Price: price, Size: 40},
		)
	}

	// 🏁 [シナリオ3] 最後は取り消されて完了通知が出るはず！
	msgs = append(msgs, feed.PushMessage{Type: feed.TypeCancel, OrderID: id})
	return msgs
}

// 2. 参照価格のダミーハンドラー
func handleQuote(w http.ResponseWriter, r *http.Request) {
	last := decimal.New(lastPrice.Load(), -2)
	spread := decimal.NewFromFloat(pipSize)

	response := map[string]interface{}{
		"bid":  last.Sub(spread),
		"ask":  last.Add(spread),
		"last": last,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// 3. Telegram Bot API (sendMessage) のダミーハンドラー
func handleBotAPI(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	fmt.Printf("[Mock] 📨 %s %s\n%s\n", r.Method, r.URL.Path, body)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
}
