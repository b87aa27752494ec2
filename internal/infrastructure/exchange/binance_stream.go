package exchange

import (
	"encoding/json"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const reconnectDelay = 5 * time.Second

// tickerStream consumes the all-market ticker stream and fans ticks out
// to registered callbacks. It reconnects with a fixed delay after any
// read or dial error.
type tickerStream struct {
	wsURL     string
	callbacks []func(symbol string, price float64)
	mu        sync.Mutex
	started   bool
	stop      chan struct{}
	onReconnect func()
}

func newTickerStream(wsURL string) *tickerStream {
	return &tickerStream{
		wsURL: wsURL,
		stop:  make(chan struct{}),
	}
}

func (t *tickerStream) OnPriceUpdate(callback func(symbol string, price float64)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, callback)
}

// OnReconnect registers a hook invoked on every reconnect attempt.
func (t *tickerStream) OnReconnect(hook func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onReconnect = hook
}

func (t *tickerStream) Start() error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	t.mu.Unlock()

	go t.run()
	return nil
}

func (t *tickerStream) Stop() {
	close(t.stop)
}

func (t *tickerStream) run() {
	for {
		select {
		case <-t.stop:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(t.wsURL, nil)
		if err != nil {
			log.Println("WS dial error:", err)
			t.notifyReconnect()
			time.Sleep(reconnectDelay)
			continue
		}

		t.readLoop(conn)
		conn.Close()

		t.notifyReconnect()
		time.Sleep(reconnectDelay)
	}
}

func (t *tickerStream) readLoop(conn *websocket.Conn) {
	for {
		select {
		case <-t.stop:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Println("WS read error:", err)
			return
		}

		var ticks []struct {
			Symbol    string `json:"s"`
			LastPrice string `json:"c"`
		}
		if err := json.Unmarshal(message, &ticks); err != nil {
			continue
		}

		t.mu.Lock()
		callbacks := make([]func(string, float64), len(t.callbacks))
		copy(callbacks, t.callbacks)
		t.mu.Unlock()

		for _, tick := range ticks {
			price, err := strconv.ParseFloat(tick.LastPrice, 64)
			if err != nil || price == 0 {
				continue
			}
			for _, cb := range callbacks {
				cb(tick.Symbol, price)
			}
		}
	}
}

func (t *tickerStream) notifyReconnect() {
	t.mu.Lock()
	hook := t.onReconnect
	t.mu.Unlock()
	if hook != nil {
		hook()
	}
}
