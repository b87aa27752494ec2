package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/vitos/futures_averaging/internal/domain"
	"github.com/vitos/futures_averaging/internal/infrastructure/metrics"
)

const (
	BinanceBaseURL = "https://fapi.binance.com"
	BinanceWSURL   = "wss://fstream.binance.com/ws/!ticker@arr"

	recvWindow = 60000
)

type BinanceAdapter struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	wsURL      string
	client     *http.Client
	limiter    *rate.Limiter
	timeOffset int64
	hedgeMode  bool

	stream *tickerStream
}

func NewBinanceAdapter(apiKey, apiSecret, baseURL, wsURL string) *BinanceAdapter {
	b := &BinanceAdapter{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		wsURL:     wsURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		// Binance futures allows 2400 request weight/min; stay well under.
		limiter: rate.NewLimiter(rate.Limit(20), 40),
	}
	b.stream = newTickerStream(wsURL)
	b.stream.OnReconnect(metrics.IncWSReconnect)
	return b
}

// Init syncs the server-time offset and probes the account position mode.
// Position mode cannot change while positions are open, so it is cached.
func (b *BinanceAdapter) Init(ctx context.Context) error {
	serverTime, err := b.GetServerTime(ctx)
	if err != nil {
		return fmt.Errorf("server time: %w", err)
	}
	b.timeOffset = serverTime - time.Now().UnixMilli()

	resp, err := b.sendRequest(ctx, "GET", "/fapi/v1/positionSide/dual", nil, true)
	if err != nil {
		return fmt.Errorf("position mode: %w", err)
	}
	var mode struct {
		DualSidePosition bool `json:"dualSidePosition"`
	}
	if err := json.Unmarshal(resp, &mode); err != nil {
		return err
	}
	b.hedgeMode = mode.DualSidePosition
	return nil
}

// --- REST API ---

func (b *BinanceAdapter) sign(query string) string {
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(query))
	return hex.EncodeToString(h.Sum(nil))
}

func (b *BinanceAdapter) sendRequest(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	if params == nil {
		params = url.Values{}
	}

	query := params.Encode()
	if signed {
		timestamp := time.Now().UnixMilli() + b.timeOffset
		params.Set("timestamp", strconv.FormatInt(timestamp, 10))
		params.Set("recvWindow", strconv.Itoa(recvWindow))
		query = params.Encode()
		query += "&signature=" + b.sign(query)
	}

	reqURL := b.baseURL + path
	if query != "" {
		reqURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, err
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			return nil, fmt.Errorf("binance error %d: %s", apiErr.Code, apiErr.Msg)
		}
		return nil, fmt.Errorf("binance error: %s", string(body))
	}

	return body, nil
}

func (b *BinanceAdapter) GetServerTime(ctx context.Context) (int64, error) {
	resp, err := b.sendRequest(ctx, "GET", "/fapi/v1/time", nil, false)
	if err != nil {
		return 0, err
	}
	var result struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return 0, err
	}
	return result.ServerTime, nil
}

func (b *BinanceAdapter) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	resp, err := b.sendRequest(ctx, "GET", "/fapi/v1/premiumIndex", params, false)
	if err != nil {
		return 0, err
	}

	var result struct {
		MarkPrice string `json:"markPrice"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(result.MarkPrice, 64)
}

func (b *BinanceAdapter) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	resp, err := b.sendRequest(ctx, "GET", "/fapi/v2/positionRisk", params, true)
	if err != nil {
		return nil, err
	}

	var list []struct {
		Symbol           string `json:"symbol"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		MarkPrice        string `json:"markPrice"`
		UnRealizedProfit string `json:"unRealizedProfit"`
		Leverage         string `json:"leverage"`
	}
	if err := json.Unmarshal(resp, &list); err != nil {
		return nil, err
	}

	for _, raw := range list {
		qty, _ := strconv.ParseFloat(raw.PositionAmt, 64)
		if qty == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(raw.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(raw.MarkPrice, 64)
		pnl, _ := strconv.ParseFloat(raw.UnRealizedProfit, 64)
		lev, _ := strconv.Atoi(raw.Leverage)
		return &domain.Position{
			Symbol:        raw.Symbol,
			Qty:           qty,
			EntryPrice:    entry,
			MarkPrice:     mark,
			UnrealizedPnL: pnl,
			Leverage:      lev,
		}, nil
	}

	return nil, nil
}

func (b *BinanceAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	resp, err := b.sendRequest(ctx, "GET", "/fapi/v1/openOrders", params, true)
	if err != nil {
		return nil, err
	}

	var list []struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Symbol        string `json:"symbol"`
		Side          string `json:"side"`
		Type          string `json:"type"`
		Price         string `json:"price"`
		OrigQty       string `json:"origQty"`
		Status        string `json:"status"`
		ReduceOnly    bool   `json:"reduceOnly"`
	}
	if err := json.Unmarshal(resp, &list); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(list))
	for _, raw := range list {
		price, _ := strconv.ParseFloat(raw.Price, 64)
		qty, _ := strconv.ParseFloat(raw.OrigQty, 64)
		orders = append(orders, domain.Order{
			OrderID:       raw.OrderID,
			ClientOrderID: raw.ClientOrderID,
			Symbol:        raw.Symbol,
			Side:          domain.Side(raw.Side),
			Type:          domain.OrderType(raw.Type),
			Price:         price,
			Qty:           qty,
			Status:        raw.Status,
			ReduceOnly:    raw.ReduceOnly,
		})
	}
	return orders, nil
}

func (b *BinanceAdapter) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	params.Set("quantity", formatFloat(req.Qty))

	if req.Type == domain.OrderTypeLimit {
		params.Set("price", formatFloat(req.Price))
		params.Set("timeInForce", "GTC")
	}

	clientID := req.ClientOrderID
	if clientID == "" {
		clientID = "avg-" + uuid.NewString()[:18]
	}
	params.Set("newClientOrderId", clientID)

	if b.hedgeMode {
		// In hedge mode the engine manages the short leg only.
		params.Set("positionSide", "SHORT")
	} else if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}

	resp, err := b.sendRequest(ctx, "POST", "/fapi/v1/order", params, true)
	if err != nil {
		return nil, err
	}

	var result struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Symbol        string `json:"symbol"`
		Side          string `json:"side"`
		Type          string `json:"type"`
		Price         string `json:"price"`
		OrigQty       string `json:"origQty"`
		Status        string `json:"status"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}
	if result.OrderID == 0 {
		return nil, fmt.Errorf("binance order rejected: %s", string(resp))
	}

	price, _ := strconv.ParseFloat(result.Price, 64)
	qty, _ := strconv.ParseFloat(result.OrigQty, 64)
	return &domain.Order{
		OrderID:       result.OrderID,
		ClientOrderID: result.ClientOrderID,
		Symbol:        result.Symbol,
		Side:          domain.Side(result.Side),
		Type:          domain.OrderType(result.Type),
		Price:         price,
		Qty:           qty,
		Status:        result.Status,
		ReduceOnly:    req.ReduceOnly,
	}, nil
}

func (b *BinanceAdapter) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	_, err := b.sendRequest(ctx, "DELETE", "/fapi/v1/order", params, true)
	return err
}

func (b *BinanceAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	_, err := b.sendRequest(ctx, "POST", "/fapi/v1/leverage", params, true)
	return err
}

func (b *BinanceAdapter) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))
	resp, err := b.sendRequest(ctx, "GET", "/fapi/v1/klines", params, false)
	if err != nil {
		return nil, err
	}

	// Format: [openTime, open, high, low, close, volume, closeTime, ...]
	var raw [][]json.RawMessage
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, err
	}

	var candles []domain.Candle
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		var ts int64
		if err := json.Unmarshal(row[0], &ts); err != nil {
			continue
		}
		open := parseRawFloat(row[1])
		high := parseRawFloat(row[2])
		low := parseRawFloat(row[3])
		closePrice := parseRawFloat(row[4])
		volume := parseRawFloat(row[5])

		candles = append(candles, domain.Candle{
			Time:   ts / 1000,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePrice,
			Volume: volume,
		})
	}
	return candles, nil
}

func (b *BinanceAdapter) GetInstrument(ctx context.Context, symbol string) (*domain.Instrument, error) {
	instruments, err := b.ListInstruments(ctx)
	if err != nil {
		return nil, err
	}
	for i := range instruments {
		if instruments[i].Symbol == symbol {
			return &instruments[i], nil
		}
	}
	return nil, fmt.Errorf("instrument %s not found", symbol)
}

func (b *BinanceAdapter) ListInstruments(ctx context.Context) ([]domain.Instrument, error) {
	resp, err := b.sendRequest(ctx, "GET", "/fapi/v1/exchangeInfo", nil, false)
	if err != nil {
		return nil, err
	}

	var result struct {
		Symbols []struct {
			Symbol            string `json:"symbol"`
			Status            string `json:"status"`
			ContractType      string `json:"contractType"`
			PricePrecision    int    `json:"pricePrecision"`
			QuantityPrecision int    `json:"quantityPrecision"`
			OnboardDate       int64  `json:"onboardDate"`
			Filters           []struct {
				FilterType string `json:"filterType"`
				TickSize   string `json:"tickSize"`
				MinQty     string `json:"minQty"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}

	var instruments []domain.Instrument
	for _, item := range result.Symbols {
		if item.ContractType != "PERPETUAL" {
			continue
		}
		inst := domain.Instrument{
			Symbol:         item.Symbol,
			Status:         item.Status,
			PricePrecision: item.PricePrecision,
			QtyPrecision:   item.QuantityPrecision,
			OnboardDate:    item.OnboardDate,
		}
		for _, f := range item.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				inst.TickSize, _ = strconv.ParseFloat(f.TickSize, 64)
			case "LOT_SIZE":
				inst.MinQty, _ = strconv.ParseFloat(f.MinQty, 64)
			}
		}
		instruments = append(instruments, inst)
	}
	return instruments, nil
}

// --- WebSocket ---

func (b *BinanceAdapter) OnPriceUpdate(callback func(symbol string, price float64)) {
	b.stream.OnPriceUpdate(callback)
}

func (b *BinanceAdapter) Subscribe() error {
	return b.stream.Start()
}

func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		return s
	}
	return strings.TrimRight(strings.TrimRight(s, "0"), ".")
}

func parseRawFloat(raw json.RawMessage) float64 {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	var v float64
	json.Unmarshal(raw, &v)
	return v
}
