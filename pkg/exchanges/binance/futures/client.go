package futures

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fadebot/pkg/exchanges/common"
)

// Config holds Binance USDT-M futures credentials.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64 // ms
	// Retry policy for transient transport failures. API rejections are
	// never retried; they surface to the caller exactly once.
	RetryAttempts int
	RetryDelay    time.Duration
}

// Client handles Binance USDT-M futures.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	timeSync   *common.TimeSync
	weights    *common.WeightTracker
}

// NewClient creates a new USDT-M futures client.
func NewClient(cfg Config) *Client {
	base := "https://fapi.binance.com"
	if cfg.Testnet {
		base = "https://testnet.binancefuture.com"
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	c.timeSync = common.NewTimeSync(func() (int64, error) {
		return c.GetServerTime()
	})
	c.weights = common.NewWeightTracker(2400, time.Minute) // 2400 weight/min for futures
	return c
}

// StartTimeSync begins periodic server-clock synchronization.
func (c *Client) StartTimeSync(ctx context.Context) {
	c.timeSync.Start(ctx)
}

func (c *Client) now() int64 {
	if c.timeSync != nil && c.timeSync.Offset() != 0 {
		return c.timeSync.Now()
	}
	return time.Now().UnixMilli()
}

// PlaceOrder submits an order and returns the exchange's view of it.
func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.Order, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.Order{}, errors.New("binance futures: API key/secret required")
	}
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))

	switch req.Type {
	case common.OrderTypeLimit:
		params.Set("quantity", formatFloat(req.Qty))
		params.Set("price", formatFloat(req.Price))
		tif := req.TimeInForce
		if tif == "" {
			tif = common.TIFGTC
		}
		params.Set("timeInForce", string(tif))
	case common.OrderTypeStopMarket:
		params.Set("stopPrice", formatFloat(req.StopPrice))
		if req.ClosePosition {
			params.Set("closePosition", "true")
		} else {
			params.Set("quantity", formatFloat(req.Qty))
		}
	default:
		params.Set("quantity", formatFloat(req.Qty))
	}

	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}
	// closePosition and reduceOnly are mutually exclusive on the wire.
	if req.ReduceOnly && !req.ClosePosition {
		params.Set("reduceOnly", "true")
	}
	params.Set("newOrderRespType", "RESULT")

	body, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return common.Order{}, err
	}
	var resp wireOrder
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.Order{}, fmt.Errorf("decode order: %w", err)
	}
	return resp.toOrder(), nil
}

// CancelOrder cancels an order by its client order ID.
func (c *Client) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", clientOrderID)
	_, err := c.doSigned(ctx, http.MethodDelete, "/fapi/v1/order", params)
	return err
}

// CancelAllOpenOrders cancels every open order for a symbol.
func (c *Client) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	_, err := c.doSigned(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params)
	return err
}

// QueryOrder fetches a single order's current state by client order ID.
func (c *Client) QueryOrder(ctx context.Context, symbol, clientOrderID string) (common.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", clientOrderID)
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v1/order", params)
	if err != nil {
		return common.Order{}, err
	}
	var resp wireOrder
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.Order{}, fmt.Errorf("decode order: %w", err)
	}
	return resp.toOrder(), nil
}

// OpenOrders returns all open orders for a symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]common.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v1/openOrders", params)
	if err != nil {
		return nil, err
	}
	var resp []wireOrder
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}
	orders := make([]common.Order, 0, len(resp))
	for _, w := range resp {
		orders = append(orders, w.toOrder())
	}
	return orders, nil
}

// OpenPosition returns the open position for a symbol, or nil when flat.
func (c *Client) OpenPosition(ctx context.Context, symbol string) (*common.Position, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v3/positionRisk", params)
	if err != nil {
		return nil, err
	}
	var resp []wirePosition
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	for _, w := range resp {
		amt := toFloat(w.PositionAmt)
		if amt == 0 {
			continue
		}
		lev, _ := strconv.Atoi(w.Leverage)
		return &common.Position{
			Symbol:         w.Symbol,
			EntryPrice:     toFloat(w.EntryPrice),
			Amount:         amt,
			BreakEvenPrice: toFloat(w.BreakEvenPrice),
			Leverage:       lev,
		}, nil
	}
	return nil, nil
}

// AvailableBalance returns the free USDT margin balance.
func (c *Client) AvailableBalance(ctx context.Context) (float64, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/balance", nil)
	if err != nil {
		return 0, err
	}
	var resp []struct {
		Asset            string `json:"asset"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode balance: %w", err)
	}
	for _, b := range resp {
		if b.Asset == "USDT" {
			return toFloat(b.AvailableBalance), nil
		}
	}
	return 0, nil
}

// AccountInfo returns account trading flags.
func (c *Client) AccountInfo(ctx context.Context) (*AccountInfo, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/account", nil)
	if err != nil {
		return nil, err
	}
	var info AccountInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode account info: %w", err)
	}
	return &info, nil
}

// SetLeverage sets leverage for a symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	_, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/leverage", params)
	return err
}

// SetMarginType sets margin type (ISOLATED or CROSSED).
func (c *Client) SetMarginType(ctx context.Context, symbol, marginType string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("marginType", strings.ToUpper(marginType))
	_, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/marginType", params)
	return err
}

// CreateListenKey creates a listen key for the user data stream.
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/fapi/v1/listenKey", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return "", apiError(body, res.StatusCode)
	}
	var out struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	return out.ListenKey, nil
}

// KeepAliveListenKey extends listen key life.
func (c *Client) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/fapi/v1/listenKey?listenKey="+listenKey, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		body, _ := io.ReadAll(res.Body)
		return apiError(body, res.StatusCode)
	}
	return nil
}

// GetServerTime fetches futures server time.
func (c *Client) GetServerTime() (int64, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/fapi/v1/time")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("server time status %d: %s", resp.StatusCode, string(b))
	}
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return 0, err
	}
	return res.ServerTime, nil
}

// doSigned signs and sends a request, retrying transient transport failures a
// fixed number of times. It returns at most once per logical call: either the
// response body or a terminal error.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, errors.New("binance futures: API key/secret required")
	}
	var lastErr error
	for attempt := 0; attempt < c.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.cfg.RetryDelay):
			}
		}
		body, retryable, err := c.doSignedOnce(ctx, method, path, params)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) doSignedOnce(ctx context.Context, method, path string, params url.Values) (body []byte, retryable bool, err error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(c.now(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	params.Set("signature", sign(params.Encode(), c.cfg.APISecret))

	endpoint := c.baseURL + path
	encoded := params.Encode()
	var req *http.Request
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)

	// Signature embeds the timestamp, so a retried attempt re-signs fresh
	// params rather than replaying a stale signature.
	params.Del("signature")
	params.Del("timestamp")
	params.Del("recvWindow")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer res.Body.Close()

	if c.weights != nil {
		c.weights.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))
	}

	body, _ = io.ReadAll(res.Body)
	if res.StatusCode >= 500 {
		return nil, true, fmt.Errorf("binance futures %s %s status %d: %s", method, path, res.StatusCode, string(body))
	}
	if res.StatusCode >= 300 {
		return nil, false, apiError(body, res.StatusCode)
	}
	return body, false, nil
}

// apiError decodes the exchange error envelope into a typed APIError so
// callers can branch on the closed reject-reason set.
func apiError(body []byte, status int) error {
	var e struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Code == 0 {
		return &common.APIError{Code: -status, Message: string(body)}
	}
	return &common.APIError{Code: e.Code, Message: e.Msg}
}
