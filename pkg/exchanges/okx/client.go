package okx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"okx-core/pkg/exchanges/common"
)

const (
	codeOK            = "0"
	codeOrderNotExist = "51603"
	codePosSideError  = "51000"

	posModeHedge = "long_short_mode"
)

// Codes the venue documents as temporary; the request may be retried.
var transientCodes = map[string]bool{
	"50001": true, // service temporarily unavailable
	"50004": true, // endpoint request timeout
	"50011": true, // rate limit
	"50013": true, // system busy
	"50026": true, // system error
}

// Cancel codes meaning the order can no longer be canceled.
var alreadyFinalCodes = map[string]bool{
	"51400": true,
	"51401": true,
	"51402": true,
}

// Config holds OKX v5 REST credentials and tuning.
type Config struct {
	APIKey     string
	SecretKey  string
	Passphrase string
	Demo       bool
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int           // GET only; placement and cancel are never retried here
	RetryDelay time.Duration // first backoff step, doubled per attempt
	RateLimit  float64       // requests per second
}

// APIError is a non-zero top-level response code.
type APIError struct {
	Code string
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("okx api error: code=%s msg=%s", e.Code, e.Msg)
}

// Client handles OKX v5 REST for perpetual swaps.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	timeSync   *common.TimeSync

	mu      sync.RWMutex
	posMode string
	specs   map[string]common.Instrument
}

// NewClient creates a new OKX REST client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.okx.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10
	}
	c := &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, int(cfg.RateLimit))),
		specs:      make(map[string]common.Instrument),
	}
	c.timeSync = common.NewTimeSync(c.ServerTime)
	return c
}

// TimeSync exposes the clock offset tracker so callers can start it.
func (c *Client) TimeSync() *common.TimeSync {
	return c.timeSync
}

// PosMode returns the account position mode learned by Bootstrap.
func (c *Client) PosMode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.posMode
}

func (c *Client) hedge() bool {
	return c.PosMode() == posModeHedge
}

// Bootstrap reads the account position mode.
func (c *Client) Bootstrap(ctx context.Context) error {
	var rows []struct {
		PosMode string `json:"posMode"`
		AcctLv  string `json:"acctLv"`
	}
	if err := c.get(ctx, "/api/v5/account/config", nil, true, &rows); err != nil {
		return fmt.Errorf("account config: %w", err)
	}
	if len(rows) == 0 {
		return errors.New("account config: empty response")
	}
	c.mu.Lock()
	c.posMode = rows[0].PosMode
	c.mu.Unlock()
	log.Printf("okx: account posMode=%s acctLv=%s", rows[0].PosMode, rows[0].AcctLv)
	return nil
}

// ServerTime returns the exchange clock in ms.
func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	var rows []struct {
		Ts string `json:"ts"`
	}
	if err := c.get(ctx, "/api/v5/public/time", nil, false, &rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, errors.New("server time: empty response")
	}
	return parseInt(rows[0].Ts), nil
}

// PlaceOrder submits a market entry with attached TP/SL. It is never retried: a transport
// failure is returned as ErrTransient because the order may exist.
func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderAck, error) {
	body := map[string]any{
		"instId":  req.InstID,
		"tdMode":  req.TdMode,
		"side":    string(req.Side),
		"ordType": "market",
		"sz":      fmtNum(req.Qty),
		"clOrdId": req.ClientOrderID,
	}
	posSide := req.PosSide
	if posSide == "" && c.hedge() {
		posSide = "long"
		if req.Side == common.SideSell {
			posSide = "short"
		}
	}
	if posSide != "" {
		body["posSide"] = posSide
	}
	if req.ReduceOnly {
		body["reduceOnly"] = true
	}
	if req.TakeProfitPx > 0 || req.StopLossPx > 0 {
		algo := map[string]string{}
		if req.TakeProfitPx > 0 {
			algo["tpTriggerPx"] = fmtNum(req.TakeProfitPx)
			algo["tpOrdPx"] = "-1"
		}
		if req.StopLossPx > 0 {
			algo["slTriggerPx"] = fmtNum(req.StopLossPx)
			algo["slOrdPx"] = "-1"
		}
		body["attachAlgoOrds"] = []map[string]string{algo}
	}

	env, err := c.do(ctx, http.MethodPost, "/api/v5/trade/order", nil, body, true)
	if err != nil {
		return common.OrderAck{}, err
	}
	ack := common.OrderAck{ClientOrderID: req.ClientOrderID, Code: env.Code, Msg: env.Msg}
	rows, _ := decodeAcks(env.Data)
	if len(rows) > 0 {
		// The nested code decides; a zero top-level code can still carry a failed order.
		ack.Code = rows[0].SCode
		ack.Msg = rows[0].SMsg
		ack.ExchangeOrderID = rows[0].OrdID
		if ack.Code == "" {
			ack.Code = env.Code
		}
	}
	if !ack.OK() && len(rows) == 0 && transientCodes[env.Code] {
		return common.OrderAck{}, fmt.Errorf("%w: place order code=%s msg=%s", common.ErrTransient, env.Code, env.Msg)
	}
	return ack, nil
}

// CancelOrder makes one cancel attempt by client order id. The caller owns the retry budget.
func (c *Client) CancelOrder(ctx context.Context, instID, clientOrderID string) error {
	body := map[string]string{"instId": instID, "clOrdId": clientOrderID}
	env, err := c.do(ctx, http.MethodPost, "/api/v5/trade/cancel-order", nil, body, true)
	if err != nil {
		return err
	}
	code, msg := env.Code, env.Msg
	if rows, _ := decodeAcks(env.Data); len(rows) > 0 && rows[0].SCode != "" {
		code, msg = rows[0].SCode, rows[0].SMsg
	}
	switch {
	case code == codeOK:
		return nil
	case alreadyFinalCodes[code]:
		return fmt.Errorf("%w: code=%s msg=%s", common.ErrOrderAlreadyFinal, code, msg)
	case code == codeOrderNotExist:
		return fmt.Errorf("%w: code=%s msg=%s", common.ErrOrderNotFound, code, msg)
	case transientCodes[code]:
		return fmt.Errorf("%w: cancel code=%s msg=%s", common.ErrTransient, code, msg)
	default:
		return &common.RejectedError{Code: code, Msg: msg}
	}
}

// QueryOrder looks the order up in the live index, then 7-day history, then the archive.
func (c *Client) QueryOrder(ctx context.Context, instID, clientOrderID string) (common.OrderStatus, error) {
	params := url.Values{"instId": {instID}, "clOrdId": {clientOrderID}}
	var rows []orderData
	err := c.get(ctx, "/api/v5/trade/order", params, true, &rows)
	switch {
	case err == nil && len(rows) > 0:
		return rows[0].status("live"), nil
	case err == nil:
	default:
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Code != codeOrderNotExist {
			return common.OrderStatus{}, err
		}
	}

	for _, idx := range []struct{ path, source string }{
		{"/api/v5/trade/orders-history", "history"},
		{"/api/v5/trade/orders-history-archive", "archive"},
	} {
		st, found, err := c.searchHistory(ctx, idx.path, instID, clientOrderID)
		if err != nil {
			return common.OrderStatus{}, err
		}
		if found {
			return st.status(idx.source), nil
		}
	}
	return common.OrderStatus{}, fmt.Errorf("%w: clOrdId=%s", common.ErrOrderNotFound, clientOrderID)
}

const (
	historyPages    = 10
	historyPageSize = 100
)

func (c *Client) searchHistory(ctx context.Context, path, instID, clientOrderID string) (orderData, bool, error) {
	after := ""
	for page := 0; page < historyPages; page++ {
		params := url.Values{
			"instType": {"SWAP"},
			"instId":   {instID},
			"limit":    {fmt.Sprint(historyPageSize)},
		}
		if after != "" {
			params.Set("after", after)
		}
		var rows []orderData
		if err := c.get(ctx, path, params, true, &rows); err != nil {
			return orderData{}, false, fmt.Errorf("search %s: %w", path, err)
		}
		for _, od := range rows {
			if od.ClOrdID == clientOrderID {
				return od, true, nil
			}
		}
		if len(rows) == 0 {
			return orderData{}, false, nil
		}
		after = rows[len(rows)-1].OrdID
		if after == "" {
			return orderData{}, false, nil
		}
	}
	return orderData{}, false, nil
}

// ConfigureLeverage sets leverage for instID under mgnMode and verifies it by reading it back.
// Every failure wraps ErrLeverageConfiguration.
func (c *Client) ConfigureLeverage(ctx context.Context, instID string, lever int, mgnMode string) error {
	set := func(posSide string) error {
		body := map[string]string{"instId": instID, "lever": fmt.Sprint(lever), "mgnMode": mgnMode}
		if posSide != "" {
			body["posSide"] = posSide
		}
		return c.post(ctx, "/api/v5/account/set-leverage", body, nil)
	}

	hedge := c.hedge() && mgnMode == "isolated"
	var err error
	if hedge {
		err = errors.Join(set("long"), set("short"))
	} else {
		err = set("")
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == codePosSideError {
			hedge = true
			err = errors.Join(set("long"), set("short"))
		}
	}
	if err != nil {
		return fmt.Errorf("%w: set %s %dx %s: %v", common.ErrLeverageConfiguration, instID, lever, mgnMode, err)
	}

	var rows []struct {
		InstID  string `json:"instId"`
		MgnMode string `json:"mgnMode"`
		PosSide string `json:"posSide"`
		Lever   string `json:"lever"`
	}
	params := url.Values{"instId": {instID}, "mgnMode": {mgnMode}}
	if err := c.get(ctx, "/api/v5/account/leverage-info", params, true, &rows); err != nil {
		return fmt.Errorf("%w: verify: %v", common.ErrLeverageConfiguration, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: verify: empty leverage info", common.ErrLeverageConfiguration)
	}
	for _, r := range rows {
		if parseFloat(r.Lever) != float64(lever) {
			return fmt.Errorf("%w: %s posSide=%s lever=%s, want %d", common.ErrLeverageConfiguration, instID, r.PosSide, r.Lever, lever)
		}
	}
	log.Printf("✅ okx: leverage %dx %s confirmed for %s (hedge=%v)", lever, mgnMode, instID, hedge)
	return nil
}

// Instrument returns the contract spec, cached after the first call.
func (c *Client) Instrument(ctx context.Context, instID string) (common.Instrument, error) {
	c.mu.RLock()
	spec, ok := c.specs[instID]
	c.mu.RUnlock()
	if ok {
		return spec, nil
	}

	var rows []struct {
		InstID string `json:"instId"`
		CtVal  string `json:"ctVal"`
		LotSz  string `json:"lotSz"`
		MinSz  string `json:"minSz"`
		TickSz string `json:"tickSz"`
	}
	params := url.Values{"instType": {"SWAP"}, "instId": {instID}}
	if err := c.get(ctx, "/api/v5/public/instruments", params, false, &rows); err != nil {
		return common.Instrument{}, fmt.Errorf("instrument %s: %w", instID, err)
	}
	if len(rows) == 0 {
		return common.Instrument{}, fmt.Errorf("instrument %s: not listed", instID)
	}
	spec = common.Instrument{
		InstID:        instID,
		ContractValue: parseFloat(rows[0].CtVal),
		LotSize:       parseFloat(rows[0].LotSz),
		MinSize:       parseFloat(rows[0].MinSz),
		TickSize:      parseFloat(rows[0].TickSz),
	}
	if spec.ContractValue <= 0 || spec.LotSize <= 0 {
		return common.Instrument{}, fmt.Errorf("instrument %s: incomplete spec %+v", instID, spec)
	}
	c.mu.Lock()
	c.specs[instID] = spec
	c.mu.Unlock()
	return spec, nil
}

// AccountEquity returns total equity (USD) and available USDT.
func (c *Client) AccountEquity(ctx context.Context) (common.EquityUpdate, error) {
	var rows []balanceData
	if err := c.get(ctx, "/api/v5/account/balance", nil, true, &rows); err != nil {
		return common.EquityUpdate{}, fmt.Errorf("account balance: %w", err)
	}
	if len(rows) == 0 {
		return common.EquityUpdate{}, errors.New("account balance: empty response")
	}
	return rows[0].equity(), nil
}

// Positions returns open positions for instID.
func (c *Client) Positions(ctx context.Context, instID string) ([]common.PositionUpdate, error) {
	var rows []positionData
	params := url.Values{"instType": {"SWAP"}, "instId": {instID}}
	if err := c.get(ctx, "/api/v5/account/positions", params, true, &rows); err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	out := make([]common.PositionUpdate, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.update())
	}
	return out, nil
}

// Candles returns up to limit bars, oldest first.
func (c *Client) Candles(ctx context.Context, instID, bar string, limit int) ([]common.Candle, error) {
	var rows [][]string
	params := url.Values{"instId": {instID}, "bar": {bar}, "limit": {fmt.Sprint(limit)}}
	if err := c.get(ctx, "/api/v5/market/candles", params, false, &rows); err != nil {
		return nil, fmt.Errorf("candles: %w", err)
	}
	out := make([]common.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		cd, ok := parseCandle(instID, rows[i])
		if ok {
			out = append(out, cd)
		}
	}
	return out, nil
}

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// get issues a retried GET and decodes data into out. A non-zero code becomes *APIError.
func (c *Client) get(ctx context.Context, path string, params url.Values, auth bool, out any) error {
	return c.withRetry(ctx, path, func() error {
		env, err := c.do(ctx, http.MethodGet, path, params, nil, auth)
		if err != nil {
			return err
		}
		return decodeEnvelope(env, out)
	})
}

// post issues a single POST.
func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	env, err := c.do(ctx, http.MethodPost, path, nil, body, true)
	if err != nil {
		return err
	}
	return decodeEnvelope(env, out)
}

func decodeEnvelope(env envelope, out any) error {
	if env.Code != codeOK {
		if transientCodes[env.Code] {
			return fmt.Errorf("%w: code=%s msg=%s", common.ErrTransient, env.Code, env.Msg)
		}
		return &APIError{Code: env.Code, Msg: env.Msg}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

func (c *Client) withRetry(ctx context.Context, what string, fn func() error) error {
	delay := c.cfg.RetryDelay
	var err error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if err = fn(); err == nil || !common.IsTransient(err) {
			return err
		}
		if attempt == c.cfg.MaxRetries {
			break
		}
		log.Printf("okx: %s attempt %d/%d failed: %v", what, attempt, c.cfg.MaxRetries, err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", common.ErrTransient, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// do signs and sends one request. Transport failures, 5xx and 429 wrap ErrTransient.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body any, auth bool) (envelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return envelope{}, fmt.Errorf("%w: rate limiter: %v", common.ErrTransient, err)
	}

	requestPath := path
	if len(params) > 0 {
		requestPath += "?" + params.Encode()
	}
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return envelope{}, fmt.Errorf("encode body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bytes.NewReader(payload))
	if err != nil {
		return envelope{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if auth {
		if c.cfg.APIKey == "" || c.cfg.SecretKey == "" || c.cfg.Passphrase == "" {
			return envelope{}, errors.New("okx: missing API credentials")
		}
		ts := c.timeSync.Now().UTC().Format("2006-01-02T15:04:05.000Z")
		req.Header.Set("OK-ACCESS-KEY", c.cfg.APIKey)
		req.Header.Set("OK-ACCESS-SIGN", Sign(c.cfg.SecretKey, ts, method, requestPath, string(payload)))
		req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
		req.Header.Set("OK-ACCESS-PASSPHRASE", c.cfg.Passphrase)
	}
	if c.cfg.Demo {
		req.Header.Set("x-simulated-trading", "1")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return envelope{}, fmt.Errorf("%w: %s %s: %v", common.ErrTransient, method, path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return envelope{}, fmt.Errorf("%w: read %s: %v", common.ErrTransient, path, err)
	}
	if res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests {
		return envelope{}, fmt.Errorf("%w: %s %s status %d: %s", common.ErrTransient, method, path, res.StatusCode, string(raw))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, fmt.Errorf("okx %s %s status %d: invalid json: %s", method, path, res.StatusCode, string(raw))
	}
	return env, nil
}

// Sign computes the OK-ACCESS-SIGN header: base64(HMAC-SHA256(ts+method+path+body)).
func Sign(secret, ts, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + strings.ToUpper(method) + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
