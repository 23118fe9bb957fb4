package okx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okx-core/pkg/exchanges/common"
)

type fakeOKX struct {
	t        *testing.T
	mu       sync.Mutex
	handlers map[string]func(r *http.Request, body map[string]any) string
	calls    map[string]int
}

func newFakeOKX(t *testing.T) (*fakeOKX, *Client) {
	f := &fakeOKX{t: t, handlers: map[string]func(*http.Request, map[string]any) string{}, calls: map[string]int{}}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		APIKey:     "key",
		SecretKey:  "secret",
		Passphrase: "pass",
		Demo:       true,
		BaseURL:    srv.URL,
		RetryDelay: time.Millisecond,
		RateLimit:  1000,
	})
	return f, c
}

func (f *fakeOKX) on(path string, h func(r *http.Request, body map[string]any) string) {
	f.handlers[path] = h
}

func (f *fakeOKX) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func (f *fakeOKX) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.calls[r.URL.Path]++
	f.mu.Unlock()

	if r.URL.Path != "/api/v5/public/time" && r.URL.Path != "/api/v5/public/instruments" && r.URL.Path != "/api/v5/market/candles" {
		if r.Header.Get("OK-ACCESS-SIGN") == "" || r.Header.Get("OK-ACCESS-KEY") != "key" {
			f.t.Errorf("%s: missing auth headers", r.URL.Path)
		}
	}
	if r.Header.Get("x-simulated-trading") != "1" {
		f.t.Errorf("%s: missing demo header", r.URL.Path)
	}

	var body map[string]any
	if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
		_ = json.Unmarshal(raw, &body)
	}
	h, ok := f.handlers[r.URL.Path]
	if !ok {
		http.Error(w, "no handler", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, h(r, body))
}

func TestPlaceOrderNestedFailureIsRejected(t *testing.T) {
	f, c := newFakeOKX(t)
	var got map[string]any
	f.on("/api/v5/trade/order", func(_ *http.Request, body map[string]any) string {
		got = body
		return `{"code":"0","msg":"","data":[{"ordId":"","clOrdId":"Q1","sCode":"51008","sMsg":"Insufficient margin"}]}`
	})

	ack, err := c.PlaceOrder(context.Background(), common.OrderRequest{
		InstID: "BTC-USDT-SWAP", TdMode: "cross", Side: common.SideBuy, Qty: 3,
		ClientOrderID: "Q1", TakeProfitPx: 61200, StopLossPx: 59400,
	})
	require.NoError(t, err)
	require.False(t, ack.OK())
	require.Equal(t, "51008", ack.Code)

	algos := got["attachAlgoOrds"].([]any)
	algo := algos[0].(map[string]any)
	require.Equal(t, "61200", algo["tpTriggerPx"])
	require.Equal(t, "-1", algo["slOrdPx"])
	require.Equal(t, "3", got["sz"])
}

func TestPlaceOrderAccepted(t *testing.T) {
	f, c := newFakeOKX(t)
	f.on("/api/v5/trade/order", func(*http.Request, map[string]any) string {
		return `{"code":"0","msg":"","data":[{"ordId":"777","clOrdId":"Q2","sCode":"0","sMsg":""}]}`
	})
	ack, err := c.PlaceOrder(context.Background(), common.OrderRequest{InstID: "BTC-USDT-SWAP", Side: common.SideSell, Qty: 1, ClientOrderID: "Q2"})
	require.NoError(t, err)
	require.True(t, ack.OK())
	require.Equal(t, "777", ack.ExchangeOrderID)
}

func TestPlaceOrderIsNotRetried(t *testing.T) {
	f, c := newFakeOKX(t)
	f.on("/api/v5/trade/order", func(*http.Request, map[string]any) string {
		return `{"code":"50001","msg":"Service temporarily unavailable","data":[]}`
	})
	_, err := c.PlaceOrder(context.Background(), common.OrderRequest{InstID: "X", Side: common.SideBuy, Qty: 1, ClientOrderID: "Q3"})
	require.True(t, common.IsTransient(err))
	require.Equal(t, 1, f.count("/api/v5/trade/order"))
}

func TestQueryOrderFallsBackToHistory(t *testing.T) {
	f, c := newFakeOKX(t)
	f.on("/api/v5/trade/order", func(*http.Request, map[string]any) string {
		return `{"code":"51603","msg":"Order does not exist","data":[]}`
	})
	f.on("/api/v5/trade/orders-history", func(r *http.Request, _ map[string]any) string {
		if r.URL.Query().Get("after") == "" {
			return `{"code":"0","data":[{"ordId":"10","clOrdId":"other","state":"filled"}]}`
		}
		assert.Equal(t, "10", r.URL.Query().Get("after"))
		return `{"code":"0","data":[{"ordId":"9","clOrdId":"Q4","instId":"BTC-USDT-SWAP","state":"filled","sz":"2","accFillSz":"2","avgPx":"60000","uTime":"1709280000000"}]}`
	})

	st, err := c.QueryOrder(context.Background(), "BTC-USDT-SWAP", "Q4")
	require.NoError(t, err)
	require.Equal(t, common.StateFilled, st.State)
	require.Equal(t, 2.0, st.FilledQty)
	require.Equal(t, "history", st.Source)
	require.Zero(t, f.count("/api/v5/trade/orders-history-archive"))
}

func TestQueryOrderNotFoundAnywhere(t *testing.T) {
	f, c := newFakeOKX(t)
	f.on("/api/v5/trade/order", func(*http.Request, map[string]any) string {
		return `{"code":"51603","msg":"Order does not exist","data":[]}`
	})
	empty := func(*http.Request, map[string]any) string { return `{"code":"0","data":[]}` }
	f.on("/api/v5/trade/orders-history", empty)
	f.on("/api/v5/trade/orders-history-archive", empty)

	_, err := c.QueryOrder(context.Background(), "BTC-USDT-SWAP", "Q5")
	require.ErrorIs(t, err, common.ErrOrderNotFound)
	require.Equal(t, 1, f.count("/api/v5/trade/orders-history-archive"))
}

func TestQueryOrderRetriesTransient(t *testing.T) {
	f, c := newFakeOKX(t)
	n := 0
	f.on("/api/v5/trade/order", func(*http.Request, map[string]any) string {
		n++
		if n < 3 {
			return `{"code":"50013","msg":"busy","data":[]}`
		}
		return `{"code":"0","data":[{"ordId":"1","clOrdId":"Q6","state":"live","accFillSz":"0"}]}`
	})
	st, err := c.QueryOrder(context.Background(), "BTC-USDT-SWAP", "Q6")
	require.NoError(t, err)
	require.Equal(t, common.StateLive, st.State)
	require.Equal(t, 3, f.count("/api/v5/trade/order"))
}

func TestCancelOrderCodes(t *testing.T) {
	cases := []struct {
		name string
		resp string
		want error
	}{
		{"ok", `{"code":"0","data":[{"clOrdId":"Q","sCode":"0"}]}`, nil},
		{"already filled", `{"code":"1","data":[{"clOrdId":"Q","sCode":"51402","sMsg":"filled"}]}`, common.ErrOrderAlreadyFinal},
		{"not found", `{"code":"1","data":[{"clOrdId":"Q","sCode":"51603","sMsg":"missing"}]}`, common.ErrOrderNotFound},
		{"transient", `{"code":"50001","msg":"unavailable","data":[]}`, common.ErrTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, c := newFakeOKX(t)
			f.on("/api/v5/trade/cancel-order", func(*http.Request, map[string]any) string { return tc.resp })
			err := c.CancelOrder(context.Background(), "BTC-USDT-SWAP", "Q")
			if tc.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCancelOrderDoesNotRetry(t *testing.T) {
	f, c := newFakeOKX(t)
	f.on("/api/v5/trade/cancel-order", func(*http.Request, map[string]any) string {
		return `{"code":"50001","msg":"unavailable","data":[]}`
	})
	err := c.CancelOrder(context.Background(), "BTC-USDT-SWAP", "Q")
	require.ErrorIs(t, err, common.ErrTransient)
	require.Equal(t, 1, f.count("/api/v5/trade/cancel-order"))
}

func TestConfigureLeverageVerifies(t *testing.T) {
	f, c := newFakeOKX(t)
	f.on("/api/v5/account/set-leverage", func(_ *http.Request, body map[string]any) string {
		assert.Equal(t, "cross", body["mgnMode"])
		return `{"code":"0","data":[{"lever":"5"}]}`
	})
	f.on("/api/v5/account/leverage-info", func(*http.Request, map[string]any) string {
		return `{"code":"0","data":[{"instId":"BTC-USDT-SWAP","mgnMode":"cross","lever":"3"}]}`
	})

	err := c.ConfigureLeverage(context.Background(), "BTC-USDT-SWAP", 5, "cross")
	require.ErrorIs(t, err, common.ErrLeverageConfiguration)

	f.on("/api/v5/account/leverage-info", func(*http.Request, map[string]any) string {
		return `{"code":"0","data":[{"instId":"BTC-USDT-SWAP","mgnMode":"cross","lever":"5"}]}`
	})
	require.NoError(t, c.ConfigureLeverage(context.Background(), "BTC-USDT-SWAP", 5, "cross"))
}

func TestConfigureLeverageHedgeFallback(t *testing.T) {
	f, c := newFakeOKX(t)
	var posSides []string
	f.on("/api/v5/account/set-leverage", func(_ *http.Request, body map[string]any) string {
		ps, _ := body["posSide"].(string)
		if ps == "" {
			return `{"code":"51000","msg":"Parameter posSide error","data":[]}`
		}
		posSides = append(posSides, ps)
		return `{"code":"0","data":[]}`
	})
	f.on("/api/v5/account/leverage-info", func(*http.Request, map[string]any) string {
		return `{"code":"0","data":[{"posSide":"long","lever":"4"},{"posSide":"short","lever":"4"}]}`
	})
	require.NoError(t, c.ConfigureLeverage(context.Background(), "ETH-USDT-SWAP", 4, "isolated"))
	require.Equal(t, []string{"long", "short"}, posSides)
}

func TestInstrumentCandlesAndEquity(t *testing.T) {
	f, c := newFakeOKX(t)
	f.on("/api/v5/public/instruments", func(*http.Request, map[string]any) string {
		return `{"code":"0","data":[{"instId":"BTC-USDT-SWAP","ctVal":"0.01","lotSz":"0.01","minSz":"0.01","tickSz":"0.1"}]}`
	})
	f.on("/api/v5/market/candles", func(*http.Request, map[string]any) string {
		return `{"code":"0","data":[["1709280060000","2","2","2","2","1","0","0","0"],["1709280000000","1","1","1","1","1","0","0","1"]]}`
	})
	f.on("/api/v5/account/balance", func(*http.Request, map[string]any) string {
		return `{"code":"0","data":[{"totalEq":"10250.5","details":[{"ccy":"USDT","eq":"10000","availEq":"8000"}]}]}`
	})
	ctx := context.Background()

	spec, err := c.Instrument(ctx, "BTC-USDT-SWAP")
	require.NoError(t, err)
	require.Equal(t, 0.01, spec.ContractValue)
	_, err = c.Instrument(ctx, "BTC-USDT-SWAP")
	require.NoError(t, err)
	require.Equal(t, 1, f.count("/api/v5/public/instruments"), "spec is cached")

	candles, err := c.Candles(ctx, "BTC-USDT-SWAP", "1m", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	require.True(t, candles[0].Start.Before(candles[1].Start), "oldest first")
	require.True(t, candles[0].Confirmed)
	require.False(t, candles[1].Confirmed)

	eq, err := c.AccountEquity(ctx)
	require.NoError(t, err)
	require.Equal(t, 10250.5, eq.TotalEquity)
	require.Equal(t, 8000.0, eq.Available)
}

func TestTransportFailureIsTransient(t *testing.T) {
	c := NewClient(Config{APIKey: "k", SecretKey: "s", Passphrase: "p", BaseURL: "http://127.0.0.1:1", MaxRetries: 1, RateLimit: 100})
	_, err := c.PlaceOrder(context.Background(), common.OrderRequest{InstID: "X", Side: common.SideBuy, Qty: 1, ClientOrderID: "Q"})
	require.True(t, errors.Is(err, common.ErrTransient))
}

func TestSignIsDeterministic(t *testing.T) {
	a := Sign("secret", "2020-12-08T09:08:57.715Z", "get", "/api/v5/account/balance?ccy=BTC", "")
	b := Sign("secret", "2020-12-08T09:08:57.715Z", "GET", "/api/v5/account/balance?ccy=BTC", "")
	require.Equal(t, a, b)
	require.NotEqual(t, a, Sign("secret", "2020-12-08T09:08:57.715Z", "GET", "/api/v5/account/balance", ""))
}
