package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"okx-core/internal/events"
	"okx-core/internal/monitor"
	"okx-core/internal/order"
	"okx-core/internal/risk"
	"okx-core/internal/store"
	"okx-core/pkg/db"
	"okx-core/pkg/exchanges/common"
)

const testSecret = "test-secret"

type staticRisk struct{ st risk.State }

func (r staticRisk) State() risk.State { return r.st }

type staticAccount struct{}

func (staticAccount) GetBalance() common.EquityUpdate {
	return common.EquityUpdate{Ccy: "USDT", TotalEquity: 10000, Available: 8000}
}

func (staticAccount) Positions() []common.PositionUpdate {
	return []common.PositionUpdate{{InstID: "BTC-USDT-SWAP", PosSide: "net", Qty: 2, AvgPrice: 60000}}
}

type testEnv struct {
	srv   *httptest.Server
	store *store.Store
	bus   *events.Bus
	token string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(db.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st := store.New(database)

	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	bus := events.NewBus()
	reg := prometheus.NewRegistry()
	s := NewServer(Options{
		Bus:          bus,
		Store:        st,
		Journal:      database,
		Risk:         staticRisk{st: risk.State{TradingDay: "2024-03-01", BaselineEquity: 10000, Halted: true}},
		Account:      staticAccount{},
		Queue:        order.NewQueue(8),
		Metrics:      monitor.NewMetrics(reg),
		Gatherer:     reg,
		JWTSecret:    testSecret,
		PasswordHash: hash,
		Meta:         SystemMeta{InstID: "BTC-USDT-SWAP", DryRun: true, StartedAt: time.Now()},
	})
	srv := httptest.NewServer(s.Router)
	t.Cleanup(srv.Close)

	token, err := GenerateToken("tester", testSecret, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return &testEnv{srv: srv, store: st, bus: bus, token: token}
}

func (e *testEnv) get(t *testing.T, path string, auth bool) (*http.Response, map[string]any) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, e.srv.URL+path, nil)
	if auth {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/state", "/api/pending", "/api/journal", "/api/orders/x"} {
		resp, body := env.get(t, path, false)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, resp.StatusCode)
		}
		if body["code"] != "MISSING_TOKEN" {
			t.Fatalf("%s: unexpected body %v", path, body)
		}
	}

	forged, _ := GenerateToken("tester", "other-secret", time.Now().Add(time.Hour))
	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/api/state", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("forged token accepted: %d", resp.StatusCode)
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	post := func(payload string) *http.Response {
		resp, err := http.Post(env.srv.URL+"/api/auth/login", "application/json", bytes.NewBufferString(payload))
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	bad := post(`{"password":"wrong"}`)
	bad.Body.Close()
	if bad.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", bad.StatusCode)
	}

	ok := post(`{"operator":"ops","password":"hunter2"}`)
	defer ok.Body.Close()
	if ok.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", ok.StatusCode)
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(ok.Body).Decode(&body); err != nil || body.Token == "" {
		t.Fatalf("missing token: %v", err)
	}
	op, err := parseToken(body.Token, testSecret)
	if err != nil || op != "ops" {
		t.Fatalf("token did not round trip: %q %v", op, err)
	}
}

func TestLoginDisabledWithoutHash(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewServer(Options{JWTSecret: testSecret})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"password":"x"}`))
	s.Router.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestStateAndOrderEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p := order.PendingOrder{
		Key:           "ema:BTC-USDT-SWAP:buy:1",
		ClientOrderID: "Qabcde01hq",
		InstID:        "BTC-USDT-SWAP",
		Side:          common.SideBuy,
		SubmittedAt:   time.Now().UTC(),
		RequestedQty:  3,
	}
	if err := env.store.SavePending(ctx, p); err != nil {
		t.Fatal(err)
	}
	if err := env.store.AppendJournal(ctx, db.JournalEntry{Key: p.Key, ClientOrderID: p.ClientOrderID, Event: "submitted"}); err != nil {
		t.Fatal(err)
	}

	resp, state := env.get(t, "/api/state", true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("state: %d", resp.StatusCode)
	}
	if state["pending_count"].(float64) != 1 {
		t.Fatalf("unexpected pending count %v", state["pending_count"])
	}
	if rk := state["risk"].(map[string]any); rk["halted"] != true {
		t.Fatalf("risk state not exposed: %v", rk)
	}
	if eq := state["equity"].(map[string]any); eq["total_equity"].(float64) != 10000 {
		t.Fatalf("equity not exposed: %v", eq)
	}

	resp, ord := env.get(t, "/api/orders/"+p.Key, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("order: %d", resp.StatusCode)
	}
	if _, ok := ord["pending"]; !ok {
		t.Fatalf("pending order missing: %v", ord)
	}
	if j := ord["journal"].([]any); len(j) != 1 {
		t.Fatalf("expected one journal entry, got %v", j)
	}

	resp, _ = env.get(t, "/api/orders/unknown", true)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown key, got %d", resp.StatusCode)
	}

	resp, journal := env.get(t, "/api/journal?limit=10000", true)
	if resp.StatusCode != http.StatusOK || journal["limit"].(float64) != 500 {
		t.Fatalf("journal limit not clamped: %d %v", resp.StatusCode, journal["limit"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.get(t, "/health", false)

	resp, err := http.Get(env.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(resp.Body)
	if !strings.Contains(buf.String(), "okx_core_api_requests_total") {
		t.Fatalf("api request counter not exported:\n%s", buf.String())
	}
}

func TestWebsocketStreamsBusEvents(t *testing.T) {
	env := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/ws?token=" + env.token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Subscriptions are registered after the upgrade; publish until one arrives.
	got := make(chan wsMessage, 1)
	go func() {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err == nil {
			got <- msg
		}
	}()

	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case msg := <-got:
			if msg.Type != string(events.EventAlarm) {
				t.Fatalf("unexpected message type %q", msg.Type)
			}
			return
		case <-tick.C:
			env.bus.Publish(events.EventAlarm, events.Alarm{Kind: events.AlarmCancelExhausted, Key: "k"})
		case <-deadline:
			t.Fatal("no websocket message received")
		}
	}
}
