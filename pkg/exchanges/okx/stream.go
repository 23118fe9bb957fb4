package okx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"okx-core/pkg/exchanges/common"
)

const (
	pingInterval     = 20 * time.Second
	readTimeout      = 40 * time.Second
	maxLoginFailures = 3
)

var ErrLoginFailed = errors.New("okx private stream login failed")

// wsMessage covers control replies and channel pushes.
type wsMessage struct {
	Event string `json:"event"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`
	Arg   struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data json.RawMessage `json:"data"`
}

// PrivateStream keeps the authenticated orders/account/positions subscription alive and
// hands every normalized payload to a sink in arrival order.
type PrivateStream struct {
	URL        string
	APIKey     string
	SecretKey  string
	Passphrase string
	InstType   string

	// OnConnect runs after each successful login and subscribe; pushes missed while
	// disconnected must be recovered by the caller.
	OnConnect func(ctx context.Context)
	// OnDisconnect runs when a session ends with an error.
	OnDisconnect func(err error)

	dialer *websocket.Dialer
}

func NewPrivateStream(url, apiKey, secretKey, passphrase string) *PrivateStream {
	return &PrivateStream{
		URL:        url,
		APIKey:     apiKey,
		SecretKey:  secretKey,
		Passphrase: passphrase,
		InstType:   "SWAP",
		dialer:     websocket.DefaultDialer,
	}
}

// Run reconnects until ctx is done or login keeps failing. sink returns false to stop.
func (s *PrivateStream) Run(ctx context.Context, sink func(common.StreamEvent) bool) error {
	backoff := time.Second
	loginFailures := 0
	for {
		loggedIn, err := s.session(ctx, sink)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, errSinkClosed) {
			return nil
		}
		if loggedIn {
			loginFailures = 0
			backoff = time.Second
		} else if errors.Is(err, ErrLoginFailed) {
			loginFailures++
			if loginFailures >= maxLoginFailures {
				return fmt.Errorf("%w after %d attempts: %v", ErrLoginFailed, loginFailures, err)
			}
		}
		log.Printf("okx private ws: session ended: %v (reconnect in %s)", err, backoff)
		if s.OnDisconnect != nil {
			s.OnDisconnect(err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

var errSinkClosed = errors.New("sink closed")

func (s *PrivateStream) session(ctx context.Context, sink func(common.StreamEvent) bool) (bool, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer closeOnContext(ctx, conn)()

	if err := s.login(conn); err != nil {
		return false, err
	}
	if err := writeJSON(conn, map[string]any{
		"op": "subscribe",
		"args": []map[string]string{
			{"channel": "account"},
			{"channel": "positions", "instType": s.InstType},
			{"channel": "orders", "instType": s.InstType},
		},
	}); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	log.Printf("✅ okx private ws: logged in and subscribed")
	if s.OnConnect != nil {
		go s.OnConnect(ctx)
	}

	pingDone := startPinger(ctx, conn)
	defer close(pingDone)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		evs, err := ParsePrivateMessage(raw)
		if err != nil {
			log.Printf("okx private ws: %v", err)
			continue
		}
		for _, ev := range evs {
			if !sink(ev) {
				return true, errSinkClosed
			}
		}
	}
}

func (s *PrivateStream) login(conn *websocket.Conn) error {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	err := writeJSON(conn, map[string]any{
		"op": "login",
		"args": []map[string]string{{
			"apiKey":     s.APIKey,
			"passphrase": s.Passphrase,
			"timestamp":  ts,
			"sign":       Sign(s.SecretKey, ts, "GET", "/users/self/verify", ""),
		}},
	})
	if err != nil {
		return fmt.Errorf("send login: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("await login: %w", err)
		}
		var m wsMessage
		if json.Unmarshal(raw, &m) != nil {
			continue
		}
		switch m.Event {
		case "login":
			if m.Code == "0" || m.Code == "" {
				return nil
			}
			return fmt.Errorf("%w: code=%s msg=%s", ErrLoginFailed, m.Code, m.Msg)
		case "error":
			return fmt.Errorf("%w: code=%s msg=%s", ErrLoginFailed, m.Code, m.Msg)
		}
	}
}

// ParsePrivateMessage normalizes one private-channel frame. Control frames yield nothing.
func ParsePrivateMessage(raw []byte) ([]common.StreamEvent, error) {
	if string(raw) == "pong" {
		return nil, nil
	}
	var m wsMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse frame: %w", err)
	}
	if m.Event != "" {
		if m.Event == "error" {
			return nil, fmt.Errorf("channel error code=%s msg=%s", m.Code, m.Msg)
		}
		return nil, nil
	}
	if len(m.Data) == 0 {
		return nil, nil
	}

	var out []common.StreamEvent
	switch m.Arg.Channel {
	case "orders":
		var rows []orderData
		if err := json.Unmarshal(m.Data, &rows); err != nil {
			return nil, fmt.Errorf("parse orders: %w", err)
		}
		for _, r := range rows {
			ev := r.event()
			out = append(out, common.StreamEvent{Order: &ev})
		}
	case "account":
		var rows []balanceData
		if err := json.Unmarshal(m.Data, &rows); err != nil {
			return nil, fmt.Errorf("parse account: %w", err)
		}
		for _, r := range rows {
			eq := r.equity()
			out = append(out, common.StreamEvent{Equity: &eq})
		}
	case "positions":
		var rows []positionData
		if err := json.Unmarshal(m.Data, &rows); err != nil {
			return nil, fmt.Errorf("parse positions: %w", err)
		}
		for _, r := range rows {
			pu := r.update()
			out = append(out, common.StreamEvent{Position: &pu})
		}
	}
	return out, nil
}

// CandleStream subscribes to confirmed and in-progress candles on the business endpoint.
type CandleStream struct {
	URL    string
	InstID string
	Bar    string
	dialer *websocket.Dialer
}

func NewCandleStream(url, instID, bar string) *CandleStream {
	return &CandleStream{URL: url, InstID: instID, Bar: bar, dialer: websocket.DefaultDialer}
}

// Run delivers candles to out, reconnecting until ctx is done.
func (s *CandleStream) Run(ctx context.Context, out chan<- common.Candle) error {
	backoff := time.Second
	for {
		err := s.session(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("okx candle ws: session ended: %v (reconnect in %s)", err, backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *CandleStream) session(ctx context.Context, out chan<- common.Candle) error {
	conn, _, err := s.dialer.DialContext(ctx, s.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer closeOnContext(ctx, conn)()

	channel := "candle" + s.Bar
	if err := writeJSON(conn, map[string]any{
		"op":   "subscribe",
		"args": []map[string]string{{"channel": channel, "instId": s.InstID}},
	}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	log.Printf("okx candle ws: subscribed %s %s", channel, s.InstID)

	pingDone := startPinger(ctx, conn)
	defer close(pingDone)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		candles, err := ParseCandleMessage(s.InstID, raw)
		if err != nil {
			log.Printf("okx candle ws: %v", err)
			continue
		}
		for _, cd := range candles {
			select {
			case out <- cd:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// ParseCandleMessage extracts candles from a candle channel push.
func ParseCandleMessage(instID string, raw []byte) ([]common.Candle, error) {
	if string(raw) == "pong" {
		return nil, nil
	}
	var m wsMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse frame: %w", err)
	}
	if m.Event == "error" {
		return nil, fmt.Errorf("channel error code=%s msg=%s", m.Code, m.Msg)
	}
	if m.Event != "" || len(m.Data) == 0 {
		return nil, nil
	}
	var rows [][]string
	if err := json.Unmarshal(m.Data, &rows); err != nil {
		return nil, fmt.Errorf("parse candles: %w", err)
	}
	if m.Arg.InstID != "" {
		instID = m.Arg.InstID
	}
	out := make([]common.Candle, 0, len(rows))
	for _, r := range rows {
		if cd, ok := parseCandle(instID, r); ok {
			out = append(out, cd)
		}
	}
	return out, nil
}

func startPinger(ctx context.Context, conn *websocket.Conn) chan struct{} {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
					return
				}
			}
		}
	}()
	return done
}

// closeOnContext closes conn when ctx ends or when the returned stop func runs.
func closeOnContext(ctx context.Context, conn *websocket.Conn) func() {
	var once sync.Once
	done := make(chan struct{})
	stop := func() {
		once.Do(func() {
			close(done)
			// Ignore errors; connection may already be closed.
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()
	return stop
}

func writeJSON(conn *websocket.Conn, v any) error {
	return conn.WriteJSON(v)
}
