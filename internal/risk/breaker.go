package risk

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"sync"
	"time"

	"okx-core/internal/events"
)

const (
	keyHalted          = "halted"
	keyDailyBaseEquity = "daily_base_equity"
	keyTradingDay      = "trading_day"

	dayLayout = "2006-01-02"
)

var ErrInvalidEquity = errors.New("invalid equity observation")

// KV is the slice of the state store the breaker needs.
type KV interface {
	Get(ctx context.Context, k string) (string, bool, error)
	SetMany(ctx context.Context, kv map[string]string) error
}

// State is the persisted breaker state.
type State struct {
	TradingDay     string  `json:"trading_day"`
	BaselineEquity float64 `json:"baseline_equity"`
	Halted         bool    `json:"halted"`
}

// Breaker halts new submissions once the intraday drawdown from the day's opening equity
// reaches the limit. The trading day is computed in a fixed location, not the host's.
type Breaker struct {
	kv       KV
	loc      *time.Location
	limitPct float64
	bus      *events.Bus

	mu    sync.RWMutex
	state State
}

func NewBreaker(kv KV, loc *time.Location, limitPct float64, bus *events.Bus) *Breaker {
	if loc == nil {
		loc = time.UTC
	}
	return &Breaker{kv: kv, loc: loc, limitPct: limitPct, bus: bus}
}

// Load restores the persisted state.
func (b *Breaker) Load(ctx context.Context) error {
	day, _, err := b.kv.Get(ctx, keyTradingDay)
	if err != nil {
		return fmt.Errorf("load trading_day: %w", err)
	}
	baseRaw, hasBase, err := b.kv.Get(ctx, keyDailyBaseEquity)
	if err != nil {
		return fmt.Errorf("load daily_base_equity: %w", err)
	}
	haltedRaw, _, err := b.kv.Get(ctx, keyHalted)
	if err != nil {
		return fmt.Errorf("load halted: %w", err)
	}

	st := State{TradingDay: day, Halted: haltedRaw == "1" || haltedRaw == "true"}
	if hasBase {
		if st.BaselineEquity, err = strconv.ParseFloat(baseRaw, 64); err != nil {
			log.Printf("risk: ignoring unparsable baseline %q: %v", baseRaw, err)
			st.BaselineEquity = 0
		}
	}

	b.mu.Lock()
	b.state = st
	b.mu.Unlock()
	log.Printf("risk: loaded day=%s baseline=%.2f halted=%v", st.TradingDay, st.BaselineEquity, st.Halted)
	return nil
}

// TradingDay returns the trading day containing now.
func (b *Breaker) TradingDay(now time.Time) string {
	return now.In(b.loc).Format(dayLayout)
}

// CheckAndRollover applies one equity observation taken at now.
//
// A new trading day rebases the baseline and clears the halt. Within a day the halt only
// ever turns on. Observations dated before the stored day are ignored.
func (b *Breaker) CheckAndRollover(ctx context.Context, now time.Time, equity float64) (State, error) {
	if equity < 0 || math.IsNaN(equity) || math.IsInf(equity, 0) {
		return b.State(), fmt.Errorf("%w: %v", ErrInvalidEquity, equity)
	}
	day := b.TradingDay(now)

	b.mu.Lock()
	defer b.mu.Unlock()

	prev := b.state
	next := prev
	switch {
	case prev.TradingDay == "" || day > prev.TradingDay:
		next = State{TradingDay: day, BaselineEquity: equity, Halted: false}
	case day < prev.TradingDay:
		return prev, nil
	case prev.BaselineEquity <= 0:
		next.BaselineEquity = equity
	default:
		dd := (prev.BaselineEquity - equity) / prev.BaselineEquity
		if dd >= b.limitPct {
			next.Halted = true
		}
	}

	if next != prev {
		if err := b.persist(ctx, next); err != nil {
			return prev, err
		}
		b.state = next
		b.logTransition(prev, next, equity)
	}

	b.bus.Publish(events.EventRiskState, events.RiskState{
		TradingDay:     next.TradingDay,
		BaselineEquity: next.BaselineEquity,
		Equity:         equity,
		Halted:         next.Halted,
	})
	return next, nil
}

// IsHalted reports whether new submissions are blocked.
func (b *Breaker) IsHalted() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.Halted
}

// State returns a snapshot.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *Breaker) persist(ctx context.Context, st State) error {
	halted := "0"
	if st.Halted {
		halted = "1"
	}
	err := b.kv.SetMany(ctx, map[string]string{
		keyTradingDay:      st.TradingDay,
		keyDailyBaseEquity: strconv.FormatFloat(st.BaselineEquity, 'f', -1, 64),
		keyHalted:          halted,
	})
	if err != nil {
		return fmt.Errorf("persist risk state: %w", err)
	}
	return nil
}

func (b *Breaker) logTransition(prev, next State, equity float64) {
	switch {
	case next.TradingDay != prev.TradingDay:
		log.Printf("📅 risk: new trading day %s baseline=%.2f (was halted=%v)", next.TradingDay, next.BaselineEquity, prev.Halted)
	case next.Halted && !prev.Halted:
		log.Printf("🛑 risk: daily loss limit hit, halting. baseline=%.2f equity=%.2f limit=%.2f%%",
			next.BaselineEquity, equity, b.limitPct*100)
	case next.BaselineEquity != prev.BaselineEquity:
		log.Printf("risk: baseline re-seeded to %.2f", next.BaselineEquity)
	}
}
