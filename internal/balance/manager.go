package balance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"okx-core/internal/events"
	"okx-core/internal/risk"
	"okx-core/pkg/exchanges/common"
)

// ExchangeClient supplies REST snapshots when the stream has gone quiet.
type ExchangeClient interface {
	AccountEquity(ctx context.Context) (common.EquityUpdate, error)
	Instrument(ctx context.Context, instID string) (common.Instrument, error)
}

// RiskChecker is fed every tick with the freshest equity.
type RiskChecker interface {
	CheckAndRollover(ctx context.Context, now time.Time, equity float64) (risk.State, error)
}

var ErrNoEquity = errors.New("no equity observation yet")

// Manager tracks account equity and positions from the private stream, falls back to REST
// when the cache is stale, and drives the daily loss breaker.
type Manager struct {
	exchange     ExchangeClient
	risk         RiskChecker
	bus          *events.Bus
	syncInterval time.Duration
	maxAge       time.Duration

	mu        sync.RWMutex
	last      common.EquityUpdate
	lastSync  time.Time
	fixed     bool
	positions map[string]common.PositionUpdate
}

// NewManager creates a balance manager. Cached equity older than twice syncInterval is
// refreshed over REST before it is used for sizing.
func NewManager(exchange ExchangeClient, rc RiskChecker, bus *events.Bus, syncInterval time.Duration) *Manager {
	if syncInterval <= 0 {
		syncInterval = time.Minute
	}
	return &Manager{
		exchange:     exchange,
		risk:         rc,
		bus:          bus,
		syncInterval: syncInterval,
		maxAge:       2 * syncInterval,
		positions:    make(map[string]common.PositionUpdate),
	}
}

// Start begins periodic balance sync
func (m *Manager) Start(ctx context.Context) {
	if err := m.Sync(ctx); err != nil {
		log.Printf("❌ Balance sync error: %v", err)
	}

	go func() {
		ticker := time.NewTicker(m.syncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := m.Sync(ctx); err != nil {
					log.Printf("❌ Balance sync error: %v", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Sync fetches latest equity from the exchange.
func (m *Manager) Sync(ctx context.Context) error {
	m.mu.RLock()
	fixed := m.fixed
	m.mu.RUnlock()
	if fixed || m.exchange == nil {
		return nil
	}

	eq, err := m.exchange.AccountEquity(ctx)
	if err != nil {
		return err
	}
	m.update(eq, "rest")
	return nil
}

// Observe applies equity and position pushes.
func (m *Manager) Observe(_ context.Context, ev common.StreamEvent) {
	if ev.Equity != nil {
		m.update(*ev.Equity, "ws")
	}
	if ev.Position != nil {
		m.mu.Lock()
		key := ev.Position.InstID + ":" + ev.Position.PosSide
		if ev.Position.Qty == 0 {
			delete(m.positions, key)
		} else {
			m.positions[key] = *ev.Position
		}
		m.mu.Unlock()
	}
}

// Tick feeds the breaker with the latest equity. Nothing happens before the first observation.
func (m *Manager) Tick(ctx context.Context, now time.Time) {
	if m.risk == nil {
		return
	}
	m.mu.RLock()
	eq, seen := m.last, !m.lastSync.IsZero()
	m.mu.RUnlock()
	if !seen {
		return
	}
	if _, err := m.risk.CheckAndRollover(ctx, now, eq.TotalEquity); err != nil {
		log.Printf("❌ risk check failed: %v", err)
		m.bus.Publish(events.EventAlarm, events.Alarm{
			Kind:    events.AlarmStoreFailure,
			Key:     "risk",
			Message: err.Error(),
			Time:    now,
		})
	}
}

// Equity returns the cached snapshot, refreshing it over REST when stale.
func (m *Manager) Equity(ctx context.Context) (common.EquityUpdate, error) {
	m.mu.RLock()
	eq, at, fixed := m.last, m.lastSync, m.fixed
	m.mu.RUnlock()
	if fixed || (!at.IsZero() && time.Since(at) < m.maxAge) {
		return eq, nil
	}
	if err := m.Sync(ctx); err != nil {
		if !at.IsZero() {
			log.Printf("balance: refresh failed, using snapshot from %s: %v", at.Format(time.RFC3339), err)
			return eq, nil
		}
		return common.EquityUpdate{}, fmt.Errorf("%w: %v", ErrNoEquity, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last, nil
}

// Instrument passes through to the exchange's cached contract spec.
func (m *Manager) Instrument(ctx context.Context, instID string) (common.Instrument, error) {
	return m.exchange.Instrument(ctx, instID)
}

// Positions returns the open positions seen on the stream.
func (m *Manager) Positions() []common.PositionUpdate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]common.PositionUpdate, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out
}

// GetBalance returns current equity snapshot
func (m *Manager) GetBalance() common.EquityUpdate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// SetInitialBalance pins equity for dry-run mode; REST sync is skipped afterwards.
func (m *Manager) SetInitialBalance(amount float64) {
	m.mu.Lock()
	m.fixed = true
	m.mu.Unlock()
	m.update(common.EquityUpdate{Ccy: "USDT", TotalEquity: amount, Available: amount, Timestamp: time.Now()}, "dry-run")
	log.Printf("💰 Initial balance set: %.2f", amount)
}

func (m *Manager) update(eq common.EquityUpdate, source string) {
	if eq.Timestamp.IsZero() {
		eq.Timestamp = time.Now()
	}
	m.mu.Lock()
	m.last = eq
	m.lastSync = time.Now()
	m.mu.Unlock()

	if source == "rest" {
		log.Printf("💰 Balance synced: Total=%.2f, Available=%.2f", eq.TotalEquity, eq.Available)
	}
	m.bus.Publish(events.EventEquity, events.Equity{Total: eq.TotalEquity, Available: eq.Available, Time: eq.Timestamp})
}
