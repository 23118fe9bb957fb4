package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"okx-core/internal/events"
	"okx-core/internal/order"
	"okx-core/pkg/exchanges/common"
)

// Store is the part of the state store reconciliation reads and repairs.
type Store interface {
	ListPending(ctx context.Context) ([]order.PendingOrder, error)
	Completion(ctx context.Context, key string) (order.CompletionRecord, bool, error)
	DeletePending(ctx context.Context, key string) error
}

// ExchangeClient answers authoritative order lookups.
type ExchangeClient interface {
	QueryOrder(ctx context.Context, instID, clientOrderID string) (common.OrderStatus, error)
}

// Engine applies what the exchange reports under the engine's per-key lock.
type Engine interface {
	Reconcile(ctx context.Context, key string, st common.OrderStatus) error
	MarkNotFound(ctx context.Context, key string, now time.Time, grace time.Duration) (bool, error)
}

// Service cross-checks every pending order against the exchange, once at startup and then
// periodically, so a dead stream cannot strand an order.
type Service struct {
	store    Store
	exchange ExchangeClient
	engine   Engine
	bus      *events.Bus
	interval time.Duration
	grace    time.Duration

	Now func() time.Time

	mu sync.Mutex
}

// Report summarizes one pass.
type Report struct {
	Timestamp time.Time
	Checked   int
	Items     []Item
	Errors    int
}

// Item is the action taken for one pending order.
type Item struct {
	Key           string
	ClientOrderID string
	Action        string // applied, stale_pending, not_found, released, error
	RemoteState   common.OrderState
	FilledQty     float64
	Err           string
}

func NewService(st Store, exchange ExchangeClient, engine Engine, bus *events.Bus, interval, grace time.Duration) *Service {
	if grace <= 0 {
		grace = 2 * time.Minute
	}
	return &Service{
		store:    st,
		exchange: exchange,
		engine:   engine,
		bus:      bus,
		interval: interval,
		grace:    grace,
		Now:      time.Now,
	}
}

// Start runs a pass every interval until ctx ends. A zero interval disables it.
func (s *Service) Start(ctx context.Context) {
	if s.interval <= 0 {
		log.Printf("reconciliation: periodic pass disabled")
		return
	}
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := s.Reconcile(ctx); err != nil {
					log.Printf("❌ reconciliation error: %v", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	log.Printf("✓ reconciliation service started (interval: %v, not-found grace: %v)", s.interval, s.grace)
}

// Reconcile runs one pass over all pending orders.
func (s *Service) Reconcile(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, err := s.store.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	report := &Report{Timestamp: s.Now(), Checked: len(pending)}
	for _, p := range pending {
		item := s.check(ctx, p)
		if item.Action == "error" {
			report.Errors++
			s.bus.Publish(events.EventAlarm, events.Alarm{
				Kind:    events.AlarmReconcile,
				Key:     p.Key,
				Message: item.Err,
				Time:    report.Timestamp,
			})
		}
		report.Items = append(report.Items, item)
	}

	if report.Checked > 0 {
		log.Printf("📊 reconciliation: checked=%d errors=%d", report.Checked, report.Errors)
	}
	return report, nil
}

func (s *Service) check(ctx context.Context, p order.PendingOrder) Item {
	item := Item{Key: p.Key, ClientOrderID: p.ClientOrderID}
	fail := func(err error) Item {
		item.Action = "error"
		item.Err = err.Error()
		log.Printf("reconciliation: %s: %v", p.Key, err)
		return item
	}

	// A completion record already exists: the pending entry is left over from a crash.
	if _, done, err := s.store.Completion(ctx, p.Key); err != nil {
		return fail(fmt.Errorf("completion: %w", err))
	} else if done {
		if err := s.store.DeletePending(ctx, p.Key); err != nil {
			return fail(fmt.Errorf("drop stale pending: %w", err))
		}
		item.Action = "stale_pending"
		return item
	}

	st, err := s.exchange.QueryOrder(ctx, p.InstID, p.ClientOrderID)
	if errors.Is(err, common.ErrOrderNotFound) {
		released, err := s.engine.MarkNotFound(ctx, p.Key, s.Now(), s.grace)
		if err != nil {
			return fail(fmt.Errorf("mark not found: %w", err))
		}
		item.Action = "not_found"
		if released {
			item.Action = "released"
		}
		return item
	}
	if err != nil {
		return fail(fmt.Errorf("query %s: %w", p.ClientOrderID, err))
	}

	if err := s.engine.Reconcile(ctx, p.Key, st); err != nil {
		return fail(fmt.Errorf("apply %s: %w", st.State, err))
	}
	item.Action = "applied"
	item.RemoteState = st.State
	item.FilledQty = st.FilledQty
	return item
}
