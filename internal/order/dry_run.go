package order

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"okx-core/pkg/exchanges/common"
)

// DryRunSimConfig shapes simulated fills.
type DryRunSimConfig struct {
	SlippageBps  float64 // max adverse slippage applied on fills
	LatencyMinMs int
	LatencyMaxMs int
}

// PriceSource supplies the reference price for simulated market fills.
type PriceSource func(instID string) float64

// DryRunGateway fills every market order immediately without touching the venue and
// pushes the fill, then the resulting net position, through the same ordered stream the
// live feed uses.
type DryRunGateway struct {
	cfg   DryRunSimConfig
	price PriceSource
	sink  func(common.StreamEvent) bool

	mu     sync.Mutex
	rng    *rand.Rand
	orders map[string]common.OrderStatus
	net    map[string]float64
}

func NewDryRunGateway(cfg DryRunSimConfig, price PriceSource, sink func(common.StreamEvent) bool) *DryRunGateway {
	if cfg.LatencyMaxMs > 0 && cfg.LatencyMinMs > cfg.LatencyMaxMs {
		cfg.LatencyMinMs, cfg.LatencyMaxMs = cfg.LatencyMaxMs, cfg.LatencyMinMs
	}
	return &DryRunGateway{
		cfg:    cfg,
		price:  price,
		sink:   sink,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		orders: make(map[string]common.OrderStatus),
		net:    make(map[string]float64),
	}
}

func (d *DryRunGateway) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderAck, error) {
	if err := d.sleep(ctx); err != nil {
		return common.OrderAck{}, fmt.Errorf("%w: dry-run: %v", common.ErrTransient, err)
	}

	var px float64
	if d.price != nil {
		px = d.price(req.InstID)
	}
	d.mu.Lock()
	if frac := d.cfg.SlippageBps / 10000.0; frac > 0 && px > 0 {
		noise := d.rng.Float64() * frac
		if req.Side == common.SideBuy {
			px *= 1 + noise
		} else {
			px *= 1 - noise
		}
	}
	now := time.Now()
	st := common.OrderStatus{
		ClientOrderID:   req.ClientOrderID,
		ExchangeOrderID: "dry-" + uuid.NewString()[:8],
		InstID:          req.InstID,
		Side:            req.Side,
		State:           common.StateFilled,
		Qty:             req.Qty,
		FilledQty:       req.Qty,
		AvgPrice:        px,
		UpdatedAt:       now,
		Source:          "dry-run",
	}
	d.orders[req.ClientOrderID] = st
	if req.Side == common.SideBuy {
		d.net[req.InstID] += req.Qty
	} else {
		d.net[req.InstID] -= req.Qty
	}
	pos := common.PositionUpdate{InstID: req.InstID, PosSide: "net", Qty: d.net[req.InstID], AvgPrice: px, Timestamp: now}
	d.mu.Unlock()

	log.Printf("DRY-RUN: %s %s qty=%v px=%.4f tp=%v sl=%v clOrdId=%s", req.Side, req.InstID, req.Qty, px, req.TakeProfitPx, req.StopLossPx, req.ClientOrderID)

	if d.sink != nil {
		ev := common.OrderStateEvent{
			ClientOrderID:   st.ClientOrderID,
			ExchangeOrderID: st.ExchangeOrderID,
			InstID:          st.InstID,
			State:           st.State,
			FilledQty:       st.FilledQty,
			AvgPrice:        st.AvgPrice,
			Timestamp:       now,
		}
		// The push must not run inside the caller's per-key critical section.
		go func() {
			d.sink(common.StreamEvent{Order: &ev})
			d.sink(common.StreamEvent{Position: &pos})
		}()
	}
	return common.OrderAck{ClientOrderID: req.ClientOrderID, ExchangeOrderID: st.ExchangeOrderID, Code: "0"}, nil
}

func (d *DryRunGateway) CancelOrder(_ context.Context, _, clientOrderID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.orders[clientOrderID]; !ok {
		return fmt.Errorf("%w: dry-run %s", common.ErrOrderNotFound, clientOrderID)
	}
	return fmt.Errorf("%w: dry-run %s", common.ErrOrderAlreadyFinal, clientOrderID)
}

func (d *DryRunGateway) QueryOrder(_ context.Context, _, clientOrderID string) (common.OrderStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.orders[clientOrderID]
	if !ok {
		return common.OrderStatus{}, fmt.Errorf("%w: dry-run %s", common.ErrOrderNotFound, clientOrderID)
	}
	return st, nil
}

func (d *DryRunGateway) sleep(ctx context.Context) error {
	if d.cfg.LatencyMaxMs <= 0 {
		return nil
	}
	d.mu.Lock()
	ms := d.cfg.LatencyMinMs
	if span := d.cfg.LatencyMaxMs - d.cfg.LatencyMinMs; span > 0 {
		ms += d.rng.Intn(span + 1)
	}
	d.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return nil
	}
}
