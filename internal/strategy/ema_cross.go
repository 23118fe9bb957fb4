package strategy

import (
	"fmt"
	"log"
	"time"

	"okx-core/internal/indicators"
	"okx-core/internal/order"
	"okx-core/pkg/exchanges/common"
)

const (
	below = -1
	above = 1
)

// EMACrossStrategy buys when the fast EMA crosses above the slow EMA and sells on the
// opposite cross. Only confirmed bars count; the first bar with both averages ready
// records the relation without signaling.
type EMACrossStrategy struct {
	name   string
	instID string
	fast   *indicators.EMA
	slow   *indicators.EMA

	relation  int // 0 until both averages are ready
	lastStart time.Time
}

func NewEMACrossStrategy(name, instID string, fastPeriod, slowPeriod int) *EMACrossStrategy {
	if name == "" {
		name = "ema_cross"
	}
	return &EMACrossStrategy{
		name:   name,
		instID: instID,
		fast:   indicators.NewEMA(fastPeriod),
		slow:   indicators.NewEMA(slowPeriod),
	}
}

func (s *EMACrossStrategy) Name() string { return s.name }

func (s *EMACrossStrategy) String() string {
	return fmt.Sprintf("EMA_Cross_%d_%d", s.fast.Period(), s.slow.Period())
}

func (s *EMACrossStrategy) OnCandle(c common.Candle) (*order.Signal, error) {
	if !c.Confirmed {
		return nil, nil
	}
	if c.InstID != "" && c.InstID != s.instID {
		return nil, nil
	}
	// Confirmed pushes can repeat, and warm-up overlaps the live stream.
	if !c.Start.After(s.lastStart) {
		return nil, nil
	}
	if c.Close <= 0 {
		return nil, fmt.Errorf("candle %s has non-positive close %v", c.Start.Format(time.RFC3339), c.Close)
	}
	s.lastStart = c.Start

	fast, fastOK := s.fast.Update(c.Close)
	slow, slowOK := s.slow.Update(c.Close)
	if !fastOK || !slowOK {
		return nil, nil
	}

	rel := s.relation
	switch {
	case fast > slow:
		rel = above
	case fast < slow:
		rel = below
	}

	prev := s.relation
	s.relation = rel
	if prev == 0 || rel == prev {
		return nil, nil
	}

	side := common.SideBuy
	if rel == below {
		side = common.SideSell
	}
	log.Printf("📈 %s %s cross on %s: fast=%.4f slow=%.4f close=%.4f",
		s, side, c.Start.UTC().Format(time.RFC3339), fast, slow, c.Close)

	return &order.Signal{
		Strategy: s.name,
		InstID:   s.instID,
		Side:     side,
		Bucket:   c.Start.UnixMilli(),
		Price:    c.Close,
	}, nil
}
