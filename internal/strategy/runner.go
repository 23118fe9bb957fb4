package strategy

import (
	"context"
	"log"

	"okx-core/internal/events"
	"okx-core/internal/order"
	"okx-core/pkg/exchanges/common"
)

// CandleSource serves historical bars for warm-up, oldest first.
type CandleSource interface {
	Candles(ctx context.Context, instID, bar string, limit int) ([]common.Candle, error)
}

// Runner feeds candles to one strategy and forwards its signals.
type Runner struct {
	strategy Strategy
	bus      *events.Bus
}

func NewRunner(s Strategy, bus *events.Bus) *Runner {
	return &Runner{strategy: s, bus: bus}
}

// Warmup primes the strategy from REST history. Signals produced during warm-up are
// discarded; only the relation they leave behind matters.
func (r *Runner) Warmup(ctx context.Context, src CandleSource, instID, bar string, limit int) error {
	candles, err := src.Candles(ctx, instID, bar, limit)
	if err != nil {
		return err
	}
	n := 0
	for _, c := range candles {
		if !c.Confirmed {
			continue
		}
		if _, err := r.strategy.OnCandle(c); err != nil {
			log.Printf("strategy %s: warm-up candle skipped: %v", r.strategy.Name(), err)
			continue
		}
		n++
	}
	log.Printf("✓ strategy %s warmed up with %d candles", r.strategy.Name(), n)
	return nil
}

// Run consumes candles until ctx ends or the channel closes. A full signal channel
// blocks the runner rather than dropping a signal.
func (r *Runner) Run(ctx context.Context, candles <-chan common.Candle, signals chan<- order.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candles:
			if !ok {
				return
			}
			sig, err := r.strategy.OnCandle(c)
			if err != nil {
				log.Printf("strategy %s: %v", r.strategy.Name(), err)
				continue
			}
			if sig == nil {
				continue
			}
			r.bus.Publish(events.EventSignal, *sig)
			select {
			case signals <- *sig:
			case <-ctx.Done():
				return
			}
		}
	}
}
