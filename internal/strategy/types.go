package strategy

import (
	"okx-core/internal/order"
	"okx-core/pkg/exchanges/common"
)

// Strategy turns confirmed candles into entry signals.
type Strategy interface {
	// Name is the strategy component of the idempotency key.
	Name() string
	// OnCandle processes a bar and returns a signal when one fires.
	OnCandle(c common.Candle) (*order.Signal, error)
}
