package common

import "context"

// Gateway abstracts the order endpoints of a trading venue.
type Gateway interface {
	// PlaceOrder submits req. A nil error only means the request round trip succeeded;
	// the per-order result is in OrderAck.Code.
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	// CancelOrder returns ErrOrderNotFound or ErrOrderAlreadyFinal for definitive answers.
	CancelOrder(ctx context.Context, instID, clientOrderID string) error
	// QueryOrder looks the order up across live and historical indices.
	QueryOrder(ctx context.Context, instID, clientOrderID string) (OrderStatus, error)
}
