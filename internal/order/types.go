package order

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"okx-core/pkg/exchanges/common"
)

var (
	// ErrAlreadyFinalized is returned by a store when a key already has a completion record.
	ErrAlreadyFinalized = errors.New("key already finalized")
	// ErrCancelExhausted means every cancel attempt for a timed-out order failed.
	ErrCancelExhausted = errors.New("cancel retries exhausted")
)

// Signal is a request to open a position, produced once per strategy bucket.
type Signal struct {
	Strategy string
	InstID   string
	Side     common.Side
	Bucket   int64 // candle start in ms; one signal per bucket
	Price    float64
}

// IdempotencyKey is deterministic in (strategy, instrument, side, bucket).
func (s Signal) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s:%s:%d", s.Strategy, s.InstID, s.Side, s.Bucket)
}

// PendingOrder is an order whose final outcome is not yet known.
type PendingOrder struct {
	Key             string            `json:"key"`
	ClientOrderID   string            `json:"cl_ord_id"`
	ExchangeOrderID string            `json:"ord_id,omitempty"`
	InstID          string            `json:"inst_id"`
	Side            common.Side       `json:"side"`
	SubmittedAt     time.Time         `json:"submitted_at"`
	RequestedQty    float64           `json:"requested_qty"`
	FilledQty       float64           `json:"filled_qty"`
	LastState       common.OrderState `json:"last_state,omitempty"`
	// NotFoundSince is set when no exchange index knows the order yet.
	NotFoundSince time.Time `json:"not_found_since,omitempty"`
}

// Outcome is the terminal classification of an order.
type Outcome string

const (
	OutcomeFilled              Outcome = "filled"
	OutcomeCanceledNoFill      Outcome = "canceled_no_fill"
	OutcomeCanceledPartialFill Outcome = "canceled_partial_fill"
)

// CompletionRecord is written once per key.
type CompletionRecord struct {
	Key           string    `json:"key"`
	ClientOrderID string    `json:"cl_ord_id"`
	Outcome       Outcome   `json:"outcome"`
	FilledQty     float64   `json:"filled_qty"`
	AvgPrice      float64   `json:"avg_price,omitempty"`
	FinalizedAt   time.Time `json:"finalized_at"`
}

// SubmitOutcome is the result class of Submit.
type SubmitOutcome string

const (
	SubmitAccepted    SubmitOutcome = "accepted"
	SubmitDuplicate   SubmitOutcome = "duplicate"
	SubmitHalted      SubmitOutcome = "halted"
	SubmitRejected    SubmitOutcome = "rejected"
	SubmitUnconfirmed SubmitOutcome = "unconfirmed"
)

// SubmitResult describes what Submit did.
type SubmitResult struct {
	Outcome       SubmitOutcome
	Key           string
	ClientOrderID string
	Qty           float64
	Reason        string
}

// ClientOrderID derives the exchange client id: "Q" + 5 hex chars of the key hash + a ULID.
// OKX allows up to 32 alphanumerics; the ULID keeps retries of one key distinct.
func ClientOrderID(key string, ulid string) string {
	sum := sha1.Sum([]byte(key))
	return "Q" + hex.EncodeToString(sum[:])[:5] + strings.ToLower(ulid)
}
