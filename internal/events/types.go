package events

import "time"

// Event enumerates topics inside the daemon.
type Event string

const (
	EventSubmitResult   Event = "order.submit_result"
	EventOrderUpdate    Event = "order.update"
	EventOrderFinalized Event = "order.finalized"
	EventOrderReleased  Event = "order.released"
	EventCancelAttempt  Event = "order.cancel_attempt"
	EventPendingCount   Event = "order.pending_count"
	EventAlarm          Event = "alarm"
	EventRiskState      Event = "risk.state"
	EventEquity         Event = "account.equity"
	EventSignal         Event = "strategy.signal"
)

// SubmitResult is published for every Submit call.
type SubmitResult struct {
	Key           string
	ClientOrderID string
	Outcome       string
	Qty           float64
	Reason        string
}

// Finalized is published once per key when a completion record is written.
type Finalized struct {
	Key           string
	ClientOrderID string
	Outcome       string
	FilledQty     float64
}

// Released is published when a zero-fill order is dropped and its key freed.
type Released struct {
	Key           string
	ClientOrderID string
	Reason        string
}

// CancelAttempt reports one cancel round trip.
type CancelAttempt struct {
	Key           string
	ClientOrderID string
	Result        string // ok, already_final, not_found, error
}

// Alarm kinds.
const (
	AlarmCancelExhausted = "cancel_exhausted"
	AlarmStoreFailure    = "store_failure"
	AlarmStreamDown      = "stream_down"
	AlarmReconcile       = "reconcile"
	AlarmUnconfirmed     = "unconfirmed_submit"
)

// Alarm is an operational condition that needs a human.
type Alarm struct {
	Kind    string
	Key     string
	Message string
	Time    time.Time
}

// RiskState mirrors the breaker after every check.
type RiskState struct {
	TradingDay     string
	BaselineEquity float64
	Equity         float64
	Halted         bool
}

// Equity is an account equity observation.
type Equity struct {
	Total     float64
	Available float64
	Time      time.Time
}
