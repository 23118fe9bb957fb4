package order

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"okx-core/internal/events"
	"okx-core/internal/risk"
	"okx-core/internal/sizing"
	"okx-core/pkg/db"
	"okx-core/pkg/exchanges/common"
)

// StateStore is the durable state the engine owns.
type StateStore interface {
	SavePending(ctx context.Context, p PendingOrder) error
	Pending(ctx context.Context, key string) (PendingOrder, bool, error)
	KeyForClientOrderID(ctx context.Context, clientOrderID string) (string, bool, error)
	ListPending(ctx context.Context) ([]PendingOrder, error)
	DeletePending(ctx context.Context, key string) error
	Finalize(ctx context.Context, rec CompletionRecord) error
	Completion(ctx context.Context, key string) (CompletionRecord, bool, error)
	AppendJournal(ctx context.Context, e db.JournalEntry) error
}

// HaltChecker reports whether the daily loss breaker has tripped.
type HaltChecker interface {
	IsHalted() bool
}

// Account supplies the instrument spec and equity used for sizing.
type Account interface {
	Instrument(ctx context.Context, instID string) (common.Instrument, error)
	Equity(ctx context.Context) (common.EquityUpdate, error)
}

// PositionReader reports the open positions seen on the private stream.
type PositionReader interface {
	Positions() []common.PositionUpdate
}

// AccountObserver receives the non-order pushes of the private stream and is asked to
// re-evaluate risk on every tick.
type AccountObserver interface {
	Observe(ctx context.Context, ev common.StreamEvent)
	Tick(ctx context.Context, now time.Time)
}

// Config tunes submission and the timeout path. Percentages are fractions.
type Config struct {
	TdMode            string
	Leverage          int
	MarginBufferRatio float64
	MaxPositions      int
	RiskPct           float64
	StopLossPct       float64
	TakeProfitPct     float64
	OrderTimeout      time.Duration
	TickInterval      time.Duration
	CancelRetries     int
	CancelBackoff     time.Duration
	RejectCooldown    time.Duration
	NotFoundGrace     time.Duration
}

// Engine turns signals into at most one live order per idempotency key and drives every
// order to a completion record or a released key.
type Engine struct {
	cfg       Config
	store     StateStore
	gw        common.Gateway
	risk      HaltChecker
	account   Account
	bus       *events.Bus
	observer  AccountObserver
	positions PositionReader

	Now     func() time.Time
	NewULID func() string

	locks *keyLocks

	mu            sync.Mutex
	cancelling    map[string]bool
	cooldownUntil time.Time
}

func NewEngine(cfg Config, st StateStore, gw common.Gateway, halt HaltChecker, account Account, bus *events.Bus) *Engine {
	if cfg.TdMode == "" {
		cfg.TdMode = "cross"
	}
	if cfg.Leverage <= 0 {
		cfg.Leverage = 1
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 30 * time.Second
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 2 * time.Second
	}
	if cfg.CancelRetries <= 0 {
		cfg.CancelRetries = 3
	}
	if cfg.CancelBackoff <= 0 {
		cfg.CancelBackoff = 500 * time.Millisecond
	}
	if cfg.NotFoundGrace <= 0 {
		cfg.NotFoundGrace = 2 * time.Minute
	}
	return &Engine{
		cfg:        cfg,
		store:      st,
		gw:         gw,
		risk:       halt,
		account:    account,
		bus:        bus,
		Now:        time.Now,
		NewULID:    func() string { return ulid.Make().String() },
		locks:      newKeyLocks(),
		cancelling: make(map[string]bool),
	}
}

// SetAccountObserver routes equity and position pushes and tick-driven risk checks.
func (e *Engine) SetAccountObserver(o AccountObserver) {
	e.observer = o
}

// SetPositionReader enables the opposite-position check of the single-position guard.
func (e *Engine) SetPositionReader(r PositionReader) {
	e.positions = r
}

// Submit places one risk-sized entry for sig unless its key is already pending or complete.
func (e *Engine) Submit(ctx context.Context, sig Signal) (SubmitResult, error) {
	res, err := e.submit(ctx, sig)
	if res.Outcome != "" {
		log.Printf("executor: submit %s -> %s qty=%v %s", res.Key, res.Outcome, res.Qty, res.Reason)
		e.bus.Publish(events.EventSubmitResult, events.SubmitResult{
			Key:           res.Key,
			ClientOrderID: res.ClientOrderID,
			Outcome:       string(res.Outcome),
			Qty:           res.Qty,
			Reason:        res.Reason,
		})
	}
	return res, err
}

func (e *Engine) submit(ctx context.Context, sig Signal) (SubmitResult, error) {
	key := sig.IdempotencyKey()

	unlock := e.locks.Lock(key)
	p, req, res, err := e.admit(ctx, sig, key)
	unlock()
	if err != nil || res.Outcome != "" {
		return res, err
	}

	ack, placeErr := e.gw.PlaceOrder(ctx, req)

	unlock = e.locks.Lock(key)
	defer unlock()

	res = SubmitResult{Key: key, ClientOrderID: p.ClientOrderID, Qty: p.RequestedQty}
	var rej *common.RejectedError
	switch {
	case errors.As(placeErr, &rej):
		return e.rejected(ctx, p, res, rej.Code, rej.Msg)
	case placeErr != nil:
		// The request may have reached the venue; the timeout path settles it.
		e.alarm(events.AlarmUnconfirmed, key, "place %s unconfirmed: %v", p.ClientOrderID, placeErr)
		e.journal(ctx, p, "unconfirmed", placeErr.Error())
		res.Outcome = SubmitUnconfirmed
		res.Reason = placeErr.Error()
		return res, nil
	case !ack.OK():
		return e.rejected(ctx, p, res, ack.Code, ack.Msg)
	}

	cur, ok, err := e.store.Pending(ctx, key)
	if err != nil {
		log.Printf("executor: reload %s after ack: %v", key, err)
	} else if ok && cur.ClientOrderID == p.ClientOrderID && cur.ExchangeOrderID == "" {
		cur.ExchangeOrderID = ack.ExchangeOrderID
		if err := e.save(ctx, cur); err != nil {
			log.Printf("executor: record ordId for %s: %v", key, err)
		}
	}
	e.journal(ctx, p, "accepted", "ordId="+ack.ExchangeOrderID)
	log.Printf("✅ executor: %s accepted clOrdId=%s ordId=%s qty=%v", key, p.ClientOrderID, ack.ExchangeOrderID, p.RequestedQty)
	res.Outcome = SubmitAccepted
	return res, nil
}

// admit runs every pre-trade check and persists the pending order. A non-empty result
// outcome means no order is to be placed.
func (e *Engine) admit(ctx context.Context, sig Signal, key string) (PendingOrder, common.OrderRequest, SubmitResult, error) {
	refuse := func(outcome SubmitOutcome, reason string) (PendingOrder, common.OrderRequest, SubmitResult, error) {
		return PendingOrder{}, common.OrderRequest{}, SubmitResult{Outcome: outcome, Key: key, Reason: reason}, nil
	}
	fail := func(err error) (PendingOrder, common.OrderRequest, SubmitResult, error) {
		return PendingOrder{}, common.OrderRequest{}, SubmitResult{Key: key}, err
	}

	rec, done, err := e.store.Completion(ctx, key)
	if err != nil {
		return fail(fmt.Errorf("check completion %s: %w", key, err))
	}
	if done {
		return refuse(SubmitDuplicate, "completed:"+string(rec.Outcome))
	}
	existing, pending, err := e.store.Pending(ctx, key)
	if err != nil {
		return fail(fmt.Errorf("check pending %s: %w", key, err))
	}
	if pending {
		return refuse(SubmitDuplicate, "pending:"+existing.ClientOrderID)
	}

	if e.risk != nil && e.risk.IsHalted() {
		return refuse(SubmitHalted, "daily loss limit reached")
	}
	now := e.Now()
	if until := e.cooldown(); now.Before(until) {
		return refuse(SubmitRejected, "cooldown until "+until.Format(time.RFC3339))
	}
	if e.cfg.MaxPositions > 0 {
		all, err := e.store.ListPending(ctx)
		if err != nil {
			return fail(fmt.Errorf("list pending: %w", err))
		}
		n := 0
		for _, o := range all {
			if o.InstID == sig.InstID {
				n++
			}
		}
		if n >= e.cfg.MaxPositions {
			return refuse(SubmitRejected, fmt.Sprintf("position limit: %d pending on %s", n, sig.InstID))
		}
	}
	if e.cfg.MaxPositions == 1 && e.positions != nil {
		if pos, ok := opposingPosition(e.positions.Positions(), sig.InstID, sig.Side); ok {
			return refuse(SubmitRejected, fmt.Sprintf("position limit: %s %s position open (qty %v)", sig.InstID, pos.PosSide, pos.Qty))
		}
	}

	spec, err := e.account.Instrument(ctx, sig.InstID)
	if err != nil {
		return fail(fmt.Errorf("instrument %s: %w", sig.InstID, err))
	}
	eq, err := e.account.Equity(ctx)
	if err != nil {
		return fail(fmt.Errorf("equity: %w", err))
	}
	qty, err := sizing.Size(sizing.Params{
		Balance:       eq.TotalEquity,
		Price:         sig.Price,
		ContractValue: spec.ContractValue,
		RiskPct:       e.cfg.RiskPct,
		StopLossPct:   e.cfg.StopLossPct,
		LotSize:       spec.LotSize,
		MinSize:       spec.MinSize,
	})
	if err != nil {
		return refuse(SubmitRejected, err.Error())
	}
	if e.cfg.MarginBufferRatio > 0 {
		margin := sig.Price * spec.ContractValue * qty / float64(e.cfg.Leverage)
		if budget := eq.Available * e.cfg.MarginBufferRatio; margin > budget {
			return refuse(SubmitRejected, fmt.Sprintf("insufficient margin: need %.4f have %.4f", margin, budget))
		}
	}

	tp, sl := risk.Brackets(sig.Side, sig.Price, e.cfg.TakeProfitPct, e.cfg.StopLossPct, spec.TickSize)
	p := PendingOrder{
		Key:           key,
		ClientOrderID: ClientOrderID(key, e.NewULID()),
		InstID:        sig.InstID,
		Side:          sig.Side,
		SubmittedAt:   now,
		RequestedQty:  qty,
	}
	if err := e.save(ctx, p); err != nil {
		return fail(err)
	}
	e.journal(ctx, p, "submitted", fmt.Sprintf("price=%v tp=%v sl=%v", sig.Price, tp, sl))

	req := common.OrderRequest{
		InstID:        sig.InstID,
		TdMode:        e.cfg.TdMode,
		Side:          sig.Side,
		Qty:           qty,
		ClientOrderID: p.ClientOrderID,
		TakeProfitPx:  tp,
		StopLossPx:    sl,
	}
	return p, req, SubmitResult{}, nil
}

// opposingPosition finds an open position on instID in the direction opposite to side.
// Net-mode positions carry the direction in the sign of Qty.
func opposingPosition(positions []common.PositionUpdate, instID string, side common.Side) (common.PositionUpdate, bool) {
	for _, p := range positions {
		if p.InstID != instID || p.Qty == 0 {
			continue
		}
		long := p.PosSide == "long" || (p.PosSide != "short" && p.Qty > 0)
		if long == (side == common.SideSell) {
			return p, true
		}
	}
	return common.PositionUpdate{}, false
}

// rejected handles a definitive per-order refusal: the pending order goes, the key is free,
// and new submissions pause for the cooldown.
func (e *Engine) rejected(ctx context.Context, p PendingOrder, res SubmitResult, code, msg string) (SubmitResult, error) {
	res.Outcome = SubmitRejected
	res.Reason = fmt.Sprintf("code=%s msg=%s", code, msg)
	e.startCooldown()

	cur, ok, err := e.store.Pending(ctx, p.Key)
	if err != nil {
		return res, fmt.Errorf("reload %s after reject: %w", p.Key, err)
	}
	if ok && cur.ClientOrderID == p.ClientOrderID {
		if err := e.store.DeletePending(ctx, p.Key); err != nil {
			e.alarm(events.AlarmStoreFailure, p.Key, "delete rejected pending: %v", err)
			return res, fmt.Errorf("delete rejected pending %s: %w", p.Key, err)
		}
	}
	e.journal(ctx, p, "rejected", res.Reason)
	log.Printf("❌ executor: %s rejected %s", p.Key, res.Reason)
	return res, nil
}

func (e *Engine) cooldown() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cooldownUntil
}

func (e *Engine) startCooldown() {
	if e.cfg.RejectCooldown <= 0 {
		return
	}
	e.mu.Lock()
	e.cooldownUntil = e.Now().Add(e.cfg.RejectCooldown)
	e.mu.Unlock()
}

// OnOrderStateEvent applies one pushed order state. Fill quantity never decreases.
func (e *Engine) OnOrderStateEvent(ctx context.Context, ev common.OrderStateEvent) error {
	if ev.ClientOrderID == "" {
		return nil
	}
	key, ok, err := e.store.KeyForClientOrderID(ctx, ev.ClientOrderID)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", ev.ClientOrderID, err)
	}
	if !ok {
		log.Printf("executor: no pending order for clOrdId=%s state=%s, ignoring", ev.ClientOrderID, ev.State)
		return nil
	}

	unlock := e.locks.Lock(key)
	defer unlock()

	p, ok, err := e.store.Pending(ctx, key)
	if err != nil {
		return fmt.Errorf("load pending %s: %w", key, err)
	}
	if !ok || p.ClientOrderID != ev.ClientOrderID {
		return nil
	}
	if ev.FilledQty > p.FilledQty {
		p.FilledQty = ev.FilledQty
	}
	if p.ExchangeOrderID == "" {
		p.ExchangeOrderID = ev.ExchangeOrderID
	}
	p.LastState = ev.State
	e.bus.Publish(events.EventOrderUpdate, ev)

	if ev.State == common.StateFilled {
		return e.finalize(ctx, p, OutcomeFilled, ev.AvgPrice)
	}
	// canceled and rejected wait for the timeout path, which confirms the final fill.
	return e.save(ctx, p)
}

// OnTimeoutTick cancels and settles every pending order older than the order timeout.
// Keys already in a cancel round trip are skipped.
func (e *Engine) OnTimeoutTick(ctx context.Context, now time.Time) error {
	pending, err := e.store.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}
	e.bus.Publish(events.EventPendingCount, len(pending))

	var wg sync.WaitGroup
	for _, p := range pending {
		if now.Sub(p.SubmittedAt) < e.cfg.OrderTimeout || !e.beginCancel(p.Key) {
			continue
		}
		wg.Add(1)
		go func(p PendingOrder) {
			defer wg.Done()
			defer e.endCancel(p.Key)
			if err := e.expire(ctx, p, now); err != nil {
				log.Printf("executor: timeout %s: %v", p.Key, err)
			}
		}(p)
	}
	wg.Wait()
	return nil
}

func (e *Engine) beginCancel(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelling[key] {
		return false
	}
	e.cancelling[key] = true
	return true
}

func (e *Engine) endCancel(key string) {
	e.mu.Lock()
	delete(e.cancelling, key)
	e.mu.Unlock()
}

// expire cancels p and settles it from the exchange's answer. An order no index knows is
// only settled once it has stayed unknown for the not-found grace.
func (e *Engine) expire(ctx context.Context, p PendingOrder, now time.Time) error {
	log.Printf("⏰ executor: %s clOrdId=%s pending since %s, canceling", p.Key, p.ClientOrderID, p.SubmittedAt.Format(time.RFC3339))
	if err := e.cancelWithRetry(ctx, p); err != nil {
		return err
	}

	st, err := e.gw.QueryOrder(ctx, p.InstID, p.ClientOrderID)
	switch {
	case errors.Is(err, common.ErrOrderNotFound):
		_, err := e.MarkNotFound(ctx, p.Key, now, e.cfg.NotFoundGrace)
		return err
	case err != nil:
		return fmt.Errorf("confirm %s: %w", p.ClientOrderID, err)
	}
	return e.Reconcile(ctx, p.Key, st)
}

func (e *Engine) cancelWithRetry(ctx context.Context, p PendingOrder) error {
	delay := e.cfg.CancelBackoff
	var lastErr error
	for attempt := 1; attempt <= e.cfg.CancelRetries; attempt++ {
		err := e.gw.CancelOrder(ctx, p.InstID, p.ClientOrderID)
		result := "ok"
		switch {
		case err == nil:
		case errors.Is(err, common.ErrOrderAlreadyFinal):
			result = "already_final"
		case errors.Is(err, common.ErrOrderNotFound):
			result = "not_found"
		default:
			result = "error"
		}
		e.bus.Publish(events.EventCancelAttempt, events.CancelAttempt{Key: p.Key, ClientOrderID: p.ClientOrderID, Result: result})
		if result != "error" {
			return nil
		}

		lastErr = err
		log.Printf("executor: cancel %s attempt %d/%d failed: %v", p.ClientOrderID, attempt, e.cfg.CancelRetries, err)
		if attempt == e.cfg.CancelRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	e.alarm(events.AlarmCancelExhausted, p.Key, "cancel %s failed %d times: %v", p.ClientOrderID, e.cfg.CancelRetries, lastErr)
	e.journal(ctx, p, "cancel_exhausted", lastErr.Error())
	return fmt.Errorf("%w: %s: %v", ErrCancelExhausted, p.ClientOrderID, lastErr)
}

// Reconcile applies an authoritative exchange status to the pending order for key.
// A still-working order only has its fill refreshed.
func (e *Engine) Reconcile(ctx context.Context, key string, st common.OrderStatus) error {
	unlock := e.locks.Lock(key)
	defer unlock()

	p, ok, err := e.store.Pending(ctx, key)
	if err != nil {
		return fmt.Errorf("load pending %s: %w", key, err)
	}
	if !ok || (st.ClientOrderID != "" && st.ClientOrderID != p.ClientOrderID) {
		return nil
	}
	if st.FilledQty > p.FilledQty {
		p.FilledQty = st.FilledQty
	}
	if p.ExchangeOrderID == "" {
		p.ExchangeOrderID = st.ExchangeOrderID
	}
	if st.State != "" {
		p.LastState = st.State
	}
	p.NotFoundSince = time.Time{}

	switch st.State {
	case common.StateFilled:
		return e.finalize(ctx, p, OutcomeFilled, st.AvgPrice)
	case common.StateCanceled, common.StateRejected:
		if p.FilledQty > 0 {
			return e.finalize(ctx, p, OutcomeCanceledPartialFill, st.AvgPrice)
		}
		return e.release(ctx, p, "exchange state "+string(st.State)+" via "+st.Source)
	default:
		return e.save(ctx, p)
	}
}

// MarkNotFound records that no exchange index knows the order for key. Once the order has
// been missing for grace it is settled: released without fill, or closed as a partial fill.
func (e *Engine) MarkNotFound(ctx context.Context, key string, now time.Time, grace time.Duration) (bool, error) {
	unlock := e.locks.Lock(key)
	defer unlock()

	p, ok, err := e.store.Pending(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if p.NotFoundSince.IsZero() {
		p.NotFoundSince = now
		return false, e.save(ctx, p)
	}
	if now.Sub(p.NotFoundSince) < grace {
		return false, nil
	}
	if p.FilledQty > 0 {
		e.alarm(events.AlarmReconcile, key, "order %s unknown to exchange with local fill %v", p.ClientOrderID, p.FilledQty)
		return true, e.finalize(ctx, p, OutcomeCanceledPartialFill, 0)
	}
	return true, e.release(ctx, p, "not found for "+now.Sub(p.NotFoundSince).String())
}

func (e *Engine) finalize(ctx context.Context, p PendingOrder, outcome Outcome, avgPrice float64) error {
	rec := CompletionRecord{
		Key:           p.Key,
		ClientOrderID: p.ClientOrderID,
		Outcome:       outcome,
		FilledQty:     p.FilledQty,
		AvgPrice:      avgPrice,
		FinalizedAt:   e.Now(),
	}
	err := e.store.Finalize(ctx, rec)
	if errors.Is(err, ErrAlreadyFinalized) {
		log.Printf("executor: %s already finalized, dropping pending", p.Key)
		return e.store.DeletePending(ctx, p.Key)
	}
	if err != nil {
		e.alarm(events.AlarmStoreFailure, p.Key, "finalize %s: %v", outcome, err)
		return fmt.Errorf("finalize %s: %w", p.Key, err)
	}
	e.journal(ctx, p, string(outcome), fmt.Sprintf("filled=%v avg=%v", p.FilledQty, avgPrice))
	e.bus.Publish(events.EventOrderFinalized, events.Finalized{
		Key:           p.Key,
		ClientOrderID: p.ClientOrderID,
		Outcome:       string(outcome),
		FilledQty:     p.FilledQty,
	})
	log.Printf("✅ executor: %s finalized %s filled=%v", p.Key, outcome, p.FilledQty)
	return nil
}

// release drops a zero-fill order so its key can be submitted again.
func (e *Engine) release(ctx context.Context, p PendingOrder, reason string) error {
	if err := e.store.DeletePending(ctx, p.Key); err != nil {
		e.alarm(events.AlarmStoreFailure, p.Key, "release: %v", err)
		return fmt.Errorf("release %s: %w", p.Key, err)
	}
	e.journal(ctx, p, string(OutcomeCanceledNoFill), reason)
	e.bus.Publish(events.EventOrderReleased, events.Released{Key: p.Key, ClientOrderID: p.ClientOrderID, Reason: reason})
	log.Printf("executor: %s released without fill (%s)", p.Key, reason)
	return nil
}

func (e *Engine) save(ctx context.Context, p PendingOrder) error {
	if err := e.store.SavePending(ctx, p); err != nil {
		e.alarm(events.AlarmStoreFailure, p.Key, "save pending: %v", err)
		return fmt.Errorf("save pending %s: %w", p.Key, err)
	}
	return nil
}

func (e *Engine) journal(ctx context.Context, p PendingOrder, event, detail string) {
	err := e.store.AppendJournal(ctx, db.JournalEntry{
		Key:           p.Key,
		ClientOrderID: p.ClientOrderID,
		InstID:        p.InstID,
		Side:          string(p.Side),
		Qty:           p.RequestedQty,
		Event:         event,
		Detail:        detail,
	})
	if err != nil {
		log.Printf("executor: journal %s %s: %v", p.Key, event, err)
	}
}

func (e *Engine) alarm(kind, key, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("🚨 executor: [%s] %s: %s", kind, key, msg)
	e.bus.Publish(events.EventAlarm, events.Alarm{Kind: kind, Key: key, Message: msg, Time: e.Now()})
}

// Run consumes the ordered stream, the signal channel and the timeout ticker until ctx
// ends. Stream transitions run to completion even while shutting down.
func (e *Engine) Run(ctx context.Context, stream <-chan common.StreamEvent, signals <-chan Signal) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		e.consumeStream(ctx, stream)
	}()
	go func() {
		defer wg.Done()
		e.consumeSignals(ctx, signals)
	}()
	go func() {
		defer wg.Done()
		e.tickLoop(ctx)
	}()
	wg.Wait()
	log.Printf("executor: stopped")
}

func (e *Engine) consumeStream(ctx context.Context, stream <-chan common.StreamEvent) {
	stepCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream:
			if !ok {
				return
			}
			if ev.Order != nil {
				if err := e.OnOrderStateEvent(stepCtx, *ev.Order); err != nil {
					log.Printf("executor: order event %s: %v", ev.Order.ClientOrderID, err)
				}
			}
			if (ev.Equity != nil || ev.Position != nil) && e.observer != nil {
				e.observer.Observe(stepCtx, ev)
			}
		}
	}
}

func (e *Engine) consumeSignals(ctx context.Context, signals <-chan Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			if _, err := e.Submit(ctx, sig); err != nil {
				log.Printf("executor: submit %s: %v", sig.IdempotencyKey(), err)
			}
		}
	}
}

func (e *Engine) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := e.Now()
			if e.observer != nil {
				e.observer.Tick(ctx, now)
			}
			if err := e.OnTimeoutTick(ctx, now); err != nil {
				log.Printf("executor: timeout tick: %v", err)
			}
		}
	}
}
