package reconciliation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"okx-core/internal/events"
	"okx-core/internal/order"
	"okx-core/internal/reconciliation"
	"okx-core/internal/store"
	"okx-core/pkg/db"
	"okx-core/pkg/exchanges/common"
)

type fakeExchange struct {
	mu       sync.Mutex
	statuses map[string]common.OrderStatus
}

func (f *fakeExchange) QueryOrder(_ context.Context, _, clientOrderID string) (common.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[clientOrderID]
	if !ok {
		return common.OrderStatus{}, common.ErrOrderNotFound
	}
	return st, nil
}

func (f *fakeExchange) PlaceOrder(context.Context, common.OrderRequest) (common.OrderAck, error) {
	return common.OrderAck{}, nil
}

func (f *fakeExchange) CancelOrder(context.Context, string, string) error { return nil }

func setup(t *testing.T) (*store.Store, *order.Engine, *fakeExchange) {
	t.Helper()
	database, err := db.New(db.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.ApplyMigrations(database))

	st := store.New(database)
	ex := &fakeExchange{statuses: map[string]common.OrderStatus{}}
	eng := order.NewEngine(order.Config{}, st, ex, nil, nil, nil)
	return st, eng, ex
}

func pendingOrder(key, cl string) order.PendingOrder {
	return order.PendingOrder{
		Key:           key,
		ClientOrderID: cl,
		InstID:        "BTC-USDT-SWAP",
		Side:          common.SideBuy,
		SubmittedAt:   time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		RequestedQty:  2,
	}
}

func actions(r *reconciliation.Report) map[string]string {
	out := map[string]string{}
	for _, it := range r.Items {
		out[it.Key] = it.Action
	}
	return out
}

func TestStartupPassResolvesPendingOrders(t *testing.T) {
	st, eng, ex := setup(t)
	ctx := context.Background()

	require.NoError(t, st.SavePending(ctx, pendingOrder("filled", "Qf")))
	require.NoError(t, st.SavePending(ctx, pendingOrder("partial", "Qp")))
	require.NoError(t, st.SavePending(ctx, pendingOrder("nofill", "Qn")))
	require.NoError(t, st.SavePending(ctx, pendingOrder("working", "Qw")))
	ex.statuses["Qf"] = common.OrderStatus{State: common.StateFilled, FilledQty: 2, ClientOrderID: "Qf"}
	ex.statuses["Qp"] = common.OrderStatus{State: common.StateCanceled, FilledQty: 1, ClientOrderID: "Qp"}
	ex.statuses["Qn"] = common.OrderStatus{State: common.StateCanceled, ClientOrderID: "Qn"}
	ex.statuses["Qw"] = common.OrderStatus{State: common.StatePartiallyFilled, FilledQty: 1, ClientOrderID: "Qw"}

	svc := reconciliation.NewService(st, ex, eng, events.NewBus(), 0, time.Minute)
	report, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, report.Checked)
	require.Zero(t, report.Errors)

	rec, ok, err := st.Completion(ctx, "filled")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, order.OutcomeFilled, rec.Outcome)

	rec, ok, err = st.Completion(ctx, "partial")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, order.OutcomeCanceledPartialFill, rec.Outcome)

	_, ok, err = st.Completion(ctx, "nofill")
	require.NoError(t, err)
	require.False(t, ok)

	left, err := st.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	require.Equal(t, "working", left[0].Key)
	require.Equal(t, 1.0, left[0].FilledQty)
}

func TestNotFoundReleasedOnlyAfterGrace(t *testing.T) {
	st, eng, ex := setup(t)
	ctx := context.Background()
	require.NoError(t, st.SavePending(ctx, pendingOrder("ghost", "Qg")))

	now := time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC)
	svc := reconciliation.NewService(st, ex, eng, nil, time.Second, time.Minute)
	svc.Now = func() time.Time { return now }

	report, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	require.Equal(t, "not_found", actions(report)["ghost"])

	now = now.Add(2 * time.Minute)
	report, err = svc.Reconcile(ctx)
	require.NoError(t, err)
	require.Equal(t, "released", actions(report)["ghost"])
	_, ok, err := st.Pending(ctx, "ghost")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNotFoundClockResetsWhenOrderAppears(t *testing.T) {
	st, eng, ex := setup(t)
	ctx := context.Background()
	require.NoError(t, st.SavePending(ctx, pendingOrder("late", "Ql")))

	now := time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC)
	svc := reconciliation.NewService(st, ex, eng, nil, 0, time.Minute)
	svc.Now = func() time.Time { return now }

	_, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	ex.statuses["Ql"] = common.OrderStatus{State: common.StateLive, ClientOrderID: "Ql"}
	_, err = svc.Reconcile(ctx)
	require.NoError(t, err)

	p, ok, err := st.Pending(ctx, "late")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, p.NotFoundSince.IsZero())
}

func TestStalePendingBesideCompletionIsDropped(t *testing.T) {
	st, eng, ex := setup(t)
	ctx := context.Background()

	require.NoError(t, st.SavePending(ctx, pendingOrder("dup", "Qd")))
	require.NoError(t, st.Finalize(ctx, order.CompletionRecord{Key: "dup", ClientOrderID: "Qd", Outcome: order.OutcomeFilled, FilledQty: 2}))
	// Simulate a crash that re-wrote the pending entry after finalization.
	require.NoError(t, st.SavePending(ctx, pendingOrder("dup", "Qd")))

	svc := reconciliation.NewService(st, ex, eng, nil, 0, time.Minute)
	report, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	require.Equal(t, "stale_pending", actions(report)["dup"])

	_, ok, err := st.Pending(ctx, "dup")
	require.NoError(t, err)
	require.False(t, ok)
}
