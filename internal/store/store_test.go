package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"okx-core/internal/order"
	"okx-core/pkg/db"
	"okx-core/pkg/exchanges/common"
)

func openStore(t *testing.T, dsn string) *Store {
	t.Helper()
	database, err := db.New(db.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.ApplyMigrations(database))
	return New(database)
}

func samplePending(key, cl string) order.PendingOrder {
	return order.PendingOrder{
		Key:           key,
		ClientOrderID: cl,
		InstID:        "BTC-USDT-SWAP",
		Side:          common.SideBuy,
		SubmittedAt:   time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		RequestedQty:  2,
	}
}

func TestPendingLifecycle(t *testing.T) {
	s := openStore(t, ":memory:")
	ctx := context.Background()

	p := samplePending("ema:BTC:buy:1", "Qabc01")
	require.NoError(t, s.SavePending(ctx, p))

	got, ok, err := s.Pending(ctx, p.Key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, p.ClientOrderID, got.ClientOrderID)
	require.True(t, p.SubmittedAt.Equal(got.SubmittedAt))

	key, ok, err := s.KeyForClientOrderID(ctx, "Qabc01")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, p.Key, key)

	list, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeletePending(ctx, p.Key))
	_, ok, err = s.Pending(ctx, p.Key)
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = s.KeyForClientOrderID(ctx, "Qabc01")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFinalizeIsWriteOnce(t *testing.T) {
	s := openStore(t, ":memory:")
	ctx := context.Background()

	p := samplePending("k1", "Qk1")
	require.NoError(t, s.SavePending(ctx, p))

	rec := order.CompletionRecord{Key: "k1", ClientOrderID: "Qk1", Outcome: order.OutcomeFilled, FilledQty: 2}
	require.NoError(t, s.Finalize(ctx, rec))
	require.ErrorIs(t, s.Finalize(ctx, order.CompletionRecord{Key: "k1", Outcome: order.OutcomeCanceledPartialFill}), ErrAlreadyFinalized)

	got, ok, err := s.Completion(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, order.OutcomeFilled, got.Outcome)
	require.Equal(t, 2.0, got.FilledQty)

	_, ok, err = s.Pending(ctx, "k1")
	require.NoError(t, err)
	require.False(t, ok, "finalize clears pending in the same transaction")
}

func TestStateSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	first, err := db.New(db.DriverSQLite, path)
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(first))
	s := New(first)
	require.NoError(t, s.SavePending(ctx, samplePending("k2", "Qk2")))
	require.NoError(t, s.SetMany(ctx, map[string]string{KeyHalted: "1", KeyTradingDay: "2024-03-01"}))
	require.NoError(t, first.Close())

	reopened := openStore(t, path)
	_, ok, err := reopened.Pending(ctx, "k2")
	require.NoError(t, err)
	require.True(t, ok)
	v, ok, err := reopened.Get(ctx, KeyHalted)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", v)
}

func TestClaimOwner(t *testing.T) {
	s := openStore(t, ":memory:")
	ctx := context.Background()

	require.NoError(t, s.ClaimOwner(ctx, "host-a", false))
	require.NoError(t, s.ClaimOwner(ctx, "host-a", false))
	require.ErrorIs(t, s.ClaimOwner(ctx, "host-b", false), ErrOwnedByOther)
	require.NoError(t, s.ClaimOwner(ctx, "host-b", true))
}

func TestDeleteMissingKey(t *testing.T) {
	s := openStore(t, ":memory:")
	require.NoError(t, s.Delete(context.Background(), "nope"))
	require.NoError(t, s.DeletePending(context.Background(), "nope"))
}

func TestListPendingMatchesPrefixLiterally(t *testing.T) {
	s := openStore(t, ":memory:")
	ctx := context.Background()

	// "pending:meta:..." differs from the meta prefix only where it has an underscore.
	p := samplePending("meta:BTC-USDT-SWAP:buy:1", "Qmeta1")
	require.NoError(t, s.SavePending(ctx, p))
	require.NoError(t, s.Set(ctx, "pendingXmeta:other", "not json"))

	list, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, p.Key, list[0].Key)
}

func TestLikePrefixEscapesWildcards(t *testing.T) {
	require.Equal(t, `pending\_meta:%`, likePrefix("pending_meta:"))
	require.Equal(t, `a\%b\\c%`, likePrefix(`a%b\c`))
}
