package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimeSyncOffset(t *testing.T) {
	ahead := time.Now().Add(5 * time.Second).UnixMilli()
	ts := NewTimeSync(func(context.Context) (int64, error) { return ahead, nil })
	require.NoError(t, ts.Sync(context.Background()))

	require.InDelta(t, 5000, ts.Offset(), 250)
	require.WithinDuration(t, time.Now().Add(5*time.Second), ts.Now(), 250*time.Millisecond)
}

func TestTimeSyncError(t *testing.T) {
	ts := NewTimeSync(func(context.Context) (int64, error) { return 0, errors.New("down") })
	require.Error(t, ts.Sync(context.Background()))
	require.Zero(t, ts.Offset())
}

func TestErrorsClassification(t *testing.T) {
	wrapped := errors.Join(errors.New("dial tcp"), ErrTransient)
	require.True(t, IsTransient(wrapped))
	require.False(t, IsTransient(&RejectedError{Code: "51008", Msg: "insufficient margin"}))

	var rej *RejectedError
	require.True(t, errors.As(error(&RejectedError{Code: "1"}), &rej))
	require.True(t, StateFilled.Terminal())
	require.False(t, StatePartiallyFilled.Terminal())
	require.Equal(t, SideSell, SideBuy.Opposite())
}
