package operations

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestWaitForSucceedsAfterPolls(t *testing.T) {
	calls := 0
	err := WaitFor(context.Background(), time.Millisecond, time.Second, func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWaitForTimeout(t *testing.T) {
	err := WaitFor(context.Background(), time.Millisecond, 10*time.Millisecond, func(context.Context) (bool, error) {
		return false, nil
	})
	assert.True(t, errors.Is(err, ErrWaitTimeout))
}

func TestWaitForKeepsLastError(t *testing.T) {
	err := WaitFor(context.Background(), time.Millisecond, 5*time.Millisecond, func(context.Context) (bool, error) {
		return false, errors.New("currentOp unavailable")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWaitTimeout))
	assert.Contains(t, err.Error(), "currentOp unavailable")
}

func TestWaitForContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WaitFor(ctx, time.Hour, time.Hour, func(context.Context) (bool, error) {
		return false, nil
	})
	assert.Equal(t, context.Canceled, err)
}

func TestFormatBound(t *testing.T) {
	assert.Equal(t, "{}", FormatBound(nil))
	assert.Equal(t, "{ _id: 0 }", FormatBound(bson.D{{Key: "_id", Value: int64(0)}}))
	assert.Equal(t, "{ region: eu, appID: 7 }", FormatBound(bson.D{{Key: "region", Value: "eu"}, {Key: "appID", Value: 7}}))
}

func TestBalancerStateEnabled(t *testing.T) {
	var nilState *BalancerState
	assert.False(t, nilState.Enabled())
	assert.False(t, (&BalancerState{Mode: "off"}).Enabled())
	assert.True(t, (&BalancerState{Mode: "full"}).Enabled())
}
