package eta

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/orderflow-mcp/internal/storage"
	"github.com/dshills/orderflow-mcp/internal/storage/storagetest"
	"github.com/dshills/orderflow-mcp/pkg/types"
)

func newEstimator(t *testing.T) *Estimator {
	e, err := New(Config{BaseTimeMinutes: 10, NoCourierMultiplier: 3}, nil)
	require.NoError(t, err)
	return e
}

func TestPercentile80(t *testing.T) {
	tests := []struct {
		name    string
		samples []int
		want    int
		ok      bool
	}{
		{"empty", nil, 0, false},
		{"single", []int{17}, 17, true},
		{"ten samples", []int{60, 10, 45, 12, 30, 15, 25, 18, 22, 20}, 30, true},
		{"five samples", []int{5, 1, 4, 2, 3}, 4, true},
		{"two samples", []int{9, 3}, 9, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Percentile80(tt.samples)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPercentile80_DoesNotMutateInput(t *testing.T) {
	in := []int{3, 1, 2}
	_, _ = Percentile80(in)
	assert.Equal(t, []int{3, 1, 2}, in)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	_, err := New(Config{BaseTimeMinutes: 0, NoCourierMultiplier: 2}, nil)
	assert.Error(t, err)
	_, err = New(Config{BaseTimeMinutes: 5, NoCourierMultiplier: -1}, nil)
	assert.Error(t, err)
}

func TestEstimate_NoHistoryNoCouriers(t *testing.T) {
	s := storagetest.New(t)
	e := newEstimator(t)
	r := storagetest.Restaurant(t, s, 1, 25)

	est, err := e.Estimate(context.Background(), s, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, est.PrepMinutes)
	assert.Equal(t, 30.0, est.WaitMinutes)
	assert.Equal(t, 55.0, est.Minutes())
	assert.Equal(t, 55*time.Minute, est.Duration())
}

func TestEstimate_PercentileAndLoad(t *testing.T) {
	s := storagetest.New(t)
	e := newEstimator(t)
	ctx := context.Background()

	r := storagetest.Restaurant(t, s, 1, 25)
	for _, m := range []int{60, 10, 45, 12, 30, 15, 25, 18, 22, 20} {
		require.NoError(t, s.AddPrepTimeSample(ctx, &storage.PrepTimeSample{RestaurantID: r.ID, Minutes: m}))
	}

	busy := storagetest.Courier(t, s, 100, types.CourierAvailable)
	storagetest.Courier(t, s, 101, types.CourierAvailable)
	storagetest.Courier(t, s, 102, types.CourierOffline)

	for i := 0; i < 4; i++ {
		o := &storage.Order{CustomerID: 7, RestaurantID: r.ID, PaymentMethod: types.PaymentCash, Status: types.OrderConfirmed}
		require.NoError(t, s.CreateOrder(ctx, o))
		require.NoError(t, s.SetOrderCourier(ctx, o.ID, &busy.ID))
	}

	est, err := e.Estimate(ctx, s, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, est.PrepMinutes)
	// 4 active orders over 2 available couriers
	assert.Equal(t, 20.0, est.WaitMinutes)
}

func TestCourierWait_FlooredAtOne(t *testing.T) {
	s := storagetest.New(t)
	e := newEstimator(t)
	storagetest.Courier(t, s, 100, types.CourierAvailable)

	wait, err := e.CourierWait(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 10.0, wait)
}

func TestPrepMinutes_CachedUntilInvalidated(t *testing.T) {
	s := storagetest.New(t)
	e := newEstimator(t)
	ctx := context.Background()
	r := storagetest.Restaurant(t, s, 1, 25)

	prep, err := e.PrepMinutes(ctx, s, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, prep)

	require.NoError(t, s.AddPrepTimeSample(ctx, &storage.PrepTimeSample{RestaurantID: r.ID, Minutes: 40}))

	prep, err = e.PrepMinutes(ctx, s, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, prep, "cached value until invalidated")

	e.Invalidate(r.ID)
	prep, err = e.PrepMinutes(ctx, s, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, prep)
}

func TestPrepMinutes_UnknownRestaurant(t *testing.T) {
	s := storagetest.New(t)
	e := newEstimator(t)

	_, err := e.PrepMinutes(context.Background(), s, 404)
	assert.ErrorIs(t, err, types.ErrNotFound)
}
