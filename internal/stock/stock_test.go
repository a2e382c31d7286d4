package stock

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/orderflow-mcp/internal/metrics"
	"github.com/dshills/orderflow-mcp/internal/storage"
	"github.com/dshills/orderflow-mcp/internal/storage/storagetest"
	"github.com/dshills/orderflow-mcp/pkg/types"
)

func inTx(t *testing.T, s storage.Storage, fn func(tx storage.Tx) error) error {
	t.Helper()
	return storage.RunInTx(context.Background(), s, fn)
}

func TestReserve(t *testing.T) {
	s := storagetest.New(t)
	m := metrics.New()
	ledger := NewLedger(m)
	ctx := context.Background()

	r := storagetest.Restaurant(t, s, 1, 20)
	item := storagetest.MenuItem(t, s, r.ID, "Pho", "10.00", 10)

	err := inTx(t, s, func(tx storage.Tx) error {
		got, err := ledger.Reserve(ctx, tx, item.ID, 2)
		if err == nil {
			assert.Equal(t, 8, got.StockQuantity)
		}
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 8, storagetest.Stock(t, s, item.ID))

	err = inTx(t, s, func(tx storage.Tx) error {
		_, err := ledger.Reserve(ctx, tx, item.ID, 9)
		return err
	})
	assert.ErrorIs(t, err, types.ErrOutOfStock)
	assert.Equal(t, 8, storagetest.Stock(t, s, item.ID))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StockRejections.WithLabelValues(ReasonOutOfStock)))
}

func TestReserve_Rejections(t *testing.T) {
	s := storagetest.New(t)
	ledger := NewLedger(nil)
	ctx := context.Background()

	r := storagetest.Restaurant(t, s, 1, 20)
	item := storagetest.MenuItem(t, s, r.ID, "Pho", "10.00", 10)

	reserve := func(id int64, qty int) error {
		return inTx(t, s, func(tx storage.Tx) error {
			_, err := ledger.Reserve(ctx, tx, id, qty)
			return err
		})
	}

	assert.ErrorIs(t, reserve(item.ID, 0), types.ErrValidation)
	assert.ErrorIs(t, reserve(item.ID, -3), types.ErrValidation)
	assert.ErrorIs(t, reserve(999, 1), types.ErrNotFound)

	require.NoError(t, s.SetRestaurantOpen(ctx, r.ID, false))
	assert.ErrorIs(t, reserve(item.ID, 1), types.ErrInvalidState)
	require.NoError(t, s.SetRestaurantOpen(ctx, r.ID, true))

	unavailable := &storage.MenuItem{RestaurantID: r.ID, Name: "Off", Available: false, StockQuantity: 5}
	require.NoError(t, s.CreateMenuItem(ctx, unavailable))
	assert.ErrorIs(t, reserve(unavailable.ID, 1), types.ErrInvalidState)

	assert.Equal(t, 10, storagetest.Stock(t, s, item.ID))
	assert.Equal(t, 5, storagetest.Stock(t, s, unavailable.ID))
}

func TestRelease_IgnoresAvailability(t *testing.T) {
	s := storagetest.New(t)
	ledger := NewLedger(nil)
	ctx := context.Background()

	r := storagetest.Restaurant(t, s, 1, 20)
	item := storagetest.MenuItem(t, s, r.ID, "Pho", "10.00", 0)
	require.NoError(t, s.SetRestaurantOpen(ctx, r.ID, false))

	require.NoError(t, inTx(t, s, func(tx storage.Tx) error {
		return ledger.Release(ctx, tx, item.ID, 3)
	}))
	assert.Equal(t, 3, storagetest.Stock(t, s, item.ID))

	err := inTx(t, s, func(tx storage.Tx) error {
		return ledger.Release(ctx, tx, item.ID, 0)
	})
	assert.ErrorIs(t, err, types.ErrValidation)
}

// Stock after any sequence equals initial minus net reserved and never drops below zero
func TestStockConservation(t *testing.T) {
	s := storagetest.New(t)
	ledger := NewLedger(nil)
	ctx := context.Background()

	const initial = 25
	r := storagetest.Restaurant(t, s, 1, 20)
	item := storagetest.MenuItem(t, s, r.ID, "Pho", "10.00", initial)

	rng := rand.New(rand.NewSource(42))
	reserved := 0
	for i := 0; i < 200; i++ {
		qty := rng.Intn(6) + 1
		if rng.Intn(2) == 0 {
			err := inTx(t, s, func(tx storage.Tx) error {
				_, err := ledger.Reserve(ctx, tx, item.ID, qty)
				return err
			})
			if initial-reserved >= qty {
				require.NoError(t, err)
				reserved += qty
			} else {
				require.ErrorIs(t, err, types.ErrOutOfStock)
			}
		} else if reserved >= qty {
			require.NoError(t, inTx(t, s, func(tx storage.Tx) error {
				return ledger.Release(ctx, tx, item.ID, qty)
			}))
			reserved -= qty
		}

		stock := storagetest.Stock(t, s, item.ID)
		require.Equal(t, initial-reserved, stock)
		require.GreaterOrEqual(t, stock, 0)
	}
}

func TestReserve_ConcurrentNeverOversells(t *testing.T) {
	s := storagetest.New(t)
	ledger := NewLedger(nil)
	ctx := context.Background()

	r := storagetest.Restaurant(t, s, 1, 20)
	item := storagetest.MenuItem(t, s, r.ID, "Pho", "10.00", 10)

	var ok, rejected int64
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := storage.RunInTx(ctx, s, func(tx storage.Tx) error {
				_, err := ledger.Reserve(ctx, tx, item.ID, 1)
				return err
			})
			if err == nil {
				atomic.AddInt64(&ok, 1)
			} else {
				atomic.AddInt64(&rejected, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), ok)
	assert.Equal(t, int64(15), rejected)
	assert.Equal(t, 0, storagetest.Stock(t, s, item.ID))
}
