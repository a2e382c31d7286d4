package eta

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/orderflow-mcp/internal/metrics"
	"github.com/dshills/orderflow-mcp/internal/storage"
	"github.com/dshills/orderflow-mcp/pkg/types"
)

const (
	// DefaultSampleLimit is how many of the newest prep samples feed the percentile
	DefaultSampleLimit = 100
	// DefaultCacheSize bounds the number of restaurants with a cached percentile
	DefaultCacheSize = 1000
)

// Reader is the storage surface the estimator needs. Both storage.Storage and
// storage.Tx satisfy it.
type Reader interface {
	GetRestaurant(ctx context.Context, restaurantID int64) (*storage.Restaurant, error)
	RecentPrepTimes(ctx context.Context, restaurantID int64, limit int) ([]int, error)
	CourierLoads(ctx context.Context) ([]storage.CourierLoad, error)
}

// Config holds the externally configured estimation constants
type Config struct {
	BaseTimeMinutes     float64 // Wait per unit of courier load
	NoCourierMultiplier float64 // Penalty applied to BaseTimeMinutes when no courier is available
	SampleLimit         int
	CacheSize           int
}

// Estimate is the breakdown of a delivery time estimate
type Estimate struct {
	PrepMinutes int     `json:"prep_minutes"`
	WaitMinutes float64 `json:"wait_minutes"`
}

// Minutes is the total estimate
func (e Estimate) Minutes() float64 {
	return float64(e.PrepMinutes) + e.WaitMinutes
}

// Duration is the total estimate as a time.Duration
func (e Estimate) Duration() time.Duration {
	return time.Duration(e.Minutes() * float64(time.Minute))
}

// Estimator computes delivery time estimates from prep history and courier load
type Estimator struct {
	cfg     Config
	cache   *lru.Cache[int64, int]
	metrics *metrics.Metrics
}

// New creates an estimator. m may be nil.
func New(cfg Config, m *metrics.Metrics) (*Estimator, error) {
	if cfg.BaseTimeMinutes <= 0 {
		return nil, fmt.Errorf("base time must be positive, got %v", cfg.BaseTimeMinutes)
	}
	if cfg.NoCourierMultiplier <= 0 {
		return nil, fmt.Errorf("no-courier multiplier must be positive, got %v", cfg.NoCourierMultiplier)
	}
	if cfg.SampleLimit <= 0 {
		cfg.SampleLimit = DefaultSampleLimit
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}

	cache, err := lru.New[int64, int](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create prep time cache: %w", err)
	}

	return &Estimator{cfg: cfg, cache: cache, metrics: m}, nil
}

// Estimate returns prep time plus courier wait for a restaurant
func (e *Estimator) Estimate(ctx context.Context, r Reader, restaurantID int64) (Estimate, error) {
	prep, err := e.PrepMinutes(ctx, r, restaurantID)
	if err != nil {
		return Estimate{}, err
	}
	wait, err := e.CourierWait(ctx, r)
	if err != nil {
		return Estimate{}, err
	}

	est := Estimate{PrepMinutes: prep, WaitMinutes: wait}
	e.metrics.ObserveETA(est.Minutes())
	return est, nil
}

// PrepMinutes is the P80 of the newest samples, or the restaurant's static
// average when it has no history
func (e *Estimator) PrepMinutes(ctx context.Context, r Reader, restaurantID int64) (int, error) {
	if v, ok := e.cache.Get(restaurantID); ok {
		return v, nil
	}

	samples, err := r.RecentPrepTimes(ctx, restaurantID, e.cfg.SampleLimit)
	if err != nil {
		return 0, err
	}

	prep, ok := Percentile80(samples)
	if !ok {
		restaurant, err := r.GetRestaurant(ctx, restaurantID)
		if errors.Is(err, storage.ErrNotFound) {
			return 0, types.Errorf("eta.Estimate", types.ErrNotFound, "restaurant %d", restaurantID)
		}
		if err != nil {
			return 0, err
		}
		prep = restaurant.AverageCookMinutes
	}

	e.cache.Add(restaurantID, prep)
	return prep, nil
}

// CourierWait is BaseTimeMinutes times the mean active load of available
// couriers (floored at 1), or BaseTimeMinutes times the no-courier penalty
// when none is available
func (e *Estimator) CourierWait(ctx context.Context, r Reader) (float64, error) {
	loads, err := r.CourierLoads(ctx)
	if err != nil {
		return 0, err
	}
	if len(loads) == 0 {
		return e.cfg.BaseTimeMinutes * e.cfg.NoCourierMultiplier, nil
	}

	total := 0
	for _, l := range loads {
		total += l.ActiveOrders
	}
	avg := math.Max(1, float64(total)/float64(len(loads)))
	return e.cfg.BaseTimeMinutes * avg, nil
}

// Invalidate drops the cached percentile after a new sample is recorded
func (e *Estimator) Invalidate(restaurantID int64) {
	e.cache.Remove(restaurantID)
}

// Percentile80 is the nearest-rank 80th percentile: sorted ascending, index
// ceil(0.8*N)-1. ok is false for an empty input.
func Percentile80(samples []int) (p int, ok bool) {
	if len(samples) == 0 {
		return 0, false
	}
	sorted := append([]int(nil), samples...)
	sort.Ints(sorted)
	idx := int(math.Ceil(0.8*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx], true
}
