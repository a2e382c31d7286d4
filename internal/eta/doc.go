// Package eta estimates delivery time as preparation time plus courier wait.
//
// Preparation time is the nearest-rank 80th percentile of a restaurant's most
// recent cook times. The percentile is cached per restaurant in an LRU cache
// and invalidated when the order flow records a new sample.
//
//	est, err := estimator.Estimate(ctx, tx, restaurantID)
//	deliverAt := now.Add(est.Duration())
package eta
