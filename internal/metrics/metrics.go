// Package metrics exposes Prometheus instruments for the fulfillment engine.
//
// Every method is safe on a nil *Metrics so components can run without
// instrumentation in tests.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orderflow"

// Metrics holds the engine's instruments on a private registry
type Metrics struct {
	Registry *prometheus.Registry

	OrderTransitions *prometheus.CounterVec
	StockRejections  *prometheus.CounterVec
	SweepRuns        prometheus.Counter
	SweepAssignments prometheus.Counter
	SweepSkipped     prometheus.Counter
	SweepUnmatched   prometheus.Gauge
	Notifications    *prometheus.CounterVec
	ETAMinutes       prometheus.Histogram
}

// New creates and registers all instruments
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		OrderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Committed order status transitions.",
		}, []string{"from", "to"}),
		StockRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_rejections_total",
			Help:      "Stock reservations rejected by reason.",
		}, []string{"reason"}),
		SweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Completed courier sweep runs.",
		}),
		SweepAssignments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_assignments_total",
			Help:      "Orders assigned by the courier sweep.",
		}),
		SweepSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_skipped_total",
			Help:      "Sweep pairings rolled back and skipped.",
		}),
		SweepUnmatched: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sweep_unmatched_orders",
			Help:      "Confirmed orders left without a courier after the last sweep.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications by kind and delivery result.",
		}, []string{"kind", "result"}),
		ETAMinutes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "eta_minutes",
			Help:      "Estimated delivery time in minutes.",
			Buckets:   []float64{10, 20, 30, 45, 60, 90, 120, 180},
		}),
	}

	m.Registry.MustRegister(
		m.OrderTransitions, m.StockRejections,
		m.SweepRuns, m.SweepAssignments, m.SweepSkipped, m.SweepUnmatched,
		m.Notifications, m.ETAMinutes,
	)
	return m
}

// ObserveTransition counts a committed order status change
func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.OrderTransitions.WithLabelValues(from, to).Inc()
}

// StockRejected counts a refused reservation
func (m *Metrics) StockRejected(reason string) {
	if m == nil {
		return
	}
	m.StockRejections.WithLabelValues(reason).Inc()
}

// SweepCompleted records the outcome of one sweep run
func (m *Metrics) SweepCompleted(assigned, skipped, unmatched int) {
	if m == nil {
		return
	}
	m.SweepRuns.Inc()
	m.SweepAssignments.Add(float64(assigned))
	m.SweepSkipped.Add(float64(skipped))
	m.SweepUnmatched.Set(float64(unmatched))
}

// Notification counts a notification outcome (queued, delivered, failed)
func (m *Metrics) Notification(kind, result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(kind, result).Inc()
}

// ObserveETA records a computed estimate
func (m *Metrics) ObserveETA(minutes float64) {
	if m == nil {
		return
	}
	m.ETAMinutes.Observe(minutes)
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Serve exposes /metrics and /health on addr until ctx is cancelled. health
// may be nil.
func (m *Metrics) Serve(ctx context.Context, addr string, health func(context.Context) error) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			if err := health(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
