package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/dshills/orderflow-mcp/internal/metrics"
)

const (
	// DefaultPollInterval is how often the dispatcher looks for due notifications
	DefaultPollInterval = time.Second
	// DefaultBatchSize caps the notifications handled per poll
	DefaultBatchSize = 100
)

// Dispatcher moves due notifications from a Queue to a Sink
type Dispatcher struct {
	queue     Queue
	sink      Sink
	retry     RetryConfig
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// DispatcherConfig holds dispatcher tuning
type DispatcherConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Retry        RetryConfig
}

// NewDispatcher creates a dispatcher. m may be nil.
func NewDispatcher(queue Queue, sink Sink, cfg DispatcherConfig, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Retry.MaxRetries <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	return &Dispatcher{
		queue:     queue,
		sink:      sink,
		retry:     cfg.Retry,
		interval:  cfg.PollInterval,
		batchSize: cfg.BatchSize,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// Run polls until ctx is cancelled
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := d.DispatchDue(ctx); err != nil && ctx.Err() == nil {
				d.logger.Warn("notification poll failed", "error", err)
			}
		}
	}
}

// DispatchDue delivers every notification currently due and returns how many
// were delivered. A notification that still fails after retries is logged
// and dropped.
func (d *Dispatcher) DispatchDue(ctx context.Context) (int, error) {
	delivered := 0
	for {
		due, err := d.queue.PopDue(ctx, d.now(), d.batchSize)
		if err != nil {
			return delivered, err
		}
		for _, n := range due {
			n := n
			_, err := retryWithBackoff(ctx, d.retry, func() (struct{}, error) {
				return struct{}{}, d.sink.Deliver(ctx, n)
			})
			if err != nil {
				d.metrics.Notification(string(n.Kind), "failed")
				d.logger.Error("notification delivery failed",
					"id", n.ID, "user_id", n.UserID, "kind", string(n.Kind), "error", err)
				if ctx.Err() != nil {
					return delivered, ctx.Err()
				}
				continue
			}
			d.metrics.Notification(string(n.Kind), "delivered")
			delivered++
		}
		if len(due) < d.batchSize {
			return delivered, nil
		}
	}
}
