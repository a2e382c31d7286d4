package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/orderflow-mcp/internal/metrics"
)

// Kind classifies a notification
type Kind string

const (
	// KindStatusChanged tells a customer their order moved
	KindStatusChanged Kind = "order_status"
	// KindReviewReminder asks a customer to review a delivered order
	KindReviewReminder Kind = "review_reminder"
	// KindGeneric is used by Trigger when no kind is given
	KindGeneric Kind = "generic"
)

// Notification is a message for one user, due at DeliverAt
type Notification struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Kind      Kind      `json:"kind"`
	Message   string    `json:"message"`
	DeliverAt time.Time `json:"deliver_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier is the fire-and-forget contract the services trigger
// notifications on. A zero deliverAt means now.
type Notifier interface {
	Trigger(ctx context.Context, userID int64, message string, deliverAt time.Time) error
}

// Queue holds notifications until they are due
type Queue interface {
	Push(ctx context.Context, n Notification) error
	// PopDue removes and returns up to limit notifications due at or before now
	PopDue(ctx context.Context, now time.Time, limit int) ([]Notification, error)
	Len(ctx context.Context) (int, error)
}

// Sink delivers a due notification to the outside world
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
	Close() error
}

// Scheduler implements Notifier by pushing onto a Queue
type Scheduler struct {
	queue   Queue
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewScheduler creates a scheduler on queue. m may be nil.
func NewScheduler(queue Queue, m *metrics.Metrics) *Scheduler {
	return &Scheduler{queue: queue, metrics: m, now: time.Now}
}

// Trigger schedules a generic notification
func (s *Scheduler) Trigger(ctx context.Context, userID int64, message string, deliverAt time.Time) error {
	return s.Schedule(ctx, Notification{
		UserID:    userID,
		Kind:      KindGeneric,
		Message:   message,
		DeliverAt: deliverAt,
	})
}

// Schedule queues n, filling in ID, CreatedAt and a zero DeliverAt
func (s *Scheduler) Schedule(ctx context.Context, n Notification) error {
	if n.UserID == 0 {
		return errors.New("notification has no recipient")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Kind == "" {
		n.Kind = KindGeneric
	}
	now := s.now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	if n.DeliverAt.IsZero() {
		n.DeliverAt = now
	}

	if err := s.queue.Push(ctx, n); err != nil {
		s.metrics.Notification(string(n.Kind), "queue_failed")
		return fmt.Errorf("failed to queue notification: %w", err)
	}
	s.metrics.Notification(string(n.Kind), "queued")
	return nil
}

// Queue exposes the underlying queue to the dispatcher
func (s *Scheduler) Queue() Queue {
	return s.queue
}
