package notify

import (
	"context"
	"log/slog"
	"time"
)

// Scheduling is implemented by notifiers that accept a full Notification.
// Flush prefers it so the kind survives; *Scheduler implements it.
type Scheduling interface {
	Schedule(ctx context.Context, n Notification) error
}

// Batch collects notifications raised inside a transaction. Flush runs after
// commit so a rolled back operation notifies nobody. Hooks registered with
// OnFlush run at the same point, before the notifications are scheduled.
type Batch struct {
	pending []Notification
	hooks   []func()
}

// Add records a notification for later scheduling
func (b *Batch) Add(kind Kind, userID int64, message string, deliverAt time.Time) {
	if b == nil {
		return
	}
	b.pending = append(b.pending, Notification{
		UserID:    userID,
		Kind:      kind,
		Message:   message,
		DeliverAt: deliverAt,
	})
}

// OnFlush registers fn to run when the batch is flushed
func (b *Batch) OnFlush(fn func()) {
	if b == nil || fn == nil {
		return
	}
	b.hooks = append(b.hooks, fn)
}

// Merge moves everything collected in other into b
func (b *Batch) Merge(other *Batch) {
	if b == nil || other == nil {
		return
	}
	b.pending = append(b.pending, other.pending...)
	b.hooks = append(b.hooks, other.hooks...)
	other.pending = nil
	other.hooks = nil
}

// Pending returns the collected notifications
func (b *Batch) Pending() []Notification {
	if b == nil {
		return nil
	}
	return b.pending
}

// Flush hands every collected notification to n. Failures are logged and
// never returned: the operation that raised them has already committed.
func (b *Batch) Flush(ctx context.Context, n Notifier, logger *slog.Logger) int {
	if b == nil {
		return 0
	}
	for _, fn := range b.hooks {
		fn()
	}
	b.hooks = nil
	if n == nil {
		b.pending = nil
		return 0
	}

	sched, full := n.(Scheduling)
	failed := 0
	for _, p := range b.pending {
		var err error
		if full {
			err = sched.Schedule(ctx, p)
		} else {
			err = n.Trigger(ctx, p.UserID, p.Message, p.DeliverAt)
		}
		if err != nil {
			failed++
			if logger != nil {
				logger.Warn("notification dropped", "user_id", p.UserID, "kind", string(p.Kind), "error", err)
			}
		}
	}
	b.pending = nil
	return failed
}
