package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/orderflow-mcp/internal/logging"
	"github.com/dshills/orderflow-mcp/internal/metrics"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func queueContract(t *testing.T, q Queue) {
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, Notification{ID: "late", UserID: 1, DeliverAt: t0.Add(30 * time.Minute)}))
	require.NoError(t, q.Push(ctx, Notification{ID: "now", UserID: 1, DeliverAt: t0}))
	require.NoError(t, q.Push(ctx, Notification{ID: "soon", UserID: 2, DeliverAt: t0.Add(time.Minute)}))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	due, err := q.PopDue(ctx, t0, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "now", due[0].ID)

	due, err = q.PopDue(ctx, t0.Add(time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "soon", due[0].ID)

	due, err = q.PopDue(ctx, t0.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "late", due[0].ID)

	n, err = q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMemoryQueue(t *testing.T) {
	queueContract(t, NewMemoryQueue())
}

func TestRedisQueue(t *testing.T) {
	_, client := setupTestRedis(t)
	queueContract(t, NewRedisQueue(client, "test:notifications"))
}

func TestRedisQueue_ClaimIsExclusive(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	a := NewRedisQueue(client, "")
	b := NewRedisQueue(client, "")

	for i := 0; i < 20; i++ {
		require.NoError(t, a.Push(ctx, Notification{ID: string(rune('a' + i)), UserID: 1, DeliverAt: t0}))
	}

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for _, q := range []*RedisQueue{a, b} {
		wg.Add(1)
		go func(q *RedisQueue) {
			defer wg.Done()
			for {
				due, err := q.PopDue(ctx, t0, 3)
				if err != nil || len(due) == 0 {
					return
				}
				mu.Lock()
				for _, n := range due {
					seen[n.ID]++
				}
				mu.Unlock()
			}
		}(q)
	}
	wg.Wait()

	assert.Len(t, seen, 20)
	for id, count := range seen {
		assert.Equal(t, 1, count, id)
	}
}

func TestScheduler_Schedule(t *testing.T) {
	q := NewMemoryQueue()
	m := metrics.New()
	s := NewScheduler(q, m)
	s.now = func() time.Time { return t0 }
	ctx := context.Background()

	require.NoError(t, s.Trigger(ctx, 42, "hello", time.Time{}))
	assert.Error(t, s.Schedule(ctx, Notification{Message: "nobody"}))

	due, err := q.PopDue(ctx, t0, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.NotEmpty(t, due[0].ID)
	assert.Equal(t, KindGeneric, due[0].Kind)
	assert.True(t, t0.Equal(due[0].DeliverAt))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("generic", "queued")))
}

type flakySink struct {
	mu        sync.Mutex
	failFirst int
	calls     int
	delivered []Notification
}

func (s *flakySink) Deliver(ctx context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failFirst {
		return errors.New("broker unavailable")
	}
	s.delivered = append(s.delivered, n)
	return nil
}

func (s *flakySink) Close() error { return nil }

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestDispatcher_RetriesThenDelivers(t *testing.T) {
	q := NewMemoryQueue()
	sink := &flakySink{failFirst: 2}
	m := metrics.New()
	d := NewDispatcher(q, sink, DispatcherConfig{Retry: fastRetry(), BatchSize: 2}, logging.Discard(), m)
	d.now = func() time.Time { return t0 }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Push(ctx, Notification{ID: string(rune('a' + i)), UserID: 9, Kind: KindStatusChanged, DeliverAt: t0}))
	}
	require.NoError(t, q.Push(ctx, Notification{ID: "future", UserID: 9, DeliverAt: t0.Add(time.Hour)}))

	delivered, err := d.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, delivered)
	assert.Len(t, sink.delivered, 3)

	left, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, left)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Notifications.WithLabelValues("order_status", "delivered")))
}

func TestDispatcher_DropsAfterRetries(t *testing.T) {
	q := NewMemoryQueue()
	sink := &flakySink{failFirst: 100}
	m := metrics.New()
	d := NewDispatcher(q, sink, DispatcherConfig{Retry: fastRetry()}, logging.Discard(), m)
	d.now = func() time.Time { return t0 }
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, Notification{ID: "x", UserID: 9, Kind: KindReviewReminder, DeliverAt: t0}))

	delivered, err := d.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 3, sink.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("review_reminder", "failed")))
}

func TestDispatcher_RunStopsOnCancel(t *testing.T) {
	d := NewDispatcher(NewMemoryQueue(), &flakySink{}, DispatcherConfig{PollInterval: time.Millisecond}, logging.Discard(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

type failingScheduler struct{ scheduled []Notification }

func (f *failingScheduler) Trigger(ctx context.Context, userID int64, message string, deliverAt time.Time) error {
	return f.Schedule(ctx, Notification{UserID: userID, Kind: KindGeneric, Message: message, DeliverAt: deliverAt})
}

func (f *failingScheduler) Schedule(ctx context.Context, n Notification) error {
	if n.UserID < 0 {
		return errors.New("rejected")
	}
	f.scheduled = append(f.scheduled, n)
	return nil
}

func TestBatch_Flush(t *testing.T) {
	var b Batch
	b.Add(KindStatusChanged, 1, "Order 3 is COOKED", t0)
	b.Add(KindReviewReminder, -1, "bad", t0)
	b.Add(KindReviewReminder, 1, "Review order 3", t0.Add(30*time.Minute))
	assert.Len(t, b.Pending(), 3)

	s := &failingScheduler{}
	failed := b.Flush(context.Background(), s, logging.Discard())
	assert.Equal(t, 1, failed)
	assert.Len(t, s.scheduled, 2)
	assert.Empty(t, b.Pending())

	var hooked, sub Batch
	ran := 0
	sub.OnFlush(func() { ran++ })
	sub.Add(KindGeneric, 2, "merged", t0)
	hooked.Merge(&sub)
	assert.Empty(t, sub.Pending())
	assert.Equal(t, 0, hooked.Flush(context.Background(), nil, nil))
	assert.Equal(t, 1, ran)
	assert.Empty(t, hooked.Pending())

	var nilBatch *Batch
	nilBatch.Add(KindGeneric, 1, "ignored", t0)
	assert.Equal(t, 0, nilBatch.Flush(context.Background(), s, nil))
}

// triggerOnly is a Notifier without Schedule
type triggerOnly struct{ users []int64 }

func (n *triggerOnly) Trigger(ctx context.Context, userID int64, message string, deliverAt time.Time) error {
	n.users = append(n.users, userID)
	return nil
}

func TestBatch_FlushThroughTrigger(t *testing.T) {
	var b Batch
	b.Add(KindStatusChanged, 1, "Order 3 is DELIVERED", t0)
	b.Add(KindReviewReminder, 1, "Review order 3", t0.Add(30*time.Minute))

	n := &triggerOnly{}
	assert.Equal(t, 0, b.Flush(context.Background(), n, nil))
	assert.Equal(t, []int64{1, 1}, n.users)

	// Scheduler keeps the kind
	q := NewMemoryQueue()
	b.Add(KindReviewReminder, 2, "Review order 4", t0)
	var notifier Notifier = NewScheduler(q, nil)
	assert.Equal(t, 0, b.Flush(context.Background(), notifier, nil))
	due, err := q.PopDue(context.Background(), t0, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, KindReviewReminder, due[0].Kind)
}

type recordingWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSink_Deliver(t *testing.T) {
	w := &recordingWriter{}
	sink := &KafkaSink{writer: w}

	n := Notification{ID: "n1", UserID: 77, Kind: KindStatusChanged, Message: "on its way", DeliverAt: t0}
	require.NoError(t, sink.Deliver(context.Background(), n))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "77", string(w.msgs[0].Key))

	var got Notification
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, "on its way", got.Message)

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestRetryWithBackoff_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := retryWithBackoff(ctx, RetryConfig{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2},
		func() (int, error) {
			calls++
			return 0, errors.New("fail")
		})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestNewFromConfig(t *testing.T) {
	ctx := context.Background()

	p, err := NewFromConfig(ctx, Config{}, logging.Discard(), nil)
	require.NoError(t, err)
	assert.Equal(t, "memory", p.QueueKind)
	assert.Equal(t, "log", p.SinkKind)
	require.NoError(t, p.Close())

	mr, _ := setupTestRedis(t)
	p, err = NewFromConfig(ctx, Config{RedisURL: "redis://" + mr.Addr(), KafkaBrokers: []string{"localhost:9092"}, KafkaTopic: "notifications"}, logging.Discard(), nil)
	require.NoError(t, err)
	assert.Equal(t, "redis", p.QueueKind)
	assert.Equal(t, "kafka", p.SinkKind)

	require.NoError(t, p.Scheduler.Trigger(ctx, 5, "queued in redis", t0))
	n, err := p.Scheduler.Queue().Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, p.Close())

	_, err = NewFromConfig(ctx, Config{KafkaBrokers: []string{"localhost:9092"}}, logging.Discard(), nil)
	assert.Error(t, err)
}
