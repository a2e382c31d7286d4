package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisKey is the sorted set holding pending notifications
const DefaultRedisKey = "orderflow:notifications:pending"

// RedisQueue keeps notifications in a sorted set scored by delivery time.
// A notification is claimed by whichever consumer removes it first, so
// several dispatchers can share one queue.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue creates a queue on an already connected client
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisQueue{client: client, key: key}
}

// Push adds n scored by its DeliverAt in milliseconds
func (q *RedisQueue) Push(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to serialize notification: %w", err)
	}
	return q.client.ZAdd(ctx, q.key, &redis.Z{
		Score:  float64(n.DeliverAt.UnixMilli()),
		Member: data,
	}).Err()
}

// PopDue claims due members one by one with ZREM
func (q *RedisQueue) PopDue(ctx context.Context, now time.Time, limit int) ([]Notification, error) {
	members, err := q.client.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due notifications: %w", err)
	}

	var due []Notification
	for _, m := range members {
		removed, err := q.client.ZRem(ctx, q.key, m).Result()
		if err != nil {
			return due, fmt.Errorf("failed to claim notification: %w", err)
		}
		if removed == 0 {
			continue // Claimed by another dispatcher
		}
		var n Notification
		if err := json.Unmarshal([]byte(m), &n); err != nil {
			continue
		}
		due = append(due, n)
	}
	return due, nil
}

// Len is the number of pending notifications
func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.ZCard(ctx, q.key).Result()
	return int(n), err
}

// MemoryQueue is a process-local queue used when Redis is not configured
type MemoryQueue struct {
	mu      sync.Mutex
	pending []Notification
}

// NewMemoryQueue creates an empty in-process queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// Push inserts n keeping the queue ordered by DeliverAt
func (q *MemoryQueue) Push(ctx context.Context, n Notification) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := sort.Search(len(q.pending), func(i int) bool {
		return q.pending[i].DeliverAt.After(n.DeliverAt)
	})
	q.pending = append(q.pending, Notification{})
	copy(q.pending[i+1:], q.pending[i:])
	q.pending[i] = n
	return nil
}

// PopDue removes up to limit notifications due at or before now
func (q *MemoryQueue) PopDue(ctx context.Context, now time.Time, limit int) ([]Notification, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for n < len(q.pending) && n < limit && !q.pending[n].DeliverAt.After(now) {
		n++
	}
	due := append([]Notification(nil), q.pending[:n]...)
	q.pending = q.pending[n:]
	return due, nil
}

// Len is the number of pending notifications
func (q *MemoryQueue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), nil
}
