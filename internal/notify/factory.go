package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/dshills/orderflow-mcp/internal/metrics"
)

// Config selects the queue and sink implementations
type Config struct {
	RedisURL     string        // Empty selects the in-memory queue
	RedisKey     string        // Sorted set key
	KafkaBrokers []string      // Empty selects the log sink
	KafkaTopic   string        // Topic for the Kafka sink
	PollInterval time.Duration // Dispatcher poll interval
	BatchSize    int
	Retry        RetryConfig
}

// Pipeline is a wired scheduler and dispatcher
type Pipeline struct {
	Scheduler  *Scheduler
	Dispatcher *Dispatcher
	QueueKind  string // "redis" or "memory"
	SinkKind   string // "kafka" or "log"

	closers []func() error
}

// Close releases the sink and the Redis client
func (p *Pipeline) Close() error {
	var firstErr error
	for _, c := range p.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewFromConfig builds the notification pipeline.
// Selection:
// 1. Redis sorted-set queue when RedisURL is set, in-memory queue otherwise
// 2. Kafka sink when brokers are set, log sink otherwise
func NewFromConfig(ctx context.Context, cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Pipeline, error) {
	p := &Pipeline{}

	var queue Queue
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		queue = NewRedisQueue(client, cfg.RedisKey)
		p.QueueKind = "redis"
		p.closers = append(p.closers, client.Close)
	} else {
		queue = NewMemoryQueue()
		p.QueueKind = "memory"
	}

	var sink Sink
	if len(cfg.KafkaBrokers) > 0 {
		if cfg.KafkaTopic == "" {
			_ = p.Close()
			return nil, fmt.Errorf("kafka topic is required when brokers are set")
		}
		sink = NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		p.SinkKind = "kafka"
	} else {
		sink = NewLogSink(logger)
		p.SinkKind = "log"
	}
	// Sink first so buffered messages flush before the queue goes away
	p.closers = append([]func() error{sink.Close}, p.closers...)

	p.Scheduler = NewScheduler(queue, m)
	p.Dispatcher = NewDispatcher(queue, sink, DispatcherConfig{
		PollInterval: cfg.PollInterval,
		BatchSize:    cfg.BatchSize,
		Retry:        cfg.Retry,
	}, logger, m)

	return p, nil
}
