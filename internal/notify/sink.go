package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// LogSink writes notifications to the structured log
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink on logger
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Deliver(ctx context.Context, n Notification) error {
	s.logger.InfoContext(ctx, "notification delivered",
		"id", n.ID,
		"user_id", n.UserID,
		"kind", string(n.Kind),
		"message", n.Message,
	)
	return nil
}

func (s *LogSink) Close() error { return nil }

// messageWriter is the part of *kafka.Writer the sink uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes notifications as JSON keyed by user id, so one user's
// notifications stay ordered on a partition
type KafkaSink struct {
	writer messageWriter
}

// NewKafkaSink creates a sink writing to topic on brokers
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}}
}

func (s *KafkaSink) Deliver(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(n.UserID, 10)),
		Value: data,
		Time:  time.Now().UTC(),
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
