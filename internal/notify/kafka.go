package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/erazemk/narocila/internal/model"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes notification envelopes to a Kafka topic from a
// background goroutine. Deliver never blocks: a full buffer drops the message.
type KafkaSink struct {
	w        messageWriter
	producer string
	log      *slog.Logger
	queue    *queue[kafka.Message]
}

// NewKafkaSink creates a sink writing to topic on brokers. Call Start before
// delivering and Close on shutdown.
func NewKafkaSink(brokers []string, topic, producer string, buf int) *KafkaSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
	}
	return newKafkaSink(w, producer, buf)
}

func newKafkaSink(w messageWriter, producer string, buf int) *KafkaSink {
	s := &KafkaSink{
		w:        w,
		producer: producer,
		log:      slog.Default().With("sink", "kafka"),
	}
	s.queue = newQueue(buf, s.write, s.closeWriter)
	return s
}

func (s *KafkaSink) write(m kafka.Message) {
	if err := s.w.WriteMessages(context.Background(), m); err != nil {
		s.log.Error("failed to publish notification", "key", string(m.Key), "error", err)
	}
}

func (s *KafkaSink) closeWriter() {
	if err := s.w.Close(); err != nil {
		s.log.Error("failed to close kafka writer", "error", err)
	}
}

// Start launches the writer goroutine.
func (s *KafkaSink) Start() {
	s.queue.start()
}

// Deliver queues n for publishing.
func (s *KafkaSink) Deliver(_ context.Context, n model.Notification) error {
	env, err := NewEnvelope(s.producer, n)
	if err != nil {
		return err
	}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	return s.queue.push(kafka.Message{
		Key:   []byte(recipientKey(n)),
		Value: value,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.EventType)},
		},
	})
}

// Close stops accepting messages, flushes the queue and closes the writer.
func (s *KafkaSink) Close() {
	s.queue.close()
}
