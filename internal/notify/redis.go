package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/erazemk/narocila/internal/model"
)

// KeyNotificationChannel is the pub/sub channel per recipient:
// notifications:{kind}:{id}.
const KeyNotificationChannel = "notifications:%s:%d"

// publishTimeout bounds a single publish.
const publishTimeout = 2 * time.Second

type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type redisMessage struct {
	channel string
	payload []byte
}

// RedisSink publishes notifications so connected dashboards refresh live.
// Publishing happens on a background goroutine; Deliver only queues, so a
// slow or unreachable Redis never holds up the request that emitted.
type RedisSink struct {
	client publisher
	log    *slog.Logger
	queue  *queue[redisMessage]
}

// NewRedisClient returns a client with short timeouts.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  publishTimeout,
		ReadTimeout:  publishTimeout,
		WriteTimeout: publishTimeout,
	})
}

// NewRedisSink wraps a client such as *redis.Client. Call Start before
// delivering and Close on shutdown.
func NewRedisSink(client publisher, buf int) *RedisSink {
	s := &RedisSink{
		client: client,
		log:    slog.Default().With("sink", "redis"),
	}
	s.queue = newQueue(buf, s.publish, nil)
	return s
}

// Channel returns the pub/sub channel of a recipient.
func Channel(kind string, recipient int64) string {
	return fmt.Sprintf(KeyNotificationChannel, kind, recipient)
}

func (s *RedisSink) publish(m redisMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := s.client.Publish(ctx, m.channel, m.payload).Err(); err != nil {
		s.log.Error("failed to publish notification", "channel", m.channel, "error", err)
	}
}

// Start launches the publishing goroutine.
func (s *RedisSink) Start() {
	s.queue.start()
}

// Deliver queues n as JSON for the recipient's channel.
func (s *RedisSink) Deliver(_ context.Context, n model.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	return s.queue.push(redisMessage{channel: Channel(n.RecipientKind, n.Recipient), payload: data})
}

// Close stops accepting notifications and waits for queued ones to publish.
func (s *RedisSink) Close() {
	s.queue.close()
}
