package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix = "livestream:events:"
	publishTTL    = 5 * time.Second
)

// redisPayload wraps an event with the instance that produced it.
type redisPayload struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// RedisRelay implements Relay using Redis pub/sub.
type RedisRelay struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisRelay creates a Redis relay for stream topics.
func NewRedisRelay(client *redis.Client, logger *zap.Logger) *RedisRelay {
	return &RedisRelay{client: client, logger: logger}
}

func channelFor(streamID uuid.UUID) string {
	return channelPrefix + streamID.String()
}

// Publish sends ev to the stream's Redis channel.
func (r *RedisRelay) Publish(ctx context.Context, streamID uuid.UUID, ev Event, origin string) error {
	body, err := json.Marshal(redisPayload{Origin: origin, Event: ev})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTTL)
	defer cancel()
	return r.client.Publish(ctx, channelFor(streamID), body).Err()
}

// Subscribe listens on the stream's Redis channel and calls handler for each
// event. The returned cancel stops the subscription.
func (r *RedisRelay) Subscribe(streamID uuid.UUID, handler func(ev Event, origin string)) (func(), error) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, channelFor(streamID))
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var p redisPayload
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					r.logger.Debug("dropping malformed relay payload", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				if !p.Event.Type.Valid() {
					continue
				}
				handler(p.Event, p.Origin)
			}
		}
	}()
	return cancelCtx, nil
}
